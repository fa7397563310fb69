package ocpp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roiko/ev-server/types"
)

var sampleTime = time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

func TestNormalizeFillsAttributeDefaults(t *testing.T) {
	values := []types.MeterValue{
		{
			Timestamp: types.NewDateTime(sampleTime),
			SampledValue: []types.SampledValue{
				{Value: "1234"},
			},
		},
	}
	normalized := NormalizeMeterValues("t1", "CB-01", 1, 7, values)
	require.Len(t, normalized, 1)

	row := normalized[0]
	assert.Equal(t, "t1", row.Tenant)
	assert.Equal(t, "CB-01", row.ChargeBoxId)
	assert.Equal(t, 1, row.ConnectorId)
	assert.Equal(t, 7, row.TransactionId)
	assert.Equal(t, string(types.ReadingContextSamplePeriodic), row.Context)
	assert.Equal(t, string(types.ValueFormatRaw), row.Format)
	assert.Equal(t, string(types.MeasurandEnergyActiveImportRegister), row.Measurand)
	assert.Equal(t, string(types.LocationOutlet), row.Location)
	assert.Equal(t, string(types.UnitOfMeasureWh), row.Unit)
	assert.Equal(t, 1234.0, row.Value)
}

func TestNormalizeFlattensMultipleSamples(t *testing.T) {
	values := []types.MeterValue{
		{
			Timestamp: types.NewDateTime(sampleTime),
			SampledValue: []types.SampledValue{
				{Value: "1000", Measurand: types.MeasurandEnergyActiveImportRegister},
				{Value: "7.4", Measurand: types.MeasurandPowerActiveImport, Unit: types.UnitOfMeasureKW},
				{Value: "80", Measurand: types.MeasurandSoC, Unit: types.UnitOfMeasurePercent},
			},
		},
	}
	normalized := NormalizeMeterValues("t1", "CB-01", 1, 7, values)
	require.Len(t, normalized, 3)

	// every row keeps the shared timestamp and its own attribute block
	for _, row := range normalized {
		assert.Equal(t, sampleTime, row.Timestamp)
	}
	// kilo units scale to base units
	assert.Equal(t, 7400.0, normalized[1].Value)
	assert.Equal(t, string(types.UnitOfMeasureW), normalized[1].Unit)
	assert.Equal(t, 80.0, normalized[2].Value)
}

func TestNormalizePreservesSignedData(t *testing.T) {
	signed := "AP;0;3;ALCV3ABBAB"
	values := []types.MeterValue{
		{
			Timestamp: types.NewDateTime(sampleTime),
			SampledValue: []types.SampledValue{
				{Value: signed, Format: types.ValueFormatSignedData, Context: types.ReadingContextTransactionBegin},
			},
		},
	}
	normalized := NormalizeMeterValues("t1", "CB-01", 1, 7, values)
	require.Len(t, normalized, 1)
	assert.Equal(t, signed, normalized[0].RawValue)
	assert.Equal(t, 0.0, normalized[0].Value)
}

func TestNormalizeKeepsUnknownMeasurand(t *testing.T) {
	values := []types.MeterValue{
		{
			Timestamp: types.NewDateTime(sampleTime),
			SampledValue: []types.SampledValue{
				{Value: "42", Measurand: "Vendor.Custom.Reading"},
			},
		},
	}
	normalized := NormalizeMeterValues("t1", "CB-01", 1, 0, values)
	require.Len(t, normalized, 1)
	assert.Equal(t, "Vendor.Custom.Reading", normalized[0].Measurand)
}

func TestParseTransactionData16(t *testing.T) {
	raw := json.RawMessage(`[{"timestamp":"2024-05-14T10:00:00Z","sampledValue":[{"value":"100","context":"Transaction.End"}]}]`)

	values, err := ParseTransactionData(types.OcppVersion16, raw)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "100", values[0].SampledValue[0].Value)

	// the 1.5 shape is rejected for a 1.6 station
	_, err = ParseTransactionData(types.OcppVersion16, json.RawMessage(`{"values":[]}`))
	assert.Error(t, err)
}

func TestParseTransactionData15(t *testing.T) {
	raw := json.RawMessage(`{"values":[{"timestamp":"2024-05-14T10:00:00Z","value":{"$attributes":{"context":"Transaction.End","unit":"Wh"},"$value":"250"}}]}`)

	values, err := ParseTransactionData(types.OcppVersion15, raw)
	require.NoError(t, err)
	require.Len(t, values, 1)
	require.Len(t, values[0].SampledValue, 1)
	assert.Equal(t, "250", values[0].SampledValue[0].Value)
	assert.Equal(t, types.ReadingContextTransactionEnd, values[0].SampledValue[0].Context)

	// arrays inside one timestamp expand into multiple samples
	rawArray := json.RawMessage(`{"values":[{"timestamp":"2024-05-14T10:00:00Z","value":[{"$attributes":{},"$value":"1"},{"$attributes":{},"$value":"2"}]}]}`)
	values, err = ParseTransactionData(types.OcppVersion15, rawArray)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Len(t, values[0].SampledValue, 2)

	// the 1.6 shape is rejected for a 1.5 station
	_, err = ParseTransactionData(types.OcppVersion15, json.RawMessage(`[{"timestamp":"2024-05-14T10:00:00Z","sampledValue":[]}]`))
	assert.Error(t, err)
}

func TestParseTransactionDataEmpty(t *testing.T) {
	values, err := ParseTransactionData(types.OcppVersion16, nil)
	require.NoError(t, err)
	assert.Nil(t, values)
}
