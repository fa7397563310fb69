package server

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/types"
)

func meterValuesRequest(connectorId int, ts time.Time, context types.ReadingContext, cumulatedWh float64) *core.MeterValuesRequest {
	return &core.MeterValuesRequest{
		ConnectorId: connectorId,
		MeterValue: []types.MeterValue{
			{
				Timestamp: types.NewDateTime(ts),
				SampledValue: []types.SampledValue{
					{
						Value:     floatString(cumulatedWh),
						Context:   context,
						Measurand: types.MeasurandEnergyActiveImportRegister,
						Unit:      types.UnitOfMeasureWh,
					},
				},
			},
		},
	}
}

func floatString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestTransactionHappyPath(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")

	startTime := env.clock
	start, err := env.handler.OnStartTransaction(env.ctx("CB-01"), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  0,
		Timestamp:   types.NewDateTime(startTime),
	})
	require.NoError(t, err)
	require.Equal(t, types.AuthorizationStatusAccepted, start.IdTagInfo.Status)
	require.Greater(t, start.TransactionId, 0)

	// 14 samples of 60s; two of them deliver no energy
	increments := []float64{100, 120, 90, 110, 0, 130, 95, 105, 115, 0, 125, 85, 140, 100}
	cumulated := 0.0
	for i, inc := range increments {
		cumulated += inc
		ts := startTime.Add(time.Duration(i+1) * time.Minute)
		env.clock = ts
		_, err = env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, ts, types.ReadingContextSamplePeriodic, cumulated))
		require.NoError(t, err)
	}

	stopTime := startTime.Add(14 * time.Minute)
	env.clock = stopTime
	stop, err := env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: start.TransactionId,
		IdTag:         "TAG-1",
		MeterStop:     int(cumulated),
		Timestamp:     types.NewDateTime(stopTime),
	})
	require.NoError(t, err)
	require.Equal(t, types.AuthorizationStatusAccepted, stop.IdTagInfo.Status)

	transaction, err := env.db.GetTransaction("t1", start.TransactionId)
	require.NoError(t, err)
	require.NotNil(t, transaction.Stop)

	assert.Equal(t, cumulated, transaction.Stop.TotalConsumptionWh)
	assert.Equal(t, 120, transaction.Stop.TotalInactivitySecs)
	assert.Equal(t, 840, transaction.Stop.TotalDurationSecs)
	assert.Equal(t, models.InactivityStatusInfo, transaction.Stop.InactivityStatus)
	assert.InDelta(t, 0.25*cumulated/1000, transaction.Stop.Price, 0.001)
	assert.Equal(t, "EUR", transaction.Stop.PriceUnit)

	// the sum of interval consumptions equals the stop total
	consumptions, err := env.db.GetConsumptions("t1", start.TransactionId)
	require.NoError(t, err)
	sum := 0.0
	for _, c := range consumptions {
		sum += c.ConsumptionWh
	}
	assert.Equal(t, transaction.Stop.TotalConsumptionWh, sum)

	// the connector is free again
	station, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, 0, station.GetConnector(1).CurrentTransactionId)
}

func TestClockSampleDerivesNoConsumption(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")

	startTime := env.clock
	start, err := env.handler.OnStartTransaction(env.ctx("CB-01"), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  1000,
		Timestamp:   types.NewDateTime(startTime),
	})
	require.NoError(t, err)

	t1 := startTime.Add(time.Minute)
	_, err = env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, t1, types.ReadingContextSamplePeriodic, 1100))
	require.NoError(t, err)

	// a clock sample between two periodic ones repeats the cumulative value
	tClock := startTime.Add(90 * time.Second)
	_, err = env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, tClock, types.ReadingContextSampleClock, 1100))
	require.NoError(t, err)

	t2 := startTime.Add(2 * time.Minute)
	_, err = env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, t2, types.ReadingContextSamplePeriodic, 1250))
	require.NoError(t, err)

	consumptions, err := env.db.GetConsumptions("t1", start.TransactionId)
	require.NoError(t, err)

	// begin marker plus exactly two derived intervals; the second one spans
	// the full minute between the periodic samples
	var intervals []*models.Consumption
	for _, c := range consumptions {
		if c.EndedAt.After(c.StartedAt) {
			intervals = append(intervals, c)
		}
	}
	require.Len(t, intervals, 2)
	assert.Equal(t, t1, intervals[0].EndedAt)
	assert.Equal(t, t1, intervals[1].StartedAt)
	assert.Equal(t, t2, intervals[1].EndedAt)
	assert.Equal(t, 150.0, intervals[1].ConsumptionWh)

	// the clock sample itself is persisted
	clockSamples := 0
	for _, mv := range env.db.meterValues {
		if mv.Context == string(types.ReadingContextSampleClock) {
			clockSamples++
		}
	}
	assert.Equal(t, 1, clockSamples)
}

func TestMeterValuesReplayIsIdempotent(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")

	startTime := env.clock
	start, err := env.handler.OnStartTransaction(env.ctx("CB-01"), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  0,
		Timestamp:   types.NewDateTime(startTime),
	})
	require.NoError(t, err)

	ts := startTime.Add(time.Minute)
	payload := meterValuesRequest(1, ts, types.ReadingContextSamplePeriodic, 200)
	_, err = env.handler.OnMeterValues(env.ctx("CB-01"), payload)
	require.NoError(t, err)

	before, _ := env.db.GetConsumptions("t1", start.TransactionId)

	// a duplicated frame must not produce another interval
	_, err = env.handler.OnMeterValues(env.ctx("CB-01"), payload)
	require.NoError(t, err)

	after, _ := env.db.GetConsumptions("t1", start.TransactionId)
	assert.Equal(t, len(before), len(after))

	transaction, _ := env.db.GetTransaction("t1", start.TransactionId)
	assert.Equal(t, 200.0, transaction.CurrentTotalConsumptionWh)
}

func TestTransactionEndValuesResetInstants(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	env.seedTag("TAG-1")

	startTime := env.clock
	start, err := env.handler.OnStartTransaction(env.ctx("CB-01"), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  0,
		Timestamp:   types.NewDateTime(startTime),
	})
	require.NoError(t, err)

	transaction, _ := env.db.GetTransaction("t1", start.TransactionId)
	connector := station.GetConnector(1)

	t1 := startTime.Add(time.Minute)
	values := []models.MeterValue{
		{
			Tenant: "t1", ChargeBoxId: "CB-01", ConnectorId: 1, TransactionId: transaction.Id,
			Timestamp: t1, Value: 7400,
			Context: string(types.ReadingContextSamplePeriodic), Format: string(types.ValueFormatRaw),
			Measurand: string(types.MeasurandPowerActiveImport), Unit: string(types.UnitOfMeasureW),
		},
	}
	env.handler.applyMeterValues(transaction, station, connector, values)
	assert.Equal(t, 7400.0, transaction.CurrentInstantWatts)

	// the end frame zeroes the interim instants before applying its own
	t2 := startTime.Add(2 * time.Minute)
	endValues := []models.MeterValue{
		{
			Tenant: "t1", ChargeBoxId: "CB-01", ConnectorId: 1, TransactionId: transaction.Id,
			Timestamp: t2, Value: 230,
			Context: string(types.ReadingContextTransactionEnd), Format: string(types.ValueFormatRaw),
			Measurand: string(types.MeasurandVoltage), Unit: string(types.UnitOfMeasureV), Phase: "L1",
		},
	}
	env.handler.applyMeterValues(transaction, station, connector, endValues)
	require.True(t, transaction.TransactionEndReceived)
	assert.Equal(t, 0.0, transaction.CurrentInstantWatts)
	assert.Equal(t, 230.0, transaction.CurrentInstantVoltsL1)

	// later samples are flagged and feed nothing
	t3 := startTime.Add(3 * time.Minute)
	lateValues := []models.MeterValue{
		{
			Tenant: "t1", ChargeBoxId: "CB-01", ConnectorId: 1, TransactionId: transaction.Id,
			Timestamp: t3, Value: 999,
			Context: string(types.ReadingContextSampleClock), Format: string(types.ValueFormatRaw),
			Measurand: string(types.MeasurandEnergyActiveImportRegister), Unit: string(types.UnitOfMeasureWh),
		},
	}
	consumptions := env.handler.applyMeterValues(transaction, station, connector, lateValues)
	assert.Empty(t, consumptions)
	assert.True(t, lateValues[0].Ignored)
}

func TestSignedDataCapture(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	env.seedTag("TAG-1")

	startTime := env.clock
	start, err := env.handler.OnStartTransaction(env.ctx("CB-01"), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  0,
		Timestamp:   types.NewDateTime(startTime),
	})
	require.NoError(t, err)
	transaction, _ := env.db.GetTransaction("t1", start.TransactionId)
	connector := station.GetConnector(1)

	values := []models.MeterValue{
		{
			Timestamp: startTime, RawValue: "SIG-BEGIN",
			Context: string(types.ReadingContextTransactionBegin), Format: string(types.ValueFormatSignedData),
			Measurand: string(types.MeasurandEnergyActiveImportRegister),
		},
		{
			Timestamp: startTime.Add(time.Minute), RawValue: "SIG-END",
			Context: string(types.ReadingContextTransactionEnd), Format: string(types.ValueFormatSignedData),
			Measurand: string(types.MeasurandEnergyActiveImportRegister),
		},
	}
	consumptions := env.handler.applyMeterValues(transaction, station, connector, values)
	assert.Empty(t, consumptions)
	assert.Equal(t, "SIG-BEGIN", transaction.SignedData)
	assert.Equal(t, "SIG-END", transaction.EndSignedData)
}
