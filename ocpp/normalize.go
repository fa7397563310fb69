package ocpp

import (
	"encoding/json"

	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/types"
	"github.com/roiko/ev-server/utility"
)

// Normalization flattens the per-version meter value shapes into rows of
// models.MeterValue, one per sampled value, with the OCPP attribute defaults
// filled in. Unknown measurands and contexts pass through unchanged.

func defaultSampledValue(sv types.SampledValue) types.SampledValue {
	if sv.Context == "" {
		sv.Context = types.ReadingContextSamplePeriodic
	}
	if sv.Format == "" {
		sv.Format = types.ValueFormatRaw
	}
	if sv.Measurand == "" {
		sv.Measurand = types.MeasurandEnergyActiveImportRegister
	}
	if sv.Location == "" {
		sv.Location = types.LocationOutlet
	}
	if sv.Unit == "" {
		sv.Unit = types.UnitOfMeasureWh
	}
	return sv
}

// NormalizeMeterValues flattens meter value batches (both versions arrive in
// this shape after carrier decoding) into normalized rows. Raw values parse
// as decimals, kilo units scale to base units, signed data is preserved
// verbatim with a zero numeric value.
func NormalizeMeterValues(tenant, chargeBoxId string, connectorId, transactionId int, values []types.MeterValue) []models.MeterValue {
	var normalized []models.MeterValue
	for _, mv := range values {
		if mv.Timestamp == nil {
			continue
		}
		for _, sv := range mv.SampledValue {
			sv = defaultSampledValue(sv)
			row := models.MeterValue{
				Tenant:        tenant,
				ChargeBoxId:   chargeBoxId,
				ConnectorId:   connectorId,
				TransactionId: transactionId,
				Timestamp:     mv.Timestamp.Time,
				RawValue:      sv.Value,
				Context:       string(sv.Context),
				Format:        string(sv.Format),
				Measurand:     string(sv.Measurand),
				Location:      string(sv.Location),
				Unit:          string(sv.Unit),
				Phase:         string(sv.Phase),
			}
			if sv.Format == types.ValueFormatRaw {
				value, err := utility.ToFloat(sv.Value)
				if err != nil {
					continue
				}
				switch sv.Unit {
				case types.UnitOfMeasureKWh:
					row.Value = value * 1000
					row.Unit = string(types.UnitOfMeasureWh)
				case types.UnitOfMeasureKW:
					row.Value = value * 1000
					row.Unit = string(types.UnitOfMeasureW)
				default:
					row.Value = value
				}
			}
			normalized = append(normalized, row)
		}
	}
	return normalized
}

// sampledValue15 is the 1.5 JSON rendition of a sampled value, the shape the
// SOAP carrier produces for transactionData round trips.
type sampledValue15 struct {
	Attributes struct {
		Context   string `json:"context"`
		Format    string `json:"format"`
		Measurand string `json:"measurand"`
		Location  string `json:"location"`
		Unit      string `json:"unit"`
		Phase     string `json:"phase"`
	} `json:"$attributes"`
	Value string `json:"$value"`
}

type meterValues15 struct {
	Values []struct {
		Timestamp *types.DateTime   `json:"timestamp"`
		Value     json.RawMessage   `json:"value"`
	} `json:"values"`
}

// ParseTransactionData decodes a StopTransaction transactionData block. The
// accepted shape is strict per declared protocol version: 1.6 takes an array
// of meterValue objects, 1.5 takes a values object. A mismatch is an error so
// the stop can be rejected and retried without the block.
func ParseTransactionData(ocppVersion string, raw json.RawMessage) ([]types.MeterValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch ocppVersion {
	case types.OcppVersion16:
		var values []types.MeterValue
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, utility.Err("transactionData does not match OCPP 1.6")
		}
		return values, nil
	default:
		var data meterValues15
		if err := json.Unmarshal(raw, &data); err != nil || data.Values == nil {
			return nil, utility.Err("transactionData does not match OCPP 1.5")
		}
		var converted []types.MeterValue
		for _, entry := range data.Values {
			if entry.Timestamp == nil {
				continue
			}
			samples, err := parseSampledValues15(entry.Value)
			if err != nil {
				return nil, err
			}
			mv := types.MeterValue{Timestamp: entry.Timestamp}
			for _, sample := range samples {
				mv.SampledValue = append(mv.SampledValue, types.SampledValue{
					Value:     sample.Value,
					Context:   types.ReadingContext(sample.Attributes.Context),
					Format:    types.ValueFormat(sample.Attributes.Format),
					Measurand: types.Measurand(sample.Attributes.Measurand),
					Location:  types.Location(sample.Attributes.Location),
					Unit:      types.UnitOfMeasure(sample.Attributes.Unit),
					Phase:     types.Phase(sample.Attributes.Phase),
				})
			}
			if len(mv.SampledValue) > 0 {
				converted = append(converted, mv)
			}
		}
		return converted, nil
	}
}

// parseSampledValues15 accepts both the single-value and array renditions
// stations produce for one timestamp.
func parseSampledValues15(raw json.RawMessage) ([]sampledValue15, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var many []sampledValue15
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one sampledValue15
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, utility.Err("invalid 1.5 sampled value")
	}
	return []sampledValue15{one}, nil
}
