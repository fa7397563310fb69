package server

import (
	"time"

	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/types"
)

// applyMeterValues processes normalized samples in the order given, updating
// the transaction's instant fields and deriving consumption intervals from
// the energy register readings. Samples arriving after the end frame of a
// prior call are kept but flagged; they feed nothing.
//
// Replaying the full sequence from the start yields the same intervals: the
// anchor only ever advances to readings strictly after it.
func (h *SystemHandler) applyMeterValues(transaction *models.Transaction, station *models.ChargingStation, connector *models.Connector, values []models.MeterValue) []*models.Consumption {
	endAlreadyReceived := transaction.TransactionEndReceived
	var consumptions []*models.Consumption
	phasesSeen := map[string]bool{}

	for i := range values {
		v := &values[i]
		if endAlreadyReceived {
			v.Ignored = true
			continue
		}

		if v.Format == string(types.ValueFormatSignedData) || v.Measurand == "SignedData" {
			switch types.ReadingContext(v.Context) {
			case types.ReadingContextTransactionBegin:
				transaction.SignedData = v.RawValue
			case types.ReadingContextTransactionEnd:
				transaction.EndSignedData = v.RawValue
			}
			continue
		}

		if types.ReadingContext(v.Context) == types.ReadingContextTransactionEnd && !transaction.TransactionEndReceived {
			// the end readings replace the interim instants rather than
			// accumulating with them
			transaction.TransactionEndReceived = true
			resetInstantFields(transaction)
		}

		switch types.Measurand(v.Measurand) {
		case types.MeasurandSoC:
			soc := int(v.Value)
			if types.ReadingContext(v.Context) == types.ReadingContextTransactionBegin {
				transaction.StateOfCharge = soc
			} else {
				transaction.CurrentStateOfCharge = soc
			}

		case types.MeasurandVoltage:
			dispatchByPhase(v.Phase, station.IsDC(), v.Value,
				&transaction.CurrentInstantVolts,
				&transaction.CurrentInstantVoltsL1,
				&transaction.CurrentInstantVoltsL2,
				&transaction.CurrentInstantVoltsL3,
				&transaction.CurrentInstantVoltsDC)

		case types.MeasurandPowerActiveImport:
			dispatchByPhase(v.Phase, station.IsDC(), v.Value,
				&transaction.CurrentInstantWatts,
				&transaction.CurrentInstantWattsL1,
				&transaction.CurrentInstantWattsL2,
				&transaction.CurrentInstantWattsL3,
				&transaction.CurrentInstantWattsDC)

		case types.MeasurandCurrentImport:
			dispatchByPhase(v.Phase, station.IsDC(), v.Value,
				&transaction.CurrentInstantAmps,
				&transaction.CurrentInstantAmpsL1,
				&transaction.CurrentInstantAmpsL2,
				&transaction.CurrentInstantAmpsL3,
				&transaction.CurrentInstantAmpsDC)
			if v.Value > 0 {
				if base := basePhase(v.Phase); base != "" {
					phasesSeen[base] = true
				}
			}

		case types.MeasurandEnergyActiveImportRegister:
			if types.ReadingContext(v.Context) == types.ReadingContextSampleClock {
				// clock-context registers are persisted but never derive an
				// interval
				continue
			}
			if consumption := h.deriveConsumption(transaction, station, connector, v); consumption != nil {
				consumptions = append(consumptions, consumption)
			}
		}
	}

	if transaction.PhasesUsed == 0 && len(phasesSeen) > 0 {
		phases := len(phasesSeen)
		if phases > 3 {
			phases = 3
		}
		transaction.PhasesUsed = phases
	}

	return consumptions
}

// deriveConsumption turns one energy register reading into an interval
// against the transaction's anchor.
func (h *SystemHandler) deriveConsumption(transaction *models.Transaction, station *models.ChargingStation, connector *models.Connector, v *models.MeterValue) *models.Consumption {
	anchor := transaction.Anchor()
	intervalSecs := v.Timestamp.Sub(anchor.Timestamp).Seconds()
	if intervalSecs <= 0 {
		return nil
	}
	transaction.NumberOfMeterValues++

	consumptionWh := v.Value - anchor.CumulatedWh
	if consumptionWh < 0 {
		consumptionWh = 0
	}
	cumulatedWh := v.Value - transaction.MeterStart
	if cumulatedWh < 0 {
		cumulatedWh = 0
	}
	instantWatts := consumptionWh * 3600 / intervalSecs

	if consumptionWh == 0 {
		transaction.CurrentTotalInactivitySecs += int(intervalSecs)
		transaction.ZeroIntervalStreak++
	} else {
		transaction.ZeroIntervalStreak = 0
	}
	transaction.CurrentTotalConsumptionWh = cumulatedWh
	transaction.CurrentInstantWatts = instantWatts
	transaction.CurrentInstantAmps = wattsToAmps(instantWatts, transaction, connector, station.IsDC())
	transaction.CurrentInactivityStatus = h.classifier.Classify(station, connector.Id, transaction.CurrentTotalInactivitySecs)

	consumption := &models.Consumption{
		Tenant:                 transaction.Tenant,
		TransactionId:          transaction.Id,
		ChargeBoxId:            transaction.ChargeBoxId,
		ConnectorId:            transaction.ConnectorId,
		SiteAreaId:             transaction.SiteAreaId,
		SiteId:                 transaction.SiteId,
		StartedAt:              anchor.Timestamp,
		EndedAt:                v.Timestamp,
		ConsumptionWh:          consumptionWh,
		InstantWatts:           instantWatts,
		InstantWattsL1:         transaction.CurrentInstantWattsL1,
		InstantWattsL2:         transaction.CurrentInstantWattsL2,
		InstantWattsL3:         transaction.CurrentInstantWattsL3,
		InstantWattsDC:         transaction.CurrentInstantWattsDC,
		InstantVolts:           transaction.CurrentInstantVolts,
		InstantAmps:            transaction.CurrentInstantAmps,
		CumulatedConsumptionWh: cumulatedWh,
		TotalInactivitySecs:    transaction.CurrentTotalInactivitySecs,
		TotalDurationSecs:      int(v.Timestamp.Sub(transaction.Timestamp).Seconds()),
		StateOfCharge:          transaction.CurrentStateOfCharge,
		LimitSource:            connector.LimitSource,
		LimitAmps:              connector.LimitAmps,
	}

	transaction.LastConsumption = &models.LastConsumption{
		Timestamp:   v.Timestamp,
		CumulatedWh: v.Value,
	}
	return consumption
}

// resetInstantFields zeroes the live electrical readings once when the end
// frame arrives.
func resetInstantFields(transaction *models.Transaction) {
	transaction.CurrentInstantWatts = 0
	transaction.CurrentInstantWattsL1 = 0
	transaction.CurrentInstantWattsL2 = 0
	transaction.CurrentInstantWattsL3 = 0
	transaction.CurrentInstantWattsDC = 0
	transaction.CurrentInstantVolts = 0
	transaction.CurrentInstantVoltsL1 = 0
	transaction.CurrentInstantVoltsL2 = 0
	transaction.CurrentInstantVoltsL3 = 0
	transaction.CurrentInstantVoltsDC = 0
	transaction.CurrentInstantAmps = 0
	transaction.CurrentInstantAmpsL1 = 0
	transaction.CurrentInstantAmpsL2 = 0
	transaction.CurrentInstantAmpsL3 = 0
	transaction.CurrentInstantAmpsDC = 0
	transaction.CurrentStateOfCharge = 0
}

// dispatchByPhase routes a reading to its phase-resolved slot; readings with
// no phase tag are totals, DC stations get the DC slot.
func dispatchByPhase(phase string, dc bool, value float64, total, l1, l2, l3, dcSlot *float64) {
	if dc {
		*dcSlot = value
		*total = value
		return
	}
	switch basePhase(phase) {
	case "L1":
		*l1 = value
	case "L2":
		*l2 = value
	case "L3":
		*l3 = value
	default:
		*total = value
	}
}

func basePhase(phase string) string {
	switch types.Phase(phase) {
	case types.PhaseL1, types.PhaseL1N:
		return "L1"
	case types.PhaseL2, types.PhaseL2N:
		return "L2"
	case types.PhaseL3, types.PhaseL3N:
		return "L3"
	}
	return ""
}

func wattsToAmps(watts float64, transaction *models.Transaction, connector *models.Connector, dc bool) float64 {
	voltage := connector.Voltage
	if voltage == 0 {
		voltage = 230
	}
	if dc {
		return watts / float64(voltage)
	}
	phases := transaction.PhasesUsed
	if phases == 0 {
		phases = connector.NumberOfPhases
	}
	if phases == 0 {
		phases = 1
	}
	return watts / float64(voltage) / float64(phases)
}

// durationSecs is a small helper for stop accounting.
func durationSecs(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Seconds())
}
