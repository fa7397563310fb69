package server

import (
	"fmt"
	"strconv"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/metrics/counters"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/core"
)

// a charging profile limit at or above this many amps per phase is considered
// non-restrictive when judging whether charging actually ended
const minLimitAmpsPerPhase = 6

func (h *SystemHandler) OnMeterValues(ctx *CallContext, request *core.MeterValuesRequest) (*core.MeterValuesResponse, error) {
	station, err := h.resolveStation(ctx)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("meter values from unresolved station: %s", err))
		return core.NewMeterValuesResponse(), nil
	}

	connector := station.GetConnector(request.ConnectorId)
	transactionId := 0
	if request.TransactionId != nil {
		transactionId = *request.TransactionId
	}
	if transactionId == 0 && connector != nil {
		transactionId = connector.CurrentTransactionId
	}

	values := ocpp.NormalizeMeterValues(ctx.Tenant, station.Id, request.ConnectorId, transactionId, request.MeterValue)
	if len(values) == 0 {
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("no usable samples for connector #%v", request.ConnectorId))
		return core.NewMeterValuesResponse(), nil
	}

	var transaction *models.Transaction
	if transactionId > 0 {
		transaction, err = h.database.GetTransaction(ctx.Tenant, transactionId)
		if err != nil {
			h.logger.Error("get transaction", err)
		}
		if transaction != nil && transaction.Stop != nil {
			// closed sessions take no more consumption
			transaction = nil
		}
	}

	if transaction == nil || connector == nil {
		if err = h.database.AddMeterValues(values); err != nil {
			h.logger.Error("add meter values", err)
		}
		if err = h.database.SaveLastSeen(ctx.Tenant, ctx.ChargeBoxId, h.now()); err != nil {
			h.logger.Error("save last seen", err)
		}
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("stored %d samples for connector #%v without session", len(values), request.ConnectorId))
		return core.NewMeterValuesResponse(), nil
	}

	phasesKnownBefore := transaction.PhasesUsed > 0

	consumptions := h.applyMeterValues(transaction, station, connector, values)
	if err = h.database.AddMeterValues(values); err != nil {
		h.logger.Error("add meter values", err)
	}
	for _, consumption := range consumptions {
		h.price(internal.ActionUpdate, transaction, consumption)
		if err = h.database.AddConsumption(consumption); err != nil {
			h.logger.Error("add consumption", err)
		}
	}
	if len(consumptions) > 0 {
		h.bill(internal.ActionUpdate, transaction)
	}

	h.evaluateSessionNotifications(ctx, station, connector, transaction)

	if err = h.database.UpdateTransaction(transaction); err != nil {
		h.logger.Error("update transaction", err)
	}

	// mirror the session onto the connector for the live model
	connector.CurrentInstantWatts = transaction.CurrentInstantWatts
	connector.CurrentTotalConsumptionWh = transaction.CurrentTotalConsumptionWh
	connector.CurrentTotalInactivitySecs = transaction.CurrentTotalInactivitySecs
	connector.CurrentInactivityStatus = transaction.CurrentInactivityStatus
	connector.CurrentStateOfCharge = transaction.CurrentStateOfCharge
	station.LastSeen = h.now()
	if err = h.database.SaveChargingStation(station); err != nil {
		h.logger.Error("update connector", err)
	}

	counters.ObservePowerRate(ctx.Tenant, station.Id, strconv.Itoa(connector.Id), transaction.CurrentInstantWatts)

	// first complete reading with known phases feeds the optimizer
	if !phasesKnownBefore && transaction.PhasesUsed > 0 {
		h.scheduleSmartCharging(ctx.Tenant, station.SiteAreaId)
	}

	h.processRoaming(internal.ActionUpdate, transaction, station)

	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("connector #%v: %d samples, %d intervals, total %.0f Wh", request.ConnectorId, len(values), len(consumptions), transaction.CurrentTotalConsumptionWh))
	return core.NewMeterValuesResponse(), nil
}

// evaluateSessionNotifications applies the end-of-charge policy after each
// meter values call; every notification fires at most once per transaction.
func (h *SystemHandler) evaluateSessionNotifications(ctx *CallContext, station *models.ChargingStation, connector *models.Connector, transaction *models.Transaction) {
	if transaction.NumberOfMeterValues < 2 || transaction.CurrentTotalConsumptionWh <= 0 {
		return
	}

	if h.conf.Notifications.EndOfChargeEnabled && !transaction.NotifiedEndOfCharge {
		if transaction.CurrentStateOfCharge >= 100 {
			transaction.NotifiedEndOfCharge = true
			h.notifyEndOfCharge(ctx, transaction, "battery full")
			return
		}
		if transaction.ZeroIntervalStreak >= 3 && !limitExplainsIdle(connector) {
			transaction.NotifiedEndOfCharge = true
			h.notifyEndOfCharge(ctx, transaction, "no energy delivered")
			return
		}
	}

	if h.conf.Notifications.BeforeEndOfChargeEnabled && !transaction.NotifiedOptimalCharge &&
		transaction.CurrentStateOfCharge >= h.conf.Notifications.BeforeEndOfChargePercent {
		transaction.NotifiedOptimalCharge = true
		h.emit(func(handler internal.EventHandler) {
			handler.OnOptimalChargeReached(&internal.EventMessage{
				Type:          "OptimalChargeReached",
				Tenant:        ctx.Tenant,
				ChargePointId: station.Id,
				ConnectorId:   transaction.ConnectorId,
				Time:          h.now(),
				Username:      transaction.Username,
				TransactionId: transaction.Id,
				Info:          fmt.Sprintf("state of charge %d%%", transaction.CurrentStateOfCharge),
			})
		})
	}
}

// limitExplainsIdle reports whether an active restrictive charging profile is
// the likely reason no energy flows.
func limitExplainsIdle(connector *models.Connector) bool {
	if connector.LimitSource != models.LimitSourceChargingProfile {
		return false
	}
	phases := connector.NumberOfPhases
	if phases == 0 {
		phases = 1
	}
	return connector.LimitAmps < minLimitAmpsPerPhase*phases
}

func (h *SystemHandler) notifyEndOfCharge(ctx *CallContext, transaction *models.Transaction, info string) {
	h.emit(func(handler internal.EventHandler) {
		handler.OnEndOfCharge(&internal.EventMessage{
			Type:          "EndOfCharge",
			Tenant:        ctx.Tenant,
			ChargePointId: transaction.ChargeBoxId,
			ConnectorId:   transaction.ConnectorId,
			Time:          h.now(),
			Username:      transaction.Username,
			TransactionId: transaction.Id,
			Info:          info,
		})
	})
}
