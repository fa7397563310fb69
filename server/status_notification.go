package server

import (
	"fmt"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/metrics/counters"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp/core"
)

func (h *SystemHandler) OnStatusNotification(ctx *CallContext, request *core.StatusNotificationRequest) (*core.StatusNotificationResponse, error) {
	if request.ConnectorId == 0 {
		// connector 0 is the station itself; informational only
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("main controller status %v (%v)", request.Status, request.ErrorCode))
		return core.NewStatusNotificationResponse(), nil
	}

	station, err := h.resolveStation(ctx)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("status notification from unresolved station: %s", err))
		return core.NewStatusNotificationResponse(), nil
	}

	notifTimestamp := h.now()
	if request.Timestamp != nil {
		notifTimestamp = request.Timestamp.Time
	}

	connector := station.GetConnector(request.ConnectorId)
	if connector == nil {
		connector = &models.Connector{
			Id:     request.ConnectorId,
			Status: models.ConnectorStatusUnavailable,
		}
		station.Connectors = append(station.Connectors, connector)
		h.templates.ApplyTemplate(station)
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("created connector #%v", request.ConnectorId))
	}

	// chattering firmware resends identical notifications; nothing to persist
	if connector.Status == string(request.Status) &&
		connector.ErrorCode == string(request.ErrorCode) &&
		connector.Info == request.Info {
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("connector #%v unchanged (%v)", request.ConnectorId, request.Status))
		return core.NewStatusNotificationResponse(), nil
	}

	connector.Status = string(request.Status)
	connector.ErrorCode = string(request.ErrorCode)
	connector.Info = request.Info
	connector.VendorErrorCode = request.VendorErrorCode
	connector.StatusLastChangedOn = notifTimestamp

	switch request.Status {
	case core.ChargePointStatusAvailable:
		if connector.CurrentTransactionId > 0 {
			// some firmware reports Available with the session still open;
			// recover before trusting the new status
			h.logger.Warn(fmt.Sprintf("connector %s@%d went Available with open transaction %d", ctx.ChargeBoxId, connector.Id, connector.CurrentTransactionId))
			h.stopOrDeleteActiveTransactions(ctx, station, connector)
		} else {
			h.computeExtraInactivity(ctx, station, connector, notifTimestamp)
		}
	case core.ChargePointStatusCharging, core.ChargePointStatusSuspendedEV:
		h.scheduleSmartCharging(ctx.Tenant, station.SiteAreaId)
	}

	if request.IsFaulted() {
		counters.ObserveError(ctx.Tenant, ctx.ChargeBoxId, string(request.ErrorCode))
		h.notifyStatusError(ctx, request, notifTimestamp)
	}

	station.SortConnectors()
	station.LastSeen = h.now()
	if err = h.database.SaveChargingStation(station); err != nil {
		h.logger.Error("update status", err)
	}

	// best effort: roaming peers track public connector availability
	if station.Public {
		for _, service := range h.roaming {
			if err := service.PushConnectorStatus(station, connector); err != nil {
				h.logger.Error("push connector status", err)
			}
		}
	}

	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("updated connector #%v status to %v", request.ConnectorId, request.Status))
	return core.NewStatusNotificationResponse(), nil
}

func (h *SystemHandler) scheduleSmartCharging(tenant, siteAreaId string) {
	if h.smart == nil || siteAreaId == "" {
		return
	}
	delay := time.Duration(h.conf.Ocpp.SmartChargingDelayMs) * time.Millisecond
	h.scheduler.After(delay, "smart-charging", func() {
		if err := h.smart.ComputeAndApply(tenant, siteAreaId); err != nil {
			h.logger.Error("smart charging recompute", err)
		}
	})
}

// notifyStatusError reports faulted connectors to operators, at most once per
// (station, connector, code) per window.
func (h *SystemHandler) notifyStatusError(ctx *CallContext, request *core.StatusNotificationRequest, notifTimestamp time.Time) {
	key := fmt.Sprintf("%s/%s/%d/%s", ctx.Tenant, ctx.ChargeBoxId, request.ConnectorId, request.ErrorCode)
	h.statusErrorMux.Lock()
	last, seen := h.statusErrorNotified[key]
	if seen && h.now().Sub(last) < statusErrorNotifyWindow {
		h.statusErrorMux.Unlock()
		return
	}
	h.statusErrorNotified[key] = h.now()
	h.statusErrorMux.Unlock()

	h.emit(func(handler internal.EventHandler) {
		handler.OnStatusError(&internal.EventMessage{
			Type:          "StatusError",
			Tenant:        ctx.Tenant,
			ChargePointId: ctx.ChargeBoxId,
			ConnectorId:   request.ConnectorId,
			Time:          notifTimestamp,
			Status:        string(request.Status),
			Info:          fmt.Sprintf("%s %s %s", request.ErrorCode, request.Info, request.VendorErrorCode),
			Payload:       request,
		})
	})
}

// computeExtraInactivity accounts the gap between a session's stop and the
// connector going back to Available. It runs at most once per transaction.
func (h *SystemHandler) computeExtraInactivity(ctx *CallContext, station *models.ChargingStation, connector *models.Connector, notifTimestamp time.Time) {
	transaction, err := h.database.GetLastTransaction(ctx.Tenant, station.Id, connector.Id)
	if err != nil {
		h.logger.Error("get last transaction", err)
		return
	}
	if transaction == nil || transaction.Stop == nil || transaction.Stop.ExtraInactivityComputed {
		return
	}

	extraSecs := durationSecs(transaction.Stop.Timestamp, notifTimestamp)
	transaction.Stop.ExtraInactivitySecs = extraSecs
	transaction.Stop.TotalInactivitySecs += extraSecs
	transaction.Stop.ExtraInactivityComputed = true
	transaction.Stop.InactivityStatus = h.classifier.Classify(station, connector.Id, transaction.Stop.TotalInactivitySecs)

	if extraSecs > 0 {
		extra := &models.Consumption{
			Tenant:                 transaction.Tenant,
			TransactionId:          transaction.Id,
			ChargeBoxId:            transaction.ChargeBoxId,
			ConnectorId:            transaction.ConnectorId,
			SiteAreaId:             transaction.SiteAreaId,
			SiteId:                 transaction.SiteId,
			StartedAt:              transaction.Stop.Timestamp,
			EndedAt:                notifTimestamp,
			CumulatedConsumptionWh: transaction.Stop.TotalConsumptionWh,
			TotalInactivitySecs:    transaction.Stop.TotalInactivitySecs,
			TotalDurationSecs:      durationSecs(transaction.Timestamp, notifTimestamp),
			StateOfCharge:          transaction.Stop.StateOfCharge,
		}
		if err = h.database.AddConsumption(extra); err != nil {
			h.logger.Error("add extra inactivity consumption", err)
		}
	}

	if err = h.database.UpdateTransaction(transaction); err != nil {
		h.logger.Error("update transaction", err)
		return
	}
	h.logger.FeatureEvent("ExtraInactivity", ctx.ChargeBoxId, fmt.Sprintf("transaction %d: %d extra seconds", transaction.Id, extraSecs))

	// the session is final now; publish its charge detail record
	h.pushCdrs(station, transaction)
}

// pushCdrs publishes the CDR of a finished roaming session, once per
// protocol: a named lock keyed by (tenant, protocol, transaction) makes
// concurrent attempts collapse into one push.
func (h *SystemHandler) pushCdrs(station *models.ChargingStation, transaction *models.Transaction) {
	for _, service := range h.roaming {
		if transaction.RoamingFor(service.Protocol()) == nil {
			continue
		}
		service := service
		go h.pushCdrLocked(service, station, transaction.Tenant, transaction.Id)
	}
}

func (h *SystemHandler) pushCdrLocked(service internal.RoamingService, station *models.ChargingStation, tenant string, transactionId int) {
	lockName := fmt.Sprintf("%s:%s-cdr:%d", tenant, service.Protocol(), transactionId)
	handle, err := h.locks.Acquire(lockName, time.Minute)
	if err != nil {
		h.logger.Error("acquire cdr lock", err)
		return
	}
	if handle == nil {
		// another handler is already pushing this record
		return
	}
	defer func() {
		if err := h.locks.Release(handle); err != nil {
			h.logger.Error("release cdr lock", err)
		}
	}()

	// reload under the lock so a completed push is visible
	transaction, err := h.database.GetTransaction(tenant, transactionId)
	if err != nil || transaction == nil {
		return
	}
	data := transaction.RoamingFor(service.Protocol())
	if data == nil || data.CdrPushed {
		return
	}
	if err = service.PushCdr(transaction, station); err != nil {
		h.logger.Error(fmt.Sprintf("%s: push cdr for transaction %d", service.Protocol(), transactionId), err)
		return
	}
	data.CdrPushed = true
	data.CdrPushedOn = h.now()
	if err = h.database.UpdateTransaction(transaction); err != nil {
		h.logger.Error("update transaction after cdr push", err)
	}
}
