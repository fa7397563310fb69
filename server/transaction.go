package server

import (
	"fmt"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/metrics/counters"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/types"
	"github.com/roiko/ev-server/utility"
)

// window in which a central remote stop claims the stop frame that follows
const remoteStopWindow = 60 * time.Second

const stopReasonSoft = "SoftStop"

func (h *SystemHandler) OnStartTransaction(ctx *CallContext, request *core.StartTransactionRequest) (*core.StartTransactionResponse, error) {
	invalid := core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusInvalid), 0)

	station, err := h.resolveStation(ctx)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("start transaction on unresolved station: %s", err))
		return invalid, nil
	}
	if request.Timestamp == nil {
		return invalid, nil
	}

	auth := h.authorizeTag(ctx, station, request.IdTag.String())
	if !auth.accepted() {
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("id tag %s not authorized: %s", request.IdTag, auth.status))
		return core.NewStartTransactionResponse(types.NewIdTagInfo(auth.status), 0), nil
	}

	connector := station.GetConnector(request.ConnectorId)
	if connector == nil {
		connector = &models.Connector{
			Id:     request.ConnectorId,
			Status: models.ConnectorStatusUnavailable,
		}
		station.Connectors = append(station.Connectors, connector)
		station.SortConnectors()
		h.templates.ApplyTemplate(station)
	}

	// only one session per connector; leftovers from lost stop frames are
	// closed or dropped first
	h.stopOrDeleteActiveTransactions(ctx, station, connector)

	transactionId, err := h.database.NextTransactionId(ctx.Tenant)
	if err != nil {
		h.logger.Error("allocate transaction id", err)
		return invalid, nil
	}

	transaction := &models.Transaction{
		Id:          transactionId,
		Tenant:      ctx.Tenant,
		ChargeBoxId: station.Id,
		ConnectorId: request.ConnectorId,
		TagId:       request.IdTag.String(),
		SiteAreaId:  station.SiteAreaId,
		SiteId:      station.SiteId,
		Issuer:      true,
		Timestamp:   request.Timestamp.Time,
		MeterStart:  float64(request.MeterStart),
	}
	if auth.tag != nil {
		transaction.Username = auth.tag.Username
		transaction.UserId = auth.tag.UserId
	}

	if auth.user != nil {
		tenant, err := h.database.GetTenant(ctx.Tenant)
		if err == nil && tenant != nil && tenant.WithCar {
			transaction.CarId = auth.user.DefaultCarId
		}
		// the app pre-selection is consumed by this session
		if auth.user.LastSelectedCarId != "" {
			auth.user.LastSelectedCarId = ""
			if err := h.database.SaveUser(auth.user); err != nil {
				h.logger.Error("save user", err)
			}
		}
	}

	if auth.roaming != nil {
		data := &models.RoamingData{
			SessionId:       utility.NewUUID(),
			AuthorizationId: auth.roaming.AuthorizationId,
		}
		switch auth.protocol {
		case models.RoamingProtocolOcpi:
			transaction.OcpiData = data
		case models.RoamingProtocolOicp:
			transaction.OicpData = data
		}
	}

	if err = h.database.AddTransaction(transaction); err != nil {
		h.logger.Error("add transaction", err)
		return invalid, nil
	}

	// synthetic begin interval carrying the session's opening state
	begin := &models.Consumption{
		Tenant:        transaction.Tenant,
		TransactionId: transaction.Id,
		ChargeBoxId:   transaction.ChargeBoxId,
		ConnectorId:   transaction.ConnectorId,
		SiteAreaId:    transaction.SiteAreaId,
		SiteId:        transaction.SiteId,
		StartedAt:     transaction.Timestamp,
		EndedAt:       transaction.Timestamp,
		StateOfCharge: transaction.StateOfCharge,
	}
	h.price(internal.ActionStart, transaction, begin)
	h.bill(internal.ActionStart, transaction)
	if err = h.database.AddConsumption(begin); err != nil {
		h.logger.Error("add begin consumption", err)
	}

	connector.CurrentTransactionId = transaction.Id
	connector.CurrentTransactionDate = transaction.Timestamp
	connector.CurrentTagId = transaction.TagId
	connector.CurrentUserId = transaction.UserId
	connector.CurrentInstantWatts = 0
	connector.CurrentTotalConsumptionWh = 0
	connector.CurrentTotalInactivitySecs = 0
	connector.CurrentStateOfCharge = 0
	station.LastSeen = h.now()
	if err = h.database.SaveChargingStation(station); err != nil {
		h.logger.Error("update connector", err)
	}

	h.processRoaming(internal.ActionStart, transaction, station)

	if h.trigger != nil {
		h.trigger.Watch(ctx.Tenant, station.Id, connector.Id, transaction.Id)
	}
	counters.CountTransaction(ctx.Tenant, station.Id)

	h.emit(func(handler internal.EventHandler) {
		handler.OnSessionStart(&internal.EventMessage{
			Type:          "SessionStart",
			Tenant:        ctx.Tenant,
			ChargePointId: ctx.ChargeBoxId,
			ConnectorId:   transaction.ConnectorId,
			Time:          transaction.Timestamp,
			Username:      transaction.Username,
			IdTag:         transaction.TagId,
			Status:        connector.Status,
			TransactionId: transaction.Id,
			Payload:       request,
		})
	})

	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("started transaction #%v for connector %v", transaction.Id, transaction.ConnectorId))
	return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted), transaction.Id), nil
}

func (h *SystemHandler) OnStopTransaction(ctx *CallContext, request *core.StopTransactionRequest) (*core.StopTransactionResponse, error) {
	if request.TransactionId == 0 {
		// some firmware stops with transactionId 0 after a failed start;
		// acknowledge without touching anything
		h.logger.Warn(fmt.Sprintf("stop with transactionId 0 from %s acknowledged", ctx.ChargeBoxId))
		return core.NewStopTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted)), nil
	}

	station, err := h.resolveStation(ctx)
	if err != nil {
		return nil, err
	}
	transaction, err := h.database.GetTransaction(ctx.Tenant, request.TransactionId)
	if err != nil {
		return nil, err
	}
	if transaction == nil {
		return nil, utility.ErrWithCode(ErrorCodeBackend, fmt.Sprintf("transaction #%v not found", request.TransactionId))
	}
	if transaction.Stop != nil {
		return nil, utility.ErrWithCode(ErrorCodeBackend, fmt.Sprintf("transaction #%v is already stopped", request.TransactionId))
	}

	// the payload shape must match the station's declared protocol version; a
	// mismatched stop is rejected and can be retried without the block
	transactionData, err := ocpp.ParseTransactionData(station.OcppVersion, request.TransactionData)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("stop transaction #%v: %s", request.TransactionId, err))
		return core.NewStopTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusInvalid)), nil
	}

	stopperTag := h.resolveStopperTag(transaction, request.IdTag.String())
	auth := h.authorizeTag(ctx, station, stopperTag)
	if !auth.accepted() {
		h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("stop tag %s not authorized: %s", stopperTag, auth.status))
		return core.NewStopTransactionResponse(types.NewIdTagInfo(auth.status)), nil
	}

	err = h.finishTransaction(ctx, station, transaction, stopFrame{
		timestamp:       request.Timestamp.Time,
		meterStop:       float64(request.MeterStop),
		tagId:           stopperTag,
		reason:          request.Reason,
		transactionData: transactionData,
	})
	if err != nil {
		return nil, err
	}

	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("stopped transaction %v %v", request.TransactionId, request.Reason))
	return core.NewStopTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted)), nil
}

// resolveStopperTag decides whose tag the stop belongs to: a fresh central
// remote stop claims it, then the frame's own tag, then the session starter.
func (h *SystemHandler) resolveStopperTag(transaction *models.Transaction, frameTag string) string {
	if transaction.RemoteStop != nil && h.now().Sub(transaction.RemoteStop.Timestamp) <= remoteStopWindow {
		return transaction.RemoteStop.TagId
	}
	if frameTag != "" {
		return frameTag
	}
	return transaction.TagId
}

type stopFrame struct {
	timestamp       time.Time
	meterStop       float64
	tagId           string
	reason          string
	softStop        bool
	transactionData []types.MeterValue
}

// finishTransaction is the single closing path, used by the station's stop
// frame and by the central soft stop alike.
func (h *SystemHandler) finishTransaction(ctx *CallContext, station *models.ChargingStation, transaction *models.Transaction, frame stopFrame) error {
	connector := station.GetConnector(transaction.ConnectorId)
	if connector == nil {
		connector = &models.Connector{Id: transaction.ConnectorId}
	}

	if frame.softStop {
		// the station never told us the final reading; close on what we know
		frame.meterStop = transaction.Anchor().CumulatedWh
		if frame.timestamp.IsZero() {
			frame.timestamp = h.now()
		}
	}

	// closing meter values: whatever the stop carried, plus the final
	// register so the last interval always lands on meterStop
	values := ocpp.NormalizeMeterValues(ctx.Tenant, station.Id, transaction.ConnectorId, transaction.Id, frame.transactionData)
	values = append(values, models.MeterValue{
		Tenant:        ctx.Tenant,
		ChargeBoxId:   station.Id,
		ConnectorId:   transaction.ConnectorId,
		TransactionId: transaction.Id,
		Timestamp:     frame.timestamp,
		Value:         frame.meterStop,
		Context:       string(types.ReadingContextTransactionEnd),
		Format:        string(types.ValueFormatRaw),
		Measurand:     string(types.MeasurandEnergyActiveImportRegister),
		Location:      string(types.LocationOutlet),
		Unit:          string(types.UnitOfMeasureWh),
	})

	consumptions := h.applyMeterValues(transaction, station, connector, values)
	if err := h.database.AddMeterValues(values); err != nil {
		h.logger.Error("add meter values", err)
	}
	for _, consumption := range consumptions {
		h.price(internal.ActionStop, transaction, consumption)
		if err := h.database.AddConsumption(consumption); err != nil {
			h.logger.Error("add consumption", err)
		}
	}
	h.bill(internal.ActionStop, transaction)

	stop := &models.TransactionStop{
		Timestamp:           frame.timestamp,
		MeterStop:           frame.meterStop,
		TagId:               frame.tagId,
		Reason:              frame.reason,
		TotalConsumptionWh:  transaction.CurrentTotalConsumptionWh,
		TotalInactivitySecs: transaction.CurrentTotalInactivitySecs,
		TotalDurationSecs:   durationSecs(transaction.Timestamp, frame.timestamp),
		StateOfCharge:       transaction.CurrentStateOfCharge,
		SignedData:          transaction.EndSignedData,
	}
	stop.InactivityStatus = h.classifier.Classify(station, transaction.ConnectorId, stop.TotalInactivitySecs)
	if frame.tagId != "" {
		if tag, err := h.database.GetUserTag(ctx.Tenant, frame.tagId); err == nil && tag != nil {
			stop.UserId = tag.UserId
			stop.Username = tag.Username
		}
	}
	transaction.Stop = stop
	h.price(internal.ActionStop, transaction, nil)

	if err := h.database.UpdateTransaction(transaction); err != nil {
		return err
	}

	// release the connector; its status follows from the station's own
	// notification
	connector.ClearSession()
	station.LastSeen = h.now()
	if err := h.database.SaveChargingStation(station); err != nil {
		h.logger.Error("update connector", err)
	}

	h.processRoaming(internal.ActionStop, transaction, station)

	if h.trigger != nil {
		h.trigger.Unregister <- transaction.Id
	}
	counters.CountConsumedPower(ctx.Tenant, station.Id, stop.TotalConsumptionWh)

	h.emit(func(handler internal.EventHandler) {
		handler.OnSessionEnd(&internal.EventMessage{
			Type:          "SessionEnd",
			Tenant:        ctx.Tenant,
			ChargePointId: station.Id,
			ConnectorId:   transaction.ConnectorId,
			Time:          frame.timestamp,
			Username:      transaction.Username,
			IdTag:         transaction.TagId,
			TransactionId: transaction.Id,
			Info:          fmt.Sprintf("consumed %s kWh", utility.WhAsKwhString(stop.TotalConsumptionWh)),
		})
	})
	if stop.SignedData != "" || transaction.SignedData != "" {
		h.emit(func(handler internal.EventHandler) {
			handler.OnSignedSessionEnd(&internal.EventMessage{
				Type:          "SignedSessionEnd",
				Tenant:        ctx.Tenant,
				ChargePointId: station.Id,
				ConnectorId:   transaction.ConnectorId,
				Time:          frame.timestamp,
				TransactionId: transaction.Id,
			})
		})
	}

	if h.smart != nil && station.SiteAreaId != "" {
		if err := h.smart.ClearTxProfile(transaction); err != nil {
			h.logger.Error("clear tx profile", err)
		}
		h.scheduleSmartCharging(ctx.Tenant, station.SiteAreaId)
	}
	return nil
}

// stopOrDeleteActiveTransactions recovers a connector that still carries open
// sessions: empty ones are dropped, the rest are closed softly on their last
// known reading. The fixed-point check guards against a storage that keeps
// returning the same row.
func (h *SystemHandler) stopOrDeleteActiveTransactions(ctx *CallContext, station *models.ChargingStation, connector *models.Connector) {
	lastId := -1
	for {
		transaction, err := h.database.GetActiveTransaction(ctx.Tenant, station.Id, connector.Id)
		if err != nil {
			h.logger.Error("get active transaction", err)
			return
		}
		if transaction == nil {
			break
		}
		if transaction.Id == lastId {
			h.logger.Warn(fmt.Sprintf("transaction #%v still active after recovery, giving up", transaction.Id))
			break
		}
		lastId = transaction.Id

		if transaction.CurrentTotalConsumptionWh <= 0 {
			h.logger.FeatureEvent("Recovery", station.Id, fmt.Sprintf("deleting empty transaction #%v", transaction.Id))
			if err = h.database.DeleteTransaction(ctx.Tenant, transaction.Id); err != nil {
				h.logger.Error("delete transaction", err)
				break
			}
			continue
		}
		h.logger.FeatureEvent("Recovery", station.Id, fmt.Sprintf("soft stopping transaction #%v", transaction.Id))
		if err = h.finishTransaction(ctx, station, transaction, stopFrame{
			timestamp: h.now(),
			tagId:     transaction.TagId,
			reason:    stopReasonSoft,
			softStop:  true,
		}); err != nil {
			h.logger.Error("soft stop transaction", err)
			break
		}
	}
	connector.ClearSession()
}

func (h *SystemHandler) price(action string, transaction *models.Transaction, consumption *models.Consumption) {
	if h.pricing == nil {
		return
	}
	if err := h.pricing.Price(action, transaction, consumption); err != nil {
		h.logger.Error("pricing", err)
	}
}

func (h *SystemHandler) bill(action string, transaction *models.Transaction) {
	if h.billing == nil {
		return
	}
	if err := h.billing.Bill(action, transaction); err != nil {
		// billing has its own reconciliation; the session moves on
		h.logger.Error("billing", err)
	}
}

func (h *SystemHandler) processRoaming(action string, transaction *models.Transaction, station *models.ChargingStation) {
	for _, service := range h.roaming {
		if transaction.RoamingFor(service.Protocol()) == nil {
			continue
		}
		if err := service.ProcessSession(action, transaction, station); err != nil {
			h.logger.Error(fmt.Sprintf("%s: session %s", service.Protocol(), action), err)
		}
	}
}
