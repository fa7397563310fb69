package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/ocpp/firmware"
	"github.com/roiko/ev-server/types"
	"github.com/roiko/ev-server/utility"
)

const defaultHeartbeatInterval = 600

// faulted connectors are reported to operators at most once per window
const statusErrorNotifyWindow = 10 * time.Minute

// RequestSender pushes central-system requests to stations over whatever
// transport they negotiated.
type RequestSender interface {
	SendRequest(tenant, chargePointId string, request ocpp.Request) (string, error)
	SendRequestWait(tenant, chargePointId string, request ocpp.Request) (string, error)
}

// SystemHandler drives the station registry, the per-connector state machine
// and the transaction engine. It holds no station state in memory: every
// handler loads, mutates and persists, so concurrent handlers coordinate
// through storage only.
type SystemHandler struct {
	conf       *config.Config
	database   internal.Database
	locks      internal.LockService
	logger     internal.LogHandler
	pricing    internal.PricingService
	billing    internal.BillingService
	roaming    []internal.RoamingService
	smart      internal.SmartChargingService
	templates  internal.TemplateCatalog
	classifier internal.InactivityClassifier
	sender     RequestSender
	scheduler  *Scheduler
	trigger    *Trigger

	eventHandlers []internal.EventHandler

	// injected clock, fixed in tests
	now func() time.Time

	statusErrorNotified map[string]time.Time
	statusErrorMux      sync.Mutex
}

func NewSystemHandler(conf *config.Config) *SystemHandler {
	return &SystemHandler{
		conf:                conf,
		now:                 time.Now,
		statusErrorNotified: make(map[string]time.Time),
	}
}

func (h *SystemHandler) SetDatabase(database internal.Database) {
	h.database = database
}

func (h *SystemHandler) SetLockService(locks internal.LockService) {
	h.locks = locks
}

func (h *SystemHandler) SetLogger(logger internal.LogHandler) {
	h.logger = logger
}

func (h *SystemHandler) SetPricing(pricing internal.PricingService) {
	h.pricing = pricing
}

func (h *SystemHandler) SetBilling(billing internal.BillingService) {
	h.billing = billing
}

func (h *SystemHandler) AddRoaming(service internal.RoamingService) {
	h.roaming = append(h.roaming, service)
}

func (h *SystemHandler) SetSmartCharging(smart internal.SmartChargingService) {
	h.smart = smart
}

func (h *SystemHandler) SetTemplates(templates internal.TemplateCatalog) {
	h.templates = templates
}

func (h *SystemHandler) SetClassifier(classifier internal.InactivityClassifier) {
	h.classifier = classifier
}

func (h *SystemHandler) SetSender(sender RequestSender) {
	h.sender = sender
}

func (h *SystemHandler) SetTrigger(trigger *Trigger) {
	h.trigger = trigger
}

func (h *SystemHandler) AddEventListener(handler internal.EventHandler) {
	h.eventHandlers = append(h.eventHandlers, handler)
}

func (h *SystemHandler) OnStart() error {
	h.scheduler = NewScheduler(h.logger)
	return nil
}

func (h *SystemHandler) emit(send func(handler internal.EventHandler)) {
	for _, handler := range h.eventHandlers {
		send(handler)
	}
}

// resolveStation loads tenant and station; both must exist.
func (h *SystemHandler) resolveStation(ctx *CallContext) (*models.ChargingStation, error) {
	tenant, err := h.database.GetTenant(ctx.Tenant)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, utility.Err(fmt.Sprintf("unknown tenant: %s", ctx.Tenant))
	}
	station, err := h.database.GetChargingStation(ctx.Tenant, ctx.ChargeBoxId)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, utility.Err(fmt.Sprintf("unknown charging station: %s", ctx.ChargeBoxId))
	}
	return station, nil
}

func (h *SystemHandler) heartbeatInterval(transport string) int {
	interval := h.conf.Ocpp.HeartbeatIntervalOcppJSecs
	if transport == types.TransportSoap {
		interval = h.conf.Ocpp.HeartbeatIntervalOcppSSecs
	}
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return interval
}

func (h *SystemHandler) rejectedBoot() *core.BootNotificationResponse {
	retry := h.conf.Ocpp.BootRejectRetrySecs
	if retry <= 0 {
		retry = 30
	}
	return core.NewBootNotificationResponse(types.NewDateTime(h.now()), retry, types.RegistrationStatusRejected)
}

func (h *SystemHandler) OnBootNotification(ctx *CallContext, request *core.BootNotificationRequest) (*core.BootNotificationResponse, error) {
	tenant, err := h.database.GetTenant(ctx.Tenant)
	if err != nil || tenant == nil {
		h.logger.Warn(fmt.Sprintf("boot from unknown tenant %s rejected", ctx.Tenant))
		return h.rejectedBoot(), nil
	}

	lastReboot := h.now()
	station, err := h.database.GetChargingStation(ctx.Tenant, ctx.ChargeBoxId)
	if err != nil {
		h.logger.Error("load charging station", err)
		return h.rejectedBoot(), nil
	}

	if station == nil {
		station, err = h.registerStation(ctx, request, lastReboot)
		if err != nil {
			h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("registration rejected: %s", err))
			return h.rejectedBoot(), nil
		}
	} else {
		// a second device with the same identity shows up as a boot from a new
		// address while the registered one is still online
		maxLastSeen := time.Duration(h.conf.Ocpp.MaxLastSeenIntervalSecs) * time.Second
		if maxLastSeen > 0 && station.CurrentIP != "" && station.CurrentIP != ctx.RemoteAddr &&
			lastReboot.Sub(station.LastSeen) < maxLastSeen {
			h.logger.Warn(fmt.Sprintf("boot for %s from %s while %s was seen %v ago, possible duplicate identity",
				ctx.ChargeBoxId, ctx.RemoteAddr, station.CurrentIP, lastReboot.Sub(station.LastSeen).Round(time.Second)))
		}
		if station.Vendor != request.ChargePointVendor || station.Model != request.ChargePointModel {
			h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, "vendor or model mismatch, boot rejected")
			return h.rejectedBoot(), nil
		}
		if station.SerialNumber != "" && request.ChargePointSerialNumber != "" &&
			station.SerialNumber != request.ChargePointSerialNumber {
			h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, "serial number mismatch, boot rejected")
			return h.rejectedBoot(), nil
		}
		if request.ChargePointSerialNumber != "" {
			station.SerialNumber = request.ChargePointSerialNumber
		}
		station.FirmwareVersion = request.FirmwareVersion
		station.LastReboot = lastReboot
		station.Deleted = false
		station.RegistrationStatus = string(types.RegistrationStatusAccepted)
	}

	station.OcppVersion = ctx.OcppVersion
	station.OcppTransport = ctx.OcppTransport
	station.LastSeen = lastReboot
	station.CurrentIP = ctx.RemoteAddr
	if ctx.Endpoint != "" {
		station.Endpoint = ctx.Endpoint
	}

	templateResult := h.templates.ApplyTemplate(station)

	if err = h.database.SaveChargingStation(station); err != nil {
		h.logger.Error("save charging station", err)
		return h.rejectedBoot(), nil
	}
	if err = h.database.WriteBootRecord(&models.BootRecord{
		Tenant:          ctx.Tenant,
		ChargeBoxId:     ctx.ChargeBoxId,
		Vendor:          request.ChargePointVendor,
		Model:           request.ChargePointModel,
		SerialNumber:    request.ChargePointSerialNumber,
		FirmwareVersion: request.FirmwareVersion,
		OcppVersion:     ctx.OcppVersion,
		OcppTransport:   ctx.OcppTransport,
		CurrentIP:       ctx.RemoteAddr,
		Status:          string(types.RegistrationStatusAccepted),
		Timestamp:       lastReboot,
	}); err != nil {
		h.logger.Error("write boot record", err)
	}

	interval := h.heartbeatInterval(ctx.OcppTransport)
	h.schedulePostBootConfig(ctx.Tenant, ctx.ChargeBoxId, interval, templateResult)

	h.emit(func(handler internal.EventHandler) {
		handler.OnStationRegistered(&internal.EventMessage{
			Type:          "StationRegistered",
			Tenant:        ctx.Tenant,
			ChargePointId: ctx.ChargeBoxId,
			Time:          lastReboot,
			Status:        string(types.RegistrationStatusAccepted),
			Payload:       request,
		})
	})

	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, string(types.RegistrationStatusAccepted))
	return core.NewBootNotificationResponse(types.NewDateTime(lastReboot), interval, types.RegistrationStatusAccepted), nil
}

// registerStation creates a station on its first boot; a valid registration
// token is required.
func (h *SystemHandler) registerStation(ctx *CallContext, request *core.BootNotificationRequest, lastReboot time.Time) (*models.ChargingStation, error) {
	if ctx.Token == "" {
		return nil, utility.Err("missing registration token")
	}
	token, err := h.database.GetRegistrationToken(ctx.Tenant, ctx.Token)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, utility.Err("unknown registration token")
	}
	if !token.IsValid(h.now()) {
		return nil, utility.Err("expired or revoked registration token")
	}
	station := &models.ChargingStation{
		Id:                 ctx.ChargeBoxId,
		Tenant:             ctx.Tenant,
		Vendor:             request.ChargePointVendor,
		Model:              request.ChargePointModel,
		SerialNumber:       request.ChargePointSerialNumber,
		FirmwareVersion:    request.FirmwareVersion,
		RegistrationStatus: string(types.RegistrationStatusAccepted),
		LastReboot:         lastReboot,
		Issuer:             true,
	}
	if token.SiteAreaId != "" {
		station.SiteAreaId = token.SiteAreaId
		siteArea, err := h.database.GetSiteArea(ctx.Tenant, token.SiteAreaId)
		if err == nil && siteArea != nil {
			station.SiteId = siteArea.SiteId
			station.Latitude = siteArea.Latitude
			station.Longitude = siteArea.Longitude
		}
	}
	return station, nil
}

// schedulePostBootConfig pushes heartbeat interval and template configuration
// to the station shortly after the boot response went out.
func (h *SystemHandler) schedulePostBootConfig(tenant, chargeBoxId string, intervalSecs int, templateResult internal.TemplateResult) {
	delay := time.Duration(h.conf.Ocpp.PostBootConfigDelayMs) * time.Millisecond
	h.scheduler.After(delay, "post-boot-config", func() {
		h.pushHeartbeatInterval(tenant, chargeBoxId, intervalSecs)
		for key, value := range templateResult.OcppParameters {
			if !h.pushConfigurationKey(tenant, chargeBoxId, key, value) {
				h.logger.FeatureEvent(core.ChangeConfigurationFeatureName, chargeBoxId, fmt.Sprintf("template key %s not accepted", key))
			}
		}
	})
}

// pushHeartbeatInterval tries both spellings stations use for the heartbeat
// key; one of them accepting is a success, both failing is an error.
func (h *SystemHandler) pushHeartbeatInterval(tenant, chargeBoxId string, intervalSecs int) {
	value := fmt.Sprintf("%d", intervalSecs)
	if h.pushConfigurationKey(tenant, chargeBoxId, "HeartBeatInterval", value) {
		return
	}
	if h.pushConfigurationKey(tenant, chargeBoxId, "HeartbeatInterval", value) {
		return
	}
	h.logger.Error("post-boot configuration", utility.Err(fmt.Sprintf("station %s accepted no heartbeat interval key", chargeBoxId)))
}

func (h *SystemHandler) pushConfigurationKey(tenant, chargeBoxId, key, value string) bool {
	payload, err := h.sender.SendRequestWait(tenant, chargeBoxId, core.NewChangeConfigurationRequest(key, value))
	if err != nil {
		return false
	}
	var response struct {
		Status string `json:"status"`
	}
	if err = json.Unmarshal([]byte(payload), &response); err != nil {
		return false
	}
	return response.Status == string(core.ConfigurationStatusAccepted) ||
		response.Status == string(core.ConfigurationStatusRebootRequired)
}

func (h *SystemHandler) OnHeartbeat(ctx *CallContext, request *core.HeartbeatRequest) (*core.HeartbeatResponse, error) {
	now := h.now()
	if err := h.database.SaveLastSeen(ctx.Tenant, ctx.ChargeBoxId, now); err != nil {
		h.logger.Error("save last seen", err)
	}
	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("%v", now))
	return core.NewHeartbeatResponse(types.NewDateTime(now)), nil
}

func (h *SystemHandler) OnDataTransfer(ctx *CallContext, request *core.DataTransferRequest) (*core.DataTransferResponse, error) {
	_, err := h.resolveStation(ctx)
	if err != nil {
		return core.NewDataTransferResponse(core.DataTransferStatusRejected), nil
	}
	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("received data from vendor %s: %v", request.VendorId, request.Data))
	return core.NewDataTransferResponse(core.DataTransferStatusAccepted), nil
}

func (h *SystemHandler) OnDiagnosticsStatusNotification(ctx *CallContext, request *firmware.DiagnosticsStatusNotificationRequest) (*firmware.DiagnosticsStatusNotificationResponse, error) {
	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("updated diagnostic status to %v", request.Status))
	return firmware.NewDiagnosticsStatusNotificationResponse(), nil
}

func (h *SystemHandler) OnFirmwareStatusNotification(ctx *CallContext, request *firmware.StatusNotificationRequest) (*firmware.StatusNotificationResponse, error) {
	h.logger.FeatureEvent(request.GetFeatureName(), ctx.ChargeBoxId, fmt.Sprintf("updated firmware status to %v", request.Status))
	return firmware.NewStatusNotificationResponse(), nil
}
