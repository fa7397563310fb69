package server

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roiko/ev-server/billing"
	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/notifier"
	"github.com/roiko/ev-server/ocpi"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/ocpp/firmware"
	"github.com/roiko/ev-server/ocpp/remotetrigger"
	soapcodec "github.com/roiko/ev-server/ocpp/soap"
	"github.com/roiko/ev-server/oicp"
	"github.com/roiko/ev-server/power"
	"github.com/roiko/ev-server/pricing"
	"github.com/roiko/ev-server/telegram"
	"github.com/roiko/ev-server/template"
	"github.com/roiko/ev-server/types"
	"github.com/roiko/ev-server/utility"
)

type CentralSystem struct {
	server          *Server
	soapServer      *SoapServer
	api             *Api
	logger          internal.LogHandler
	database        internal.Database
	handler         *SystemHandler
	validate        *validator.Validate
	perCallTimeout  time.Duration
	pendingRequests map[string]chan string
	pendingMux      sync.Mutex
}

func (cs *CentralSystem) handleIncomingMessage(ws *WebSocket, data []byte) error {
	message, err := utility.ParseJson(data)
	if err != nil {
		return err
	}
	callType, err := MessageType(message)
	if err != nil {
		return err
	}
	if callType == CallTypeError {
		cs.logger.Warn(fmt.Sprintf("error message received from charge point %s: %s", ws.ID(), string(data)))
		return nil
	}
	if callType == CallTypeResult {
		result, err := ParseResultUnchecked(message)
		if err != nil {
			cs.logger.Warn(fmt.Sprintf("invalid message received from charge point %s: %s", ws.ID(), string(data)))
			return nil
		}
		cs.resolvePending(result.UniqueId, result.Payload)
		return nil
	}
	callRequest, err := ParseRequest(message)
	if err != nil {
		ws.SetUniqueId(uniqueIdOf(message))
		if sendErr := cs.server.SendError(ws, ErrorCodeFormationViolation, err.Error()); sendErr != nil {
			cs.logger.Error("sending error frame", sendErr)
		}
		return err
	}
	ws.SetUniqueId(callRequest.UniqueId)

	request := callRequest.Payload
	if err = cs.validate.Struct(request); err != nil {
		if sendErr := cs.server.SendError(ws, ErrorCodeTypeConstraint, err.Error()); sendErr != nil {
			cs.logger.Error("sending error frame", sendErr)
		}
		return err
	}

	ctx := &CallContext{
		Tenant:        ws.Tenant(),
		ChargeBoxId:   ws.ID(),
		RemoteAddr:    ws.RemoteAddr(),
		OcppVersion:   types.OcppVersion16,
		OcppTransport: types.TransportJson,
		Token:         ws.Token(),
	}

	action := request.GetFeatureName()
	var confirmation ocpp.Response
	switch action {
	case core.BootNotificationFeatureName:
		confirmation, err = cs.handler.OnBootNotification(ctx, request.(*core.BootNotificationRequest))
	case core.AuthorizeFeatureName:
		confirmation, err = cs.handler.OnAuthorize(ctx, request.(*core.AuthorizeRequest))
	case core.HeartbeatFeatureName:
		confirmation, err = cs.handler.OnHeartbeat(ctx, request.(*core.HeartbeatRequest))
	case core.StartTransactionFeatureName:
		confirmation, err = cs.handler.OnStartTransaction(ctx, request.(*core.StartTransactionRequest))
	case core.StopTransactionFeatureName:
		confirmation, err = cs.handler.OnStopTransaction(ctx, request.(*core.StopTransactionRequest))
	case core.MeterValuesFeatureName:
		confirmation, err = cs.handler.OnMeterValues(ctx, request.(*core.MeterValuesRequest))
	case core.StatusNotificationFeatureName:
		confirmation, err = cs.handler.OnStatusNotification(ctx, request.(*core.StatusNotificationRequest))
	case core.DataTransferFeatureName:
		confirmation, err = cs.handler.OnDataTransfer(ctx, request.(*core.DataTransferRequest))
	case firmware.DiagnosticsStatusNotificationFeatureName:
		confirmation, err = cs.handler.OnDiagnosticsStatusNotification(ctx, request.(*firmware.DiagnosticsStatusNotificationRequest))
	case firmware.StatusNotificationFeatureName:
		confirmation, err = cs.handler.OnFirmwareStatusNotification(ctx, request.(*firmware.StatusNotificationRequest))
	default:
		err = fmt.Errorf("feature not supported: %s", action)
	}
	if err != nil {
		// state errors carry their own code; anything else is internal
		code := utility.CodeOf(err)
		if code == "" {
			code = ErrorCodeInternal
		}
		if sendErr := cs.server.SendError(ws, code, err.Error()); sendErr != nil {
			cs.logger.Error("sending error frame", sendErr)
		}
		return err
	}

	if ws.IsClosed() {
		cs.logger.FeatureEvent(action, ws.ID(), "websocket closed, response not sent")
		return nil
	}
	return cs.server.SendResponse(ws, confirmation)
}

func uniqueIdOf(message []interface{}) string {
	if len(message) > 1 {
		if id, ok := message[1].(string); ok {
			return id
		}
	}
	return ""
}

func (cs *CentralSystem) resolvePending(uniqueId, payload string) {
	cs.pendingMux.Lock()
	responseChan, ok := cs.pendingRequests[uniqueId]
	cs.pendingMux.Unlock()
	if ok {
		select {
		case responseChan <- payload:
		default:
		}
	}
}

func (cs *CentralSystem) registerPending(uniqueId string) chan string {
	response := make(chan string, 1)
	cs.pendingMux.Lock()
	cs.pendingRequests[uniqueId] = response
	cs.pendingMux.Unlock()
	return response
}

func (cs *CentralSystem) unregisterPending(uniqueId string) {
	cs.pendingMux.Lock()
	delete(cs.pendingRequests, uniqueId)
	cs.pendingMux.Unlock()
}

// SendRequest pushes a request to a station without waiting for the answer.
func (cs *CentralSystem) SendRequest(tenant, chargePointId string, request ocpp.Request) (string, error) {
	call := &Call{
		TypeId:   CallTypeRequest,
		UniqueId: utility.NewUUID(),
		Action:   request.GetFeatureName(),
		Payload:  request,
	}
	return cs.server.SendCall(tenant, chargePointId, call)
}

// SendRequestWait pushes a request and waits for the station's response
// payload. SOAP stations are called synchronously on their endpoint.
func (cs *CentralSystem) SendRequestWait(tenant, chargePointId string, request ocpp.Request) (string, error) {
	if ws := cs.server.GetConnection(tenant, chargePointId); ws == nil {
		return cs.sendSoapRequest(tenant, chargePointId, request)
	}
	id, err := cs.SendRequest(tenant, chargePointId, request)
	if err != nil {
		return "", err
	}
	response := cs.registerPending(id)
	defer cs.unregisterPending(id)

	select {
	case payload := <-response:
		return payload, nil
	case <-time.After(cs.perCallTimeout):
		return "", utility.Err(fmt.Sprintf("timeout waiting for response from %s", chargePointId))
	}
}

// sendSoapRequest delivers a central-system request to a 1.5 station through
// its registered endpoint and maps the answer into a status payload.
func (cs *CentralSystem) sendSoapRequest(tenant, chargePointId string, request ocpp.Request) (string, error) {
	station, err := cs.database.GetChargingStation(tenant, chargePointId)
	if err != nil {
		return "", err
	}
	if station == nil || station.Endpoint == "" {
		return "", utility.Err(fmt.Sprintf("charge point %s/%s has no endpoint", tenant, chargePointId))
	}
	var payload interface{}
	switch typed := request.(type) {
	case *core.ChangeConfigurationRequest:
		payload = &soapcodec.ChangeConfigurationRequest{Key: typed.Key, Value: typed.Value}
	default:
		return "", utility.Err(fmt.Sprintf("feature %s not supported over soap", request.GetFeatureName()))
	}
	data, err := soapcodec.EncodeRequest(chargePointId, payload)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: cs.perCallTimeout}
	resp, err := client.Post(station.Endpoint, "application/soap+xml; charset=utf-8", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	status, err := soapcodec.DecodeStatus(body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"status":%q}`, status), nil
}

func (cs *CentralSystem) handleApiRequest(w http.ResponseWriter, command CentralSystemCommand) error {
	if command.FeatureName == "" {
		return fmt.Errorf("feature name is empty")
	}
	var request ocpp.Request
	var err error
	switch command.FeatureName {
	case remotetrigger.TriggerMessageFeatureName:
		request, err = cs.handler.OnTriggerMessage(command.Tenant, command.ChargePointId, command.ConnectorId, command.Payload)
	case core.RemoteStartTransactionFeatureName:
		request, err = cs.handler.OnRemoteStartTransaction(command.Tenant, command.ChargePointId, command.ConnectorId, command.Payload)
	case core.RemoteStopTransactionFeatureName:
		request, err = cs.handler.OnRemoteStopTransaction(command.Tenant, command.ChargePointId, command.Payload)
	case core.GetConfigurationFeatureName:
		request, err = cs.handler.OnGetConfiguration(command.Tenant, command.ChargePointId, command.Payload)
	case core.ChangeConfigurationFeatureName:
		request, err = cs.handler.OnChangeConfiguration(command.Tenant, command.ChargePointId, command.Payload)
	case core.ResetFeatureName:
		request, err = cs.handler.OnReset(command.Tenant, command.ChargePointId, command.Payload)
	default:
		err = fmt.Errorf("feature not supported: %s", command.FeatureName)
	}
	if err != nil {
		return err
	}

	id, err := cs.SendRequest(command.Tenant, command.ChargePointId, request)
	if err != nil {
		return err
	}
	response := cs.registerPending(id)
	defer cs.unregisterPending(id)

	select {
	case payload := <-response:
		if payload == "" {
			w.WriteHeader(http.StatusNoContent)
		} else {
			w.Header().Add("Content-Type", "application/json; charset=utf-8")
			if _, err := w.Write([]byte(payload)); err != nil {
				cs.logger.Error("cs command send response", err)
			}
		}
	case <-time.After(cs.perCallTimeout):
		cs.logger.Warn(fmt.Sprintf("timeout waiting for response from %s", command.ChargePointId))
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func (cs *CentralSystem) Start() {

	go func() {
		if err := cs.server.Start(); err != nil {
			cs.logger.Error("websocket server failed", err)
		}
	}()

	if cs.soapServer != nil {
		go func() {
			if err := cs.soapServer.Start(); err != nil {
				cs.logger.Error("soap server failed", err)
			}
		}()
	}

	go func() {
		if err := cs.api.Start(); err != nil {
			cs.logger.Error("api server failed", err)
		}
	}()

	select {}
}

func NewCentralSystem(conf *config.Config) (*CentralSystem, error) {
	cs := &CentralSystem{
		pendingRequests: make(map[string]chan string),
		validate:        validator.New(),
		perCallTimeout:  time.Duration(conf.Ocpp.PerCallTimeoutMs) * time.Millisecond,
	}
	if cs.perCallTimeout <= 0 {
		cs.perCallTimeout = 10 * time.Second
	}

	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone initialization failed: %s", err)
	}

	var database internal.Database
	var mongoClient *internal.MongoDB
	if conf.Mongo.Enabled {
		mongoClient, err = internal.NewMongoClient(conf)
		if err != nil {
			return nil, fmt.Errorf("mongodb setup failed: %s", err)
		}
		database = mongoClient
		log.Println("mongodb is configured and enabled")
	} else {
		return nil, utility.Err("database is required")
	}
	cs.database = database

	logService := internal.NewLogger(location)
	logService.SetDebugMode(conf.IsDebug)
	logService.SetDatabase(database)
	cs.logger = logService

	locks := internal.NewMongoLockService(mongoClient)

	// system events handler
	systemHandler := NewSystemHandler(conf)
	systemHandler.SetDatabase(database)
	systemHandler.SetLockService(locks)
	systemHandler.SetLogger(logService)
	systemHandler.SetTemplates(template.NewCatalog())
	systemHandler.SetClassifier(NewInactivityClassifier(database))

	// pricing and billing
	if conf.Pricing.Enabled {
		simplePricing := pricing.NewSimple(conf)
		simplePricing.SetLogger(logService)
		systemHandler.SetPricing(simplePricing)
	}
	if conf.Billing.Enabled {
		invoicer := billing.NewInvoicer(conf)
		invoicer.SetDatabase(database)
		invoicer.SetLogger(logService)
		systemHandler.SetBilling(invoicer)
	}

	// roaming bridges
	perCallTimeout := cs.perCallTimeout
	if conf.Ocpi.Enabled {
		ocpiBridge := ocpi.New(conf.Ocpi.Url, conf.Ocpi.Token, perCallTimeout)
		ocpiBridge.SetLogger(logService)
		systemHandler.AddRoaming(ocpiBridge)
		log.Println("ocpi bridge is configured and enabled")
	}
	if conf.Oicp.Enabled {
		oicpBridge := oicp.New(conf.Oicp.Url, conf.Oicp.Token, perCallTimeout)
		oicpBridge.SetLogger(logService)
		systemHandler.AddRoaming(oicpBridge)
		log.Println("oicp bridge is configured and enabled")
	}

	// notification sinks
	if conf.Nats.Enabled {
		natsNotifier, err := notifier.New(conf.Nats.Url, logService)
		if err != nil {
			return nil, fmt.Errorf("nats setup failed: %s", err)
		}
		systemHandler.AddEventListener(natsNotifier)
		log.Println("nats notifier is configured and enabled")
	}
	if conf.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(conf.Telegram.ApiKey)
		if err != nil {
			return nil, fmt.Errorf("telegram bot setup failed: %s", err)
		}
		telegramBot.SetDatabase(database)
		telegramBot.Start()
		systemHandler.AddEventListener(telegramBot)
		log.Println("telegram bot is configured and enabled")
	}

	// websocket listener
	wsServer := NewServer(conf, logService)
	wsServer.AddSupportedSubProtocol(types.SubProtocol16)
	wsServer.SetMessageHandler(cs.handleIncomingMessage)
	cs.server = wsServer

	// soap listener for 1.5 stations
	if conf.Soap.Enabled {
		soapServer := NewSoapServer(conf, logService)
		soapServer.SetMessageHandler(cs.handleSoapMessage)
		cs.soapServer = soapServer
	}

	// smart charging optimizer works through outbound requests
	smartCharger := power.NewSmartCharger(database, locks, cs, logService)
	systemHandler.SetSmartCharging(smartCharger)

	trigger := NewTrigger(wsServer, logService)
	trigger.Start()
	systemHandler.SetTrigger(trigger)
	systemHandler.SetSender(cs)

	if err = systemHandler.OnStart(); err != nil {
		return nil, err
	}
	cs.handler = systemHandler

	// api server
	apiServer := NewServerApi(conf, logService)
	apiServer.SetRequestHandler(cs.handleApiRequest)
	cs.api = apiServer

	return cs, nil
}
