package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/ocpp/soap"
	"github.com/roiko/ev-server/types"
)

const soapEndpoint = "/soap/:tenant"

// registration token header presented by a booting 1.5 station
const tokenHeader = "X-Registration-Token"

// SoapServer is the OCPP 1.5-S listener: one POST per message, the response
// travels back in the HTTP reply.
type SoapServer struct {
	conf       *config.Config
	httpServer *http.Server
	handler    func(ctx *CallContext, env *soap.Envelope, action string) (interface{}, error)
	logger     internal.LogHandler
}

func NewSoapServer(conf *config.Config, logger internal.LogHandler) *SoapServer {
	server := SoapServer{
		conf:   conf,
		logger: logger,
	}
	router := httprouter.New()
	router.POST(soapEndpoint, server.handleSoapRequest)
	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", conf.Soap.BindIP, conf.Soap.Port),
		Handler: router,
	}
	return &server
}

func (s *SoapServer) SetMessageHandler(handler func(ctx *CallContext, env *soap.Envelope, action string) (interface{}, error)) {
	s.handler = handler
}

func (s *SoapServer) handleSoapRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	tenant := params.ByName("tenant")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.logger.RawDataEvent("IN", string(body))

	env, action, err := soap.Decode(body)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("soap: invalid frame from %s: %s", r.RemoteAddr, err))
		s.writeFault(w, http.StatusBadRequest, "Sender", "invalid envelope")
		return
	}
	if env.Header.ChargeBoxIdentity == "" {
		s.writeFault(w, http.StatusBadRequest, "Sender", "missing chargeBoxIdentity")
		return
	}

	ctx := &CallContext{
		Tenant:        tenant,
		ChargeBoxId:   env.Header.ChargeBoxIdentity,
		RemoteAddr:    r.RemoteAddr,
		OcppVersion:   types.OcppVersion15,
		OcppTransport: types.TransportSoap,
		Token:         r.Header.Get(tokenHeader),
		Endpoint:      env.Header.From.Address,
	}

	response, err := s.handler(ctx, env, action)
	if err != nil {
		s.logger.Error(fmt.Sprintf("soap: handling %s from %s", action, ctx.ChargeBoxId), err)
		s.writeFault(w, http.StatusInternalServerError, "Receiver", err.Error())
		return
	}
	data, err := soap.EncodeResponse(response)
	if err != nil {
		s.logger.Error("soap: encoding response", err)
		s.writeFault(w, http.StatusInternalServerError, "Receiver", "encoding failure")
		return
	}
	s.logger.RawDataEvent("OUT", string(data))
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *SoapServer) writeFault(w http.ResponseWriter, status int, code, reason string) {
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(soap.EncodeFault(code, reason))
}

func (s *SoapServer) Start() error {
	s.logger.Debug(fmt.Sprintf("starting soap server on %s", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}
