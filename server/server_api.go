package server

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
)

const (
	apiEndpoint = "/api"
)

// Api is the operator command surface: one POST per central-system request,
// answered with the station's response payload.
type Api struct {
	conf           *config.Config
	httpServer     *http.Server
	requestHandler func(w http.ResponseWriter, command CentralSystemCommand) error
	logger         internal.LogHandler
}

type CentralSystemCommand struct {
	Tenant        string `json:"tenant_id"`
	ChargePointId string `json:"charge_point_id"`
	ConnectorId   int    `json:"connector_id"`
	FeatureName   string `json:"feature_name"`
	Payload       string `json:"payload"`
}

func NewServerApi(conf *config.Config, logger internal.LogHandler) *Api {
	server := Api{
		conf:   conf,
		logger: logger,
	}
	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", conf.Api.BindIP, conf.Api.Port),
		Handler: http.HandlerFunc(server.handleRoot),
	}
	return &server
}

func (s *Api) Start() error {
	if s.conf.Api.TLS {
		cert, err := tls.LoadX509KeyPair(s.conf.Api.CertFile, s.conf.Api.KeyFile)
		if err != nil {
			return fmt.Errorf("api: failed to load certificate: %v", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		return s.httpServer.ListenAndServeTLS("", "")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Api) SetRequestHandler(handler func(w http.ResponseWriter, command CentralSystemCommand) error) {
	s.requestHandler = handler
}

// handle requests to the root path
func (s *Api) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn(fmt.Sprintf("api: invalid method %s from %s", r.Method, r.RemoteAddr))
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != apiEndpoint {
		s.logger.Warn(fmt.Sprintf("api: invalid path %s from %s", r.URL.Path, r.RemoteAddr))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("api: error reading body from %s: %s", r.RemoteAddr, err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var cmd CentralSystemCommand
	err = json.Unmarshal(body, &cmd)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("api: error parsing command from %s: %s", r.RemoteAddr, err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	err = s.requestHandler(w, cmd)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("api: error sending command %s to %s: %s", cmd.FeatureName, cmd.ChargePointId, err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
}
