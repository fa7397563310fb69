package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/utility"
)

const (
	wsEndpoint = "/ws/:tenant/:id"
)

// Server is the OCPP 1.6-J websocket listener. One goroutine reads each
// connection in order, so a station's messages are handled one at a time.
type Server struct {
	conf           *config.Config
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	messageHandler func(ws *WebSocket, data []byte) error
	logger         internal.LogHandler
	connections    map[string]*WebSocket
	mux            sync.Mutex
}

type WebSocket struct {
	conn       *websocket.Conn
	tenant     string
	id         string
	uniqueId   string
	remoteAddr string
	token      string
	closed     bool
	writeMux   sync.Mutex
}

func (ws *WebSocket) ID() string {
	return ws.id
}

func (ws *WebSocket) Tenant() string {
	return ws.tenant
}

func (ws *WebSocket) RemoteAddr() string {
	return ws.remoteAddr
}

// Token returns the registration token presented on connect, if any.
func (ws *WebSocket) Token() string {
	return ws.token
}

func (ws *WebSocket) UniqueId() string {
	return ws.uniqueId
}

func (ws *WebSocket) SetUniqueId(uniqueId string) {
	ws.uniqueId = uniqueId
}

func (ws *WebSocket) IsClosed() bool {
	return ws.closed
}

func (ws *WebSocket) write(data []byte) error {
	ws.writeMux.Lock()
	defer ws.writeMux.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func NewServer(conf *config.Config, logger internal.LogHandler) *Server {
	server := Server{
		conf:        conf,
		logger:      logger,
		upgrader:    websocket.Upgrader{Subprotocols: []string{}},
		connections: make(map[string]*WebSocket),
	}
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port),
		Handler: router,
	}
	return &server
}

func (s *Server) AddSupportedSubProtocol(proto string) {
	for _, sub := range s.upgrader.Subprotocols {
		if sub == proto {
			return
		}
	}
	s.upgrader.Subprotocols = append(s.upgrader.Subprotocols, proto)
}

func (s *Server) SetMessageHandler(handler func(ws *WebSocket, data []byte) error) {
	s.messageHandler = handler
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET(wsEndpoint, s.handleWsRequest)
}

func connectionKey(tenant, id string) string {
	return tenant + "/" + id
}

func (s *Server) registerConnection(ws *WebSocket) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.connections[connectionKey(ws.tenant, ws.id)] = ws
}

func (s *Server) unregisterConnection(ws *WebSocket) {
	s.mux.Lock()
	defer s.mux.Unlock()
	current, ok := s.connections[connectionKey(ws.tenant, ws.id)]
	if ok && current == ws {
		delete(s.connections, connectionKey(ws.tenant, ws.id))
	}
}

// GetConnection returns the live socket of a station, nil when offline.
func (s *Server) GetConnection(tenant, id string) *WebSocket {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.connections[connectionKey(tenant, id)]
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	tenant := params.ByName("tenant")
	id := params.ByName("id")
	s.logger.Debug(fmt.Sprintf("connection initiated from remote %s", r.RemoteAddr))

	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}

	clientSubProto := websocket.Subprotocols(r)
	requestedProto := ""
	for _, proto := range clientSubProto {
		if len(s.upgrader.Subprotocols) == 0 {
			requestedProto = proto
			break
		}
		if utility.Contains(s.upgrader.Subprotocols, proto) {
			requestedProto = proto
			break
		}
	}
	responseHeader := http.Header{}
	if requestedProto != "" {
		responseHeader.Add("Sec-WebSocket-Protocol", requestedProto)
	}

	conn, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.logger.Error("upgrade failed", err)
		return
	}

	s.logger.Debug(fmt.Sprintf("upgraded socket for %s/%s and ready to receive data", tenant, id))
	token := r.Header.Get("X-Registration-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	ws := &WebSocket{
		conn:       conn,
		tenant:     tenant,
		id:         id,
		remoteAddr: r.RemoteAddr,
		token:      token,
	}
	s.registerConnection(ws)

	go s.messageReader(ws)
}

func (s *Server) messageReader(ws *WebSocket) {
	conn := ws.conn
	defer s.unregisterConnection(ws)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, 3001) {
				s.logger.Debug(fmt.Sprintf("id %s leaving session", ws.id))
			} else {
				s.logger.Debug(fmt.Sprintf("id %s is closing session %s", ws.id, err))
			}
			ws.closed = true
			err = conn.Close()
			if err != nil {
				s.logger.Warn(fmt.Sprintf("error while closing socket %s %s", ws.id, err))
			}
			return
		}
		s.logger.RawDataEvent("IN", string(message))
		if s.messageHandler != nil {
			err = s.messageHandler(ws, message)
			if err != nil {
				s.logger.Error(fmt.Sprintf("handling message from %s", ws.id), err)
				continue
			}
		}
	}
}

// SendResponse writes a CallResult back to a station.
func (s *Server) SendResponse(ws *WebSocket, response ocpp.Response) error {
	callResult := CreateCallResult(response, ws.UniqueId())
	data, err := callResult.MarshalJSON()
	if err != nil {
		return err
	}
	s.logger.RawDataEvent("OUT", string(data))
	return ws.write(data)
}

// SendError writes a CallError back to a station.
func (s *Server) SendError(ws *WebSocket, code, description string) error {
	callError := CreateCallError(ws.UniqueId(), code, description)
	data, err := callError.MarshalJSON()
	if err != nil {
		return err
	}
	s.logger.RawDataEvent("OUT", string(data))
	return ws.write(data)
}

// SendCall writes an outbound request to a connected station and returns the
// unique id the response will carry.
func (s *Server) SendCall(tenant, id string, call *Call) (string, error) {
	ws := s.GetConnection(tenant, id)
	if ws == nil {
		return "", utility.Err(fmt.Sprintf("charge point %s/%s is not connected", tenant, id))
	}
	data, err := call.MarshalJSON()
	if err != nil {
		return "", err
	}
	s.logger.RawDataEvent("OUT", string(data))
	return call.UniqueId, ws.write(data)
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	s.logger.Debug(fmt.Sprintf("starting websocket server on %s", s.httpServer.Addr))
	if s.conf.Listen.TLS {
		cert, err := tls.LoadX509KeyPair(s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load certificate: %v", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		return s.httpServer.ListenAndServeTLS("", "")
	}
	return s.httpServer.ListenAndServe()
}
