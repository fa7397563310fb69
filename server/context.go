package server

// CallContext carries the header of an inbound OCPP call: who is talking,
// from where, over which protocol. It is built by the transport and passed
// explicitly through every handler.
type CallContext struct {
	Tenant        string
	ChargeBoxId   string
	RemoteAddr    string
	OcppVersion   string
	OcppTransport string
	// registration token presented on first boot
	Token string
	// SOAP From.Address, seeds the station endpoint
	Endpoint string
}
