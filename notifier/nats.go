package notifier

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/roiko/ev-server/internal"
)

const (
	subjectStationRegistered = "station.registered"
	subjectSessionStart      = "session.started"
	subjectEndOfCharge       = "session.end_of_charge"
	subjectOptimalCharge     = "session.optimal_charge"
	subjectSessionEnd        = "session.ended"
	subjectSignedSessionEnd  = "session.ended_signed"
	subjectStatusError       = "station.status_error"
	subjectAuthorize         = "station.authorize"
)

// NatsNotifier publishes session events to NATS subjects, fire-and-forget: a
// failed publish is logged and dropped, never surfaced to the caller.
type NatsNotifier struct {
	connection *nats.Conn
	logger     internal.LogHandler
}

func New(url string, logger internal.LogHandler) (*NatsNotifier, error) {
	connection, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NatsNotifier{connection: connection, logger: logger}, nil
}

func (n *NatsNotifier) publish(subject string, event *internal.EventMessage) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("notifier: marshal event", err)
		return
	}
	if err = n.connection.Publish(subject, data); err != nil {
		n.logger.Error("notifier: publish "+subject, err)
	}
}

func (n *NatsNotifier) OnStationRegistered(event *internal.EventMessage) {
	n.publish(subjectStationRegistered, event)
}

func (n *NatsNotifier) OnSessionStart(event *internal.EventMessage) {
	n.publish(subjectSessionStart, event)
}

func (n *NatsNotifier) OnEndOfCharge(event *internal.EventMessage) {
	n.publish(subjectEndOfCharge, event)
}

func (n *NatsNotifier) OnOptimalChargeReached(event *internal.EventMessage) {
	n.publish(subjectOptimalCharge, event)
}

func (n *NatsNotifier) OnSessionEnd(event *internal.EventMessage) {
	n.publish(subjectSessionEnd, event)
}

func (n *NatsNotifier) OnSignedSessionEnd(event *internal.EventMessage) {
	n.publish(subjectSignedSessionEnd, event)
}

func (n *NatsNotifier) OnStatusError(event *internal.EventMessage) {
	n.publish(subjectStatusError, event)
}

func (n *NatsNotifier) OnAuthorize(event *internal.EventMessage) {
	n.publish(subjectAuthorize, event)
}
