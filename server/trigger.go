package server

import (
	"fmt"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/ocpp/remotetrigger"
	"github.com/roiko/ev-server/utility"
)

const featureNameTrigger = "Trigger"

type watchedConnector struct {
	tenant        string
	chargeBoxId   string
	connectorId   int
	transactionId int
}

// Trigger periodically asks stations with an open transaction for fresh meter
// values, so consumption stays current for firmware with long sample
// intervals.
type Trigger struct {
	connectors map[int]watchedConnector
	Register   chan watchedConnector
	Unregister chan int
	server     *Server
	logger     internal.LogHandler
}

func NewTrigger(server *Server, logger internal.LogHandler) *Trigger {
	return &Trigger{
		connectors: make(map[int]watchedConnector),
		Register:   make(chan watchedConnector),
		Unregister: make(chan int),
		server:     server,
		logger:     logger,
	}
}

func (t *Trigger) Start() {
	go t.listen()
	go t.triggerMeterValues()
}

// Watch starts polling a connector for the lifetime of its transaction.
func (t *Trigger) Watch(tenant, chargeBoxId string, connectorId, transactionId int) {
	t.Register <- watchedConnector{
		tenant:        tenant,
		chargeBoxId:   chargeBoxId,
		connectorId:   connectorId,
		transactionId: transactionId,
	}
}

func (t *Trigger) triggerMeterValues() {
	waitStep := 20
	ticker := time.NewTicker(time.Duration(waitStep) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		for _, connector := range t.connectors {
			request := remotetrigger.NewTriggerMessageRequest(remotetrigger.MessageTriggerMeterValues, connector.connectorId)
			call := &Call{
				TypeId:   CallTypeRequest,
				UniqueId: utility.NewUUID(),
				Action:   request.GetFeatureName(),
				Payload:  request,
			}
			if _, err := t.server.SendCall(connector.tenant, connector.chargeBoxId, call); err != nil {
				t.logger.FeatureEvent(featureNameTrigger, connector.chargeBoxId, fmt.Sprintf("error sending request: %v", err))
			}
		}
	}
}

func (t *Trigger) listen() {
	for {
		select {
		case connector := <-t.Register:
			if _, ok := t.connectors[connector.transactionId]; ok {
				continue
			}
			t.logger.FeatureEvent(featureNameTrigger, connector.chargeBoxId, fmt.Sprintf("start watching on connector: %v transaction: %v", connector.connectorId, connector.transactionId))
			t.connectors[connector.transactionId] = connector
		case transactionId := <-t.Unregister:
			if _, ok := t.connectors[transactionId]; ok {
				t.logger.FeatureEvent(featureNameTrigger, "", fmt.Sprintf("stop watching on transaction: %v", transactionId))
				delete(t.connectors, transactionId)
			}
		}
	}
}
