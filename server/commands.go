package server

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/ocpp/remotetrigger"
	"github.com/roiko/ev-server/utility"
)

// Operator commands arriving over the API. Each returns the outbound request
// the central system then pushes to the station.

func (h *SystemHandler) OnRemoteStartTransaction(tenant, chargePointId string, connectorId int, payload string) (ocpp.Request, error) {
	if payload == "" {
		return nil, utility.Err("remote start requires an id tag")
	}
	request := core.NewRemoteStartTransactionRequest(connectorId, payload)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("connector %d, id tag %s", connectorId, payload))
	return request, nil
}

// OnRemoteStopTransaction marks the transaction as centrally stopped before
// asking the station; the stop frame that follows is attributed to the
// original session tag.
func (h *SystemHandler) OnRemoteStopTransaction(tenant, chargePointId string, payload string) (ocpp.Request, error) {
	transactionId, err := strconv.Atoi(payload)
	if err != nil {
		return nil, utility.Err(fmt.Sprintf("invalid transaction id: %s", payload))
	}
	transaction, err := h.database.GetTransaction(tenant, transactionId)
	if err != nil {
		return nil, err
	}
	if transaction == nil {
		return nil, utility.Err(fmt.Sprintf("transaction #%v not found", transactionId))
	}
	if transaction.Stop != nil {
		return nil, utility.Err(fmt.Sprintf("transaction #%v is already stopped", transactionId))
	}
	transaction.RemoteStop = &models.RemoteStop{
		TagId:     transaction.TagId,
		Timestamp: h.now(),
	}
	if err = h.database.UpdateTransaction(transaction); err != nil {
		return nil, err
	}
	request := core.NewRemoteStopTransactionRequest(transactionId)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("transaction %d", transactionId))
	return request, nil
}

func (h *SystemHandler) OnChangeConfiguration(tenant, chargePointId string, payload string) (ocpp.Request, error) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return nil, utility.Err(fmt.Sprintf("invalid payload: %s", err))
	}
	if body.Key == "" {
		return nil, utility.Err("configuration key is empty")
	}
	request := core.NewChangeConfigurationRequest(body.Key, body.Value)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("%s=%s", body.Key, body.Value))
	return request, nil
}

func (h *SystemHandler) OnGetConfiguration(tenant, chargePointId string, payload string) (ocpp.Request, error) {
	var keys []string
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &keys); err != nil {
			return nil, utility.Err(fmt.Sprintf("invalid payload: %s", err))
		}
	}
	request := core.NewGetConfigurationRequest(keys)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("%d keys", len(keys)))
	return request, nil
}

func (h *SystemHandler) OnReset(tenant, chargePointId string, payload string) (ocpp.Request, error) {
	resetType := core.ResetType(payload)
	if resetType != core.ResetTypeHard && resetType != core.ResetTypeSoft {
		return nil, utility.Err(fmt.Sprintf("invalid reset type: %s", payload))
	}
	request := core.NewResetRequest(resetType)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, payload)
	return request, nil
}

func (h *SystemHandler) OnTriggerMessage(tenant, chargePointId string, connectorId int, payload string) (ocpp.Request, error) {
	request := remotetrigger.NewTriggerMessageRequest(remotetrigger.MessageTrigger(payload), connectorId)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("message: %v", payload))
	return request, nil
}
