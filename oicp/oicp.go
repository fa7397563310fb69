package oicp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpi/client"
	"github.com/roiko/ev-server/utility"
)

const (
	sessionEndpoint   = "/evse/charging/session"
	cdrEndpoint       = "/evse/charging/cdr"
	statusEndpoint    = "/evse/status"
	authorizeEndpoint = "/evse/authorize/start"
)

// OICP is the bridge to the second roaming network. It shares the HTTP client
// with the OCPI bridge; only endpoints and payload naming differ.
type OICP struct {
	client *client.Client
	logger internal.LogHandler
}

func New(url, token string, timeout time.Duration) *OICP {
	return &OICP{client: client.New(url, token, timeout)}
}

func (o *OICP) SetLogger(logger internal.LogHandler) {
	o.logger = logger
}

func (o *OICP) Protocol() string {
	return models.RoamingProtocolOicp
}

type chargingNotification struct {
	SessionId     string    `json:"SessionID"`
	TransactionId int       `json:"TransactionID"`
	EvseId        string    `json:"EvseID"`
	Action        string    `json:"Type"`
	MeterValueWh  float64   `json:"MeterValueInWh"`
	EventDate     time.Time `json:"EventOccurred"`
}

func evseId(chargeBoxId string, connectorId int) string {
	return fmt.Sprintf("%s*%d", chargeBoxId, connectorId)
}

func (o *OICP) ProcessSession(action string, transaction *models.Transaction, station *models.ChargingStation) error {
	data := transaction.OicpData
	if data == nil {
		return nil
	}
	payload := &chargingNotification{
		SessionId:     data.SessionId,
		TransactionId: transaction.Id,
		EvseId:        evseId(transaction.ChargeBoxId, transaction.ConnectorId),
		Action:        action,
		MeterValueWh:  transaction.CurrentTotalConsumptionWh,
		EventDate:     time.Now(),
	}
	o.client.PostAsync(sessionEndpoint, payload, func(resp []byte, err error) {
		if err != nil && o.logger != nil {
			o.logger.Error(fmt.Sprintf("oicp: session %s for transaction %d", action, transaction.Id), err)
		}
	})
	return nil
}

type chargeDetailRecord struct {
	SessionId        string    `json:"SessionID"`
	EvseId           string    `json:"EvseID"`
	ConsumedEnergyWh float64   `json:"ConsumedEnergy"`
	SessionStart     time.Time `json:"SessionStart"`
	SessionEnd       time.Time `json:"SessionEnd"`
}

func (o *OICP) PushCdr(transaction *models.Transaction, station *models.ChargingStation) error {
	if transaction.Stop == nil {
		return utility.Err("oicp: cdr requires a stopped transaction")
	}
	payload := &chargeDetailRecord{
		EvseId:           evseId(transaction.ChargeBoxId, transaction.ConnectorId),
		ConsumedEnergyWh: transaction.Stop.TotalConsumptionWh,
		SessionStart:     transaction.Timestamp,
		SessionEnd:       transaction.Stop.Timestamp,
	}
	if transaction.OicpData != nil {
		payload.SessionId = transaction.OicpData.SessionId
	}
	_, err := o.client.Post(cdrEndpoint, payload)
	return err
}

type evseStatusRecord struct {
	EvseId string `json:"EvseID"`
	Status string `json:"EvseStatus"`
}

func (o *OICP) PushConnectorStatus(station *models.ChargingStation, connector *models.Connector) error {
	payload := &evseStatusRecord{
		EvseId: evseId(station.Id, connector.Id),
		Status: connector.Status,
	}
	o.client.PostAsync(statusEndpoint, payload, func(resp []byte, err error) {
		if err != nil && o.logger != nil {
			o.logger.Error(fmt.Sprintf("oicp: status push for %s@%d", station.Id, connector.Id), err)
		}
	})
	return nil
}

type authorizationStart struct {
	Identification struct {
		RfidId string `json:"RFIDId"`
	} `json:"Identification"`
}

type authorizationStartResponse struct {
	AuthorizationStatus string `json:"AuthorizationStatus"`
	SessionId           string `json:"SessionID"`
	StatusCodeInfo      string `json:"StatusCodeInfo"`
}

func (o *OICP) Authorize(idTag string) *internal.RoamingAuthorization {
	request := &authorizationStart{}
	request.Identification.RfidId = idTag
	body, err := o.client.Post(authorizeEndpoint, request)
	if err != nil {
		if o.logger != nil {
			o.logger.Error("oicp: authorize", err)
		}
		return nil
	}
	var response authorizationStartResponse
	if err = json.Unmarshal(body, &response); err != nil {
		return nil
	}
	return &internal.RoamingAuthorization{
		AuthorizationId: response.SessionId,
		Allowed:         response.AuthorizationStatus == "Authorized",
		Info:            response.StatusCodeInfo,
	}
}
