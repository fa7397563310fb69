package ocpi

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
	sessionEndpoint   = "/sessions"
	cdrEndpoint       = "/cdrs"
	statusEndpoint    = "/locations/status"
	authorizeEndpoint = "/authorize"
)

// OCPI is the bridge to the OCPI roaming network. Session updates and status
// pushes are best-effort; the CDR push is synchronous because the caller
// holds the dedup lock while it runs.
type OCPI struct {
	client *client.Client
	logger internal.LogHandler
}

func New(url, token string, timeout time.Duration) *OCPI {
	return &OCPI{client: client.New(url, token, timeout)}
}

func (o *OCPI) SetLogger(logger internal.LogHandler) {
	o.logger = logger
}

func (o *OCPI) Protocol() string {
	return models.RoamingProtocolOcpi
}

type sessionPayload struct {
	SessionId     string    `json:"session_id"`
	TransactionId int       `json:"transaction_id"`
	ChargeBoxId   string    `json:"charge_box_id"`
	ConnectorId   int       `json:"connector_id"`
	Action        string    `json:"action"`
	Energy        float64   `json:"kwh"`
	StartedAt     time.Time `json:"start_date_time"`
	LastUpdated   time.Time `json:"last_updated"`
}

func (o *OCPI) ProcessSession(action string, transaction *models.Transaction, station *models.ChargingStation) error {
	data := transaction.OcpiData
	if data == nil {
		return nil
	}
	payload := &sessionPayload{
		SessionId:     data.SessionId,
		TransactionId: transaction.Id,
		ChargeBoxId:   transaction.ChargeBoxId,
		ConnectorId:   transaction.ConnectorId,
		Action:        action,
		Energy:        transaction.CurrentTotalConsumptionWh / 1000,
		StartedAt:     transaction.Timestamp,
		LastUpdated:   time.Now(),
	}
	o.client.PostAsync(sessionEndpoint, payload, func(resp []byte, err error) {
		if err != nil && o.logger != nil {
			o.logger.Error(fmt.Sprintf("ocpi: session %s for transaction %d", action, transaction.Id), err)
		}
	})
	return nil
}

type cdrPayload struct {
	SessionId          string    `json:"session_id"`
	TransactionId      int       `json:"transaction_id"`
	ChargeBoxId        string    `json:"charge_box_id"`
	ConnectorId        int       `json:"connector_id"`
	TotalEnergy        float64   `json:"total_energy_kwh"`
	TotalTime          int       `json:"total_time_secs"`
	TotalParkingTime   int       `json:"total_parking_time_secs"`
	TotalCost          float64   `json:"total_cost"`
	Currency           string    `json:"currency"`
	StartedAt          time.Time `json:"start_date_time"`
	StoppedAt          time.Time `json:"stop_date_time"`
}

func (o *OCPI) PushCdr(transaction *models.Transaction, station *models.ChargingStation) error {
	if transaction.Stop == nil {
		return utility.Err("ocpi: cdr requires a stopped transaction")
	}
	payload := &cdrPayload{
		TransactionId:    transaction.Id,
		ChargeBoxId:      transaction.ChargeBoxId,
		ConnectorId:      transaction.ConnectorId,
		TotalEnergy:      transaction.Stop.TotalConsumptionWh / 1000,
		TotalTime:        transaction.Stop.TotalDurationSecs,
		TotalParkingTime: transaction.Stop.TotalInactivitySecs + transaction.Stop.ExtraInactivitySecs,
		TotalCost:        transaction.Stop.RoundedPrice,
		Currency:         transaction.Stop.PriceUnit,
		StartedAt:        transaction.Timestamp,
		StoppedAt:        transaction.Stop.Timestamp,
	}
	if transaction.OcpiData != nil {
		payload.SessionId = transaction.OcpiData.SessionId
	}
	_, err := o.client.Post(cdrEndpoint, payload)
	return err
}

type statusPayload struct {
	ChargeBoxId string `json:"charge_box_id"`
	ConnectorId int    `json:"connector_id"`
	Status      string `json:"status"`
}

func (o *OCPI) PushConnectorStatus(station *models.ChargingStation, connector *models.Connector) error {
	payload := &statusPayload{
		ChargeBoxId: station.Id,
		ConnectorId: connector.Id,
		Status:      connector.Status,
	}
	o.client.PostAsync(statusEndpoint, payload, func(resp []byte, err error) {
		if err != nil && o.logger != nil {
			o.logger.Error(fmt.Sprintf("ocpi: status push for %s@%d", station.Id, connector.Id), err)
		}
	})
	return nil
}

type authorizeRequest struct {
	IdTag string `json:"id_tag"`
}

type authorizeResponse struct {
	Allowed         bool   `json:"allowed"`
	Blocked         bool   `json:"blocked"`
	Expired         bool   `json:"expired"`
	AuthorizationId string `json:"authorization_id"`
	Info            string `json:"info"`
}

func (o *OCPI) Authorize(idTag string) *internal.RoamingAuthorization {
	body, err := o.client.Post(authorizeEndpoint, &authorizeRequest{IdTag: idTag})
	if err != nil {
		if o.logger != nil {
			o.logger.Error("ocpi: authorize", err)
		}
		return nil
	}
	var response authorizeResponse
	if err = json.Unmarshal(body, &response); err != nil {
		return nil
	}
	return &internal.RoamingAuthorization{
		AuthorizationId: response.AuthorizationId,
		Allowed:         response.Allowed,
		Blocked:         response.Blocked,
		Expired:         response.Expired,
		Info:            response.Info,
	}
}
