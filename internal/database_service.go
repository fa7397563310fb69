package internal

import (
	"time"

	"github.com/roiko/ev-server/models"
)

type Database interface {
	WriteLogMessage(data Data) error

	GetTenant(id string) (*models.Tenant, error)

	GetChargingStation(tenant, id string) (*models.ChargingStation, error)
	GetChargingStationsBySiteArea(tenant, siteAreaId string) ([]*models.ChargingStation, error)
	SaveChargingStation(station *models.ChargingStation) error
	// SaveLastSeen is the hot compact write used by heartbeats and meter values.
	SaveLastSeen(tenant, id string, lastSeen time.Time) error
	WriteBootRecord(record *models.BootRecord) error
	GetRegistrationToken(tenant, token string) (*models.RegistrationToken, error)

	GetUserTag(tenant, idTag string) (*models.UserTag, error)
	SaveUserTag(tag *models.UserTag) error
	GetUser(tenant, id string) (*models.User, error)
	SaveUser(user *models.User) error
	GetSiteArea(tenant, id string) (*models.SiteArea, error)

	NextTransactionId(tenant string) (int, error)
	AddTransaction(transaction *models.Transaction) error
	UpdateTransaction(transaction *models.Transaction) error
	DeleteTransaction(tenant string, id int) error
	GetTransaction(tenant string, id int) (*models.Transaction, error)
	GetActiveTransaction(tenant, chargeBoxId string, connectorId int) (*models.Transaction, error)
	GetLastTransaction(tenant, chargeBoxId string, connectorId int) (*models.Transaction, error)

	AddMeterValues(values []models.MeterValue) error
	AddConsumption(consumption *models.Consumption) error
	GetConsumptions(tenant string, transactionId int) ([]*models.Consumption, error)

	GetSubscriptions() ([]models.UserSubscription, error)
	AddSubscription(subscription *models.UserSubscription) error
	DeleteSubscription(subscription *models.UserSubscription) error
}

type Data interface {
	DataType() string
}
