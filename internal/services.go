package internal

import (
	"time"

	"github.com/roiko/ev-server/models"
)

// Transaction lifecycle actions shared by pricing, billing and roaming.
const (
	ActionStart  = "Start"
	ActionUpdate = "Update"
	ActionStop   = "Stop"
	ActionEnd    = "End"
)

// PricingService is called inline on the hot path; it may mutate the
// consumption's pricing snapshot and the transaction totals.
type PricingService interface {
	Price(action string, transaction *models.Transaction, consumption *models.Consumption) error
}

// BillingService failures are soft: logged by the caller, never fatal to
// message handling.
type BillingService interface {
	Bill(action string, transaction *models.Transaction) error
}

type RoamingAuthorization struct {
	AuthorizationId string
	Allowed         bool
	Blocked         bool
	Expired         bool
	Info            string
}

type RoamingService interface {
	Protocol() string
	ProcessSession(action string, transaction *models.Transaction, station *models.ChargingStation) error
	// PushCdr publishes the charge detail record of a finished session. The
	// caller serializes it behind a per-(protocol, transaction) lock.
	PushCdr(transaction *models.Transaction, station *models.ChargingStation) error
	PushConnectorStatus(station *models.ChargingStation, connector *models.Connector) error
	Authorize(idTag string) *RoamingAuthorization
}

type SmartChargingService interface {
	ComputeAndApply(tenant, siteAreaId string) error
	ClearTxProfile(transaction *models.Transaction) error
}

type TemplateResult struct {
	Updated             bool
	OcppStandardUpdated bool
	OcppVendorUpdated   bool
	// configuration keys to push to the station after boot
	OcppParameters map[string]string
}

type TemplateCatalog interface {
	ApplyTemplate(station *models.ChargingStation) TemplateResult
}

// InactivityClassifier grades a total inactivity for a connector; thresholds
// come from site area configuration, not from the core.
type InactivityClassifier interface {
	Classify(station *models.ChargingStation, connectorId int, totalInactivitySecs int) string
}

// LockHandle names an acquired lock; the token proves ownership on release.
type LockHandle struct {
	Name    string
	Token   string
	Expires time.Time
}

// LockService provides named per-aggregate exclusivity. Acquire returns a nil
// handle, without error, when the lock is held elsewhere.
type LockService interface {
	Acquire(name string, ttl time.Duration) (*LockHandle, error)
	Release(handle *LockHandle) error
}
