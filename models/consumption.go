package models

import "time"

// Consumption is one derived interval between two adjacent energy register
// readings; totals roll up into the owning transaction.
type Consumption struct {
	Tenant                string    `json:"tenant_id" bson:"tenant_id"`
	TransactionId         int       `json:"transaction_id" bson:"transaction_id"`
	ChargeBoxId           string    `json:"charge_box_id" bson:"charge_box_id"`
	ConnectorId           int       `json:"connector_id" bson:"connector_id"`
	SiteAreaId            string    `json:"site_area_id" bson:"site_area_id"`
	SiteId                string    `json:"site_id" bson:"site_id"`
	StartedAt             time.Time `json:"started_at" bson:"started_at"`
	EndedAt               time.Time `json:"ended_at" bson:"ended_at"`
	ConsumptionWh         float64   `json:"consumption_wh" bson:"consumption_wh"`
	InstantWatts          float64   `json:"instant_watts" bson:"instant_watts"`
	InstantWattsL1        float64   `json:"instant_watts_l1" bson:"instant_watts_l1"`
	InstantWattsL2        float64   `json:"instant_watts_l2" bson:"instant_watts_l2"`
	InstantWattsL3        float64   `json:"instant_watts_l3" bson:"instant_watts_l3"`
	InstantWattsDC        float64   `json:"instant_watts_dc" bson:"instant_watts_dc"`
	InstantVolts          float64   `json:"instant_volts" bson:"instant_volts"`
	InstantAmps           float64   `json:"instant_amps" bson:"instant_amps"`
	CumulatedConsumptionWh float64  `json:"cumulated_consumption_wh" bson:"cumulated_consumption_wh"`
	TotalInactivitySecs   int       `json:"total_inactivity_secs" bson:"total_inactivity_secs"`
	TotalDurationSecs     int       `json:"total_duration_secs" bson:"total_duration_secs"`
	StateOfCharge         int       `json:"state_of_charge" bson:"state_of_charge"`
	LimitSource           string    `json:"limit_source,omitempty" bson:"limit_source,omitempty"`
	LimitAmps             int       `json:"limit_amps,omitempty" bson:"limit_amps,omitempty"`
	PricingSource         string    `json:"pricing_source,omitempty" bson:"pricing_source,omitempty"`
	Amount                float64   `json:"amount,omitempty" bson:"amount,omitempty"`
	RoundedAmount         float64   `json:"rounded_amount,omitempty" bson:"rounded_amount,omitempty"`
	CumulatedAmount       float64   `json:"cumulated_amount,omitempty" bson:"cumulated_amount,omitempty"`
	CurrencyCode          string    `json:"currency_code,omitempty" bson:"currency_code,omitempty"`
}
