package models

import "time"

// MeterValue is one normalized sample: the protocol carriers flatten their
// nested sampledValue shapes into rows of this form, one per measurand.
type MeterValue struct {
	Tenant        string    `json:"tenant_id" bson:"tenant_id"`
	ChargeBoxId   string    `json:"charge_box_id" bson:"charge_box_id"`
	ConnectorId   int       `json:"connector_id" bson:"connector_id"`
	TransactionId int       `json:"transaction_id" bson:"transaction_id"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	Value         float64   `json:"value" bson:"value"`
	RawValue      string    `json:"raw_value" bson:"raw_value"`
	Context       string    `json:"context" bson:"context"`
	Format        string    `json:"format" bson:"format"`
	Measurand     string    `json:"measurand" bson:"measurand"`
	Location      string    `json:"location" bson:"location"`
	Unit          string    `json:"unit" bson:"unit"`
	Phase         string    `json:"phase" bson:"phase"`
	Ignored       bool      `json:"ignored,omitempty" bson:"ignored,omitempty"`
}
