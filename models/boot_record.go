package models

import "time"

// BootRecord is the raw boot notification as received, kept for diagnostics.
type BootRecord struct {
	Tenant          string    `json:"tenant_id" bson:"tenant_id"`
	ChargeBoxId     string    `json:"charge_box_id" bson:"charge_box_id"`
	Vendor          string    `json:"vendor" bson:"vendor"`
	Model           string    `json:"model" bson:"model"`
	SerialNumber    string    `json:"serial_number" bson:"serial_number"`
	FirmwareVersion string    `json:"firmware_version" bson:"firmware_version"`
	OcppVersion     string    `json:"ocpp_version" bson:"ocpp_version"`
	OcppTransport   string    `json:"ocpp_transport" bson:"ocpp_transport"`
	CurrentIP       string    `json:"current_ip" bson:"current_ip"`
	Status          string    `json:"status" bson:"status"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
}
