package models

import (
	"sort"
	"time"
)

type ChargingStation struct {
	Id                 string    `json:"charge_box_id" bson:"charge_box_id"`
	Tenant             string    `json:"tenant_id" bson:"tenant_id"`
	Vendor             string    `json:"vendor" bson:"vendor"`
	Model              string    `json:"model" bson:"model"`
	SerialNumber       string    `json:"serial_number" bson:"serial_number"`
	FirmwareVersion    string    `json:"firmware_version" bson:"firmware_version"`
	OcppVersion        string    `json:"ocpp_version" bson:"ocpp_version"`
	OcppTransport      string    `json:"ocpp_transport" bson:"ocpp_transport"`
	RegistrationStatus string    `json:"registration_status" bson:"registration_status"`
	LastReboot         time.Time `json:"last_reboot" bson:"last_reboot"`
	LastSeen           time.Time `json:"last_seen" bson:"last_seen"`
	CurrentIP          string    `json:"current_ip" bson:"current_ip"`
	Endpoint           string    `json:"endpoint" bson:"endpoint"`
	SiteAreaId         string    `json:"site_area_id" bson:"site_area_id"`
	SiteId             string    `json:"site_id" bson:"site_id"`
	Latitude           float64   `json:"latitude" bson:"latitude"`
	Longitude          float64   `json:"longitude" bson:"longitude"`
	CurrentType        string    `json:"current_type" bson:"current_type"` // AC or DC
	Issuer             bool      `json:"issuer" bson:"issuer"`
	Public             bool      `json:"public" bson:"public"`
	Deleted            bool      `json:"deleted" bson:"deleted"`

	Connectors []*Connector `json:"connectors" bson:"connectors"`
}

// GetConnector returns the connector with the given id, nil when unknown.
func (s *ChargingStation) GetConnector(id int) *Connector {
	for _, c := range s.Connectors {
		if c.Id == id {
			return c
		}
	}
	return nil
}

// SortConnectors keeps the connector list ordered by connector id so that
// connectors[k] holds connector k+1 once all ids are reported.
func (s *ChargingStation) SortConnectors() {
	sort.Slice(s.Connectors, func(i, j int) bool {
		return s.Connectors[i].Id < s.Connectors[j].Id
	})
}

func (s *ChargingStation) IsDC() bool {
	return s.CurrentType == "DC"
}
