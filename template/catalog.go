package template

import (
	"strings"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/models"
)

// ConnectorDefaults describes one connector slot of a station template.
type ConnectorDefaults struct {
	Type           string
	Power          int
	NumberOfPhases int
	Voltage        int
	Amperage       int
}

// StationTemplate is a declarative enrichment for a vendor/model pair: it
// fixes connector electrical characteristics and the OCPP configuration keys
// recommended for that firmware.
type StationTemplate struct {
	Vendor      string
	Model       string
	CurrentType string
	Connectors  []ConnectorDefaults
	// pushed to the station after boot
	OcppStandardParameters map[string]string
	OcppVendorParameters   map[string]string
}

type Catalog struct {
	templates []StationTemplate
}

func NewCatalog() *Catalog {
	return &Catalog{templates: builtinTemplates}
}

func (c *Catalog) find(station *models.ChargingStation) *StationTemplate {
	for i := range c.templates {
		t := &c.templates[i]
		if strings.EqualFold(t.Vendor, station.Vendor) && strings.EqualFold(t.Model, station.Model) {
			return t
		}
	}
	// vendor-wide fallback: a template with an empty model matches any model
	for i := range c.templates {
		t := &c.templates[i]
		if strings.EqualFold(t.Vendor, station.Vendor) && t.Model == "" {
			return t
		}
	}
	return nil
}

// ApplyTemplate enriches a station from its template. Applying the same
// template twice yields the same station, so the call is safe on every boot.
func (c *Catalog) ApplyTemplate(station *models.ChargingStation) internal.TemplateResult {
	t := c.find(station)
	if t == nil {
		return internal.TemplateResult{}
	}
	result := internal.TemplateResult{OcppParameters: map[string]string{}}
	if t.CurrentType != "" && station.CurrentType != t.CurrentType {
		station.CurrentType = t.CurrentType
		result.Updated = true
	}
	for _, connector := range station.Connectors {
		if connector.Id < 1 || connector.Id > len(t.Connectors) {
			continue
		}
		defaults := t.Connectors[connector.Id-1]
		if connector.Type != defaults.Type || connector.Power != defaults.Power ||
			connector.NumberOfPhases != defaults.NumberOfPhases ||
			connector.Voltage != defaults.Voltage || connector.Amperage != defaults.Amperage {
			connector.Type = defaults.Type
			connector.Power = defaults.Power
			connector.NumberOfPhases = defaults.NumberOfPhases
			connector.Voltage = defaults.Voltage
			connector.Amperage = defaults.Amperage
			result.Updated = true
		}
	}
	if len(t.OcppStandardParameters) > 0 {
		result.OcppStandardUpdated = true
		for key, value := range t.OcppStandardParameters {
			result.OcppParameters[key] = value
		}
	}
	if len(t.OcppVendorParameters) > 0 {
		result.OcppVendorUpdated = true
		for key, value := range t.OcppVendorParameters {
			result.OcppParameters[key] = value
		}
	}
	return result
}

var builtinTemplates = []StationTemplate{
	{
		Vendor:      "ABB",
		Model:       "TAC-W11-G5-R-0",
		CurrentType: "AC",
		Connectors: []ConnectorDefaults{
			{Type: "T2", Power: 11000, NumberOfPhases: 3, Voltage: 230, Amperage: 16},
		},
		OcppStandardParameters: map[string]string{
			"MeterValueSampleInterval":  "60",
			"MeterValuesSampledData":    "Energy.Active.Import.Register,Power.Active.Import,Current.Import,Voltage,SoC",
			"StopTransactionOnEVSideDisconnect": "true",
		},
	},
	{
		Vendor:      "ABB",
		Model:       "",
		CurrentType: "AC",
		Connectors: []ConnectorDefaults{
			{Type: "T2", Power: 22000, NumberOfPhases: 3, Voltage: 230, Amperage: 32},
			{Type: "T2", Power: 22000, NumberOfPhases: 3, Voltage: 230, Amperage: 32},
		},
		OcppStandardParameters: map[string]string{
			"MeterValueSampleInterval": "60",
		},
	},
	{
		Vendor:      "Schneider Electric",
		Model:       "MONOBLOCK",
		CurrentType: "AC",
		Connectors: []ConnectorDefaults{
			{Type: "T2", Power: 22000, NumberOfPhases: 3, Voltage: 230, Amperage: 32},
			{Type: "T2", Power: 22000, NumberOfPhases: 3, Voltage: 230, Amperage: 32},
		},
		OcppStandardParameters: map[string]string{
			"MeterValueSampleInterval": "30",
		},
	},
	{
		Vendor:      "EVBox",
		Model:       "",
		CurrentType: "AC",
		Connectors: []ConnectorDefaults{
			{Type: "T2", Power: 7400, NumberOfPhases: 1, Voltage: 230, Amperage: 32},
			{Type: "T2", Power: 7400, NumberOfPhases: 1, Voltage: 230, Amperage: 32},
		},
	},
	{
		Vendor:      "Tritium",
		Model:       "RT50",
		CurrentType: "DC",
		Connectors: []ConnectorDefaults{
			{Type: "CCS", Power: 50000, NumberOfPhases: 0, Voltage: 500, Amperage: 125},
			{Type: "CHAdeMO", Power: 50000, NumberOfPhases: 0, Voltage: 500, Amperage: 125},
		},
	},
}
