package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roiko/ev-server/models"
)

func testStation() *models.ChargingStation {
	return &models.ChargingStation{
		Id:     "CB-01",
		Tenant: "t1",
		Vendor: "ABB",
		Model:  "TAC-W11-G5-R-0",
		Connectors: []*models.Connector{
			{Id: 1, Status: models.ConnectorStatusAvailable},
		},
	}
}

func TestApplyTemplateEnrichesConnectors(t *testing.T) {
	catalog := NewCatalog()
	station := testStation()

	result := catalog.ApplyTemplate(station)
	require.True(t, result.Updated)
	assert.Equal(t, "AC", station.CurrentType)

	connector := station.Connectors[0]
	assert.Equal(t, "T2", connector.Type)
	assert.Equal(t, 11000, connector.Power)
	assert.Equal(t, 3, connector.NumberOfPhases)
	assert.True(t, result.OcppStandardUpdated)
	assert.NotEmpty(t, result.OcppParameters["MeterValueSampleInterval"])
}

func TestApplyTemplateIsIdempotent(t *testing.T) {
	catalog := NewCatalog()
	station := testStation()

	catalog.ApplyTemplate(station)
	snapshot := *station.Connectors[0]

	result := catalog.ApplyTemplate(station)
	assert.False(t, result.Updated)
	assert.Equal(t, snapshot, *station.Connectors[0])
}

func TestApplyTemplateVendorFallback(t *testing.T) {
	catalog := NewCatalog()
	station := testStation()
	station.Model = "TERRA-UNKNOWN"

	result := catalog.ApplyTemplate(station)
	require.True(t, result.Updated)
	assert.Equal(t, 22000, station.Connectors[0].Power)
}

func TestApplyTemplateUnknownVendor(t *testing.T) {
	catalog := NewCatalog()
	station := testStation()
	station.Vendor = "NoSuchVendor"

	result := catalog.ApplyTemplate(station)
	assert.False(t, result.Updated)
	assert.Empty(t, station.Connectors[0].Type)
}
