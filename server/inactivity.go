package server

import (
	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/models"
)

// fallback thresholds when the site area does not configure its own
const (
	defaultInactivityWarningSecs = 1800
	defaultInactivityErrorSecs   = 3600
)

// inactivityClassifier grades a session's total inactivity against the
// thresholds configured on the station's site area.
type inactivityClassifier struct {
	database internal.Database
}

func NewInactivityClassifier(database internal.Database) internal.InactivityClassifier {
	return &inactivityClassifier{database: database}
}

func (c *inactivityClassifier) Classify(station *models.ChargingStation, connectorId int, totalInactivitySecs int) string {
	warning := defaultInactivityWarningSecs
	fault := defaultInactivityErrorSecs
	if station != nil && station.SiteAreaId != "" {
		siteArea, err := c.database.GetSiteArea(station.Tenant, station.SiteAreaId)
		if err == nil && siteArea != nil {
			if siteArea.InactivityWarningSecs > 0 {
				warning = siteArea.InactivityWarningSecs
			}
			if siteArea.InactivityErrorSecs > 0 {
				fault = siteArea.InactivityErrorSecs
			}
		}
	}
	switch {
	case totalInactivitySecs >= fault:
		return models.InactivityStatusError
	case totalInactivitySecs >= warning:
		return models.InactivityStatusWarning
	default:
		return models.InactivityStatusInfo
	}
}
