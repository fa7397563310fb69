package power

import (
	"fmt"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/smartcharging"
)

const featureName = "SmartCharging"

// lock hold while a site area recompute runs
const recomputeLockTTL = 30 * time.Second

// RequestHandler sends an outbound OCPP request to a connected station.
type RequestHandler interface {
	SendRequest(tenant, chargePointId string, request ocpp.Request) (string, error)
}

// SmartCharger shares a site area's power budget across its charging
// connectors and pushes the resulting TX-level profiles. Recomputation is
// exclusive per site area: contenders that miss the lock skip silently and
// rely on the next trigger.
type SmartCharger struct {
	database internal.Database
	locks    internal.LockService
	server   RequestHandler
	log      internal.LogHandler
}

func NewSmartCharger(database internal.Database, locks internal.LockService, server RequestHandler, log internal.LogHandler) *SmartCharger {
	return &SmartCharger{
		database: database,
		locks:    locks,
		server:   server,
		log:      log,
	}
}

func (sc *SmartCharger) ComputeAndApply(tenant, siteAreaId string) error {
	if siteAreaId == "" {
		return nil
	}
	lockName := fmt.Sprintf("%s:smart-charging:%s", tenant, siteAreaId)
	handle, err := sc.locks.Acquire(lockName, recomputeLockTTL)
	if err != nil {
		return err
	}
	if handle == nil {
		sc.log.FeatureEvent(featureName, "", fmt.Sprintf("site area %s is being recomputed elsewhere", siteAreaId))
		return nil
	}
	defer func() {
		if err := sc.locks.Release(handle); err != nil {
			sc.log.Error("release smart charging lock", err)
		}
	}()

	siteArea, err := sc.database.GetSiteArea(tenant, siteAreaId)
	if err != nil {
		return err
	}
	if siteArea == nil || !siteArea.SmartCharging || siteArea.MaximumPowerW <= 0 {
		return nil
	}

	stations, err := sc.database.GetChargingStationsBySiteArea(tenant, siteAreaId)
	if err != nil {
		return err
	}

	type activeConnector struct {
		station   *models.ChargingStation
		connector *models.Connector
	}
	var active []activeConnector
	for _, station := range stations {
		for _, connector := range station.Connectors {
			if connector.CurrentTransactionId > 0 &&
				(connector.Status == models.ConnectorStatusCharging || connector.Status == models.ConnectorStatusSuspendedEV) {
				active = append(active, activeConnector{station: station, connector: connector})
			}
		}
	}
	if len(active) == 0 {
		return nil
	}

	budgetPerConnector := siteArea.MaximumPowerW / float64(len(active))
	updated := map[*models.ChargingStation]bool{}
	applied := 0
	for _, entry := range active {
		voltage := entry.connector.Voltage
		if voltage == 0 {
			voltage = 230
		}
		phases := entry.connector.NumberOfPhases
		if phases == 0 {
			phases = 1
		}
		limitAmps := budgetPerConnector / float64(voltage) / float64(phases)
		profile := smartcharging.NewTxProfile(entry.connector.CurrentTransactionId, limitAmps, phases)
		request := smartcharging.NewSetChargingProfileRequest(entry.connector.Id, profile)
		if _, err := sc.server.SendRequest(tenant, entry.station.Id, request); err != nil {
			sc.log.FeatureEvent(featureName, entry.station.Id, fmt.Sprintf("error sending profile: %s", err))
			continue
		}
		// the consumption builder and the end-of-charge policy read the
		// applied limit from the connector
		entry.connector.LimitSource = models.LimitSourceChargingProfile
		entry.connector.LimitAmps = int(limitAmps)
		updated[entry.station] = true
		applied++
	}
	for station := range updated {
		if err := sc.database.SaveChargingStation(station); err != nil {
			sc.log.Error("save charging station", err)
		}
	}
	sc.log.FeatureEvent(featureName, "", fmt.Sprintf("applied %d profiles on site area %s", applied, siteAreaId))
	return nil
}

// ClearTxProfile removes the TX-level profile of a finished transaction and
// drops the limit metadata it left on the connector.
func (sc *SmartCharger) ClearTxProfile(transaction *models.Transaction) error {
	request := smartcharging.NewClearTxProfileRequest(transaction.Id)
	_, err := sc.server.SendRequest(transaction.Tenant, transaction.ChargeBoxId, request)

	station, dbErr := sc.database.GetChargingStation(transaction.Tenant, transaction.ChargeBoxId)
	if dbErr != nil {
		sc.log.Error("load charging station", dbErr)
		return err
	}
	if station != nil {
		connector := station.GetConnector(transaction.ConnectorId)
		if connector != nil && connector.LimitSource != "" {
			connector.LimitSource = ""
			connector.LimitAmps = 0
			if saveErr := sc.database.SaveChargingStation(station); saveErr != nil {
				sc.log.Error("save charging station", saveErr)
			}
		}
	}
	return err
}
