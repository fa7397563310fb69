package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/types"
)

func bootRequest() *core.BootNotificationRequest {
	return &core.BootNotificationRequest{
		ChargePointVendor:       "ABB",
		ChargePointModel:        "TAC-W11-G5-R-0",
		ChargePointSerialNumber: "SN-001",
		FirmwareVersion:         "1.0.0",
	}
}

func TestBootUnknownStationWithoutTokenRejected(t *testing.T) {
	env := newTestEnv()

	response, err := env.handler.OnBootNotification(env.ctx("CB-NEW"), bootRequest())
	require.NoError(t, err)
	assert.Equal(t, types.RegistrationStatusRejected, response.Status)
	assert.Equal(t, 30, response.Interval)

	station, _ := env.db.GetChargingStation("t1", "CB-NEW")
	assert.Nil(t, station)
}

func TestBootNewStationWithToken(t *testing.T) {
	env := newTestEnv()
	env.db.tokens["t1/tok-1"] = &models.RegistrationToken{
		Tenant:         "t1",
		Token:          "tok-1",
		ExpirationDate: env.clock.Add(24 * time.Hour),
	}

	ctx := env.ctx("CB-NEW")
	ctx.Token = "tok-1"
	response, err := env.handler.OnBootNotification(ctx, bootRequest())
	require.NoError(t, err)
	assert.Equal(t, types.RegistrationStatusAccepted, response.Status)
	assert.Equal(t, 60, response.Interval)
	assert.Equal(t, env.clock.UTC(), response.CurrentTime.Time.UTC())

	station, _ := env.db.GetChargingStation("t1", "CB-NEW")
	require.NotNil(t, station)
	assert.Equal(t, "ABB", station.Vendor)
	assert.True(t, station.Issuer)
	assert.Equal(t, string(types.RegistrationStatusAccepted), station.RegistrationStatus)
	assert.Equal(t, "1.6", station.OcppVersion)

	require.Len(t, env.events.byType("StationRegistered"), 1)
}

func TestBootExpiredTokenRejected(t *testing.T) {
	env := newTestEnv()
	env.db.tokens["t1/tok-1"] = &models.RegistrationToken{
		Tenant:         "t1",
		Token:          "tok-1",
		ExpirationDate: env.clock.Add(-time.Hour),
	}

	ctx := env.ctx("CB-NEW")
	ctx.Token = "tok-1"
	response, err := env.handler.OnBootNotification(ctx, bootRequest())
	require.NoError(t, err)
	assert.Equal(t, types.RegistrationStatusRejected, response.Status)
}

func TestBootSerialMismatchRejected(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	firmwareBefore := station.FirmwareVersion

	request := bootRequest()
	request.ChargePointSerialNumber = "SN-OTHER"
	response, err := env.handler.OnBootNotification(env.ctx("CB-01"), request)
	require.NoError(t, err)
	assert.Equal(t, types.RegistrationStatusRejected, response.Status)

	// nothing changed
	reloaded, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, "SN-001", reloaded.SerialNumber)
	assert.Equal(t, firmwareBefore, reloaded.FirmwareVersion)
}

func TestBootVendorMismatchRejected(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	request := bootRequest()
	request.ChargePointVendor = "OtherVendor"
	response, err := env.handler.OnBootNotification(env.ctx("CB-01"), request)
	require.NoError(t, err)
	assert.Equal(t, types.RegistrationStatusRejected, response.Status)
}

func TestBootIdempotent(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	first, err := env.handler.OnBootNotification(env.ctx("CB-01"), bootRequest())
	require.NoError(t, err)
	require.Equal(t, types.RegistrationStatusAccepted, first.Status)

	stationAfterFirst, _ := env.db.GetChargingStation("t1", "CB-01")
	firstReboot := stationAfterFirst.LastReboot

	env.advance(time.Hour)
	request := bootRequest()
	request.FirmwareVersion = "1.0.1"
	second, err := env.handler.OnBootNotification(env.ctx("CB-01"), request)
	require.NoError(t, err)
	require.Equal(t, types.RegistrationStatusAccepted, second.Status)

	reloaded, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, "ABB", reloaded.Vendor)
	assert.Equal(t, "SN-001", reloaded.SerialNumber)
	assert.Equal(t, "1.0.1", reloaded.FirmwareVersion)
	assert.True(t, reloaded.LastReboot.After(firstReboot))
	assert.Equal(t, reloaded.LastReboot, reloaded.LastSeen)
}

func TestBootUnknownTenantRejected(t *testing.T) {
	env := newTestEnv()
	ctx := env.ctx("CB-01")
	ctx.Tenant = "nope"
	response, err := env.handler.OnBootNotification(ctx, bootRequest())
	require.NoError(t, err)
	assert.Equal(t, types.RegistrationStatusRejected, response.Status)
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	env.advance(5 * time.Minute)
	response, err := env.handler.OnHeartbeat(env.ctx("CB-01"), &core.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Equal(t, env.clock.UTC(), response.CurrentTime.Time.UTC())

	station, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, env.clock, station.LastSeen)
}

func TestAuthorizeBoundaries(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	tag20 := "12345678901234567890"
	env.seedTag(tag20)

	response, err := env.handler.OnAuthorize(env.ctx("CB-01"), &core.AuthorizeRequest{IdTag: types.IdToken(tag20)})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusAccepted, response.IdTagInfo.Status)

	tag21 := tag20 + "1"
	env.seedTag(tag21)
	response, err = env.handler.OnAuthorize(env.ctx("CB-01"), &core.AuthorizeRequest{IdTag: types.IdToken(tag21)})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusInvalid, response.IdTagInfo.Status)

	response, err = env.handler.OnAuthorize(env.ctx("CB-01"), &core.AuthorizeRequest{IdTag: ""})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusInvalid, response.IdTagInfo.Status)
}

func TestAuthorizeTagStates(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	blocked := env.seedTag("TAG-BLOCKED")
	blocked.IsBlocked = true

	expired := env.seedTag("TAG-EXPIRED")
	expired.ExpiryDate = env.clock.Add(-time.Hour)

	disabled := env.seedTag("TAG-DISABLED")
	disabled.IsEnabled = false

	cases := []struct {
		idTag    string
		expected types.AuthorizationStatus
	}{
		{"TAG-BLOCKED", types.AuthorizationStatusBlocked},
		{"TAG-EXPIRED", types.AuthorizationStatusExpired},
		{"TAG-DISABLED", types.AuthorizationStatusInvalid},
		{"TAG-UNKNOWN", types.AuthorizationStatusInvalid},
	}
	for _, c := range cases {
		response, err := env.handler.OnAuthorize(env.ctx("CB-01"), &core.AuthorizeRequest{IdTag: types.IdToken(c.idTag)})
		require.NoError(t, err)
		assert.Equal(t, c.expected, response.IdTagInfo.Status, c.idTag)
	}
}

func TestAuthorizeBlockedUser(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	tag := env.seedTag("TAG-1")
	tag.UserId = "u1"
	env.db.users["t1/u1"] = &models.User{Tenant: "t1", Id: "u1", IsBlocked: true}

	response, err := env.handler.OnAuthorize(env.ctx("CB-01"), &core.AuthorizeRequest{IdTag: "TAG-1"})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusBlocked, response.IdTagInfo.Status)
}

func TestStatusNotificationConnectorZeroIsInformational(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	statusBefore := station.GetConnector(1).Status

	_, err := env.handler.OnStatusNotification(env.ctx("CB-01"), &core.StatusNotificationRequest{
		ConnectorId: 0,
		Status:      core.ChargePointStatusUnavailable,
		ErrorCode:   core.NoError,
	})
	require.NoError(t, err)

	reloaded, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, statusBefore, reloaded.GetConnector(1).Status)
}

func TestStatusNotificationCreatesConnector(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	_, err := env.handler.OnStatusNotification(env.ctx("CB-01"), &core.StatusNotificationRequest{
		ConnectorId: 2,
		Status:      core.ChargePointStatusPreparing,
		ErrorCode:   core.NoError,
	})
	require.NoError(t, err)

	station, _ := env.db.GetChargingStation("t1", "CB-01")
	connector := station.GetConnector(2)
	require.NotNil(t, connector)
	assert.Equal(t, string(core.ChargePointStatusPreparing), connector.Status)
	// connector list stays ordered by id
	assert.Equal(t, 1, station.Connectors[0].Id)
	assert.Equal(t, 2, station.Connectors[1].Id)
}

func TestStatusNotificationNoChangeGuard(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	connector := station.GetConnector(1)
	connector.Status = string(core.ChargePointStatusPreparing)
	connector.ErrorCode = string(core.NoError)
	changedOn := connector.StatusLastChangedOn

	_, err := env.handler.OnStatusNotification(env.ctx("CB-01"), &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusPreparing,
		ErrorCode:   core.NoError,
		Timestamp:   types.NewDateTime(env.clock.Add(time.Minute)),
	})
	require.NoError(t, err)

	reloaded, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, changedOn, reloaded.GetConnector(1).StatusLastChangedOn)
}

func TestStatusNotificationFaultedNotifiesOnce(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	fault := &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusFaulted,
		ErrorCode:   core.GroundFailure,
	}
	_, err := env.handler.OnStatusNotification(env.ctx("CB-01"), fault)
	require.NoError(t, err)

	// recovery and a second identical fault inside the rate window
	_, err = env.handler.OnStatusNotification(env.ctx("CB-01"), &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusAvailable,
		ErrorCode:   core.NoError,
	})
	require.NoError(t, err)
	_, err = env.handler.OnStatusNotification(env.ctx("CB-01"), fault)
	require.NoError(t, err)

	assert.Len(t, env.events.byType("StatusError"), 1)
}
