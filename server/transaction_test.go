package server

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/types"
	"github.com/roiko/ev-server/utility"
)

func (env *testEnv) startSession(t *testing.T, chargeBoxId string, meterStart int) *models.Transaction {
	t.Helper()
	response, err := env.handler.OnStartTransaction(env.ctx(chargeBoxId), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG-1",
		MeterStart:  meterStart,
		Timestamp:   types.NewDateTime(env.clock),
	})
	require.NoError(t, err)
	require.Equal(t, types.AuthorizationStatusAccepted, response.IdTagInfo.Status)
	transaction, err := env.db.GetTransaction("t1", response.TransactionId)
	require.NoError(t, err)
	require.NotNil(t, transaction)
	return transaction
}

func TestStartWithOversizedTagRejected(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	response, err := env.handler.OnStartTransaction(env.ctx("CB-01"), &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "12345678901234567890123",
		MeterStart:  0,
		Timestamp:   types.NewDateTime(env.clock),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, response.TransactionId)
	assert.Equal(t, types.AuthorizationStatusInvalid, response.IdTagInfo.Status)
	assert.Empty(t, env.db.transactions)
}

func TestStartSetsConnectorLiveFields(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")

	transaction := env.startSession(t, "CB-01", 500)

	station, _ := env.db.GetChargingStation("t1", "CB-01")
	connector := station.GetConnector(1)
	assert.Equal(t, transaction.Id, connector.CurrentTransactionId)
	assert.Equal(t, "TAG-1", connector.CurrentTagId)
	assert.Equal(t, 500.0, transaction.MeterStart)
	require.Len(t, env.events.byType("SessionStart"), 1)
}

func TestStartReplacesLeftoverTransaction(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")

	first := env.startSession(t, "CB-01", 0)

	// the stop frame never arrived; a new driver plugs in
	env.advance(time.Hour)
	second := env.startSession(t, "CB-01", 0)
	require.NotEqual(t, first.Id, second.Id)

	// the empty leftover was deleted, not stopped
	_, ok := env.db.transactions[first.Id]
	assert.False(t, ok)

	station, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, second.Id, station.GetConnector(1).CurrentTransactionId)
}

func TestStopTransactionIdZeroAccepted(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")
	transaction := env.startSession(t, "CB-01", 0)

	response, err := env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: 0,
		MeterStop:     100,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusAccepted, response.IdTagInfo.Status)

	// nothing was mutated
	reloaded, _ := env.db.GetTransaction("t1", transaction.Id)
	assert.Nil(t, reloaded.Stop)
}

func TestStopUnknownTransactionFails(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")

	_, err := env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: 4242,
		MeterStop:     100,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.Error(t, err)
	assert.Equal(t, ErrorCodeBackend, utility.CodeOf(err))
}

func TestStopIsRejectedTwice(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")
	transaction := env.startSession(t, "CB-01", 0)

	env.advance(10 * time.Minute)
	_, err := env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: transaction.Id,
		IdTag:         "TAG-1",
		MeterStop:     900,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.NoError(t, err)

	stopped, _ := env.db.GetTransaction("t1", transaction.Id)
	require.NotNil(t, stopped.Stop)
	stopTimestamp := stopped.Stop.Timestamp

	env.advance(time.Minute)
	_, err = env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: transaction.Id,
		IdTag:         "TAG-1",
		MeterStop:     950,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.Error(t, err)
	assert.Equal(t, ErrorCodeBackend, utility.CodeOf(err))

	// the second frame changed nothing
	reloaded, _ := env.db.GetTransaction("t1", transaction.Id)
	assert.Equal(t, stopTimestamp, reloaded.Stop.Timestamp)
	assert.Equal(t, 900.0, reloaded.Stop.MeterStop)
}

func TestStopWithWrongVersionTransactionData(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	station.OcppVersion = types.OcppVersion15
	env.seedTag("TAG-1")
	transaction := env.startSession(t, "CB-01", 0)

	// 1.6-shaped transaction data on a station that declared 1.5
	sixteenShaped, err := json.Marshal([]types.MeterValue{
		{
			Timestamp: types.NewDateTime(env.clock),
			SampledValue: []types.SampledValue{
				{Value: "100", Context: types.ReadingContextTransactionEnd},
			},
		},
	})
	require.NoError(t, err)

	env.advance(5 * time.Minute)
	response, err := env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId:   transaction.Id,
		IdTag:           "TAG-1",
		MeterStop:       100,
		Timestamp:       types.NewDateTime(env.clock),
		TransactionData: sixteenShaped,
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusInvalid, response.IdTagInfo.Status)

	reloaded, _ := env.db.GetTransaction("t1", transaction.Id)
	assert.Nil(t, reloaded.Stop)

	// a follow-up stop without the block is accepted
	response, err = env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: transaction.Id,
		IdTag:         "TAG-1",
		MeterStop:     100,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusAccepted, response.IdTagInfo.Status)

	reloaded, _ = env.db.GetTransaction("t1", transaction.Id)
	require.NotNil(t, reloaded.Stop)
}

func TestRemoteStopTagClaimsStopFrame(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")
	transaction := env.startSession(t, "CB-01", 0)

	_, err := env.handler.OnRemoteStopTransaction("t1", "CB-01", strconv.Itoa(transaction.Id))
	require.NoError(t, err)

	// the stop frame arrives within the window, without a tag
	env.advance(30 * time.Second)
	response, err := env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: transaction.Id,
		MeterStop:     100,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusAccepted, response.IdTagInfo.Status)

	reloaded, _ := env.db.GetTransaction("t1", transaction.Id)
	require.NotNil(t, reloaded.Stop)
	assert.Equal(t, "TAG-1", reloaded.Stop.TagId)
}

func TestRecoveryViaAvailableStatus(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	env.seedTag("TAG-1")
	transaction := env.startSession(t, "CB-01", 0)

	// session made progress
	env.advance(time.Minute)
	_, err := env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, env.clock, types.ReadingContextSamplePeriodic, 1200))
	require.NoError(t, err)
	require.Equal(t, transaction.Id, station.GetConnector(1).CurrentTransactionId)

	// the stop frame never comes, the station just reports Available
	env.advance(time.Minute)
	_, err = env.handler.OnStatusNotification(env.ctx("CB-01"), &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusAvailable,
		ErrorCode:   core.NoError,
		Timestamp:   types.NewDateTime(env.clock),
	})
	require.NoError(t, err)

	reloaded, _ := env.db.GetTransaction("t1", transaction.Id)
	require.NotNil(t, reloaded.Stop, "transaction must be auto-stopped")
	assert.Equal(t, 1200.0, reloaded.Stop.MeterStop)
	assert.Equal(t, 1200.0, reloaded.Stop.TotalConsumptionWh)
	assert.Equal(t, stopReasonSoft, reloaded.Stop.Reason)

	reloadedStation, _ := env.db.GetChargingStation("t1", "CB-01")
	assert.Equal(t, 0, reloadedStation.GetConnector(1).CurrentTransactionId)
}

func TestExtraInactivityComputedOnce(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")
	transaction := env.startSession(t, "CB-01", 0)

	env.advance(time.Minute)
	_, err := env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, env.clock, types.ReadingContextSamplePeriodic, 800))
	require.NoError(t, err)

	env.advance(time.Minute)
	_, err = env.handler.OnStopTransaction(env.ctx("CB-01"), &core.StopTransactionRequest{
		TransactionId: transaction.Id,
		IdTag:         "TAG-1",
		MeterStop:     800,
		Timestamp:     types.NewDateTime(env.clock),
	})
	require.NoError(t, err)

	stopTime := env.clock

	// car stays plugged for 5 more minutes before the connector frees up
	env.advance(5 * time.Minute)
	available := &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusAvailable,
		ErrorCode:   core.NoError,
		Timestamp:   types.NewDateTime(env.clock),
	}
	_, err = env.handler.OnStatusNotification(env.ctx("CB-01"), available)
	require.NoError(t, err)

	reloaded, _ := env.db.GetTransaction("t1", transaction.Id)
	require.True(t, reloaded.Stop.ExtraInactivityComputed)
	assert.Equal(t, 300, reloaded.Stop.ExtraInactivitySecs)
	assert.Equal(t, int(env.clock.Sub(stopTime).Seconds()), reloaded.Stop.ExtraInactivitySecs)
	totalInactivity := reloaded.Stop.TotalInactivitySecs

	// bounce through Preparing and back to Available: no second accounting
	_, err = env.handler.OnStatusNotification(env.ctx("CB-01"), &core.StatusNotificationRequest{
		ConnectorId: 1,
		Status:      core.ChargePointStatusPreparing,
		ErrorCode:   core.NoError,
		Timestamp:   types.NewDateTime(env.clock),
	})
	require.NoError(t, err)
	env.advance(2 * time.Minute)
	available.Timestamp = types.NewDateTime(env.clock)
	_, err = env.handler.OnStatusNotification(env.ctx("CB-01"), available)
	require.NoError(t, err)

	reloaded, _ = env.db.GetTransaction("t1", transaction.Id)
	assert.Equal(t, 300, reloaded.Stop.ExtraInactivitySecs)
	assert.Equal(t, totalInactivity, reloaded.Stop.TotalInactivitySecs)
}

func TestEndOfChargeNotifiedOnce(t *testing.T) {
	env := newTestEnv()
	env.seedStation("CB-01")
	env.seedTag("TAG-1")
	env.startSession(t, "CB-01", 0)

	// two productive intervals, then the car stops drawing power
	cumulated := []float64{200, 400, 400, 400, 400, 400}
	for i, wh := range cumulated {
		env.advance(time.Minute)
		_ = i
		_, err := env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, env.clock, types.ReadingContextSamplePeriodic, wh))
		require.NoError(t, err)
	}

	assert.Len(t, env.events.byType("EndOfCharge"), 1)
}

func TestEndOfChargeSuppressedByChargingProfileLimit(t *testing.T) {
	env := newTestEnv()
	station := env.seedStation("CB-01")
	env.seedTag("TAG-1")
	env.startSession(t, "CB-01", 0)

	// the optimizer throttled this connector below the per-phase minimum
	connector := station.GetConnector(1)
	connector.LimitSource = models.LimitSourceChargingProfile
	connector.LimitAmps = 6

	cumulated := []float64{200, 400, 400, 400, 400, 400}
	for _, wh := range cumulated {
		env.advance(time.Minute)
		_, err := env.handler.OnMeterValues(env.ctx("CB-01"), meterValuesRequest(1, env.clock, types.ReadingContextSamplePeriodic, wh))
		require.NoError(t, err)
	}

	// idle intervals are explained by the profile, not by a full battery
	assert.Empty(t, env.events.byType("EndOfCharge"))
}

