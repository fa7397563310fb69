package smartcharging

import "github.com/roiko/ev-server/types"

const SetChargingProfileFeatureName = "SetChargingProfile"

type ChargingProfileStatus string

const (
	ChargingProfileStatusAccepted     ChargingProfileStatus = "Accepted"
	ChargingProfileStatusRejected     ChargingProfileStatus = "Rejected"
	ChargingProfileStatusNotSupported ChargingProfileStatus = "NotSupported"
)

type SetChargingProfileRequest struct {
	ConnectorId     int                    `json:"connectorId" validate:"gte=0"`
	ChargingProfile *types.ChargingProfile `json:"csChargingProfiles" validate:"required"`
}

type SetChargingProfileResponse struct {
	Status ChargingProfileStatus `json:"status" validate:"required"`
}

func (r SetChargingProfileRequest) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

func (c SetChargingProfileResponse) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

func NewSetChargingProfileRequest(connectorId int, profile *types.ChargingProfile) *SetChargingProfileRequest {
	return &SetChargingProfileRequest{ConnectorId: connectorId, ChargingProfile: profile}
}

// NewTxProfile builds a TX-level profile limiting the given transaction.
func NewTxProfile(transactionId int, limitAmps float64, numberPhases int) *types.ChargingProfile {
	return &types.ChargingProfile{
		ChargingProfileId:      transactionId,
		TransactionId:          transactionId,
		StackLevel:             0,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxProfile,
		ChargingProfileKind:    types.ChargingProfileKindRelative,
		ChargingSchedule: &types.ChargingSchedule{
			ChargingRateUnit: types.ChargingRateUnitAmperes,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{
				{StartPeriod: 0, Limit: limitAmps, NumberPhases: &numberPhases},
			},
		},
	}
}
