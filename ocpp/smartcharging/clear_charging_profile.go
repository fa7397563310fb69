package smartcharging

import "github.com/roiko/ev-server/types"

const ClearChargingProfileFeatureName = "ClearChargingProfile"

type ClearChargingProfileStatus string

const (
	ClearChargingProfileStatusAccepted ClearChargingProfileStatus = "Accepted"
	ClearChargingProfileStatusUnknown  ClearChargingProfileStatus = "Unknown"
)

type ClearChargingProfileRequest struct {
	Id           *int                              `json:"id,omitempty"`
	ConnectorId  *int                              `json:"connectorId,omitempty" validate:"omitempty,gte=0"`
	Purpose      *types.ChargingProfilePurposeType `json:"chargingProfilePurpose,omitempty"`
	StackLevel   *int                              `json:"stackLevel,omitempty" validate:"omitempty,gte=0"`
}

type ClearChargingProfileResponse struct {
	Status ClearChargingProfileStatus `json:"status" validate:"required"`
}

func (r ClearChargingProfileRequest) GetFeatureName() string {
	return ClearChargingProfileFeatureName
}

func (c ClearChargingProfileResponse) GetFeatureName() string {
	return ClearChargingProfileFeatureName
}

func NewClearTxProfileRequest(transactionId int) *ClearChargingProfileRequest {
	purpose := types.ChargingProfilePurposeTxProfile
	return &ClearChargingProfileRequest{Id: &transactionId, Purpose: &purpose}
}
