package core

import (
	"encoding/json"

	"github.com/roiko/ev-server/types"
)

const StopTransactionFeatureName = "StopTransaction"

type StopTransactionRequest struct {
	IdTag         types.IdToken   `json:"idTag,omitempty"`
	MeterStop     int             `json:"meterStop" validate:"gte=0"`
	Timestamp     *types.DateTime `json:"timestamp" validate:"required"`
	TransactionId int             `json:"transactionId"`
	Reason        string          `json:"reason,omitempty"`
	// TransactionData keeps its raw shape: 1.6 sends an array of meterValue
	// objects, 1.5 a values object, and the declared protocol version decides
	// which one is legal for the station.
	TransactionData json.RawMessage `json:"transactionData,omitempty"`
}

type StopTransactionResponse struct {
	IdTagInfo *types.IdTagInfo `json:"idTagInfo,omitempty"`
}

func (r StopTransactionRequest) GetFeatureName() string {
	return StopTransactionFeatureName
}

func (c StopTransactionResponse) GetFeatureName() string {
	return StopTransactionFeatureName
}

func NewStopTransactionResponse(idTagInfo *types.IdTagInfo) *StopTransactionResponse {
	return &StopTransactionResponse{IdTagInfo: idTagInfo}
}
