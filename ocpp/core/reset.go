package core

const ResetFeatureName = "Reset"

type ResetType string
type ResetStatus string

const (
	ResetTypeHard       ResetType   = "Hard"
	ResetTypeSoft       ResetType   = "Soft"
	ResetStatusAccepted ResetStatus = "Accepted"
	ResetStatusRejected ResetStatus = "Rejected"
)

type ResetRequest struct {
	Type ResetType `json:"type" validate:"required"`
}

type ResetResponse struct {
	Status ResetStatus `json:"status" validate:"required"`
}

func (r ResetRequest) GetFeatureName() string {
	return ResetFeatureName
}

func (c ResetResponse) GetFeatureName() string {
	return ResetFeatureName
}

func NewResetRequest(resetType ResetType) *ResetRequest {
	return &ResetRequest{Type: resetType}
}
