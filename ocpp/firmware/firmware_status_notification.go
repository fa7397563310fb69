package firmware

const StatusNotificationFeatureName = "FirmwareStatusNotification"

type StatusNotificationRequest struct {
	Status Status `json:"status" validate:"required"`
}

type StatusNotificationResponse struct {
}

func (r StatusNotificationRequest) GetFeatureName() string {
	return StatusNotificationFeatureName
}

func (c StatusNotificationResponse) GetFeatureName() string {
	return StatusNotificationFeatureName
}

func NewStatusNotificationResponse() *StatusNotificationResponse {
	return &StatusNotificationResponse{}
}
