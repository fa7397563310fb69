package firmware

const DiagnosticsStatusNotificationFeatureName = "DiagnosticsStatusNotification"

type DiagnosticsStatusNotificationRequest struct {
	Status DiagnosticsStatus `json:"status" validate:"required"`
}

type DiagnosticsStatusNotificationResponse struct {
}

func (r DiagnosticsStatusNotificationRequest) GetFeatureName() string {
	return DiagnosticsStatusNotificationFeatureName
}

func (c DiagnosticsStatusNotificationResponse) GetFeatureName() string {
	return DiagnosticsStatusNotificationFeatureName
}

func NewDiagnosticsStatusNotificationResponse() *DiagnosticsStatusNotificationResponse {
	return &DiagnosticsStatusNotificationResponse{}
}
