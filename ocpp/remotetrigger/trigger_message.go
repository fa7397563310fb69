package remotetrigger

const TriggerMessageFeatureName = "TriggerMessage"

type MessageTrigger string
type TriggerMessageStatus string

const (
	MessageTriggerBootNotification              MessageTrigger = "BootNotification"
	MessageTriggerDiagnosticsStatusNotification MessageTrigger = "DiagnosticsStatusNotification"
	MessageTriggerFirmwareStatusNotification    MessageTrigger = "FirmwareStatusNotification"
	MessageTriggerHeartbeat                     MessageTrigger = "Heartbeat"
	MessageTriggerMeterValues                   MessageTrigger = "MeterValues"
	MessageTriggerStatusNotification            MessageTrigger = "StatusNotification"

	TriggerMessageStatusAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageStatusRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageStatusNotImplemented TriggerMessageStatus = "NotImplemented"
)

type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage" validate:"required"`
	ConnectorId      *int           `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
}

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status" validate:"required"`
}

func (r TriggerMessageRequest) GetFeatureName() string {
	return TriggerMessageFeatureName
}

func (c TriggerMessageResponse) GetFeatureName() string {
	return TriggerMessageFeatureName
}

func NewTriggerMessageRequest(message MessageTrigger, connectorId int) *TriggerMessageRequest {
	if connectorId > 0 {
		return &TriggerMessageRequest{RequestedMessage: message, ConnectorId: &connectorId}
	}
	return &TriggerMessageRequest{RequestedMessage: message}
}
