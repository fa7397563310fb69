package internal

import "time"

const FeatureLogMessageType = "FeatureLogMessage"

type FeatureLogMessage struct {
	Time          string    `json:"time" bson:"time"`
	TimeStamp     time.Time `json:"timestamp" bson:"timestamp"`
	Importance    string    `json:"importance" bson:"importance"`
	Feature       string    `json:"feature" bson:"feature"`
	ChargePointId string    `json:"charge_point_id" bson:"charge_point_id"`
	Text          string    `json:"text" bson:"text"`
}

func (m *FeatureLogMessage) DataType() string {
	return FeatureLogMessageType
}
