package models

type SiteArea struct {
	Tenant    string  `json:"tenant_id" bson:"tenant_id"`
	Id        string  `json:"site_area_id" bson:"site_area_id"`
	SiteId    string  `json:"site_id" bson:"site_id"`
	Name      string  `json:"name" bson:"name"`
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	// maximum power the area may draw, input to the smart charging optimizer
	MaximumPowerW float64 `json:"maximum_power_w" bson:"maximum_power_w"`
	SmartCharging bool    `json:"smart_charging" bson:"smart_charging"`
	// inactivity classification thresholds, seconds
	InactivityWarningSecs int `json:"inactivity_warning_secs" bson:"inactivity_warning_secs"`
	InactivityErrorSecs   int `json:"inactivity_error_secs" bson:"inactivity_error_secs"`
}
