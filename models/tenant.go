package models

type Tenant struct {
	Id        string `json:"tenant_id" bson:"tenant_id"`
	Name      string `json:"name" bson:"name"`
	IsEnabled bool   `json:"is_enabled" bson:"is_enabled"`
	// optional components a tenant may activate
	WithPricing       bool `json:"with_pricing" bson:"with_pricing"`
	WithBilling       bool `json:"with_billing" bson:"with_billing"`
	WithOcpi          bool `json:"with_ocpi" bson:"with_ocpi"`
	WithOicp          bool `json:"with_oicp" bson:"with_oicp"`
	WithSmartCharging bool `json:"with_smart_charging" bson:"with_smart_charging"`
	WithCar           bool `json:"with_car" bson:"with_car"`
}
