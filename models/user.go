package models

type User struct {
	Tenant       string `json:"tenant_id" bson:"tenant_id"`
	Id           string `json:"user_id" bson:"user_id"`
	Username     string `json:"username" bson:"username"`
	Email        string `json:"email" bson:"email"`
	IsBlocked    bool   `json:"is_blocked" bson:"is_blocked"`
	DefaultCarId string `json:"default_car_id" bson:"default_car_id"`
	// last car the user selected in the app; cleared when a session starts
	LastSelectedCarId string `json:"last_selected_car_id" bson:"last_selected_car_id"`
}
