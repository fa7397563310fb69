package models

import "time"

// RegistrationToken authorizes the first BootNotification of a new station.
type RegistrationToken struct {
	Tenant         string    `json:"tenant_id" bson:"tenant_id"`
	Token          string    `json:"token" bson:"token"`
	Description    string    `json:"description" bson:"description"`
	SiteAreaId     string    `json:"site_area_id" bson:"site_area_id"`
	ExpirationDate time.Time `json:"expiration_date" bson:"expiration_date"`
	RevocationDate time.Time `json:"revocation_date" bson:"revocation_date"`
}

func (t *RegistrationToken) IsValid(now time.Time) bool {
	if !t.RevocationDate.IsZero() && !t.RevocationDate.After(now) {
		return false
	}
	if !t.ExpirationDate.IsZero() && !t.ExpirationDate.After(now) {
		return false
	}
	return true
}
