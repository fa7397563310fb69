package models

import "time"

type UserTag struct {
	Tenant         string    `json:"tenant_id" bson:"tenant_id"`
	IdTag          string    `json:"id_tag" bson:"id_tag"`
	UserId         string    `json:"user_id" bson:"user_id"`
	Username       string    `json:"username" bson:"username"`
	Source         string    `json:"source" bson:"source"`
	IsEnabled      bool      `json:"is_enabled" bson:"is_enabled"`
	IsBlocked      bool      `json:"is_blocked" bson:"is_blocked"`
	Note           string    `json:"note" bson:"note"`
	ExpiryDate     time.Time `json:"expiry_date" bson:"expiry_date"`
	DateRegistered time.Time `json:"date_registered" bson:"date_registered"`
	LastSeen       time.Time `json:"last_seen" bson:"last_seen"`
}

func (t *UserTag) IsExpired(now time.Time) bool {
	return !t.ExpiryDate.IsZero() && !t.ExpiryDate.After(now)
}
