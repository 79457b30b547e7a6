package entity

import (
	"net/http"
	"time"

	"clanity/lib/validate"
)

// Entitlement is the persisted subscription state of one user.
// EffectiveSince marks when the current level began and drives expiry;
// all timestamps are UTC.
type Entitlement struct {
	UserId         int64     `json:"user_id" bson:"user_id" validate:"required"`
	Username       string    `json:"username,omitempty" bson:"username"`
	Level          Tier      `json:"level" bson:"level" validate:"required"`
	EffectiveSince time.Time `json:"effective_since" bson:"effective_since"`
}

func (e *Entitlement) Bind(_ *http.Request) error {
	return validate.Struct(e)
}

// NewEntitlement returns the record created on first user contact.
func NewEntitlement(userId int64, username string, now time.Time) *Entitlement {
	return &Entitlement{
		UserId:         userId,
		Username:       username,
		Level:          TierTrial,
		EffectiveSince: now,
	}
}
