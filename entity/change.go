package entity

import "time"

// LevelChange is emitted whenever an entitlement level transition is
// applied. Delivery to the notification layer is best-effort: a failed
// notification never rolls back the entitlement write.
type LevelChange struct {
	UserId   int64     `json:"user_id"`
	OldLevel Tier      `json:"old_level"`
	NewLevel Tier      `json:"new_level"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason"` // "webhook", "poll", "expiry", "promocode", "admin"
}
