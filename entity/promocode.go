package entity

import "time"

// Promocode grants the PROMO tier directly, bypassing payment.
// Activations never goes negative; exhausted codes remain in storage and
// reject further redemptions.
type Promocode struct {
	Code        string    `json:"code" bson:"code"`
	Activations int       `json:"activations" bson:"activations"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// RedeemResult is the business outcome of a redemption attempt.
// These are expected outcomes, not system errors.
type RedeemResult string

const (
	RedeemGranted         RedeemResult = "granted"
	RedeemAlreadyHasPromo RedeemResult = "already_has_promo"
	RedeemExhausted       RedeemResult = "exhausted"
	RedeemNotFound        RedeemResult = "not_found"
)
