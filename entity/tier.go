package entity

import (
	"errors"
	"fmt"
)

// Tier is a named entitlement level gating feature access.
// Exactly one tier is stored per user at any instant; transitions are
// whole replacements of level + effective date, never partial.
type Tier string

const (
	TierNonSubscribed Tier = "NON_SUBSCRIBED" // fallback after any expiry
	TierTrial         Tier = "TRIAL"          // granted on first contact
	TierOne           Tier = "TIER_1"
	TierTwo           Tier = "TIER_2"
	TierThree         Tier = "TIER_3"
	TierPromo         Tier = "PROMO" // granted by promocode redemption
)

// ErrUnknownTier is returned when a provider-supplied tier code does not
// map to any internal tier. Unmapped codes are an error, never a silent
// no-match.
var ErrUnknownTier = errors.New("unknown tier code")

var paidTiers = map[Tier]bool{
	TierOne:   true,
	TierTwo:   true,
	TierThree: true,
}

// ParseTierCode maps the structured tier code carried in provider invoice
// metadata to an internal tier. Only purchasable tiers are valid codes:
// trial and promo entitlements are never sold through the gateway.
func ParseTierCode(code string) (Tier, error) {
	t := Tier(code)
	if paidTiers[t] {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, code)
}

func (t Tier) IsPaid() bool {
	return paidTiers[t]
}

// Entitled reports whether the tier grants access to the service at all.
// TierNonSubscribed is the only level without access.
func (t Tier) Entitled() bool {
	return t.Known() && t != TierNonSubscribed
}

func (t Tier) Known() bool {
	switch t {
	case TierNonSubscribed, TierTrial, TierOne, TierTwo, TierThree, TierPromo:
		return true
	}
	return false
}

// Fallback is the tier a user is demoted to when the current term lapses.
// Every expiring tier falls back to NON_SUBSCRIBED.
func (t Tier) Fallback() Tier {
	return TierNonSubscribed
}

func (t Tier) String() string {
	return string(t)
}
