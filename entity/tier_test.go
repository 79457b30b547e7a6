package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTierCode(t *testing.T) {
	for _, code := range []string{"TIER_1", "TIER_2", "TIER_3"} {
		tier, err := ParseTierCode(code)
		require.NoError(t, err)
		assert.Equal(t, Tier(code), tier)
		assert.True(t, tier.IsPaid())
	}
}

func TestParseTierCodeRejectsUnpurchasable(t *testing.T) {
	for _, code := range []string{"TRIAL", "PROMO", "NON_SUBSCRIBED", "tier_1", "gold", ""} {
		_, err := ParseTierCode(code)
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, ErrUnknownTier), code)
	}
}

func TestTierEntitled(t *testing.T) {
	assert.False(t, TierNonSubscribed.Entitled())
	assert.True(t, TierTrial.Entitled())
	assert.True(t, TierPromo.Entitled())
	assert.True(t, TierTwo.Entitled())
	assert.False(t, Tier("GOLD").Entitled())
}

func TestTierFallback(t *testing.T) {
	for _, tier := range []Tier{TierTrial, TierOne, TierTwo, TierThree, TierPromo} {
		assert.Equal(t, TierNonSubscribed, tier.Fallback())
	}
}

func TestOutcomeSuccessful(t *testing.T) {
	assert.True(t, (&PurchaseOutcome{Status: PurchaseSuccess, Tier: TierOne}).Successful())
	// success without a resolvable tier cannot upgrade anything
	assert.False(t, (&PurchaseOutcome{Status: PurchaseSuccess}).Successful())
	assert.False(t, (&PurchaseOutcome{Status: PurchasePending, Tier: TierOne}).Successful())
	assert.False(t, (&PurchaseOutcome{Status: PurchaseFailed, Tier: TierOne}).Successful())
}
