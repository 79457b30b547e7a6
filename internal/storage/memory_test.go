package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clanity/entity"
)

func TestEnsureEntitlementCreatesTrial(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()

	ent, err := m.EnsureEntitlement(context.Background(), 1, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, entity.TierTrial, ent.Level)
	assert.Equal(t, "alice", ent.Username)

	// second contact keeps the existing record
	_, err = m.ApplyLevel(context.Background(), 1, entity.TierTwo, now.Add(time.Hour))
	require.NoError(t, err)
	ent, err = m.EnsureEntitlement(context.Background(), 1, "alice", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, entity.TierTwo, ent.Level)
}

func TestApplyLevelMonotonic(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()

	prev, err := m.ApplyLevel(context.Background(), 1, entity.TierOne, now)
	require.NoError(t, err)
	assert.Nil(t, prev)

	// an older write loses and reports the surviving row
	prev, err = m.ApplyLevel(context.Background(), 1, entity.TierTwo, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrConflict)
	require.NotNil(t, prev)
	assert.Equal(t, entity.TierOne, prev.Level)

	// an equal effective date is not newer
	_, err = m.ApplyLevel(context.Background(), 1, entity.TierTwo, now)
	assert.ErrorIs(t, err, ErrConflict)

	prev, err = m.ApplyLevel(context.Background(), 1, entity.TierTwo, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, entity.TierOne, prev.Level)

	ent, err := m.GetEntitlement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierTwo, ent.Level)
}

func TestRecentPurchasesMostRecentFirst(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	for i, id := range []string{"inv_a", "inv_b", "inv_c"} {
		require.NoError(t, m.RecordPurchase(context.Background(), &entity.Purchase{
			UserId:    1,
			InvoiceId: id,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, m.RecordPurchase(context.Background(), &entity.Purchase{
		UserId:    2,
		InvoiceId: "inv_other",
		CreatedAt: now,
	}))

	invoices, err := m.RecentPurchases(context.Background(), 1, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"inv_c", "inv_b", "inv_a"}, invoices)

	// window cutoff excludes older entries
	invoices, err = m.RecentPurchases(context.Background(), 1, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"inv_c", "inv_b"}, invoices)
}

func TestUserByInvoice(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.RecordPurchase(context.Background(), &entity.Purchase{
		UserId:    7,
		InvoiceId: "inv_x",
		CreatedAt: time.Now(),
	}))

	userId, err := m.UserByInvoice(context.Background(), "inv_x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), userId)

	_, err = m.UserByInvoice(context.Background(), "inv_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDemoteConditional(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	cutoff := now.Add(-3 * 24 * time.Hour)
	_, err := m.ApplyLevel(context.Background(), 1, entity.TierTrial, now.Add(-5*24*time.Hour))
	require.NoError(t, err)

	applied, err := m.Demote(context.Background(), 1, entity.TierTrial, cutoff, now)
	require.NoError(t, err)
	assert.True(t, applied)

	// already demoted; the second attempt is a no-op
	applied, err = m.Demote(context.Background(), 1, entity.TierTrial, cutoff, now)
	require.NoError(t, err)
	assert.False(t, applied)

	ent, err := m.GetEntitlement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierNonSubscribed, ent.Level)
}

func TestClientByToken(t *testing.T) {
	m := NewMemory()
	m.AddClient("tok_1", "quiz-backend", time.Now())

	c, err := m.ClientByToken(context.Background(), "tok_1")
	require.NoError(t, err)
	assert.Equal(t, "quiz-backend", c.Name)

	_, err = m.ClientByToken(context.Background(), "tok_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
