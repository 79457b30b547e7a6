package expiry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clanity/entity"
	"clanity/internal/config"
	"clanity/internal/storage"
	"clanity/lib/cache"
)

type fakeNotifier struct {
	mu      sync.Mutex
	changes []entity.LevelChange
}

func (f *fakeNotifier) LevelChanged(change entity.LevelChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change)
}

func (f *fakeNotifier) all() []entity.LevelChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.LevelChange(nil), f.changes...)
}

func testConfig(exempt ...int64) *config.Config {
	return &config.Config{
		Subscription: config.SubscriptionConfig{
			TrialDays:     3,
			PaidDays:      30,
			PromoDays:     14,
			ExemptUserIds: exempt,
		},
		Expiry: config.ExpiryConfig{RunAtHour: 23},
	}
}

func setup(t *testing.T, exempt ...int64) (*Scheduler, *storage.Memory, *fakeNotifier) {
	t.Helper()
	store := storage.NewMemory()
	notifier := &fakeNotifier{}
	s := New(store, cache.NewValidity(time.Minute), testConfig(exempt...), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetNotifier(notifier)
	return s, store, notifier
}

func seed(t *testing.T, store *storage.Memory, userId int64, level entity.Tier, since time.Time) {
	t.Helper()
	_, err := store.ApplyLevel(context.Background(), userId, level, since)
	require.NoError(t, err)
}

func level(t *testing.T, store *storage.Memory, userId int64) entity.Tier {
	t.Helper()
	ent, err := store.GetEntitlement(context.Background(), userId)
	require.NoError(t, err)
	return ent.Level
}

func TestRunOnceDemotesExpiredTrial(t *testing.T) {
	s, store, notifier := setup(t)
	now := time.Now().UTC()
	seed(t, store, 1, entity.TierTrial, now.Add(-31*24*time.Hour))

	s.RunOnce(context.Background())

	assert.Equal(t, entity.TierNonSubscribed, level(t, store, 1))
	changes := notifier.all()
	require.Len(t, changes, 1)
	assert.Equal(t, entity.TierTrial, changes[0].OldLevel)
	assert.Equal(t, "expiry", changes[0].Reason)
}

func TestRunOnceKeepsFreshLevels(t *testing.T) {
	s, store, notifier := setup(t)
	now := time.Now().UTC()
	seed(t, store, 1, entity.TierTrial, now.Add(-24*time.Hour))
	seed(t, store, 2, entity.TierTwo, now.Add(-10*24*time.Hour))
	seed(t, store, 3, entity.TierPromo, now.Add(-7*24*time.Hour))

	s.RunOnce(context.Background())

	assert.Equal(t, entity.TierTrial, level(t, store, 1))
	assert.Equal(t, entity.TierTwo, level(t, store, 2))
	assert.Equal(t, entity.TierPromo, level(t, store, 3))
	assert.Empty(t, notifier.all())
}

func TestRunOncePerTierTerms(t *testing.T) {
	s, store, _ := setup(t)
	now := time.Now().UTC()
	// past the 3-day trial term but within the 30-day paid term
	seed(t, store, 1, entity.TierTrial, now.Add(-5*24*time.Hour))
	seed(t, store, 2, entity.TierOne, now.Add(-5*24*time.Hour))
	// past the 14-day promo term
	seed(t, store, 3, entity.TierPromo, now.Add(-15*24*time.Hour))

	s.RunOnce(context.Background())

	assert.Equal(t, entity.TierNonSubscribed, level(t, store, 1))
	assert.Equal(t, entity.TierOne, level(t, store, 2))
	assert.Equal(t, entity.TierNonSubscribed, level(t, store, 3))
}

func TestRunOnceExemptsTrialUsers(t *testing.T) {
	s, store, _ := setup(t, 1)
	now := time.Now().UTC()
	seed(t, store, 1, entity.TierTrial, now.Add(-31*24*time.Hour))
	seed(t, store, 2, entity.TierTrial, now.Add(-31*24*time.Hour))

	s.RunOnce(context.Background())

	assert.Equal(t, entity.TierTrial, level(t, store, 1))
	assert.Equal(t, entity.TierNonSubscribed, level(t, store, 2))
}

func TestExemptionOnlyCoversTrial(t *testing.T) {
	s, store, _ := setup(t, 1)
	now := time.Now().UTC()
	seed(t, store, 1, entity.TierOne, now.Add(-31*24*time.Hour))

	s.RunOnce(context.Background())

	// the exemption list shields the trial only, never paid terms
	assert.Equal(t, entity.TierNonSubscribed, level(t, store, 1))
}

func TestRunOnceIsIdempotent(t *testing.T) {
	s, store, notifier := setup(t)
	now := time.Now().UTC()
	seed(t, store, 1, entity.TierTrial, now.Add(-31*24*time.Hour))

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	assert.Equal(t, entity.TierNonSubscribed, level(t, store, 1))
	assert.Len(t, notifier.all(), 1)
}

func TestStartStop(t *testing.T) {
	s, _, _ := setup(t)
	s.Start()
	s.Stop()
}
