package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clanity/entity"
	"clanity/internal/storage"
	"clanity/lib/cache"
)

type fakeGateway struct {
	mu       sync.Mutex
	outcomes map[string]*entity.PurchaseOutcome
	errs     map[string]error
	calls    []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		outcomes: make(map[string]*entity.PurchaseOutcome),
		errs:     make(map[string]error),
	}
}

func (f *fakeGateway) InvoiceStatus(_ context.Context, invoiceId string) (*entity.PurchaseOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invoiceId)
	f.mu.Unlock()
	if err, ok := f.errs[invoiceId]; ok {
		return nil, err
	}
	if o, ok := f.outcomes[invoiceId]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, entity.ErrInvoiceNotFound
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*Reconciler, *storage.Memory, *fakeGateway, *cache.Validity) {
	t.Helper()
	store := storage.NewMemory()
	gw := newFakeGateway()
	validity := cache.NewValidity(time.Minute)
	rec := New(store, gw, validity, 30, testLogger())
	return rec, store, gw, validity
}

func addPurchase(t *testing.T, store *storage.Memory, userId int64, invoiceId string, at time.Time) {
	t.Helper()
	err := store.RecordPurchase(context.Background(), &entity.Purchase{
		UserId:    userId,
		InvoiceId: invoiceId,
		CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestCheckUserUnknown(t *testing.T) {
	rec, _, gw, _ := setup(t)

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierNonSubscribed, level)
	assert.False(t, valid)
	assert.Equal(t, 0, gw.callCount())
}

func TestCheckUserTrialNoPurchases(t *testing.T) {
	rec, store, _, _ := setup(t)
	_, err := store.EnsureEntitlement(context.Background(), 1, "alice", time.Now())
	require.NoError(t, err)

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierTrial, level)
	assert.True(t, valid)
}

func TestCheckUserAppliesFirstSuccess(t *testing.T) {
	rec, store, gw, _ := setup(t)
	now := time.Now().UTC()
	addPurchase(t, store, 1, "inv_old", now.Add(-2*time.Hour))
	addPurchase(t, store, 1, "inv_new", now.Add(-time.Hour))
	gw.outcomes["inv_old"] = &entity.PurchaseOutcome{InvoiceId: "inv_old", Status: entity.PurchaseSuccess, Tier: entity.TierOne, PaidAt: now.Add(-2 * time.Hour)}
	gw.outcomes["inv_new"] = &entity.PurchaseOutcome{InvoiceId: "inv_new", Status: entity.PurchaseSuccess, Tier: entity.TierTwo, PaidAt: now.Add(-time.Hour)}

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, entity.TierTwo, level)
	// stops at the newest resolvable purchase, never aggregates
	assert.Equal(t, []string{"inv_new"}, gw.calls)

	ent, err := store.GetEntitlement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierTwo, ent.Level)
}

func TestCheckUserSkipsUnreachableInvoice(t *testing.T) {
	rec, store, gw, _ := setup(t)
	now := time.Now().UTC()
	addPurchase(t, store, 1, "inv_old", now.Add(-2*time.Hour))
	addPurchase(t, store, 1, "inv_new", now.Add(-time.Hour))
	gw.errs["inv_new"] = fmt.Errorf("%w: timeout", entity.ErrGatewayUnavailable)
	gw.outcomes["inv_old"] = &entity.PurchaseOutcome{InvoiceId: "inv_old", Status: entity.PurchaseSuccess, Tier: entity.TierOne, PaidAt: now.Add(-2 * time.Hour)}

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, entity.TierOne, level)
}

func TestCheckUserUnverifiableIsInvalidNotError(t *testing.T) {
	rec, store, gw, _ := setup(t)
	addPurchase(t, store, 1, "inv_1", time.Now().UTC())
	gw.errs["inv_1"] = fmt.Errorf("%w: timeout", entity.ErrGatewayUnavailable)

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, entity.TierNonSubscribed, level)
}

func TestCheckUserCacheShortCircuitsPaid(t *testing.T) {
	rec, store, gw, validity := setup(t)
	now := time.Now().UTC()
	_, err := store.ApplyLevel(context.Background(), 1, entity.TierOne, now)
	require.NoError(t, err)
	validity.Set(1, entity.TierOne)
	addPurchase(t, store, 1, "inv_1", now)

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, entity.TierOne, level)
	assert.Equal(t, 0, gw.callCount())
}

func TestCheckUserCacheNeverShortCircuitsTrial(t *testing.T) {
	rec, store, gw, validity := setup(t)
	now := time.Now().UTC()
	_, err := store.EnsureEntitlement(context.Background(), 1, "alice", now.Add(-time.Hour))
	require.NoError(t, err)
	validity.Set(1, entity.TierTrial)
	addPurchase(t, store, 1, "inv_1", now)
	gw.outcomes["inv_1"] = &entity.PurchaseOutcome{InvoiceId: "inv_1", Status: entity.PurchaseSuccess, Tier: entity.TierThree, PaidAt: now}

	level, valid, err := rec.CheckUser(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, entity.TierThree, level)
	// a free level on a cache hit still goes to the ledger
	assert.Equal(t, 1, gw.callCount())
}

func TestHandleWebhookUpgrades(t *testing.T) {
	rec, store, _, _ := setup(t)
	notifier := &fakeNotifier{}
	rec.SetNotifier(notifier)
	now := time.Now().UTC()
	addPurchase(t, store, 1, "inv_1", now)

	outcome := &entity.PurchaseOutcome{InvoiceId: "inv_1", Status: entity.PurchaseSuccess, Tier: entity.TierTwo, PaidAt: now}
	err := rec.HandleWebhook(context.Background(), outcome, []byte(`{}`))
	require.NoError(t, err)

	ent, err := store.GetEntitlement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierTwo, ent.Level)

	changes := notifier.all()
	require.Len(t, changes, 1)
	assert.Equal(t, entity.TierNonSubscribed, changes[0].OldLevel)
	assert.Equal(t, entity.TierTwo, changes[0].NewLevel)
	assert.Equal(t, "webhook", changes[0].Reason)
}

func TestHandleWebhookUnknownInvoiceDropped(t *testing.T) {
	rec, store, _, _ := setup(t)

	outcome := &entity.PurchaseOutcome{InvoiceId: "inv_missing", Status: entity.PurchaseSuccess, Tier: entity.TierOne}
	err := rec.HandleWebhook(context.Background(), outcome, []byte(`{}`))
	require.NoError(t, err)

	_, err = store.GetEntitlement(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandleWebhookNonSuccessIgnored(t *testing.T) {
	rec, store, _, _ := setup(t)
	addPurchase(t, store, 1, "inv_1", time.Now().UTC())

	outcome := &entity.PurchaseOutcome{InvoiceId: "inv_1", Status: entity.PurchaseFailed}
	err := rec.HandleWebhook(context.Background(), outcome, []byte(`{}`))
	require.NoError(t, err)

	_, err = store.GetEntitlement(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutOfOrderSignalsConverge(t *testing.T) {
	now := time.Now().UTC()
	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-time.Hour)

	run := func(first, second entity.PurchaseOutcome) entity.Tier {
		rec, store, _, _ := setup(t)
		addPurchase(t, store, 1, first.InvoiceId, t1)
		addPurchase(t, store, 1, second.InvoiceId, t1)
		require.NoError(t, rec.HandleWebhook(context.Background(), &first, nil))
		require.NoError(t, rec.HandleWebhook(context.Background(), &second, nil))
		ent, err := store.GetEntitlement(context.Background(), 1)
		require.NoError(t, err)
		return ent.Level
	}

	older := entity.PurchaseOutcome{InvoiceId: "inv_a", Status: entity.PurchaseSuccess, Tier: entity.TierOne, PaidAt: t1}
	newer := entity.PurchaseOutcome{InvoiceId: "inv_b", Status: entity.PurchaseSuccess, Tier: entity.TierTwo, PaidAt: t2}

	// whichever arrival order, the newer effective date wins
	assert.Equal(t, entity.TierTwo, run(older, newer))
	assert.Equal(t, entity.TierTwo, run(newer, older))
}

func TestReapplySameSignalIsNoOp(t *testing.T) {
	rec, store, _, _ := setup(t)
	notifier := &fakeNotifier{}
	rec.SetNotifier(notifier)
	now := time.Now().UTC()
	addPurchase(t, store, 1, "inv_1", now)

	outcome := &entity.PurchaseOutcome{InvoiceId: "inv_1", Status: entity.PurchaseSuccess, Tier: entity.TierTwo, PaidAt: now}
	require.NoError(t, rec.HandleWebhook(context.Background(), outcome, nil))
	require.NoError(t, rec.HandleWebhook(context.Background(), outcome, nil))

	ent, err := store.GetEntitlement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierTwo, ent.Level)
	assert.Equal(t, now.Truncate(time.Second), ent.EffectiveSince.Truncate(time.Second))
	// the duplicate must not produce a second notification
	assert.Len(t, notifier.all(), 1)
}

func TestGrant(t *testing.T) {
	rec, store, _, _ := setup(t)

	require.NoError(t, rec.Grant(context.Background(), 1, entity.TierThree))

	ent, err := store.GetEntitlement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.TierThree, ent.Level)
}
