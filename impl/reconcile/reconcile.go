package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clanity/entity"
	"clanity/internal/storage"
	"clanity/lib/cache"
	"clanity/lib/clock"
	"clanity/lib/keymutex"
	"clanity/lib/sl"
)

// Store is the slice of storage the reconciler depends on.
// Implemented by internal/storage.
type Store interface {
	GetEntitlement(ctx context.Context, userId int64) (*entity.Entitlement, error)
	ApplyLevel(ctx context.Context, userId int64, level entity.Tier, since time.Time) (*entity.Entitlement, error)
	RecentPurchases(ctx context.Context, userId int64, since time.Time) ([]string, error)
	UserByInvoice(ctx context.Context, invoiceId string) (int64, error)
}

// Gateway polls the payment provider for a single invoice.
type Gateway interface {
	InvoiceStatus(ctx context.Context, invoiceId string) (*entity.PurchaseOutcome, error)
}

// Archive receives raw purchase signals and applied transitions for
// diagnostics. Optional.
type Archive interface {
	SavePurchaseEvent(invoiceId string, payload []byte, receivedAt time.Time) error
	SaveLevelChange(change *entity.LevelChange) error
}

// Notifier receives level-change events. Delivery is best-effort: the
// entitlement write has already committed when this fires.
type Notifier interface {
	LevelChanged(change entity.LevelChange)
}

const providerCallTimeout = 10 * time.Second

// Reconciler converts purchase signals into at most one entitlement level
// transition per signal. Two producers feed it: inbound webhooks and
// status polls (manual or scheduled); both funnel through the same
// monotonic apply, so whichever carries the newer effective date wins
// regardless of arrival order.
type Reconciler struct {
	store      Store
	gw         Gateway
	cache      *cache.Validity
	archive    Archive
	notifier   Notifier
	locks      keymutex.KeyMutex
	windowDays int
	log        *slog.Logger
}

func New(store Store, gw Gateway, validity *cache.Validity, windowDays int, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		gw:         gw,
		cache:      validity,
		windowDays: windowDays,
		log:        log.With(sl.Module("reconcile")),
	}
}

func (r *Reconciler) SetArchive(a Archive) {
	r.archive = a
}

func (r *Reconciler) SetNotifier(n Notifier) {
	r.notifier = n
}

// HandleWebhook processes one normalized provider notification. The raw
// payload is archived before any decision. An invoice with no ledger entry
// is logged and dropped: the ledger is the source of truth for who bought
// what, and webhook delivery is untrusted.
func (r *Reconciler) HandleWebhook(ctx context.Context, outcome *entity.PurchaseOutcome, raw []byte) error {
	log := r.log.With(sl.Invoice(outcome.InvoiceId), slog.String("status", string(outcome.Status)))

	if r.archive != nil {
		if err := r.archive.SavePurchaseEvent(outcome.InvoiceId, raw, clock.NowUTC()); err != nil {
			log.Warn("archive purchase event", sl.Err(err))
		}
	}

	userId, err := r.store.UserByInvoice(ctx, outcome.InvoiceId)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("webhook for unknown invoice dropped")
			return nil
		}
		return err
	}
	log = log.With(sl.UserId(userId))

	if !outcome.Successful() {
		log.Debug("webhook carries no upgrade")
		return nil
	}

	since := outcome.PaidAt
	if since.IsZero() {
		since = clock.NowUTC()
	}
	if err = r.apply(ctx, userId, outcome.Tier, since, "webhook"); err != nil {
		return err
	}
	log.Info("webhook applied")
	return nil
}

// CheckUser is the poll path: it reports whether the user currently holds
// any entitled tier, reconciling unresolved recent purchases on the way.
//
// The validity cache only ever short-circuits the "already proven paid"
// side: with a fresh cache entry and a stored paid or promo level the
// provider is not consulted. A user at the default/free levels is always
// checked against the ledger even on a cache hit, so an expired trial can
// never be reported valid forever without looking for a real purchase.
func (r *Reconciler) CheckUser(ctx context.Context, userId int64) (entity.Tier, bool, error) {
	log := r.log.With(sl.UserId(userId))

	level := entity.TierNonSubscribed
	ent, err := r.store.GetEntitlement(ctx, userId)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", false, err
	}
	if ent != nil {
		level = ent.Level
	}

	if _, fresh := r.cache.Get(userId); fresh && (level.IsPaid() || level == entity.TierPromo) {
		return level, true, nil
	}

	invoices, err := r.store.RecentPurchases(ctx, userId, clock.Cutoff(r.windowDays))
	if err != nil {
		return "", false, err
	}

	// most recent first; stop at the first entry that resolves to a known
	// tier, never aggregate across entries
	for _, invoiceId := range invoices {
		outcome, err := r.pollInvoice(ctx, invoiceId)
		if err != nil {
			// one bad invoice never aborts the sweep
			log.With(sl.Invoice(invoiceId)).Warn("poll invoice", sl.Err(err))
			continue
		}
		if !outcome.Successful() {
			continue
		}
		since := outcome.PaidAt
		if since.IsZero() {
			since = clock.NowUTC()
		}
		if err = r.apply(ctx, userId, outcome.Tier, since, "poll"); err != nil {
			return "", false, err
		}
		return outcome.Tier, true, nil
	}

	// no resolvable purchase: the stored level stands; an unverifiable
	// purchase reads as "not yet valid", not as an error
	return level, level.Entitled(), nil
}

func (r *Reconciler) pollInvoice(ctx context.Context, invoiceId string) (*entity.PurchaseOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	return r.gw.InvoiceStatus(callCtx, invoiceId)
}

// Grant applies a level directly, bypassing the provider. Used by the
// admin surface; subject to the same monotonic rule as every other writer.
func (r *Reconciler) Grant(ctx context.Context, userId int64, tier entity.Tier) error {
	return r.apply(ctx, userId, tier, clock.NowUTC(), "admin")
}

// apply serializes writers per user and enforces the monotonic
// effective-date rule. A lost race (ErrConflict) means a newer write is
// already in place and is treated as success-no-op; re-applying the same
// invoice refreshes the cache TTL without touching the stored row. The
// per-user lock is held only around the store write, never across a
// provider call.
func (r *Reconciler) apply(ctx context.Context, userId int64, tier entity.Tier, since time.Time, reason string) error {
	unlock := r.locks.Lock(userId)
	prev, err := r.store.ApplyLevel(ctx, userId, tier, since)
	unlock()

	if errors.Is(err, storage.ErrConflict) {
		r.cache.Set(userId, prev.Level)
		r.log.With(
			sl.UserId(userId),
			slog.String("tier", tier.String()),
		).Debug("stale write skipped")
		return nil
	}
	if err != nil {
		return err
	}

	r.cache.Set(userId, tier)

	oldLevel := entity.TierNonSubscribed
	if prev != nil {
		oldLevel = prev.Level
	}
	if oldLevel == tier {
		return nil
	}
	change := entity.LevelChange{
		UserId:   userId,
		OldLevel: oldLevel,
		NewLevel: tier,
		At:       since,
		Reason:   reason,
	}
	if r.archive != nil {
		if err := r.archive.SaveLevelChange(&change); err != nil {
			r.log.Warn("archive level change", sl.Err(err))
		}
	}
	if r.notifier != nil {
		r.notifier.LevelChanged(change)
	}
	return nil
}
