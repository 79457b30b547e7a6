package promo

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

// Store is the storage slice the redeemer depends on. RedeemPromo must be
// transactional: activation check, decrement and grant land together or
// not at all.
type Store interface {
	GetEntitlement(ctx context.Context, userId int64) (*entity.Entitlement, error)
	RedeemPromo(ctx context.Context, userId int64, username, code string, now time.Time) (entity.RedeemResult, error)
}

type Notifier interface {
	LevelChanged(change entity.LevelChange)
}

// Redeemer handles one-time promocode redemption. Per-user redemptions
// are serialized in-process on top of the storage transaction, which
// alone already guarantees a count of 1 yields exactly one grant.
type Redeemer struct {
	store    Store
	cache    *cache.Validity
	notifier Notifier
	locks    keymutex.KeyMutex
	log      *slog.Logger
}

func New(store Store, validity *cache.Validity, log *slog.Logger) *Redeemer {
	return &Redeemer{
		store: store,
		cache: validity,
		log:   log.With(sl.Module("promo")),
	}
}

func (r *Redeemer) SetNotifier(n Notifier) {
	r.notifier = n
}

// Redeem grants the promo tier for a valid, unexhausted code. An unknown
// user is created with default attributes as part of the grant. A user
// already at the promo tier gets already_has_promo for any code, with no
// activation count touched anywhere.
func (r *Redeemer) Redeem(ctx context.Context, userId int64, username, code string) (entity.RedeemResult, error) {
	log := r.log.With(sl.UserId(userId), sl.Secret("code", code))
	now := clock.NowUTC()

	unlock := r.locks.Lock(userId)
	defer unlock()

	oldLevel := entity.TierNonSubscribed
	if ent, err := r.store.GetEntitlement(ctx, userId); err == nil {
		oldLevel = ent.Level
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	result, err := r.store.RedeemPromo(ctx, userId, username, code, now)
	if err != nil {
		return "", err
	}
	log = log.With(slog.String("result", string(result)))

	if result != entity.RedeemGranted {
		log.Debug("redemption rejected")
		return result, nil
	}

	r.cache.Set(userId, entity.TierPromo)
	if r.notifier != nil {
		r.notifier.LevelChanged(entity.LevelChange{
			UserId:   userId,
			OldLevel: oldLevel,
			NewLevel: entity.TierPromo,
			At:       now,
			Reason:   "promocode",
		})
	}
	log.Info("promocode redeemed")
	return result, nil
}
