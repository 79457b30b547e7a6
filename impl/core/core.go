package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clanity/entity"
	"clanity/impl/promo"
	"clanity/impl/reconcile"
	"clanity/internal/storage"
	"clanity/internal/stripeclient"
	"clanity/lib/clock"
	"clanity/lib/sl"
)

type AuthService interface {
	ClientByToken(ctx context.Context, token string) (*entity.Client, error)
}

// Store is the storage surface the orchestrator touches directly;
// everything reconciliation-shaped goes through the reconciler instead.
type Store interface {
	GetEntitlement(ctx context.Context, userId int64) (*entity.Entitlement, error)
	EnsureEntitlement(ctx context.Context, userId int64, username string, now time.Time) (*entity.Entitlement, error)
	RecordPurchase(ctx context.Context, p *entity.Purchase) error
}

// Core wires the gateway, reconciler and redeemer behind the narrow
// interfaces the transport handlers consume.
type Core struct {
	store Store
	sc    *stripeclient.StripeClient
	rec   *reconcile.Reconciler
	promo *promo.Redeemer
	auth  AuthService
	log   *slog.Logger
}

func New(store Store, sc *stripeclient.StripeClient, rec *reconcile.Reconciler, redeemer *promo.Redeemer, log *slog.Logger) *Core {
	if sc == nil {
		panic("stripe client is nil")
	}
	return &Core{
		store: store,
		sc:    sc,
		rec:   rec,
		promo: redeemer,
		log:   log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

func (c *Core) AuthenticateByToken(ctx context.Context, token string) (*entity.Client, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.ClientByToken(ctx, token)
}

// SubscriptionLink creates a payable invoice and records the ledger entry.
// The ledger write happens only after the provider accepted the invoice;
// a failed creation leaves no trace.
func (c *Core) SubscriptionLink(ctx context.Context, userId int64, tier entity.Tier, amount int64) (*entity.InvoiceRef, error) {
	ref, err := c.sc.CreateInvoice(ctx, userId, tier, amount)
	if err != nil {
		return nil, err
	}
	err = c.store.RecordPurchase(ctx, &entity.Purchase{
		UserId:    userId,
		InvoiceId: ref.InvoiceId,
		CreatedAt: clock.NowUTC(),
	})
	if err != nil {
		// the invoice exists at the provider but is not in the ledger;
		// it can never resolve, so surface the failure to the caller
		return nil, fmt.Errorf("record purchase: %w", err)
	}
	return ref, nil
}

// CheckSubscription runs the poll-path reconciliation for one user.
func (c *Core) CheckSubscription(ctx context.Context, userId int64) (entity.Tier, bool, error) {
	return c.rec.CheckUser(ctx, userId)
}

// Entitlement is the read-only gate used by the quiz/UI layer. Unknown
// users report the default unsubscribed tier; no provider call is made.
func (c *Core) Entitlement(ctx context.Context, userId int64) (*entity.Entitlement, error) {
	ent, err := c.store.GetEntitlement(ctx, userId)
	if errors.Is(err, storage.ErrNotFound) {
		return &entity.Entitlement{UserId: userId, Level: entity.TierNonSubscribed}, nil
	}
	return ent, err
}

// RequireTier reports whether the user's current level is one of the
// allowed tiers.
func (c *Core) RequireTier(ctx context.Context, userId int64, allowed []entity.Tier) (bool, error) {
	ent, err := c.Entitlement(ctx, userId)
	if err != nil {
		return false, err
	}
	for _, tier := range allowed {
		if ent.Level == tier {
			return true, nil
		}
	}
	return false, nil
}

// Register records first contact, creating the trial entitlement when the
// user is new.
func (c *Core) Register(ctx context.Context, userId int64, username string) (*entity.Entitlement, error) {
	return c.store.EnsureEntitlement(ctx, userId, username, clock.NowUTC())
}

func (c *Core) RedeemPromocode(ctx context.Context, userId int64, username, code string) (entity.RedeemResult, error) {
	if c.promo == nil {
		return "", fmt.Errorf("promocode service not connected")
	}
	return c.promo.Redeem(ctx, userId, username, code)
}

func (c *Core) PaymentVerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	return c.sc.VerifySignature(payload, header, tolerance)
}

// PaymentWebhook parses and reconciles one inbound provider notification.
// ErrMalformedWebhook surfaces to the endpoint (client error); every other
// failure is internal and must not prevent the 2xx acknowledgement.
func (c *Core) PaymentWebhook(ctx context.Context, payload []byte) error {
	outcome, err := c.sc.ParseWebhook(payload)
	if err != nil {
		if errors.Is(err, entity.ErrMalformedWebhook) {
			return err
		}
		// recognized event with an unmapped tier code: log and drop
		c.log.Warn("webhook dropped", sl.Err(err))
		return nil
	}
	if outcome == nil {
		// well-formed but irrelevant event type
		return nil
	}
	return c.rec.HandleWebhook(ctx, outcome, payload)
}

// Grant applies a level manually (admin surface), under the same
// monotonic rule as every other writer.
func (c *Core) Grant(ctx context.Context, userId int64, tier entity.Tier) error {
	if !tier.Known() {
		return fmt.Errorf("%w: %q", entity.ErrUnknownTier, tier)
	}
	return c.rec.Grant(ctx, userId, tier)
}
