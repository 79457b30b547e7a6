package stripeclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"clanity/entity"
	"clanity/internal/config"
	"clanity/lib/sl"
)

// metadataTier is the structured tier code attached to every invoice.
// Reconciliation reads this field back, never the free-text description.
const metadataTier = "tier"

// StripeClient is the payment gateway adapter. It creates payable
// invoices, polls their status and normalizes webhook payloads into
// purchase outcomes. It persists nothing itself: ledger writes are the
// caller's job, and only after a successful creation.
type StripeClient struct {
	sc            *client.API
	webhookSecret string
	successUrl    string
	currency      string
	testMode      bool
	log           *slog.Logger
}

func New(conf *config.Config, logger *slog.Logger) *StripeClient {
	stripeKey := conf.Stripe.APIKey
	webhookSecret := conf.Stripe.WebhookSecret
	if conf.Stripe.TestMode {
		stripeKey = conf.Stripe.TestKey
		webhookSecret = conf.Stripe.TestWebhookSecret
		logger.With(
			sl.Secret("api_key", stripeKey),
			sl.Secret("webhook_secret", webhookSecret),
		).Info("using test mode for stripe")
	}
	currency, _ := conf.Currency()
	sc := &client.API{}
	sc.Init(stripeKey, nil)
	return &StripeClient{
		sc:            sc,
		webhookSecret: webhookSecret,
		successUrl:    conf.Stripe.SuccessURL,
		currency:      strings.ToLower(currency),
		testMode:      conf.Stripe.TestMode,
		log:           logger.With(sl.Module("stripe")),
	}
}

// CreateInvoice asks the provider for a payable invoice for one tier.
// The session carries the structured tier code plus a caller-side
// idempotency reference. On any failure nothing must be recorded in the
// ledger, so the error is surfaced as retryable ErrGatewayUnavailable.
func (s *StripeClient) CreateInvoice(ctx context.Context, userId int64, tier entity.Tier, amount int64) (*entity.InvoiceRef, error) {
	if !tier.IsPaid() {
		return nil, fmt.Errorf("%w: %q is not purchasable", entity.ErrUnknownTier, tier)
	}
	log := s.log.With(
		sl.UserId(userId),
		slog.String("tier", tier.String()),
		slog.Int64("amount", amount),
	)

	reference := uuid.NewString()
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Clanity subscription (%s)", tier)),
				},
				UnitAmount: stripe.Int64(amount),
			},
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			metadataTier: tier.String(),
			"user_id":    strconv.FormatInt(userId, 10),
			"reference":  reference,
		},
		ClientReferenceID: stripe.String(reference),
		SuccessURL:        stripe.String(s.successUrl),
	}

	cs, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		err = s.parseErr(err)
		return nil, fmt.Errorf("%w: create invoice: %s", entity.ErrGatewayUnavailable, err)
	}

	log.With(sl.Invoice(cs.ID)).Info("invoice created")
	return &entity.InvoiceRef{InvoiceId: cs.ID, PayLink: cs.URL}, nil
}

// InvoiceStatus polls the provider for a single invoice. A missing invoice
// is ErrInvoiceNotFound (do not retry); every other failure, timeouts
// included, is ErrGatewayUnavailable (retryable). A timeout is never
// interpreted as "invoice failed".
func (s *StripeClient) InvoiceStatus(ctx context.Context, invoiceId string) (*entity.PurchaseOutcome, error) {
	cs, err := s.sc.CheckoutSessions.Get(invoiceId, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", entity.ErrInvoiceNotFound, invoiceId)
		}
		err = s.parseErr(err)
		return nil, fmt.Errorf("%w: invoice status: %s", entity.ErrGatewayUnavailable, err)
	}
	return s.outcomeFromSession(cs)
}

func (s *StripeClient) outcomeFromSession(cs *stripe.CheckoutSession) (*entity.PurchaseOutcome, error) {
	outcome := &entity.PurchaseOutcome{InvoiceId: cs.ID}
	switch {
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		outcome.Status = entity.PurchaseSuccess
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		outcome.Status = entity.PurchaseFailed
	default:
		outcome.Status = entity.PurchasePending
	}
	if outcome.Status != entity.PurchaseSuccess {
		return outcome, nil
	}
	tier, err := entity.ParseTierCode(cs.Metadata[metadataTier])
	if err != nil {
		return outcome, err
	}
	outcome.Tier = tier
	return outcome, nil
}

// ParseWebhook normalizes an inbound provider notification. Payloads that
// cannot be decoded or lack required fields fail with ErrMalformedWebhook;
// events that are well-formed but irrelevant to purchases return (nil, nil)
// and should simply be acknowledged. Webhook delivery is untrusted and
// possibly replayed, so the caller verifies the signature first.
func (s *StripeClient) ParseWebhook(payload []byte) (*entity.PurchaseOutcome, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrMalformedWebhook, err)
	}

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionExpired:
	default:
		return nil, nil
	}

	invoiceId := evt.GetObjectValue("id")
	if invoiceId == "" {
		return nil, fmt.Errorf("%w: missing session id", entity.ErrMalformedWebhook)
	}

	outcome := &entity.PurchaseOutcome{InvoiceId: invoiceId}
	if evt.Type == stripe.EventTypeCheckoutSessionExpired {
		outcome.Status = entity.PurchaseFailed
		return outcome, nil
	}
	if evt.GetObjectValue("payment_status") != string(stripe.CheckoutSessionPaymentStatusPaid) {
		outcome.Status = entity.PurchasePending
		return outcome, nil
	}

	outcome.Status = entity.PurchaseSuccess
	if evt.Created > 0 {
		outcome.PaidAt = time.Unix(evt.Created, 0).UTC()
	}
	tier, err := entity.ParseTierCode(evt.GetObjectValue("metadata", metadataTier))
	if err != nil {
		// known invoice, unmapped tier code: the caller logs and drops,
		// it never silently matches some other tier
		return outcome, err
	}
	outcome.Tier = tier
	return outcome, nil
}

// VerifySignature checks the provider HMAC header within a replay
// tolerance window.
func (s *StripeClient) VerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	secret := s.webhookSecret
	parts := strings.Split(header, ",")
	var ts, sig string
	for _, p := range parts {
		if strings.HasPrefix(p, "t=") {
			ts = strings.TrimPrefix(p, "t=")
		}
		if strings.HasPrefix(p, "v1=") {
			sig = strings.TrimPrefix(p, "v1=")
		}
	}
	if ts == "" || sig == "" {
		s.log.Warn("missing timestamp or signature in header")
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		s.log.With(
			sl.Err(err),
		).Warn("failed to parse timestamp")
		return false
	}

	eventTime := time.Unix(tsInt, 0)
	timeSince := time.Since(eventTime)
	if timeSince > tolerance {
		s.log.With(
			slog.Time("timestamp", eventTime),
			slog.Duration("age", timeSince),
			slog.Duration("tolerance", tolerance),
		).Warn("webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(expected), []byte(sig))
	if !isValid {
		s.log.Warn("signature mismatch")
		if s.testMode {
			return true
		}
	}
	return isValid
}
