package paymenthook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"clanity/entity"
	"clanity/lib/api/response"
	"clanity/lib/sl"
)

type Core interface {
	PaymentVerifySignature(payload []byte, header string, tolerance time.Duration) bool
	PaymentWebhook(ctx context.Context, payload []byte) error
}

const signatureTolerance = 5 * time.Minute

// Event receives provider notifications. A bad signature or an
// unparseable body is the sender's fault and gets a 4xx; everything
// after that point is acknowledged with a 2xx so the provider stops
// retrying, even when reconciliation itself fails. Unresolved payments
// are picked up again by the poll path.
func Event(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.paymenthook"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("read payload", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid payload"))
			return
		}

		signature := r.Header.Get("Stripe-Signature")
		if !handler.PaymentVerifySignature(payload, signature, signatureTolerance) {
			logger.Warn("signature verification failed")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("Invalid signature"))
			return
		}

		if err = handler.PaymentWebhook(r.Context(), payload); err != nil {
			if errors.Is(err, entity.ErrMalformedWebhook) {
				logger.Warn("malformed webhook", sl.Err(err))
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("Malformed event"))
				return
			}
			// acknowledged anyway; the poll path will reconcile later
			logger.Error("webhook reconciliation failed", sl.Err(err))
		}

		render.JSON(w, r, response.Ok(nil))
	}
}
