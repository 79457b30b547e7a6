package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"clanity/entity"
	"clanity/lib/api/response"
	"clanity/lib/sl"
	"clanity/lib/validate"
)

type Core interface {
	SubscriptionLink(ctx context.Context, userId int64, tier entity.Tier, amount int64) (*entity.InvoiceRef, error)
	CheckSubscription(ctx context.Context, userId int64) (entity.Tier, bool, error)
}

// LinkRequest asks for a payable invoice for one purchasable tier.
// Amount is in the smallest currency unit.
type LinkRequest struct {
	UserId int64       `json:"user_id" validate:"required"`
	Tier   entity.Tier `json:"tier" validate:"required"`
	Amount int64       `json:"amount" validate:"required,gt=0"`
}

func (l *LinkRequest) Bind(_ *http.Request) error {
	if err := validate.Struct(l); err != nil {
		return err
	}
	if !l.Tier.IsPaid() {
		return fmt.Errorf("tier %q is not purchasable", l.Tier)
	}
	return nil
}

type checkResult struct {
	Valid bool        `json:"valid"`
	Level entity.Tier `json:"level"`
}

// Link creates an invoice at the provider and records the ledger entry.
func Link(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.subscription"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req LinkRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			sl.UserId(req.UserId),
			slog.String("tier", req.Tier.String()),
		)

		ref, err := handler.SubscriptionLink(r.Context(), req.UserId, req.Tier, req.Amount)
		if err != nil {
			logger.Error("create subscription link", sl.Err(err))
			if errors.Is(err, entity.ErrGatewayUnavailable) {
				render.Status(r, http.StatusBadGateway)
				render.JSON(w, r, response.Error("Payment provider unavailable"))
				return
			}
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Create link: %v", err)))
			return
		}
		logger.Debug("subscription link created")

		render.JSON(w, r, response.Ok(ref))
	}
}

// Check runs poll-path reconciliation and reports whether the user holds
// an entitled tier. An unverifiable purchase reads as valid=false, never
// as an error.
func Check(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.subscription"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || userId <= 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid user id"))
			return
		}
		logger = logger.With(sl.UserId(userId))

		level, valid, err := handler.CheckSubscription(r.Context(), userId)
		if err != nil {
			logger.Error("check subscription", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Could not verify purchase"))
			return
		}
		logger.With(
			slog.String("level", level.String()),
			slog.Bool("valid", valid),
		).Debug("subscription checked")

		render.JSON(w, r, response.Ok(checkResult{Valid: valid, Level: level}))
	}
}
