package entitlement

import (
	"context"
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
	Entitlement(ctx context.Context, userId int64) (*entity.Entitlement, error)
	RequireTier(ctx context.Context, userId int64, allowed []entity.Tier) (bool, error)
}

// RequireRequest gates one requested action on a set of allowed tiers.
type RequireRequest struct {
	UserId  int64         `json:"user_id" validate:"required"`
	Allowed []entity.Tier `json:"allowed" validate:"required,min=1"`
}

func (q *RequireRequest) Bind(_ *http.Request) error {
	if err := validate.Struct(q); err != nil {
		return err
	}
	for _, tier := range q.Allowed {
		if !tier.Known() {
			return fmt.Errorf("unknown tier %q", tier)
		}
	}
	return nil
}

type requireResult struct {
	Allowed bool `json:"allowed"`
}

// Get reports the stored level; read-only, no provider call.
func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.entitlement"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || userId <= 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid user id"))
			return
		}

		ent, err := handler.Entitlement(r.Context(), userId)
		if err != nil {
			logger.With(sl.UserId(userId)).Error("get entitlement", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Could not read entitlement"))
			return
		}

		render.JSON(w, r, response.Ok(ent))
	}
}

// Require answers the tier gate used before a restricted action.
func Require(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.entitlement"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req RequireRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		allowed, err := handler.RequireTier(r.Context(), req.UserId, req.Allowed)
		if err != nil {
			logger.With(sl.UserId(req.UserId)).Error("require tier", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Could not read entitlement"))
			return
		}

		render.JSON(w, r, response.Ok(requireResult{Allowed: allowed}))
	}
}
