package promocode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"clanity/entity"
	"clanity/lib/api/response"
	"clanity/lib/sl"
	"clanity/lib/validate"
)

type Core interface {
	RedeemPromocode(ctx context.Context, userId int64, username, code string) (entity.RedeemResult, error)
}

type RedeemRequest struct {
	UserId   int64  `json:"user_id" validate:"required"`
	Username string `json:"username"`
	Code     string `json:"code" validate:"required"`
}

func (q *RedeemRequest) Bind(_ *http.Request) error {
	return validate.Struct(q)
}

type redeemResult struct {
	Result entity.RedeemResult `json:"result"`
}

// Redeem applies one promocode for one user. Every outcome except an
// internal failure is a 200 with the result field set; not_found and
// exhausted are expected answers, not errors.
func Redeem(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.promocode"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req RedeemRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(sl.UserId(req.UserId))

		result, err := handler.RedeemPromocode(r.Context(), req.UserId, req.Username, req.Code)
		if err != nil {
			logger.Error("redeem promocode", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Could not redeem promocode"))
			return
		}
		logger.With(slog.String("result", string(result))).Debug("promocode processed")

		render.JSON(w, r, response.Ok(redeemResult{Result: result}))
	}
}
