// Package refund реализует административный возврат кредитов пользователю.
package refund

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
)

// Request тело запроса на возврат.
type Request struct {
	UserID      string `json:"userId" validate:"required,max=255"`
	Amount      int    `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required,max=255"`
}

// Response тело успешного ответа.
type Response struct {
	NewBalance          int    `json:"newBalance"`
	Refunded            int    `json:"refunded"`
	CreditTransactionID string `json:"creditTransactionId"`
}

// Service описывает возврат кредитов.
type Service interface {
	Refund(ctx context.Context, userID string, amount int, description string) (credits.RefundResult, error)
}

type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вернуть кредиты
// @Description Только для администратора. Начисляет кредиты записью типа refund. Повтор без Idempotency-Key начислит их ещё раз.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Ключ идемпотентности"
// @Param request body refund.Request true "Пользователь, сумма и причина возврата"
// @Success 200 {object} refund.Response
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse "Требуются права администратора"
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/credits/refund [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.refund"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	adminID, ok := middlewarectx.UserIDFromContext(r.Context())
	if !ok {
		log.Error("user id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.Refund(r.Context(), req.UserID, req.Amount, req.Description)
	if err != nil {
		if errors.Is(err, credits.ErrInvalidAmount) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("amount must be positive"))
			return
		}
		log.Error("failed to refund credits", sl.Err(err), slog.String("user_id", req.UserID))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not refund credits"))
		return
	}

	log.Info("credits refunded",
		slog.String("admin_id", adminID),
		slog.String("user_id", req.UserID),
		slog.Int("refunded", res.Refunded),
		slog.Int("new_balance", res.NewBalance),
	)
	render.JSON(w, r, Response{
		NewBalance:          res.NewBalance,
		Refunded:            res.Refunded,
		CreditTransactionID: res.CreditTransactionID,
	})
}
