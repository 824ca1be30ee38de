// Package spend реализует HTTP-обработчик списания кредитов с баланса текущего пользователя.
package spend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// Request тело запроса на списание.
type Request struct {
	Amount      int    `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required,max=255"`
}

// Response тело успешного ответа.
type Response struct {
	NewBalance          int    `json:"newBalance"`
	Spent               int    `json:"spent"`
	CreditTransactionID string `json:"creditTransactionId"`
}

// Service описывает списание кредитов.
type Service interface {
	Spend(ctx context.Context, userID string, amount int, description string) (credits.SpendResult, error)
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
// @Summary Списать кредиты
// @Description Атомарно списывает кредиты с баланса текущего пользователя.
// @Tags Credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Ключ идемпотентности"
// @Param request body spend.Request true "Сумма и описание списания"
// @Success 200 {object} spend.Response
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 402 {object} response.ErrorResponse "Недостаточно кредитов"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /credits/spend [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.spend"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFromContext(r.Context())
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

	res, err := h.service.Spend(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		var insufficient *credits.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			log.Info("insufficient credits", slog.Int("required", insufficient.Required), slog.Int("available", insufficient.Available))
			render.Status(r, http.StatusPaymentRequired)
			render.JSON(w, r, response.Error(fmt.Sprintf("insufficient credits: required %d, available %d",
				insufficient.Required, insufficient.Available)))
		case errors.Is(err, credits.ErrInvalidAmount):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("amount must be positive"))
		default:
			log.Error("failed to spend credits", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not spend credits"))
		}
		return
	}

	log.Info("credits spent", slog.Int("spent", res.Spent), slog.Int("new_balance", res.NewBalance))
	render.JSON(w, r, Response{
		NewBalance:          res.NewBalance,
		Spent:               res.Spent,
		CreditTransactionID: res.CreditTransactionID,
	})
}
