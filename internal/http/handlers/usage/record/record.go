// Package record реализует HTTP-обработчик фиксации тарифицируемого действия пользователя.
//
// Ответы: 403 - действие запрещено тарифом, 402 - не хватает кредитов,
// 200 с chargeFailed=true - действие выполнено, но списание не сохранено.
package record

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

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/executor"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usage"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usercontext"
)

type Request struct {
	Action            string `json:"action" validate:"required"`
	Subject           string `json:"subject" validate:"required"`
	MonthNumber       int    `json:"monthNumber" validate:"gte=0"`
	Description       string `json:"description" validate:"max=255"`
	BabyCount         *int   `json:"babyCount,omitempty" validate:"omitempty,gte=0"`
	MonthlyPhotoCount *int   `json:"monthlyPhotoCount,omitempty" validate:"omitempty,gte=0"`
}

type Service interface {
	Record(ctx context.Context, userID string, req usage.RecordRequest) (usage.RecordResult, error)
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
// @Summary Зафиксировать действие
// @Description Проверяет доступ, сохраняет событие использования и списывает кредиты, если действие платное.
// @Tags Usage
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Ключ идемпотентности"
// @Param request body record.Request true "Действие"
// @Success 200 {object} usage.RecordResult
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 402 {object} response.ErrorResponse "Недостаточно кредитов"
// @Failure 403 {object} response.ErrorResponse "Действие недоступно на тарифе"
// @Failure 500 {object} response.ErrorResponse
// @Router /usage [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.usage.record"
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

	res, err := h.service.Record(r.Context(), userID, usage.RecordRequest{
		Action:      entitlement.Action(req.Action),
		Subject:     entitlement.Subject(req.Subject),
		Description: req.Description,
		Usage: usercontext.Usage{
			MonthNumber:       req.MonthNumber,
			BabyCount:         req.BabyCount,
			MonthlyPhotoCount: req.MonthlyPhotoCount,
		},
	})
	if err != nil {
		var (
			notPermitted *executor.NotPermittedError
			insufficient *credits.InsufficientCreditsError
		)
		switch {
		case errors.As(err, &notPermitted):
			log.Info("action not permitted", slog.String("reason", notPermitted.Reason))
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error(notPermitted.Error()))
		case errors.As(err, &insufficient):
			log.Info("insufficient credits", slog.Int("required", insufficient.Required), slog.Int("available", insufficient.Available))
			render.Status(r, http.StatusPaymentRequired)
			render.JSON(w, r, response.Error(fmt.Sprintf("insufficient credits: required %d, available %d",
				insufficient.Required, insufficient.Available)))
		case errors.Is(err, entitlement.ErrMalformedInput):
			log.Info("malformed input", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("unknown action or subject"))
		default:
			log.Error("failed to record usage", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not record usage"))
		}
		return
	}

	render.JSON(w, r, res)
}
