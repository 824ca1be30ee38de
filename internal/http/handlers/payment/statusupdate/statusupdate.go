// Package statusupdate реализует административный обработчик смены статуса платёжной транзакции.
//
// Переход в completed запускает сверку: начисление кредитов или активацию подписки.
package statusupdate

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
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
)

// Request тело запроса администратора.
type Request struct {
	TransactionID     string  `json:"transactionId" validate:"required"`
	Status            string  `json:"status" validate:"required,oneof=pending completed failed refunded"`
	ExternalPaymentID *string `json:"externalPaymentId,omitempty" validate:"omitempty,max=255"`
	AdminNotes        *string `json:"adminNotes,omitempty" validate:"omitempty,max=2000"`
}

// Service описывает сверку платежей.
type Service interface {
	OnStatusTransition(ctx context.Context, upd reconciler.StatusUpdate) (*models.PaymentTransaction, error)
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
// @Summary Сменить статус платежа
// @Description Только для администратора. Возвращает обновлённую платёжную транзакцию.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body statusupdate.Request true "Новый статус"
// @Success 200 {object} models.PaymentTransaction
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации или некорректная metadata"
// @Failure 401 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse "Требуются права администратора"
// @Failure 404 {object} response.ErrorResponse "Транзакция не найдена"
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/payments/status [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.statusupdate"
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

	p, err := h.service.OnStatusTransition(r.Context(), reconciler.StatusUpdate{
		TransactionID:     req.TransactionID,
		Status:            models.PaymentStatus(req.Status),
		ExternalPaymentID: req.ExternalPaymentID,
		AdminNotes:        req.AdminNotes,
		VerifiedBy:        adminID,
	})
	if err != nil {
		log.Error("failed to update payment transaction", sl.Err(err), slog.String("transaction_id", req.TransactionID))
		switch {
		case errors.Is(err, reconciler.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("payment transaction not found"))
		case errors.Is(err, reconciler.ErrInvalidStatus):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid status"))
		case errors.Is(err, reconciler.ErrMalformedMetadata),
			errors.Is(err, credits.ErrCreditsMismatch),
			errors.Is(err, credits.ErrInvalidPaymentState):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("payment metadata does not allow completion"))
		default:
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not update payment transaction"))
		}
		return
	}

	log.Info("payment transaction updated", slog.String("transaction_id", p.ID), slog.String("status", string(p.Status)))
	render.JSON(w, r, p)
}
