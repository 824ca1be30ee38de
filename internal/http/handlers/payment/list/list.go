// Package list отдаёт администратору платёжные транзакции с необязательным фильтром по статусу.
package list

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
)

type Service interface {
	ListPayments(ctx context.Context, status *models.PaymentStatus) ([]*models.PaymentTransaction, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Платёжные транзакции
// @Description Только для администратора. Сортировка от новых к старым.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Фильтр по статусу" Enums(pending, completed, failed, refunded)
// @Success 200 {array} models.PaymentTransaction
// @Failure 400 {object} response.ErrorResponse "Неизвестный статус"
// @Failure 403 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/payments [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var status *models.PaymentStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.PaymentStatus(raw)
		status = &s
	}

	payments, err := h.service.ListPayments(r.Context(), status)
	if err != nil {
		if errors.Is(err, reconciler.ErrInvalidStatus) {
			log.Info("invalid status filter", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid status"))
			return
		}
		log.Error("failed to list payments", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list payments"))
		return
	}
	if payments == nil {
		payments = []*models.PaymentTransaction{}
	}

	render.JSON(w, r, payments)
}
