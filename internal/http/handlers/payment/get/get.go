// Package get отдаёт администратору платёжную транзакцию по ID.
package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
)

type Service interface {
	GetPayment(ctx context.Context, id string) (*models.PaymentTransaction, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Платёжная транзакция
// @Description Только для администратора.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID транзакции"
// @Success 200 {object} models.PaymentTransaction
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse "Транзакция не найдена"
// @Failure 500 {object} response.ErrorResponse
// @Router /admin/payments/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.get"
	id := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("transaction_id", id),
	)

	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, reconciler.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("payment transaction not found"))
			return
		}
		log.Error("failed to get payment", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get payment transaction"))
		return
	}

	render.JSON(w, r, p)
}
