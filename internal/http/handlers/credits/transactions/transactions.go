// Package transactions отдаёт журнал кредитов пользователя, новые записи первыми.
package transactions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
)

type Service interface {
	Transactions(ctx context.Context, userID string) ([]*models.CreditTransaction, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Журнал кредитов
// @Description Возвращает записи журнала кредитов текущего пользователя от новых к старым.
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.CreditTransaction
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /credits/transactions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.transactions"
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

	list, err := h.service.Transactions(r.Context(), userID)
	if err != nil {
		log.Error("failed to list credit transactions", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list credit transactions"))
		return
	}
	if list == nil {
		list = []*models.CreditTransaction{}
	}

	log.Info("credit transactions listed", slog.Int("count", len(list)))
	render.JSON(w, r, list)
}
