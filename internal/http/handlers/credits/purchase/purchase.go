// Package purchase реализует HTTP-обработчик начисления купленных кредитов.
//
// Обработчик принимает ссылку на оплаченную платёжную транзакцию и число кредитов,
// проверяет их и начисляет кредиты текущему пользователю. Повторный запрос по той же
// транзакции возвращает прежний результат без повторного начисления.
package purchase

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

// Request тело запроса на начисление кредитов. Amount - сумма платежа в центах.
type Request struct {
	Amount               int    `json:"amount" validate:"required,gt=0"`
	Credits              int    `json:"credits" validate:"required,gt=0"`
	PaymentTransactionID string `json:"paymentTransactionId" validate:"required"`
}

// Response тело успешного ответа.
type Response struct {
	NewBalance          int    `json:"newBalance"`
	Credits             int    `json:"credits"`
	CreditTransactionID string `json:"creditTransactionId"`
}

// Service описывает начисление кредитов по платежу.
type Service interface {
	GrantFromPayment(ctx context.Context, paymentTransactionID, userID string, credits int) (credits.GrantResult, error)
}

// Handler обрабатывает POST /credits/purchase.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Начислить купленные кредиты
// @Description Начисляет кредиты по завершённой платёжной транзакции. Повтор по той же транзакции не меняет баланс.
// @Tags Credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body purchase.Request true "Платёжная транзакция и число кредитов"
// @Success 200 {object} purchase.Response
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации или платёж в неверном состоянии"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Платёжная транзакция не найдена"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /credits/purchase [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.credits.purchase"
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

	res, err := h.service.GrantFromPayment(r.Context(), req.PaymentTransactionID, userID, req.Credits)
	if err != nil {
		log.Error("failed to grant credits", sl.Err(err), slog.String("payment_transaction_id", req.PaymentTransactionID))
		switch {
		case errors.Is(err, credits.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("payment transaction not found"))
		case errors.Is(err, credits.ErrCreditsMismatch):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("credits do not match the payment"))
		case errors.Is(err, credits.ErrInvalidPaymentState):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("payment transaction is not a completed credits purchase"))
		case errors.Is(err, credits.ErrInvalidAmount):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("credits must be positive"))
		default:
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not grant credits"))
		}
		return
	}

	log.Info("credits granted",
		slog.Int("credits", res.Credits),
		slog.Int("amount_cents", req.Amount),
		slog.Bool("already_granted", res.AlreadyGranted),
	)
	render.JSON(w, r, Response{
		NewBalance:          res.NewBalance,
		Credits:             res.Credits,
		CreditTransactionID: res.CreditTransactionID,
	})
}
