// Package decide отвечает на вопрос «можно ли пользователю выполнить действие сейчас»
// без побочных эффектов: контекст собирается из хранилища, решение принимает политика.
package decide

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usercontext"
)

// Request действие и известное вызывающей стороне состояние пользователя.
type Request struct {
	Action            string `json:"action" validate:"required"`
	Subject           string `json:"subject" validate:"required"`
	MonthNumber       int    `json:"monthNumber" validate:"gte=0"`
	BabyCount         *int   `json:"babyCount,omitempty" validate:"omitempty,gte=0"`
	MonthlyPhotoCount *int   `json:"monthlyPhotoCount,omitempty" validate:"omitempty,gte=0"`
}

// ContextLoader собирает контекст пользователя.
type ContextLoader interface {
	Load(ctx context.Context, userID string, usage usercontext.Usage) (entitlement.UserContext, error)
}

type Handler struct {
	log      *slog.Logger
	loader   ContextLoader
	validate *validator.Validate
}

func New(log *slog.Logger, loader ContextLoader) *Handler {
	return &Handler{
		log:      log,
		loader:   loader,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Проверить доступ к действию
// @Tags Entitlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body decide.Request true "Действие и объект"
// @Success 200 {object} entitlement.Decision
// @Failure 400 {object} response.ErrorResponse "Неизвестное действие или объект"
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /entitlements/decide [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.decide"
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

	uc, err := h.loader.Load(r.Context(), userID, usercontext.Usage{
		MonthNumber:       req.MonthNumber,
		BabyCount:         req.BabyCount,
		MonthlyPhotoCount: req.MonthlyPhotoCount,
	})
	if err != nil {
		log.Error("failed to load user context", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not load user context"))
		return
	}

	decision, err := entitlement.Decide(uc, entitlement.Action(req.Action), entitlement.Subject(req.Subject))
	if err != nil {
		if errors.Is(err, entitlement.ErrMalformedInput) {
			log.Info("malformed entitlement input", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		log.Error("failed to decide", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not decide"))
		return
	}

	log.Debug("decision made",
		slog.String("tier", string(uc.Tier)),
		slog.String("action", req.Action),
		slog.String("subject", req.Subject),
		slog.Bool("allowed", decision.Allowed),
	)
	render.JSON(w, r, decision)
}
