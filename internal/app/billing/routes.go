package billing

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/babysteps-billing/internal/config"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/credits/balance"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/credits/purchase"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/credits/refund"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/credits/spend"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/credits/transactions"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/entitlement/decide"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/health"
	paymentget "github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/payment/get"
	paymentlist "github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/payment/list"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/payment/statusupdate"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/handlers/usage/record"
	"github.com/magabrotheeeer/babysteps-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usage"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usercontext"
)

// Services зависимости обработчиков.
type Services struct {
	Credits     *credits.Service
	Reconciler  *reconciler.Service
	Usage       *usage.Service
	Loader      *usercontext.Loader
	Tokens      middlewarectx.TokenParser
	Idempotency middlewarectx.IdempotencyStore
	DB          health.Pinger
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, svc Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(logger, svc.DB).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.JWTMiddleware(svc.Tokens, logger))

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, cfg.RPS, cfg.Burst))

			r.Get("/credits/balance", balance.New(logger, svc.Credits).ServeHTTP)
			r.Get("/credits/transactions", transactions.New(logger, svc.Credits).ServeHTTP)
			r.Post("/entitlements/decide", decide.New(logger, svc.Loader).ServeHTTP)

			// повтор запроса с тем же Idempotency-Key не списывает кредиты второй раз
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.IdempotencyMiddleware(logger, svc.Idempotency, cfg.IdempotencyTTL))
				r.Post("/credits/purchase", purchase.New(logger, svc.Credits).ServeHTTP)
				r.Post("/credits/spend", spend.New(logger, svc.Credits).ServeHTTP)
				r.Post("/usage", record.New(logger, svc.Usage).ServeHTTP)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewarectx.RequireAdmin(logger))
			r.Get("/payments", paymentlist.New(logger, svc.Reconciler).ServeHTTP)
			r.Get("/payments/{id}", paymentget.New(logger, svc.Reconciler).ServeHTTP)
			r.Post("/payments/status", statusupdate.New(logger, svc.Reconciler).ServeHTTP)
			r.With(middlewarectx.IdempotencyMiddleware(logger, svc.Idempotency, cfg.IdempotencyTTL)).
				Post("/credits/refund", refund.New(logger, svc.Credits).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
