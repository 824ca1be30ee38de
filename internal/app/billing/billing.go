// Package billing собирает приложение биллинга: хранилище, кэш, брокер, сервисы и HTTP-сервер.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/babysteps-billing/internal/cache"
	"github.com/magabrotheeeer/babysteps-billing/internal/config"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/metrics"
	"github.com/magabrotheeeer/babysteps-billing/internal/migrations"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/executor"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usage"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usercontext"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage/postgresql"
)

const shutdownTimeout = 15 * time.Second

// Events публикует доменные события биллинга.
type Events interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type App struct {
	server    *http.Server
	logger    *slog.Logger
	db        *postgresql.Storage
	cache     *cache.Cache
	amqpConn  *amqp.Connection
	publisher *rabbitmq.Publisher
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.billing.New"

	db, err := postgresql.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB(), cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := &App{
		logger: logger,
		db:     db,
		cache:  cacheRedis,
	}

	var events Events
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.Retries, cfg.RetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.amqpConn = conn
		ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.BillingQueues())
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.publisher = rabbitmq.NewPublisher(ch, cfg.Exchange)
		events = app.publisher
	} else {
		logger.Warn("rabbitmq url is empty, billing events are disabled")
	}

	m := metrics.Default()
	creditsService := credits.New(db, logger, m)
	loader := usercontext.New(db)
	exec := executor.New(creditsService, events, logger, m)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, Services{
		Credits:     creditsService,
		Reconciler:  reconciler.New(db, creditsService, events, logger, m),
		Usage:       usage.New(db, loader, creditsService, exec, logger),
		Loader:      loader,
		Tokens:      jwt.NewMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Idempotency: cacheRedis,
		DB:          db,
	})

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

// close освобождает ресурсы в обратном порядке создания.
func (a *App) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq channel", sl.Err(err))
		}
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close redis", sl.Err(err))
		}
	}
	a.db.Close()
}
