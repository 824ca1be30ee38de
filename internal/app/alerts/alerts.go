// Package alerts собирает воркер, который читает события биллинга из RabbitMQ.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/babysteps-billing/internal/config"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	alertsservice "github.com/magabrotheeeer/babysteps-billing/internal/services/alerts"
)

type App struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	service *alertsservice.Service
	logger  *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.alerts.New"

	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("%s: %w", op, errors.New("rabbitmq url is empty"))
	}
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.Retries, cfg.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.BillingQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		conn:    conn,
		ch:      ch,
		service: alertsservice.New(logger),
		logger:  logger,
	}, nil
}

// Run подписывается на очереди биллинга и работает до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	const op = "app.alerts.Run"
	defer a.close()

	handlers := map[string]func([]byte) error{
		rabbitmq.RoutingChargeFailed:     a.service.ChargeFailed,
		rabbitmq.RoutingPaymentCompleted: a.service.PaymentCompleted,
	}
	for _, q := range rabbitmq.BillingQueues() {
		handler, ok := handlers[q.RoutingKey]
		if !ok {
			continue
		}
		if err := rabbitmq.Consume(ctx, a.ch, q.QueueName, a.logger, handler); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		a.logger.Info("consuming billing events", slog.String("op", op), slog.String("queue", q.QueueName))
	}

	<-ctx.Done()
	a.logger.Info("alerts worker shutting down gracefully")
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Warn("failed to close rabbitmq channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("failed to close rabbitmq connection", sl.Err(err))
	}
}
