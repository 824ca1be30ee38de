package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/babysteps-billing/internal/app/alerts"
	"github.com/magabrotheeeer/babysteps-billing/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("starting billing alerts worker", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := alerts.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize alerts worker", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("alerts worker stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("alerts worker stopped gracefully")
}
