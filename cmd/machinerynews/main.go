package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"MachineryNews/internal/app"
	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Error("invalid configuration", "state", domain.StateFailed, "problems", cfgErr.Problems)
		} else {
			logger.Error("startup failed", "state", domain.StateFailed, "error", err)
		}
		stop()
		os.Exit(1)
	}

	summary := application.Run(ctx)
	if err := application.Close(); err != nil {
		logger.Warn("close", "error", err)
	}
	logger.Info(summary.String())
}
