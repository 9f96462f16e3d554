package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bikesim/market-engine/internal/app"
	"github.com/bikesim/market-engine/internal/config"
	"github.com/bikesim/market-engine/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger()
	slog.SetDefault(logger)

	if cfg.Store.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the worker")
		os.Exit(1)
	}

	engine, err := app.Build(ctx, cfg, nil)
	if err != nil {
		logger.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	sched := scheduler.New(engine.Store, engine.Turns, cfg.Scheduler.Interval.Duration, cfg.Scheduler.Concurrency).
		WithGameTimeout(cfg.Scheduler.GameTimeout.Duration)

	if cfg.Scheduler.RunOnce {
		stats, err := sched.Tick(ctx)
		if err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "games", stats.Games, "settled", stats.Settled, "errors", stats.Errors)
		return
	}

	logger.Info("worker started", "tick_every", cfg.Scheduler.Interval.Duration.String(), "concurrency", cfg.Scheduler.Concurrency)
	sched.Run(ctx)
	logger.Info("worker shutdown")
}
