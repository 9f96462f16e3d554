// Package app assembles the engine from configuration for the server and
// worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/bikesim/market-engine/internal/config"
	"github.com/bikesim/market-engine/internal/history"
	"github.com/bikesim/market-engine/internal/limits"
	"github.com/bikesim/market-engine/internal/report"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/turn"
)

// Engine is the wired settlement engine.
type Engine struct {
	Store   store.Store
	Turns   *turn.Orchestrator
	Reports *report.Service

	cleanup []func()
}

// Close releases connections in reverse order of opening.
func (e *Engine) Close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cleanup = nil
}

// Build connects the configured backends. Without DATABASE_URL the engine
// runs on the in-memory store. hub may be nil.
func Build(ctx context.Context, cfg config.Config, hub turn.Broadcaster) (*Engine, error) {
	e := &Engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	var st store.Store
	if cfg.Store.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.cleanup = append(e.cleanup, pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			e.cleanup = append(e.cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Store.CacheTTL.Duration)
			slog.Info("Redis cache enabled", "ttl", cfg.Store.CacheTTL.Duration)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	var sink history.Sink = history.Nop{}
	if cfg.Store.ClickHouseDSN != "" {
		conn, err := history.NewConn(ctx, cfg.Store.ClickHouseDSN)
		if err != nil {
			return nil, err
		}
		e.cleanup = append(e.cleanup, func() { conn.Close() })
		ch := history.NewClickHouseSink(conn)
		if err := ch.Migrate(ctx); err != nil {
			return nil, err
		}
		sink = ch
		slog.Info("ClickHouse history sink enabled")
	}

	opening := cfg.Engine.OpeningStock
	if opening == 0 {
		opening = -1
	}
	e.Store = st
	e.Turns = turn.New(st, turn.Options{
		Sink:         sink,
		Limiter:      limits.New(cfg.Engine.MaxPerLine, cfg.Engine.CreditLine),
		Hub:          hub,
		Lease:        cfg.Engine.Lease.Duration,
		UnitCost:     cfg.Engine.UnitCost,
		OpeningStock: opening,
	})

	reports, err := report.NewService(st, cfg.Engine.ReportCacheSize)
	if err != nil {
		return nil, err
	}
	e.Reports = reports

	ok = true
	return e, nil
}
