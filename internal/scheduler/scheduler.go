// Package scheduler ticks every open game through the turn orchestrator.
// Games are processed concurrently, bounded by a weighted semaphore; one
// game failing never stops the others.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/turn"
)

// Defaults for Scheduler.
const (
	DefaultInterval    = 5 * time.Second
	DefaultConcurrency = 8
	DefaultGameTimeout = 30 * time.Second
)

// Processor settles one game if it is ready.
type Processor interface {
	ProcessIfReady(ctx context.Context, gameID string) (*turn.Outcome, error)
}

// Lister lists the games to tick.
type Lister interface {
	ListGames(ctx context.Context) ([]model.Game, error)
}

// Stats summarises one tick.
type Stats struct {
	Games   int           `json:"games"`
	Settled int32         `json:"settled"`
	Waiting int32         `json:"waiting"`
	Errors  int32         `json:"errors"`
	Elapsed time.Duration `json:"elapsed"`
}

// Scheduler runs ticks on an interval.
type Scheduler struct {
	games       Lister
	proc        Processor
	sem         *semaphore.Weighted
	concurrency int
	interval    time.Duration
	gameTimeout time.Duration
}

// New creates a scheduler. Non-positive values select the defaults.
func New(games Lister, proc Processor, interval time.Duration, concurrency int) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		games:       games,
		proc:        proc,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		concurrency: concurrency,
		interval:    interval,
		gameTimeout: DefaultGameTimeout,
	}
}

// WithGameTimeout sets the time budget of one game within a tick.
func (s *Scheduler) WithGameTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.gameTimeout = d
	}
	return s
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("scheduler started", "interval", s.interval, "concurrency", s.concurrency)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "err", err)
			}
		}
	}
}

// Tick processes every game that is not completed once.
func (s *Scheduler) Tick(ctx context.Context) (Stats, error) {
	start := time.Now()
	games, err := s.games.ListGames(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	for _, game := range games {
		if game.Status == model.StatusCompleted {
			continue
		}
		stats.Games++
		id := game.ID
		if err := s.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer s.sem.Release(1)
			tctx, cancel := context.WithTimeout(gctx, s.gameTimeout)
			defer cancel()

			out, err := s.proc.ProcessIfReady(tctx, id)
			switch {
			case err != nil:
				atomic.AddInt32(&stats.Errors, 1)
				slog.Error("game tick failed", "game", id, "err", err)
			case out.Settled:
				atomic.AddInt32(&stats.Settled, 1)
			case out.Reason == turn.ReasonWaiting:
				atomic.AddInt32(&stats.Waiting, 1)
			}
			return nil
		})
	}
	err = g.Wait()
	stats.Elapsed = time.Since(start)

	if stats.Settled > 0 || stats.Errors > 0 {
		slog.Info("scheduler tick",
			"games", stats.Games,
			"settled", stats.Settled,
			"waiting", stats.Waiting,
			"errors", stats.Errors,
			"elapsed", stats.Elapsed,
		)
	}
	if err == nil {
		err = ctx.Err()
	}
	return stats, err
}
