// Package sim plays headless all-AI games on the in-memory store. Runs are
// reproducible: the same configuration and seed yield the same game.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bikesim/market-engine/internal/archive"
	"github.com/bikesim/market-engine/internal/history"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/turn"
)

// ErrStalled is returned when a month cannot be settled.
var ErrStalled = errors.New("sim: game stalled")

// Defaults for Config.
const (
	DefaultPlayers = 4
	DefaultMonths  = 12
	MaxPlayers     = 12
)

var companyNames = []string{
	"Pedal Works", "Chainline", "Spokesmith", "Freewheel",
	"Gearhouse", "Crankset Co", "Velo Union", "Derailleur & Sons",
	"Saddle Point", "Cadence Cycles", "Headwind", "Tandem Trading",
}

var strategies = []model.StrategyKind{
	model.StrategyAggressive,
	model.StrategyConservative,
	model.StrategyInnovative,
	model.StrategyBalanced,
}

// Config describes one headless run.
type Config struct {
	Name       string
	Players    int
	Months     int
	Structure  string
	Difficulty model.Difficulty
	Seed       int64

	// Strategies are assigned to players in turn. Empty cycles through all
	// four strategies.
	Strategies []model.StrategyKind

	// OnMonth is called after each settled month.
	OnMonth func(turn.Notice)
}

// Result is the final state of a run.
type Result struct {
	Game         model.Game
	Participants []model.Participant
	Clearing     []model.ClearingResult
	Events       []model.Event
	StartedAt    time.Time
	FinishedAt   time.Time
}

type notifier func(turn.Notice)

func (f notifier) Broadcast(n turn.Notice) {
	if f != nil {
		f(n)
	}
}

// Run plays a game until it ends.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Players <= 0 {
		cfg.Players = DefaultPlayers
	}
	if cfg.Players > MaxPlayers {
		return nil, fmt.Errorf("sim: at most %d players", MaxPlayers)
	}
	if cfg.Months <= 0 {
		cfg.Months = DefaultMonths
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = strategies
	}
	if cfg.Name == "" {
		cfg.Name = "headless run " + strconv.FormatInt(cfg.Seed, 10)
	}

	started := time.Now().UTC()
	clock := simClock()
	sink := history.NewMemory()
	st := store.NewMemoryStore()
	o := turn.New(st, turn.Options{
		Sink:  sink,
		Hub:   notifier(cfg.OnMonth),
		Now:   clock,
		NewID: seededIDs(cfg.Seed),
	})

	g, err := o.CreateGame(ctx, turn.GameConfig{
		Name:       cfg.Name,
		Structure:  cfg.Structure,
		Difficulty: cfg.Difficulty,
		StartMonth: 1,
		StartYear:  2024,
		MaxMonths:  cfg.Months,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	for i := 0; i < cfg.Players; i++ {
		req := turn.JoinRequest{
			Name:     companyNames[i],
			Kind:     model.KindAI,
			Strategy: cfg.Strategies[i%len(cfg.Strategies)],
		}
		if _, err := o.Join(ctx, g.ID, req); err != nil {
			return nil, fmt.Errorf("join %s: %w", req.Name, err)
		}
	}

	for month := 0; month < cfg.Months; month++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := o.ProcessIfReady(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("month %d: %w", month+1, err)
		}
		if out.Reason == turn.ReasonCompleted {
			break
		}
		if !out.Settled {
			return nil, fmt.Errorf("%w: month %d %s", ErrStalled, month+1, out.Reason)
		}
		if out.Game.Status == model.StatusCompleted {
			break
		}
	}

	final, err := st.GetGame(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	ps, err := st.ListParticipants(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	events, err := st.ListEvents(ctx, g.ID, 0)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Game:         *final,
		Participants: ps,
		Events:       events,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	}
	for _, snap := range sink.Snapshots(g.ID) {
		res.Clearing = append(res.Clearing, snap.Clearing...)
	}

	slog.Info("headless run finished",
		"game", final.ID,
		"months", final.Version,
		"status", final.Status,
		"winner", final.WinnerID,
	)
	return res, nil
}

// Archive converts the result into archive rows under runID.
func (r *Result) Archive(runID string) (archive.Run, []archive.Standing, []archive.Point) {
	run := archive.Run{
		ID:         runID,
		GameID:     r.Game.ID,
		Name:       r.Game.Name,
		Seed:       r.Game.Seed,
		Structure:  string(r.Game.Structure),
		Difficulty: string(r.Game.Difficulty),
		Months:     int(r.Game.Version),
		WinnerID:   r.Game.WinnerID,
		EndReason:  r.Game.EndReason,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	return run, archive.Standings(runID, r.Participants), archive.Points(runID, r.Clearing)
}

// seededIDs returns an ID generator that yields the same sequence for the
// same seed.
func seededIDs(seed int64) func() string {
	ns := uuid.NewSHA1(uuid.NameSpaceOID, []byte("bikesim/"+strconv.FormatInt(seed, 10)))
	n := 0
	return func() string {
		n++
		return uuid.NewSHA1(ns, []byte(strconv.Itoa(n))).String()
	}
}

// simClock advances one simulated minute per reading from a fixed origin so
// timestamps are ordered and reproducible.
func simClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}
