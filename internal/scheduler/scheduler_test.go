package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/turn"
)

type fakeGames []model.Game

func (f fakeGames) ListGames(context.Context) ([]model.Game, error) { return f, nil }

type fakeProc struct {
	mu       sync.Mutex
	seen     []string
	inFlight int32
	peak     int32
	fail     map[string]bool
}

func (p *fakeProc) ProcessIfReady(_ context.Context, id string) (*turn.Outcome, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.seen = append(p.seen, id)
	p.mu.Unlock()
	if p.fail[id] {
		return nil, errors.New("boom")
	}
	return &turn.Outcome{GameID: id, Settled: true, Reason: turn.ReasonSettled}, nil
}

func TestTick_SkipsCompletedAndIsolatesFailures(t *testing.T) {
	games := fakeGames{
		{ID: "a", Status: model.StatusCollecting},
		{ID: "b", Status: model.StatusCompleted},
		{ID: "c", Status: model.StatusCollecting},
		{ID: "d", Status: model.StatusSettling},
	}
	proc := &fakeProc{fail: map[string]bool{"c": true}}
	s := New(games, proc, time.Second, 2)

	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Games)
	assert.Equal(t, int32(2), stats.Settled)
	assert.Equal(t, int32(1), stats.Errors)
	assert.ElementsMatch(t, []string{"a", "c", "d"}, proc.seen)
}

func TestTick_BoundedConcurrency(t *testing.T) {
	var games fakeGames
	for i := 0; i < 20; i++ {
		games = append(games, model.Game{ID: string(rune('a' + i)), Status: model.StatusCollecting})
	}
	proc := &fakeProc{}
	s := New(games, proc, time.Second, 3)

	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, proc.seen, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&proc.peak), int32(3))
}

func TestTick_SettlesRealGames(t *testing.T) {
	st := store.NewMemoryStore()
	o := turn.New(st, turn.Options{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		g, err := o.CreateGame(ctx, turn.GameConfig{Seed: int64(i + 1)})
		require.NoError(t, err)
		_, err = o.Join(ctx, g.ID, turn.JoinRequest{Name: "bot", Kind: model.KindAI, Strategy: model.StrategyBalanced})
		require.NoError(t, err)
	}

	s := New(st, o, time.Second, 2)
	stats, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), stats.Settled)

	games, err := st.ListGames(ctx)
	require.NoError(t, err)
	for _, g := range games {
		assert.Equal(t, int64(1), g.Version)
	}
}
