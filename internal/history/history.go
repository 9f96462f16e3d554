// Package history appends the settled time series of each game (economy,
// market factors and clearing results) to an analytics sink.
package history

import (
	"context"
	"sync"

	"github.com/bikesim/market-engine/internal/model"
)

// Snapshot is everything appended for one settled month.
type Snapshot struct {
	GameID   string                  `json:"game_id"`
	Month    int                     `json:"month"`
	Year     int                     `json:"year"`
	Economy  model.EconomicCondition `json:"economy"`
	Factors  model.MarketFactors     `json:"factors"`
	Clearing []model.ClearingResult  `json:"clearing"`
}

// Sink receives settled snapshots. Appending the same month twice must not
// duplicate it.
type Sink interface {
	Append(ctx context.Context, s Snapshot) error
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Append(context.Context, Snapshot) error { return nil }

type monthKey struct {
	game        string
	year, month int
}

// Memory keeps snapshots in memory, one per game and month.
type Memory struct {
	mu    sync.RWMutex
	snaps []Snapshot
	seen  map[monthKey]int
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{seen: make(map[monthKey]int)}
}

func (m *Memory) Append(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := monthKey{s.GameID, s.Year, s.Month}
	if i, ok := m.seen[k]; ok {
		m.snaps[i] = s
		return nil
	}
	m.seen[k] = len(m.snaps)
	m.snaps = append(m.snaps, s)
	return nil
}

// Snapshots returns the snapshots of a game in append order.
func (m *Memory) Snapshots(gameID string) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snapshot
	for _, s := range m.snaps {
		if s.GameID == gameID {
			out = append(out, s)
		}
	}
	return out
}

var (
	_ Sink = Nop{}
	_ Sink = (*Memory)(nil)
	_ Sink = (*ClickHouseSink)(nil)
)
