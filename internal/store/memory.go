package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bikesim/market-engine/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-memory maps. Used for testing,
// development and headless CLI runs. Not suitable for production (no
// persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	games        map[string]*model.Game
	participants map[string][]model.Participant // game -> join order
	records      map[string]model.TurnRecord    // record key
	decisions    map[string][]model.Decision    // record key
	states       map[string]model.MarketState   // month key
	clearing     map[string][]model.ClearingResult
	events       map[string][]model.Event
	eventIDs     map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:        make(map[string]*model.Game),
		participants: make(map[string][]model.Participant),
		records:      make(map[string]model.TurnRecord),
		decisions:    make(map[string][]model.Decision),
		states:       make(map[string]model.MarketState),
		clearing:     make(map[string][]model.ClearingResult),
		events:       make(map[string][]model.Event),
		eventIDs:     make(map[string]struct{}),
	}
}

func monthKey(gameID string, month, year int) string {
	return fmt.Sprintf("%s:%d:%d", gameID, year, month)
}

func copyGame(g *model.Game) *model.Game {
	c := *g
	c.ProductLines = append([]model.ProductLine(nil), g.ProductLines...)
	return &c
}

func (s *MemoryStore) CreateGame(_ context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return fmt.Errorf("%w: game %s", ErrDuplicate, g.ID)
	}
	s.games[g.ID] = copyGame(g)
	return nil
}

func (s *MemoryStore) GetGame(_ context.Context, id string) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, id)
	}
	return copyGame(g), nil
}

func (s *MemoryStore) ListGames(_ context.Context) ([]model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]model.Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, *copyGame(g))
	}
	sort.Slice(games, func(i, j int) bool {
		if !games[i].CreatedAt.Equal(games[j].CreatedAt) {
			return games[i].CreatedAt.After(games[j].CreatedAt)
		}
		return games[i].ID < games[j].ID
	})
	return games, nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[p.GameID]; !ok {
		return fmt.Errorf("%w: game %s", ErrNotFound, p.GameID)
	}
	for _, existing := range s.participants[p.GameID] {
		if existing.ID == p.ID {
			return fmt.Errorf("%w: participant %s", ErrDuplicate, p.ID)
		}
	}
	s.participants[p.GameID] = append(s.participants[p.GameID], *p)
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, gameID, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.participants[gameID] {
		if p.ID == id {
			c := p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: participant %s", ErrNotFound, id)
}

func (s *MemoryStore) ListParticipants(_ context.Context, gameID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Participant(nil), s.participants[gameID]...), nil
}

func (s *MemoryStore) UpsertSubmission(_ context.Context, rec *model.TurnRecord, decisions []model.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[rec.GameID]
	if !ok {
		return fmt.Errorf("%w: game %s", ErrNotFound, rec.GameID)
	}
	if g.Status != model.StatusCollecting || g.Month != rec.Month || g.Year != rec.Year {
		return fmt.Errorf("%w: game %s is %s at %d/%d", ErrTurnClosed, g.ID, g.Status, g.Month, g.Year)
	}
	key := rec.Key()
	s.records[key] = *rec
	s.decisions[key] = append([]model.Decision(nil), decisions...)
	return nil
}

func (s *MemoryStore) ListTurnRecords(_ context.Context, gameID string, month, year int) ([]model.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TurnRecord
	for _, r := range s.records {
		if r.GameID == gameID && r.Month == month && r.Year == year {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (s *MemoryStore) ParticipantHistory(_ context.Context, gameID, participantID string, limit int) ([]model.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TurnRecord
	for _, r := range s.records {
		if r.GameID == gameID && r.ParticipantID == participantID && r.Settled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListDecisions(_ context.Context, gameID string, month, year int) ([]model.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Decision
	for _, ds := range s.decisions {
		for _, d := range ds {
			if d.GameID == gameID && d.Month == month && d.Year == year {
				out = append(out, d)
			}
		}
	}
	sortDecisions(out)
	return out, nil
}

func sortDecisions(ds []model.Decision) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].ParticipantID != ds[j].ParticipantID {
			return ds[i].ParticipantID < ds[j].ParticipantID
		}
		return ds[i].ProductLine < ds[j].ProductLine
	})
}

func (s *MemoryStore) SeedMarketState(_ context.Context, gameID string, month, year int, state model.MarketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKey(gameID, month, year)
	if _, ok := s.states[key]; !ok {
		s.states[key] = state
	}
	return nil
}

func (s *MemoryStore) GetMarketState(_ context.Context, gameID string, month, year int) (*model.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[monthKey(gameID, month, year)]
	if !ok {
		return nil, fmt.Errorf("%w: market state %s %d/%d", ErrNotFound, gameID, month, year)
	}
	return &st, nil
}

func (s *MemoryStore) MarketHistory(_ context.Context, gameID string, limit int) ([]model.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MarketState
	for _, st := range s.states {
		if st.Economy.GameID == gameID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Economy.Year != out[j].Economy.Year {
			return out[i].Economy.Year > out[j].Economy.Year
		}
		return out[i].Economy.Month > out[j].Economy.Month
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListClearingResults(_ context.Context, gameID string, month, year int) ([]model.ClearingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.ClearingResult(nil), s.clearing[monthKey(gameID, month, year)]...), nil
}

func (s *MemoryStore) ClearingHistory(_ context.Context, gameID, line string, limit int) ([]model.ClearingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ClearingResult
	for _, rs := range s.clearing {
		for _, r := range rs {
			if r.GameID == gameID && r.ProductLine == line {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendEvents(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendEvents(events)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, gameID string, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[gameID]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return append([]model.Event(nil), evs...), nil
}

func (s *MemoryStore) ClaimSettlement(_ context.Context, gameID string, version int64, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return false, fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}
	if g.Version != version {
		return false, nil
	}
	switch g.Status {
	case model.StatusCollecting:
	case model.StatusSettling:
		if lease <= 0 || now.Sub(g.SettlingSince) < lease {
			return false, nil
		}
	default:
		return false, nil
	}
	g.Status = model.StatusSettling
	g.SettlingSince = now
	return true, nil
}

func (s *MemoryStore) ReleaseSettlement(_ context.Context, gameID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}
	if g.Version == version && g.Status == model.StatusSettling {
		g.Status = model.StatusCollecting
		g.SettlingSince = time.Time{}
	}
	return nil
}

// CommitSettlement applies the settlement under one lock, so readers see
// either the whole month or none of it.
func (s *MemoryStore) CommitSettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[st.Game.ID]
	if !ok {
		return fmt.Errorf("%w: game %s", ErrNotFound, st.Game.ID)
	}
	if g.Version != st.ExpectedVersion || g.Status != model.StatusSettling {
		return fmt.Errorf("%w: game %s at version %d (%s), expected %d", ErrStaleVersion, g.ID, g.Version, g.Status, st.ExpectedVersion)
	}

	// Settled month: decisions, records and clearing.
	settledKeys := map[string][]model.Decision{}
	for _, d := range st.Decisions {
		rk := (&model.TurnRecord{GameID: d.GameID, ParticipantID: d.ParticipantID, Month: d.Month, Year: d.Year}).Key()
		settledKeys[rk] = append(settledKeys[rk], d)
	}
	for rk, ds := range settledKeys {
		s.decisions[rk] = ds
	}
	for _, r := range st.Records {
		s.records[r.Key()] = r
	}
	s.clearing[monthKey(g.ID, g.Month, g.Year)] = append([]model.ClearingResult(nil), st.Clearing...)

	// Participants replace in place, keeping join order.
	byID := make(map[string]model.Participant, len(st.Participants))
	for _, p := range st.Participants {
		byID[p.ID] = p
	}
	ps := s.participants[g.ID]
	for i, p := range ps {
		if u, ok := byID[p.ID]; ok {
			ps[i] = u
		}
	}

	next := st.Game
	next.Version = st.ExpectedVersion + 1
	next.SettlingSince = time.Time{}
	if next.Status != model.StatusCompleted {
		key := monthKey(g.ID, next.Month, next.Year)
		if _, ok := s.states[key]; !ok {
			s.states[key] = st.Next
		}
	}
	s.appendEvents(st.Events)
	s.games[g.ID] = copyGame(&next)
	return nil
}

// appendEvents skips events whose ID was already stored. Callers hold mu.
func (s *MemoryStore) appendEvents(events []model.Event) {
	for _, e := range events {
		if _, ok := s.eventIDs[e.ID]; ok {
			continue
		}
		s.eventIDs[e.ID] = struct{}{}
		s.events[e.GameID] = append(s.events[e.GameID], e)
	}
}
