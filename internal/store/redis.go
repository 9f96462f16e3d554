package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bikesim/market-engine/internal/model"
)

var _ Store = (*CachedStore)(nil)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Market states and
// settled clearing results never change once written, so they are cached
// without invalidation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateGame(ctx context.Context, g *model.Game) error {
	if err := s.primary.CreateGame(ctx, g); err != nil {
		return err
	}
	s.cache(ctx, gameKey(g.ID), g)
	return nil
}

func (s *CachedStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.AddParticipant(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, participantsKey(p.GameID))
	return nil
}

func (s *CachedStore) ClaimSettlement(ctx context.Context, gameID string, version int64, now time.Time, lease time.Duration) (bool, error) {
	ok, err := s.primary.ClaimSettlement(ctx, gameID, version, now, lease)
	if ok {
		s.rdb.Del(ctx, gameKey(gameID))
	}
	return ok, err
}

func (s *CachedStore) ReleaseSettlement(ctx context.Context, gameID string, version int64) error {
	err := s.primary.ReleaseSettlement(ctx, gameID, version)
	s.rdb.Del(ctx, gameKey(gameID))
	return err
}

func (s *CachedStore) CommitSettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.CommitSettlement(ctx, st); err != nil {
		return err
	}
	s.rdb.Del(ctx, gameKey(st.Game.ID), participantsKey(st.Game.ID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	if s.cached(ctx, gameKey(id), &g) {
		return &g, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, gameKey(id), got)
	return got, nil
}

func (s *CachedStore) ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error) {
	var ps []model.Participant
	if s.cached(ctx, participantsKey(gameID), &ps) {
		return ps, nil
	}

	ps, err := s.primary.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, participantsKey(gameID), ps)
	return ps, nil
}

func (s *CachedStore) GetMarketState(ctx context.Context, gameID string, month, year int) (*model.MarketState, error) {
	key := stateKey(gameID, month, year)
	var st model.MarketState
	if s.cached(ctx, key, &st) {
		return &st, nil
	}

	got, err := s.primary.GetMarketState(ctx, gameID, month, year)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, got)
	return got, nil
}

func (s *CachedStore) ListClearingResults(ctx context.Context, gameID string, month, year int) ([]model.ClearingResult, error) {
	key := clearingKey(gameID, month, year)
	var rs []model.ClearingResult
	if s.cached(ctx, key, &rs) {
		return rs, nil
	}

	rs, err := s.primary.ListClearingResults(ctx, gameID, month, year)
	if err != nil {
		return nil, err
	}
	// An empty month may still settle; only settled results are cached.
	if len(rs) > 0 {
		s.cache(ctx, key, rs)
	}
	return rs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListGames(ctx context.Context) ([]model.Game, error) {
	return s.primary.ListGames(ctx)
}

func (s *CachedStore) GetParticipant(ctx context.Context, gameID, id string) (*model.Participant, error) {
	return s.primary.GetParticipant(ctx, gameID, id)
}

func (s *CachedStore) UpsertSubmission(ctx context.Context, rec *model.TurnRecord, decisions []model.Decision) error {
	return s.primary.UpsertSubmission(ctx, rec, decisions)
}

func (s *CachedStore) ListTurnRecords(ctx context.Context, gameID string, month, year int) ([]model.TurnRecord, error) {
	return s.primary.ListTurnRecords(ctx, gameID, month, year)
}

func (s *CachedStore) ParticipantHistory(ctx context.Context, gameID, participantID string, limit int) ([]model.TurnRecord, error) {
	return s.primary.ParticipantHistory(ctx, gameID, participantID, limit)
}

func (s *CachedStore) ListDecisions(ctx context.Context, gameID string, month, year int) ([]model.Decision, error) {
	return s.primary.ListDecisions(ctx, gameID, month, year)
}

func (s *CachedStore) SeedMarketState(ctx context.Context, gameID string, month, year int, st model.MarketState) error {
	return s.primary.SeedMarketState(ctx, gameID, month, year, st)
}

func (s *CachedStore) MarketHistory(ctx context.Context, gameID string, limit int) ([]model.MarketState, error) {
	return s.primary.MarketHistory(ctx, gameID, limit)
}

func (s *CachedStore) ClearingHistory(ctx context.Context, gameID, line string, limit int) ([]model.ClearingResult, error) {
	return s.primary.ClearingHistory(ctx, gameID, line, limit)
}

func (s *CachedStore) AppendEvents(ctx context.Context, events []model.Event) error {
	return s.primary.AppendEvents(ctx, events)
}

func (s *CachedStore) ListEvents(ctx context.Context, gameID string, limit int) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, gameID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func gameKey(id string) string         { return fmt.Sprintf("bikesim:game:%s", id) }
func participantsKey(id string) string { return fmt.Sprintf("bikesim:participants:%s", id) }
func stateKey(id string, month, year int) string {
	return fmt.Sprintf("bikesim:state:%s:%d:%d", id, year, month)
}
func clearingKey(id string, month, year int) string {
	return fmt.Sprintf("bikesim:clearing:%s:%d:%d", id, year, month)
}
