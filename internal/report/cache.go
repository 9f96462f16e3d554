package report

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/bikesim/market-engine/internal/model"
)

// DefaultCacheSize is the number of reports kept in memory.
const DefaultCacheSize = 1024

// Source reads the settled facts a report is built from.
type Source interface {
	ListDecisions(ctx context.Context, gameID string, month, year int) ([]model.Decision, error)
	ListClearingResults(ctx context.Context, gameID string, month, year int) ([]model.ClearingResult, error)
}

// Service builds reports and caches them. Settled months never change, so
// cached reports never go stale.
type Service struct {
	src   Source
	cache *lru.Cache
}

// NewService creates a report service with an LRU cache of size entries.
func NewService(src Source, size int) (*Service, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("report cache: %w", err)
	}
	return &Service{src: src, cache: cache}, nil
}

func cacheKey(gameID, participantID string, month, year int) string {
	return fmt.Sprintf("%s:%s:%d:%d", gameID, participantID, year, month)
}

// Get returns the report of a participant for a settled month.
func (s *Service) Get(ctx context.Context, gameID, participantID string, month, year int) (Report, error) {
	key := cacheKey(gameID, participantID, month, year)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(Report), nil
	}

	decisions, err := s.src.ListDecisions(ctx, gameID, month, year)
	if err != nil {
		return Report{}, fmt.Errorf("list decisions: %w", err)
	}
	clearing, err := s.src.ListClearingResults(ctx, gameID, month, year)
	if err != nil {
		return Report{}, fmt.Errorf("list clearing results: %w", err)
	}

	r := Build(gameID, participantID, month, year, decisions, clearing)
	if settled(decisions) {
		s.cache.Add(key, r)
	}
	return r, nil
}

// Len is the number of cached reports.
func (s *Service) Len() int { return s.cache.Len() }

func settled(decisions []model.Decision) bool {
	if len(decisions) == 0 {
		return false
	}
	for _, d := range decisions {
		if !d.Settled {
			return false
		}
	}
	return true
}
