// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and the CLI).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bikesim/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when inserting a row that already exists.
	ErrDuplicate = errors.New("store: duplicate")

	// ErrStaleVersion is returned when a settlement is committed against a
	// game version or status that has moved on.
	ErrStaleVersion = errors.New("store: stale game version")

	// ErrTurnClosed is returned when a submission targets a month that is
	// no longer collecting.
	ErrTurnClosed = errors.New("store: turn closed")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Games ---

	// CreateGame persists a new game.
	CreateGame(ctx context.Context, g *model.Game) error

	// GetGame retrieves a game by its ID.
	GetGame(ctx context.Context, id string) (*model.Game, error)

	// ListGames returns all games, newest first.
	ListGames(ctx context.Context) ([]model.Game, error)

	// --- Participants ---

	// AddParticipant joins a participant to a game.
	AddParticipant(ctx context.Context, p *model.Participant) error

	// GetParticipant retrieves one participant of a game.
	GetParticipant(ctx context.Context, gameID, id string) (*model.Participant, error)

	// ListParticipants returns the participants of a game in join order.
	ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error)

	// --- Submissions ---

	// UpsertSubmission writes the turn record and the decisions of one
	// participant for the month on the record. Repeated calls replace the
	// previous submission. Returns ErrTurnClosed unless the game is
	// collecting that month.
	UpsertSubmission(ctx context.Context, rec *model.TurnRecord, decisions []model.Decision) error

	// ListTurnRecords returns the turn records of a month.
	ListTurnRecords(ctx context.Context, gameID string, month, year int) ([]model.TurnRecord, error)

	// ParticipantHistory returns up to limit settled records of a
	// participant, newest first.
	ParticipantHistory(ctx context.Context, gameID, participantID string, limit int) ([]model.TurnRecord, error)

	// ListDecisions returns every decision of a month.
	ListDecisions(ctx context.Context, gameID string, month, year int) ([]model.Decision, error)

	// --- Market ---

	// SeedMarketState stores the state of a month if none exists yet.
	SeedMarketState(ctx context.Context, gameID string, month, year int, state model.MarketState) error

	// GetMarketState returns the state of a month.
	GetMarketState(ctx context.Context, gameID string, month, year int) (*model.MarketState, error)

	// MarketHistory returns up to limit monthly states, newest first.
	MarketHistory(ctx context.Context, gameID string, limit int) ([]model.MarketState, error)

	// ListClearingResults returns the clearing results of a month.
	ListClearingResults(ctx context.Context, gameID string, month, year int) ([]model.ClearingResult, error)

	// ClearingHistory returns up to limit results of one line, newest first.
	ClearingHistory(ctx context.Context, gameID, line string, limit int) ([]model.ClearingResult, error)

	// --- Events ---

	// AppendEvents adds events to the game journal.
	AppendEvents(ctx context.Context, events []model.Event) error

	// ListEvents returns the last limit events of a game, oldest first.
	ListEvents(ctx context.Context, gameID string, limit int) ([]model.Event, error)

	// --- Settlement guard ---

	// ClaimSettlement moves a collecting game at version to settling. A
	// settling claim older than lease may be taken over. Returns false
	// when another claim holds the game or the version moved on.
	ClaimSettlement(ctx context.Context, gameID string, version int64, now time.Time, lease time.Duration) (bool, error)

	// ReleaseSettlement returns a settling game at version to collecting.
	ReleaseSettlement(ctx context.Context, gameID string, version int64) error

	// CommitSettlement writes the whole settlement atomically. Returns
	// ErrStaleVersion unless the game is settling at ExpectedVersion.
	CommitSettlement(ctx context.Context, s *model.Settlement) error
}
