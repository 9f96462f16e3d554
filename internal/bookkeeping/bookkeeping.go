// Package bookkeeping defines the ledger and inventory collaborators the
// turn engine posts to after a month settles, with in-memory
// implementations for development and tests.
//
// Every posting carries a deterministic ID derived from its game, month,
// participant and purpose, so replaying the post-commit effects of a month
// never double-counts.
package bookkeeping

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

var (
	// ErrInsufficientStock is returned when a sale exceeds the stock held.
	ErrInsufficientStock = errors.New("bookkeeping: insufficient stock")

	// ErrUnknownParticipant is returned for participants with no inventory.
	ErrUnknownParticipant = errors.New("bookkeeping: unknown participant")
)

// Namespace seeds the SHA1 IDs of ledger entries and stock movements.
var Namespace = uuid.MustParse("6f1d3c8e-5b0a-4f7e-9a44-2c1e7d9b8a10")

// Account is a ledger account.
type Account string

const (
	AccountRevenue     Account = "revenue"
	AccountProduction  Account = "production"
	AccountMarketing   Account = "marketing"
	AccountLiquidation Account = "liquidation"
)

// Entry is one ledger posting. Positive amounts credit the participant.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	GameID        string          `json:"game_id"`
	ParticipantID string          `json:"participant_id"`
	Month         int             `json:"month"`
	Year          int             `json:"year"`
	Account       Account         `json:"account"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
}

// EntryID derives the ID of a posting from what it is for.
func EntryID(gameID, participantID string, month, year int, account Account, ref string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("entry:%s:%s:%d:%d:%s:%s", gameID, participantID, year, month, account, ref)))
}

// Ledger records monetary postings.
type Ledger interface {
	Post(ctx context.Context, entries []Entry) error
}

// Stock is the finished goods of one participant for one line.
type Stock struct {
	Units    int             `json:"units"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Value is units times unit cost.
func (s Stock) Value() decimal.Decimal {
	return s.UnitCost.Mul(decimal.NewFromInt(int64(s.Units)))
}

// Movement moves units of one line in or out of a participant's stock.
type Movement struct {
	ID            uuid.UUID       `json:"id"`
	GameID        string          `json:"game_id"`
	ParticipantID string          `json:"participant_id"`
	ProductLine   string          `json:"product_line"`
	Units         int             `json:"units"`
	UnitCost      decimal.Decimal `json:"unit_cost,omitempty"`
}

// MovementID derives the ID of a stock movement.
func MovementID(gameID, participantID, line string, month, year int, kind string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(fmt.Sprintf("move:%s:%s:%s:%d:%d:%s", gameID, participantID, line, year, month, kind)))
}

// Valuation is the book value of what a participant holds.
type Valuation struct {
	FinishedGoods decimal.Decimal `json:"finished_goods"`
	Components    decimal.Decimal `json:"components"`
}

// Inventory tracks finished goods and components per participant.
// MarkSold and Restock are idempotent by movement ID.
type Inventory interface {
	Available(ctx context.Context, gameID, participantID string) (map[string]Stock, error)
	MarkSold(ctx context.Context, moves []Movement) error
	Restock(ctx context.Context, moves []Movement) error
	Liquidation(ctx context.Context, gameID, participantID string) (Valuation, error)
}

// DefaultUnitCost is the production cost of a unit when none is configured.
var DefaultUnitCost = decimal.NewFromInt(300)

// Allocate splits a production volume across lines by plan priority, or
// evenly when the plan has none. Remainders go to lines in ID order.
func Allocate(plan model.ProductionPlan, lines []string) map[string]int {
	out := make(map[string]int, len(lines))
	if plan.TargetVolume <= 0 || len(lines) == 0 {
		return out
	}
	sorted := append([]string(nil), lines...)
	sort.Strings(sorted)

	weights := make([]float64, len(sorted))
	total := 0.0
	for i, l := range sorted {
		w := plan.Priorities[l]
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	assigned := 0
	for i, l := range sorted {
		n := int(float64(plan.TargetVolume) * weights[i] / total)
		out[l] = n
		assigned += n
	}
	for i := 0; assigned < plan.TargetVolume; i = (i + 1) % len(sorted) {
		if weights[i] > 0 {
			out[sorted[i]]++
			assigned++
		}
	}
	return out
}
