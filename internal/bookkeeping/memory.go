package bookkeeping

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Compile-time interface checks.
var (
	_ Ledger    = (*MemoryLedger)(nil)
	_ Inventory = (*MemoryInventory)(nil)
)

// MemoryLedger is an in-memory Ledger. Entries with an ID already posted
// are ignored.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	order   []uuid.UUID
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[uuid.UUID]Entry)}
}

func (l *MemoryLedger) Post(_ context.Context, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		if _, ok := l.entries[e.ID]; ok {
			continue
		}
		l.entries[e.ID] = e
		l.order = append(l.order, e.ID)
	}
	return nil
}

// Entries returns the postings of a participant in posting order.
func (l *MemoryLedger) Entries(gameID, participantID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, id := range l.order {
		e := l.entries[id]
		if e.GameID == gameID && e.ParticipantID == participantID {
			out = append(out, e)
		}
	}
	return out
}

// Balance sums the postings of a participant.
func (l *MemoryLedger) Balance(gameID, participantID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.Entries(gameID, participantID) {
		total = total.Add(e.Amount)
	}
	return total
}

type holding struct {
	stock      map[string]Stock
	components decimal.Decimal
}

// MemoryInventory is an in-memory Inventory.
type MemoryInventory struct {
	mu       sync.RWMutex
	holdings map[string]*holding // game:participant
	applied  map[uuid.UUID]bool
}

// NewMemoryInventory creates an empty inventory.
func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{
		holdings: make(map[string]*holding),
		applied:  make(map[uuid.UUID]bool),
	}
}

func holdingKey(gameID, participantID string) string { return gameID + ":" + participantID }

func (m *MemoryInventory) holding(gameID, participantID string) *holding {
	k := holdingKey(gameID, participantID)
	h := m.holdings[k]
	if h == nil {
		h = &holding{stock: make(map[string]Stock), components: decimal.Zero}
		m.holdings[k] = h
	}
	return h
}

// Seed sets the opening stock of a participant for one line.
func (m *MemoryInventory) Seed(gameID, participantID, line string, units int, unitCost decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holding(gameID, participantID).stock[line] = Stock{Units: units, UnitCost: unitCost}
}

// SetComponents sets the book value of a participant's components.
func (m *MemoryInventory) SetComponents(gameID, participantID string, value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holding(gameID, participantID).components = value
}

func (m *MemoryInventory) Available(_ context.Context, gameID, participantID string) (map[string]Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[holdingKey(gameID, participantID)]
	if !ok {
		return map[string]Stock{}, nil
	}
	out := make(map[string]Stock, len(h.stock))
	for l, s := range h.stock {
		out[l] = s
	}
	return out, nil
}

// MarkSold removes sold units. The batch is checked before anything is
// applied, so a failing movement leaves the inventory untouched.
func (m *MemoryInventory) MarkSold(_ context.Context, moves []Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	need := map[string]int{}
	for _, mv := range moves {
		if m.applied[mv.ID] {
			continue
		}
		h, ok := m.holdings[holdingKey(mv.GameID, mv.ParticipantID)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, mv.ParticipantID)
		}
		k := holdingKey(mv.GameID, mv.ParticipantID) + ":" + mv.ProductLine
		need[k] += mv.Units
		if need[k] > h.stock[mv.ProductLine].Units {
			return fmt.Errorf("%w: %s %s", ErrInsufficientStock, mv.ParticipantID, mv.ProductLine)
		}
	}
	for _, mv := range moves {
		if m.applied[mv.ID] {
			continue
		}
		h := m.holdings[holdingKey(mv.GameID, mv.ParticipantID)]
		s := h.stock[mv.ProductLine]
		s.Units -= mv.Units
		h.stock[mv.ProductLine] = s
		m.applied[mv.ID] = true
	}
	return nil
}

// Restock adds produced units, averaging the unit cost.
func (m *MemoryInventory) Restock(_ context.Context, moves []Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range moves {
		if m.applied[mv.ID] || mv.Units <= 0 {
			continue
		}
		h := m.holding(mv.GameID, mv.ParticipantID)
		s := h.stock[mv.ProductLine]
		cost := mv.UnitCost
		if !cost.IsPositive() {
			cost = DefaultUnitCost
		}
		if s.Units > 0 && s.UnitCost.IsPositive() {
			total := s.Value().Add(cost.Mul(decimal.NewFromInt(int64(mv.Units))))
			cost = total.Div(decimal.NewFromInt(int64(s.Units + mv.Units))).Round(2)
		}
		h.stock[mv.ProductLine] = Stock{Units: s.Units + mv.Units, UnitCost: cost}
		m.applied[mv.ID] = true
	}
	return nil
}

func (m *MemoryInventory) Liquidation(_ context.Context, gameID, participantID string) (Valuation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holdings[holdingKey(gameID, participantID)]
	if !ok {
		return Valuation{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	lines := make([]string, 0, len(h.stock))
	for l := range h.stock {
		lines = append(lines, l)
	}
	sort.Strings(lines)
	v := Valuation{FinishedGoods: decimal.Zero, Components: h.components}
	for _, l := range lines {
		v.FinishedGoods = v.FinishedGoods.Add(h.stock[l].Value())
	}
	return v, nil
}
