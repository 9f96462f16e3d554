package bookkeeping

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/model"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestEntryID_Deterministic(t *testing.T) {
	a := EntryID("g", "p", 3, 2025, AccountRevenue, "city")
	b := EntryID("g", "p", 3, 2025, AccountRevenue, "city")
	c := EntryID("g", "p", 4, 2025, AccountRevenue, "city")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, uint8(5), uint8(a.Version()))
}

func TestMemoryLedger_PostIsIdempotent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	e := Entry{ID: EntryID("g", "p", 1, 2025, AccountRevenue, ""), GameID: "g", ParticipantID: "p", Account: AccountRevenue, Amount: dec(500)}
	m := Entry{ID: EntryID("g", "p", 1, 2025, AccountMarketing, ""), GameID: "g", ParticipantID: "p", Account: AccountMarketing, Amount: dec(-100)}

	require.NoError(t, l.Post(ctx, []Entry{e, m}))
	require.NoError(t, l.Post(ctx, []Entry{e}))

	assert.Len(t, l.Entries("g", "p"), 2)
	assert.True(t, l.Balance("g", "p").Equal(dec(400)))
	assert.Empty(t, l.Entries("g", "other"))
}

func TestMemoryInventory_MarkSold(t *testing.T) {
	inv := NewMemoryInventory()
	ctx := context.Background()
	inv.Seed("g", "p", "city", 100, dec(300))

	mv := Movement{ID: MovementID("g", "p", "city", 1, 2025, "sold"), GameID: "g", ParticipantID: "p", ProductLine: "city", Units: 40}
	require.NoError(t, inv.MarkSold(ctx, []Movement{mv}))
	require.NoError(t, inv.MarkSold(ctx, []Movement{mv}), "replay is a no-op")

	stock, err := inv.Available(ctx, "g", "p")
	require.NoError(t, err)
	assert.Equal(t, 60, stock["city"].Units)
}

func TestMemoryInventory_MarkSoldIsAtomic(t *testing.T) {
	inv := NewMemoryInventory()
	ctx := context.Background()
	inv.Seed("g", "p", "city", 10, dec(300))
	inv.Seed("g", "p", "ebike", 5, dec(900))

	moves := []Movement{
		{ID: MovementID("g", "p", "city", 1, 2025, "sold"), GameID: "g", ParticipantID: "p", ProductLine: "city", Units: 10},
		{ID: MovementID("g", "p", "ebike", 1, 2025, "sold"), GameID: "g", ParticipantID: "p", ProductLine: "ebike", Units: 6},
	}
	err := inv.MarkSold(ctx, moves)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	stock, _ := inv.Available(ctx, "g", "p")
	assert.Equal(t, 10, stock["city"].Units)
	assert.Equal(t, 5, stock["ebike"].Units)
}

func TestMemoryInventory_RestockAveragesCost(t *testing.T) {
	inv := NewMemoryInventory()
	ctx := context.Background()
	inv.Seed("g", "p", "city", 10, dec(300))

	mv := Movement{ID: MovementID("g", "p", "city", 1, 2025, "produced"), GameID: "g", ParticipantID: "p", ProductLine: "city", Units: 10, UnitCost: dec(400)}
	require.NoError(t, inv.Restock(ctx, []Movement{mv, mv}))

	stock, _ := inv.Available(ctx, "g", "p")
	assert.Equal(t, 20, stock["city"].Units)
	assert.True(t, stock["city"].UnitCost.Equal(dec(350)), stock["city"].UnitCost.String())
}

func TestMemoryInventory_Liquidation(t *testing.T) {
	inv := NewMemoryInventory()
	ctx := context.Background()
	inv.Seed("g", "p", "city", 10, dec(300))
	inv.Seed("g", "p", "ebike", 2, dec(1000))
	inv.SetComponents("g", "p", dec(500))

	v, err := inv.Liquidation(ctx, "g", "p")
	require.NoError(t, err)
	assert.True(t, v.FinishedGoods.Equal(dec(5000)))
	assert.True(t, v.Components.Equal(dec(500)))

	_, err = inv.Liquidation(ctx, "g", "nobody")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestAllocate(t *testing.T) {
	even := Allocate(model.ProductionPlan{TargetVolume: 10}, []string{"b", "a", "c"})
	assert.Equal(t, map[string]int{"a": 4, "b": 3, "c": 3}, even)

	weighted := Allocate(model.ProductionPlan{
		TargetVolume: 100,
		Priorities:   map[string]float64{"city": 3, "ebike": 1},
	}, []string{"city", "ebike", "kids"})
	assert.Equal(t, 75, weighted["city"])
	assert.Equal(t, 25, weighted["ebike"])
	assert.Equal(t, 0, weighted["kids"])

	assert.Empty(t, Allocate(model.ProductionPlan{TargetVolume: 0}, []string{"a"}))
}
