package effects

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/catalog"
)

func TestMerge_Empty(t *testing.T) {
	e := Merge(nil)
	assert.Equal(t, 1.0, e.Factor())
	assert.Equal(t, 100.0, e.Apply(100))
}

func TestMerge_Stacking(t *testing.T) {
	e := Merge([]Modifier{
		{Source: "incentives", Op: Multiply, Value: 1.2},
		{Source: "campaign", Op: Add, Value: 0.05},
		{Source: "festival", Op: Add, Value: 0.10},
		{Source: "weather", Op: Multiply, Value: 0.5},
	})
	assert.InDelta(t, 0.6, e.Multiplier, 1e-12)
	assert.InDelta(t, 0.15, e.Bonus, 1e-12)
	assert.InDelta(t, 0.69, e.Factor(), 1e-12)
	assert.Equal(t, []string{"campaign", "festival", "incentives", "weather"}, e.Sources)
}

func TestMerge_OrderIndependent(t *testing.T) {
	mods := []Modifier{
		{Source: "a", Op: Multiply, Value: 1.1},
		{Source: "b", Op: Multiply, Value: 0.93},
		{Source: "c", Op: Add, Value: 0.07},
		{Source: "d", Op: Multiply, Value: 1.0000003},
		{Source: "e", Op: Add, Value: -0.02},
		{Source: "f", Op: Multiply, Value: 2.7},
	}
	want := Merge(mods)

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		shuffled := append([]Modifier(nil), mods...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, Merge(shuffled))
	}
}

func TestMerge_IgnoresNonFinite(t *testing.T) {
	e := Merge([]Modifier{
		{Source: "bad", Op: Multiply, Value: math.NaN()},
		{Source: "inf", Op: Add, Value: math.Inf(1)},
		{Source: "ok", Op: Multiply, Value: 2},
	})
	assert.Equal(t, 2.0, e.Factor())
	assert.Equal(t, []string{"ok"}, e.Sources)
}

func TestApply_NeverNegative(t *testing.T) {
	e := Merge([]Modifier{{Source: "crash", Op: Add, Value: -3}})
	assert.Equal(t, 0.0, e.Apply(100))
}

func TestCollect(t *testing.T) {
	electricOnly := ProviderFunc(func(_ string, p catalog.Profile) []Modifier {
		if !p.IsElectric() {
			return nil
		}
		return []Modifier{{Source: "subsidy", Op: Multiply, Value: 1.3}}
	})
	always := ProviderFunc(func(string, catalog.Profile) []Modifier {
		return []Modifier{{Source: "season", Op: Add, Value: 0.1}}
	})

	mods := Collect("ebike", catalog.Classify("E-Bike"), electricOnly, nil, always)
	assert.Len(t, mods, 2)

	mods = Collect("city", catalog.Classify("City Bike"), electricOnly, always)
	assert.Len(t, mods, 1)
}
