package economy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/model"
)

func TestTransitionProbability(t *testing.T) {
	assert.Zero(t, TransitionProbability(model.PhaseExpansion, 5))
	assert.Zero(t, TransitionProbability(model.PhaseExpansion, 12))
	assert.Equal(t, 1.0, TransitionProbability(model.PhaseExpansion, 36))

	// progress = 12/24 = 0.5 -> min(0.3, 0.1) + 0.1
	assert.InDelta(t, 0.2, TransitionProbability(model.PhaseExpansion, 24), 1e-9)
	// progress = 1/5 -> 0.04 + 0.4
	assert.InDelta(t, 0.44, TransitionProbability(model.PhasePeak, 2), 1e-9)
}

func TestAdvance_ForcedTransition(t *testing.T) {
	prev := Default("g1", 1, 2024)
	prev.Phase = model.PhasePeak
	prev.PhaseDuration = 6

	next := Advance(&prev, 2, 2024, rand.New(rand.NewSource(1)))
	assert.Equal(t, model.PhaseContraction, next.Phase)
	assert.Equal(t, 1, next.PhaseDuration)
	assert.Equal(t, "g1", next.GameID)
}

func TestAdvance_StaysBeforeMinimum(t *testing.T) {
	prev := Default("g1", 1, 2024)
	next := Advance(&prev, 2, 2024, rand.New(rand.NewSource(1)))
	assert.Equal(t, model.PhaseExpansion, next.Phase)
	assert.Equal(t, 1, next.PhaseDuration)
}

func TestAdvance_RangesHold(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	c := Default("g", 1, 2024)
	for i := 0; i < 600; i++ {
		next := Advance(&c, c.Month%12+1, c.Year, r)
		pp := params(next.Phase)
		require.GreaterOrEqual(t, next.GDPGrowth, pp.gdp.min-0.01)
		require.LessOrEqual(t, next.GDPGrowth, pp.gdp.max+0.01)
		require.GreaterOrEqual(t, next.Unemployment, pp.unemployment.min-0.01)
		require.LessOrEqual(t, next.Unemployment, pp.unemployment.max+0.01)
		require.GreaterOrEqual(t, next.Inflation, -2.0)
		require.LessOrEqual(t, next.Inflation, 8.0)
		require.GreaterOrEqual(t, next.InterestRate, 0.0)
		require.LessOrEqual(t, next.InterestRate, 15.0)
		require.GreaterOrEqual(t, next.ConsumerConfidence, 50.0)
		require.LessOrEqual(t, next.ConsumerConfidence, 150.0)
		require.GreaterOrEqual(t, next.DisposableIncome, 70.0)
		require.LessOrEqual(t, next.DisposableIncome, 130.0)
		require.GreaterOrEqual(t, next.Intensity, 0.1)
		require.LessOrEqual(t, next.Intensity, 3.0)
		require.LessOrEqual(t, next.PhaseDuration, pp.maxDuration)
		c = next
	}
}

func TestAdvance_CyclesThroughAllPhases(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	c := Default("g", 1, 2024)
	seen := map[model.Phase]bool{}
	for i := 0; i < 400; i++ {
		c = Advance(&c, 1, 2024, r)
		seen[c.Phase] = true
	}
	assert.Len(t, seen, 4)
}

func TestAdvance_Deterministic(t *testing.T) {
	prev := Default("g", 1, 2024)
	a := Advance(&prev, 2, 2024, rand.New(rand.NewSource(5)))
	b := Advance(&prev, 2, 2024, rand.New(rand.NewSource(5)))
	assert.Equal(t, a, b)
}

func TestAdvance_NilPrevious(t *testing.T) {
	c := Advance(nil, 3, 2025, rand.New(rand.NewSource(1)))
	assert.Equal(t, 3, c.Month)
	assert.Equal(t, model.PhaseExpansion, c.Phase)
}

func TestStrength(t *testing.T) {
	c := Default("g", 1, 2024)
	// gdp (7.5/10) = 0.75, emp (10/10) = 1, conf 1
	assert.InDelta(t, (0.75+1+1)/3, c.Strength(), 1e-9)
}

func TestSensitivity(t *testing.T) {
	lux := catalog.Classify("Premium Racing Bike")
	budget := catalog.Classify("Basic City Bike")
	ebike := catalog.Classify("E-Bike")
	plain := catalog.Classify("Trekking Bike")

	assert.Equal(t, 1.4, Sensitivity(model.PhaseExpansion, lux))
	assert.Equal(t, 0.6, Sensitivity(model.PhaseTrough, lux))
	assert.Equal(t, 1.3, Sensitivity(model.PhaseContraction, budget))
	assert.Equal(t, 0.8, Sensitivity(model.PhasePeak, budget))
	assert.Equal(t, 1.2, Sensitivity(model.PhaseExpansion, ebike))
	assert.Equal(t, 1.0, Sensitivity(model.PhaseTrough, plain))
}

func TestImpactMultiplier_Clamped(t *testing.T) {
	c := Default("g", 1, 2024)
	c.Intensity = 3
	c.ConsumerConfidence = 150
	c.DisposableIncome = 130
	assert.Equal(t, 3.0, ImpactMultiplier(c, catalog.Classify("Premium E-Bike")))

	c.Intensity = 0.1
	c.ConsumerConfidence = 50
	c.DisposableIncome = 70
	assert.Equal(t, 0.1, ImpactMultiplier(c, catalog.Classify("Basic City Bike")))
}

func TestForecastAhead(t *testing.T) {
	c := Default("g", 1, 2024)
	c.PhaseDuration = 10

	f := ForecastAhead(c, 3)
	assert.Equal(t, model.PhaseExpansion, f.Phase)
	assert.False(t, f.PhaseChangeExpected)
	assert.Equal(t, 1.2, f.DemandMultiplier)
	assert.InDelta(t, 3.75, f.GDPGrowth, 1e-9)

	f = ForecastAhead(c, 20)
	assert.Equal(t, model.PhasePeak, f.Phase)
	assert.True(t, f.PhaseChangeExpected)
	assert.Equal(t, 1.3, f.DemandMultiplier)

	far := ForecastAhead(c, 100)
	assert.Equal(t, 0.1, far.Confidence)
}
