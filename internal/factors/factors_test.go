package factors

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/economy"
)

func TestDefault(t *testing.T) {
	f := Default("g", 7, 2024)
	assert.Equal(t, 1.5, f.WeatherFavorability)
	assert.Equal(t, 1.6, f.SeasonalFactor)
	assert.Equal(t, 1.2, f.ElectricTrend)
	assert.Equal(t, 100.0, f.GasPriceIndex)
}

func TestWeatherAnomaly_Bounded(t *testing.T) {
	e := NewEngine(42)
	for m := 0; m < 240; m++ {
		a := e.WeatherAnomaly(m)
		require.GreaterOrEqual(t, a, 0.9)
		require.LessOrEqual(t, a, 1.1)
	}
	assert.Equal(t, e.WeatherAnomaly(17), NewEngine(42).WeatherAnomaly(17))
}

func TestAdvance_RangesHold(t *testing.T) {
	e := NewEngine(1)
	r := rand.New(rand.NewSource(11))
	econ := economy.Default("g", 1, 2024)
	f := Default("g", 1, 2024)
	month, year := 1, 2024
	for i := 1; i <= 600; i++ {
		month++
		if month > 12 {
			month, year = 1, year+1
		}
		econ = economy.Advance(&econ, month, year, r)
		f = e.Advance(&f, econ, month, year, i, r)

		require.GreaterOrEqual(t, f.RetroTrend, 0.5)
		require.LessOrEqual(t, f.RetroTrend, 2.0)
		require.GreaterOrEqual(t, f.ElectricTrend, 0.5)
		require.LessOrEqual(t, f.ElectricTrend, 3.0)
		require.GreaterOrEqual(t, f.HealthTrend, 0.7)
		require.LessOrEqual(t, f.HealthTrend, 2.0)
		require.GreaterOrEqual(t, f.Environmental, 0.8)
		require.LessOrEqual(t, f.Environmental, 1.8)
		require.GreaterOrEqual(t, f.GasPriceIndex, 50.0)
		require.LessOrEqual(t, f.GasPriceIndex, 200.0)
		require.GreaterOrEqual(t, f.CarbonTax, 0.0)
		require.LessOrEqual(t, f.CarbonTax, 50.0)
		require.GreaterOrEqual(t, f.InfrastructureIndex, 80.0)
		require.LessOrEqual(t, f.InfrastructureIndex, 150.0)
		require.GreaterOrEqual(t, f.Incentives, 0.0)
		require.LessOrEqual(t, f.Incentives, 1000.0)
		require.GreaterOrEqual(t, f.SmartBikeAdoption, 0.8)
		require.LessOrEqual(t, f.SmartBikeAdoption, 2.5)
		require.GreaterOrEqual(t, f.SharingCompetition, 0.7)
		require.LessOrEqual(t, f.SharingCompetition, 1.3)
		require.GreaterOrEqual(t, f.WeatherFavorability, 0.2)
		require.LessOrEqual(t, f.WeatherFavorability, 1.8)
		require.Equal(t, SeasonalFactor(month), f.SeasonalFactor)
		require.Equal(t, month, f.Month)
	}
}

func TestAdvance_Deterministic(t *testing.T) {
	econ := economy.Default("g", 1, 2024)
	prev := Default("g", 1, 2024)
	a := NewEngine(9).Advance(&prev, econ, 2, 2024, 1, rand.New(rand.NewSource(4)))
	b := NewEngine(9).Advance(&prev, econ, 2, 2024, 1, rand.New(rand.NewSource(4)))
	assert.Equal(t, a, b)
}

func TestBikeMultiplier(t *testing.T) {
	f := Default("g", 4, 2024) // weather 0.8, seasonal 1.1
	base := 0.8 * 1.1

	ebike := BikeMultiplier(f, catalog.Classify("E-Bike"))
	assert.InDelta(t, 1.2*1.1*1.0*1.0*base, ebike, 1e-9)

	city := BikeMultiplier(f, catalog.Classify("City Bike"))
	assert.InDelta(t, 1.0*1.0*1.1*base, city, 1e-9)

	kids := BikeMultiplier(f, catalog.Classify("Kids Bike"))
	assert.InDelta(t, base, kids, 1e-9)

	f.WeatherFavorability = 0.01
	assert.Equal(t, 0.1, BikeMultiplier(f, catalog.Classify("Kids Bike")))
}

func TestPolicy_Modifiers(t *testing.T) {
	f := Default("g", 1, 2024)
	assert.Empty(t, Policy{Factors: f}.Modifiers("city", catalog.Classify("City Bike")))

	f.Incentives = 250
	mods := Policy{Factors: f}.Modifiers("city", catalog.Classify("City Bike"))
	require.Len(t, mods, 1)
	assert.InDelta(t, 1.25, mods[0].Value, 1e-12)
}

func TestSummarize(t *testing.T) {
	f := Default("g", 7, 2024)
	f.ElectricTrend = 1.5
	f.RetroTrend = 0.8
	f.GasPriceIndex = 130
	f.InfrastructureIndex = 110

	s := Summarize(f)
	assert.Contains(t, s.TrendingUp, "electric_bikes")
	assert.Contains(t, s.TrendingDown, "retro_styles")
	assert.Equal(t, "high", s.GasPriceImpact)
	assert.Equal(t, "good", s.Infrastructure)
	assert.Equal(t, "favorable", s.WeatherEffect)
	assert.False(t, s.Incentives)
}

func TestSeasonalLookupWraps(t *testing.T) {
	assert.Equal(t, SeasonalFactor(1), SeasonalFactor(13))
}
