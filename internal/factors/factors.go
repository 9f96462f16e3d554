// Package factors evolves the exogenous market trends that shape bicycle
// demand: style adoption, health and environmental attitudes, fuel prices,
// infrastructure, policy and weather.
//
// Every scalar follows the same recipe: an optional seasonal lookup, a slow
// sinusoidal or saturating-growth arc, rare probabilistic shocks and
// Gaussian noise, clamped to a fixed valid range.
package factors

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/effects"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
)

// Monthly lookup tables, January first.
var (
	weatherTable  = [12]float64{0.3, 0.4, 0.6, 0.8, 1.2, 1.4, 1.5, 1.4, 1.2, 0.9, 0.5, 0.3}
	seasonalTable = [12]float64{0.6, 0.7, 0.9, 1.1, 1.3, 1.5, 1.6, 1.5, 1.3, 1.0, 0.7, 0.6}
	healthTable   = [12]float64{1.4, 1.3, 1.2, 1.0, 0.9, 0.8, 0.8, 0.9, 1.0, 1.1, 1.2, 1.3}
)

// SeasonalWeather returns the base weather favorability for a month (1..12).
func SeasonalWeather(month int) float64 { return weatherTable[monthIdx(month)] }

// SeasonalFactor returns the seasonal demand factor for a month (1..12).
func SeasonalFactor(month int) float64 { return seasonalTable[monthIdx(month)] }

func monthIdx(month int) int {
	return ((month-1)%12 + 12) % 12
}

// Engine advances market factors. The weather anomaly is a smooth noise
// field seeded per game, so consecutive months drift rather than jump.
type Engine struct {
	noise opensimplex.Noise
}

// NewEngine creates an engine for one game seed.
func NewEngine(seed int64) *Engine {
	return &Engine{noise: opensimplex.NewNormalized(seed)}
}

// Default is the factor set used when a game has no history.
func Default(gameID string, month, year int) model.MarketFactors {
	return model.MarketFactors{
		GameID:              gameID,
		Month:               month,
		Year:                year,
		RetroTrend:          1.0,
		ElectricTrend:       1.2,
		HealthTrend:         1.0,
		Environmental:       1.1,
		GasPriceIndex:       100,
		CarbonTax:           0,
		InfrastructureIndex: 100,
		Incentives:          0,
		SmartBikeAdoption:   1.0,
		SharingCompetition:  1.0,
		WeatherFavorability: SeasonalWeather(month),
		SeasonalFactor:      SeasonalFactor(month),
	}
}

// WeatherAnomaly is a multiplicative deviation in [0.9, 1.1] for the given
// month index.
func (e *Engine) WeatherAnomaly(elapsed int) float64 {
	n := octaveNoise(e.noise, float64(elapsed), 0, 3, 0.15, 0.5)
	return 1 + 0.1*(2*n-1)
}

// Advance derives factors for (month, year) from prev. elapsed is the number
// of months since the game started. A nil prev is treated as Default.
func (e *Engine) Advance(prev *model.MarketFactors, econ model.EconomicCondition, month, year, elapsed int, r *rand.Rand) model.MarketFactors {
	var p model.MarketFactors
	if prev == nil {
		p = Default("", month, year)
	} else {
		p = *prev
	}
	booming := econ.Phase.Booming()

	next := model.MarketFactors{
		GameID:         p.GameID,
		Month:          month,
		Year:           year,
		SeasonalFactor: SeasonalFactor(month),
	}

	// Retro styles come and go on a two-year arc.
	retro := p.RetroTrend + 0.3*math.Sin(2*math.Pi*float64(elapsed)/24)*0.1 + rng.Normal(r, 0, 0.05)
	next.RetroTrend = clamp(retro, 0.5, 2.0)

	electricGrowth := 0.02 * (1 - p.ElectricTrend/2.5) * econ.Strength()
	if rng.Chance(r, 0.02) {
		electricGrowth += rng.Uniform(r, 0.1, 0.3)
	}
	next.ElectricTrend = clamp(p.ElectricTrend+electricGrowth+rng.Normal(r, 0, 0.03), 0.5, 3.0)

	health := p.HealthTrend + (healthTable[monthIdx(month)]-1)*0.05 +
		0.4*math.Sin(2*math.Pi*float64(elapsed)/36)*0.05
	if rng.Chance(r, 0.03) {
		health += rng.Uniform(r, -0.1, 0.2)
	}
	next.HealthTrend = clamp(health+rng.Normal(r, 0, 0.04), 0.7, 2.0)

	env := p.Environmental + 0.01*(1-p.Environmental/1.6)
	if booming {
		env += 0.005
	} else {
		env -= 0.002
	}
	if rng.Chance(r, 0.015) {
		env += rng.Uniform(r, 0.05, 0.15)
	}
	next.Environmental = clamp(env+rng.Normal(r, 0, 0.02), 0.8, 1.8)

	next.GasPriceIndex = evolveGas(p.GasPriceIndex, econ.Phase, r)
	next.CarbonTax = evolveCarbonTax(p.CarbonTax, r)

	next.WeatherFavorability = clamp(SeasonalWeather(month)*e.WeatherAnomaly(elapsed), 0.2, 1.8)

	infraRate := 0.5
	if booming {
		infraRate = 1.5
	}
	infra := p.InfrastructureIndex + 0.2*infraRate
	if rng.Chance(r, 0.02) {
		infra += rng.Uniform(r, 2, 8)
	}
	next.InfrastructureIndex = clamp(infra+rng.Normal(r, 0, 0.3), 80, 150)

	next.Incentives = evolveIncentives(p.Incentives, econ.Phase, r)

	smart := p.SmartBikeAdoption + 0.015*(1-p.SmartBikeAdoption/2.2)
	if rng.Chance(r, 0.02) {
		smart += rng.Uniform(r, 0.05, 0.2)
	}
	next.SmartBikeAdoption = clamp(smart+rng.Normal(r, 0, 0.02), 0.8, 2.5)

	next.SharingCompetition = evolveSharing(p.SharingCompetition, booming, r)
	return next
}

func evolveGas(v float64, phase model.Phase, r *rand.Rand) float64 {
	var change float64
	switch phase {
	case model.PhaseExpansion:
		change = rng.Uniform(r, 0.5, 2.0)
	case model.PhasePeak:
		change = rng.Uniform(r, -1.0, 1.5)
	case model.PhaseContraction:
		change = rng.Uniform(r, -3.0, 0.5)
	default:
		change = rng.Uniform(r, -2.0, 1.0)
	}
	if rng.Chance(r, 0.05) {
		change += rng.Uniform(r, -15, 20)
	}
	return clamp(v+change+(100-v)*0.02, 50, 200)
}

func evolveCarbonTax(v float64, r *rand.Rand) float64 {
	if rng.Chance(r, 0.01) {
		return clamp(v+rng.Uniform(r, -5, 15), 0, 50)
	}
	return clamp(v+rng.Normal(r, 0, 0.5), 0, 50)
}

func evolveIncentives(v float64, phase model.Phase, r *rand.Rand) float64 {
	if !phase.Booming() && rng.Chance(r, 0.03) {
		return math.Min(1000, v+rng.Uniform(r, 50, 500))
	}
	if rng.Chance(r, 0.015) {
		return clamp(v+rng.Uniform(r, -100, 300), 0, 1000)
	}
	return clamp(v+rng.Normal(r, 0, 10), 0, 1000)
}

func evolveSharing(v float64, booming bool, r *rand.Rand) float64 {
	var change float64
	if booming {
		change = rng.Uniform(r, 0.005, 0.02)
	} else {
		change = rng.Uniform(r, -0.02, 0.005)
	}
	if v > 1.15 {
		change -= 0.01
	}
	if rng.Chance(r, 0.02) {
		change += rng.Uniform(r, -0.05, 0.1)
	}
	return clamp(v+change+rng.Normal(r, 0, 0.01), 0.7, 1.3)
}

// BikeMultiplier is the factor-driven demand scale for one product profile,
// before policy effects, clamped to [0.1, 5].
func BikeMultiplier(f model.MarketFactors, p catalog.Profile) float64 {
	m := 1.0
	switch p.Category {
	case catalog.CategoryElectric:
		m *= f.ElectricTrend * f.Environmental * (f.GasPriceIndex / 100) * f.SmartBikeAdoption
	case catalog.CategoryRetro:
		m *= f.RetroTrend * (2 - f.SmartBikeAdoption)
	case catalog.CategoryMountain, catalog.CategoryRacing, catalog.CategoryBMX:
		m *= f.HealthTrend * (2 - f.SharingCompetition)
	case catalog.CategoryCity:
		m *= (f.InfrastructureIndex / 100) * (2 - f.SharingCompetition) * f.Environmental
	case catalog.CategoryCargo:
		m *= f.Environmental * (f.InfrastructureIndex / 100)
	}
	m *= f.WeatherFavorability * f.SeasonalFactor
	return clamp(m, 0.1, 5.0)
}

// Policy publishes the government incentive programme as a demand effect
// on every line.
type Policy struct {
	Factors model.MarketFactors
}

// Modifiers implements effects.Provider.
func (p Policy) Modifiers(string, catalog.Profile) []effects.Modifier {
	if p.Factors.Incentives <= 0 {
		return nil
	}
	return []effects.Modifier{{
		Source: "government_incentives",
		Op:     effects.Multiply,
		Value:  1 + p.Factors.Incentives/1000,
	}}
}

// Summary is a readable digest of the current trends.
type Summary struct {
	OverallMultiplier float64  `json:"overall_multiplier"`
	TrendingUp        []string `json:"trending_up"`
	TrendingDown      []string `json:"trending_down"`
	SeasonalEffect    string   `json:"seasonal_effect"`
	WeatherEffect     string   `json:"weather_effect"`
	GasPriceImpact    string   `json:"gas_price_impact"`
	Incentives        bool     `json:"government_incentives"`
	Infrastructure    string   `json:"infrastructure_quality"`
}

// Summarize classifies the factors into trending-up and trending-down lists
// and qualitative labels.
func Summarize(f model.MarketFactors) Summary {
	s := Summary{
		OverallMultiplier: f.OverallDemandMultiplier(),
		TrendingUp:        []string{},
		TrendingDown:      []string{},
		SeasonalEffect:    favorability(f.SeasonalFactor),
		WeatherEffect:     favorability(f.WeatherFavorability),
		Incentives:        f.Incentives > 0,
	}
	up := []struct {
		name string
		ok   bool
	}{
		{"electric_bikes", f.ElectricTrend > 1.2},
		{"environmental_consciousness", f.Environmental > 1.1},
		{"health_fitness", f.HealthTrend > 1.1},
		{"smart_bikes", f.SmartBikeAdoption > 1.1},
		{"retro_styles", f.RetroTrend > 1.1},
	}
	for _, u := range up {
		if u.ok {
			s.TrendingUp = append(s.TrendingUp, u.name)
		}
	}
	down := []struct {
		name string
		ok   bool
	}{
		{"electric_bikes", f.ElectricTrend < 0.9},
		{"environmental_consciousness", f.Environmental < 0.95},
		{"health_fitness", f.HealthTrend < 0.9},
		{"retro_styles", f.RetroTrend < 0.9},
	}
	for _, d := range down {
		if d.ok {
			s.TrendingDown = append(s.TrendingDown, d.name)
		}
	}
	switch {
	case f.GasPriceIndex > 120:
		s.GasPriceImpact = "high"
	case f.GasPriceIndex > 80:
		s.GasPriceImpact = "normal"
	default:
		s.GasPriceImpact = "low"
	}
	switch {
	case f.InfrastructureIndex > 120:
		s.Infrastructure = "excellent"
	case f.InfrastructureIndex > 100:
		s.Infrastructure = "good"
	default:
		s.Infrastructure = "poor"
	}
	return s
}

func favorability(v float64) string {
	if v > 1.0 {
		return "favorable"
	}
	return "unfavorable"
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
