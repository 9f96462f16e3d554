// Package economy advances the macroeconomic business cycle one month at a
// time.
//
// The cycle moves through four phases:
//
//	expansion -> peak -> contraction -> trough -> expansion
//
// Each phase has a bounded duration and its own GDP and unemployment
// ranges. Indicators are momentum-smoothed random walks clamped to those
// ranges; interest rates follow a simplified Taylor rule. The engine is a
// pure function of the previous condition and the supplied random stream.
package economy

import (
	"math"
	"math/rand"

	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
)

// Momentum is the weight given to the previous value of each indicator.
const Momentum = 0.7

type bounds struct{ min, max float64 }

type phaseParams struct {
	minDuration, maxDuration int
	gdp, unemployment       bounds
	volatility              float64
	transitionBias          float64
	confidence              bounds
}

var phases = map[model.Phase]phaseParams{
	model.PhaseExpansion: {
		minDuration: 12, maxDuration: 36,
		gdp: bounds{1.5, 6.0}, unemployment: bounds{3.0, 8.0},
		volatility: 0.5, transitionBias: 0.1,
		confidence: bounds{105, 130},
	},
	model.PhasePeak: {
		minDuration: 1, maxDuration: 6,
		gdp: bounds{0.5, 3.0}, unemployment: bounds{3.0, 6.0},
		volatility: 0.8, transitionBias: 0.4,
		confidence: bounds{115, 135},
	},
	model.PhaseContraction: {
		minDuration: 6, maxDuration: 18,
		gdp: bounds{-8.0, 1.0}, unemployment: bounds{6.0, 15.0},
		volatility: 1.2, transitionBias: 0.2,
		confidence: bounds{70, 95},
	},
	model.PhaseTrough: {
		minDuration: 1, maxDuration: 6,
		gdp: bounds{-5.0, 0.5}, unemployment: bounds{8.0, 12.0},
		volatility: 1.0, transitionBias: 0.3,
		confidence: bounds{60, 85},
	},
}

func params(p model.Phase) phaseParams {
	if pp, ok := phases[p]; ok {
		return pp
	}
	return phases[model.PhaseExpansion]
}

// Default is the condition used when a game has no economic history.
func Default(gameID string, month, year int) model.EconomicCondition {
	return model.EconomicCondition{
		GameID:             gameID,
		Month:              month,
		Year:               year,
		GDPGrowth:          2.5,
		Inflation:          2.0,
		Unemployment:       5.0,
		InterestRate:       3.5,
		ConsumerConfidence: 100,
		DisposableIncome:   100,
		Phase:              model.PhaseExpansion,
		PhaseDuration:      0,
		Intensity:          1.0,
	}
}

// TransitionProbability returns the chance of leaving the current phase
// after d months. It is 0 up to the minimum duration and 1 at the maximum.
func TransitionProbability(phase model.Phase, d int) float64 {
	pp := params(phase)
	if d >= pp.maxDuration {
		return 1
	}
	if d <= pp.minDuration {
		return 0
	}
	progress := float64(d-pp.minDuration) / float64(pp.maxDuration-pp.minDuration)
	return math.Min(1, math.Min(0.3, progress*0.2)+pp.transitionBias)
}

// Advance derives the condition for (month, year) from prev. A nil prev is
// treated as Default.
func Advance(prev *model.EconomicCondition, month, year int, r *rand.Rand) model.EconomicCondition {
	var base model.EconomicCondition
	if prev == nil {
		base = Default("", month, year)
	} else {
		base = *prev
	}

	phase, duration := base.Phase, base.PhaseDuration
	if phase == "" {
		phase = model.PhaseExpansion
	}
	if p := TransitionProbability(phase, duration); p > 0 && r.Float64() < p {
		phase = phase.Next()
		duration = 1
	} else {
		duration++
	}
	pp := params(phase)

	gdp := Momentum*base.GDPGrowth + (1-Momentum)*rng.Uniform(r, pp.gdp.min, pp.gdp.max) +
		rng.Normal(r, 0, pp.volatility)
	gdp = clamp(gdp, pp.gdp.min, pp.gdp.max)

	gdpPos := (gdp - pp.gdp.min) / (pp.gdp.max - pp.gdp.min)
	unempTarget := pp.unemployment.max - gdpPos*(pp.unemployment.max-pp.unemployment.min)
	unemp := Momentum*base.Unemployment + (1-Momentum)*unempTarget + rng.Normal(r, 0, pp.volatility*0.5)
	unemp = clamp(unemp, pp.unemployment.min, pp.unemployment.max)

	pressure := 0.3
	if phase.Booming() {
		pressure = 0.5
	}
	inflation := clamp(2.0+(gdp/4.0)*pressure+rng.Normal(r, 0, 0.3), -2, 8)

	taylor := 2.0 + inflation + 0.5*(inflation-2.0) + 0.5*(gdp-2.5) - 0.2*(unemp-5.0)
	rate := clamp(Momentum*base.InterestRate+(1-Momentum)*taylor, 0, 15)

	confTarget := rng.Uniform(r, pp.confidence.min, pp.confidence.max)
	confidence := clamp(Momentum*base.ConsumerConfidence+(1-Momentum)*confTarget+rng.Normal(r, 0, 5), 50, 150)

	income := base.DisposableIncome*(1+gdp/100)*(1-(unemp-5)/100) + rng.Normal(r, 0, 2)
	income = clamp(income, 70, 130)

	intensity := base.Intensity
	if duration == 1 {
		intensity = rng.Uniform(r, 0.8, 1.5)
	}
	intensity = clamp(intensity+rng.Normal(r, 0, 0.1), 0.1, 3.0)

	return model.EconomicCondition{
		GameID:             base.GameID,
		Month:              month,
		Year:               year,
		GDPGrowth:          round(gdp, 2),
		Inflation:          round(inflation, 2),
		Unemployment:       round(unemp, 2),
		InterestRate:       round(rate, 2),
		ConsumerConfidence: round(confidence, 1),
		DisposableIncome:   round(income, 1),
		Phase:              phase,
		PhaseDuration:      duration,
		Intensity:          round(intensity, 3),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
