package economy

import (
	"math"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/model"
)

// Sensitivity returns how strongly a product profile reacts to the phase.
// Luxury lines suffer in downturns, budget lines gain share when money is
// tight and electric lines track the cycle moderately.
func Sensitivity(phase model.Phase, p catalog.Profile) float64 {
	booming := phase.Booming()
	switch {
	case p.Tier == catalog.TierLuxury:
		if booming {
			return 1.4
		}
		return 0.6
	case p.Tier == catalog.TierBudget:
		if booming {
			return 0.8
		}
		return 1.3
	case p.IsElectric():
		if booming {
			return 1.2
		}
		return 0.8
	}
	return 1.0
}

// ImpactMultiplier is the economy's demand effect for one product profile,
// clamped to [0.1, 3].
func ImpactMultiplier(c model.EconomicCondition, p catalog.Profile) float64 {
	m := 0.5 + c.Strength()
	m *= c.ConsumerConfidence / 100
	m *= c.DisposableIncome / 100
	m *= math.Max(0.3, 1-(c.Unemployment-5)/20)
	m *= math.Max(0.7, 1-(c.InterestRate-3)/20)
	m *= c.Intensity
	m *= Sensitivity(c.Phase, p)
	return clamp(m, 0.1, 3.0)
}

// Forecast is a heuristic projection of the economy.
type Forecast struct {
	MonthsAhead         int         `json:"months_ahead"`
	Phase               model.Phase `json:"phase"`
	GDPGrowth           float64     `json:"gdp_growth"`
	Unemployment        float64     `json:"unemployment"`
	DemandMultiplier    float64     `json:"demand_multiplier"`
	Confidence          float64     `json:"confidence"`
	PhaseChangeExpected bool        `json:"phase_change_expected"`
}

var forecastMultiplier = map[model.Phase]float64{
	model.PhaseExpansion:   1.2,
	model.PhasePeak:        1.3,
	model.PhaseContraction: 0.7,
	model.PhaseTrough:      0.6,
}

// ForecastAhead projects the condition months ahead. The phase is assumed to
// change once the phase reaches its average duration; indicators are the
// midpoints of the projected phase's ranges. Confidence decays with the
// horizon.
func ForecastAhead(c model.EconomicCondition, months int) Forecast {
	if months < 1 {
		months = 1
	}
	phase := c.Phase
	if phase == "" {
		phase = model.PhaseExpansion
	}
	pp := params(phase)
	avg := float64(pp.minDuration+pp.maxDuration) / 2
	changed := float64(c.PhaseDuration+months) > avg
	if changed {
		phase = phase.Next()
		pp = params(phase)
	}
	return Forecast{
		MonthsAhead:         months,
		Phase:               phase,
		GDPGrowth:           round((pp.gdp.min+pp.gdp.max)/2, 2),
		Unemployment:        round((pp.unemployment.min+pp.unemployment.max)/2, 2),
		DemandMultiplier:    forecastMultiplier[phase],
		Confidence:          round(math.Max(0.1, 0.9*math.Exp(-0.05*float64(months))), 3),
		PhaseChangeExpected: changed,
	}
}
