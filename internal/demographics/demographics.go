// Package demographics evolves the customer population: income classes,
// age groups, buyer segments, total addressable customers and the
// per-product-line segments that feed the demand model.
package demographics

import (
	"math"
	"math/rand"

	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
)

// MonthlyPurchaseRate is the share of addressable customers buying a bike
// in a given month.
const MonthlyPurchaseRate = 0.01 / 12

// DefaultMarketSize is the addressable customer count of a new game.
const DefaultMarketSize = 1_000_000

type bounds struct{ min, max float64 }

var (
	incomeBounds = [model.NumIncomeClasses]bounds{{10, 40}, {15, 35}, {20, 40}, {10, 30}, {2, 15}}
	ageBounds    = [model.NumAgeGroups]bounds{{8, 12}, {6, 10}, {20, 30}, {30, 40}, {12, 18}, {5, 10}}
	ageNoise     = [model.NumAgeGroups]float64{0.05, 0.05, 0.1, 0.1, 0.05, 0.05}
	segBounds    = [model.NumSegments]bounds{{15, 30}, {25, 40}, {10, 25}, {15, 30}, {5, 20}, {1, 8}, {1, 5}}
	segNoise     = [model.NumSegments]float64{0.2, 0.3, 0.2, 0.2, 0.3, 0.1, 0.1}
)

// Default is the population of a game without history.
func Default(gameID string, month, year int, lines []model.ProductLine, f model.MarketFactors) model.Demographics {
	d := model.Demographics{
		GameID:         gameID,
		Month:          month,
		Year:           year,
		Income:         [model.NumIncomeClasses]float64{20, 25, 30, 20, 5},
		Age:            [model.NumAgeGroups]float64{10, 8, 25, 35, 15, 7},
		Segments:       [model.NumSegments]float64{20, 30, 15, 20, 10, 3, 2},
		TotalCustomers: DefaultMarketSize,
	}
	d.Products = Segments(d, lines, f)
	return d
}

// Advance derives the demographics for (month, year) from prev under the
// given economy and market factors. A nil prev is treated as Default.
func Advance(prev *model.Demographics, econ model.EconomicCondition, f model.MarketFactors,
	month, year int, lines []model.ProductLine, r *rand.Rand) model.Demographics {
	var p model.Demographics
	if prev == nil {
		p = Default("", month, year, lines, f)
	} else {
		p = *prev
	}

	next := model.Demographics{
		GameID:         p.GameID,
		Month:          month,
		Year:           year,
		Income:         evolveIncome(p.Income, econ, r),
		TotalCustomers: evolveMarketSize(p.TotalCustomers, econ, r),
	}
	for i := range next.Age {
		next.Age[i] = clamp(p.Age[i]+rng.Normal(r, 0, ageNoise[i]), ageBounds[i].min, ageBounds[i].max)
	}
	next.Segments = evolveSegments(p.Segments, f, r)
	next.Products = Segments(next, lines, f)
	return next
}

func evolveIncome(prev [model.NumIncomeClasses]float64, econ model.EconomicCondition, r *rand.Rand) [model.NumIncomeClasses]float64 {
	const (
		low = model.IncomeLow
		lm  = model.IncomeLowerMiddle
		mid = model.IncomeMiddle
		um  = model.IncomeUpperMiddle
		hi  = model.IncomeHigh
	)
	next := prev
	strength := econ.Strength()

	switch econ.Phase {
	case model.PhaseExpansion:
		m := 0.5 * strength
		fromLow := math.Min(m*0.3, prev[low]*0.05)
		fromLM := math.Min(m*0.2, prev[lm]*0.03)
		fromMid := math.Min(m*0.15, prev[mid]*0.02)
		fromUM := math.Min(m*0.1, prev[um]*0.02)
		next[low] -= fromLow
		next[lm] += fromLow - fromLM
		next[mid] += fromLM - fromMid
		next[um] += fromMid - fromUM
		next[hi] += fromUM
	case model.PhaseContraction:
		s := 2.0 - strength
		fromHi := math.Min(s*0.1, prev[hi]*0.1)
		fromUM := math.Min(s*0.15, prev[um]*0.05)
		fromMid := math.Min(s*0.2, prev[mid]*0.03)
		fromLM := math.Min(s*0.25, prev[lm]*0.02)
		next[hi] -= fromHi
		next[um] += fromHi - fromUM
		next[mid] += fromUM - fromMid
		next[lm] += fromMid - fromLM
		next[low] += fromLM
	default:
		for i := range next {
			next[i] += rng.Normal(r, 0, 0.1)
		}
	}

	total := 0.0
	for _, v := range next {
		total += v
	}
	if total <= 0 {
		return prev
	}
	for i := range next {
		next[i] = clamp(next[i]/total*100, incomeBounds[i].min, incomeBounds[i].max)
	}
	return next
}

func evolveSegments(prev [model.NumSegments]float64, f model.MarketFactors, r *rand.Rand) [model.NumSegments]float64 {
	var drift [model.NumSegments]float64
	drift[model.SegmentCommuters] = (f.InfrastructureIndex-100)/1000 + (f.GasPriceIndex-100)/2000
	drift[model.SegmentRecreational] = (f.HealthTrend-1)*2 + (f.WeatherFavorability - 1)
	drift[model.SegmentSports] = (f.HealthTrend - 1) * 3
	drift[model.SegmentFamilies] = (f.InfrastructureIndex - 100) / 2000
	drift[model.SegmentEco] = (f.Environmental - 1) * 5

	var next [model.NumSegments]float64
	total := 0.0
	for i := range next {
		next[i] = clamp(prev[i]+drift[i]+rng.Normal(r, 0, segNoise[i]), segBounds[i].min, segBounds[i].max)
		total += next[i]
	}
	if total > 0 {
		for i := range next {
			next[i] *= 100 / total
		}
	}
	return next
}

func evolveMarketSize(prev int, econ model.EconomicCondition, r *rand.Rand) int {
	if prev <= 0 {
		prev = DefaultMarketSize
	}
	growth := econ.GDPGrowth/100 + (econ.ConsumerConfidence-100)/1000
	size := int(float64(prev)*(1+growth)) + rng.IntRange(r, -5000, 5000)
	if size < 100_000 {
		return 100_000
	}
	if size > 10_000_000 {
		return 10_000_000
	}
	return size
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
