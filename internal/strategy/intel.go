package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/model"
)

// LineIntel is what an AI participant knows about one product line when it
// decides. Scores are in [0, 1] unless noted.
type LineIntel struct {
	Line         model.ProductLine `json:"line"`
	Profile      catalog.Profile   `json:"profile"`
	Stock        int               `json:"stock"`
	UnitCost     decimal.Decimal   `json:"unit_cost"`
	LastPrice    decimal.Decimal   `json:"last_price"`   // own price last month, zero if none
	MarketPrice  decimal.Decimal   `json:"market_price"` // last clearing price, zero if none
	DemandScore  float64           `json:"demand_score"`
	GrowthRate   float64           `json:"growth_rate"` // ratio, 1 = flat
	Competition  float64           `json:"competition"`
	Volatility   float64           `json:"volatility"`
	ProfitMargin float64           `json:"profit_margin"`
}

// Intel is the complete input to one AI decision.
type Intel struct {
	Participant model.Participant
	Difficulty  model.Difficulty
	State       model.MarketState
	Lines       []LineIntel
}

// DefaultUnitCost is used for lines without a known production cost.
var DefaultUnitCost = decimal.NewFromInt(300)

// LineFromHistory derives line intel from the most recent clearing results
// of the line, newest first. Missing history yields neutral scores.
func LineFromHistory(line model.ProductLine, stock int, unitCost, lastPrice decimal.Decimal, history []model.ClearingResult) LineIntel {
	if unitCost.LessThanOrEqual(decimal.Zero) {
		unitCost = DefaultUnitCost
	}
	li := LineIntel{
		Line:         line,
		Profile:      catalog.Classify(line.Name),
		Stock:        stock,
		UnitCost:     unitCost,
		LastPrice:    lastPrice,
		MarketPrice:  decimal.Zero,
		DemandScore:  0.5,
		GrowthRate:   1.0,
		Competition:  0.5,
		Volatility:   0.5,
		ProfitMargin: 0.5,
	}
	if len(history) == 0 {
		return li
	}

	last := history[0]
	li.MarketPrice = last.ClearingPrice
	if last.TotalSupplied > 0 {
		li.DemandScore = math.Min(1, float64(last.TotalDemanded)/float64(last.TotalSupplied))
	}
	li.Competition = math.Min(1, float64(last.Competitors)/5)
	if p := last.ClearingPrice.InexactFloat64(); p > 0 {
		c := unitCost.InexactFloat64()
		li.ProfitMargin = math.Max(0, math.Min(1, (p-c)/p))
	}
	if len(history) > 1 && history[1].TotalDemanded > 0 {
		prev := float64(history[1].TotalDemanded)
		cur := float64(last.TotalDemanded)
		li.GrowthRate = math.Max(0.5, math.Min(2, cur/prev))
		li.Volatility = math.Min(1, math.Abs(cur-prev)/prev)
	}
	return li
}

// Confidence is the average market confidence across lines:
// (growth + stability - competition) / 2, or 0.5 without lines.
func Confidence(lines []LineIntel) float64 {
	if len(lines) == 0 {
		return 0.5
	}
	total := 0.0
	for _, l := range lines {
		total += (l.GrowthRate + (1 - l.Volatility) - l.Competition) / 2
	}
	return total / float64(len(lines))
}
