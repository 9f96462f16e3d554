// Package report turns settled decisions into per-participant sales
// reports with plain-language outcome bands.
package report

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

// Reason explains why offered units went unsold.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonPriceTooHigh  Reason = "price_too_high"
	ReasonOversaturated Reason = "market_oversaturated"
	ReasonPartiallySold Reason = "partially_sold"
)

var reasonText = map[Reason]string{
	ReasonPriceTooHigh:  "your price was above what buyers would pay",
	ReasonOversaturated: "the market was oversaturated",
	ReasonPartiallySold: "demand ran out before all units sold",
}

// UnsoldReason classifies unsold units. Prices more than 15 percent above
// the line average are too high; otherwise supply beyond demand means the
// market was oversaturated.
func UnsoldReason(sold, offered int, price, avgPrice decimal.Decimal, supplied, demanded int) Reason {
	if sold >= offered {
		return ReasonNone
	}
	if avgPrice.IsPositive() && price.Div(avgPrice).GreaterThan(decimal.NewFromFloat(1.15)) {
		return ReasonPriceTooHigh
	}
	if supplied > demanded {
		if sold == 0 {
			return ReasonOversaturated
		}
		return ReasonPartiallySold
	}
	return ReasonPartiallySold
}

// SuccessRate is units sold as a percentage of units planned.
func SuccessRate(sold, planned int) float64 {
	if planned <= 0 {
		return 0
	}
	return float64(sold) / float64(planned) * 100
}

// Outcome describes a line's sales result.
func Outcome(sold, planned int, reason Reason) string {
	if planned <= 0 {
		return "No units offered"
	}
	rate := SuccessRate(sold, planned)
	switch {
	case sold >= planned:
		return fmt.Sprintf("Sold out: all %d units found buyers", planned)
	case rate >= 80:
		return fmt.Sprintf("Strong sales: %d of %d units sold", sold, planned)
	case rate >= 50:
		return fmt.Sprintf("Moderate sales: %d of %d units sold; %d units left unsold", sold, planned, planned-sold)
	case rate >= 20:
		msg := fmt.Sprintf("Weak sales: %d of %d units sold", sold, planned)
		if t, ok := reasonText[reason]; ok {
			msg += "; " + t
		}
		return msg
	case sold > 0:
		return fmt.Sprintf("Very limited sales: only %d of %d units sold", sold, planned)
	}
	if t, ok := reasonText[reason]; ok {
		return "No sales: " + t
	}
	return "No sales"
}

// MarketCondition describes the supply/demand balance of a line.
func MarketCondition(supplied, demanded int) string {
	if demanded <= 0 {
		return "no demand"
	}
	ratio := float64(supplied) / float64(demanded)
	switch {
	case ratio < 0.8:
		return "undersupplied"
	case ratio < 1.2:
		return "balanced"
	case ratio < 2:
		return "oversupplied"
	}
	return "saturated"
}

// CompetitivePosition describes a price relative to the line average.
func CompetitivePosition(price, avgPrice decimal.Decimal) string {
	if !avgPrice.IsPositive() {
		return "at market"
	}
	r := price.Div(avgPrice).InexactFloat64()
	switch {
	case r < 0.85:
		return "well below market"
	case r < 0.97:
		return "below market"
	case r <= 1.03:
		return "at market"
	case r <= 1.15:
		return "above market"
	}
	return "premium"
}

// Line is the report for one product line.
type Line struct {
	ProductLine         string          `json:"product_line"`
	Offered             int             `json:"offered"`
	Sold                int             `json:"sold"`
	Price               decimal.Decimal `json:"price"`
	Revenue             decimal.Decimal `json:"revenue"`
	SuccessRate         float64         `json:"success_rate"`
	Reason              Reason          `json:"reason,omitempty"`
	Outcome             string          `json:"outcome"`
	MarketCondition     string          `json:"market_condition"`
	CompetitivePosition string          `json:"competitive_position"`
}

// Report is one participant's sales report for a settled month.
type Report struct {
	GameID        string          `json:"game_id"`
	ParticipantID string          `json:"participant_id"`
	Month         int             `json:"month"`
	Year          int             `json:"year"`
	Lines         []Line          `json:"lines"`
	UnitsOffered  int             `json:"units_offered"`
	UnitsSold     int             `json:"units_sold"`
	Revenue       decimal.Decimal `json:"revenue"`
}

// Build assembles the report of one participant from every decision of the
// month (all participants, for line averages) and the clearing results.
func Build(gameID, participantID string, month, year int, decisions []model.Decision, clearing []model.ClearingResult) Report {
	byLine := make(map[string]model.ClearingResult, len(clearing))
	for _, c := range clearing {
		byLine[c.ProductLine] = c
	}

	type acc struct {
		sum decimal.Decimal
		n   int64
	}
	avg := map[string]*acc{}
	for _, d := range decisions {
		if d.Quantity <= 0 {
			continue
		}
		a := avg[d.ProductLine]
		if a == nil {
			a = &acc{sum: decimal.Zero}
			avg[d.ProductLine] = a
		}
		a.sum = a.sum.Add(d.Price)
		a.n++
	}

	r := Report{GameID: gameID, ParticipantID: participantID, Month: month, Year: year, Revenue: decimal.Zero}
	for _, d := range decisions {
		if d.ParticipantID != participantID {
			continue
		}
		lineAvg := decimal.Zero
		if a := avg[d.ProductLine]; a != nil && a.n > 0 {
			lineAvg = a.sum.Div(decimal.NewFromInt(a.n))
		}
		c := byLine[d.ProductLine]
		reason := UnsoldReason(d.Sold, d.Quantity, d.Price, lineAvg, c.TotalSupplied, c.TotalDemanded)
		r.Lines = append(r.Lines, Line{
			ProductLine:         d.ProductLine,
			Offered:             d.Quantity,
			Sold:                d.Sold,
			Price:               d.Price,
			Revenue:             d.Revenue,
			SuccessRate:         SuccessRate(d.Sold, d.Quantity),
			Reason:              reason,
			Outcome:             Outcome(d.Sold, d.Quantity, reason),
			MarketCondition:     MarketCondition(c.TotalSupplied, c.TotalDemanded),
			CompetitivePosition: CompetitivePosition(d.Price, lineAvg),
		})
		r.UnitsOffered += d.Quantity
		r.UnitsSold += d.Sold
		r.Revenue = r.Revenue.Add(d.Revenue)
	}
	sort.Slice(r.Lines, func(i, j int) bool { return r.Lines[i].ProductLine < r.Lines[j].ProductLine })
	return r
}
