// Package clearing allocates a product line's demand across the sellers'
// offers under one of the supported market structures.
//
// Every structure honours the same bounds: nobody sells more than they
// offered, and the line never sells more than was demanded. Results depend
// only on the offers and the demand, never on the order offers arrived in.
//
// All monetary values use shopspring/decimal. Attractiveness scores and
// shares are plain floats and are converted before touching money.
package clearing

import (
	"errors"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

var (
	// ErrNoOffers is returned when a line has nothing offered for sale.
	ErrNoOffers = errors.New("clearing: no offers")

	// ErrUnsupportedStructure is returned for an unknown market structure.
	ErrUnsupportedStructure = model.ErrUnsupportedStructure

	// PriceScale is the number of decimal places for clearing prices.
	PriceScale int32 = 2
)

// Attractiveness weights for monopolistic competition.
const (
	priceWeight         = 0.40
	qualityWeight       = 0.25
	innovationWeight    = 0.15
	brandWeight         = 0.15
	marketingWeight     = 0.05
	marketingSaturation = 10000.0
	minScore            = 0.1
)

// Offer is one seller's offer for the line being cleared.
type Offer struct {
	ParticipantID string `json:"participant_id"`
	model.Offer
}

// Allocation is the settled outcome of one offer.
type Allocation struct {
	ParticipantID string          `json:"participant_id"`
	Offered       int             `json:"offered"`
	Price         decimal.Decimal `json:"price"`
	Sold          int             `json:"sold"`
	Revenue       decimal.Decimal `json:"revenue"`
	Share         float64         `json:"share"` // percent of units sold on the line
}

// Result is the outcome of clearing one product line.
type Result struct {
	model.ClearingResult
	Allocations []Allocation `json:"allocations"`
}

// Sold returns the units allocated to a participant.
func (r *Result) Sold(participantID string) int {
	for _, a := range r.Allocations {
		if a.ParticipantID == participantID {
			return a.Sold
		}
	}
	return 0
}

// Clear allocates demand across offers. Offers with a non-positive quantity
// are ignored; if none remain, ErrNoOffers is returned.
func Clear(structure model.MarketStructure, offers []Offer, demand int) (Result, error) {
	live := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Quantity > 0 {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return Result{}, ErrNoOffers
	}
	if demand < 0 {
		demand = 0
	}

	// Canonical order: participant ID, then price. Allocation rules that
	// iterate use this, so arrival order never matters.
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].ParticipantID != live[j].ParticipantID {
			return live[i].ParticipantID < live[j].ParticipantID
		}
		return live[i].Price.LessThan(live[j].Price)
	})

	var sold []int
	switch structure {
	case model.StructurePerfect:
		sold = perfect(live, demand)
	case model.StructureMonopolistic:
		sold = monopolistic(live, demand)
	case model.StructureOligopoly, model.StructureDuopoly:
		sold = oligopoly(live, demand)
	default:
		return Result{}, ErrUnsupportedStructure
	}
	capToDemand(sold, demand)

	return summarize(structure, live, sold, demand), nil
}

// perfect fills demand from the cheapest offer upwards.
func perfect(offers []Offer, demand int) []int {
	idx := make([]int, len(offers))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := offers[idx[a]].Price, offers[idx[b]].Price
		if !pa.Equal(pb) {
			return pa.LessThan(pb)
		}
		return offers[idx[a]].ParticipantID < offers[idx[b]].ParticipantID
	})

	sold := make([]int, len(offers))
	remaining := demand
	for _, i := range idx {
		if remaining <= 0 {
			break
		}
		take := min(offers[i].Quantity, remaining)
		sold[i] = take
		remaining -= take
	}
	return sold
}

// Attractiveness scores an offer for monopolistic competition.
func Attractiveness(o model.Offer) float64 {
	p := o.Price.InexactFloat64()
	score := priceWeight/(1+p/1000) +
		qualityWeight*o.Quality/10 +
		innovationWeight*o.Innovation/10 +
		brandWeight*o.Brand/10 +
		marketingWeight*math.Min(1, o.Marketing.InexactFloat64()/marketingSaturation)
	return math.Max(minScore, score)
}

// monopolistic splits demand by relative attractiveness.
func monopolistic(offers []Offer, demand int) []int {
	scores := make([]float64, len(offers))
	total := 0.0
	for i, o := range offers {
		scores[i] = Attractiveness(o.Offer)
		total += scores[i]
	}

	sold := make([]int, len(offers))
	for i, o := range offers {
		share := 1 / float64(len(offers))
		if total > 0 {
			share = scores[i] / total
		}
		sold[i] = min(int(float64(demand)*share), o.Quantity)
	}
	return sold
}

// oligopoly gives each seller an equal strategic slice of demand, leaving
// one slice for the fringe, scaled by its price advantage over the average.
func oligopoly(offers []Offer, demand int) []int {
	n := len(offers)
	base := float64(demand) / float64(n+1)

	avg := 0.0
	for _, o := range offers {
		avg += o.Price.InexactFloat64()
	}
	avg /= float64(n)

	sold := make([]int, n)
	for i, o := range offers {
		strategic := math.Min(base, float64(o.Quantity))
		advantage := 1.0
		if avg > 0 {
			advantage = 1 - (o.Price.InexactFloat64()-avg)/avg
			advantage = math.Max(0.5, math.Min(1.5, advantage))
		}
		sold[i] = min(int(strategic*advantage), o.Quantity)
	}
	return sold
}

// capToDemand scales allocations down proportionally so their sum never
// exceeds demand.
func capToDemand(sold []int, demand int) {
	total := 0
	for _, s := range sold {
		total += s
	}
	if total <= demand {
		return
	}
	f := float64(demand) / float64(total)
	for i := range sold {
		sold[i] = int(float64(sold[i]) * f)
	}
}

func summarize(structure model.MarketStructure, offers []Offer, sold []int, demand int) Result {
	res := Result{
		ClearingResult: model.ClearingResult{
			ProductLine:   offers[0].ProductLine,
			Structure:     structure,
			TotalDemanded: demand,
			Competitors:   len(offers),
			ClearingPrice: decimal.Zero,
		},
		Allocations: make([]Allocation, len(offers)),
	}

	revenue := decimal.Zero
	marginal := decimal.Zero
	prices := make([]float64, len(offers))
	for i, o := range offers {
		res.TotalSupplied += o.Quantity
		res.TotalSold += sold[i]
		prices[i] = o.Price.InexactFloat64()

		rev := o.Price.Mul(decimal.NewFromInt(int64(sold[i])))
		revenue = revenue.Add(rev)
		if sold[i] > 0 && o.Price.GreaterThan(marginal) {
			marginal = o.Price
		}
		res.Allocations[i] = Allocation{
			ParticipantID: o.ParticipantID,
			Offered:       o.Quantity,
			Price:         o.Price,
			Sold:          sold[i],
			Revenue:       rev,
		}
	}

	if res.TotalSold > 0 {
		if structure == model.StructurePerfect {
			res.ClearingPrice = marginal
		} else {
			res.ClearingPrice = revenue.Div(decimal.NewFromInt(int64(res.TotalSold))).Round(PriceScale)
		}
		hhi := 0.0
		for i := range res.Allocations {
			share := float64(sold[i]) / float64(res.TotalSold)
			res.Allocations[i].Share = share * 100
			if sold[i] >= 1 {
				hhi += share * share
			}
		}
		res.HHI = hhi
		if m := min(res.TotalSupplied, demand); m > 0 {
			res.Efficiency = float64(res.TotalSold) / float64(m)
		}
	}

	res.Dispersion = Dispersion(prices)
	res.ExcessSupply = max(0, res.TotalSupplied-res.TotalSold)
	res.ExcessDemand = max(0, demand-res.TotalSold)
	return res
}

// Dispersion is the coefficient of variation (population standard
// deviation over mean) of prices. Zero for fewer than two prices.
func Dispersion(prices []float64) float64 {
	if len(prices) <= 1 {
		return 0
	}
	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= float64(len(prices))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(prices))
	return math.Sqrt(variance) / mean
}
