// Package demand computes the monthly unit demand for a product line.
//
// For every buyer segment a price-demand function is evaluated against the
// quantity-weighted average offer of the line:
//
//	q = intercept + priceCoef*price^|e| + incomeCoef*income + substituteCoef*substitutes
//	    + trendCoef*overall
//	    + qualityW*quality + innovationW*innovation + brandW*brand
//
// clamped to [0, saturation] and capped by the segment's monthly buyers. The
// segment sum is blended 70/30 with the structural base demand, then scaled
// by the economy, the market factors, merged policy effects and a Gaussian
// uncertainty term.
package demand

import (
	"math"
	"math/rand"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/demographics"
	"github.com/bikesim/market-engine/internal/effects"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
)

// FallbackDemand is used when a line has no product segment.
const FallbackDemand = 1000

// Blend weights of structural base demand and segment demand.
const (
	BaseWeight    = 0.3
	SegmentWeight = 0.7
)

// Function holds the parameters of one price-demand function.
type Function struct {
	Intercept        float64 `json:"intercept"`
	PriceCoef        float64 `json:"price_coef"`
	IncomeCoef       float64 `json:"income_coef"`
	SubstituteCoef   float64 `json:"substitute_coef"`
	TrendCoef        float64 `json:"trend_coef"`
	Elasticity       float64 `json:"elasticity"`
	Saturation       float64 `json:"saturation"`
	QualityWeight    float64 `json:"quality_weight"`
	InnovationWeight float64 `json:"innovation_weight"`
	BrandWeight      float64 `json:"brand_weight"`
}

// DefaultFunction is the baseline parameter set.
func DefaultFunction() Function {
	return Function{
		Intercept:        1000,
		PriceCoef:        -0.5,
		IncomeCoef:       0.3,
		SubstituteCoef:   -0.2,
		TrendCoef:        0.1,
		Elasticity:       -1.5,
		Saturation:       10000,
		QualityWeight:    0.2,
		InnovationWeight: 0.15,
		BrandWeight:      0.1,
	}
}

// FunctionFor tunes the baseline to a product profile and buyer segment.
func FunctionFor(p catalog.Profile, seg model.Segment) Function {
	f := DefaultFunction()
	switch {
	case p.IsElectric():
		f.Intercept = 800
		f.Elasticity = -1.2
		f.InnovationWeight = 0.3
		f.IncomeCoef = 0.5
	case p.Tier == catalog.TierLuxury:
		f.Intercept = 200
		f.Elasticity = -0.8
		f.QualityWeight = 0.4
		f.BrandWeight = 0.3
		f.IncomeCoef = 0.7
	case p.Tier == catalog.TierBudget:
		f.Intercept = 1500
		f.Elasticity = -2.5
		f.QualityWeight = 0.1
		f.BrandWeight = 0.05
		f.IncomeCoef = -0.2
	case p.Category == catalog.CategoryKids:
		f.Intercept = 500
		f.Elasticity = -2.0
		f.Saturation = 5000
	}

	switch seg {
	case model.SegmentLuxury:
		f.Elasticity *= 0.5
		f.QualityWeight *= 2
		f.BrandWeight *= 3
	case model.SegmentBudget:
		f.Elasticity *= 1.5
		f.QualityWeight *= 0.5
	case model.SegmentSports:
		f.InnovationWeight *= 2
		f.QualityWeight *= 1.5
	case model.SegmentEco:
		f.TrendCoef *= 2
		f.InnovationWeight *= 1.5
	}
	return f
}

// Attributes is the quantity-weighted average offer of a line.
type Attributes struct {
	Price      float64 `json:"price"`
	Quality    float64 `json:"quality"`
	Innovation float64 `json:"innovation"`
	Brand      float64 `json:"brand"`
	// Substitutes is the pressure from substitute mobility in index points
	// above neutral (bike sharing at 1.0 is zero).
	Substitutes float64 `json:"substitutes"`
}

// WeightedAttributes averages offers by offered quantity. ok is false when
// nothing is offered.
func WeightedAttributes(offers []model.Offer) (a Attributes, ok bool) {
	total := 0
	for _, o := range offers {
		if o.Quantity <= 0 {
			continue
		}
		q := float64(o.Quantity)
		total += o.Quantity
		a.Price += o.Price.InexactFloat64() * q
		a.Quality += o.Quality * q
		a.Innovation += o.Innovation * q
		a.Brand += o.Brand * q
	}
	if total == 0 {
		return Attributes{}, false
	}
	t := float64(total)
	a.Price /= t
	a.Quality /= t
	a.Innovation /= t
	a.Brand /= t
	return a, true
}

// Evaluate returns segment demand in [0, Saturation].
func (f Function) Evaluate(a Attributes, incomeIndex, overallMultiplier float64) float64 {
	q := f.Intercept +
		f.PriceCoef*math.Pow(math.Max(0, a.Price), math.Abs(f.Elasticity)) +
		f.IncomeCoef*incomeIndex +
		f.SubstituteCoef*a.Substitutes +
		f.TrendCoef*overallMultiplier +
		f.QualityWeight*a.Quality +
		f.InnovationWeight*a.Innovation +
		f.BrandWeight*a.Brand
	return math.Max(0, math.Min(q, f.Saturation))
}

// MarketMultiplier is the factor scaling applied to a line's total demand,
// clamped to [0.1, 3].
func MarketMultiplier(f model.MarketFactors, p catalog.Profile) float64 {
	m := f.OverallDemandMultiplier()
	if p.IsElectric() {
		m *= f.ElectricTrend
	}
	if p.IsRetro() {
		m *= f.RetroTrend
	}
	return math.Max(0.1, math.Min(3.0, m))
}

// Input is everything needed to compute one line's demand.
type Input struct {
	Line      model.ProductLine
	Offers    []model.Offer
	State     model.MarketState
	Modifiers []effects.Modifier
}

// Breakdown reports each stage of a line demand computation.
type Breakdown struct {
	ProductLine        string                     `json:"product_line"`
	Base               int                        `json:"base"`
	Segments           [model.NumSegments]float64 `json:"segments"`
	Blended            int                        `json:"blended"`
	EconomicMultiplier float64                    `json:"economic_multiplier"`
	MarketMultiplier   float64                    `json:"market_multiplier"`
	Effect             effects.Effect             `json:"effect"`
	Noise              float64                    `json:"noise"`
	Total              int                        `json:"total"`
	Fallback           bool                       `json:"fallback,omitempty"`
}

// LineDemand computes total unit demand for one product line.
func LineDemand(in Input, r *rand.Rand) Breakdown {
	b := Breakdown{ProductLine: in.Line.ID}
	seg, ok := in.State.Demographics.Product(in.Line.ID)
	if !ok {
		b.Fallback = true
		b.Total = FallbackDemand
		return b
	}

	profile := catalog.Classify(in.Line.Name)
	b.Base = seg.BaseDemand

	total := 0.0
	if attrs, ok := WeightedAttributes(in.Offers); ok {
		attrs.Substitutes = (in.State.Factors.SharingCompetition - 1) * 100
		overall := in.State.Factors.OverallDemandMultiplier()
		d := in.State.Demographics
		for s := model.Segment(0); s < model.NumSegments; s++ {
			q := FunctionFor(profile, s).Evaluate(attrs, in.State.Economy.DisposableIncome, overall)
			buyers := d.Segments[s] / 100 * float64(d.TotalCustomers) * demographics.MonthlyPurchaseRate
			b.Segments[s] = math.Min(q, buyers)
			total += b.Segments[s]
		}
	}

	b.Blended = int(float64(b.Base)*BaseWeight + total*SegmentWeight)
	b.EconomicMultiplier = in.State.Economy.DemandMultiplier()
	b.MarketMultiplier = MarketMultiplier(in.State.Factors, profile)
	b.Effect = effects.Merge(in.Modifiers)

	scaled := int(b.Effect.Apply(float64(b.Blended) * b.EconomicMultiplier * b.MarketMultiplier))
	b.Noise = rng.Normal(r, 1.0, 0.1)
	b.Total = int(float64(scaled) * b.Noise)
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}
