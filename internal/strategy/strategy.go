// Package strategy generates monthly decisions for AI participants.
//
// Each strategy kind maps to a Personality of five pure sub-decision
// functions. Decide runs them, scales the result by the game difficulty and
// turns the plans into concrete offers from available stock. A participant
// whose decision fails, panics included, falls back to Default without
// affecting anyone else.
package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
)

var (
	// ErrUnknownStrategy is returned for a strategy with no personality.
	ErrUnknownStrategy = errors.New("strategy: unknown strategy")

	// ErrDecisionPanic wraps a recovered panic from a personality.
	ErrDecisionPanic = errors.New("strategy: decision panicked")

	// PriceScale is the number of decimal places for offer prices.
	PriceScale int32 = 2
)

// Level is how well an AI plays at a difficulty.
type Level struct {
	DecisionQuality float64 `json:"decision_quality"`
	Adaptation      float64 `json:"adaptation"`
	Analysis        float64 `json:"analysis"`
	Optimization    float64 `json:"optimization"`
}

var levels = map[model.Difficulty]Level{
	model.DifficultyEasy:   {0.6, 0.4, 0.5, 0.3},
	model.DifficultyMedium: {0.8, 0.7, 0.8, 0.6},
	model.DifficultyHard:   {0.95, 0.9, 0.95, 0.85},
	model.DifficultyExpert: {1, 1, 1, 1},
}

// LevelFor returns the level of a difficulty, medium when unknown.
func LevelFor(d model.Difficulty) Level {
	if l, ok := levels[d]; ok {
		return l
	}
	return levels[model.DifficultyMedium]
}

// Focus attributes: quality, innovation, brand.
var focusAttributes = map[string][3]float64{
	"volume":      {4, 4, 5},
	"reliability": {7, 5, 6},
	"innovation":  {6, 8, 6},
	"balanced":    {5.5, 5.5, 5.5},
}

var targetSegments = map[model.StrategyKind][]model.Segment{
	model.StrategyAggressive:   {model.SegmentBudget, model.SegmentCommuters},
	model.StrategyConservative: {model.SegmentFamilies, model.SegmentRecreational},
	model.StrategyInnovative:   {model.SegmentEco, model.SegmentSports, model.SegmentLuxury},
	model.StrategyBalanced:     {model.SegmentCommuters, model.SegmentRecreational},
}

// Decide produces the submission of one AI participant. It never panics.
func Decide(in Intel, r *rand.Rand) (sub model.Submission, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			sub = model.Submission{}
			err = fmt.Errorf("%w: %v", ErrDecisionPanic, rec)
		}
	}()

	p, ok := Lookup(in.Participant.Strategy)
	if !ok {
		return model.Submission{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, in.Participant.Strategy)
	}
	lvl := LevelFor(in.Difficulty)
	dev := deviation(in.Participant.Difficulty)

	plan := model.Plan{
		Production:  p.Production(in),
		Pricing:     p.Pricing(in),
		Procurement: p.Procurement(in),
		Market:      p.Market(in),
		Finance:     p.Finance(in),
	}

	// Difficulty scaling. Draw order is fixed so identical input decides
	// identically.
	volume := float64(plan.Production.TargetVolume) * lvl.DecisionQuality
	if lvl.DecisionQuality < 0.7 {
		volume *= 1 + (rng.Uniform(r, 0.8, 1.2)-1)*dev
	}
	plan.Production.TargetVolume = max(0, int(volume))

	if lvl.Analysis < 0.7 {
		plan.Pricing.Accuracy = rng.Uniform(r, 0.6, 0.9)
	} else {
		plan.Pricing.Accuracy = rng.Uniform(r, 0.9, 1.0)
	}
	plan.Pricing.Accuracy = math.Max(0.1, 1-(1-plan.Pricing.Accuracy)*dev)

	if lvl.Optimization < 0.6 {
		plan.Procurement.Efficiency = rng.Uniform(r, 0.7, 1.3)
	} else {
		plan.Procurement.Efficiency = rng.Uniform(r, 0.9, 1.1)
	}
	plan.Finance.CreditRequest = creditRequest(in.Participant.Balance, plan.Finance.DebtTolerance, lvl.Optimization, r)

	sub = model.Submission{
		Offers: offers(in, p.Kind, plan, lvl, r),
		Plan:   plan,
	}
	return sub, nil
}

// DecideOrDefault runs Decide and substitutes Default on failure. fellBack
// reports whether the substitute was used.
func DecideOrDefault(in Intel, r *rand.Rand) (sub model.Submission, fellBack bool) {
	sub, err := Decide(in, r)
	if err != nil {
		slog.Warn("ai decision failed, using default",
			"participant", in.Participant.ID,
			"strategy", in.Participant.Strategy,
			"err", err,
		)
		return Default(in), true
	}
	return sub, false
}

// Default is the conservative fallback: offer half of the stock of every
// line at the previous price, or cost plus 20 percent without one.
func Default(in Intel) model.Submission {
	var out []model.Offer
	for _, l := range in.Lines {
		qty := l.Stock / 2
		if qty <= 0 {
			continue
		}
		price := l.LastPrice
		if price.LessThanOrEqual(decimal.Zero) {
			price = l.UnitCost.Mul(decimal.NewFromFloat(1.2)).Round(PriceScale)
		}
		out = append(out, model.Offer{
			ProductLine: l.Line.ID,
			Quantity:    qty,
			Price:       price,
			Quality:     5,
			Innovation:  5,
			Brand:       5,
			Marketing:   decimal.Zero,
		})
	}
	return model.Submission{
		Offers: out,
		Plan: model.Plan{
			Production:  model.ProductionPlan{Focus: "reliability", RiskLevel: 0.3},
			Pricing:     model.PricingPlan{Strategy: "previous", Margin: 0.2, Accuracy: 1},
			Procurement: model.ProcurementPlan{Ordering: "safety_stock", InventoryTarget: "moderate", Efficiency: 1},
			Market:      model.MarketPlan{Entry: "selective", Spread: "focused", ShareTarget: "sustainable"},
			Finance:     model.FinancePlan{DebtTolerance: "low", CashReserve: "high", CreditRequest: decimal.Zero},
		},
	}
}

// deviation scales random error by the participant difficulty scalar.
// Full difficulty (1.0) leaves error unchanged; weaker AIs err more.
func deviation(difficulty float64) float64 {
	if difficulty <= 0 {
		difficulty = 1
	}
	return math.Max(0.5, math.Min(1.7, 2-difficulty))
}

func creditRequest(balance decimal.Decimal, tolerance string, optimization float64, r *rand.Rand) decimal.Decimal {
	if tolerance != "high" || balance.GreaterThanOrEqual(decimal.NewFromInt(30000)) {
		return decimal.Zero
	}
	if optimization > 0.8 {
		if balance.GreaterThan(decimal.NewFromInt(-20000)) {
			return decimal.Min(decimal.NewFromInt(50000), balance.Abs().Add(decimal.NewFromInt(30000)))
		}
		return decimal.Zero
	}
	if rng.Chance(r, 0.3) {
		return decimal.NewFromInt(int64(rng.IntRange(r, 20000, 40000)))
	}
	return decimal.Zero
}

// offers splits the target volume across lines by priority, capped by
// stock, and prices each line according to the pricing plan.
func offers(in Intel, kind model.StrategyKind, plan model.Plan, lvl Level, r *rand.Rand) []model.Offer {
	lines := append([]LineIntel(nil), in.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Line.ID < lines[j].Line.ID })

	totalPriority := 0.0
	for _, l := range lines {
		totalPriority += plan.Production.Priorities[l.Line.ID]
	}

	attrs, ok := focusAttributes[plan.Production.Focus]
	if !ok {
		attrs = focusAttributes["balanced"]
	}

	budget := decimal.Max(decimal.Zero, in.Participant.Balance).
		Mul(decimal.NewFromFloat(plan.Market.Marketing))

	out := make([]model.Offer, 0, len(lines))
	planned := 0
	for _, l := range lines {
		if l.Stock <= 0 {
			continue
		}
		weight := 1 / float64(len(lines))
		if totalPriority > 0 {
			weight = plan.Production.Priorities[l.Line.ID] / totalPriority
		}
		qty := min(l.Stock, int(math.Round(float64(plan.Production.TargetVolume)*weight)))
		if qty <= 0 {
			continue
		}
		planned += qty
		out = append(out, model.Offer{
			ProductLine: l.Line.ID,
			Quantity:    qty,
			Price:       price(l, plan.Pricing, lvl, r),
			Quality:     attrs[0],
			Innovation:  attrs[1],
			Brand:       attrs[2],
			Targets:     targetSegments[kind],
		})
	}

	// Marketing budget follows quantity.
	if planned > 0 && budget.GreaterThan(decimal.Zero) {
		for i := range out {
			share := decimal.NewFromInt(int64(out[i].Quantity)).Div(decimal.NewFromInt(int64(planned)))
			out[i].Marketing = budget.Mul(share).Round(PriceScale)
		}
	} else {
		for i := range out {
			out[i].Marketing = decimal.Zero
		}
	}
	return out
}

// price computes the offer price of a line. The target follows the pricing
// strategy; the result moves from last month's price towards it at the
// adaptation speed and carries the analysis error. Never below unit cost.
func price(l LineIntel, pl model.PricingPlan, lvl Level, r *rand.Rand) decimal.Decimal {
	cost := l.UnitCost.InexactFloat64()
	market := l.MarketPrice.InexactFloat64()

	var target float64
	switch pl.Strategy {
	case "competitive_undercut":
		ref := cost * (1 + pl.Margin)
		if market > 0 {
			ref = market
		}
		target = ref * (1 - pl.Discount)
	case "premium":
		target = cost * (1 + pl.Margin)
	case "innovation_premium":
		ref := cost * 1.2
		if market > 0 {
			ref = market
		}
		target = ref * (1 + pl.Margin)
	default:
		ref := cost * (1 + pl.Margin)
		if market > 0 {
			ref = (ref + market) / 2
		}
		target = ref
	}

	if last := l.LastPrice.InexactFloat64(); last > 0 {
		target = last + (target-last)*lvl.Adaptation
	}

	errSpan := 1 - pl.Accuracy
	sign := 1.0
	if r.Intn(2) == 0 {
		sign = -1
	}
	target *= 1 + sign*errSpan

	return decimal.NewFromFloat(math.Max(cost, target)).Round(PriceScale)
}
