package strategy

import (
	"math"

	"github.com/bikesim/market-engine/internal/model"
)

// Personality is the behaviour of one AI strategy, expressed as five pure
// functions of the decision input.
type Personality struct {
	Kind        model.StrategyKind
	Production  func(Intel) model.ProductionPlan
	Pricing     func(Intel) model.PricingPlan
	Procurement func(Intel) model.ProcurementPlan
	Market      func(Intel) model.MarketPlan
	Finance     func(Intel) model.FinancePlan
}

var personalities = map[model.StrategyKind]Personality{
	model.StrategyAggressive: {
		Kind: model.StrategyAggressive,
		Production: func(in Intel) model.ProductionPlan {
			bias := 1.2 + 0.3*in.Participant.Aggressiveness
			return model.ProductionPlan{
				TargetVolume: int(float64(capacity(in, 1000, 50)) * bias),
				Priorities:   priorities(in.Lines, func(l LineIntel) float64 { return math.Min(1, l.DemandScore*l.GrowthRate) }),
				Focus:        "volume",
				PriceTiers:   []string{"standard", "budget"},
				RiskLevel:    0.8,
			}
		},
		Pricing: func(in Intel) model.PricingPlan {
			return model.PricingPlan{
				Strategy: "competitive_undercut",
				Margin:   0.15,
				Discount: 0.05 + 0.1*in.Participant.Aggressiveness,
			}
		},
		Procurement: func(Intel) model.ProcurementPlan {
			return model.ProcurementPlan{Ordering: "bulk", InventoryTarget: "high", CostFocus: "moderate"}
		},
		Market: func(Intel) model.MarketPlan {
			return model.MarketPlan{Entry: "expansive", Spread: "wide", ShareTarget: "dominance", Marketing: 0.05}
		},
		Finance: func(Intel) model.FinancePlan {
			return model.FinancePlan{DebtTolerance: "high", CashReserve: "minimal", Investment: "aggressive"}
		},
	},
	model.StrategyConservative: {
		Kind: model.StrategyConservative,
		Production: func(in Intel) model.ProductionPlan {
			bias := 0.8 - 0.2*in.Participant.RiskTolerance
			return model.ProductionPlan{
				TargetVolume: int(float64(capacity(in, 1500, 30)) * bias),
				Priorities:   priorities(in.Lines, func(l LineIntel) float64 { return l.ProfitMargin*0.7 + (1-l.Volatility)*0.3 }),
				Focus:        "reliability",
				PriceTiers:   []string{"luxury", "standard"},
				RiskLevel:    0.3,
			}
		},
		Pricing: func(Intel) model.PricingPlan {
			return model.PricingPlan{Strategy: "premium", Margin: 0.25}
		},
		Procurement: func(Intel) model.ProcurementPlan {
			return model.ProcurementPlan{Ordering: "safety_stock", InventoryTarget: "high", CostFocus: "high"}
		},
		Market: func(Intel) model.MarketPlan {
			return model.MarketPlan{Entry: "selective", Spread: "focused", ShareTarget: "sustainable", Marketing: 0.01}
		},
		Finance: func(Intel) model.FinancePlan {
			return model.FinancePlan{DebtTolerance: "low", CashReserve: "high", Investment: "conservative"}
		},
	},
	model.StrategyInnovative: {
		Kind: model.StrategyInnovative,
		Production: func(in Intel) model.ProductionPlan {
			bias := 0.9 + 0.3*in.Participant.RiskTolerance
			return model.ProductionPlan{
				TargetVolume: int(float64(capacity(in, 1200, 40)) * bias),
				Priorities:   priorities(in.Lines, innovationScore),
				Focus:        "innovation",
				PriceTiers:   []string{"luxury", "specialty"},
				RiskLevel:    0.7,
			}
		},
		Pricing: func(Intel) model.PricingPlan {
			return model.PricingPlan{Strategy: "innovation_premium", Margin: 0.15}
		},
		Procurement: func(Intel) model.ProcurementPlan {
			return model.ProcurementPlan{Ordering: "quality_focused", InventoryTarget: "lean", CostFocus: "moderate"}
		},
		Market: func(Intel) model.MarketPlan {
			return model.MarketPlan{Entry: "pioneering", Spread: "niche", ShareTarget: "niche_dominance", Marketing: 0.03}
		},
		Finance: func(Intel) model.FinancePlan {
			return model.FinancePlan{DebtTolerance: "moderate", CashReserve: "moderate", Investment: "innovation_heavy"}
		},
	},
	model.StrategyBalanced: {
		Kind: model.StrategyBalanced,
		Production: func(in Intel) model.ProductionPlan {
			bias := 0.85 + 0.3*Confidence(in.Lines)
			return model.ProductionPlan{
				TargetVolume: int(float64(capacity(in, 1100, 45)) * bias),
				Priorities: priorities(in.Lines, func(l LineIntel) float64 {
					return l.DemandScore*0.4 + l.ProfitMargin*0.4 + (1-l.Competition)*0.2
				}),
				Focus:      "balanced",
				PriceTiers: []string{"standard", "luxury", "budget"},
				RiskLevel:  0.5,
			}
		},
		Pricing: func(Intel) model.PricingPlan {
			return model.PricingPlan{Strategy: "market_based", Margin: 0.20}
		},
		Procurement: func(Intel) model.ProcurementPlan {
			return model.ProcurementPlan{Ordering: "balanced", InventoryTarget: "moderate", CostFocus: "high"}
		},
		Market: func(Intel) model.MarketPlan {
			return model.MarketPlan{Entry: "strategic", Spread: "diversified", ShareTarget: "profitable_growth", Marketing: 0.02}
		},
		Finance: func(Intel) model.FinancePlan {
			return model.FinancePlan{DebtTolerance: "moderate", CashReserve: "moderate", Investment: "balanced"}
		},
	},
}

// Lookup returns the personality for a strategy kind.
func Lookup(kind model.StrategyKind) (Personality, bool) {
	p, ok := personalities[kind]
	return p, ok
}

// Traits returns the aggressiveness and risk tolerance assigned to a new
// AI participant of the given strategy.
func Traits(kind model.StrategyKind) (aggressiveness, risk float64) {
	switch kind {
	case model.StrategyAggressive:
		return 0.8, 0.7
	case model.StrategyConservative:
		return 0.3, 0.2
	case model.StrategyInnovative:
		return 0.6, 0.8
	default:
		return 0.5, 0.5
	}
}

// Initialize sets the strategy traits of an AI participant. Unknown or
// empty strategies become balanced.
func Initialize(p *model.Participant) {
	if !p.IsAI() {
		return
	}
	if _, ok := personalities[p.Strategy]; !ok {
		p.Strategy = model.StrategyBalanced
	}
	p.Aggressiveness, p.RiskTolerance = Traits(p.Strategy)
	if p.Difficulty <= 0 {
		p.Difficulty = 1.0
	}
}

// capacity is the production capacity implied by the balance.
func capacity(in Intel, per float64, floor int) int {
	c := int(in.Participant.Balance.InexactFloat64()/per) + floor
	if c < floor {
		return floor
	}
	return c
}

func priorities(lines []LineIntel, score func(LineIntel) float64) map[string]float64 {
	out := make(map[string]float64, len(lines))
	for _, l := range lines {
		out[l.Line.ID] = math.Max(0, score(l))
	}
	return out
}

func innovationScore(l LineIntel) float64 {
	switch {
	case l.Profile.IsElectric():
		return 0.9
	case l.Profile.Smart:
		return 0.8
	case l.Profile.IsSport():
		return 0.7
	}
	return 0.5
}
