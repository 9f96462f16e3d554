package strategy

import (
	"math"

	"github.com/bikesim/market-engine/internal/model"
)

// Adjustment is the direction of a dynamic difficulty change.
type Adjustment int

const (
	Unchanged Adjustment = iota
	Reduced
	Increased
)

func (a Adjustment) String() string {
	switch a {
	case Reduced:
		return "reduced"
	case Increased:
		return "increased"
	}
	return "unchanged"
}

// Dynamic difficulty bounds for the per-participant scalar.
const (
	MinDifficulty = 0.3
	MaxDifficulty = 1.0
)

// Score is the performance measure compared between humans and AIs.
func Score(p model.Participant) float64 {
	return p.Balance.InexactFloat64() + p.TotalRevenue.InexactFloat64()*0.1
}

// AdjustDifficulty rebalances AI difficulty against human performance.
// When active humans average under 70 percent of the active AI score, AI
// difficulty drops by 10 percent (floor 0.3); above 130 percent it rises by
// 10 percent (cap 1.0). Participants are updated in place.
func AdjustDifficulty(participants []model.Participant) Adjustment {
	var human, ai float64
	var nh, na int
	for _, p := range participants {
		if !p.Active || p.Bankrupt {
			continue
		}
		if p.IsAI() {
			ai += Score(p)
			na++
		} else {
			human += Score(p)
			nh++
		}
	}
	if nh == 0 || na == 0 {
		return Unchanged
	}
	human /= float64(nh)
	ai /= float64(na)

	var adj Adjustment
	switch {
	case human < ai*0.7:
		adj = Reduced
	case human > ai*1.3:
		adj = Increased
	default:
		return Unchanged
	}

	for i := range participants {
		p := &participants[i]
		if !p.IsAI() || !p.Active || p.Bankrupt {
			continue
		}
		if p.Difficulty <= 0 {
			p.Difficulty = 1
		}
		if adj == Reduced {
			p.Difficulty = math.Max(MinDifficulty, p.Difficulty*0.9)
		} else {
			p.Difficulty = math.Min(MaxDifficulty, p.Difficulty*1.1)
		}
	}
	return adj
}
