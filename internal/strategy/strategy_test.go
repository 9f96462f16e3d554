package strategy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/model"
)

func ai(kind model.StrategyKind, balance int64) model.Participant {
	p := model.Participant{
		ID:       "ai-" + string(kind),
		Kind:     model.KindAI,
		Strategy: kind,
		Balance:  decimal.NewFromInt(balance),
		Active:   true,
	}
	Initialize(&p)
	return p
}

func intel(p model.Participant, d model.Difficulty) Intel {
	var lines []LineIntel
	for _, l := range catalog.DefaultLines() {
		lines = append(lines, LineFromHistory(l, 40, decimal.NewFromInt(300), decimal.Zero, nil))
	}
	return Intel{Participant: p, Difficulty: d, Lines: lines}
}

func TestTraits(t *testing.T) {
	a, r := Traits(model.StrategyAggressive)
	assert.Equal(t, 0.8, a)
	assert.Equal(t, 0.7, r)
	a, r = Traits("unknown")
	assert.Equal(t, 0.5, a)
	assert.Equal(t, 0.5, r)
}

func TestInitialize_UnknownBecomesBalanced(t *testing.T) {
	p := model.Participant{Kind: model.KindAI, Strategy: "cheap_only"}
	Initialize(&p)
	assert.Equal(t, model.StrategyBalanced, p.Strategy)
	assert.Equal(t, 1.0, p.Difficulty)

	h := model.Participant{Kind: model.KindHuman}
	Initialize(&h)
	assert.Empty(t, h.Strategy)
}

func TestPersonalities_ProductionBias(t *testing.T) {
	cases := []struct {
		kind model.StrategyKind
		want float64
	}{
		// capacity = balance/per + floor; volume = capacity * bias
		{model.StrategyAggressive, 150 * (1.2 + 0.3*0.8)},
		{model.StrategyConservative, 96 * (0.8 - 0.2*0.2)},
		{model.StrategyInnovative, 123 * (0.9 + 0.3*0.8)},
		{model.StrategyBalanced, 135 * (0.85 + 0.3*0.5)},
	}
	for _, c := range cases {
		p, ok := Lookup(c.kind)
		require.True(t, ok)
		in := intel(ai(c.kind, 100_000), model.DifficultyExpert)
		assert.InDelta(t, c.want, float64(p.Production(in).TargetVolume), 1.0, c.kind)
	}
}

func TestPersonalities_Pricing(t *testing.T) {
	in := intel(ai(model.StrategyAggressive, 50_000), model.DifficultyExpert)
	p, _ := Lookup(model.StrategyAggressive)
	assert.InDelta(t, 0.13, p.Pricing(in).Discount, 1e-12)

	c, _ := Lookup(model.StrategyConservative)
	assert.Equal(t, 0.25, c.Pricing(in).Margin)
	i, _ := Lookup(model.StrategyInnovative)
	assert.Equal(t, 0.15, i.Pricing(in).Margin)
	b, _ := Lookup(model.StrategyBalanced)
	assert.Equal(t, 0.20, b.Pricing(in).Margin)
}

func TestInnovativePrefersElectric(t *testing.T) {
	in := intel(ai(model.StrategyInnovative, 50_000), model.DifficultyExpert)
	p, _ := Lookup(model.StrategyInnovative)
	pr := p.Production(in).Priorities
	assert.Equal(t, 0.9, pr["ebike"])
	assert.Equal(t, 0.7, pr["mountain"])
	assert.Equal(t, 0.5, pr["city"])
}

func TestDecide_OffersWithinStock(t *testing.T) {
	for _, kind := range []model.StrategyKind{
		model.StrategyAggressive, model.StrategyConservative, model.StrategyInnovative, model.StrategyBalanced,
	} {
		for _, d := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard, model.DifficultyExpert} {
			in := intel(ai(kind, 80_000), d)
			sub, err := Decide(in, rand.New(rand.NewSource(5)))
			require.NoError(t, err)
			require.NotEmpty(t, sub.Offers, "%s/%s", kind, d)

			spent := decimal.Zero
			for _, o := range sub.Offers {
				assert.LessOrEqual(t, o.Quantity, 40)
				assert.Greater(t, o.Quantity, 0)
				assert.True(t, o.Price.GreaterThanOrEqual(decimal.NewFromInt(300)), "price %s below cost", o.Price)
				spent = spent.Add(o.Marketing)
			}
			assert.True(t, spent.LessThanOrEqual(in.Participant.Balance))
		}
	}
}

func TestDecide_Deterministic(t *testing.T) {
	in := intel(ai(model.StrategyBalanced, 60_000), model.DifficultyEasy)
	a, err := Decide(in, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	b, err := Decide(in, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecide_UnknownStrategy(t *testing.T) {
	p := model.Participant{ID: "x", Kind: model.KindAI, Strategy: "chaotic"}
	_, err := Decide(Intel{Participant: p}, rand.New(rand.NewSource(1)))
	assert.True(t, errors.Is(err, ErrUnknownStrategy))
}

func TestDecide_RecoversPanic(t *testing.T) {
	orig := personalities[model.StrategyBalanced]
	broken := orig
	broken.Pricing = func(Intel) model.PricingPlan { panic("boom") }
	personalities[model.StrategyBalanced] = broken
	defer func() { personalities[model.StrategyBalanced] = orig }()

	in := intel(ai(model.StrategyBalanced, 60_000), model.DifficultyMedium)
	_, err := Decide(in, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecisionPanic))

	sub, fellBack := DecideOrDefault(in, rand.New(rand.NewSource(1)))
	assert.True(t, fellBack)
	assert.Equal(t, Default(in), sub)
}

func TestDefault(t *testing.T) {
	p := ai(model.StrategyConservative, 10_000)
	in := Intel{Participant: p, Lines: []LineIntel{
		LineFromHistory(model.ProductLine{ID: "city", Name: "City Bike"}, 11, decimal.NewFromInt(400), decimal.NewFromInt(550), nil),
		LineFromHistory(model.ProductLine{ID: "kids", Name: "Kids Bike"}, 8, decimal.NewFromInt(100), decimal.Zero, nil),
		LineFromHistory(model.ProductLine{ID: "bmx", Name: "BMX"}, 1, decimal.NewFromInt(100), decimal.Zero, nil),
	}}
	sub := Default(in)
	require.Len(t, sub.Offers, 2)
	assert.Equal(t, 5, sub.Offers[0].Quantity)
	assert.True(t, sub.Offers[0].Price.Equal(decimal.NewFromInt(550)))
	assert.Equal(t, 4, sub.Offers[1].Quantity)
	assert.True(t, sub.Offers[1].Price.Equal(decimal.NewFromInt(120)))
}

func TestCreditRequest(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	assert.True(t, creditRequest(decimal.NewFromInt(10_000), "high", 0.9, r).Equal(decimal.NewFromInt(40_000)))
	assert.True(t, creditRequest(decimal.NewFromInt(-10_000), "high", 1, r).Equal(decimal.NewFromInt(40_000)))
	assert.True(t, creditRequest(decimal.NewFromInt(-30_000), "high", 1, r).IsZero())
	assert.True(t, creditRequest(decimal.NewFromInt(10_000), "low", 1, r).IsZero())
	assert.True(t, creditRequest(decimal.NewFromInt(40_000), "high", 1, r).IsZero())
}

func TestLineFromHistory(t *testing.T) {
	line := model.ProductLine{ID: "city", Name: "City Bike"}
	hist := []model.ClearingResult{
		{TotalSupplied: 200, TotalDemanded: 150, Competitors: 2, ClearingPrice: decimal.NewFromInt(500)},
		{TotalSupplied: 100, TotalDemanded: 100},
	}
	li := LineFromHistory(line, 10, decimal.NewFromInt(400), decimal.Zero, hist)
	assert.InDelta(t, 0.75, li.DemandScore, 1e-12)
	assert.InDelta(t, 0.4, li.Competition, 1e-12)
	assert.InDelta(t, 0.2, li.ProfitMargin, 1e-12)
	assert.InDelta(t, 1.5, li.GrowthRate, 1e-12)
	assert.InDelta(t, 0.5, li.Volatility, 1e-12)

	empty := LineFromHistory(line, 0, decimal.Zero, decimal.Zero, nil)
	assert.True(t, empty.UnitCost.Equal(DefaultUnitCost))
	assert.Equal(t, 0.5, Confidence([]LineIntel{}))
}

// --- Dynamic difficulty tests ---

func TestAdjustDifficulty(t *testing.T) {
	human := model.Participant{ID: "h", Kind: model.KindHuman, Active: true, Balance: decimal.NewFromInt(10_000)}
	bot := ai(model.StrategyAggressive, 100_000)
	ps := []model.Participant{human, bot}

	assert.Equal(t, Reduced, AdjustDifficulty(ps))
	assert.InDelta(t, 0.9, ps[1].Difficulty, 1e-12)

	for i := 0; i < 30; i++ {
		AdjustDifficulty(ps)
	}
	assert.Equal(t, MinDifficulty, ps[1].Difficulty)

	ps[0].Balance = decimal.NewFromInt(1_000_000)
	assert.Equal(t, Increased, AdjustDifficulty(ps))
	for i := 0; i < 30; i++ {
		AdjustDifficulty(ps)
	}
	assert.Equal(t, MaxDifficulty, ps[1].Difficulty)
}

func TestAdjustDifficulty_NoHumans(t *testing.T) {
	ps := []model.Participant{ai(model.StrategyBalanced, 1), ai(model.StrategyInnovative, 2)}
	assert.Equal(t, Unchanged, AdjustDifficulty(ps))
	assert.Equal(t, 1.0, ps[0].Difficulty)
}
