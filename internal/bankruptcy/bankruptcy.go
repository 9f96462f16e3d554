// Package bankruptcy scores participant solvency, eliminates failed
// participants and decides when a game ends.
//
// Seven weighted criteria feed a score capped at 100. A participant is
// bankrupt when its balance is at or below the game threshold, when the
// score reaches 75, or when sustained losses coincide with sustained
// negative cash flow. Bankruptcy is terminal.
package bankruptcy

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

// Criterion is one solvency test.
type Criterion string

const (
	BalanceThreshold  Criterion = "balance_threshold"
	SevereDebt        Criterion = "severe_debt"
	ConsecutiveLosses Criterion = "consecutive_losses"
	NoProduction      Criterion = "no_production_capacity"
	NegativeCashFlow  Criterion = "negative_cash_flow"
	AssetLiquidation  Criterion = "asset_liquidation"
	MarketExclusion   Criterion = "market_exclusion"
)

// Criteria lists every criterion in evaluation order.
var Criteria = []Criterion{
	BalanceThreshold, SevereDebt, ConsecutiveLosses, NoProduction,
	NegativeCashFlow, AssetLiquidation, MarketExclusion,
}

var weights = map[Criterion]int{
	BalanceThreshold:  30,
	SevereDebt:        20,
	ConsecutiveLosses: 15,
	NoProduction:      15,
	NegativeCashFlow:  10,
	AssetLiquidation:  5,
	MarketExclusion:   5,
}

// Thresholds.
const (
	LossMonths         = 6
	CashFlowMonths     = 3
	ProductionMonths   = 3
	ExclusionMonths    = 3
	MinProductionShare = 0.1
	SevereDebtRatio    = 0.8
	BankruptScore      = 75
	MaxScore           = 100
)

// SevereDebtBalance is the balance below which debt is severe.
var SevereDebtBalance = decimal.NewFromInt(-20000)

// Liquidation rates applied to inventory at cost.
var (
	FinishedGoodsRate = decimal.NewFromFloat(0.6)
	ComponentsRate    = decimal.NewFromFloat(0.4)
)

// Risk is the risk category of a score.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// RiskFor categorises a score.
func RiskFor(score int) Risk {
	switch {
	case score >= 75:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	}
	return RiskLow
}

// Input is the solvency evidence for one participant.
type Input struct {
	Participant model.Participant
	Threshold   decimal.Decimal
	// History holds settled turn records, newest first, including the
	// month being settled.
	History []model.TurnRecord
	// CostOfGoods is the cost of the units sold this month.
	CostOfGoods decimal.Decimal
	Liabilities decimal.Decimal
	Assets      decimal.Decimal
	// PeerProduction is the average units produced by the other active
	// participants over the last ProductionMonths months.
	PeerProduction float64
}

// Assessment is the solvency verdict for one participant.
type Assessment struct {
	ParticipantID   string             `json:"participant_id"`
	Criteria        map[Criterion]bool `json:"criteria"`
	Score           int                `json:"score"`
	Risk            Risk               `json:"risk"`
	Bankrupt        bool               `json:"bankrupt"`
	Balance         decimal.Decimal    `json:"balance"`
	Threshold       decimal.Decimal    `json:"threshold"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Met lists the criteria that were met, in evaluation order.
func (a Assessment) Met() []Criterion {
	var out []Criterion
	for _, c := range Criteria {
		if a.Criteria[c] {
			out = append(out, c)
		}
	}
	return out
}

// Evaluate scores one participant.
func Evaluate(in Input) Assessment {
	p := in.Participant
	c := map[Criterion]bool{
		BalanceThreshold:  p.Balance.LessThanOrEqual(in.Threshold),
		SevereDebt:        severeDebt(in),
		ConsecutiveLosses: allOf(in.History, LossMonths, func(r model.TurnRecord) bool { return r.Profit.IsNegative() }),
		NoProduction:      noProduction(in),
		NegativeCashFlow:  allOf(in.History, CashFlowMonths, func(r model.TurnRecord) bool { return r.CashFlow.IsNegative() }),
		AssetLiquidation:  assetLiquidation(in),
		MarketExclusion:   allOf(in.History, ExclusionMonths, func(r model.TurnRecord) bool { return r.UnitsOffered > 0 && r.UnitsSold == 0 }),
	}

	score := 0
	for crit, met := range c {
		if met {
			score += weights[crit]
		}
	}
	score = min(score, MaxScore)

	a := Assessment{
		ParticipantID: p.ID,
		Criteria:      c,
		Score:         score,
		Risk:          RiskFor(score),
		Balance:       p.Balance,
		Threshold:     in.Threshold,
	}
	a.Bankrupt = c[BalanceThreshold] || score >= BankruptScore ||
		(c[ConsecutiveLosses] && c[NegativeCashFlow])
	if !a.Bankrupt {
		a.Recommendations = Recommendations(c)
	}
	return a
}

func severeDebt(in Input) bool {
	if in.Participant.Balance.LessThan(SevereDebtBalance) {
		return true
	}
	if in.Assets.IsPositive() {
		ratio := in.Liabilities.Div(in.Assets)
		return ratio.GreaterThan(decimal.NewFromFloat(SevereDebtRatio))
	}
	return false
}

// allOf reports whether the newest n records all satisfy pred. Fewer than
// n records never qualify.
func allOf(history []model.TurnRecord, n int, pred func(model.TurnRecord) bool) bool {
	if len(history) < n {
		return false
	}
	for _, r := range history[:n] {
		if !pred(r) {
			return false
		}
	}
	return true
}

func noProduction(in Input) bool {
	if in.PeerProduction <= 0 {
		return false
	}
	own := 0
	n := min(len(in.History), ProductionMonths)
	for _, r := range in.History[:n] {
		own += r.UnitsProduced
	}
	avg := 0.0
	if n > 0 {
		avg = float64(own) / float64(n)
	}
	return own == 0 || avg < in.PeerProduction*MinProductionShare
}

func assetLiquidation(in Input) bool {
	if len(in.History) == 0 || in.History[0].UnitsSold == 0 {
		return false
	}
	half := in.CostOfGoods.Div(decimal.NewFromInt(2))
	return in.History[0].Revenue.LessThan(half)
}

// Recommendations suggests recovery actions for the criteria that were met.
func Recommendations(c map[Criterion]bool) []string {
	var out []string
	if c[BalanceThreshold] {
		out = append(out, "Secure emergency financing or consider asset liquidation")
	}
	if c[ConsecutiveLosses] {
		out = append(out, "Review pricing strategy and cost structure")
	}
	if c[NoProduction] {
		out = append(out, "Invest in production capabilities or consider partnerships")
	}
	if c[NegativeCashFlow] {
		out = append(out, "Improve cash flow management and collection processes")
	}
	if c[SevereDebt] {
		out = append(out, "Restructure debt and reduce leverage")
	}
	if c[AssetLiquidation] {
		out = append(out, "Stop selling below cost and rebuild margins")
	}
	if c[MarketExclusion] {
		out = append(out, "Reprice or reposition products that are not selling")
	}
	return out
}

// Liquidation is the inventory of a participant at cost.
type Liquidation struct {
	FinishedGoods decimal.Decimal `json:"finished_goods"`
	Components    decimal.Decimal `json:"components"`
}

// Value is the cash realised by liquidating the inventory.
func (l Liquidation) Value() decimal.Decimal {
	return l.FinishedGoods.Mul(FinishedGoodsRate).Add(l.Components.Mul(ComponentsRate)).Round(2)
}

// LiquidationFunc looks up the inventory of a participant.
type LiquidationFunc func(participantID string) (Liquidation, error)

// Elimination records one bankruptcy procedure.
type Elimination struct {
	ParticipantID   string          `json:"participant_id"`
	Score           int             `json:"score"`
	FinalBalance    decimal.Decimal `json:"final_balance"`
	Liquidated      decimal.Decimal `json:"liquidated"`
	Redistributed   float64         `json:"redistributed"` // market share percent
	LiquidationFail bool            `json:"liquidation_failed,omitempty"`
}

// Warning flags a solvent participant at high or critical risk.
type Warning struct {
	ParticipantID   string   `json:"participant_id"`
	Risk            Risk     `json:"risk"`
	Score           int      `json:"score"`
	Recommendations []string `json:"recommendations"`
}

// Outcome is the result of one solvency pass.
type Outcome struct {
	Assessments  []Assessment  `json:"assessments"`
	Eliminations []Elimination `json:"eliminations"`
	Warnings     []Warning     `json:"warnings"`
}

// Process evaluates every active participant and runs the bankruptcy
// procedure for each one that failed. Participants are updated in place.
// A failed liquidation lookup is logged and the participant is still
// eliminated without a liquidation credit.
func Process(participants []model.Participant, inputs map[string]Input, liquidate LiquidationFunc, month, year int) Outcome {
	var out Outcome

	// Stable order so redistribution does not depend on slice order.
	order := make([]int, len(participants))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return participants[order[a]].ID < participants[order[b]].ID })

	var failed []int
	for _, i := range order {
		p := participants[i]
		if !p.Active || p.Bankrupt {
			continue
		}
		in, ok := inputs[p.ID]
		if !ok {
			continue
		}
		in.Participant = p
		a := Evaluate(in)
		out.Assessments = append(out.Assessments, a)
		switch {
		case a.Bankrupt:
			failed = append(failed, i)
		case a.Risk == RiskHigh || a.Risk == RiskCritical:
			out.Warnings = append(out.Warnings, Warning{
				ParticipantID:   p.ID,
				Risk:            a.Risk,
				Score:           a.Score,
				Recommendations: a.Recommendations,
			})
		}
	}

	scores := make(map[string]int, len(out.Assessments))
	for _, a := range out.Assessments {
		scores[a.ParticipantID] = a.Score
	}

	// Mark everyone first so shares are never redistributed to a
	// participant failing in the same month.
	for _, i := range failed {
		p := &participants[i]
		p.Bankrupt = true
		p.Active = false
		p.BankruptMonth = month
		p.BankruptYear = year
	}
	for _, i := range failed {
		p := &participants[i]
		e := Elimination{ParticipantID: p.ID, Score: scores[p.ID], Liquidated: decimal.Zero}
		if liquidate != nil {
			liq, err := liquidate(p.ID)
			if err != nil {
				slog.Error("bankruptcy liquidation failed", "participant", p.ID, "err", err)
				e.LiquidationFail = true
			} else {
				e.Liquidated = liq.Value()
				p.Balance = p.Balance.Add(e.Liquidated)
			}
		}
		e.FinalBalance = p.Balance
		e.Redistributed = Redistribute(participants, i)
		out.Eliminations = append(out.Eliminations, e)
	}
	return out
}

// Redistribute hands the market share of participants[idx] to the remaining
// active participants in proportion to their current shares, or equally
// when they all hold none. It returns the share moved.
func Redistribute(participants []model.Participant, idx int) float64 {
	share := participants[idx].MarketShare
	participants[idx].MarketShare = 0
	if share <= 0 {
		return 0
	}

	var active []int
	total := 0.0
	for i := range participants {
		if i == idx || !participants[i].Active || participants[i].Bankrupt {
			continue
		}
		active = append(active, i)
		total += participants[i].MarketShare
	}
	if len(active) == 0 {
		return 0
	}
	for _, i := range active {
		if total > 0 {
			participants[i].MarketShare += share * participants[i].MarketShare / total
		} else {
			participants[i].MarketShare += share / float64(len(active))
		}
	}
	return share
}

// End reasons.
const (
	ReasonBankruptcy = "bankruptcy_elimination"
	ReasonMaxMonths  = "max_months_reached"
)

// GameOver reports whether bankruptcies ended the game and who won. The
// game ends when nobody is active, or when one participant is left out of
// a field of more than one. The winner is the active participant with the
// highest balance; an empty winner means no survivors.
func GameOver(participants []model.Participant) (over bool, winnerID string) {
	active := Active(participants)
	switch {
	case len(active) == 0 && len(participants) > 0:
		return true, ""
	case len(active) == 1 && len(participants) > 1:
		return true, active[0].ID
	}
	return false, ""
}

// Active returns the active participants ordered by balance, highest
// first, ties by ID.
func Active(participants []model.Participant) []model.Participant {
	var out []model.Participant
	for _, p := range participants {
		if p.Active && !p.Bankrupt {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Balance.Equal(out[j].Balance) {
			return out[i].Balance.GreaterThan(out[j].Balance)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Rank is a participant's standing among the active field.
type Rank struct {
	Rank       int     `json:"rank"`
	Total      int     `json:"total"`
	Percentile float64 `json:"percentile"`
}

// RankOf ranks a participant by balance among the active participants.
func RankOf(participants []model.Participant, id string) Rank {
	active := Active(participants)
	var self *model.Participant
	for i := range participants {
		if participants[i].ID == id {
			self = &participants[i]
		}
	}
	if self == nil || len(active) == 0 {
		return Rank{Total: len(active)}
	}
	better := 0
	for _, p := range active {
		if p.Balance.GreaterThan(self.Balance) {
			better++
		}
	}
	r := better + 1
	pct := float64(len(active)-r+1) / float64(len(active)) * 100
	return Rank{Rank: r, Total: len(active), Percentile: float64(int(pct*10+0.5)) / 10}
}

// PeerProduction averages monthly units produced over the newest months
// records of every participant except self.
func PeerProduction(histories map[string][]model.TurnRecord, self string, months int) float64 {
	ids := make([]string, 0, len(histories))
	for id := range histories {
		if id != self {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	total, peers := 0.0, 0
	for _, id := range ids {
		h := histories[id]
		n := min(len(h), months)
		if n == 0 {
			continue
		}
		units := 0
		for _, r := range h[:n] {
			units += r.UnitsProduced
		}
		total += float64(units) / float64(n)
		peers++
	}
	if peers == 0 {
		return 0
	}
	return total / float64(peers)
}
