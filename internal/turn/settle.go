package turn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/bankruptcy"
	"github.com/bikesim/market-engine/internal/bookkeeping"
	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/clearing"
	"github.com/bikesim/market-engine/internal/demand"
	"github.com/bikesim/market-engine/internal/demographics"
	"github.com/bikesim/market-engine/internal/economy"
	"github.com/bikesim/market-engine/internal/effects"
	"github.com/bikesim/market-engine/internal/factors"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
	"github.com/bikesim/market-engine/internal/strategy"
)

// eventNamespace seeds the SHA1 IDs of settlement events.
var eventNamespace = uuid.MustParse("0b7e4c52-93a1-4d1f-8e36-5f2a9c7d1e08")

// Snapshot is everything a month settlement reads. It is assembled from
// the store after the claim, so settling the same snapshot twice yields
// the same Result.
type Snapshot struct {
	Game         model.Game
	Participants []model.Participant
	Records      []model.TurnRecord
	Decisions    []model.Decision
	State        model.MarketState

	// Stock is the finished goods per participant and line before sales.
	Stock map[string]map[string]bookkeeping.Stock

	// Components is the component inventory value per participant. A
	// participant missing here cannot be liquidated.
	Components map[string]decimal.Decimal

	// Histories holds settled turn records per participant, newest first,
	// excluding the month being settled.
	Histories map[string][]model.TurnRecord

	UnitCost decimal.Decimal
	Now      time.Time
}

// Result is the write set of one settlement plus the side effects to run
// once it is committed.
type Result struct {
	Settlement model.Settlement
	Entries    []bookkeeping.Entry
	Sold       []bookkeeping.Movement
	Produced   []bookkeeping.Movement
	Demand     []demand.Breakdown
	Bankruptcy bankruptcy.Outcome
	Difficulty strategy.Adjustment
}

// errNoLiquidation is returned by the liquidation lookup for participants
// whose component inventory could not be read.
var errNoLiquidation = errors.New("turn: inventory valuation unavailable")

// account is the monthly result of one participant.
type account struct {
	revenue     decimal.Decimal
	production  decimal.Decimal
	marketing   decimal.Decimal
	costOfGoods decimal.Decimal
	produced    map[string]int
	sold        map[string]int
	offered     int
}

// Settle computes the settlement of the snapshot month. The order is fixed:
// clearing per line, participant accounts, solvency, market engines, clock
// and end of game.
func Settle(snap Snapshot) (*Result, error) {
	g := snap.Game
	idx := g.MonthIndex()
	unitCost := snap.UnitCost
	if unitCost.LessThanOrEqual(decimal.Zero) {
		unitCost = bookkeeping.DefaultUnitCost
	}

	participants := make([]model.Participant, len(snap.Participants))
	copy(participants, snap.Participants)
	byID := make(map[string]int, len(participants))
	for i, p := range participants {
		byID[p.ID] = i
	}
	live := func(id string) bool {
		i, ok := byID[id]
		return ok && participants[i].Active && !participants[i].Bankrupt
	}

	records := make(map[string]model.TurnRecord, len(snap.Records))
	for _, r := range snap.Records {
		if r.Submitted && live(r.ParticipantID) {
			records[r.ParticipantID] = r
		}
	}

	res := &Result{}
	accounts := make(map[string]*account, len(records))
	for id := range records {
		accounts[id] = &account{
			revenue:     decimal.Zero,
			production:  decimal.Zero,
			marketing:   decimal.Zero,
			costOfGoods: decimal.Zero,
			produced:    map[string]int{},
			sold:        map[string]int{},
		}
	}

	// Offers, capped at the stock held, grouped per line.
	decisions := make([]model.Decision, 0, len(snap.Decisions))
	for _, d := range snap.Decisions {
		if _, ok := records[d.ParticipantID]; !ok {
			continue
		}
		held := snap.Stock[d.ParticipantID][d.ProductLine].Units
		if d.Quantity > held {
			d.Quantity = held
		}
		if d.Quantity < 0 {
			d.Quantity = 0
		}
		d.Sold = 0
		d.Revenue = decimal.Zero
		decisions = append(decisions, d)
	}
	sort.SliceStable(decisions, func(i, j int) bool {
		if decisions[i].ProductLine != decisions[j].ProductLine {
			return decisions[i].ProductLine < decisions[j].ProductLine
		}
		return decisions[i].ParticipantID < decisions[j].ParticipantID
	})

	// 1. Clearing per line.
	policy := factors.Policy{Factors: snap.State.Factors}
	for i, line := range g.ProductLines {
		var offers []clearing.Offer
		var raw []model.Offer
		for _, d := range decisions {
			if d.ProductLine == line.ID && d.Quantity > 0 {
				offers = append(offers, clearing.Offer{ParticipantID: d.ParticipantID, Offer: d.Offer})
				raw = append(raw, d.Offer)
			}
		}
		profile := catalog.Classify(line.Name)
		bd := demand.LineDemand(demand.Input{
			Line:      line,
			Offers:    raw,
			State:     snap.State,
			Modifiers: effects.Collect(line.ID, profile, policy),
		}, rng.New(g.Seed, idx, rng.StreamDemand+int64(i)))
		res.Demand = append(res.Demand, bd)

		cr, err := clearing.Clear(g.Structure, offers, bd.Total)
		switch {
		case errors.Is(err, clearing.ErrNoOffers):
			// Demand is still recorded; a line nobody offered produces no result.
			continue
		case err != nil:
			return nil, fmt.Errorf("clear %s: %w", line.ID, err)
		}
		cr.GameID, cr.Month, cr.Year = g.ID, g.Month, g.Year
		res.Settlement.Clearing = append(res.Settlement.Clearing, cr.ClearingResult)

		for _, a := range cr.Allocations {
			for k := range decisions {
				d := &decisions[k]
				if d.ProductLine == line.ID && d.ParticipantID == a.ParticipantID {
					d.Sold = a.Sold
					d.Revenue = a.Revenue
				}
			}
		}
	}

	// 2. Participant accounts.
	lineIDs := make([]string, len(g.ProductLines))
	for i, l := range g.ProductLines {
		lineIDs[i] = l.ID
	}
	for k := range decisions {
		d := &decisions[k]
		d.Settled = true
		acc := accounts[d.ParticipantID]
		acc.revenue = acc.revenue.Add(d.Revenue)
		acc.marketing = acc.marketing.Add(d.Marketing)
		acc.offered += d.Quantity
		acc.sold[d.ProductLine] += d.Sold
		cost := snap.Stock[d.ParticipantID][d.ProductLine].UnitCost
		if cost.LessThanOrEqual(decimal.Zero) {
			cost = unitCost
		}
		acc.costOfGoods = acc.costOfGoods.Add(cost.Mul(decimal.NewFromInt(int64(d.Sold))))
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var settledRecords []model.TurnRecord
	current := make(map[string]model.TurnRecord, len(ids))
	for _, id := range ids {
		rec := records[id]
		acc := accounts[id]
		acc.produced = bookkeeping.Allocate(rec.Plan.Production, lineIDs)
		units := 0
		for _, n := range acc.produced {
			units += n
		}
		acc.production = unitCost.Mul(decimal.NewFromInt(int64(units)))

		soldUnits := 0
		for _, n := range acc.sold {
			soldUnits += n
		}
		profit := acc.revenue.Sub(acc.costOfGoods).Sub(acc.marketing)
		cashFlow := acc.revenue.Sub(acc.production).Sub(acc.marketing)

		p := &participants[byID[id]]
		p.Balance = p.Balance.Add(cashFlow)
		p.TotalRevenue = p.TotalRevenue.Add(acc.revenue)
		p.TotalProfit = p.TotalProfit.Add(profit)
		p.UnitsProduced += units
		p.UnitsSold += soldUnits

		rec.Settled = true
		rec.Revenue = acc.revenue
		rec.Profit = profit
		rec.CashFlow = cashFlow
		rec.UnitsProduced = units
		rec.UnitsOffered = acc.offered
		rec.UnitsSold = soldUnits
		settledRecords = append(settledRecords, rec)
		current[id] = rec

		res.Entries = append(res.Entries, entries(g, id, acc)...)
		res.Sold = append(res.Sold, movements(g, id, acc.sold, "sold", decimal.Zero)...)
		res.Produced = append(res.Produced, movements(g, id, acc.produced, "produced", unitCost)...)
	}
	recomputeShares(participants)

	// 3. Solvency.
	activeHistories := make(map[string][]model.TurnRecord)
	for _, p := range participants {
		if !p.Active || p.Bankrupt {
			continue
		}
		h := snap.Histories[p.ID]
		if rec, ok := current[p.ID]; ok {
			h = append([]model.TurnRecord{rec}, h...)
		}
		activeHistories[p.ID] = h
	}
	inputs := make(map[string]bankruptcy.Input, len(activeHistories))
	remaining := make(map[string]decimal.Decimal, len(activeHistories))
	for id, h := range activeHistories {
		p := participants[byID[id]]
		finished := remainingStock(snap.Stock[id], accounts[id], unitCost)
		remaining[id] = finished
		cogs := decimal.Zero
		if acc := accounts[id]; acc != nil {
			cogs = acc.costOfGoods
		}
		liabilities := decimal.Zero
		if p.Balance.IsNegative() {
			liabilities = p.Balance.Neg()
		}
		inputs[id] = bankruptcy.Input{
			Threshold:      g.BankruptcyThreshold,
			History:        h,
			CostOfGoods:    cogs,
			Liabilities:    liabilities,
			Assets:         finished.Add(snap.Components[id]),
			PeerProduction: bankruptcy.PeerProduction(activeHistories, id, bankruptcy.ProductionMonths),
		}
	}
	liquidate := func(id string) (bankruptcy.Liquidation, error) {
		comp, ok := snap.Components[id]
		if !ok {
			return bankruptcy.Liquidation{}, errNoLiquidation
		}
		return bankruptcy.Liquidation{FinishedGoods: remaining[id], Components: comp}, nil
	}
	res.Bankruptcy = bankruptcy.Process(participants, inputs, liquidate, g.Month, g.Year)
	if len(res.Bankruptcy.Eliminations) > 0 {
		out := make(map[string]bool, len(res.Bankruptcy.Eliminations))
		for _, e := range res.Bankruptcy.Eliminations {
			out[e.ParticipantID] = true
		}
		kept := res.Produced[:0]
		for _, m := range res.Produced {
			if !out[m.ParticipantID] {
				kept = append(kept, m)
			}
		}
		res.Produced = kept
	}

	var events []model.Event
	emit := func(kind model.EventKind, pid, msg string) {
		events = append(events, model.Event{
			ID:            eventID(g, kind, pid, len(events)),
			GameID:        g.ID,
			Month:         g.Month,
			Year:          g.Year,
			Kind:          kind,
			ParticipantID: pid,
			Message:       msg,
			CreatedAt:     snap.Now,
		})
	}
	for _, e := range res.Bankruptcy.Eliminations {
		if e.Liquidated.IsPositive() {
			res.Entries = append(res.Entries, bookkeeping.Entry{
				ID:            bookkeeping.EntryID(g.ID, e.ParticipantID, g.Month, g.Year, bookkeeping.AccountLiquidation, "bankruptcy"),
				GameID:        g.ID,
				ParticipantID: e.ParticipantID,
				Month:         g.Month,
				Year:          g.Year,
				Account:       bookkeeping.AccountLiquidation,
				Amount:        e.Liquidated,
				Memo:          "bankruptcy liquidation",
			})
		}
		res.Sold = append(res.Sold, liquidationMoves(g, e.ParticipantID, snap.Stock[e.ParticipantID], accounts[e.ParticipantID])...)
		emit(model.EventBankruptcy, e.ParticipantID, fmt.Sprintf(
			"%s went bankrupt with score %d; liquidated %s, %.1f%% market share redistributed",
			nameOf(participants, e.ParticipantID), e.Score, e.Liquidated.StringFixed(2), e.Redistributed))
	}
	for _, w := range res.Bankruptcy.Warnings {
		emit(model.EventBankruptcyWarning, w.ParticipantID, fmt.Sprintf(
			"%s is at %s bankruptcy risk (score %d)", nameOf(participants, w.ParticipantID), w.Risk, w.Score))
	}

	// 4. Market engines, one month ahead.
	nextMonth, nextYear := g.NextMonth()
	econ := economy.Advance(&snap.State.Economy, nextMonth, nextYear, rng.New(g.Seed, idx, rng.StreamEconomy))
	econ.GameID = g.ID
	fac := factors.NewEngine(g.Seed).Advance(&snap.State.Factors, econ, nextMonth, nextYear, idx+1,
		rng.New(g.Seed, idx, rng.StreamFactors))
	fac.GameID = g.ID
	demo := demographics.Advance(&snap.State.Demographics, econ, fac, nextMonth, nextYear, g.ProductLines,
		rng.New(g.Seed, idx, rng.StreamDemographics))
	demo.GameID = g.ID
	res.Settlement.Next = model.MarketState{Economy: econ, Factors: fac, Demographics: demo}

	// 5. Clock and end of game.
	next := g
	over, winner := bankruptcy.GameOver(participants)
	reason := bankruptcy.ReasonBankruptcy
	if !over && g.MaxMonths > 0 && idx+1 >= g.MaxMonths {
		over, reason = true, bankruptcy.ReasonMaxMonths
		if active := bankruptcy.Active(participants); len(active) > 0 {
			winner = active[0].ID
		}
	}
	if over {
		next.Status = model.StatusCompleted
		next.WinnerID = winner
		next.EndReason = reason
	} else {
		next.Status = model.StatusCollecting
		next.Month, next.Year = nextMonth, nextYear
		next.TurnOpenedAt = snap.Now
		res.Difficulty = strategy.AdjustDifficulty(participants)
		if res.Difficulty != strategy.Unchanged {
			emit(model.EventDifficultyAdjusted, "", fmt.Sprintf("AI difficulty %s", res.Difficulty))
		}
	}

	emit(model.EventTurnProcessed, "", turnSummary(g, res.Settlement.Clearing, participants))
	if over {
		msg := "game ended with no survivors"
		if winner != "" {
			msg = fmt.Sprintf("game ended (%s); winner %s", reason, nameOf(participants, winner))
		}
		emit(model.EventGameEnded, winner, msg)
	}

	res.Settlement.ExpectedVersion = g.Version
	res.Settlement.Game = next
	res.Settlement.Participants = participants
	res.Settlement.Decisions = decisions
	res.Settlement.Records = settledRecords
	res.Settlement.Events = events
	return res, nil
}

// recomputeShares sets market share from cumulative revenue among active
// participants.
func recomputeShares(ps []model.Participant) {
	total := decimal.Zero
	for _, p := range ps {
		if p.Active && !p.Bankrupt {
			total = total.Add(p.TotalRevenue)
		}
	}
	if !total.IsPositive() {
		return
	}
	for i := range ps {
		if !ps[i].Active || ps[i].Bankrupt {
			continue
		}
		share := ps[i].TotalRevenue.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		ps[i].MarketShare = math.Round(share*100) / 100
	}
}

// remainingStock values what is left of the stock after this month's sales
// and production, at cost.
func remainingStock(stock map[string]bookkeeping.Stock, acc *account, unitCost decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for line, s := range stock {
		units := s.Units
		if acc != nil {
			units -= acc.sold[line]
		}
		if units > 0 {
			cost := s.UnitCost
			if cost.LessThanOrEqual(decimal.Zero) {
				cost = unitCost
			}
			total = total.Add(cost.Mul(decimal.NewFromInt(int64(units))))
		}
	}
	if acc != nil {
		for _, n := range acc.produced {
			total = total.Add(unitCost.Mul(decimal.NewFromInt(int64(n))))
		}
	}
	return total
}

func entries(g model.Game, pid string, acc *account) []bookkeeping.Entry {
	var out []bookkeeping.Entry
	add := func(account bookkeeping.Account, amount decimal.Decimal, memo string) {
		if amount.IsZero() {
			return
		}
		out = append(out, bookkeeping.Entry{
			ID:            bookkeeping.EntryID(g.ID, pid, g.Month, g.Year, account, "settlement"),
			GameID:        g.ID,
			ParticipantID: pid,
			Month:         g.Month,
			Year:          g.Year,
			Account:       account,
			Amount:        amount,
			Memo:          memo,
		})
	}
	add(bookkeeping.AccountRevenue, acc.revenue, "sales")
	add(bookkeeping.AccountProduction, acc.production.Neg(), "production")
	add(bookkeeping.AccountMarketing, acc.marketing.Neg(), "marketing")
	return out
}

func movements(g model.Game, pid string, units map[string]int, kind string, cost decimal.Decimal) []bookkeeping.Movement {
	lines := make([]string, 0, len(units))
	for l, n := range units {
		if n > 0 {
			lines = append(lines, l)
		}
	}
	sort.Strings(lines)
	out := make([]bookkeeping.Movement, 0, len(lines))
	for _, l := range lines {
		out = append(out, bookkeeping.Movement{
			ID:            bookkeeping.MovementID(g.ID, pid, l, g.Month, g.Year, kind),
			GameID:        g.ID,
			ParticipantID: pid,
			ProductLine:   l,
			Units:         units[l],
			UnitCost:      cost,
		})
	}
	return out
}

// liquidationMoves removes the stock left after this month's sales.
// Units produced this month are liquidated before they are ever restocked.
func liquidationMoves(g model.Game, pid string, stock map[string]bookkeeping.Stock, acc *account) []bookkeeping.Movement {
	left := make(map[string]int, len(stock))
	for line, s := range stock {
		n := s.Units
		if acc != nil {
			n -= acc.sold[line]
		}
		left[line] = n
	}
	return movements(g, pid, left, "liquidated", decimal.Zero)
}

func eventID(g model.Game, kind model.EventKind, pid string, n int) string {
	key := fmt.Sprintf("%s:%d:%d:%d:%s:%s:%d", g.ID, g.Version, g.Year, g.Month, kind, pid, n)
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

func nameOf(ps []model.Participant, id string) string {
	for _, p := range ps {
		if p.ID == id {
			if p.Name != "" {
				return p.Name
			}
			break
		}
	}
	return id
}

// turnSummary names the volume of the month and the market leader.
func turnSummary(g model.Game, results []model.ClearingResult, ps []model.Participant) string {
	sold, demanded := 0, 0
	for _, r := range results {
		sold += r.TotalSold
		demanded += r.TotalDemanded
	}
	msg := fmt.Sprintf("%02d/%d settled: %d of %d units demanded sold across %d lines",
		g.Month, g.Year, sold, demanded, len(results))

	leader := -1
	for i, p := range ps {
		if !p.Active || p.Bankrupt {
			continue
		}
		if leader < 0 || p.MarketShare > ps[leader].MarketShare ||
			(p.MarketShare == ps[leader].MarketShare && p.ID < ps[leader].ID) {
			leader = i
		}
	}
	if leader >= 0 && ps[leader].MarketShare > 0 {
		msg += fmt.Sprintf("; leader %s with %.1f%% share", nameOf(ps, ps[leader].ID), ps[leader].MarketShare)
	}
	return msg
}
