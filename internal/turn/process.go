package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/bankruptcy"
	"github.com/bikesim/market-engine/internal/bookkeeping"
	"github.com/bikesim/market-engine/internal/demographics"
	"github.com/bikesim/market-engine/internal/economy"
	"github.com/bikesim/market-engine/internal/factors"
	"github.com/bikesim/market-engine/internal/history"
	"github.com/bikesim/market-engine/internal/metrics"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/rng"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/strategy"
)

// Reasons reported by ProcessIfReady.
const (
	ReasonSettled   = "settled"
	ReasonBusy      = "busy"
	ReasonWaiting   = "waiting"
	ReasonClaimed   = "claimed"
	ReasonCompleted = "completed"
)

// Outcome reports what one ProcessIfReady call did.
type Outcome struct {
	GameID  string      `json:"game_id"`
	Settled bool        `json:"settled"`
	Reason  string      `json:"reason"`
	Pending []string    `json:"pending,omitempty"`
	Game    *model.Game `json:"game,omitempty"`
	Result  *Result     `json:"-"`
}

// ProcessIfReady auto-submits where due and settles the current month once
// every active participant has submitted. It is safe to call repeatedly
// and from several processes: a busy game or a month claimed elsewhere is
// a no-op.
func (o *Orchestrator) ProcessIfReady(ctx context.Context, gameID string) (*Outcome, error) {
	mu := o.lock(gameID)
	if !mu.TryLock() {
		return &Outcome{GameID: gameID, Reason: ReasonBusy}, nil
	}
	defer mu.Unlock()

	g, err := o.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{GameID: gameID, Game: g}
	now := o.now()
	switch g.Status {
	case model.StatusCompleted:
		out.Reason = ReasonCompleted
		return out, nil
	case model.StatusSettling:
		if now.Sub(g.SettlingSince) < o.lease {
			out.Reason = ReasonClaimed
			return out, nil
		}
	}

	if err := o.seedState(ctx, g); err != nil {
		return nil, err
	}
	ps, err := o.store.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, err
	}
	recs, err := o.store.ListTurnRecords(ctx, gameID, g.Month, g.Year)
	if err != nil {
		return nil, err
	}

	if g.Status == model.StatusCollecting {
		n, err := o.autoSubmit(ctx, g, ps, recs)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			if recs, err = o.store.ListTurnRecords(ctx, gameID, g.Month, g.Year); err != nil {
				return nil, err
			}
		}
	}

	submitted := submittedSet(recs)
	active := 0
	for _, p := range ps {
		if !p.Active || p.Bankrupt {
			continue
		}
		active++
		if !submitted[p.ID] {
			out.Pending = append(out.Pending, p.ID)
		}
	}
	if active == 0 || len(out.Pending) > 0 {
		out.Reason = ReasonWaiting
		return out, nil
	}

	ok, err := o.store.ClaimSettlement(ctx, gameID, g.Version, now, o.lease)
	if err != nil {
		return nil, err
	}
	if !ok {
		out.Reason = ReasonClaimed
		return out, nil
	}

	start := time.Now()
	res, snap, err := o.settle(ctx, gameID)
	if err != nil {
		result := "failed"
		if errors.Is(err, store.ErrStaleVersion) {
			result = "stale"
		}
		metrics.SettlementsTotal.WithLabelValues(result).Inc()
		if rerr := o.store.ReleaseSettlement(context.WithoutCancel(ctx), gameID, g.Version); rerr != nil {
			slog.Error("release settlement failed", "game", gameID, "err", rerr)
		}
		return nil, fmt.Errorf("settle %s: %w", gameID, err)
	}
	metrics.SettlementsTotal.WithLabelValues("committed").Inc()
	metrics.SettlementLatency.WithLabelValues(string(g.Structure)).Observe(time.Since(start).Seconds())

	o.afterCommit(ctx, snap, res)

	next := res.Settlement.Game
	next.Version = res.Settlement.ExpectedVersion + 1
	next.SettlingSince = time.Time{}
	out.Settled = true
	out.Reason = ReasonSettled
	out.Game = &next
	out.Result = res

	slog.Info("month settled",
		"game", gameID,
		"month", g.Month,
		"year", g.Year,
		"status", next.Status,
		"eliminated", len(res.Bankruptcy.Eliminations),
		"duration", time.Since(start),
	)
	return out, nil
}

// settle reads the claimed snapshot, computes the settlement and commits it.
func (o *Orchestrator) settle(ctx context.Context, gameID string) (*Result, *Snapshot, error) {
	snap, err := o.snapshot(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	res, err := Settle(*snap)
	if err != nil {
		return nil, nil, err
	}
	if err := o.store.CommitSettlement(ctx, &res.Settlement); err != nil {
		return nil, nil, err
	}
	return res, snap, nil
}

// snapshot loads everything Settle reads.
func (o *Orchestrator) snapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	g, err := o.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	ps, err := o.store.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, err
	}
	recs, err := o.store.ListTurnRecords(ctx, gameID, g.Month, g.Year)
	if err != nil {
		return nil, err
	}
	decs, err := o.store.ListDecisions(ctx, gameID, g.Month, g.Year)
	if err != nil {
		return nil, err
	}
	state, err := o.store.GetMarketState(ctx, gameID, g.Month, g.Year)
	if err != nil {
		return nil, fmt.Errorf("market state: %w", err)
	}

	snap := &Snapshot{
		Game:         *g,
		Participants: ps,
		Records:      recs,
		Decisions:    decs,
		State:        *state,
		Stock:        make(map[string]map[string]bookkeeping.Stock, len(ps)),
		Components:   make(map[string]decimal.Decimal, len(ps)),
		Histories:    make(map[string][]model.TurnRecord, len(ps)),
		UnitCost:     o.unitCost,
		Now:          o.now(),
	}
	for _, p := range ps {
		if !p.Active || p.Bankrupt {
			continue
		}
		stock, err := o.inventory.Available(ctx, gameID, p.ID)
		if err != nil && !errors.Is(err, bookkeeping.ErrUnknownParticipant) {
			return nil, fmt.Errorf("available stock of %s: %w", p.ID, err)
		}
		snap.Stock[p.ID] = stock
		if val, err := o.inventory.Liquidation(ctx, gameID, p.ID); err != nil {
			slog.Warn("inventory valuation failed", "game", gameID, "participant", p.ID, "err", err)
		} else {
			snap.Components[p.ID] = val.Components
		}
		h, err := o.store.ParticipantHistory(ctx, gameID, p.ID, bankruptcy.LossMonths)
		if err != nil {
			return nil, err
		}
		snap.Histories[p.ID] = h
	}
	return snap, nil
}

// afterCommit runs the side effects of a committed month. Failures are
// logged; the committed month stands.
func (o *Orchestrator) afterCommit(ctx context.Context, snap *Snapshot, res *Result) {
	g := snap.Game
	if err := o.ledger.Post(ctx, res.Entries); err != nil {
		slog.Error("ledger post failed", "game", g.ID, "entries", len(res.Entries), "err", err)
	}
	if err := o.inventory.MarkSold(ctx, res.Sold); err != nil {
		slog.Error("inventory sale marks failed", "game", g.ID, "err", err)
	}
	if err := o.inventory.Restock(ctx, res.Produced); err != nil {
		slog.Error("inventory restock failed", "game", g.ID, "err", err)
	}
	if err := o.sink.Append(ctx, history.Snapshot{
		GameID:   g.ID,
		Month:    g.Month,
		Year:     g.Year,
		Economy:  snap.State.Economy,
		Factors:  snap.State.Factors,
		Clearing: res.Settlement.Clearing,
	}); err != nil {
		slog.Error("history append failed", "game", g.ID, "err", err)
	}

	for _, c := range res.Settlement.Clearing {
		if c.TotalSold > 0 {
			metrics.UnitsSold.WithLabelValues(c.ProductLine).Add(float64(c.TotalSold))
		}
	}
	metrics.Bankruptcies.Add(float64(len(res.Bankruptcy.Eliminations)))
	if res.Settlement.Game.Status == model.StatusCompleted {
		metrics.ActiveGames.Dec()
	}

	if o.hub != nil {
		o.hub.Broadcast(NoticeFor(res))
	}
}

// NoticeFor builds the settlement notice of a result.
func NoticeFor(res *Result) Notice {
	st := res.Settlement
	n := Notice{
		Type:      "turn_settled",
		GameID:    st.Game.ID,
		Month:     st.Game.Month,
		Year:      st.Game.Year,
		Status:    st.Game.Status,
		Version:   st.ExpectedVersion + 1,
		WinnerID:  st.Game.WinnerID,
		EndReason: st.Game.EndReason,
		Standings: bankruptcy.Active(st.Participants),
	}
	if st.Game.Status == model.StatusCompleted {
		n.Type = "game_completed"
	}
	for _, c := range st.Clearing {
		n.Clearing = append(n.Clearing, LinePrice{
			ProductLine:   c.ProductLine,
			ClearingPrice: c.ClearingPrice,
			TotalSold:     c.TotalSold,
			TotalDemanded: c.TotalDemanded,
		})
	}
	return n
}

// seedState stores the default market state of the current month when the
// game has none yet.
func (o *Orchestrator) seedState(ctx context.Context, g *model.Game) error {
	_, err := o.store.GetMarketState(ctx, g.ID, g.Month, g.Year)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	f := factors.Default(g.ID, g.Month, g.Year)
	st := model.MarketState{
		Economy:      economy.Default(g.ID, g.Month, g.Year),
		Factors:      f,
		Demographics: demographics.Default(g.ID, g.Month, g.Year, g.ProductLines, f),
	}
	if err := o.store.SeedMarketState(ctx, g.ID, g.Month, g.Year, st); err != nil {
		return fmt.Errorf("seed market state: %w", err)
	}
	slog.Info("market state seeded", "game", g.ID, "month", g.Month, "year", g.Year)
	return nil
}

// autoSubmit writes submissions for every AI participant and, once the
// deadline has passed, for every human that has not submitted. It returns
// the number of submissions written.
func (o *Orchestrator) autoSubmit(ctx context.Context, g *model.Game, ps []model.Participant, recs []model.TurnRecord) (int, error) {
	submitted := submittedSet(recs)
	now := o.now()
	late := g.TurnDeadline > 0 && !now.Before(g.TurnOpenedAt.Add(g.TurnDeadline))

	var due []model.Participant
	for _, p := range ps {
		if p.Active && !p.Bankrupt && !submitted[p.ID] && (p.IsAI() || late) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}

	state, err := o.store.GetMarketState(ctx, g.ID, g.Month, g.Year)
	if err != nil {
		return 0, fmt.Errorf("market state: %w", err)
	}
	mi, err := o.marketIntel(ctx, g)
	if err != nil {
		return 0, err
	}

	var events []model.Event
	event := func(kind model.EventKind, pid, msg string) {
		events = append(events, model.Event{
			ID:            eventID(*g, kind, pid, 0),
			GameID:        g.ID,
			Month:         g.Month,
			Year:          g.Year,
			Kind:          kind,
			ParticipantID: pid,
			Message:       msg,
			CreatedAt:     now,
		})
	}

	written := 0
	for i := range due {
		p := &due[i]
		in, err := o.intel(ctx, g, p, *state, mi)
		if err != nil {
			return written, err
		}

		var sub model.Submission
		source := "auto"
		if p.IsAI() {
			source = "ai"
			var fellBack bool
			sub, fellBack = strategy.DecideOrDefault(in, rng.ForParticipant(g.Seed, g.MonthIndex(), p.ID))
			if !fellBack {
				if err := o.validate(ctx, g, p, sub); err != nil {
					slog.Warn("ai submission rejected, using default", "game", g.ID, "participant", p.ID, "err", err)
					sub, fellBack = strategy.Default(in), true
				}
			}
			if fellBack {
				metrics.AIFallbacks.Inc()
				event(model.EventAIFallback, p.ID, fmt.Sprintf("%s used the default decision set", nameOf(ps, p.ID)))
			}
		} else {
			sub = strategy.Default(in)
			event(model.EventAutoSubmitted, p.ID, fmt.Sprintf("%s missed the deadline; default decisions submitted", nameOf(ps, p.ID)))
		}

		if _, err := o.write(ctx, g, p, sub, true); err != nil {
			return written, err
		}
		metrics.SubmissionsTotal.WithLabelValues(source).Inc()
		written++
	}

	if len(events) > 0 {
		if err := o.store.AppendEvents(ctx, events); err != nil {
			slog.Error("append auto-submission events failed", "game", g.ID, "err", err)
		}
	}
	slog.Info("auto-submitted", "game", g.ID, "month", g.Month, "year", g.Year, "count", written)
	return written, nil
}

// marketIntelSet is what every AI in a game knows about the market.
type marketIntelSet struct {
	history    map[string][]model.ClearingResult     // line -> newest first
	lastPrices map[string]map[string]decimal.Decimal // participant -> line -> price
}

// recentClearing is how many months of clearing history AIs see.
const recentClearing = 3

func (o *Orchestrator) marketIntel(ctx context.Context, g *model.Game) (*marketIntelSet, error) {
	mi := &marketIntelSet{
		history:    make(map[string][]model.ClearingResult, len(g.ProductLines)),
		lastPrices: map[string]map[string]decimal.Decimal{},
	}
	for _, l := range g.ProductLines {
		h, err := o.store.ClearingHistory(ctx, g.ID, l.ID, recentClearing)
		if err != nil {
			return nil, err
		}
		mi.history[l.ID] = h
	}
	if g.MonthIndex() > 0 {
		pm, py := prevMonth(g.Month, g.Year)
		decs, err := o.store.ListDecisions(ctx, g.ID, pm, py)
		if err != nil {
			return nil, err
		}
		for _, d := range decs {
			if mi.lastPrices[d.ParticipantID] == nil {
				mi.lastPrices[d.ParticipantID] = map[string]decimal.Decimal{}
			}
			mi.lastPrices[d.ParticipantID][d.ProductLine] = d.Price
		}
	}
	return mi, nil
}

func (o *Orchestrator) intel(ctx context.Context, g *model.Game, p *model.Participant, state model.MarketState, mi *marketIntelSet) (strategy.Intel, error) {
	stock, err := o.inventory.Available(ctx, g.ID, p.ID)
	if err != nil && !errors.Is(err, bookkeeping.ErrUnknownParticipant) {
		return strategy.Intel{}, fmt.Errorf("available stock of %s: %w", p.ID, err)
	}
	in := strategy.Intel{Participant: *p, Difficulty: g.Difficulty, State: state}
	for _, l := range g.ProductLines {
		s := stock[l.ID]
		last, ok := mi.lastPrices[p.ID][l.ID]
		if !ok {
			last = decimal.Zero
		}
		in.Lines = append(in.Lines, strategy.LineFromHistory(l, s.Units, s.UnitCost, last, mi.history[l.ID]))
	}
	return in, nil
}

func prevMonth(month, year int) (int, int) {
	if month <= 1 {
		return 12, year - 1
	}
	return month - 1, year
}
