// Package turn runs the monthly turn of a game: it collects submissions,
// auto-submits for AI participants and late humans, and settles the month
// once every active participant has submitted.
//
// Settlement is computed as a pure function of the stored snapshot and
// committed atomically through the store's version guard. Side effects on
// the bookkeeping collaborators, the history sink and WebSocket clients
// happen only after the commit succeeded.
//
// All monetary values use shopspring/decimal, never float64 for money.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/bookkeeping"
	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/history"
	"github.com/bikesim/market-engine/internal/limits"
	"github.com/bikesim/market-engine/internal/metrics"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/store"
	"github.com/bikesim/market-engine/internal/strategy"
)

var (
	// ErrGameClosed is returned when a game does not accept submissions.
	ErrGameClosed = errors.New("turn: game is not collecting submissions")

	// ErrInactiveParticipant is returned for bankrupt or inactive participants.
	ErrInactiveParticipant = errors.New("turn: participant is not active")

	// ErrUnknownLine is returned for offers on a line the game does not sell.
	ErrUnknownLine = errors.New("turn: unknown product line")

	// ErrDuplicateLine is returned when one submission offers a line twice.
	ErrDuplicateLine = errors.New("turn: product line offered twice")

	// ErrInvalidGame is returned for game configurations that cannot be played.
	ErrInvalidGame = errors.New("turn: invalid game configuration")
)

// Broadcaster delivers settlement notices to live clients.
type Broadcaster interface {
	Broadcast(n Notice)
}

// Notice is published after a month has been committed.
type Notice struct {
	Type      string              `json:"type"`
	GameID    string              `json:"game_id"`
	Month     int                 `json:"month"`
	Year      int                 `json:"year"`
	Status    model.GameStatus    `json:"status"`
	Version   int64               `json:"version"`
	WinnerID  string              `json:"winner_id,omitempty"`
	EndReason string              `json:"end_reason,omitempty"`
	Clearing  []LinePrice         `json:"clearing"`
	Standings []model.Participant `json:"standings"`
}

// LinePrice is the settled price and volume of one product line.
type LinePrice struct {
	ProductLine   string          `json:"product_line"`
	ClearingPrice decimal.Decimal `json:"clearing_price"`
	TotalSold     int             `json:"total_sold"`
	TotalDemanded int             `json:"total_demanded"`
}

// Options configures an Orchestrator. Zero values select the in-memory
// collaborators and the package defaults.
type Options struct {
	Inventory bookkeeping.Inventory
	Ledger    bookkeeping.Ledger
	Sink      history.Sink
	Limiter   *limits.Limiter
	Hub       Broadcaster

	// Lease is how long a settlement claim stays exclusive. A claim older
	// than the lease is taken over by the next tick.
	Lease time.Duration

	// UnitCost is the production cost of one unit.
	UnitCost decimal.Decimal

	// OpeningStock is the number of units of every line a participant
	// holds when it joins. Negative disables the opening stock.
	OpeningStock int

	// Now is the clock. Defaults to time.Now in UTC.
	Now func() time.Time

	// NewID generates game and participant IDs. Defaults to random UUIDs.
	NewID func() string
}

// Defaults for Options.
const (
	DefaultLease        = 2 * time.Minute
	DefaultOpeningStock = 100
	DefaultMaxPerLine   = 10000
)

// Orchestrator owns every mutation of a game.
type Orchestrator struct {
	store        store.Store
	inventory    bookkeeping.Inventory
	ledger       bookkeeping.Ledger
	sink         history.Sink
	limiter      *limits.Limiter
	hub          Broadcaster
	lease        time.Duration
	unitCost     decimal.Decimal
	openingStock int
	now          func() time.Time
	newID        func() string

	locks sync.Map // game ID -> *sync.Mutex
}

// New creates an orchestrator over a store.
func New(st store.Store, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:        st,
		inventory:    opts.Inventory,
		ledger:       opts.Ledger,
		sink:         opts.Sink,
		limiter:      opts.Limiter,
		hub:          opts.Hub,
		lease:        opts.Lease,
		unitCost:     opts.UnitCost,
		openingStock: opts.OpeningStock,
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if o.inventory == nil {
		o.inventory = bookkeeping.NewMemoryInventory()
	}
	if o.ledger == nil {
		o.ledger = bookkeeping.NewMemoryLedger()
	}
	if o.sink == nil {
		o.sink = history.Nop{}
	}
	if o.limiter == nil {
		o.limiter = limits.New(DefaultMaxPerLine, decimal.Zero)
	}
	if o.lease <= 0 {
		o.lease = DefaultLease
	}
	if o.unitCost.LessThanOrEqual(decimal.Zero) {
		o.unitCost = bookkeeping.DefaultUnitCost
	}
	if o.openingStock < 0 {
		o.openingStock = 0
	} else if o.openingStock == 0 {
		o.openingStock = DefaultOpeningStock
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// Store returns the underlying store.
func (o *Orchestrator) Store() store.Store { return o.store }

func (o *Orchestrator) lock(gameID string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(gameID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// --- Games and participants ---

// GameConfig is the configuration of a new game.
type GameConfig struct {
	Name                string              `json:"name"`
	Structure           string              `json:"structure"`
	Difficulty          model.Difficulty    `json:"difficulty"`
	StartMonth          int                 `json:"start_month"`
	StartYear           int                 `json:"start_year"`
	MaxMonths           int                 `json:"max_months"`
	StartingCapital     decimal.Decimal     `json:"starting_capital"`
	BankruptcyThreshold decimal.Decimal     `json:"bankruptcy_threshold"`
	TurnDeadline        time.Duration       `json:"turn_deadline"`
	Seed                int64               `json:"seed"`
	ProductLines        []model.ProductLine `json:"product_lines"`
}

// Game defaults.
var (
	DefaultStartingCapital     = decimal.NewFromInt(80000)
	DefaultBankruptcyThreshold = decimal.NewFromInt(-50000)
)

// CreateGame validates a configuration and stores the new game.
func (o *Orchestrator) CreateGame(ctx context.Context, cfg GameConfig) (*model.Game, error) {
	structure, err := model.ParseStructure(cfg.Structure)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}
	switch cfg.Difficulty {
	case "":
		cfg.Difficulty = model.DifficultyMedium
	case model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard, model.DifficultyExpert:
	default:
		return nil, fmt.Errorf("%w: difficulty %q", ErrInvalidGame, cfg.Difficulty)
	}
	lines := cfg.ProductLines
	if len(lines) == 0 {
		lines = catalog.DefaultLines()
	}
	if err := catalog.ValidateLines(lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}
	if cfg.MaxMonths < 0 || cfg.TurnDeadline < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidGame)
	}

	now := o.now()
	if cfg.StartMonth < 1 || cfg.StartMonth > 12 {
		cfg.StartMonth = 1
	}
	if cfg.StartYear <= 0 {
		cfg.StartYear = now.Year()
	}
	if cfg.StartingCapital.LessThanOrEqual(decimal.Zero) {
		cfg.StartingCapital = DefaultStartingCapital
	}
	if cfg.BankruptcyThreshold.IsZero() {
		cfg.BankruptcyThreshold = DefaultBankruptcyThreshold
	}
	if cfg.Seed == 0 {
		cfg.Seed = now.UnixNano()
	}

	g := &model.Game{
		ID:                  o.newID(),
		Name:                cfg.Name,
		Month:               cfg.StartMonth,
		Year:                cfg.StartYear,
		StartMonth:          cfg.StartMonth,
		StartYear:           cfg.StartYear,
		MaxMonths:           cfg.MaxMonths,
		StartingCapital:     cfg.StartingCapital,
		BankruptcyThreshold: cfg.BankruptcyThreshold,
		Structure:           structure,
		Difficulty:          cfg.Difficulty,
		TurnDeadline:        cfg.TurnDeadline,
		Seed:                cfg.Seed,
		ProductLines:        lines,
		Status:              model.StatusCollecting,
		TurnOpenedAt:        now,
		CreatedAt:           now,
	}
	if err := o.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	if err := o.seedState(ctx, g); err != nil {
		return nil, err
	}
	metrics.ActiveGames.Inc()

	slog.Info("game created",
		"game", g.ID,
		"structure", g.Structure,
		"difficulty", g.Difficulty,
		"lines", len(g.ProductLines),
		"seed", g.Seed,
	)
	return g, nil
}

// JoinRequest adds a participant to a game.
type JoinRequest struct {
	Name     string                `json:"name"`
	Kind     model.ParticipantKind `json:"kind"`
	Strategy model.StrategyKind    `json:"strategy,omitempty"`
}

// Join adds a participant with the game's starting capital and the opening
// stock of every line.
func (o *Orchestrator) Join(ctx context.Context, gameID string, req JoinRequest) (*model.Participant, error) {
	g, err := o.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status == model.StatusCompleted {
		return nil, fmt.Errorf("%w: game %s is completed", ErrGameClosed, gameID)
	}
	if req.Kind == "" {
		req.Kind = model.KindHuman
	}
	if req.Kind != model.KindHuman && req.Kind != model.KindAI {
		return nil, fmt.Errorf("%w: participant kind %q", ErrInvalidGame, req.Kind)
	}

	p := &model.Participant{
		ID:           o.newID(),
		GameID:       gameID,
		Name:         req.Name,
		Kind:         req.Kind,
		Strategy:     req.Strategy,
		Balance:      g.StartingCapital,
		TotalRevenue: decimal.Zero,
		TotalProfit:  decimal.Zero,
		Active:       true,
		JoinedAt:     o.now(),
	}
	if p.IsAI() {
		strategy.Initialize(p)
	} else {
		p.Strategy = ""
	}
	if err := o.store.AddParticipant(ctx, p); err != nil {
		return nil, err
	}

	if o.openingStock > 0 {
		moves := make([]bookkeeping.Movement, 0, len(g.ProductLines))
		for _, l := range g.ProductLines {
			moves = append(moves, bookkeeping.Movement{
				ID:            bookkeeping.MovementID(gameID, p.ID, l.ID, g.StartMonth, g.StartYear, "opening"),
				GameID:        gameID,
				ParticipantID: p.ID,
				ProductLine:   l.ID,
				Units:         o.openingStock,
				UnitCost:      o.unitCost,
			})
		}
		if err := o.inventory.Restock(ctx, moves); err != nil {
			return nil, fmt.Errorf("opening stock: %w", err)
		}
	}

	slog.Info("participant joined", "game", gameID, "participant", p.ID, "kind", p.Kind, "strategy", p.Strategy)
	return p, nil
}

// --- Submissions ---

// Submit validates and stores the submission of one participant for the
// current month. Resubmitting replaces the earlier submission.
func (o *Orchestrator) Submit(ctx context.Context, gameID, participantID string, sub model.Submission) (*model.TurnRecord, error) {
	g, err := o.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status != model.StatusCollecting {
		return nil, fmt.Errorf("%w: game %s is %s", ErrGameClosed, gameID, g.Status)
	}
	p, err := o.store.GetParticipant(ctx, gameID, participantID)
	if err != nil {
		return nil, err
	}
	if !p.Active || p.Bankrupt {
		return nil, fmt.Errorf("%w: %s", ErrInactiveParticipant, participantID)
	}
	if err := o.validate(ctx, g, p, sub); err != nil {
		return nil, err
	}

	rec, err := o.write(ctx, g, p, sub, false)
	if err != nil {
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues(string(p.Kind)).Inc()
	slog.Info("submission accepted", "game", gameID, "participant", participantID, "offers", len(sub.Offers))
	return rec, nil
}

// validate checks offers against the game's lines, the participant's
// stock and its balance.
func (o *Orchestrator) validate(ctx context.Context, g *model.Game, p *model.Participant, sub model.Submission) error {
	known := make(map[string]bool, len(g.ProductLines))
	for _, l := range g.ProductLines {
		known[l.ID] = true
	}
	seen := make(map[string]bool, len(sub.Offers))
	for _, off := range sub.Offers {
		if !known[off.ProductLine] {
			return fmt.Errorf("%w: %s", ErrUnknownLine, off.ProductLine)
		}
		if seen[off.ProductLine] {
			return fmt.Errorf("%w: %s", ErrDuplicateLine, off.ProductLine)
		}
		seen[off.ProductLine] = true
	}

	avail, err := o.inventory.Available(ctx, g.ID, p.ID)
	if err != nil && !errors.Is(err, bookkeeping.ErrUnknownParticipant) {
		return fmt.Errorf("available stock: %w", err)
	}
	stock := make(map[string]int, len(avail))
	for line, s := range avail {
		stock[line] = s.Units
	}
	if err := o.limiter.Check(sub.Offers, stock, p.Balance); err != nil {
		metrics.LimitRejections.Inc()
		return err
	}
	return nil
}

// write upserts the turn record and decisions of one submission.
func (o *Orchestrator) write(ctx context.Context, g *model.Game, p *model.Participant, sub model.Submission, auto bool) (*model.TurnRecord, error) {
	rec := &model.TurnRecord{
		GameID:        g.ID,
		ParticipantID: p.ID,
		Month:         g.Month,
		Year:          g.Year,
		Submitted:     true,
		SubmittedAt:   o.now(),
		AutoSubmitted: auto,
		Plan:          sub.Plan,
		Revenue:       decimal.Zero,
		Profit:        decimal.Zero,
		CashFlow:      decimal.Zero,
	}
	decisions := make([]model.Decision, 0, len(sub.Offers))
	for _, off := range sub.Offers {
		if off.Marketing.IsNegative() {
			off.Marketing = decimal.Zero
		}
		decisions = append(decisions, model.Decision{
			GameID:        g.ID,
			ParticipantID: p.ID,
			Month:         g.Month,
			Year:          g.Year,
			Offer:         off,
			Revenue:       decimal.Zero,
		})
		rec.UnitsOffered += off.Quantity
	}
	if err := o.store.UpsertSubmission(ctx, rec, decisions); err != nil {
		if errors.Is(err, store.ErrTurnClosed) {
			return nil, fmt.Errorf("%w: %v", ErrGameClosed, err)
		}
		return nil, err
	}
	return rec, nil
}

// --- Status ---

// Status is the submission progress of the current month.
type Status struct {
	GameID    string           `json:"game_id"`
	Month     int              `json:"month"`
	Year      int              `json:"year"`
	Status    model.GameStatus `json:"status"`
	Version   int64            `json:"version"`
	Submitted []string         `json:"submitted"`
	Pending   []string         `json:"pending"`
	Deadline  *time.Time       `json:"deadline,omitempty"`
	WinnerID  string           `json:"winner_id,omitempty"`
	EndReason string           `json:"end_reason,omitempty"`
}

// Status reports which active participants have submitted this month.
func (o *Orchestrator) Status(ctx context.Context, gameID string) (*Status, error) {
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

	st := &Status{
		GameID:    g.ID,
		Month:     g.Month,
		Year:      g.Year,
		Status:    g.Status,
		Version:   g.Version,
		Submitted: []string{},
		Pending:   []string{},
		WinnerID:  g.WinnerID,
		EndReason: g.EndReason,
	}
	if g.TurnDeadline > 0 && g.Status != model.StatusCompleted {
		d := g.TurnOpenedAt.Add(g.TurnDeadline)
		st.Deadline = &d
	}
	submitted := submittedSet(recs)
	for _, p := range ps {
		if !p.Active || p.Bankrupt {
			continue
		}
		if submitted[p.ID] {
			st.Submitted = append(st.Submitted, p.ID)
		} else {
			st.Pending = append(st.Pending, p.ID)
		}
	}
	sort.Strings(st.Submitted)
	sort.Strings(st.Pending)
	return st, nil
}

func submittedSet(recs []model.TurnRecord) map[string]bool {
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.Submitted {
			out[r.ParticipantID] = true
		}
	}
	return out
}
