package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

//go:embed schema.sql
var schema string

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool sized for the settlement workload and pings it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Games ---

const gameColumns = `id, name, month, year, start_month, start_year, max_months,
	starting_capital::TEXT, bankruptcy_threshold::TEXT, structure, difficulty,
	turn_deadline_ms, seed, product_lines, status, version, turn_opened_at,
	settling_since, winner_id, end_reason, created_at`

func scanGame(row scanner) (*model.Game, error) {
	var g model.Game
	var capital, threshold string
	var deadlineMS int64
	var lines []byte
	if err := row.Scan(&g.ID, &g.Name, &g.Month, &g.Year, &g.StartMonth, &g.StartYear, &g.MaxMonths,
		&capital, &threshold, &g.Structure, &g.Difficulty,
		&deadlineMS, &g.Seed, &lines, &g.Status, &g.Version, &g.TurnOpenedAt,
		&g.SettlingSince, &g.WinnerID, &g.EndReason, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.StartingCapital = dec(capital)
	g.BankruptcyThreshold = dec(threshold)
	g.TurnDeadline = time.Duration(deadlineMS) * time.Millisecond
	if err := json.Unmarshal(lines, &g.ProductLines); err != nil {
		return nil, fmt.Errorf("decode product lines: %w", err)
	}
	return &g, nil
}

func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game) error {
	lines, err := json.Marshal(g.ProductLines)
	if err != nil {
		return fmt.Errorf("encode product lines: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO games (id, name, month, year, start_month, start_year, max_months,
		        starting_capital, bankruptcy_threshold, structure, difficulty,
		        turn_deadline_ms, seed, product_lines, status, version, turn_opened_at,
		        settling_since, winner_id, end_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11,
		         $12, $13, $14::JSONB, $15, $16, $17, $18, $19, $20, $21)`,
		g.ID, g.Name, g.Month, g.Year, g.StartMonth, g.StartYear, g.MaxMonths,
		g.StartingCapital.String(), g.BankruptcyThreshold.String(), g.Structure, g.Difficulty,
		g.TurnDeadline.Milliseconds(), g.Seed, string(lines), g.Status, g.Version, g.TurnOpenedAt,
		g.SettlingSince, g.WinnerID, g.EndReason, g.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%w: game %s", ErrDuplicate, g.ID)
	}
	return err
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	g, err := scanGame(s.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "game "+id)
	}
	return g, nil
}

func (s *PostgresStore) ListGames(ctx context.Context) ([]model.Game, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+gameColumns+` FROM games ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

// --- Participants ---

const participantColumns = `id, game_id, name, kind, strategy, difficulty, aggressiveness,
	risk_tolerance, balance::TEXT, total_revenue::TEXT, total_profit::TEXT, units_produced,
	units_sold, market_share, active, bankrupt, bankrupt_month, bankrupt_year, joined_at`

func scanParticipant(row scanner) (*model.Participant, error) {
	var p model.Participant
	var balance, revenue, profit string
	if err := row.Scan(&p.ID, &p.GameID, &p.Name, &p.Kind, &p.Strategy, &p.Difficulty, &p.Aggressiveness,
		&p.RiskTolerance, &balance, &revenue, &profit, &p.UnitsProduced,
		&p.UnitsSold, &p.MarketShare, &p.Active, &p.Bankrupt, &p.BankruptMonth, &p.BankruptYear, &p.JoinedAt); err != nil {
		return nil, err
	}
	p.Balance = dec(balance)
	p.TotalRevenue = dec(revenue)
	p.TotalProfit = dec(profit)
	return &p, nil
}

func (s *PostgresStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, game_id, name, kind, strategy, difficulty, aggressiveness,
		        risk_tolerance, balance, total_revenue, total_profit, units_produced, units_sold,
		        market_share, active, bankrupt, bankrupt_month, bankrupt_year, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		         $12, $13, $14, $15, $16, $17, $18, $19)`,
		p.ID, p.GameID, p.Name, p.Kind, p.Strategy, p.Difficulty, p.Aggressiveness,
		p.RiskTolerance, p.Balance.String(), p.TotalRevenue.String(), p.TotalProfit.String(),
		p.UnitsProduced, p.UnitsSold, p.MarketShare, p.Active, p.Bankrupt, p.BankruptMonth, p.BankruptYear, p.JoinedAt,
	)
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%w: participant %s", ErrDuplicate, p.ID)
	}
	return err
}

func (s *PostgresStore) GetParticipant(ctx context.Context, gameID, id string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 AND id = $2`, gameID, id))
	if err != nil {
		return nil, notFound(err, "participant "+id)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, gameID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 ORDER BY seq`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// --- Submissions ---

const recordColumns = `game_id, participant_id, month, year, submitted, submitted_at, auto_submitted,
	plan, settled, revenue::TEXT, profit::TEXT, cash_flow::TEXT, units_produced, units_offered, units_sold`

func scanRecord(row scanner) (*model.TurnRecord, error) {
	var r model.TurnRecord
	var plan []byte
	var revenue, profit, cashFlow string
	if err := row.Scan(&r.GameID, &r.ParticipantID, &r.Month, &r.Year, &r.Submitted, &r.SubmittedAt, &r.AutoSubmitted,
		&plan, &r.Settled, &revenue, &profit, &cashFlow, &r.UnitsProduced, &r.UnitsOffered, &r.UnitsSold); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plan, &r.Plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	r.Revenue = dec(revenue)
	r.Profit = dec(profit)
	r.CashFlow = dec(cashFlow)
	return &r, nil
}

func upsertRecord(ctx context.Context, tx pgx.Tx, r *model.TurnRecord) error {
	plan, err := json.Marshal(r.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO turn_records (game_id, participant_id, month, year, submitted, submitted_at,
		        auto_submitted, plan, settled, revenue, profit, cash_flow, units_produced,
		        units_offered, units_sold)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::JSONB, $9, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC,
		         $13, $14, $15)
		 ON CONFLICT (game_id, participant_id, year, month) DO UPDATE SET
		        submitted = EXCLUDED.submitted, submitted_at = EXCLUDED.submitted_at,
		        auto_submitted = EXCLUDED.auto_submitted, plan = EXCLUDED.plan,
		        settled = EXCLUDED.settled, revenue = EXCLUDED.revenue, profit = EXCLUDED.profit,
		        cash_flow = EXCLUDED.cash_flow, units_produced = EXCLUDED.units_produced,
		        units_offered = EXCLUDED.units_offered, units_sold = EXCLUDED.units_sold`,
		r.GameID, r.ParticipantID, r.Month, r.Year, r.Submitted, r.SubmittedAt,
		r.AutoSubmitted, string(plan), r.Settled, r.Revenue.String(), r.Profit.String(), r.CashFlow.String(),
		r.UnitsProduced, r.UnitsOffered, r.UnitsSold,
	)
	return err
}

// replaceDecisions rewrites the decisions of one participant and month.
func replaceDecisions(ctx context.Context, tx pgx.Tx, gameID, participantID string, month, year int, decisions []model.Decision) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM decisions WHERE game_id = $1 AND participant_id = $2 AND year = $3 AND month = $4`,
		gameID, participantID, year, month); err != nil {
		return err
	}
	for i, d := range decisions {
		targets, err := json.Marshal(d.Targets)
		if err != nil {
			return fmt.Errorf("encode targets: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO decisions (game_id, participant_id, month, year, seq, product_line, quantity,
			        price, quality, innovation, brand, marketing, targets, sold, revenue, settled)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11, $12::NUMERIC, $13::JSONB,
			         $14, $15::NUMERIC, $16)`,
			gameID, participantID, month, year, i, d.ProductLine, d.Quantity,
			d.Price.String(), d.Quality, d.Innovation, d.Brand, d.Marketing.String(), string(targets),
			d.Sold, d.Revenue.String(), d.Settled); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) UpsertSubmission(ctx context.Context, rec *model.TurnRecord, decisions []model.Decision) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// FOR SHARE conflicts with the settlement claim, so a submission and a
	// claim never interleave.
	var status model.GameStatus
	var month, year int
	err = tx.QueryRow(ctx, `SELECT status, month, year FROM games WHERE id = $1 FOR SHARE`, rec.GameID).
		Scan(&status, &month, &year)
	if err != nil {
		return notFound(err, "game "+rec.GameID)
	}
	if status != model.StatusCollecting || month != rec.Month || year != rec.Year {
		return fmt.Errorf("%w: game %s is %s at %d/%d", ErrTurnClosed, rec.GameID, status, month, year)
	}

	if err := upsertRecord(ctx, tx, rec); err != nil {
		return fmt.Errorf("upsert turn record: %w", err)
	}
	if err := replaceDecisions(ctx, tx, rec.GameID, rec.ParticipantID, rec.Month, rec.Year, decisions); err != nil {
		return fmt.Errorf("write decisions: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.TurnRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TurnRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTurnRecords(ctx context.Context, gameID string, month, year int) ([]model.TurnRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM turn_records
		 WHERE game_id = $1 AND year = $2 AND month = $3 ORDER BY participant_id`, gameID, year, month)
}

func (s *PostgresStore) ParticipantHistory(ctx context.Context, gameID, participantID string, limit int) ([]model.TurnRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM turn_records
		 WHERE game_id = $1 AND participant_id = $2 AND settled
		 ORDER BY year DESC, month DESC LIMIT $3`, gameID, participantID, limit)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, gameID string, month, year int) ([]model.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT game_id, participant_id, month, year, product_line, quantity, price::TEXT,
		        quality, innovation, brand, marketing::TEXT, targets, sold, revenue::TEXT, settled
		 FROM decisions WHERE game_id = $1 AND year = $2 AND month = $3
		 ORDER BY participant_id, product_line, seq`, gameID, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var d model.Decision
		var price, marketing, revenue string
		var targets []byte
		if err := rows.Scan(&d.GameID, &d.ParticipantID, &d.Month, &d.Year, &d.ProductLine, &d.Quantity, &price,
			&d.Quality, &d.Innovation, &d.Brand, &marketing, &targets, &d.Sold, &revenue, &d.Settled); err != nil {
			return nil, err
		}
		d.Price = dec(price)
		d.Marketing = dec(marketing)
		d.Revenue = dec(revenue)
		if err := json.Unmarshal(targets, &d.Targets); err != nil {
			return nil, fmt.Errorf("decode targets: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Market ---

func insertMarketState(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, gameID string, month, year int, st model.MarketState) error {
	econ, err := json.Marshal(st.Economy)
	if err != nil {
		return err
	}
	factors, err := json.Marshal(st.Factors)
	if err != nil {
		return err
	}
	demo, err := json.Marshal(st.Demographics)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO market_states (game_id, month, year, economy, factors, demographics)
		 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6::JSONB)
		 ON CONFLICT (game_id, year, month) DO NOTHING`,
		gameID, month, year, string(econ), string(factors), string(demo))
	return err
}

func scanMarketState(row scanner) (*model.MarketState, error) {
	var econ, factors, demo []byte
	if err := row.Scan(&econ, &factors, &demo); err != nil {
		return nil, err
	}
	var st model.MarketState
	if err := json.Unmarshal(econ, &st.Economy); err != nil {
		return nil, fmt.Errorf("decode economy: %w", err)
	}
	if err := json.Unmarshal(factors, &st.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	if err := json.Unmarshal(demo, &st.Demographics); err != nil {
		return nil, fmt.Errorf("decode demographics: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) SeedMarketState(ctx context.Context, gameID string, month, year int, st model.MarketState) error {
	return insertMarketState(ctx, s.pool, gameID, month, year, st)
}

func (s *PostgresStore) GetMarketState(ctx context.Context, gameID string, month, year int) (*model.MarketState, error) {
	st, err := scanMarketState(s.pool.QueryRow(ctx,
		`SELECT economy, factors, demographics FROM market_states
		 WHERE game_id = $1 AND year = $2 AND month = $3`, gameID, year, month))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("market state %s %d/%d", gameID, month, year))
	}
	return st, nil
}

func (s *PostgresStore) MarketHistory(ctx context.Context, gameID string, limit int) ([]model.MarketState, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT economy, factors, demographics FROM market_states
		 WHERE game_id = $1 ORDER BY year DESC, month DESC LIMIT $2`, gameID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MarketState
	for rows.Next() {
		st, err := scanMarketState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

const clearingColumns = `game_id, month, year, product_line, structure, total_supplied, total_demanded,
	total_sold, clearing_price::TEXT, dispersion, hhi, efficiency, competitors, excess_supply, excess_demand`

func (s *PostgresStore) queryClearing(ctx context.Context, query string, args ...any) ([]model.ClearingResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClearingResult
	for rows.Next() {
		var c model.ClearingResult
		var price string
		if err := rows.Scan(&c.GameID, &c.Month, &c.Year, &c.ProductLine, &c.Structure, &c.TotalSupplied,
			&c.TotalDemanded, &c.TotalSold, &price, &c.Dispersion, &c.HHI, &c.Efficiency, &c.Competitors,
			&c.ExcessSupply, &c.ExcessDemand); err != nil {
			return nil, err
		}
		c.ClearingPrice = dec(price)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListClearingResults(ctx context.Context, gameID string, month, year int) ([]model.ClearingResult, error) {
	return s.queryClearing(ctx,
		`SELECT `+clearingColumns+` FROM clearing_results
		 WHERE game_id = $1 AND year = $2 AND month = $3 ORDER BY product_line`, gameID, year, month)
}

func (s *PostgresStore) ClearingHistory(ctx context.Context, gameID, line string, limit int) ([]model.ClearingResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryClearing(ctx,
		`SELECT `+clearingColumns+` FROM clearing_results
		 WHERE game_id = $1 AND product_line = $2 ORDER BY year DESC, month DESC LIMIT $3`, gameID, line, limit)
}

// --- Events ---

func insertEvents(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, events []model.Event) error {
	for _, e := range events {
		if _, err := q.Exec(ctx,
			`INSERT INTO events (id, game_id, month, year, kind, participant_id, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
			e.ID, e.GameID, e.Month, e.Year, e.Kind, e.ParticipantID, e.Message, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.Event) error {
	return insertEvents(ctx, s.pool, events)
}

func (s *PostgresStore) ListEvents(ctx context.Context, gameID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, game_id, month, year, kind, participant_id, message, created_at FROM (
		     SELECT * FROM events WHERE game_id = $1 ORDER BY seq DESC LIMIT $2
		 ) recent ORDER BY seq`, gameID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.GameID, &e.Month, &e.Year, &e.Kind, &e.ParticipantID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Settlement guard ---

func (s *PostgresStore) ClaimSettlement(ctx context.Context, gameID string, version int64, now time.Time, lease time.Duration) (bool, error) {
	stale := now.Add(-lease)
	if lease <= 0 {
		stale = time.Time{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET status = $3, settling_since = $4
		 WHERE id = $1 AND version = $2
		   AND (status = $5 OR (status = $3 AND $6 AND settling_since < $7))`,
		gameID, version, model.StatusSettling, now, model.StatusCollecting, lease > 0, stale)
	if err != nil {
		return false, fmt.Errorf("claim settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseSettlement(ctx context.Context, gameID string, version int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE games SET status = $3, settling_since = '0001-01-01 00:00:00+00'
		 WHERE id = $1 AND version = $2 AND status = $4`,
		gameID, version, model.StatusCollecting, model.StatusSettling)
	if err != nil {
		return fmt.Errorf("release settlement: %w", err)
	}
	return nil
}

// CommitSettlement writes the whole month in one transaction. The game row
// is locked first and checked against the expected version and status.
func (s *PostgresStore) CommitSettlement(ctx context.Context, st *model.Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var version int64
	var status model.GameStatus
	var month, year int
	err = tx.QueryRow(ctx, `SELECT version, status, month, year FROM games WHERE id = $1 FOR UPDATE`, st.Game.ID).
		Scan(&version, &status, &month, &year)
	if err != nil {
		return notFound(err, "game "+st.Game.ID)
	}
	if version != st.ExpectedVersion || status != model.StatusSettling {
		return fmt.Errorf("%w: game %s at version %d (%s), expected %d", ErrStaleVersion, st.Game.ID, version, status, st.ExpectedVersion)
	}

	byParticipant := map[string][]model.Decision{}
	for _, d := range st.Decisions {
		byParticipant[d.ParticipantID] = append(byParticipant[d.ParticipantID], d)
	}
	for pid, ds := range byParticipant {
		if err := replaceDecisions(ctx, tx, st.Game.ID, pid, month, year, ds); err != nil {
			return fmt.Errorf("settle decisions: %w", err)
		}
	}
	for i := range st.Records {
		if err := upsertRecord(ctx, tx, &st.Records[i]); err != nil {
			return fmt.Errorf("settle turn record: %w", err)
		}
	}
	for _, c := range st.Clearing {
		if _, err := tx.Exec(ctx,
			`INSERT INTO clearing_results (game_id, month, year, product_line, structure, total_supplied,
			        total_demanded, total_sold, clearing_price, dispersion, hhi, efficiency, competitors,
			        excess_supply, excess_demand)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10, $11, $12, $13, $14, $15)`,
			st.Game.ID, month, year, c.ProductLine, c.Structure, c.TotalSupplied,
			c.TotalDemanded, c.TotalSold, c.ClearingPrice.String(), c.Dispersion, c.HHI, c.Efficiency,
			c.Competitors, c.ExcessSupply, c.ExcessDemand); err != nil {
			return fmt.Errorf("insert clearing result: %w", err)
		}
	}
	for _, p := range st.Participants {
		if _, err := tx.Exec(ctx,
			`UPDATE participants SET difficulty = $3, balance = $4::NUMERIC, total_revenue = $5::NUMERIC,
			        total_profit = $6::NUMERIC, units_produced = $7, units_sold = $8, market_share = $9,
			        active = $10, bankrupt = $11, bankrupt_month = $12, bankrupt_year = $13
			 WHERE game_id = $1 AND id = $2`,
			st.Game.ID, p.ID, p.Difficulty, p.Balance.String(), p.TotalRevenue.String(),
			p.TotalProfit.String(), p.UnitsProduced, p.UnitsSold, p.MarketShare,
			p.Active, p.Bankrupt, p.BankruptMonth, p.BankruptYear); err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
	}

	g := st.Game
	if g.Status != model.StatusCompleted {
		if err := insertMarketState(ctx, tx, g.ID, g.Month, g.Year, st.Next); err != nil {
			return fmt.Errorf("insert next market state: %w", err)
		}
	}
	if err := insertEvents(ctx, tx, st.Events); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE games SET month = $2, year = $3, status = $4, version = $5, turn_opened_at = $6,
		        settling_since = '0001-01-01 00:00:00+00', winner_id = $7, end_reason = $8
		 WHERE id = $1`,
		g.ID, g.Month, g.Year, g.Status, st.ExpectedVersion+1, g.TurnOpenedAt, g.WinnerID, g.EndReason); err != nil {
		return fmt.Errorf("advance game: %w", err)
	}
	return tx.Commit(ctx)
}
