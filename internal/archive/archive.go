// Package archive keeps a local SQLite record of finished simulation runs,
// written by the CLI after a headless game.
package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/bikesim/market-engine/internal/model"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("archive: run not found")

// Run summarises one finished game.
type Run struct {
	ID         string    `db:"id" json:"id"`
	GameID     string    `db:"game_id" json:"game_id"`
	Name       string    `db:"name" json:"name"`
	Seed       int64     `db:"seed" json:"seed"`
	Structure  string    `db:"structure" json:"structure"`
	Difficulty string    `db:"difficulty" json:"difficulty"`
	Months     int       `db:"months" json:"months"`
	WinnerID   string    `db:"winner_id" json:"winner_id"`
	EndReason  string    `db:"end_reason" json:"end_reason"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}

// Standing is one participant's final position in a run.
type Standing struct {
	RunID         string  `db:"run_id" json:"run_id"`
	Rank          int     `db:"rank" json:"rank"`
	ParticipantID string  `db:"participant_id" json:"participant_id"`
	Name          string  `db:"name" json:"name"`
	Strategy      string  `db:"strategy" json:"strategy"`
	Balance       string  `db:"balance" json:"balance"`
	Revenue       string  `db:"revenue" json:"revenue"`
	MarketShare   float64 `db:"market_share" json:"market_share"`
	Bankrupt      bool    `db:"bankrupt" json:"bankrupt"`
}

// BalanceValue parses the stored balance.
func (s Standing) BalanceValue() decimal.Decimal {
	d, _ := decimal.NewFromString(s.Balance)
	return d
}

// Point is one line's clearing outcome in one month of a run.
type Point struct {
	RunID         string  `db:"run_id" json:"run_id"`
	Year          int     `db:"year" json:"year"`
	Month         int     `db:"month" json:"month"`
	ProductLine   string  `db:"product_line" json:"product_line"`
	ClearingPrice string  `db:"clearing_price" json:"clearing_price"`
	TotalSold     int     `db:"total_sold" json:"total_sold"`
	TotalDemanded int     `db:"total_demanded" json:"total_demanded"`
	HHI           float64 `db:"hhi" json:"hhi"`
}

// DB wraps a SQLite connection for the run archive.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite archive at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		name TEXT NOT NULL,
		seed INTEGER NOT NULL,
		structure TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		months INTEGER NOT NULL,
		winner_id TEXT NOT NULL,
		end_reason TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS standings (
		run_id TEXT NOT NULL REFERENCES runs(id),
		rank INTEGER NOT NULL,
		participant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		strategy TEXT NOT NULL,
		balance TEXT NOT NULL,
		revenue TEXT NOT NULL,
		market_share REAL NOT NULL,
		bankrupt INTEGER NOT NULL,
		PRIMARY KEY (run_id, participant_id)
	);

	CREATE TABLE IF NOT EXISTS points (
		run_id TEXT NOT NULL REFERENCES runs(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		product_line TEXT NOT NULL,
		clearing_price TEXT NOT NULL,
		total_sold INTEGER NOT NULL,
		total_demanded INTEGER NOT NULL,
		hhi REAL NOT NULL,
		PRIMARY KEY (run_id, year, month, product_line)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Standings ranks participants by balance, highest first.
func Standings(runID string, participants []model.Participant) []Standing {
	ranked := make([]model.Participant, len(participants))
	copy(ranked, participants)
	sortByBalance(ranked)

	out := make([]Standing, len(ranked))
	for i, p := range ranked {
		out[i] = Standing{
			RunID:         runID,
			Rank:          i + 1,
			ParticipantID: p.ID,
			Name:          p.Name,
			Strategy:      string(p.Strategy),
			Balance:       p.Balance.StringFixed(2),
			Revenue:       p.TotalRevenue.StringFixed(2),
			MarketShare:   p.MarketShare,
			Bankrupt:      p.Bankrupt,
		}
	}
	return out
}

// Points converts clearing results into archive points.
func Points(runID string, results []model.ClearingResult) []Point {
	out := make([]Point, len(results))
	for i, c := range results {
		out[i] = Point{
			RunID:         runID,
			Year:          c.Year,
			Month:         c.Month,
			ProductLine:   c.ProductLine,
			ClearingPrice: c.ClearingPrice.StringFixed(2),
			TotalSold:     c.TotalSold,
			TotalDemanded: c.TotalDemanded,
			HHI:           c.HHI,
		}
	}
	return out
}

// SaveRun writes a run with its standings and points in one transaction.
// Saving a run ID again replaces it.
func (db *DB) SaveRun(run Run, standings []Standing, points []Point) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM points WHERE run_id = ?",
		"DELETE FROM standings WHERE run_id = ?",
		"DELETE FROM runs WHERE id = ?",
	} {
		if _, err := tx.Exec(q, run.ID); err != nil {
			return fmt.Errorf("clear run: %w", err)
		}
	}

	if _, err := tx.NamedExec(`INSERT INTO runs (id, game_id, name, seed, structure, difficulty, months,
		winner_id, end_reason, started_at, finished_at)
		VALUES (:id, :game_id, :name, :seed, :structure, :difficulty, :months,
		:winner_id, :end_reason, :started_at, :finished_at)`, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, s := range standings {
		if _, err := tx.NamedExec(`INSERT INTO standings (run_id, rank, participant_id, name, strategy,
			balance, revenue, market_share, bankrupt)
			VALUES (:run_id, :rank, :participant_id, :name, :strategy, :balance, :revenue,
			:market_share, :bankrupt)`, s); err != nil {
			return fmt.Errorf("insert standing: %w", err)
		}
	}
	for _, p := range points {
		if _, err := tx.NamedExec(`INSERT INTO points (run_id, year, month, product_line, clearing_price,
			total_sold, total_demanded, hhi)
			VALUES (:run_id, :year, :month, :product_line, :clearing_price, :total_sold,
			:total_demanded, :hhi)`, p); err != nil {
			return fmt.Errorf("insert point: %w", err)
		}
	}
	return tx.Commit()
}

// ListRuns returns up to limit runs, most recently finished first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY finished_at DESC, id LIMIT ?", limit)
	return runs, err
}

// GetRun returns one run.
func (db *DB) GetRun(id string) (Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT * FROM runs WHERE id = ?", id)
	if err != nil {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// RunStandings returns the standings of a run by rank.
func (db *DB) RunStandings(runID string) ([]Standing, error) {
	var out []Standing
	err := db.conn.Select(&out, "SELECT * FROM standings WHERE run_id = ? ORDER BY rank", runID)
	return out, err
}

// RunPoints returns the points of one line of a run, oldest first.
func (db *DB) RunPoints(runID, line string) ([]Point, error) {
	var out []Point
	err := db.conn.Select(&out,
		"SELECT * FROM points WHERE run_id = ? AND product_line = ? ORDER BY year, month", runID, line)
	return out, err
}
