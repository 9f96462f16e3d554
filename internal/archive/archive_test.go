package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/model"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStandings_RankByBalance(t *testing.T) {
	ps := []model.Participant{
		{ID: "a", Name: "A", Balance: decimal.NewFromInt(100), TotalRevenue: decimal.Zero},
		{ID: "b", Name: "B", Balance: decimal.NewFromInt(300), TotalRevenue: decimal.Zero},
		{ID: "c", Name: "C", Balance: decimal.NewFromInt(100), TotalRevenue: decimal.Zero, Bankrupt: true},
	}
	s := Standings("r1", ps)
	require.Len(t, s, 3)
	assert.Equal(t, "b", s[0].ParticipantID)
	assert.Equal(t, "a", s[1].ParticipantID, "ties by ID")
	assert.Equal(t, 3, s[2].Rank)
	assert.Equal(t, "300.00", s[0].Balance)
	assert.Equal(t, "a", ps[0].ID, "input untouched")
}

func TestSaveAndReadRun(t *testing.T) {
	db := openTemp(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	run := Run{ID: "r1", GameID: "g1", Name: "demo", Seed: 42, Structure: "perfect_competition",
		Difficulty: "hard", Months: 12, WinnerID: "b", EndReason: "max_months_reached", StartedAt: now, FinishedAt: now}
	standings := Standings("r1", []model.Participant{
		{ID: "a", Name: "A", Strategy: model.StrategyAggressive, Balance: decimal.NewFromInt(100), TotalRevenue: decimal.NewFromInt(5)},
		{ID: "b", Name: "B", Strategy: model.StrategyBalanced, Balance: decimal.NewFromInt(300), TotalRevenue: decimal.NewFromInt(9)},
	})
	points := Points("r1", []model.ClearingResult{
		{Year: 2025, Month: 2, ProductLine: "city", ClearingPrice: decimal.NewFromInt(510), TotalSold: 40, TotalDemanded: 50},
		{Year: 2025, Month: 1, ProductLine: "city", ClearingPrice: decimal.NewFromInt(500), TotalSold: 30, TotalDemanded: 45},
	})

	require.NoError(t, db.SaveRun(run, standings, points))
	require.NoError(t, db.SaveRun(run, standings, points), "resave replaces")

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "demo", runs[0].Name)
	assert.Equal(t, int64(42), runs[0].Seed)

	got, err := db.RunStandings("r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ParticipantID)
	assert.True(t, got[0].BalanceValue().Equal(decimal.NewFromInt(300)))

	pts, err := db.RunPoints("r1", "city")
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 1, pts[0].Month)

	_, err = db.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
