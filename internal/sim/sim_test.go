package sim

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/archive"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/turn"
)

func TestRun_PlaysToMaxMonths(t *testing.T) {
	var notices []turn.Notice
	res, err := Run(context.Background(), Config{
		Players: 3,
		Months:  6,
		Seed:    2024,
		OnMonth: func(n turn.Notice) { notices = append(notices, n) },
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Game.Status)
	assert.NotEmpty(t, res.Game.EndReason)
	assert.LessOrEqual(t, res.Game.Version, int64(6))
	assert.Len(t, notices, int(res.Game.Version))
	assert.Equal(t, "game_completed", notices[len(notices)-1].Type)
	assert.Len(t, res.Participants, 3)
	assert.LessOrEqual(t, len(res.Clearing), int(res.Game.Version)*len(res.Game.ProductLines))

	for _, c := range res.Clearing {
		assert.Positive(t, c.Competitors, c.ProductLine)
		assert.LessOrEqual(t, c.TotalSold, c.TotalDemanded, c.ProductLine)
		assert.LessOrEqual(t, c.TotalSold, c.TotalSupplied, c.ProductLine)
	}
}

func TestRun_Reproducible(t *testing.T) {
	cfg := Config{Players: 4, Months: 4, Seed: 77, Structure: "oligopoly"}
	a, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	b, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Equal(t, a.Game.ID, b.Game.ID)
	require.Len(t, b.Participants, len(a.Participants))
	for i := range a.Participants {
		assert.Equal(t, a.Participants[i].ID, b.Participants[i].ID)
		assert.True(t, a.Participants[i].Balance.Equal(b.Participants[i].Balance),
			"%s balance %s vs %s", a.Participants[i].Name, a.Participants[i].Balance, b.Participants[i].Balance)
	}
}

func TestRun_TooManyPlayers(t *testing.T) {
	_, err := Run(context.Background(), Config{Players: MaxPlayers + 1})
	assert.Error(t, err)
}

func TestResult_ArchiveRoundTrip(t *testing.T) {
	res, err := Run(context.Background(), Config{Players: 2, Months: 3, Seed: 5})
	require.NoError(t, err)

	db, err := archive.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	run, standings, points := res.Archive("run-1")
	require.NoError(t, db.SaveRun(run, standings, points))

	got, err := db.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, res.Game.ID, got.GameID)
	assert.Equal(t, int(res.Game.Version), got.Months)

	rows, err := db.RunStandings("run-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Rank)
	assert.True(t, rows[0].BalanceValue().GreaterThanOrEqual(rows[1].BalanceValue()))
}
