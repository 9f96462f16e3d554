package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testGame(id string) *model.Game {
	return &model.Game{
		ID:                  id,
		Name:                "test",
		Month:               1,
		Year:                2025,
		StartMonth:          1,
		StartYear:           2025,
		MaxMonths:           12,
		StartingCapital:     d(80000),
		BankruptcyThreshold: d(-50000),
		Structure:           model.StructureMonopolistic,
		Difficulty:          model.DifficultyMedium,
		Seed:                7,
		ProductLines:        []model.ProductLine{{ID: "city", Name: "City Bike"}},
		Status:              model.StatusCollecting,
		TurnOpenedAt:        epoch,
		CreatedAt:           epoch,
	}
}

func testParticipant(gameID, id string) *model.Participant {
	return &model.Participant{
		ID:       id,
		GameID:   gameID,
		Name:     id,
		Kind:     model.KindHuman,
		Balance:  d(80000),
		Active:   true,
		JoinedAt: epoch,
	}
}

func testState(gameID string, month, year int) model.MarketState {
	return model.MarketState{
		Economy:      model.EconomicCondition{GameID: gameID, Month: month, Year: year, GDPGrowth: 2.5, Phase: model.PhaseExpansion},
		Factors:      model.MarketFactors{GameID: gameID, Month: month, Year: year, SeasonalFactor: 1},
		Demographics: model.Demographics{GameID: gameID, Month: month, Year: year, TotalCustomers: 1_000_000},
	}
}

func submission(gameID, pid string, qty int) (*model.TurnRecord, []model.Decision) {
	rec := &model.TurnRecord{GameID: gameID, ParticipantID: pid, Month: 1, Year: 2025, Submitted: true, SubmittedAt: epoch,
		Plan: model.Plan{Production: model.ProductionPlan{TargetVolume: 10}}}
	ds := []model.Decision{{
		GameID: gameID, ParticipantID: pid, Month: 1, Year: 2025,
		Offer: model.Offer{ProductLine: "city", Quantity: qty, Price: d(500), Quality: 5, Innovation: 5, Brand: 5, Marketing: decimal.Zero},
	}}
	return rec, ds
}

// runStoreContract exercises the behaviour every Store implementation
// shares. newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("games", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		assert.ErrorIs(t, s.CreateGame(ctx, testGame("g1")), ErrDuplicate)

		g, err := s.GetGame(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "g1", g.ID)
		assert.True(t, g.StartingCapital.Equal(d(80000)))
		assert.Equal(t, []model.ProductLine{{ID: "city", Name: "City Bike"}}, g.ProductLines)

		_, err = s.GetGame(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("participants", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		require.NoError(t, s.AddParticipant(ctx, testParticipant("g1", "b")))
		require.NoError(t, s.AddParticipant(ctx, testParticipant("g1", "a")))
		assert.ErrorIs(t, s.AddParticipant(ctx, testParticipant("g1", "a")), ErrDuplicate)

		ps, err := s.ListParticipants(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, ps, 2)
		assert.Equal(t, "b", ps[0].ID, "join order")

		_, err = s.GetParticipant(ctx, "g1", "zz")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("submission upsert converges", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		require.NoError(t, s.AddParticipant(ctx, testParticipant("g1", "a")))

		rec, ds := submission("g1", "a", 10)
		require.NoError(t, s.UpsertSubmission(ctx, rec, ds))
		rec, ds = submission("g1", "a", 20)
		require.NoError(t, s.UpsertSubmission(ctx, rec, ds))

		recs, err := s.ListTurnRecords(ctx, "g1", 1, 2025)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		assert.Equal(t, 10, recs[0].Plan.Production.TargetVolume)

		got, err := s.ListDecisions(ctx, "g1", 1, 2025)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 20, got[0].Quantity)
	})

	t.Run("submission to closed month", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		rec, ds := submission("g1", "a", 10)
		rec.Month = 2
		assert.ErrorIs(t, s.UpsertSubmission(ctx, rec, ds), ErrTurnClosed)
	})

	t.Run("market state is write once", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		first := testState("g1", 1, 2025)
		second := testState("g1", 1, 2025)
		second.Economy.GDPGrowth = -3

		require.NoError(t, s.SeedMarketState(ctx, "g1", 1, 2025, first))
		require.NoError(t, s.SeedMarketState(ctx, "g1", 1, 2025, second))

		st, err := s.GetMarketState(ctx, "g1", 1, 2025)
		require.NoError(t, err)
		assert.Equal(t, 2.5, st.Economy.GDPGrowth)

		_, err = s.GetMarketState(ctx, "g1", 2, 2025)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("claim, release and commit", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		require.NoError(t, s.AddParticipant(ctx, testParticipant("g1", "a")))
		rec, ds := submission("g1", "a", 10)
		require.NoError(t, s.UpsertSubmission(ctx, rec, ds))

		ok, err := s.ClaimSettlement(ctx, "g1", 0, epoch, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ClaimSettlement(ctx, "g1", 0, epoch.Add(time.Second), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "duplicate claim")

		rec, _ = submission("g1", "a", 5)
		assert.ErrorIs(t, s.UpsertSubmission(ctx, rec, ds), ErrTurnClosed, "settling months reject submissions")

		require.NoError(t, s.ReleaseSettlement(ctx, "g1", 0))
		ok, err = s.ClaimSettlement(ctx, "g1", 0, epoch, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "released claim can be retaken")

		g, err := s.GetGame(ctx, "g1")
		require.NoError(t, err)
		next := *g
		next.Month, next.Year = 2, 2025
		next.Status = model.StatusCollecting

		settledDecisions := append([]model.Decision(nil), ds...)
		settledDecisions[0].Sold = 8
		settledDecisions[0].Revenue = d(4000)
		settledDecisions[0].Settled = true
		settledRec := *rec
		settledRec.Settled = true
		settledRec.Revenue = d(4000)
		p := testParticipant("g1", "a")
		p.Balance = d(84000)

		st := &model.Settlement{
			ExpectedVersion: 0,
			Game:            next,
			Participants:    []model.Participant{*p},
			Decisions:       settledDecisions,
			Records:         []model.TurnRecord{settledRec},
			Clearing:        []model.ClearingResult{{GameID: "g1", Month: 1, Year: 2025, ProductLine: "city", Structure: model.StructureMonopolistic, TotalSupplied: 10, TotalDemanded: 8, TotalSold: 8, ClearingPrice: d(500)}},
			Next:            testState("g1", 2, 2025),
			Events:          []model.Event{{ID: "e1", GameID: "g1", Month: 1, Year: 2025, Kind: model.EventTurnProcessed, Message: "done", CreatedAt: epoch}},
		}
		require.NoError(t, s.CommitSettlement(ctx, st))
		assert.ErrorIs(t, s.CommitSettlement(ctx, st), ErrStaleVersion, "replayed commit")

		g, err = s.GetGame(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), g.Version)
		assert.Equal(t, 2, g.Month)
		assert.Equal(t, model.StatusCollecting, g.Status)

		got, err := s.GetParticipant(ctx, "g1", "a")
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(d(84000)))

		decs, err := s.ListDecisions(ctx, "g1", 1, 2025)
		require.NoError(t, err)
		require.Len(t, decs, 1)
		assert.True(t, decs[0].Settled)
		assert.Equal(t, 8, decs[0].Sold)

		hist, err := s.ParticipantHistory(ctx, "g1", "a", 6)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.True(t, hist[0].Revenue.Equal(d(4000)))

		cl, err := s.ClearingHistory(ctx, "g1", "city", 3)
		require.NoError(t, err)
		require.Len(t, cl, 1)
		assert.True(t, cl[0].ClearingPrice.Equal(d(500)))

		_, err = s.GetMarketState(ctx, "g1", 2, 2025)
		require.NoError(t, err)

		evs, err := s.ListEvents(ctx, "g1", 10)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, model.EventTurnProcessed, evs[0].Kind)
	})

	t.Run("commit needs a claim", func(t *testing.T) {
		s := newStore(t)
		g := testGame("g1")
		require.NoError(t, s.CreateGame(ctx, g))
		err := s.CommitSettlement(ctx, &model.Settlement{ExpectedVersion: 0, Game: *g})
		assert.True(t, errors.Is(err, ErrStaleVersion))
	})

	t.Run("stale claim lease", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateGame(ctx, testGame("g1")))
		ok, err := s.ClaimSettlement(ctx, "g1", 0, epoch, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.ClaimSettlement(ctx, "g1", 0, epoch.Add(2*time.Minute), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expired claim is taken over")
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateGame(ctx, testGame("g1")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimSettlement(ctx, "g1", 0, epoch, time.Minute)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
