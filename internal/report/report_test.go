package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikesim/market-engine/internal/model"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestOutcome_Bands(t *testing.T) {
	cases := []struct {
		sold, planned int
		reason        Reason
		prefix        string
	}{
		{10, 10, ReasonNone, "Sold out"},
		{8, 10, ReasonPartiallySold, "Strong sales"},
		{5, 10, ReasonPartiallySold, "Moderate sales"},
		{2, 10, ReasonPriceTooHigh, "Weak sales"},
		{1, 10, ReasonPartiallySold, "Very limited sales"},
		{0, 10, ReasonOversaturated, "No sales"},
		{0, 0, ReasonNone, "No units offered"},
	}
	for _, c := range cases {
		got := Outcome(c.sold, c.planned, c.reason)
		assert.True(t, strings.HasPrefix(got, c.prefix), "%d/%d: %q", c.sold, c.planned, got)
	}
	assert.Contains(t, Outcome(2, 10, ReasonPriceTooHigh), "price")
	assert.Contains(t, Outcome(0, 10, ReasonOversaturated), "oversaturated")
	assert.Equal(t, "Moderate sales: 6 of 10 units sold; 4 units left unsold", Outcome(6, 10, ReasonPartiallySold))
}

func TestMarketCondition(t *testing.T) {
	assert.Equal(t, "no demand", MarketCondition(10, 0))
	assert.Equal(t, "undersupplied", MarketCondition(70, 100))
	assert.Equal(t, "balanced", MarketCondition(100, 100))
	assert.Equal(t, "oversupplied", MarketCondition(150, 100))
	assert.Equal(t, "saturated", MarketCondition(200, 100))

	// Band edges belong to the band above.
	assert.Equal(t, "undersupplied", MarketCondition(79, 100))
	assert.Equal(t, "balanced", MarketCondition(80, 100))
	assert.Equal(t, "balanced", MarketCondition(119, 100))
	assert.Equal(t, "oversupplied", MarketCondition(120, 100))
	assert.Equal(t, "oversupplied", MarketCondition(199, 100))
}

func TestCompetitivePosition(t *testing.T) {
	avg := dec(600)
	assert.Equal(t, "well below market", CompetitivePosition(dec(500), avg))
	assert.Equal(t, "below market", CompetitivePosition(dec(570), avg))
	assert.Equal(t, "at market", CompetitivePosition(dec(600), avg))
	assert.Equal(t, "above market", CompetitivePosition(dec(650), avg))
	assert.Equal(t, "premium", CompetitivePosition(dec(700), avg))
	assert.Equal(t, "at market", CompetitivePosition(dec(700), decimal.Zero))
}

func TestUnsoldReason(t *testing.T) {
	assert.Equal(t, ReasonNone, UnsoldReason(10, 10, dec(500), dec(500), 10, 10))
	assert.Equal(t, ReasonPriceTooHigh, UnsoldReason(0, 10, dec(800), dec(500), 20, 30))
	assert.Equal(t, ReasonOversaturated, UnsoldReason(0, 10, dec(500), dec(500), 100, 30))
	assert.Equal(t, ReasonPartiallySold, UnsoldReason(4, 10, dec(500), dec(500), 100, 30))
}

func decisions() []model.Decision {
	return []model.Decision{
		{ParticipantID: "a", Offer: model.Offer{ProductLine: "city", Quantity: 60, Price: dec(500)}, Sold: 60, Revenue: dec(30000), Settled: true},
		{ParticipantID: "b", Offer: model.Offer{ProductLine: "city", Quantity: 60, Price: dec(600)}, Sold: 40, Revenue: dec(24000), Settled: true},
	}
}

func clearing() []model.ClearingResult {
	return []model.ClearingResult{{ProductLine: "city", TotalSupplied: 120, TotalDemanded: 100, TotalSold: 100}}
}

func TestBuild(t *testing.T) {
	r := Build("g", "b", 3, 2025, decisions(), clearing())
	require.Len(t, r.Lines, 1)
	l := r.Lines[0]
	assert.Equal(t, 60, l.Offered)
	assert.Equal(t, 40, l.Sold)
	assert.InDelta(t, 66.67, l.SuccessRate, 0.01)
	assert.Equal(t, ReasonPartiallySold, l.Reason)
	assert.Equal(t, "oversupplied", l.MarketCondition, "120 supplied against 100 demanded")
	assert.Equal(t, "above market", l.CompetitivePosition)
	assert.True(t, r.Revenue.Equal(dec(24000)))
}

type fakeSource struct {
	calls int
	err   error
}

func (f *fakeSource) ListDecisions(ctx context.Context, gameID string, month, year int) ([]model.Decision, error) {
	f.calls++
	return decisions(), f.err
}

func (f *fakeSource) ListClearingResults(ctx context.Context, gameID string, month, year int) ([]model.ClearingResult, error) {
	return clearing(), nil
}

func TestService_CachesSettledReports(t *testing.T) {
	src := &fakeSource{}
	svc, err := NewService(src, 4)
	require.NoError(t, err)

	a, err := svc.Get(context.Background(), "g", "a", 3, 2025)
	require.NoError(t, err)
	b, err := svc.Get(context.Background(), "g", "a", 3, 2025)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, svc.Len())
}

func TestService_PropagatesErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	svc, _ := NewService(src, 0)
	_, err := svc.Get(context.Background(), "g", "a", 3, 2025)
	assert.Error(t, err)
	assert.Equal(t, 0, svc.Len())
}
