package clearing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func offer(id string, qty int, price float64) Offer {
	return Offer{
		ParticipantID: id,
		Offer: model.Offer{
			ProductLine: "city",
			Quantity:    qty,
			Price:       d(price),
			Quality:     5,
			Innovation:  5,
			Brand:       5,
		},
	}
}

func sumSold(r Result) int {
	n := 0
	for _, a := range r.Allocations {
		n += a.Sold
	}
	return n
}

// --- Validation tests ---

func TestClear_NoOffers(t *testing.T) {
	_, err := Clear(model.StructurePerfect, nil, 100)
	if !errors.Is(err, ErrNoOffers) {
		t.Fatalf("expected ErrNoOffers, got %v", err)
	}
	_, err = Clear(model.StructurePerfect, []Offer{offer("a", 0, 500)}, 100)
	if !errors.Is(err, ErrNoOffers) {
		t.Fatalf("expected ErrNoOffers for zero quantity, got %v", err)
	}
}

func TestClear_UnsupportedStructure(t *testing.T) {
	_, err := Clear("auction", []Offer{offer("a", 10, 500)}, 100)
	if !errors.Is(err, ErrUnsupportedStructure) {
		t.Fatalf("expected ErrUnsupportedStructure, got %v", err)
	}
}

// --- Perfect competition tests ---

func TestPerfect_CheapestFirstMarginalPrice(t *testing.T) {
	res, err := Clear(model.StructurePerfect, []Offer{
		offer("b", 60, 600),
		offer("a", 60, 500),
	}, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := res.Sold("a"); got != 60 {
		t.Errorf("expected a to sell 60, got %d", got)
	}
	if got := res.Sold("b"); got != 40 {
		t.Errorf("expected b to sell 40, got %d", got)
	}
	if !res.ClearingPrice.Equal(d(600)) {
		t.Errorf("expected clearing price 600, got %s", res.ClearingPrice)
	}
	if res.ExcessSupply != 20 || res.ExcessDemand != 0 {
		t.Errorf("expected excess supply 20 / demand 0, got %d / %d", res.ExcessSupply, res.ExcessDemand)
	}
	if math.Abs(res.HHI-0.52) > 1e-9 {
		t.Errorf("expected HHI 0.52, got %f", res.HHI)
	}
	if math.Abs(res.Efficiency-1) > 1e-9 {
		t.Errorf("expected efficiency 1, got %f", res.Efficiency)
	}
	if math.Abs(res.Dispersion-50.0/550.0) > 1e-9 {
		t.Errorf("expected dispersion %f, got %f", 50.0/550.0, res.Dispersion)
	}

	for _, a := range res.Allocations {
		want := a.Price.Mul(decimal.NewFromInt(int64(a.Sold)))
		if !a.Revenue.Equal(want) {
			t.Errorf("%s: expected revenue %s, got %s", a.ParticipantID, want, a.Revenue)
		}
	}
}

func TestPerfect_TiesBrokenByParticipantID(t *testing.T) {
	res, _ := Clear(model.StructurePerfect, []Offer{
		offer("z", 50, 500),
		offer("m", 50, 500),
	}, 60)
	if res.Sold("m") != 50 || res.Sold("z") != 10 {
		t.Errorf("expected m=50 z=10, got m=%d z=%d", res.Sold("m"), res.Sold("z"))
	}
}

func TestPerfect_ZeroDemand(t *testing.T) {
	res, err := Clear(model.StructurePerfect, []Offer{offer("a", 10, 500)}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalSold != 0 || !res.ClearingPrice.IsZero() || res.HHI != 0 || res.Efficiency != 0 {
		t.Errorf("expected zero result, got %+v", res.ClearingResult)
	}
	if res.ExcessSupply != 10 {
		t.Errorf("expected excess supply 10, got %d", res.ExcessSupply)
	}
}

// --- Monopolistic competition tests ---

func TestAttractiveness(t *testing.T) {
	best := model.Offer{Price: d(0), Quality: 10, Innovation: 10, Brand: 10, Marketing: d(20000)}
	if got := Attractiveness(best); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("expected max attractiveness 1.0, got %f", got)
	}
	worst := model.Offer{Price: d(1e12)}
	if got := Attractiveness(worst); got != minScore {
		t.Errorf("expected floor %f, got %f", minScore, got)
	}
}

func TestMonopolistic_EqualOffersSplitEvenly(t *testing.T) {
	res, _ := Clear(model.StructureMonopolistic, []Offer{
		offer("a", 100, 500),
		offer("b", 100, 500),
	}, 100)
	if res.Sold("a") != 50 || res.Sold("b") != 50 {
		t.Errorf("expected 50/50, got %d/%d", res.Sold("a"), res.Sold("b"))
	}
	if !res.ClearingPrice.Equal(d(500)) {
		t.Errorf("expected average price 500, got %s", res.ClearingPrice)
	}
}

func TestMonopolistic_CappedByOffered(t *testing.T) {
	res, _ := Clear(model.StructureMonopolistic, []Offer{
		offer("a", 30, 500),
		offer("b", 30, 500),
	}, 100)
	if res.TotalSold != 60 || res.ExcessDemand != 40 {
		t.Errorf("expected sold 60 excess demand 40, got %d / %d", res.TotalSold, res.ExcessDemand)
	}
}

func TestMonopolistic_BetterOfferWinsMore(t *testing.T) {
	good := offer("a", 1000, 400)
	good.Quality = 9
	res, _ := Clear(model.StructureMonopolistic, []Offer{good, offer("b", 1000, 600)}, 500)
	if res.Sold("a") <= res.Sold("b") {
		t.Errorf("expected a to outsell b, got %d vs %d", res.Sold("a"), res.Sold("b"))
	}
}

// --- Oligopoly tests ---

func TestOligopoly_PriceAdvantage(t *testing.T) {
	res, _ := Clear(model.StructureOligopoly, []Offer{
		offer("a", 200, 250),
		offer("b", 200, 750),
	}, 300)
	// base = 300/3 = 100; advantage 1.5 and 0.5.
	if res.Sold("a") != 150 || res.Sold("b") != 50 {
		t.Errorf("expected 150/50, got %d/%d", res.Sold("a"), res.Sold("b"))
	}
}

func TestDuopoly_SameRuleAsOligopoly(t *testing.T) {
	offers := []Offer{offer("a", 200, 450), offer("b", 200, 550)}
	o, _ := Clear(model.StructureOligopoly, offers, 300)
	du, _ := Clear(model.StructureDuopoly, offers, 300)
	if o.Sold("a") != du.Sold("a") || o.Sold("b") != du.Sold("b") {
		t.Errorf("duopoly and oligopoly diverged")
	}
	if du.Structure != model.StructureDuopoly {
		t.Errorf("expected structure duopoly, got %s", du.Structure)
	}
}

// --- Invariant tests ---

func TestClear_Bounds(t *testing.T) {
	structures := []model.MarketStructure{
		model.StructurePerfect, model.StructureMonopolistic, model.StructureOligopoly, model.StructureDuopoly,
	}
	offers := []Offer{
		offer("a", 5, 100), offer("b", 500, 900), offer("c", 80, 450), offer("d", 1, 10),
	}
	for _, s := range structures {
		for _, demand := range []int{0, 1, 7, 50, 400, 10_000} {
			res, err := Clear(s, offers, demand)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", s, err)
			}
			if sumSold(res) > demand {
				t.Errorf("%s demand=%d: sold %d exceeds demand", s, demand, sumSold(res))
			}
			for _, a := range res.Allocations {
				if a.Sold > a.Offered || a.Sold < 0 {
					t.Errorf("%s demand=%d: %s sold %d of %d", s, demand, a.ParticipantID, a.Sold, a.Offered)
				}
			}
		}
	}
}

func TestClear_OrderIndependent(t *testing.T) {
	a := []Offer{offer("a", 40, 300), offer("b", 70, 520), offer("c", 20, 610)}
	b := []Offer{a[2], a[0], a[1]}
	for _, s := range []model.MarketStructure{model.StructurePerfect, model.StructureMonopolistic, model.StructureOligopoly} {
		ra, _ := Clear(s, a, 90)
		rb, _ := Clear(s, b, 90)
		for _, id := range []string{"a", "b", "c"} {
			if ra.Sold(id) != rb.Sold(id) {
				t.Errorf("%s: %s sold %d vs %d depending on order", s, id, ra.Sold(id), rb.Sold(id))
			}
		}
		if !ra.ClearingPrice.Equal(rb.ClearingPrice) {
			t.Errorf("%s: clearing price depends on order", s)
		}
	}
}

func TestCapToDemand(t *testing.T) {
	sold := []int{60, 60}
	capToDemand(sold, 100)
	if sold[0]+sold[1] > 100 {
		t.Errorf("expected sum <= 100, got %v", sold)
	}
}

func TestDispersion(t *testing.T) {
	if Dispersion([]float64{500}) != 0 {
		t.Errorf("expected 0 for single price")
	}
	if Dispersion([]float64{0, 0}) != 0 {
		t.Errorf("expected 0 for zero mean")
	}
}

func TestHHI_EqualSharesAndMonopoly(t *testing.T) {
	tests := []struct {
		name      string
		structure model.MarketStructure
		offers    []Offer
		demand    int
		want      float64
	}{
		{"perfect two equal sellers", model.StructurePerfect, []Offer{offer("a", 40, 500), offer("b", 40, 500)}, 100, 0.5},
		{"monopolistic two equal sellers", model.StructureMonopolistic, []Offer{offer("a", 100, 500), offer("b", 100, 500)}, 100, 0.5},
		{"perfect single seller", model.StructurePerfect, []Offer{offer("a", 40, 500)}, 100, 1.0},
		{"monopolistic single seller", model.StructureMonopolistic, []Offer{offer("a", 100, 500)}, 60, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Clear(tt.structure, tt.offers, tt.demand)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(res.HHI-tt.want) > 1e-9 {
				t.Errorf("expected HHI %v, got %f", tt.want, res.HHI)
			}
		})
	}
}
