package catalog

import (
	"errors"
	"testing"

	"github.com/bikesim/market-engine/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		tier     Tier
	}{
		{"City Bike", CategoryCity, TierStandard},
		{"E-Bike", CategoryElectric, TierStandard},
		{"Premium E-Bike", CategoryElectric, TierLuxury},
		{"Elektrofahrrad", CategoryElectric, TierStandard},
		{"Mountain Bike", CategoryMountain, TierStandard},
		{"MTB Carbon", CategoryMountain, TierLuxury},
		{"Rennrad", CategoryRacing, TierStandard},
		{"Racing Bike", CategoryRacing, TierStandard},
		{"Trekking Bike", CategoryTrekking, TierStandard},
		{"Kinderfahrrad", CategoryKids, TierStandard},
		{"Kids Bike", CategoryKids, TierStandard},
		{"BMX", CategoryBMX, TierStandard},
		{"Lastenrad", CategoryCargo, TierStandard},
		{"Vintage Roadster", CategoryRetro, TierStandard},
		{"Basic Commuter", CategoryCity, TierBudget},
		{"Unicycle", CategoryOther, TierStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Classify(tt.name)
			if p.Category != tt.category {
				t.Errorf("category: expected %s, got %s", tt.category, p.Category)
			}
			if p.Tier != tt.tier {
				t.Errorf("tier: expected %s, got %s", tt.tier, p.Tier)
			}
		})
	}
}

func TestClassify_Smart(t *testing.T) {
	if !Classify("Smart City Bike").Smart {
		t.Error("expected smart flag for Smart City Bike")
	}
	if Classify("City Bike").Smart {
		t.Error("did not expect smart flag for City Bike")
	}
}

func TestProfileFamilies(t *testing.T) {
	if !Classify("E-Bike").IsElectric() {
		t.Error("E-Bike should be electric")
	}
	if !Classify("Mountain Bike").IsSport() || !Classify("BMX").IsSport() {
		t.Error("mountain and bmx should be sport")
	}
	if !Classify("Retro Cruiser").IsRetro() {
		t.Error("retro cruiser should be retro")
	}
	if !Classify("Urban Bike").IsUrban() {
		t.Error("urban bike should be urban")
	}
}

func TestValidateLines(t *testing.T) {
	if err := ValidateLines(DefaultLines()); err != nil {
		t.Fatalf("default lines should validate: %v", err)
	}
	if err := ValidateLines(nil); !errors.Is(err, ErrNoProductLines) {
		t.Errorf("expected ErrNoProductLines, got %v", err)
	}
	dup := []model.ProductLine{{ID: "a", Name: "City"}, {ID: "a", Name: "E-Bike"}}
	if err := ValidateLines(dup); !errors.Is(err, ErrDuplicateLine) {
		t.Errorf("expected ErrDuplicateLine, got %v", err)
	}
	empty := []model.ProductLine{{ID: "a", Name: " "}}
	if err := ValidateLines(empty); !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
}
