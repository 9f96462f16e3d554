// Package catalog classifies bicycle product lines by name into the
// categories and price tiers the demand and strategy engines key on.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bikesim/market-engine/internal/model"
)

// Category is the functional family of a product line.
type Category string

const (
	CategoryCity     Category = "city"
	CategoryElectric Category = "electric"
	CategoryMountain Category = "mountain"
	CategoryTrekking Category = "trekking"
	CategoryRacing   Category = "racing"
	CategoryKids     Category = "kids"
	CategoryBMX      Category = "bmx"
	CategoryCargo    Category = "cargo"
	CategoryRetro    Category = "retro"
	CategoryOther    Category = "other"
)

// Tier is the price positioning implied by a product name.
type Tier string

const (
	TierStandard Tier = "standard"
	TierLuxury   Tier = "luxury"
	TierBudget   Tier = "budget"
)

var (
	ErrEmptyName      = errors.New("catalog: empty product line name")
	ErrDuplicateLine  = errors.New("catalog: duplicate product line")
	ErrNoProductLines = errors.New("catalog: at least one product line is required")
)

// Matched in order; the first hit wins. Names may be English or German.
var categoryPatterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{CategoryElectric, regexp.MustCompile(`(?i)(^|[^a-z])e[- ]?bike|electric|elektro|pedelec`)},
	{CategoryKids, regexp.MustCompile(`(?i)kinder|kids?\b|child|jugend`)},
	{CategoryBMX, regexp.MustCompile(`(?i)\bbmx\b`)},
	{CategoryMountain, regexp.MustCompile(`(?i)mountain|\bmtb\b`)},
	{CategoryRacing, regexp.MustCompile(`(?i)rennrad|racing|\brace\b|\broad\b|sport`)},
	{CategoryTrekking, regexp.MustCompile(`(?i)trekking|touring|\btour\b`)},
	{CategoryCargo, regexp.MustCompile(`(?i)cargo|lasten|family|familie`)},
	{CategoryRetro, regexp.MustCompile(`(?i)retro|vintage|classic`)},
	{CategoryCity, regexp.MustCompile(`(?i)city|urban|commuter|stadt`)},
}

var (
	luxuryPattern = regexp.MustCompile(`(?i)luxury|premium|carbon|\bpro\b`)
	budgetPattern = regexp.MustCompile(`(?i)budget|basic|cheap|economy|einsteiger`)
	smartPattern  = regexp.MustCompile(`(?i)smart|digital|connected|carbon`)
)

// Profile is the classification of one product line.
type Profile struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Tier     Tier     `json:"tier"`
	Smart    bool     `json:"smart"`
}

// Classify derives a profile from a product line name. Unknown names
// classify as CategoryOther.
func Classify(name string) Profile {
	p := Profile{Name: name, Category: CategoryOther, Tier: TierStandard}
	for _, cp := range categoryPatterns {
		if cp.re.MatchString(name) {
			p.Category = cp.category
			break
		}
	}
	switch {
	case luxuryPattern.MatchString(name):
		p.Tier = TierLuxury
	case budgetPattern.MatchString(name):
		p.Tier = TierBudget
	}
	p.Smart = smartPattern.MatchString(name)
	return p
}

// IsElectric reports whether the line is an e-bike.
func (p Profile) IsElectric() bool { return p.Category == CategoryElectric }

// IsRetro reports whether the line rides the retro trend.
func (p Profile) IsRetro() bool { return p.Category == CategoryRetro }

// IsSport reports whether the line belongs to the sport family.
func (p Profile) IsSport() bool {
	return p.Category == CategoryMountain || p.Category == CategoryRacing || p.Category == CategoryBMX
}

// IsUrban reports whether the line is an everyday city bike.
func (p Profile) IsUrban() bool { return p.Category == CategoryCity }

// ValidateLines checks a game's product line set: at least one line,
// non-empty names and unique IDs.
func ValidateLines(lines []model.ProductLine) error {
	if len(lines) == 0 {
		return ErrNoProductLines
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l.Name) == "" || strings.TrimSpace(l.ID) == "" {
			return fmt.Errorf("%w: id=%q name=%q", ErrEmptyName, l.ID, l.Name)
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateLine, l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

// DefaultLines is the product range used when a game is created without one.
func DefaultLines() []model.ProductLine {
	return []model.ProductLine{
		{ID: "city", Name: "City Bike"},
		{ID: "ebike", Name: "E-Bike"},
		{ID: "mountain", Name: "Mountain Bike"},
		{ID: "trekking", Name: "Trekking Bike"},
		{ID: "racing", Name: "Racing Bike"},
		{ID: "kids", Name: "Kids Bike"},
	}
}
