package demographics

import (
	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/model"
)

// Preference of each buyer segment for a category, in segment order:
// commuters, recreational, sports, families, eco, luxury, budget.
var preferences = map[catalog.Category][model.NumSegments]float64{
	catalog.CategoryCity:     {0.9, 0.7, 0.2, 0.7, 0.8, 0.4, 0.8},
	catalog.CategoryElectric: {0.8, 0.5, 0.3, 0.5, 0.9, 0.8, 0.2},
	catalog.CategoryTrekking: {0.6, 0.9, 0.4, 0.6, 0.7, 0.5, 0.7},
	catalog.CategoryMountain: {0.3, 0.6, 0.9, 0.4, 0.4, 0.7, 0.6},
	catalog.CategoryRacing:   {0.4, 0.4, 0.9, 0.2, 0.3, 0.8, 0.4},
	catalog.CategoryBMX:      {0.1, 0.3, 0.6, 0.3, 0.2, 0.3, 0.6},
	catalog.CategoryKids:     {0.1, 0.2, 0.1, 0.9, 0.2, 0.2, 0.8},
}

// Price sensitivity by income class, low income first.
var incomeSensitivity = [model.NumIncomeClasses]float64{0.9, 0.7, 0.5, 0.3, 0.1}

var categoryShare = map[catalog.Category]float64{
	catalog.CategoryCity:     0.25,
	catalog.CategoryElectric: 0.15,
	catalog.CategoryMountain: 0.15,
	catalog.CategoryTrekking: 0.20,
	catalog.CategoryRacing:   0.08,
	catalog.CategoryKids:     0.10,
	catalog.CategoryBMX:      0.05,
}

// Preferences returns the segment preference weights for a profile.
// Categories without a table default to 0.5 everywhere.
func Preferences(p catalog.Profile) [model.NumSegments]float64 {
	if prefs, ok := preferences[p.Category]; ok {
		return prefs
	}
	var flat [model.NumSegments]float64
	for i := range flat {
		flat[i] = 0.5
	}
	return flat
}

// MarketShare is the structural share of bike purchases going to a profile.
func MarketShare(p catalog.Profile) float64 {
	if s, ok := categoryShare[p.Category]; ok {
		return s
	}
	return 0.02
}

// Elasticity is the price elasticity of a profile. More negative means more
// price sensitive.
func Elasticity(p catalog.Profile) float64 {
	switch {
	case p.Tier == catalog.TierLuxury:
		return -0.8
	case p.Tier == catalog.TierBudget:
		return -2.5
	case p.IsElectric():
		return -1.2
	case p.Category == catalog.CategoryKids:
		return -2.0
	}
	return -1.5
}

// FactorMultiplier is the factor-driven scaling of a line's base demand,
// clamped to [0.1, 3].
func FactorMultiplier(p catalog.Profile, f model.MarketFactors) float64 {
	m := 1.0
	switch p.Category {
	case catalog.CategoryElectric:
		m *= f.ElectricTrend * f.Environmental
	case catalog.CategoryCity:
		m *= f.InfrastructureIndex / 100
	case catalog.CategoryMountain, catalog.CategoryRacing:
		m *= f.HealthTrend
	}
	m *= f.SeasonalFactor * f.WeatherFavorability
	return clamp(m, 0.1, 3.0)
}

// BaseDemand is the structural monthly unit demand of a line.
func BaseDemand(p catalog.Profile, totalCustomers int, f model.MarketFactors) int {
	base := int(float64(totalCustomers) * MonthlyPurchaseRate * MarketShare(p))
	adjusted := int(float64(base) * FactorMultiplier(p, f))
	if adjusted < 10 {
		return 10
	}
	if adjusted > 100_000 {
		return 100_000
	}
	return adjusted
}

// Segments builds the product segment of every line for a population.
func Segments(d model.Demographics, lines []model.ProductLine, f model.MarketFactors) []model.ProductSegment {
	out := make([]model.ProductSegment, 0, len(lines))
	for _, l := range lines {
		p := catalog.Classify(l.Name)
		out = append(out, model.ProductSegment{
			ProductLine:      l.ID,
			Preferences:      Preferences(p),
			PriceSensitivity: incomeSensitivity,
			BaseDemand:       BaseDemand(p, d.TotalCustomers, f),
			Elasticity:       Elasticity(p),
		})
	}
	return out
}

// Insights lists plain-language observations about a population.
func Insights(d model.Demographics) []string {
	insights := []string{}
	switch {
	case d.Income[model.IncomeHigh] > 6:
		insights = append(insights, "High-income segment is growing: good opportunity for premium bikes")
	case d.Income[model.IncomeLow] > 25:
		insights = append(insights, "Budget-conscious buyers dominate: focus on affordable options")
	}
	if d.Age[model.AgeSeniors] > 8 {
		insights = append(insights, "Senior population is growing: e-bikes and comfortable designs are in demand")
	}
	if d.Age[model.AgeYoungAdults] > 27 {
		insights = append(insights, "Young adult market is strong: sports and urban bikes are popular")
	}
	if d.Segments[model.SegmentCommuters] > 22 {
		insights = append(insights, "Commuter segment is expanding: focus on urban and e-bikes")
	}
	if d.Segments[model.SegmentEco] > 12 {
		insights = append(insights, "Environmental consciousness is rising: e-bikes and sustainable features are valued")
	}
	if d.Segments[model.SegmentSports] > 17 {
		insights = append(insights, "Sports segment is active: performance and racing bikes are in demand")
	}
	return insights
}
