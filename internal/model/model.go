// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GameStatus is the lifecycle state of a game's current turn.
type GameStatus string

const (
	StatusCollecting GameStatus = "collecting"
	StatusSettling   GameStatus = "settling"
	StatusCompleted  GameStatus = "completed"
)

// MarketStructure selects the clearing rule applied to every product line.
type MarketStructure string

const (
	StructurePerfect      MarketStructure = "perfect_competition"
	StructureMonopolistic MarketStructure = "monopolistic_competition"
	StructureOligopoly    MarketStructure = "oligopoly"
	StructureDuopoly      MarketStructure = "duopoly"
)

// ErrUnsupportedStructure is returned for market structures the clearing
// engine does not implement.
var ErrUnsupportedStructure = errors.New("model: unsupported market structure")

// ParseStructure validates a market structure name. An empty name selects
// monopolistic competition.
func ParseStructure(s string) (MarketStructure, error) {
	switch MarketStructure(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return StructureMonopolistic, nil
	case StructurePerfect, "perfect":
		return StructurePerfect, nil
	case StructureMonopolistic, "monopolistic":
		return StructureMonopolistic, nil
	case StructureOligopoly:
		return StructureOligopoly, nil
	case StructureDuopoly:
		return StructureDuopoly, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedStructure, s)
}

// Difficulty is the game-wide AI difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// ParticipantKind distinguishes human players from AI competitors.
type ParticipantKind string

const (
	KindHuman ParticipantKind = "human"
	KindAI    ParticipantKind = "ai"
)

// StrategyKind is the AI personality of a participant.
type StrategyKind string

const (
	StrategyAggressive   StrategyKind = "aggressive"
	StrategyConservative StrategyKind = "conservative"
	StrategyInnovative   StrategyKind = "innovative"
	StrategyBalanced     StrategyKind = "balanced"
)

// ProductLine is one bicycle type sold in a game.
type ProductLine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Game is the aggregate root of one simulation run. It is mutated only by
// the turn orchestrator.
type Game struct {
	ID                  string          `json:"id" db:"id"`
	Name                string          `json:"name" db:"name"`
	Month               int             `json:"month" db:"month"`
	Year                int             `json:"year" db:"year"`
	StartMonth          int             `json:"start_month" db:"start_month"`
	StartYear           int             `json:"start_year" db:"start_year"`
	MaxMonths           int             `json:"max_months" db:"max_months"` // 0 = unlimited
	StartingCapital     decimal.Decimal `json:"starting_capital" db:"starting_capital"`
	BankruptcyThreshold decimal.Decimal `json:"bankruptcy_threshold" db:"bankruptcy_threshold"`
	Structure           MarketStructure `json:"structure" db:"structure"`
	Difficulty          Difficulty      `json:"difficulty" db:"difficulty"`
	TurnDeadline        time.Duration   `json:"turn_deadline" db:"turn_deadline"` // 0 = no deadline
	Seed                int64           `json:"seed" db:"seed"`
	ProductLines        []ProductLine   `json:"product_lines" db:"-"`
	Status              GameStatus      `json:"status" db:"status"`
	Version             int64           `json:"version" db:"version"`
	TurnOpenedAt        time.Time       `json:"turn_opened_at" db:"turn_opened_at"`
	SettlingSince       time.Time       `json:"settling_since,omitempty" db:"settling_since"`
	WinnerID            string          `json:"winner_id,omitempty" db:"winner_id"`
	EndReason           string          `json:"end_reason,omitempty" db:"end_reason"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// MonthIndex is the number of months elapsed since the game started.
func (g *Game) MonthIndex() int {
	return (g.Year-g.StartYear)*12 + (g.Month - g.StartMonth)
}

// NextMonth returns the month and year following the game clock.
func (g *Game) NextMonth() (int, int) {
	if g.Month >= 12 {
		return 1, g.Year + 1
	}
	return g.Month + 1, g.Year
}

// Participant is one company competing in a game.
type Participant struct {
	ID             string          `json:"id" db:"id"`
	GameID         string          `json:"game_id" db:"game_id"`
	Name           string          `json:"name" db:"name"`
	Kind           ParticipantKind `json:"kind" db:"kind"`
	Strategy       StrategyKind    `json:"strategy,omitempty" db:"strategy"`
	Difficulty     float64         `json:"difficulty" db:"difficulty"`
	Aggressiveness float64         `json:"aggressiveness" db:"aggressiveness"`
	RiskTolerance  float64         `json:"risk_tolerance" db:"risk_tolerance"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	TotalRevenue   decimal.Decimal `json:"total_revenue" db:"total_revenue"`
	TotalProfit    decimal.Decimal `json:"total_profit" db:"total_profit"`
	UnitsProduced  int             `json:"units_produced" db:"units_produced"`
	UnitsSold      int             `json:"units_sold" db:"units_sold"`
	MarketShare    float64         `json:"market_share" db:"market_share"` // percent
	Active         bool            `json:"active" db:"active"`
	Bankrupt       bool            `json:"bankrupt" db:"bankrupt"`
	BankruptMonth  int             `json:"bankrupt_month,omitempty" db:"bankrupt_month"`
	BankruptYear   int             `json:"bankrupt_year,omitempty" db:"bankrupt_year"`
	JoinedAt       time.Time       `json:"joined_at" db:"joined_at"`
}

// IsAI reports whether decisions are generated by a strategy personality.
func (p *Participant) IsAI() bool { return p.Kind == KindAI }

// Phase is the position of the economy in the business cycle.
type Phase string

const (
	PhaseExpansion   Phase = "expansion"
	PhasePeak        Phase = "peak"
	PhaseContraction Phase = "contraction"
	PhaseTrough      Phase = "trough"
)

// Next returns the phase that follows p in the cycle.
func (p Phase) Next() Phase {
	switch p {
	case PhaseExpansion:
		return PhasePeak
	case PhasePeak:
		return PhaseContraction
	case PhaseContraction:
		return PhaseTrough
	default:
		return PhaseExpansion
	}
}

// Booming reports whether the phase is expansion or peak.
func (p Phase) Booming() bool { return p == PhaseExpansion || p == PhasePeak }

// EconomicCondition is the macro state for one (game, month, year).
// Records are append-only.
type EconomicCondition struct {
	GameID             string  `json:"game_id"`
	Month              int     `json:"month"`
	Year               int     `json:"year"`
	GDPGrowth          float64 `json:"gdp_growth"`
	Inflation          float64 `json:"inflation"`
	Unemployment       float64 `json:"unemployment"`
	InterestRate       float64 `json:"interest_rate"`
	ConsumerConfidence float64 `json:"consumer_confidence"`
	DisposableIncome   float64 `json:"disposable_income"`
	Phase              Phase   `json:"phase"`
	PhaseDuration      int     `json:"phase_duration"`
	Intensity          float64 `json:"intensity"`
}

// Strength combines growth, employment and confidence into one score in [0, 2].
func (c EconomicCondition) Strength() float64 {
	gdp := clamp((c.GDPGrowth+5)/10, 0, 2)
	emp := clamp((15-c.Unemployment)/10, 0, 2)
	conf := clamp(c.ConsumerConfidence/100, 0, 2)
	return (gdp + emp + conf) / 3
}

// DemandMultiplier is the economic scaling applied to line demand.
func (c EconomicCondition) DemandMultiplier() float64 {
	return (0.5 + c.Strength()) * (c.ConsumerConfidence / 100) * (c.DisposableIncome / 100)
}

// MarketFactors holds the slow-moving societal trends for one month.
// Records are append-only.
type MarketFactors struct {
	GameID               string  `json:"game_id"`
	Month                int     `json:"month"`
	Year                 int     `json:"year"`
	RetroTrend           float64 `json:"retro_trend"`
	ElectricTrend        float64 `json:"electric_trend"`
	HealthTrend          float64 `json:"health_trend"`
	Environmental        float64 `json:"environmental"`
	GasPriceIndex        float64 `json:"gas_price_index"`
	CarbonTax            float64 `json:"carbon_tax"`
	InfrastructureIndex  float64 `json:"infrastructure_index"`
	Incentives           float64 `json:"incentives"`
	SmartBikeAdoption    float64 `json:"smart_bike_adoption"`
	SharingCompetition   float64 `json:"sharing_competition"`
	WeatherFavorability  float64 `json:"weather_favorability"`
	SeasonalFactor       float64 `json:"seasonal_factor"`
}

// OverallDemandMultiplier averages trend, sustainability, infrastructure,
// weather and season into one demand scale.
func (f MarketFactors) OverallDemandMultiplier() float64 {
	trends := (f.RetroTrend + f.ElectricTrend + f.HealthTrend) / 3
	sustainability := (f.Environmental + f.GasPriceIndex/100) / 2
	infra := f.InfrastructureIndex / 100
	return (trends + sustainability + infra + f.WeatherFavorability + f.SeasonalFactor) / 5
}

// Segment is a customer segment.
type Segment int

const (
	SegmentCommuters Segment = iota
	SegmentRecreational
	SegmentSports
	SegmentFamilies
	SegmentEco
	SegmentLuxury
	SegmentBudget
	NumSegments
)

var segmentNames = [NumSegments]string{
	"commuters", "recreational", "sports", "families", "eco_conscious", "luxury", "budget",
}

func (s Segment) String() string {
	if s < 0 || s >= NumSegments {
		return "unknown"
	}
	return segmentNames[s]
}

// ParseSegment maps a segment name to its index.
func ParseSegment(name string) (Segment, bool) {
	for i, n := range segmentNames {
		if n == name {
			return Segment(i), true
		}
	}
	return 0, false
}

// Income classes, lowest first.
const (
	IncomeLow = iota
	IncomeLowerMiddle
	IncomeMiddle
	IncomeUpperMiddle
	IncomeHigh
	NumIncomeClasses
)

// Age groups, youngest first.
const (
	AgeChildren = iota
	AgeTeenagers
	AgeYoungAdults
	AgeAdults
	AgeMiddleAged
	AgeSeniors
	NumAgeGroups
)

// ProductSegment describes how the population relates to one product line.
type ProductSegment struct {
	ProductLine      string                    `json:"product_line"`
	Preferences      [NumSegments]float64      `json:"preferences"`
	PriceSensitivity [NumIncomeClasses]float64 `json:"price_sensitivity"`
	BaseDemand       int                       `json:"base_demand"`
	Elasticity       float64                   `json:"elasticity"`
}

// Demographics is the population mix for one month. Income, Age and
// Segments are percentages summing to 100.
type Demographics struct {
	GameID         string                    `json:"game_id"`
	Month          int                       `json:"month"`
	Year           int                       `json:"year"`
	Income         [NumIncomeClasses]float64 `json:"income"`
	Age            [NumAgeGroups]float64     `json:"age"`
	Segments       [NumSegments]float64      `json:"segments"`
	TotalCustomers int                       `json:"total_customers"`
	Products       []ProductSegment          `json:"products"`
}

// Product returns the segment for a product line, if present.
func (d *Demographics) Product(line string) (ProductSegment, bool) {
	for _, p := range d.Products {
		if p.ProductLine == line {
			return p, true
		}
	}
	return ProductSegment{}, false
}

// MarketState is the complete environment for one month, passed explicitly
// into every engine.
type MarketState struct {
	Economy      EconomicCondition `json:"economy"`
	Factors      MarketFactors     `json:"factors"`
	Demographics Demographics      `json:"demographics"`
}

// Offer is a participant's sale offer for one product line in one month.
type Offer struct {
	ProductLine string          `json:"product_line"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Quality     float64         `json:"quality"`    // 0..10
	Innovation  float64         `json:"innovation"` // 0..10
	Brand       float64         `json:"brand"`      // 0..10
	Marketing   decimal.Decimal `json:"marketing"`
	Targets     []Segment       `json:"targets,omitempty"`
}

// Decision is a stored offer together with its settled outcome. Immutable
// once settled.
type Decision struct {
	GameID        string          `json:"game_id"`
	ParticipantID string          `json:"participant_id"`
	Month         int             `json:"month"`
	Year          int             `json:"year"`
	Offer
	Sold    int             `json:"sold"`
	Revenue decimal.Decimal `json:"revenue"`
	Settled bool            `json:"settled"`
}

// ProductionPlan sets the volume and emphasis of manufacturing.
type ProductionPlan struct {
	TargetVolume int                `json:"target_volume"`
	Priorities   map[string]float64 `json:"priorities,omitempty"` // product line -> weight
	Focus        string             `json:"focus"`                // volume, reliability, innovation, balanced
	PriceTiers   []string           `json:"price_tiers,omitempty"`
	RiskLevel    float64            `json:"risk_level"`
}

// PricingPlan sets how offer prices relate to cost and the market.
type PricingPlan struct {
	Strategy string  `json:"strategy"` // aggressive, premium, innovation_premium, market_based
	Margin   float64 `json:"margin"`
	Discount float64 `json:"discount"`
	Accuracy float64 `json:"accuracy"`
}

// ProcurementPlan sets sourcing behaviour.
type ProcurementPlan struct {
	Ordering        string  `json:"ordering"`         // bulk, just_in_time, quality_focused, balanced
	InventoryTarget string  `json:"inventory_target"` // high, low, lean, moderate
	CostFocus       string  `json:"cost_focus"`
	Efficiency      float64 `json:"efficiency"`
}

// MarketPlan sets market positioning.
type MarketPlan struct {
	Entry       string  `json:"entry"`  // expansive, selective, pioneering, strategic
	Spread      string  `json:"spread"` // wide, focused, niche, diversified
	ShareTarget string  `json:"share_target"`
	Marketing   float64 `json:"marketing"` // fraction of balance spent on marketing
}

// FinancePlan sets leverage and liquidity posture.
type FinancePlan struct {
	DebtTolerance string          `json:"debt_tolerance"` // high, low, moderate
	CashReserve   string          `json:"cash_reserve"`   // minimal, high, moderate
	Investment    string          `json:"investment"`
	CreditRequest decimal.Decimal `json:"credit_request"`
}

// Plan is the typed set of monthly sub-decisions for one participant.
type Plan struct {
	Production  ProductionPlan  `json:"production"`
	Pricing     PricingPlan     `json:"pricing"`
	Procurement ProcurementPlan `json:"procurement"`
	Market      MarketPlan      `json:"market"`
	Finance     FinancePlan     `json:"finance"`
}

// Submission is one participant's full decision set for a month.
type Submission struct {
	Offers []Offer `json:"offers"`
	Plan   Plan    `json:"plan"`
}

// TurnRecord tracks one participant's submission and settled performance
// for one month. Exactly one record exists per key.
type TurnRecord struct {
	GameID        string          `json:"game_id"`
	ParticipantID string          `json:"participant_id"`
	Month         int             `json:"month"`
	Year          int             `json:"year"`
	Submitted     bool            `json:"submitted"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	AutoSubmitted bool            `json:"auto_submitted"`
	Plan          Plan            `json:"plan"`
	Settled       bool            `json:"settled"`
	Revenue       decimal.Decimal `json:"revenue"`
	Profit        decimal.Decimal `json:"profit"`
	CashFlow      decimal.Decimal `json:"cash_flow"`
	UnitsProduced int             `json:"units_produced"`
	UnitsOffered  int             `json:"units_offered"`
	UnitsSold     int             `json:"units_sold"`
}

// Key identifies the record.
func (r *TurnRecord) Key() string {
	return fmt.Sprintf("%s:%s:%d:%d", r.GameID, r.ParticipantID, r.Year, r.Month)
}

// ClearingResult is the market outcome for one product line and month.
type ClearingResult struct {
	GameID        string          `json:"game_id"`
	Month         int             `json:"month"`
	Year          int             `json:"year"`
	ProductLine   string          `json:"product_line"`
	Structure     MarketStructure `json:"structure"`
	TotalSupplied int             `json:"total_supplied"`
	TotalDemanded int             `json:"total_demanded"`
	TotalSold     int             `json:"total_sold"`
	ClearingPrice decimal.Decimal `json:"clearing_price"`
	Dispersion    float64         `json:"dispersion"`
	HHI           float64         `json:"hhi"`
	Efficiency    float64         `json:"efficiency"`
	Competitors   int             `json:"competitors"`
	ExcessSupply  int             `json:"excess_supply"`
	ExcessDemand  int             `json:"excess_demand"`
}

// EventKind classifies game events.
type EventKind string

const (
	EventTurnProcessed      EventKind = "turn_processed"
	EventAutoSubmitted      EventKind = "auto_submitted"
	EventAIFallback         EventKind = "ai_fallback"
	EventBankruptcy         EventKind = "bankruptcy"
	EventBankruptcyWarning  EventKind = "bankruptcy_warning"
	EventGameEnded          EventKind = "game_ended"
	EventDifficultyAdjusted EventKind = "difficulty_adjusted"
)

// Event is an immutable entry in the game journal.
type Event struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	Month         int       `json:"month"`
	Year          int       `json:"year"`
	Kind          EventKind `json:"kind"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Settlement is the full write set of one settled month. It is committed
// atomically against ExpectedVersion.
type Settlement struct {
	ExpectedVersion int64            `json:"expected_version"`
	Game            Game             `json:"game"`
	Participants    []Participant    `json:"participants"`
	Decisions       []Decision       `json:"decisions"`
	Records         []TurnRecord     `json:"records"`
	Clearing        []ClearingResult `json:"clearing"`
	Next            MarketState      `json:"next"`
	Events          []Event          `json:"events"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
