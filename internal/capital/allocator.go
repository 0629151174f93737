package capital

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// ErrNegativeBudget is returned by Allocate when the budget is below zero.
var ErrNegativeBudget = errors.New("capital: negative budget")

const (
	defaultProbability = 0.5
	defaultRisk        = 0.3
	defaultPerOppPct   = 0.1
)

// Config configures the Allocator. Zero values take the defaults.
type Config struct {
	Thresholds      Thresholds `yaml:"thresholds"`
	KellyLimits     TierLimits `yaml:"kelly_limits"`
	PerOppCapPct    TierLimits `yaml:"per_opp_cap_pct"`
	RunwayDays      int        `yaml:"runway_days"`
	MonthlyBurnRate float64    `yaml:"monthly_burn_rate"`
}

// DefaultConfig returns the stock tier tables.
func DefaultConfig() Config {
	return Config{
		Thresholds:      Thresholds{UltraAggressive: 90, Aggressive: 60, Moderate: 30},
		KellyLimits:     TierLimits{UltraAggressive: 0.5, Aggressive: 0.25, Moderate: 0.15, Conservative: 0.05},
		PerOppCapPct:    TierLimits{UltraAggressive: 0.2, Aggressive: 0.1, Moderate: 0.05, Conservative: 0.02},
		RunwayDays:      60,
		MonthlyBurnRate: 5000,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	if c.KellyLimits == (TierLimits{}) {
		c.KellyLimits = d.KellyLimits
	}
	if c.PerOppCapPct == (TierLimits{}) {
		c.PerOppCapPct = d.PerOppCapPct
	}
	if c.RunwayDays <= 0 {
		c.RunwayDays = d.RunwayDays
	}
	if c.MonthlyBurnRate <= 0 {
		c.MonthlyBurnRate = d.MonthlyBurnRate
	}
}

// Caps bound a single Allocate call. Zero fields take the defaults:
// PerOpp = budget·0.1, Total = budget.
type Caps struct {
	PerOpp float64
	Total  float64
}

// Allocation is the sizing decision for one opportunity.
type Allocation struct {
	OppID          string
	Amount         float64
	MaxAmount      float64
	KellyFraction  float64
	RiskAdjustedEV float64
	RiskLevel      RiskLevel
	Explanation    []domain.Explanation
}

// Result is the outcome of one Allocate call.
type Result struct {
	Allocations     []Allocation
	TotalAllocated  float64
	BudgetRemaining float64
	RiskProfile     RiskLevel
	RunwayDays      int
	KellyLimit      float64
	CreatedAt       time.Time
}

// Allocator sizes capital per opportunity with half-Kelly, gated by the
// risk tier that the current runway implies.
type Allocator struct {
	mu      sync.Mutex
	cfg     Config
	runway  int
	burn    float64
	history []Result
	now     func() time.Time
	log     zerolog.Logger
}

// New creates an Allocator.
func New(cfg Config, log zerolog.Logger) *Allocator {
	cfg.setDefaults()
	return &Allocator{
		cfg:    cfg,
		runway: cfg.RunwayDays,
		burn:   cfg.MonthlyBurnRate,
		now:    time.Now,
		log:    log.With().Str("component", "capital").Logger(),
	}
}

// SetRunway updates the runway. A non-positive monthlyBurn keeps the current one.
func (a *Allocator) SetRunway(days int, monthlyBurn float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runway = days
	if monthlyBurn > 0 {
		a.burn = monthlyBurn
	}
	a.log.Info().Int("runway_days", days).Float64("monthly_burn", a.burn).Msg("runway updated")
}

// RiskLevel returns the tier implied by the current runway.
func (a *Allocator) RiskLevel() RiskLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return LevelForRunway(a.runway, a.cfg.Thresholds)
}

// Profile returns the current runway state.
func (a *Allocator) Profile() RiskProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return RiskProfile{
		RunwayDays:      a.runway,
		MonthlyBurnRate: a.burn,
		Level:           LevelForRunway(a.runway, a.cfg.Thresholds),
	}
}

// Allocate sizes each opportunity in input order. Sizing stops once the
// total cap is reached; opportunities that size to zero are skipped.
// Amounts are rounded down to cents and never exceed the remaining total cap.
// Opportunities with non-finite inputs size to zero.
func (a *Allocator) Allocate(opps []domain.Opportunity, budget float64, caps Caps) (Result, error) {
	if budget < 0 {
		return Result{}, ErrNegativeBudget
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	level := LevelForRunway(a.runway, a.cfg.Thresholds)
	limit := a.cfg.KellyLimits.For(level)

	perOppCap := caps.PerOpp
	if perOppCap <= 0 {
		perOppCap = budget * defaultPerOppPct
	}
	totalCap := caps.Total
	if totalCap <= 0 {
		totalCap = budget
	}
	perOppLimit := math.Min(perOppCap, budget*a.cfg.PerOppCapPct.For(level))

	res := Result{
		RiskProfile: level,
		RunwayDays:  a.runway,
		KellyLimit:  limit,
		CreatedAt:   a.now(),
	}
	var total float64
	for _, opp := range opps {
		if total >= totalCap {
			break
		}
		ev := opp.ExpectedValue()
		prob := opp.Probability
		if prob == 0 {
			prob = defaultProbability
		}
		risk := opp.Risk
		if risk == 0 {
			risk = defaultRisk
		}

		k := Kelly(ev, prob, risk, limit)
		remaining := totalCap - total
		amount := math.Min(floorCents(math.Min(budget*k, math.Min(perOppLimit, remaining))), remaining)
		if !(amount > 0) {
			continue
		}

		res.Allocations = append(res.Allocations, Allocation{
			OppID:          opp.ID,
			Amount:         amount,
			MaxAmount:      perOppLimit,
			KellyFraction:  k,
			RiskAdjustedEV: ev * prob * (1 - risk),
			RiskLevel:      level,
			Explanation: []domain.Explanation{
				{Factor: "ev", Multiplier: ev},
				{Factor: "probability", Multiplier: prob},
				{Factor: "risk", Multiplier: risk},
				{Factor: "kelly_fraction", Multiplier: k},
				{Factor: "kelly_limit", Multiplier: limit},
			},
		})
		total += amount
	}

	res.TotalAllocated = domain.Round2(total)
	res.BudgetRemaining = domain.Round2(budget - total)
	a.history = append(a.history, res)

	a.log.Info().
		Float64("allocated", res.TotalAllocated).
		Float64("budget", budget).
		Int("allocations", len(res.Allocations)).
		Str("risk_level", string(level)).
		Msg("capital allocated")
	return res, nil
}

// Recommendation is the spend guidance for the current runway.
type Recommendation struct {
	Action         string
	Focus          string
	MaxSpendPct    float64
	MaxSpendAmount float64
	RunwayDays     int
	RiskLevel      RiskLevel
}

// RunwayRecommendation returns the spend envelope for budget at the current tier.
func (a *Allocator) RunwayRecommendation(budget float64) Recommendation {
	a.mu.Lock()
	defer a.mu.Unlock()

	level := LevelForRunway(a.runway, a.cfg.Thresholds)
	rec := Recommendation{RunwayDays: a.runway, RiskLevel: level}
	switch level {
	case UltraAggressive:
		rec.Action, rec.Focus, rec.MaxSpendPct = "maximum_growth", "all_positive_ev_opps", 70
	case Aggressive:
		rec.Action, rec.Focus, rec.MaxSpendPct = "growth_focused", "high_ev_opps", 50
	case Moderate:
		rec.Action, rec.Focus, rec.MaxSpendPct = "balanced_growth", "diversified_portfolio", 30
	default:
		rec.Action, rec.Focus, rec.MaxSpendPct = "preserve_capital", "high_probability_opps_only", 10
	}
	rec.MaxSpendAmount = budget * rec.MaxSpendPct / 100
	return rec
}

// Stats summarizes the allocator.
type Stats struct {
	RunwayDays             int
	MonthlyBurnRate        float64
	RiskLevel              RiskLevel
	AllocationCount        int
	TotalAllocatedLifetime float64
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Stats{
		RunwayDays:      a.runway,
		MonthlyBurnRate: a.burn,
		RiskLevel:       LevelForRunway(a.runway, a.cfg.Thresholds),
		AllocationCount: len(a.history),
	}
	for _, r := range a.history {
		st.TotalAllocatedLifetime += r.TotalAllocated
	}
	return st
}

// History returns a copy of every Result produced so far.
func (a *Allocator) History() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Result, len(a.history))
	copy(out, a.history)
	return out
}

func floorCents(x float64) float64 {
	return math.Floor(x*100+1e-6) / 100
}
