package pricing

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// Guardrail names, in the order they are applied.
const (
	GuardrailRefundCeiling   = "refund_rate_ceiling"
	GuardrailMinMargin       = "min_margin"
	GuardrailPlatformCeiling = "platform_ceiling"
)

const (
	defaultRiskScore = 0.3
	riskPremium      = 0.3
	maxPriceFactor   = 1.2
	refundHaircut    = 0.9
)

// Config configures the pricing engine.
type Config struct {
	MaxRefundRate     float64          `yaml:"max_refund_rate"`     // default 0.015
	MinMargin         float64          `yaml:"min_margin"`          // default 0.2
	CostRatio         float64          `yaml:"cost_ratio"`          // estimated cost as a share of base; default 0.6
	InitialRefundRate float64          `yaml:"initial_refund_rate"` // default 0.01
	Now               func() time.Time `yaml:"-"`
}

func (c *Config) setDefaults() {
	if c.MaxRefundRate <= 0 {
		c.MaxRefundRate = 0.015
	}
	if c.MinMargin <= 0 {
		c.MinMargin = 0.2
	}
	if c.CostRatio <= 0 {
		c.CostRatio = 0.6
	}
	if c.InitialRefundRate <= 0 {
		c.InitialRefundRate = 0.01
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Quote is a price recommendation. MinPrice ≤ TargetPrice ≤ MaxPrice.
type Quote struct {
	TargetPrice       float64
	MinPrice          float64
	MaxPrice          float64
	Segment           string
	Strategy          Strategy
	Elasticity        float64
	Confidence        float64
	Adjustments       []domain.Explanation
	GuardrailsApplied []string
}

type tierStats struct {
	rate   float64
	trials int
}

// Engine is a multiplicative price model with ordered guardrails that
// learns conversion per (segment, tier) and tracks a rolling refund rate.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	arms       map[string]map[string]*tierStats
	refundRate float64
	log        zerolog.Logger
}

// New creates a pricing Engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:        cfg,
		arms:       make(map[string]map[string]*tierStats, len(segments)),
		refundRate: cfg.InitialRefundRate,
		log:        log.With().Str("component", "pricing").Logger(),
	}
	for seg := range segments {
		m := make(map[string]*tierStats, len(tiers))
		for _, t := range tiers {
			m[t] = &tierStats{trials: 1}
		}
		e.arms[seg] = m
	}
	return e
}

// Quote prices opp from base. risk may be nil, in which case a 0.3 risk score
// is assumed.
func (e *Engine) Quote(opp domain.Opportunity, base float64, risk *domain.RiskAssessment) Quote {
	segment := e.detectSegment(opp)
	platform := strings.ToLower(strings.TrimSpace(opp.Platform))
	urg := strings.ToLower(strings.TrimSpace(opp.Urgency))
	if urg == "" {
		urg = "normal"
	}

	seg := segments[segment]
	plat, ok := platforms[platform]
	if !ok {
		plat = unknownPlatform
	}
	urgMult, ok := urgency[urg]
	if !ok {
		urgMult = 1.0
	}
	riskScore := defaultRiskScore
	if risk != nil {
		riskScore = risk.Score
	}

	adjustments := []domain.Explanation{
		{Factor: "segment", Multiplier: seg.multiplier},
		{Factor: "urgency", Multiplier: urgMult},
		{Factor: "platform", Multiplier: plat.mid()},
		{Factor: "complexity", Multiplier: complexityMultiplier(opp.Description)},
		{Factor: "demand", Multiplier: e.demandMultiplier()},
		{Factor: "risk", Multiplier: 1 + riskScore*riskPremium},
	}
	target := base
	for _, adj := range adjustments {
		target *= adj.Multiplier
	}

	e.mu.Lock()
	refundRate := e.refundRate
	confidence := e.confidenceLocked(segment)
	e.mu.Unlock()

	// Guardrail order matters: the platform ceiling is the final word.
	var applied []string
	if refundRate > e.cfg.MaxRefundRate {
		target *= refundHaircut
		applied = append(applied, GuardrailRefundCeiling)
	}
	cost := base * e.cfg.CostRatio
	if floor := cost * (1 + e.cfg.MinMargin); target < floor {
		target = floor
		applied = append(applied, GuardrailMinMargin)
	}
	if ceiling := base * plat.ceiling; target > ceiling {
		target = ceiling
		applied = append(applied, GuardrailPlatformCeiling)
	}

	minPrice := math.Max(target*seg.floorPct, cost*(1+e.cfg.MinMargin*0.5))
	maxPrice := target * maxPriceFactor

	q := Quote{
		TargetPrice:       domain.Round2(target),
		MinPrice:          domain.Round2(minPrice),
		MaxPrice:          domain.Round2(maxPrice),
		Segment:           segment,
		Strategy:          selectStrategy(segment, platform, seg.elasticity),
		Elasticity:        seg.elasticity,
		Confidence:        confidence,
		Adjustments:       adjustments,
		GuardrailsApplied: applied,
	}
	e.log.Debug().
		Str("opp_id", opp.ID).
		Float64("target", q.TargetPrice).
		Float64("min", q.MinPrice).
		Float64("max", q.MaxPrice).
		Strs("guardrails", applied).
		Msg("price quoted")
	return q
}

func (e *Engine) detectSegment(opp domain.Opportunity) string {
	seg := strings.ToLower(strings.TrimSpace(opp.Segment))
	if _, ok := segments[seg]; ok {
		return seg
	}
	return InferSegment(opp.ExpectedValue())
}

// demandMultiplier: weekday business hours (UTC 9-17) 1.1, weekend 0.95.
func (e *Engine) demandMultiplier() float64 {
	now := e.cfg.Now().UTC()
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return 0.95
	}
	if h := now.Hour(); h >= 9 && h <= 17 {
		return 1.1
	}
	return 1.0
}

// RecordConversion folds a conversion into the running average of
// (segment, tier) and moves the refund rate EMA. Unknown segments are ignored.
func (e *Engine) RecordConversion(segment, tier string, converted, refunded bool) {
	segment = strings.ToLower(segment)

	e.mu.Lock()
	defer e.mu.Unlock()

	arm, ok := e.arms[segment]
	if !ok {
		return
	}
	ts, ok := arm[tier]
	if !ok {
		ts = &tierStats{trials: 1}
		arm[tier] = ts
	}
	var hit float64
	if converted {
		hit = 1
	}
	ts.rate = (ts.rate*float64(ts.trials) + hit) / float64(ts.trials+1)
	ts.trials++

	if refunded {
		e.refundRate = e.refundRate*0.95 + 0.05
	} else {
		e.refundRate *= 0.99
	}
}

// Confidence is min(0.95, 0.5 + trials/100) over the segment's tiers.
func (e *Engine) Confidence(segment string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confidenceLocked(strings.ToLower(segment))
}

func (e *Engine) confidenceLocked(segment string) float64 {
	var trials int
	for _, ts := range e.arms[segment] {
		trials += ts.trials
	}
	return math.Min(0.95, 0.5+float64(trials)/100)
}

// RefundRate returns the current refund rate EMA.
func (e *Engine) RefundRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refundRate
}

// TierStats is the learned conversion of one price tier.
type TierStats struct {
	ConversionRate float64
	Trials         int
}

// Stats summarizes the engine.
type Stats struct {
	Tiers         map[string]map[string]TierStats
	RefundRate    float64
	MaxRefundRate float64
	MinMargin     float64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		Tiers:         make(map[string]map[string]TierStats, len(e.arms)),
		RefundRate:    e.refundRate,
		MaxRefundRate: e.cfg.MaxRefundRate,
		MinMargin:     e.cfg.MinMargin,
	}
	for seg, arm := range e.arms {
		m := make(map[string]TierStats, len(arm))
		for tier, ts := range arm {
			m[tier] = TierStats{ConversionRate: ts.rate, Trials: ts.trials}
		}
		st.Tiers[seg] = m
	}
	return st
}
