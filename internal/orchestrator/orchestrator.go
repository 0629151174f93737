// Package orchestrator sequences the decision components for each opportunity
// and fans realized outcomes back out to every learner.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/ports"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

const (
	defaultBase     = 100.0
	defaultBudget   = 1000.0
	defaultSegment  = "smb"
	defaultPlatform = "upwork"
	defaultSKU      = "default"
	defaultEngine   = "default"
	unknownEngine   = "unknown"

	blockAction   = domain.ActionBlock + ": High adversarial risk"
	escrowWarning = "Elevated risk - escrow recommended"
)

// Components holds the optional collaborators. A nil field means the
// component is unavailable and its tier is skipped.
//
// Assign only non-nil implementations: a typed nil pointer stored in an
// interface field is not nil and will be called.
type Components struct {
	Pricer      ports.Pricer
	Conversions ports.ConversionLearner
	Bandit      ports.ArmSelector
	Allocator   ports.Allocator
	Risk        ports.RiskScorer
	Experiments ports.ExperimentRunner
	KPI         ports.KPISink
	Attribution ports.AttributionLearner
	Uplift      ports.UpliftLearner
	Attention   ports.AttentionRouter
}

// Config tunes the sequencing.
type Config struct {
	Arms      []string `yaml:"arms"`       // candidate bandit arms; default base/premium/enterprise
	MaxReward float64  `yaml:"max_reward"` // bandit reward normalization; default 1
	Workers   int      `yaml:"workers"`    // EvaluateBatch pool size; 0 = NumCPU*2
}

func (c *Config) setDefaults() {
	if len(c.Arms) == 0 {
		c.Arms = []string{"base", "premium", "enterprise"}
	}
	if c.MaxReward <= 0 {
		c.MaxReward = 1
	}
}

// Orchestrator is stateless apart from its references: every component owns
// and guards its own state.
type Orchestrator struct {
	cfg Config
	c   Components
	log zerolog.Logger
}

// New wires an Orchestrator.
func New(cfg Config, c Components, log zerolog.Logger) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg: cfg,
		c:   c,
		log: log.With().Str("component", "orchestrator").Logger(),
	}
}

// Evaluate runs the five tiers in order (pricing, arm selection, capital,
// risk, experiment assignment) and synthesizes a Recommendation. Tiers whose
// component is nil are skipped. A risk block short-circuits with
// Proceed=false. Cancellation between tiers returns ctx.Err() and leaves
// already applied side effects in place.
func (o *Orchestrator) Evaluate(ctx context.Context, opp domain.Opportunity) (domain.Recommendation, error) {
	rec := domain.Recommendation{OppID: opp.ID, Proceed: true}
	if rec.OppID == "" {
		rec.OppID = "unknown"
	}
	log := o.log.With().Str("opp_id", rec.OppID).Logger()

	// The risk collaborator is consulted at most once; pricing and tier 4
	// share the same assessment.
	var (
		risk     *domain.RiskAssessment
		assessed bool
	)
	assess := func() *domain.RiskAssessment {
		if assessed {
			return risk
		}
		assessed = true
		if o.c.Risk == nil {
			return nil
		}
		ra, err := o.c.Risk.Assess(ctx, opp)
		if err != nil {
			log.Warn().Err(err).Msg("risk assessment failed")
			rec.Warnings = append(rec.Warnings, "risk assessment unavailable")
			return nil
		}
		risk = &ra
		return risk
	}

	// Tier 1: pricing.
	if o.c.Pricer != nil {
		base := opp.Value
		if base <= 0 {
			base = defaultBase
		}
		q := o.c.Pricer.Quote(opp, base, assess())
		rec.TargetPrice = q.TargetPrice
		rec.PriceRange = [2]float64{q.MinPrice, q.MaxPrice}
		rec.Explanation = append(rec.Explanation, q.Adjustments...)
	} else {
		log.Debug().Msg("pricing unavailable, tier skipped")
	}
	if err := ctx.Err(); err != nil {
		return rec, err
	}

	// Tier 2: arm selection.
	if o.c.Bandit != nil {
		arm, sample, err := o.c.Bandit.SelectArm(banditContext(opp.Segment, opp.Platform, opp.SKU), o.cfg.Arms)
		if err != nil {
			log.Warn().Err(err).Msg("arm selection failed")
		} else {
			rec.Arm = arm
			rec.ArmSample = sample
		}
	} else {
		log.Debug().Msg("bandit unavailable, tier skipped")
	}
	if err := ctx.Err(); err != nil {
		return rec, err
	}

	// Tier 3: capital for this single opportunity against its own budget.
	if o.c.Allocator != nil {
		budget := opp.Budget
		if budget <= 0 {
			budget = defaultBudget
		}
		res, err := o.c.Allocator.Allocate([]domain.Opportunity{opp}, budget, capital.Caps{})
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("allocation failed")
		case len(res.Allocations) > 0:
			a := res.Allocations[0]
			rec.AllocatedAmount = a.Amount
			rec.KellyFraction = a.KellyFraction
			rec.Actions = append(rec.Actions, domain.ActionAllocate)
		}
	} else {
		log.Debug().Msg("allocator unavailable, tier skipped")
	}
	if err := ctx.Err(); err != nil {
		return rec, err
	}

	// Tier 4: adversarial risk.
	if ra := assess(); ra != nil {
		rec.RiskScore = ra.Score
		if ra.Block {
			log.Info().Float64("risk", ra.Score).Strs("flags", ra.Flags).Msg("opportunity blocked")
			return domain.Recommendation{
				OppID:     rec.OppID,
				Proceed:   false,
				Block:     true,
				RiskScore: ra.Score,
				Actions:   []string{blockAction},
				Warnings:  rec.Warnings,
			}, nil
		}
		if ra.RequireEscrow {
			rec.RequireEscrow = true
			rec.Actions = append(rec.Actions, domain.ActionRequireEscrow)
			rec.Warnings = append(rec.Warnings, escrowWarning)
		}
	} else if o.c.Risk == nil {
		log.Debug().Msg("risk scorer unavailable, tier skipped")
	}
	if err := ctx.Err(); err != nil {
		return rec, err
	}

	// Tier 5: experiment assignment.
	if o.c.Experiments != nil {
		engines := opp.Engines
		if len(engines) == 0 {
			engines = []string{defaultEngine}
		}
		if engine, ok := o.c.Experiments.Assign(rec.OppID, engines); ok {
			rec.ExperimentEngine = engine
			rec.Actions = append(rec.Actions, domain.ActionExperiment)
		}
	} else {
		log.Debug().Msg("experiments unavailable, tier skipped")
	}

	// The executing engine gets a memoized uplift treatment/holdout draw.
	rec.Engine = rec.ExperimentEngine
	if rec.Engine == "" && len(opp.Engines) > 0 {
		rec.Engine = opp.Engines[0]
	}
	if rec.Engine == "" {
		rec.Engine = defaultEngine
	}
	rec.Treatment = true
	if o.c.Uplift != nil {
		rec.Treatment = o.c.Uplift.AssignTreatment(rec.OppID, rec.Engine)
	}

	log.Debug().
		Float64("target_price", rec.TargetPrice).
		Float64("allocated", rec.AllocatedAmount).
		Str("arm", rec.Arm).
		Str("engine", rec.Engine).
		Bool("treatment", rec.Treatment).
		Bool("escrow", rec.RequireEscrow).
		Msg("opportunity evaluated")
	return rec, nil
}

// RecordOutcome fans an outcome out to KPI, bandit, experiments,
// attribution and uplift, then to the attention router and pricing
// conversions. Learners are updated in that fixed order; a failing learner
// never prevents the next ones from running. All failures are joined.
func (o *Orchestrator) RecordOutcome(ctx context.Context, out domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	engine := out.Engine
	if engine == "" {
		engine = unknownEngine
	}
	var errs []error
	step := func(name string, fn func() error) {
		if err := o.safely(name, fn); err != nil {
			errs = append(errs, err)
		}
	}

	if o.c.KPI != nil {
		step("kpi", func() error {
			ev := kpi.EventFromOutcome(out)
			ev.Engine = engine
			o.c.KPI.Emit(ev)
			return nil
		})
	}

	if o.c.Bandit != nil {
		step("bandit", func() error {
			arm := out.Arm
			if arm == "" {
				arm = out.Engine
			}
			if arm == "" {
				arm = defaultEngine
			}
			return o.c.Bandit.Update(banditContext(out.Segment, out.Platform, out.SKU), arm, out.Revenue, o.cfg.MaxReward)
		})
	}

	if o.c.Experiments != nil {
		step("experiments", func() error {
			o.c.Experiments.RecordOutcome(engine, out.Success, out.Revenue)
			return nil
		})
	}

	if o.c.Attribution != nil {
		step("attribution", func() error {
			engines := out.EnginesUsed
			if len(engines) == 0 {
				engines = []string{engine}
			}
			o.c.Attribution.Record(engines, out.Revenue, out.Baseline)
			return nil
		})
	}

	if o.c.Uplift != nil {
		step("uplift", func() error {
			return o.c.Uplift.Record(out)
		})
	}

	if o.c.Attention != nil && out.Platform != "" {
		step("attention", func() error {
			o.c.Attention.RecordOutcome(out.Platform, out.Success, out.Revenue)
			return nil
		})
	}

	if o.c.Conversions != nil && out.Segment != "" && out.PriceTier != "" {
		step("pricing", func() error {
			o.c.Conversions.RecordConversion(out.Segment, out.PriceTier, out.Success, out.Refunded)
			return nil
		})
	}

	o.log.Info().Str("opp_id", out.OppID).Str("engine", engine).Int("errors", len(errs)).Msg("outcome recorded")
	return errors.Join(errs...)
}

// safely runs one learner update, converting a panic into an error so the
// fan-out continues.
func (o *Orchestrator) safely(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("learner", name).Interface("panic", r).Msg("learner panicked")
			err = fmt.Errorf("orchestrator.RecordOutcome: %s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("orchestrator.RecordOutcome: %s: %w", name, err)
	}
	return nil
}

// BudgetWeights returns the attention split across platforms, or an empty
// map when no router is wired.
func (o *Orchestrator) BudgetWeights(kpis map[string]attention.PlatformKPI) map[string]float64 {
	if o.c.Attention == nil {
		return map[string]float64{}
	}
	return o.c.Attention.Weights(kpis)
}

// Attribution computes Shapley values over the buffered outcomes plus the
// given ones.
func (o *Orchestrator) Attribution(ctx context.Context, outcomes []domain.Outcome, normalize bool) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.c.Attribution == nil {
		return map[string]float64{}, nil
	}
	return o.c.Attribution.Value(outcomes, normalize), nil
}

// Uplift estimates per-engine causal uplift over the buffered outcomes plus
// the given ones.
func (o *Orchestrator) Uplift(ctx context.Context, outcomes []domain.Outcome) (map[string]uplift.Estimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.c.Uplift == nil {
		return map[string]uplift.Estimate{}, nil
	}
	return o.c.Uplift.Estimate(outcomes), nil
}

// KPIs returns the current KPI rollup, if a KPI sink is wired.
func (o *Orchestrator) KPIs() (kpi.Report, bool) {
	if o.c.KPI == nil {
		return kpi.Report{}, false
	}
	return o.c.KPI.KPIs(), true
}

// Stats reports which components are wired.
type Stats struct {
	ModulesLoaded int
	ModulesTotal  int
	ModuleStatus  map[string]bool
}

func (o *Orchestrator) Stats() Stats {
	status := map[string]bool{
		"pricing":     o.c.Pricer != nil,
		"conversions": o.c.Conversions != nil,
		"bandit":      o.c.Bandit != nil,
		"allocator":   o.c.Allocator != nil,
		"risk":        o.c.Risk != nil,
		"experiments": o.c.Experiments != nil,
		"kpi":         o.c.KPI != nil,
		"attribution": o.c.Attribution != nil,
		"uplift":      o.c.Uplift != nil,
		"attention":   o.c.Attention != nil,
	}
	st := Stats{ModulesTotal: len(status), ModuleStatus: status}
	for _, ok := range status {
		if ok {
			st.ModulesLoaded++
		}
	}
	return st
}

func banditContext(segment, platform, sku string) domain.Context {
	if segment == "" {
		segment = defaultSegment
	}
	if platform == "" {
		platform = defaultPlatform
	}
	if sku == "" {
		sku = defaultSKU
	}
	return domain.NewContext(segment, platform, sku)
}
