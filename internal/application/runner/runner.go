// Package runner conduce el ciclo de decisión: fetch → evaluate → allocate →
// notify → resolve outcomes → learn.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/orchestrator"
	"github.com/alejandrodnm/revcore/internal/ports"
)

// Config contiene la configuración del runner.
type Config struct {
	Interval time.Duration `yaml:"interval"` // tiempo entre ciclos; default 30s
	Cycles   int           `yaml:"cycles"`   // 0 = hasta cancelar el contexto
	Budget   float64       `yaml:"budget"`   // presupuesto por ciclo para el plan de capital; default 1000
	Workers  int           `yaml:"workers"`  // pool de EvaluateBatch; 0 = default del orquestador
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Budget <= 0 {
		c.Budget = 1000
	}
}

// Deps agrupa los colaboradores del runner. Source, Outcomes y Orchestrator
// son obligatorios; el resto es opcional (nil = no disponible).
type Deps struct {
	Source       ports.OpportunitySource
	Outcomes     ports.OutcomeSource
	Orchestrator *orchestrator.Orchestrator
	Allocator    ports.Allocator
	Store        ports.SnapshotStore
	Notifier     ports.Notifier
	Metrics      ports.MetricsSink
}

// CycleResult resume un ciclo completo.
type CycleResult struct {
	Opportunities   []domain.Opportunity
	Recommendations []domain.Recommendation
	Plan            *capital.Result
	Outcomes        []domain.Outcome
	KPIs            kpi.Report
	Failed          int // oportunidades cuya evaluación falló
}

// Runner es el loop principal de decisión.
type Runner struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
}

// New crea un Runner con todas las dependencias inyectadas.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Runner, error) {
	if deps.Source == nil || deps.Outcomes == nil || deps.Orchestrator == nil {
		return nil, errors.New("runner.New: source, outcomes and orchestrator are required")
	}
	cfg.setDefaults()
	return &Runner{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("component", "runner").Logger(),
	}, nil
}

// Run ejecuta ciclos hasta que el contexto se cancele o se completen cfg.Cycles.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().
		Dur("interval", r.cfg.Interval).
		Int("cycles", r.cfg.Cycles).
		Float64("budget", r.cfg.Budget).
		Msg("runner starting")

	done := 0
	runOne := func() bool {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			r.log.Error().Err(err).Msg("decision cycle failed")
		}
		done++
		return r.cfg.Cycles == 0 || done < r.cfg.Cycles
	}

	if !runOne() {
		return nil
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Int("cycles", done).Msg("runner stopped")
			return nil
		case <-ticker.C:
			if !runOne() {
				r.log.Info().Int("cycles", done).Msg("runner finished")
				return nil
			}
		}
	}
}

// RunOnce ejecuta exactamente un ciclo y devuelve su resultado. Los fallos de
// notifier, store y métricas se loguean sin abortar el ciclo.
func (r *Runner) RunOnce(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var res CycleResult

	opps, err := r.deps.Source.FetchOpportunities(ctx)
	if err != nil {
		return res, fmt.Errorf("runner.RunOnce: fetch opportunities: %w", err)
	}
	res.Opportunities = opps

	res.Recommendations = make([]domain.Recommendation, len(opps))
	for _, br := range r.deps.Orchestrator.EvaluateBatch(ctx, opps, r.cfg.Workers) {
		if br.Err != nil {
			res.Failed++
			r.log.Warn().Err(br.Err).Str("opp", opps[br.Index].ID).Msg("evaluation failed")
			// Sin recomendación no hay outcome.
			res.Recommendations[br.Index] = domain.Recommendation{OppID: opps[br.Index].ID}
			continue
		}
		res.Recommendations[br.Index] = br.Recommendation
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("runner.RunOnce: evaluate: %w", err)
	}

	if r.deps.Metrics != nil {
		for _, rec := range res.Recommendations {
			r.deps.Metrics.ObserveRecommendation(rec)
		}
	}
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyRecommendations(ctx, res.Recommendations); err != nil {
			r.log.Warn().Err(err).Msg("notifier error")
		}
	}

	res.Plan = r.plan(ctx, opps, res.Recommendations)

	outs, err := r.deps.Outcomes.ResolveOutcomes(ctx, opps, res.Recommendations)
	if err != nil {
		return res, fmt.Errorf("runner.RunOnce: resolve outcomes: %w", err)
	}
	res.Outcomes = outs
	for _, out := range outs {
		if err := r.deps.Orchestrator.RecordOutcome(ctx, out); err != nil {
			r.log.Warn().Err(err).Str("opp", out.OppID).Msg("outcome partially recorded")
		}
	}

	if report, ok := r.deps.Orchestrator.KPIs(); ok {
		res.KPIs = report
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveKPIs(report)
		}
		if r.deps.Notifier != nil {
			if err := r.deps.Notifier.NotifyKPIs(ctx, report); err != nil {
				r.log.Warn().Err(err).Msg("notifier error")
			}
		}
	}

	proceed, escrow, block := countDecisions(res.Recommendations)
	r.log.Info().
		Int("opportunities", len(opps)).
		Int("proceed", proceed).
		Int("escrow", escrow).
		Int("blocked", block).
		Int("failed", res.Failed).
		Int("outcomes", len(outs)).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("decision cycle complete")
	return res, nil
}

// plan reparte el presupuesto del ciclo entre las oportunidades que siguen
// adelante y persiste el resultado.
func (r *Runner) plan(ctx context.Context, opps []domain.Opportunity, recs []domain.Recommendation) *capital.Result {
	if r.deps.Allocator == nil {
		return nil
	}
	var eligible []domain.Opportunity
	for i, rec := range recs {
		if rec.Proceed && !rec.Block {
			eligible = append(eligible, opps[i])
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	result, err := r.deps.Allocator.Allocate(eligible, r.cfg.Budget, capital.Caps{})
	if err != nil {
		r.log.Warn().Err(err).Msg("capital plan failed")
		return nil
	}
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.NotifyAllocation(ctx, result); err != nil {
			r.log.Warn().Err(err).Msg("notifier error")
		}
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.SaveAllocation(ctx, result); err != nil {
			r.log.Warn().Err(err).Msg("storage error")
		}
	}
	return &result
}

// countDecisions cuenta recomendaciones por decisión final.
func countDecisions(recs []domain.Recommendation) (proceed, escrow, block int) {
	for _, rec := range recs {
		switch {
		case rec.Block:
			block++
		case rec.RequireEscrow:
			escrow++
		case rec.Proceed:
			proceed++
		}
	}
	return
}
