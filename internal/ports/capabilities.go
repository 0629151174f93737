// Package ports define las capacidades que el orquestador consume. Cada
// componente es opcional: un port nil significa "no disponible" y el tier
// correspondiente se salta.
package ports

import (
	"context"

	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/pricing"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

// Pricer cotiza una oportunidad (tier 1).
type Pricer interface {
	Quote(opp domain.Opportunity, base float64, risk *domain.RiskAssessment) pricing.Quote
}

// ConversionLearner aprende de conversiones por segmento y tier de precio.
type ConversionLearner interface {
	RecordConversion(segment, tier string, converted, refunded bool)
}

// ArmSelector elige y actualiza brazos del bandit jerárquico (tier 2).
type ArmSelector interface {
	SelectArm(c domain.Context, arms []string) (string, float64, error)
	Update(c domain.Context, arm string, reward, maxReward float64) error
}

// Allocator dimensiona capital con Kelly (tier 3).
type Allocator interface {
	Allocate(opps []domain.Opportunity, budget float64, caps capital.Caps) (capital.Result, error)
}

// RiskScorer es el colaborador externo de riesgo adversarial (tier 4).
// Es el único port que puede bloquear, por eso recibe context.
type RiskScorer interface {
	Assess(ctx context.Context, opp domain.Opportunity) (domain.RiskAssessment, error)
}

// ExperimentRunner asigna tráfico a experimentos y registra sus resultados (tier 5).
type ExperimentRunner interface {
	Assign(oppID string, engines []string) (string, bool)
	RecordOutcome(engine string, success bool, revenue float64)
}

// KPISink recibe eventos de KPI y expone el rollup actual.
type KPISink interface {
	Emit(ev kpi.Event)
	KPIs() kpi.Report
}

// AttributionLearner acumula coaliciones de engines para Shapley.
type AttributionLearner interface {
	Record(engines []string, revenue, baseline float64)
	Value(outcomes []domain.Outcome, normalize bool) map[string]float64
}

// UpliftLearner asigna tratamiento/holdout y acumula outcomes.
// AssignTreatment devuelve siempre lo mismo para un (oppID, engine) dado.
type UpliftLearner interface {
	AssignTreatment(oppID, engine string) bool
	Record(o domain.Outcome) error
	Estimate(outcomes []domain.Outcome) map[string]uplift.Estimate
}

// AttentionRouter reparte presupuesto entre plataformas.
type AttentionRouter interface {
	Weights(kpis map[string]attention.PlatformKPI) map[string]float64
	RecordOutcome(platform string, success bool, revenue float64)
}
