package ports

import (
	"context"

	"github.com/alejandrodnm/revcore/internal/attribution"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/experiment"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

// Notifier presenta los reportes al operador.
type Notifier interface {
	NotifyRecommendations(ctx context.Context, recs []domain.Recommendation) error
	NotifyKPIs(ctx context.Context, r kpi.Report) error
	NotifyAllocation(ctx context.Context, r capital.Result) error
	NotifyAttribution(ctx context.Context, values []attribution.Value) error
	NotifyUplift(ctx context.Context, estimates map[string]uplift.Estimate) error
	NotifyExperiments(ctx context.Context, exps []experiment.Experiment) error
}

// MetricsSink exporta observaciones a un backend de métricas.
type MetricsSink interface {
	ObserveKPIs(r kpi.Report)
	ObserveRecommendation(rec domain.Recommendation)
}
