package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/experiment"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/ports"
)

// KPISnapshotter toma fotos puntuales del agregador de KPIs.
type KPISnapshotter interface {
	Snapshot() domain.KPISnapshot
	KPIs() kpi.Report
}

// PosteriorStore exporta e importa los posteriors del bandit.
type PosteriorStore interface {
	Export() []bandit.ArmState
	Import(states []bandit.ArmState) error
}

// ExperimentReviewer recibe las sondas de SLO y gradúa experimentos.
type ExperimentReviewer interface {
	CheckSLO(ok bool) (string, bool)
	AutoGraduate(minLift float64) []string
	All() []experiment.Experiment
}

// TextfileWriter vuelca las métricas a un archivo para node_exporter.
type TextfileWriter interface {
	WriteTextfile(path string) error
}

// JobsConfig configura los jobs periódicos.
type JobsConfig struct {
	Textfile      string        // vacío = no volcar métricas
	Retention     time.Duration // default 30 días
	MaxRefundRate float64       // umbral de la sonda SLO; default 0.015
}

// JobsDeps agrupa los colaboradores de los jobs; todos opcionales.
type JobsDeps struct {
	KPI         KPISnapshotter
	Bandit      PosteriorStore
	Experiments ExperimentReviewer
	Store       ports.SnapshotStore
	Cache       ports.StateCache
	Textfile    TextfileWriter
	Notifier    ports.Notifier
}

// Jobs agrupa las tareas que el scheduler ejecuta entre ciclos.
type Jobs struct {
	cfg  JobsConfig
	deps JobsDeps
	now  func() time.Time
	log  zerolog.Logger
}

// NewJobs crea los jobs periódicos.
func NewJobs(cfg JobsConfig, deps JobsDeps, log zerolog.Logger) *Jobs {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.MaxRefundRate <= 0 {
		cfg.MaxRefundRate = 0.015
	}
	return &Jobs{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		log:  log.With().Str("component", "jobs").Logger(),
	}
}

// Snapshot persiste la foto de KPIs y los posteriors, los publica en la
// cache compartida y vuelca las métricas. Sigue adelante ante fallos
// parciales y los devuelve unidos.
func (j *Jobs) Snapshot(ctx context.Context) error {
	var errs []error

	if j.deps.KPI != nil && j.deps.Store != nil {
		if err := j.deps.Store.SaveKPISnapshot(ctx, j.deps.KPI.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save kpi snapshot: %w", err))
		}
	}

	if j.deps.Bandit != nil {
		states := j.deps.Bandit.Export()
		if j.deps.Store != nil {
			if err := j.deps.Store.SaveBanditState(ctx, states); err != nil {
				errs = append(errs, fmt.Errorf("save bandit state: %w", err))
			}
		}
		if j.deps.Cache != nil {
			if err := j.deps.Cache.PublishPosteriors(ctx, states); err != nil {
				errs = append(errs, fmt.Errorf("publish posteriors: %w", err))
			}
		}
	}

	if j.deps.Textfile != nil && j.cfg.Textfile != "" {
		if err := j.deps.Textfile.WriteTextfile(j.cfg.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("runner.Snapshot: %w", err)
	}
	j.log.Debug().Msg("snapshot stored")
	return nil
}

// Prune borra del store todo lo que excede la retención.
func (j *Jobs) Prune(ctx context.Context) (int64, error) {
	if j.deps.Store == nil {
		return 0, nil
	}
	n, err := j.deps.Store.Prune(ctx, j.now().Add(-j.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("runner.Prune: %w", err)
	}
	if n > 0 {
		j.log.Info().Int64("rows", n).Msg("pruned old snapshots")
	}
	return n, nil
}

// ProbeSLO alimenta la sonda de SLO con la tasa de reembolso actual y
// gradúa los experimentos que ya son significativos.
func (j *Jobs) ProbeSLO(ctx context.Context) error {
	if j.deps.Experiments == nil {
		return nil
	}
	if j.deps.KPI != nil {
		report := j.deps.KPI.KPIs()
		ok := report.TotalOutcomes == 0 || report.RefundRate <= j.cfg.MaxRefundRate
		if id, rolled := j.deps.Experiments.CheckSLO(ok); rolled {
			j.log.Warn().Str("experiment", id).Float64("refund_rate", report.RefundRate).Msg("SLO breached, experiment rolled back")
		}
	}

	graduated := j.deps.Experiments.AutoGraduate(0)
	if len(graduated) == 0 || j.deps.Notifier == nil {
		return nil
	}
	if err := j.deps.Notifier.NotifyExperiments(ctx, j.deps.Experiments.All()); err != nil {
		return fmt.Errorf("runner.ProbeSLO: notify: %w", err)
	}
	return nil
}

// Restore carga los posteriors más recientes: primero la cache compartida,
// después el store. Devuelve cuántos brazos se restauraron.
func (j *Jobs) Restore(ctx context.Context) (int, error) {
	if j.deps.Bandit == nil {
		return 0, nil
	}

	var states []bandit.ArmState
	source := ""
	if j.deps.Cache != nil {
		s, err := j.deps.Cache.LoadPosteriors(ctx)
		if err != nil {
			j.log.Warn().Err(err).Msg("state cache unavailable, falling back to store")
		} else if len(s) > 0 {
			states, source = s, "cache"
		}
	}
	if states == nil && j.deps.Store != nil {
		s, err := j.deps.Store.LoadBanditState(ctx)
		if err != nil {
			return 0, fmt.Errorf("runner.Restore: load from store: %w", err)
		}
		states, source = s, "store"
	}
	if len(states) == 0 {
		return 0, nil
	}

	if err := j.deps.Bandit.Import(states); err != nil {
		return 0, fmt.Errorf("runner.Restore: import: %w", err)
	}
	j.log.Info().Int("arms", len(states)).Str("source", source).Msg("bandit posteriors restored")
	return len(states), nil
}
