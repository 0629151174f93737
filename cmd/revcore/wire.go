package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/config"
	"github.com/alejandrodnm/revcore/internal/adapters/metrics"
	"github.com/alejandrodnm/revcore/internal/adapters/notify"
	"github.com/alejandrodnm/revcore/internal/adapters/riskguard"
	"github.com/alejandrodnm/revcore/internal/adapters/statecache"
	"github.com/alejandrodnm/revcore/internal/adapters/storage"
	"github.com/alejandrodnm/revcore/internal/adapters/synthetic"
	"github.com/alejandrodnm/revcore/internal/application/runner"
	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/attribution"
	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/experiment"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/orchestrator"
	"github.com/alejandrodnm/revcore/internal/ports"
	"github.com/alejandrodnm/revcore/internal/pricing"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

// app agrupa el core y sus adapters ya cableados.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	bandit      *bandit.Hierarchy
	pricing     *pricing.Engine
	capital     *capital.Allocator
	kpi         *kpi.Aggregator
	experiments *experiment.Platform
	attribution *attribution.Engine
	uplift      *uplift.Estimator
	attention   *attention.Router
	guard       *riskguard.Guard
	guarded     *riskguard.Guarded
	orch        *orchestrator.Orchestrator

	sqlite  *storage.SQLiteStore
	store   ports.SnapshotStore
	redis   *redis.Client
	cache   ports.StateCache
	metrics *metrics.Prometheus
	console *notify.Console
	gen     *synthetic.Generator
	jobs    *runner.Jobs
}

// buildApp construye todos los componentes a partir de la configuración.
// Storage y Redis son opcionales: si no se pueden abrir se sigue sin ellos.
func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, table bool) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var err error
	if a.bandit, err = bandit.New(cfg.Bandit, log); err != nil {
		return nil, fmt.Errorf("buildApp: %w", err)
	}
	a.pricing = pricing.New(cfg.Pricing, log)
	a.capital = capital.New(cfg.Capital, log)
	a.kpi = kpi.New(cfg.KPI, log)
	a.experiments = experiment.New(cfg.Experiments.Config, log)
	a.attribution = attribution.New(cfg.Attribution, log)
	a.uplift = uplift.New(cfg.Uplift, log)
	a.attention = attention.New(cfg.Attention, log)

	for _, s := range cfg.Experiments.Seed {
		if _, err := a.experiments.Create(s.Name, s.Treatment, s.Control, s.TrafficPct); err != nil {
			return nil, fmt.Errorf("buildApp: seed experiment %q: %w", s.Name, err)
		}
	}

	comps := orchestrator.Components{
		Pricer:      a.pricing,
		Conversions: a.pricing,
		Bandit:      a.bandit,
		Allocator:   a.capital,
		Experiments: a.experiments,
		KPI:         a.kpi,
		Attribution: a.attribution,
		Uplift:      a.uplift,
		Attention:   a.attention,
	}
	if cfg.RiskGuard.Enabled {
		if a.guard, err = riskguard.New(cfg.RiskGuard.Guard, log); err != nil {
			return nil, fmt.Errorf("buildApp: %w", err)
		}
		a.guarded = riskguard.NewGuarded(a.guard, cfg.RiskGuard.Breaker, log)
		comps.Risk = a.guarded
	}
	a.orch = orchestrator.New(cfg.Orchestrator, comps, log)

	if cfg.Storage.DSN != "" {
		a.sqlite, err = storage.NewSQLiteStore(cfg.Storage.DSN, cfg.Storage.Retention())
		if err != nil {
			log.Warn().Err(err).Str("dsn", cfg.Storage.DSN).Msg("storage unavailable, snapshots disabled")
		} else {
			a.store = a.sqlite
		}
	}

	if cfg.Redis.Enabled {
		cache, client, err := statecache.Dial(ctx, cfg.Redis.Config)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, posteriors not shared")
		} else {
			a.redis, a.cache = client, cache
		}
	}

	if a.metrics, err = metrics.NewPrometheus(); err != nil {
		return nil, fmt.Errorf("buildApp: %w", err)
	}
	a.console = notify.NewConsole(table)
	a.gen = synthetic.New(cfg.Simulation)

	a.jobs = runner.NewJobs(runner.JobsConfig{
		Textfile:      cfg.Metrics.Textfile,
		Retention:     cfg.Storage.Retention(),
		MaxRefundRate: cfg.Pricing.MaxRefundRate,
	}, runner.JobsDeps{
		KPI:         a.kpi,
		Bandit:      a.bandit,
		Experiments: a.experiments,
		Store:       a.store,
		Cache:       a.cache,
		Textfile:    a.metrics,
		Notifier:    a.console,
	}, log)

	return a, nil
}

// newRunner crea el runner de decisión sobre la fuente indicada.
func (a *app) newRunner(source ports.OpportunitySource, rc runner.Config) (*runner.Runner, error) {
	return runner.New(rc, runner.Deps{
		Source:       source,
		Outcomes:     a.gen,
		Orchestrator: a.orch,
		Allocator:    a.capital,
		Store:        a.store,
		Notifier:     a.console,
		Metrics:      a.metrics,
	}, a.log)
}

func (a *app) Close() error {
	var errs []error
	if a.sqlite != nil {
		errs = append(errs, a.sqlite.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
