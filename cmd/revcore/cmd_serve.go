package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/revcore/internal/scheduler"
)

var (
	serveInterval time.Duration
	serveTable    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve-snapshots",
	Short: "Run the decision loop with scheduled snapshots until interrupted",
	Long: `Run decision cycles continuously and, on the configured cron schedules,
persist KPI snapshots and bandit posteriors, publish posteriors to Redis,
write the Prometheus textfile, prune old snapshots and probe experiment SLOs.

Examples:
  revcore serve-snapshots
  revcore serve-snapshots --interval 10s --format json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "time between decision cycles (overrides config)")
	serveCmd.Flags().BoolVar(&serveTable, "table", false, "print full tables instead of the compact line")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveInterval > 0 {
		cfg.Runner.Interval = serveInterval
	}
	cfg.Runner.Cycles = 0

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, log, serveTable)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.jobs.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore bandit posteriors")
	}

	r, err := a.newRunner(a.gen, cfg.Runner)
	if err != nil {
		return err
	}

	sched := scheduler.New(ctx, 30*time.Second, log)
	jobs := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.Schedule.Snapshot, scheduler.Func("snapshot", a.jobs.Snapshot)},
		{cfg.Schedule.Prune, scheduler.Func("prune", func(ctx context.Context) error {
			_, err := a.jobs.Prune(ctx)
			return err
		})},
		{cfg.Schedule.SLOProbe, scheduler.Func("slo-probe", a.jobs.ProbeSLO)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.spec, j.job); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	log.Info().
		Dur("interval", cfg.Runner.Interval).
		Bool("storage", a.store != nil).
		Bool("redis", a.cache != nil).
		Bool("risk_guard", a.guarded != nil).
		Msg("revcore serving")

	if err := r.Run(ctx); err != nil {
		return err
	}

	// Último snapshot con un contexto propio: ctx ya está cancelado.
	final, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := a.jobs.Snapshot(final); err != nil {
		log.Warn().Err(err).Msg("final snapshot failed")
	}
	log.Info().Msg("revcore stopped cleanly")
	return nil
}
