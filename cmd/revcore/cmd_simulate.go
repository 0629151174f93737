package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/revcore/internal/adapters/synthetic"
	"github.com/alejandrodnm/revcore/internal/application/runner"
	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/ports"
)

var (
	simCycles int
	simBatch  int
	simBudget float64
	simInput  string
	simTable  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run decision cycles over simulated opportunities",
	Long: `Generate (or read) opportunities, evaluate them, resolve simulated
outcomes and feed them back to every learner. At the end prints attribution,
uplift, experiments, platform budget weights and the bandit posteriors.

Examples:
  revcore simulate --cycles 20 --batch 50
  revcore simulate --input testdata/opps.yaml --table`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simCycles, "cycles", 10, "decision cycles to run")
	simulateCmd.Flags().IntVar(&simBatch, "batch", 0, "opportunities per cycle (overrides config)")
	simulateCmd.Flags().Float64Var(&simBudget, "budget", 0, "capital budget per cycle (overrides config)")
	simulateCmd.Flags().StringVar(&simInput, "input", "", "YAML file with opportunities instead of the generator")
	simulateCmd.Flags().BoolVar(&simTable, "table", false, "print full tables instead of the compact line")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if simBatch > 0 {
		cfg.Simulation.Batch = simBatch
	}
	if simBudget > 0 {
		cfg.Runner.Budget = simBudget
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, log, simTable)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.jobs.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("could not restore bandit posteriors")
	}

	var source ports.OpportunitySource = a.gen
	if simInput != "" {
		source = synthetic.NewFileSource(simInput)
	}
	r, err := a.newRunner(source, cfg.Runner)
	if err != nil {
		return err
	}

	log.Info().Int("cycles", simCycles).Int("modules", a.orch.Stats().ModulesLoaded).Msg("revcore simulate starting")

	platforms := map[string]attention.PlatformKPI{}
	for i := 0; i < simCycles; i++ {
		res, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("cycle %d: %w", i+1, err)
		}
		accumulatePlatforms(platforms, res)
	}

	if err := a.jobs.Snapshot(ctx); err != nil {
		log.Warn().Err(err).Msg("final snapshot incomplete")
	}
	return printSummary(ctx, a, platforms)
}

// accumulatePlatforms traduce un ciclo a contadores de embudo por plataforma.
func accumulatePlatforms(acc map[string]attention.PlatformKPI, res runner.CycleResult) {
	byOpp := make(map[string]domain.Opportunity, len(res.Opportunities))
	for i, opp := range res.Opportunities {
		byOpp[opp.ID] = opp
		k := acc[opp.Platform]
		k.Impressions++
		if res.Recommendations[i].Proceed {
			k.Clicks++
		}
		acc[opp.Platform] = k
	}
	for _, out := range res.Outcomes {
		p := byOpp[out.OppID].Platform
		k := acc[p]
		if out.Success {
			k.Conversions++
		}
		k.Revenue += out.Revenue
		k.Spend += out.Spend
		acc[p] = k
	}
}

func printSummary(ctx context.Context, a *app, platforms map[string]attention.PlatformKPI) error {
	if _, err := a.orch.Attribution(ctx, nil, false); err != nil {
		return err
	}
	if err := a.console.NotifyAttribution(ctx, a.attribution.Values()); err != nil {
		return err
	}

	estimates, err := a.orch.Uplift(ctx, nil)
	if err != nil {
		return err
	}
	if err := a.console.NotifyUplift(ctx, estimates); err != nil {
		return err
	}
	if fakes := a.uplift.FakeSignals(0); len(fakes) > 0 {
		a.log.Warn().Strs("engines", fakes).Msg("engines without measurable uplift")
	}

	if err := a.console.NotifyExperiments(ctx, a.experiments.All()); err != nil {
		return err
	}

	weights := a.orch.BudgetWeights(platforms)
	names := make([]string, 0, len(weights))
	for p := range weights {
		names = append(names, p)
	}
	sort.Strings(names)
	fmt.Println("\n=== PLATFORM BUDGET WEIGHTS ===")
	for _, p := range names {
		fmt.Printf("  %-10s %.3f\n", p, weights[p])
	}

	rec := a.capital.RunwayRecommendation(a.cfg.Runner.Budget)
	a.log.Info().
		Str("risk_level", string(rec.RiskLevel)).
		Str("action", rec.Action).
		Str("focus", rec.Focus).
		Float64("max_spend", rec.MaxSpendAmount).
		Msg("runway recommendation")

	a.console.PrintPosteriors(a.bandit.Export(), 5)
	return nil
}
