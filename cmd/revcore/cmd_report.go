package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/revcore/internal/adapters/notify"
	"github.com/alejandrodnm/revcore/internal/adapters/storage"
)

var (
	reportSince       time.Duration
	reportAllocations int
	reportArms        int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print persisted KPI history, allocations and bandit posteriors",
	Long: `Read the snapshot store and print the KPI history, the most recent
capital allocations and the last saved bandit posteriors.

Examples:
  revcore report
  revcore report --since 72h --allocations 3`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().DurationVar(&reportSince, "since", 24*time.Hour, "KPI history window")
	reportCmd.Flags().IntVar(&reportAllocations, "allocations", 1, "recent allocations to print")
	reportCmd.Flags().IntVar(&reportArms, "arms", 5, "arms per bandit level to print")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.DSN == "" {
		return errors.New("report: storage.dsn is not configured")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN, cfg.Storage.Retention())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	snaps, err := store.KPISnapshots(ctx, time.Now().Add(-reportSince))
	if err != nil {
		return err
	}

	console := notify.NewConsole(true)
	console.PrintSnapshots(snaps)

	allocs, err := store.Allocations(ctx, reportAllocations)
	if err != nil {
		return err
	}
	for _, r := range allocs {
		if err := console.NotifyAllocation(ctx, r); err != nil {
			return err
		}
	}

	states, err := store.LoadBanditState(ctx)
	if err != nil {
		return err
	}
	console.PrintPosteriors(states, reportArms)

	log.Debug().Int("snapshots", len(snaps)).Int("allocations", len(allocs)).Msg("report printed")
	return nil
}
