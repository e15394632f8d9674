package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartacus/smartacus/internal/pipeline"
	"github.com/smartacus/smartacus/internal/scheduler"
)

var flagCronSpec string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule",
	Long: `Stays resident and executes a pipeline run on the given cron
expression. Overlapping runs are skipped, not queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := connectStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		client, err := newCatalogClient(cfg)
		if err != nil {
			return err
		}

		coordinator := &runCoordinator{
			runner: pipeline.NewRunner(cfg, repo, client, newBudgetManager(cfg, repo), nil),
		}

		sched, err := scheduler.New(flagCronSpec, coordinator, pipeline.Options{})
		if err != nil {
			return err
		}
		return sched.Start(ctx)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&flagCronSpec, "cron", "0 6 * * *", "cron expression for pipeline runs")
}
