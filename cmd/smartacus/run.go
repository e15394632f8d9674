package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smartacus/smartacus/internal/pipeline"
)

var (
	flagMaxASINs      int
	flagASINs         []string
	flagSkipDiscovery bool
	flagFreeze        bool
	flagNoFreeze      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline run",
	Long: `Runs discovery, freshness filtering, fetch, storage, the data
quality gate, review analysis, scoring and shortlist selection, then
writes the audit files. Exit codes: 0 completed, 2 degraded, 3 failed,
130 cancelled.`,
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

		runner := pipeline.NewRunner(cfg, repo, client, newBudgetManager(cfg, repo), nil)

		opts := pipeline.Options{
			ASINs:         flagASINs,
			MaxASINs:      flagMaxASINs,
			SkipDiscovery: flagSkipDiscovery,
		}
		opts.Freeze = resolveFreeze(cmd)

		res, err := runner.Run(ctx, opts)
		if res == nil {
			return err
		}
		if err != nil {
			log.Error().Err(err).Str("run_id", res.RunID).Msg("run did not complete")
		}
		os.Exit(res.ExitCode)
		return nil
	},
}

// resolveFreeze maps the freeze flag pair onto the run option: nil
// when neither was set, so degraded runs still freeze on their own.
func resolveFreeze(cmd *cobra.Command) *bool {
	switch {
	case cmd.Flags().Changed("freeze"):
		freeze := flagFreeze
		return &freeze
	case cmd.Flags().Changed("no-freeze"):
		freeze := !flagNoFreeze
		return &freeze
	}
	return nil
}

func init() {
	runCmd.Flags().IntVar(&flagMaxASINs, "max-asins", 0, "cap the candidate set (0 = configured default)")
	runCmd.Flags().StringSliceVar(&flagASINs, "asins", nil, "probe exactly these ASINs, skipping discovery")
	runCmd.Flags().BoolVar(&flagSkipDiscovery, "skip-discovery", false, "reuse the tracked catalog instead of discovering")
	runCmd.Flags().BoolVar(&flagFreeze, "freeze", false, "record the shortlist without activating it")
	runCmd.Flags().BoolVar(&flagNoFreeze, "no-freeze", false, "activate the shortlist even when a freeze would apply")
	runCmd.MarkFlagsMutuallyExclusive("freeze", "no-freeze")
}
