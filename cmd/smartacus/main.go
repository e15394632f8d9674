// Command smartacus runs the niche-probe pipeline and its read API:
// discover a category, snapshot its products, score the improvement
// opportunities and keep an auditable shortlist.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smartacus/smartacus/internal/budget"
	"github.com/smartacus/smartacus/internal/config"
	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/persistence/postgres"
	"github.com/smartacus/smartacus/internal/providers/keepa"
)

var (
	flagConfig  string
	flagVerbose bool
	flagLogFile string
)

var rootCmd = &cobra.Command{
	Use:   "smartacus",
	Short: "Amazon niche opportunity probe",
	Long: `smartacus tracks a product niche: it snapshots prices, ranks and
availability, detects meaningful changes, mines reviews for unmet
needs, scores improvement opportunities and maintains a shortlist.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/smartacus.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "also write logs to this file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(shortlistCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(scheduleCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging() {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if flagLogFile != "" {
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", flagLogFile, err)
		} else {
			w = io.MultiWriter(w, f)
		}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func connectStore(ctx context.Context, cfg *config.Config) (persistence.Repository, error) {
	return postgres.Connect(ctx, postgres.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func newCatalogClient(cfg *config.Config) (*keepa.Client, error) {
	return keepa.NewClient(keepa.Config{
		APIKey:          cfg.Keepa.APIKey,
		BaseURL:         cfg.Keepa.BaseURL,
		Domain:          cfg.Keepa.Domain,
		BucketCapacity:  cfg.Keepa.BucketCapacity,
		RefillPerMinute: cfg.Keepa.RefillPerMinute,
		MaxRetries:      cfg.Keepa.MaxRetries,
		Timeout:         cfg.KeepaTimeout(),
		BatchSize:       cfg.Ingestion.BatchSize,
	})
}

func newBudgetManager(cfg *config.Config, repo persistence.Repository) *budget.Manager {
	return budget.NewManager(repo.Budget(), budget.Config{
		MonthlyLimit: cfg.Budget.MonthlyLimit,
		DiscoveryPct: cfg.Budget.DiscoveryPct,
		ScanningPct:  cfg.Budget.ScanningPct,
	})
}
