package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/smartacus/smartacus/internal/interfaces/http"
	"github.com/smartacus/smartacus/internal/metrics"
	"github.com/smartacus/smartacus/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and metrics",
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
			// The read API can serve stored data without the upstream;
			// only the trigger endpoint needs the client.
			log.Warn().Err(err).Msg("catalog client unavailable, pipeline trigger disabled")
		}

		m := metrics.NewSet()
		mgr := newBudgetManager(cfg, repo)

		var trigger httpapi.Trigger
		if client != nil {
			trigger = &runCoordinator{
				runner: pipeline.NewRunner(cfg, repo, client, mgr, m),
			}
		}

		cache := httpapi.NewResponseCache(cfg.Server.RedisAddr, cfg.Server.CacheTTL)
		srv := httpapi.NewServer(cfg.Server, repo, trigger, mgr, cache, m)
		return srv.ListenAndServe(ctx)
	},
}

// runCoordinator serializes run triggers: one run in flight at a time,
// executed detached from the triggering request.
type runCoordinator struct {
	runner *pipeline.Runner

	mu      sync.Mutex
	running bool
}

func (c *runCoordinator) StartRun(opts pipeline.Options) (string, bool) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return "", false
	}
	c.running = true
	c.mu.Unlock()

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	go func() {
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()
		if _, err := c.runner.Run(context.Background(), opts); err != nil {
			log.Error().Err(err).Str("run_id", opts.RunID).Msg("triggered run failed")
		}
	}()
	return opts.RunID, true
}

func (c *runCoordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
