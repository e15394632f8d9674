// Package scheduler keeps the pipeline running on a cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/smartacus/smartacus/internal/pipeline"
)

// Trigger starts a pipeline run when none is in flight. It reports
// false when a run is already running.
type Trigger interface {
	StartRun(opts pipeline.Options) (string, bool)
}

// Scheduler fires pipeline runs on a cron expression. Ticks that land
// while a run is still in flight are skipped, not queued.
type Scheduler struct {
	spec    string
	trigger Trigger
	opts    pipeline.Options
	cron    *cron.Cron

	mu      sync.Mutex
	ticks   int
	skipped int
	last    time.Time
}

// New validates the cron expression up front so a bad schedule fails
// at startup, not at the first tick.
func New(spec string, trigger Trigger, opts pipeline.Options) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &Scheduler{
		spec:    spec,
		trigger: trigger,
		opts:    opts,
		cron:    cron.New(),
	}, nil
}

// Start blocks until ctx is cancelled, then waits for any tick still
// executing before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}

	log.Info().Str("cron", s.spec).Msg("scheduler started")
	s.cron.Start()
	<-ctx.Done()

	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) tick() {
	runID, started := s.trigger.StartRun(s.opts)

	s.mu.Lock()
	s.ticks++
	s.last = time.Now()
	if !started {
		s.skipped++
	}
	s.mu.Unlock()

	if !started {
		log.Warn().Msg("previous run still in progress, skipping this tick")
		return
	}
	log.Info().Str("run_id", runID).Msg("scheduled run started")
}

// Stats reports tick accounting since start.
func (s *Scheduler) Stats() (ticks, skipped int, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.skipped, s.last
}
