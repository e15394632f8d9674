// Package postgres implements the persistence contracts on PostgreSQL
// via sqlx. Every repository applies a per-operation timeout so a slow
// store cannot stall the pipeline.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/smartacus/smartacus/internal/persistence"
)

const defaultOpTimeout = 10 * time.Second

// Config holds connection settings for the store.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	OpTimeout       time.Duration
}

// repository bundles the per-table repos behind persistence.Repository.
type repository struct {
	db *sqlx.DB

	catalog    persistence.CatalogRepo
	snapshots  persistence.SnapshotRepo
	events     persistence.EventRepo
	reviews    persistence.ReviewRepo
	runs       persistence.RunRepo
	artifacts  persistence.ArtifactRepo
	shortlists persistence.ShortlistRepo
	budget     persistence.BudgetRepo
	aggregates persistence.AggregateRepo
}

var _ persistence.Repository = (*repository)(nil)

// Connect opens the pool, verifies it, and wires every repository.
func Connect(ctx context.Context, cfg Config) (persistence.Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: empty DSN")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info().Int("max_open", cfg.MaxOpenConns).Msg("connected to postgres")

	t := cfg.OpTimeout
	return &repository{
		db:         db,
		catalog:    NewCatalogRepo(db, t),
		snapshots:  NewSnapshotRepo(db, t),
		events:     NewEventRepo(db, t),
		reviews:    NewReviewRepo(db, t),
		runs:       NewRunRepo(db, t),
		artifacts:  NewArtifactRepo(db, t),
		shortlists: NewShortlistRepo(db, t),
		budget:     NewBudgetRepo(db, t),
		aggregates: NewAggregateRepo(db),
	}, nil
}

func (r *repository) Catalog() persistence.CatalogRepo       { return r.catalog }
func (r *repository) Snapshots() persistence.SnapshotRepo    { return r.snapshots }
func (r *repository) Events() persistence.EventRepo          { return r.events }
func (r *repository) Reviews() persistence.ReviewRepo        { return r.reviews }
func (r *repository) Runs() persistence.RunRepo              { return r.runs }
func (r *repository) Artifacts() persistence.ArtifactRepo    { return r.artifacts }
func (r *repository) Shortlists() persistence.ShortlistRepo  { return r.shortlists }
func (r *repository) Budget() persistence.BudgetRepo         { return r.budget }
func (r *repository) Aggregates() persistence.AggregateRepo  { return r.aggregates }

func (r *repository) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

func (r *repository) Close() error {
	return r.db.Close()
}
