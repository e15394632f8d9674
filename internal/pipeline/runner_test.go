package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus/smartacus/internal/budget"
	"github.com/smartacus/smartacus/internal/config"
	"github.com/smartacus/smartacus/internal/events"
	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/providers/keepa"
	"github.com/smartacus/smartacus/internal/scoring"
)

// memStore is an in-memory persistence.Repository. One mutex guards
// all state because the scoring phase reads concurrently.
type memStore struct {
	mu sync.Mutex

	healthErr error

	products map[string]persistence.Product
	snaps    map[string][]persistence.Snapshot
	missing  *persistence.MissingStats

	stats     map[string]*persistence.ASINStats
	stockouts map[string]int
	pruned    []time.Time

	reviews  map[string][]persistence.Review
	analyzed []string
	signals  []persistence.ReviewDefectSignal
	requests []persistence.ReviewFeatureRequest
	profiles map[string]*persistence.ImprovementProfile

	runs      map[string]*persistence.PipelineRun
	artifacts []persistence.OpportunityArtifact

	shortlists []*persistence.ShortlistSnapshot

	months   map[string]*persistence.BudgetMonth
	recorded []recordedRun

	refreshes int
}

type recordedRun struct {
	tokens        int
	categories    int
	opportunities int
}

func newMemStore() *memStore {
	return &memStore{
		products:  map[string]persistence.Product{},
		snaps:     map[string][]persistence.Snapshot{},
		stats:     map[string]*persistence.ASINStats{},
		stockouts: map[string]int{},
		reviews:   map[string][]persistence.Review{},
		profiles:  map[string]*persistence.ImprovementProfile{},
		runs:      map[string]*persistence.PipelineRun{},
		months:    map[string]*persistence.BudgetMonth{},
	}
}

func (m *memStore) Catalog() persistence.CatalogRepo      { return memCatalog{m} }
func (m *memStore) Snapshots() persistence.SnapshotRepo   { return memSnapshots{m} }
func (m *memStore) Events() persistence.EventRepo         { return memEvents{m} }
func (m *memStore) Reviews() persistence.ReviewRepo       { return memReviews{m} }
func (m *memStore) Runs() persistence.RunRepo             { return memRuns{m} }
func (m *memStore) Artifacts() persistence.ArtifactRepo   { return memArtifacts{m} }
func (m *memStore) Shortlists() persistence.ShortlistRepo { return memShortlists{m} }
func (m *memStore) Budget() persistence.BudgetRepo        { return memBudget{m} }
func (m *memStore) Aggregates() persistence.AggregateRepo { return memAggregates{m} }
func (m *memStore) Health(context.Context) error          { return m.healthErr }
func (m *memStore) Close() error                          { return nil }

type memCatalog struct{ s *memStore }

func (c memCatalog) UpsertProducts(_ context.Context, products []persistence.Product) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, p := range products {
		c.s.products[p.ASIN] = p
	}
	return len(products), nil
}

func (c memCatalog) Get(_ context.Context, asin string) (*persistence.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.products[asin]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (c memCatalog) ListTracked(_ context.Context, limit int) ([]string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []string
	for asin, p := range c.s.products {
		if p.Active && p.DeletedAt == nil {
			out = append(out, asin)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c memCatalog) ListStale(_ context.Context, asins []string, olderThan time.Time) ([]string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []string
	for _, asin := range asins {
		p, ok := c.s.products[asin]
		if !ok || p.LastUpdatedAt.Before(olderThan) {
			out = append(out, asin)
		}
	}
	return out, nil
}

func (c memCatalog) MarkDelisted(_ context.Context, asin string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p := c.s.products[asin]
	p.Active = false
	c.s.products[asin] = p
	return nil
}

type memSnapshots struct{ s *memStore }

func (r memSnapshots) InsertSnapshots(_ context.Context, snapshots []persistence.Snapshot, _ string) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range snapshots {
		r.s.snaps[s.ASIN] = append(r.s.snaps[s.ASIN], s)
	}
	return len(snapshots), 0, nil
}

func (r memSnapshots) Latest(_ context.Context, asin string) (*persistence.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	hist := r.s.snaps[asin]
	if len(hist) == 0 {
		return nil, persistence.ErrNotFound
	}
	cp := hist[len(hist)-1]
	return &cp, nil
}

func (r memSnapshots) Range(_ context.Context, asin string, from, to time.Time) ([]persistence.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []persistence.Snapshot
	for _, s := range r.s.snaps[asin] {
		if !s.CapturedAt.Before(from) && !s.CapturedAt.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r memSnapshots) MissingStats(_ context.Context, sessionID string) (*persistence.MissingStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.missing != nil {
		cp := *r.s.missing
		return &cp, nil
	}
	stats := &persistence.MissingStats{}
	for _, hist := range r.s.snaps {
		for _, s := range hist {
			if s.SessionID != sessionID {
				continue
			}
			stats.Total++
			if s.PriceCurrent == nil {
				stats.PriceMissing++
			}
			if s.PrimaryRank == nil {
				stats.RankMissing++
			}
			if s.ReviewCount == nil {
				stats.ReviewMissing++
			}
		}
	}
	if stats.Total > 0 {
		stats.PricePct = float64(stats.PriceMissing) / float64(stats.Total)
		stats.RankPct = float64(stats.RankMissing) / float64(stats.Total)
		stats.ReviewPct = float64(stats.ReviewMissing) / float64(stats.Total)
	}
	return stats, nil
}

type memEvents struct{ s *memStore }

func (e memEvents) RecentPriceEvents(context.Context, string, time.Time) ([]persistence.PriceEvent, error) {
	return nil, nil
}

func (e memEvents) RecentRankEvents(context.Context, string, time.Time) ([]persistence.RankEvent, error) {
	return nil, nil
}

func (e memEvents) RecentStockEvents(context.Context, string, time.Time) ([]persistence.StockEvent, error) {
	return nil, nil
}

func (e memEvents) StockoutCount(_ context.Context, asin string, _ time.Time) (int, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.stockouts[asin], nil
}

func (e memEvents) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.pruned = append(e.s.pruned, olderThan)
	return 0, nil
}

type memReviews struct{ s *memStore }

func (r memReviews) UpsertReviews(_ context.Context, reviews []persistence.Review) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rv := range reviews {
		r.s.reviews[rv.ASIN] = append(r.s.reviews[rv.ASIN], rv)
	}
	return len(reviews), nil
}

func (r memReviews) NegativeReviews(_ context.Context, asin string, maxRating int) ([]persistence.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []persistence.Review
	for _, rv := range r.s.reviews[asin] {
		if rv.Rating <= maxRating && rv.Body != "" {
			out = append(out, rv)
		}
	}
	return out, nil
}

func (r memReviews) MarkAnalyzed(_ context.Context, reviewIDs []string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.analyzed = append(r.s.analyzed, reviewIDs...)
	return nil
}

func (r memReviews) InsertDefectSignals(_ context.Context, signals []persistence.ReviewDefectSignal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.signals = append(r.s.signals, signals...)
	return nil
}

func (r memReviews) InsertFeatureRequests(_ context.Context, requests []persistence.ReviewFeatureRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.requests = append(r.s.requests, requests...)
	return nil
}

func (r memReviews) UpsertProfile(_ context.Context, profile *persistence.ImprovementProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *profile
	r.s.profiles[profile.ASIN] = &cp
	return nil
}

func (r memReviews) Profile(_ context.Context, asin string) (*persistence.ImprovementProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[asin]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type memRuns struct{ s *memStore }

func (r memRuns) Create(_ context.Context, run *persistence.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *run
	r.s.runs[run.RunID] = &cp
	return nil
}

func (r memRuns) Update(_ context.Context, run *persistence.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *run
	r.s.runs[run.RunID] = &cp
	return nil
}

func (r memRuns) Get(_ context.Context, runID string) (*persistence.PipelineRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r memRuns) Latest(context.Context) (*persistence.PipelineRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, run := range r.s.runs {
		cp := *run
		return &cp, nil
	}
	return nil, persistence.ErrNotFound
}

type memArtifacts struct{ s *memStore }

func (a memArtifacts) InsertArtifacts(_ context.Context, artifacts []persistence.OpportunityArtifact) (int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.artifacts = append(a.s.artifacts, artifacts...)
	return len(artifacts), nil
}

func (a memArtifacts) ByRun(_ context.Context, runID string) ([]persistence.OpportunityArtifact, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []persistence.OpportunityArtifact
	for _, art := range a.s.artifacts {
		if art.RunID == runID {
			out = append(out, art)
		}
	}
	return out, nil
}

func (a memArtifacts) ActiveOpportunities(context.Context, int, int) ([]persistence.OpportunityArtifact, error) {
	return nil, nil
}

type memShortlists struct{ s *memStore }

func (l memShortlists) InsertSnapshot(_ context.Context, snap *persistence.ShortlistSnapshot, activate bool) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if activate {
		for _, s := range l.s.shortlists {
			s.Active = false
		}
	}
	cp := *snap
	cp.Active = activate
	l.s.shortlists = append(l.s.shortlists, &cp)
	return nil
}

func (l memShortlists) Active(context.Context) (*persistence.ShortlistSnapshot, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, s := range l.s.shortlists {
		if s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (l memShortlists) LatestCompleted(context.Context) (*persistence.ShortlistSnapshot, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if len(l.s.shortlists) == 0 {
		return nil, persistence.ErrNotFound
	}
	cp := *l.s.shortlists[len(l.s.shortlists)-1]
	return &cp, nil
}

type memBudget struct{ s *memStore }

func (b memBudget) EnsureMonth(_ context.Context, month string, limit, discoveryPct, scanningPct int) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if _, ok := b.s.months[month]; ok {
		return nil
	}
	b.s.months[month] = &persistence.BudgetMonth{
		MonthYear:         month,
		MonthlyLimit:      limit,
		TokensRemaining:   limit,
		DiscoveryAllocPct: discoveryPct,
		ScanningAllocPct:  scanningPct,
	}
	return nil
}

func (b memBudget) GetMonth(_ context.Context, month string) (*persistence.BudgetMonth, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	row, ok := b.s.months[month]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (b memBudget) AddUsage(_ context.Context, month string, tokens int) (int, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	row, ok := b.s.months[month]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	row.TokensUsed += tokens
	row.TokensRemaining = row.MonthlyLimit - row.TokensUsed
	return row.TokensRemaining, nil
}

func (b memBudget) RecordRun(_ context.Context, month string, tokens, categories, opportunities int) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	row, ok := b.s.months[month]
	if !ok {
		return persistence.ErrNotFound
	}
	row.TokensUsed += tokens
	row.TokensRemaining = row.MonthlyLimit - row.TokensUsed
	row.RunsCompleted++
	b.s.recorded = append(b.s.recorded, recordedRun{tokens, categories, opportunities})
	return nil
}

type memAggregates struct{ s *memStore }

func (a memAggregates) RefreshAggregates(context.Context) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.refreshes++
	return nil
}

func (a memAggregates) Stats30d(_ context.Context, asin string) (*persistence.ASINStats, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	st, ok := a.s.stats[asin]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// fakeAPI is an in-memory pipeline.Catalog.
type fakeAPI struct {
	mu sync.Mutex

	discovered    []string
	discoverErr   error
	discoverCalls int

	batch      *keepa.BatchResult
	fetchErr   error
	fetchCalls int
	lastFetch  []string

	healthErr error
}

func (f *fakeAPI) DiscoverCategory(context.Context, int64, int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return append([]string(nil), f.discovered...), nil
}

func (f *fakeAPI) FetchProducts(_ context.Context, asins []string, _ bool) (*keepa.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	f.lastFetch = append([]string(nil), asins...)
	if f.batch == nil {
		return nil, f.fetchErr
	}
	return f.batch, f.fetchErr
}

func (f *fakeAPI) HealthCheck(context.Context) (*keepa.Health, error) {
	if f.healthErr != nil {
		return &keepa.Health{LastError: f.healthErr.Error()}, f.healthErr
	}
	return &keepa.Health{OK: true, TokensLeft: 200, RefillPerMinute: 21}, nil
}

func testRecord(asin string, price float64, rank int64) keepa.ProductRecord {
	p := price
	r := rank
	reviews := int64(480)
	return keepa.ProductRecord{
		ASIN:         asin,
		Title:        "Magnetic Car Phone Mount",
		Brand:        "GripWorks",
		Currency:     "USD",
		PriceCurrent: &p,
		PrimaryRank:  &r,
		ReviewCount:  &reviews,
		StockStatus:  "in_stock",
		CapturedAt:   time.Now().UTC(),
	}
}

// seedMarket gives an ASIN the history that clears the time-pressure
// gate and both shortlist thresholds: six stockouts in 90 days and a
// 30-day average price well below the current one.
func (m *memStore) seedMarket(asin string) {
	avg := 20.0
	gained := int64(25)
	m.stats[asin] = &persistence.ASINStats{ASIN: asin, SnapshotCount: 30, AvgPrice: &avg, ReviewsGained: &gained}
	m.stockouts[asin] = 6
}

func (m *memStore) seedNegativeReviews(asin string, n int) {
	for i := 0; i < n; i++ {
		m.reviews[asin] = append(m.reviews[asin], persistence.Review{
			ReviewID:   fmt.Sprintf("%s-rv-%03d", asin, i),
			ASIN:       asin,
			Body:       "The mount stopped working after two weeks, the clamp just broke off.",
			Rating:     1,
			CapturedAt: time.Now().UTC(),
		})
	}
}

func newTestRunner(t *testing.T, store *memStore, api *fakeAPI) *Runner {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	mgr := budget.NewManager(store.Budget(), budget.Config{
		MonthlyLimit: cfg.Budget.MonthlyLimit,
		DiscoveryPct: cfg.Budget.DiscoveryPct,
		ScanningPct:  cfg.Budget.ScanningPct,
	})
	return NewRunner(cfg, store, api, mgr, nil)
}

func TestRunHappyPath(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")
	store.seedMarket("B0AAAA0002")
	store.seedNegativeReviews("B0AAAA0001", 21)

	api := &fakeAPI{
		discovered: []string{"B0AAAA0001", "B0AAAA0002"},
		batch: &keepa.BatchResult{
			Records: []keepa.ProductRecord{
				testRecord("B0AAAA0001", 29.99, 4000),
				testRecord("B0AAAA0002", 29.99, 4000),
			},
			TokensConsumed: 9,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunCompleted, res.Status)
	assert.Equal(t, ExitCompleted, res.ExitCode)
	assert.Equal(t, 2, res.Scored)
	assert.Zero(t, res.Rejected)
	assert.Equal(t, 2, res.Shortlisted)
	assert.False(t, res.Frozen)
	assert.Equal(t, 9, res.Tokens)
	require.NotNil(t, res.Selection)

	// Run row closed out.
	run := store.runs[res.RunID]
	require.NotNil(t, run)
	assert.Equal(t, persistence.RunCompleted, run.Status)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, 2, run.ASINsTotal)
	assert.Equal(t, 2, run.ASINsOK)
	assert.Zero(t, run.ASINsFailed)
	assert.True(t, run.DQPassed)
	assert.False(t, run.ShortlistFrozen)
	assert.NotEmpty(t, run.PhaseTimings)
	assert.NotEmpty(t, run.ConfigSnapshot)

	// Catalog and history written.
	assert.Len(t, store.products, 2)
	assert.Len(t, store.snaps["B0AAAA0001"], 1)
	assert.Equal(t, 1, store.refreshes)

	// Review intelligence ran for the product with stored negatives.
	require.Contains(t, store.profiles, "B0AAAA0001")
	assert.True(t, store.profiles["B0AAAA0001"].ReviewsReady)
	assert.NotEmpty(t, store.signals)
	assert.Len(t, store.analyzed, 21)

	// The improvement bonus ranks the reviewed product first.
	active, err := store.Shortlists().Active(context.Background())
	require.NoError(t, err)
	assert.True(t, active.Active)
	assert.False(t, active.Frozen)
	assert.Equal(t, []string{"B0AAAA0001", "B0AAAA0002"}, active.ASINs)

	// Artifacts carry in-run ranks.
	arts, err := store.Artifacts().ByRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, arts, 2)

	// Ledger posted once, at finalize.
	require.Len(t, store.recorded, 1)
	assert.Equal(t, recordedRun{tokens: 9, categories: 1, opportunities: 2}, store.recorded[0])

	// Audit file on disk, market theses included.
	require.NotEmpty(t, res.AuditPath)
	raw, readErr := os.ReadFile(res.AuditPath)
	require.NoError(t, readErr)
	var doc struct {
		MarketEvents []events.EconomicEvent `json:"market_events"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.MarketEvents, 2)
	for _, ev := range doc.MarketEvents {
		assert.Equal(t, events.SupplyShock, ev.Type)
		assert.Equal(t, events.UrgencyHigh, ev.Urgency)
		assert.Equal(t, 30, ev.WindowDays)
	}
	assert.Equal(t, "B0AAAA0001", doc.MarketEvents[0].ASIN)
	assert.Equal(t, "B0AAAA0002", doc.MarketEvents[1].ASIN)
}

func TestRunExplicitASINsSkipDiscovery(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")
	store.seedMarket("B0AAAA0002")

	api := &fakeAPI{
		batch: &keepa.BatchResult{
			Records: []keepa.ProductRecord{
				testRecord("B0AAAA0001", 29.99, 4000),
				testRecord("B0AAAA0002", 29.99, 4000),
			},
			TokensConsumed: 4,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{
		ASINs:    []string{"B0AAAA0001", "B0AAAA0001", "B0AAAA0002", "B0AAAA0003"},
		MaxASINs: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunCompleted, res.Status)
	assert.Zero(t, api.discoverCalls)
	// Deduplicated, then capped.
	assert.Equal(t, []string{"B0AAAA0001", "B0AAAA0002"}, api.lastFetch)
	assert.Equal(t, 2, store.runs[res.RunID].ASINsTotal)

	// Explicit probes spend no discovery budget.
	require.Len(t, store.recorded, 1)
	assert.Zero(t, store.recorded[0].categories)
}

func TestRunFreshnessSkipsRecentProducts(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	store.products["B0AAAA0001"] = persistence.Product{ASIN: "B0AAAA0001", Active: true, LastUpdatedAt: now}
	store.products["B0AAAA0002"] = persistence.Product{ASIN: "B0AAAA0002", Active: true, LastUpdatedAt: now.Add(-48 * time.Hour)}
	store.seedMarket("B0AAAA0002")

	api := &fakeAPI{
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0002", 29.99, 4000)},
			TokensConsumed: 2,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{SkipDiscovery: true})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunCompleted, res.Status)
	assert.Equal(t, []string{"B0AAAA0002"}, api.lastFetch)

	run := store.runs[res.RunID]
	assert.Equal(t, 2, run.ASINsTotal)
	assert.Equal(t, 1, run.ASINsSkipped)
	assert.Equal(t, 1, run.ASINsOK)
}

func TestRunNothingStale(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	store.products["B0AAAA0001"] = persistence.Product{ASIN: "B0AAAA0001", Active: true, LastUpdatedAt: now}

	api := &fakeAPI{}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{SkipDiscovery: true})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunCompleted, res.Status)
	assert.Zero(t, api.fetchCalls)
	assert.Zero(t, res.Scored)
	assert.Zero(t, res.Shortlisted)
	assert.Zero(t, res.Tokens)

	// An empty completed run still posts the ledger and a shortlist row.
	require.Len(t, store.recorded, 1)
	require.Len(t, store.shortlists, 1)
}

func TestRunDQBreachDegrades(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")
	store.missing = &persistence.MissingStats{Total: 2, PriceMissing: 1, PricePct: 0.5}

	api := &fakeAPI{
		discovered: []string{"B0AAAA0001"},
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0001", 29.99, 4000)},
			TokensConsumed: 7,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunDegraded, res.Status)
	assert.Equal(t, ExitDegraded, res.ExitCode)
	assert.True(t, res.Frozen)

	run := store.runs[res.RunID]
	assert.False(t, run.DQPassed)
	assert.InDelta(t, 50, run.PriceMissingPct, 1e-9)
	assert.True(t, run.ShortlistFrozen)

	// The frozen shortlist is recorded but never activated.
	require.Len(t, store.shortlists, 1)
	assert.True(t, store.shortlists[0].Frozen)
	assert.False(t, store.shortlists[0].Active)
	_, activeErr := store.Shortlists().Active(context.Background())
	assert.ErrorIs(t, activeErr, persistence.ErrNotFound)

	// Degraded runs still settle their token spend.
	require.Len(t, store.recorded, 1)
	assert.Equal(t, 7, store.recorded[0].tokens)
}

func TestRunPrunesAgedEvents(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")

	api := &fakeAPI{
		discovered: []string{"B0AAAA0001"},
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0001", 29.99, 4000)},
			TokensConsumed: 7,
		},
	}

	r := newTestRunner(t, store, api)
	_, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, store.pruned, 1)
	want := time.Now().UTC().AddDate(0, 0, -config.Default().Ingestion.RetentionDays)
	assert.WithinDuration(t, want, store.pruned[0], time.Minute)
}

func TestRunDQGatesOnReviewMissingness(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")
	// Price and rank are clean; only review coverage breaches.
	store.missing = &persistence.MissingStats{Total: 10, ReviewMissing: 4, ReviewPct: 0.4}

	api := &fakeAPI{
		discovered: []string{"B0AAAA0001"},
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0001", 29.99, 4000)},
			TokensConsumed: 7,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunDegraded, res.Status)
	assert.True(t, res.Frozen)

	run := store.runs[res.RunID]
	assert.False(t, run.DQPassed)
	assert.InDelta(t, 40, run.ReviewMissingPct, 1e-9)
}

func TestRunDQThresholdIsExclusive(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")
	// Exactly the configured 30% threshold must fail the gate.
	store.missing = &persistence.MissingStats{Total: 10, PriceMissing: 3, PricePct: 0.3}

	api := &fakeAPI{
		discovered: []string{"B0AAAA0001"},
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0001", 29.99, 4000)},
			TokensConsumed: 7,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunDegraded, res.Status)
	assert.False(t, store.runs[res.RunID].DQPassed)
}

func TestRunPartialFetchBreachesErrorBudget(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")

	api := &fakeAPI{
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0001", 29.99, 4000)},
			TokensConsumed: 4,
		},
		fetchErr: errors.New("stream interrupted"),
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{ASINs: []string{"B0AAAA0001", "B0AAAA0002"}})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunDegraded, res.Status)
	assert.Equal(t, ExitDegraded, res.ExitCode)
	assert.True(t, res.Frozen)
	assert.Equal(t, 1, res.Scored)

	run := store.runs[res.RunID]
	assert.Equal(t, 1, run.ASINsOK)
	assert.Equal(t, 1, run.ASINsFailed)
	assert.InDelta(t, 0.5, run.ErrorRate, 1e-9)
	assert.True(t, run.ErrorBudgetBreached)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "stream interrupted", *run.ErrorMessage)
	assert.NotEmpty(t, run.FailedASINs)
}

func TestRunFetchFailureFails(t *testing.T) {
	store := newMemStore()
	api := &fakeAPI{fetchErr: errors.New("api down")}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{ASINs: []string{"B0AAAA0001"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product fetch")

	require.NotNil(t, res)
	assert.Equal(t, persistence.RunFailed, res.Status)
	assert.Equal(t, ExitFailed, res.ExitCode)

	run := store.runs[res.RunID]
	assert.Equal(t, persistence.RunFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.NotNil(t, run.EndedAt)

	// A failed run with no spend posts nothing to the ledger.
	assert.Empty(t, store.recorded)
}

func TestRunBudgetExhausted(t *testing.T) {
	store := newMemStore()
	api := &fakeAPI{discovered: []string{"B0AAAA0001"}}

	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	mgr := budget.NewManager(store.Budget(), budget.Config{MonthlyLimit: 10})
	r := NewRunner(cfg, store, api, mgr, nil)

	res, err := r.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token budget exhausted")

	require.NotNil(t, res)
	assert.Equal(t, persistence.RunFailed, res.Status)
	assert.Zero(t, api.fetchCalls)
}

func TestRunCancelledContext(t *testing.T) {
	store := newMemStore()
	api := &fakeAPI{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t, store, api)
	res, err := r.Run(ctx, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, res)
	assert.Equal(t, persistence.RunCancelled, res.Status)
	assert.Equal(t, ExitCancelled, res.ExitCode)

	// The run row closes even though the triggering context is gone.
	run := store.runs[res.RunID]
	require.NotNil(t, run)
	assert.Equal(t, persistence.RunCancelled, run.Status)
	require.NotNil(t, run.EndedAt)
}

func TestRunFreezeOption(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")

	api := &fakeAPI{
		discovered: []string{"B0AAAA0001"},
		batch: &keepa.BatchResult{
			Records:        []keepa.ProductRecord{testRecord("B0AAAA0001", 29.99, 4000)},
			TokensConsumed: 7,
		},
	}

	freeze := true
	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{Freeze: &freeze})
	require.NoError(t, err)

	// A healthy run stays completed; only activation is withheld.
	assert.Equal(t, persistence.RunCompleted, res.Status)
	assert.Equal(t, ExitCompleted, res.ExitCode)
	assert.True(t, res.Frozen)

	require.Len(t, store.shortlists, 1)
	assert.True(t, store.shortlists[0].Frozen)
	assert.False(t, store.shortlists[0].Active)
}

func TestRunSkipsUnscoreableProducts(t *testing.T) {
	store := newMemStore()
	store.seedMarket("B0AAAA0001")
	store.missing = &persistence.MissingStats{Total: 2}

	noRank := testRecord("B0AAAA0003", 29.99, 4000)
	noRank.PrimaryRank = nil

	api := &fakeAPI{
		batch: &keepa.BatchResult{
			Records: []keepa.ProductRecord{
				testRecord("B0AAAA0001", 29.99, 4000),
				noRank,
			},
			TokensConsumed: 4,
		},
	}

	r := newTestRunner(t, store, api)
	res, err := r.Run(context.Background(), Options{ASINs: []string{"B0AAAA0001", "B0AAAA0003"}})
	require.NoError(t, err)

	assert.Equal(t, persistence.RunCompleted, res.Status)
	assert.Equal(t, 1, res.Scored)
	assert.Equal(t, 1, res.Shortlisted)
}

func TestRankOpportunitiesOrdering(t *testing.T) {
	opps := []*scoring.Opportunity{
		{ASIN: "B0AAAA0004", Rejected: true, RankScore: 99999},
		{ASIN: "B0AAAA0002", RankScore: 5000, FinalScore: 70, WindowDays: 60},
		{ASIN: "B0AAAA0003", RankScore: 5000, FinalScore: 70, WindowDays: 30},
		{ASIN: "B0AAAA0001", RankScore: 8000, FinalScore: 55, WindowDays: 90},
	}
	rankOpportunities(opps)

	got := make([]string, len(opps))
	for i, o := range opps {
		got[i] = o.ASIN
	}
	// Rank score first, then shorter window; rejected always last.
	assert.Equal(t, []string{"B0AAAA0001", "B0AAAA0003", "B0AAAA0002", "B0AAAA0004"}, got)
}
