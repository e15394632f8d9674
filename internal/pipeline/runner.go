// Package pipeline orchestrates one end-to-end probe run: discover,
// filter by freshness, fetch, store, gate on data quality, analyze
// reviews, score, select the shortlist and write the audit trail.
// Every run is recorded in the run table regardless of outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smartacus/smartacus/internal/budget"
	"github.com/smartacus/smartacus/internal/config"
	"github.com/smartacus/smartacus/internal/events"
	"github.com/smartacus/smartacus/internal/metrics"
	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/providers/keepa"
	"github.com/smartacus/smartacus/internal/reviews"
	"github.com/smartacus/smartacus/internal/scoring"
	"github.com/smartacus/smartacus/internal/shortlist"
)

// Exit codes of a run, surfaced by the CLI.
const (
	ExitCompleted = 0
	ExitDegraded  = 2
	ExitFailed    = 3
	ExitCancelled = 130
)

// Catalog is the slice of the external-API client the pipeline needs.
type Catalog interface {
	DiscoverCategory(ctx context.Context, categoryID int64, domain int) ([]string, error)
	FetchProducts(ctx context.Context, asins []string, includeHistory bool) (*keepa.BatchResult, error)
	HealthCheck(ctx context.Context) (*keepa.Health, error)
}

// Options tune a single run.
type Options struct {
	// ASINs bypasses discovery and probes exactly these products.
	ASINs []string
	// MaxASINs caps the candidate set; zero uses the configured cap.
	MaxASINs int
	// SkipDiscovery reuses the tracked catalog instead of spending
	// discovery tokens.
	SkipDiscovery bool
	// Freeze forces the shortlist frozen (true) or overrides nothing (nil).
	// A frozen shortlist is recorded but never activated.
	Freeze *bool
	// RunID preassigns the run identifier so callers can hand it out
	// before the run executes. Empty generates one.
	RunID string
}

// Result is the caller-facing outcome of one run.
type Result struct {
	RunID       string                `json:"run_id"`
	Status      persistence.RunStatus `json:"status"`
	ExitCode    int                   `json:"exit_code"`
	Scored      int                   `json:"scored"`
	Rejected    int                   `json:"rejected"`
	Shortlisted int                   `json:"shortlisted"`
	Frozen      bool                  `json:"shortlist_frozen"`
	Tokens      int                   `json:"tokens_consumed"`
	AuditPath   string                `json:"audit_path,omitempty"`
	Selection   *shortlist.Selection  `json:"selection,omitempty"`
}

// Runner executes pipeline runs. One instance per process.
type Runner struct {
	cfg       *config.Config
	repo      persistence.Repository
	catalog   Catalog
	budget    *budget.Manager
	scorer    *scoring.Scorer
	extractor *reviews.Extractor
	detector  *events.Detector
	metrics   *metrics.Set
	now       func() time.Time
}

// NewRunner wires the orchestrator. The metrics set may be nil.
func NewRunner(cfg *config.Config, repo persistence.Repository, catalog Catalog, mgr *budget.Manager, m *metrics.Set) *Runner {
	return &Runner{
		cfg:       cfg,
		repo:      repo,
		catalog:   catalog,
		budget:    mgr,
		scorer:    scoring.NewScorer(nil),
		extractor: reviews.NewExtractor(nil),
		detector:  events.NewDetector(),
		metrics:   m,
		now:       time.Now,
	}
}

// runState carries everything a run accumulates across phases.
type runState struct {
	run     *persistence.PipelineRun
	opts    Options
	timings map[string]float64
	started time.Time

	candidates []string
	stale      []string
	batch      *keepa.BatchResult
	dqPassed   bool
	profiles   map[string]*reviews.Profile
	theses     []events.EconomicEvent
	opps       []*scoring.Opportunity
	selection  *shortlist.Selection
	frozen     bool
	fetchNote  string
}

// Run executes one full pipeline pass. The returned result is non-nil
// whenever a run row was created, failures included.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	st := &runState{
		run: &persistence.PipelineRun{
			RunID:     runID,
			Status:    persistence.RunRunning,
			StartedAt: r.now().UTC(),
		},
		opts:     opts,
		timings:  map[string]float64{},
		started:  r.now(),
		dqPassed: true,
		profiles: map[string]*reviews.Profile{},
	}
	st.run.ConfigSnapshot = r.configSnapshot()

	if err := r.repo.Runs().Create(ctx, st.run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	log.Info().Str("run_id", st.run.RunID).Msg("pipeline run started")

	phases := []struct {
		name string
		fn   func(context.Context, *runState) error
	}{
		{"preflight", r.preflight},
		{"discovery", r.discovery},
		{"freshness", r.freshness},
		{"fetch", r.fetch},
		{"store", r.store},
		{"retention", r.pruneRetention},
		{"dq_gate", r.dqGate},
		{"aggregates", r.refreshAggregates},
		{"reviews", r.analyzeReviews},
		{"scoring", r.score},
		{"shortlist", r.selectShortlist},
	}

	for _, p := range phases {
		if ctx.Err() != nil {
			return r.finish(ctx, st, persistence.RunCancelled, ctx.Err())
		}
		start := r.now()
		err := p.fn(ctx, st)
		elapsed := r.now().Sub(start)
		st.timings[p.name] = elapsed.Seconds()
		if r.metrics != nil {
			r.metrics.ObservePhase(p.name, elapsed)
		}
		log.Debug().Str("run_id", st.run.RunID).Str("phase", p.name).
			Dur("elapsed", elapsed).Msg("phase done")
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return r.finish(ctx, st, persistence.RunCancelled, err)
			}
			return r.finish(ctx, st, persistence.RunFailed, err)
		}
	}

	status := persistence.RunCompleted
	if !st.dqPassed || st.run.ErrorBudgetBreached {
		status = persistence.RunDegraded
	}
	return r.finish(ctx, st, status, nil)
}

func (r *Runner) preflight(ctx context.Context, st *runState) error {
	if err := r.repo.Health(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	if _, err := r.catalog.HealthCheck(ctx); err != nil {
		return fmt.Errorf("catalog API unavailable: %w", err)
	}
	if err := r.budget.EnsureMonth(ctx); err != nil {
		return err
	}

	categories := 1
	if st.opts.SkipDiscovery || len(st.opts.ASINs) > 0 {
		categories = 0
	}
	estimate := r.budget.EstimateTokens(categories, r.maxASINs(st.opts))
	ok, bst, err := r.budget.CanRun(ctx, estimate)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("monthly token budget exhausted: need %d, %d remaining", estimate, bst.TokensRemaining)
	}
	if r.metrics != nil {
		r.metrics.TokensRemaining.Set(float64(bst.TokensRemaining))
	}
	return nil
}

func (r *Runner) discovery(ctx context.Context, st *runState) error {
	max := r.maxASINs(st.opts)

	switch {
	case len(st.opts.ASINs) > 0:
		st.candidates = dedupe(st.opts.ASINs)
	case st.opts.SkipDiscovery:
		tracked, err := r.repo.Catalog().ListTracked(ctx, max)
		if err != nil {
			return err
		}
		st.candidates = tracked
	default:
		asins, err := r.catalog.DiscoverCategory(ctx, r.cfg.Ingestion.CategoryID, 0)
		if err != nil {
			return fmt.Errorf("category discovery: %w", err)
		}
		st.candidates = dedupe(asins)
	}

	if len(st.candidates) > max {
		st.candidates = st.candidates[:max]
	}
	st.run.ASINsTotal = len(st.candidates)
	log.Info().Str("run_id", st.run.RunID).Int("candidates", len(st.candidates)).Msg("discovery complete")
	return nil
}

func (r *Runner) freshness(ctx context.Context, st *runState) error {
	threshold := r.now().UTC().Add(-time.Duration(r.cfg.Ingestion.FreshnessHours) * time.Hour)
	stale, err := r.repo.Catalog().ListStale(ctx, st.candidates, threshold)
	if err != nil {
		return err
	}
	st.stale = stale
	st.run.ASINsSkipped = len(st.candidates) - len(stale)
	return nil
}

func (r *Runner) fetch(ctx context.Context, st *runState) error {
	if len(st.stale) == 0 {
		st.batch = &keepa.BatchResult{}
		return nil
	}

	batch, err := r.catalog.FetchProducts(ctx, st.stale, r.cfg.Ingestion.IncludeHistory)
	if batch == nil {
		batch = &keepa.BatchResult{}
	}
	st.batch = batch
	st.run.TokensConsumed = batch.TokensConsumed
	if err != nil {
		if len(batch.Records) == 0 {
			return fmt.Errorf("product fetch: %w", err)
		}
		// Partial results survive; the loss shows up in the error rate.
		st.fetchNote = err.Error()
		log.Warn().Str("run_id", st.run.RunID).Err(err).
			Int("records", len(batch.Records)).Msg("fetch ended early, keeping partial batch")
	}

	fetched := map[string]bool{}
	for i := range batch.Records {
		fetched[batch.Records[i].ASIN] = true
	}
	failed := map[string]bool{}
	for _, f := range batch.Failed {
		failed[f.ASIN] = true
	}
	for _, asin := range st.stale {
		if !fetched[asin] && !failed[asin] {
			batch.Failed = append(batch.Failed, keepa.ProductFailure{ASIN: asin, Reason: "not fetched"})
		}
	}

	st.run.ASINsOK = len(batch.Records)
	st.run.ASINsFailed = len(batch.Failed)
	if len(st.stale) > 0 {
		st.run.ErrorRate = float64(len(batch.Failed)) / float64(len(st.stale))
	}
	st.run.ErrorBudgetBreached = st.run.ErrorRate >= r.cfg.Gates.ErrorBudgetThreshold
	if len(batch.Failed) > 0 {
		raw, _ := json.Marshal(batch.Failed)
		st.run.FailedASINs = raw
	}

	if r.metrics != nil {
		r.metrics.ProductsFetched.Add(float64(len(batch.Records)))
		r.metrics.ProductsFailed.Add(float64(len(batch.Failed)))
		r.metrics.TokensSpent.Add(float64(batch.TokensConsumed))
	}
	return nil
}

func (r *Runner) store(ctx context.Context, st *runState) error {
	if len(st.batch.Records) == 0 {
		return nil
	}
	seenAt := r.now().UTC()

	products := make([]persistence.Product, 0, len(st.batch.Records))
	snapshots := make([]persistence.Snapshot, 0, len(st.batch.Records))
	for i := range st.batch.Records {
		rec := &st.batch.Records[i]
		products = append(products, productFromRecord(rec, seenAt))
		snapshots = append(snapshots, snapshotFromRecord(rec, st.run.RunID))
	}

	if _, err := r.repo.Catalog().UpsertProducts(ctx, products); err != nil {
		return fmt.Errorf("catalog upsert: %w", err)
	}
	inserted, skipped, err := r.repo.Snapshots().InsertSnapshots(ctx, snapshots, st.run.RunID)
	if err != nil {
		return fmt.Errorf("snapshot insert: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SnapshotsStored.Add(float64(inserted))
	}
	log.Info().Str("run_id", st.run.RunID).Int("inserted", inserted).Int("skipped", skipped).
		Msg("snapshots stored")
	return nil
}

// pruneRetention drops event rows past the retention horizon. A prune
// failure never fails the run; the rows are retried next time.
func (r *Runner) pruneRetention(ctx context.Context, st *runState) error {
	cutoff := r.now().UTC().AddDate(0, 0, -r.cfg.Ingestion.RetentionDays)
	removed, err := r.repo.Events().Prune(ctx, cutoff)
	if err != nil {
		log.Warn().Str("run_id", st.run.RunID).Err(err).Msg("event retention prune failed")
		return nil
	}
	if removed > 0 {
		log.Info().Str("run_id", st.run.RunID).Int64("removed", removed).
			Time("cutoff", cutoff).Msg("aged event rows pruned")
	}
	return nil
}

// dqGate measures missingness over this run's snapshots. A breach does
// not stop the run; it degrades the outcome and freezes the shortlist.
func (r *Runner) dqGate(ctx context.Context, st *runState) error {
	if len(st.batch.Records) == 0 {
		return nil
	}
	stats, err := r.repo.Snapshots().MissingStats(ctx, st.run.RunID)
	if err != nil {
		return err
	}

	st.run.PriceMissingPct = stats.PricePct * 100
	st.run.RankMissingPct = stats.RankPct * 100
	st.run.ReviewMissingPct = stats.ReviewPct * 100

	threshold := r.cfg.Gates.DQThresholdPct
	st.dqPassed = st.run.PriceMissingPct < threshold &&
		st.run.RankMissingPct < threshold &&
		st.run.ReviewMissingPct < threshold
	st.run.DQPassed = st.dqPassed

	if r.metrics != nil {
		r.metrics.MissingPricePct.Set(st.run.PriceMissingPct)
		r.metrics.MissingRankPct.Set(st.run.RankMissingPct)
	}
	if !st.dqPassed {
		log.Warn().Str("run_id", st.run.RunID).
			Float64("price_missing_pct", st.run.PriceMissingPct).
			Float64("rank_missing_pct", st.run.RankMissingPct).
			Float64("review_missing_pct", st.run.ReviewMissingPct).
			Msg("data quality gate breached")
	}
	return nil
}

func (r *Runner) refreshAggregates(ctx context.Context, st *runState) error {
	if len(st.batch.Records) == 0 {
		return nil
	}
	return r.repo.Aggregates().RefreshAggregates(ctx)
}

// analyzeReviews runs the lexicon extractor over each product's stored
// reviews and persists the improvement profile the scorer consumes.
func (r *Runner) analyzeReviews(ctx context.Context, st *runState) error {
	repo := r.repo.Reviews()
	for i := range st.batch.Records {
		asin := st.batch.Records[i].ASIN
		rs, err := repo.NegativeReviews(ctx, asin, 5)
		if err != nil {
			return fmt.Errorf("load reviews for %s: %w", asin, err)
		}
		if len(rs) == 0 {
			continue
		}

		prof := r.extractor.BuildProfile(rs)
		st.profiles[asin] = prof

		if err := r.persistProfile(ctx, st.run.RunID, asin, prof, rs); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) persistProfile(ctx context.Context, runID, asin string, prof *reviews.Profile, rs []persistence.Review) error {
	repo := r.repo.Reviews()

	var sigs []persistence.ReviewDefectSignal
	for _, d := range prof.TopDefects {
		sigs = append(sigs, persistence.ReviewDefectSignal{
			ASIN:            asin,
			RunID:           runID,
			DefectType:      d.Type,
			Frequency:       d.Frequency,
			SeverityScore:   d.SeverityScore,
			ExampleQuotes:   d.ExampleQuotes,
			ReviewsScanned:  prof.ReviewsAnalyzed,
			NegativeScanned: prof.NegativeAnalyzed,
		})
	}
	if err := repo.InsertDefectSignals(ctx, sigs); err != nil {
		return fmt.Errorf("persist defect signals for %s: %w", asin, err)
	}

	var reqs []persistence.ReviewFeatureRequest
	for _, w := range prof.MissingFeatures {
		reqs = append(reqs, persistence.ReviewFeatureRequest{
			ASIN:         asin,
			RunID:        runID,
			Phrase:       w.Phrase,
			MentionCount: w.Mentions,
			Confidence:   w.Confidence,
			SourceQuotes: w.SourceQuotes,
		})
	}
	if err := repo.InsertFeatureRequests(ctx, reqs); err != nil {
		return fmt.Errorf("persist feature requests for %s: %w", asin, err)
	}

	topDefects, _ := json.Marshal(prof.TopDefects)
	missing, _ := json.Marshal(prof.MissingFeatures)
	row := &persistence.ImprovementProfile{
		ASIN:             asin,
		RunID:            runID,
		TopDefects:       topDefects,
		MissingFeatures:  missing,
		ImprovementScore: prof.ImprovementScore,
		ReviewsAnalyzed:  prof.ReviewsAnalyzed,
		NegativeAnalyzed: prof.NegativeAnalyzed,
		ReviewsReady:     prof.ReviewsReady,
	}
	if prof.DominantPain != "" {
		pain := prof.DominantPain
		row.DominantPain = &pain
	}
	if err := repo.UpsertProfile(ctx, row); err != nil {
		return fmt.Errorf("persist improvement profile for %s: %w", asin, err)
	}

	ids := make([]string, len(rs))
	for i, rv := range rs {
		ids[i] = rv.ReviewID
	}
	return repo.MarkAnalyzed(ctx, ids, r.now().UTC())
}

// score evaluates every fetched product concurrently, assigns stable
// in-run ranks, and persists the immutable artifacts.
func (r *Runner) score(ctx context.Context, st *runState) error {
	asins := make([]string, 0, len(st.batch.Records))
	for i := range st.batch.Records {
		asins = append(asins, st.batch.Records[i].ASIN)
	}
	if len(asins) == 0 {
		return nil
	}

	builder := newSignalBuilder(r.repo)
	workers := r.cfg.Ingestion.ScoringWorkers
	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		opps []*scoring.Opportunity
		wg   sync.WaitGroup
		sem  = make(chan struct{}, workers)
	)
	errCh := make(chan error, 1)

	for _, asin := range asins {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(asin string) {
			defer wg.Done()
			defer func() { <-sem }()

			in, ok, err := builder.Build(ctx, asin, st.profiles[asin])
			if err != nil {
				select {
				case errCh <- fmt.Errorf("build signals for %s: %w", asin, err):
				default:
				}
				return
			}
			if !ok {
				return
			}
			o := r.scorer.Score(in)
			evs := r.detector.DetectAll(asin, thesisMetrics(in, st.profiles[asin]))
			mu.Lock()
			opps = append(opps, o)
			st.theses = append(st.theses, evs...)
			mu.Unlock()
		}(asin)
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rankOpportunities(opps)
	st.opps = opps
	sort.Slice(st.theses, func(i, j int) bool {
		if st.theses[i].ASIN != st.theses[j].ASIN {
			return st.theses[i].ASIN < st.theses[j].ASIN
		}
		return st.theses[i].Type < st.theses[j].Type
	})

	artifacts := make([]persistence.OpportunityArtifact, 0, len(opps))
	ranked := 0
	for _, o := range opps {
		rank := 0
		if !o.Rejected {
			ranked++
			rank = ranked
		}
		artifacts = append(artifacts, o.ToArtifact(st.run.RunID, rank))
	}
	if _, err := r.repo.Artifacts().InsertArtifacts(ctx, artifacts); err != nil {
		return fmt.Errorf("persist scoring artifacts: %w", err)
	}

	if r.metrics != nil {
		r.metrics.Opportunities.Set(float64(len(opps)))
	}
	log.Info().Str("run_id", st.run.RunID).Int("scored", len(opps)).Int("ranked", ranked).
		Msg("scoring complete")
	return nil
}

// rankOpportunities orders non-rejected opportunities by rank score,
// then final score, then shorter window, then ASIN for determinism.
func rankOpportunities(opps []*scoring.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Rejected != b.Rejected {
			return !a.Rejected
		}
		if a.RankScore != b.RankScore {
			return a.RankScore > b.RankScore
		}
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.WindowDays != b.WindowDays {
			return a.WindowDays < b.WindowDays
		}
		return a.ASIN < b.ASIN
	})
}

func (r *Runner) selectShortlist(ctx context.Context, st *runState) error {
	var previous []string
	if active, err := r.repo.Shortlists().Active(ctx); err == nil {
		previous = active.ASINs
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return err
	}

	th := shortlist.Thresholds{
		MinScore: r.cfg.Shortlist.MinScore,
		MinValue: r.cfg.Shortlist.MinValue,
		MaxItems: r.cfg.Shortlist.MaxItems,
	}
	st.selection = shortlist.Select(st.opps, previous, th)

	degraded := !st.dqPassed || st.run.ErrorBudgetBreached
	st.frozen = degraded
	if st.opts.Freeze != nil && *st.opts.Freeze {
		st.frozen = true
	}
	st.run.ShortlistFrozen = st.frozen

	snap := st.selection.ToSnapshot(st.run.RunID, st.frozen)
	if err := r.repo.Shortlists().InsertSnapshot(ctx, snap, !st.frozen); err != nil {
		return fmt.Errorf("persist shortlist: %w", err)
	}

	if r.metrics != nil && !st.frozen {
		r.metrics.ShortlistSize.Set(float64(len(st.selection.Items)))
	}
	log.Info().Str("run_id", st.run.RunID).Int("items", len(st.selection.Items)).
		Bool("frozen", st.frozen).Float64("stability", st.selection.StabilityScore).
		Msg("shortlist selected")
	return nil
}

// finish closes out the run row, posts the budget ledger, writes the
// audit files and translates the status into an exit code.
func (r *Runner) finish(ctx context.Context, st *runState, status persistence.RunStatus, cause error) (*Result, error) {
	ended := r.now().UTC()
	st.run.Status = status
	st.run.EndedAt = &ended
	if raw, err := json.Marshal(st.timings); err == nil {
		st.run.PhaseTimings = raw
	}
	if cause != nil {
		msg := cause.Error()
		st.run.ErrorMessage = &msg
	} else if st.fetchNote != "" {
		st.run.ErrorMessage = &st.fetchNote
	}

	// The run row must close even when the triggering context is gone.
	closeCtx := ctx
	if closeCtx.Err() != nil {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
	}
	if err := r.repo.Runs().Update(closeCtx, st.run); err != nil {
		log.Error().Str("run_id", st.run.RunID).Err(err).Msg("failed to close run record")
	}

	categories := 1
	if st.opts.SkipDiscovery || len(st.opts.ASINs) > 0 {
		categories = 0
	}
	shortlisted := 0
	if st.selection != nil {
		shortlisted = len(st.selection.Items)
	}
	if st.run.TokensConsumed > 0 || status == persistence.RunCompleted || status == persistence.RunDegraded {
		if err := r.budget.RecordRun(closeCtx, st.run.TokensConsumed, categories, shortlisted); err != nil {
			log.Error().Str("run_id", st.run.RunID).Err(err).Msg("failed to post budget ledger")
		}
	}

	res := &Result{
		RunID:       st.run.RunID,
		Status:      status,
		ExitCode:    exitCodeFor(status),
		Scored:      len(st.opps),
		Rejected:    countRejected(st.opps),
		Shortlisted: shortlisted,
		Frozen:      st.frozen,
		Tokens:      st.run.TokensConsumed,
		Selection:   st.selection,
	}

	if path, err := r.writeAudit(st, res); err != nil {
		log.Error().Str("run_id", st.run.RunID).Err(err).Msg("failed to write audit file")
	} else {
		res.AuditPath = path
	}

	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
		r.metrics.RunDuration.Observe(r.now().Sub(st.started).Seconds())
	}

	evt := log.Info()
	if status == persistence.RunFailed {
		evt = log.Error()
	}
	evt.Str("run_id", st.run.RunID).Str("status", string(status)).
		Int("scored", res.Scored).Int("shortlisted", res.Shortlisted).
		Int("tokens", res.Tokens).Err(cause).Msg("pipeline run finished")

	return res, cause
}

func (r *Runner) maxASINs(opts Options) int {
	if opts.MaxASINs > 0 {
		return opts.MaxASINs
	}
	return r.cfg.Ingestion.MaxProducts
}

// configSnapshot freezes the knobs that shaped this run, calibration
// version included, so an audit can be replayed against them.
func (r *Runner) configSnapshot() []byte {
	snap := struct {
		Ingestion   config.IngestionConfig `json:"ingestion"`
		Gates       config.GatesConfig     `json:"gates"`
		Shortlist   config.ShortlistConfig `json:"shortlist"`
		Calibration string                 `json:"calibration_version"`
	}{r.cfg.Ingestion, r.cfg.Gates, r.cfg.Shortlist, r.scorer.Calibration().Version}
	raw, _ := json.Marshal(snap)
	return raw
}

func exitCodeFor(status persistence.RunStatus) int {
	switch status {
	case persistence.RunCompleted:
		return ExitCompleted
	case persistence.RunDegraded:
		return ExitDegraded
	case persistence.RunCancelled:
		return ExitCancelled
	default:
		return ExitFailed
	}
}

func countRejected(opps []*scoring.Opportunity) int {
	n := 0
	for _, o := range opps {
		if o.Rejected {
			n++
		}
	}
	return n
}

func dedupe(asins []string) []string {
	seen := make(map[string]struct{}, len(asins))
	out := make([]string, 0, len(asins))
	for _, a := range asins {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
