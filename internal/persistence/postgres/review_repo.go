package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartacus/smartacus/internal/persistence"
)

// reviewRepo implements ReviewRepo for PostgreSQL.
type reviewRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReviewRepo creates the PostgreSQL review repository.
func NewReviewRepo(db *sqlx.DB, timeout time.Duration) persistence.ReviewRepo {
	return &reviewRepo{db: db, timeout: timeout}
}

// UpsertReviews inserts reviews, refreshing mutable fields on replays.
// analyzed_at is preserved so re-ingesting a review does not force
// re-analysis.
func (r *reviewRepo) UpsertReviews(ctx context.Context, reviews []persistence.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(reviews)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reviews (review_id, asin, title, body, rating, verified, review_date, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (review_id) DO UPDATE SET
			title       = EXCLUDED.title,
			body        = EXCLUDED.body,
			rating      = EXCLUDED.rating,
			verified    = EXCLUDED.verified,
			review_date = EXCLUDED.review_date,
			captured_at = EXCLUDED.captured_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare review upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, rev := range reviews {
		if rev.Rating < 1 || rev.Rating > 5 {
			return written, fmt.Errorf("review %s has invalid rating %d", rev.ReviewID, rev.Rating)
		}
		if _, err := stmt.ExecContext(ctx,
			rev.ReviewID, rev.ASIN, rev.Title, rev.Body, rev.Rating,
			rev.Verified, rev.ReviewDate, rev.CapturedAt); err != nil {
			return written, fmt.Errorf("failed to upsert review %s: %w", rev.ReviewID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit review upsert: %w", err)
	}
	return written, nil
}

// NegativeReviews returns reviews at or below maxRating with a body.
func (r *reviewRepo) NegativeReviews(ctx context.Context, asin string, maxRating int) ([]persistence.Review, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT review_id, asin, title, body, rating, verified, review_date, captured_at, analyzed_at
		FROM reviews
		WHERE asin = $1 AND rating <= $2 AND body <> ''
		ORDER BY review_date DESC NULLS LAST, captured_at DESC`

	var out []persistence.Review
	if err := r.db.SelectContext(ctx, &out, query, asin, maxRating); err != nil {
		return nil, fmt.Errorf("failed to query negative reviews: %w", err)
	}
	return out, nil
}

func (r *reviewRepo) MarkAnalyzed(ctx context.Context, reviewIDs []string, at time.Time) error {
	if len(reviewIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE reviews SET analyzed_at = $1 WHERE review_id = ANY($2)`,
		at, pq.Array(reviewIDs))
	if err != nil {
		return fmt.Errorf("failed to mark reviews analyzed: %w", err)
	}
	return nil
}

func (r *reviewRepo) InsertDefectSignals(ctx context.Context, signals []persistence.ReviewDefectSignal) error {
	if len(signals) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_defect_signals (asin, run_id, defect_type, frequency,
			severity_score, example_quotes, reviews_scanned, negative_scanned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare defect signal insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range signals {
		if !persistence.ValidDefectType(s.DefectType) {
			return fmt.Errorf("unknown defect type %q for %s", s.DefectType, s.ASIN)
		}
		if _, err := stmt.ExecContext(ctx,
			s.ASIN, s.RunID, s.DefectType, s.Frequency, s.SeverityScore,
			pq.Array(s.ExampleQuotes), s.ReviewsScanned, s.NegativeScanned); err != nil {
			return fmt.Errorf("failed to insert defect signal for %s: %w", s.ASIN, err)
		}
	}

	return tx.Commit()
}

func (r *reviewRepo) InsertFeatureRequests(ctx context.Context, requests []persistence.ReviewFeatureRequest) error {
	if len(requests) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_feature_requests (asin, run_id, phrase, mention_count, confidence, source_quotes)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare feature request insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range requests {
		if _, err := stmt.ExecContext(ctx,
			q.ASIN, q.RunID, q.Phrase, q.MentionCount, q.Confidence,
			pq.Array(q.SourceQuotes)); err != nil {
			return fmt.Errorf("failed to insert feature request for %s: %w", q.ASIN, err)
		}
	}

	return tx.Commit()
}

func (r *reviewRepo) UpsertProfile(ctx context.Context, profile *persistence.ImprovementProfile) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO improvement_profiles (asin, run_id, top_defects, missing_features,
			dominant_pain, improvement_score, reviews_analyzed, negative_analyzed, reviews_ready)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asin, run_id) DO UPDATE SET
			top_defects       = EXCLUDED.top_defects,
			missing_features  = EXCLUDED.missing_features,
			dominant_pain     = EXCLUDED.dominant_pain,
			improvement_score = EXCLUDED.improvement_score,
			reviews_analyzed  = EXCLUDED.reviews_analyzed,
			negative_analyzed = EXCLUDED.negative_analyzed,
			reviews_ready     = EXCLUDED.reviews_ready`,
		profile.ASIN, profile.RunID, profile.TopDefects, profile.MissingFeatures,
		profile.DominantPain, profile.ImprovementScore, profile.ReviewsAnalyzed,
		profile.NegativeAnalyzed, profile.ReviewsReady)
	if err != nil {
		return fmt.Errorf("failed to upsert improvement profile for %s: %w", profile.ASIN, err)
	}
	return nil
}

// Profile returns the newest improvement profile for the ASIN.
func (r *reviewRepo) Profile(ctx context.Context, asin string) (*persistence.ImprovementProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT asin, run_id, top_defects, missing_features, dominant_pain,
			improvement_score, reviews_analyzed, negative_analyzed, reviews_ready, created_at
		FROM improvement_profiles
		WHERE asin = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var p persistence.ImprovementProfile
	err := r.db.GetContext(ctx, &p, query, asin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get improvement profile for %s: %w", asin, err)
	}
	return &p, nil
}
