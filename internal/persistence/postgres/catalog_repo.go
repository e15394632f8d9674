package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartacus/smartacus/internal/persistence"
)

// catalogRepo implements CatalogRepo for PostgreSQL.
type catalogRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCatalogRepo creates the PostgreSQL catalog repository.
func NewCatalogRepo(db *sqlx.DB, timeout time.Duration) persistence.CatalogRepo {
	return &catalogRepo{db: db, timeout: timeout}
}

// UpsertProducts inserts new ASINs and refreshes mutable attributes on
// conflict. last_seen_at / last_updated_at always advance.
func (r *catalogRepo) UpsertProducts(ctx context.Context, products []persistence.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(products)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (asin, title, brand, manufacturer, category_id, category_path,
			dimensions, active, tracking_priority, first_seen_at, last_seen_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, NOW(), NOW(), NOW())
		ON CONFLICT (asin) DO UPDATE SET
			title            = COALESCE(EXCLUDED.title, products.title),
			brand            = COALESCE(EXCLUDED.brand, products.brand),
			manufacturer     = COALESCE(EXCLUDED.manufacturer, products.manufacturer),
			category_id      = COALESCE(EXCLUDED.category_id, products.category_id),
			category_path    = COALESCE(EXCLUDED.category_path, products.category_path),
			dimensions       = COALESCE(EXCLUDED.dimensions, products.dimensions),
			tracking_priority = EXCLUDED.tracking_priority,
			last_seen_at     = NOW(),
			last_updated_at  = NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, p := range products {
		var dims []byte
		if len(p.DimensionsJSON) > 0 {
			dims = p.DimensionsJSON
			if !json.Valid(dims) {
				return written, fmt.Errorf("invalid dimensions JSON for %s", p.ASIN)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			p.ASIN, p.Title, p.Brand, p.Manufacturer, p.CategoryID,
			pq.Array(p.CategoryPath), dims, p.TrackingPriority); err != nil {
			return written, fmt.Errorf("failed to upsert product %s: %w", p.ASIN, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit product upsert: %w", err)
	}
	return written, nil
}

// Get returns one catalog row.
func (r *catalogRepo) Get(ctx context.Context, asin string) (*persistence.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT asin, title, brand, manufacturer, category_id, category_path, dimensions,
			active, tracking_priority, first_seen_at, last_seen_at, last_updated_at, deleted_at
		FROM products
		WHERE asin = $1`

	var p persistence.Product
	var path pq.StringArray
	err := r.db.QueryRowxContext(ctx, query, asin).Scan(
		&p.ASIN, &p.Title, &p.Brand, &p.Manufacturer, &p.CategoryID, &path, &p.DimensionsJSON,
		&p.Active, &p.TrackingPriority, &p.FirstSeenAt, &p.LastSeenAt, &p.LastUpdatedAt, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product %s: %w", asin, err)
	}
	p.CategoryPath = []string(path)
	return &p, nil
}

// ListTracked returns active ASINs by priority then ASIN.
func (r *catalogRepo) ListTracked(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT asin
		FROM products
		WHERE active = TRUE AND deleted_at IS NULL
		ORDER BY tracking_priority DESC, asin
		LIMIT $1`

	var asins []string
	if err := r.db.SelectContext(ctx, &asins, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list tracked products: %w", err)
	}
	return asins, nil
}

// ListStale keeps candidates needing a refresh, preserving input order.
// Unknown ASINs count as stale.
func (r *catalogRepo) ListStale(ctx context.Context, asins []string, olderThan time.Time) ([]string, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT asin
		FROM products
		WHERE asin = ANY($1) AND last_updated_at >= $2`

	var fresh []string
	if err := r.db.SelectContext(ctx, &fresh, query, pq.Array(asins), olderThan); err != nil {
		return nil, fmt.Errorf("failed to list fresh products: %w", err)
	}

	freshSet := make(map[string]struct{}, len(fresh))
	for _, a := range fresh {
		freshSet[a] = struct{}{}
	}
	var stale []string
	for _, a := range asins {
		if _, ok := freshSet[a]; !ok {
			stale = append(stale, a)
		}
	}
	return stale, nil
}

// MarkDelisted soft-deletes the product.
func (r *catalogRepo) MarkDelisted(ctx context.Context, asin string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET active = FALSE, deleted_at = NOW(), last_updated_at = NOW()
		WHERE asin = $1 AND deleted_at IS NULL`, asin)
	if err != nil {
		return fmt.Errorf("failed to mark product delisted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
