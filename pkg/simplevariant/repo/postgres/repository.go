package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simplevariant.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return simplevariant.ErrImageNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", operation, simplevariant.ErrImageNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const originalColumns = `id, storage_key, url, width, height, format, content_type, size_bytes, created_at`

const assetColumns = `image_id, variant, object_key, url, width, height, size_bytes, content_type, created_at, updated_at`

func scanOriginal(row pgx.Row) (*simplevariant.Original, error) {
	var o simplevariant.Original
	err := row.Scan(&o.ID, &o.StorageKey, &o.URL, &o.Width, &o.Height,
		&o.Format, &o.ContentType, &o.SizeBytes, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanAsset(row pgx.Row) (*simplevariant.DerivedAsset, error) {
	var a simplevariant.DerivedAsset
	err := row.Scan(&a.ImageID, &a.Variant, &a.Key, &a.URL, &a.Width, &a.Height,
		&a.SizeBytes, &a.ContentType, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Original operations

func (r *Repository) CreateOriginal(ctx context.Context, original *simplevariant.Original) error {
	query := `
		INSERT INTO originals (` + originalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		original.ID, original.StorageKey, original.URL, original.Width, original.Height,
		original.Format, original.ContentType, original.SizeBytes, original.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create original", err)
	}
	return nil
}

func (r *Repository) GetOriginal(ctx context.Context, id uuid.UUID) (*simplevariant.Original, error) {
	query := `SELECT ` + originalColumns + ` FROM originals WHERE id = $1`

	original, err := scanOriginal(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get original", err)
	}
	return original, nil
}

func (r *Repository) GetOriginals(ctx context.Context, ids []uuid.UUID) ([]*simplevariant.Original, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + originalColumns + ` FROM originals WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, r.handlePostgresError("get originals", err)
	}
	defer rows.Close()

	var result []*simplevariant.Original
	for rows.Next() {
		original, err := scanOriginal(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan original", err)
		}
		result = append(result, original)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("get originals", err)
	}
	return result, nil
}

// Derived asset operations

func (r *Repository) UpsertAsset(ctx context.Context, asset *simplevariant.DerivedAsset) error {
	query := `
		INSERT INTO derived_assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (image_id, variant) DO UPDATE SET
			object_key = EXCLUDED.object_key,
			url = EXCLUDED.url,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			size_bytes = EXCLUDED.size_bytes,
			content_type = EXCLUDED.content_type,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		asset.ImageID, asset.Variant, asset.Key, asset.URL, asset.Width, asset.Height,
		asset.SizeBytes, asset.ContentType, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("upsert asset", err)
	}
	return nil
}

func (r *Repository) ListAssets(ctx context.Context, imageID uuid.UUID) ([]*simplevariant.DerivedAsset, error) {
	return r.listAssets(ctx, `SELECT `+assetColumns+` FROM derived_assets WHERE image_id = $1 ORDER BY variant`, imageID)
}

func (r *Repository) ListAssetsByImages(ctx context.Context, imageIDs []uuid.UUID) ([]*simplevariant.DerivedAsset, error) {
	if len(imageIDs) == 0 {
		return nil, nil
	}
	return r.listAssets(ctx, `SELECT `+assetColumns+` FROM derived_assets WHERE image_id = ANY($1) ORDER BY image_id, variant`, imageIDs)
}

func (r *Repository) listAssets(ctx context.Context, query string, arg interface{}) ([]*simplevariant.DerivedAsset, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	var result []*simplevariant.DerivedAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan asset", err)
		}
		result = append(result, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	return result, nil
}

func (r *Repository) DeleteAssets(ctx context.Context, imageID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM derived_assets WHERE image_id = $1`, imageID)
	if err != nil {
		return r.handlePostgresError("delete assets", err)
	}
	return nil
}

func (r *Repository) ListIncomplete(ctx context.Context, variants []string, limit int) ([]*simplevariant.IncompleteImage, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	query := `
		SELECT o.id, o.storage_key, o.url, o.width, o.height, o.format, o.content_type, o.size_bytes, o.created_at,
		       COALESCE(array_agg(a.variant) FILTER (WHERE a.variant IS NOT NULL), '{}') AS present
		FROM originals o
		LEFT JOIN derived_assets a ON a.image_id = o.id AND a.variant = ANY($1)
		GROUP BY o.id
		HAVING COUNT(a.variant) < $2
		ORDER BY o.created_at, o.id
		LIMIT $3`

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, query, variants, len(variants), limit)
	if err != nil {
		return nil, r.handlePostgresError("list incomplete", err)
	}
	defer rows.Close()

	var result []*simplevariant.IncompleteImage
	for rows.Next() {
		var o simplevariant.Original
		var present []string
		if err := rows.Scan(&o.ID, &o.StorageKey, &o.URL, &o.Width, &o.Height,
			&o.Format, &o.ContentType, &o.SizeBytes, &o.CreatedAt, &present); err != nil {
			return nil, r.handlePostgresError("scan incomplete", err)
		}
		result = append(result, &simplevariant.IncompleteImage{
			Original: &o,
			Missing:  missingVariants(variants, present),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list incomplete", err)
	}
	return result, nil
}

func missingVariants(want, present []string) []string {
	have := make(map[string]bool, len(present))
	for _, v := range present {
		have[v] = true
	}
	var missing []string
	for _, v := range want {
		if !have[v] {
			missing = append(missing, v)
		}
	}
	return missing
}

func (r *Repository) VariantStats(ctx context.Context, variants []string) (*simplevariant.VariantStats, error) {
	stats := &simplevariant.VariantStats{}
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM originals`).Scan(&stats.TotalImages); err != nil {
		return nil, r.handlePostgresError("count originals", err)
	}

	query := `
		SELECT variant, COUNT(*), AVG(size_bytes)::float8, MIN(size_bytes), MAX(size_bytes),
		       AVG(width)::float8, AVG(height)::float8
		FROM derived_assets
		WHERE variant = ANY($1)
		GROUP BY variant`

	rows, err := r.db.Query(ctx, query, variants)
	if err != nil {
		return nil, r.handlePostgresError("variant stats", err)
	}
	defer rows.Close()

	byVariant := make(map[string]simplevariant.VariantStat, len(variants))
	for rows.Next() {
		var s simplevariant.VariantStat
		if err := rows.Scan(&s.Variant, &s.Count, &s.AvgSize, &s.MinSize, &s.MaxSize, &s.AvgWidth, &s.AvgHeight); err != nil {
			return nil, r.handlePostgresError("scan variant stats", err)
		}
		byVariant[s.Variant] = s
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("variant stats", err)
	}

	for _, variant := range variants {
		s, ok := byVariant[variant]
		if !ok {
			s = simplevariant.VariantStat{Variant: variant}
		}
		if stats.TotalImages > 0 {
			s.Coverage = float64(s.Count) / float64(stats.TotalImages)
		}
		stats.TotalAssets += s.Count
		stats.Variants = append(stats.Variants, s)
	}
	return stats, nil
}
