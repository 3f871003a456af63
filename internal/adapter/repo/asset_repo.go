package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

// AssetRepositoryPG implements domain.AssetRepository.
type AssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAssetRepository creates a new asset repository backed by PostgreSQL.
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepositoryPG {
	return &AssetRepositoryPG{pool: pool}
}

const assetColumns = `id, user_id, job_id, origin, storage_key, source_url, format, width, height, size_bytes, metadata, created_at`

// Create inserts a new asset record.
func (r *AssetRepositoryPG) Create(ctx context.Context, asset *domain.Asset) error {
	query := `
INSERT INTO assets (id, user_id, job_id, origin, storage_key, source_url, format, width, height, size_bytes, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`
	_, err := r.pool.Exec(ctx, query,
		asset.ID,
		asset.UserID,
		asset.JobID,
		asset.Origin,
		asset.StorageKey,
		asset.SourceURL,
		asset.Format,
		asset.Width,
		asset.Height,
		asset.SizeBytes,
		nullableBytes(asset.Metadata),
	)
	return err
}

// GetByID fetches an asset by its identifier.
func (r *AssetRepositoryPG) GetByID(ctx context.Context, assetID string) (*domain.Asset, error) {
	query := `
SELECT ` + assetColumns + `
FROM assets
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, assetID)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return asset, nil
}

// ListByUser returns the user's library, newest first.
func (r *AssetRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Asset, error) {
	query := `
SELECT ` + assetColumns + `
FROM assets
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	return r.list(ctx, query, userID, limit)
}

// ListByJobID returns the assets produced by one job.
func (r *AssetRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Asset, error) {
	query := `
SELECT ` + assetColumns + `
FROM assets
WHERE job_id = $1
ORDER BY created_at ASC;
`
	return r.list(ctx, query, jobID)
}

func (r *AssetRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Asset, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var asset domain.Asset
	if err := row.Scan(
		&asset.ID,
		&asset.UserID,
		&asset.JobID,
		&asset.Origin,
		&asset.StorageKey,
		&asset.SourceURL,
		&asset.Format,
		&asset.Width,
		&asset.Height,
		&asset.SizeBytes,
		&asset.Metadata,
		&asset.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &asset, nil
}

var _ domain.AssetRepository = (*AssetRepositoryPG)(nil)
