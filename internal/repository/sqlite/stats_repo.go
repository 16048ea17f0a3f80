package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// statsRepository implements repository.StatsRepository for SQLite.
type statsRepository struct {
	db *DB
}

// NewStatsRepository creates a new SQLite stats repository.
func NewStatsRepository(db *DB) repository.StatsRepository {
	return &statsRepository{db: db}
}

// OwnerStats aggregates usage for a single owner. Original size counts every
// file record; actual size counts each referenced blob once.
func (r *statsRepository) OwnerStats(ctx context.Context, ownerID int64) (*domain.StorageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(f.size), 0),
			COALESCE((
				SELECT SUM(b.size)
				FROM blobs b
				WHERE b.digest IN (SELECT DISTINCT blob_digest FROM files WHERE owner_id = ?)
			), 0),
			COUNT(f.id),
			COUNT(DISTINCT f.blob_digest)
		FROM files f
		WHERE f.owner_id = ?
	`

	stats := &domain.StorageStats{}
	err := r.db.QueryRowContext(ctx, query, ownerID, ownerID).Scan(
		&stats.OriginalSize,
		&stats.ActualSize,
		&stats.FileCount,
		&stats.UniqueBlobCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate owner stats: %w", err)
	}

	var quota sql.NullInt64
	err = r.db.QueryRowContext(ctx, `SELECT quota_bytes FROM users WHERE id = ?`, ownerID).Scan(&quota)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to read owner quota: %w", err)
	}
	if quota.Valid {
		stats.QuotaBytes = quota.Int64
	}

	stats.ComputeDerived()
	return stats, nil
}

// SystemStats aggregates usage across all owners. Actual size counts every
// referenced blob once globally, so cross-owner duplicates also count as
// savings.
func (r *statsRepository) SystemStats(ctx context.Context) (*domain.StorageStats, error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(size) FROM files), 0),
			COALESCE((SELECT SUM(size) FROM blobs WHERE ref_count > 0), 0),
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(DISTINCT blob_digest) FROM files)
	`

	stats := &domain.StorageStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.OriginalSize,
		&stats.ActualSize,
		&stats.FileCount,
		&stats.UniqueBlobCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate system stats: %w", err)
	}

	stats.ComputeDerived()
	return stats, nil
}

// Ensure statsRepository implements repository.StatsRepository.
var _ repository.StatsRepository = (*statsRepository)(nil)
