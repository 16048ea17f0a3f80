package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// blobRepository implements repository.BlobRepository for PostgreSQL.
type blobRepository struct {
	db *DB
}

// NewBlobRepository creates a new PostgreSQL blob repository.
func NewBlobRepository(db *DB) repository.BlobRepository {
	return &blobRepository{db: db}
}

// PutIfAbsent registers a blob under its digest if it does not exist yet.
// ON CONFLICT DO NOTHING plus (xmax = 0) distinguishes the caller whose
// insert landed from callers who raced against an existing row; the DO UPDATE
// no-op is needed so RETURNING produces a row either way.
func (r *blobRepository) PutIfAbsent(ctx context.Context, blob *domain.Blob) (*domain.Blob, bool, error) {
	query := `
		INSERT INTO blobs (digest, size, mime_type, ref_count, storage_location, created_at, last_accessed)
		VALUES ($1, $2, $3, 0, $4, $5, $5)
		ON CONFLICT (digest) DO UPDATE
		SET digest = blobs.digest
		RETURNING size, mime_type, ref_count, storage_location, created_at, last_accessed, (xmax = 0) AS is_new
	`

	stored := &domain.Blob{Digest: blob.Digest}
	var isNew bool
	err := r.db.Pool.QueryRow(ctx, query,
		blob.Digest, blob.Size, blob.MimeType, blob.StorageLocation, time.Now().UTC(),
	).Scan(
		&stored.Size,
		&stored.MimeType,
		&stored.RefCount,
		&stored.StorageLocation,
		&stored.CreatedAt,
		&stored.LastAccessed,
		&isNew,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert blob: %w", err)
	}

	return stored, isNew, nil
}

// GetByDigest retrieves a blob by its content digest.
func (r *blobRepository) GetByDigest(ctx context.Context, digest string) (*domain.Blob, error) {
	query := `
		SELECT digest, size, mime_type, ref_count, storage_location, created_at, last_accessed
		FROM blobs
		WHERE digest = $1
	`

	blob := &domain.Blob{}
	err := r.db.Pool.QueryRow(ctx, query, digest).Scan(
		&blob.Digest,
		&blob.Size,
		&blob.MimeType,
		&blob.RefCount,
		&blob.StorageLocation,
		&blob.CreatedAt,
		&blob.LastAccessed,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob by digest: %w", err)
	}

	return blob, nil
}

// IncrementRef atomically increments the reference count.
func (r *blobRepository) IncrementRef(ctx context.Context, digest string) error {
	query := `
		UPDATE blobs
		SET ref_count = ref_count + 1
		WHERE digest = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, digest)
	if err != nil {
		return fmt.Errorf("failed to increment ref count: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrBlobNotFound
	}

	return nil
}

// DecrementRef atomically decrements the reference count and returns the new
// value. The ref_count > 0 guard keeps the count from ever going negative;
// hitting it on an existing blob signals broken bookkeeping upstream.
func (r *blobRepository) DecrementRef(ctx context.Context, digest string) (int32, error) {
	query := `
		UPDATE blobs
		SET ref_count = ref_count - 1
		WHERE digest = $1 AND ref_count > 0
		RETURNING ref_count
	`

	var newRefCount int32
	err := r.db.Pool.QueryRow(ctx, query, digest).Scan(&newRefCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, exErr := r.Exists(ctx, digest)
			if exErr != nil {
				return 0, exErr
			}
			if exists {
				return 0, domain.ErrRefCountNegative
			}
			return 0, domain.ErrBlobNotFound
		}
		return 0, fmt.Errorf("failed to decrement ref count: %w", err)
	}

	return newRefCount, nil
}

// GetRefCount returns the current reference count for a blob.
func (r *blobRepository) GetRefCount(ctx context.Context, digest string) (int32, error) {
	var refCount int32
	err := r.db.Pool.QueryRow(ctx, `SELECT ref_count FROM blobs WHERE digest = $1`, digest).Scan(&refCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrBlobNotFound
		}
		return 0, fmt.Errorf("failed to get ref count: %w", err)
	}
	return refCount, nil
}

// Exists checks if a blob with the given digest exists.
func (r *blobRepository) Exists(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blobs WHERE digest = $1)`, digest).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return exists, nil
}

// DeleteIfUnreferenced removes the blob index entry while its reference count
// is zero. A nonzero count at execution time means a concurrent ingest
// re-referenced the blob; the caller treats that as a skip, not a failure.
func (r *blobRepository) DeleteIfUnreferenced(ctx context.Context, digest string) error {
	query := `DELETE FROM blobs WHERE digest = $1 AND ref_count <= 0`

	result, err := r.db.Pool.Exec(ctx, query, digest)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	if result.RowsAffected() == 0 {
		exists, err := r.Exists(ctx, digest)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrBlobInUse
		}
		return domain.ErrBlobNotFound
	}

	return nil
}

// ListOrphans returns blobs with ref_count = 0 that are older than the grace period.
func (r *blobRepository) ListOrphans(ctx context.Context, gracePeriod time.Duration, limit int) ([]*domain.Blob, error) {
	query := `
		SELECT digest, size, mime_type, ref_count, storage_location, created_at, last_accessed
		FROM blobs
		WHERE ref_count <= 0 AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	cutoff := time.Now().UTC().Add(-gracePeriod)
	rows, err := r.db.Pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*domain.Blob
	for rows.Next() {
		blob := &domain.Blob{}
		err := rows.Scan(
			&blob.Digest,
			&blob.Size,
			&blob.MimeType,
			&blob.RefCount,
			&blob.StorageLocation,
			&blob.CreatedAt,
			&blob.LastAccessed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		blobs = append(blobs, blob)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}

	return blobs, nil
}

// UpdateLastAccessed updates the last_accessed timestamp.
func (r *blobRepository) UpdateLastAccessed(ctx context.Context, digest string) error {
	query := `UPDATE blobs SET last_accessed = $2 WHERE digest = $1`

	_, err := r.db.Pool.Exec(ctx, query, digest, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update last accessed: %w", err)
	}
	return nil
}

// Ensure blobRepository implements repository.BlobRepository
var _ repository.BlobRepository = (*blobRepository)(nil)
