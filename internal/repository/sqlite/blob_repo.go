package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// blobRepository implements repository.BlobRepository for SQLite.
type blobRepository struct {
	db *DB
}

// NewBlobRepository creates a new SQLite blob repository.
func NewBlobRepository(db *DB) repository.BlobRepository {
	return &blobRepository{db: db}
}

// PutIfAbsent registers a blob under its digest if it does not exist yet.
// INSERT OR IGNORE is the compare-and-insert: the unique primary key on
// digest guarantees that of two racing identical uploads exactly one insert
// lands, and changes() tells us which caller it was.
func (r *blobRepository) PutIfAbsent(ctx context.Context, blob *domain.Blob) (*domain.Blob, bool, error) {
	query := `
		INSERT OR IGNORE INTO blobs (digest, size, mime_type, ref_count, storage_location, created_at, last_accessed)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`
	now := time.Now().UTC().Format(timeLayout)

	result, err := r.db.ExecContext(ctx, query,
		blob.Digest, blob.Size, blob.MimeType, blob.StorageLocation, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert blob: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	stored, err := r.GetByDigest(ctx, blob.Digest)
	if err != nil {
		return nil, false, err
	}

	return stored, inserted > 0, nil
}

// GetByDigest retrieves a blob by its content digest.
func (r *blobRepository) GetByDigest(ctx context.Context, digest string) (*domain.Blob, error) {
	query := `
		SELECT digest, size, mime_type, ref_count, storage_location, created_at, last_accessed
		FROM blobs
		WHERE digest = ?
	`

	blob := &domain.Blob{}
	var createdAt, lastAccessed string

	err := r.db.QueryRowContext(ctx, query, digest).Scan(
		&blob.Digest,
		&blob.Size,
		&blob.MimeType,
		&blob.RefCount,
		&blob.StorageLocation,
		&createdAt,
		&lastAccessed,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob by digest: %w", err)
	}

	blob.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	blob.LastAccessed, _ = time.Parse(timeLayout, lastAccessed)

	return blob, nil
}

// IncrementRef atomically increments the reference count.
func (r *blobRepository) IncrementRef(ctx context.Context, digest string) error {
	query := `
		UPDATE blobs
		SET ref_count = ref_count + 1
		WHERE digest = ?
	`

	result, err := r.db.ExecContext(ctx, query, digest)
	if err != nil {
		return fmt.Errorf("failed to increment ref count: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrBlobNotFound
	}

	return nil
}

// DecrementRef atomically decrements the reference count and returns the new
// value. The ref_count > 0 guard makes decrement-past-zero impossible at the
// SQL level; hitting it means the caller's bookkeeping is broken and the
// error says so.
func (r *blobRepository) DecrementRef(ctx context.Context, digest string) (int32, error) {
	query := `
		UPDATE blobs
		SET ref_count = ref_count - 1
		WHERE digest = ? AND ref_count > 0
	`

	result, err := r.db.ExecContext(ctx, query, digest)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement ref count: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		var refCount int32
		err := r.db.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE digest = ?`, digest).Scan(&refCount)
		if err != nil {
			if isNoRows(err) {
				return 0, domain.ErrBlobNotFound
			}
			return 0, fmt.Errorf("failed to check blob after decrement: %w", err)
		}
		return 0, domain.ErrRefCountNegative
	}

	var newRefCount int32
	err = r.db.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE digest = ?`, digest).Scan(&newRefCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get new ref count: %w", err)
	}

	return newRefCount, nil
}

// GetRefCount returns the current reference count for a blob.
func (r *blobRepository) GetRefCount(ctx context.Context, digest string) (int32, error) {
	var refCount int32
	err := r.db.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE digest = ?`, digest).Scan(&refCount)
	if err != nil {
		if isNoRows(err) {
			return 0, domain.ErrBlobNotFound
		}
		return 0, fmt.Errorf("failed to get ref count: %w", err)
	}
	return refCount, nil
}

// Exists checks if a blob with the given digest exists.
func (r *blobRepository) Exists(ctx context.Context, digest string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE digest = ?`, digest).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return count > 0, nil
}

// DeleteIfUnreferenced removes the blob index entry while its reference count
// is zero. A nonzero count at execution time means a concurrent ingest
// re-referenced the blob; the caller treats that as a skip, not a failure.
func (r *blobRepository) DeleteIfUnreferenced(ctx context.Context, digest string) error {
	query := `DELETE FROM blobs WHERE digest = ? AND ref_count <= 0`

	result, err := r.db.ExecContext(ctx, query, digest)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
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
	cutoff := time.Now().UTC().Add(-gracePeriod).Format(timeLayout)

	query := `
		SELECT digest, size, mime_type, ref_count, storage_location, created_at, last_accessed
		FROM blobs
		WHERE ref_count <= 0 AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*domain.Blob
	for rows.Next() {
		blob := &domain.Blob{}
		var createdAt, lastAccessed string

		err := rows.Scan(
			&blob.Digest,
			&blob.Size,
			&blob.MimeType,
			&blob.RefCount,
			&blob.StorageLocation,
			&createdAt,
			&lastAccessed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}

		blob.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		blob.LastAccessed, _ = time.Parse(timeLayout, lastAccessed)

		blobs = append(blobs, blob)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}

	return blobs, nil
}

// UpdateLastAccessed updates the last_accessed timestamp.
func (r *blobRepository) UpdateLastAccessed(ctx context.Context, digest string) error {
	query := `UPDATE blobs SET last_accessed = ? WHERE digest = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC().Format(timeLayout), digest)
	if err != nil {
		return fmt.Errorf("failed to update last accessed: %w", err)
	}
	return nil
}

// Ensure blobRepository implements repository.BlobRepository.
var _ repository.BlobRepository = (*blobRepository)(nil)
