// Package repository defines data access interfaces for Meridian Vault.
// These interfaces abstract database operations, allowing for different
// implementations (PostgreSQL, SQLite, mocks for testing) while keeping the
// service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-vault/internal/domain"
)

// =============================================================================
// Blob Repository (Content-Addressable Storage Metadata)
// =============================================================================

// BlobRepository defines the interface for blob metadata access. It owns the
// digest-keyed index and the per-blob reference count.
type BlobRepository interface {
	// PutIfAbsent registers a blob under its digest if no blob with that
	// digest exists yet. The check-and-insert is atomic with respect to
	// concurrent identical uploads: exactly one caller observes wasNew=true
	// and becomes the owner of the physical bytes; every other caller gets
	// the existing blob with wasNew=false and must discard its staged copy.
	// New blobs start with a zero reference count.
	PutIfAbsent(ctx context.Context, blob *domain.Blob) (stored *domain.Blob, wasNew bool, err error)

	// GetByDigest retrieves a blob by its content digest.
	// Returns domain.ErrBlobNotFound if the digest is unknown.
	GetByDigest(ctx context.Context, digest string) (*domain.Blob, error)

	// IncrementRef atomically increments the reference count.
	// Returns domain.ErrBlobNotFound if the digest is unknown.
	IncrementRef(ctx context.Context, digest string) error

	// DecrementRef atomically decrements the reference count and returns the
	// post-decrement value, so the caller can decide without a second round
	// trip whether the blob became eligible for garbage collection.
	// Decrementing a count that is already zero returns
	// domain.ErrRefCountNegative and leaves the count untouched.
	DecrementRef(ctx context.Context, digest string) (newRefCount int32, err error)

	// GetRefCount returns the current reference count for a blob.
	GetRefCount(ctx context.Context, digest string) (int32, error)

	// Exists checks if a blob with the given digest exists.
	Exists(ctx context.Context, digest string) (bool, error)

	// DeleteIfUnreferenced removes the blob index entry, guarded by the
	// reference count: the delete succeeds only while ref_count is zero.
	// Returns domain.ErrBlobInUse if the count is nonzero at execution time
	// (a concurrent ingest won the race) and domain.ErrBlobNotFound if the
	// digest is unknown.
	DeleteIfUnreferenced(ctx context.Context, digest string) error

	// ListOrphans returns blobs with ref_count = 0 that are older than the
	// grace period. Used by garbage collection.
	ListOrphans(ctx context.Context, gracePeriod time.Duration, limit int) ([]*domain.Blob, error)

	// UpdateLastAccessed updates the last_accessed timestamp. Best-effort.
	UpdateLastAccessed(ctx context.Context, digest string) error
}

// =============================================================================
// File Repository
// =============================================================================

// FileRepository defines the interface for file record access. Creating and
// deleting records adjusts the referenced blob's count in the same
// transaction, so record count and reference count can never diverge.
type FileRepository interface {
	// Create inserts the record and increments the referenced blob's count
	// atomically: both happen or neither does. Fails with
	// domain.ErrBlobNotFound if the digest references no blob.
	Create(ctx context.Context, file *domain.FileRecord) error

	// GetByID retrieves a file record by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FileRecord, error)

	// Update applies a partial update. Nil patch fields are left untouched.
	Update(ctx context.Context, id uuid.UUID, patch domain.FileUpdate) (*domain.FileRecord, error)

	// Delete removes the record and decrements its blob's reference count
	// atomically with the removal. Returns the blob digest and its
	// post-decrement reference count so the caller can observe whether the
	// blob became an orphan.
	Delete(ctx context.Context, id uuid.UUID) (digest string, newRefCount int32, err error)

	// List returns file records matching the filter, sorted by opts with an
	// id tie-break for deterministic pagination.
	List(ctx context.Context, filter FileFilter, opts ListOptions) (*ListResult[domain.FileRecord], error)

	// IncrementDownloadCount bumps the download counter. Best-effort: callers
	// tolerate slight staleness and ignore failures.
	IncrementDownloadCount(ctx context.Context, id uuid.UUID) error

	// CountByDigest returns the number of records referencing a digest.
	// Used by conservation checks and admin tooling.
	CountByDigest(ctx context.Context, digest string) (int64, error)
}

// FileFilter selects file records in List. Zero values mean "no constraint".
type FileFilter struct {
	// OwnerID limits results to one owner. Zero means all owners.
	OwnerID int64

	// OnlyPublic limits results to public files.
	OnlyPublic bool

	// Search matches a substring of the filename, case-insensitive.
	Search string

	// MimeType matches the declared MIME type exactly.
	MimeType string

	// MinSize and MaxSize bound the blob size in bytes. Zero means unbounded.
	MinSize int64
	MaxSize int64

	// Tags requires every listed tag to be present on the record.
	Tags []string

	// UploaderEmail limits results to files owned by the user with this
	// email. Used for public-file search.
	UploaderEmail string
}

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Create creates a new user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update updates an existing user.
	Update(ctx context.Context, user *domain.User) error

	// Delete deletes a user by ID.
	Delete(ctx context.Context, id int64) error

	// List returns all users with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// =============================================================================
// Stats Repository
// =============================================================================

// StatsRepository derives usage figures from the blob and file tables.
// Reads are point-in-time, not transactional: concurrent mutation yields a
// best-effort consistent snapshot.
type StatsRepository interface {
	// OwnerStats aggregates usage for a single owner.
	OwnerStats(ctx context.Context, ownerID int64) (*domain.StorageStats, error)

	// SystemStats aggregates usage across all owners, using distinct blobs
	// globally for actual storage.
	SystemStats(ctx context.Context) (*domain.StorageStats, error)
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination and ordering options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int

	// SortBy specifies the sort key.
	SortBy domain.FileSortKey

	// Descending specifies descending order if true.
	Descending bool
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// =============================================================================
// Transaction Support
// =============================================================================

// TxManager defines the interface for transaction management.
type TxManager interface {
	// WithTx executes the given function within a transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
