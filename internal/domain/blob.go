// Package domain contains the core business entities for Meridian Vault.
package domain

import (
	"time"
)

// Blob represents one unique content payload in the content-addressed store.
// Blobs are keyed by the SHA-256 digest of their bytes, so identical uploads
// always resolve to the same blob. Multiple file records can reference the
// same blob; the reference count drives garbage collection.
type Blob struct {
	// Digest is the SHA-256 hash of the content (64 hex characters).
	// This serves as the primary key and storage identifier.
	Digest string `json:"digest"`

	// Size is the exact byte length of the payload.
	Size int64 `json:"size"`

	// MimeType is the sniffed or declared content type. Informational only,
	// never part of content identity.
	MimeType string `json:"mime_type"`

	// RefCount is the number of file records currently pointing at this blob.
	// A blob with RefCount == 0 is eligible for reclamation after the grace
	// period and must not be directly readable.
	RefCount int32 `json:"ref_count"`

	// StorageLocation is the opaque handle to the physical bytes
	// (a sharded filesystem path or an S3 key).
	StorageLocation string `json:"storage_location"`

	// CreatedAt is the timestamp when the blob was first stored.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is the timestamp when the blob was last read.
	LastAccessed time.Time `json:"last_accessed"`
}

// NewBlob creates a Blob record for freshly staged content. The reference
// count starts at zero; the file registry transaction that commits the first
// referencing record performs the increment.
func NewBlob(digest string, size int64, mimeType, storageLocation string) *Blob {
	now := time.Now().UTC()
	return &Blob{
		Digest:          digest,
		Size:            size,
		MimeType:        mimeType,
		RefCount:        0,
		StorageLocation: storageLocation,
		CreatedAt:       now,
		LastAccessed:    now,
	}
}

// IsOrphan returns true if no file records reference this blob.
func (b *Blob) IsOrphan() bool {
	return b.RefCount <= 0
}

// CanGarbageCollect returns true if the blob is orphaned and old enough.
// Young blobs are protected because an in-flight ingest may be between
// registering the blob and committing the file record that references it.
func (b *Blob) CanGarbageCollect(gracePeriod time.Duration) bool {
	if !b.IsOrphan() {
		return false
	}
	return time.Since(b.CreatedAt) > gracePeriod
}
