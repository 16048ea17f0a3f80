// Package storage defines interfaces for blob storage backends.
// The storage layer persists and retrieves raw blob bytes under their
// content digest; it knows nothing about reference counts or file records.
package storage

import (
	"context"
	"io"
)

// Staged is an upload staged in temporary space: the bytes are durable, the
// digest and size are known, but nothing is visible under the content
// address yet. A Staged must be finished with exactly one of Promote or
// Discard.
type Staged struct {
	// Digest is the SHA-256 hash of the staged bytes (64 hex characters).
	Digest string

	// Size is the number of bytes staged.
	Size int64

	// SniffedMime is the MIME type detected from the first 512 bytes.
	SniffedMime string

	// TempPath is the backend-private staging location.
	TempPath string
}

// Backend defines the interface for storage backends.
// Implementations include the local filesystem CAS and S3.
//
// Ingestion is split in two steps so the caller can consult the blob index
// between them: Stage buffers the bytes and computes the digest, then
// Promote makes them visible under the digest, or Discard drops them when an
// identical blob already exists.
type Backend interface {
	// Stage writes the stream to temporary space, hashing as it copies.
	// The stream is consumed fully; the returned Staged carries the digest,
	// size and sniffed MIME type.
	Stage(ctx context.Context, reader io.Reader) (*Staged, error)

	// Promote makes staged bytes visible under their content address and
	// returns the storage location. Promoting a digest that already exists
	// succeeds and drops the staged copy; content addressing makes the
	// bytes interchangeable.
	Promote(ctx context.Context, staged *Staged) (location string, err error)

	// Discard drops staged bytes without publishing them.
	Discard(ctx context.Context, staged *Staged) error

	// Retrieve opens the content stored under a digest.
	// Returns domain.ErrBlobNotFound if the digest is unknown.
	// The caller must close the returned reader.
	Retrieve(ctx context.Context, digest string) (io.ReadCloser, error)

	// Delete removes content by digest. Only the garbage collector calls
	// this, after the blob index entry is gone.
	Delete(ctx context.Context, digest string) error

	// Exists checks if content with the given digest exists.
	Exists(ctx context.Context, digest string) (bool, error)

	// GetSize returns the size of stored content.
	// Returns domain.ErrBlobNotFound if the digest is unknown.
	GetSize(ctx context.Context, digest string) (int64, error)

	// GetPath returns the backend location for a digest. Useful for
	// debugging and for recording storage_location in the blob index.
	GetPath(digest string) string

	// Stats returns backend-level statistics. Backends that cannot report
	// them return ErrStatsUnavailable.
	Stats(ctx context.Context) (*BackendStats, error)
}

// BackendStats contains storage backend statistics.
type BackendStats struct {
	// TotalBlobs is the number of blobs physically present.
	TotalBlobs int64 `json:"total_blobs"`

	// TotalSize is the total size of all blobs in bytes.
	TotalSize int64 `json:"total_size"`

	// FreeSpace is the available space in bytes, when the backend knows it.
	FreeSpace int64 `json:"free_space"`
}
