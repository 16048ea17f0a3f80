// Package domain contains the core business entities for Meridian Vault.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileRecord represents one user-visible logical file. Every record points at
// exactly one blob via its digest; many records may share a blob, which is
// where deduplication savings come from.
type FileRecord struct {
	// ID is the unique identifier for this record.
	ID uuid.UUID `json:"id"`

	// OwnerID is the user who uploaded the file.
	OwnerID int64 `json:"owner_id"`

	// Filename is the user-supplied display name. Mutable.
	Filename string `json:"filename"`

	// DeclaredMime is the MIME type the client declared at upload time.
	// May differ from the blob's sniffed type.
	DeclaredMime string `json:"declared_mime"`

	// IsPublic controls whether the file is visible to other users. Mutable.
	IsPublic bool `json:"is_public"`

	// Tags are flat user-supplied labels. Mutable.
	Tags []string `json:"tags,omitempty"`

	// BlobDigest references the blob holding this file's bytes. Repointed
	// only by administrative action, never by normal user edits.
	BlobDigest string `json:"blob_digest"`

	// Size is the byte length of the referenced blob, denormalized for
	// listing without a join.
	Size int64 `json:"size"`

	// DownloadCount is a monotonically increasing counter. Updates are
	// best-effort and may lag reads slightly.
	DownloadCount int64 `json:"download_count"`

	// UploadedAt is the immutable creation timestamp.
	UploadedAt time.Time `json:"uploaded_at"`
}

// NewFileRecord creates a FileRecord for a committed upload.
func NewFileRecord(ownerID int64, filename, declaredMime string, isPublic bool, blobDigest string, size int64) *FileRecord {
	return &FileRecord{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Filename:     filename,
		DeclaredMime: declaredMime,
		IsPublic:     isPublic,
		BlobDigest:   blobDigest,
		Size:         size,
		UploadedAt:   time.Now().UTC(),
	}
}

// CanBeAccessedBy reports whether the given requester may read this file.
// Public files are readable by anyone, private files only by their owner
// or an admin.
func (f *FileRecord) CanBeAccessedBy(requesterID int64, isAdmin bool) bool {
	if f.IsPublic {
		return true
	}
	return isAdmin || f.OwnerID == requesterID
}

// CanBeModifiedBy reports whether the given requester may update or delete
// this file. Only the owner and admins qualify, regardless of visibility.
func (f *FileRecord) CanBeModifiedBy(requesterID int64, isAdmin bool) bool {
	return isAdmin || f.OwnerID == requesterID
}

// FileUpdate is a partial update for a file record. Nil fields are left
// untouched.
type FileUpdate struct {
	Filename *string   `json:"filename,omitempty"`
	IsPublic *bool     `json:"is_public,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// IsEmpty returns true if the patch carries no changes.
func (u FileUpdate) IsEmpty() bool {
	return u.Filename == nil && u.IsPublic == nil && u.Tags == nil
}

// FileSortKey selects the ordering for file listings.
type FileSortKey string

const (
	// SortByDate orders by upload timestamp.
	SortByDate FileSortKey = "date"

	// SortByName orders by filename.
	SortByName FileSortKey = "name"

	// SortBySize orders by blob size.
	SortBySize FileSortKey = "size"
)

// Valid reports whether the sort key is one of the supported values.
func (k FileSortKey) Valid() bool {
	switch k {
	case SortByDate, SortByName, SortBySize:
		return true
	}
	return false
}
