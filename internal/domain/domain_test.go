package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewBlob_StartsUnreferenced(t *testing.T) {
	blob := NewBlob(strings.Repeat("a", 64), 100, "text/plain", "/data/aa")

	require.Equal(t, int32(0), blob.RefCount)
	require.True(t, blob.IsOrphan())
	require.WithinDuration(t, time.Now().UTC(), blob.CreatedAt, time.Second)
}

func TestBlob_CanGarbageCollect(t *testing.T) {
	blob := NewBlob(strings.Repeat("a", 64), 100, "text/plain", "/data/aa")
	grace := time.Hour

	// Fresh orphan is inside the grace period.
	require.False(t, blob.CanGarbageCollect(grace))

	blob.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.True(t, blob.CanGarbageCollect(grace))

	// A referenced blob is never collectable, regardless of age.
	blob.RefCount = 1
	require.False(t, blob.CanGarbageCollect(grace))
}

func TestFileRecord_Access(t *testing.T) {
	file := NewFileRecord(1, "doc.txt", "text/plain", false, strings.Repeat("b", 64), 10)

	require.True(t, file.CanBeAccessedBy(1, false))
	require.False(t, file.CanBeAccessedBy(2, false))
	require.True(t, file.CanBeAccessedBy(2, true))
	require.False(t, file.CanBeAccessedBy(0, false))

	file.IsPublic = true
	require.True(t, file.CanBeAccessedBy(2, false))
	require.True(t, file.CanBeAccessedBy(0, false))

	// Modification stays owner-or-admin even for public files.
	require.True(t, file.CanBeModifiedBy(1, false))
	require.False(t, file.CanBeModifiedBy(2, false))
	require.True(t, file.CanBeModifiedBy(2, true))
}

func TestFileUpdate_IsEmpty(t *testing.T) {
	require.True(t, FileUpdate{}.IsEmpty())

	name := "x"
	require.False(t, FileUpdate{Filename: &name}.IsEmpty())

	public := false
	require.False(t, FileUpdate{IsPublic: &public}.IsEmpty())

	tags := []string{}
	require.False(t, FileUpdate{Tags: &tags}.IsEmpty())
}

func TestFileSortKey_Valid(t *testing.T) {
	require.True(t, SortByDate.Valid())
	require.True(t, SortByName.Valid())
	require.True(t, SortBySize.Valid())
	require.False(t, FileSortKey("bogus").Valid())
	require.False(t, FileSortKey("").Valid())
}

func TestStorageStats_ComputeDerived(t *testing.T) {
	stats := &StorageStats{OriginalSize: 300, ActualSize: 100}
	stats.ComputeDerived()

	require.Equal(t, int64(200), stats.Savings)
	require.InDelta(t, 66.66, stats.SavingsPercentage, 0.01)

	// No files means no savings, not a division by zero.
	empty := &StorageStats{}
	empty.ComputeDerived()
	require.Zero(t, empty.Savings)
	require.Zero(t, empty.SavingsPercentage)
}

func TestStorageStats_DedupFileRatio(t *testing.T) {
	stats := &StorageStats{FileCount: 4, UniqueBlobCount: 3}
	require.InDelta(t, 0.25, stats.DedupFileRatio(), 0.001)

	require.Zero(t, (&StorageStats{}).DedupFileRatio())
}

func TestDomainError_Unwrap(t *testing.T) {
	err := NewDomainError(ErrBlobInUse, "gc", strings.Repeat("c", 64))

	require.ErrorIs(t, err, ErrBlobInUse)
	require.Contains(t, err.Error(), "gc")

	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	require.Equal(t, strings.Repeat("c", 64), domainErr.Resource)
}
