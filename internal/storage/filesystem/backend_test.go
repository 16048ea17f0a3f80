package filesystem

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

// sha256("hello world")
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()

	root := t.TempDir()
	backend, err := New(root, zerolog.Nop())
	require.NoError(t, err)
	return backend, root
}

func stageContent(t *testing.T, backend *Backend, content string) *storage.Staged {
	t.Helper()

	staged, err := backend.Stage(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	return staged
}

func TestBackend_StagePromoteRetrieve(t *testing.T) {
	backend, root := newTestBackend(t)
	ctx := context.Background()

	staged := stageContent(t, backend, "hello world")
	require.Equal(t, helloDigest, staged.Digest)
	require.Equal(t, int64(11), staged.Size)
	require.Contains(t, staged.SniffedMime, "text/plain")

	location, err := backend.Promote(ctx, staged)
	require.NoError(t, err)
	require.Empty(t, staged.TempPath)

	// Two shard levels of two characters each.
	require.Equal(t, filepath.Join(root, "b9", "4d", helloDigest), location)
	require.Equal(t, location, backend.GetPath(helloDigest))

	exists, err := backend.Exists(ctx, helloDigest)
	require.NoError(t, err)
	require.True(t, exists)

	size, err := backend.GetSize(ctx, helloDigest)
	require.NoError(t, err)
	require.Equal(t, int64(11), size)

	rc, err := backend.Retrieve(ctx, helloDigest)
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	require.NoError(t, err)
	require.Equal(t, "hello world", buf.String())
}

func TestBackend_StageEmptyStream(t *testing.T) {
	backend, _ := newTestBackend(t)

	staged := stageContent(t, backend, "")
	require.Zero(t, staged.Size)
	require.NotEmpty(t, staged.TempPath)

	// Callers reject empty uploads; the staged temp file must still discard
	// cleanly.
	require.NoError(t, backend.Discard(context.Background(), staged))
}

func TestBackend_Discard(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	staged := stageContent(t, backend, "hello world")
	tmpPath := staged.TempPath

	require.NoError(t, backend.Discard(ctx, staged))
	require.Empty(t, staged.TempPath)
	require.NoFileExists(t, tmpPath)

	exists, err := backend.Exists(ctx, helloDigest)
	require.NoError(t, err)
	require.False(t, exists)

	// A consumed Staged cannot be discarded or promoted again.
	require.ErrorIs(t, backend.Discard(ctx, staged), storage.ErrStagedConsumed)
	_, err = backend.Promote(ctx, staged)
	require.ErrorIs(t, err, storage.ErrStagedConsumed)
}

func TestBackend_PromoteOverExisting(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	first := stageContent(t, backend, "hello world")
	location, err := backend.Promote(ctx, first)
	require.NoError(t, err)

	// Promoting identical staged bytes over an existing blob succeeds and
	// drops the duplicate temp file.
	second := stageContent(t, backend, "hello world")
	tmpPath := second.TempPath

	got, err := backend.Promote(ctx, second)
	require.NoError(t, err)
	require.Equal(t, location, got)
	require.NoFileExists(t, tmpPath)
}

func TestBackend_Delete(t *testing.T) {
	backend, root := newTestBackend(t)
	ctx := context.Background()

	staged := stageContent(t, backend, "hello world")
	_, err := backend.Promote(ctx, staged)
	require.NoError(t, err)

	require.NoError(t, backend.Delete(ctx, helloDigest))

	exists, err := backend.Exists(ctx, helloDigest)
	require.NoError(t, err)
	require.False(t, exists)

	// Empty shard directories are pruned.
	_, err = os.Stat(filepath.Join(root, "b9"))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.ErrorIs(t, backend.Delete(ctx, helloDigest), domain.ErrBlobNotFound)
	_, err = backend.Retrieve(ctx, helloDigest)
	require.ErrorIs(t, err, domain.ErrBlobNotFound)
	_, err = backend.GetSize(ctx, helloDigest)
	require.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestBackend_StatsIgnoresStaging(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	promoted := stageContent(t, backend, "hello world")
	_, err := backend.Promote(ctx, promoted)
	require.NoError(t, err)

	// Staged-but-unpromoted bytes are not counted.
	staged := stageContent(t, backend, "pending upload")
	defer backend.Discard(ctx, staged)

	stats, err := backend.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalBlobs)
	require.Equal(t, int64(11), stats.TotalSize)
}
