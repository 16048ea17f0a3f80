// Package filesystem implements the storage.Backend interface on a local
// content-addressed directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/pkg/crypto"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

const stagingDir = "staging"

// sniffLen is how many leading bytes MIME detection looks at.
const sniffLen = 512

// Backend stores blobs on the local filesystem, sharded by digest prefix.
// Uploads land in a staging directory first; Promote publishes them with an
// atomic rename so a blob path either holds complete content or nothing.
type Backend struct {
	pathConfig storage.PathConfig
	logger     zerolog.Logger
}

// New creates a filesystem backend rooted at basePath.
func New(basePath string, logger zerolog.Logger) (*Backend, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Backend{
		pathConfig: storage.DefaultPathConfig(abs),
		logger:     logger.With().Str("component", "storage_filesystem").Logger(),
	}, nil
}

// Stage copies the stream to a temp file while hashing it, and sniffs the
// MIME type from the first bytes.
func (b *Backend) Stage(ctx context.Context, reader io.Reader) (*storage.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(b.pathConfig.BasePath, stagingDir), "ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hr := crypto.NewHashReader(reader)
	if _, err := io.Copy(tmp, hr); err != nil {
		cleanup()
		if errors.Is(err, syscall.ENOSPC) {
			return nil, domain.ErrStorageFull
		}
		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}

	// Sniff the MIME type from the staged head.
	head := make([]byte, sniffLen)
	n, err := tmp.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		cleanup()
		return nil, fmt.Errorf("failed to read staged head: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	return &storage.Staged{
		Digest:      hr.Digest(),
		Size:        hr.Size(),
		SniffedMime: http.DetectContentType(head[:n]),
		TempPath:    tmpPath,
	}, nil
}

// Promote publishes staged bytes under their content address with an atomic
// rename. Losing a rename race to an identical blob is success: the bytes
// already there are the same bytes.
func (b *Backend) Promote(ctx context.Context, staged *storage.Staged) (string, error) {
	if staged.TempPath == "" {
		return "", storage.ErrStagedConsumed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := storage.ComputePath(b.pathConfig, staged.Digest)
	if err := os.MkdirAll(storage.GetShardPath(b.pathConfig, staged.Digest), 0o755); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return "", domain.ErrStorageFull
		}
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	if _, err := os.Stat(dst); err == nil {
		_ = os.Remove(staged.TempPath)
		staged.TempPath = ""
		return dst, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat blob path: %w", err)
	}

	if err := os.Rename(staged.TempPath, dst); err != nil {
		if _, statErr := os.Stat(dst); statErr == nil {
			_ = os.Remove(staged.TempPath)
			staged.TempPath = ""
			return dst, nil
		}
		return "", fmt.Errorf("failed to promote staged blob: %w", err)
	}

	staged.TempPath = ""
	b.logger.Debug().Str("digest", staged.Digest).Int64("size", staged.Size).Msg("blob promoted")
	return dst, nil
}

// Discard drops staged bytes without publishing them.
func (b *Backend) Discard(ctx context.Context, staged *storage.Staged) error {
	if staged.TempPath == "" {
		return storage.ErrStagedConsumed
	}
	if err := os.Remove(staged.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard staged blob: %w", err)
	}
	staged.TempPath = ""
	return nil
}

// Retrieve opens the content stored under a digest.
func (b *Backend) Retrieve(ctx context.Context, digest string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(storage.ComputePath(b.pathConfig, digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Delete removes content by digest.
func (b *Backend) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := storage.ComputePath(b.pathConfig, digest)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	// Prune empty shard directories, best-effort.
	dir := filepath.Dir(path)
	for i := 0; i < b.pathConfig.ShardLevels; i++ {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// Exists checks if content with the given digest exists.
func (b *Backend) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := os.Stat(storage.ComputePath(b.pathConfig, digest))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

// GetSize returns the size of stored content.
func (b *Backend) GetSize(ctx context.Context, digest string) (int64, error) {
	info, err := os.Stat(storage.ComputePath(b.pathConfig, digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, domain.ErrBlobNotFound
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

// GetPath returns the filesystem location for a digest.
func (b *Backend) GetPath(digest string) string {
	return storage.ComputePath(b.pathConfig, digest)
}

// Stats walks the tree and reports blob count, total size and free space.
func (b *Backend) Stats(ctx context.Context) (*storage.BackendStats, error) {
	stats := &storage.BackendStats{}

	root := b.pathConfig.BasePath
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && d.Name() == stagingDir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.TotalBlobs++
		stats.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage tree: %w", err)
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(root, &fs); err == nil {
		stats.FreeSpace = int64(fs.Bavail) * int64(fs.Bsize)
	}

	return stats, nil
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
