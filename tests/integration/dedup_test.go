// Package integration exercises the full ingest, deduplication and
// reclamation pipeline against a real SQLite database and an on-disk
// content-addressed store.
package integration

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/lock"
	"github.com/prn-tf/meridian-vault/internal/pkg/crypto"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/repository/sqlite"
	"github.com/prn-tf/meridian-vault/internal/service"
	"github.com/prn-tf/meridian-vault/internal/storage/filesystem"
)

// testEnv wires the real service stack over temp-dir storage and a temp-file
// database, the same way the server binary does.
type testEnv struct {
	blobs   repository.BlobRepository
	files   repository.FileRepository
	users   repository.UserRepository
	stats   repository.StatsRepository
	backend *filesystem.Backend
	ingest  *service.IngestService
	file    *service.FileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "test.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	backend, err := filesystem.New(t.TempDir(), logger)
	require.NoError(t, err)

	env := &testEnv{
		blobs:   sqlite.NewBlobRepository(db),
		files:   sqlite.NewFileRepository(db),
		users:   sqlite.NewUserRepository(db),
		stats:   sqlite.NewStatsRepository(db),
		backend: backend,
	}

	locker := lock.NewMemoryLocker()
	env.ingest = service.NewIngestService(env.blobs, env.files, env.users, env.stats,
		backend, locker, nil, logger, service.DefaultIngestConfig())
	env.file = service.NewFileService(env.files, env.blobs, backend, nil, logger)

	return env
}

func (env *testEnv) createUser(t *testing.T, email string, quota int64) *domain.User {
	t.Helper()

	user := domain.NewUser(email, "hash", quota)
	require.NoError(t, env.users.Create(context.Background(), user))
	return user
}

func (env *testEnv) upload(t *testing.T, ownerID int64, filename, content string) *service.IngestOutput {
	t.Helper()

	out, err := env.ingest.Ingest(context.Background(), service.IngestInput{
		OwnerID:  ownerID,
		Filename: filename,
		Body:     strings.NewReader(content),
	})
	require.NoError(t, err)
	return out
}

func (env *testEnv) newCollector(gracePeriod time.Duration) *service.GarbageCollector {
	cfg := service.DefaultGCConfig()
	cfg.GracePeriod = gracePeriod
	return service.NewGarbageCollector(env.blobs, env.backend, lock.NewMemoryLocker(), nil, zerolog.Nop(), cfg)
}

func TestDeduplicationLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com", 0)

	// First upload stores the bytes.
	first := env.upload(t, owner.ID, "a.txt", "hello")
	require.False(t, first.Deduplicated)

	// Identical content under a different name shares the blob.
	second := env.upload(t, owner.ID, "b.txt", "hello")
	require.True(t, second.Deduplicated)
	require.Equal(t, first.Digest, second.Digest)

	count, err := env.blobs.GetRefCount(ctx, first.Digest)
	require.NoError(t, err)
	require.Equal(t, int32(2), count)

	// Both records resolve to the same stored bytes.
	for _, id := range []uuid.UUID{first.File.ID, second.File.ID} {
		file, err := env.files.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, first.Digest, file.BlobDigest)
	}

	stats, err := env.stats.OwnerStats(ctx, owner.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), stats.OriginalSize)
	require.Equal(t, int64(5), stats.ActualSize)
	require.InDelta(t, 50.0, stats.SavingsPercentage, 0.01)

	// Deleting one record keeps the shared bytes alive.
	requester := service.Requester{UserID: owner.ID}
	del, err := env.file.DeleteFile(ctx, service.DeleteFileInput{FileID: first.File.ID, Requester: requester})
	require.NoError(t, err)
	require.Equal(t, int32(1), del.RemainingRefs)

	exists, err := env.backend.Exists(ctx, first.Digest)
	require.NoError(t, err)
	require.True(t, exists)

	body, err := env.file.Download(ctx, service.DownloadInput{FileID: second.File.ID, Requester: requester})
	require.NoError(t, err)
	content, err := io.ReadAll(body.Body)
	require.NoError(t, err)
	require.NoError(t, body.Body.Close())
	require.Equal(t, "hello", string(content))

	// Dropping the last reference orphans the blob but does not delete it.
	del, err = env.file.DeleteFile(ctx, service.DeleteFileInput{FileID: second.File.ID, Requester: requester})
	require.NoError(t, err)
	require.Equal(t, int32(0), del.RemainingRefs)

	exists, err = env.backend.Exists(ctx, first.Digest)
	require.NoError(t, err)
	require.True(t, exists)

	// A run inside the grace period leaves the orphan alone.
	result := env.newCollector(time.Hour).RunOnce(ctx)
	require.Zero(t, result.BlobsDeleted)

	// Past the grace period the collector reclaims row and bytes.
	result = env.newCollector(0).RunOnce(ctx)
	require.Equal(t, 1, result.BlobsDeleted)
	require.Zero(t, result.Errors)
	require.Equal(t, int64(5), result.BytesFreed)

	exists, err = env.backend.Exists(ctx, first.Digest)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = env.blobs.GetByDigest(ctx, first.Digest)
	require.ErrorIs(t, err, domain.ErrBlobNotFound)
}

func TestConcurrentIdenticalUploads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()

	const uploaders = 8
	content := "same bytes from everyone"

	owners := make([]*domain.User, uploaders)
	for i := range owners {
		owners[i] = env.createUser(t, fmt.Sprintf("u%d@example.com", i), 0)
	}

	// All uploads race on one digest. Every one must commit: the loser of
	// the blob insert race references the winner's blob.
	outputs := make([]*service.IngestOutput, uploaders)
	errs := make([]error, uploaders)
	var wg sync.WaitGroup
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i], errs[i] = env.ingest.Ingest(ctx, service.IngestInput{
				OwnerID:  owners[i].ID,
				Filename: "shared.bin",
				Body:     strings.NewReader(content),
			})
		}(i)
	}
	wg.Wait()

	digest := crypto.ComputeSHA256([]byte(content))
	dedupHits := 0
	for i := 0; i < uploaders; i++ {
		require.NoError(t, errs[i], "uploader %d", i)
		require.Equal(t, digest, outputs[i].Digest, "uploader %d", i)
		if outputs[i].Deduplicated {
			dedupHits++
		}
	}

	// Exactly one upload created the blob; the rest deduplicated.
	require.Equal(t, uploaders-1, dedupHits)

	count, err := env.blobs.GetRefCount(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, int32(uploaders), count)

	records, err := env.files.CountByDigest(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, int64(uploaders), records)

	backendStats, err := env.backend.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), backendStats.TotalBlobs)
	require.Equal(t, int64(len(content)), backendStats.TotalSize)

	stats, err := env.stats.SystemStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(uploaders), stats.FileCount)
	require.Equal(t, int64(1), stats.UniqueBlobCount)
	require.Equal(t, int64(uploaders*len(content)), stats.OriginalSize)
	require.Equal(t, int64(len(content)), stats.ActualSize)
}

func TestReuploadBeforeReclaim(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com", 0)

	first := env.upload(t, owner.ID, "a.txt", "hello")
	requester := service.Requester{UserID: owner.ID}

	// Deleting the only record orphans the blob but leaves it in place.
	del, err := env.file.DeleteFile(ctx, service.DeleteFileInput{FileID: first.File.ID, Requester: requester})
	require.NoError(t, err)
	require.Equal(t, int32(0), del.RemainingRefs)

	// Re-uploading before the collector runs revives the orphan instead
	// of storing a second copy.
	again := env.upload(t, owner.ID, "b.txt", "hello")
	require.True(t, again.Deduplicated)
	require.Equal(t, first.Digest, again.Digest)

	count, err := env.blobs.GetRefCount(ctx, again.Digest)
	require.NoError(t, err)
	require.Equal(t, int32(1), count)

	backendStats, err := env.backend.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), backendStats.TotalBlobs)

	// The revived blob is referenced again, so the collector leaves it.
	result := env.newCollector(0).RunOnce(ctx)
	require.Zero(t, result.BlobsDeleted)
	require.Zero(t, result.Errors)

	exists, err := env.backend.Exists(ctx, again.Digest)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestReuploadAfterReclaim(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com", 0)

	first := env.upload(t, owner.ID, "a.txt", "hello")
	requester := service.Requester{UserID: owner.ID}

	_, err := env.file.DeleteFile(ctx, service.DeleteFileInput{FileID: first.File.ID, Requester: requester})
	require.NoError(t, err)

	result := env.newCollector(0).RunOnce(ctx)
	require.Equal(t, 1, result.BlobsDeleted)
	require.Zero(t, result.Errors)

	// The same content uploads cleanly again after reclamation.
	again := env.upload(t, owner.ID, "a.txt", "hello")
	require.False(t, again.Deduplicated)
	require.Equal(t, first.Digest, again.Digest)

	exists, err := env.backend.Exists(ctx, again.Digest)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestQuotaChargesActualBytes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com", 8)

	env.upload(t, owner.ID, "a.txt", "hello")

	// Duplicate content is free: actual usage stays at 5 of 8 bytes.
	dup := env.upload(t, owner.ID, "b.txt", "hello")
	require.True(t, dup.Deduplicated)

	// New content that would push actual usage past the quota is refused.
	_, err := env.ingest.Ingest(ctx, service.IngestInput{
		OwnerID:  owner.ID,
		Filename: "c.txt",
		Body:     strings.NewReader("overflow"),
	})
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
}
