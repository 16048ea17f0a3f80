package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/lock"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

var testDigest = strings.Repeat("a", 64)

func newTestIngestService() (*IngestService, *mockBlobRepo, *mockFileRepo, *mockUserRepo, *mockStatsRepo, *mockBackend) {
	blobRepo := new(mockBlobRepo)
	fileRepo := new(mockFileRepo)
	userRepo := new(mockUserRepo)
	statsRepo := new(mockStatsRepo)
	backend := new(mockBackend)

	svc := NewIngestService(
		blobRepo, fileRepo, userRepo, statsRepo,
		backend, lock.NewNoOpLocker(), nil, zerolog.Nop(),
		IngestConfig{
			MaxUploadSize:   1024,
			MaxBatchFiles:   2,
			RetryAttempts:   2,
			RetryBackoff:    time.Millisecond,
			LockTTL:         time.Second,
			LockWaitTimeout: time.Second,
		},
	)
	return svc, blobRepo, fileRepo, userRepo, statsRepo, backend
}

// newContendedIngestService builds a service over a real in-memory locker
// so lock wait behavior can be exercised.
func newContendedIngestService(locker lock.Locker, waitTimeout time.Duration) (*IngestService, *mockBlobRepo, *mockFileRepo, *mockUserRepo, *mockBackend) {
	blobRepo := new(mockBlobRepo)
	fileRepo := new(mockFileRepo)
	userRepo := new(mockUserRepo)
	backend := new(mockBackend)

	svc := NewIngestService(
		blobRepo, fileRepo, userRepo, new(mockStatsRepo),
		backend, locker, nil, zerolog.Nop(),
		IngestConfig{
			MaxUploadSize:   1024,
			MaxBatchFiles:   2,
			RetryAttempts:   2,
			RetryBackoff:    5 * time.Millisecond,
			LockTTL:         time.Second,
			LockWaitTimeout: waitTimeout,
		},
	)
	return svc, blobRepo, fileRepo, userRepo, backend
}

func stagedBlob(size int64) *storage.Staged {
	return &storage.Staged{
		Digest:      testDigest,
		Size:        size,
		SniffedMime: "text/plain; charset=utf-8",
		TempPath:    "/tmp/staging/upload-1",
	}
}

func unlimitedUser(id int64) *domain.User {
	return &domain.User{ID: id, Email: "owner@example.com", IsActive: true}
}

func TestIngestService_Ingest_NewBlob(t *testing.T) {
	svc, blobRepo, fileRepo, userRepo, _, backend := newTestIngestService()

	staged := stagedBlob(11)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(unlimitedUser(1), nil)

	stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, true, nil)
	backend.On("Promote", mock.Anything, staged).Return("/data/aa/aa/"+testDigest, nil)
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil)

	output, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "notes.txt",
		Body:     bytes.NewReader([]byte("hello world")),
	})

	require.NoError(t, err)
	require.False(t, output.Deduplicated)
	require.Equal(t, testDigest, output.Digest)
	require.Equal(t, int64(11), output.File.Size)
	require.Equal(t, "text/plain; charset=utf-8", output.File.DeclaredMime)
	mock.AssertExpectationsForObjects(t, blobRepo, fileRepo, userRepo, backend)
}

func TestIngestService_Ingest_DedupHit(t *testing.T) {
	svc, blobRepo, fileRepo, userRepo, _, backend := newTestIngestService()

	staged := stagedBlob(11)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	userRepo.On("GetByID", mock.Anything, int64(2)).Return(unlimitedUser(2), nil)

	stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
	stored.RefCount = 1
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, false, nil)
	backend.On("Discard", mock.Anything, staged).Return(nil)
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil)

	output, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  2,
		Filename: "copy.txt",
		Body:     bytes.NewReader([]byte("hello world")),
	})

	require.NoError(t, err)
	require.True(t, output.Deduplicated)
	backend.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything)
	mock.AssertExpectationsForObjects(t, blobRepo, fileRepo, backend)
}

func TestIngestService_Ingest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  error
	}{
		{name: "empty filename", filename: "", wantErr: domain.ErrFilenameEmpty},
		{name: "filename too long", filename: strings.Repeat("x", 513), wantErr: domain.ErrFilenameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _, _, backend := newTestIngestService()

			_, err := svc.Ingest(context.Background(), IngestInput{
				OwnerID:  1,
				Filename: tt.filename,
				Body:     bytes.NewReader([]byte("data")),
			})

			require.ErrorIs(t, err, tt.wantErr)
			backend.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestService_Ingest_EmptyUpload(t *testing.T) {
	svc, _, _, _, _, backend := newTestIngestService()

	staged := stagedBlob(0)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("Discard", mock.Anything, staged).Return(nil)

	_, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "empty.txt",
		Body:     bytes.NewReader(nil),
	})

	require.ErrorIs(t, err, domain.ErrEmptyUpload)
	mock.AssertExpectationsForObjects(t, backend)
}

func TestIngestService_Ingest_TooLarge(t *testing.T) {
	svc, _, _, _, _, backend := newTestIngestService()

	staged := stagedBlob(1025)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("Discard", mock.Anything, staged).Return(nil)

	_, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "big.bin",
		Body:     bytes.NewReader(make([]byte, 2048)),
	})

	require.ErrorIs(t, err, ErrUploadTooLarge)
	mock.AssertExpectationsForObjects(t, backend)
}

func TestIngestService_Ingest_QuotaExceeded(t *testing.T) {
	svc, blobRepo, _, userRepo, statsRepo, backend := newTestIngestService()

	staged := stagedBlob(20)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("Discard", mock.Anything, staged).Return(nil)

	owner := unlimitedUser(1)
	owner.QuotaBytes = 100
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(owner, nil)
	blobRepo.On("Exists", mock.Anything, testDigest).Return(false, nil)
	statsRepo.On("OwnerStats", mock.Anything, int64(1)).Return(&domain.StorageStats{ActualSize: 90}, nil)

	_, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "over.bin",
		Body:     bytes.NewReader(make([]byte, 20)),
	})

	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	mock.AssertExpectationsForObjects(t, blobRepo, userRepo, statsRepo, backend)
}

func TestIngestService_Ingest_DuplicateBytesDoNotChargeQuota(t *testing.T) {
	svc, blobRepo, fileRepo, userRepo, statsRepo, backend := newTestIngestService()

	staged := stagedBlob(20)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	backend.On("Discard", mock.Anything, staged).Return(nil)

	// The owner is at the edge of quota, but the bytes already exist so
	// actual usage does not grow.
	owner := unlimitedUser(1)
	owner.QuotaBytes = 100
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(owner, nil)
	blobRepo.On("Exists", mock.Anything, testDigest).Return(true, nil)

	stored := domain.NewBlob(testDigest, 20, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, false, nil)
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil)

	output, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "dup.bin",
		Body:     bytes.NewReader(make([]byte, 20)),
	})

	require.NoError(t, err)
	require.True(t, output.Deduplicated)
	statsRepo.AssertNotCalled(t, "OwnerStats", mock.Anything, mock.Anything)
	mock.AssertExpectationsForObjects(t, blobRepo, fileRepo, userRepo, backend)
}

func TestIngestService_Ingest_WaitsOutContendedLock(t *testing.T) {
	locker := lock.NewMemoryLocker()
	svc, blobRepo, fileRepo, userRepo, backend := newContendedIngestService(locker, 2*time.Second)
	ctx := context.Background()

	// Another ingest of the same bytes holds the digest lock; it lapses
	// well inside the wait budget.
	held, err := locker.Acquire(ctx, lock.Keys.BlobIngest(testDigest), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, held)

	staged := stagedBlob(11)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(unlimitedUser(1), nil)

	stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, true, nil)
	backend.On("Promote", mock.Anything, staged).Return("/data/aa/aa/"+testDigest, nil)
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil)

	output, err := svc.Ingest(ctx, IngestInput{
		OwnerID:  1,
		Filename: "waited.txt",
		Body:     bytes.NewReader([]byte("hello world")),
	})

	require.NoError(t, err)
	require.Equal(t, testDigest, output.Digest)
	mock.AssertExpectationsForObjects(t, blobRepo, fileRepo, backend)
}

func TestIngestService_Ingest_LockWaitTimeoutStillCommits(t *testing.T) {
	locker := lock.NewMemoryLocker()
	svc, blobRepo, fileRepo, userRepo, backend := newContendedIngestService(locker, 30*time.Millisecond)
	ctx := context.Background()

	// The holder outlives the wait budget. The upload must still commit,
	// and must not release a lock it never held.
	key := lock.Keys.BlobIngest(testDigest)
	held, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	staged := stagedBlob(11)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(unlimitedUser(1), nil)

	stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, false, nil)
	backend.On("Discard", mock.Anything, staged).Return(nil)
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil)

	output, err := svc.Ingest(ctx, IngestInput{
		OwnerID:  1,
		Filename: "unlocked.txt",
		Body:     bytes.NewReader([]byte("hello world")),
	})

	require.NoError(t, err)
	require.True(t, output.Deduplicated)

	stillHeld, err := locker.IsHeld(ctx, key)
	require.NoError(t, err)
	require.True(t, stillHeld)
	mock.AssertExpectationsForObjects(t, blobRepo, fileRepo, backend)
}

func TestIngestService_Ingest_StorageFull(t *testing.T) {
	svc, _, _, _, _, backend := newTestIngestService()

	backend.On("Stage", mock.Anything, mock.Anything).Return(nil, domain.ErrStorageFull)

	_, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "full.bin",
		Body:     bytes.NewReader([]byte("data")),
	})

	require.ErrorIs(t, err, domain.ErrStorageFull)
	require.NotErrorIs(t, err, ErrInternalError)
}

func TestIngestService_Ingest_ReResolvesWhenBlobVanishes(t *testing.T) {
	svc, blobRepo, fileRepo, userRepo, _, backend := newTestIngestService()

	staged := stagedBlob(11)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(unlimitedUser(1), nil)

	stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)

	// First round: existing entry, but the row vanishes before the commit.
	// The staged copy must survive the round so it can still be promoted.
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, false, nil).Once()
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(domain.ErrBlobNotFound).Once()

	// Second round: fresh registration succeeds.
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, true, nil).Once()
	backend.On("Promote", mock.Anything, staged).Return("/data/aa/aa/"+testDigest, nil).Once()
	fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil).Once()

	output, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "race.txt",
		Body:     bytes.NewReader([]byte("hello world")),
	})

	require.NoError(t, err)
	require.Equal(t, testDigest, output.Digest)
	mock.AssertExpectationsForObjects(t, blobRepo, fileRepo, backend)
}

func TestIngestService_Ingest_PromoteFailureRollsBackIndex(t *testing.T) {
	svc, blobRepo, fileRepo, userRepo, _, backend := newTestIngestService()

	staged := stagedBlob(11)
	backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
	backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
	userRepo.On("GetByID", mock.Anything, int64(1)).Return(unlimitedUser(1), nil)

	stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
	blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, true, nil)
	backend.On("Promote", mock.Anything, staged).Return("", context.DeadlineExceeded)
	blobRepo.On("DeleteIfUnreferenced", mock.Anything, testDigest).Return(nil)
	backend.On("Discard", mock.Anything, staged).Return(nil)

	_, err := svc.Ingest(context.Background(), IngestInput{
		OwnerID:  1,
		Filename: "fail.txt",
		Body:     bytes.NewReader([]byte("hello world")),
	})

	require.ErrorIs(t, err, ErrInternalError)
	fileRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	mock.AssertExpectationsForObjects(t, blobRepo, backend)
}

func TestIngestService_IngestBatch(t *testing.T) {
	t.Run("too many files", func(t *testing.T) {
		svc, _, _, _, _, _ := newTestIngestService()

		inputs := make([]IngestInput, 3)
		for i := range inputs {
			inputs[i] = IngestInput{OwnerID: 1, Filename: "f", Body: bytes.NewReader([]byte("x"))}
		}

		_, err := svc.IngestBatch(context.Background(), inputs)
		require.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("independent outcomes", func(t *testing.T) {
		svc, blobRepo, fileRepo, userRepo, _, backend := newTestIngestService()

		staged := stagedBlob(11)
		backend.On("Stage", mock.Anything, mock.Anything).Return(staged, nil)
		backend.On("GetPath", testDigest).Return("/data/aa/aa/" + testDigest)
		userRepo.On("GetByID", mock.Anything, int64(1)).Return(unlimitedUser(1), nil)

		stored := domain.NewBlob(testDigest, 11, "text/plain; charset=utf-8", "/data/aa/aa/"+testDigest)
		blobRepo.On("PutIfAbsent", mock.Anything, mock.AnythingOfType("*domain.Blob")).Return(stored, true, nil)
		backend.On("Promote", mock.Anything, staged).Return("/data/aa/aa/"+testDigest, nil)
		fileRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.FileRecord")).Return(nil)

		outcomes, err := svc.IngestBatch(context.Background(), []IngestInput{
			{OwnerID: 1, Filename: "", Body: bytes.NewReader([]byte("bad"))},
			{OwnerID: 1, Filename: "good.txt", Body: bytes.NewReader([]byte("hello world"))},
		})

		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		require.Equal(t, StateFailed, outcomes[0].State)
		require.ErrorIs(t, outcomes[0].Err, domain.ErrFilenameEmpty)
		require.Equal(t, StateCommitted, outcomes[1].State)
		require.NotNil(t, outcomes[1].Output)
	})
}
