package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

// =============================================================================
// Mock Repository Types
// =============================================================================

type mockBlobRepo struct {
	mock.Mock
}

func (m *mockBlobRepo) PutIfAbsent(ctx context.Context, blob *domain.Blob) (*domain.Blob, bool, error) {
	args := m.Called(ctx, blob)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Blob), args.Bool(1), args.Error(2)
}

func (m *mockBlobRepo) GetByDigest(ctx context.Context, digest string) (*domain.Blob, error) {
	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Blob), args.Error(1)
}

func (m *mockBlobRepo) IncrementRef(ctx context.Context, digest string) error {
	args := m.Called(ctx, digest)
	return args.Error(0)
}

func (m *mockBlobRepo) DecrementRef(ctx context.Context, digest string) (int32, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(int32), args.Error(1)
}

func (m *mockBlobRepo) GetRefCount(ctx context.Context, digest string) (int32, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(int32), args.Error(1)
}

func (m *mockBlobRepo) Exists(ctx context.Context, digest string) (bool, error) {
	args := m.Called(ctx, digest)
	return args.Bool(0), args.Error(1)
}

func (m *mockBlobRepo) DeleteIfUnreferenced(ctx context.Context, digest string) error {
	args := m.Called(ctx, digest)
	return args.Error(0)
}

func (m *mockBlobRepo) ListOrphans(ctx context.Context, gracePeriod time.Duration, limit int) ([]*domain.Blob, error) {
	args := m.Called(ctx, gracePeriod, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Blob), args.Error(1)
}

func (m *mockBlobRepo) UpdateLastAccessed(ctx context.Context, digest string) error {
	args := m.Called(ctx, digest)
	return args.Error(0)
}

type mockFileRepo struct {
	mock.Mock
}

func (m *mockFileRepo) Create(ctx context.Context, file *domain.FileRecord) error {
	args := m.Called(ctx, file)
	return args.Error(0)
}

func (m *mockFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FileRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FileRecord), args.Error(1)
}

func (m *mockFileRepo) Update(ctx context.Context, id uuid.UUID, patch domain.FileUpdate) (*domain.FileRecord, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FileRecord), args.Error(1)
}

func (m *mockFileRepo) Delete(ctx context.Context, id uuid.UUID) (string, int32, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Get(1).(int32), args.Error(2)
}

func (m *mockFileRepo) List(ctx context.Context, filter repository.FileFilter, opts repository.ListOptions) (*repository.ListResult[domain.FileRecord], error) {
	args := m.Called(ctx, filter, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ListResult[domain.FileRecord]), args.Error(1)
}

func (m *mockFileRepo) IncrementDownloadCount(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockFileRepo) CountByDigest(ctx context.Context, digest string) (int64, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(int64), args.Error(1)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockUserRepo) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ListResult[domain.User]), args.Error(1)
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

type mockStatsRepo struct {
	mock.Mock
}

func (m *mockStatsRepo) OwnerStats(ctx context.Context, ownerID int64) (*domain.StorageStats, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StorageStats), args.Error(1)
}

func (m *mockStatsRepo) SystemStats(ctx context.Context) (*domain.StorageStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StorageStats), args.Error(1)
}

// =============================================================================
// Mock Storage Backend
// =============================================================================

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Stage(ctx context.Context, reader io.Reader) (*storage.Staged, error) {
	// Consume the stream like a real backend would.
	if reader != nil {
		_, _ = io.Copy(io.Discard, reader)
	}
	args := m.Called(ctx, reader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Staged), args.Error(1)
}

func (m *mockBackend) Promote(ctx context.Context, staged *storage.Staged) (string, error) {
	args := m.Called(ctx, staged)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) Discard(ctx context.Context, staged *storage.Staged) error {
	args := m.Called(ctx, staged)
	return args.Error(0)
}

func (m *mockBackend) Retrieve(ctx context.Context, digest string) (io.ReadCloser, error) {
	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, digest string) error {
	args := m.Called(ctx, digest)
	return args.Error(0)
}

func (m *mockBackend) Exists(ctx context.Context, digest string) (bool, error) {
	args := m.Called(ctx, digest)
	return args.Bool(0), args.Error(1)
}

func (m *mockBackend) GetSize(ctx context.Context, digest string) (int64, error) {
	args := m.Called(ctx, digest)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBackend) GetPath(digest string) string {
	args := m.Called(digest)
	return args.String(0)
}

func (m *mockBackend) Stats(ctx context.Context) (*storage.BackendStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.BackendStats), args.Error(1)
}

// =============================================================================
// Mock Cache
// =============================================================================

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *mockCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockCache) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *mockCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	args := m.Called(ctx, key, delta)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCache) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	args := m.Called(ctx, key, delta)
	return args.Get(0).(int64), args.Error(1)
}
