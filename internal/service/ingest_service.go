package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/lock"
	"github.com/prn-tf/meridian-vault/internal/metrics"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

// maxFilenameLength bounds user-supplied filenames.
const maxFilenameLength = 512

// IngestState names the phases an upload moves through. Transitions are
// strictly forward; a failure in any phase ends in StateFailed.
type IngestState string

const (
	// StateReceiving: upload bytes are streaming into staging.
	StateReceiving IngestState = "receiving"

	// StateHashing: the digest is being finalized over the staged bytes.
	StateHashing IngestState = "hashing"

	// StateResolving: the digest is being resolved against the blob index.
	StateResolving IngestState = "resolving"

	// StateCommitted: the file record exists and references its blob.
	StateCommitted IngestState = "committed"

	// StateFailed: the upload was aborted; staged bytes are discarded.
	StateFailed IngestState = "failed"
)

// IngestService coordinates upload ingestion: staging, hashing, dedup
// resolution against the blob index, and the file record commit.
type IngestService struct {
	blobRepo  repository.BlobRepository
	fileRepo  repository.FileRepository
	userRepo  repository.UserRepository
	statsRepo repository.StatsRepository
	storage   storage.Backend
	locker    lock.Locker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	config    IngestConfig
}

// IngestConfig contains ingestion limits and retry behavior.
type IngestConfig struct {
	// MaxUploadSize caps a single upload in bytes.
	MaxUploadSize int64

	// MaxBatchFiles caps the number of files in one batch upload.
	MaxBatchFiles int

	// RetryAttempts is how many times a transient blob-index failure is
	// retried before the upload fails.
	RetryAttempts int

	// RetryBackoff is the base delay between retries.
	RetryBackoff time.Duration

	// LockTTL is how long the per-digest lock lives if never released.
	LockTTL time.Duration

	// LockWaitTimeout bounds how long an upload waits for a contended
	// per-digest lock. Keep it at least LockTTL so a crashed holder's
	// lock expires within the wait.
	LockWaitTimeout time.Duration
}

// DefaultIngestConfig returns sensible defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		MaxUploadSize:   1024 * 1024 * 1024,
		MaxBatchFiles:   100,
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		LockTTL:         30 * time.Second,
		LockWaitTimeout: 30 * time.Second,
	}
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	blobRepo repository.BlobRepository,
	fileRepo repository.FileRepository,
	userRepo repository.UserRepository,
	statsRepo repository.StatsRepository,
	backend storage.Backend,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config IngestConfig,
) *IngestService {
	return &IngestService{
		blobRepo:  blobRepo,
		fileRepo:  fileRepo,
		userRepo:  userRepo,
		statsRepo: statsRepo,
		storage:   backend,
		locker:    locker,
		metrics:   m,
		logger:    logger.With().Str("service", "ingest").Logger(),
		config:    config,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// IngestInput contains the data needed to ingest one upload.
type IngestInput struct {
	OwnerID      int64
	Filename     string
	DeclaredMime string
	IsPublic     bool
	Tags         []string
	Body         io.Reader
}

// IngestOutput contains the result of a committed upload.
type IngestOutput struct {
	File *domain.FileRecord

	// Deduplicated is true when the bytes resolved to an existing blob and
	// the staged copy was discarded.
	Deduplicated bool

	// Digest is the content digest of the referenced blob.
	Digest string
}

// BatchOutcome is the independent result for one file of a batch upload.
type BatchOutcome struct {
	Filename string
	State    IngestState
	Output   *IngestOutput
	Err      error
}

// =============================================================================
// Service Methods
// =============================================================================

// Ingest runs one upload through the full pipeline and commits a file record.
// Identical bytes uploaded twice, even by different owners, end up as two
// records referencing one blob.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*IngestOutput, error) {
	if err := validateFilename(input.Filename); err != nil {
		return nil, err
	}

	// Receiving + Hashing: the backend stages the stream and hashes it in
	// one pass. The limit is one past the cap so an oversized upload is
	// detectable without reading it fully.
	limited := io.LimitReader(input.Body, s.config.MaxUploadSize+1)
	staged, err := s.storage.Stage(ctx, limited)
	if err != nil {
		s.recordOutcome("stage_failed", 0, false)
		s.logger.Error().Err(err).Str("filename", input.Filename).Msg("failed to stage upload")
		if errors.Is(err, domain.ErrStorageFull) {
			return nil, domain.ErrStorageFull
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if staged.Size == 0 {
		_ = s.storage.Discard(ctx, staged)
		s.recordOutcome("empty", 0, false)
		return nil, domain.ErrEmptyUpload
	}
	if staged.Size > s.config.MaxUploadSize {
		_ = s.storage.Discard(ctx, staged)
		s.recordOutcome("too_large", 0, false)
		return nil, ErrUploadTooLarge
	}

	if err := s.checkQuota(ctx, input.OwnerID, staged); err != nil {
		_ = s.storage.Discard(ctx, staged)
		s.recordOutcome("quota", 0, false)
		return nil, err
	}

	mimeType := input.DeclaredMime
	if mimeType == "" {
		mimeType = staged.SniffedMime
	}

	// Resolving: the per-digest lock serializes this upload against
	// concurrent ingests of the same bytes and against the garbage
	// collector reclaiming the same digest. Contention here means
	// identical bytes arrived at the same time, so the upload waits out
	// the current holder instead of failing.
	lockKey := lock.Keys.BlobIngest(staged.Digest)
	acquired, err := s.locker.AcquireWithWait(ctx, lockKey, s.config.LockTTL, s.config.LockWaitTimeout, s.config.RetryBackoff)
	if err != nil {
		_ = s.storage.Discard(ctx, staged)
		s.recordOutcome("lock_failed", 0, false)
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !acquired {
		// The holder outlived the wait, which with LockWaitTimeout >=
		// LockTTL means the lock is being re-taken faster than it frees
		// up. The index insert is atomic and the record commit is
		// transactional, so resolving stays correct without the lock;
		// proceed rather than fail the upload.
		s.logger.Warn().Str("digest", staged.Digest).Msg("ingest lock wait timed out, resolving unlocked")
	}
	defer func() {
		if !acquired {
			return
		}
		if _, err := s.locker.Release(ctx, lockKey); err != nil {
			s.logger.Error().Err(err).Str("digest", staged.Digest).Msg("failed to release ingest lock")
		}
	}()

	output, err := s.resolveAndCommit(ctx, input, staged, mimeType)
	if err != nil {
		if staged.TempPath != "" {
			_ = s.storage.Discard(ctx, staged)
		}
		return nil, err
	}

	s.recordOutcome("committed", output.File.Size, output.Deduplicated)
	s.logger.Info().
		Str("file_id", output.File.ID.String()).
		Str("digest", output.Digest).
		Int64("size", output.File.Size).
		Bool("deduplicated", output.Deduplicated).
		Int64("owner_id", input.OwnerID).
		Msg("upload committed")

	return output, nil
}

// IngestBatch processes multiple uploads with independent outcomes: one
// failure never aborts the others.
func (s *IngestService) IngestBatch(ctx context.Context, inputs []IngestInput) ([]BatchOutcome, error) {
	if s.config.MaxBatchFiles > 0 && len(inputs) > s.config.MaxBatchFiles {
		return nil, ErrBatchTooLarge
	}

	outcomes := make([]BatchOutcome, 0, len(inputs))
	for _, input := range inputs {
		output, err := s.Ingest(ctx, input)
		outcome := BatchOutcome{Filename: input.Filename}
		if err != nil {
			outcome.State = StateFailed
			outcome.Err = err
		} else {
			outcome.State = StateCommitted
			outcome.Output = output
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// resolveAndCommit registers the digest in the blob index, promotes or
// discards the staged bytes, and commits the file record. The blob index
// write is retried on transient failures; a blob vanishing between
// registration and commit triggers a fresh resolve.
func (s *IngestService) resolveAndCommit(ctx context.Context, input IngestInput, staged *storage.Staged, mimeType string) (*IngestOutput, error) {
	blob := domain.NewBlob(staged.Digest, staged.Size, mimeType, s.storage.GetPath(staged.Digest))

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.config.RetryBackoff * time.Duration(attempt)):
			}
		}

		stored, wasNew, err := s.blobRepo.PutIfAbsent(ctx, blob)
		if err != nil {
			lastErr = err
			s.logger.Warn().Err(err).Str("digest", staged.Digest).Int("attempt", attempt).
				Msg("blob index write failed, retrying")
			continue
		}

		if wasNew {
			if _, err := s.storage.Promote(ctx, staged); err != nil {
				// Roll back the index entry so a zero-ref row without
				// bytes does not linger until GC.
				if delErr := s.blobRepo.DeleteIfUnreferenced(ctx, staged.Digest); delErr != nil {
					s.logger.Error().Err(delErr).Str("digest", staged.Digest).
						Msg("failed to roll back blob index entry")
				}
				s.recordOutcome("promote_failed", 0, false)
				return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
			}
			staged.TempPath = ""
		}

		file := domain.NewFileRecord(input.OwnerID, input.Filename, mimeType, input.IsPublic, stored.Digest, stored.Size)
		file.Tags = input.Tags

		if err := s.fileRepo.Create(ctx, file); err != nil {
			if errors.Is(err, domain.ErrBlobNotFound) {
				// The blob vanished between registration and commit, which
				// can only happen if the ingest lock expired under us and a
				// GC run won the race. The staged copy is still held, so
				// resolving again can re-register and promote it.
				lastErr = err
				s.logger.Warn().Str("digest", staged.Digest).Int("attempt", attempt).
					Msg("blob disappeared before commit, re-resolving")
				continue
			}
			s.recordOutcome("commit_failed", 0, false)
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		// A duplicate's staged copy is only dropped once the record
		// referencing the existing blob is durable.
		if !wasNew && staged.TempPath != "" {
			if err := s.storage.Discard(ctx, staged); err != nil {
				s.logger.Warn().Err(err).Str("digest", staged.Digest).Msg("failed to discard staged duplicate")
			}
			staged.TempPath = ""
		}

		return &IngestOutput{
			File:         file,
			Deduplicated: !wasNew,
			Digest:       stored.Digest,
		}, nil
	}

	s.recordOutcome("resolve_failed", 0, false)
	return nil, fmt.Errorf("%w: %v", ErrInternalError, lastErr)
}

// checkQuota verifies the upload fits the owner's quota. Duplicate bytes
// cost nothing: quota is charged on actual (deduplicated) usage.
func (s *IngestService) checkQuota(ctx context.Context, ownerID int64, staged *storage.Staged) error {
	user, err := s.userRepo.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if user.QuotaBytes <= 0 {
		return nil
	}

	charge := staged.Size
	exists, err := s.blobRepo.Exists(ctx, staged.Digest)
	if err == nil && exists {
		charge = 0
	}
	if charge == 0 {
		return nil
	}

	stats, err := s.statsRepo.OwnerStats(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if stats.ActualSize+charge > user.QuotaBytes {
		return domain.ErrQuotaExceeded
	}
	return nil
}

// recordOutcome updates ingestion metrics when a collector is wired.
func (s *IngestService) recordOutcome(outcome string, size int64, dedupHit bool) {
	if s.metrics != nil {
		s.metrics.RecordUpload(outcome, size, dedupHit)
	}
}

// validateFilename rejects empty and oversized filenames.
func validateFilename(name string) error {
	if name == "" {
		return domain.ErrFilenameEmpty
	}
	if len(name) > maxFilenameLength {
		return domain.ErrFilenameTooLong
	}
	return nil
}
