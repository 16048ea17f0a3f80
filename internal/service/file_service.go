package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/metrics"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/storage"
)

// FileService handles file record operations: retrieval, metadata updates,
// listing, download and deletion. Deletion feeds the reference ledger; the
// blob itself is only ever reclaimed by the garbage collector.
type FileService struct {
	fileRepo repository.FileRepository
	blobRepo repository.BlobRepository
	storage  storage.Backend
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewFileService creates a new FileService.
func NewFileService(
	fileRepo repository.FileRepository,
	blobRepo repository.BlobRepository,
	backend storage.Backend,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *FileService {
	return &FileService{
		fileRepo: fileRepo,
		blobRepo: blobRepo,
		storage:  backend,
		metrics:  m,
		logger:   logger.With().Str("service", "file").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// Requester identifies who is performing an operation.
type Requester struct {
	UserID  int64
	IsAdmin bool
}

// GetFileInput contains the data needed to fetch a file record.
type GetFileInput struct {
	FileID    uuid.UUID
	Requester Requester
}

// UpdateFileInput contains a metadata patch for a file.
type UpdateFileInput struct {
	FileID    uuid.UUID
	Requester Requester
	Patch     domain.FileUpdate
}

// DeleteFileInput contains the data needed to delete a file record.
type DeleteFileInput struct {
	FileID    uuid.UUID
	Requester Requester
}

// DeleteFileOutput reports the ledger state after a delete.
type DeleteFileOutput struct {
	// Digest is the content digest the deleted record referenced.
	Digest string

	// RemainingRefs is the blob's reference count after the decrement.
	// Zero means the blob is now an orphan awaiting garbage collection.
	RemainingRefs int32
}

// ListFilesInput contains filter, sort and pagination parameters.
type ListFilesInput struct {
	Requester Requester
	Filter    repository.FileFilter
	Options   repository.ListOptions
}

// DownloadInput contains the data needed to stream a file's content.
type DownloadInput struct {
	FileID    uuid.UUID
	Requester Requester
}

// DownloadOutput carries the content stream and the metadata needed to
// serve it. The caller must close Body.
type DownloadOutput struct {
	Body     io.ReadCloser
	Filename string
	MimeType string
	Size     int64
}

// =============================================================================
// Service Methods
// =============================================================================

// GetFile fetches a file record, enforcing visibility: public files are
// readable by anyone, private files only by their owner or an admin.
func (s *FileService) GetFile(ctx context.Context, input GetFileInput) (*domain.FileRecord, error) {
	file, err := s.fetchAccessible(ctx, input.FileID, input.Requester)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// UpdateFile applies a metadata patch. Only the owner or an admin may
// modify a record; content fields are immutable.
func (s *FileService) UpdateFile(ctx context.Context, input UpdateFileInput) (*domain.FileRecord, error) {
	file, err := s.getFile(ctx, input.FileID)
	if err != nil {
		return nil, err
	}
	if !file.CanBeModifiedBy(input.Requester.UserID, input.Requester.IsAdmin) {
		return nil, domain.ErrForbidden
	}

	if input.Patch.IsEmpty() {
		return file, nil
	}
	if input.Patch.Filename != nil {
		if err := validateFilename(*input.Patch.Filename); err != nil {
			return nil, err
		}
	}

	updated, err := s.fileRepo.Update(ctx, input.FileID, input.Patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("file_id", input.FileID.String()).
		Int64("requester_id", input.Requester.UserID).
		Msg("file updated")

	return updated, nil
}

// DeleteFile removes a file record and decrements its blob's reference
// count in the same transaction. The blob's bytes stay on disk until the
// garbage collector reclaims them.
func (s *FileService) DeleteFile(ctx context.Context, input DeleteFileInput) (*DeleteFileOutput, error) {
	file, err := s.getFile(ctx, input.FileID)
	if err != nil {
		return nil, err
	}
	if !file.CanBeModifiedBy(input.Requester.UserID, input.Requester.IsAdmin) {
		return nil, domain.ErrForbidden
	}

	digest, remaining, err := s.fileRepo.Delete(ctx, input.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if s.metrics != nil {
		s.metrics.FilesDeletedTotal.Inc()
	}
	s.logger.Info().
		Str("file_id", input.FileID.String()).
		Str("digest", digest).
		Int32("remaining_refs", remaining).
		Int64("requester_id", input.Requester.UserID).
		Msg("file deleted")

	return &DeleteFileOutput{Digest: digest, RemainingRefs: remaining}, nil
}

// ListFiles returns file records matching the filter. Non-admin requesters
// are scoped to their own files unless the listing is explicitly public.
func (s *FileService) ListFiles(ctx context.Context, input ListFilesInput) (*repository.ListResult[domain.FileRecord], error) {
	filter := input.Filter
	if !input.Requester.IsAdmin && !filter.OnlyPublic {
		if input.Requester.UserID == 0 {
			// Anonymous callers only ever see public files.
			filter.OnlyPublic = true
		} else {
			filter.OwnerID = input.Requester.UserID
		}
	}

	opts := input.Options
	if opts.SortBy != "" && !opts.SortBy.Valid() {
		return nil, ErrInvalidSortKey
	}

	result, err := s.fileRepo.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// Download opens the content stream for a file. Download counting and
// last-access tracking are best effort and never fail the download.
func (s *FileService) Download(ctx context.Context, input DownloadInput) (*DownloadOutput, error) {
	file, err := s.fetchAccessible(ctx, input.FileID, input.Requester)
	if err != nil {
		return nil, err
	}

	body, err := s.storage.Retrieve(ctx, file.BlobDigest)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			s.logger.Error().
				Str("file_id", file.ID.String()).
				Str("digest", file.BlobDigest).
				Msg("file record references missing blob")
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if err := s.fileRepo.IncrementDownloadCount(ctx, file.ID); err != nil {
		s.logger.Warn().Err(err).Str("file_id", file.ID.String()).Msg("failed to count download")
	}
	if err := s.blobRepo.UpdateLastAccessed(ctx, file.BlobDigest); err != nil {
		s.logger.Warn().Err(err).Str("digest", file.BlobDigest).Msg("failed to update last access")
	}
	if s.metrics != nil {
		s.metrics.RecordDownload(file.Size)
	}

	return &DownloadOutput{
		Body:     body,
		Filename: file.Filename,
		MimeType: file.DeclaredMime,
		Size:     file.Size,
	}, nil
}

// getFile fetches a record by ID, mapping repository not-found to the
// domain sentinel.
func (s *FileService) getFile(ctx context.Context, id uuid.UUID) (*domain.FileRecord, error) {
	file, err := s.fileRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, domain.ErrFileNotFound) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return file, nil
}

// fetchAccessible fetches a record and enforces read visibility.
func (s *FileService) fetchAccessible(ctx context.Context, id uuid.UUID, req Requester) (*domain.FileRecord, error) {
	file, err := s.getFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !file.CanBeAccessedBy(req.UserID, req.IsAdmin) {
		// Hide the record's existence from unauthorized requesters.
		return nil, domain.ErrFileNotFound
	}
	return file, nil
}
