package service

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

func newTestFileService() (*FileService, *mockFileRepo, *mockBlobRepo, *mockBackend) {
	fileRepo := new(mockFileRepo)
	blobRepo := new(mockBlobRepo)
	backend := new(mockBackend)
	svc := NewFileService(fileRepo, blobRepo, backend, nil, zerolog.Nop())
	return svc, fileRepo, blobRepo, backend
}

func privateFile(ownerID int64) *domain.FileRecord {
	return domain.NewFileRecord(ownerID, "report.pdf", "application/pdf", false, testDigest, 2048)
}

func TestFileService_GetFile(t *testing.T) {
	owner := Requester{UserID: 1}
	stranger := Requester{UserID: 2}
	admin := Requester{UserID: 3, IsAdmin: true}
	anonymous := Requester{}

	tests := []struct {
		name      string
		requester Requester
		isPublic  bool
		wantErr   error
	}{
		{name: "owner reads private file", requester: owner},
		{name: "admin reads private file", requester: admin},
		{name: "stranger cannot see private file", requester: stranger, wantErr: domain.ErrFileNotFound},
		{name: "anonymous cannot see private file", requester: anonymous, wantErr: domain.ErrFileNotFound},
		{name: "anonymous reads public file", requester: anonymous, isPublic: true},
		{name: "stranger reads public file", requester: stranger, isPublic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fileRepo, _, _ := newTestFileService()
			file := privateFile(1)
			file.IsPublic = tt.isPublic
			fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)

			got, err := svc.GetFile(context.Background(), GetFileInput{FileID: file.ID, Requester: tt.requester})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, file.ID, got.ID)
			}
		})
	}
}

func TestFileService_UpdateFile(t *testing.T) {
	newName := "renamed.pdf"

	t.Run("owner renames file", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		updated := *file
		updated.Filename = newName

		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)
		fileRepo.On("Update", mock.Anything, file.ID, domain.FileUpdate{Filename: &newName}).Return(&updated, nil)

		got, err := svc.UpdateFile(context.Background(), UpdateFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
			Patch:     domain.FileUpdate{Filename: &newName},
		})

		require.NoError(t, err)
		require.Equal(t, newName, got.Filename)
		mock.AssertExpectationsForObjects(t, fileRepo)
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)

		_, err := svc.UpdateFile(context.Background(), UpdateFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 2},
			Patch:     domain.FileUpdate{Filename: &newName},
		})

		require.ErrorIs(t, err, domain.ErrForbidden)
		fileRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty patch is a no-op", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)

		got, err := svc.UpdateFile(context.Background(), UpdateFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
		})

		require.NoError(t, err)
		require.Equal(t, file, got)
		fileRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid filename rejected", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)

		empty := ""
		_, err := svc.UpdateFile(context.Background(), UpdateFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
			Patch:     domain.FileUpdate{Filename: &empty},
		})

		require.ErrorIs(t, err, domain.ErrFilenameEmpty)
	})
}

func TestFileService_DeleteFile(t *testing.T) {
	t.Run("owner delete reports remaining refs", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)
		fileRepo.On("Delete", mock.Anything, file.ID).Return(testDigest, int32(1), nil)

		output, err := svc.DeleteFile(context.Background(), DeleteFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
		})

		require.NoError(t, err)
		require.Equal(t, testDigest, output.Digest)
		require.Equal(t, int32(1), output.RemainingRefs)
		mock.AssertExpectationsForObjects(t, fileRepo)
	})

	t.Run("last reference orphans the blob", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)
		fileRepo.On("Delete", mock.Anything, file.ID).Return(testDigest, int32(0), nil)

		output, err := svc.DeleteFile(context.Background(), DeleteFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
		})

		require.NoError(t, err)
		require.Equal(t, int32(0), output.RemainingRefs)
	})

	t.Run("non-owner cannot delete", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)

		_, err := svc.DeleteFile(context.Background(), DeleteFileInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 2},
		})

		require.ErrorIs(t, err, domain.ErrForbidden)
		fileRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("missing file", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		id := uuid.New()
		fileRepo.On("GetByID", mock.Anything, id).Return(nil, repository.ErrNotFound)

		_, err := svc.DeleteFile(context.Background(), DeleteFileInput{
			FileID:    id,
			Requester: Requester{UserID: 1},
		})

		require.ErrorIs(t, err, domain.ErrFileNotFound)
	})
}

func TestFileService_ListFiles(t *testing.T) {
	emptyResult := &repository.ListResult[domain.FileRecord]{}

	t.Run("non-admin scoped to own files", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		fileRepo.On("List", mock.Anything,
			repository.FileFilter{OwnerID: 7},
			repository.ListOptions{}).Return(emptyResult, nil)

		_, err := svc.ListFiles(context.Background(), ListFilesInput{
			Requester: Requester{UserID: 7},
		})

		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, fileRepo)
	})

	t.Run("anonymous forced to public scope", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		fileRepo.On("List", mock.Anything,
			repository.FileFilter{OnlyPublic: true},
			repository.ListOptions{}).Return(emptyResult, nil)

		_, err := svc.ListFiles(context.Background(), ListFilesInput{})

		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, fileRepo)
	})

	t.Run("admin sees any owner", func(t *testing.T) {
		svc, fileRepo, _, _ := newTestFileService()
		fileRepo.On("List", mock.Anything,
			repository.FileFilter{OwnerID: 42},
			repository.ListOptions{}).Return(emptyResult, nil)

		_, err := svc.ListFiles(context.Background(), ListFilesInput{
			Requester: Requester{UserID: 1, IsAdmin: true},
			Filter:    repository.FileFilter{OwnerID: 42},
		})

		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, fileRepo)
	})

	t.Run("invalid sort key", func(t *testing.T) {
		svc, _, _, _ := newTestFileService()

		_, err := svc.ListFiles(context.Background(), ListFilesInput{
			Requester: Requester{UserID: 1},
			Options:   repository.ListOptions{SortBy: domain.FileSortKey("bogus")},
		})

		require.ErrorIs(t, err, ErrInvalidSortKey)
	})
}

func TestFileService_Download(t *testing.T) {
	t.Run("streams content and counts the download", func(t *testing.T) {
		svc, fileRepo, blobRepo, backend := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)
		backend.On("Retrieve", mock.Anything, testDigest).
			Return(io.NopCloser(bytes.NewReader([]byte("content"))), nil)
		fileRepo.On("IncrementDownloadCount", mock.Anything, file.ID).Return(nil)
		blobRepo.On("UpdateLastAccessed", mock.Anything, testDigest).Return(nil)

		output, err := svc.Download(context.Background(), DownloadInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
		})

		require.NoError(t, err)
		defer output.Body.Close()
		data, err := io.ReadAll(output.Body)
		require.NoError(t, err)
		require.Equal(t, "content", string(data))
		require.Equal(t, "report.pdf", output.Filename)
		require.Equal(t, "application/pdf", output.MimeType)
		mock.AssertExpectationsForObjects(t, fileRepo, blobRepo, backend)
	})

	t.Run("counter failure does not fail the download", func(t *testing.T) {
		svc, fileRepo, blobRepo, backend := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)
		backend.On("Retrieve", mock.Anything, testDigest).
			Return(io.NopCloser(bytes.NewReader([]byte("content"))), nil)
		fileRepo.On("IncrementDownloadCount", mock.Anything, file.ID).Return(context.DeadlineExceeded)
		blobRepo.On("UpdateLastAccessed", mock.Anything, testDigest).Return(context.DeadlineExceeded)

		output, err := svc.Download(context.Background(), DownloadInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
		})

		require.NoError(t, err)
		output.Body.Close()
	})

	t.Run("missing blob surfaces as not found", func(t *testing.T) {
		svc, fileRepo, _, backend := newTestFileService()
		file := privateFile(1)
		fileRepo.On("GetByID", mock.Anything, file.ID).Return(file, nil)
		backend.On("Retrieve", mock.Anything, testDigest).Return(nil, domain.ErrBlobNotFound)

		_, err := svc.Download(context.Background(), DownloadInput{
			FileID:    file.ID,
			Requester: Requester{UserID: 1},
		})

		require.ErrorIs(t, err, domain.ErrBlobNotFound)
	})
}
