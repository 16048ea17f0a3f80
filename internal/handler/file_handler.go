package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/auth"
	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/service"
)

// FileHandler serves upload, download, listing and file metadata endpoints.
type FileHandler struct {
	ingest *service.IngestService
	files  *service.FileService
	stats  *service.StatsService
	logger zerolog.Logger
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(ingest *service.IngestService, files *service.FileService, stats *service.StatsService, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		ingest: ingest,
		files:  files,
		stats:  stats,
		logger: logger.With().Str("handler", "file").Logger(),
	}
}

// RegisterRoutes registers file routes under /api/v1.
func (h *FileHandler) RegisterRoutes(r chi.Router) {
	// Public listing and search need no session.
	r.Get("/files/public", h.handleListPublic)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Post("/files", h.handleUpload)
		r.Get("/files", h.handleListOwn)
		r.Patch("/files/{id}", h.handleUpdate)
		r.Delete("/files/{id}", h.handleDelete)
	})

	// Metadata and download resolve visibility per record: public files
	// work anonymously, private ones require the owner's session.
	r.Get("/files/{id}", h.handleGet)
	r.Get("/files/{id}/download", h.handleDownload)
}

// =============================================================================
// Upload
// =============================================================================

type uploadedFileResponse struct {
	File         *domain.FileRecord `json:"file"`
	Deduplicated bool               `json:"deduplicated"`
	Digest       string             `json:"digest"`
}

type batchEntryResponse struct {
	Filename     string             `json:"filename"`
	State        string             `json:"state"`
	File         *domain.FileRecord `json:"file,omitempty"`
	Deduplicated bool               `json:"deduplicated,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// handleUpload accepts a multipart form with one or more "file" parts.
// A single part returns the committed record directly; multiple parts
// return per-file outcomes, with one part's failure never failing the rest.
func (h *FileHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())

	reader, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Error: "expected multipart/form-data"})
		return
	}

	isPublic := false
	var tags []string
	var outcomes []service.BatchOutcome
	fileCount := 0

	// Parts are processed in order, so form fields must precede the file
	// parts they apply to.
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, APIError{Error: "malformed multipart body"})
			return
		}

		if part.FileName() == "" {
			h.collectField(part, &isPublic, &tags)
			continue
		}

		fileCount++
		output, err := h.ingest.Ingest(r.Context(), service.IngestInput{
			OwnerID:      identity.UserID,
			Filename:     part.FileName(),
			DeclaredMime: part.Header.Get("Content-Type"),
			IsPublic:     isPublic,
			Tags:         tags,
			Body:         part,
		})
		outcome := service.BatchOutcome{Filename: part.FileName()}
		if err != nil {
			outcome.State = service.StateFailed
			outcome.Err = err
		} else {
			outcome.State = service.StateCommitted
			outcome.Output = output
		}
		outcomes = append(outcomes, outcome)
		part.Close()
	}

	if fileCount == 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Error: "no file parts in upload"})
		return
	}

	h.stats.InvalidateOwner(r.Context(), identity.UserID)

	if fileCount == 1 {
		outcome := outcomes[0]
		if outcome.Err != nil {
			writeError(w, outcome.Err)
			return
		}
		writeJSON(w, http.StatusCreated, uploadedFileResponse{
			File:         outcome.Output.File,
			Deduplicated: outcome.Output.Deduplicated,
			Digest:       outcome.Output.Digest,
		})
		return
	}

	entries := make([]batchEntryResponse, 0, len(outcomes))
	anyCommitted := false
	for _, outcome := range outcomes {
		entry := batchEntryResponse{
			Filename: outcome.Filename,
			State:    string(outcome.State),
		}
		if outcome.Err != nil {
			entry.Error = outcome.Err.Error()
		} else {
			anyCommitted = true
			entry.File = outcome.Output.File
			entry.Deduplicated = outcome.Output.Deduplicated
		}
		entries = append(entries, entry)
	}

	status := http.StatusCreated
	if !anyCommitted {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]interface{}{"files": entries})
}

// collectField reads a non-file form field into the upload options.
func (h *FileHandler) collectField(part *multipart.Part, isPublic *bool, tags *[]string) {
	defer part.Close()
	value, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return
	}
	switch part.FormName() {
	case "is_public":
		*isPublic = string(value) == "true" || string(value) == "1"
	case "tags":
		*tags = splitTags(string(value))
	}
}

// splitTags parses a comma-separated tag list, dropping empties.
func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// =============================================================================
// Metadata
// =============================================================================

func (h *FileHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseFileID(r)
	if err != nil {
		writeError(w, domain.ErrFileNotFound)
		return
	}

	file, err := h.files.GetFile(r.Context(), service.GetFileInput{
		FileID:    id,
		Requester: requesterFrom(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseFileID(r)
	if err != nil {
		writeError(w, domain.ErrFileNotFound)
		return
	}

	var patch domain.FileUpdate
	if err := decodeJSON(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Error: "invalid request body"})
		return
	}

	updated, err := h.files.UpdateFile(r.Context(), service.UpdateFileInput{
		FileID:    id,
		Requester: requesterFrom(r),
		Patch:     patch,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *FileHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseFileID(r)
	if err != nil {
		writeError(w, domain.ErrFileNotFound)
		return
	}

	identity := auth.IdentityFrom(r.Context())
	output, err := h.files.DeleteFile(r.Context(), service.DeleteFileInput{
		FileID:    id,
		Requester: requesterFrom(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.stats.InvalidateOwner(r.Context(), identity.UserID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"digest":         output.Digest,
		"remaining_refs": output.RemainingRefs,
	})
}

// =============================================================================
// Listing
// =============================================================================

func (h *FileHandler) handleListOwn(w http.ResponseWriter, r *http.Request) {
	filter, opts := parseListQuery(r)
	result, err := h.files.ListFiles(r.Context(), service.ListFilesInput{
		Requester: requesterFrom(r),
		Filter:    filter,
		Options:   opts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *FileHandler) handleListPublic(w http.ResponseWriter, r *http.Request) {
	filter, opts := parseListQuery(r)
	filter.OnlyPublic = true
	filter.UploaderEmail = r.URL.Query().Get("uploader")

	result, err := h.files.ListFiles(r.Context(), service.ListFilesInput{
		Requester: requesterFrom(r),
		Filter:    filter,
		Options:   opts,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseListQuery extracts filter, sort and pagination parameters.
func parseListQuery(r *http.Request) (repository.FileFilter, repository.ListOptions) {
	q := r.URL.Query()

	filter := repository.FileFilter{
		Search:   q.Get("search"),
		MimeType: q.Get("mime_type"),
	}
	if raw := q.Get("min_size"); raw != "" {
		filter.MinSize, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := q.Get("max_size"); raw != "" {
		filter.MaxSize, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := q.Get("tags"); raw != "" {
		filter.Tags = splitTags(raw)
	}

	opts := repository.ListOptions{
		SortBy:     domain.FileSortKey(q.Get("sort")),
		Descending: q.Get("order") == "desc",
	}
	if raw := q.Get("offset"); raw != "" {
		opts.Offset, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("limit"); raw != "" {
		opts.Limit, _ = strconv.Atoi(raw)
	}
	return filter, opts
}

// =============================================================================
// Download
// =============================================================================

func (h *FileHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseFileID(r)
	if err != nil {
		writeError(w, domain.ErrFileNotFound)
		return
	}

	output, err := h.files.Download(r.Context(), service.DownloadInput{
		FileID:    id,
		Requester: requesterFrom(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer output.Body.Close()

	w.Header().Set("Content-Type", output.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(output.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", output.Filename))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, output.Body); err != nil {
		h.logger.Warn().Err(err).Str("file_id", id.String()).Msg("download stream interrupted")
	}
}

// =============================================================================
// Helpers
// =============================================================================

// parseFileID extracts the file UUID from the URL.
func parseFileID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// requesterFrom converts the request identity, anonymous or not, into the
// service-level requester.
func requesterFrom(r *http.Request) service.Requester {
	identity := auth.IdentityFrom(r.Context())
	if identity == nil {
		return service.Requester{}
	}
	return service.Requester{UserID: identity.UserID, IsAdmin: identity.IsAdmin}
}
