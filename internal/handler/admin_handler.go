package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/auth"
	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/service"
)

// AdminHandler serves user administration and garbage collection control.
type AdminHandler struct {
	users  *service.UserService
	gc     *service.GarbageCollector
	logger zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users *service.UserService, gc *service.GarbageCollector, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		users:  users,
		gc:     gc,
		logger: logger.With().Str("handler", "admin").Logger(),
	}
}

// RegisterRoutes registers admin routes under /api/v1/admin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Get("/admin/users", h.handleListUsers)
		r.Patch("/admin/users/{id}", h.handleUpdateUser)
		r.Post("/admin/gc/run", h.handleRunGC)
		r.Get("/admin/gc/stats", h.handleGCStats)
	})
}

func (h *AdminHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := repository.ListOptions{}
	if raw := q.Get("offset"); raw != "" {
		opts.Offset, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("limit"); raw != "" {
		opts.Limit, _ = strconv.Atoi(raw)
	}

	result, err := h.users.ListUsers(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateUserRequest struct {
	IsActive   *bool  `json:"is_active,omitempty"`
	IsAdmin    *bool  `json:"is_admin,omitempty"`
	QuotaBytes *int64 `json:"quota_bytes,omitempty"`
}

func (h *AdminHandler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, domain.ErrUserNotFound)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Error: "invalid request body"})
		return
	}

	user, err := h.users.UpdateUser(r.Context(), service.UpdateUserInput{
		UserID:     id,
		IsActive:   req.IsActive,
		IsAdmin:    req.IsAdmin,
		QuotaBytes: req.QuotaBytes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) handleRunGC(w http.ResponseWriter, r *http.Request) {
	result := h.gc.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blobs_deleted":          result.BlobsDeleted,
		"bytes_freed":            result.BytesFreed,
		"conflicts":              result.Conflicts,
		"errors":                 result.Errors,
		"duration_ms":            result.Duration.Milliseconds(),
		"orphan_blobs_remaining": result.OrphanBlobsRemaining,
	})
}

func (h *AdminHandler) handleGCStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.gc.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orphan_blob_count": stats.OrphanBlobCount,
		"orphan_blob_size":  stats.OrphanBlobSize,
		"has_more_orphans":  stats.HasMoreOrphans,
		"grace_period":      stats.GracePeriod.String(),
		"next_run_in":       stats.NextRunIn.String(),
	})
}
