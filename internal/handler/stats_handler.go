package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/auth"
	"github.com/prn-tf/meridian-vault/internal/service"
)

// StatsHandler serves storage statistics endpoints.
type StatsHandler struct {
	stats  *service.StatsService
	logger zerolog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(stats *service.StatsService, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger.With().Str("handler", "stats").Logger(),
	}
}

// RegisterRoutes registers stats routes under /api/v1.
func (h *StatsHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Get("/stats", h.handleOwnStats)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Get("/stats/system", h.handleSystemStats)
	})
}

func (h *StatsHandler) handleOwnStats(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	stats, err := h.stats.OwnerStats(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *StatsHandler) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.SystemStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
