package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/auth"
	"github.com/prn-tf/meridian-vault/internal/metrics"
)

// Router assembles the HTTP API.
type Router struct {
	authHandler  *AuthHandler
	fileHandler  *FileHandler
	statsHandler *StatsHandler
	adminHandler *AdminHandler

	authn       auth.Authenticator
	authConfig  auth.Config
	metrics     *metrics.Metrics
	rateLimit   *rateLimiter
	healthCheck func() error
	logger      zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	AuthHandler  *AuthHandler
	FileHandler  *FileHandler
	StatsHandler *StatsHandler
	AdminHandler *AdminHandler

	Authenticator auth.Authenticator
	AuthConfig    auth.Config
	Metrics       *metrics.Metrics
	RateLimit     RateLimitConfig

	// HealthCheck reports backend dependency health. Nil means always
	// healthy.
	HealthCheck func() error

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	var limiter *rateLimiter
	if config.RateLimit.Enabled {
		limiter = newRateLimiter(config.RateLimit)
	}
	return &Router{
		authHandler:  config.AuthHandler,
		fileHandler:  config.FileHandler,
		statsHandler: config.StatsHandler,
		adminHandler: config.AdminHandler,
		authn:        config.Authenticator,
		authConfig:   config.AuthConfig,
		metrics:      config.Metrics,
		rateLimit:    limiter,
		healthCheck:  config.HealthCheck,
		logger:       config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if rt.rateLimit != nil {
		r.Use(rt.rateLimit.middleware)
	}
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", rt.handleHealth)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(rt.authn, rt.authConfig))

		rt.authHandler.RegisterRoutes(r)
		rt.fileHandler.RegisterRoutes(r)
		rt.statsHandler.RegisterRoutes(r)
		rt.adminHandler.RegisterRoutes(r)
	})

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.healthCheck != nil {
		if err := rt.healthCheck(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requestLogger logs each request at debug level with timing.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
