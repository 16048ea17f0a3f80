// Package main is the entry point for the Meridian Vault server.
// Meridian Vault is a content-addressed file store with transparent
// deduplication: identical uploads share one blob, tracked by reference
// counts and reclaimed by a background garbage collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prn-tf/meridian-vault/internal/auth"
	"github.com/prn-tf/meridian-vault/internal/cache/memory"
	"github.com/prn-tf/meridian-vault/internal/cache/redis"
	"github.com/prn-tf/meridian-vault/internal/config"
	"github.com/prn-tf/meridian-vault/internal/handler"
	"github.com/prn-tf/meridian-vault/internal/lock"
	"github.com/prn-tf/meridian-vault/internal/metrics"
	"github.com/prn-tf/meridian-vault/internal/repository"
	"github.com/prn-tf/meridian-vault/internal/repository/postgres"
	"github.com/prn-tf/meridian-vault/internal/repository/sqlite"
	"github.com/prn-tf/meridian-vault/internal/service"
	"github.com/prn-tf/meridian-vault/internal/storage"
	"github.com/prn-tf/meridian-vault/internal/storage/filesystem"
	"github.com/prn-tf/meridian-vault/internal/storage/s3"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("database", cfg.Database.Driver).
		Str("storage", cfg.Storage.Backend).
		Msg("Starting Meridian Vault server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, dbHealth, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer dbHealth.Close()

	backend, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage backend")
	}

	cache, locker, closeCache, err := openCacheAndLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cache")
	}
	defer closeCache()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	ingestService := service.NewIngestService(
		repos.Blob, repos.File, repos.User, repos.Stats,
		backend, locker, m, logger,
		service.IngestConfig{
			MaxUploadSize:   cfg.Ingest.MaxUploadSize,
			MaxBatchFiles:   cfg.Ingest.MaxBatchFiles,
			RetryAttempts:   cfg.Ingest.RetryAttempts,
			RetryBackoff:    cfg.Ingest.RetryBackoff,
			LockTTL:         cfg.Ingest.LockTTL,
			LockWaitTimeout: cfg.Ingest.LockWaitTimeout,
		},
	)
	fileService := service.NewFileService(repos.File, repos.Blob, backend, m, logger)
	statsService := service.NewStatsService(repos.Stats, cache, logger)
	userService := service.NewUserService(repos.User, cache, logger, service.AuthConfig{
		TokenTTL:          cfg.Auth.TokenTTL,
		BcryptCost:        cfg.Auth.BcryptCost,
		DefaultQuotaBytes: cfg.Auth.DefaultQuotaBytes,
	})
	gc := service.NewGarbageCollector(repos.Blob, backend, locker, m, logger, service.GCConfig{
		Enabled:     cfg.GC.Enabled,
		Interval:    cfg.GC.Interval,
		GracePeriod: cfg.GC.GracePeriod,
		BatchSize:   cfg.GC.BatchSize,
		DryRun:      cfg.GC.DryRun,
	})

	router := handler.NewRouter(handler.RouterConfig{
		AuthHandler:   handler.NewAuthHandler(userService, logger),
		FileHandler:   handler.NewFileHandler(ingestService, fileService, statsService, logger),
		StatsHandler:  handler.NewStatsHandler(statsService, logger),
		AdminHandler:  handler.NewAdminHandler(userService, gc, logger),
		Authenticator: userService,
		AuthConfig:    auth.DefaultConfig(),
		Metrics:       m,
		RateLimit: handler.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		},
		HealthCheck: func() error {
			healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return dbHealth.Health(healthCtx)
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.GC.Enabled {
		gc.Start()
		defer gc.Stop()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

// setupLogger configures zerolog from the logging config.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out = os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// openDatabase connects to the configured database, runs migrations and
// builds the repository set.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.Repositories, repository.DatabaseHealth, error) {
	if cfg.Database.IsEmbedded() {
		db, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
			JournalMode:     cfg.Database.JournalMode,
			BusyTimeout:     cfg.Database.BusyTimeout,
			SynchronousMode: cfg.Database.SynchronousMode,
		}, logger)
		if err != nil {
			return repository.Repositories{}, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return repository.Repositories{}, nil, err
		}
		return repository.Repositories{
			User:  sqlite.NewUserRepository(db),
			Blob:  sqlite.NewBlobRepository(db),
			File:  sqlite.NewFileRepository(db),
			Stats: sqlite.NewStatsRepository(db),
		}, db, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return repository.Repositories{}, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return repository.Repositories{}, nil, err
	}
	return repository.Repositories{
		User:  postgres.NewUserRepository(db),
		Blob:  postgres.NewBlobRepository(db),
		File:  postgres.NewFileRepository(db),
		Stats: postgres.NewStatsRepository(db),
	}, db, nil
}

// openStorage builds the configured blob backend.
func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return s3.New(ctx, cfg.Storage.S3, logger)
	default:
		return filesystem.New(cfg.Storage.DataDir, logger)
	}
}

// openCacheAndLocker builds the cache and lock implementations. With Redis
// enabled both are backed by it, so sessions and locks span instances;
// otherwise in-process implementations serve single-node deployments.
func openCacheAndLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.Cache, lock.Locker, func(), error) {
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		locker := lock.NewRedisLocker(redis.NewDistLock(client))
		return client, locker, func() { client.Close() }, nil
	}
	mem := memory.NewCache()
	return mem, lock.NewMemoryLocker(), mem.Stop, nil
}
