// Package main is the entry point for the Meridian Vault admin CLI.
// It talks directly to the database and storage backend, so it works
// against embedded SQLite deployments with no server running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/meridian-vault/internal/config"
	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/lock"
	"github.com/prn-tf/meridian-vault/internal/pkg/crypto"
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
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "version":
		fmt.Printf("Meridian Vault Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "gc":
		runGC(args)

	case "user":
		runUser(args)

	case "stats":
		runStats(args)

	case "verify":
		runVerify(args)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// env assembles the shared dependencies for admin commands.
type env struct {
	cfg     *config.Config
	repos   repository.Repositories
	health  repository.DatabaseHealth
	backend storage.Backend
	logger  zerolog.Logger
}

func openEnv(ctx context.Context, configPath string) (*env, error) {
	cfg := config.MustLoad(configPath)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	var repos repository.Repositories
	var health repository.DatabaseHealth
	if cfg.Database.IsEmbedded() {
		db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(cfg.Database.Path), logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		repos = repository.Repositories{
			User:  sqlite.NewUserRepository(db),
			Blob:  sqlite.NewBlobRepository(db),
			File:  sqlite.NewFileRepository(db),
			Stats: sqlite.NewStatsRepository(db),
		}
		health = db
	} else {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		repos = repository.Repositories{
			User:  postgres.NewUserRepository(db),
			Blob:  postgres.NewBlobRepository(db),
			File:  postgres.NewFileRepository(db),
			Stats: postgres.NewStatsRepository(db),
		}
		health = db
	}

	var backend storage.Backend
	var err error
	switch cfg.Storage.Backend {
	case "s3":
		backend, err = s3.New(ctx, cfg.Storage.S3, logger)
	default:
		backend, err = filesystem.New(cfg.Storage.DataDir, logger)
	}
	if err != nil {
		health.Close()
		return nil, err
	}

	return &env{cfg: cfg, repos: repos, health: health, backend: backend, logger: logger}, nil
}

func (e *env) close() {
	e.health.Close()
}

// =============================================================================
// gc
// =============================================================================

func runGC(args []string) {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dryRun := fs.Bool("dry-run", false, "log deletions without performing them")
	grace := fs.Duration("grace-period", 0, "override the orphan grace period")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: meridian-admin gc <run|stats> [flags]")
	}

	ctx := context.Background()
	e, err := openEnv(ctx, *configPath)
	if err != nil {
		fatal("failed to open environment: %v", err)
	}
	defer e.close()

	gcConfig := service.GCConfig{
		Enabled:     true,
		Interval:    e.cfg.GC.Interval,
		GracePeriod: e.cfg.GC.GracePeriod,
		BatchSize:   e.cfg.GC.BatchSize,
		DryRun:      *dryRun || e.cfg.GC.DryRun,
	}
	if *grace > 0 {
		gcConfig.GracePeriod = *grace
	}

	gc := service.NewGarbageCollector(e.repos.Blob, e.backend, lock.NewMemoryLocker(), nil, e.logger, gcConfig)

	switch fs.Arg(0) {
	case "run":
		result := gc.RunOnce(ctx)
		fmt.Printf("Blobs deleted:  %d\n", result.BlobsDeleted)
		fmt.Printf("Bytes freed:    %d\n", result.BytesFreed)
		fmt.Printf("Conflicts:      %d\n", result.Conflicts)
		fmt.Printf("Errors:         %d\n", result.Errors)
		fmt.Printf("Duration:       %s\n", result.Duration)
		if result.Errors > 0 {
			os.Exit(1)
		}

	case "stats":
		stats, err := gc.GetStats(ctx)
		if err != nil {
			fatal("failed to collect GC stats: %v", err)
		}
		fmt.Printf("Orphan blobs:   %d\n", stats.OrphanBlobCount)
		fmt.Printf("Orphan bytes:   %d\n", stats.OrphanBlobSize)
		fmt.Printf("More pending:   %v\n", stats.HasMoreOrphans)
		fmt.Printf("Grace period:   %s\n", stats.GracePeriod)

	default:
		fatal("unknown gc subcommand: %s", fs.Arg(0))
	}
}

// =============================================================================
// user
// =============================================================================

func runUser(args []string) {
	fs := flag.NewFlagSet("user", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "user password")
	admin := fs.Bool("admin", false, "grant admin privileges")
	quota := fs.Int64("quota", 0, "storage quota in bytes (0 = unlimited)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: meridian-admin user <create|list|promote|set-quota> [flags]")
	}

	ctx := context.Background()
	e, err := openEnv(ctx, *configPath)
	if err != nil {
		fatal("failed to open environment: %v", err)
	}
	defer e.close()

	switch fs.Arg(0) {
	case "create":
		if *email == "" || *password == "" {
			fatal("user create requires --email and --password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), e.cfg.Auth.BcryptCost)
		if err != nil {
			fatal("failed to hash password: %v", err)
		}
		user := domain.NewUser(*email, string(hash), *quota)
		user.IsAdmin = *admin
		if err := e.repos.User.Create(ctx, user); err != nil {
			fatal("failed to create user: %v", err)
		}
		fmt.Printf("Created user %d (%s)\n", user.ID, user.Email)

	case "list":
		result, err := e.repos.User.List(ctx, repository.ListOptions{Limit: 1000})
		if err != nil {
			fatal("failed to list users: %v", err)
		}
		fmt.Printf("%-6s %-40s %-8s %-8s %s\n", "ID", "EMAIL", "ACTIVE", "ADMIN", "QUOTA")
		for _, u := range result.Items {
			fmt.Printf("%-6d %-40s %-8v %-8v %d\n", u.ID, u.Email, u.IsActive, u.IsAdmin, u.QuotaBytes)
		}

	case "promote":
		if fs.NArg() < 2 {
			fatal("usage: meridian-admin user promote <id>")
		}
		user := mustGetUser(ctx, e, fs.Arg(1))
		user.IsAdmin = true
		user.UpdatedAt = time.Now().UTC()
		if err := e.repos.User.Update(ctx, user); err != nil {
			fatal("failed to update user: %v", err)
		}
		fmt.Printf("User %d is now an admin\n", user.ID)

	case "set-quota":
		if fs.NArg() < 2 {
			fatal("usage: meridian-admin user set-quota <id> --quota <bytes>")
		}
		user := mustGetUser(ctx, e, fs.Arg(1))
		user.QuotaBytes = *quota
		user.UpdatedAt = time.Now().UTC()
		if err := e.repos.User.Update(ctx, user); err != nil {
			fatal("failed to update user: %v", err)
		}
		fmt.Printf("User %d quota set to %d bytes\n", user.ID, user.QuotaBytes)

	default:
		fatal("unknown user subcommand: %s", fs.Arg(0))
	}
}

func mustGetUser(ctx context.Context, e *env, rawID string) *domain.User {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		fatal("invalid user id: %s", rawID)
	}
	user, err := e.repos.User.GetByID(ctx, id)
	if err != nil {
		fatal("failed to load user %d: %v", id, err)
	}
	return user
}

// =============================================================================
// stats
// =============================================================================

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	ctx := context.Background()
	e, err := openEnv(ctx, *configPath)
	if err != nil {
		fatal("failed to open environment: %v", err)
	}
	defer e.close()

	stats, err := e.repos.Stats.SystemStats(ctx)
	if err != nil {
		fatal("failed to collect stats: %v", err)
	}

	fmt.Printf("Files:           %d\n", stats.FileCount)
	fmt.Printf("Unique blobs:    %d\n", stats.UniqueBlobCount)
	fmt.Printf("Original bytes:  %d\n", stats.OriginalSize)
	fmt.Printf("Actual bytes:    %d\n", stats.ActualSize)
	fmt.Printf("Bytes saved:     %d\n", stats.Savings)
	fmt.Printf("Savings:         %.1f%%\n", stats.SavingsPercentage)
	fmt.Printf("Dedup ratio:     %.2f\n", stats.DedupFileRatio())
}

// =============================================================================
// verify
// =============================================================================

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: meridian-admin verify <digest> [flags]")
	}
	digest := fs.Arg(0)
	if !crypto.ValidateDigest(digest) {
		fatal("invalid digest: %s", digest)
	}

	ctx := context.Background()
	e, err := openEnv(ctx, *configPath)
	if err != nil {
		fatal("failed to open environment: %v", err)
	}
	defer e.close()

	blob, err := e.repos.Blob.GetByDigest(ctx, digest)
	if err != nil {
		fatal("failed to load blob record: %v", err)
	}

	rc, err := e.backend.Retrieve(ctx, digest)
	if err != nil {
		fatal("failed to read blob content: %v", err)
	}
	defer rc.Close()

	computed, size, err := crypto.ComputeStreamSHA256(rc)
	if err != nil {
		fatal("failed to hash blob content: %v", err)
	}

	if computed != digest {
		fatal("%v: stored content hashes to %s", domain.ErrBlobCorrupted, computed)
	}
	if size != blob.Size {
		fatal("%v: stored size %d does not match recorded size %d", domain.ErrBlobCorrupted, size, blob.Size)
	}

	fmt.Printf("Blob %s verified (%d bytes, ref count %d)\n", digest, size, blob.RefCount)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`Meridian Vault Admin CLI

Usage:
  meridian-admin <command> [arguments]

Commands:
  gc          Garbage collection (run, stats)
  user        Manage users (create, list, promote, set-quota)
  stats       Show system-wide storage statistics
  verify      Re-hash a stored blob and check it against its digest
  version     Print version information
  help        Show this help message

Examples:
  meridian-admin user create --email admin@example.com --password secret --admin
  meridian-admin gc run --dry-run
  meridian-admin gc stats
  meridian-admin stats
  meridian-admin verify b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9

Configuration is read from MERIDIAN_-prefixed environment variables, or a
config file passed with --config.`)
}
