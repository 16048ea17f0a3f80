package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// statsCacheTTL bounds how stale cached statistics can get. Writes
// invalidate eagerly; the TTL covers invalidations that never arrive.
const statsCacheTTL = 30 * time.Second

// StatsService serves storage statistics with a cache in front of the
// aggregate queries.
type StatsService struct {
	statsRepo repository.StatsRepository
	cache     repository.Cache
	logger    zerolog.Logger
}

// NewStatsService creates a new StatsService.
func NewStatsService(statsRepo repository.StatsRepository, cache repository.Cache, logger zerolog.Logger) *StatsService {
	return &StatsService{
		statsRepo: statsRepo,
		cache:     cache,
		logger:    logger.With().Str("service", "stats").Logger(),
	}
}

// OwnerStats returns storage statistics for one owner's files: logical
// versus actual usage, savings, and quota headroom.
func (s *StatsService) OwnerStats(ctx context.Context, ownerID int64) (*domain.StorageStats, error) {
	key := repository.CacheKeys.OwnerStats(ownerID)
	if stats := s.getCached(ctx, key); stats != nil {
		return stats, nil
	}

	stats, err := s.statsRepo.OwnerStats(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.setCached(ctx, key, stats)
	return stats, nil
}

// SystemStats returns storage statistics across all owners.
func (s *StatsService) SystemStats(ctx context.Context) (*domain.StorageStats, error) {
	key := repository.CacheKeys.SystemStats()
	if stats := s.getCached(ctx, key); stats != nil {
		return stats, nil
	}

	stats, err := s.statsRepo.SystemStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.setCached(ctx, key, stats)
	return stats, nil
}

// InvalidateOwner drops cached statistics for an owner and the system
// aggregate. Called after uploads and deletes; failures only delay
// freshness until the TTL.
func (s *StatsService) InvalidateOwner(ctx context.Context, ownerID int64) {
	for _, key := range []string{
		repository.CacheKeys.OwnerStats(ownerID),
		repository.CacheKeys.SystemStats(),
	} {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to invalidate stats cache")
		}
	}
}

func (s *StatsService) getCached(ctx context.Context, key string) *domain.StorageStats {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("stats cache read failed")
		}
		return nil
	}
	var stats domain.StorageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt stats cache entry")
		_ = s.cache.Delete(ctx, key)
		return nil
	}
	return &stats
}

func (s *StatsService) setCached(ctx context.Context, key string, stats *domain.StorageStats) {
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, statsCacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("stats cache write failed")
	}
}
