package storage

import (
	"path/filepath"
)

// PathConfig holds configuration for storage path generation.
type PathConfig struct {
	// BasePath is the root directory for blob storage.
	BasePath string

	// ShardLevels is the number of directory levels for sharding.
	// Default: 2 (e.g., /ab/cd/abcdef...)
	ShardLevels int

	// ShardWidth is the number of characters per shard level.
	// Default: 2 (e.g., ab, cd)
	ShardWidth int
}

// DefaultPathConfig returns the default path configuration.
func DefaultPathConfig(basePath string) PathConfig {
	return PathConfig{
		BasePath:    basePath,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ComputePath generates the storage path for a content digest.
// Directory sharding spreads blobs across subdirectories so no single
// directory accumulates millions of entries.
//
// Example with default config (2 levels, 2 chars each):
//
//	digest: "abcdef1234567890..."
//	basePath: "/data"
//	result: "/data/ab/cd/abcdef1234567890..."
func ComputePath(config PathConfig, digest string) string {
	minLength := config.ShardLevels * config.ShardWidth
	if len(digest) < minLength {
		return filepath.Join(config.BasePath, digest)
	}

	components := make([]string, 0, config.ShardLevels+2)
	components = append(components, config.BasePath)

	offset := 0
	for i := 0; i < config.ShardLevels; i++ {
		components = append(components, digest[offset:offset+config.ShardWidth])
		offset += config.ShardWidth
	}

	// Full digest as filename
	components = append(components, digest)

	return filepath.Join(components...)
}

// GetShardDirs returns the shard directory components for a digest.
//
// Example:
//
//	digest: "abcdef..."
//	result: ["ab", "cd"]
func GetShardDirs(config PathConfig, digest string) []string {
	minLength := config.ShardLevels * config.ShardWidth
	if len(digest) < minLength {
		return nil
	}

	dirs := make([]string, config.ShardLevels)
	offset := 0
	for i := 0; i < config.ShardLevels; i++ {
		dirs[i] = digest[offset : offset+config.ShardWidth]
		offset += config.ShardWidth
	}

	return dirs
}

// GetShardPath returns the directory path for a digest (without the
// filename). Useful for creating the directory structure before a rename.
//
// Example:
//
//	digest: "abcdef..."
//	basePath: "/data"
//	result: "/data/ab/cd"
func GetShardPath(config PathConfig, digest string) string {
	dirs := GetShardDirs(config, digest)
	if dirs == nil {
		return config.BasePath
	}

	components := make([]string, 0, len(dirs)+1)
	components = append(components, config.BasePath)
	components = append(components, dirs...)

	return filepath.Join(components...)
}
