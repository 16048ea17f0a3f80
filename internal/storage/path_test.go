package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputePath_Sharding(t *testing.T) {
	config := DefaultPathConfig("/data")
	digest := strings.Repeat("ab", 32)

	got := ComputePath(config, digest)
	require.Equal(t, filepath.Join("/data", "ab", "ab", digest), got)
}

func TestComputePath_ShortDigestFallsBack(t *testing.T) {
	config := DefaultPathConfig("/data")

	// A digest shorter than the shard prefix lands directly under the root.
	got := ComputePath(config, "abc")
	require.Equal(t, filepath.Join("/data", "abc"), got)
}

func TestGetShardPath(t *testing.T) {
	config := DefaultPathConfig("/data")
	digest := "b94d" + strings.Repeat("0", 60)

	require.Equal(t, filepath.Join("/data", "b9", "4d"), GetShardPath(config, digest))
	require.Equal(t, "/data", GetShardPath(config, "b9"))
}
