package storage

import "errors"

var (
	// ErrStatsUnavailable is returned by backends that cannot report
	// storage-level statistics.
	ErrStatsUnavailable = errors.New("storage stats unavailable for this backend")

	// ErrStagedConsumed is returned when a Staged is promoted or discarded
	// twice.
	ErrStagedConsumed = errors.New("staged upload already promoted or discarded")
)
