package domain

// StorageStats describes storage usage for one owner or for the whole
// system. All byte figures are derived from the blob and file tables; the
// stats engine keeps no state of its own.
type StorageStats struct {
	// OriginalSize is the sum of blob sizes over all file records in scope,
	// counting duplicates once per record.
	OriginalSize int64 `json:"original_size"`

	// ActualSize is the sum of sizes over the distinct blobs referenced in
	// scope. This is what deduplication actually stores.
	ActualSize int64 `json:"actual_size"`

	// Savings is OriginalSize - ActualSize.
	Savings int64 `json:"savings"`

	// SavingsPercentage is Savings/OriginalSize*100, or 0 when OriginalSize
	// is 0.
	SavingsPercentage float64 `json:"savings_percentage"`

	// FileCount is the number of file records in scope.
	FileCount int64 `json:"file_count"`

	// UniqueBlobCount is the number of distinct blobs referenced in scope.
	UniqueBlobCount int64 `json:"unique_blob_count"`

	// QuotaBytes is the owner's configured quota. Zero for system-wide stats
	// or unlimited owners.
	QuotaBytes int64 `json:"quota_bytes,omitempty"`
}

// ComputeDerived fills Savings and SavingsPercentage from the size fields.
func (s *StorageStats) ComputeDerived() {
	s.Savings = s.OriginalSize - s.ActualSize
	if s.OriginalSize > 0 {
		s.SavingsPercentage = float64(s.Savings) / float64(s.OriginalSize) * 100
	} else {
		s.SavingsPercentage = 0
	}
}

// DedupFileRatio is the secondary, file-count based metric: the fraction of
// file records sharing a blob with at least one other record. It is reported
// separately and must not be conflated with byte savings.
func (s *StorageStats) DedupFileRatio() float64 {
	if s.FileCount == 0 {
		return 0
	}
	return float64(s.FileCount-s.UniqueBlobCount) / float64(s.FileCount)
}
