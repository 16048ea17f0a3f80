// Package metrics provides Prometheus instrumentation for Meridian Vault.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. Each instance carries its own
// registry so tests can construct isolated sets.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	UploadsTotal     *prometheus.CounterVec
	UploadBytesTotal prometheus.Counter
	DedupHitsTotal   prometheus.Counter
	BytesSavedTotal  prometheus.Counter

	// Retrieval
	DownloadsTotal     prometheus.Counter
	DownloadBytesTotal prometheus.Counter

	// Registry mutations
	FilesDeletedTotal prometheus.Counter

	// Garbage collection
	GCRunsTotal         prometheus.Counter
	GCDurationSeconds   prometheus.Histogram
	GCBlobsDeletedTotal prometheus.Counter
	GCBytesFreedTotal   prometheus.Counter
	GCLastRunTime       prometheus.Gauge
	GCOrphanBlobs       prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "uploads_total",
			Help:      "Number of upload attempts by outcome.",
		}, []string{"outcome"}),

		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "upload_bytes_total",
			Help:      "Total bytes received across uploads.",
		}),

		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "dedup_hits_total",
			Help:      "Number of uploads resolved against an existing blob.",
		}),

		BytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "dedup_bytes_saved_total",
			Help:      "Bytes not stored because an identical blob already existed.",
		}),

		DownloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "downloads_total",
			Help:      "Number of file downloads served.",
		}),

		DownloadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "download_bytes_total",
			Help:      "Total bytes served across downloads.",
		}),

		FilesDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Name:      "files_deleted_total",
			Help:      "Number of file records deleted.",
		}),

		GCRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Number of garbage collection runs completed.",
		}),

		GCDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meridian",
			Subsystem: "gc",
			Name:      "duration_seconds",
			Help:      "Duration of garbage collection runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),

		GCBlobsDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "gc",
			Name:      "blobs_deleted_total",
			Help:      "Number of orphan blobs reclaimed.",
		}),

		GCBytesFreedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meridian",
			Subsystem: "gc",
			Name:      "bytes_freed_total",
			Help:      "Bytes of physical storage reclaimed.",
		}),

		GCLastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "gc",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed garbage collection run.",
		}),

		GCOrphanBlobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meridian",
			Subsystem: "gc",
			Name:      "orphan_blobs",
			Help:      "Orphan blobs observed by the last garbage collection run.",
		}),
	}

	registry.MustRegister(
		m.UploadsTotal,
		m.UploadBytesTotal,
		m.DedupHitsTotal,
		m.BytesSavedTotal,
		m.DownloadsTotal,
		m.DownloadBytesTotal,
		m.FilesDeletedTotal,
		m.GCRunsTotal,
		m.GCDurationSeconds,
		m.GCBlobsDeletedTotal,
		m.GCBytesFreedTotal,
		m.GCLastRunTime,
		m.GCOrphanBlobs,
	)

	return m
}

// RecordUpload counts a finished upload attempt.
func (m *Metrics) RecordUpload(outcome string, size int64, dedupHit bool) {
	m.UploadsTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.UploadBytesTotal.Add(float64(size))
	}
	if dedupHit {
		m.DedupHitsTotal.Inc()
		m.BytesSavedTotal.Add(float64(size))
	}
}

// RecordDownload counts a served download.
func (m *Metrics) RecordDownload(size int64) {
	m.DownloadsTotal.Inc()
	if size > 0 {
		m.DownloadBytesTotal.Add(float64(size))
	}
}

// RecordGCRun records the outcome of one garbage collection run.
func (m *Metrics) RecordGCRun(durationSeconds float64, blobsDeleted int, bytesFreed int64) {
	m.GCRunsTotal.Inc()
	m.GCDurationSeconds.Observe(durationSeconds)
	m.GCBlobsDeletedTotal.Add(float64(blobsDeleted))
	m.GCBytesFreedTotal.Add(float64(bytesFreed))
}

// Handler returns the HTTP handler serving this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
