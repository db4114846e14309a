package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Result Folder Metrics
// =============================================================================

var (
	// FolderOpensTotal counts result folder opens
	FolderOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_folder_opens_total",
			Help: "Total number of result folder opens",
		},
		[]string{"status"},
	)

	// BackendReadsTotal counts raw table reads by table and status
	BackendReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_backend_reads_total",
			Help: "Total number of raw table reads from result folders",
		},
		[]string{"table", "status"},
	)

	// BackendReadBytesTotal tracks bytes decoded from raw tables
	BackendReadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_backend_read_bytes_total",
			Help: "Total bytes decoded from raw tables",
		},
		[]string{"table"},
	)

	// BackendReadDurationSeconds measures raw table decode latency
	BackendReadDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdcsort_backend_read_duration_seconds",
			Help:    "Time taken to map and decode a raw table",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"table"},
	)
)

// =============================================================================
// Export Metrics
// =============================================================================

var (
	// ExportRowsTotal counts spike rows written to Parquet
	ExportRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdcsort_export_rows_total",
			Help: "Total number of spike rows exported to Parquet",
		},
	)

	// ExportDurationSeconds measures Parquet export latency
	ExportDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tdcsort_export_duration_seconds",
			Help:    "Time taken to export a sorting to Parquet",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ExportSizeBytes records the size of Parquet exports
	ExportSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tdcsort_export_size_bytes",
			Help:    "Size of Parquet exports in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// AnalyticsQueriesTotal counts DuckDB queries over exports
	AnalyticsQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_analytics_queries_total",
			Help: "Total number of DuckDB queries over Parquet exports",
		},
		[]string{"status"},
	)
)
