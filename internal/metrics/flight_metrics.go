package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Flight Metrics
// =============================================================================

var (
	// FlightOperationsTotal counts Flight operations by method and status
	FlightOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_flight_operations_total",
			Help: "The total number of processed Arrow Flight operations",
		},
		[]string{"method", "status"},
	)

	// FlightDurationSeconds measures the latency of Flight operations
	FlightDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdcsort_flight_duration_seconds",
			Help:    "Duration of Arrow Flight operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// FlightRowsSentTotal counts spike rows streamed by DoGet
	FlightRowsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdcsort_flight_rows_sent_total",
			Help: "Total spike rows streamed through DoGet",
		},
	)

	// DoGetChunkSizeHistogram tracks batch sizes emitted by DoGet
	DoGetChunkSizeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tdcsort_doget_chunk_size_rows",
		Help:    "Distribution of chunk sizes returned by DoGet operations",
		Buckets: prometheus.ExponentialBuckets(256, 2, 10),
	})
)
