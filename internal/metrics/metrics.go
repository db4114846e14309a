package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	// LogErrorsTotal counts error-level log entries specifically
	LogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tdcsort_log_errors_total",
			Help: "Total number of error log entries",
		},
	)

	// RateLimitRequestsTotal counts requests seen by the rate limiter
	RateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_rate_limit_requests_total",
			Help: "Total number of requests processed by the rate limiter",
		},
		[]string{"status"},
	)

	// SortingsRegistered tracks the number of sortings served
	SortingsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tdcsort_sortings_registered",
		Help: "Current number of sortings registered with the Flight server",
	})
)

var (
	// HealthCheckDurationSeconds measures each component check
	HealthCheckDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tdcsort_health_check_duration_seconds",
			Help:    "Duration of health checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	// HealthCheckStatus reports component health (1=healthy, 0.5=degraded, 0=unhealthy)
	HealthCheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tdcsort_health_check_status",
			Help: "Health check status (1=healthy, 0.5=degraded, 0=unhealthy)",
		},
		[]string{"component"},
	)
)

var (
	// CircuitBreakerState reports breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tdcsort_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRejectedTotal counts calls rejected by an open breaker
	CircuitBreakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdcsort_circuit_breaker_rejected_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"name"},
	)
)
