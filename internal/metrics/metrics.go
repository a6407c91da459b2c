package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache engine metrics
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_requests_total",
			Help: "Total number of cache lookups",
		},
		[]string{"result"}, // result: hit, miss, expired, corrupt
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_writes_total",
			Help: "Total number of cache writes",
		},
		[]string{"status"}, // status: success, failed
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_cache_evictions_total",
			Help: "Total number of entries removed to stay under the byte budget",
		},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_errors_total",
			Help: "Total number of swallowed storage or serialization errors",
		},
		[]string{"op"},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_cache_size_bytes",
			Help: "Total UTF-8 byte size of namespaced cache entries",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_cache_entries",
			Help: "Number of namespaced cache entries",
		},
	)

	CacheBudgetBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_cache_budget_bytes",
			Help: "Configured global byte budget",
		},
	)

	// Stale-while-revalidate metrics
	RevalidateRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revalidate_refreshes_total",
			Help: "Total number of detached background refreshes",
		},
		[]string{"status"}, // status: success, failed, skipped
	)

	RevalidateStaleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "revalidate_stale_served_total",
			Help: "Total number of loader failures answered with a stale cached value",
		},
	)

	RevalidateLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revalidate_load_duration_seconds",
			Help:    "Duration of loader calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
		},
		[]string{"mode"}, // mode: foreground, background
	)

	// Background sync metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of syncAll invocations by outcome",
		},
		[]string{"outcome"}, // outcome: ran, skipped_inflight, skipped_offline, skipped_disposed
	)

	SyncTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_tasks_total",
			Help: "Total number of executed sync tasks",
		},
		[]string{"status"}, // status: success, retry, dropped
	)

	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Number of tasks waiting in the retry queue",
		},
	)

	SyncSweptEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_swept_entries_total",
			Help: "Total number of expired entries removed by sync sweeps",
		},
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of syncAll passes in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	NetworkConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "network_connected",
			Help: "Last observed connectivity (1=connected, 0=offline)",
		},
	)

	// Remote API metrics
	APIHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_http_requests_total",
			Help: "Total number of HTTP requests made to the event API",
		},
		[]string{"status"}, // status: success, retry, error
	)

	APIHTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_http_retries_total",
			Help: "Total number of HTTP request retries",
		},
	)

	APIRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "api_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// Diagnostics API metrics
	DiagnosticsRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnostics_requests_total",
			Help: "Total number of diagnostics API requests",
		},
		[]string{"route", "method", "status"},
	)

	// Metrics collection error tracking
	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"collector"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)
)
