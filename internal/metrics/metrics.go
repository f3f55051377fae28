package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequestsTotal tracks calls to the analysis API per operation and outcome
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_upstream_requests_total",
			Help: "Total number of upstream analysis API requests",
		},
		[]string{"operation", "outcome"},
	)

	// UpstreamRequestSeconds tracks upstream request latency per operation
	UpstreamRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalflow_upstream_request_seconds",
			Help:    "Upstream request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RetryAttemptsTotal tracks retries per error kind
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"kind"},
	)

	// ThrottleWaitSeconds tracks time spent waiting on the dispatch gate
	ThrottleWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalflow_throttle_wait_seconds",
			Help:    "Time spent waiting for the request gate in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RateLimitHitsTotal tracks upstream 429 responses
	RateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalflow_rate_limit_hits_total",
			Help: "Total number of upstream rate limit responses",
		},
	)

	// CooldownsTotal tracks refresh cooldowns entered after rate limiting
	CooldownsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalflow_cooldowns_total",
			Help: "Total number of refresh cooldowns entered",
		},
	)

	// QueueSupersededTotal tracks requests replaced by a newer one per queue key
	QueueSupersededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_queue_superseded_total",
			Help: "Total number of queued requests superseded by newer ones",
		},
		[]string{"key"},
	)

	// RunsTotal tracks refresh runs per result
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_runs_total",
			Help: "Total number of refresh runs",
		},
		[]string{"result"},
	)

	// RunDurationSeconds tracks end-to-end refresh run duration
	RunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalflow_run_duration_seconds",
			Help:    "Refresh run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RunStepsCompleted tracks how many steps each refresh run finished
	RunStepsCompleted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalflow_run_steps_completed",
			Help:    "Number of steps completed per refresh run",
			Buckets: []float64{0, 1, 2, 3, 4},
		},
	)

	// BudgetRemainingCalls tracks the remaining daily API call budget
	BudgetRemainingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalflow_budget_remaining_calls",
			Help: "Remaining API calls in the daily budget",
		},
	)

	// SnapshotCacheErrorsTotal tracks snapshot cache read/write failures
	SnapshotCacheErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signalflow_snapshot_cache_errors_total",
			Help: "Total number of snapshot cache errors",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of database connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalflow_db_connection_pool_usage",
			Help: "Percentage of database connections currently in use",
		},
	)
)
