package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Harness counters and histograms, partitioned by node and test case.

var (
	// Node lifecycle
	NodeStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "node",
		Name:      "starts_total",
		Help:      "Total node start attempts by result",
	}, []string{"node", "result"})

	NodeStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "node",
		Name:      "stops_total",
		Help:      "Total node stops, partitioned by whether SIGKILL was needed",
	}, []string{"node", "forced"})

	NodeReadyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harness",
		Subsystem: "node",
		Name:      "ready_duration_seconds",
		Help:      "Time from process start until the health endpoint answered",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"node"})

	NodeHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harness",
		Subsystem: "node",
		Name:      "health_status",
		Help:      "Node health status (0=UNKNOWN, 1=HEALTHY, 2=DEGRADED, 3=UNHEALTHY)",
	}, []string{"node"})

	NodeConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harness",
		Subsystem: "node",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive health probe failures per node",
	}, []string{"node"})

	// Node API client
	APICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "api",
		Name:      "calls_total",
		Help:      "Total node API calls by endpoint and outcome",
	}, []string{"node", "endpoint", "status"})

	APICallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harness",
		Subsystem: "api",
		Name:      "call_duration_seconds",
		Help:      "Node API call duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"node", "endpoint"})

	APIRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "api",
		Name:      "rate_limit_waits_total",
		Help:      "Total times API calls waited for the rate limiter",
	}, []string{"node"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harness",
		Subsystem: "api",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per node (0=closed, 1=open, 2=half-open)",
	}, []string{"node"})

	// Test suite
	CaseRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "suite",
		Name:      "case_runs_total",
		Help:      "Total test case executions by outcome",
	}, []string{"case", "outcome"})

	CaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harness",
		Subsystem: "suite",
		Name:      "case_duration_seconds",
		Help:      "Test case execution duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"case"})

	SuiteRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "suite",
		Name:      "runs_total",
		Help:      "Total suite runs by mode",
	}, []string{"mode"})

	InvariantViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "verify",
		Name:      "violations_total",
		Help:      "Total invariant violations detected by rule",
	}, []string{"rule"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harness",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
