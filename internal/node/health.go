package node

import (
	"sort"
	"sync"
	"time"

	"github.com/palaseus/gillean/internal/metrics"
)

// HealthStatus is the judged health of one node from the harness's side.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"

	// DefaultUnhealthyThreshold is the number of consecutive probe
	// failures before a node is considered unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatency is the P95 probe latency above which a node
	// counts as degraded even while answering.
	DefaultDegradedLatency = 2 * time.Second

	latencyWindowSize = 10
)

// HealthTracker accumulates probe results for a single node.
type HealthTracker struct {
	mu                  sync.RWMutex
	node                string
	status              HealthStatus
	consecutiveFailures int
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	unhealthyThreshold  int
	degradedLatency     time.Duration
	recentLatencies     []time.Duration
}

// NewHealthTracker creates a tracker for the given node ID.
func NewHealthTracker(node string) *HealthTracker {
	return &HealthTracker{
		node:               node,
		status:             HealthUnknown,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		degradedLatency:    DefaultDegradedLatency,
		recentLatencies:    make([]time.Duration, 0, latencyWindowSize),
	}
}

// RecordSuccess records a successful probe and returns true if the node
// just recovered from an unhealthy state.
func (h *HealthTracker) RecordSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	wasUnhealthy := h.status == HealthUnhealthy
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	if h.isLatencyDegraded() {
		h.status = HealthDegraded
	} else {
		h.status = HealthHealthy
	}
	h.publish()
	return wasUnhealthy
}

// RecordFailure records a failed probe and returns true if the node
// transitioned to unhealthy on this call.
func (h *HealthTracker) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	transitioned := false
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthUnhealthy {
		h.status = HealthUnhealthy
		transitioned = true
	}
	h.publish()
	return transitioned
}

// RecordLatency feeds one probe latency into the degradation window.
func (h *HealthTracker) RecordLatency(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, d)

	if h.status == HealthHealthy && h.isLatencyDegraded() {
		h.status = HealthDegraded
		h.publish()
	} else if h.status == HealthDegraded && h.consecutiveFailures == 0 && !h.isLatencyDegraded() {
		h.status = HealthHealthy
		h.publish()
	}
}

// isLatencyDegraded must be called with mu held.
func (h *HealthTracker) isLatencyDegraded() bool {
	n := len(h.recentLatencies)
	if n < 2 {
		return false
	}
	sorted := make([]time.Duration, n)
	copy(sorted, h.recentLatencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (95*n - 1) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx] > h.degradedLatency
}

// publish must be called with mu held.
func (h *HealthTracker) publish() {
	metrics.NodeHealthStatus.WithLabelValues(h.node).Set(statusValue(h.status))
	metrics.NodeConsecutiveFailures.WithLabelValues(h.node).Set(float64(h.consecutiveFailures))
}

func statusValue(s HealthStatus) float64 {
	switch s {
	case HealthHealthy:
		return 1
	case HealthDegraded:
		return 2
	case HealthUnhealthy:
		return 3
	default:
		return 0
	}
}

// HealthSnapshot is a point-in-time view of node health (JSON-safe).
type HealthSnapshot struct {
	Node                string     `json:"node"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// Snapshot returns the current health state.
func (h *HealthTracker) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Node:                h.node,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
	}
}
