package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

var (
	// IPCRequestsTotal tracks dispatched requests per transport and outcome
	IPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccbridge_ipc_requests_total",
			Help: "Total number of IPC requests",
		},
		[]string{"method", "outcome"},
	)

	// IPCLatency tracks end-to-end request latency per transport
	IPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccbridge_ipc_latency_seconds",
			Help:    "IPC request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CircuitOpen reports whether a circuit breaker is open (1) or not (0)
	CircuitOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccbridge_circuit_open",
			Help: "Circuit breaker open state by scope",
		},
		[]string{"scope"},
	)

	// RecoveryAttemptsTotal tracks error recovery attempts per category and outcome
	RecoveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccbridge_recovery_attempts_total",
			Help: "Total number of error recovery attempts",
		},
		[]string{"category", "outcome"},
	)

	// TrackedRequests reports cached request records per lifecycle state
	TrackedRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccbridge_tracked_requests",
			Help: "Number of tracked requests by lifecycle state",
		},
		[]string{"state"},
	)

	// DeadLettersTotal tracks operations pushed to the dead-letter queue
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccbridge_dead_letters_total",
			Help: "Total number of dead-lettered operations",
		},
		[]string{"category"},
	)
)

// SetTrackedRequests replaces the tracked-request gauge with a fresh
// per-state snapshot, zeroing states that no longer have records.
func SetTrackedRequests(counts map[domain.RequestLifecycleState]int) {
	for _, state := range []domain.RequestLifecycleState{
		domain.StateCreated,
		domain.StateQueued,
		domain.StateProcessing,
		domain.StateCompleted,
		domain.StateFailed,
		domain.StateTimeout,
	} {
		TrackedRequests.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
