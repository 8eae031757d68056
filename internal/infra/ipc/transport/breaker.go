package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// CircuitStatus is the breaker state machine position.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

// CircuitState is an operational snapshot of one breaker.
type CircuitState struct {
	State           CircuitStatus `json:"state"`
	FailureCount    int           `json:"failure_count"`
	LastFailureTime time.Time     `json:"last_failure_time,omitempty"`
}

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetInterval    = 60 * time.Second
)

// CircuitBreaker decorates one Transport with fault isolation. After a run
// of consecutive transport failures it opens and short-circuits every call
// with a synthetic 503 response, then lets exactly one trial call through
// once the reset interval has elapsed. A failed trial reopens the circuit
// with a refreshed failure time, so repeated trials back off by another
// full interval each time.
//
// Underlying failures are forwarded unchanged to the caller; the breaker
// only counts them. The synthetic 503 is a response, never an error, so
// callers handle it like any other error response.
type CircuitBreaker struct {
	inner            Transport
	failureThreshold int
	resetInterval    time.Duration

	mu              sync.Mutex
	state           CircuitStatus
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// NewCircuitBreaker wraps inner. Non-positive threshold/reset select the
// defaults (5 consecutive failures, 60s reset).
func NewCircuitBreaker(inner Transport, failureThreshold int, resetInterval time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetInterval <= 0 {
		resetInterval = DefaultResetInterval
	}
	return &CircuitBreaker{
		inner:            inner,
		failureThreshold: failureThreshold,
		resetInterval:    resetInterval,
		state:            CircuitClosed,
	}
}

// Method returns the wrapped transport's identifier.
func (b *CircuitBreaker) Method() string {
	return b.inner.Method()
}

// Available delegates to the wrapped transport.
func (b *CircuitBreaker) Available() bool {
	return b.inner.Available()
}

// SendRequest applies the breaker gate, then delegates.
func (b *CircuitBreaker) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	trial, allowed := b.admit()
	if !allowed {
		return domain.NewErrorResponse(req.ID, 503,
			fmt.Sprintf("circuit breaker open for %s transport", b.inner.Method())), nil
	}

	resp, err := b.inner.SendRequest(ctx, req, timeout)
	b.record(trial, err == nil)
	return resp, err
}

// Close delegates to the wrapped transport.
func (b *CircuitBreaker) Close() error {
	return b.inner.Close()
}

// GetCircuitState returns a snapshot for operational introspection.
func (b *CircuitBreaker) GetCircuitState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

// ResetCircuitBreaker forces the breaker closed without a restart.
func (b *CircuitBreaker) ResetCircuitBreaker() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failureCount = 0
	b.trialInFlight = false
}

// admit decides whether a call may pass. The second return is false when
// the circuit short-circuits; the first marks the call as the half-open
// trial.
func (b *CircuitBreaker) admit() (trial, allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if time.Since(b.lastFailureTime) < b.resetInterval {
			return false, false
		}
		b.state = CircuitHalfOpen
		b.trialInFlight = true
		return true, true
	case CircuitHalfOpen:
		if b.trialInFlight {
			return false, false
		}
		b.trialInFlight = true
		return true, true
	default:
		return false, true
	}
}

func (b *CircuitBreaker) record(trial, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}

	if success {
		b.state = CircuitClosed
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailureTime = time.Now()

	if trial || b.failureCount >= b.failureThreshold {
		b.state = CircuitOpen
	}
}
