package recovery

import (
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// Strategy is the fixed recovery policy for one error category.
type Strategy struct {
	// MaxRetries bounds the in-process retry loop.
	MaxRetries int

	// Backoff is the base delay between retries. file_write scales it
	// linearly per attempt, network exponentially.
	Backoff time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the
	// category's circuit.
	BreakerThreshold int

	// BreakerReset is how long after the last failure the health check
	// closes the circuit again.
	BreakerReset time.Duration
}

// strategies is the category policy table. It is fixed at compile time;
// tuning it is an explicit code change, not configuration.
var strategies = map[domain.ErrorCategory]Strategy{
	domain.ErrorFileWrite:  {MaxRetries: 3, Backoff: 1000 * time.Millisecond, BreakerThreshold: 10, BreakerReset: 300 * time.Second},
	domain.ErrorStopHook:   {MaxRetries: 3, Backoff: 2000 * time.Millisecond, BreakerThreshold: 5, BreakerReset: 300 * time.Second},
	domain.ErrorCallback:   {MaxRetries: 3, Backoff: 1000 * time.Millisecond, BreakerThreshold: 10, BreakerReset: 300 * time.Second},
	domain.ErrorNetwork:    {MaxRetries: 5, Backoff: 500 * time.Millisecond, BreakerThreshold: 20, BreakerReset: 300 * time.Second},
	domain.ErrorDiskSpace:  {MaxRetries: 2, Backoff: 5000 * time.Millisecond, BreakerThreshold: 3, BreakerReset: 600 * time.Second},
	domain.ErrorPermission: {MaxRetries: 1, Backoff: 0, BreakerThreshold: 5, BreakerReset: 300 * time.Second},
}

// StrategyFor returns the policy for a category and whether the
// category is recognized.
func StrategyFor(category domain.ErrorCategory) (Strategy, bool) {
	s, ok := strategies[category]
	return s, ok
}
