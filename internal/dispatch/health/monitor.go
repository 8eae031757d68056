package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/dispatch/recovery"
	"github.com/robinmin/ccbridge/internal/dispatch/tracker"
	"github.com/robinmin/ccbridge/internal/infra/ipc/transport"
)

// TransportChecker reports reachability of the active transport.
type TransportChecker interface {
	Method() string
	Available() bool
}

// BreakerInspector exposes dispatch circuit state.
type BreakerInspector interface {
	GetCircuitState() transport.CircuitState
}

// DatabaseChecker pings the archive database.
type DatabaseChecker interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the dispatch subsystems.
type Monitor struct {
	transport TransportChecker
	breaker   BreakerInspector
	tracker   *tracker.Tracker
	recovery  *recovery.Service
	database  DatabaseChecker

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a health monitor. breaker and database may be nil
// when those subsystems are not wired.
func NewMonitor(
	tc TransportChecker,
	breaker BreakerInspector,
	tr *tracker.Tracker,
	rec *recovery.Service,
	db DatabaseChecker,
) *Monitor {
	return &Monitor{
		transport: tc,
		breaker:   breaker,
		tracker:   tr,
		recovery:  rec,
		database:  db,
	}
}

// CheckHealth performs a health check across all wired components.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid spamming transport probes
	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	components := make(map[string]ComponentHealth)

	if m.transport != nil {
		ch := ComponentHealth{Name: "transport", Status: StatusHealthy, Detail: m.transport.Method()}
		if !m.transport.Available() {
			ch.Status = StatusCritical
			ch.Detail = fmt.Sprintf("%s unreachable", m.transport.Method())
		}
		components["transport"] = ch
	}

	if m.breaker != nil {
		state := m.breaker.GetCircuitState()
		ch := ComponentHealth{Name: "circuit", Status: StatusHealthy, Detail: string(state.State)}
		if state.State == transport.CircuitOpen {
			ch.Status = StatusDegraded
		}
		components["circuit"] = ch
	}

	if m.tracker != nil {
		stats := m.tracker.Stats()
		ch := ComponentHealth{
			Name:   "tracker",
			Status: StatusHealthy,
			Detail: fmt.Sprintf("%d tracked, %d processing", stats.Cached, stats.ByState[domain.StateProcessing]),
		}
		components["tracker"] = ch
	}

	if m.recovery != nil {
		ch := ComponentHealth{Name: "recovery", Status: StatusHealthy}
		for cat, stats := range m.recovery.Stats() {
			if stats.CircuitOpen {
				ch.Status = StatusDegraded
				ch.Detail = fmt.Sprintf("circuit open: %s", cat)
				break
			}
		}
		components["recovery"] = ch
	}

	if m.database != nil {
		ch := ComponentHealth{Name: "database", Status: StatusHealthy}
		if err := m.database.Health(ctx); err != nil {
			ch.Status = StatusDegraded
			ch.Detail = err.Error()
		}
		components["database"] = ch
	}

	report := &Report{SystemStatus: StatusHealthy, Components: components}
	for _, ch := range components {
		if ch.Status == StatusCritical {
			report.SystemStatus = StatusCritical
			break
		}
		if ch.Status == StatusDegraded {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
