// Package recovery turns categorized dispatch failures into retries,
// graceful degradation, or an opened per-category circuit. HandleError
// never returns an error: every outcome is a boolean plus events.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/dispatch/metrics"
)

// DefaultHealthCheckInterval is how often open circuits are re-examined.
const DefaultHealthCheckInterval = 30 * time.Second

// Metadata keys recognized on an ErrorContext.
const (
	MetaPath    = "path"
	MetaContent = "content"
)

// DeadLetter is an operation parked for out-of-band replay.
type DeadLetter struct {
	ID        string               `json:"id"`
	Category  domain.ErrorCategory `json:"category"`
	RequestID string               `json:"requestId"`
	Workspace string               `json:"workspace"`
	Error     string               `json:"error"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
	ParkedAt  time.Time            `json:"parkedAt"`
}

// DeadLetterSink accepts parked operations. Implementations must be
// safe for concurrent use.
type DeadLetterSink interface {
	Push(ctx context.Context, letter DeadLetter) error
}

// Config holds recovery service settings.
type Config struct {
	// FallbackDir receives file_write payloads after retry exhaustion.
	FallbackDir string `yaml:"fallback_dir"`

	// ProbeAddr is the host:port dialed by the network connectivity
	// probe. Empty disables probing and network recovery always fails.
	ProbeAddr string `yaml:"probe_addr"`

	// HealthCheckInterval overrides the open-circuit scan period.
	// Zero keeps the default.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

type categoryState struct {
	failures        int
	open            bool
	lastFailureTime time.Time
}

// CategoryStats is the observable snapshot of one category.
type CategoryStats struct {
	Failures        int       `json:"failures"`
	CircuitOpen     bool      `json:"circuitOpen"`
	LastFailureTime time.Time `json:"lastFailureTime,omitempty"`
}

// Service applies the fixed per-category strategy table to reported
// failures.
type Service struct {
	cfg      Config
	registry *EventRegistry
	sink     DeadLetterSink
	log      *slog.Logger

	// Side effects are injectable so recovery paths can be tested
	// without touching the real filesystem or network.
	writeFile func(path string, data []byte) error
	probe     func(ctx context.Context, addr string) error
	chmod     func(path string, mode os.FileMode) error
	sleep     func(ctx context.Context, d time.Duration)

	mu     sync.Mutex
	states map[domain.ErrorCategory]*categoryState

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a recovery service. sink may be nil; dead-letter events
// are then emitted without a durable copy.
func New(cfg Config, sink DeadLetterSink) *Service {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	s := &Service{
		cfg:      cfg,
		registry: NewEventRegistry(),
		sink:     sink,
		log:      slog.With("component", "recovery"),
		states:   make(map[domain.ErrorCategory]*categoryState),
	}
	s.writeFile = func(path string, data []byte) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
	s.probe = probeTCP
	s.chmod = os.Chmod
	s.sleep = func(ctx context.Context, d time.Duration) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	for _, cat := range domain.ErrorCategories {
		s.states[cat] = &categoryState{}
	}
	return s
}

// Events exposes the listener registry.
func (s *Service) Events() *EventRegistry { return s.registry }

// Start launches the periodic health check that closes expired circuits.
func (s *Service) Start(ctx context.Context) error {
	if s.cancel != nil {
		return fmt.Errorf("recovery service already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.healthCheck()
			}
		}
	}()

	s.log.Info("recovery service started", "health_check_interval", s.cfg.HealthCheckInterval)
	return nil
}

// Stop halts the health check and waits for it to exit.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cancel = nil
	return nil
}

// HandleError attempts recovery for a categorized failure and reports
// whether the operation should be considered handled. It never returns
// an error; outcomes are observable through events and Stats.
func (s *Service) HandleError(ctx context.Context, ec *domain.ErrorContext) bool {
	strategy, known := StrategyFor(ec.ErrorType)
	if !known {
		s.log.Warn("unrecognized error category", "category", ec.ErrorType, "request_id", ec.RequestID)
		return false
	}

	if s.circuitOpen(ec.ErrorType) {
		s.emit(EventCircuitRejected, ec, "circuit open, recovery skipped")
		metrics.RecoveryAttemptsTotal.WithLabelValues(string(ec.ErrorType), "rejected").Inc()
		return false
	}

	var handled bool
	switch ec.ErrorType {
	case domain.ErrorFileWrite:
		handled = s.recoverFileWrite(ctx, ec, strategy)
	case domain.ErrorNetwork:
		handled = s.recoverNetwork(ctx, ec, strategy)
	case domain.ErrorStopHook, domain.ErrorCallback:
		handled = s.degradeToDeadLetter(ctx, ec)
	case domain.ErrorDiskSpace:
		handled = s.recoverDiskSpace(ctx, ec, strategy)
	case domain.ErrorPermission:
		handled = s.recoverPermission(ec)
	default:
		handled = false
	}

	s.record(ec, strategy, handled)
	return handled
}

// recoverFileWrite retries the write with linearly increasing backoff,
// then falls back to a secondary location. A fallback write still counts
// as success.
func (s *Service) recoverFileWrite(ctx context.Context, ec *domain.ErrorContext, strategy Strategy) bool {
	path := ec.Metadata[MetaPath]
	if path == "" {
		return false
	}
	data := []byte(ec.Metadata[MetaContent])

	for attempt := 1; attempt <= strategy.MaxRetries; attempt++ {
		s.sleep(ctx, time.Duration(attempt)*strategy.Backoff)
		if ctx.Err() != nil {
			return false
		}
		err := s.writeFile(path, data)
		if err == nil {
			return true
		}
		s.log.Debug("file write retry failed", "path", path, "attempt", attempt, "error", err)
	}

	if s.cfg.FallbackDir == "" {
		return false
	}
	fallback := filepath.Join(s.cfg.FallbackDir, filepath.Base(path))
	if err := s.writeFile(fallback, data); err != nil {
		s.log.Warn("fallback write failed", "path", fallback, "error", err)
		return false
	}
	s.emit(EventFallbackWrite, ec, fallback)
	return true
}

// recoverNetwork probes connectivity with exponential backoff. On
// exhaustion the service announces offline mode and gives up.
func (s *Service) recoverNetwork(ctx context.Context, ec *domain.ErrorContext, strategy Strategy) bool {
	if s.cfg.ProbeAddr == "" {
		s.emit(EventOfflineMode, ec, "no probe address configured")
		return false
	}

	backoff := strategy.Backoff
	for attempt := 1; attempt <= strategy.MaxRetries; attempt++ {
		s.sleep(ctx, backoff)
		backoff *= 2
		if ctx.Err() != nil {
			return false
		}
		err := s.probe(ctx, s.cfg.ProbeAddr)
		if err == nil {
			return true
		}
		s.log.Debug("connectivity probe failed", "addr", s.cfg.ProbeAddr, "attempt", attempt, "error", err)
	}

	s.emit(EventOfflineMode, ec, "connectivity probes exhausted")
	return false
}

// degradeToDeadLetter parks the operation and reports success: the
// caller still has a durable side channel (polling the tracker), so the
// user-visible operation did not fail.
func (s *Service) degradeToDeadLetter(ctx context.Context, ec *domain.ErrorContext) bool {
	if s.sink != nil {
		letter := DeadLetter{
			Category:  ec.ErrorType,
			RequestID: ec.RequestID,
			Workspace: ec.Workspace,
			Error:     ec.Error,
			Metadata:  ec.Metadata,
			ParkedAt:  time.Now(),
		}
		if err := s.sink.Push(ctx, letter); err != nil {
			s.log.Warn("dead letter push failed", "category", ec.ErrorType, "request_id", ec.RequestID, "error", err)
		}
	}
	metrics.DeadLettersTotal.WithLabelValues(string(ec.ErrorType)).Inc()
	s.emit(EventDeadLetter, ec, "degraded to dead letter")
	return true
}

// recoverDiskSpace asks an external process to clean up, waits, and
// assumes it did.
func (s *Service) recoverDiskSpace(ctx context.Context, ec *domain.ErrorContext, strategy Strategy) bool {
	s.emit(EventCleanupRequested, ec, ec.Metadata[MetaPath])
	s.sleep(ctx, strategy.Backoff)
	return ctx.Err() == nil
}

// recoverPermission relaxes the target's parent directory once.
func (s *Service) recoverPermission(ec *domain.ErrorContext) bool {
	path := ec.Metadata[MetaPath]
	if path == "" {
		return false
	}
	if err := s.chmod(filepath.Dir(path), 0o755); err != nil {
		s.log.Warn("permission recovery failed", "path", path, "error", err)
		return false
	}
	return true
}

func (s *Service) circuitOpen(cat domain.ErrorCategory) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[cat].open
}

// record updates the category's failure counter and opens the circuit
// at the threshold.
func (s *Service) record(ec *domain.ErrorContext, strategy Strategy, handled bool) {
	s.mu.Lock()
	state := s.states[ec.ErrorType]
	if handled {
		state.failures = 0
		s.mu.Unlock()
		metrics.RecoveryAttemptsTotal.WithLabelValues(string(ec.ErrorType), "recovered").Inc()
		s.emit(EventRetrySucceeded, ec, "")
		return
	}

	state.failures++
	state.lastFailureTime = time.Now()
	failures := state.failures
	opened := !state.open && failures >= strategy.BreakerThreshold
	if opened {
		state.open = true
	}
	s.mu.Unlock()

	metrics.RecoveryAttemptsTotal.WithLabelValues(string(ec.ErrorType), "failed").Inc()
	if opened {
		metrics.CircuitOpen.WithLabelValues(string(ec.ErrorType)).Set(1)
		s.log.Warn("recovery circuit opened", "category", ec.ErrorType, "failures", failures)
		s.emit(EventCircuitOpened, ec, "")
	}
}

// healthCheck closes open circuits whose last failure is older than the
// category's reset interval.
func (s *Service) healthCheck() {
	now := time.Now()

	s.mu.Lock()
	var reset []domain.ErrorCategory
	for cat, state := range s.states {
		strategy, ok := StrategyFor(cat)
		if !ok || !state.open {
			continue
		}
		if now.Sub(state.lastFailureTime) > strategy.BreakerReset {
			state.open = false
			state.failures = 0
			reset = append(reset, cat)
		}
	}
	s.mu.Unlock()

	for _, cat := range reset {
		metrics.CircuitOpen.WithLabelValues(string(cat)).Set(0)
		s.log.Info("recovery circuit reset", "category", cat)
		s.registry.emit(Event{Name: EventCircuitReset, Category: cat})
	}
}

// Stats returns a per-category snapshot.
func (s *Service) Stats() map[domain.ErrorCategory]CategoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ErrorCategory]CategoryStats, len(s.states))
	for cat, state := range s.states {
		out[cat] = CategoryStats{
			Failures:        state.failures,
			CircuitOpen:     state.open,
			LastFailureTime: state.lastFailureTime,
		}
	}
	return out
}

func (s *Service) emit(name EventName, ec *domain.ErrorContext, detail string) {
	s.registry.emit(Event{
		Name:      name,
		Category:  ec.ErrorType,
		RequestID: ec.RequestID,
		Detail:    detail,
	})
}
