// Package control wires the transports, tracker, recovery service, and
// health surface into one process-level bridge.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robinmin/ccbridge/internal/core/config"
	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/dispatch/health"
	"github.com/robinmin/ccbridge/internal/dispatch/metrics"
	"github.com/robinmin/ccbridge/internal/dispatch/recovery"
	"github.com/robinmin/ccbridge/internal/dispatch/tracker"
	"github.com/robinmin/ccbridge/internal/infra/ipc"
	"github.com/robinmin/ccbridge/internal/infra/ipc/transport"
	redisclient "github.com/robinmin/ccbridge/internal/infra/redis"
	"github.com/robinmin/ccbridge/internal/infra/storage"
	"github.com/robinmin/ccbridge/internal/infra/storage/memory"
	"github.com/robinmin/ccbridge/internal/infra/storage/postgres"
)

// Bridge is the main application struct that manages the dispatch
// lifecycle.
type Bridge struct {
	cfg          *config.AppConfig
	client       transport.Transport
	breaker      *transport.CircuitBreaker
	tracker      *tracker.Tracker
	recovery     *recovery.Service
	archive      storage.ArchiveRepository
	db           *postgres.DB
	redisClient  *redisclient.Client
	healthServer *health.Server
	log          *slog.Logger
}

// NewBridge creates a Bridge with all dependencies initialized.
func NewBridge(cfg *config.AppConfig) (*Bridge, error) {
	log := slog.With("component", "bridge")

	// 1. Initialize the archive
	var archive storage.ArchiveRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		archive = postgres.NewArchiveRepo(db)
		log.Info("Using PostgreSQL archive")
	} else {
		archive = memory.NewArchiveRepo()
		log.Info("Using memory archive")
	}

	// 2. Request tracker
	tr := tracker.New(cfg.Tracker, archive)

	// 3. Dead-letter sink and recovery service
	var redisClient *redisclient.Client
	var sink recovery.DeadLetterSink
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, dead letters disabled", "error", err)
		} else {
			sink = redisclient.NewDeadLetterQueue(redisClient)
		}
	}
	rec := recovery.New(cfg.Recovery, sink)

	// 4. Transport, fallback-chained in auto mode, breaker-wrapped
	leg, err := buildTransport(ipc.NewFactory(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	breaker := transport.NewCircuitBreaker(leg, transport.DefaultFailureThreshold, transport.DefaultResetInterval)

	// 5. Health surface
	var dbChecker health.DatabaseChecker
	if db != nil {
		dbChecker = db
	}
	monitor := health.NewMonitor(breaker, breaker, tr, rec, dbChecker)
	healthServer := health.NewServer(monitor, cfg.Server.Port)

	return &Bridge{
		cfg:          cfg,
		client:       breaker,
		breaker:      breaker,
		tracker:      tr,
		recovery:     rec,
		archive:      archive,
		db:           db,
		redisClient:  redisClient,
		healthServer: healthServer,
		log:          log,
	}, nil
}

// buildTransport maps the configured preference to a transport. Auto
// mode chains every leg the backend descriptor can serve, in priority
// order, so a dead leg degrades instead of failing the dispatch.
func buildTransport(factory *ipc.Factory, cfg *config.AppConfig) (transport.Transport, error) {
	backend := cfg.Backend.Backend()
	if cfg.IPC.Preference != ipc.PreferenceAuto {
		return factory.Create(cfg.IPC.Preference, backend)
	}

	var legs []transport.Transport
	for _, preference := range []string{
		transport.MethodTCP,
		transport.MethodUnix,
		transport.MethodDockerExec,
		transport.MethodRemote,
	} {
		leg, err := factory.Create(preference, backend)
		if err != nil {
			continue
		}
		legs = append(legs, leg)
	}

	switch len(legs) {
	case 0:
		return factory.Create(ipc.PreferenceAuto, backend)
	case 1:
		return legs[0], nil
	default:
		return factory.CreateWithFallback(legs...), nil
	}
}

// Start brings up the tracker (including crash recovery), the recovery
// health check, and the health server.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}
	if err := b.recovery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start recovery service: %w", err)
	}

	go func() {
		if err := b.healthServer.Start(); err != nil {
			b.log.Error("Health server failed", "error", err)
		}
	}()

	b.log.Info("Bridge started", "transport", b.client.Method(), "port", b.cfg.Server.Port)
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (b *Bridge) Stop(ctx context.Context) error {
	b.log.Info("Stopping bridge...")

	if err := b.recovery.Stop(ctx); err != nil {
		b.log.Warn("Failed to stop recovery service", "error", err)
	}
	if err := b.tracker.Stop(ctx); err != nil {
		b.log.Warn("Failed to stop tracker", "error", err)
	}
	if err := b.client.Close(); err != nil {
		b.log.Warn("Failed to close transport", "error", err)
	}
	if b.redisClient != nil {
		if err := b.redisClient.Close(); err != nil {
			b.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if err := b.archive.Close(); err != nil {
		b.log.Warn("Failed to close archive", "error", err)
	}

	return b.healthServer.Stop(ctx)
}

// DispatchInput describes one command to forward to the agent.
type DispatchInput struct {
	RequestID string
	ChatID    string
	Workspace string
	Prompt    string

	// Wire routing. Method defaults to "execute", Path to "/execute".
	Method string
	Path   string
	Body   json.RawMessage
}

// Dispatch tracks a request through its full lifecycle: create, mark
// processing, send over the wire, and record the terminal state. The
// returned response may be an application error or the breaker's
// synthetic 503; the returned error is transport-level only.
func (b *Bridge) Dispatch(ctx context.Context, input DispatchInput) (*domain.IpcResponse, error) {
	if input.Method == "" {
		input.Method = "execute"
	}
	if input.Path == "" {
		input.Path = "/execute"
	}

	rec, err := b.tracker.Create(tracker.CreateInput{
		RequestID: input.RequestID,
		ChatID:    input.ChatID,
		Workspace: input.Workspace,
		Prompt:    input.Prompt,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	processing := domain.StateProcessing
	if _, err := b.tracker.UpdateState(rec.RequestID, tracker.Update{
		State:               &processing,
		ProcessingStartedAt: &now,
	}); err != nil {
		return nil, err
	}

	req := &domain.IpcRequest{
		ID:     rec.RequestID,
		Method: input.Method,
		Path:   input.Path,
		Body:   input.Body,
	}

	start := time.Now()
	resp, sendErr := b.client.SendRequest(ctx, req, b.cfg.IPC.RequestTimeout)
	metrics.IPCLatency.WithLabelValues(b.client.Method()).Observe(time.Since(start).Seconds())

	if sendErr != nil {
		b.recordFailure(ctx, rec.RequestID, input.Workspace, sendErr)
		return nil, sendErr
	}

	b.recordResponse(rec.RequestID, resp)
	return resp, nil
}

// recordFailure persists a transport failure and reports it to the
// recovery service as a network-category error.
func (b *Bridge) recordFailure(ctx context.Context, id, workspace string, sendErr error) {
	outcome := "error"
	state := domain.StateFailed
	timedOut := false
	if transport.IsTimeout(sendErr) {
		outcome = "timeout"
		state = domain.StateTimeout
		timedOut = true
	}
	metrics.IPCRequestsTotal.WithLabelValues(b.client.Method(), outcome).Inc()

	msg := sendErr.Error()
	if _, err := b.tracker.UpdateState(id, tracker.Update{
		State:    &state,
		Error:    &msg,
		TimedOut: &timedOut,
	}); err != nil {
		b.log.Warn("Failed to record dispatch failure", "request_id", id, "error", err)
	}

	b.recovery.HandleError(ctx, &domain.ErrorContext{
		ErrorType: domain.ErrorNetwork,
		RequestID: id,
		Workspace: workspace,
		Error:     msg,
	})
}

// recordResponse persists the terminal state for a wire response,
// including the breaker's synthetic 503.
func (b *Bridge) recordResponse(id string, resp *domain.IpcResponse) {
	completed := time.Now()
	upd := tracker.Update{CompletedAt: &completed}

	if resp.OK() {
		metrics.IPCRequestsTotal.WithLabelValues(b.client.Method(), "success").Inc()
		state := domain.StateCompleted
		upd.State = &state
		if len(resp.Result) > 0 {
			out := string(resp.Result)
			upd.Output = &out
		}
	} else {
		metrics.IPCRequestsTotal.WithLabelValues(b.client.Method(), "error").Inc()
		state := domain.StateFailed
		upd.State = &state
		msg := resp.ErrorMessage()
		upd.Error = &msg
	}

	if _, err := b.tracker.UpdateState(id, upd); err != nil {
		b.log.Warn("Failed to record dispatch result", "request_id", id, "error", err)
	}
}

// Request exposes tracker lookups for callers polling for results.
func (b *Bridge) Request(id string) (*domain.RequestRecord, error) {
	return b.tracker.Get(id)
}

// Requests lists a workspace's recent requests.
func (b *Bridge) Requests(workspace string, filter tracker.Filter) ([]*domain.RequestRecord, error) {
	return b.tracker.List(workspace, filter)
}

// History returns archived terminal records for a workspace.
func (b *Bridge) History(ctx context.Context, workspace string, limit int) ([]*domain.RequestRecord, error) {
	return b.archive.History(ctx, workspace, limit)
}

// ReportError forwards a categorized failure from a collaborator to the
// recovery service.
func (b *Bridge) ReportError(ctx context.Context, ec *domain.ErrorContext) bool {
	return b.recovery.HandleError(ctx, ec)
}

// Status aggregates the observable state of every subsystem.
type Status struct {
	Transport string                                         `json:"transport"`
	Available bool                                           `json:"available"`
	Circuit   transport.CircuitState                         `json:"circuit"`
	Tracker   tracker.Stats                                  `json:"tracker"`
	Recovery  map[domain.ErrorCategory]recovery.CategoryStats `json:"recovery"`
}

// Status returns a snapshot for the status command and dashboards.
func (b *Bridge) Status() Status {
	return Status{
		Transport: b.client.Method(),
		Available: b.client.Available(),
		Circuit:   b.breaker.GetCircuitState(),
		Tracker:   b.tracker.Stats(),
		Recovery:  b.recovery.Stats(),
	}
}
