// Package tracker records the lifecycle of every dispatched request
// durably enough to survive a process crash and recover on restart.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/dispatch/metrics"
	"github.com/robinmin/ccbridge/internal/infra/storage"
)

// GC thresholds applied during startup recovery.
const (
	DefaultStaleAfter = 24 * time.Hour
	DefaultHangAfter  = time.Hour
)

// Config holds tracker settings.
type Config struct {
	// Dir is the root of the on-disk request store.
	Dir string `yaml:"dir"`

	// StaleAfter deletes records not updated for this long. Zero keeps
	// the 24h default.
	StaleAfter time.Duration `yaml:"stale_after"`

	// HangAfter reclassifies processing records older than this as
	// timed out. Zero keeps the 1h default.
	HangAfter time.Duration `yaml:"hang_after"`
}

// CreateInput is the caller-supplied part of a new record.
type CreateInput struct {
	RequestID string
	ChatID    string
	Workspace string
	Prompt    string
}

// Update is a partial record update; nil fields keep the current value.
type Update struct {
	State               *domain.RequestLifecycleState
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	ExitCode            *int
	Output              *string
	Error               *string
	TimedOut            *bool
	Callback            *domain.CallbackState
}

// Filter narrows List results.
type Filter struct {
	State  domain.RequestLifecycleState
	ChatID string
	Limit  int
}

// Stats is an observability snapshot.
type Stats struct {
	ByState map[domain.RequestLifecycleState]int `json:"by_state"`
	Cached  int                                  `json:"cached"`
}

// Tracker is a durable per-request state machine with an in-memory read
// cache. Writes within one process are serialized by the tracker's lock;
// overlapping UpdateState calls for one id from multiple processes are
// not, and callers must serialize those externally.
type Tracker struct {
	store      *fileStore
	staleAfter time.Duration
	hangAfter  time.Duration
	archive    storage.ArchiveRepository
	log        *slog.Logger

	mu      sync.Mutex
	cache   map[string]*domain.RequestRecord
	started bool
}

// New creates a tracker. archive may be nil; terminal records are then
// only kept in the file store until garbage collection.
func New(cfg Config, archive storage.ArchiveRepository) *Tracker {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	hangAfter := cfg.HangAfter
	if hangAfter <= 0 {
		hangAfter = DefaultHangAfter
	}
	return &Tracker{
		store:      &fileStore{dir: cfg.Dir},
		staleAfter: staleAfter,
		hangAfter:  hangAfter,
		archive:    archive,
		log:        slog.With("component", "tracker"),
		cache:      make(map[string]*domain.RequestRecord),
	}
}

// Start runs startup recovery to completion: stale records are deleted,
// hung processing records are reclassified as timeouts, and everything
// else is cached. The tracker is not usable before Start returns.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.store.init(); err != nil {
		return err
	}

	records, err := t.store.listFlat()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var recovered, expired, reclassified int

	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if now.Sub(rec.LastUpdatedAt) > t.staleAfter {
			if err := t.store.remove(rec.RequestID, rec.Workspace); err != nil {
				t.log.Warn("failed to delete stale record", "request_id", rec.RequestID, "error", err)
			}
			expired++
			continue
		}

		if rec.State == domain.StateProcessing &&
			rec.ProcessingStartedAt != nil &&
			now.Sub(*rec.ProcessingStartedAt) > t.hangAfter {
			rec.PreviousState = rec.State
			rec.State = domain.StateTimeout
			rec.TimedOut = true
			rec.LastUpdatedAt = now
			if err := t.store.write(rec); err != nil {
				t.log.Warn("failed to rewrite hung record", "request_id", rec.RequestID, "error", err)
			}
			reclassified++
		}

		t.cache[rec.RequestID] = rec
		recovered++
	}

	t.started = true
	t.log.Info("tracker recovery complete",
		"recovered", recovered, "expired", expired, "reclassified", reclassified)
	metrics.SetTrackedRequests(t.countByStateLocked())
	return nil
}

// Stop flushes nothing (every write is already durable) and drops the
// cache.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache = make(map[string]*domain.RequestRecord)
	t.started = false
	return nil
}

// Create validates, persists, and caches a fresh record. An empty
// RequestID gets a generated UUID.
func (t *Tracker) Create(input CreateInput) (*domain.RequestRecord, error) {
	if input.RequestID == "" {
		input.RequestID = uuid.NewString()
	}
	if err := domain.ValidateRequestID(input.RequestID); err != nil {
		return nil, err
	}
	if err := domain.ValidateWorkspace(input.Workspace); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &domain.RequestRecord{
		RequestID:     input.RequestID,
		ChatID:        input.ChatID,
		Workspace:     input.Workspace,
		Prompt:        input.Prompt,
		State:         domain.StateCreated,
		CreatedAt:     now,
		LastUpdatedAt: now,
		TimedOut:      false,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.write(rec); err != nil {
		return nil, err
	}
	t.cache[rec.RequestID] = rec
	metrics.SetTrackedRequests(t.countByStateLocked())
	return cloneRecord(rec), nil
}

// UpdateState merges a partial update over the current record. Unknown
// ids are a no-op returning (nil, nil). Each applied update stamps
// previousState with the prior state and refreshes lastUpdatedAt.
func (t *Tracker) UpdateState(id string, upd Update) (*domain.RequestRecord, error) {
	if err := domain.ValidateRequestID(id); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	rec.PreviousState = rec.State
	if upd.State != nil {
		rec.State = *upd.State
	}
	if upd.ProcessingStartedAt != nil {
		rec.ProcessingStartedAt = upd.ProcessingStartedAt
	}
	if upd.CompletedAt != nil {
		rec.CompletedAt = upd.CompletedAt
	}
	if upd.ExitCode != nil {
		rec.ExitCode = upd.ExitCode
	}
	if upd.Output != nil {
		rec.Output = *upd.Output
	}
	if upd.Error != nil {
		rec.Error = *upd.Error
	}
	if upd.TimedOut != nil {
		rec.TimedOut = *upd.TimedOut
	}
	if upd.Callback != nil {
		rec.Callback = upd.Callback
	}
	rec.LastUpdatedAt = time.Now()

	if err := t.store.write(rec); err != nil {
		return nil, err
	}
	t.cache[id] = rec
	metrics.SetTrackedRequests(t.countByStateLocked())

	if rec.State.Terminal() && t.archive != nil {
		// Archive failures must never fail the transition.
		if err := t.archive.SaveTerminal(context.Background(), rec); err != nil {
			t.log.Warn("failed to archive terminal record", "request_id", id, "error", err)
		}
	}

	return cloneRecord(rec), nil
}

// Get returns the record or (nil, nil) when unknown. Cache misses fall
// back to disk and repopulate the cache.
func (t *Tracker) Get(id string) (*domain.RequestRecord, error) {
	if err := domain.ValidateRequestID(id); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.getLocked(id)
	if err != nil || rec == nil {
		return nil, err
	}
	return cloneRecord(rec), nil
}

// List returns a workspace's records, filtered and sorted newest-first
// by creation time.
func (t *Tracker) List(workspace string, f Filter) ([]*domain.RequestRecord, error) {
	if err := domain.ValidateWorkspace(workspace); err != nil {
		return nil, err
	}

	records, err := t.store.listWorkspace(workspace)
	if err != nil {
		return nil, err
	}

	filtered := records[:0]
	for _, rec := range records {
		if f.State != "" && rec.State != f.State {
			continue
		}
		if f.ChatID != "" && rec.ChatID != f.ChatID {
			continue
		}
		filtered = append(filtered, rec)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if f.Limit > 0 && len(filtered) > f.Limit {
		filtered = filtered[:f.Limit]
	}
	return filtered, nil
}

// Delete removes both indexed files and the cache entry. Missing files
// are tolerated.
func (t *Tracker) Delete(id string) error {
	if err := domain.ValidateRequestID(id); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	workspace := ""
	if rec, _ := t.getLocked(id); rec != nil {
		workspace = rec.Workspace
	}
	delete(t.cache, id)

	if workspace == "" {
		// Record unknown: best effort on the flat file only.
		return t.store.remove(id, "")
	}
	if err := t.store.remove(id, workspace); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	metrics.SetTrackedRequests(t.countByStateLocked())
	return nil
}

// Stats returns per-state counts for dashboards.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{ByState: t.countByStateLocked(), Cached: len(t.cache)}
}

func (t *Tracker) getLocked(id string) (*domain.RequestRecord, error) {
	if rec, ok := t.cache[id]; ok {
		return rec, nil
	}

	rec, err := t.store.read(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	t.cache[id] = rec
	return rec, nil
}

func (t *Tracker) countByStateLocked() map[domain.RequestLifecycleState]int {
	counts := make(map[domain.RequestLifecycleState]int)
	for _, rec := range t.cache {
		counts[rec.State]++
	}
	return counts
}

func cloneRecord(rec *domain.RequestRecord) *domain.RequestRecord {
	clone := *rec
	return &clone
}
