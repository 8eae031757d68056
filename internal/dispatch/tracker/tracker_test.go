package tracker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := New(Config{Dir: t.TempDir()}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tr
}

func statePtr(s domain.RequestLifecycleState) *domain.RequestLifecycleState { return &s }

// ============================================================
// Create / Get
// ============================================================

func TestCreateThenGet(t *testing.T) {
	tr := newTestTracker(t)

	rec, err := tr.Create(CreateInput{
		RequestID: "req-1",
		ChatID:    "chat-9",
		Workspace: "ws-alpha",
		Prompt:    "run the tests",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.State != domain.StateCreated {
		t.Errorf("state = %q, want created", rec.State)
	}
	if rec.TimedOut {
		t.Error("fresh record marked timed out")
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.LastUpdatedAt) {
		t.Errorf("timestamps: createdAt=%v lastUpdatedAt=%v", rec.CreatedAt, rec.LastUpdatedAt)
	}

	got, err := tr.Get("req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.State != domain.StateCreated || got.ChatID != "chat-9" {
		t.Errorf("Get returned %+v", got)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	tr := newTestTracker(t)

	rec, err := tr.Create(CreateInput{Workspace: "ws"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.RequestID == "" {
		t.Fatal("expected generated request id")
	}
	if err := domain.ValidateRequestID(rec.RequestID); err != nil {
		t.Errorf("generated id invalid: %v", err)
	}
}

func TestCreateRejectsInvalidInputBeforeWrite(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Dir: dir}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cases := []CreateInput{
		{RequestID: "../escape", Workspace: "ws"},
		{RequestID: "has space", Workspace: "ws"},
		{RequestID: strings.Repeat("x", 129), Workspace: "ws"},
		{RequestID: "ok", Workspace: "bad/ws"},
		{RequestID: "ok", Workspace: ""},
		{RequestID: "ok", Workspace: strings.Repeat("w", 65)},
	}
	for _, in := range cases {
		if _, err := tr.Create(in); err == nil {
			t.Errorf("Create(%+v) succeeded, want validation error", in)
		}
	}

	// Nothing may have touched the store.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != workspaceDirName {
			t.Errorf("unexpected file written: %s", e.Name())
		}
	}
}

func TestGetUnknownID(t *testing.T) {
	tr := newTestTracker(t)

	rec, err := tr.Get("never-created")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("Get unknown id = %+v, want nil", rec)
	}
}

// ============================================================
// UpdateState
// ============================================================

func TestUpdateStateChainsPreviousState(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.Create(CreateInput{RequestID: "r1", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := tr.UpdateState("r1", Update{State: statePtr(domain.StateQueued)})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if rec.State != domain.StateQueued || rec.PreviousState != domain.StateCreated {
		t.Errorf("after queue: state=%q previous=%q", rec.State, rec.PreviousState)
	}

	now := time.Now()
	rec, err = tr.UpdateState("r1", Update{
		State:               statePtr(domain.StateProcessing),
		ProcessingStartedAt: &now,
	})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if rec.State != domain.StateProcessing || rec.PreviousState != domain.StateQueued {
		t.Errorf("after processing: state=%q previous=%q", rec.State, rec.PreviousState)
	}
	if rec.ProcessingStartedAt == nil {
		t.Error("processingStartedAt not recorded")
	}

	// Same-state update still refreshes previousState to the prior state.
	rec, err = tr.UpdateState("r1", Update{State: statePtr(domain.StateProcessing)})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if rec.PreviousState != domain.StateProcessing {
		t.Errorf("idempotent update previous=%q, want processing", rec.PreviousState)
	}
}

func TestUpdateStateUnknownIDIsNoop(t *testing.T) {
	tr := newTestTracker(t)

	rec, err := tr.UpdateState("ghost", Update{State: statePtr(domain.StateQueued)})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if rec != nil {
		t.Errorf("update of unknown id returned %+v, want nil", rec)
	}
}

func TestUpdateStateMergesPartialFields(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.Create(CreateInput{RequestID: "r1", ChatID: "c", Workspace: "ws", Prompt: "p"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	exit := 0
	out := "done"
	done := time.Now()
	rec, err := tr.UpdateState("r1", Update{
		State:       statePtr(domain.StateCompleted),
		CompletedAt: &done,
		ExitCode:    &exit,
		Output:      &out,
	})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if rec.ChatID != "c" || rec.Prompt != "p" {
		t.Errorf("untouched fields lost: %+v", rec)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 || rec.Output != "done" || rec.CompletedAt == nil {
		t.Errorf("updated fields missing: %+v", rec)
	}
}

func TestUpdateStateArchivesTerminal(t *testing.T) {
	archive := &mockArchive{}
	tr := New(Config{Dir: t.TempDir()}, archive)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "r1", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := tr.UpdateState("r1", Update{State: statePtr(domain.StateQueued)}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if len(archive.saved) != 0 {
		t.Errorf("non-terminal state archived: %d", len(archive.saved))
	}

	if _, err := tr.UpdateState("r1", Update{State: statePtr(domain.StateFailed)}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if len(archive.saved) != 1 || archive.saved[0].State != domain.StateFailed {
		t.Errorf("terminal state not archived: %+v", archive.saved)
	}
}

func TestUpdateStateSurvivesArchiveFailure(t *testing.T) {
	archive := &mockArchive{fail: true}
	tr := New(Config{Dir: t.TempDir()}, archive)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "r1", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := tr.UpdateState("r1", Update{State: statePtr(domain.StateCompleted)})
	if err != nil {
		t.Fatalf("archive failure leaked into UpdateState: %v", err)
	}
	if rec.State != domain.StateCompleted {
		t.Errorf("state = %q, want completed", rec.State)
	}
}

// ============================================================
// Crash recovery
// ============================================================

func TestStartDeletesStaleRecords(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Dir: dir}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "old", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	forgeTimestamps(t, tr, "old", func(rec *domain.RequestRecord) {
		rec.LastUpdatedAt = time.Now().Add(-25 * time.Hour)
	})

	// Simulate restart.
	tr2 := New(Config{Dir: dir}, nil)
	if err := tr2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := tr2.Get("old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("stale record survived recovery: %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.json")); !os.IsNotExist(err) {
		t.Error("stale flat file not deleted")
	}
	if _, err := os.Stat(filepath.Join(dir, workspaceDirName, "ws", "old.json")); !os.IsNotExist(err) {
		t.Error("stale workspace file not deleted")
	}
}

func TestStartReclassifiesHungProcessing(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Dir: dir}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "hung", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	started := time.Now().Add(-2 * time.Hour)
	if _, err := tr.UpdateState("hung", Update{
		State:               statePtr(domain.StateProcessing),
		ProcessingStartedAt: &started,
	}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	tr2 := New(Config{Dir: dir}, nil)
	if err := tr2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := tr2.Get("hung")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("hung record deleted instead of reclassified")
	}
	if rec.State != domain.StateTimeout || !rec.TimedOut {
		t.Errorf("state=%q timedOut=%v, want timeout/true", rec.State, rec.TimedOut)
	}
	if rec.PreviousState != domain.StateProcessing {
		t.Errorf("previousState=%q, want processing", rec.PreviousState)
	}
}

func TestStartRecoversHealthyRecords(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Dir: dir}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "fresh", ChatID: "c1", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tr2 := New(Config{Dir: dir}, nil)
	if err := tr2.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := tr2.Get("fresh")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.State != domain.StateCreated || rec.ChatID != "c1" {
		t.Errorf("healthy record not recovered: %+v", rec)
	}
}

// ============================================================
// List / Delete
// ============================================================

func TestListFiltersAndSorts(t *testing.T) {
	tr := newTestTracker(t)

	for i, in := range []CreateInput{
		{RequestID: "a", ChatID: "c1", Workspace: "ws"},
		{RequestID: "b", ChatID: "c2", Workspace: "ws"},
		{RequestID: "c", ChatID: "c1", Workspace: "ws"},
		{RequestID: "other", ChatID: "c1", Workspace: "ws2"},
	} {
		if _, err := tr.Create(in); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		// Distinct creation times for a stable sort assertion.
		forgeTimestamps(t, tr, in.RequestID, func(rec *domain.RequestRecord) {
			rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		})
	}
	if _, err := tr.UpdateState("b", Update{State: statePtr(domain.StateQueued)}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	all, err := tr.List("ws", Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List(ws) returned %d records, want 3", len(all))
	}
	if all[0].RequestID != "c" {
		t.Errorf("newest-first order broken: first=%s", all[0].RequestID)
	}

	byChat, err := tr.List("ws", Filter{ChatID: "c1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byChat) != 2 {
		t.Errorf("chat filter returned %d, want 2", len(byChat))
	}

	queued, err := tr.List("ws", Filter{State: domain.StateQueued})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 || queued[0].RequestID != "b" {
		t.Errorf("state filter returned %+v", queued)
	}

	limited, err := tr.List("ws", Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d, want 1", len(limited))
	}
}

func TestListEmptyWorkspace(t *testing.T) {
	tr := newTestTracker(t)

	recs, err := tr.List("nothing-here", Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}

func TestDeleteRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Dir: dir}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "r1", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := tr.Delete("r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "r1.json")); !os.IsNotExist(err) {
		t.Error("flat file survived delete")
	}
	if _, err := os.Stat(filepath.Join(dir, workspaceDirName, "ws", "r1.json")); !os.IsNotExist(err) {
		t.Error("workspace file survived delete")
	}
	rec, err := tr.Get("r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("deleted record still returned: %+v", rec)
	}
}

func TestDeleteToleratesMissing(t *testing.T) {
	tr := newTestTracker(t)
	if err := tr.Delete("never-existed"); err != nil {
		t.Errorf("Delete of unknown id: %v", err)
	}
}

// ============================================================
// Durability
// ============================================================

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{Dir: dir}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tr.Create(CreateInput{RequestID: "r1", Workspace: "ws"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tr.UpdateState("r1", Update{State: statePtr(domain.StateCompleted)}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, ".tmp") {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
}

func TestStats(t *testing.T) {
	tr := newTestTracker(t)
	for _, id := range []string{"a", "b"} {
		if _, err := tr.Create(CreateInput{RequestID: id, Workspace: "ws"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := tr.UpdateState("a", Update{State: statePtr(domain.StateQueued)}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	stats := tr.Stats()
	if stats.Cached != 2 {
		t.Errorf("cached = %d, want 2", stats.Cached)
	}
	if stats.ByState[domain.StateCreated] != 1 || stats.ByState[domain.StateQueued] != 1 {
		t.Errorf("by-state counts wrong: %+v", stats.ByState)
	}
}

// forgeTimestamps rewrites a record on disk with mutated timestamps and
// drops the cached copy, simulating a record written by a dead process.
func forgeTimestamps(t *testing.T, tr *Tracker, id string, mutate func(*domain.RequestRecord)) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	rec, err := tr.store.read(id)
	if err != nil || rec == nil {
		t.Fatalf("read %s: rec=%v err=%v", id, rec, err)
	}
	mutate(rec)
	if err := tr.store.write(rec); err != nil {
		t.Fatalf("write %s: %v", id, err)
	}
	delete(tr.cache, id)
}

// mockArchive captures terminal records handed to the archive.
type mockArchive struct {
	saved []*domain.RequestRecord
	fail  bool
}

func (m *mockArchive) SaveTerminal(_ context.Context, rec *domain.RequestRecord) error {
	if m.fail {
		return os.ErrPermission
	}
	m.saved = append(m.saved, rec)
	return nil
}

func (m *mockArchive) History(_ context.Context, _ string, _ int) ([]*domain.RequestRecord, error) {
	return nil, nil
}

func (m *mockArchive) Count(_ context.Context) (int, error) { return len(m.saved), nil }

func (m *mockArchive) Close() error { return nil }
