package ipc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// =============================================================================
// Stub Transport
// =============================================================================

type stubTransport struct {
	mu        sync.Mutex
	name      string
	calls     int
	fail      bool
	available bool
	status    int
}

func (s *stubTransport) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.fail {
		return nil, errors.New(s.name + ": connection refused")
	}
	status := s.status
	if status == 0 {
		status = 200
	}
	return &domain.IpcResponse{ID: req.ID, Status: status}, nil
}

func (s *stubTransport) Available() bool { return s.available }
func (s *stubTransport) Method() string  { return s.name }
func (s *stubTransport) Close() error    { return nil }

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// =============================================================================
// Fallback Chain Tests
// =============================================================================

func TestFallbackChain_FirstSuccessWins(t *testing.T) {
	a := &stubTransport{name: "a", fail: true}
	b := &stubTransport{name: "b"}
	c := &stubTransport{name: "c"}
	chain := NewFallbackChain(a, b, c)

	resp, err := chain.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-1"}, 0)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("expected b's 200, got %d", resp.Status)
	}
	if a.callCount() != 1 || b.callCount() != 1 || c.callCount() != 0 {
		t.Errorf("call counts a=%d b=%d c=%d, want 1/1/0",
			a.callCount(), b.callCount(), c.callCount())
	}
}

func TestFallbackChain_ApplicationErrorStopsChain(t *testing.T) {
	a := &stubTransport{name: "a", status: 500}
	b := &stubTransport{name: "b"}
	chain := NewFallbackChain(a, b)

	resp, err := chain.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-2"}, 0)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	// A well-formed error response is an answer, not a transport failure.
	if resp.Status != 500 {
		t.Errorf("expected a's 500, got %d", resp.Status)
	}
	if b.callCount() != 0 {
		t.Error("next leg must not run after a delivered response")
	}
}

func TestFallbackChain_AllLegsFail(t *testing.T) {
	a := &stubTransport{name: "a", fail: true}
	b := &stubTransport{name: "b", fail: true}
	chain := NewFallbackChain(a, b)

	resp, err := chain.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-3"}, 0)
	if err != nil {
		t.Fatalf("aggregate failure must be a response, got error: %v", err)
	}
	if resp.Status != 503 {
		t.Errorf("expected 503, got %d", resp.Status)
	}
	if resp.ErrorMessage() != AllMethodsFailedMessage {
		t.Errorf("expected %q, got %q", AllMethodsFailedMessage, resp.ErrorMessage())
	}
	if resp.ID != "req-3" {
		t.Errorf("aggregate response must echo the request id, got %q", resp.ID)
	}
}

func TestFallbackChain_Available(t *testing.T) {
	chain := NewFallbackChain(
		&stubTransport{name: "a"},
		&stubTransport{name: "b", available: true},
	)
	if !chain.Available() {
		t.Error("one available leg makes the chain available")
	}

	none := NewFallbackChain(&stubTransport{name: "a"})
	if none.Available() {
		t.Error("chain with no available legs must not be available")
	}
}
