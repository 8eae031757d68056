package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/robinmin/ccbridge/internal/infra/ipc/transport"
)

type fakeTransport struct {
	method    string
	available bool
}

func (f *fakeTransport) Method() string  { return f.method }
func (f *fakeTransport) Available() bool { return f.available }

type fakeBreaker struct {
	state transport.CircuitStatus
}

func (f *fakeBreaker) GetCircuitState() transport.CircuitState {
	return transport.CircuitState{State: f.state}
}

func TestCheckHealthAllHealthy(t *testing.T) {
	m := NewMonitor(
		&fakeTransport{method: "unix", available: true},
		&fakeBreaker{state: transport.CircuitClosed},
		nil, nil, nil,
	)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("system status = %s, want healthy", report.SystemStatus)
	}
	if report.Components["transport"].Detail != "unix" {
		t.Errorf("transport detail = %q", report.Components["transport"].Detail)
	}
}

func TestCheckHealthUnavailableTransportIsCritical(t *testing.T) {
	m := NewMonitor(&fakeTransport{method: "tcp", available: false}, nil, nil, nil, nil)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("system status = %s, want critical", report.SystemStatus)
	}
}

func TestCheckHealthOpenCircuitIsDegraded(t *testing.T) {
	m := NewMonitor(
		&fakeTransport{method: "unix", available: true},
		&fakeBreaker{state: transport.CircuitOpen},
		nil, nil, nil,
	)

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("system status = %s, want degraded", report.SystemStatus)
	}
	if report.Components["circuit"].Status != StatusDegraded {
		t.Errorf("circuit component = %+v", report.Components["circuit"])
	}
}

func TestCheckHealthIsRateLimited(t *testing.T) {
	tc := &fakeTransport{method: "unix", available: true}
	m := NewMonitor(tc, nil, nil, nil, nil)

	first := m.CheckHealth(context.Background())
	tc.available = false
	second := m.CheckHealth(context.Background())

	if second != first {
		t.Error("second check within the rate limit window recomputed the report")
	}
}

func TestHealthEndpoint(t *testing.T) {
	m := NewMonitor(&fakeTransport{method: "unix", available: true}, nil, nil, nil, nil)
	s := NewServer(m, 0)

	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestHealthEndpointCritical(t *testing.T) {
	m := NewMonitor(&fakeTransport{method: "tcp", available: false}, nil, nil, nil, nil)
	s := NewServer(m, 0)

	rr := httptest.NewRecorder()
	s.handleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != 503 {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestDetailedEndpoint(t *testing.T) {
	m := NewMonitor(
		&fakeTransport{method: "unix", available: true},
		&fakeBreaker{state: transport.CircuitClosed},
		nil, nil, nil,
	)
	s := NewServer(m, 0)

	rr := httptest.NewRecorder()
	s.handleDetailed(rr, httptest.NewRequest("GET", "/health/detailed", nil))

	var report Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(report.Components) != 2 {
		t.Errorf("components = %d, want 2", len(report.Components))
	}
}
