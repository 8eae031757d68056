package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

func shTransport(script string) *ExecTransport {
	return newCommandTransport([]string{"sh", "-c", script})
}

func TestExecTransport_SkipsLogLinesBeforeResponse(t *testing.T) {
	tr := shTransport(`echo "log line"; echo '{"id":"req-1","status":200,"result":{"ok":true}}'`)

	resp, err := tr.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-1", Method: "POST", Path: "/execute"}, 5*time.Second)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if resp.ID != "req-1" || resp.Status != 200 {
		t.Errorf("unexpected response: %+v", resp)
	}

	var result map[string]bool
	if err := json.Unmarshal(resp.Result, &result); err != nil || !result["ok"] {
		t.Errorf("expected result {ok:true}, got %s", resp.Result)
	}
}

func TestExecTransport_IgnoresJSONWithWrongID(t *testing.T) {
	tr := shTransport(`echo '{"id":"other","status":500}'; echo '{"id":"req-2","status":200}'; echo '{"not":"a response"}'`)

	resp, err := tr.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-2"}, 5*time.Second)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if resp.ID != "req-2" || resp.Status != 200 {
		t.Errorf("expected the req-2 line, got %+v", resp)
	}
}

func TestExecTransport_SynthesizesErrorFromStderr(t *testing.T) {
	tr := shTransport(`echo "agent crashed" >&2; exit 3`)

	resp, err := tr.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-3"}, 5*time.Second)
	if err != nil {
		t.Fatalf("want synthesized response, got error: %v", err)
	}
	if resp.Status != 500 {
		t.Errorf("expected 500, got %d", resp.Status)
	}
	if resp.ErrorMessage() != "agent crashed" {
		t.Errorf("expected stderr message, got %q", resp.ErrorMessage())
	}
}

func TestExecTransport_SynthesizesGenericExitMessage(t *testing.T) {
	tr := shTransport(`exit 4`)

	resp, err := tr.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-4"}, 5*time.Second)
	if err != nil {
		t.Fatalf("want synthesized response, got error: %v", err)
	}
	if resp.ErrorMessage() != "agent exited with code 4" {
		t.Errorf("unexpected message %q", resp.ErrorMessage())
	}
}

func TestExecTransport_TimeoutKillsProcess(t *testing.T) {
	tr := shTransport(`sleep 30`)

	start := time.Now()
	_, err := tr.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-5"}, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	// The subprocess must be killed and reaped, not waited out.
	if elapsed > 5*time.Second {
		t.Errorf("timeout took %v, process was not killed", elapsed)
	}
}

func TestExecTransport_NoMatchingLineIsTransportError(t *testing.T) {
	tr := shTransport(`echo "just a log"`)

	_, err := tr.SendRequest(context.Background(), &domain.IpcRequest{ID: "req-6"}, 5*time.Second)
	if err == nil {
		t.Fatal("expected transport error for unmatched output")
	}
	if IsTimeout(err) {
		t.Error("parse failure must not look like a timeout")
	}
}

func TestMatchResponseLine_TakesLastMatch(t *testing.T) {
	out := []byte(`{"id":"r","status":500}` + "\n" + `{"id":"r","status":200}` + "\n")
	resp := matchResponseLine(out, "r")
	if resp == nil || resp.Status != 200 {
		t.Fatalf("expected the last matching line, got %+v", resp)
	}
}
