package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// DefaultAgentCommand is the agent RPC entrypoint run inside the container.
var DefaultAgentCommand = []string{"ccagent", "rpc"}

// ExecTransport delivers requests by spawning `docker exec -i` (or podman)
// into the agent container, writing the request as one JSON line to stdin.
//
// The agent may emit arbitrary log lines on stdout before its response
// line, so the response is located by scanning stdout from the end for the
// last line that parses as JSON and echoes the request id.
type ExecTransport struct {
	runtimeCmd  string
	containerID string
	argv        []string
	log         *slog.Logger
}

// NewExecTransport creates an exec transport for the given container.
// agentCmd is the in-container command; nil means DefaultAgentCommand.
func NewExecTransport(containerID string, agentCmd []string) *ExecTransport {
	if len(agentCmd) == 0 {
		agentCmd = DefaultAgentCommand
	}

	// Prefer docker, fall back to podman when only podman is installed.
	runtimeCmd := "docker"
	if _, err := exec.LookPath("podman"); err == nil {
		if _, err := exec.LookPath("docker"); err != nil {
			runtimeCmd = "podman"
		}
	}

	argv := append([]string{runtimeCmd, "exec", "-i", containerID}, agentCmd...)
	return &ExecTransport{
		runtimeCmd:  runtimeCmd,
		containerID: containerID,
		argv:        argv,
		log:         slog.With("transport", MethodDockerExec),
	}
}

// newCommandTransport builds an exec transport around a raw argv. Used by
// tests to substitute the container runtime with a local command.
func newCommandTransport(argv []string) *ExecTransport {
	return &ExecTransport{
		runtimeCmd: argv[0],
		argv:       argv,
		log:        slog.With("transport", MethodDockerExec),
	}
}

// Method returns the transport identifier.
func (t *ExecTransport) Method() string {
	return MethodDockerExec
}

// Available checks that the container runtime is installed and the target
// container exists.
func (t *ExecTransport) Available() bool {
	if _, err := exec.LookPath(t.runtimeCmd); err != nil {
		return false
	}
	if t.containerID == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.runtimeCmd, "container", "inspect", t.containerID)
	return cmd.Run() == nil
}

// SendRequest spawns the agent subprocess, feeds it one JSON line, and
// scans stdout for the matching response line. On timeout the subprocess
// is killed and reaped before the call returns, so no process leaks.
func (t *ExecTransport) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, newError(MethodDockerExec, "marshal request", err)
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, t.argv[0], t.argv[1:]...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Run waits for the process, and CommandContext kills it on deadline,
	// so the exit is always reaped before we return.
	runErr := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, newTimeoutError(MethodDockerExec, "exec agent",
			fmt.Errorf("killed after %v", timeout))
	}
	if ctx.Err() != nil {
		return nil, newError(MethodDockerExec, "exec agent", ctx.Err())
	}

	if resp := matchResponseLine(stdout.Bytes(), req.ID); resp != nil {
		return resp, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && stdout.Len() == 0 {
			// The agent died before answering. Surface stderr as an
			// application error so the caller sees one uniform shape.
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("agent exited with code %d", exitErr.ExitCode())
			}
			return domain.NewErrorResponse(req.ID, 500, msg), nil
		}
		return nil, newError(MethodDockerExec, "exec agent", runErr)
	}

	return nil, newError(MethodDockerExec, "parse response",
		fmt.Errorf("no stdout line matched request id %q", req.ID))
}

// Close is a no-op: each call owns its own subprocess.
func (t *ExecTransport) Close() error {
	return nil
}

// matchResponseLine scans lines from the end, returning the last one that
// parses as a response and echoes the request id. Earlier JSON-looking
// lines (agent logs, unrelated ids) are ignored.
func matchResponseLine(out []byte, requestID string) *domain.IpcResponse {
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}

		var resp domain.IpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID == requestID {
			return &resp
		}
	}
	return nil
}
