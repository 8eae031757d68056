package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

const defaultSocketTimeout = 30 * time.Second

// SocketTransport talks to an agent listening on a local unix domain
// socket. It writes a minimal HTTP/1.1 request by hand and reads until the
// peer closes, then parses the status line and JSON body itself. The
// agent side is a tiny single-connection responder, not a full HTTP stack.
type SocketTransport struct {
	socketPath string
}

// NewSocketTransport creates a unix socket transport.
func NewSocketTransport(socketPath string) *SocketTransport {
	return &SocketTransport{socketPath: socketPath}
}

// Method returns the transport identifier.
func (t *SocketTransport) Method() string {
	return MethodUnix
}

// Available reports whether the socket file exists.
func (t *SocketTransport) Available() bool {
	_, err := os.Stat(t.socketPath)
	return err == nil
}

// SendRequest dials the socket, writes the framed request, and parses the
// accumulated response. Dial and read failures are transport errors;
// deadline expiry is a distinguishable timeout error.
func (t *SocketTransport) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	if timeout <= 0 {
		timeout = defaultSocketTimeout
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, newError(MethodUnix, "marshal request", err)
	}

	conn, err := net.DialTimeout("unix", t.socketPath, timeout)
	if err != nil {
		return nil, newError(MethodUnix, "dial", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	_ = conn.SetDeadline(deadline)

	// Tear the connection down if the caller gives up first.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	frame := fmt.Sprintf(
		"%s %s HTTP/1.1\r\nHost: ccbridge\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		req.Method, req.Path, len(body),
	)
	if _, err := conn.Write(append([]byte(frame), body...)); err != nil {
		return nil, wrapConnErr(MethodUnix, "write", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, wrapConnErr(MethodUnix, "read", err)
	}

	status, respBody, err := parseSocketResponse(raw)
	if err != nil {
		return nil, newError(MethodUnix, "parse response", err)
	}

	var resp domain.IpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, newError(MethodUnix, "parse response", err)
	}
	if resp.Status == 0 {
		resp.Status = status
	}
	return &resp, nil
}

// Close is a no-op: each call owns its own connection.
func (t *SocketTransport) Close() error {
	return nil
}

func wrapConnErr(method, op string, err error) *Error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return newTimeoutError(method, op, err)
	}
	return newError(method, op, err)
}

// parseSocketResponse splits a raw HTTP-like response into status code and
// body. It requires a full status line and a blank-line separator.
func parseSocketResponse(raw []byte) (int, []byte, error) {
	text := string(raw)

	sep := "\r\n\r\n"
	idx := strings.Index(text, sep)
	if idx < 0 {
		sep = "\n\n"
		idx = strings.Index(text, sep)
	}
	if idx < 0 {
		return 0, nil, fmt.Errorf("incomplete response: no header/body separator")
	}

	statusLine, _, _ := strings.Cut(text[:idx], "\n")
	fields := strings.Fields(strings.TrimSpace(statusLine))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, nil, fmt.Errorf("malformed status line %q", statusLine)
	}

	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed status code %q", fields[1])
	}

	return status, []byte(text[idx+len(sep):]), nil
}
