// Package transport implements IPC transport clients for the agent process.
//
// This package contains:
//   - Transport interface: core abstraction for delivering one request
//   - ExecTransport: subprocess exec into the agent container
//   - SocketTransport: local unix domain socket
//   - HTTPTransport: TCP/HTTP to a host-local agent
//   - RemoteTransport: authenticated HTTPS to a remote agent
//   - HostTransport: socket/TCP selector for host backends
//   - CircuitBreaker: fault-isolation decorator around any Transport
package transport

import (
	"context"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// Transport method identifiers, used in logs, metrics, and factory
// preferences.
const (
	MethodDockerExec = "docker-exec"
	MethodUnix       = "unix"
	MethodTCP        = "tcp"
	MethodRemote     = "remote"
	MethodHost       = "host"
)

// Transport delivers one request to the agent and returns its response.
//
// A returned error is a transport-level failure (connection refused,
// timeout, malformed or unmatched response), see Error. An application
// failure is a well-formed non-2xx IpcResponse with a nil error.
type Transport interface {
	// SendRequest delivers req and waits up to timeout for the response.
	// A timeout <= 0 means no per-call limit beyond ctx.
	SendRequest(ctx context.Context, req *domain.IpcRequest, timeout time.Duration) (*domain.IpcResponse, error)

	// Available is a cheap reachability check, e.g. "does the socket
	// file exist". It must not block on the agent itself.
	Available() bool

	// Method returns the transport identifier for logs and tests.
	Method() string

	// Close releases any held resources.
	Close() error
}
