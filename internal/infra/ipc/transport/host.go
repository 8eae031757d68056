package transport

import (
	"context"
	"os"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// HostTransport is a thin selector for host backends: when a socket path
// is configured it behaves like the unix transport, otherwise like the
// TCP transport.
type HostTransport struct {
	socketPath string
	socket     *SocketTransport
	tcp        *HTTPTransport
}

// NewHostTransport creates a host transport. socketPath takes precedence
// over host:port when both are set.
func NewHostTransport(host string, port int, socketPath string) *HostTransport {
	t := &HostTransport{socketPath: socketPath}
	if socketPath != "" {
		t.socket = NewSocketTransport(socketPath)
	} else {
		t.tcp = NewHTTPTransport(host, port)
	}
	return t
}

// Method returns the transport identifier.
func (t *HostTransport) Method() string {
	return MethodHost
}

// Available delegates to the selected leg.
func (t *HostTransport) Available() bool {
	if t.socket != nil {
		return t.socket.Available()
	}
	return t.tcp.Available()
}

// SendRequest dispatches via the selected leg. A configured but missing
// socket fails fast with ErrSocketNotFound instead of waiting out a dial.
func (t *HostTransport) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	if t.socket != nil {
		if _, err := os.Stat(t.socketPath); err != nil {
			return nil, newError(MethodHost, "dial", ErrSocketNotFound)
		}
		return t.socket.SendRequest(ctx, req, timeout)
	}
	return t.tcp.SendRequest(ctx, req, timeout)
}

// Close closes the selected leg.
func (t *HostTransport) Close() error {
	if t.socket != nil {
		return t.socket.Close()
	}
	return t.tcp.Close()
}
