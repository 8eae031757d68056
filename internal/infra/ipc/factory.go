// Package ipc builds transports from backend descriptors and composes
// them into fallback chains.
package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/infra/ipc/transport"
)

// Environment overrides honored by CreateFromBackend.
const (
	EnvIPCMode    = "CCBRIDGE_IPC_MODE"
	EnvIPCPort    = "CCBRIDGE_IPC_PORT"
	EnvSocketPath = "CCBRIDGE_SOCKET_PATH"
)

// PreferenceAuto probes transports in priority order instead of naming one.
const PreferenceAuto = "auto"

// ErrIncompatibleBackend is returned when an explicit transport preference
// cannot be built from the supplied backend descriptor.
var ErrIncompatibleBackend = errors.New("backend incompatible with transport preference")

// Factory constructs transports from backend descriptors.
type Factory struct {
	// AgentCommand overrides the in-container agent argv for exec
	// transports; nil keeps the default.
	AgentCommand []string

	log *slog.Logger
}

// NewFactory creates a transport factory.
func NewFactory() *Factory {
	return &Factory{log: slog.With("component", "ipc-factory")}
}

// Create builds one transport for the given preference. "auto" probes in
// priority order: TCP/host availability, then local socket existence, else
// process exec. Explicit preferences construct that transport directly and
// fail with ErrIncompatibleBackend when the descriptor cannot serve it.
func (f *Factory) Create(preference string, backend domain.Backend) (transport.Transport, error) {
	switch preference {
	case PreferenceAuto:
		return f.createAuto(backend)

	case transport.MethodTCP:
		if backend.Port == 0 {
			return nil, fmt.Errorf("%w: tcp needs a host port", ErrIncompatibleBackend)
		}
		return transport.NewHTTPTransport(backend.Host, backend.Port), nil

	case transport.MethodUnix:
		if backend.SocketPath == "" {
			return nil, fmt.Errorf("%w: unix needs a socket path", ErrIncompatibleBackend)
		}
		return transport.NewSocketTransport(backend.SocketPath), nil

	case transport.MethodDockerExec:
		if backend.ContainerID == "" {
			return nil, fmt.Errorf("%w: docker-exec needs a container id", ErrIncompatibleBackend)
		}
		return transport.NewExecTransport(backend.ContainerID, f.AgentCommand), nil

	case transport.MethodRemote:
		if backend.URL == "" {
			return nil, fmt.Errorf("%w: remote needs a url", ErrIncompatibleBackend)
		}
		return transport.NewRemoteTransport(backend.URL, backend.APIKey), nil

	case transport.MethodHost:
		if backend.SocketPath == "" && backend.Port == 0 {
			return nil, fmt.Errorf("%w: host needs a socket path or port", ErrIncompatibleBackend)
		}
		return transport.NewHostTransport(backend.Host, backend.Port, backend.SocketPath), nil

	default:
		return nil, fmt.Errorf("unknown transport preference %q", preference)
	}
}

// CreateFromBackend maps a backend descriptor to its natural transport,
// honoring environment-level overrides for mode, port, and socket path.
func (f *Factory) CreateFromBackend(backend domain.Backend) (transport.Transport, error) {
	if port := os.Getenv(EnvIPCPort); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			backend.Port = n
		}
	}
	if sock := os.Getenv(EnvSocketPath); sock != "" {
		backend.SocketPath = sock
	}
	if mode := os.Getenv(EnvIPCMode); mode != "" {
		return f.Create(mode, backend)
	}

	switch backend.Kind {
	case domain.BackendContainer:
		return f.Create(transport.MethodDockerExec, backend)
	case domain.BackendHost:
		return f.Create(transport.MethodHost, backend)
	case domain.BackendRemote:
		return f.Create(transport.MethodRemote, backend)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", backend.Kind)
	}
}

// CreateWithFallback composes transports into an ordered fallback chain.
func (f *Factory) CreateWithFallback(legs ...transport.Transport) *FallbackChain {
	return NewFallbackChain(legs...)
}

func (f *Factory) createAuto(backend domain.Backend) (transport.Transport, error) {
	var candidates []transport.Transport

	if backend.Port != 0 {
		candidates = append(candidates, transport.NewHTTPTransport(backend.Host, backend.Port))
	}
	if backend.SocketPath != "" {
		candidates = append(candidates, transport.NewSocketTransport(backend.SocketPath))
	}

	for _, c := range candidates {
		if c.Available() {
			f.log.Debug("auto-selected transport", "method", c.Method())
			return c, nil
		}
		_ = c.Close()
	}

	if backend.ContainerID != "" {
		return transport.NewExecTransport(backend.ContainerID, f.AgentCommand), nil
	}

	return nil, fmt.Errorf("no transport available for backend kind %q", backend.Kind)
}
