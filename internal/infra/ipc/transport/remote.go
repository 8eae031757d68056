package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// RemoteTransport talks to a remote agent over HTTPS. It behaves exactly
// like HTTPTransport plus a bearer Authorization header when an API key is
// configured.
type RemoteTransport struct {
	*HTTPTransport
	apiKey string
}

// NewRemoteTransport creates a remote transport for a full base URL.
func NewRemoteTransport(baseURL, apiKey string) *RemoteTransport {
	return &RemoteTransport{
		HTTPTransport: &HTTPTransport{
			method:  MethodRemote,
			baseURL: strings.TrimRight(baseURL, "/"),
			client: &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 10,
					IdleConnTimeout:     90 * time.Second,
				},
			},
		},
		apiKey: apiKey,
	}
}

// SendRequest adds the bearer token and delegates to the HTTP transport.
func (t *RemoteTransport) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	var header http.Header
	if t.apiKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + t.apiKey}}
	}
	return t.send(ctx, req, timeout, header)
}
