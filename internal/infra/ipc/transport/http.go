package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// HTTPTransport talks to an agent listening on a TCP port. Timeouts are
// enforced through request contexts so an expired call tears the
// underlying connection down instead of abandoning it.
type HTTPTransport struct {
	method  string
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a TCP/HTTP transport for host:port.
func NewHTTPTransport(host string, port int) *HTTPTransport {
	if host == "" {
		host = "127.0.0.1"
	}
	return &HTTPTransport{
		method:  MethodTCP,
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Method returns the transport identifier.
func (t *HTTPTransport) Method() string {
	return t.method
}

// Available probes the TCP endpoint with a short dial.
func (t *HTTPTransport) Available() bool {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return false
	}
	addr := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// SendRequest POSTs the request to baseURL+req.Path and decodes the JSON
// response body. Non-2xx statuses with a well-formed body are application
// errors, returned as responses; everything else is a transport error.
func (t *HTTPTransport) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	return t.send(ctx, req, timeout, nil)
}

func (t *HTTPTransport) send(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
	header http.Header,
) (*domain.IpcResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, newError(t.method, "marshal request", err)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		t.baseURL+req.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(t.method, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, newTimeoutError(t.method, "call agent", err)
		}
		return nil, newError(t.method, "call agent", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, wrapConnErr(t.method, "read response", err)
	}

	var resp domain.IpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(t.method, "parse response",
			fmt.Errorf("http %d: %w", httpResp.StatusCode, err))
	}
	if resp.Status == 0 {
		resp.Status = httpResp.StatusCode
	}
	return &resp, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
