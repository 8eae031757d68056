package ipc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/infra/ipc/transport"
)

// MethodFallback identifies the composite chain in logs and metrics.
const MethodFallback = "fallback"

// AllMethodsFailedMessage is the error message of the chain's aggregate
// 503 response. Callers never learn which leg failed.
const AllMethodsFailedMessage = "All IPC methods failed"

// FallbackChain tries an ordered list of transports until one returns a
// response. Individual leg failures are swallowed; when every leg fails
// the chain returns an aggregate 503 response rather than an error.
type FallbackChain struct {
	legs []transport.Transport
	log  *slog.Logger
}

// NewFallbackChain composes legs in fallback order.
func NewFallbackChain(legs ...transport.Transport) *FallbackChain {
	return &FallbackChain{
		legs: legs,
		log:  slog.With("transport", MethodFallback),
	}
}

// Method returns the composite identifier.
func (c *FallbackChain) Method() string {
	return MethodFallback
}

// Available reports whether any leg is available.
func (c *FallbackChain) Available() bool {
	for _, leg := range c.legs {
		if leg.Available() {
			return true
		}
	}
	return false
}

// SendRequest tries each leg in order and returns the first response,
// whether success or application error. All legs failing yields the
// aggregate 503.
func (c *FallbackChain) SendRequest(
	ctx context.Context,
	req *domain.IpcRequest,
	timeout time.Duration,
) (*domain.IpcResponse, error) {
	for _, leg := range c.legs {
		resp, err := leg.SendRequest(ctx, req, timeout)
		if err == nil {
			return resp, nil
		}
		c.log.Warn("transport leg failed, trying next",
			"method", leg.Method(), "request_id", req.ID, "error", err)
	}
	return domain.NewErrorResponse(req.ID, 503, AllMethodsFailedMessage), nil
}

// Close closes every leg.
func (c *FallbackChain) Close() error {
	var errs []error
	for _, leg := range c.legs {
		if err := leg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
