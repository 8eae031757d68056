package transport

import (
	"errors"
	"fmt"
)

// ErrSocketNotFound is returned by host/unix transports when the configured
// socket path does not exist. Callers use it to fail fast instead of
// waiting out a dial timeout.
var ErrSocketNotFound = errors.New("socket not found")

// Error is a transport-level failure. Timeout distinguishes deadline
// expiry from refusals and parse failures so retry logic can treat them
// differently.
type Error struct {
	Method  string
	Op      string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timeout: %v", e.Method, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Timeout
}

func newError(method, op string, err error) *Error {
	return &Error{Method: method, Op: op, Err: err}
}

func newTimeoutError(method, op string, err error) *Error {
	return &Error{Method: method, Op: op, Timeout: true, Err: err}
}
