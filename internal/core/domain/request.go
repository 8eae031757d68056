package domain

import "encoding/json"

// IpcRequest is a single command dispatched to the agent process.
// ID is a caller-chosen correlation id; the agent echoes it back in the
// response so log noise on the wire can be skipped.
type IpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// IpcResponse is the agent's reply. Exactly one of Result/Error is
// meaningful: 2xx status carries Result, anything else carries Error.
type IpcResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error payload of a non-2xx IpcResponse.
type ResponseError struct {
	Message string `json:"message"`
}

// OK reports whether the response carries a successful status.
func (r *IpcResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ErrorMessage returns the error message, or "" for success responses.
func (r *IpcResponse) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// NewErrorResponse builds a well-formed error response for the given id.
func NewErrorResponse(id string, status int, message string) *IpcResponse {
	return &IpcResponse{
		ID:     id,
		Status: status,
		Error:  &ResponseError{Message: message},
	}
}
