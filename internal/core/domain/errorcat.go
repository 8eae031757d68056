package domain

// ErrorCategory classifies a failure for the recovery service.
type ErrorCategory string

const (
	ErrorFileWrite  ErrorCategory = "file_write"
	ErrorStopHook   ErrorCategory = "stop_hook"
	ErrorCallback   ErrorCategory = "callback"
	ErrorNetwork    ErrorCategory = "network"
	ErrorDiskSpace  ErrorCategory = "disk_space"
	ErrorPermission ErrorCategory = "permission"
)

// ErrorCategories lists all recognized categories, in table order.
var ErrorCategories = []ErrorCategory{
	ErrorFileWrite,
	ErrorStopHook,
	ErrorCallback,
	ErrorNetwork,
	ErrorDiskSpace,
	ErrorPermission,
}

// ErrorContext is a categorized failure reported to the recovery service.
type ErrorContext struct {
	ErrorType    ErrorCategory     `json:"errorType"`
	RequestID    string            `json:"requestId"`
	Workspace    string            `json:"workspace"`
	Error        string            `json:"error"`
	AttemptCount int               `json:"attemptCount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
