package domain

import (
	"fmt"
	"regexp"
	"time"
)

// RequestLifecycleState is the current phase of a dispatched command.
type RequestLifecycleState string

const (
	StateCreated    RequestLifecycleState = "created"
	StateQueued     RequestLifecycleState = "queued"
	StateProcessing RequestLifecycleState = "processing"
	StateCompleted  RequestLifecycleState = "completed"
	StateFailed     RequestLifecycleState = "failed"
	StateTimeout    RequestLifecycleState = "timeout"
)

// Terminal reports whether the state is a terminal outcome.
func (s RequestLifecycleState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// CallbackState records delivery attempts for the result callback.
type CallbackState struct {
	Success         bool        `json:"success"`
	Attempts        int         `json:"attempts"`
	Error           string      `json:"error,omitempty"`
	RetryTimestamps []time.Time `json:"retryTimestamps,omitempty"`
}

// RequestRecord is the durable lifecycle record of one dispatched request.
type RequestRecord struct {
	RequestID           string                `json:"requestId"`
	ChatID              string                `json:"chatId"`
	Workspace           string                `json:"workspace"`
	Prompt              string                `json:"prompt,omitempty"`
	State               RequestLifecycleState `json:"state"`
	PreviousState       RequestLifecycleState `json:"previousState,omitempty"`
	CreatedAt           time.Time             `json:"createdAt"`
	LastUpdatedAt       time.Time             `json:"lastUpdatedAt"`
	ProcessingStartedAt *time.Time            `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time            `json:"completedAt,omitempty"`
	ExitCode            *int                  `json:"exitCode,omitempty"`
	Output              string                `json:"output,omitempty"`
	Error               string                `json:"error,omitempty"`
	TimedOut            bool                  `json:"timedOut"`
	Callback            *CallbackState        `json:"callback,omitempty"`
}

var (
	requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	workspacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateRequestID rejects ids that are unsafe as file names.
func ValidateRequestID(id string) error {
	if !requestIDPattern.MatchString(id) {
		return fmt.Errorf("invalid request id %q: must match %s", id, requestIDPattern)
	}
	return nil
}

// ValidateWorkspace rejects workspace names that are unsafe as directories.
func ValidateWorkspace(ws string) error {
	if !workspacePattern.MatchString(ws) {
		return fmt.Errorf("invalid workspace %q: must match %s", ws, workspacePattern)
	}
	return nil
}
