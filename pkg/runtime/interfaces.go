// Package runtime executes the jobs dispatched to the host.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/tcmartin/flowconsole/pkg/models"
)

// Errors returned by the job runtime
var (
	ErrInvalidJob        = errors.New("invalid job")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrNotRunning        = errors.New("execution is not running")
)

// JobRuntime executes jobs asynchronously and reports their status
type JobRuntime interface {
	// Execute accepts a job and returns its execution ID
	Execute(job models.ExecutionJob) (string, error)

	// GetStatus retrieves the status of an execution
	GetStatus(executionID string) (models.ExecutionRecord, error)

	// GetLogs retrieves logs for an execution
	GetLogs(executionID string) ([]ExecutionLog, error)

	// SubscribeToLogs creates a channel that receives real-time logs for an
	// execution. The channel is closed once the execution is terminal.
	SubscribeToLogs(executionID string) (<-chan ExecutionLog, error)

	// Cancel stops a running execution
	Cancel(executionID string) error
}

// ExecutionLog represents a log entry for an execution
type ExecutionLog struct {
	// Timestamp of the log entry
	Timestamp time.Time `json:"timestamp"`

	// Step is the command or edge that produced the entry
	Step string `json:"step,omitempty"`

	// Level of the log entry
	Level string `json:"level"` // "info", "warning", "error"

	// Message is the log message
	Message string `json:"message"`
}

// DeviceHandler runs one device action or verification. Details are merged
// into the reported output data; an error marks the step as failed.
type DeviceHandler func(ctx context.Context, deviceID string, params map[string]interface{}) (map[string]interface{}, error)
