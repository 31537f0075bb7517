// Package models contains the data types shared by the console and the host.
package models

import (
	"encoding/json"
	"time"
)

// JobKind identifies what a dispatched unit of work is
type JobKind string

const (
	// KindAction is a device action (tap, key press, launch app)
	KindAction JobKind = "action"

	// KindVerification checks device state (image, text, audio)
	KindVerification JobKind = "verification"

	// KindNavigation moves the device to a node of the navigation tree
	KindNavigation JobKind = "navigation"

	// KindStandard is a control primitive (sleep, echo, set_variable)
	KindStandard JobKind = "standard"
)

// Valid reports whether k is a known job kind
func (k JobKind) Valid() bool {
	switch k {
	case KindAction, KindVerification, KindNavigation, KindStandard:
		return true
	}
	return false
}

// RemoteStatus is the status string reported by the host while polling
type RemoteStatus string

const (
	RemoteRunning   RemoteStatus = "running"
	RemoteCompleted RemoteStatus = "completed"
	RemoteError     RemoteStatus = "error"
)

// Terminal reports whether polling can stop on this status
func (s RemoteStatus) Terminal() bool {
	return s == RemoteCompleted || s == RemoteError
}

// ExecutionJob identifies one dispatched unit of work
type ExecutionJob struct {
	// ExecutionID is issued by the host when the job is accepted
	ExecutionID string `json:"execution_id,omitempty"`

	// Kind of work
	Kind JobKind `json:"kind"`

	// Command to run
	Command string `json:"command"`

	// Params are concrete values; variable references are resolved before dispatch
	Params map[string]interface{} `json:"params,omitempty"`

	// HostName is the host that drives the device
	HostName string `json:"host_name"`

	// DeviceID is the device under test
	DeviceID string `json:"device_id"`

	// TreeID scopes navigation jobs
	TreeID string `json:"tree_id,omitempty"`
}

// ExecutionResult is the normalized outcome of one job
type ExecutionResult struct {
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"message,omitempty"`
	OutputData map[string]interface{} `json:"output_data"`
	Logs       string                 `json:"logs,omitempty"`
}

// ExecuteRequest is the body of POST /execute
type ExecuteRequest struct {
	Kind     JobKind                `json:"kind"`
	Command  string                 `json:"command"`
	Params   map[string]interface{} `json:"params,omitempty"`
	HostName string                 `json:"host_name"`
	DeviceID string                 `json:"device_id"`
	TreeID   string                 `json:"tree_id,omitempty"`
}

// ExecuteResponse is the acceptance response of POST /execute
type ExecuteResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ExecutionStatusResponse is the response of GET /execution/{id}/status.
// Result keeps the backend shape of the job kind; the console normalizes it.
type ExecutionStatusResponse struct {
	Success bool            `json:"success"`
	Kind    JobKind         `json:"kind,omitempty"`
	Status  RemoteStatus    `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExecutionRecord is the host-side bookkeeping for an accepted job
type ExecutionRecord struct {
	ID        string          `json:"id"`
	Job       ExecutionJob    `json:"job"`
	Status    RemoteStatus    `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time,omitempty"`
}
