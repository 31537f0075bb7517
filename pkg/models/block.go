package models

import "time"

// BlockStatus is the lifecycle state of one block
type BlockStatus string

const (
	BlockPending   BlockStatus = "pending"
	BlockExecuting BlockStatus = "executing"
	BlockSuccess   BlockStatus = "success"
	BlockFailure   BlockStatus = "failure"
	BlockError     BlockStatus = "error"
)

// Terminal reports whether the status ends an occurrence
func (s BlockStatus) Terminal() bool {
	return s == BlockSuccess || s == BlockFailure || s == BlockError
}

// BlockExecutionState is the single-slot state of a block
type BlockExecutionState struct {
	BlockID      string           `json:"block_id"`
	Status       BlockStatus      `json:"status"`
	StartedAt    time.Time        `json:"started_at,omitempty"`
	DurationMs   *int64           `json:"duration_ms,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// BlockOutput is a named output declared by a block
type BlockOutput struct {
	Name  string      `json:"name" yaml:"name"`
	Type  string      `json:"type,omitempty" yaml:"type,omitempty"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}
