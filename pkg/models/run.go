package models

import "time"

// RunMode distinguishes an ad hoc block run from a whole flow
type RunMode string

const (
	ModeSingleBlock RunMode = "single_block"
	ModeFullFlow    RunMode = "full_flow"
)

// ResultType is the terminal outcome of a run
type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultFailure ResultType = "failure"
	ResultError   ResultType = "error"
)

// Valid reports whether r is one of the three terminal outcomes
func (r ResultType) Valid() bool {
	return r == ResultSuccess || r == ResultFailure || r == ResultError
}

// RunSession is one execution attempt
type RunSession struct {
	ID          string     `json:"id"`
	Mode        RunMode    `json:"mode"`
	BlockIDs    []string   `json:"block_ids"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ResultType is empty while the run is in flight
	ResultType ResultType `json:"result_type,omitempty"`

	// Message summarizes the outcome
	Message string `json:"message,omitempty"`
}

// Running reports whether the session has not completed
func (r RunSession) Running() bool {
	return r.CompletedAt == nil
}

// RunSummary is passed to CompleteExecution
type RunSummary struct {
	ResultType ResultType `json:"result_type"`
	Message    string     `json:"message,omitempty"`
}
