package execution

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the execution failure taxonomy, matchable with errors.Is
var (
	ErrDispatch        = errors.New("execution not accepted")
	ErrTimeout         = errors.New("execution timed out")
	ErrRemoteExecution = errors.New("remote execution error")
)

// DispatchError is returned when the host refuses to accept a job
type DispatchError struct {
	Command string
	Reason  string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to start %s: %s", e.Command, e.Reason)
}

// Unwrap returns ErrDispatch
func (e *DispatchError) Unwrap() error {
	return ErrDispatch
}

// TimeoutError is returned when polling runs out of attempts without a
// terminal status
type TimeoutError struct {
	ExecutionID string
	Attempts    int
	Interval    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s took too long: no terminal status after %d polls (%s)",
		e.ExecutionID, e.Attempts, time.Duration(e.Attempts)*e.Interval)
}

// Unwrap returns ErrTimeout
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// RemoteExecutionError is returned when the host reports status "error"
type RemoteExecutionError struct {
	ExecutionID string
	Message     string
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed on host: %s", e.ExecutionID, e.Message)
}

// Unwrap returns ErrRemoteExecution
func (e *RemoteExecutionError) Unwrap() error {
	return ErrRemoteExecution
}
