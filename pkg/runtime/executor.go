package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

// DefaultRetainFinished is how many ended executions keep their logs in memory
const DefaultRetainFinished = 100

// Options configures an Executor
type Options struct {
	// Executions persists execution records (required)
	Executions storage.ExecutionStore

	// Trees serves navigation jobs (required for navigation)
	Trees storage.TreeStore

	// Devices runs actions and verifications; defaults to the simulated device
	Devices *DeviceRegistry

	// RetainFinished caps the ended executions whose logs stay available.
	// Older ones are answered from the execution store without logs.
	RetainFinished int

	Clock  clock.Clock
	Logger logging.Logger
}

// Executor is the host JobRuntime. Each accepted job runs in its own
// goroutine; the record is saved when the job starts and when it ends.
type Executor struct {
	executions storage.ExecutionStore
	trees      storage.TreeStore
	devices    *DeviceRegistry
	positions  *PositionTracker
	clock      clock.Clock
	logger     logging.Logger
	retain     int

	mu       sync.Mutex
	jobs     map[string]*execution
	finished []string
	wg       sync.WaitGroup
}

// execution is the in-memory side of one accepted job
type execution struct {
	mu          sync.Mutex
	cancel      context.CancelFunc
	logs        []ExecutionLog
	subscribers []chan ExecutionLog
	done        bool
}

// NewExecutor creates the host job runtime
func NewExecutor(opts Options) *Executor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Executions == nil {
		opts.Executions = storage.NewMemoryExecutionStore()
	}
	if opts.Devices == nil {
		opts.Devices = NewSimulatedDevice()
	}
	if opts.RetainFinished <= 0 {
		opts.RetainFinished = DefaultRetainFinished
	}

	return &Executor{
		executions: opts.Executions,
		trees:      opts.Trees,
		devices:    opts.Devices,
		positions:  NewPositionTracker(),
		clock:      opts.Clock,
		logger:     opts.Logger,
		retain:     opts.RetainFinished,
		jobs:       make(map[string]*execution),
	}
}

// Positions returns the tracker of device positions used by navigation jobs
func (r *Executor) Positions() *PositionTracker {
	return r.positions
}

// Execute validates and accepts a job
func (r *Executor) Execute(job models.ExecutionJob) (string, error) {
	if err := r.validate(job); err != nil {
		return "", err
	}

	id := uuid.New().String()
	job.ExecutionID = id

	record := models.ExecutionRecord{
		ID:        id,
		Job:       job,
		Status:    models.RemoteRunning,
		StartTime: r.clock.Now(),
	}
	if err := r.executions.SaveExecution(record); err != nil {
		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{cancel: cancel}

	r.mu.Lock()
	r.jobs[id] = exec
	r.mu.Unlock()

	r.logger.Info("Execution accepted",
		logging.F("execution_id", id),
		logging.F("kind", job.Kind),
		logging.F("command", job.Command),
		logging.F("device_id", job.DeviceID))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(ctx, record, exec)
	}()

	return id, nil
}

func (r *Executor) validate(job models.ExecutionJob) error {
	if !job.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, job.Kind)
	}
	if job.Command == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidJob)
	}

	switch job.Kind {
	case models.KindStandard:
		if _, ok := standardCommands[job.Command]; !ok {
			return fmt.Errorf("%w: unknown standard command %q", ErrInvalidJob, job.Command)
		}
	case models.KindNavigation:
		if r.trees == nil {
			return fmt.Errorf("%w: navigation is not available on this host", ErrInvalidJob)
		}
		if job.TreeID == "" {
			return fmt.Errorf("%w: tree_id is required for navigation", ErrInvalidJob)
		}
		if target, _ := job.Params["target_node_id"].(string); target == "" {
			return fmt.Errorf("%w: target_node_id is required for navigation", ErrInvalidJob)
		}
	}
	return nil
}

func (r *Executor) run(ctx context.Context, record models.ExecutionRecord, exec *execution) {
	var (
		result interface{}
		err    error
	)

	switch record.Job.Kind {
	case models.KindStandard:
		result, err = r.runStandard(ctx, record.Job, exec)
	case models.KindAction:
		result, err = r.runAction(ctx, record.Job, exec)
	case models.KindVerification:
		result, err = r.runVerification(ctx, record.Job, exec)
	case models.KindNavigation:
		result, err = r.runNavigation(ctx, record.Job, exec)
	}

	if err == nil {
		record.Result, err = json.Marshal(result)
	}

	record.EndTime = r.clock.Now()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = errors.New("execution cancelled")
		}
		record.Status = models.RemoteError
		record.Error = err.Error()
		exec.log(r.clock, "error", "", err.Error())
		r.logger.Warn("Execution failed", logging.F("execution_id", record.ID), logging.Err(err))
	} else {
		record.Status = models.RemoteCompleted
		r.logger.Info("Execution completed", logging.F("execution_id", record.ID))
	}

	if saveErr := r.executions.SaveExecution(record); saveErr != nil {
		r.logger.Error("Failed to save execution", logging.F("execution_id", record.ID), logging.Err(saveErr))
	}
	exec.finish()
	r.retire(record.ID)
}

// retire evicts the oldest ended executions beyond the retention cap
func (r *Executor) retire(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, executionID)
	for len(r.finished) > r.retain {
		delete(r.jobs, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// GetStatus retrieves the status of an execution
func (r *Executor) GetStatus(executionID string) (models.ExecutionRecord, error) {
	record, err := r.executions.GetExecution(executionID)
	if err != nil {
		if errors.Is(err, storage.ErrExecutionNotFound) {
			return models.ExecutionRecord{}, ErrExecutionNotFound
		}
		return models.ExecutionRecord{}, err
	}
	return record, nil
}

// GetLogs retrieves logs for an execution
func (r *Executor) GetLogs(executionID string) ([]ExecutionLog, error) {
	exec, ok := r.lookup(executionID)
	if !ok {
		if _, err := r.GetStatus(executionID); err != nil {
			return nil, err
		}
		return []ExecutionLog{}, nil
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	logs := make([]ExecutionLog, len(exec.logs))
	copy(logs, exec.logs)
	return logs, nil
}

// SubscribeToLogs replays the logs so far, then streams new ones until the execution ends
func (r *Executor) SubscribeToLogs(executionID string) (<-chan ExecutionLog, error) {
	exec, ok := r.lookup(executionID)
	if !ok {
		if _, err := r.GetStatus(executionID); err != nil {
			return nil, err
		}
		ch := make(chan ExecutionLog)
		close(ch)
		return ch, nil
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	ch := make(chan ExecutionLog, len(exec.logs)+64)
	for _, l := range exec.logs {
		ch <- l
	}
	if exec.done {
		close(ch)
		return ch, nil
	}
	exec.subscribers = append(exec.subscribers, ch)
	return ch, nil
}

// Cancel stops a running execution
func (r *Executor) Cancel(executionID string) error {
	exec, ok := r.lookup(executionID)
	if !ok {
		if _, err := r.GetStatus(executionID); err != nil {
			return err
		}
		return ErrNotRunning
	}

	exec.mu.Lock()
	done := exec.done
	exec.mu.Unlock()
	if done {
		return ErrNotRunning
	}

	exec.cancel()
	return nil
}

// Shutdown cancels running executions and waits for them to record their end
func (r *Executor) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, exec := range r.jobs {
		exec.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every accepted execution has ended
func (r *Executor) Wait() {
	r.wg.Wait()
}

func (r *Executor) lookup(executionID string) (*execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.jobs[executionID]
	return exec, ok
}

// log records an entry and fans it out to subscribers without blocking
func (e *execution) log(clk clock.Clock, level, step, message string) {
	entry := ExecutionLog{
		Timestamp: clk.Now(),
		Step:      step,
		Level:     level,
		Message:   message,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, entry)
	for _, ch := range e.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// text renders the logs as the execution_logs field of a result
func (e *execution) text() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines := make([]string, 0, len(e.logs))
	for _, l := range e.logs {
		if l.Step != "" {
			lines = append(lines, fmt.Sprintf("[%s] %s", l.Step, l.Message))
		} else {
			lines = append(lines, l.Message)
		}
	}
	return strings.Join(lines, "\n")
}

func (e *execution) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
}
