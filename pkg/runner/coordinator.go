// Package runner coordinates run sessions over the block state machine and
// walks test flows against the remote host.
package runner

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tcmartin/flowconsole/pkg/blocks"
	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
)

var (
	// ErrNoActiveRun is returned when completing before any run started
	ErrNoActiveRun = errors.New("no run session started")

	// ErrRunCompleted is returned when a run session is completed twice
	ErrRunCompleted = errors.New("run session already completed")

	// ErrInvalidResultType is returned for a summary without a terminal outcome
	ErrInvalidResultType = errors.New("invalid run result type")
)

// RunEventType identifies a run session change
type RunEventType string

const (
	RunStarted   RunEventType = "run.started"
	RunCompleted RunEventType = "run.completed"
)

// RunEvent is published to listeners when a session starts or completes
type RunEvent struct {
	Type    RunEventType
	Session models.RunSession
}

// RunListener receives run events synchronously
type RunListener func(RunEvent)

// Coordinator tracks the single active run session. Block completion goes
// through the same state machine whether the run is one block or a whole flow.
type Coordinator struct {
	mu        sync.Mutex
	blocks    *blocks.StateMachine
	clock     clock.Clock
	logger    logging.Logger
	current   *models.RunSession
	listeners []RunListener
}

// NewCoordinator creates a coordinator over a block state machine
func NewCoordinator(sm *blocks.StateMachine, clk clock.Clock, logger logging.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if sm == nil {
		sm = blocks.NewStateMachine(clk, logger)
	}
	return &Coordinator{
		blocks: sm,
		clock:  clk,
		logger: logger,
	}
}

// Blocks returns the underlying block state machine
func (c *Coordinator) Blocks() *blocks.StateMachine {
	return c.blocks
}

// Subscribe registers a run listener
func (c *Coordinator) Subscribe(l RunListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// StartExecution opens a new run session and resets the listed blocks to
// pending. Blocks outside blockIDs keep their state. A previous session is
// superseded.
func (c *Coordinator) StartExecution(mode models.RunMode, blockIDs []string) models.RunSession {
	session := &models.RunSession{
		ID:        uuid.New().String(),
		Mode:      mode,
		BlockIDs:  append([]string(nil), blockIDs...),
		StartedAt: c.clock.Now(),
	}

	c.mu.Lock()
	if c.current != nil && c.current.Running() {
		c.logger.Warn("Superseding unfinished run session", logging.F("run_id", c.current.ID))
	}
	c.current = session
	snapshot := *session
	listeners := c.listeners
	c.mu.Unlock()

	c.blocks.Reset(blockIDs...)
	c.logger.LogRunEvent(snapshot.ID, string(RunStarted), map[string]interface{}{
		"mode":   string(mode),
		"blocks": len(blockIDs),
	})
	publishRun(listeners, RunEvent{Type: RunStarted, Session: snapshot})
	return snapshot
}

// StartBlockExecution marks blockID as executing
func (c *Coordinator) StartBlockExecution(blockID string) models.BlockExecutionState {
	state := c.blocks.Start(blockID)
	c.logger.LogBlockExecution(c.runID(), blockID, string(blocks.EventStarted), nil)
	return state
}

// CompleteBlockExecution ends the current occurrence of blockID.
// Completions are attributed by block ID and may arrive in any order.
func (c *Coordinator) CompleteBlockExecution(blockID string, completion blocks.Completion) (models.BlockExecutionState, error) {
	state, err := c.blocks.Complete(blockID, completion)
	if err != nil {
		return state, err
	}
	c.logger.LogBlockExecution(c.runID(), blockID, string(blocks.EventCompleted), map[string]interface{}{
		"status":      string(state.Status),
		"duration_ms": *state.DurationMs,
	})
	return state, nil
}

// CompleteExecution fixes the outcome of the current session. It succeeds
// once per session.
func (c *Coordinator) CompleteExecution(summary models.RunSummary) (models.RunSession, error) {
	if !summary.ResultType.Valid() {
		return models.RunSession{}, fmt.Errorf("%w: %q", ErrInvalidResultType, summary.ResultType)
	}

	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return models.RunSession{}, ErrNoActiveRun
	}
	if !c.current.Running() {
		snapshot := *c.current
		c.mu.Unlock()
		return snapshot, fmt.Errorf("%w: %s", ErrRunCompleted, snapshot.ID)
	}

	now := c.clock.Now()
	c.current.CompletedAt = &now
	c.current.ResultType = summary.ResultType
	c.current.Message = summary.Message
	snapshot := *c.current
	listeners := c.listeners
	c.mu.Unlock()

	c.logger.LogRunEvent(snapshot.ID, string(RunCompleted), map[string]interface{}{
		"result_type": string(snapshot.ResultType),
		"message":     snapshot.Message,
		"duration_ms": now.Sub(snapshot.StartedAt).Milliseconds(),
	})
	publishRun(listeners, RunEvent{Type: RunCompleted, Session: snapshot})
	return snapshot, nil
}

// Current returns the latest run session, if any
func (c *Coordinator) Current() (models.RunSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return models.RunSession{}, false
	}
	return *c.current, true
}

func (c *Coordinator) runID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.ID
}

func publishRun(listeners []RunListener, e RunEvent) {
	for _, l := range listeners {
		l(e)
	}
}
