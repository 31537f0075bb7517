// Package blocks owns the per-block execution state of a flow.
package blocks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
)

var (
	// ErrAlreadyCompleted is returned when an occurrence is completed twice
	ErrAlreadyCompleted = errors.New("block execution already completed")

	// ErrNotStarted is returned when completing a block that was never started
	ErrNotStarted = errors.New("block execution not started")
)

// EventType identifies a block state change
type EventType string

const (
	EventStarted   EventType = "block.started"
	EventCompleted EventType = "block.completed"
	EventReset     EventType = "block.reset"
)

// Event is published to listeners on every state change
type Event struct {
	Type  EventType
	State models.BlockExecutionState
}

// Listener receives block events. Listeners run synchronously and must not
// call back into the state machine.
type Listener func(Event)

// Completion describes how an occurrence ended
type Completion struct {
	Success bool

	// IsError marks an infrastructure failure (dispatch, timeout, remote
	// error) as opposed to a block that ran and reported failure
	IsError bool

	ErrorMessage string
	Result       *models.ExecutionResult
}

// StateMachine holds one state slot per block. Starting a block again
// overwrites its slot; there is no history.
type StateMachine struct {
	mu        sync.RWMutex
	states    map[string]*models.BlockExecutionState
	listeners []Listener
	clock     clock.Clock
	logger    logging.Logger
}

// NewStateMachine creates an empty state machine
func NewStateMachine(clk clock.Clock, logger logging.Logger) *StateMachine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &StateMachine{
		states: make(map[string]*models.BlockExecutionState),
		clock:  clk,
		logger: logger,
	}
}

// Subscribe registers a listener
func (m *StateMachine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start moves blockID to executing and records the start time.
// A previous occurrence of the same block is discarded.
func (m *StateMachine) Start(blockID string) models.BlockExecutionState {
	m.mu.Lock()
	state := &models.BlockExecutionState{
		BlockID:   blockID,
		Status:    models.BlockExecuting,
		StartedAt: m.clock.Now(),
	}
	m.states[blockID] = state
	snapshot := *state
	listeners := m.listeners
	m.mu.Unlock()

	m.logger.Debug("Block started", logging.F("block_id", blockID))
	publish(listeners, Event{Type: EventStarted, State: snapshot})
	return snapshot
}

// Complete ends the current occurrence of blockID. The first call decides the
// final state; later calls return ErrAlreadyCompleted and change nothing.
func (m *StateMachine) Complete(blockID string, c Completion) (models.BlockExecutionState, error) {
	m.mu.Lock()
	state, ok := m.states[blockID]
	if !ok || state.Status == models.BlockPending {
		m.mu.Unlock()
		return models.BlockExecutionState{}, fmt.Errorf("%w: %s", ErrNotStarted, blockID)
	}
	if state.Status.Terminal() {
		snapshot := *state
		m.mu.Unlock()
		m.logger.Warn("Block completed twice", logging.F("block_id", blockID))
		return snapshot, fmt.Errorf("%w: %s", ErrAlreadyCompleted, blockID)
	}

	switch {
	case c.Success:
		state.Status = models.BlockSuccess
	case c.IsError:
		state.Status = models.BlockError
	default:
		state.Status = models.BlockFailure
	}
	duration := m.clock.Now().Sub(state.StartedAt).Milliseconds()
	state.DurationMs = &duration
	state.Result = c.Result
	state.ErrorMessage = c.ErrorMessage
	if state.ErrorMessage == "" && !c.Success && c.Result != nil {
		state.ErrorMessage = c.Result.Error
	}

	snapshot := *state
	listeners := m.listeners
	m.mu.Unlock()

	m.logger.Debug("Block completed",
		logging.F("block_id", blockID),
		logging.F("status", string(snapshot.Status)),
		logging.F("duration_ms", duration))
	publish(listeners, Event{Type: EventCompleted, State: snapshot})
	return snapshot, nil
}

// Get returns the state of blockID. Blocks never started are pending.
func (m *StateMachine) Get(blockID string) models.BlockExecutionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[blockID]; ok {
		return *state
	}
	return models.BlockExecutionState{BlockID: blockID, Status: models.BlockPending}
}

// Snapshot returns a copy of every tracked block state
func (m *StateMachine) Snapshot() map[string]models.BlockExecutionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.BlockExecutionState, len(m.states))
	for id, state := range m.states {
		out[id] = *state
	}
	return out
}

// Reset returns the given blocks to pending
func (m *StateMachine) Reset(blockIDs ...string) {
	m.mu.Lock()
	for _, id := range blockIDs {
		delete(m.states, id)
	}
	listeners := m.listeners
	m.mu.Unlock()

	for _, id := range blockIDs {
		publish(listeners, Event{Type: EventReset, State: models.BlockExecutionState{BlockID: id, Status: models.BlockPending}})
	}
}

func publish(listeners []Listener, e Event) {
	for _, l := range listeners {
		l(e)
	}
}
