package blocks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/models"
)

func newMachine() (*StateMachine, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewStateMachine(fake, nil), fake
}

func TestUnknownBlockIsPending(t *testing.T) {
	m, _ := newMachine()
	state := m.Get("b1")
	assert.Equal(t, models.BlockPending, state.Status)
	assert.Nil(t, state.DurationMs)
}

func TestStartAndComplete(t *testing.T) {
	m, fake := newMachine()

	state := m.Start("b1")
	assert.Equal(t, models.BlockExecuting, state.Status)
	assert.Nil(t, state.DurationMs)

	fake.Advance(1500 * time.Millisecond)
	result := &models.ExecutionResult{Success: true, OutputData: map[string]interface{}{"x": 1}}
	state, err := m.Complete("b1", Completion{Success: true, Result: result})
	require.NoError(t, err)
	assert.Equal(t, models.BlockSuccess, state.Status)
	require.NotNil(t, state.DurationMs)
	assert.Equal(t, int64(1500), *state.DurationMs)
	assert.Equal(t, result, state.Result)
}

func TestCompletionStatus(t *testing.T) {
	tests := []struct {
		name string
		c    Completion
		want models.BlockStatus
	}{
		{"success", Completion{Success: true}, models.BlockSuccess},
		{"failure", Completion{ErrorMessage: "not found"}, models.BlockFailure},
		{"error", Completion{IsError: true, ErrorMessage: "timeout"}, models.BlockError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newMachine()
			m.Start("b")
			state, err := m.Complete("b", tt.c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.Status)
			assert.Equal(t, tt.c.ErrorMessage, state.ErrorMessage)
		})
	}
}

func TestFailureTakesErrorFromResult(t *testing.T) {
	m, _ := newMachine()
	m.Start("b")
	state, err := m.Complete("b", Completion{Result: &models.ExecutionResult{Error: "element missing"}})
	require.NoError(t, err)
	assert.Equal(t, "element missing", state.ErrorMessage)
}

func TestSecondCompletionIsRejected(t *testing.T) {
	m, fake := newMachine()
	m.Start("b1")
	fake.Advance(200 * time.Millisecond)
	first, err := m.Complete("b1", Completion{Success: true})
	require.NoError(t, err)

	fake.Advance(5 * time.Second)
	_, err = m.Complete("b1", Completion{IsError: true, ErrorMessage: "late"})
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))

	after := m.Get("b1")
	assert.Equal(t, models.BlockSuccess, after.Status)
	assert.Equal(t, *first.DurationMs, *after.DurationMs)
	assert.Empty(t, after.ErrorMessage)
}

func TestCompleteWithoutStart(t *testing.T) {
	m, _ := newMachine()
	_, err := m.Complete("ghost", Completion{Success: true})
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestRestartOverwritesOccurrence(t *testing.T) {
	m, fake := newMachine()
	m.Start("b1")
	_, err := m.Complete("b1", Completion{ErrorMessage: "first"})
	require.NoError(t, err)

	fake.Advance(time.Second)
	state := m.Start("b1")
	assert.Equal(t, models.BlockExecuting, state.Status)
	assert.Nil(t, state.DurationMs)
	assert.Empty(t, state.ErrorMessage)

	fake.Advance(300 * time.Millisecond)
	state, err = m.Complete("b1", Completion{Success: true})
	require.NoError(t, err)
	assert.Equal(t, int64(300), *state.DurationMs)
}

func TestOutOfOrderCompletions(t *testing.T) {
	m, fake := newMachine()
	m.Start("a")
	fake.Advance(100 * time.Millisecond)
	m.Start("b")
	fake.Advance(100 * time.Millisecond)

	_, err := m.Complete("b", Completion{Success: true})
	require.NoError(t, err)
	_, err = m.Complete("a", Completion{ErrorMessage: "nope"})
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, models.BlockSuccess, snap["b"].Status)
	assert.Equal(t, int64(100), *snap["b"].DurationMs)
	assert.Equal(t, models.BlockFailure, snap["a"].Status)
	assert.Equal(t, int64(200), *snap["a"].DurationMs)
}

func TestListenersAndReset(t *testing.T) {
	m, _ := newMachine()
	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	m.Start("b1")
	_, err := m.Complete("b1", Completion{Success: true})
	require.NoError(t, err)
	m.Reset("b1")

	require.Len(t, events, 3)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventCompleted, events[1].Type)
	assert.Equal(t, models.BlockSuccess, events[1].State.Status)
	assert.Equal(t, EventReset, events[2].Type)
	assert.Equal(t, models.BlockPending, m.Get("b1").Status)
}
