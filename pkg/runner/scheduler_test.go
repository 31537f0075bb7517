package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowconsole/pkg/loader"
	"github.com/tcmartin/flowconsole/pkg/models"
)

const scheduledFlow = `
metadata:
  name: nightly
blocks:
  ping:
    kind: standard
    command: echo
    params:
      message: hello
`

func writeFlow(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scheduledFlow), 0644))
	return path
}

func TestSchedulerTickRunsFlow(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return(ok(nil), nil)

	s := NewScheduler(newRunner(exec), loader.NewYAMLLoader(), nil)
	results := s.Results()

	id, err := s.Schedule("@every 1h", writeFlow(t))
	require.NoError(t, err)
	require.Len(t, s.Flows(), 1)

	s.tick(context.Background(), id)
	s.tick(context.Background(), id)

	first := <-results
	second := <-results
	assert.Equal(t, models.ResultSuccess, first.Session.ResultType)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	exec.AssertNumberOfCalls(t, "Execute", 2)
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	exec := &MockExecutor{}
	s := NewScheduler(newRunner(exec), loader.NewYAMLLoader(), nil)

	id, err := s.Schedule("*/5 * * * * *", writeFlow(t))
	require.NoError(t, err)

	s.running.Store(true)
	s.tick(context.Background(), id)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestSchedulerRejectsBadInput(t *testing.T) {
	s := NewScheduler(newRunner(&MockExecutor{}), loader.NewYAMLLoader(), nil)

	_, err := s.Schedule("not a schedule", writeFlow(t))
	assert.Error(t, err)

	_, err = s.Schedule("@every 1m", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Empty(t, s.Flows())
}

func TestSchedulerRemove(t *testing.T) {
	s := NewScheduler(newRunner(&MockExecutor{}), loader.NewYAMLLoader(), nil)
	id, err := s.Schedule("@daily", writeFlow(t))
	require.NoError(t, err)

	s.Remove(id)
	assert.Empty(t, s.Flows())
	s.tick(context.Background(), id)
}
