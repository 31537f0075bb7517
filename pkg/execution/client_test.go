package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/utils"
)

// fakeHost answers /execute and serves a scripted sequence of status responses
type fakeHost struct {
	accept   models.ExecuteResponse
	statuses []models.ExecutionStatusResponse
	polls    int32
	lastReq  models.ExecuteRequest
	query    string
}

func (h *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/execute":
		_ = json.NewDecoder(r.Body).Decode(&h.lastReq)
		_ = json.NewEncoder(w).Encode(h.accept)
	case strings.HasSuffix(r.URL.Path, "/status"):
		n := int(atomic.AddInt32(&h.polls, 1))
		h.query = r.URL.RawQuery
		idx := n - 1
		if idx >= len(h.statuses) {
			idx = len(h.statuses) - 1
		}
		_ = json.NewEncoder(w).Encode(h.statuses[idx])
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, host *fakeHost) (*Client, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(host)
	t.Cleanup(srv.Close)

	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewClient(utils.NewHTTPClient(srv.URL, 5*time.Second), ClientOptions{
		PollInterval: time.Second,
		MaxAttempts:  120,
		Clock:        fake,
	})
	return c, fake
}

func running() models.ExecutionStatusResponse {
	return models.ExecutionStatusResponse{Success: true, Kind: models.KindStandard, Status: models.RemoteRunning}
}

func TestStartReturnsExecutionID(t *testing.T) {
	host := &fakeHost{accept: models.ExecuteResponse{Success: true, ExecutionID: "exec-1"}}
	c, _ := newTestClient(t, host)

	job := &models.ExecutionJob{Kind: models.KindStandard, Command: "sleep", Params: map[string]interface{}{"duration": 2}, HostName: "h1", DeviceID: "d1"}
	id, err := c.Start(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)
	assert.Equal(t, "exec-1", job.ExecutionID)
	assert.Equal(t, "sleep", host.lastReq.Command)
	assert.Equal(t, "h1", host.lastReq.HostName)
}

func TestStartFailsFastOnRefusal(t *testing.T) {
	host := &fakeHost{accept: models.ExecuteResponse{Success: false, Error: "device not connected"}}
	c, _ := newTestClient(t, host)

	_, err := c.Start(context.Background(), &models.ExecutionJob{Kind: models.KindAction, Command: "tap"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDispatch))

	var dispatchErr *DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.Equal(t, "device not connected", dispatchErr.Reason)
	assert.Equal(t, int32(0), atomic.LoadInt32(&host.polls))
}

func TestStartRejectsUnknownKind(t *testing.T) {
	c, _ := newTestClient(t, &fakeHost{})
	_, err := c.Start(context.Background(), &models.ExecutionJob{Kind: "teleport", Command: "x"})
	assert.True(t, errors.Is(err, ErrDispatch))
}

func TestPollTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	host := &fakeHost{statuses: []models.ExecutionStatusResponse{running()}}
	c, fake := newTestClient(t, host)

	_, err := c.PollUntilTerminal(context.Background(), "exec-1", "h1", "d1", time.Second, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrRemoteExecution))

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&host.polls))
	assert.Len(t, fake.Sleeps(), 3)
}

func TestPollStandardSleepScenario(t *testing.T) {
	completed := models.ExecutionStatusResponse{
		Success: true,
		Kind:    models.KindStandard,
		Status:  models.RemoteCompleted,
		Result:  json.RawMessage(`{"results":[{"command":"sleep","result_success":0,"result_output":null}]}`),
	}
	host := &fakeHost{statuses: []models.ExecutionStatusResponse{running(), running(), completed}}
	c, _ := newTestClient(t, host)

	result, err := c.PollUntilTerminal(context.Background(), "exec-1", "h1", "d1", 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"result": nil}, result.OutputData)
	assert.Equal(t, int32(3), atomic.LoadInt32(&host.polls))
	assert.Contains(t, host.query, "hostName=h1")
	assert.Contains(t, host.query, "deviceId=d1")
}

func TestPollRemoteError(t *testing.T) {
	host := &fakeHost{statuses: []models.ExecutionStatusResponse{
		running(),
		{Success: true, Kind: models.KindAction, Status: models.RemoteError, Error: "adb disconnected"},
	}}
	c, _ := newTestClient(t, host)

	_, err := c.PollUntilTerminal(context.Background(), "exec-9", "h1", "d1", time.Second, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteExecution))

	var remoteErr *RemoteExecutionError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, "adb disconnected", remoteErr.Message)
	assert.Equal(t, "exec-9", remoteErr.ExecutionID)
}

func TestPollCompletedFailureIsNotAnError(t *testing.T) {
	host := &fakeHost{statuses: []models.ExecutionStatusResponse{{
		Success: true,
		Kind:    models.KindVerification,
		Status:  models.RemoteCompleted,
		Result:  json.RawMessage(`{"success":false,"message":"text not found"}`),
	}}}
	c, _ := newTestClient(t, host)

	result, err := c.PollUntilTerminal(context.Background(), "exec-2", "h1", "d1", time.Second, 5)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "text not found", result.Message)
}

func TestPollStopsOnCancelledContext(t *testing.T) {
	host := &fakeHost{statuses: []models.ExecutionStatusResponse{running()}}
	c, _ := newTestClient(t, host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.PollUntilTerminal(ctx, "exec-1", "h1", "d1", time.Second, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&host.polls))
}

func TestExecuteRunsStartAndPoll(t *testing.T) {
	host := &fakeHost{
		accept: models.ExecuteResponse{Success: true, ExecutionID: "exec-3"},
		statuses: []models.ExecutionStatusResponse{{
			Success: true,
			Kind:    models.KindNavigation,
			Status:  models.RemoteCompleted,
			Result:  json.RawMessage(`{"success":true,"path_length":2,"transitions_executed":2,"final_position_node_id":"home"}`),
		}},
	}
	c, fake := newTestClient(t, host)

	result, err := c.Execute(context.Background(), &models.ExecutionJob{Kind: models.KindNavigation, Command: "goto", HostName: "h1", DeviceID: "d1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "home", result.OutputData["final_node_id"])
	assert.Equal(t, []time.Duration{time.Second}, fake.Sleeps())
}

func TestExecuteNormalizesWithJobKindWhenHostOmitsIt(t *testing.T) {
	host := &fakeHost{
		accept: models.ExecuteResponse{Success: true, ExecutionID: "exec-4"},
		statuses: []models.ExecutionStatusResponse{
			{Success: true, Status: models.RemoteRunning},
			{Success: true, Status: models.RemoteRunning},
			{
				Success: true,
				Status:  models.RemoteCompleted,
				Result:  json.RawMessage(`{"results":[{"result_success":0,"result_output":null}]}`),
			},
		},
	}
	c, _ := newTestClient(t, host)

	result, err := c.Execute(context.Background(), &models.ExecutionJob{Kind: models.KindStandard, Command: "sleep", HostName: "h1", DeviceID: "d1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"result": nil}, result.OutputData)
	assert.Equal(t, int32(3), atomic.LoadInt32(&host.polls))
}
