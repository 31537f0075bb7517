// Package execution drives remote jobs through the start/poll protocol and
// normalizes their results.
package execution

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/utils"
)

const (
	// DefaultPollInterval is the delay between status polls
	DefaultPollInterval = time.Second

	// DefaultMaxAttempts bounds a job to two minutes at the default interval
	DefaultMaxAttempts = 120
)

// Executor runs one job to a terminal result
type Executor interface {
	Execute(ctx context.Context, job *models.ExecutionJob) (*models.ExecutionResult, error)
}

// ClientOptions configures a Client
type ClientOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
	Clock        clock.Clock
	Logger       logging.Logger
}

// Client is the Remote Execution Client. It keeps no state between calls.
type Client struct {
	http        *utils.HTTPClient
	clock       clock.Clock
	logger      logging.Logger
	interval    time.Duration
	maxAttempts int
}

// NewClient creates a client on top of an HTTP client bound to the host API
func NewClient(httpClient *utils.HTTPClient, opts ClientOptions) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Client{
		http:        httpClient,
		clock:       opts.Clock,
		logger:      opts.Logger,
		interval:    opts.PollInterval,
		maxAttempts: opts.MaxAttempts,
	}
}

// Start dispatches job and returns the host-issued execution ID.
// A refusal from the host is returned as *DispatchError without retrying.
func (c *Client) Start(ctx context.Context, job *models.ExecutionJob) (string, error) {
	if !job.Kind.Valid() {
		return "", &DispatchError{Command: job.Command, Reason: fmt.Sprintf("unknown job kind %q", job.Kind)}
	}

	req := models.ExecuteRequest{
		Kind:     job.Kind,
		Command:  job.Command,
		Params:   job.Params,
		HostName: job.HostName,
		DeviceID: job.DeviceID,
		TreeID:   job.TreeID,
	}

	var resp models.ExecuteResponse
	if _, err := c.http.Do(ctx, &utils.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/execute",
		Body:   req,
	}, &resp); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", job.Command, err)
	}

	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "host accepted no job"
		}
		return "", &DispatchError{Command: job.Command, Reason: reason}
	}
	if resp.ExecutionID == "" {
		return "", &DispatchError{Command: job.Command, Reason: "host returned no execution id"}
	}

	job.ExecutionID = resp.ExecutionID
	c.logger.Debug("Execution started",
		logging.F("execution_id", resp.ExecutionID),
		logging.F("kind", string(job.Kind)),
		logging.F("command", job.Command))
	return resp.ExecutionID, nil
}

// PollUntilTerminal checks the execution status every interval until the
// host reports completed or error, or maxAttempts polls have been made.
// Polls are sequential: the next one is scheduled only after the previous
// response arrived. Zero values for interval and maxAttempts use the client
// defaults. The result is decoded by the kind the host reports with it.
func (c *Client) PollUntilTerminal(ctx context.Context, executionID, hostName, deviceID string, interval time.Duration, maxAttempts int) (*models.ExecutionResult, error) {
	return c.pollUntilTerminal(ctx, "", executionID, hostName, deviceID, interval, maxAttempts)
}

// pollUntilTerminal decodes the result as kind unless the host reports one
func (c *Client) pollUntilTerminal(ctx context.Context, kind models.JobKind, executionID, hostName, deviceID string, interval time.Duration, maxAttempts int) (*models.ExecutionResult, error) {
	if interval <= 0 {
		interval = c.interval
	}
	if maxAttempts <= 0 {
		maxAttempts = c.maxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.clock.Sleep(ctx, interval); err != nil {
			return nil, err
		}

		status, err := c.status(ctx, executionID, hostName, deviceID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case models.RemoteCompleted:
			resultKind := kind
			if status.Kind != "" {
				resultKind = status.Kind
			}
			result, err := Normalize(resultKind, status.Result)
			if err != nil {
				return nil, fmt.Errorf("execution %s: %w", executionID, err)
			}
			c.logger.Debug("Execution completed",
				logging.F("execution_id", executionID),
				logging.F("attempts", attempt),
				logging.F("success", result.Success))
			return &result, nil

		case models.RemoteError:
			msg := status.Error
			if msg == "" {
				msg = "unknown error"
			}
			return nil, &RemoteExecutionError{ExecutionID: executionID, Message: msg}
		}
	}

	c.logger.Warn("Execution polling exhausted",
		logging.F("execution_id", executionID),
		logging.F("attempts", maxAttempts))
	return nil, &TimeoutError{ExecutionID: executionID, Attempts: maxAttempts, Interval: interval}
}

// Execute starts job and polls it to completion with the client defaults
func (c *Client) Execute(ctx context.Context, job *models.ExecutionJob) (*models.ExecutionResult, error) {
	id, err := c.Start(ctx, job)
	if err != nil {
		return nil, err
	}
	return c.pollUntilTerminal(ctx, job.Kind, id, job.HostName, job.DeviceID, c.interval, c.maxAttempts)
}

func (c *Client) status(ctx context.Context, executionID, hostName, deviceID string) (*models.ExecutionStatusResponse, error) {
	var resp models.ExecutionStatusResponse
	_, err := c.http.Do(ctx, &utils.HTTPRequest{
		Method: http.MethodGet,
		Path:   "/execution/" + url.PathEscape(executionID) + "/status",
		QueryParams: map[string]string{
			"hostName": hostName,
			"deviceId": deviceID,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to poll execution %s: %w", executionID, err)
	}

	// A rejected status query means the host lost track of the job
	if !resp.Success && !resp.Status.Terminal() {
		msg := resp.Error
		if msg == "" {
			msg = "status unavailable"
		}
		return nil, &RemoteExecutionError{ExecutionID: executionID, Message: msg}
	}
	return &resp, nil
}
