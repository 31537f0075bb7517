package locking

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/utils"
)

// LockClient is the host lock API
type LockClient interface {
	// Status returns the current holder of treeID, or nil when unlocked
	Status(ctx context.Context, treeID string) (*models.TreeLock, error)

	// Acquire asks for the lock. A refusal is a response with Success false.
	Acquire(ctx context.Context, req models.LockRequest) (*models.LockResponse, error)

	// Release gives the lock back. Releasing a lock not held is a no-op.
	Release(ctx context.Context, req models.LockRequest) error
}

// HTTPLockClient implements LockClient over the host HTTP API
type HTTPLockClient struct {
	http *utils.HTTPClient
}

// NewHTTPLockClient creates a lock client
func NewHTTPLockClient(httpClient *utils.HTTPClient) *HTTPLockClient {
	return &HTTPLockClient{http: httpClient}
}

// Status implements LockClient
func (c *HTTPLockClient) Status(ctx context.Context, treeID string) (*models.TreeLock, error) {
	var resp models.LockResponse
	if _, err := c.http.Do(ctx, &utils.HTTPRequest{
		Method:      http.MethodGet,
		Path:        "/lockStatus",
		QueryParams: map[string]string{"treeId": treeID},
	}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get lock status: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to get lock status: %s", resp.Error)
	}
	return resp.Lock, nil
}

// Acquire implements LockClient
func (c *HTTPLockClient) Acquire(ctx context.Context, req models.LockRequest) (*models.LockResponse, error) {
	var resp models.LockResponse
	if _, err := c.http.Do(ctx, &utils.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/lockAcquire",
		Body:   req,
	}, &resp); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return &resp, nil
}

// Release implements LockClient
func (c *HTTPLockClient) Release(ctx context.Context, req models.LockRequest) error {
	var resp models.LockResponse
	if _, err := c.http.Do(ctx, &utils.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/lockRelease",
		Body:   req,
	}, &resp); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("failed to release lock: %s", resp.Error)
	}
	return nil
}
