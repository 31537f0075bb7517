// Package utils provides the HTTP plumbing shared by the console's remote collaborators.
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient is a JSON client bound to one host API
type HTTPClient struct {
	baseURL string
	client  *http.Client
	token   string
}

// HTTPRequest represents an HTTP request relative to the base URL
type HTTPRequest struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	Body        interface{}       `json:"body,omitempty"`
}

// HTTPResponse represents an HTTP response
type HTTPResponse struct {
	StatusCode int           `json:"status_code"`
	RawBody    []byte        `json:"raw_body,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// StatusError is returned when the host answers with an error status and a
// body that is not a JSON envelope
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// NewHTTPClient creates a new HTTP client for baseURL
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetToken sets the bearer token sent with every request
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// SetHTTPClient replaces the underlying client, mainly for tests
func (c *HTTPClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// BaseURL returns the host base URL
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do executes req and decodes a JSON response body into out.
//
// Error statuses are not errors by themselves: the host answers with
// {"success": false, "error": ...} envelopes which are decoded into out for the
// caller to interpret. A StatusError is returned only when an error status
// carries a body that cannot be decoded.
func (c *HTTPClient) Do(ctx context.Context, req *HTTPRequest, out interface{}) (*HTTPResponse, error) {
	// Set default method if not provided
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	// Create request body if provided
	var bodyReader io.Reader
	if req.Body != nil {
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	parsedURL, err := url.Parse(c.baseURL + req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	// Add query parameters if any
	if len(req.QueryParams) > 0 {
		q := parsedURL.Query()
		for key, value := range req.QueryParams {
			q.Set(key, value)
		}
		parsedURL.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, parsedURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}

	startTime := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	httpResp := &HTTPResponse{
		StatusCode: resp.StatusCode,
		RawBody:    body,
		Duration:   time.Since(startTime),
	}

	isJSON := strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
	if out != nil && isJSON && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return httpResp, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			}
			return httpResp, fmt.Errorf("failed to decode response: %w", err)
		}
		return httpResp, nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return httpResp, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return httpResp, nil
}
