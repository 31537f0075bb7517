// Package webhooks delivers run and block notifications as HTTP callbacks.
package webhooks

import (
	"time"
)

// Event types delivered to webhooks
const (
	EventRunStarted     = "run.started"
	EventRunCompleted   = "run.completed"
	EventBlockCompleted = "block.completed"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set
const SignatureHeader = "X-Flowconsole-Signature"

// WebhookConfig contains configuration for a webhook
type WebhookConfig struct {
	// URL to send the webhook to
	URL string `json:"url"`

	// Headers to include in the request
	Headers map[string]string `json:"headers,omitempty"`

	// Secret for signing the webhook payload
	Secret string `json:"secret,omitempty"`

	// Events limits delivery to these types; empty means all
	Events []string `json:"events,omitempty"`

	// RetryConfig for failed webhook deliveries
	RetryConfig RetryConfig `json:"retry_config,omitempty"`
}

// Wants reports whether the webhook subscribes to eventType
func (c WebhookConfig) Wants(eventType string) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// RetryConfig contains retry settings for webhook delivery
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int `json:"max_retries"`

	// InitialDelay is the initial delay before the first retry
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `json:"max_delay"`

	// BackoffFactor is the multiplier for the delay between retries
	BackoffFactor float64 `json:"backoff_factor"`
}

// delay returns the wait before retry number attempt (1-based)
func (r RetryConfig) delay(attempt int) time.Duration {
	factor := r.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	d := r.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if r.MaxDelay > 0 && d > r.MaxDelay {
			return r.MaxDelay
		}
	}
	return d
}

// WebhookEvent represents an event that triggers a webhook
type WebhookEvent struct {
	// Type of the event
	Type string `json:"type"`

	// Timestamp of the event
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run session the event belongs to
	RunID string `json:"run_id,omitempty"`

	// BlockID is the block (block events only)
	BlockID string `json:"block_id,omitempty"`

	// Data contains event-specific information
	Data map[string]interface{} `json:"data,omitempty"`
}
