package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tcmartin/flowconsole/pkg/blocks"
	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/runner"
)

// Options configures a Dispatcher
type Options struct {
	// Client sends the requests; defaults to a client with a 10s timeout
	Client *http.Client

	// Clock paces retries
	Clock clock.Clock

	// QueueSize bounds the events waiting for delivery
	QueueSize int

	Logger logging.Logger
}

// Dispatcher queues events from run listeners and delivers them to every
// subscribed webhook on a background goroutine. Listeners never block on the
// network; events are dropped when the queue is full.
type Dispatcher struct {
	hooks  []WebhookConfig
	client *http.Client
	clock  clock.Clock
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan WebhookEvent
	done   chan struct{}
}

// NewDispatcher starts a dispatcher for hooks
func NewDispatcher(hooks []WebhookConfig, opts Options) *Dispatcher {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	d := &Dispatcher{
		hooks:  hooks,
		client: opts.Client,
		clock:  opts.Clock,
		logger: opts.Logger,
		queue:  make(chan WebhookEvent, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Attach subscribes the dispatcher to run and block events of coord
func (d *Dispatcher) Attach(coord *runner.Coordinator) {
	coord.Subscribe(d.OnRun)
	coord.Blocks().Subscribe(d.OnBlock)
}

// OnRun is a runner.RunListener
func (d *Dispatcher) OnRun(e runner.RunEvent) {
	data := map[string]interface{}{
		"mode":      e.Session.Mode,
		"block_ids": e.Session.BlockIDs,
	}
	if e.Type == runner.RunCompleted {
		data["result_type"] = e.Session.ResultType
		data["message"] = e.Session.Message
	}
	d.enqueue(WebhookEvent{
		Type:      string(e.Type),
		Timestamp: d.clock.Now(),
		RunID:     e.Session.ID,
		Data:      data,
	})
}

// OnBlock is a blocks.Listener; only completions are delivered
func (d *Dispatcher) OnBlock(e blocks.Event) {
	if e.Type != blocks.EventCompleted {
		return
	}
	data := map[string]interface{}{"status": e.State.Status}
	if e.State.DurationMs != nil {
		data["duration_ms"] = *e.State.DurationMs
	}
	if e.State.ErrorMessage != "" {
		data["error"] = e.State.ErrorMessage
	}
	d.enqueue(WebhookEvent{
		Type:      EventBlockCompleted,
		Timestamp: d.clock.Now(),
		BlockID:   e.State.BlockID,
		Data:      data,
	})
}

func (d *Dispatcher) enqueue(event WebhookEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("Webhook queue full, dropping event", logging.F("type", event.Type))
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for event := range d.queue {
		if err := d.Send(context.Background(), event); err != nil {
			d.logger.Warn("Webhook delivery failed", logging.F("type", event.Type), logging.Err(err))
		}
	}
}

// Send delivers event to every subscribed webhook, retrying each one per its
// retry config. The returned error joins the failures of all webhooks.
func (d *Dispatcher) Send(ctx context.Context, event WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode webhook event: %w", err)
	}

	var errs []error
	for _, hook := range d.hooks {
		if !hook.Wants(event.Type) {
			continue
		}
		if err := d.deliver(ctx, hook, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, hook WebhookConfig, body []byte) error {
	var err error
	for attempt := 0; attempt <= hook.RetryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := d.clock.Sleep(ctx, hook.RetryConfig.delay(attempt)); sleepErr != nil {
				return sleepErr
			}
		}
		if err = d.post(ctx, hook, body); err == nil {
			return nil
		}
		d.logger.Debug("Webhook attempt failed",
			logging.F("url", hook.URL), logging.F("attempt", attempt+1), logging.Err(err))
	}
	return err
}

func (d *Dispatcher) post(ctx context.Context, hook WebhookConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting events and waits until queued ones are delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
