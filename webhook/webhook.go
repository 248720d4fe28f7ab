// Package webhook delivers terminal task outcomes to caller-supplied URLs.
//
// Delivery is fire-and-forget: a few POST attempts with backoff, then
// give up and log. A webhook that cannot be delivered never changes the
// task's own status.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/tasks"
)

// Default delivery settings.
const (
	DefaultMaxAttempts = 3
	DefaultInitBackoff = 1 * time.Second
	DefaultTimeout     = 5 * time.Second
)

// Payload is the body POSTed to a task's webhook URL on terminal status.
type Payload struct {
	TaskID      string           `json:"task_id"`
	Status      string           `json:"status"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       *tasks.ExecError `json:"error,omitempty"`
	Cost        float64          `json:"cost"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// PayloadFor builds the delivery payload from a terminal task.
func PayloadFor(task *tasks.Task) Payload {
	p := Payload{
		TaskID:    task.ID,
		Status:    task.Status.String(),
		Cost:      task.Cost,
		Attempts:  task.Attempts,
		CreatedAt: task.CreatedAt,
	}
	if len(task.Result) > 0 {
		p.Result = json.RawMessage(task.Result)
	}
	if task.Error != nil {
		e := *task.Error
		p.Error = &e
	}
	if task.CompletedAt != nil {
		t := *task.CompletedAt
		p.CompletedAt = &t
	}
	return p
}

// Notifier delivers terminal task outcomes.
type Notifier interface {
	// Notify schedules delivery of payload to url and returns
	// immediately. Delivery failures are logged, never returned.
	Notify(url string, payload Payload)

	// Close stops accepting notifications, cancels in-flight deliveries,
	// and waits for their goroutines to exit.
	Close() error
}

// Config holds notifier settings.
type Config struct {
	// MaxAttempts per notification. Default 3.
	MaxAttempts int

	// InitBackoff is the delay after the first failed attempt; it
	// doubles per attempt. Default 1s.
	InitBackoff time.Duration

	// Timeout per POST attempt. Default 5s.
	Timeout time.Duration

	// Client overrides the HTTP client. Its Timeout is ignored in favor
	// of the per-attempt context deadline.
	Client *http.Client

	// Logger for delivery outcomes.
	Logger *logging.Logger
}

// --- HTTP Notifier ---

// HTTPNotifier implements Notifier over plain HTTP POSTs.
type HTTPNotifier struct {
	client      *http.Client
	maxAttempts int
	initBackoff time.Duration
	timeout     time.Duration
	logger      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewHTTPNotifier creates a notifier with the given settings.
func NewHTTPNotifier(cfg Config) *HTTPNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitBackoff <= 0 {
		cfg.InitBackoff = DefaultInitBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New().WithComponent("webhook")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPNotifier{
		client:      cfg.Client,
		maxAttempts: cfg.MaxAttempts,
		initBackoff: cfg.InitBackoff,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Notify schedules delivery and returns immediately.
func (n *HTTPNotifier) Notify(url string, payload Payload) {
	if n.closed.Load() || url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.WebhookFailed(payload.TaskID, url, 0, err)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(url, payload.TaskID, body)
	}()
}

func (n *HTTPNotifier) deliver(url, taskID string, body []byte) {
	backoff := n.initBackoff
	var lastErr error

	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		status, err := n.post(url, body)
		if err == nil {
			n.logger.WebhookDelivered(taskID, url, status, attempt)
			return
		}
		lastErr = err

		if attempt == n.maxAttempts {
			break
		}
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	n.logger.WebhookFailed(taskID, url, n.maxAttempts, lastErr)
}

func (n *HTTPNotifier) post(url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Close stops the notifier and waits for in-flight deliveries.
func (n *HTTPNotifier) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	n.cancel()
	n.wg.Wait()
	return nil
}

// --- Noop Notifier ---

// NoopNotifier discards all notifications.
type NoopNotifier struct{}

// NewNoopNotifier creates a notifier that does nothing.
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

func (n *NoopNotifier) Notify(url string, payload Payload) {}
func (n *NoopNotifier) Close() error                       { return nil }

var (
	_ Notifier = (*HTTPNotifier)(nil)
	_ Notifier = (*NoopNotifier)(nil)
)
