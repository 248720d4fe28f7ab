package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/taskkit/logging"
)

// DefaultSubjectPrefix is the NATS subject prefix for relayed events.
// Events for a task are published to "<prefix>.<task_id>".
const DefaultSubjectPrefix = "taskkit.events"

// RelayConfig holds NATS relay configuration.
type RelayConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored when Conn is set.
	URL string

	// Conn is an existing NATS connection to reuse. The relay does not
	// close it.
	Conn *nats.Conn

	// SubjectPrefix overrides DefaultSubjectPrefix.
	SubjectPrefix string

	// Name is the client name for identification.
	Name string

	// ConnectTimeout for the initial connection. Default 5s.
	ConnectTimeout time.Duration

	// Logger for delivery failures.
	Logger *logging.Logger
}

// Relay decorates a Broker, publishing every stored event to a NATS
// subject so out-of-process consumers can follow task progress without
// holding HTTP streams open. Publish failures are logged and never fail
// the append; the in-process log stays authoritative.
type Relay struct {
	Broker

	conn     *nats.Conn
	prefix   string
	logger   *logging.Logger
	ownsConn bool
}

// NewRelay wraps inner with NATS fan-out.
func NewRelay(inner Broker, cfg RelayConfig) (*Relay, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New().WithComponent("events.relay")
	}

	r := &Relay{
		Broker: inner,
		conn:   cfg.Conn,
		prefix: prefix,
		logger: logger,
	}

	if r.conn == nil {
		timeout := cfg.ConnectTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		opts := []nats.Option{nats.Timeout(timeout)}
		if cfg.Name != "" {
			opts = append(opts, nats.Name(cfg.Name))
		}
		conn, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		r.conn = conn
		r.ownsConn = true
	}

	return r, nil
}

// Append stores the event then publishes it to NATS.
func (r *Relay) Append(ctx context.Context, event *Event) (*Event, error) {
	stored, err := r.Broker.Append(ctx, event)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		r.logger.Warn("event relay marshal failed", map[string]interface{}{
			"task_id": stored.TaskID,
			"error":   err.Error(),
		})
		return stored, nil
	}

	subject := r.prefix + "." + stored.TaskID
	if err := r.conn.Publish(subject, data); err != nil {
		r.logger.Warn("event relay publish failed", map[string]interface{}{
			"task_id": stored.TaskID,
			"subject": subject,
			"error":   err.Error(),
		})
	}
	return stored, nil
}

// Close shuts down the inner broker and, when the relay opened it, the
// NATS connection.
func (r *Relay) Close() error {
	err := r.Broker.Close()
	if r.ownsConn {
		r.conn.Close()
	}
	return err
}

var _ Broker = (*Relay)(nil)
