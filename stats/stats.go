// Package stats aggregates engine health numbers for the monitoring
// endpoints. Status counts come from the task store on every call
// rather than from separately maintained counters, so they cannot
// drift from the source of truth.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/tasks"
)

// ErrNoStore is returned when a collector is built without a task store.
var ErrNoStore = errors.New("task store is required")

// DepthFunc reports the current ready-queue depth.
type DepthFunc func() int

// Config configures a stats collector. Store is required; everything
// else degrades to zero when absent.
type Config struct {
	// Store is the source of truth for status counts.
	Store tasks.TaskStore

	// DLQ reports dead letter queue size. Optional.
	DLQ dlq.Queue

	// Tracker supplies worker busy/idle gauges. Optional.
	Tracker *heartbeat.Tracker

	// QueueDepth reports how many tasks sit in the ready queue. Optional.
	QueueDepth DepthFunc
}

// Snapshot is one point-in-time reading of engine health.
type Snapshot struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`

	QueueDepth  int `json:"queue_depth"`
	WorkersBusy int `json:"workers_busy"`
	WorkersIdle int `json:"workers_idle"`
	DLQSize     int `json:"dlq_size"`

	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// Collector assembles snapshots from the engine's live components.
type Collector struct {
	store     tasks.TaskStore
	queue     dlq.Queue
	tracker   *heartbeat.Tracker
	depth     DepthFunc
	startedAt time.Time
}

// NewCollector creates a collector. Uptime counts from this call.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	return &Collector{
		store:     cfg.Store,
		queue:     cfg.DLQ,
		tracker:   cfg.Tracker,
		depth:     cfg.QueueDepth,
		startedAt: time.Now().UTC(),
	}, nil
}

// Stats reads the current counts. The store is consulted on every call.
func (c *Collector) Stats(ctx context.Context) (*Snapshot, error) {
	counts, err := c.store.Count(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Pending:       counts[tasks.StatusPending],
		Running:       counts[tasks.StatusRunning],
		Retrying:      counts[tasks.StatusRetrying],
		Completed:     counts[tasks.StatusCompleted],
		Failed:        counts[tasks.StatusFailed],
		Cancelled:     counts[tasks.StatusCancelled],
		StartedAt:     c.startedAt,
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
	}
	for _, n := range counts {
		snap.Total += n
	}

	if c.queue != nil {
		size, err := c.queue.Size(ctx)
		if err != nil {
			return nil, err
		}
		snap.DLQSize = size
	}

	if c.tracker != nil {
		snap.WorkersIdle, snap.WorkersBusy = c.tracker.Counts()
	}

	if c.depth != nil {
		snap.QueueDepth = c.depth()
	}

	return snap, nil
}
