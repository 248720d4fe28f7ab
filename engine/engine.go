package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/events"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/idempotency"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/registry"
	"github.com/vinayprograms/taskkit/retry"
	"github.com/vinayprograms/taskkit/search"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/webhook"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultWorkers       = 4
	DefaultRetention     = 168 * time.Hour
	DefaultSweepInterval = time.Minute
	DefaultSyncTimeout   = 30 * time.Second
)

// Config wires the engine's collaborators. Store, Events, DLQ and
// Registry are required; the rest default to working in-process
// implementations or are optional.
type Config struct {
	// Store is the source of truth for task records.
	Store tasks.TaskStore

	// Events is the per-task event log and stream broker.
	Events events.Broker

	// DLQ receives permanently failed tasks.
	DLQ dlq.Queue

	// Registry resolves agent types to work handlers.
	Registry *registry.Registry

	// Idempotency deduplicates submissions. Nil gets an in-memory
	// index with the default TTL; the engine then owns its lifecycle.
	Idempotency idempotency.Index

	// Webhooks delivers terminal notifications. Nil gets a no-op.
	Webhooks webhook.Notifier

	// Search receives terminal tasks for full-text lookup. Optional.
	Search *search.Index

	// Tracker records worker liveness. Nil gets one with defaults.
	Tracker *heartbeat.Tracker

	// Logger for engine activity. Nil gets the default logger.
	Logger *logging.Logger

	// Workers is the pool size. Default: DefaultWorkers.
	Workers int

	// RetryPolicy classifies attempt failures. Zero fields default.
	RetryPolicy retry.Policy

	// Retention is how long terminal tasks are kept before the janitor
	// removes them. Default: DefaultRetention.
	Retention time.Duration

	// SweepInterval is how often the janitor runs.
	// Default: DefaultSweepInterval.
	SweepInterval time.Duration

	// IDGenerator mints task IDs. Default: uuid.New().String.
	IDGenerator func() string
}

// Engine schedules, executes and tracks tasks. It owns the ready
// queue, the worker pool, retry timers and the janitor; everything
// durable lives in the injected store, broker and queues.
type Engine struct {
	store    tasks.TaskStore
	events   events.Broker
	dlq      dlq.Queue
	registry *registry.Registry
	idem     idempotency.Index
	webhooks webhook.Notifier
	search   *search.Index
	tracker  *heartbeat.Tracker
	logger   *logging.Logger
	policy   retry.Policy
	workers  int
	newID    func() string

	retention     time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	cond    *sync.Cond // signalled on enqueue and on stop
	queue   *readyQueue
	timers  map[string]*time.Timer        // task ID -> pending backoff timer
	cancels map[string]context.CancelFunc // task ID -> running attempt cancel

	rootCtx    context.Context
	rootCancel context.CancelFunc
	workerWg   sync.WaitGroup
	bgWg       sync.WaitGroup

	started  atomic.Bool
	stopping atomic.Bool
	ownsIdem bool
}

// New builds an engine. It does not start dispatching until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: task store is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("engine: event broker is required")
	}
	if cfg.DLQ == nil {
		return nil, fmt.Errorf("engine: dead letter queue is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: handler registry is required")
	}

	e := &Engine{
		store:         cfg.Store,
		events:        cfg.Events,
		dlq:           cfg.DLQ,
		registry:      cfg.Registry,
		idem:          cfg.Idempotency,
		webhooks:      cfg.Webhooks,
		search:        cfg.Search,
		tracker:       cfg.Tracker,
		logger:        cfg.Logger,
		policy:        cfg.RetryPolicy,
		workers:       cfg.Workers,
		newID:         cfg.IDGenerator,
		retention:     cfg.Retention,
		sweepInterval: cfg.SweepInterval,
		queue:         newReadyQueue(),
		timers:        make(map[string]*time.Timer),
		cancels:       make(map[string]context.CancelFunc),
	}
	e.cond = sync.NewCond(&e.mu)
	e.rootCtx, e.rootCancel = context.WithCancel(context.Background())

	if e.idem == nil {
		e.idem = idempotency.NewMemoryIndex(0)
		e.ownsIdem = true
	}
	if e.webhooks == nil {
		e.webhooks = webhook.NewNoopNotifier()
	}
	if e.tracker == nil {
		e.tracker = heartbeat.NewTracker(heartbeat.TrackerConfig{})
	}
	if e.logger == nil {
		e.logger = logging.New().WithComponent("engine")
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	if e.policy.MaxAttempts <= 0 {
		e.policy.MaxAttempts = retry.DefaultMaxAttempts
	}
	if e.retention <= 0 {
		e.retention = DefaultRetention
	}
	if e.sweepInterval <= 0 {
		e.sweepInterval = DefaultSweepInterval
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}

	return e, nil
}

// Start launches the worker pool, the liveness tracker and the
// janitor. Calling Start twice is an error.
func (e *Engine) Start() error {
	if e.started.Swap(true) {
		return fmt.Errorf("engine already started")
	}

	if err := e.tracker.Start(); err != nil && err != heartbeat.ErrAlreadyStarted {
		e.started.Store(false)
		return err
	}
	e.tracker.OnStalled(func(workerID string) {
		e.logger.Warn("worker stalled", map[string]interface{}{"worker_id": workerID})
	})

	e.recoverReady()

	for i := 0; i < e.workers; i++ {
		e.workerWg.Add(1)
		go e.runWorker(i)
	}

	e.bgWg.Add(1)
	go e.runJanitor()

	e.logger.Info("engine started", map[string]interface{}{
		"workers":   e.workers,
		"retention": e.retention.String(),
	})
	return nil
}

// Stop drains the engine: intake closes immediately, workers finish
// their current attempt within ctx's deadline, then remaining attempts
// are cancelled. Pending backoff timers are dropped; their tasks stay
// in Retrying.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return fmt.Errorf("engine not started")
	}
	if e.stopping.Swap(true) {
		return nil
	}

	e.mu.Lock()
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	workersDone := make(chan struct{})
	go func() {
		e.workerWg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-ctx.Done():
		// Grace period expired. Cancel in-flight attempts; workers
		// finalize them as cancelled and exit.
		e.mu.Lock()
		for _, cancel := range e.cancels {
			cancel()
		}
		e.mu.Unlock()
		<-workersDone
	}

	e.rootCancel()
	e.bgWg.Wait()

	if err := e.tracker.Stop(); err != nil && err != heartbeat.ErrNotStarted {
		e.logger.Warn("tracker stop failed", map[string]interface{}{"error": err.Error()})
	}
	e.webhooks.Close()
	if e.ownsIdem {
		e.idem.Close()
	}

	e.logger.Info("engine stopped")
	return nil
}

// recoverReady re-enqueues tasks a previous process left in pending or
// retrying, so a durable store survives restarts. Running tasks are
// left alone; only a force cancel can resolve them.
func (e *Engine) recoverReady() {
	offset := 0
	recovered := 0

	for {
		page, _, err := e.store.List(e.rootCtx, tasks.Filter{ActiveOnly: true}, sweepPageSize, offset)
		if err != nil || len(page) == 0 {
			break
		}

		for _, task := range page {
			switch task.Status {
			case tasks.StatusPending:
				e.enqueue(task.ID, task.Priority)
				recovered++
			case tasks.StatusRetrying:
				_, uerr := e.store.Update(e.rootCtx, task.ID, tasks.StatusRetrying, func(t *tasks.Task) error {
					t.Status = tasks.StatusPending
					return nil
				})
				if uerr == nil {
					e.enqueue(task.ID, task.Priority)
					recovered++
				}
			}
		}

		if len(page) < sweepPageSize {
			break
		}
		offset += len(page)
	}

	if recovered > 0 {
		e.logger.Info("recovered ready tasks", map[string]interface{}{"count": recovered})
	}
}

// QueueDepth reports how many tasks sit in the ready queue.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Tracker exposes the worker liveness tracker, for stats wiring.
func (e *Engine) Tracker() *heartbeat.Tracker {
	return e.tracker
}

// enqueue puts a task on the ready queue and wakes one worker.
func (e *Engine) enqueue(taskID string, priority int) {
	e.mu.Lock()
	e.queue.Enqueue(taskID, priority, time.Now().UTC())
	e.cond.Signal()
	e.mu.Unlock()
}

// nextTask blocks until a task is ready or the engine stops.
func (e *Engine) nextTask() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.stopping.Load() {
			return "", false
		}
		if id, ok := e.queue.Dequeue(); ok {
			return id, true
		}
		e.cond.Wait()
	}
}
