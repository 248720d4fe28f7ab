// Package engine orchestrates the task lifecycle: it accepts
// submissions, orders them by priority, executes them on a bounded
// worker pool, retries transient failures with exponential backoff and
// routes permanent failures to the dead letter queue.
//
// # Overview
//
// The engine is the only writer of task status transitions. Submission
// creates a pending task (or replays an existing one when an
// idempotency key matches) and places it on an in-process priority
// queue. Workers claim tasks with a compare-and-swap on status, invoke
// the handler registered for the task's agent type, and finalize the
// outcome: completed with a result, retrying with a backoff timer,
// failed with a dead letter entry, or cancelled. Every transition is
// recorded in the task's event log, so pollers and stream consumers
// observe the same ordered history.
//
// Cancellation is cooperative by default. Cancelling a running task
// cancels the context passed to its handler; the record flips to
// cancelled once the handler returns. A force cancel flips the record
// immediately and drops whatever the handler eventually produces.
//
// # Basic Usage
//
//	reg := registry.New()
//	reg.Register("summarizer", registry.HandlerFunc(
//		func(ctx context.Context, inv *registry.Invocation) ([]byte, error) {
//			inv.Progress(50, "summarizing", "")
//			return []byte(`{"summary":"..."}`), nil
//		}))
//
//	eng, err := engine.New(engine.Config{
//		Store:    tasks.NewMemoryStore(),
//		Events:   events.NewMemoryBroker(),
//		DLQ:      dlq.NewMemoryQueue(),
//		Registry: reg,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := eng.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Stop(context.Background())
//
//	task, created, err := eng.Submit(ctx, tasks.Spec{
//		AgentType: "summarizer",
//		Payload:   []byte(`{"url":"https://example.com"}`),
//		Priority:  5,
//	})
//
// # Shutdown
//
// Stop closes intake first, then waits for in-flight attempts within
// the caller's context deadline before cancelling them. Backoff timers
// are dropped and their tasks stay in retrying; with a durable store,
// Start re-enqueues them on the next run. Pass a context with a
// deadline to bound the drain.
package engine
