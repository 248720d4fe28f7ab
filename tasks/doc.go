// Package tasks defines the task model and the TaskStore, the single
// source of truth for every task's lifecycle state.
//
// Key features:
//
//   - Forward-only lifecycle state machine with six statuses
//   - Optimistic-concurrency updates (compare-and-swap on status)
//   - Filtered, paginated listing with dispatch-order support
//   - Memory and Redis backends behind one interface
//
// # Basic Usage
//
// Create a store and a task:
//
//	store := tasks.NewMemoryStore()
//	defer store.Close()
//
//	spec := tasks.Spec{
//	    AgentType: "summarize",
//	    Payload:   []byte(`{"document_id": "doc-9"}`),
//	    Priority:  5,
//	}
//	task := tasks.FromSpec(uuid.NewString(), spec, 3)
//	err := store.Create(ctx, task)
//
// Mutate it with a status expectation so concurrent writers conflict
// instead of clobbering each other:
//
//	updated, err := store.Update(ctx, task.ID, tasks.StatusPending, func(t *tasks.Task) error {
//	    t.Status = tasks.StatusRunning
//	    t.Attempts++
//	    return nil
//	})
//	if errors.Is(err, tasks.ErrConflict) {
//	    // re-read and retry
//	}
//
// # Task Lifecycle
//
// Tasks move through the following states:
//
//	Pending → Running → Completed
//	    ↓        ↓    ↘ Failed (→ dead letter queue)
//	Cancelled  Retrying → Pending (after backoff)
//
// Completed, Failed and Cancelled are terminal. The store rejects any
// transition the state machine does not allow.
//
// # Thread Safety
//
// All TaskStore implementations are safe for concurrent use. Tasks are
// deep-copied across the store boundary.
package tasks
