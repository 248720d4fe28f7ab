package engine

import (
	"context"
	"time"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/events"
	"github.com/vinayprograms/taskkit/idempotency"
	"github.com/vinayprograms/taskkit/tasks"
)

// Submit validates the spec, creates (or, with an idempotency key,
// reuses) a task and puts it on the ready queue. The bool reports
// whether a new task was created; false means an idempotent replay.
func (e *Engine) Submit(ctx context.Context, spec tasks.Spec) (*tasks.Task, bool, error) {
	return e.submit(ctx, spec, nil)
}

// submit is Submit plus a hook invoked after the task is stored but
// before it is enqueued. SubmitSync uses the hook to subscribe to the
// event stream before any worker can touch the task.
func (e *Engine) submit(ctx context.Context, spec tasks.Spec, beforeEnqueue func(taskID string)) (*tasks.Task, bool, error) {
	if e.stopping.Load() {
		return nil, false, errors.New(errors.ErrCodeUnavailable, "engine is shutting down")
	}
	if err := spec.Validate(); err != nil {
		return nil, false, errors.Validation(err.Error())
	}
	if !e.registry.Has(spec.AgentType) {
		return nil, false, errors.Newf(errors.ErrCodeUnknownType, "no handler registered for agent type %q", spec.AgentType)
	}

	id := e.newID()

	if spec.IdempotencyKey != "" {
		if err := idempotency.ValidateKey(spec.IdempotencyKey); err != nil {
			return nil, false, errors.Validation(err.Error())
		}
		existingID, isNew, err := e.idem.Reserve(ctx, spec.AgentType, spec.IdempotencyKey, id)
		if err != nil {
			return nil, false, errors.Wrap(err, "idempotency reservation failed")
		}
		if !isNew {
			task, err := e.replayTask(ctx, existingID)
			if err != nil {
				return nil, false, err
			}
			e.logger.Debug("idempotent replay", map[string]interface{}{
				"task_id": task.ID,
				"key":     spec.IdempotencyKey,
			})
			return task, false, nil
		}
	}

	task := tasks.FromSpec(id, spec, e.policy.MaxAttempts)
	if err := e.store.Create(ctx, task); err != nil {
		if spec.IdempotencyKey != "" {
			// Release the reservation so the key is not burned on a
			// task that never existed.
			e.idem.Invalidate(context.Background(), spec.AgentType, spec.IdempotencyKey)
		}
		return nil, false, errors.Wrap(err, "task creation failed", errors.WithTaskID(id))
	}

	e.logger.TaskSubmitted(task.ID, task.AgentType, task.Priority)
	if beforeEnqueue != nil {
		beforeEnqueue(task.ID)
	}
	e.enqueue(task.ID, task.Priority)
	return task, true, nil
}

// replayTask fetches the task an idempotency key is bound to. The
// binding is written before the task record, so a concurrent submit
// can leave a short window where the task is not yet visible.
func (e *Engine) replayTask(ctx context.Context, taskID string) (*tasks.Task, error) {
	for i := 0; i < 3; i++ {
		task, err := e.store.Get(ctx, taskID)
		if err == nil {
			return task, nil
		}
		if err != tasks.ErrNotFound {
			return nil, errors.Wrap(err, "replay lookup failed", errors.WithTaskID(taskID))
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, errors.Conflict("idempotent replay raced task creation", errors.WithTaskID(taskID))
}

// SubmitSync submits a task and blocks until it reaches a terminal
// state or timeout elapses, whichever comes first. On timeout the
// task's current state is returned with no error; the work keeps
// running. A non-positive timeout uses DefaultSyncTimeout.
func (e *Engine) SubmitSync(ctx context.Context, spec tasks.Spec, timeout time.Duration) (*tasks.Task, bool, error) {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	var sub events.Subscription
	task, created, err := e.submit(ctx, spec, func(taskID string) {
		sub, _ = e.events.Subscribe(subCtx, taskID)
	})
	if err != nil {
		return nil, false, err
	}

	if task.Status.IsTerminal() {
		return task, created, nil
	}
	if sub == nil {
		// Idempotent replay of an active task: subscribe now, then
		// recheck so a completion between Get and Subscribe is not
		// waited on forever.
		sub, err = e.events.Subscribe(subCtx, task.ID)
		if err != nil {
			return task, created, nil
		}
		current, gerr := e.store.Get(ctx, task.ID)
		if gerr == nil {
			task = current
			if task.Status.IsTerminal() {
				return task, created, nil
			}
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return task, created, errors.Canceled("wait for task completion canceled",
				errors.WithTaskID(task.ID), errors.WithCause(ctx.Err()))

		case <-deadline.C:
			return e.refresh(ctx, task), created, nil

		case ev, ok := <-sub.Events():
			if !ok {
				// Log sealed: the terminal store update has landed.
				return e.refresh(ctx, task), created, nil
			}
			if ev.Kind == events.KindComplete {
				return e.refresh(ctx, task), created, nil
			}
		}
	}
}

// refresh returns the latest stored state of task, or task itself if
// the lookup fails.
func (e *Engine) refresh(ctx context.Context, task *tasks.Task) *tasks.Task {
	current, err := e.store.Get(ctx, task.ID)
	if err != nil {
		return task
	}
	return current
}

// Get returns the task by ID.
func (e *Engine) Get(ctx context.Context, id string) (*tasks.Task, error) {
	task, err := e.store.Get(ctx, id)
	if err == tasks.ErrNotFound {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "task lookup failed", errors.WithTaskID(id))
	}
	return task, nil
}

// List returns tasks matching the filter plus the total match count.
func (e *Engine) List(ctx context.Context, filter tasks.Filter, limit, offset int) ([]*tasks.Task, int, error) {
	return e.store.List(ctx, filter, limit, offset)
}

// Events returns the task's event log in sequence order. A positive
// limit keeps only the most recent events.
func (e *Engine) Events(ctx context.Context, id string, limit int) ([]*events.Event, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.events.Snapshot(ctx, id, limit)
}

// EventsSince returns the task's events with sequence numbers greater
// than afterSeq.
func (e *Engine) EventsSince(ctx context.Context, id string, afterSeq uint64) ([]*events.Event, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.events.Since(ctx, id, afterSeq)
}

// Subscribe opens a live event stream for the task. The caller is
// responsible for cancelling the subscription.
func (e *Engine) Subscribe(ctx context.Context, id string) (events.Subscription, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.events.Subscribe(ctx, id)
}

// Cancel stops a task. Pending and retrying tasks cancel immediately.
// Running tasks get their attempt context cancelled and finalize as
// cancelled once the handler returns, unless force is set, in which
// case the record flips to cancelled at once and the handler's
// eventual result is dropped. Cancelling a terminal task is a no-op.
// The bool reports whether cancellation took effect.
func (e *Engine) Cancel(ctx context.Context, id string, force bool) (*tasks.Task, bool, error) {
	for i := 0; i < 3; i++ {
		task, err := e.store.Get(ctx, id)
		if err == tasks.ErrNotFound {
			return nil, false, errors.NotFound("task not found", errors.WithTaskID(id))
		}
		if err != nil {
			return nil, false, errors.Wrap(err, "task lookup failed", errors.WithTaskID(id))
		}

		switch task.Status {
		case tasks.StatusCompleted, tasks.StatusFailed, tasks.StatusCancelled:
			return task, false, nil

		case tasks.StatusPending:
			updated, err := e.markCancelled(ctx, id, tasks.StatusPending)
			if err == tasks.ErrConflict {
				continue
			}
			if err != nil {
				return nil, false, errors.Wrap(err, "cancel failed", errors.WithTaskID(id))
			}
			e.mu.Lock()
			e.queue.Remove(id)
			e.mu.Unlock()
			e.appendComplete(updated, "cancelled before execution")
			e.logger.TaskCancelled(id, false)
			return updated, true, nil

		case tasks.StatusRetrying:
			updated, err := e.markCancelled(ctx, id, tasks.StatusRetrying)
			if err == tasks.ErrConflict {
				continue
			}
			if err != nil {
				return nil, false, errors.Wrap(err, "cancel failed", errors.WithTaskID(id))
			}
			e.mu.Lock()
			if timer, ok := e.timers[id]; ok {
				timer.Stop()
				delete(e.timers, id)
			}
			e.mu.Unlock()
			e.appendComplete(updated, "cancelled during backoff")
			e.logger.TaskCancelled(id, false)
			return updated, true, nil

		case tasks.StatusRunning:
			if !force {
				e.mu.Lock()
				cancel := e.cancels[id]
				e.mu.Unlock()
				if cancel == nil {
					// Finalization already in flight; the attempt ends
					// on its own terms.
					return task, false, nil
				}
				cancel()
				return task, true, nil
			}

			updated, err := e.markCancelled(ctx, id, tasks.StatusRunning)
			if err == tasks.ErrConflict {
				continue
			}
			if err != nil {
				return nil, false, errors.Wrap(err, "cancel failed", errors.WithTaskID(id))
			}
			e.mu.Lock()
			cancel := e.cancels[id]
			e.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			e.appendComplete(updated, "force cancelled")
			e.logger.TaskCancelled(id, true)
			return updated, true, nil
		}
	}

	return nil, false, errors.Conflict("task status kept changing during cancel", errors.WithTaskID(id))
}

// markCancelled flips the task to cancelled from the expected status.
func (e *Engine) markCancelled(ctx context.Context, id string, expect tasks.TaskStatus) (*tasks.Task, error) {
	return e.store.Update(ctx, id, expect, func(t *tasks.Task) error {
		now := time.Now().UTC()
		t.Status = tasks.StatusCancelled
		t.CompletedAt = &now
		return nil
	})
}

// appendComplete appends the terminal event for a task. The store is
// already terminal at this point, so append failures only cost the
// event, not the state.
func (e *Engine) appendComplete(task *tasks.Task, message string) {
	_, err := e.events.Append(context.Background(), events.Complete(task.ID, task.Status.String(), message))
	if err != nil && err != events.ErrSealed {
		e.logger.Warn("terminal event append failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	}
}

// Retry requeues a failed task through its dead letter entry. Only
// failed tasks whose recorded error is retryable qualify; the result
// is a brand-new task, not a resurrection of the failed record.
func (e *Engine) Retry(ctx context.Context, id string) (*tasks.Task, error) {
	task, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != tasks.StatusFailed {
		return nil, errors.InvalidState("only failed tasks can be retried", errors.WithTaskID(id))
	}
	if task.Error != nil && !task.Error.Retryable {
		return nil, errors.NotRetryable("task failed with a non-retryable error", errors.WithTaskID(id))
	}

	entry, err := e.dlq.GetByTask(ctx, id)
	if err == dlq.ErrNotFound {
		return nil, errors.NotFound("no dead letter entry for task", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "dead letter lookup failed", errors.WithTaskID(id))
	}
	return e.Requeue(ctx, entry.ID)
}

// Requeue turns a dead letter entry into a brand-new pending task with
// a fresh ID and zero attempts, preserving the original agent type,
// payload, priority, user and webhook URL. The entry is consumed; a
// second requeue of the same entry returns not-found. The idempotency
// key is not carried over, since the original key may still be bound
// to the failed task.
func (e *Engine) Requeue(ctx context.Context, entryID string) (*tasks.Task, error) {
	if e.stopping.Load() {
		return nil, errors.New(errors.ErrCodeUnavailable, "engine is shutting down")
	}

	entry, err := e.dlq.Take(ctx, entryID)
	if err == dlq.ErrNotFound {
		return nil, errors.NotFound("dead letter entry not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "dead letter take failed")
	}

	old := entry.Task
	spec := tasks.Spec{
		AgentType:   old.AgentType,
		Payload:     old.Payload,
		Priority:    old.Priority,
		UserID:      old.UserID,
		WebhookURL:  old.WebhookURL,
		MaxAttempts: old.MaxAttempts,
	}

	task := tasks.FromSpec(e.newID(), spec, e.policy.MaxAttempts)
	if err := e.store.Create(ctx, task); err != nil {
		// Put the entry back so the requeue can be retried.
		if addErr := e.dlq.Add(context.Background(), entry); addErr != nil {
			e.logger.Error("dead letter restore failed", map[string]interface{}{
				"entry_id": entry.ID,
				"error":    addErr.Error(),
			})
		}
		return nil, errors.Wrap(err, "requeued task creation failed", errors.WithTaskID(task.ID))
	}

	e.logger.Info("dead letter entry requeued", map[string]interface{}{
		"entry_id":    entry.ID,
		"failed_task": old.ID,
		"new_task":    task.ID,
	})
	e.logger.TaskSubmitted(task.ID, task.AgentType, task.Priority)
	e.enqueue(task.ID, task.Priority)
	return task, nil
}
