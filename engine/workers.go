package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/events"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/registry"
	"github.com/vinayprograms/taskkit/tasks"
	"github.com/vinayprograms/taskkit/webhook"
)

// finalizeTimeout bounds the store writes that record an attempt's
// outcome. These use a fresh context so a finished attempt still lands
// during shutdown.
const finalizeTimeout = 10 * time.Second

// runWorker pulls tasks off the ready queue until the engine stops.
func (e *Engine) runWorker(n int) {
	defer e.workerWg.Done()

	workerID := fmt.Sprintf("worker-%d", n)
	log := e.logger.WithWorker(n)
	e.tracker.Beat(workerID, heartbeat.StateIdle, "")

	for {
		id, ok := e.nextTask()
		if !ok {
			return
		}
		e.execute(n, workerID, log, id)
		e.tracker.Beat(workerID, heartbeat.StateIdle, "")
	}
}

// execute claims the task, runs its handler and finalizes the outcome.
func (e *Engine) execute(n int, workerID string, log *logging.Logger, id string) {
	taskCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registered before the claim so a cancel request arriving the
	// moment the task turns running finds something to cancel.
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()

	task, err := e.claim(id)
	if err != nil {
		// Conflict means the task was cancelled between dequeue and
		// claim; not-found means it was already purged.
		if err != tasks.ErrConflict && err != tasks.ErrNotFound {
			log.Error("task claim failed", map[string]interface{}{
				"task_id": id,
				"error":   err.Error(),
			})
		}
		return
	}

	e.tracker.Beat(workerID, heartbeat.StateBusy, id)
	log.TaskClaimed(id, n, task.Attempts)

	started := time.Now()
	result, execErr := e.runHandler(taskCtx, workerID, task)

	switch {
	case execErr == nil:
		e.finalizeCompleted(log, task, result, started)
	case taskCtx.Err() != nil:
		e.finalizeCancelled(log, task)
	default:
		e.finalizeError(log, task, execErr)
	}
}

// claim transitions the task to running and counts the attempt.
func (e *Engine) claim(id string) (*tasks.Task, error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	return e.store.Update(ctx, id, tasks.StatusPending, func(t *tasks.Task) error {
		now := time.Now().UTC()
		t.Status = tasks.StatusRunning
		t.Attempts++
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		return nil
	})
}

// runHandler invokes the registered handler with panic recovery. A
// panic surfaces as a non-retryable error instead of taking the
// worker down.
func (e *Engine) runHandler(ctx context.Context, workerID string, task *tasks.Task) (result []byte, err error) {
	handler, rerr := e.registry.Get(task.AgentType)
	if rerr != nil {
		return nil, errors.Newf(errors.ErrCodeUnknownType, "no handler registered for agent type %q", task.AgentType)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.RecoverPanic(r)
		}
	}()

	inv := registry.NewInvocation(task, e.progressReporter(workerID, task.ID), e.costRecorder(task.ID))
	return handler.Execute(ctx, inv)
}

// progressReporter builds the Invocation callback that records handler
// progress on the task and in its event log. Each report doubles as a
// liveness beat.
func (e *Engine) progressReporter(workerID, taskID string) func(percent int, step, message string) {
	return func(percent int, step, message string) {
		e.tracker.Beat(workerID, heartbeat.StateBusy, taskID)

		_, err := e.store.Update(context.Background(), taskID, tasks.StatusRunning, func(t *tasks.Task) error {
			t.Progress = tasks.Progress{Percent: percent, Step: step, Message: message}
			return nil
		})
		if err != nil {
			// The task left running under us; stop reporting.
			return
		}

		if _, aerr := e.events.Append(context.Background(), events.Progress(taskID, percent, step, message)); aerr != nil && aerr != events.ErrSealed {
			e.logger.Debug("progress event dropped", map[string]interface{}{
				"task_id": taskID,
				"error":   aerr.Error(),
			})
		}
	}
}

// costRecorder builds the Invocation callback that accumulates cost on
// the task record as the handler reports it.
func (e *Engine) costRecorder(taskID string) func(units float64) {
	return func(units float64) {
		e.store.Update(context.Background(), taskID, tasks.StatusRunning, func(t *tasks.Task) error {
			t.Cost += units
			return nil
		})
	}
}

// finalizeCompleted records a successful attempt.
func (e *Engine) finalizeCompleted(log *logging.Logger, task *tasks.Task, result []byte, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	updated, err := e.store.Update(ctx, task.ID, tasks.StatusRunning, func(t *tasks.Task) error {
		now := time.Now().UTC()
		t.Status = tasks.StatusCompleted
		t.Result = result
		t.Progress.Percent = 100
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		// Conflict means a force cancel landed first; the result is
		// dropped.
		if err != tasks.ErrConflict {
			log.Error("completion update failed", map[string]interface{}{
				"task_id": task.ID,
				"error":   err.Error(),
			})
		}
		return
	}

	e.appendComplete(updated, "")
	log.TaskCompleted(task.ID, time.Since(started), updated.Cost)
	e.notifyWebhook(updated)
	e.indexTask(updated)
}

// finalizeCancelled records an attempt ended by context cancellation.
// No webhook fires for cancellations.
func (e *Engine) finalizeCancelled(log *logging.Logger, task *tasks.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	updated, err := e.store.Update(ctx, task.ID, tasks.StatusRunning, func(t *tasks.Task) error {
		now := time.Now().UTC()
		t.Status = tasks.StatusCancelled
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		// A force cancel already finalized the record and its event.
		return
	}

	e.appendComplete(updated, "cancelled during execution")
	log.TaskCancelled(task.ID, true)
	e.indexTask(updated)
}

// finalizeError classifies a failed attempt into retry or permanent
// failure. The task's own attempt ceiling overrides the engine policy.
func (e *Engine) finalizeError(log *logging.Logger, task *tasks.Task, execErr error) {
	policy := e.policy
	if task.MaxAttempts > 0 {
		policy.MaxAttempts = task.MaxAttempts
	}

	decision := policy.Decide(execErr, task.Attempts)
	if decision.Retry {
		e.finalizeRetry(log, task, execErr, decision.Delay)
		return
	}
	e.finalizeFailed(log, task, execErr)
}

// finalizeRetry parks the task in retrying and schedules its
// re-enqueue after the backoff delay.
func (e *Engine) finalizeRetry(log *logging.Logger, task *tasks.Task, execErr error, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	updated, err := e.store.Update(ctx, task.ID, tasks.StatusRunning, func(t *tasks.Task) error {
		t.Status = tasks.StatusRetrying
		return nil
	})
	if err != nil {
		if err != tasks.ErrConflict {
			log.Error("retry transition failed", map[string]interface{}{
				"task_id": task.ID,
				"error":   err.Error(),
			})
		}
		return
	}

	msg := errors.Message(execErr)
	if _, aerr := e.events.Append(context.Background(), events.AttemptError(task.ID, updated.Attempts, true, msg)); aerr != nil && aerr != events.ErrSealed {
		log.Warn("attempt error event append failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   aerr.Error(),
		})
	}

	log.TaskRetrying(task.ID, updated.Attempts, delay, msg)
	e.scheduleRetry(task.ID, task.Priority, delay)
}

// finalizeFailed records a permanent failure and moves the task to the
// dead letter queue.
func (e *Engine) finalizeFailed(log *logging.Logger, task *tasks.Task, execErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	code := errors.Code(execErr)
	if code == "" {
		code = errors.ErrCodeExecution
	}
	msg := errors.Message(execErr)
	retryable := errors.IsRetryable(execErr)

	updated, err := e.store.Update(ctx, task.ID, tasks.StatusRunning, func(t *tasks.Task) error {
		now := time.Now().UTC()
		t.Status = tasks.StatusFailed
		t.Error = &tasks.ExecError{
			Code:      code.String(),
			Message:   msg,
			Retryable: retryable,
		}
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		if err != tasks.ErrConflict {
			log.Error("failure update failed", map[string]interface{}{
				"task_id": task.ID,
				"error":   err.Error(),
			})
		}
		return
	}

	e.appendComplete(updated, msg)

	reason := code.String()
	if retryable && updated.Attempts >= updated.MaxAttempts {
		reason = "MAX_ATTEMPTS"
	}
	entry := dlq.NewEntry(updated, reason)
	if derr := e.dlq.Add(context.Background(), entry); derr != nil {
		log.Error("dead letter add failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   derr.Error(),
		})
	} else {
		log.DeadLettered(task.ID, entry.ID, reason)
	}

	log.TaskFailed(task.ID, updated.Attempts, msg)
	e.notifyWebhook(updated)
	e.indexTask(updated)
}

// scheduleRetry arms the backoff timer for a retrying task. During
// shutdown no timer is armed; the task stays in retrying.
func (e *Engine) scheduleRetry(taskID string, priority int, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping.Load() {
		return
	}
	e.timers[taskID] = time.AfterFunc(delay, func() {
		e.requeueFromRetry(taskID, priority)
	})
}

// requeueFromRetry moves a task whose backoff elapsed back to pending
// and re-enqueues it.
func (e *Engine) requeueFromRetry(taskID string, priority int) {
	e.mu.Lock()
	delete(e.timers, taskID)
	e.mu.Unlock()

	if e.stopping.Load() {
		return
	}

	_, err := e.store.Update(context.Background(), taskID, tasks.StatusRetrying, func(t *tasks.Task) error {
		t.Status = tasks.StatusPending
		return nil
	})
	if err != nil {
		// Cancelled during backoff.
		return
	}
	e.enqueue(taskID, priority)
}

// notifyWebhook fires the terminal notification when the task carries
// a webhook URL.
func (e *Engine) notifyWebhook(task *tasks.Task) {
	if task.WebhookURL == "" {
		return
	}
	e.webhooks.Notify(task.WebhookURL, webhook.PayloadFor(task))
}

// indexTask adds a terminal task to the search index.
func (e *Engine) indexTask(task *tasks.Task) {
	if e.search == nil {
		return
	}
	if err := e.search.IndexTask(task); err != nil {
		e.logger.Warn("search indexing failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	}
}
