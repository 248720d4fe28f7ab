package engine

import (
	"context"
	"time"

	"github.com/vinayprograms/taskkit/events"
	"github.com/vinayprograms/taskkit/tasks"
)

// sweepPageSize is how many tasks the janitor examines per store read.
const sweepPageSize = 100

// runJanitor periodically deletes terminal tasks older than the
// retention window, along with their event logs, idempotency bindings,
// search documents and dead letter entries.
func (e *Engine) runJanitor() {
	defer e.bgWg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.rootCtx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	cutoff := time.Now().UTC().Add(-e.retention)
	removed := 0

	for _, status := range []tasks.TaskStatus{tasks.StatusCompleted, tasks.StatusFailed, tasks.StatusCancelled} {
		removed += e.sweepStatus(status, cutoff)
	}

	if removed > 0 {
		e.logger.Info("retention sweep removed tasks", map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
	}
}

// sweepStatus pages through one terminal status deleting expired
// tasks. Deletions shift later pages left, so the offset advances only
// past survivors; anything skipped is caught on the next sweep.
func (e *Engine) sweepStatus(status tasks.TaskStatus, cutoff time.Time) int {
	removed := 0
	offset := 0

	for {
		page, _, err := e.store.List(e.rootCtx, tasks.Filter{Status: status}, sweepPageSize, offset)
		if err != nil || len(page) == 0 {
			return removed
		}

		kept := 0
		for _, task := range page {
			if task.CompletedAt == nil || task.CompletedAt.After(cutoff) {
				kept++
				continue
			}
			if e.removeTask(e.rootCtx, task) {
				removed++
			} else {
				kept++
			}
		}

		if len(page) < sweepPageSize {
			return removed
		}
		offset += kept
	}
}

// removeTask deletes one task and everything keyed by it.
func (e *Engine) removeTask(ctx context.Context, task *tasks.Task) bool {
	if err := e.store.Delete(ctx, task.ID); err != nil {
		if err != tasks.ErrNotFound {
			e.logger.Warn("retention delete failed", map[string]interface{}{
				"task_id": task.ID,
				"error":   err.Error(),
			})
		}
		return false
	}

	if err := e.events.Purge(ctx, task.ID); err != nil && err != events.ErrClosed {
		e.logger.Warn("event log purge failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	}

	if task.IdempotencyKey != "" {
		e.idem.Invalidate(ctx, task.AgentType, task.IdempotencyKey)
	}

	if e.search != nil {
		e.search.Remove(task.ID)
	}

	if entry, err := e.dlq.GetByTask(ctx, task.ID); err == nil {
		e.dlq.Delete(ctx, entry.ID)
	}

	return true
}
