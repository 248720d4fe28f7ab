package tasks

import (
	"context"
	"sort"
)

// Filter selects tasks in List calls. Zero-value fields match everything.
type Filter struct {
	// AgentType matches tasks for one work handler.
	AgentType string

	// Status matches one lifecycle state.
	Status TaskStatus

	// UserID matches one submitter.
	UserID string

	// ActiveOnly restricts to non-terminal tasks and switches ordering
	// to priority desc, created_at asc (dispatch order).
	ActiveOnly bool
}

// Matches reports whether the task passes the filter.
func (f Filter) Matches(t *Task) bool {
	if f.AgentType != "" && t.AgentType != f.AgentType {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.ActiveOnly && t.Status.IsTerminal() {
		return false
	}
	return true
}

// Sort orders tasks in place per the filter: created_at descending by
// default, dispatch order (priority desc, created_at asc) for ActiveOnly.
func (f Filter) Sort(list []*Task) {
	if f.ActiveOnly {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority > list[j].Priority
			}
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
		return
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// Mutation adjusts a task inside an Update call. It runs against a
// private copy; returning an error aborts the update without side
// effects.
type Mutation func(*Task) error

// TaskStore is the single source of truth for task records.
//
// Updates are optimistic-concurrency-checked on status: when expect is
// non-empty and the stored task's status differs, the update fails with
// ErrConflict so the caller can retry the read-modify-write. Status
// changes made by the mutation must follow the state machine or the
// update fails with ErrInvalidTransition.
type TaskStore interface {
	// Create stores a new task. Returns ErrDuplicateID if the id is
	// already taken.
	Create(ctx context.Context, task *Task) error

	// Get retrieves a task by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Task, error)

	// Update atomically applies the mutation and returns the updated
	// task. When expect is non-empty the stored status must match it.
	Update(ctx context.Context, id string, expect TaskStatus, mutate Mutation) (*Task, error)

	// List returns tasks matching the filter, paginated, along with the
	// total match count before pagination.
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Task, int, error)

	// Count returns the number of tasks per status.
	Count(ctx context.Context) (map[TaskStatus]int, error)

	// Delete removes a task. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Close releases resources held by the store.
	Close() error
}
