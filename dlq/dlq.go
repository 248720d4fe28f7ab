package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskkit/tasks"
)

// Common errors.
var (
	ErrNotFound     = errors.New("dead letter entry not found")
	ErrClosed       = errors.New("dead letter queue closed")
	ErrInvalidEntry = errors.New("invalid dead letter entry")
)

// Entry wraps a task that exhausted its retries or failed on a
// non-retryable error. Entries have their own identity: requeueing
// builds a brand-new task and deletes the entry, it never resurrects
// the failed task record.
type Entry struct {
	// ID uniquely identifies the entry, distinct from the task's ID.
	ID string `json:"id"`

	// Task is a copy of the failed task at the moment it was moved.
	Task *tasks.Task `json:"task"`

	// Reason describes why the task was dead-lettered.
	Reason string `json:"reason"`

	// MovedAt is when the task entered the queue.
	MovedAt time.Time `json:"moved_at"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		ID:      e.ID,
		Task:    e.Task.Clone(),
		Reason:  e.Reason,
		MovedAt: e.MovedAt,
	}
}

// NewEntry builds an entry for a failed task with a fresh ID.
func NewEntry(task *tasks.Task, reason string) *Entry {
	return &Entry{
		ID:      uuid.New().String(),
		Task:    task.Clone(),
		Reason:  reason,
		MovedAt: time.Now().UTC(),
	}
}

// Validate checks that an entry can be added.
func Validate(e *Entry) error {
	if e == nil || e.ID == "" || e.Task == nil || e.Task.ID == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Queue stores dead-lettered tasks for inspection, deletion, and requeue.
type Queue interface {
	// Add stores an entry.
	Add(ctx context.Context, entry *Entry) error

	// List returns entries newest-first. A positive limit caps the count.
	List(ctx context.Context, limit int) ([]*Entry, error)

	// Get retrieves an entry by its ID.
	// Returns ErrNotFound if the entry does not exist.
	Get(ctx context.Context, id string) (*Entry, error)

	// GetByTask retrieves the entry holding the given task.
	// Returns ErrNotFound if no entry holds it.
	GetByTask(ctx context.Context, taskID string) (*Entry, error)

	// Delete permanently removes an entry.
	// Returns ErrNotFound if the entry does not exist.
	Delete(ctx context.Context, id string) error

	// Take atomically retrieves and removes an entry, so two concurrent
	// requeues of the same entry cannot both succeed.
	// Returns ErrNotFound if the entry does not exist.
	Take(ctx context.Context, id string) (*Entry, error)

	// Size returns the number of entries.
	Size(ctx context.Context) (int, error)

	// Close shuts down the queue.
	Close() error
}
