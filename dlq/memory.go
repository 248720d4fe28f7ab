package dlq

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryQueue implements Queue using in-memory storage.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	byTask  map[string]string // task ID -> entry ID
	closed  atomic.Bool
}

// NewMemoryQueue creates a new in-memory dead letter queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]*Entry),
		byTask:  make(map[string]string),
	}
}

// Add stores an entry.
func (q *MemoryQueue) Add(ctx context.Context, entry *Entry) error {
	if err := Validate(entry); err != nil {
		return err
	}
	if q.closed.Load() {
		return ErrClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := entry.Clone()
	q.entries[stored.ID] = stored
	q.byTask[stored.Task.ID] = stored.ID
	return nil
}

// List returns entries newest-first.
func (q *MemoryQueue) List(ctx context.Context, limit int) ([]*Entry, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	list := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		list = append(list, e.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].MovedAt.After(list[j].MovedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Get retrieves an entry by its ID.
func (q *MemoryQueue) Get(ctx context.Context, id string) (*Entry, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// GetByTask retrieves the entry holding the given task.
func (q *MemoryQueue) GetByTask(ctx context.Context, taskID string) (*Entry, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	id, ok := q.byTask[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return q.entries[id].Clone(), nil
}

// Delete permanently removes an entry.
func (q *MemoryQueue) Delete(ctx context.Context, id string) error {
	if q.closed.Load() {
		return ErrClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	delete(q.entries, id)
	delete(q.byTask, e.Task.ID)
	return nil
}

// Take atomically retrieves and removes an entry.
func (q *MemoryQueue) Take(ctx context.Context, id string) (*Entry, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(q.entries, id)
	delete(q.byTask, e.Task.ID)
	return e, nil
}

// Size returns the number of entries.
func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries), nil
}

// Close shuts down the queue.
func (q *MemoryQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.byTask = nil
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
