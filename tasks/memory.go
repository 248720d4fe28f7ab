package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is an in-memory TaskStore for single-process deployments
// and tests. All tasks are deep-copied on the way in and out so callers
// can never mutate stored state directly.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
	}
}

// Create stores a new task.
func (s *MemoryStore) Create(ctx context.Context, task *Task) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if task == nil || task.ID == "" {
		return ErrInvalidTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrDuplicateID
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get retrieves a task by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task.Clone(), nil
}

// Update atomically applies the mutation under the store lock.
func (s *MemoryStore) Update(ctx context.Context, id string, expect TaskStatus, mutate Mutation) (*Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if expect != "" && cur.Status != expect {
		return nil, ErrConflict
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	// Immutable fields survive any mutation.
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	if !CanTransition(cur.Status, next.Status) {
		return nil, ErrInvalidTransition
	}

	next.UpdatedAt = time.Now().UTC()
	s.tasks[id] = next
	return next.Clone(), nil
}

// List returns matching tasks, paginated, plus the total match count.
func (s *MemoryStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Task, int, error) {
	if s.closed.Load() {
		return nil, 0, ErrStoreClosed
	}

	s.mu.RLock()
	var matches []*Task
	for _, task := range s.tasks {
		if filter.Matches(task) {
			matches = append(matches, task.Clone())
		}
	}
	s.mu.RUnlock()

	total := len(matches)
	filter.Sort(matches)

	if offset >= len(matches) {
		return []*Task{}, total, nil
	}
	matches = matches[offset:]
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, total, nil
}

// Count returns the number of tasks per status.
func (s *MemoryStore) Count(ctx context.Context) (map[TaskStatus]int, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	counts := make(map[TaskStatus]int, len(AllStatuses))
	for _, status := range AllStatuses {
		counts[status] = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// Delete removes a task.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

// Close marks the store closed. Subsequent operations return
// ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.closed.Swap(true)
	return nil
}

var _ TaskStore = (*MemoryStore)(nil)
