package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryIndex implements Index using in-memory storage.
// Useful for testing and single-process deployments.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]*reservation
	ttl     time.Duration
	closed  atomic.Bool

	// For TTL cleanup
	cleanupTicker *time.Ticker
	done          chan struct{}
}

type reservation struct {
	taskID  string
	expires time.Time
}

// NewMemoryIndex creates a new in-memory idempotency index.
// A non-positive ttl falls back to DefaultTTL.
func NewMemoryIndex(ttl time.Duration) *MemoryIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	idx := &MemoryIndex{
		entries:       make(map[string]*reservation),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(time.Minute),
		done:          make(chan struct{}),
	}
	go idx.cleanupLoop()
	return idx
}

// cleanupLoop removes expired reservations periodically.
func (idx *MemoryIndex) cleanupLoop() {
	for {
		select {
		case <-idx.cleanupTicker.C:
			idx.cleanupExpired()
		case <-idx.done:
			return
		}
	}
}

func (idx *MemoryIndex) cleanupExpired() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := time.Now()
	for key, r := range idx.entries {
		if now.After(r.expires) {
			delete(idx.entries, key)
		}
	}
}

func compositeKey(namespace, key string) string {
	return namespace + ":" + key
}

// Reserve binds key to taskID within namespace unless a live binding exists.
func (idx *MemoryIndex) Reserve(ctx context.Context, namespace, key, taskID string) (string, bool, error) {
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	if idx.closed.Load() {
		return "", false, ErrClosed
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	ck := compositeKey(namespace, key)
	now := time.Now()
	if existing, ok := idx.entries[ck]; ok && now.Before(existing.expires) {
		return existing.taskID, false, nil
	}

	idx.entries[ck] = &reservation{
		taskID:  taskID,
		expires: now.Add(idx.ttl),
	}
	return taskID, true, nil
}

// Invalidate drops the binding for key.
func (idx *MemoryIndex) Invalidate(ctx context.Context, namespace, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if idx.closed.Load() {
		return ErrClosed
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.entries, compositeKey(namespace, key))
	return nil
}

// Close shuts down the index.
func (idx *MemoryIndex) Close() error {
	if idx.closed.Swap(true) {
		return nil
	}

	close(idx.done)
	idx.cleanupTicker.Stop()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil

	return nil
}

var _ Index = (*MemoryIndex)(nil)
