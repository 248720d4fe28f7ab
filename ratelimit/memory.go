package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket implements a token bucket rate limiter.
type bucket struct {
	capacity   int             // maximum tokens
	available  int             // current tokens
	window     time.Duration   // refill window
	lastRefill time.Time       // last refill time
	inFlight   int             // requests in progress
	cond       *sync.Cond      // condition variable for waiting
}

// refill adds tokens based on elapsed time since last refill.
// Returns true if tokens were added.
func (b *bucket) refill(now time.Time) bool {
	if b.window == 0 || b.capacity == 0 {
		return false
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return false
	}

	// rate = capacity / window
	tokensToAdd := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if tokensToAdd > 0 {
		b.available += tokensToAdd
		if b.available > b.capacity {
			b.available = b.capacity
		}
		b.lastRefill = now
		return true
	}
	return false
}

// MemoryLimiter provides per-process rate limiting using token buckets.
// It is safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time // for testing
}

// NewMemoryLimiter creates a new in-memory rate limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// SetCapacity configures the rate limit for a key.
func (m *MemoryLimiter) SetCapacity(key string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if capacity <= 0 || window <= 0 {
		delete(m.buckets, key)
		return
	}

	now := m.nowFunc()
	if b, exists := m.buckets[key]; exists {
		b.capacity = capacity
		b.window = window
		if b.available > capacity {
			b.available = capacity
		}
	} else {
		m.buckets[key] = &bucket{
			capacity:   capacity,
			available:  capacity, // start full
			window:     window,
			lastRefill: now,
		}
	}
}

// GetCapacity returns the current capacity info for a key.
func (m *MemoryLimiter) GetCapacity(key string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[key]
	if !exists {
		return nil
	}

	b.refill(m.nowFunc())

	return &Capacity{
		Key:       key,
		Available: b.available,
		Total:     b.capacity,
		Window:    b.window,
		InFlight:  b.inFlight,
	}
}

// RetryAfter estimates how long until the key's next token arrives.
func (m *MemoryLimiter) RetryAfter(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[key]
	if !exists {
		return 0
	}

	now := m.nowFunc()
	b.refill(now)
	if b.available > 0 {
		return 0
	}

	// One token arrives every window/capacity.
	perToken := b.window / time.Duration(b.capacity)
	next := b.lastRefill.Add(perToken)
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Acquire blocks until a token is available for the key.
func (m *MemoryLimiter) Acquire(ctx context.Context, key string) error {
	// Fast path: try to acquire immediately
	if m.TryAcquire(key) {
		return nil
	}

	// Wake the cond loop when the context ends
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if b, exists := m.buckets[key]; exists && b.cond != nil {
				b.cond.Broadcast()
			}
			m.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	b, exists := m.buckets[key]
	if !exists {
		return ErrUnknownKey
	}

	if b.cond == nil {
		b.cond = sync.NewCond(&m.mu)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if m.closed {
			return ErrClosed
		}

		b, exists = m.buckets[key]
		if !exists {
			return ErrUnknownKey
		}

		b.refill(m.nowFunc())
		if b.available > 0 {
			b.available--
			b.inFlight++
			return nil
		}

		// Wait for signal (release or refill)
		// Use a short timeout to allow for refills and context checks
		go func() {
			time.Sleep(50 * time.Millisecond)
			m.mu.Lock()
			if b.cond != nil {
				b.cond.Broadcast()
			}
			m.mu.Unlock()
		}()
		b.cond.Wait()
	}
}

// TryAcquire attempts to acquire a token without blocking.
func (m *MemoryLimiter) TryAcquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	b, exists := m.buckets[key]
	if !exists {
		return false
	}

	b.refill(m.nowFunc())

	if b.available > 0 {
		b.available--
		b.inFlight++
		return true
	}

	return false
}

// Release returns a token to the key's bucket.
func (m *MemoryLimiter) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	b, exists := m.buckets[key]
	if !exists {
		return
	}

	if b.inFlight > 0 {
		b.inFlight--
	}

	// Return a token immediately so semaphore-style callers don't wait
	// for the time-based refill
	if b.available < b.capacity {
		b.available++
	}

	if b.cond != nil {
		b.cond.Signal()
	}
}

// Close shuts down the limiter.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.closed = true

	// Wake up all waiters so they can exit
	for _, b := range m.buckets {
		if b.cond != nil {
			b.cond.Broadcast()
		}
	}

	return nil
}

// Ensure MemoryLimiter implements Limiter.
var _ Limiter = (*MemoryLimiter)(nil)
