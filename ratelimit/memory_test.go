package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiter_SetCapacity(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 10, time.Minute)

	cap := limiter.GetCapacity("key-1")
	if cap == nil {
		t.Fatal("expected capacity, got nil")
	}
	if cap.Total != 10 {
		t.Errorf("expected capacity 10, got %d", cap.Total)
	}
	if cap.Available != 10 {
		t.Errorf("expected available 10, got %d", cap.Available)
	}
	if cap.Window != time.Minute {
		t.Errorf("expected window 1m, got %v", cap.Window)
	}
}

func TestMemoryLimiter_SetCapacityZeroRemoves(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 10, time.Minute)
	limiter.SetCapacity("key-1", 0, time.Minute)

	if cap := limiter.GetCapacity("key-1"); cap != nil {
		t.Errorf("expected nil capacity after removal, got %+v", cap)
	}
}

func TestMemoryLimiter_TryAcquire(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 3, time.Minute)

	// Should acquire 3 tokens
	for i := 0; i < 3; i++ {
		if !limiter.TryAcquire("key-1") {
			t.Errorf("expected TryAcquire to succeed on attempt %d", i+1)
		}
	}

	// 4th should fail
	if limiter.TryAcquire("key-1") {
		t.Error("expected TryAcquire to fail after exhausting capacity")
	}

	cap := limiter.GetCapacity("key-1")
	if cap.Available != 0 {
		t.Errorf("expected available 0, got %d", cap.Available)
	}
	if cap.InFlight != 3 {
		t.Errorf("expected inFlight 3, got %d", cap.InFlight)
	}
}

func TestMemoryLimiter_TryAcquireUnknownKey(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	if limiter.TryAcquire("nope") {
		t.Error("expected TryAcquire to fail for unknown key")
	}
}

func TestMemoryLimiter_Release(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 2, time.Minute)

	limiter.TryAcquire("key-1")
	limiter.TryAcquire("key-1")

	cap := limiter.GetCapacity("key-1")
	if cap.InFlight != 2 {
		t.Errorf("expected inFlight 2, got %d", cap.InFlight)
	}

	limiter.Release("key-1")

	cap = limiter.GetCapacity("key-1")
	if cap.InFlight != 1 {
		t.Errorf("expected inFlight 1, got %d", cap.InFlight)
	}
	if cap.Available != 1 {
		t.Errorf("expected available 1 after release, got %d", cap.Available)
	}
}

func TestMemoryLimiter_RetryAfter(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 60, time.Minute)

	// Tokens available: no wait.
	if wait := limiter.RetryAfter("key-1"); wait != 0 {
		t.Errorf("expected zero wait with tokens available, got %v", wait)
	}

	// Drain the bucket.
	for limiter.TryAcquire("key-1") {
	}

	// 60 per minute means one token per second.
	wait := limiter.RetryAfter("key-1")
	if wait <= 0 || wait > time.Second {
		t.Errorf("expected wait in (0, 1s], got %v", wait)
	}

	// Unknown keys report zero.
	if wait := limiter.RetryAfter("nope"); wait != 0 {
		t.Errorf("expected zero wait for unknown key, got %v", wait)
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	now := time.Now()
	limiter.nowFunc = func() time.Time { return now }

	limiter.SetCapacity("key-1", 10, time.Second)

	// Drain.
	for i := 0; i < 10; i++ {
		if !limiter.TryAcquire("key-1") {
			t.Fatalf("expected acquire %d to succeed", i+1)
		}
	}
	if limiter.TryAcquire("key-1") {
		t.Fatal("expected acquire to fail when drained")
	}

	// Half a window refills half the bucket.
	now = now.Add(500 * time.Millisecond)
	cap := limiter.GetCapacity("key-1")
	if cap.Available != 5 {
		t.Errorf("expected available 5 after half window, got %d", cap.Available)
	}

	// A full window caps at capacity.
	now = now.Add(5 * time.Second)
	cap = limiter.GetCapacity("key-1")
	if cap.Available != 10 {
		t.Errorf("expected available 10 after full window, got %d", cap.Available)
	}
}

func TestMemoryLimiter_Acquire_Blocking(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 1, time.Minute)

	// Acquire the only token
	if err := limiter.Acquire(context.Background(), "key-1"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// Try to acquire with timeout - should fail
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx, "key-1")
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestMemoryLimiter_Acquire_WaitsForRelease(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 1, time.Minute)

	if !limiter.TryAcquire("key-1") {
		t.Fatal("expected first TryAcquire to succeed")
	}

	var wg sync.WaitGroup
	acquired := make(chan bool, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := limiter.Acquire(ctx, "key-1"); err == nil {
			acquired <- true
		} else {
			acquired <- false
		}
	}()

	// Release after a short delay
	time.Sleep(50 * time.Millisecond)
	limiter.Release("key-1")

	wg.Wait()
	if !<-acquired {
		t.Error("expected blocked Acquire to succeed after Release")
	}
}

func TestMemoryLimiter_Acquire_UnknownKey(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	err := limiter.Acquire(context.Background(), "nope")
	if err != ErrUnknownKey {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter()

	limiter.SetCapacity("key-1", 1, time.Minute)
	limiter.TryAcquire("key-1")

	// A blocked Acquire exits with ErrClosed when the limiter closes.
	errCh := make(chan error, 1)
	go func() {
		errCh <- limiter.Acquire(context.Background(), "key-1")
	}()

	time.Sleep(50 * time.Millisecond)
	if err := limiter.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed from blocked Acquire, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for blocked Acquire to exit")
	}

	if err := limiter.Close(); err != ErrClosed {
		t.Errorf("expected ErrClosed on double close, got %v", err)
	}
}

func TestMemoryLimiter_ConcurrentAcquire(t *testing.T) {
	limiter := NewMemoryLimiter()
	defer limiter.Close()

	limiter.SetCapacity("key-1", 100, time.Hour)

	var wg sync.WaitGroup
	results := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- limiter.TryAcquire("key-1")
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	if won != 100 {
		t.Errorf("expected exactly 100 acquisitions, got %d", won)
	}
}
