package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdown_RunsRegisteredSteps(t *testing.T) {
	coord := New(Config{})

	var called int32
	coord.RegisterFunc("first", func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	coord.RegisterFunc("second", func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := atomic.LoadInt32(&called); n != 2 {
		t.Fatalf("steps called = %d, want 2", n)
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("Done() not closed after shutdown")
	}
	if coord.Err() != nil {
		t.Fatalf("Err() = %v, want nil", coord.Err())
	}

	result := coord.Result()
	if result == nil {
		t.Fatal("Result() = nil after shutdown")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("steps recorded = %d, want 2", len(result.Steps))
	}
	if result.Failed() {
		t.Fatal("Failed() = true, want false")
	}
}

func TestShutdown_PhaseOrder(t *testing.T) {
	coord := New(Config{})

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	// Registered out of order on purpose.
	coord.RegisterFuncPhase("backends", record("backends"), PhaseBackends)
	coord.RegisterFuncPhase("server", record("server"), PhaseServer)
	coord.RegisterFuncPhase("engine", record("engine"), PhaseEngine)
	coord.RegisterFunc("leftover", record("leftover"))

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"server", "engine", "backends", "leftover"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShutdown_SamePhaseConcurrent(t *testing.T) {
	coord := New(Config{})

	var active, overlapped int32
	handler := func(ctx context.Context) error {
		if atomic.AddInt32(&active, 1) == 2 {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}
	coord.RegisterFuncPhase("a", handler, PhaseBackends)
	coord.RegisterFuncPhase("b", handler, PhaseBackends)

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if atomic.LoadInt32(&overlapped) != 1 {
		t.Fatal("same-phase steps did not run concurrently")
	}
}

func TestShutdown_StepFailureAggregates(t *testing.T) {
	coord := New(Config{})

	boom := errors.New("flush failed")
	coord.RegisterFuncPhase("broken", func(ctx context.Context) error { return boom }, PhaseServer)

	var ran bool
	coord.RegisterFuncPhase("later", func(ctx context.Context) error {
		ran = true
		return nil
	}, PhaseEngine)

	err := coord.ShutdownWithTimeout(5 * time.Second)
	if err != ErrStepFailed {
		t.Fatalf("Shutdown() error = %v, want ErrStepFailed", err)
	}
	if !ran {
		t.Fatal("later phase skipped, want it to run by default")
	}

	result := coord.Result()
	if !result.Failed() {
		t.Fatal("Failed() = false, want true")
	}
	failed := result.FailedSteps()
	if len(failed) != 1 || failed[0] != "broken" {
		t.Fatalf("FailedSteps() = %v, want [broken]", failed)
	}
}

func TestShutdown_StopOnError(t *testing.T) {
	coord := New(Config{StopOnError: true})

	coord.RegisterFuncPhase("broken", func(ctx context.Context) error {
		return errors.New("boom")
	}, PhaseServer)

	var ran bool
	coord.RegisterFuncPhase("later", func(ctx context.Context) error {
		ran = true
		return nil
	}, PhaseEngine)

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != ErrStepFailed {
		t.Fatalf("Shutdown() error = %v, want ErrStepFailed", err)
	}
	if ran {
		t.Fatal("later phase ran despite StopOnError")
	}
}

func TestShutdown_TimeoutSkipsRemainingPhases(t *testing.T) {
	coord := New(Config{})

	coord.RegisterFuncPhase("slow", func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}, PhaseServer)

	var ran bool
	coord.RegisterFuncPhase("later", func(ctx context.Context) error {
		ran = true
		return nil
	}, PhaseEngine)

	if err := coord.ShutdownWithTimeout(50 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("Shutdown() error = %v, want ErrTimeout", err)
	}
	if ran {
		t.Fatal("later phase ran after the deadline")
	}
}

func TestShutdown_SecondCallReturnsFirstOutcome(t *testing.T) {
	coord := New(Config{})

	var calls int32
	coord.RegisterFunc("once", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	first := coord.ShutdownWithTimeout(5 * time.Second)
	second := coord.ShutdownWithTimeout(5 * time.Second)

	if first != ErrStepFailed || second != ErrStepFailed {
		t.Fatalf("errors = %v, %v, want ErrStepFailed both times", first, second)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("step ran %d times, want 1", n)
	}
}

func TestCoordinator_BeforeShutdown(t *testing.T) {
	coord := New(Config{})

	if coord.Err() != nil {
		t.Fatalf("Err() = %v before shutdown, want nil", coord.Err())
	}
	if coord.Result() != nil {
		t.Fatal("Result() non-nil before shutdown")
	}
	select {
	case <-coord.Done():
		t.Fatal("Done() closed before shutdown")
	default:
	}
}

func TestHandleSignals_Trigger(t *testing.T) {
	coord := New(Config{Timeout: 5 * time.Second})

	var called int32
	coord.RegisterFunc("step", func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	coord.HandleSignals()
	coord.Trigger()

	select {
	case <-coord.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for triggered shutdown")
	}
	if atomic.LoadInt32(&called) != 1 {
		t.Fatal("step did not run on trigger")
	}
}

func TestShutdown_OnStepCallback(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	coord := New(Config{
		OnStep: func(s Step) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, s.Name)
		},
	})
	coord.RegisterFuncPhase("server", func(ctx context.Context) error { return nil }, PhaseServer)
	coord.RegisterFuncPhase("engine", func(ctx context.Context) error { return nil }, PhaseEngine)

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("OnStep calls = %v, want 2", seen)
	}
}
