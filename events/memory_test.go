package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Event and Kind Tests
// =============================================================================

func TestKind_Valid(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindProgress, true},
		{KindComplete, true},
		{KindError, true},
		{"invalid", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := tc.kind.Valid(); got != tc.want {
			t.Errorf("Kind(%q).Valid() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestEvent_Clone(t *testing.T) {
	var nilEvent *Event
	if nilEvent.Clone() != nil {
		t.Error("nil.Clone() should return nil")
	}

	original := Progress("task-1", 40, "render", "rendering charts")
	original.Sequence = 3
	clone := original.Clone()

	if clone.TaskID != original.TaskID || clone.Sequence != original.Sequence {
		t.Error("clone fields mismatch")
	}
	clone.Percent = 99
	if original.Percent == 99 {
		t.Error("clone should not share memory with original")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); err != ErrInvalidEvent {
		t.Errorf("expected ErrInvalidEvent for nil, got %v", err)
	}
	if err := Validate(&Event{Kind: KindProgress}); err != ErrInvalidEvent {
		t.Errorf("expected ErrInvalidEvent for missing task ID, got %v", err)
	}
	if err := Validate(&Event{TaskID: "t", Kind: "bogus"}); err != ErrInvalidEvent {
		t.Errorf("expected ErrInvalidEvent for unknown kind, got %v", err)
	}
	if err := Validate(Progress("t", 0, "", "")); err != nil {
		t.Errorf("expected nil for valid event, got %v", err)
	}
}

// =============================================================================
// Append / Snapshot / Since Tests
// =============================================================================

func TestMemoryBroker_AppendAssignsSequence(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		stored, err := b.Append(ctx, Progress("task-1", i*10, "step", ""))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if stored.Sequence != uint64(i) {
			t.Errorf("expected sequence %d, got %d", i, stored.Sequence)
		}
		if stored.Timestamp.IsZero() {
			t.Error("expected timestamp to be assigned")
		}
	}

	// Sequences are per task
	stored, _ := b.Append(ctx, Progress("task-2", 10, "step", ""))
	if stored.Sequence != 1 {
		t.Errorf("expected sequence 1 for a new task, got %d", stored.Sequence)
	}
}

func TestMemoryBroker_CompleteSealsLog(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	b.Append(ctx, Progress("task-1", 50, "work", ""))
	if _, err := b.Append(ctx, Complete("task-1", "completed", "")); err != nil {
		t.Fatalf("Append complete failed: %v", err)
	}

	if _, err := b.Append(ctx, Progress("task-1", 99, "late", "")); err != ErrSealed {
		t.Errorf("expected ErrSealed after complete, got %v", err)
	}

	// The complete event is the last entry
	snap, _ := b.Snapshot(ctx, "task-1", 0)
	if len(snap) != 2 {
		t.Fatalf("expected 2 events, got %d", len(snap))
	}
	if snap[len(snap)-1].Kind != KindComplete {
		t.Error("expected complete event to be last")
	}
}

func TestMemoryBroker_Snapshot(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		b.Append(ctx, Progress("task-1", i*10, fmt.Sprintf("step-%d", i), ""))
	}

	all, err := b.Snapshot(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	for i, e := range all {
		if e.Sequence != uint64(i+1) {
			t.Errorf("expected ascending sequence at %d, got %d", i, e.Sequence)
		}
	}

	// Limit keeps the most recent events, still ordered
	tail, _ := b.Snapshot(ctx, "task-1", 2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 events, got %d", len(tail))
	}
	if tail[0].Sequence != 4 || tail[1].Sequence != 5 {
		t.Errorf("expected sequences 4,5, got %d,%d", tail[0].Sequence, tail[1].Sequence)
	}

	// Unknown task yields an empty slice, not an error
	empty, err := b.Snapshot(ctx, "unknown", 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty snapshot for unknown task, got %d events, err %v", len(empty), err)
	}
}

func TestMemoryBroker_Since(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		b.Append(ctx, Progress("task-1", i*10, "step", ""))
	}

	since, err := b.Since(ctx, "task-1", 2)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 events after seq 2, got %d", len(since))
	}
	if since[0].Sequence != 3 || since[1].Sequence != 4 {
		t.Errorf("expected sequences 3,4, got %d,%d", since[0].Sequence, since[1].Sequence)
	}

	// Caught up
	none, _ := b.Since(ctx, "task-1", 4)
	if len(none) != 0 {
		t.Errorf("expected no events past the end, got %d", len(none))
	}

	// Past the end
	none, _ = b.Since(ctx, "task-1", 99)
	if len(none) != 0 {
		t.Errorf("expected no events past seq 99, got %d", len(none))
	}
}

func TestMemoryBroker_SnapshotIsolation(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	b.Append(ctx, Progress("task-1", 10, "step", "original"))
	snap, _ := b.Snapshot(ctx, "task-1", 0)
	snap[0].Message = "mutated"

	again, _ := b.Snapshot(ctx, "task-1", 0)
	if again[0].Message != "original" {
		t.Error("expected snapshot mutation to not reach the log")
	}
}

// =============================================================================
// Subscription Tests
// =============================================================================

func collectUntilClosed(t *testing.T, sub Subscription, within time.Duration) []*Event {
	t.Helper()
	var got []*Event
	timeout := time.After(within)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timeout waiting for subscription to close (got %d events)", len(got))
		}
	}
}

func TestMemoryBroker_SubscribeOrdered(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "task-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	const n = 50
	go func() {
		for i := 1; i < n; i++ {
			b.Append(ctx, Progress("task-1", i, "step", ""))
		}
		b.Append(ctx, Complete("task-1", "completed", ""))
	}()

	got := collectUntilClosed(t, sub, 2*time.Second)
	if len(got) != n {
		t.Fatalf("expected %d events, got %d", n, len(got))
	}
	for i, e := range got {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("expected gap-free ascending sequences, got %d at index %d", e.Sequence, i)
		}
	}
	if got[n-1].Kind != KindComplete {
		t.Error("expected the stream to end with the complete event")
	}
}

func TestMemoryBroker_SubscribeClosesOnSeal(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "task-1")
	b.Append(ctx, Complete("task-1", "cancelled", ""))

	got := collectUntilClosed(t, sub, time.Second)
	if len(got) != 1 || got[0].Kind != KindComplete {
		t.Fatalf("expected exactly one complete event, got %d", len(got))
	}
}

func TestMemoryBroker_SubscribeAfterSeal(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	b.Append(ctx, Complete("task-1", "completed", ""))

	sub, err := b.Subscribe(ctx, "task-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := collectUntilClosed(t, sub, time.Second)
	if len(got) != 0 {
		t.Errorf("expected already-sealed subscription to close empty, got %d events", len(got))
	}
}

func TestMemoryBroker_SubscribeCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "task-1")
	if err := sub.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	// Double cancel is safe
	if err := sub.Cancel(); err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}

	got := collectUntilClosed(t, sub, time.Second)
	if len(got) != 0 {
		t.Errorf("expected no events after cancel, got %d", len(got))
	}

	// Appends still succeed without the subscriber
	if _, err := b.Append(ctx, Progress("task-1", 10, "step", "")); err != nil {
		t.Errorf("Append after cancel failed: %v", err)
	}
}

func TestMemoryBroker_SubscribeContextCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := b.Subscribe(ctx, "task-1")
	cancel()

	collectUntilClosed(t, sub, time.Second)
}

func TestMemoryBroker_SlowSubscriberLosesNothing(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "task-1")

	// Push far more events than the delivery channel buffers before
	// reading anything.
	const n = 500
	for i := 1; i < n; i++ {
		if _, err := b.Append(ctx, Progress("task-1", i%100, "step", "")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	b.Append(ctx, Complete("task-1", "completed", ""))

	got := collectUntilClosed(t, sub, 5*time.Second)
	if len(got) != n {
		t.Fatalf("expected %d events with no drops, got %d", n, len(got))
	}
	for i, e := range got {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("expected gap-free sequence at %d, got %d", i, e.Sequence)
		}
	}
}

func TestMemoryBroker_MultipleSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	const subscribers = 4
	subs := make([]Subscription, subscribers)
	for i := range subs {
		s, err := b.Subscribe(ctx, "task-1")
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		subs[i] = s
	}

	go func() {
		for i := 1; i <= 10; i++ {
			b.Append(ctx, Progress("task-1", i*10, "step", ""))
		}
		b.Append(ctx, Complete("task-1", "completed", ""))
	}()

	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(n int, sub Subscription) {
			defer wg.Done()
			got := collectUntilClosed(t, sub, 2*time.Second)
			if len(got) != 11 {
				t.Errorf("subscriber %d: expected 11 events, got %d", n, len(got))
			}
		}(i, s)
	}
	wg.Wait()
}

// =============================================================================
// Purge / Close Tests
// =============================================================================

func TestMemoryBroker_Purge(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	b.Append(ctx, Progress("task-1", 10, "step", ""))
	sub, _ := b.Subscribe(ctx, "task-1")

	if err := b.Purge(ctx, "task-1"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	collectUntilClosed(t, sub, time.Second)

	snap, _ := b.Snapshot(ctx, "task-1", 0)
	if len(snap) != 0 {
		t.Errorf("expected empty log after purge, got %d events", len(snap))
	}

	// The log restarts from sequence 1
	stored, _ := b.Append(ctx, Progress("task-1", 10, "step", ""))
	if stored.Sequence != 1 {
		t.Errorf("expected sequence 1 after purge, got %d", stored.Sequence)
	}
}

func TestMemoryBroker_PurgeUnsealsCompletedLog(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	b.Append(ctx, Complete("task-1", "completed", ""))
	b.Purge(ctx, "task-1")

	if _, err := b.Append(ctx, Progress("task-1", 10, "step", "")); err != nil {
		t.Errorf("expected purged log to accept appends, got %v", err)
	}
}

func TestMemoryBroker_Close(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "task-1")

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Double close should be safe
	if err := b.Close(); err != nil {
		t.Errorf("double close should not error, got %v", err)
	}

	collectUntilClosed(t, sub, time.Second)

	if _, err := b.Append(ctx, Progress("task-1", 10, "step", "")); err != ErrClosed {
		t.Errorf("expected ErrClosed on Append, got %v", err)
	}
	if _, err := b.Snapshot(ctx, "task-1", 0); err != ErrClosed {
		t.Errorf("expected ErrClosed on Snapshot, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "task-1"); err != ErrClosed {
		t.Errorf("expected ErrClosed on Subscribe, got %v", err)
	}
}

func TestMemoryBroker_AppendValidation(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	if _, err := b.Append(ctx, nil); err != ErrInvalidEvent {
		t.Errorf("expected ErrInvalidEvent for nil, got %v", err)
	}
	if _, err := b.Append(ctx, &Event{Kind: KindProgress}); err != ErrInvalidEvent {
		t.Errorf("expected ErrInvalidEvent for missing task ID, got %v", err)
	}
}
