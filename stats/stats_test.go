package stats

import (
	"context"
	"testing"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/tasks"
)

func seedStore(t *testing.T, store tasks.TaskStore) {
	t.Helper()
	ctx := context.Background()

	specs := []struct {
		id     string
		status tasks.TaskStatus
	}{
		{"t-1", tasks.StatusPending},
		{"t-2", tasks.StatusPending},
		{"t-3", tasks.StatusRunning},
		{"t-4", tasks.StatusCompleted},
		{"t-5", tasks.StatusFailed},
	}
	for _, s := range specs {
		task := tasks.FromSpec(s.id, tasks.Spec{AgentType: "summarizer"}, 3)
		task.Status = s.status
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create(%s) error: %v", s.id, err)
		}
	}
}

func TestNewCollectorRequiresStore(t *testing.T) {
	_, err := NewCollector(Config{})
	if err != ErrNoStore {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}

func TestStatsCountsFromStore(t *testing.T) {
	store := tasks.NewMemoryStore()
	defer store.Close()
	seedStore(t, store)

	c, err := NewCollector(Config{Store: store})
	if err != nil {
		t.Fatalf("NewCollector error: %v", err)
	}

	snap, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}

	if snap.Pending != 2 {
		t.Errorf("Pending = %d, want 2", snap.Pending)
	}
	if snap.Running != 1 {
		t.Errorf("Running = %d, want 1", snap.Running)
	}
	if snap.Completed != 1 {
		t.Errorf("Completed = %d, want 1", snap.Completed)
	}
	if snap.Failed != 1 {
		t.Errorf("Failed = %d, want 1", snap.Failed)
	}
	if snap.Total != 5 {
		t.Errorf("Total = %d, want 5", snap.Total)
	}
	if snap.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
}

func TestStatsReflectsStoreChanges(t *testing.T) {
	store := tasks.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	c, _ := NewCollector(Config{Store: store})

	snap, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if snap.Total != 0 {
		t.Errorf("Total = %d on empty store, want 0", snap.Total)
	}

	task := tasks.FromSpec("t-1", tasks.Spec{AgentType: "summarizer"}, 3)
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	snap, err = c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if snap.Pending != 1 || snap.Total != 1 {
		t.Errorf("(Pending, Total) = (%d, %d) after create, want (1, 1)", snap.Pending, snap.Total)
	}
}

func TestStatsGauges(t *testing.T) {
	store := tasks.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	queue := dlq.NewMemoryQueue()
	defer queue.Close()
	failed := tasks.FromSpec("t-9", tasks.Spec{AgentType: "summarizer"}, 3)
	failed.Status = tasks.StatusFailed
	if err := queue.Add(ctx, dlq.NewEntry(failed, "MAX_ATTEMPTS")); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	tracker := heartbeat.NewTracker(heartbeat.TrackerConfig{})
	tracker.Beat("worker-1", heartbeat.StateBusy, "t-3")
	tracker.Beat("worker-2", heartbeat.StateIdle, "")
	tracker.Beat("worker-3", heartbeat.StateIdle, "")

	c, err := NewCollector(Config{
		Store:      store,
		DLQ:        queue,
		Tracker:    tracker,
		QueueDepth: func() int { return 7 },
	})
	if err != nil {
		t.Fatalf("NewCollector error: %v", err)
	}

	snap, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}

	if snap.DLQSize != 1 {
		t.Errorf("DLQSize = %d, want 1", snap.DLQSize)
	}
	if snap.WorkersBusy != 1 {
		t.Errorf("WorkersBusy = %d, want 1", snap.WorkersBusy)
	}
	if snap.WorkersIdle != 2 {
		t.Errorf("WorkersIdle = %d, want 2", snap.WorkersIdle)
	}
	if snap.QueueDepth != 7 {
		t.Errorf("QueueDepth = %d, want 7", snap.QueueDepth)
	}
}
