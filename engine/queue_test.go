package engine

import (
	"testing"
	"time"
)

func TestReadyQueue_PriorityOrder(t *testing.T) {
	q := newReadyQueue()
	now := time.Now()

	q.Enqueue("low", 0, now)
	q.Enqueue("high", 10, now.Add(time.Millisecond))
	q.Enqueue("mid", 5, now.Add(2*time.Millisecond))

	want := []string{"high", "mid", "low"}
	for _, expected := range want {
		id, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() returned no item, want %s", expected)
		}
		if id != expected {
			t.Errorf("Dequeue() = %s, want %s", id, expected)
		}
	}
}

func TestReadyQueue_FIFOWithinPriority(t *testing.T) {
	q := newReadyQueue()
	now := time.Now()

	q.Enqueue("first", 5, now)
	q.Enqueue("second", 5, now.Add(time.Millisecond))
	q.Enqueue("third", 5, now.Add(2*time.Millisecond))

	for _, expected := range []string{"first", "second", "third"} {
		id, _ := q.Dequeue()
		if id != expected {
			t.Errorf("Dequeue() = %s, want %s", id, expected)
		}
	}
}

func TestReadyQueue_SeqBreaksTimestampTies(t *testing.T) {
	q := newReadyQueue()
	now := time.Now()

	// Identical priority and timestamp: insertion order wins.
	q.Enqueue("a", 3, now)
	q.Enqueue("b", 3, now)
	q.Enqueue("c", 3, now)

	for _, expected := range []string{"a", "b", "c"} {
		id, _ := q.Dequeue()
		if id != expected {
			t.Errorf("Dequeue() = %s, want %s", id, expected)
		}
	}
}

func TestReadyQueue_DuplicateEnqueue(t *testing.T) {
	q := newReadyQueue()
	now := time.Now()

	if !q.Enqueue("t-1", 5, now) {
		t.Fatal("first Enqueue() = false, want true")
	}
	if q.Enqueue("t-1", 9, now) {
		t.Error("second Enqueue() = true, want false")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestReadyQueue_Remove(t *testing.T) {
	q := newReadyQueue()
	now := time.Now()

	q.Enqueue("a", 1, now)
	q.Enqueue("b", 2, now)
	q.Enqueue("c", 3, now)

	if !q.Remove("b") {
		t.Fatal("Remove(b) = false, want true")
	}
	if q.Contains("b") {
		t.Error("Contains(b) = true after Remove")
	}

	for _, expected := range []string{"c", "a"} {
		id, _ := q.Dequeue()
		if id != expected {
			t.Errorf("Dequeue() = %s, want %s", id, expected)
		}
	}
}

func TestReadyQueue_RemoveUnknown(t *testing.T) {
	q := newReadyQueue()
	if q.Remove("ghost") {
		t.Error("Remove(ghost) = true, want false")
	}
}

func TestReadyQueue_DequeueEmpty(t *testing.T) {
	q := newReadyQueue()
	if id, ok := q.Dequeue(); ok {
		t.Errorf("Dequeue() on empty queue returned %s", id)
	}
}

func TestReadyQueue_DequeueClearsMembership(t *testing.T) {
	q := newReadyQueue()
	now := time.Now()

	q.Enqueue("t-1", 5, now)
	q.Dequeue()

	if q.Contains("t-1") {
		t.Error("Contains(t-1) = true after Dequeue")
	}
	if !q.Enqueue("t-1", 5, now) {
		t.Error("re-Enqueue after Dequeue = false, want true")
	}
}
