package engine

import (
	"container/heap"
	"time"
)

// queueItem is one pending task in the ready queue.
type queueItem struct {
	taskID     string
	priority   int
	enqueuedAt time.Time
	seq        uint64 // FIFO tiebreak when enqueue times collide
	index      int    // heap index, maintained by heap.Interface
}

// readyQueue is an indexed max-heap ordered by priority descending,
// then enqueue order within a priority. The index map gives O(log n)
// removal by task ID for pending cancellation. Not safe for concurrent
// use; the engine guards it with its dispatch mutex.
type readyQueue struct {
	items   []*queueItem
	byID    map[string]*queueItem
	nextSeq uint64
}

func newReadyQueue() *readyQueue {
	return &readyQueue{byID: make(map[string]*queueItem)}
}

func (q *readyQueue) Len() int { return len(q.items) }

func (q *readyQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.enqueuedAt.Equal(b.enqueuedAt) {
		return a.enqueuedAt.Before(b.enqueuedAt)
	}
	return a.seq < b.seq
}

func (q *readyQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *readyQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
	q.byID[item.taskID] = item
}

func (q *readyQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	delete(q.byID, item.taskID)
	return item
}

// Enqueue adds a task to the queue. Enqueueing an ID already present
// is a no-op and returns false.
func (q *readyQueue) Enqueue(taskID string, priority int, enqueuedAt time.Time) bool {
	if _, exists := q.byID[taskID]; exists {
		return false
	}
	q.nextSeq++
	heap.Push(q, &queueItem{
		taskID:     taskID,
		priority:   priority,
		enqueuedAt: enqueuedAt,
		seq:        q.nextSeq,
	})
	return true
}

// Dequeue removes and returns the highest-priority task ID.
func (q *readyQueue) Dequeue() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	item := heap.Pop(q).(*queueItem)
	return item.taskID, true
}

// Remove deletes a task wherever it sits in the heap.
func (q *readyQueue) Remove(taskID string) bool {
	item, exists := q.byID[taskID]
	if !exists {
		return false
	}
	heap.Remove(q, item.index)
	return true
}

// Contains reports whether the task is queued.
func (q *readyQueue) Contains(taskID string) bool {
	_, exists := q.byID[taskID]
	return exists
}
