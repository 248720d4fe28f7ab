package heartbeat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker records worker liveness beats and flags stalled workers.
type Tracker struct {
	timeout       time.Duration
	checkInterval time.Duration

	mu         sync.RWMutex
	lastSeen   map[string]*Beat
	reported   map[string]bool // workers already flagged as stalled
	stalledCBs []func(workerID string)

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTracker creates a liveness tracker. The stall checker does not run
// until Start is called; Beat and the read methods work regardless.
func NewTracker(cfg TrackerConfig) *Tracker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTrackerConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultTrackerConfig().CheckInterval
	}

	return &Tracker{
		timeout:       timeout,
		checkInterval: checkInterval,
		lastSeen:      make(map[string]*Beat),
		reported:      make(map[string]bool),
	}
}

// Beat records a liveness report. A beat from a previously stalled
// worker re-arms stall detection for it.
func (t *Tracker) Beat(workerID, state, taskID string) {
	beat := &Beat{
		WorkerID:  workerID,
		Timestamp: time.Now().UTC(),
		State:     state,
		TaskID:    taskID,
	}

	t.mu.Lock()
	t.lastSeen[workerID] = beat
	delete(t.reported, workerID)
	t.mu.Unlock()
}

// Start begins the periodic stall check.
// Returns ErrAlreadyStarted if already running.
func (t *Tracker) Start() error {
	if t.running.Swap(true) {
		return ErrAlreadyStarted
	}

	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	go t.run()
	return nil
}

func (t *Tracker) run() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.checkStalled()
		}
	}
}

// checkStalled flags workers whose last beat is older than the timeout.
// Each stall episode is reported once; a fresh beat re-arms detection.
func (t *Tracker) checkStalled() {
	now := time.Now()
	var stalled []string

	t.mu.RLock()
	for workerID, beat := range t.lastSeen {
		if now.Sub(beat.Timestamp) > t.timeout && !t.reported[workerID] {
			stalled = append(stalled, workerID)
		}
	}
	callbacks := make([]func(string), len(t.stalledCBs))
	copy(callbacks, t.stalledCBs)
	t.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}

	t.mu.Lock()
	for _, id := range stalled {
		t.reported[id] = true
	}
	t.mu.Unlock()

	for _, workerID := range stalled {
		for _, cb := range callbacks {
			cb(workerID)
		}
	}
}

// IsAlive reports whether a worker has beaten within timeout.
func (t *Tracker) IsAlive(workerID string, timeout time.Duration) bool {
	t.mu.RLock()
	beat, ok := t.lastSeen[workerID]
	t.mu.RUnlock()

	if !ok {
		return false
	}
	return time.Since(beat.Timestamp) <= timeout
}

// LastBeat returns the most recent beat from a worker, or nil.
func (t *Tracker) LastBeat(workerID string) *Beat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeen[workerID]
}

// Snapshot returns the latest beat from every tracked worker, sorted by
// worker ID.
func (t *Tracker) Snapshot() []*Beat {
	t.mu.RLock()
	beats := make([]*Beat, 0, len(t.lastSeen))
	for _, b := range t.lastSeen {
		beats = append(beats, b)
	}
	t.mu.RUnlock()

	sort.Slice(beats, func(i, j int) bool {
		return beats[i].WorkerID < beats[j].WorkerID
	})
	return beats
}

// Counts returns how many tracked workers are idle and busy. Workers
// currently flagged as stalled count toward neither.
func (t *Tracker) Counts() (idle, busy int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for workerID, beat := range t.lastSeen {
		if t.reported[workerID] {
			continue
		}
		switch beat.State {
		case StateIdle:
			idle++
		case StateBusy:
			busy++
		}
	}
	return idle, busy
}

// OnStalled registers a callback invoked once per stall episode.
// The callback receives the worker ID.
func (t *Tracker) OnStalled(callback func(workerID string)) {
	t.mu.Lock()
	t.stalledCBs = append(t.stalledCBs, callback)
	t.mu.Unlock()
}

// Forget drops a worker from tracking after it exits cleanly.
func (t *Tracker) Forget(workerID string) {
	t.mu.Lock()
	delete(t.lastSeen, workerID)
	delete(t.reported, workerID)
	t.mu.Unlock()
}

// Stop halts the stall checker. Recorded beats remain readable.
// Returns ErrNotStarted if not running.
func (t *Tracker) Stop() error {
	if !t.running.Swap(false) {
		return ErrNotStarted
	}
	close(t.stopCh)
	<-t.doneCh
	return nil
}
