package heartbeat

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("stall checker already started")
	ErrNotStarted     = errors.New("stall checker not started")
)

// Worker states carried in beats.
const (
	StateIdle = "idle"
	StateBusy = "busy"
)

// Beat is a single liveness report from a worker.
type Beat struct {
	// WorkerID uniquely identifies the reporting worker.
	WorkerID string `json:"worker_id"`

	// Timestamp when the beat was recorded.
	Timestamp time.Time `json:"timestamp"`

	// State of the worker, StateIdle or StateBusy.
	State string `json:"state"`

	// TaskID is the task being executed, empty when idle.
	TaskID string `json:"task_id,omitempty"`
}

// TrackerConfig configures a liveness tracker.
type TrackerConfig struct {
	// Timeout before a worker with no recent beat is considered stalled.
	// Should be 2-3x the expected beat interval.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the stall checker.
	// Default: 1 second
	CheckInterval time.Duration
}

// DefaultTrackerConfig returns configuration with sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}
