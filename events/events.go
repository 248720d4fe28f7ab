package events

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed       = errors.New("broker closed")
	ErrSealed       = errors.New("event log sealed")
	ErrInvalidEvent = errors.New("invalid event")
)

// Kind identifies what an event reports.
type Kind string

const (
	// KindProgress reports work advancing within an attempt.
	KindProgress Kind = "progress"

	// KindComplete marks the task's terminal outcome. It is always the
	// last event in a log; the log accepts no appends after it.
	KindComplete Kind = "complete"

	// KindError reports a failed attempt that did not end the task.
	KindError Kind = "error"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindProgress, KindComplete, KindError:
		return true
	default:
		return false
	}
}

// Event is one entry in a task's ordered event log.
type Event struct {
	// TaskID identifies the owning task.
	TaskID string `json:"task_id"`

	// Sequence is assigned by the broker on append, starting at 1 and
	// strictly increasing per task with no gaps.
	Sequence uint64 `json:"sequence"`

	// Timestamp is when the event was appended.
	Timestamp time.Time `json:"timestamp"`

	// Kind identifies what the event reports.
	Kind Kind `json:"kind"`

	// Percent is the 0-100 completion estimate (progress events).
	Percent int `json:"percent,omitempty"`

	// Step names the stage the work is in (progress events).
	Step string `json:"step,omitempty"`

	// Message is human-readable detail.
	Message string `json:"message,omitempty"`

	// Attempt is the execution attempt that failed (error events).
	Attempt int `json:"attempt,omitempty"`

	// Retryable reports whether the failed attempt will run again
	// (error events).
	Retryable bool `json:"retryable,omitempty"`

	// Status is the task's terminal status (complete events).
	Status string `json:"status,omitempty"`
}

// Clone returns a copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// Progress builds a progress event.
func Progress(taskID string, percent int, step, message string) *Event {
	return &Event{
		TaskID:  taskID,
		Kind:    KindProgress,
		Percent: percent,
		Step:    step,
		Message: message,
	}
}

// AttemptError builds an error event for a failed attempt that will be
// or could have been retried.
func AttemptError(taskID string, attempt int, retryable bool, message string) *Event {
	return &Event{
		TaskID:    taskID,
		Kind:      KindError,
		Attempt:   attempt,
		Retryable: retryable,
		Message:   message,
	}
}

// Complete builds the terminal event carrying the task's final status.
func Complete(taskID, status, message string) *Event {
	return &Event{
		TaskID:  taskID,
		Kind:    KindComplete,
		Status:  status,
		Message: message,
	}
}

// Validate checks that an event can be appended.
func Validate(e *Event) error {
	if e == nil {
		return ErrInvalidEvent
	}
	if e.TaskID == "" {
		return ErrInvalidEvent
	}
	if !e.Kind.Valid() {
		return ErrInvalidEvent
	}
	return nil
}

// Broker owns per-task ordered event logs and fans appends out to
// subscribers.
type Broker interface {
	// Append adds an event to its task's log, assigning the next
	// sequence number. A complete event seals the log; appending to a
	// sealed log returns ErrSealed. Returns the stored event.
	Append(ctx context.Context, event *Event) (*Event, error)

	// Snapshot returns the task's log in sequence order. A positive
	// limit keeps only the most recent limit events. An unknown task
	// yields an empty slice.
	Snapshot(ctx context.Context, taskID string, limit int) ([]*Event, error)

	// Since returns events with sequence numbers greater than afterSeq,
	// in sequence order.
	Since(ctx context.Context, taskID string, afterSeq uint64) ([]*Event, error)

	// Subscribe streams events appended after the subscription is
	// created, in order, with no drops or duplicates. The stream closes
	// once the log seals and every queued event has been delivered.
	// Cancelling ctx cancels the subscription.
	Subscribe(ctx context.Context, taskID string) (Subscription, error)

	// Purge discards the task's log and cancels its subscriptions.
	Purge(ctx context.Context, taskID string) error

	// Close shuts down the broker and closes all subscriptions.
	Close() error
}

// Subscription is an active event stream for one task.
type Subscription interface {
	// Events returns the channel delivering events in sequence order.
	// The channel is closed when the log seals or the subscription is
	// cancelled.
	Events() <-chan *Event

	// Cancel stops the subscription. Safe to call more than once.
	Cancel() error
}
