package tasks

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Common errors.
var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrConflict indicates an update targeted a stale status. Callers
	// retry the read-modify-write a bounded number of times.
	ErrConflict = errors.New("task status conflict")

	// ErrInvalidTransition indicates a status change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateID indicates a task with the same ID already exists.
	ErrDuplicateID = errors.New("task ID already exists")

	// ErrInvalidTask indicates the task spec is missing required fields.
	ErrInvalidTask = errors.New("invalid task")

	// ErrStoreClosed indicates the underlying store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// Priority bounds. Higher priorities dequeue first.
const (
	MinPriority = 0
	MaxPriority = 10
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// StatusPending indicates the task is waiting in the ready queue.
	StatusPending TaskStatus = "pending"

	// StatusRunning indicates a worker is executing the task.
	StatusRunning TaskStatus = "running"

	// StatusRetrying indicates the task failed with a retryable error
	// and is waiting out its backoff delay before re-enqueue.
	StatusRetrying TaskStatus = "retrying"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted TaskStatus = "completed"

	// StatusFailed indicates the task failed permanently and was moved
	// to the dead letter queue.
	StatusFailed TaskStatus = "failed"

	// StatusCancelled indicates the task was cancelled by the caller.
	StatusCancelled TaskStatus = "cancelled"
)

// AllStatuses lists every status, in lifecycle order. Used by stats and
// the Redis store's per-status sets.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusRunning,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid returns true if the status is one of the known states.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetrying,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions defines the forward-only state machine. Terminal states
// have no successors.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:  {StatusRunning, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled},
	StatusRetrying: {StatusPending, StatusCancelled},
}

// CanTransition returns true if the state machine allows moving from
// one status to another. Same-status updates (progress, cost) are
// always allowed.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Progress tracks how far along an execution attempt is.
type Progress struct {
	// Percent is 0-100.
	Percent int `json:"percent"`

	// Step names the phase the handler reported last.
	Step string `json:"step,omitempty"`

	// Message is the last human-readable progress message.
	Message string `json:"message,omitempty"`
}

// ExecError is the classified failure recorded on a failed task.
type ExecError struct {
	// Code identifies the failure type, supplied by the work handler
	// or derived from the error taxonomy.
	Code string `json:"code"`

	// Message is human-readable.
	Message string `json:"message"`

	// Retryable tells the client whether a retry request is meaningful.
	Retryable bool `json:"retryable"`
}

// Task represents a unit of asynchronous work with a tracked lifecycle.
type Task struct {
	// ID is the unique identifier for the task. Immutable.
	ID string `json:"id"`

	// AgentType identifies the registered work handler.
	AgentType string `json:"agent_type"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// Priority orders dispatch, 0 (lowest) to 10 (highest).
	Priority int `json:"priority"`

	// Payload is the opaque request body passed to the work handler.
	// The engine never interprets it.
	Payload []byte `json:"payload,omitempty"`

	// IdempotencyKey deduplicates submissions within the agent type.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// UserID identifies the submitter, for list filtering.
	UserID string `json:"user_id,omitempty"`

	// Attempts counts execution attempts so far.
	Attempts int `json:"attempts"`

	// MaxAttempts is the ceiling on attempts.
	MaxAttempts int `json:"max_attempts"`

	// Progress is the last reported execution progress.
	Progress Progress `json:"progress"`

	// Result is the success payload. Set only when completed.
	Result []byte `json:"result,omitempty"`

	// Error is the classified failure. Set only when failed.
	Error *ExecError `json:"error,omitempty"`

	// Cost accumulates resource usage across attempts. Never decreases.
	Cost float64 `json:"cost"`

	// WebhookURL, when set, receives the terminal outcome.
	WebhookURL string `json:"webhook_url,omitempty"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the first attempt began.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := &Task{
		ID:             t.ID,
		AgentType:      t.AgentType,
		Status:         t.Status,
		Priority:       t.Priority,
		IdempotencyKey: t.IdempotencyKey,
		UserID:         t.UserID,
		Attempts:       t.Attempts,
		MaxAttempts:    t.MaxAttempts,
		Progress:       t.Progress,
		Cost:           t.Cost,
		WebhookURL:     t.WebhookURL,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}

	if t.Payload != nil {
		clone.Payload = make([]byte, len(t.Payload))
		copy(clone.Payload, t.Payload)
	}

	if t.Result != nil {
		clone.Result = make([]byte, len(t.Result))
		copy(clone.Result, t.Result)
	}

	if t.Error != nil {
		e := *t.Error
		clone.Error = &e
	}

	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}

	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}

	return clone
}

// Spec describes a task submission. It is validated before a Task is
// constructed from it.
type Spec struct {
	// AgentType identifies the work handler. Required.
	AgentType string

	// Payload is the opaque request body.
	Payload []byte

	// Priority is 0-10; defaults to 0.
	Priority int

	// IdempotencyKey deduplicates submissions. Optional.
	IdempotencyKey string

	// UserID identifies the submitter. Optional.
	UserID string

	// WebhookURL receives the terminal outcome. Optional.
	WebhookURL string

	// MaxAttempts overrides the engine default. Zero means default.
	MaxAttempts int
}

// specFields is the order problems are reported in.
var specFields = []string{"agent_type", "priority", "max_attempts", "webhook_url"}

// Validate checks the spec. It returns ErrInvalidTask wrapped with the
// first problem found; Problems returns all of them for API surfacing.
func (s *Spec) Validate() error {
	problems := s.Problems()
	if len(problems) == 0 {
		return nil
	}
	for _, field := range specFields {
		if msg, ok := problems[field]; ok {
			return fmt.Errorf("%w: %s: %s", ErrInvalidTask, field, msg)
		}
	}
	return ErrInvalidTask
}

// Problems returns a field-to-message map of everything wrong with the
// spec. Empty map means the spec is valid.
func (s *Spec) Problems() map[string]string {
	problems := make(map[string]string)
	if s.AgentType == "" {
		problems["agent_type"] = "required"
	}
	if s.Priority < MinPriority || s.Priority > MaxPriority {
		problems["priority"] = fmt.Sprintf("must be between %d and %d", MinPriority, MaxPriority)
	}
	if s.MaxAttempts < 0 {
		problems["max_attempts"] = "must not be negative"
	}
	if s.WebhookURL != "" {
		u, err := url.Parse(s.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems["webhook_url"] = "must be an absolute http(s) URL"
		}
	}
	return problems
}

// FromSpec builds a pending Task from a validated spec. The caller
// supplies the id; defaultMaxAttempts applies when the spec does not
// set its own ceiling.
func FromSpec(id string, spec Spec, defaultMaxAttempts int) *Task {
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := time.Now().UTC()

	t := &Task{
		ID:             id,
		AgentType:      spec.AgentType,
		Status:         StatusPending,
		Priority:       spec.Priority,
		IdempotencyKey: spec.IdempotencyKey,
		UserID:         spec.UserID,
		MaxAttempts:    maxAttempts,
		WebhookURL:     spec.WebhookURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if spec.Payload != nil {
		t.Payload = make([]byte, len(spec.Payload))
		copy(t.Payload, spec.Payload)
	}
	return t
}
