package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vinayprograms/taskkit/tasks"
)

// Common errors.
var (
	ErrUnknownType   = errors.New("unknown agent type")
	ErrDuplicateType = errors.New("agent type already registered")
	ErrInvalidType   = errors.New("invalid agent type")
	ErrNilHandler    = errors.New("nil handler")
)

// Handler executes one kind of work. Implementations live outside the
// engine: the engine hands them a claimed task and records whatever they
// return. A nil error with the returned bytes marks the task completed;
// an error is classified by the retry policy.
type Handler interface {
	// Execute runs the work for one attempt. ctx is cancelled when the
	// task is cancelled or the engine shuts down; handlers are expected
	// to observe it at their own checkpoints.
	Execute(ctx context.Context, inv *Invocation) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation) ([]byte, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) ([]byte, error) {
	return f(ctx, inv)
}

// Invocation is one execution attempt handed to a handler. It carries a
// snapshot of the task plus reporting callbacks; mutating the snapshot
// has no effect on the stored task.
type Invocation struct {
	// Task is the task as it was claimed, attempt count included.
	Task *tasks.Task

	progress func(percent int, step, message string)
	addCost  func(units float64)
}

// NewInvocation builds an invocation around a task snapshot. Either
// callback may be nil.
func NewInvocation(task *tasks.Task, progress func(percent int, step, message string), addCost func(units float64)) *Invocation {
	return &Invocation{
		Task:     task,
		progress: progress,
		addCost:  addCost,
	}
}

// Progress reports how far the work has advanced. Percent is clamped to
// 0-100.
func (inv *Invocation) Progress(percent int, step, message string) {
	if inv.progress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	inv.progress(percent, step, message)
}

// AddCost accumulates resource usage for the task. Negative units are
// ignored; cost never decreases.
func (inv *Invocation) AddCost(units float64) {
	if inv.addCost == nil || units <= 0 {
		return
	}
	inv.addCost(units)
}

// Registry maps agent types to their work handlers. Registration
// happens at startup; lookups are concurrent with dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty handler registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds an agent type to a handler.
// Returns ErrDuplicateType if the type is already bound.
func (r *Registry) Register(agentType string, handler Handler) error {
	if agentType == "" {
		return ErrInvalidType
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[agentType]; exists {
		return ErrDuplicateType
	}
	r.handlers[agentType] = handler
	return nil
}

// Deregister removes an agent type's binding.
// Returns ErrUnknownType if the type is not bound.
func (r *Registry) Deregister(agentType string) error {
	if agentType == "" {
		return ErrInvalidType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[agentType]; !exists {
		return ErrUnknownType
	}
	delete(r.handlers, agentType)
	return nil
}

// Get returns the handler bound to an agent type.
// Returns ErrUnknownType if the type is not bound.
func (r *Registry) Get(agentType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[agentType]
	if !exists {
		return nil, ErrUnknownType
	}
	return handler, nil
}

// Has reports whether an agent type is bound.
func (r *Registry) Has(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[agentType]
	return exists
}

// Types returns all bound agent types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
