package shutdown

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrTimeout indicates shutdown did not finish within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed indicates one or more steps returned an error.
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// Phases for the standard drain order. Intake stops before the engine
// so no new work arrives while workers finish, and backends close last
// so every earlier phase can still write.
const (
	// PhaseServer drains the HTTP listener.
	PhaseServer = 1

	// PhaseEngine stops the scheduler and worker pool.
	PhaseEngine = 2

	// PhaseBackends closes stores, brokers, and external connections.
	PhaseBackends = 3

	// DefaultPhase is assigned to steps registered without a phase.
	// It runs after the named phases.
	DefaultPhase = 100
)

// DefaultTimeout bounds a signal-initiated shutdown when the config
// does not set one.
const DefaultTimeout = 30 * time.Second

// Handler is implemented by components that participate in shutdown.
type Handler interface {
	// OnShutdown is called when shutdown reaches the handler's phase.
	// The context is cancelled when the shutdown timeout is reached;
	// implementations stop taking work, finish or park what is in
	// flight, and release resources.
	OnShutdown(ctx context.Context) error
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context) error

// OnShutdown calls f.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Step records the outcome of one handler.
type Step struct {
	// Name identifies the handler.
	Name string

	// Phase the handler ran in.
	Phase int

	// Duration is how long the handler took.
	Duration time.Duration

	// Err is the handler's error, nil on success.
	Err error
}

// Result is the complete shutdown outcome.
type Result struct {
	// Duration of the whole shutdown.
	Duration time.Duration

	// Steps in execution order.
	Steps []Step

	// Err is nil only when every step succeeded.
	Err error
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedSteps returns the names of steps that returned errors.
func (r *Result) FailedSteps() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds signal-initiated shutdowns. Default: DefaultTimeout.
	Timeout time.Duration

	// StopOnError aborts the remaining phases after a step fails. The
	// default keeps going, since a failed drain must not leave stores
	// unclosed.
	StopOnError bool

	// OnStep is called as each step finishes, for logging.
	OnStep func(step Step)
}

// step is one registered handler.
type step struct {
	name    string
	handler Handler
	phase   int
}
