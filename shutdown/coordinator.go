package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Coordinator runs registered shutdown steps phase by phase. Phases
// run in ascending order; steps within a phase run concurrently. A
// coordinator shuts down once; later calls return the first outcome.
type Coordinator struct {
	cfg Config

	mu    sync.Mutex
	steps []step

	once    sync.Once
	done    chan struct{}
	err     error
	result  *Result
	began   time.Time
	signals chan os.Signal
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Coordinator{
		cfg:     cfg,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a step in DefaultPhase.
func (c *Coordinator) Register(name string, handler Handler) {
	c.RegisterPhase(name, handler, DefaultPhase)
}

// RegisterPhase adds a step in a specific phase.
func (c *Coordinator) RegisterPhase(name string, handler Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, handler: handler, phase: phase})
}

// RegisterFunc adds a function as a step in DefaultPhase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.RegisterPhase(name, Func(fn), DefaultPhase)
}

// RegisterFuncPhase adds a function as a step in a specific phase.
func (c *Coordinator) RegisterFuncPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterPhase(name, Func(fn), phase)
}

// Shutdown runs all registered steps. The context bounds the whole
// sequence; phases still pending when it ends are skipped. The first
// call does the work and every call reports its outcome.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.began = time.Now()
		c.err = c.run(ctx)
		close(c.done)
	})

	<-c.done
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by the given timeout,
// falling back to the configured one when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown when SIGTERM or SIGINT arrives. Call
// it once, before signals are expected.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-c.signals
		c.ShutdownWithTimeout(c.cfg.Timeout)
	}()
}

// Trigger injects a synthetic signal, as if SIGTERM arrived. Useful in
// tests and for programmatic shutdown after HandleSignals.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error, or nil while shutdown has not
// finished.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns the detailed outcome, or nil while shutdown has not
// finished.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

// run executes the phases in order.
func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	steps := make([]step, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].phase < steps[j].phase
	})

	result := &Result{Steps: make([]Step, 0, len(steps))}
	finish := func(err error) error {
		result.Err = err
		result.Duration = time.Since(c.began)
		c.result = result
		return err
	}

	var failed bool
	for _, phase := range groupByPhase(steps) {
		select {
		case <-ctx.Done():
			return finish(ErrTimeout)
		default:
		}

		outcomes := c.runPhase(ctx, phase)
		result.Steps = append(result.Steps, outcomes...)

		for _, s := range outcomes {
			if s.Err == nil {
				continue
			}
			failed = true
			if c.cfg.StopOnError {
				return finish(ErrStepFailed)
			}
		}
	}

	if failed {
		return finish(ErrStepFailed)
	}
	return finish(nil)
}

// runPhase executes one phase's steps concurrently and waits for all
// of them.
func (c *Coordinator) runPhase(ctx context.Context, phase []step) []Step {
	outcomes := make([]Step, len(phase))
	var wg sync.WaitGroup

	for i, s := range phase {
		wg.Add(1)
		go func(idx int, s step) {
			defer wg.Done()

			start := time.Now()
			err := s.handler.OnShutdown(ctx)

			outcome := Step{
				Name:     s.name,
				Phase:    s.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			outcomes[idx] = outcome

			if c.cfg.OnStep != nil {
				c.cfg.OnStep(outcome)
			}
		}(i, s)
	}

	wg.Wait()
	return outcomes
}

// groupByPhase splits phase-sorted steps into runs of equal phase.
func groupByPhase(steps []step) [][]step {
	var groups [][]step
	for i := 0; i < len(steps); {
		j := i
		for j < len(steps) && steps[j].phase == steps[i].phase {
			j++
		}
		groups = append(groups, steps[i:j])
		i = j
	}
	return groups
}
