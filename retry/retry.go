// Package retry decides whether a failed task attempt runs again and how
// long to wait before it does. Delays grow exponentially per attempt up
// to a cap; retryability comes from the error's classification.
package retry

import (
	"time"

	"github.com/vinayprograms/taskkit/errors"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultInitBackoff = 1 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
	backoffFactor      = 2.0
)

// Policy holds retry settings for task execution.
type Policy struct {
	// MaxAttempts is the ceiling on execution attempts, first run included.
	MaxAttempts int `json:"max_attempts"`

	// InitBackoff is the delay before the first retry.
	InitBackoff time.Duration `json:"init_backoff"`

	// MaxBackoff caps the delay regardless of attempt count.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	// Retry reports whether the task should run again.
	Retry bool

	// Delay is how long to wait before re-enqueueing. Zero when Retry is false.
	Delay time.Duration
}

// DefaultPolicy returns a policy with default settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		InitBackoff: DefaultInitBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// normalized returns the policy with zero fields replaced by defaults.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitBackoff <= 0 {
		p.InitBackoff = DefaultInitBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	return p
}

// Backoff returns the delay before the next run after the given number of
// completed attempts: init * 2^(attempts-1), capped at MaxBackoff.
func (p Policy) Backoff(attempts int) time.Duration {
	p = p.normalized()
	if attempts < 1 {
		attempts = 1
	}

	delay := p.InitBackoff
	for i := 1; i < attempts; i++ {
		delay = time.Duration(float64(delay) * backoffFactor)
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// Decide reports whether a failed attempt should run again and after what
// delay. attempts is the number of executions completed so far, this
// failure included. The error's classification drives retryability; plain
// errors never retry.
func (p Policy) Decide(err error, attempts int) Decision {
	p = p.normalized()

	if attempts >= p.MaxAttempts {
		return Decision{}
	}
	if !errors.IsRetryable(err) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Backoff(attempts)}
}
