package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed     = errors.New("limiter closed")
	ErrUnknownKey = errors.New("unknown key")
)

// Limiter throttles callers identified by key, typically an API key.
type Limiter interface {
	// Acquire blocks until a token is available for the key.
	// Returns context.Canceled or context.DeadlineExceeded if context ends.
	// Returns ErrUnknownKey if the key has no configured capacity.
	Acquire(ctx context.Context, key string) error

	// TryAcquire attempts to acquire a token without blocking.
	// Returns true if a token was acquired, false otherwise.
	TryAcquire(key string) bool

	// Release returns a token to the key's bucket.
	// This is optional and useful for tracking in-flight requests.
	// Has no effect if the key is unknown or already at capacity.
	Release(key string)

	// SetCapacity configures the rate limit for a key.
	// capacity is the number of tokens per window.
	// A capacity or window of zero removes the key's bucket.
	SetCapacity(key string, capacity int, window time.Duration)

	// GetCapacity returns the current capacity info for a key.
	// Returns nil if the key is unknown.
	GetCapacity(key string) *Capacity

	// RetryAfter estimates how long until the key's next token arrives.
	// Returns zero when a token is available now or the key is unknown.
	RetryAfter(key string) time.Duration

	// Close shuts down the limiter and wakes all blocked Acquires.
	Close() error
}

// Capacity describes the rate limit configuration for a key.
type Capacity struct {
	// Key is the rate-limited caller identity.
	Key string

	// Available is the current number of available tokens.
	Available int

	// Total is the maximum capacity (tokens per window).
	Total int

	// Window is the refill period.
	Window time.Duration

	// InFlight tracks requests currently in progress (if Release is used).
	InFlight int
}
