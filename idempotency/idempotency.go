package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrClosed     = errors.New("index closed")
	ErrInvalidKey = errors.New("invalid idempotency key")
)

// DefaultTTL is how long a reservation survives before the key may be
// reused. Long enough to absorb client retries across restarts, short
// enough that keys do not pin task IDs forever.
const DefaultTTL = 24 * time.Hour

// Index maps (namespace, key) pairs to task IDs so that repeated
// submissions with the same idempotency key resolve to the same task.
type Index interface {
	// Reserve binds key to taskID within namespace unless a live binding
	// already exists. Returns the bound task ID and whether this call
	// created the binding. When isNew is false the caller must discard
	// its candidate task and use existingID instead.
	Reserve(ctx context.Context, namespace, key, taskID string) (existingID string, isNew bool, err error)

	// Invalidate drops the binding for key so it can be reserved again.
	// Dropping an absent binding is not an error.
	Invalidate(ctx context.Context, namespace, key string) error

	// Close shuts down the index and releases resources.
	Close() error
}

// ValidateKey checks that an idempotency key is usable.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > 256 {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " \t\n") {
		return ErrInvalidKey
	}
	return nil
}
