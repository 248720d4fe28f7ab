package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: upstream timeouts, temporary service unavailability.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, resource not found, illegal state transition.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or capacity issues.
	// Examples: rate limiting, ready queue at capacity.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: recovered panics, corrupted store state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
//
// Work handlers may return Execution errors carrying their own code strings;
// those pass through the engine unchanged, so the set below is not closed.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Dependency temporarily unavailable

	// Permanent errors
	ErrCodeValidation   ErrorCode = "VALIDATION"    // Malformed or invalid request
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Task or entry does not exist
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Optimistic concurrency clash
	ErrCodeInvalidState ErrorCode = "INVALID_STATE" // Operation illegal for current status
	ErrCodeNotRetryable ErrorCode = "NOT_RETRYABLE" // Retry requested for a non-retryable failure
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled
	ErrCodeUnknownType  ErrorCode = "UNKNOWN_TYPE"  // No handler registered for agent type

	// Resource errors
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED" // Rate limit exceeded
	ErrCodeQueueFull   ErrorCode = "QUEUE_FULL"   // Ready queue at capacity

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic

	// ErrCodeExecution is the default code for failures raised by work
	// handlers that do not classify themselves.
	ErrCodeExecution ErrorCode = "EXECUTION"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	// Transient
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient

	// Permanent
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidState,
		ErrCodeNotRetryable, ErrCodeCanceled, ErrCodeUnknownType, ErrCodeExecution:
		return CategoryPermanent

	// Resource
	case ErrCodeRateLimited, ErrCodeQueueFull:
		return CategoryResource

	// Internal
	case ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "dependency temporarily unavailable",
	ErrCodeValidation:   "invalid request",
	ErrCodeNotFound:     "resource not found",
	ErrCodeConflict:     "conflicting update",
	ErrCodeInvalidState: "operation not valid for current task state",
	ErrCodeNotRetryable: "task is not retryable",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeUnknownType:  "no handler registered for agent type",
	ErrCodeRateLimited:  "rate limit exceeded",
	ErrCodeQueueFull:    "ready queue at capacity",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
	ErrCodeExecution:    "work execution failed",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
