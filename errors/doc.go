// Package errors provides the structured error taxonomy for taskkit. It
// defines the codes and categories that drive retry decisions in the
// engine and status mapping in the HTTP layer.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (timeouts, etc.)
//   - Permanent: Failures where retry will not help (validation, not found, etc.)
//   - Resource: Exhaustion issues (rate limits, queue capacity)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - VALIDATION: Malformed request, surfaced as 422
//   - NOT_FOUND: Unknown task or dead-letter id, surfaced as 404
//   - CONFLICT: Optimistic-concurrency clash on a store update
//   - INVALID_STATE: Operation illegal for the task's current status
//   - EXECUTION: Failure raised by a work handler (carries retryable flag)
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.NotFound("task not found", errors.WithTaskID(id))
//
// Work handlers classify their own failures:
//
//	return errors.Execution("UPSTREAM_509", "model overloaded", true)
//
// Check if an error is retryable:
//
//	if errors.IsRetryable(err) {
//	    // schedule another attempt
//	}
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "claiming task")
//
// # JSON Serialization
//
// Errors serialize for API responses and webhook payloads:
//
//	data, err := json.Marshal(taskErr)
package errors
