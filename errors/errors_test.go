package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ============================================================================
// 1. Error creation with different codes/categories
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, "operation timed out", CategoryTransient},
		{"validation", ErrCodeValidation, "bad request", CategoryPermanent},
		{"not_found", ErrCodeNotFound, "task not found", CategoryPermanent},
		{"conflict", ErrCodeConflict, "stale status", CategoryPermanent},
		{"invalid_state", ErrCodeInvalidState, "already terminal", CategoryPermanent},
		{"rate_limited", ErrCodeRateLimited, "too many requests", CategoryResource},
		{"queue_full", ErrCodeQueueFull, "queue at capacity", CategoryResource},
		{"internal", ErrCodeInternal, "internal error", CategoryInternal},
		{"panic", ErrCodePanic, "recovered", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.message)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeNotFound, "task %s not found", "t-123")
	want := "task t-123 not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeTimeout)
	if err.Code() != ErrCodeTimeout {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeTimeout)
	}
	// Should use the default description
	if err.Error() != "operation timed out" {
		t.Errorf("Error() = %v, want %v", err.Error(), "operation timed out")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code ErrorCode
	}{
		{"validation", Validation("bad"), ErrCodeValidation},
		{"not_found", NotFound("missing"), ErrCodeNotFound},
		{"conflict", Conflict("stale"), ErrCodeConflict},
		{"invalid_state", InvalidState("terminal"), ErrCodeInvalidState},
		{"not_retryable", NotRetryable("permanent failure"), ErrCodeNotRetryable},
		{"timeout", Timeout("slow"), ErrCodeTimeout},
		{"canceled", Canceled("stopped"), ErrCodeCanceled},
		{"rate_limited", RateLimited("slow down"), ErrCodeRateLimited},
		{"internal", Internal("bug"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", tt.err.Code(), tt.code)
			}
		})
	}
}

// ============================================================================
// 2. Retryable vs non-retryable errors
// ============================================================================

func TestRetryableDefaults(t *testing.T) {
	if !Timeout("slow").Retryable() {
		t.Error("timeout should be retryable by default")
	}
	if Validation("bad").Retryable() {
		t.Error("validation should not be retryable")
	}
	if !RateLimited("busy").Retryable() {
		t.Error("rate limited should be retryable by default")
	}
	if Internal("bug").Retryable() {
		t.Error("internal should not be retryable by default")
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := Timeout("slow", WithRetryable(false))
	if err.Retryable() {
		t.Error("explicit override should win over category default")
	}
}

func TestExecution(t *testing.T) {
	err := Execution("UPSTREAM_509", "model overloaded", true)
	if err.Code() != ErrorCode("UPSTREAM_509") {
		t.Errorf("Code() = %v, want UPSTREAM_509", err.Code())
	}
	if !err.Retryable() {
		t.Error("expected retryable execution error")
	}
	if err.Category() != CategoryTransient {
		t.Errorf("Category() = %v, want %v", err.Category(), CategoryTransient)
	}
}

func TestExecutionDefaultCode(t *testing.T) {
	err := Execution("", "handler blew up", false)
	if err.Code() != ErrCodeExecution {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeExecution)
	}
	if err.Retryable() {
		t.Error("expected non-retryable execution error")
	}
	if err.Category() != CategoryPermanent {
		t.Errorf("Category() = %v, want %v", err.Category(), CategoryPermanent)
	}
}

// ============================================================================
// 3. Options and accessors
// ============================================================================

func TestOptions(t *testing.T) {
	cause := fmt.Errorf("underlying")
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := New(ErrCodeExecution, "attempt failed",
		WithTaskID("t-42"),
		WithAttempt(2),
		WithCause(cause),
		WithTimestamp(ts),
		WithMetadata("handler", "summarize"),
	)

	if err.TaskID() != "t-42" {
		t.Errorf("TaskID() = %v, want t-42", err.TaskID())
	}
	if err.Attempt() != 2 {
		t.Errorf("Attempt() = %v, want 2", err.Attempt())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !err.Timestamp().Equal(ts) {
		t.Errorf("Timestamp() = %v, want %v", err.Timestamp(), ts)
	}
	if err.Metadata()["handler"] != "summarize" {
		t.Error("expected metadata 'handler' to be 'summarize'")
	}
}

func TestMetadataCopy(t *testing.T) {
	err := New(ErrCodeInternal, "bug", WithMetadata("k", "v"))
	m := err.Metadata()
	m["k"] = "mutated"
	if err.Metadata()["k"] != "v" {
		t.Error("Metadata() should return a copy")
	}
}

func TestMessageExcludesCause(t *testing.T) {
	err := New(ErrCodeInternal, "outer", WithCause(fmt.Errorf("inner")))
	if err.Message() != "outer" {
		t.Errorf("Message() = %v, want outer", err.Message())
	}
	if err.Error() != "outer: inner" {
		t.Errorf("Error() = %v, want outer: inner", err.Error())
	}
}

// ============================================================================
// 4. JSON round-trip
// ============================================================================

func TestJSONRoundTrip(t *testing.T) {
	orig := Execution("UPSTREAM_509", "model overloaded", true,
		WithTaskID("t-7"), WithAttempt(3), WithMetadata("provider", "anthropic"))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.Code() != orig.Code() {
		t.Errorf("Code() = %v, want %v", decoded.Code(), orig.Code())
	}
	if decoded.Retryable() != orig.Retryable() {
		t.Errorf("Retryable() = %v, want %v", decoded.Retryable(), orig.Retryable())
	}
	if decoded.TaskID() != "t-7" {
		t.Errorf("TaskID() = %v, want t-7", decoded.TaskID())
	}
	if decoded.Attempt() != 3 {
		t.Errorf("Attempt() = %v, want 3", decoded.Attempt())
	}
}

// ============================================================================
// 5. Wrapping and extraction
// ============================================================================

func TestWrapPreservesClassification(t *testing.T) {
	inner := Execution("FLAKY", "transient upstream", true, WithTaskID("t-1"))
	wrapped := Wrap(inner, "running task")

	if wrapped.Code() != ErrorCode("FLAKY") {
		t.Errorf("Code() = %v, want FLAKY", wrapped.Code())
	}
	if !wrapped.Retryable() {
		t.Error("wrapped error should stay retryable")
	}
	if wrapped.TaskID() != "t-1" {
		t.Errorf("TaskID() = %v, want t-1", wrapped.TaskID())
	}
	if !errors.Is(wrapped, inner) {
		t.Error("errors.Is should find the inner error")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapContextErrors(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, "waiting for handler")
	if err.Code() != ErrCodeTimeout {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeTimeout)
	}

	err = Wrap(context.Canceled, "waiting for handler")
	if err.Code() != ErrCodeCanceled {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeCanceled)
	}
}

func TestWrapUnknownError(t *testing.T) {
	err := Wrap(fmt.Errorf("plain"), "doing work")
	if err.Code() != ErrCodeInternal {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeInternal)
	}
}

func TestWrapWithCode(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("redis: connection refused"), ErrCodeUnavailable, "loading task")
	if err.Code() != ErrCodeUnavailable {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeUnavailable)
	}
	if !err.Retryable() {
		t.Error("unavailable should be retryable")
	}
}

func TestExtractors(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("task not found"))

	if !Is(err, ErrCodeNotFound) {
		t.Error("Is should match through the chain")
	}
	if Code(err) != ErrCodeNotFound {
		t.Errorf("Code() = %v, want %v", Code(err), ErrCodeNotFound)
	}
	if Category(err) != CategoryPermanent {
		t.Errorf("Category() = %v, want %v", Category(err), CategoryPermanent)
	}
	if IsRetryable(err) {
		t.Error("not found should not be retryable")
	}
	if AsTaskError(err) == nil {
		t.Error("AsTaskError should find the error")
	}
}

func TestExtractorsOnPlainError(t *testing.T) {
	err := fmt.Errorf("plain")
	if Code(err) != "" {
		t.Errorf("Code() = %v, want empty", Code(err))
	}
	if IsRetryable(err) {
		t.Error("plain errors default to not retryable")
	}
	if AsTaskError(err) != nil {
		t.Error("AsTaskError should return nil for plain errors")
	}
}

func TestCause(t *testing.T) {
	root := fmt.Errorf("root")
	err := Wrap(fmt.Errorf("mid: %w", root), "top")
	if Cause(err) != root {
		t.Errorf("Cause() = %v, want %v", Cause(err), root)
	}
}

// ============================================================================
// 6. Panic recovery
// ============================================================================

func TestRecoverPanic(t *testing.T) {
	tests := []struct {
		name      string
		recovered interface{}
		wantMsg   string
	}{
		{"string", "boom", "boom"},
		{"error", fmt.Errorf("kaput"), "kaput"},
		{"other", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RecoverPanic(tt.recovered)
			if err.Code() != ErrCodePanic {
				t.Errorf("Code() = %v, want %v", err.Code(), ErrCodePanic)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}
			if err.Retryable() {
				t.Error("recovered panics must not be retryable")
			}
		})
	}
}

func TestRecoverPanicNil(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should return nil")
	}
}
