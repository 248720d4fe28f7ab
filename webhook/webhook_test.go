package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/taskkit/tasks"
)

func terminalTask(status tasks.TaskStatus) *tasks.Task {
	task := tasks.FromSpec("t-1", tasks.Spec{AgentType: "summarize"}, 3)
	task.Status = status
	task.Attempts = 1
	task.Cost = 0.25
	now := time.Now().UTC()
	task.CompletedAt = &now
	if status == tasks.StatusCompleted {
		task.Result = []byte(`{"summary":"done"}`)
	} else if status == tasks.StatusFailed {
		task.Error = &tasks.ExecError{Code: "UPSTREAM_503", Message: "overloaded", Retryable: true}
	}
	return task
}

func TestPayloadFor(t *testing.T) {
	completed := PayloadFor(terminalTask(tasks.StatusCompleted))
	if completed.TaskID != "t-1" || completed.Status != "completed" {
		t.Errorf("payload = %s/%s, want t-1/completed", completed.TaskID, completed.Status)
	}
	if string(completed.Result) != `{"summary":"done"}` {
		t.Errorf("expected result to carry through, got %s", completed.Result)
	}
	if completed.Error != nil {
		t.Error("expected no error on completed payload")
	}
	if completed.Cost != 0.25 || completed.Attempts != 1 {
		t.Errorf("cost/attempts = %v/%d, want 0.25/1", completed.Cost, completed.Attempts)
	}

	failed := PayloadFor(terminalTask(tasks.StatusFailed))
	if failed.Error == nil || failed.Error.Code != "UPSTREAM_503" {
		t.Errorf("expected error payload, got %+v", failed.Error)
	}
	if failed.Result != nil {
		t.Error("expected no result on failed payload")
	}
}

func TestHTTPNotifierDelivers(t *testing.T) {
	received := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewHTTPNotifier(Config{})
	defer n.Close()

	n.Notify(server.URL, PayloadFor(terminalTask(tasks.StatusCompleted)))

	select {
	case p := <-received:
		if p.TaskID != "t-1" || p.Status != "completed" {
			t.Errorf("delivered payload = %s/%s, want t-1/completed", p.TaskID, p.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook delivery")
	}
}

func TestHTTPNotifierRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewHTTPNotifier(Config{InitBackoff: 10 * time.Millisecond})
	defer n.Close()

	n.Notify(server.URL, PayloadFor(terminalTask(tasks.StatusCompleted)))

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 attempts, got %d", calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHTTPNotifierGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewHTTPNotifier(Config{MaxAttempts: 2, InitBackoff: 10 * time.Millisecond})
	n.Notify(server.URL, PayloadFor(terminalTask(tasks.StatusFailed)))
	n.Close() // waits for the delivery goroutine

	if got := calls.Load(); got != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", got)
	}
}

func TestHTTPNotifierEmptyURL(t *testing.T) {
	n := NewHTTPNotifier(Config{})
	defer n.Close()

	// Must not panic or spawn work
	n.Notify("", PayloadFor(terminalTask(tasks.StatusCompleted)))
}

func TestHTTPNotifierClosedDropsNotifications(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	n := NewHTTPNotifier(Config{})
	n.Close()
	n.Notify(server.URL, PayloadFor(terminalTask(tasks.StatusCompleted)))

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("expected no delivery after Close")
	}
}

func TestNoopNotifier(t *testing.T) {
	n := NewNoopNotifier()
	n.Notify("http://example.invalid/hook", Payload{TaskID: "t-1"})
	if err := n.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
