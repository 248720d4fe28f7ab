package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	// Info should pass
	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}

	output := buf.String()
	if !strings.Contains(output, "info") {
		t.Error("log should contain the info level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.Debug("verbose detail")
	if !strings.Contains(buf.String(), "verbose detail") {
		t.Error("debug message should pass at DEBUG level")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("engine")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "component=engine") {
		t.Errorf("expected component field in log, got: %s", output)
	}
}

func TestLogger_WithTask(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithTask("t-123")
	logger.SetOutput(&buf)

	logger.Info("claimed")

	output := buf.String()
	if !strings.Contains(output, "t-123") {
		t.Errorf("expected task id in log, got: %s", output)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("dispatch", map[string]interface{}{
		"queue_depth": 3,
	})

	output := buf.String()
	if !strings.Contains(output, "queue_depth=3") {
		t.Errorf("expected field in log, got: %s", output)
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON().WithComponent("webhook")
	logger.SetOutput(&buf)

	logger.Info("delivered", map[string]interface{}{"status": 200})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "delivered" {
		t.Errorf("msg = %v, want delivered", entry["msg"])
	}
	if entry["component"] != "webhook" {
		t.Errorf("component = %v, want webhook", entry["component"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

func TestLogger_LifecycleHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.TaskSubmitted("t-1", "summarize", 5)
	logger.TaskClaimed("t-1", 2, 1)
	logger.TaskRetrying("t-1", 1, 2*time.Second, "upstream timeout")
	logger.TaskCompleted("t-1", 150*time.Millisecond, 0.25)
	logger.TaskFailed("t-2", 3, "bad payload")
	logger.TaskCancelled("t-3", false)
	logger.DeadLettered("t-2", "d-9", "attempts exhausted")
	logger.WebhookFailed("t-1", "http://example.com/hook", 3, fmt.Errorf("refused"))

	output := buf.String()
	for _, want := range []string{
		"task_submitted", "task_claimed", "task_retrying", "task_completed",
		"task_failed", "task_cancelled", "task_dead_lettered", "webhook_failed",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}
