// Package logging provides structured logging for taskkit components.
// Loggers are cheap to derive: each long-lived component holds its own
// component-scoped logger, and per-task loggers carry the task id so a
// task's lifecycle can be grepped out of mixed output.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// logrusLevel maps levels to logrus severities.
var logrusLevel = map[Level]logrus.Level{
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

// Logger provides structured logging backed by logrus.
type Logger struct {
	entry *logrus.Entry
}

// New creates a new Logger writing human-readable text to stdout at info
// level. Intended for development and tests.
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return &Logger{entry: logrus.NewEntry(l)}
}

// NewJSON creates a new Logger emitting one JSON object per line, the
// format taskkitd runs with in production.
func NewJSON() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	return &Logger{entry: logrus.NewEntry(l)}
}

// WithComponent returns a new logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

// WithTask returns a new logger tagged with the given task id.
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{entry: l.entry.WithField("task_id", taskID)}
}

// WithWorker returns a new logger tagged with the given worker id.
func (l *Logger) WithWorker(worker int) *Logger {
	return &Logger{entry: l.entry.WithField("worker", worker)}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if lv, ok := logrusLevel[level]; ok {
		l.entry.Logger.SetLevel(lv)
	}
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(logrus.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(logrus.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(logrus.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(logrus.ErrorLevel, msg, fields...)
}

func (l *Logger) log(level logrus.Level, msg string, fields ...map[string]interface{}) {
	entry := l.entry
	if len(fields) > 0 && fields[0] != nil {
		entry = entry.WithFields(logrus.Fields(fields[0]))
	}
	entry.Log(level, msg)
}

// --- Lifecycle logging methods ---
// Semantic one-liners for the engine's hot paths, so call sites stay
// readable and field names stay consistent across components.

// TaskSubmitted logs acceptance of a new task.
func (l *Logger) TaskSubmitted(taskID, agentType string, priority int) {
	l.Info("task_submitted", map[string]interface{}{
		"task_id":    taskID,
		"agent_type": agentType,
		"priority":   priority,
	})
}

// TaskClaimed logs a worker claiming a task for execution.
func (l *Logger) TaskClaimed(taskID string, worker, attempt int) {
	l.Debug("task_claimed", map[string]interface{}{
		"task_id": taskID,
		"worker":  worker,
		"attempt": attempt,
	})
}

// TaskCompleted logs successful completion.
func (l *Logger) TaskCompleted(taskID string, duration time.Duration, cost float64) {
	l.Info("task_completed", map[string]interface{}{
		"task_id":  taskID,
		"duration": duration.String(),
		"cost":     cost,
	})
}

// TaskRetrying logs a retryable failure and the scheduled backoff.
func (l *Logger) TaskRetrying(taskID string, attempt int, delay time.Duration, reason string) {
	l.Warn("task_retrying", map[string]interface{}{
		"task_id": taskID,
		"attempt": attempt,
		"delay":   delay.String(),
		"reason":  reason,
	})
}

// TaskFailed logs a terminal failure.
func (l *Logger) TaskFailed(taskID string, attempts int, reason string) {
	l.Error("task_failed", map[string]interface{}{
		"task_id":  taskID,
		"attempts": attempts,
		"reason":   reason,
	})
}

// TaskCancelled logs a cancellation.
func (l *Logger) TaskCancelled(taskID string, wasRunning bool) {
	l.Info("task_cancelled", map[string]interface{}{
		"task_id":     taskID,
		"was_running": wasRunning,
	})
}

// DeadLettered logs a task moving to the dead letter queue.
func (l *Logger) DeadLettered(taskID, entryID, reason string) {
	l.Warn("task_dead_lettered", map[string]interface{}{
		"task_id":  taskID,
		"entry_id": entryID,
		"reason":   reason,
	})
}

// WebhookDelivered logs a successful webhook delivery.
func (l *Logger) WebhookDelivered(taskID, url string, status, attempt int) {
	l.Debug("webhook_delivered", map[string]interface{}{
		"task_id": taskID,
		"url":     url,
		"status":  status,
		"attempt": attempt,
	})
}

// WebhookFailed logs exhaustion of webhook delivery attempts. Delivery
// failures never touch task state, so this is the only trace they leave.
func (l *Logger) WebhookFailed(taskID, url string, attempts int, err error) {
	l.Error("webhook_failed", map[string]interface{}{
		"task_id":  taskID,
		"url":      url,
		"attempts": attempts,
		"error":    err.Error(),
	})
}
