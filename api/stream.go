package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/events"
)

const (
	// minStreamPoll floors the poll interval a caller may request.
	minStreamPoll = 50 * time.Millisecond

	// streamHeartbeat is how often an idle stream emits a keepalive
	// comment.
	streamHeartbeat = 30 * time.Second
)

// GET /api/v1/tasks/:id/stream
//
// Streams the task's event log as Server-Sent Events. The history is
// sent first, then the log is polled until the terminal event arrives,
// the stream times out, or the client disconnects. A timeout emits a
// synthetic error frame and leaves the task untouched.
func (s *Server) streamTask(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	// Reject unknown tasks before committing to the stream content type.
	if _, err := s.engine.Get(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}

	poll, timeout, ok := s.streamParams(c)
	if !ok {
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Flush headers immediately to establish the connection.
	w.Flush()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	var lastSeq uint64
	for {
		if s.pushEvents(c, id, &lastSeq) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.writeFrame(c, streamError(id, "stream timeout"))
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()
		case <-ticker.C:
		}
	}
}

// pushEvents writes everything appended since lastSeq and reports
// whether the stream is finished.
func (s *Server) pushEvents(c *gin.Context, id string, lastSeq *uint64) bool {
	ctx := c.Request.Context()

	log, err := s.engine.EventsSince(ctx, id, *lastSeq)
	if err != nil {
		s.writeFrame(c, streamError(id, "event stream failed: "+errors.Message(err)))
		return true
	}
	for _, ev := range log {
		s.writeFrame(c, ev)
		*lastSeq = ev.Sequence
		if ev.Kind == events.KindComplete {
			return true
		}
	}
	if len(log) > 0 {
		return false
	}

	// Nothing new. A terminal status with no terminal event in the log
	// means the log was purged or the event has not landed yet, so the
	// frame is synthesized from the record.
	task, err := s.engine.Get(ctx, id)
	if err != nil {
		s.writeFrame(c, streamError(id, "task no longer exists"))
		return true
	}
	if task.Status.IsTerminal() {
		ev := events.Complete(id, task.Status.String(), "")
		ev.Timestamp = time.Now().UTC()
		s.writeFrame(c, ev)
		return true
	}
	return false
}

// writeFrame writes one event:/data: SSE frame.
func (s *Server) writeFrame(c *gin.Context, ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Kind, data)
	c.Writer.Flush()
}

// streamParams reads the pollInterval and timeout overrides. Both are
// duration strings; the configured timeout is the ceiling.
func (s *Server) streamParams(c *gin.Context) (poll, timeout time.Duration, ok bool) {
	poll = s.cfg.StreamPoll
	timeout = s.cfg.StreamTimeout

	if raw := c.Query("pollInterval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "pollInterval must be a positive duration"})
			return 0, 0, false
		}
		if d < minStreamPoll {
			d = minStreamPoll
		}
		poll = d
	}
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "timeout must be a positive duration"})
			return 0, 0, false
		}
		if d < timeout {
			timeout = d
		}
	}
	return poll, timeout, true
}

// streamError builds a synthetic stream-level error frame. It is not
// part of the task's event log.
func streamError(id, message string) *events.Event {
	return &events.Event{
		TaskID:    id,
		Kind:      events.KindError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
