package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/search"
	"github.com/vinayprograms/taskkit/tasks"
)

// idempotencyKeyHeader is the header alternative to the body field.
const idempotencyKeyHeader = "X-Idempotency-Key"

// taskLinks points a client at the task's detail, event log, and live
// stream endpoints.
type taskLinks struct {
	Self   string `json:"self"`
	Events string `json:"events"`
	Stream string `json:"stream"`
}

// taskView is a task plus its navigation links. The embedded pointer
// keeps the task fields at the top level of the JSON document.
type taskView struct {
	*tasks.Task
	Links taskLinks `json:"links"`
}

func viewOf(t *tasks.Task) taskView {
	base := "/api/v1/tasks/" + t.ID
	return taskView{
		Task: t,
		Links: taskLinks{
			Self:   base,
			Events: base + "/events",
			Stream: base + "/stream",
		},
	}
}

func viewsOf(list []*tasks.Task) []taskView {
	views := make([]taskView, len(list))
	for i, t := range list {
		views[i] = viewOf(t)
	}
	return views
}

// createTaskRequest is the submission body. Payload is kept as raw
// JSON so callers write it inline rather than base64-encoded.
type createTaskRequest struct {
	AgentType      string          `json:"agent_type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	WebhookURL     string          `json:"webhook_url"`
	MaxAttempts    int             `json:"max_attempts"`

	// Sync blocks the request until the task reaches a terminal state
	// or the sync timeout passes.
	Sync               bool `json:"sync"`
	SyncTimeoutSeconds int  `json:"sync_timeout_seconds"`
}

// POST /api/v1/tasks
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(idempotencyKeyHeader)
	}

	spec := tasks.Spec{
		AgentType:      req.AgentType,
		Payload:        req.Payload,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		WebhookURL:     req.WebhookURL,
		MaxAttempts:    req.MaxAttempts,
	}
	if problems := spec.Problems(); len(problems) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "invalid task spec",
			"code":   errors.ErrCodeValidation.String(),
			"fields": problems,
		})
		return
	}

	if req.Sync {
		timeout := s.cfg.SyncTimeout
		if req.SyncTimeoutSeconds > 0 {
			if requested := time.Duration(req.SyncTimeoutSeconds) * time.Second; requested < timeout {
				timeout = requested
			}
		}
		task, _, err := s.engine.SubmitSync(c.Request.Context(), spec, timeout)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(task))
		return
	}

	task, isNew, err := s.engine.Submit(c.Request.Context(), spec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !isNew {
		// Idempotent replay of an earlier submission.
		c.JSON(http.StatusOK, viewOf(task))
		return
	}
	c.JSON(http.StatusAccepted, viewOf(task))
}

// GET /api/v1/tasks/:id
func (s *Server) getTask(c *gin.Context) {
	task, err := s.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(task))
}

// GET /api/v1/tasks
func (s *Server) listTasks(c *gin.Context) {
	filter := tasks.Filter{
		AgentType: c.Query("agent_type"),
		UserID:    c.Query("user_id"),
	}
	if raw := c.Query("status"); raw != "" {
		status := tasks.TaskStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown status: " + raw})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "active must be a boolean"})
			return
		}
		filter.ActiveOnly = active
	}

	limit, offset, ok := s.pagination(c)
	if !ok {
		return
	}

	list, total, err := s.engine.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":  viewsOf(list),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// cancelRequest is the optional cancel body.
type cancelRequest struct {
	Force bool `json:"force"`
}

// POST /api/v1/tasks/:id/cancel
func (s *Server) cancelTask(c *gin.Context) {
	force := c.Query("force") == "true"
	if c.Request.ContentLength > 0 {
		var req cancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
			return
		}
		force = force || req.Force
	}

	task, cancelled, err := s.engine.Cancel(c.Request.Context(), c.Param("id"), force)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": viewOf(task), "cancelled": cancelled})
}

// POST /api/v1/tasks/:id/retry
func (s *Server) retryTask(c *gin.Context) {
	task, err := s.engine.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, viewOf(task))
}

// GET /api/v1/tasks/:id/events
func (s *Server) taskEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	id := c.Param("id")
	log, err := s.engine.Events(c.Request.Context(), id, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "events": log})
}

// GET /api/v1/tasks/search
func (s *Server) searchTasks(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "q is required"})
		return
	}

	opts := search.Options{
		Status:    c.Query("status"),
		AgentType: c.Query("agent_type"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		opts.Limit = n
	}

	hits, err := s.search.Search(c.Request.Context(), q, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "hits": hits, "total": len(hits)})
}

// GET /api/v1/stats
func (s *Server) statsSnapshot(c *gin.Context) {
	snap, err := s.stats.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GET /api/v1/dead-letter
func (s *Server) listDeadLetters(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	entries, err := s.queue.List(ctx, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	total, err := s.queue.Size(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// GET /api/v1/dead-letter/:id
func (s *Server) getDeadLetter(c *gin.Context) {
	entry, err := s.queue.Get(c.Request.Context(), c.Param("id"))
	if err == dlq.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter entry not found", "code": errors.ErrCodeNotFound.String()})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DELETE /api/v1/dead-letter/:id
func (s *Server) deleteDeadLetter(c *gin.Context) {
	id := c.Param("id")
	err := s.queue.Delete(c.Request.Context(), id)
	if err == dlq.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter entry not found", "code": errors.ErrCodeNotFound.String()})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

// POST /api/v1/dead-letter/:id/requeue
func (s *Server) requeueDeadLetter(c *gin.Context) {
	task, err := s.engine.Requeue(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, viewOf(task))
}

// pagination reads limit and offset, applying defaults and caps. On a
// bad value it writes the response itself and reports false.
func (s *Server) pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit = DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be a non-negative integer"})
			return 0, 0, false
		}
		if n > 0 {
			limit = n
		}
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "offset must be a non-negative integer"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// writeError maps an engine error onto an HTTP response.
func (s *Server) writeError(c *gin.Context, err error) {
	code := errors.Code(err)
	message := errors.Message(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeValidation, errors.ErrCodeUnknownType:
		status = http.StatusUnprocessableEntity
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidState:
		status = http.StatusBadRequest
	case errors.ErrCodeConflict, errors.ErrCodeNotRetryable:
		status = http.StatusConflict
	case errors.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
	case errors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		})
	}
	c.JSON(status, gin.H{"error": message, "code": code.String()})
}
