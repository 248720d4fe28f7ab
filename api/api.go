// Package api exposes the engine over HTTP. All task operations live
// under /api/v1 behind optional API-key auth and per-key rate
// limiting; health probes stay unauthenticated at the root.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/taskkit/dlq"
	"github.com/vinayprograms/taskkit/engine"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/ratelimit"
	"github.com/vinayprograms/taskkit/search"
	"github.com/vinayprograms/taskkit/stats"
)

// Defaults.
const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"

	// DefaultRateWindow is the refill period for per-key rate limits.
	DefaultRateWindow = time.Minute

	// DefaultStreamPoll is how often a stream checks for new events.
	DefaultStreamPoll = 500 * time.Millisecond

	// DefaultStreamTimeout bounds how long a stream stays open waiting
	// for a terminal event.
	DefaultStreamTimeout = 5 * time.Minute

	// DefaultListLimit is the page size when a list request sets none.
	DefaultListLimit = 50

	// MaxListLimit caps the page size a caller may request.
	MaxListLimit = 200
)

// Config configures the HTTP server. Engine, Stats, and DLQ are
// required; the rest have working defaults or disable their feature
// when absent.
type Config struct {
	// Engine executes and tracks tasks.
	Engine *engine.Engine

	// Stats serves the monitoring snapshot.
	Stats *stats.Collector

	// DLQ backs the dead letter endpoints. Must be the same queue the
	// engine writes to.
	DLQ dlq.Queue

	// Search backs the full-text search endpoint. Nil leaves the
	// endpoint unregistered.
	Search *search.Index

	// Limiter throttles callers per API key. Built internally when nil
	// and RateLimit is set.
	Limiter ratelimit.Limiter

	// Logger receives request and error logs. Defaults to a new logger.
	Logger *logging.Logger

	// Addr is the listen address. Default: DefaultAddr.
	Addr string

	// APIKeys lists accepted X-Api-Key values. Empty disables auth.
	APIKeys []string

	// RateLimit is the number of requests allowed per key per
	// RateWindow. Zero disables rate limiting.
	RateLimit int

	// RateWindow is the rate limit refill period. Default: one minute.
	RateWindow time.Duration

	// SyncTimeout caps how long a synchronous submission may block.
	// Default: engine.DefaultSyncTimeout.
	SyncTimeout time.Duration

	// StreamPoll is the stream's default poll interval.
	// Default: DefaultStreamPoll.
	StreamPoll time.Duration

	// StreamTimeout is the stream's maximum lifetime.
	// Default: DefaultStreamTimeout.
	StreamTimeout time.Duration
}

// Server is the HTTP front end. Build it with New, then either run
// Start/Shutdown or mount Router on an existing server.
type Server struct {
	engine  *engine.Engine
	stats   *stats.Collector
	queue   dlq.Queue
	search  *search.Index
	limiter ratelimit.Limiter
	logger  *logging.Logger
	cfg     Config

	keys   map[string]struct{}
	router *gin.Engine
	srv    *http.Server

	ownsLimiter bool
}

// New builds the server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("stats collector is required")
	}
	if cfg.DLQ == nil {
		return nil, fmt.Errorf("dead letter queue is required")
	}

	s := &Server{
		engine:  cfg.Engine,
		stats:   cfg.Stats,
		queue:   cfg.DLQ,
		search:  cfg.Search,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
		cfg:     cfg,
		keys:    make(map[string]struct{}, len(cfg.APIKeys)),
	}
	for _, key := range cfg.APIKeys {
		if key != "" {
			s.keys[key] = struct{}{}
		}
	}

	if s.logger == nil {
		s.logger = logging.New().WithComponent("api")
	}
	if s.cfg.Addr == "" {
		s.cfg.Addr = DefaultAddr
	}
	if s.cfg.RateWindow <= 0 {
		s.cfg.RateWindow = DefaultRateWindow
	}
	if s.cfg.SyncTimeout <= 0 {
		s.cfg.SyncTimeout = engine.DefaultSyncTimeout
	}
	if s.cfg.StreamPoll <= 0 {
		s.cfg.StreamPoll = DefaultStreamPoll
	}
	if s.cfg.StreamTimeout <= 0 {
		s.cfg.StreamTimeout = DefaultStreamTimeout
	}
	if s.cfg.RateLimit > 0 && s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter()
		s.ownsLimiter = true
	}

	s.router = s.buildRouter()
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router returns the gin engine, for tests and custom mounting.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP until Shutdown is called. It blocks; run it in a
// goroutine. Returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"addr": s.cfg.Addr})
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener. Streams
// observe their request context and end on their own.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if s.ownsLimiter {
		s.limiter.Close()
	}
	return err
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	router.GET("/healthz", s.healthz)
	router.GET("/readyz", s.readyz)

	v1 := router.Group("/api/v1")
	v1.Use(s.apiKeyAuth())
	if s.limiter != nil && s.cfg.RateLimit > 0 {
		v1.Use(s.rateLimit())
	}
	{
		v1.POST("/tasks", s.createTask)
		v1.GET("/tasks", s.listTasks)
		if s.search != nil {
			v1.GET("/tasks/search", s.searchTasks)
		}
		v1.GET("/tasks/:id", s.getTask)
		v1.GET("/tasks/:id/events", s.taskEvents)
		v1.GET("/tasks/:id/stream", s.streamTask)
		v1.POST("/tasks/:id/cancel", s.cancelTask)
		v1.POST("/tasks/:id/retry", s.retryTask)

		v1.GET("/stats", s.statsSnapshot)

		v1.GET("/dead-letter", s.listDeadLetters)
		v1.GET("/dead-letter/:id", s.getDeadLetter)
		v1.DELETE("/dead-letter/:id", s.deleteDeadLetter)
		v1.POST("/dead-letter/:id/requeue", s.requeueDeadLetter)
	}

	return router
}

// GET /healthz
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /readyz
func (s *Server) readyz(c *gin.Context) {
	// The snapshot touches the task store, so a passing read means the
	// storage backend is reachable.
	if _, err := s.stats.Stats(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}
