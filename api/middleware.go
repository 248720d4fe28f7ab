package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// apiKeyHeader carries the caller's key on authenticated routes.
const apiKeyHeader = "X-Api-Key"

// callerKeyContext is where auth stores the accepted key for later
// middleware.
const callerKeyContext = "callerKey"

// requestLog emits one structured line per request.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
	}
}

// apiKeyAuth rejects requests whose X-Api-Key is not in the configured
// set. With no keys configured every request passes.
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.keys) == 0 {
			c.Next()
			return
		}

		key := c.GetHeader(apiKeyHeader)
		if _, ok := s.keys[key]; !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing api key"})
			c.Abort()
			return
		}

		c.Set(callerKeyContext, key)
		c.Next()
	}
}

// rateLimit enforces the per-key token bucket. Buckets are created on
// first sight of a key; anonymous callers share a bucket per client IP.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(callerKeyContext)
		if key == "" {
			key = c.ClientIP()
		}

		if s.limiter.GetCapacity(key) == nil {
			s.limiter.SetCapacity(key, s.cfg.RateLimit, s.cfg.RateWindow)
		}

		if !s.limiter.TryAcquire(key) {
			retry := retryAfterSeconds(s.limiter.RetryAfter(key))
			c.Header("Retry-After", strconv.Itoa(retry))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// retryAfterSeconds rounds a wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
