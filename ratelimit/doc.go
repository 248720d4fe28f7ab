// Package ratelimit provides token bucket rate limiting for API callers.
//
// The HTTP surface uses it to throttle submissions per API key, and
// handlers can use it to pace their own calls to upstream services.
//
// # Usage
//
// The MemoryLimiter provides per-process rate limiting using token buckets:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("api-key-1", 60, time.Minute) // 60 requests per minute
//
//	// Non-blocking attempt (HTTP middleware)
//	if !limiter.TryAcquire("api-key-1") {
//	    retryAfter := limiter.RetryAfter("api-key-1")
//	    // respond 429 with Retry-After header
//	}
//
//	// Block until token available (upstream pacing)
//	if err := limiter.Acquire(ctx, "anthropic-api"); err != nil {
//	    return err // context cancelled
//	}
//	defer limiter.Release("anthropic-api")
//
// # Algorithm
//
// Token bucket with continuous refill:
//   - Tokens are added at a fixed rate based on capacity/window
//   - Each Acquire consumes one token
//   - If no tokens available, Acquire blocks (or TryAcquire returns false)
//   - Release returns a token to the bucket (optional, for request tracking)
//
// # Best Practices
//
//   - Set capacity slightly below actual upstream limits for safety margin
//   - Use Release to track in-flight requests, not just rate
//   - Use TryAcquire with fallback for non-critical requests
package ratelimit
