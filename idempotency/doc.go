// Package idempotency deduplicates task submissions by client-supplied key.
//
// The Index interface binds (namespace, key) pairs to task IDs. The first
// Reserve for a pair wins; later Reserves within the TTL window return the
// original task ID so clients that retry a submission get the task they
// already created instead of a duplicate. Namespaces keep keys from
// colliding across agent types.
//
// # Usage
//
//	// Production: Redis-backed, shared across processes
//	idx, _ := idempotency.NewRedisIndex(idempotency.RedisConfig{
//	    Addr: "localhost:6379",
//	})
//
//	// Testing: In-memory
//	idx := idempotency.NewMemoryIndex(time.Hour)
//
//	id, isNew, _ := idx.Reserve(ctx, "summarize", "req-42", candidateID)
//	if !isNew {
//	    // a task for req-42 already exists; return id to the caller
//	}
package idempotency
