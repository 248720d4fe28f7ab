// Package dlq holds tasks that failed for good: retries exhausted or a
// non-retryable error. Entries carry a copy of the failed task plus
// their own identity, so deleting or requeueing an entry never touches
// the original task record. Take exists for requeue: it removes the
// entry in the same step that hands it out, which makes a second requeue
// of the same entry fail with ErrNotFound instead of dispatching twice.
package dlq
