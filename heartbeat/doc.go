// Package heartbeat tracks worker pool liveness.
//
// # Overview
//
// Each worker in the pool periodically records a beat carrying its state
// and the task it is executing. The Tracker keeps the latest beat per
// worker, and a background checker flags workers whose beats stop
// arriving, usually a handler stuck in a blocking call that ignores its
// context. The stats surface reads Snapshot and Counts to report worker
// health.
//
// # Usage
//
// Recording beats from a worker loop:
//
//	tracker := heartbeat.NewTracker(heartbeat.DefaultTrackerConfig())
//	tracker.Start()
//
//	tracker.Beat("worker-3", heartbeat.StateBusy, task.ID)
//	// ... execute the task ...
//	tracker.Beat("worker-3", heartbeat.StateIdle, "")
//
// Reacting to stalls:
//
//	tracker.OnStalled(func(workerID string) {
//	    log.Warn("worker stalled", map[string]interface{}{"worker_id": workerID})
//	})
//
// # Recommendations
//
//   - Set Timeout to 2-3x the beat interval
//   - Handle OnStalled callbacks idempotently; a worker that recovers
//     and stalls again is reported again
package heartbeat
