// Package events owns the per-task ordered event logs that carry task
// progress to polling and streaming clients.
//
// Each task has one append-only log. The broker assigns sequence numbers
// (1-based, gap-free) on append, and a complete event seals the log: it
// is always the last entry, and later appends fail with ErrSealed.
// Subscribers get every event appended after they subscribed, in order,
// with no drops or duplicates; each subscription drains through its own
// queue so a slow consumer delays only itself.
//
// # Usage
//
//	broker := events.NewMemoryBroker()
//	defer broker.Close()
//
//	sub, _ := broker.Subscribe(ctx, taskID)
//	go func() {
//	    for e := range sub.Events() {
//	        fmt.Printf("seq=%d kind=%s\n", e.Sequence, e.Kind)
//	    }
//	}()
//
//	broker.Append(ctx, events.Progress(taskID, 50, "render", "halfway"))
//	broker.Append(ctx, events.Complete(taskID, "completed", ""))
//	// sub.Events() delivers both, then closes.
//
// The optional NATS relay mirrors every append to "taskkit.events.<id>"
// for out-of-process consumers:
//
//	relayed, _ := events.NewRelay(broker, events.RelayConfig{
//	    URL: "nats://localhost:4222",
//	})
package events
