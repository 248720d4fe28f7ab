package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBroker implements Broker using in-memory logs.
type MemoryBroker struct {
	mu     sync.RWMutex
	logs   map[string]*taskLog
	closed atomic.Bool
}

type taskLog struct {
	events []*Event
	sealed bool
	subs   []*memorySub
}

// NewMemoryBroker creates a new in-memory event broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		logs: make(map[string]*taskLog),
	}
}

// Append adds an event to its task's log and fans it out to subscribers.
// Sequence assignment and fan-out happen under one lock, so subscribers
// observe appends in exactly log order.
func (b *MemoryBroker) Append(ctx context.Context, event *Event) (*Event, error) {
	if err := Validate(event); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.logs[event.TaskID]
	if log == nil {
		log = &taskLog{}
		b.logs[event.TaskID] = log
	}
	if log.sealed {
		return nil, ErrSealed
	}

	stored := event.Clone()
	stored.Sequence = uint64(len(log.events)) + 1
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	log.events = append(log.events, stored)

	for _, sub := range log.subs {
		sub.push(stored.Clone())
	}

	if stored.Kind == KindComplete {
		log.sealed = true
		for _, sub := range log.subs {
			sub.seal()
		}
		log.subs = nil
	}

	return stored.Clone(), nil
}

// Snapshot returns the task's log in sequence order.
func (b *MemoryBroker) Snapshot(ctx context.Context, taskID string, limit int) ([]*Event, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.logs[taskID]
	if log == nil {
		return []*Event{}, nil
	}

	events := log.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	out := make([]*Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out, nil
}

// Since returns events with sequence numbers greater than afterSeq.
func (b *MemoryBroker) Since(ctx context.Context, taskID string, afterSeq uint64) ([]*Event, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.logs[taskID]
	if log == nil || afterSeq >= uint64(len(log.events)) {
		return []*Event{}, nil
	}

	// Sequences are 1-based and gap-free, so afterSeq is also the index
	// of the first event past it.
	events := log.events[afterSeq:]
	out := make([]*Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out, nil
}

// Subscribe streams events appended after this call.
func (b *MemoryBroker) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	if taskID == "" {
		return nil, ErrInvalidEvent
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		taskID:  taskID,
		broker:  b,
		ch:      make(chan *Event, 16),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	log := b.logs[taskID]
	if log == nil {
		log = &taskLog{}
		b.logs[taskID] = log
	}
	if log.sealed {
		sub.sealed = true
	} else {
		log.subs = append(log.subs, sub)
	}
	b.mu.Unlock()

	go sub.drain()
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.drained:
		}
	}()

	return sub, nil
}

// Purge discards the task's log and cancels its subscriptions.
func (b *MemoryBroker) Purge(ctx context.Context, taskID string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	log := b.logs[taskID]
	delete(b.logs, taskID)
	var subs []*memorySub
	if log != nil {
		subs = log.subs
		log.subs = nil
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel(false)
	}
	return nil
}

// Close shuts down the broker and closes all subscriptions.
func (b *MemoryBroker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	var subs []*memorySub
	for _, log := range b.logs {
		subs = append(subs, log.subs...)
		log.subs = nil
	}
	b.logs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel(false)
	}
	return nil
}

// removeSub detaches a cancelled subscription from its log.
func (b *MemoryBroker) removeSub(taskID string, target *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.logs[taskID]
	if log == nil {
		return
	}
	for i, sub := range log.subs {
		if sub == target {
			log.subs = append(log.subs[:i], log.subs[i+1:]...)
			break
		}
	}
}

// memorySub queues events per subscriber and drains them in order from a
// dedicated goroutine, so a slow consumer delays only itself and never
// loses events.
type memorySub struct {
	taskID string
	broker *MemoryBroker

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*Event
	sealed    bool
	cancelled bool

	ch      chan *Event
	done    chan struct{}
	drained chan struct{}
}

// push is called by the broker with the broker lock held.
func (s *memorySub) push(e *Event) {
	s.mu.Lock()
	if !s.cancelled && !s.sealed {
		s.queue = append(s.queue, e)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// seal marks that no further events will arrive. Queued events still
// drain before the channel closes.
func (s *memorySub) seal() {
	s.mu.Lock()
	s.sealed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *memorySub) drain() {
	defer close(s.drained)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.sealed && !s.cancelled {
			s.cond.Wait()
		}
		if s.cancelled || len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- e:
		case <-s.done:
			close(s.ch)
			return
		}
	}
}

// Events returns the subscription channel.
func (s *memorySub) Events() <-chan *Event {
	return s.ch
}

// Cancel stops the subscription.
func (s *memorySub) Cancel() error {
	s.cancel(true)
	return nil
}

// cancel stops the drain loop. detach controls whether the subscription
// also removes itself from the broker; the broker passes false when it
// already dropped the log.
func (s *memorySub) cancel(detach bool) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.cond.Signal()
	close(s.done)
	s.mu.Unlock()

	if detach {
		s.broker.removeSub(s.taskID, s)
	}
}

var _ Broker = (*MemoryBroker)(nil)
