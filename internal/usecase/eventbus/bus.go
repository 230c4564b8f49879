package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatline/internal/domain"
)

// queueSize is the per-subscriber backlog before Publish starts blocking.
const queueSize = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu     sync.Mutex
	closed bool
	queue  chan delivery
}

func (s *subscription) deliver(d delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- d:
	case <-d.ctx.Done():
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// Bus is an in-process, goroutine-safe event bus. Every subscriber has its
// own goroutine and receives events in publish order. Handlers must not block
// for long: a full backlog makes Publish wait.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish queues event for matching typed subscribers and all-event
// subscribers. It returns once the event is queued everywhere or ctx ends.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	targets = append(targets, b.typed[event.Type]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(delivery{ctx: ctx, event: event})
	}
}

func (b *Bus) start(sub *subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range sub.queue {
			b.invoke(sub, d)
		}
	}()
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	// The publisher's cancellation only bounds queueing, not handling.
	sub.handler(context.WithoutCancel(d.ctx), d.event)
}

func (b *Bus) newSubscription(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		queue:   make(chan delivery, queueSize),
	}
	b.start(sub)
	if b.closed.Load() {
		sub.stop()
	}
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.typed[eventType] = remove(b.typed[eventType], sub.id)
		b.mu.Unlock()
		sub.stop()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.allSubs = remove(b.allSubs, sub.id)
		b.mu.Unlock()
		sub.stop()
	}
}

func remove(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes, lets every subscriber drain what is already
// queued and waits for them to finish. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	var subs []*subscription
	for _, typed := range b.typed {
		subs = append(subs, typed...)
	}
	subs = append(subs, b.allSubs...)
	b.typed = make(map[domain.EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
