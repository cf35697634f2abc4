package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatstream/internal/domain"
)

type envelope struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns a mailbox drained by a single goroutine, so one
// subscriber sees events in publish order.
type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []envelope
	closing bool
}

func newSubscription(id uint64, handler domain.EventHandler) *subscription {
	s := &subscription{id: id, handler: handler}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) push(ctx context.Context, event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.queue = append(s.queue, envelope{ctx: ctx, event: event})
	s.cond.Signal()
}

// stop ends the mailbox. With drain set, queued events are still delivered.
func (s *subscription) stop(drain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	if !drain {
		s.queue = nil
	}
	s.cond.Broadcast()
}

func (s *subscription) next() (envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closing {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return envelope{}, false
	}
	env := s.queue[0]
	s.queue[0] = envelope{}
	s.queue = s.queue[1:]
	return env, true
}

// Bus is an in-process, goroutine-safe event bus.
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

// Publish enqueues an event for matching typed subscribers and all-event
// subscribers. It never blocks on a handler. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.typed[event.Type] {
		sub.push(ctx, event)
	}
	for _, sub := range b.allSubs {
		sub.push(ctx, event)
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		env, ok := sub.next()
		if !ok {
			return
		}
		b.deliver(sub, env)
	}
}

func (b *Bus) deliver(sub *subscription, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(env.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(env.ctx, env.event)
}

func (b *Bus) start(sub *subscription) bool {
	if b.closed.Load() {
		return false
	}
	b.wg.Add(1)
	go b.run(sub)
	return true
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := newSubscription(b.nextID.Add(1), handler)

	b.mu.Lock()
	if !b.start(sub) {
		b.mu.Unlock()
		return func() {}
	}
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				s.stop(false)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := newSubscription(b.nextID.Add(1), handler)

	b.mu.Lock()
	if !b.start(sub) {
		b.mu.Unlock()
		return func() {}
	}
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				s.stop(false)
				return
			}
		}
	}
}

// Close prevents new publishes, delivers what is already queued and waits
// for every mailbox to drain. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return
	}
	for _, subs := range b.typed {
		for _, s := range subs {
			s.stop(true)
		}
	}
	for _, s := range b.allSubs {
		s.stop(true)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
