package streaming

import (
	"context"
	"sync"

	"chatstream/internal/domain"
)

// Feed fans snapshots of one session out to any number of subscribers.
// Publish never blocks: each subscriber owns a mailbox drained by its own
// goroutine, so a slow reader delays only itself. A mailbox holds at most
// buffer snapshots; when it is full the newest queued snapshot is replaced,
// so a slow reader skips ahead but still sees increasing Seq values and the
// terminal snapshot.
type Feed struct {
	mu       sync.Mutex
	latest   domain.StreamSession
	has      bool
	terminal bool
	closed   bool
	subs     map[*mailbox]struct{}
	buffer   int
}

func newFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 1
	}
	return &Feed{subs: make(map[*mailbox]struct{}), buffer: buffer}
}

// Publish records s as the latest snapshot and queues it for every
// subscriber. Once a terminal snapshot is published only terminal
// snapshots are accepted, such as the same session with usage filled in.
func (f *Feed) Publish(s domain.StreamSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || (f.terminal && !s.Status.IsTerminal()) {
		return
	}
	f.latest, f.has = s, true
	f.terminal = s.Status.IsTerminal()
	for m := range f.subs {
		m.push(s.Clone(), false)
	}
}

// Close ends the feed. Subscribers receive what is already queued and then
// see their channel closed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for m := range f.subs {
		m.push(domain.StreamSession{}, true)
	}
	f.subs = nil
}

// Latest returns the most recent snapshot.
func (f *Feed) Latest() (domain.StreamSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest.Clone(), f.has
}

// Subscribe returns a channel that first yields the latest snapshot and
// then later ones. It is closed after Close or when ctx ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan domain.StreamSession {
	m := newMailbox(f.buffer)

	f.mu.Lock()
	if f.has {
		m.push(f.latest.Clone(), false)
	}
	if f.closed {
		m.push(domain.StreamSession{}, true)
	} else {
		f.subs[m] = struct{}{}
	}
	f.mu.Unlock()

	stop := context.AfterFunc(ctx, m.abort)
	go func() {
		defer stop()
		m.run(ctx)
		f.mu.Lock()
		delete(f.subs, m)
		f.mu.Unlock()
	}()
	return m.out
}

type mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []domain.StreamSession
	limit   int
	last    bool
	aborted bool
	out     chan domain.StreamSession
}

func newMailbox(buffer int) *mailbox {
	m := &mailbox{out: make(chan domain.StreamSession, buffer), limit: buffer}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) push(s domain.StreamSession, last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last || m.aborted {
		return
	}
	switch {
	case s.Status == "":
	case len(m.queue) >= m.limit:
		m.queue[len(m.queue)-1] = s
	default:
		m.queue = append(m.queue, s)
	}
	m.last = last
	m.cond.Signal()
}

func (m *mailbox) abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = true
	m.queue = nil
	m.cond.Broadcast()
}

func (m *mailbox) next() (domain.StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.last && !m.aborted {
		m.cond.Wait()
	}
	if m.aborted || len(m.queue) == 0 {
		return domain.StreamSession{}, false
	}
	s := m.queue[0]
	m.queue[0] = domain.StreamSession{}
	m.queue = m.queue[1:]
	return s, true
}

func (m *mailbox) run(ctx context.Context) {
	defer close(m.out)
	for {
		s, ok := m.next()
		if !ok {
			return
		}
		select {
		case m.out <- s:
		case <-ctx.Done():
			return
		}
	}
}
