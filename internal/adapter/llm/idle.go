package llm

import (
	"io"
	"sync"
	"time"

	"chatstream/internal/domain"
)

// idleReader closes the wrapped body when no bytes arrive within timeout.
// The timer is armed only while a Read is outstanding, so time spent by the
// consumer between reads never counts as idle.
type idleReader struct {
	body    io.ReadCloser
	timeout time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	timedOut bool
	closed   bool
}

// newIdleReader wraps body. A non-positive timeout disables the watchdog.
func newIdleReader(body io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return body
	}
	return &idleReader{body: body, timeout: timeout}
}

func (r *idleReader) Read(p []byte) (int, error) {
	r.arm()
	n, err := r.body.Read(p)
	r.disarm()

	r.mu.Lock()
	timedOut := r.timedOut
	r.mu.Unlock()

	if timedOut {
		return n, domain.ErrIdleTimeout
	}
	return n, err
}

func (r *idleReader) arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timedOut || r.closed {
		return
	}
	if r.timer == nil {
		r.timer = time.AfterFunc(r.timeout, r.expire)
		return
	}
	r.timer.Reset(r.timeout)
}

func (r *idleReader) disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *idleReader) expire() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.timedOut = true
	r.mu.Unlock()
	// Closing the body unblocks the pending Read.
	r.body.Close()
}

func (r *idleReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	alreadyClosed := r.timedOut
	r.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	return r.body.Close()
}
