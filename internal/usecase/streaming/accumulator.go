package streaming

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatstream/internal/domain"
)

// Publisher receives every snapshot, in order, while the accumulator lock
// is held. It must not block.
type Publisher func(domain.StreamSession)

// Accumulator is the only mutator of a StreamSession. Each successful
// mutation publishes a deep copy with the next sequence number. Once the
// session is terminal every further call is dropped.
type Accumulator struct {
	mu       sync.Mutex
	session  domain.StreamSession
	timeline *Timeline
	publish  Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewAccumulator takes ownership of session, which should be in the
// connecting state.
func NewAccumulator(session domain.StreamSession, timeline *Timeline, publish Publisher, logger *slog.Logger) *Accumulator {
	if publish == nil {
		publish = func(domain.StreamSession) {}
	}
	if session.Status == "" {
		session.Status = domain.StatusConnecting
	}
	if session.AssistantMessage.Role == "" {
		session.AssistantMessage.Role = domain.RoleAssistant
	}
	return &Accumulator{
		session:  session,
		timeline: timeline,
		publish:  publish,
		logger:   logger,
		now:      timeline.now,
	}
}

// Begin publishes the initial connecting snapshot.
func (a *Accumulator) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Seq == 0 {
		a.emit()
	}
}

// Apply folds one delta into the session. It reports whether the session
// changed. A delta carrying a server error ends the session in the error
// state. After a terminal finish reason the only accepted delta is a
// usage-only one, since servers report usage after the last choice.
func (a *Accumulator) Apply(d domain.StreamDelta) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.Status.IsTerminal() {
		if a.session.Status == domain.StatusCompleted && isUsageOnly(d) {
			u := *d.Usage
			a.session.Usage = &u
			a.emit()
			return true
		}
		return false
	}

	if d.ServerError != "" {
		a.failLocked(errors.Join(domain.ErrProviderError, errors.New(d.ServerError)))
		return true
	}

	if a.session.Status == domain.StatusConnecting {
		a.session.Status = domain.StatusStreaming
	}
	if d.Role != "" {
		a.session.AssistantMessage.Role = d.Role
	}
	a.session.AssistantMessage.Content += d.Content

	for _, f := range d.ToolCalls {
		a.timeline.ApplyFragment(f)
	}
	if d.Tool != nil {
		if _, err := a.timeline.ApplyEvent(*d.Tool); err != nil {
			a.logger.Warn("ignoring tool event",
				"session_id", a.session.ID,
				"tool_call_id", d.Tool.ID,
				"kind", string(d.Tool.Kind),
				"error", err,
			)
		}
	}
	if d.Usage != nil {
		u := *d.Usage
		a.session.Usage = &u
	}

	if d.FinishReason.IsTerminal() {
		a.session.FinishReason = d.FinishReason
		a.terminate(domain.StatusCompleted)
		return true
	}
	a.emit()
	return true
}

// Done handles the end-of-stream sentinel. A second call is a no-op.
func (a *Accumulator) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Status.IsTerminal() {
		return false
	}
	a.terminate(domain.StatusCompleted)
	return true
}

// Fail ends the session in the error state, keeping partial content.
func (a *Accumulator) Fail(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Status.IsTerminal() {
		return false
	}
	a.failLocked(err)
	return true
}

// Cancel ends the session in the cancelled state. It returns false when the
// session had already ended.
func (a *Accumulator) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Status.IsTerminal() {
		return false
	}
	a.terminate(domain.StatusCancelled)
	return true
}

// SetUsage fills in usage when the server reported none. It and SetCost
// are the only changes allowed after the session ended.
func (a *Accumulator) SetUsage(u domain.Usage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Usage != nil {
		return false
	}
	a.session.Usage = &u
	a.emit()
	return true
}

// SetCost replaces server-reported usage that came without a price. Token
// counts must be unchanged.
func (a *Accumulator) SetCost(u domain.Usage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.session.Usage
	if cur == nil || cur.TotalCost != 0 || u.TotalCost == 0 ||
		cur.InputTokens != u.InputTokens || cur.OutputTokens != u.OutputTokens {
		return false
	}
	a.session.Usage = &u
	a.emit()
	return true
}

// Status returns the current session status.
func (a *Accumulator) Status() domain.StreamStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Status
}

// Snapshot returns a deep copy of the current session.
func (a *Accumulator) Snapshot() domain.StreamSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Accumulator) failLocked(err error) {
	a.session.Err = domain.NewStreamError(err)
	a.terminate(domain.StatusError)
}

func (a *Accumulator) terminate(status domain.StreamStatus) {
	end := a.now()
	a.session.Status = status
	a.session.EndedAt = &end
	a.emit()
}

func (a *Accumulator) emit() {
	a.session.Seq++
	a.publish(a.snapshotLocked())
}

func (a *Accumulator) snapshotLocked() domain.StreamSession {
	s := a.session.Clone()
	s.ToolCalls = a.timeline.Records()
	return s
}

func isUsageOnly(d domain.StreamDelta) bool {
	return d.Usage != nil && d.Content == "" && d.Role == "" &&
		len(d.ToolCalls) == 0 && d.Tool == nil && d.FinishReason == "" && d.ServerError == ""
}
