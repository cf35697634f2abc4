package streaming

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"chatstream/internal/domain"
)

const syntheticIDPrefix = "call_"

type timelineEntry struct {
	rec       domain.ToolCallRecord
	synthetic bool
	validated bool
}

// Timeline tracks the reported lifecycle of every tool call in one turn.
// Records keep the order in which their ids were first seen and only move
// forward through their states. It is not safe for concurrent use; the
// Accumulator serializes access.
type Timeline struct {
	entries []*timelineEntry
	// byID holds only server-issued ids. Placeholder ids given to fragments
	// without one are reachable by index alone, so a real id that happens to
	// look like a placeholder never merges two calls.
	byID    map[string]*timelineEntry
	byIndex map[int]*timelineEntry
	catalog domain.ToolCatalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewTimeline creates an empty timeline. catalog may be nil.
func NewTimeline(catalog domain.ToolCatalog, logger *slog.Logger, now func() time.Time) *Timeline {
	if now == nil {
		now = time.Now
	}
	return &Timeline{
		byID:    make(map[string]*timelineEntry),
		byIndex: make(map[int]*timelineEntry),
		catalog: catalog,
		logger:  logger,
		now:     now,
	}
}

// Len returns the number of records.
func (t *Timeline) Len() int { return len(t.entries) }

// Records returns deep copies of all records in first-sighting order.
func (t *Timeline) Records() []domain.ToolCallRecord {
	out := make([]domain.ToolCallRecord, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.rec.Clone()
	}
	return out
}

// ApplyFragment folds one model-issued tool-call fragment into the timeline.
// Fragments are matched by index because only the first one of a call
// carries the id. It reports whether anything changed.
func (t *Timeline) ApplyFragment(f domain.ToolCallFragment) bool {
	e := t.byIndex[f.Index]
	changed := false

	switch {
	case e == nil && f.ID != "" && t.byID[f.ID] != nil:
		e = t.byID[f.ID]
		t.byIndex[f.Index] = e
	case e == nil:
		if f.ID == "" {
			e = t.add(syntheticIDPrefix+strconv.Itoa(f.Index), f.Name, domain.ToolPending)
			e.synthetic = true
		} else {
			e = t.create(f.ID, f.Name, domain.ToolPending)
		}
		t.byIndex[f.Index] = e
		changed = true
	case f.ID != "" && e.rec.ID != f.ID:
		switch existing := t.byID[f.ID]; {
		case existing != nil:
			e = existing
		case e.synthetic:
			t.rekey(e, f.ID)
			changed = true
		default:
			// A new id on a known index starts a different call.
			e = t.create(f.ID, f.Name, domain.ToolPending)
			changed = true
		}
		t.byIndex[f.Index] = e
	}

	if e.rec.State.IsTerminal() {
		return changed
	}
	if f.Name != "" && e.rec.Name == "" {
		e.rec.Name = f.Name
		t.enrich(e)
		changed = true
	}
	if f.Arguments != "" {
		e.rec.InputPayload += f.Arguments
		changed = true
	}
	return changed
}

// ApplyEvent applies a server-reported lifecycle event. Output, completion
// and failure for an id that was never seen return ErrUnknownToolCall and
// leave the timeline untouched.
func (t *Timeline) ApplyEvent(ev domain.ToolEvent) (bool, error) {
	e := t.byID[ev.ID]

	if ev.Kind == domain.ToolEventStarted {
		if e == nil {
			e = t.create(ev.ID, ev.Name, domain.ToolRunning)
			e.rec.InputPayload = ev.Input
			t.validate(e)
			return true, nil
		}
		if !e.rec.State.CanTransition(domain.ToolRunning) {
			return false, nil
		}
		if e.rec.Name == "" && ev.Name != "" {
			e.rec.Name = ev.Name
			t.enrich(e)
		}
		if ev.Input != "" && e.rec.InputPayload == "" {
			e.rec.InputPayload = ev.Input
		}
		e.rec.State = domain.ToolRunning
		t.validate(e)
		return true, nil
	}

	if e == nil {
		return false, fmt.Errorf("%w: %q (%s)", domain.ErrUnknownToolCall, ev.ID, ev.Kind)
	}
	if e.rec.State.IsTerminal() {
		return false, nil
	}

	switch ev.Kind {
	case domain.ToolEventOutput:
		if e.rec.State == domain.ToolPending {
			e.rec.State = domain.ToolRunning
		}
		appendOutput(&e.rec, ev.Output)
		return true, nil
	case domain.ToolEventCompleted:
		appendOutput(&e.rec, ev.Output)
		if e.rec.OutputPayload == nil {
			empty := ""
			e.rec.OutputPayload = &empty
		}
		t.validate(e)
		t.finish(e, domain.ToolCompleted)
		return true, nil
	case domain.ToolEventFailed:
		msg := ev.Error
		if msg == "" {
			msg = "tool call failed"
		}
		e.rec.ErrorMessage = &msg
		t.finish(e, domain.ToolError)
		return true, nil
	default:
		return false, nil
	}
}

func (t *Timeline) create(id, name string, state domain.ToolState) *timelineEntry {
	e := t.add(id, name, state)
	t.byID[id] = e
	return e
}

// add appends a record without making it reachable by id.
func (t *Timeline) add(id, name string, state domain.ToolState) *timelineEntry {
	e := &timelineEntry{rec: domain.ToolCallRecord{
		ID:        id,
		Name:      name,
		State:     state,
		StartedAt: t.now(),
	}}
	t.enrich(e)
	t.entries = append(t.entries, e)
	return e
}

// rekey replaces a synthetic id in place; the record keeps its position.
func (t *Timeline) rekey(e *timelineEntry, id string) {
	e.rec.ID = id
	e.synthetic = false
	t.byID[id] = e
}

func (t *Timeline) finish(e *timelineEntry, state domain.ToolState) {
	end := t.now()
	e.rec.State = state
	e.rec.EndedAt = &end
}

func (t *Timeline) enrich(e *timelineEntry) {
	if t.catalog == nil || e.rec.Name == "" {
		return
	}
	if entry, ok := t.catalog.Lookup(e.rec.Name); ok {
		e.rec.Category = entry.Category
		e.rec.Server = entry.Server
	}
}

func (t *Timeline) validate(e *timelineEntry) {
	if e.validated || t.catalog == nil || e.rec.Name == "" {
		return
	}
	e.validated = true
	if err := t.catalog.ValidateInput(e.rec.Name, e.rec.InputPayload); err != nil {
		e.rec.ValidationError = err.Error()
		t.logger.Warn("tool input failed schema validation",
			"tool_call_id", e.rec.ID,
			"tool", e.rec.Name,
			"error", err,
		)
	}
}

func appendOutput(rec *domain.ToolCallRecord, chunk string) {
	if chunk == "" {
		return
	}
	if rec.OutputPayload == nil {
		rec.OutputPayload = &chunk
		return
	}
	joined := *rec.OutputPayload + chunk
	rec.OutputPayload = &joined
}
