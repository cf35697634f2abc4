package domain

import (
	"encoding/json"
	"time"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolState is the lifecycle state of a reported tool invocation.
type ToolState string

const (
	ToolPending   ToolState = "pending"
	ToolRunning   ToolState = "running"
	ToolCompleted ToolState = "completed"
	ToolError     ToolState = "error"
)

// rank orders states so transitions can only move forward.
func (s ToolState) rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolRunning:
		return 1
	case ToolCompleted, ToolError:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s ToolState) IsTerminal() bool {
	return s == ToolCompleted || s == ToolError
}

// CanTransition reports whether moving from s to next is a forward move.
func (s ToolState) CanTransition(next ToolState) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ToolCallRecord tracks the reported lifecycle of one tool invocation.
type ToolCallRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	State         ToolState  `json:"state"`
	InputPayload  string     `json:"input_payload"`
	OutputPayload *string    `json:"output_payload"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	ErrorMessage  *string    `json:"error_message"`

	// Catalog enrichment.
	Category        string `json:"category,omitempty"`
	Server          string `json:"server,omitempty"`
	ValidationError string `json:"validation_error,omitempty"`
}

// Clone returns a deep copy of the record.
func (r ToolCallRecord) Clone() ToolCallRecord {
	cp := r
	if r.OutputPayload != nil {
		v := *r.OutputPayload
		cp.OutputPayload = &v
	}
	if r.EndedAt != nil {
		v := *r.EndedAt
		cp.EndedAt = &v
	}
	if r.ErrorMessage != nil {
		v := *r.ErrorMessage
		cp.ErrorMessage = &v
	}
	return cp
}

// ToolCallFragment is one incremental piece of a model-issued tool call as
// carried by a chunk's delta.tool_calls array.
type ToolCallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolEventKind identifies a tool lifecycle event reported by the server.
type ToolEventKind string

const (
	ToolEventStarted   ToolEventKind = "started"
	ToolEventOutput    ToolEventKind = "output"
	ToolEventCompleted ToolEventKind = "completed"
	ToolEventFailed    ToolEventKind = "failed"
)

// ToolEvent is a lifecycle signal for a tool call, interleaved with chat
// deltas on the same stream.
type ToolEvent struct {
	Kind   ToolEventKind `json:"kind"`
	ID     string        `json:"id"`
	Name   string        `json:"name,omitempty"`
	Input  string        `json:"input,omitempty"`
	Output string        `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ToolCatalogEntry describes a known tool. Catalogs are configuration data
// and do not take part in the stream state machine.
type ToolCatalogEntry struct {
	Name        string          `json:"name"`
	Server      string          `json:"server,omitempty"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolCatalog is a lookup table of tools the backend may report.
type ToolCatalog interface {
	Lookup(name string) (ToolCatalogEntry, bool)
	// ValidateInput checks input against the tool's schema. Unknown tools
	// and tools without a schema validate successfully.
	ValidateInput(name string, input string) error
}
