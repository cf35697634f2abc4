package domain

import "time"

// FinishReason is the reason the model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// IsTerminal reports whether the reason ends the turn.
func (f FinishReason) IsTerminal() bool {
	switch f {
	case FinishStop, FinishLength, FinishToolCalls, FinishContentFilter:
		return true
	}
	return false
}

// StreamDelta is a single decoded SSE event, consumed immediately by the
// accumulator and never persisted.
type StreamDelta struct {
	Role         string             `json:"role,omitempty"`
	Content      string             `json:"content,omitempty"`
	ToolCalls    []ToolCallFragment `json:"tool_calls,omitempty"`
	Tool         *ToolEvent         `json:"tool,omitempty"`
	FinishReason FinishReason       `json:"finish_reason,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
	// ServerError is set when the server reports a failure in-band.
	ServerError string `json:"server_error,omitempty"`
}

// Usage tracks token consumption and cost of one turn.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
	// Estimated is true when the numbers were computed locally because the
	// server did not report usage.
	Estimated bool `json:"estimated,omitempty"`
}

// StreamStatus is the state of a StreamSession.
type StreamStatus string

const (
	StatusConnecting StreamStatus = "connecting"
	StatusStreaming  StreamStatus = "streaming"
	StatusCompleted  StreamStatus = "completed"
	StatusCancelled  StreamStatus = "cancelled"
	StatusError      StreamStatus = "error"
)

// IsTerminal reports whether the status has no outgoing transitions.
func (s StreamStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// StreamSession is the aggregate root for one chat turn.
type StreamSession struct {
	ID               string           `json:"session_id"`
	ConversationID   string           `json:"conversation_id,omitempty"`
	Model            string           `json:"model,omitempty"`
	AssistantMessage ChatMessage      `json:"assistant_message"`
	ToolCalls        []ToolCallRecord `json:"tool_calls"`
	Status           StreamStatus     `json:"status"`
	FinishReason     FinishReason     `json:"finish_reason,omitempty"`
	Usage            *Usage           `json:"usage"`
	Err              *StreamError     `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	// Seq increases by one with every published snapshot.
	Seq uint64 `json:"seq"`
}

// Clone returns a deep copy safe to hand to observers.
func (s StreamSession) Clone() StreamSession {
	cp := s
	if s.ToolCalls != nil {
		cp.ToolCalls = make([]ToolCallRecord, len(s.ToolCalls))
		for i, r := range s.ToolCalls {
			cp.ToolCalls[i] = r.Clone()
		}
	}
	if s.Usage != nil {
		u := *s.Usage
		cp.Usage = &u
	}
	if s.Err != nil {
		e := *s.Err
		cp.Err = &e
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return cp
}

// ToolCall returns the record with the given id.
func (s StreamSession) ToolCall(id string) (ToolCallRecord, bool) {
	for _, r := range s.ToolCalls {
		if r.ID == id {
			return r, true
		}
	}
	return ToolCallRecord{}, false
}
