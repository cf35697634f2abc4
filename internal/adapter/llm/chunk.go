package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatstream/internal/domain"
)

// SSE event names understood by MapEvent.
const (
	eventMessage = "message"
	eventChunk   = "chunk"
	eventError   = "error"

	toolEventPrefix = "tool_call."
)

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
	Error   json.RawMessage      `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   *string                `json:"content,omitempty"`
	ToolCalls []openaiStreamToolCall `json:"tool_calls,omitempty"`
}

type openaiStreamToolCall struct {
	Index    *int                   `json:"index,omitempty"`
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	Cost             *float64 `json:"cost,omitempty"`
}

type openaiError struct {
	Message string          `json:"message"`
	Type    string          `json:"type,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

// toolEventPayload is the body of a tool_call.* event. Input and output may
// be sent as JSON values or as strings.
type toolEventPayload struct {
	Type   string          `json:"type,omitempty"`
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// MapEvent converts one decoded SSE record into a StreamDelta. A nil delta
// with a nil error means the record carries nothing to apply (keep-alives,
// unknown event names). The [DONE] sentinel must be handled by the caller.
//
// Payloads that are not valid JSON are reported as protocol errors; the
// stream is aborted rather than risking a silently corrupted message.
func MapEvent(ev Event) (*domain.StreamDelta, error) {
	name := strings.ToLower(strings.TrimSpace(ev.Name))

	switch {
	case name == "" || name == eventMessage || name == eventChunk:
		return ParseChunk([]byte(ev.Data))
	case name == eventError:
		return parseErrorEvent([]byte(ev.Data)), nil
	case strings.HasPrefix(name, toolEventPrefix):
		return parseToolEvent(strings.TrimPrefix(name, toolEventPrefix), []byte(ev.Data))
	default:
		// ping, keepalive and unknown names carry nothing to apply.
		return nil, nil
	}
}

// ParseChunk decodes a chat.completion.chunk payload. Unknown fields are
// ignored. A chunk carrying a "type" of tool_call.* is treated as a tool
// lifecycle event for servers that cannot set SSE event names.
func ParseChunk(data []byte) (*domain.StreamDelta, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: decode chunk: %v", domain.ErrProtocol, err)
	}
	if t := strings.ToLower(head.Type); strings.HasPrefix(t, toolEventPrefix) {
		return parseToolEvent(strings.TrimPrefix(t, toolEventPrefix), data)
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("%w: decode chunk: %v", domain.ErrProtocol, err)
	}

	if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
		return &domain.StreamDelta{ServerError: inlineErrorMessage(chunk.Error)}, nil
	}

	delta := &domain.StreamDelta{}
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		delta.Role = c.Delta.Role
		if c.Delta.Content != nil {
			delta.Content = *c.Delta.Content
		}
		for i, tc := range c.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			delta.ToolCalls = append(delta.ToolCalls, domain.ToolCallFragment{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if c.FinishReason != nil {
			delta.FinishReason = domain.FinishReason(*c.FinishReason)
		}
	}
	if chunk.Usage != nil {
		delta.Usage = &domain.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
		if chunk.Usage.Cost != nil {
			delta.Usage.TotalCost = *chunk.Usage.Cost
		}
	}
	return delta, nil
}

func parseErrorEvent(data []byte) *domain.StreamDelta {
	var wrapper struct {
		Error   *openaiError `json:"error"`
		Message string       `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil {
		if wrapper.Error != nil {
			return &domain.StreamDelta{ServerError: errorMessage(wrapper.Error)}
		}
		if wrapper.Message != "" {
			return &domain.StreamDelta{ServerError: wrapper.Message}
		}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = "server reported an error"
	}
	return &domain.StreamDelta{ServerError: msg}
}

// inlineErrorMessage accepts both {"error":{"message":...}} and
// {"error":"..."} shapes.
func inlineErrorMessage(raw json.RawMessage) string {
	var e openaiError
	if err := json.Unmarshal(raw, &e); err == nil {
		return errorMessage(&e)
	}
	if s := rawToString(raw); s != "" {
		return s
	}
	return "server reported an error"
}

func errorMessage(e *openaiError) string {
	if e.Message != "" {
		return e.Message
	}
	if e.Type != "" {
		return e.Type
	}
	return "server reported an error"
}

func parseToolEvent(kind string, data []byte) (*domain.StreamDelta, error) {
	var p toolEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decode tool event: %v", domain.ErrProtocol, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: tool event %q without id", domain.ErrProtocol, kind)
	}

	ev := &domain.ToolEvent{
		ID:     p.ID,
		Name:   p.Name,
		Input:  rawToString(p.Input),
		Output: rawToString(p.Output),
		Error:  p.Error,
	}
	switch kind {
	case "started", "start", "running":
		ev.Kind = domain.ToolEventStarted
	case "output", "delta", "progress":
		ev.Kind = domain.ToolEventOutput
	case "completed", "complete", "done":
		ev.Kind = domain.ToolEventCompleted
	case "failed", "error":
		ev.Kind = domain.ToolEventFailed
	default:
		// Unknown lifecycle step; ignore for forward compatibility.
		return nil, nil
	}
	return &domain.StreamDelta{Tool: ev}, nil
}

// rawToString unwraps a JSON string, otherwise keeps the raw JSON text.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
