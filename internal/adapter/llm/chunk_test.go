package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

func TestParseChunkRoleAndContent(t *testing.T) {
	d, err := ParseChunk([]byte(`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "assistant", d.Role)
	assert.Equal(t, "Hi", d.Content)
	assert.Empty(t, d.FinishReason)
}

func TestParseChunkFinishReason(t *testing.T) {
	d, err := ParseChunk([]byte(`{"choices":[{"delta":{"content":" there"},"finish_reason":"stop"}]}`))
	require.NoError(t, err)
	assert.Equal(t, " there", d.Content)
	assert.Equal(t, domain.FinishStop, d.FinishReason)

	d, err = ParseChunk([]byte(`{"choices":[{"delta":{},"finish_reason":null}]}`))
	require.NoError(t, err)
	assert.Empty(t, d.FinishReason)
}

func TestParseChunkIgnoresUnknownFields(t *testing.T) {
	d, err := ParseChunk([]byte(`{"choices":[{"delta":{"content":"x","reasoning":"hmm"},"logprobs":null}],"system_fingerprint":"fp"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", d.Content)
}

func TestParseChunkToolCallFragments(t *testing.T) {
	d, err := ParseChunk([]byte(`{"choices":[{"delta":{"tool_calls":[
		{"index":0,"id":"call_a","type":"function","function":{"name":"read_file","arguments":"{\"pa"}},
		{"index":1,"function":{"arguments":"{}"}}
	]}}]}`))
	require.NoError(t, err)
	require.Len(t, d.ToolCalls, 2)
	assert.Equal(t, domain.ToolCallFragment{Index: 0, ID: "call_a", Name: "read_file", Arguments: `{"pa`}, d.ToolCalls[0])
	assert.Equal(t, 1, d.ToolCalls[1].Index)
	assert.Empty(t, d.ToolCalls[1].ID)
}

func TestParseChunkUsageOnly(t *testing.T) {
	d, err := ParseChunk([]byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7,"cost":0.0001}}`))
	require.NoError(t, err)
	require.NotNil(t, d.Usage)
	assert.Equal(t, 5, d.Usage.InputTokens)
	assert.Equal(t, 2, d.Usage.OutputTokens)
	assert.InDelta(t, 0.0001, d.Usage.TotalCost, 1e-9)
	assert.Empty(t, d.Content)
}

func TestParseChunkInlineError(t *testing.T) {
	d, err := ParseChunk([]byte(`{"error":{"message":"model overloaded","code":503}}`))
	require.NoError(t, err)
	assert.Equal(t, "model overloaded", d.ServerError)
}

func TestParseChunkMalformedJSON(t *testing.T) {
	_, err := ParseChunk([]byte(`{"choices":[{"delta":`))
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestParseChunkTypedToolEvent(t *testing.T) {
	d, err := ParseChunk([]byte(`{"type":"tool_call.completed","id":"t1","output":{"lines":3}}`))
	require.NoError(t, err)
	require.NotNil(t, d.Tool)
	assert.Equal(t, domain.ToolEventCompleted, d.Tool.Kind)
	assert.Equal(t, `{"lines":3}`, d.Tool.Output)
}

func TestMapEventRouting(t *testing.T) {
	tests := []struct {
		name  string
		ev    Event
		check func(t *testing.T, d *domain.StreamDelta)
	}{
		{"default", Event{Data: `{"choices":[{"delta":{"content":"a"}}]}`}, func(t *testing.T, d *domain.StreamDelta) {
			assert.Equal(t, "a", d.Content)
		}},
		{"message", Event{Name: "message", Data: `{"choices":[{"delta":{"content":"b"}}]}`}, func(t *testing.T, d *domain.StreamDelta) {
			assert.Equal(t, "b", d.Content)
		}},
		{"error json", Event{Name: "error", Data: `{"error":{"message":"boom"}}`}, func(t *testing.T, d *domain.StreamDelta) {
			assert.Equal(t, "boom", d.ServerError)
		}},
		{"error text", Event{Name: "error", Data: `upstream closed`}, func(t *testing.T, d *domain.StreamDelta) {
			assert.Equal(t, "upstream closed", d.ServerError)
		}},
		{"tool started", Event{Name: "tool_call.started", Data: `{"id":"t1","name":"read_file","input":{"path":"a.go"}}`}, func(t *testing.T, d *domain.StreamDelta) {
			require.NotNil(t, d.Tool)
			assert.Equal(t, domain.ToolEventStarted, d.Tool.Kind)
			assert.Equal(t, "read_file", d.Tool.Name)
			assert.Equal(t, `{"path":"a.go"}`, d.Tool.Input)
		}},
		{"tool output string", Event{Name: "tool_call.output", Data: `{"id":"t1","output":"line 1\n"}`}, func(t *testing.T, d *domain.StreamDelta) {
			assert.Equal(t, domain.ToolEventOutput, d.Tool.Kind)
			assert.Equal(t, "line 1\n", d.Tool.Output)
		}},
		{"tool failed", Event{Name: "TOOL_CALL.FAILED", Data: `{"id":"t1","error":"permission denied"}`}, func(t *testing.T, d *domain.StreamDelta) {
			assert.Equal(t, domain.ToolEventFailed, d.Tool.Kind)
			assert.Equal(t, "permission denied", d.Tool.Error)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := MapEvent(tt.ev)
			require.NoError(t, err)
			require.NotNil(t, d)
			tt.check(t, d)
		})
	}
}

func TestMapEventNothingToApply(t *testing.T) {
	for _, ev := range []Event{
		{Name: "ping", Data: "{}"},
		{Name: "keepalive", Data: ""},
		{Name: "future.thing", Data: `{"x":1}`},
		{Name: "tool_call.paused", Data: `{"id":"t1"}`},
	} {
		d, err := MapEvent(ev)
		assert.NoError(t, err, ev.Name)
		assert.Nil(t, d, ev.Name)
	}
}

func TestMapEventToolEventErrors(t *testing.T) {
	_, err := MapEvent(Event{Name: "tool_call.started", Data: `{"name":"x"}`})
	assert.ErrorIs(t, err, domain.ErrProtocol)

	_, err = MapEvent(Event{Name: "tool_call.started", Data: `not json`})
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestParseChunkErrorShapes(t *testing.T) {
	d, err := ParseChunk([]byte(`{"error":"rate limited upstream"}`))
	require.NoError(t, err)
	assert.Equal(t, "rate limited upstream", d.ServerError)

	d, err = ParseChunk([]byte(`{"type":"tool_call.failed","id":"t1","error":"denied"}`))
	require.NoError(t, err)
	require.NotNil(t, d.Tool)
	assert.Equal(t, "denied", d.Tool.Error)
	assert.Empty(t, d.ServerError)
}
