package tui

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

func snapshot(status domain.StreamStatus, content string, tools ...domain.ToolCallRecord) domain.StreamSession {
	return domain.StreamSession{
		ID:               "s1",
		Model:            "gpt-4o-mini",
		Status:           status,
		AssistantMessage: domain.ChatMessage{Role: domain.RoleAssistant, Content: content},
		ToolCalls:        tools,
		StartedAt:        time.Unix(1_700_000_000, 0),
	}
}

func TestRawRendererWritesContentOnce(t *testing.T) {
	var out, status bytes.Buffer
	r := NewRenderer(&out, &status, Options{Raw: true})

	r.Update(snapshot(domain.StatusConnecting, ""))
	r.Update(snapshot(domain.StatusStreaming, "Hi"))
	r.Update(snapshot(domain.StatusStreaming, "Hi"))
	r.Update(snapshot(domain.StatusStreaming, "Hi there"))
	require.NoError(t, r.Finish(snapshot(domain.StatusCompleted, "Hi there")))

	assert.Equal(t, "Hi there\n", out.String())
	assert.Contains(t, status.String(), "completed")
}

func TestRendererPrintsToolTransitions(t *testing.T) {
	var out, status bytes.Buffer
	r := NewRenderer(&out, &status, Options{Raw: true})

	running := domain.ToolCallRecord{ID: "t1", Name: "read_file", State: domain.ToolRunning}
	r.Update(snapshot(domain.StatusStreaming, "", running))
	r.Update(snapshot(domain.StatusStreaming, "", running))

	msg := "denied"
	failed := running
	failed.State = domain.ToolError
	failed.ErrorMessage = &msg
	r.Update(snapshot(domain.StatusStreaming, "", failed))

	lines := strings.Split(strings.TrimSpace(status.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "read_file")
	assert.Contains(t, lines[0], "running")
	assert.Contains(t, lines[1], "denied")
}

func TestFinishRendersMarkdown(t *testing.T) {
	var out, status bytes.Buffer
	r := NewRenderer(&out, &status, Options{Width: 60})

	r.Update(snapshot(domain.StatusStreaming, "# Title"))
	assert.Empty(t, out.String(), "markdown mode waits for the final message")

	require.NoError(t, r.Finish(snapshot(domain.StatusCompleted, "# Title\n\nSome **bold** text.")))
	assert.Contains(t, out.String(), "Title")
	assert.Contains(t, out.String(), "bold")
}

func TestFinishShowsErrorHints(t *testing.T) {
	var out, status bytes.Buffer
	r := NewRenderer(&out, &status, Options{Raw: true})

	snap := snapshot(domain.StatusError, "partial")
	snap.Err = domain.NewStreamError(fmt.Errorf("%w: no bytes for 30s", domain.ErrIdleTimeout))
	require.NoError(t, r.Finish(snap))

	assert.Equal(t, "partial\n", out.String())
	assert.Contains(t, status.String(), "Stream Stalled")
	assert.Contains(t, status.String(), "stream.idle_timeout")
}

func TestStatusLine(t *testing.T) {
	snap := snapshot(domain.StatusCompleted, "Hi",
		domain.ToolCallRecord{ID: "t1", Name: "a", State: domain.ToolCompleted})
	end := snap.StartedAt.Add(1500 * time.Millisecond)
	snap.EndedAt = &end
	snap.FinishReason = domain.FinishReason("stop")
	snap.Usage = &domain.Usage{InputTokens: 12, OutputTokens: 5, TotalCost: 0.0012, Estimated: true}

	line := StatusLine(snap)
	for _, want := range []string{"completed", "gpt-4o-mini", "finish: stop", "1 tool calls", "12", "(est.)", "$0.0012", "1.5s"} {
		assert.Contains(t, line, want)
	}
}

func TestToolLine(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	end := start.Add(120 * time.Millisecond)
	rec := domain.ToolCallRecord{
		Name:            "search",
		Server:          "docs",
		State:           domain.ToolCompleted,
		StartedAt:       start,
		EndedAt:         &end,
		ValidationError: "missing property query",
	}
	line := ToolLine(rec)
	assert.Contains(t, line, "search")
	assert.Contains(t, line, "(docs)")
	assert.Contains(t, line, "120ms")
	assert.Contains(t, line, "missing property query")
}

func TestPreviewKeepsTail(t *testing.T) {
	long := strings.Repeat("a", 100) + "\nthe end"
	p := preview(long)
	assert.True(t, strings.HasSuffix(p, "a the end"))
	assert.Equal(t, "short text", preview("short\n text"))
}

func TestFriendlyFromError(t *testing.T) {
	tests := []struct {
		err   error
		title string
	}{
		{fmt.Errorf("%w: 4 turns already streaming", domain.ErrLimitReached), "Too Many Turns"},
		{fmt.Errorf("%w: prompt is empty", domain.ErrInvalidInput), "Invalid Request"},
		{fmt.Errorf("%w: disk full", domain.ErrHistoryStore), "History Unavailable"},
		{fmt.Errorf("%w: dial tcp", domain.ErrTransport), "Connection Failed"},
		{errors.New("something odd"), "Stream Failed"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			fe := FriendlyFromError(tt.err)
			assert.Equal(t, tt.title, fe.Title)
			assert.Contains(t, fe.Render(), tt.err.Error())
		})
	}
}
