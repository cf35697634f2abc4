// Package tui renders streaming turns in a terminal.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/glamour"

	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/domain"
)

const previewRunes = 48

// Options controls how a Renderer draws a turn.
type Options struct {
	// Raw writes content exactly as it grows and skips markdown rendering.
	Raw bool
	// Interactive enables the progress spinner on the status writer.
	Interactive bool
	// Width is the wrap width for rendered markdown; 0 uses the default.
	Width int
}

// Renderer prints the snapshots of one turn. Content goes to out; the tool
// timeline, progress and status line go to status.
type Renderer struct {
	out    io.Writer
	status io.Writer
	opts   Options
	spin   *spinner.Spinner

	printed int
	tools   []domain.ToolState
}

// NewRenderer creates a renderer for one turn.
func NewRenderer(out, status io.Writer, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = theme.MaxContentWidth
	}
	r := &Renderer{out: out, status: status, opts: opts}
	if opts.Interactive {
		r.spin = spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(status))
		r.spin.Suffix = "  connecting"
		r.spin.Start()
	}
	return r
}

// Update draws whatever changed since the previous snapshot.
func (r *Renderer) Update(snap domain.StreamSession) {
	for i, rec := range snap.ToolCalls {
		if i >= len(r.tools) {
			r.tools = append(r.tools, "")
		}
		if r.tools[i] != rec.State {
			r.tools[i] = rec.State
			r.line(ToolLine(rec))
		}
	}

	content := snap.AssistantMessage.Content
	if r.opts.Raw && len(content) > r.printed {
		r.pause(func() { io.WriteString(r.out, content[r.printed:]) })
		r.printed = len(content)
	}

	if r.spin != nil {
		r.spin.Lock()
		r.spin.Suffix = "  " + progress(snap)
		r.spin.Unlock()
	}
}

// Finish draws the final snapshot: the rendered message, the status line
// and, for failed turns, recovery hints.
func (r *Renderer) Finish(snap domain.StreamSession) error {
	r.Update(snap)
	if r.spin != nil {
		r.spin.Stop()
		r.spin = nil
	}

	content := snap.AssistantMessage.Content
	switch {
	case r.opts.Raw:
		if content != "" && !strings.HasSuffix(content, "\n") {
			fmt.Fprintln(r.out)
		}
	case content != "":
		rendered, err := RenderMarkdown(content, r.opts.Width)
		if err != nil {
			rendered = content + "\n"
		}
		io.WriteString(r.out, rendered)
	}

	fmt.Fprintln(r.status, StatusLine(snap))
	if snap.Err != nil {
		fmt.Fprintln(r.status, Friendly(snap.Err).Render())
	}
	return nil
}

// line prints s on its own line above the spinner.
func (r *Renderer) line(s string) {
	r.pause(func() { fmt.Fprintln(r.status, s) })
}

func (r *Renderer) pause(fn func()) {
	if r.spin == nil {
		fn()
		return
	}
	r.spin.Stop()
	fn()
	r.spin.Start()
}

// progress is the spinner text: status, a tail of the content and counts.
func progress(snap domain.StreamSession) string {
	parts := []string{string(snap.Status)}
	if n := len(snap.ToolCalls); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tools", n))
	}
	if tail := preview(snap.AssistantMessage.Content); tail != "" {
		parts = append(parts, theme.TextMuted.Render(tail))
	}
	return strings.Join(parts, " "+theme.Symbols.Bullet+" ")
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return theme.Symbols.Ellipsis + string(runes[len(runes)-previewRunes:])
}

// ToolLine describes one tool call record on a single line.
func ToolLine(rec domain.ToolCallRecord) string {
	badge := theme.BadgePending
	switch rec.State {
	case domain.ToolCompleted:
		badge = theme.BadgeOK
	case domain.ToolError:
		badge = theme.BadgeFail
	case domain.ToolRunning:
		badge = theme.BadgeRunning
	}

	var sb strings.Builder
	sb.WriteString("  " + badge.String() + " " + theme.ToolLabel.Render(rec.Name))
	if rec.Server != "" {
		sb.WriteString(theme.TextMuted.Render(" (" + rec.Server + ")"))
	}
	sb.WriteString(" " + theme.Dim.Render(string(rec.State)))
	if rec.EndedAt != nil && !rec.StartedAt.IsZero() {
		sb.WriteString(" " + theme.Timestamp.Render(rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond).String()))
	}
	if rec.ErrorMessage != nil {
		sb.WriteString(" " + theme.TextError.Render(*rec.ErrorMessage))
	}
	if rec.ValidationError != "" {
		sb.WriteString(" " + theme.TextWarning.Render(theme.Symbols.Warning+" "+rec.ValidationError))
	}
	return sb.String()
}

// StatusLine summarises a finished turn.
func StatusLine(snap domain.StreamSession) string {
	badge := theme.BadgeInfo
	switch snap.Status {
	case domain.StatusCompleted:
		badge = theme.BadgeOK
	case domain.StatusCancelled:
		badge = theme.BadgeWarn
	case domain.StatusError:
		badge = theme.BadgeFail
	}

	parts := []string{badge.String() + " " + theme.Bold.Render(string(snap.Status))}
	if snap.Model != "" {
		parts = append(parts, snap.Model)
	}
	if snap.FinishReason != "" {
		parts = append(parts, "finish: "+string(snap.FinishReason))
	}
	if n := len(snap.ToolCalls); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tool calls", n))
	}
	if u := snap.Usage; u != nil {
		tokens := fmt.Sprintf("%d %s %d tokens", u.InputTokens, theme.Symbols.ArrowR, u.OutputTokens)
		if u.Estimated {
			tokens += " (est.)"
		}
		parts = append(parts, tokens)
		if u.TotalCost > 0 {
			parts = append(parts, fmt.Sprintf("$%.4f", u.TotalCost))
		}
	}
	if snap.EndedAt != nil {
		parts = append(parts, snap.EndedAt.Sub(snap.StartedAt).Round(time.Millisecond).String())
	}
	return theme.StatusBar.Render(strings.Join(parts, " "+theme.Symbols.Bullet+" "))
}

// RenderMarkdown renders content for the terminal.
func RenderMarkdown(content string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return r.Render(content)
}
