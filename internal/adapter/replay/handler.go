// Package replay serves recorded text/event-stream fixtures over HTTP. It
// stands in for a chat completion endpoint in development and tests.
package replay

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Handler writes Lines to every request as an SSE response, flushing after
// each line.
type Handler struct {
	Lines []string
	// Delay is slept before each line.
	Delay time.Duration
	// Status overrides the response code; 0 means 200.
	Status int
	// ContentType overrides the response type; empty means text/event-stream.
	ContentType string
	// Step, when set, gates each line on a receive.
	Step <-chan struct{}
	// Hold keeps the connection open after the last line until the client
	// goes away.
	Hold bool
	// OnRequest observes the request and its body before anything is written.
	OnRequest func(r *http.Request, body []byte)
	Logger    *slog.Logger
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if h.OnRequest != nil {
		h.OnRequest(r, body)
	}

	ct := h.ContentType
	if ct == "" {
		ct = "text/event-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	status := h.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	ctx := r.Context()
	for i, line := range h.Lines {
		if h.Step != nil {
			select {
			case <-h.Step:
			case <-ctx.Done():
				return
			}
		}
		if h.Delay > 0 {
			select {
			case <-time.After(h.Delay):
			case <-ctx.Done():
				return
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			h.log().Debug("replay write failed", "line", i, "error", err)
			return
		}
		flush()
	}

	if h.Hold {
		<-ctx.Done()
	}
}

func (h *Handler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Parse reads a fixture: one SSE line per input line, kept verbatim
// (blank separator lines included). A "#" line is a fixture comment and is
// dropped; SSE comments start with ":" and are kept.
func Parse(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return lines, nil
}

// LoadFile parses the fixture at path.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Chunk renders a chat.completion.chunk data line with one choice.
func Chunk(delta string, finishReason string) string {
	if finishReason == "" {
		return fmt.Sprintf(`data: {"object":"chat.completion.chunk","choices":[{"index":0,"delta":%s}]}`, delta)
	}
	return fmt.Sprintf(`data: {"object":"chat.completion.chunk","choices":[{"index":0,"delta":%s,"finish_reason":%q}]}`, delta, finishReason)
}

// Done is the terminating sentinel line.
const Done = "data: [DONE]"
