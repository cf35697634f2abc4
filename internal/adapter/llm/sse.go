package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatstream/internal/domain"
)

// doneSentinel is the payload that terminates an OpenAI-style stream.
const doneSentinel = "[DONE]"

// maxLineSize bounds a single SSE line. Larger lines abort the stream.
const maxLineSize = 1024 * 1024 // 1 MB

// Event is one dispatched text/event-stream record.
type Event struct {
	ID   string // last event id seen on the stream
	Name string // "event:" field, empty for the default "message" type
	Data string // data lines joined with "\n"
}

// IsDone reports whether the record is the [DONE] sentinel.
func (e Event) IsDone() bool { return e.Data == doneSentinel }

// Decoder turns a byte stream into SSE records. It is not safe for
// concurrent use; one consumer reads records in arrival order.
type Decoder struct {
	scanner *bufio.Scanner

	name    string
	lastID  string
	data    strings.Builder
	hasData bool

	sawDone bool
	skipped int
	err     error
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanSSELines)
	return &Decoder{scanner: scanner}
}

// Skipped returns how many unrecognised lines were ignored so far.
func (d *Decoder) Skipped() int { return d.skipped }

// SawDone reports whether the [DONE] sentinel has been dispatched.
func (d *Decoder) SawDone() bool { return d.sawDone }

// Next returns the next record. At a clean end of input it returns io.EOF if
// the [DONE] sentinel was seen and domain.ErrIncompleteStream otherwise.
// Read failures are returned as transport errors unless they already carry a
// more specific cause (idle timeout, context cancellation).
func (d *Decoder) Next() (Event, error) {
	for {
		if d.err != nil {
			return Event{}, d.err
		}

		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				d.err = classifyReadError(err)
				return Event{}, d.err
			}
			// A trailing record without a blank line is still delivered when
			// its payload is complete.
			if d.hasData && d.pendingComplete() {
				return d.dispatch(), nil
			}
			if d.sawDone {
				d.err = io.EOF
			} else {
				d.err = domain.ErrIncompleteStream
			}
			return Event{}, d.err
		}

		line := d.scanner.Text()

		if line == "" {
			if d.hasData {
				return d.dispatch(), nil
			}
			d.name = ""
			continue
		}

		// Comments carry keep-alives from proxies.
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			// Servers that omit the blank separator send one JSON object per
			// data line. Anything else is a continuation line.
			if d.hasData && startsRecord(value) && d.pendingComplete() {
				ev := d.dispatch()
				d.appendData(value)
				return ev, nil
			}
			d.appendData(value)
		case "event":
			if d.hasData && d.pendingComplete() {
				ev := d.dispatch()
				d.name = value
				return ev, nil
			}
			d.name = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			// Reconnection is a caller decision; the hint is ignored.
		default:
			d.skipped++
		}
	}
}

func (d *Decoder) appendData(value string) {
	if d.hasData {
		d.data.WriteByte('\n')
	}
	d.data.WriteString(value)
	d.hasData = true
}

// pendingComplete reports whether the buffered data is a whole record: the
// [DONE] sentinel or a complete JSON object.
func (d *Decoder) pendingComplete() bool {
	data := d.data.String()
	return data == doneSentinel || (startsRecord(data) && json.Valid([]byte(data)))
}

func startsRecord(value string) bool {
	return value == doneSentinel || strings.HasPrefix(value, "{")
}

func (d *Decoder) dispatch() Event {
	ev := Event{ID: d.lastID, Name: d.name, Data: d.data.String()}
	d.data.Reset()
	d.hasData = false
	d.name = ""
	if ev.IsDone() {
		d.sawDone = true
	}
	return ev
}

// splitField splits "field: value" per the SSE format. A single space after
// the colon is removed. A line without a colon is a field with empty value.
func splitField(line string) (string, string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field := line[:idx]
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}

func classifyReadError(err error) error {
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		return fmt.Errorf("%w: sse line exceeds %d bytes", domain.ErrProtocol, maxLineSize)
	case errors.Is(err, domain.ErrIdleTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("read stream: %w: %w", domain.ErrTransport, err)
	}
}

// scanSSELines is a bufio.SplitFunc accepting "\n", "\r\n" and "\r" line
// terminators.
func scanSSELines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// '\r': may be followed by '\n'.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// Need one more byte to decide.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
