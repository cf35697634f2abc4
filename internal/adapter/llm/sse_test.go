package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

// collect drains the decoder and returns the records and the terminal error.
func collect(t *testing.T, d *Decoder) ([]Event, error) {
	t.Helper()
	var events []Event
	for i := 0; i < 1000; i++ {
		ev, err := d.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	t.Fatal("decoder did not terminate")
	return nil, nil
}

func TestDecoderBasic(t *testing.T) {
	raw := "data: {\"text\":\"hello\"}\n\ndata: {\"text\":\"world\"}\n\ndata: [DONE]\n\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)
	assert.Equal(t, `{"text":"hello"}`, events[0].Data)
	assert.Equal(t, `{"text":"world"}`, events[1].Data)
	assert.True(t, events[2].IsDone())
}

func TestDecoderLineEndings(t *testing.T) {
	for name, sep := range map[string]string{"lf": "\n", "crlf": "\r\n", "cr": "\r"} {
		t.Run(name, func(t *testing.T) {
			raw := "data: {\"a\":1}" + sep + sep + "data: [DONE]" + sep + sep
			events, err := collect(t, NewDecoder(strings.NewReader(raw)))
			assert.ErrorIs(t, err, io.EOF)
			require.Len(t, events, 2)
			assert.Equal(t, `{"a":1}`, events[0].Data)
		})
	}
}

func TestDecoderCRLFSplitAcrossReads(t *testing.T) {
	raw := "data: {\"a\":1}\r\n\r\ndata: [DONE]\r\n\r\n"
	d := NewDecoder(iotest.OneByteReader(strings.NewReader(raw)))
	events, err := collect(t, d)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
}

func TestDecoderSkipsCommentsAndGarbage(t *testing.T) {
	raw := ": keep-alive\nthis is not a field\ndata: {\"ok\":true}\n\nretry: 1000\n\ndata: [DONE]\n\n"
	d := NewDecoder(strings.NewReader(raw))
	events, err := collect(t, d)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, `{"ok":true}`, events[0].Data)
	assert.Equal(t, 1, d.Skipped())
}

func TestDecoderDataWithoutSpace(t *testing.T) {
	raw := "data:{\"a\":1}\n\ndata:[DONE]\n\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.True(t, events[1].IsDone())
}

func TestDecoderMultiLineData(t *testing.T) {
	raw := "data: {\"a\":\ndata: 1}\n\ndata: [DONE]\n\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, "{\"a\":\n1}", events[0].Data)
}

func TestDecoderJoinsCompleteScalarLines(t *testing.T) {
	raw := "data: 1\ndata: 2\n\ndata: \"a\"\ndata: {\"b\":1}\n\ndata: [DONE]\n\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)
	assert.Equal(t, "1\n2", events[0].Data)
	assert.Equal(t, "\"a\"\n{\"b\":1}", events[1].Data)
	assert.True(t, events[2].IsDone())
}

func TestDecoderEventNameAndID(t *testing.T) {
	raw := "id: 7\nevent: tool_call.started\ndata: {\"id\":\"t1\"}\n\ndata: [DONE]\n\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 2)
	assert.Equal(t, "tool_call.started", events[0].Name)
	assert.Equal(t, "7", events[0].ID)
	// The name is reset after dispatch; the last id persists.
	assert.Equal(t, "", events[1].Name)
	assert.Equal(t, "7", events[1].ID)
}

func TestDecoderWithoutBlankSeparators(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" there\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: [DONE]\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 4)
	assert.Contains(t, events[1].Data, `"Hi"`)
	assert.True(t, events[3].IsDone())
}

func TestDecoderEventLineFlushesCompleteRecord(t *testing.T) {
	raw := "data: {\"a\":1}\nevent: tool_call.completed\ndata: {\"id\":\"t1\"}\n\ndata: [DONE]\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)
	assert.Equal(t, "", events[0].Name)
	assert.Equal(t, "tool_call.completed", events[1].Name)
}

func TestDecoderIncompleteStream(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))

	assert.ErrorIs(t, err, domain.ErrIncompleteStream)
	assert.Len(t, events, 1)
}

func TestDecoderTruncatedPayloadIsIncomplete(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"cont"
	events, err := collect(t, NewDecoder(strings.NewReader(raw)))
	assert.ErrorIs(t, err, domain.ErrIncompleteStream)
	assert.Empty(t, events)
}

func TestDecoderTrailingDoneWithoutNewline(t *testing.T) {
	events, err := collect(t, NewDecoder(strings.NewReader("data: [DONE]")))
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsDone())
}

func TestDecoderErrorIsSticky(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	_, err := d.Next()
	assert.ErrorIs(t, err, domain.ErrIncompleteStream)
	_, err = d.Next()
	assert.ErrorIs(t, err, domain.ErrIncompleteStream)
}

func TestDecoderLineTooLong(t *testing.T) {
	raw := "data: " + strings.Repeat("x", maxLineSize+1) + "\n\n"
	_, err := collect(t, NewDecoder(strings.NewReader(raw)))
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestDecoderReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		readErr error
		want    error
	}{
		{"transport", errors.New("connection reset by peer"), domain.ErrTransport},
		{"idle", domain.ErrIdleTimeout, domain.ErrIdleTimeout},
		{"cancel", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := io.MultiReader(strings.NewReader("data: {\"a\":1}\n\n"), iotest.ErrReader(tt.readErr))
			events, err := collect(t, NewDecoder(r))
			assert.Len(t, events, 1)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecoderIdleTimeoutNotTransport(t *testing.T) {
	r := iotest.ErrReader(domain.ErrIdleTimeout)
	_, err := NewDecoder(r).Next()
	assert.Equal(t, domain.CodeIdleTimeout, domain.ErrorCodeOf(err))
}
