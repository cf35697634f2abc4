package llm

import (
	"io"
	"log/slog"

	"chatstream/internal/domain"
)

// DeltaReader chains the SSE decoder and the chunk mapper over one body.
type DeltaReader struct {
	dec     *Decoder
	logger  *slog.Logger
	skipped int
}

// NewDeltaReader reads deltas from an open text/event-stream body.
func NewDeltaReader(r io.Reader, logger *slog.Logger) *DeltaReader {
	return &DeltaReader{dec: NewDecoder(r), logger: logger}
}

// Next implements domain.DeltaReader. Records that carry nothing to apply
// (pings, unknown event names) are consumed silently.
func (r *DeltaReader) Next() (domain.StreamDelta, error) {
	for {
		ev, err := r.dec.Next()
		r.noteSkipped()
		if err != nil {
			return domain.StreamDelta{}, err
		}
		if ev.IsDone() {
			return domain.StreamDelta{}, io.EOF
		}

		delta, err := MapEvent(ev)
		if err != nil {
			return domain.StreamDelta{}, err
		}
		if delta == nil {
			continue
		}
		return *delta, nil
	}
}

func (r *DeltaReader) noteSkipped() {
	if n := r.dec.Skipped(); n > r.skipped {
		r.logger.Debug("skipped malformed sse lines", "count", n-r.skipped)
		r.skipped = n
	}
}

var _ domain.DeltaReader = (*DeltaReader)(nil)
