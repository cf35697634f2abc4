package domain

import (
	"context"
	"io"
)

// StreamOpener opens a streaming chat response. The returned body yields raw
// text/event-stream bytes and must be closed by the caller.
type StreamOpener interface {
	OpenStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
	// Name returns the opener's identifier (e.g., "openai", "backend").
	Name() string
}

// HistoryStore persists finalized messages per conversation.
type HistoryStore interface {
	Append(ctx context.Context, conversationID string, msgs ...ChatMessage) error
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error)
	Conversations(ctx context.Context) ([]Conversation, error)
	Close() error
}

// UsageEstimator fills in usage when the server does not report it and
// prices usage the server reported without a cost.
type UsageEstimator interface {
	Estimate(model string, prompt []ChatMessage, completion string) Usage
	// Price returns the USD cost of the token counts, or zero when model
	// has no configured price.
	Price(model string, inputTokens, outputTokens int) float64
}

// DeltaReader yields the typed deltas of one open stream in arrival order.
// Next returns io.EOF once the end-of-stream sentinel has been read,
// ErrIncompleteStream when the body ends without it, and the read error
// otherwise.
type DeltaReader interface {
	Next() (StreamDelta, error)
}
