package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStreamStarted   EventType = "stream.started"
	EventStreamSnapshot  EventType = "stream.snapshot"
	EventStreamCompleted EventType = "stream.completed"
	EventStreamError     EventType = "stream.error"
	EventStreamCancelled EventType = "stream.cancelled"

	EventToolCallCreated   EventType = "tool.call.created"
	EventToolCallCompleted EventType = "tool.call.completed"

	EventHistoryAppended EventType = "history.appended"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
// A single subscriber observes events in the order they were published.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// StreamEndedPayload is the payload for terminal stream events.
type StreamEndedPayload struct {
	Status  StreamStatus `json:"status"`
	Content string       `json:"content"`
	Usage   *Usage       `json:"usage,omitempty"`
	Error   *StreamError `json:"error,omitempty"`
}
