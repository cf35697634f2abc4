package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over a WebSocket connection.
type FrameType string

const (
	// FrameTypeSnapshot carries one StreamSession snapshot (server to client).
	FrameTypeSnapshot FrameType = "snapshot"
	// FrameTypeEvent carries one bus event (server to client).
	FrameTypeEvent FrameType = "event"
	// FrameTypeError reports a problem with the connection (server to client).
	FrameTypeError FrameType = "error"
	// FrameTypeCancel asks the server to cancel the watched turn (client to server).
	FrameTypeCancel FrameType = "cancel"
)

// Frame is the envelope exchanged between client and server over WebSocket.
type Frame struct {
	Type    FrameType       `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
