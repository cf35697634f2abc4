package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage represents a single message in a conversation. A message is
// immutable once finalized; only the assistant message of a live
// StreamSession grows while streaming.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Status and SessionID are set on assistant messages promoted from a
	// StreamSession, so history can show partial answers of failed turns.
	Status    StreamStatus `json:"status,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

// ChatRequest is sent to the streaming chat endpoint.
type ChatRequest struct {
	Model        string        `json:"model"`
	Messages     []ChatMessage `json:"messages"`
	Tools        []ToolSchema  `json:"tools,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	IncludeUsage bool          `json:"include_usage,omitempty"`
}

// Conversation is a summary row for a stored conversation.
type Conversation struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
