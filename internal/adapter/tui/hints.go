package tui

import (
	"errors"
	"strings"

	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
}

// Render formats the error for the terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(theme.TextError.Render(fe.Title))
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	for _, h := range fe.Hints {
		sb.WriteString("\n    " + theme.Symbols.Bullet + " " + h)
	}
	return sb.String()
}

var codeHints = map[domain.ErrorCode]FriendlyError{
	domain.CodeIdleTimeout: {
		Title: "Stream Stalled",
		Hints: []string{"Retry the turn", "Raise stream.idle_timeout for slow models"},
	},
	domain.CodeTransport: {
		Title: "Connection Failed",
		Hints: []string{"Check provider.base_url", "Run 'chatstream doctor'"},
	},
	domain.CodeCircuitOpen: {
		Title: "Provider Temporarily Disabled",
		Hints: []string{"Recent requests kept failing; wait for provider.circuit_breaker.timeout"},
	},
	domain.CodeRateLimit: {
		Title: "Rate Limited",
		Hints: []string{"Wait a moment and retry"},
	},
	domain.CodeAuthInvalid: {
		Title: "Authentication Failed",
		Hints: []string{"Set provider.api_key or CHATSTREAM_PROVIDER_API_KEY"},
	},
	domain.CodeContextOverflow: {
		Title: "Context Window Exceeded",
		Hints: []string{"Lower stream.history_window", "Start a new conversation"},
	},
	domain.CodeProtocol: {
		Title: "Malformed Stream",
		Hints: []string{"The endpoint sent data that is not a chat completion stream"},
	},
	domain.CodeIncompleteStream: {
		Title: "Stream Cut Short",
		Hints: []string{"The connection closed before the answer finished; retry the turn"},
	},
	domain.CodeProviderError: {
		Title: "Provider Error",
		Hints: []string{"The server reported a failure mid-stream; retry the turn"},
	},
}

// Friendly explains a stream error.
func Friendly(se *domain.StreamError) FriendlyError {
	fe, ok := codeHints[se.Code]
	if !ok {
		fe = FriendlyError{Title: "Stream Failed"}
	}
	fe.Message = se.Message
	if se.Retryable && !ok {
		fe.Hints = append(fe.Hints, "Retry the turn")
	}
	return fe
}

// FriendlyFromError explains an error returned before streaming began.
func FriendlyFromError(err error) FriendlyError {
	switch {
	case errors.Is(err, domain.ErrLimitReached):
		return FriendlyError{
			Title:   "Too Many Turns",
			Message: err.Error(),
			Hints:   []string{"Wait for running turns to finish", "Raise stream.max_concurrent or stream.turns_per_minute"},
		}
	case errors.Is(err, domain.ErrInvalidInput):
		return FriendlyError{Title: "Invalid Request", Message: err.Error()}
	case errors.Is(err, domain.ErrHistoryStore):
		return FriendlyError{
			Title:   "History Unavailable",
			Message: err.Error(),
			Hints:   []string{"Check history.path permissions", "Use history.backend: memory"},
		}
	case errors.Is(err, domain.ErrConfigLoad):
		return FriendlyError{
			Title:   "Configuration Error",
			Message: err.Error(),
			Hints:   []string{"Run 'chatstream doctor'"},
		}
	}
	return Friendly(domain.NewStreamError(err))
}
