package domain

import (
	"errors"
	"fmt"
)

// Category sentinels for the streaming core.
var (
	ErrTransport        = fmt.Errorf("transport failure")
	ErrProtocol         = fmt.Errorf("protocol violation")
	ErrIdleTimeout      = fmt.Errorf("stream idle timeout")
	ErrIncompleteStream = fmt.Errorf("stream closed before completion")
	ErrUnknownToolCall  = fmt.Errorf("unknown tool call id")
	ErrCancelled        = fmt.Errorf("stream cancelled by caller")
	ErrCircuitOpen      = fmt.Errorf("provider circuit open")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the surrounding services.
var (
	ErrSessionNotFound = fmt.Errorf("stream session not found")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrDecryption      = fmt.Errorf("decryption failed")
	ErrEncryption      = fmt.Errorf("encryption operation failed")
	ErrHistoryStore    = fmt.Errorf("history store failed")
	ErrToolSchema      = fmt.Errorf("tool input does not match schema")
	ErrLimitReached    = fmt.Errorf("limit reached")

	// HTTP-status derived errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "StreamClient.OpenStream")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// if the caller resends the whole turn.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrIdleTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrProviderError) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrIncompleteStream)
}

// ErrorCode is a machine-parseable error category for monitoring and UI messaging.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeTransport        ErrorCode = "TRANSPORT"
	CodeProtocol         ErrorCode = "PROTOCOL"
	CodeIdleTimeout      ErrorCode = "IDLE_TIMEOUT"
	CodeIncompleteStream ErrorCode = "INCOMPLETE_STREAM"
	CodeUnknownToolCall  ErrorCode = "UNKNOWN_TOOL_CALL"
	CodeCancelled        ErrorCode = "CANCELLED"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeHistoryStore     ErrorCode = "HISTORY_STORE"
	CodeToolSchema       ErrorCode = "TOOL_SCHEMA"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTransport:        CodeTransport,
	ErrProtocol:         CodeProtocol,
	ErrIdleTimeout:      CodeIdleTimeout,
	ErrIncompleteStream: CodeIncompleteStream,
	ErrUnknownToolCall:  CodeUnknownToolCall,
	ErrCancelled:        CodeCancelled,
	ErrCircuitOpen:      CodeCircuitOpen,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,
	ErrSessionNotFound:  CodeSessionNotFound,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEncryption:       CodeEncryption,
	ErrHistoryStore:     CodeHistoryStore,
	ErrToolSchema:       CodeToolSchema,
	ErrLimitReached:     CodeLimitReached,
	ErrContextOverflow:  CodeContextOverflow,
	ErrRateLimit:        CodeRateLimit,
	ErrAuthInvalid:      CodeAuthInvalid,
}

// codePriority orders the chain walk so that the most specific sentinel wins
// when an error wraps more than one (e.g. an idle timeout surfaced as a
// transport failure).
var codePriority = []error{
	ErrIdleTimeout,
	ErrIncompleteStream,
	ErrCircuitOpen,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrUnknownToolCall,
	ErrCancelled,
	ErrProviderError,
	ErrProtocol,
	ErrTransport,
	ErrSessionNotFound,
	ErrInvalidInput,
	ErrToolSchema,
	ErrHistoryStore,
	ErrConfigLoad,
	ErrDecryption,
	ErrEncryption,
	ErrLimitReached,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

// ErrorKind groups error codes into the fatal error taxonomy shown to callers.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindProtocol    ErrorKind = "protocol"
	KindIdleTimeout ErrorKind = "idle_timeout"
	KindHTTP        ErrorKind = "http"
	KindProvider    ErrorKind = "provider"
)

// StreamError is the error detail attached to a session that ended in
// StatusError. It is a plain value so snapshots can be copied freely.
type StreamError struct {
	Code      ErrorCode `json:"code"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

// NewStreamError classifies err into a StreamError.
func NewStreamError(err error) *StreamError {
	if err == nil {
		return nil
	}
	var se *StreamError
	if errors.As(err, &se) {
		cp := *se
		return &cp
	}

	code := ErrorCodeOf(err)
	return &StreamError{
		Code:      code,
		Kind:      kindOf(code),
		Message:   err.Error(),
		Retryable: IsRetryableError(err),
	}
}

func kindOf(code ErrorCode) ErrorKind {
	switch code {
	case CodeIdleTimeout:
		return KindIdleTimeout
	case CodeTransport, CodeCircuitOpen:
		return KindTransport
	case CodeRateLimit, CodeAuthInvalid, CodeContextOverflow:
		return KindHTTP
	case CodeProviderError:
		return KindProvider
	default:
		return KindProtocol
	}
}
