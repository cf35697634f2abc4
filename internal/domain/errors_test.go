package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("StreamClient.OpenStream", ErrTransport, "dial tcp")
	want := "StreamClient.OpenStream: dial tcp: transport failure"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Decoder.Next", ErrIncompleteStream, "")
	want := "Decoder.Next: stream closed before completion"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Service.Cancel", ErrSessionNotFound, "01HX")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("errors.Is should match ErrSessionNotFound")
	}
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, CodeSessionNotFound, de.Code())
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	err := WrapOp("op", ErrProtocol)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "op: protocol violation", err.Error())
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct", ErrIdleTimeout, CodeIdleTimeout},
		{"wrapped", fmt.Errorf("read body: %w", ErrTransport), CodeTransport},
		{"domain error", NewDomainError("op", ErrRateLimit, "429"), CodeRateLimit},
		{"idle wins over transport", fmt.Errorf("%w: %w", ErrTransport, ErrIdleTimeout), CodeIdleTimeout},
		{"unknown", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestNewStreamErrorClassifies(t *testing.T) {
	se := NewStreamError(fmt.Errorf("http request: %w", ErrTransport))
	require.NotNil(t, se)
	assert.Equal(t, CodeTransport, se.Code)
	assert.Equal(t, KindTransport, se.Kind)
	assert.True(t, se.Retryable)

	se = NewStreamError(ErrIdleTimeout)
	assert.Equal(t, KindIdleTimeout, se.Kind)

	se = NewStreamError(fmt.Errorf("%w: bad json", ErrProtocol))
	assert.Equal(t, KindProtocol, se.Kind)
	assert.False(t, se.Retryable)

	se = NewStreamError(fmt.Errorf("%w: API error 401", ErrAuthInvalid))
	assert.Equal(t, KindHTTP, se.Kind)

	assert.Nil(t, NewStreamError(nil))
}

func TestNewStreamErrorPassesThroughExisting(t *testing.T) {
	orig := &StreamError{Code: CodeProviderError, Kind: KindProvider, Message: "overloaded"}
	got := NewStreamError(fmt.Errorf("wrapped: %w", orig))
	require.NotNil(t, got)
	assert.Equal(t, *orig, *got)
	assert.NotSame(t, orig, got)
}
