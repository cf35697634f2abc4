package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerOpener wraps a StreamOpener with circuit breaker protection.
// Only opening a stream passes through the breaker; failures after the
// response headers arrive never trip it.
type CircuitBreakerOpener struct {
	inner   domain.StreamOpener
	breaker *gobreaker.CircuitBreaker[io.ReadCloser]
	logger  *slog.Logger
}

// NewCircuitBreakerOpener wraps inner with a circuit breaker. Zero values in
// cfg fall back to defaults.
func NewCircuitBreakerOpener(inner domain.StreamOpener, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerOpener {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[io.ReadCloser](gobreaker.Settings{
		Name:        "stream:" + inner.Name(),
		MaxRequests: 1, // one trial request while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Only retryable failures count against the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetryableError(err)
		},
	})

	return &CircuitBreakerOpener{inner: inner, breaker: cb, logger: logger}
}

// OpenStream implements domain.StreamOpener.
func (o *CircuitBreakerOpener) OpenStream(ctx context.Context, req domain.ChatRequest) (io.ReadCloser, error) {
	body, err := o.breaker.Execute(func() (io.ReadCloser, error) {
		return o.inner.OpenStream(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: provider %q: %v", domain.ErrCircuitOpen, o.inner.Name(), err)
		}
		return nil, err
	}
	return body, nil
}

// Name implements domain.StreamOpener.
func (o *CircuitBreakerOpener) Name() string { return o.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (o *CircuitBreakerOpener) State() gobreaker.State { return o.breaker.State() }

// Counts returns the current circuit breaker failure/success counts.
func (o *CircuitBreakerOpener) Counts() gobreaker.Counts { return o.breaker.Counts() }

var _ domain.StreamOpener = (*CircuitBreakerOpener)(nil)

// --- Connection Pooling ---

// Default connection pool settings: few hosts, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
)

// Default phase timeouts.
const (
	defaultConnTimeout = 10 * time.Second
	defaultRespTimeout = 60 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling.
// connTimeout bounds dialing, respTimeout bounds the wait for headers.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connTimeout,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient creates an *http.Client for streaming. It has no total
// timeout; silence is bounded by the idle reader.
func NewHTTPClient(stream config.StreamConfig, pool config.PoolConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(stream.ConnectTimeout, stream.ResponseHeaderTimeout, pool),
	}
}
