package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"chatstream/internal/adapter/history"
	"chatstream/internal/adapter/llm"
	"chatstream/internal/adapter/toolcatalog"
	"chatstream/internal/adapter/usage"
	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/logger"
	"chatstream/internal/infra/tracer"
	"chatstream/internal/usecase/eventbus"
	"chatstream/internal/usecase/streaming"
)

// stack is the wired streaming core shared by chat and serve.
type stack struct {
	cfg     *config.Config
	logger  *slog.Logger
	history domain.HistoryStore
	catalog *toolcatalog.Catalog
	breaker *llm.CircuitBreakerOpener // nil when disabled
	bus     *eventbus.Bus
	svc     *streaming.Service

	closers []func()
}

func buildStack(ctx context.Context, cfg *config.Config) (_ *stack, err error) {
	s := &stack{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// 1. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	s.logger = log
	s.onClose(func() { logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	s.onClose(func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	})

	// 2. History
	s.history, err = history.Open(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s.onClose(func() {
		if err := s.history.Close(); err != nil {
			log.Warn("history close failed", "error", err)
		}
	})

	// 3. Tool catalog
	s.catalog, err = toolcatalog.New(cfg.Tools.Catalog)
	if err != nil {
		return nil, fmt.Errorf("tool catalog: %w", err)
	}
	catLog := logger.Component(log, "toolcatalog")
	if n, err := toolcatalog.Discover(ctx, s.catalog, cfg.Tools.MCPServers, cfg.Tools.DiscoverTimeout, catLog); err != nil {
		catLog.Warn("tool discovery failed", "error", err)
	} else if n > 0 {
		catLog.Info("tools discovered", "count", n, "catalog_size", s.catalog.Len())
	}

	// 4. Provider
	var opener domain.StreamOpener = llm.NewStreamClient(cfg.Provider, cfg.Stream, logger.Component(log, "llm"))
	if cfg.Provider.CircuitBreaker.Enabled {
		s.breaker = llm.NewCircuitBreakerOpener(opener, cfg.Provider.CircuitBreaker, logger.Component(log, "llm"))
		opener = s.breaker
	}

	// 5. Event bus
	s.bus = eventbus.New(logger.Component(log, "eventbus"))
	s.onClose(s.bus.Close)

	// 6. Stream service
	sseLog := logger.Component(log, "sse")
	s.svc = streaming.NewService(cfg.Stream, streaming.ServiceDeps{
		Opener: opener,
		NewReader: func(r io.Reader) domain.DeltaReader {
			return llm.NewDeltaReader(r, sseLog)
		},
		Logger:    logger.Component(log, "streaming"),
		Model:     cfg.Provider.Model,
		History:   s.history,
		Estimator: usage.NewEstimator(cfg.Usage, logger.Component(log, "usage")),
		Catalog:   s.catalog,
		Bus:       s.bus,
	})
	s.onClose(s.svc.Close)

	log.Debug("stack ready",
		"provider", opener.Name(),
		"model", cfg.Provider.Model,
		"history", cfg.History.Backend,
		"circuit_breaker", s.breaker != nil,
	)
	return s, nil
}

func (s *stack) onClose(fn func()) { s.closers = append(s.closers, fn) }

// Close stops running turns first and the logger last.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
