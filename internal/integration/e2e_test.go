//go:build integration

package integration

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chatstream/internal/adapter/history"
	"chatstream/internal/adapter/llm"
	"chatstream/internal/adapter/usage"
	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/usecase/eventbus"
	"chatstream/internal/usecase/streaming"
)

func newService(t *testing.T, cfg *Config, store domain.HistoryStore) *streaming.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider := config.Defaults().Provider
	provider.BaseURL = cfg.BaseURL
	provider.APIKey = cfg.APIKey
	provider.Model = cfg.Model
	streamCfg := config.Defaults().Stream

	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)
	svc := streaming.NewService(streamCfg, streaming.ServiceDeps{
		Opener:    llm.NewCircuitBreakerOpener(llm.NewStreamClient(provider, streamCfg, logger), provider.CircuitBreaker, logger),
		NewReader: func(r io.Reader) domain.DeltaReader { return llm.NewDeltaReader(r, logger) },
		Logger:    logger,
		Model:     cfg.Model,
		History:   store,
		Estimator: usage.NewEstimator(config.UsageConfig{Encoding: usage.EncodingNone}, logger),
		Bus:       bus,
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestE2E_SayHi(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoEndpoint(t, cfg)
	ctx := NewTestContext(t, cfg.TestTimeout)

	store := history.NewMemoryStore()
	svc := newService(t, cfg, store)

	h, err := svc.Start(ctx, streaming.TurnRequest{Prompt: "Say hi"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var prev string
	var lastSeq uint64
	for snap := range h.Subscribe(ctx) {
		if snap.Seq < lastSeq {
			t.Fatalf("snapshot seq went back: %d after %d", snap.Seq, lastSeq)
		}
		lastSeq = snap.Seq
		if !strings.HasPrefix(snap.AssistantMessage.Content, prev) {
			t.Fatalf("content is not append-only: %q then %q", prev, snap.AssistantMessage.Content)
		}
		prev = snap.AssistantMessage.Content
	}

	final, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", final.Status, final.Err)
	}
	if final.AssistantMessage.Content == "" {
		t.Error("empty answer")
	}
	if final.Usage == nil || final.Usage.OutputTokens == 0 {
		t.Errorf("usage = %+v", final.Usage)
	}
	t.Logf("answer: %q usage: %+v", final.AssistantMessage.Content, final.Usage)

	msgs, err := store.Recent(ctx, h.ConversationID(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("stored %d messages, want 2", len(msgs))
	}
}

func TestE2E_CancelMidStream(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoEndpoint(t, cfg)
	if cfg.SkipSlow {
		t.Skip("slow test")
	}
	ctx := NewTestContext(t, cfg.TestTimeout)

	svc := newService(t, cfg, history.NewMemoryStore())
	h, err := svc.Start(ctx, streaming.TurnRequest{Prompt: "Count from 1 to 500, one number per line."})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for snap := range h.Subscribe(ctx) {
		if len(snap.AssistantMessage.Content) > 20 {
			break
		}
	}
	h.Cancel()
	frozen := h.Snapshot()
	if frozen.Status != domain.StatusCancelled {
		t.Fatalf("status after cancel = %s", frozen.Status)
	}

	time.Sleep(500 * time.Millisecond)
	if got := h.Snapshot().AssistantMessage.Content; got != frozen.AssistantMessage.Content {
		t.Errorf("content changed after cancel: %q -> %q", frozen.AssistantMessage.Content, got)
	}
}
