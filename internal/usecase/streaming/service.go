package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/tracer"
)

// NewID returns a lexicographically sortable unique id.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// TurnRequest is one user message to stream an answer for.
type TurnRequest struct {
	ConversationID string              `json:"conversation_id,omitempty"`
	Prompt         string              `json:"prompt"`
	Model          string              `json:"model,omitempty"`
	SystemPrompt   string              `json:"system_prompt,omitempty"`
	Tools          []domain.ToolSchema `json:"tools,omitempty"`
}

// ServiceDeps holds injected dependencies for the stream service.
type ServiceDeps struct {
	Opener    domain.StreamOpener
	NewReader func(io.Reader) domain.DeltaReader
	Logger    *slog.Logger
	Model     string                // default model, empty = opener default
	History   domain.HistoryStore   // optional, nil = no history
	Estimator domain.UsageEstimator // optional, nil = usage stays unset
	Catalog   domain.ToolCatalog    // optional, nil = no enrichment
	Bus       domain.EventBus       // optional, nil = no events
}

// Service starts and tracks streaming chat turns.
type Service struct {
	deps    ServiceDeps
	cfg     config.StreamConfig
	limiter *rate.Limiter
	slots   chan struct{}

	mu      sync.RWMutex
	handles map[string]*Handle
	wg      sync.WaitGroup
}

// NewService creates a stream service.
func NewService(cfg config.StreamConfig, deps ServiceDeps) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	s := &Service{
		deps:    deps,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		handles: make(map[string]*Handle),
	}
	if cfg.TurnsPerMinute > 0 {
		burst := max(1, cfg.TurnsPerMinute/10)
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.TurnsPerMinute)/60.0), burst)
	}
	return s
}

// Handle is the caller's view of one running turn.
type Handle struct {
	id             string
	conversationID string
	acc            *Accumulator
	feed           *Feed
	cancel         context.CancelFunc
	done           chan struct{}
	svc            *Service
}

// ID returns the session id.
func (h *Handle) ID() string { return h.id }

// ConversationID returns the conversation the turn belongs to.
func (h *Handle) ConversationID() string { return h.conversationID }

// Snapshot returns the current state of the session.
func (h *Handle) Snapshot() domain.StreamSession { return h.acc.Snapshot() }

// Subscribe returns ordered snapshots, starting with the current one. The
// channel is closed once the final snapshot, including any usage filled in
// after the stream ended, has been delivered, or when ctx ends.
func (h *Handle) Subscribe(ctx context.Context) <-chan domain.StreamSession {
	return h.feed.Subscribe(ctx)
}

// Cancel stops the turn. The session is frozen as cancelled before the
// connection is closed, so no delta read afterwards can change it. Calling
// Cancel on an ended turn does nothing.
func (h *Handle) Cancel() {
	if h.acc.Cancel() {
		h.svc.deps.Logger.Info("stream cancelled", "session_id", h.id)
	}
	h.cancel()
}

// Done is closed once the turn has ended and its side effects (history,
// events) have been recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the turn ends and returns its final snapshot.
func (h *Handle) Wait(ctx context.Context) (domain.StreamSession, error) {
	select {
	case <-h.done:
		return h.acc.Snapshot(), nil
	case <-ctx.Done():
		return domain.StreamSession{}, ctx.Err()
	}
}

// Start validates req and begins streaming in the background. It returns as
// soon as the session exists; the session starts in the connecting state.
func (s *Service) Start(ctx context.Context, req TurnRequest) (*Handle, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidInput)
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, fmt.Errorf("%w: turn rate exceeded", domain.ErrLimitReached)
	}
	select {
	case s.slots <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: %d turns already streaming", domain.ErrLimitReached, cap(s.slots))
	}

	h, chatReq, userMsg, err := s.prepare(ctx, req, prompt)
	if err != nil {
		<-s.slots
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel

	s.mu.Lock()
	s.handles[h.id] = h
	s.mu.Unlock()

	s.publish(ctx, domain.EventStreamStarted, h.id, map[string]string{
		"conversation_id": h.conversationID,
		"model":           chatReq.Model,
	})
	h.acc.Begin()

	s.wg.Add(1)
	go s.run(runCtx, h, chatReq, userMsg)
	return h, nil
}

func (s *Service) prepare(ctx context.Context, req TurnRequest, prompt string) (*Handle, domain.ChatRequest, domain.ChatMessage, error) {
	convID := req.ConversationID
	if convID == "" {
		convID = NewID()
	}
	model := req.Model
	if model == "" {
		model = s.deps.Model
	}

	var msgs []domain.ChatMessage
	system := req.SystemPrompt
	if system == "" {
		system = s.cfg.SystemPrompt
	}
	if system != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	}
	if s.deps.History != nil && s.cfg.HistoryWindow > 0 {
		past, err := s.deps.History.Recent(ctx, convID, s.cfg.HistoryWindow)
		if err != nil {
			return nil, domain.ChatRequest{}, domain.ChatMessage{}, fmt.Errorf("%w: load history: %v", domain.ErrHistoryStore, err)
		}
		for _, m := range past {
			if m.Content == "" {
				continue
			}
			msgs = append(msgs, domain.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	userMsg := domain.ChatMessage{Role: domain.RoleUser, Content: prompt, Timestamp: time.Now()}
	msgs = append(msgs, userMsg)

	chatReq := domain.ChatRequest{Model: model, Messages: msgs, Tools: req.Tools}

	session := domain.StreamSession{
		ID:             NewID(),
		ConversationID: convID,
		Model:          model,
		Status:         domain.StatusConnecting,
		StartedAt:      time.Now(),
	}
	feed := newFeed(s.cfg.SnapshotBuffer)
	h := &Handle{
		id:             session.ID,
		conversationID: convID,
		feed:           feed,
		done:           make(chan struct{}),
		svc:            s,
	}
	evCtx := context.WithoutCancel(ctx)
	timeline := NewTimeline(s.deps.Catalog, s.deps.Logger, time.Now)
	tools := &toolWatch{}
	h.acc = NewAccumulator(session, timeline, func(snap domain.StreamSession) {
		feed.Publish(snap)
		s.publish(evCtx, domain.EventStreamSnapshot, snap.ID, snap)
		created, ended := tools.observe(snap.ToolCalls)
		for _, rec := range created {
			s.publish(evCtx, domain.EventToolCallCreated, snap.ID, rec)
		}
		for _, rec := range ended {
			s.publish(evCtx, domain.EventToolCallCompleted, snap.ID, rec)
		}
	}, s.deps.Logger)
	return h, chatReq, userMsg, nil
}

func (s *Service) run(ctx context.Context, h *Handle, req domain.ChatRequest, userMsg domain.ChatMessage) {
	defer s.wg.Done()

	ctx, span := tracer.StartSpan(ctx, "stream.turn",
		trace.WithAttributes(
			tracer.StringAttr("stream.session_id", h.id),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	if err := s.stream(ctx, h, req); err != nil {
		if h.acc.Fail(err) {
			tracer.RecordError(span, err)
		}
	}

	final := h.acc.Snapshot()
	if s.deps.Estimator != nil && final.Status == domain.StatusCompleted {
		switch {
		case final.Usage == nil:
			h.acc.SetUsage(s.deps.Estimator.Estimate(req.Model, req.Messages, final.AssistantMessage.Content))
		case final.Usage.TotalCost == 0:
			model := final.Model
			if model == "" {
				model = req.Model
			}
			if cost := s.deps.Estimator.Price(model, final.Usage.InputTokens, final.Usage.OutputTokens); cost > 0 {
				priced := *final.Usage
				priced.TotalCost = cost
				h.acc.SetCost(priced)
			}
		}
		final = h.acc.Snapshot()
	}
	h.feed.Close()

	// The connection and the concurrency slot are released before anyone
	// waiting on the handle is woken.
	h.cancel()
	<-s.slots

	span.SetAttributes(tracer.StringAttr("stream.status", string(final.Status)))
	if final.Usage != nil {
		span.SetAttributes(
			tracer.IntAttr("llm.input_tokens", final.Usage.InputTokens),
			tracer.IntAttr("llm.output_tokens", final.Usage.OutputTokens),
			tracer.Float64Attr("llm.total_cost", final.Usage.TotalCost),
		)
	}
	if final.Status == domain.StatusCompleted {
		tracer.SetOK(span)
	}

	// The turn context may already be cancelled; side effects still run.
	s.finish(context.WithoutCancel(ctx), h, final, userMsg)
}

// stream reads deltas strictly in arrival order and applies each one before
// reading the next.
func (s *Service) stream(ctx context.Context, h *Handle, req domain.ChatRequest) error {
	if h.acc.Status().IsTerminal() {
		return nil
	}

	body, err := s.deps.Opener.OpenStream(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	reader := s.deps.NewReader(body)
	for {
		delta, err := reader.Next()
		if errors.Is(err, io.EOF) {
			h.acc.Done()
			return nil
		}
		if err != nil {
			if ctx.Err() != nil && h.acc.Status().IsTerminal() {
				return nil
			}
			return err
		}
		h.acc.Apply(delta)

		if st := h.acc.Status(); st == domain.StatusCancelled || st == domain.StatusError {
			return nil
		}
	}
}

func (s *Service) finish(ctx context.Context, h *Handle, final domain.StreamSession, userMsg domain.ChatMessage) {
	defer close(h.done)

	logger := s.deps.Logger.With("session_id", final.ID, "status", string(final.Status))
	switch final.Status {
	case domain.StatusError:
		logger.Warn("stream failed",
			"error_code", string(final.Err.Code),
			"error", final.Err.Message,
		)
	default:
		logger.Info("stream ended",
			"content_len", len(final.AssistantMessage.Content),
			"tool_calls", len(final.ToolCalls),
		)
	}

	if s.deps.History != nil {
		assistant := domain.ChatMessage{
			Role:      final.AssistantMessage.Role,
			Content:   final.AssistantMessage.Content,
			Timestamp: time.Now(),
			Status:    final.Status,
			SessionID: final.ID,
		}
		if err := s.deps.History.Append(ctx, final.ConversationID, userMsg, assistant); err != nil {
			logger.Error("append history failed", "error", err)
		} else {
			s.publish(ctx, domain.EventHistoryAppended, final.ID, map[string]string{"conversation_id": final.ConversationID})
		}
	}

	eventType := domain.EventStreamCompleted
	switch final.Status {
	case domain.StatusError:
		eventType = domain.EventStreamError
	case domain.StatusCancelled:
		eventType = domain.EventStreamCancelled
	}
	s.publish(ctx, eventType, final.ID, domain.StreamEndedPayload{
		Status:  final.Status,
		Content: final.AssistantMessage.Content,
		Usage:   final.Usage,
		Error:   final.Err,
	})

	if s.cfg.Retain > 0 {
		time.AfterFunc(s.cfg.Retain, func() { s.forget(final.ID) })
	} else {
		s.forget(final.ID)
	}
}

// Cancel stops the turn with the given id. Cancelling an ended turn is a
// no-op; an unknown id returns ErrSessionNotFound.
func (s *Service) Cancel(id string) error {
	h, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	h.Cancel()
	return nil
}

// Get returns the handle of a live or recently ended turn.
func (s *Service) Get(id string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// Active returns snapshots of all turns that have not ended yet.
func (s *Service) Active() []domain.StreamSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StreamSession, 0, len(s.handles))
	for _, h := range s.handles {
		if snap := h.Snapshot(); !snap.Status.IsTerminal() {
			out = append(out, snap)
		}
	}
	return out
}

// Close cancels every running turn and waits for them to finish.
func (s *Service) Close() {
	s.mu.RLock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		h.Cancel()
	}
	s.wg.Wait()
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}

func (s *Service) publish(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if s.deps.Bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.deps.Logger.Debug("marshal event payload failed", "event", string(eventType), "error", err)
		} else {
			raw = data
		}
	}
	s.deps.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}

// toolWatch turns successive tool timelines into lifecycle events. Records
// keep their position in the timeline, so positions identify them even when
// a synthetic id is later replaced.
type toolWatch struct {
	seen  int
	ended []bool
}

func (w *toolWatch) observe(records []domain.ToolCallRecord) (created, ended []domain.ToolCallRecord) {
	for i, rec := range records {
		if i >= w.seen {
			created = append(created, rec)
			w.ended = append(w.ended, false)
		}
		if rec.State.IsTerminal() && !w.ended[i] {
			w.ended[i] = true
			ended = append(ended, rec)
		}
	}
	if len(records) > w.seen {
		w.seen = len(records)
	}
	return created, ended
}
