package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/tracer"
)

// StreamClient opens streaming chat completions against any
// OpenAI-compatible endpoint. It issues exactly one POST per call and never
// retries; resending a turn is the caller's decision.
type StreamClient struct {
	name         string
	model        string
	apiKey       string
	baseURL      string
	maxTokens    int
	temperature  float64
	includeUsage bool
	idleTimeout  time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// NewStreamClient creates a client from provider and stream settings.
func NewStreamClient(cfg config.ProviderConfig, stream config.StreamConfig, logger *slog.Logger) *StreamClient {
	return NewStreamClientWithHTTP(cfg, stream, NewHTTPClient(stream, cfg.Pool), logger)
}

// NewStreamClientWithHTTP is NewStreamClient with a caller-supplied HTTP client.
func NewStreamClientWithHTTP(cfg config.ProviderConfig, stream config.StreamConfig, client *http.Client, logger *slog.Logger) *StreamClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &StreamClient{
		name:         name,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		includeUsage: cfg.IncludeUsage,
		idleTimeout:  stream.IdleTimeout,
		client:       client,
		logger:       logger,
	}
}

// OpenStream implements domain.StreamOpener. The returned body yields raw
// text/event-stream bytes and fails with domain.ErrIdleTimeout when the
// server goes silent for longer than the idle timeout.
func (c *StreamClient) OpenStream(ctx context.Context, req domain.ChatRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}
	req.IncludeUsage = req.IncludeUsage || c.includeUsage

	ctx, span := tracer.StartSpan(ctx, "llm.open_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.messages", len(req.Messages)),
		),
	)
	defer span.End()

	if len(req.Messages) == 0 {
		err := fmt.Errorf("%w: request has no messages", domain.ErrInvalidInput)
		tracer.RecordError(span, err)
		return nil, err
	}

	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrInvalidInput, err)
	}

	// Authentication is optional: only a configured static key is forwarded.
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	start := time.Now()
	resp, err := doStreamRequest(ctx, c.client, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Debug("open stream failed", "provider", c.name, "error", err)
		return nil, err
	}

	tracer.SetOK(span)
	c.logger.Debug("stream opened",
		"provider", c.name,
		"model", req.Model,
		"latency", time.Since(start),
	)
	return newIdleReader(resp.Body, c.idleTimeout), nil
}

// Name implements domain.StreamOpener.
func (c *StreamClient) Name() string { return c.name }

var _ domain.StreamOpener = (*StreamClient)(nil)

// --- OpenAI request wire types ---

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content})
	}

	oaiReq := openaiRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
	}
	if req.IncludeUsage {
		oaiReq.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		oaiReq.Temperature = &t
	}

	if len(req.Tools) > 0 {
		oaiReq.Tools = make([]openaiTool, len(req.Tools))
		for i, t := range req.Tools {
			oaiReq.Tools[i] = openaiTool{
				Type: "function",
				Function: openaiToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}

	return oaiReq
}
