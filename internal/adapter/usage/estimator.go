// Package usage estimates token counts and prices turns.
package usage

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// Per-message framing overhead of the chat format, in tokens.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// EncodingNone disables tiktoken and always uses the character heuristic.
const EncodingNone = "none"

// Estimator implements domain.UsageEstimator. It counts with a tiktoken
// encoding when one can be loaded and falls back to roughly four
// characters per token otherwise.
type Estimator struct {
	encoding string
	pricing  *Pricing
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates an estimator. The encoding is loaded on first use.
func NewEstimator(cfg config.UsageConfig, logger *slog.Logger) *Estimator {
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = tiktoken.MODEL_CL100K_BASE
	}
	return &Estimator{
		encoding: encoding,
		pricing:  NewPricing(cfg.Pricing),
		logger:   logger,
	}
}

func (e *Estimator) load() *tiktoken.Tiktoken {
	e.once.Do(func() {
		if e.encoding == EncodingNone {
			return
		}
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.logger.Warn("token encoding unavailable, using character estimate",
				"encoding", e.encoding,
				"error", err,
			)
			return
		}
		e.enc = enc
	})
	return e.enc
}

// CountText returns the token count of s.
func (e *Estimator) CountText(s string) int {
	if s == "" {
		return 0
	}
	if enc := e.load(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return (utf8.RuneCountInString(s) + 3) / 4
}

// CountMessages returns the prompt token count of msgs including the chat
// framing overhead.
func (e *Estimator) CountMessages(msgs []domain.ChatMessage) int {
	if len(msgs) == 0 {
		return 0
	}
	n := tokensPerReply
	for _, m := range msgs {
		n += tokensPerMessage + e.CountText(m.Role) + e.CountText(m.Content)
	}
	return n
}

// Estimate implements domain.UsageEstimator.
func (e *Estimator) Estimate(model string, prompt []domain.ChatMessage, completion string) domain.Usage {
	u := domain.Usage{
		InputTokens:  e.CountMessages(prompt),
		OutputTokens: e.CountText(completion),
		Estimated:    true,
	}
	u.TotalCost = e.pricing.Cost(model, u.InputTokens, u.OutputTokens)
	return u
}

// Price implements domain.UsageEstimator.
func (e *Estimator) Price(model string, inputTokens, outputTokens int) float64 {
	return e.pricing.Cost(model, inputTokens, outputTokens)
}

// Pricing is a table of per-model token prices.
type Pricing struct {
	prices map[string]config.ModelPrice
}

// NewPricing indexes the configured prices by lower-cased model name.
func NewPricing(prices []config.ModelPrice) *Pricing {
	p := &Pricing{prices: make(map[string]config.ModelPrice, len(prices))}
	for _, mp := range prices {
		p.prices[strings.ToLower(mp.Model)] = mp
	}
	return p
}

// Lookup finds the price for model. Dated or suffixed variants such as
// "gpt-4o-mini-2024-07-18" match the longest configured prefix.
func (p *Pricing) Lookup(model string) (config.ModelPrice, bool) {
	model = strings.ToLower(model)
	if mp, ok := p.prices[model]; ok {
		return mp, true
	}
	var best config.ModelPrice
	found := false
	for name, mp := range p.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best.Model) {
			best, found = mp, true
		}
	}
	return best, found
}

// Cost returns the USD cost of a turn, or zero for unpriced models.
func (p *Pricing) Cost(model string, inputTokens, outputTokens int) float64 {
	mp, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)*mp.InputPerMillion/1e6 + float64(outputTokens)*mp.OutputPerMillion/1e6
}

var _ domain.UsageEstimator = (*Estimator)(nil)
