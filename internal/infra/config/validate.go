package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateStream(cfg, ve)
	validateProvider(cfg, ve)
	validateHistory(cfg, ve)
	validateTools(cfg, ve)
	validateGateway(cfg, ve)
	validateUsage(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateStream(cfg *Config, ve *ValidationError) {
	s := cfg.Stream
	if s.IdleTimeout <= 0 {
		ve.Add("stream.idle_timeout must be > 0")
	}
	if s.ConnectTimeout < 0 {
		ve.Add("stream.connect_timeout must be >= 0")
	}
	if s.ResponseHeaderTimeout < 0 {
		ve.Add("stream.response_header_timeout must be >= 0")
	}
	if s.HistoryWindow < 0 {
		ve.Add("stream.history_window must be >= 0")
	}
	if s.SnapshotBuffer <= 0 {
		ve.Add("stream.snapshot_buffer must be > 0")
	}
	if s.MaxConcurrent <= 0 {
		ve.Add("stream.max_concurrent must be > 0")
	}
	if s.TurnsPerMinute < 0 {
		ve.Add("stream.turns_per_minute must be >= 0")
	}
	if s.Retain < 0 {
		ve.Add("stream.retain must be >= 0")
	}
}

func validateProvider(cfg *Config, ve *ValidationError) {
	p := cfg.Provider
	if p.BaseURL == "" {
		ve.Add("provider.base_url is required")
	} else if u, err := url.Parse(p.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("provider.base_url %q must be an absolute http(s) URL", p.BaseURL)
	}
	if p.Model == "" {
		ve.Add("provider.model is required")
	}
	if p.MaxTokens < 0 {
		ve.Add("provider.max_tokens must be >= 0")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		ve.Add("provider.temperature must be within [0, 2]")
	}
	if strings.HasPrefix(p.APIKey, "enc:") {
		ve.Add("provider.api_key is encrypted but CHATSTREAM_CONFIG_KEY is not set")
	}
	if cb := p.CircuitBreaker; cb.Enabled && (cb.MaxFailures == 0 || cb.Timeout <= 0) {
		ve.Add("provider.circuit_breaker requires max_failures > 0 and timeout > 0")
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	switch cfg.History.Backend {
	case "memory":
	case "sqlite":
		if cfg.History.Path == "" {
			ve.Add("history.path is required for the sqlite backend")
		}
	default:
		ve.Add("history.backend %q is invalid (want sqlite or memory)", cfg.History.Backend)
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Tools.Catalog))
	for i, t := range cfg.Tools.Catalog {
		if t.Name == "" {
			ve.Add("tools.catalog[%d].name is required", i)
			continue
		}
		if seen[t.Name] {
			ve.Add("tools.catalog[%d]: duplicate tool %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Schema != "" && !json.Valid([]byte(t.Schema)) {
			ve.Add("tools.catalog[%d] (%s): schema is not valid JSON", i, t.Name)
		}
	}

	servers := make(map[string]bool, len(cfg.Tools.MCPServers))
	for i, s := range cfg.Tools.MCPServers {
		if s.Name == "" {
			ve.Add("tools.mcp_servers[%d].name is required", i)
		} else if servers[s.Name] {
			ve.Add("tools.mcp_servers[%d]: duplicate server %q", i, s.Name)
		}
		servers[s.Name] = true
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("tools.mcp_servers[%d].command is required for stdio transport", i)
			}
		case "http":
			if s.URL == "" {
				ve.Add("tools.mcp_servers[%d].url is required for http transport", i)
			}
		default:
			ve.Add("tools.mcp_servers[%d].transport %q is invalid (want stdio or http)", i, s.Transport)
		}
	}
	if len(cfg.Tools.MCPServers) > 0 && cfg.Tools.DiscoverTimeout <= 0 {
		ve.Add("tools.discover_timeout must be > 0 when mcp_servers are configured")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	rl := cfg.Gateway.RateLimit
	if rl.RequestsPerMinute < 0 || rl.Burst < 0 {
		ve.Add("gateway.rate_limit values must be >= 0")
	}
	if rl.RequestsPerMinute > 0 && rl.Burst == 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when requests_per_minute is set")
	}
	for i, tok := range cfg.Gateway.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.tokens[%d].token is required", i)
		}
	}
}

func validateUsage(cfg *Config, ve *ValidationError) {
	for i, p := range cfg.Usage.Pricing {
		if p.Model == "" {
			ve.Add("usage.pricing[%d].model is required", i)
		}
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			ve.Add("usage.pricing[%d] prices must be >= 0", i)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want stdout or noop)", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1, got %g", r)
	}
}
