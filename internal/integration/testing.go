// Package integration holds end-to-end tests against a real chat
// completion endpoint. They run only with -tags=integration.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		BaseURL:     os.Getenv("CHATSTREAM_IT_BASE_URL"),
		APIKey:      os.Getenv("CHATSTREAM_IT_API_KEY"),
		Model:       os.Getenv("CHATSTREAM_IT_MODEL"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return cfg
}

// SkipIfNoEndpoint skips the test unless an API key or a custom endpoint
// is configured.
func SkipIfNoEndpoint(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.APIKey == "" && os.Getenv("CHATSTREAM_IT_BASE_URL") == "" {
		t.Skip("Skipping integration test: set CHATSTREAM_IT_API_KEY or CHATSTREAM_IT_BASE_URL")
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
