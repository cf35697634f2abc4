package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	result := checkConfigFile("/nonexistent/path/config.yaml", nil)(nil)
	assert.Equal(t, StatusWarn, result.Status)
	assert.NotEmpty(t, result.Fix)
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	result := checkConfigFile("config.yaml", &config.ValidationError{Errors: []string{"bad yaml"}})(nil)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "bad yaml")
}

func TestCheckConfigFile_Valid(t *testing.T) {
	path := writeConfig(t, "provider:\n  model: gpt-4o\n")
	result := checkConfigFile(path, nil)(nil)
	assert.Equal(t, StatusPass, result.Status, result.Message)
}

func TestChecksNeedConfig(t *testing.T) {
	for name, fn := range map[string]func(*config.Config) CheckResult{
		"api key":      checkAPIKey,
		"connectivity": checkProviderConnectivity,
		"history":      checkHistoryBackend,
		"tools":        checkToolCatalog,
		"gateway":      checkGateway,
		"pricing":      checkPricing,
	} {
		assert.Equal(t, StatusFail, fn(nil).Status, name)
	}
}

func TestCheckAPIKey(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusWarn, checkAPIKey(cfg).Status)

	cfg.Provider.APIKey = "sk-test"
	assert.Equal(t, StatusPass, checkAPIKey(cfg).Status)
}

func TestCheckProviderConnectivity(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   CheckStatus
	}{
		{"ok", http.StatusOK, StatusPass},
		{"unauthorized", http.StatusUnauthorized, StatusFail},
		{"forbidden", http.StatusForbidden, StatusFail},
		{"server error", http.StatusBadGateway, StatusWarn},
		{"not found still reachable", http.StatusNotFound, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(chan [2]string, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen <- [2]string{r.URL.Path, r.Header.Get("Authorization")}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			cfg := config.Defaults()
			cfg.Provider.BaseURL = srv.URL + "/v1/"
			cfg.Provider.APIKey = "sk-test"

			result := checkProviderConnectivity(cfg)
			assert.Equal(t, tt.want, result.Status, result.Message)
			got := <-seen
			assert.Equal(t, "/v1/models", got[0])
			assert.Equal(t, "Bearer sk-test", got[1])
		})
	}
}

func TestCheckProviderConnectivity_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := config.Defaults()
	cfg.Provider.BaseURL = url
	result := checkProviderConnectivity(cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.NotEmpty(t, result.Fix)
}

func TestCheckHistoryBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.History.Backend = "memory"
	assert.Equal(t, StatusWarn, checkHistoryBackend(cfg).Status)

	cfg.History = config.HistoryConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")}
	result := checkHistoryBackend(cfg)
	assert.Equal(t, StatusPass, result.Status, result.Message)
	assert.Contains(t, result.Message, "0 conversations")
}

func TestCheckHistoryBackend_Unwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := config.Defaults()
	cfg.History = config.HistoryConfig{Backend: "sqlite", Path: filepath.Join(blocker, "h.db")}
	result := checkHistoryBackend(cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.NotEmpty(t, result.Fix)
}

func TestCheckToolCatalog(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tools.Catalog = []config.ToolEntry{{Name: "search", Schema: `{"type":"object"}`}}
	result := checkToolCatalog(cfg)
	assert.Equal(t, StatusPass, result.Status, result.Message)
	assert.Contains(t, result.Message, "1 catalog entries")

	cfg.Tools.MCPServers = []config.MCPServer{{Name: "fs", Transport: "stdio", Command: "definitely-not-a-command-xyz"}}
	result = checkToolCatalog(cfg)
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "definitely-not-a-command-xyz")

	cfg.Tools.Catalog = []config.ToolEntry{{Name: "broken", Schema: `{"type": 12}`}}
	assert.Equal(t, StatusFail, checkToolCatalog(cfg).Status)
}

func TestCheckGateway(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusPass, checkGateway(cfg).Status)

	cfg.Gateway.Addr = "0.0.0.0:8787"
	assert.Equal(t, StatusWarn, checkGateway(cfg).Status)

	cfg.Gateway.Tokens = []config.GatewayToken{{Name: "ui", Token: "t"}}
	assert.Equal(t, StatusPass, checkGateway(cfg).Status)

	cfg.Gateway.Addr = "nonsense"
	assert.Equal(t, StatusFail, checkGateway(cfg).Status)
}

func TestCheckPricing(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusWarn, checkPricing(cfg).Status)

	cfg.Usage.Pricing = []config.ModelPrice{{Model: "gpt-4o-mini", InputPerMillion: 0.15, OutputPerMillion: 0.6}}
	result := checkPricing(cfg)
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "$0.15")
}

func TestRunDoctorReportsFailures(t *testing.T) {
	cfg := writeConfig(t, "provider:\n  base_url: http://127.0.0.1:1\nhistory:\n  backend: memory\n")

	var out bytes.Buffer
	err := runDoctor(&out, cfg)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Provider connectivity")
	assert.Contains(t, out.String(), "Results:")
	assert.Contains(t, out.String(), "1 failed")
}
