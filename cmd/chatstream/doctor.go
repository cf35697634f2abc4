package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatstream/internal/adapter/history"
	"chatstream/internal/adapter/toolcatalog"
	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/adapter/usage"
	"chatstream/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and the provider endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), root.path())
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer, cfgPath string) error {
	// Try to load config; some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Provider API key", Fn: checkAPIKey},
		{Name: "Provider connectivity", Fn: checkProviderConnectivity},
		{Name: "History backend", Fn: checkHistoryBackend},
		{Name: "Tool catalog", Fn: checkToolCatalog},
		{Name: "Gateway", Fn: checkGateway},
		{Name: "Pricing", Fn: checkPricing},
	}

	fmt.Fprintln(w, theme.Bold.Render("chatstream doctor"))
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above before streaming.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nchatstream should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return theme.TextSuccess.Render("[PASS]")
	case StatusWarn:
		return theme.TextWarning.Render("[WARN]")
	case StatusFail:
		return theme.TextError.Render("[FAIL]")
	default:
		return "[????]"
	}
}

var errNoConfig = CheckResult{
	Status:  StatusFail,
	Message: "cannot check, config not loaded",
}

// checkConfigFile reports whether the config file exists and loads. A
// missing file is only a warning since the defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax and permissions of %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkAPIKey warns when no key is configured. Keys are optional since
// local endpoints often run without one.
func checkAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if cfg.Provider.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no API key, requests to %s are unauthenticated", cfg.Provider.BaseURL),
			Fix:     "Set provider.api_key or CHATSTREAM_PROVIDER_API_KEY if the endpoint needs one",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API key configured for %s", cfg.Provider.Name),
	}
}

// checkProviderConnectivity asks the endpoint for its model list.
func checkProviderConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	endpoint := strings.TrimRight(cfg.Provider.BaseURL, "/") + "/models"
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid provider.base_url %q", cfg.Provider.BaseURL),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	if cfg.Provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Provider.APIKey)
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check provider.base_url and your network",
		}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s rejected the credentials (HTTP %d)", endpoint, resp.StatusCode),
			Fix:     "Check provider.api_key",
		}
	case resp.StatusCode >= 500:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered HTTP %d", endpoint, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", cfg.Provider.Name, latency.Milliseconds()),
	}
}

// checkHistoryBackend opens the configured store.
func checkHistoryBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if cfg.History.Backend == "memory" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "history backend is memory, conversations are lost on exit",
		}
	}

	dir, _ := filepath.Abs(filepath.Dir(cfg.History.Path))
	store, err := history.Open(cfg.History)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open history: %v", err),
			Fix:     fmt.Sprintf("Check that %s is writable", dir),
		}
	}
	defer store.Close()

	convs, err := store.Conversations(context.Background())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("history query failed: %v", err),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%d conversations)", cfg.History.Path, len(convs)),
	}
}

// checkToolCatalog compiles the configured schemas and looks for the
// commands of stdio MCP servers.
func checkToolCatalog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	catalog, err := toolcatalog.New(cfg.Tools.Catalog)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Fix the schema of the tools.catalog entry",
		}
	}

	var missing []string
	for _, srv := range cfg.Tools.MCPServers {
		if srv.Transport != "stdio" {
			continue
		}
		if _, err := exec.LookPath(srv.Command); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", srv.Command, srv.Name))
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("MCP server commands not found: %s", strings.Join(missing, ", ")),
			Fix:     "Install them or remove the servers from tools.mcp_servers",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d catalog entries, %d MCP servers", catalog.Len(), len(cfg.Tools.MCPServers)),
	}
}

// checkGateway warns about a network-reachable gateway without tokens.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid gateway.addr %q", cfg.Gateway.Addr),
		}
	}
	if len(cfg.Gateway.Tokens) == 0 && !isLoopback(cfg.Gateway.Addr) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s is reachable from the network without tokens", cfg.Gateway.Addr),
			Fix:     "Add gateway.tokens or bind to 127.0.0.1",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("listens on %s, %d tokens", cfg.Gateway.Addr, len(cfg.Gateway.Tokens)),
	}
}

// checkPricing warns when the default model has no price, so costs stay
// unreported.
func checkPricing(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	price, ok := usage.NewPricing(cfg.Usage.Pricing).Lookup(cfg.Provider.Model)
	if !ok {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no price for %s, costs are not reported", cfg.Provider.Model),
			Fix:     "Add an entry to usage.pricing",
		}
	}
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("%s: $%.2f in / $%.2f out per 1M tokens",
			cfg.Provider.Model, price.InputPerMillion, price.OutputPerMillion),
	}
}
