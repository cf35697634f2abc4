package toolcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

const defaultDiscoverTimeout = 10 * time.Second

// toolLister is the part of an MCP client discovery needs.
type toolLister interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

type serverConn struct {
	server config.MCPServer
	client toolLister
}

// Discover connects to every configured MCP server, lists its tools into c
// and disconnects again. Servers that fail are logged and skipped; an error
// is returned only when every server failed.
func Discover(ctx context.Context, c *Catalog, servers []config.MCPServer, timeout time.Duration, logger *slog.Logger) (int, error) {
	if len(servers) == 0 {
		return 0, nil
	}
	if timeout <= 0 {
		timeout = defaultDiscoverTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var conns []serverConn
	var errs []string
	for _, srv := range servers {
		client, err := connect(ctx, srv)
		if err != nil {
			logger.Warn("mcp server connect failed, skipping", "server", srv.Name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.Name, err))
			continue
		}
		logger.Info("mcp server connected", "server", srv.Name, "transport", srv.Transport)
		conns = append(conns, serverConn{server: srv, client: client})
	}

	added, listErrs := discoverFrom(ctx, c, conns, logger)
	errs = append(errs, listErrs...)
	if added == 0 && len(errs) == len(servers) {
		return 0, fmt.Errorf("all mcp servers failed discovery: %s", strings.Join(errs, "; "))
	}
	return added, nil
}

// discoverFrom lists tools from already connected clients and closes them.
func discoverFrom(ctx context.Context, c *Catalog, conns []serverConn, logger *slog.Logger) (int, []string) {
	added := 0
	var errs []string
	for _, conn := range conns {
		name := conn.server.Name
		result, err := conn.client.ListTools(ctx, mcp.ListToolsRequest{})
		if closeErr := conn.client.Close(); closeErr != nil {
			logger.Debug("mcp server close error", "server", name, "error", closeErr)
		}
		if err != nil {
			logger.Warn("mcp server discovery failed, skipping", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		for _, t := range result.Tools {
			entry := FromMCPTool(name, conn.server.Category, t)
			if err := c.Add(entry); err != nil {
				logger.Warn("skipping mcp tool", "server", name, "tool", t.Name, "error", err)
				continue
			}
			logger.Debug("mcp tool discovered", "server", name, "tool", t.Name)
			added++
		}
		logger.Info("mcp tools discovered", "server", name, "count", len(result.Tools))
	}
	return added, errs
}

// FromMCPTool converts an MCP tool description into a catalog entry.
func FromMCPTool(server, category string, t mcp.Tool) domain.ToolCatalogEntry {
	entry := domain.ToolCatalogEntry{
		Name:        t.Name,
		Server:      server,
		Category:    category,
		Description: t.Description,
	}
	switch {
	case len(t.RawInputSchema) > 0:
		entry.Schema = t.RawInputSchema
	case t.InputSchema.Properties != nil || t.InputSchema.Required != nil:
		if data, err := json.Marshal(t.InputSchema); err == nil {
			entry.Schema = data
		}
	}
	return entry
}

func connect(ctx context.Context, srv config.MCPServer) (toolLister, error) {
	var c *mcpclient.Client
	switch srv.Transport {
	case "stdio":
		var err error
		c, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c = mcpclient.NewClient(t)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "chatstream", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, domain.WrapOp("initialize", err)
	}
	return c, nil
}

// envSlice converts a map of env vars to KEY=VALUE pairs.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
