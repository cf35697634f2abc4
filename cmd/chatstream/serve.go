package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatstream/internal/adapter/gateway"
	"chatstream/internal/infra/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket gateway",
		Long: `Serve turns to remote clients:

  POST   /v1/turns         start a turn
  GET    /v1/turns         list running turns
  GET    /v1/turns/{id}    latest snapshot
  DELETE /v1/turns/{id}    cancel
  GET    /ws?session=ID    ordered snapshots over WebSocket
  GET    /ws/events        bus events over WebSocket
  GET    /v1/status        service status
  GET    /metrics          Prometheus metrics
  GET    /healthz          liveness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Gateway.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			log := logger.Component(st.logger, "gateway")
			if len(cfg.Gateway.Tokens) == 0 && !isLoopback(cfg.Gateway.Addr) {
				log.Warn("gateway is reachable from the network without tokens", "addr", cfg.Gateway.Addr)
			}
			return gateway.NewServer(cfg.Gateway, st.svc, st.bus, log).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address instead of gateway.addr")
	return cmd
}

// isLoopback reports whether addr only accepts local connections.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

