package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatstream/internal/adapter/replay"
	"chatstream/internal/infra/logger"
)

func newReplayCmd(root *rootOptions) *cobra.Command {
	var (
		file   string
		addr   string
		delay  time.Duration
		status int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Serve a recorded SSE fixture as a chat completion endpoint",
		Long: `Serve a fixture file to every POST request. Each file line is sent as one
SSE line; lines starting with "#" are fixture comments. Point
provider.base_url at the printed URL to stream from it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			log, closeLog, err := logger.New(cfg.Logger)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer closeLog()

			lines, err := replay.LoadFile(file)
			if err != nil {
				return err
			}
			handler := &replay.Handler{
				Lines:  lines,
				Delay:  delay,
				Status: status,
				OnRequest: func(r *http.Request, body []byte) {
					log.Info("replaying fixture", "path", r.URL.Path, "request_bytes", len(body))
				},
				Logger: logger.Component(log, "replay"),
			}

			mux := http.NewServeMux()
			mux.Handle("POST /", handler)
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Info("replay server started", "addr", addr, "file", file, "lines", len(lines))
			fmt.Fprintf(cmd.ErrOrStderr(), "set provider.base_url to http://%s/v1\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("replay serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file (required)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8788", "listen address")
	cmd.Flags().DurationVar(&delay, "delay", 50*time.Millisecond, "pause before each line")
	cmd.Flags().IntVar(&status, "status", 0, "HTTP status to answer with (default 200)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
