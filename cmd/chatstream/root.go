package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chatstream",
		Short: "Stream chat completions with a live tool timeline",
		Long: `chatstream streams answers from an OpenAI-compatible chat completion
endpoint, showing content and tool calls as they arrive.

Examples:
  chatstream chat "Say hi"
  chatstream chat --conversation 01J... "and in French?"
  chatstream serve --addr 127.0.0.1:8787
  chatstream replay --file testdata/tool_turn.sse
  chatstream doctor`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $CHATSTREAM_CONFIG or ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")

	cmd.AddCommand(
		newChatCmd(opts),
		newServeCmd(opts),
		newReplayCmd(opts),
		newHistoryCmd(opts),
		newDoctorCmd(opts),
		newEncryptCmd(),
	)
	return cmd
}

// path resolves the config file: --config, then CHATSTREAM_CONFIG, then
// ./config.yaml.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := os.Getenv("CHATSTREAM_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// load reads the config. A missing file yields the defaults.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	if o.logLevel != "" {
		cfg.Logger.Level = o.logLevel
	}
	return cfg, nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// readInput returns args joined by spaces, or all of stdin when no args are
// given and stdin is not a terminal.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if isTerminal(stdin) {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
