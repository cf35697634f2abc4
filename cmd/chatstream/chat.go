package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatstream/internal/adapter/tui"
	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/domain"
	"chatstream/internal/usecase/streaming"
)

type chatOptions struct {
	conversation string
	model        string
	system       string
	raw          bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Stream one answer",
		Long: `Stream the answer to a prompt. Content is shown as it arrives together
with the tool calls the model makes. Ctrl-C cancels the turn; the partial
answer is kept in history.

Without arguments the prompt is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), root, opts, prompt, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.conversation, "conversation", "c", "", "continue a stored conversation")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model to use instead of provider.model")
	cmd.Flags().StringVar(&opts.system, "system", "", "system prompt instead of stream.system_prompt")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print content as it arrives without markdown rendering")
	return cmd
}

func runChat(ctx context.Context, root *rootOptions, opts *chatOptions, prompt string, stdout, stderr io.Writer) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	// Logs share the terminal with the answer.
	if root.logLevel == "" && cfg.Logger.Output == "stderr" {
		cfg.Logger.Level = "warn"
	}

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	h, err := st.svc.Start(ctx, streaming.TurnRequest{
		ConversationID: opts.conversation,
		Prompt:         prompt,
		Model:          opts.model,
		SystemPrompt:   opts.system,
	})
	if err != nil {
		fmt.Fprintln(stderr, tui.FriendlyFromError(err).Render())
		return exitError{code: 1}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			h.Cancel()
		case <-h.Done():
		}
	}()

	final, err := renderTurn(h, stdout, stderr, tui.Options{
		Raw:         opts.raw || !isTerminal(stdout),
		Interactive: isTerminal(stderr),
	})
	if err != nil {
		return err
	}
	if opts.conversation == "" {
		fmt.Fprintln(stderr, theme.TextMuted.Render("conversation: "+h.ConversationID()))
	}

	switch final.Status {
	case domain.StatusCancelled:
		return exitError{code: 130}
	case domain.StatusError:
		return exitError{code: 1}
	}
	return nil
}

// turn is the part of a streaming handle the renderer follows.
type turn interface {
	Subscribe(ctx context.Context) <-chan domain.StreamSession
	Wait(ctx context.Context) (domain.StreamSession, error)
}

// renderTurn draws every snapshot of t and returns the final one once the
// turn's side effects are recorded.
func renderTurn(t turn, stdout, stderr io.Writer, opts tui.Options) (domain.StreamSession, error) {
	r := tui.NewRenderer(stdout, stderr, opts)
	for snap := range t.Subscribe(context.Background()) {
		r.Update(snap)
	}
	final, err := t.Wait(context.Background())
	if err != nil {
		return final, err
	}
	return final, r.Finish(final)
}
