package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chatstream/internal/adapter/history"
	"chatstream/internal/adapter/tui"
	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/domain"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		conversation string
		limit        int
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored conversations or the messages of one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if conversation == "" {
				convs, err := store.Conversations(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, convs)
				}
				return printConversations(out, convs)
			}

			msgs, err := store.Recent(cmd.Context(), conversation, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, msgs)
			}
			printMessages(out, msgs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "show the messages of one conversation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "newest messages to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printConversations(w io.Writer, convs []domain.Conversation) error {
	if len(convs) == 0 {
		fmt.Fprintln(w, theme.TextMuted.Render("no conversations yet"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONVERSATION\tMESSAGES\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", c.ID, c.MessageCount, c.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printMessages(w io.Writer, msgs []domain.ChatMessage) {
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		header := theme.RoleLabel(m.Role) + " " + theme.Timestamp.Render(m.Timestamp.Local().Format(time.DateTime))
		if m.Status != "" && m.Status != domain.StatusCompleted {
			header += " " + theme.TextWarning.Render("["+string(m.Status)+"]")
		}
		fmt.Fprintln(w, header)
		if m.Role == domain.RoleAssistant {
			if rendered, err := tui.RenderMarkdown(m.Content, theme.MaxContentWidth); err == nil {
				fmt.Fprint(w, rendered)
				continue
			}
		}
		fmt.Fprintln(w, m.Content)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
