package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chatstream/internal/infra/config"
)

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use in the config file",
		Long: `Encrypt a value with the passphrase in CHATSTREAM_CONFIG_KEY and print it
as an "enc:" string for provider.api_key or an MCP server env value.
Without arguments the value is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("CHATSTREAM_CONFIG_KEY")
			if passphrase == "" {
				return errors.New("CHATSTREAM_CONFIG_KEY is not set")
			}
			value, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("nothing to encrypt")
			}
			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}
