package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/steprunner/pkg/config/decryptors"
)

func (a *app) newEncryptCmd() *cobra.Command {
	var recipients []string
	cmd := &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a configuration value for the decryptors.Age decryptor",
		Long:  "Encrypt a value to one or more age X25519 recipients and print it as ENC[age,...], ready to paste into configuration. Without an argument the value is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			if len(recipients) == 0 {
				return usageErrorf("at least one --recipient is required")
			}
			var plaintext string
			if len(args) == 1 {
				plaintext = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				plaintext = strings.TrimRight(string(data), "\r\n")
			}
			encrypted, err := decryptors.EncryptString(plaintext, recipients...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encrypted)
			return nil
		}),
	}
	cmd.Flags().StringArrayVarP(&recipients, "recipient", "r", nil, "age recipient public key (age1...), repeatable")
	return cmd
}
