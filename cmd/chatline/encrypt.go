package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatline/internal/infra/config"
)

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a secret for use in the config file",
		Long: fmt.Sprintf(`Encrypt a secret (such as api.token) with the passphrase in %s.
Paste the printed enc: value into the config file; chatline decrypts it on
load when the same passphrase is set.`, config.KeyEnv),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.KeyEnv)
			if passphrase == "" {
				return fmt.Errorf("%s is not set", config.KeyEnv)
			}
			sealed, err := config.EncryptValue(args[0], passphrase)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enc:%s\n", sealed)
			return nil
		},
	}
}
