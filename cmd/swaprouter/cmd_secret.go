package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted API secrets",
	}
	cmd.AddCommand(newSecretEncryptCmd())
	return cmd
}

func newSecretEncryptCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt SWAPROUTER_SECRET with SWAPROUTER_SECRETS_PASSWORD into a secret file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("SWAPROUTER_SECRET")
			password := os.Getenv("SWAPROUTER_SECRETS_PASSWORD")
			if secret == "" || password == "" {
				return errors.New("SWAPROUTER_SECRET and SWAPROUTER_SECRETS_PASSWORD must be set")
			}
			blob, err := crypto.EncryptSecret(secret, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "secret.json", "destination file")
	return cmd
}
