package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"phasedoc/pkg/config"
)

func newSecretsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted API key file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <NAME>",
		Short: "Store a secret such as GEMINI_API_KEY in .phasedoc/secrets.json.enc",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			in := newLineReader(cmd.InOrStdin())

			value, err := in.secret(out, fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("secret value is empty")
			}
			password, err := readPassword(in, out, "Secrets password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password is empty")
			}

			if err := config.StoreSecret(c.projectDir, password, args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved %s to %s\n", args[0], config.SecretsFilePath(c.projectDir))
			return nil
		},
	})
	return cmd
}
