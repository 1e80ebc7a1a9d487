package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sungwon/psp-relay/internal/auth"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a producer API key and its bcrypt hash for auth.api_keys",
	Args:  cobra.NoArgs,
	RunE:  keygen,
}

func init() {
	keygenCmd.Flags().String("producer", "psp-client", "producer name for the config entry")
	rootCmd.AddCommand(keygenCmd)
}

func keygen(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("producer")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "api key (give to the producer, shown once): %s\n\n", key)
	fmt.Fprintln(out, "auth:")
	fmt.Fprintln(out, "  api_keys:")
	fmt.Fprintf(out, "    - name: %s\n", name)
	fmt.Fprintf(out, "      hash: %q\n", hash)
	return nil
}
