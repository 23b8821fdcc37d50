// Package cli provides the command-line interface for mapperctl.
// This file implements API key commands. Keys are never stored; the backend
// keeps only their bcrypt hashes in server.api_key_hashes.
package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anstrom/mapperctl/internal/auth"
)

// apiKeysCmd represents the apikeys command group
var apiKeysCmd = &cobra.Command{
	Use:     "apikeys",
	Aliases: []string{"apikey", "keys", "key"},
	Short:   "Create API keys for backend authentication",
	Long: `Create API keys for the mapperctl backend.

The backend accepts a request when its key matches one of the bcrypt hashes
listed in server.api_key_hashes. Clients send the key with --api-key or the
MAPPERCTL_API_KEY environment variable.`,
	Example: `  # Create a key and add the printed hash to the backend config
  mapperctl apikeys generate

  # Hash an existing key read from stdin
  echo -n "$KEY" | mapperctl apikeys hash`,
}

var apiKeysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key and its hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "API key:  %s\n", key)
		fmt.Fprintf(out, "Hash:     %s\n\n", hash)
		fmt.Fprintln(out, "Store the key now; it cannot be recovered. Add the hash to server.api_key_hashes.")
		return nil
	},
}

var apiKeysHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print the bcrypt hash of an existing key",
	Long:  "Print the bcrypt hash of a key given as an argument or, without one, read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read key from stdin: %w", err)
			}
			key = line
		}

		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("API key must not be empty")
		}

		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var apiKeysCheckCmd = &cobra.Command{
	Use:   "check <key> <hash>",
	Short: "Check whether a key matches a hash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !auth.ValidateAPIKey(args[0], args[1]) {
			return fmt.Errorf("key %s does not match the hash", auth.DisplayPrefix(args[0]))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key %s matches.\n", auth.DisplayPrefix(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apiKeysCmd)
	apiKeysCmd.AddCommand(apiKeysGenerateCmd, apiKeysHashCmd, apiKeysCheckCmd)
}
