package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-authflow/internal/credstore"
)

// newClearCmd creates the clear subcommand, which removes stored
// credentials, tokens and verifiers for one server.
func newClearCmd() *cobra.Command {
	var clearEndpoint string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored credentials for a server",
		Long: `Removes the stored client credentials, tokens and PKCE verifier for the
given MCP server from the local credential database. Useful when a
server's registration has been revoked or a clean re-registration is
wanted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearEndpoint == "" {
				return fmt.Errorf("--endpoint is required")
			}

			logger, err := newLogger()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			dir, err := resolveDataDir()
			if err != nil {
				return err
			}
			store, err := credstore.Open(dir, logger)
			if err != nil {
				return fmt.Errorf("failed to open credential store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.RemoveClient(clearEndpoint); err != nil {
				return fmt.Errorf("failed to remove client credentials: %w", err)
			}
			if err := store.RemoveTokens(clearEndpoint); err != nil {
				return fmt.Errorf("failed to remove tokens: %w", err)
			}
			if err := store.RemoveVerifier(clearEndpoint); err != nil {
				return fmt.Errorf("failed to remove verifier: %w", err)
			}

			fmt.Printf("Cleared stored credentials for %s\n", clearEndpoint)
			return nil
		},
	}

	cmd.Flags().StringVar(&clearEndpoint, "endpoint", "", "MCP endpoint URL whose credentials to remove")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for the credential database (default: ~/.mcp-authflow)")

	return cmd
}
