// Package cli provides the administrative command-line interface for Parley.
package cli

import (
	"fmt"
	"os"

	"github.com/parleychat/parley/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Admin CLI for the Parley chat backend",
	Long: `Parley is a multi-tenant chat backend with ephemeral conversation state
and durable archival. This CLI administers a running parley-server:
inspect scheduler and store health, trigger archival sweeps, and delete
conversations.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(serverURL)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "parley-server base URL (default $PARLEY_SERVER_URL or http://localhost:8080)")
}
