package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger one archival sweep now",
	Long: `Runs a single archival pass on the server: conversations whose
remaining TTL is at or below the archive threshold are persisted to the
durable store and marked. Normally the scheduler does this on its own timer;
this command exists for operations and debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := api.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Checked: %d  Archived: %d  Skipped: %d  Failed: %d\n",
			stats.Checked, stats.Archived, stats.Skipped, stats.Failed)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a live conversation and its archive marker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.DeleteConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted conversation %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(deleteCmd)
}
