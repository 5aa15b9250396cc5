package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status and store health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status, err := api.SchedulerStatus(ctx)
		if err != nil {
			return err
		}
		health, err := api.Health(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Scheduler running:    %v\n", status.Running)
		fmt.Printf("Sweep interval:       %s\n", status.Interval)
		fmt.Printf("Archive threshold:    %s\n", status.Threshold)
		fmt.Printf("Store connected:      %v\n", health.StoreConnected)
		fmt.Printf("Active conversations: %d\n", health.ActiveConversations)
		fmt.Printf("Archived markers:     %d\n", health.ArchivedMarkers)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := api.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Uptime: %.0fs\n", snap.UptimeSeconds)
		fmt.Printf("Archived: %d  Skipped: %d  Failed: %d\n",
			snap.Archival.Archived, snap.Archival.Skipped, snap.Archival.Failed)
		if snap.LLMGenerate != nil {
			fmt.Printf("LLM calls: %d (avg %.0fms)\n", snap.LLMGenerate.Count, snap.LLMGenerate.AvgTimeMs)
		}
		if snap.Sweep != nil {
			fmt.Printf("Sweeps: %d (avg %.0fms)\n", snap.Sweep.Count, snap.Sweep.AvgTimeMs)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
}
