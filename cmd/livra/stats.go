package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Long: `Display statistics about the local store.

Example:
  livra stats
  livra stats --json`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if outputJSON {
		return outputAsJSON(cmd, stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Local Store Statistics")
	fmt.Fprintln(out, "----------------------")
	fmt.Fprintf(out, "Counters:       %d\n", stats.Counters)
	fmt.Fprintf(out, "Events:         %d\n", stats.Events)
	fmt.Fprintf(out, "Pending deltas: %d\n", stats.PendingDeltas)
	fmt.Fprintf(out, "Schema version: %s\n", stats.SchemaVersion)

	if !stats.LastSync.IsZero() {
		fmt.Fprintf(out, "Last sync:      %s (%s ago)\n",
			stats.LastSync.Format(time.RFC3339),
			time.Since(stats.LastSync).Round(time.Minute))
	} else {
		fmt.Fprintln(out, "Last sync:      never")
	}
	return nil
}
