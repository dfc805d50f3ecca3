package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the backend",
	Long: `Run one full sync cycle: push local changes, pull remote
changes, and resolve conflicts.

Example:
  livra sync`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsOffline() {
		return fmt.Errorf("LIVRA_URL not configured")
	}

	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Synchronizing...")
	start := time.Now()

	if err := client.Sync(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Fprintf(out, "Sync complete (took %s)\n", time.Since(start).Round(time.Millisecond))

	if client.TierLimited() {
		printWarning(out, "Some counters exceed your plan's limit and stay on this device only.")
	}

	if stats, err := client.Stats(); err == nil {
		fmt.Fprintf(out, "Counters: %d\n", stats.Counters)
		fmt.Fprintf(out, "Pending deltas: %d\n", stats.PendingDeltas)
	}
	return nil
}
