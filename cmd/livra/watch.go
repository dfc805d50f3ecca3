package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	livra "github.com/howk27/livra-sub000"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync daemon",
	Long: `Keep the local store in sync until interrupted.

The daemon syncs periodically, listens for realtime change
notifications, and prints accepted changes as they arrive.

Example:
  livra watch`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsOffline() {
		return fmt.Errorf("LIVRA_URL not configured")
	}

	client, err := livra.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	unsubscribe := client.Subscribe(func(change livra.ProjectionChange) {
		switch {
		case change.Counter != nil && change.Removed:
			printMuted(out, "− %s", change.Counter.Name)
		case change.Counter != nil:
			printInfo(out, "%s  %s", change.Counter.Name, formatTotal(change.Counter))
		case change.Event != nil:
			printMuted(out, "  event %s %s", change.Event.EventType, change.Event.MarkID)
		}
	})
	defer unsubscribe()

	fmt.Fprintln(out, "Watching for changes (Ctrl-C to stop)...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Fprintln(out, "Shutting down...")
	return nil
}
