package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	livra "github.com/howk27/livra-sub000"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List counters",
	Long: `List all live counters with their totals and streaks.

Example:
  livra list
  livra list --json`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	counters := client.Counters()

	if outputJSON {
		return outputAsJSON(cmd, counters)
	}

	out := cmd.OutOrStdout()
	if len(counters) == 0 {
		fmt.Fprintln(out, "No counters yet. Create one with 'livra add <name>'.")
		return nil
	}

	for _, c := range counters {
		line := fmt.Sprintf("%s  %s", c.Name, formatTotal(&c))
		if c.StreakEnabled {
			if streak, err := client.Streak(c.ID); err == nil && streak.Current > 0 {
				line += fmt.Sprintf("  (%d day streak)", streak.Current)
			}
		}
		printCounterLine(out, &c, line)
		if c.LastActivityDate != "" {
			printMuted(out, "    last active %s", c.LastActivityDate)
		}
	}
	return nil
}

func findCounterByName(client *livra.Client, name string) (*livra.Counter, error) {
	for _, c := range client.Counters() {
		if strings.EqualFold(c.Name, name) {
			counter := c
			return &counter, nil
		}
	}
	return nil, fmt.Errorf("no counter named %q", name)
}

func formatTotal(c *livra.Counter) string {
	if c.Unit != "" {
		return fmt.Sprintf("%d %s", c.Total, c.Unit)
	}
	return fmt.Sprintf("%d", c.Total)
}
