package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	livra "github.com/howk27/livra-sub000"
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a new counter",
	Long: `Create a new habit counter.

Example:
  livra add Pushups --unit reps --streak
  livra add Water --unit glasses --color "#3B82F6"`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var (
	addColor  string
	addIcon   string
	addUnit   string
	addStreak bool
	addOrder  int
)

func init() {
	addCmd.Flags().StringVar(&addColor, "color", "", "Display color (hex)")
	addCmd.Flags().StringVar(&addIcon, "icon", "", "Display icon")
	addCmd.Flags().StringVar(&addUnit, "unit", "", "Unit label (reps, glasses, km)")
	addCmd.Flags().BoolVar(&addStreak, "streak", false, "Track consecutive-day streaks")
	addCmd.Flags().IntVar(&addOrder, "order", 0, "Sort order in listings")
}

func runAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counter, err := client.CreateCounter(ctx, livra.CounterParams{
		Name:          args[0],
		Color:         addColor,
		Icon:          addIcon,
		Unit:          addUnit,
		StreakEnabled: addStreak,
		SortOrder:     addOrder,
	})
	if err != nil {
		return fmt.Errorf("create counter: %w", err)
	}

	if outputJSON {
		return outputAsJSON(cmd, counter)
	}
	printSuccess(cmd.OutOrStdout(), "Created %q (%s)", counter.Name, counter.ID)
	return nil
}

var logCmd = &cobra.Command{
	Use:   "log <name> [amount]",
	Short: "Log activity against a counter",
	Long: `Record activity against a counter by name.

Example:
  livra log Pushups          # increment by 1
  livra log Pushups 20       # increment by 20
  livra log Pushups -5       # decrement by 5
  livra log Pushups --reset  # reset the total to zero`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLog,
}

var logReset bool

func init() {
	logCmd.Flags().BoolVar(&logReset, "reset", false, "Reset the counter total to zero")
}

func runLog(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counter, err := findCounterByName(client, args[0])
	if err != nil {
		return err
	}

	amount := int64(1)
	if len(args) == 2 {
		if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil {
			return fmt.Errorf("invalid amount %q", args[1])
		}
	}

	switch {
	case logReset:
		_, err = client.Reset(ctx, counter.ID)
	case amount < 0:
		_, err = client.Decrement(ctx, counter.ID, -amount)
	default:
		_, err = client.Increment(ctx, counter.ID, amount)
	}
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}

	updated, err := client.GetCounter(counter.ID)
	if err != nil {
		return err
	}

	if outputJSON {
		return outputAsJSON(cmd, updated)
	}
	printSuccess(cmd.OutOrStdout(), "%s: %s", updated.Name, formatTotal(updated))
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a counter",
	Long: `Delete a counter and its history.

The deletion propagates to every synced device and cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	counter, err := findCounterByName(client, args[0])
	if err != nil {
		return err
	}
	if err := client.DeleteCounter(ctx, counter.ID); err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}

	printSuccess(cmd.OutOrStdout(), "Deleted %q", counter.Name)
	return nil
}

var streakCmd = &cobra.Command{
	Use:   "streak <name>",
	Short: "Show streak state for a counter",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreak,
}

func runStreak(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	counter, err := findCounterByName(client, args[0])
	if err != nil {
		return err
	}

	streak, err := client.Streak(counter.ID)
	if err != nil {
		return fmt.Errorf("get streak: %w", err)
	}

	if outputJSON {
		return outputAsJSON(cmd, streak)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", counter.Name)
	fmt.Fprintf(out, "  Current streak: %d days\n", streak.Current)
	fmt.Fprintf(out, "  Longest streak: %d days\n", streak.Longest)
	if streak.LastDate != "" {
		fmt.Fprintf(out, "  Last activity:  %s\n", streak.LastDate)
	}
	return nil
}
