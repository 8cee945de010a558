package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"scriptor/internal/input"
	"scriptor/internal/script"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Decode a script and summarize its events",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var infoEvents bool

func init() {
	infoCmd.Flags().BoolVar(&infoEvents, "events", false, "list every event with its offset from the first")
}

func runInfo(cmd *cobra.Command, args []string) error {
	events, err := script.ReadFile(args[0])
	if err != nil {
		return err
	}
	sum := script.Summarize(events)

	fmt.Println("=== Script ===")
	fmt.Printf("File:     %s\n", args[0])
	fmt.Printf("Events:   %d\n", sum.Events)
	if sum.Events == 0 {
		return nil
	}
	fmt.Printf("Duration: %s\n", sum.Duration.Round(time.Millisecond))
	fmt.Printf("Recorded: %s\n", sum.First.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("By kind:")
	kinds := make([]input.ActionKind, 0, len(sum.ByKind))
	for k := range sum.ByKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-15s %d\n", k, sum.ByKind[k])
	}

	if infoEvents {
		fmt.Println()
		fmt.Printf("%-6s %-12s %s\n", "#", "Offset", "Action")
		for i, ev := range events {
			fmt.Printf("%-6d %-12s %s\n", i, ev.Timestamp.Sub(sum.First).Round(time.Microsecond), ev.Action)
		}
	}
	return nil
}
