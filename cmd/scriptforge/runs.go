package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show execution history",
	RunE:  runRunsList,
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE:  runRunsStats,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Max runs to show")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-16s %-6s %-8s %s\n", "ID", "OUTCOME", "POLICY", "EXIT", "TIME", "SCRIPT")
	fmt.Println(strings.Repeat("─", 90))

	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("%d", *r.ExitCode)
		}
		fmt.Printf("%-10s %-10s %-16s %-6s %-8s %s\n",
			r.ID[:8], r.Outcome, r.Policy, exit,
			fmt.Sprintf("%dms", r.DurationMS), r.ScriptPath)
	}

	return nil
}

func runRunsStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Total runs: %d\n", stats.TotalRuns)
	fmt.Printf("Succeeded:  %d\n", stats.Succeeded)
	if len(stats.ByOutcome) > 0 {
		fmt.Println("By outcome:")
		for outcome, n := range stats.ByOutcome {
			fmt.Printf("  %-10s %d\n", outcome, n)
		}
	}
	return nil
}
