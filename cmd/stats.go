package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// newStatsCmd creates the 'stats' subcommand. It reports campaign progress
// from the snapshot alongside the judgment counts in the metadata database.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints campaign progress and archive counts",
		RunE:  runStatsCommand,
	}
}

func runStatsCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	snap, err := appInstance.Snapshots().Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load progress snapshot: %w", err)
	}
	if snap == nil {
		fmt.Fprintln(out, "No progress snapshot found; the campaign has not started.")
	} else {
		sum := snap.Summarize()
		fmt.Fprintf(out, "Campaign %s to %s (last run %s)\n",
			snap.Campaign.GlobalStart.Format("2006-01-02"),
			snap.Campaign.GlobalEnd.Format("2006-01-02"),
			orDash(sum.LastRunID))
		fmt.Fprintln(out, "Windows:")
		for _, status := range sortedKeys(sum.WindowCounts) {
			fmt.Fprintf(out, "  %-12s %d\n", status, sum.WindowCounts[status])
		}
		fmt.Fprintln(out, "Tasks:")
		for _, status := range sortedKeys(sum.TaskCounts) {
			fmt.Fprintf(out, "  %-12s %d\n", status, sum.TaskCounts[status])
		}
	}

	stats, err := appInstance.Database().Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("read database stats: %w", err)
	}
	fmt.Fprintf(out, "Archive: %d judgments, %d uploaded\n", stats.Total, stats.Uploaded)
	for _, court := range sortedKeys(stats.ByCourt) {
		fmt.Fprintf(out, "  %-12s %d\n", court, stats.ByCourt[court])
	}
	if !stats.LatestScrapedAt.IsZero() {
		fmt.Fprintf(out, "Latest scrape: %s\n", stats.LatestScrapedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
