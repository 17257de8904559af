package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the artifact cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openArtifacts()
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderKeyValues([][2]string{
				{"Root", stats.Root},
				{"Entries", fmt.Sprint(stats.Entries)},
				{"Size", formatBytes(stats.TotalBytes)},
				{"Free space", formatBytes(int64(stats.FreeBytes))},
				{"Oldest", formatTime(stats.Oldest)},
				{"Newest", formatTime(stats.Newest)},
			}))
			if len(stats.Stages) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(stats.Stages))
			for _, s := range stats.Stages {
				rows = append(rows, []string{s.Stage, fmt.Sprint(s.Entries), formatBytes(s.TotalBytes)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Entries", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print stats as JSON")
	return cmd
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete cache entries older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return err
			}
			store, err := ctx.openArtifacts()
			if err != nil {
				return err
			}
			result, err := store.Prune(cmd.Context(), age)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d entries (%s freed)\n", result.Removed, formatBytes(result.FreedBytes))
			if result.Skipped > 0 {
				fmt.Fprintf(out, "Skipped %d entries locked by a running pipeline\n", result.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Minimum entry age, e.g. 12h or 7d")
	return cmd
}

// parseAge accepts Go durations plus a day suffix.
func parseAge(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("--older-than is required")
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", value)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", value)
	}
	return d, nil
}
