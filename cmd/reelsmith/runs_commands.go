package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/runs"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsLogCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runs.ListOptions{Limit: limit}
			for _, value := range statusFlags {
				status := runs.Status(strings.ToLower(strings.TrimSpace(value)))
				if !validStatus(status) {
					return fmt.Errorf("unknown status %q", value)
				}
				opts.Statuses = append(opts.Statuses, status)
			}
			return ctx.withLedger(func(ledger *runs.Store) error {
				list, err := ledger.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, run := range list {
					rows = append(rows, []string{
						shortID(run.ID),
						string(run.Status),
						run.Topic,
						fmt.Sprint(run.SegmentCount),
						formatSeconds(run.TotalSeconds),
						formatTime(run.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Topic", "Segments", "Length", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its stage attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(ledger *runs.Store) error {
				run, err := ledger.Find(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, runs.ErrAmbiguous) {
						return fmt.Errorf("run id %q matches more than one run; use more characters", args[0])
					}
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				attempts, err := ledger.Attempts(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Run      runs.Run       `json:"run"`
						Attempts []runs.Attempt `json:"attempts"`
					}{*run, attempts})
				}
				printRun(cmd, *run, attempts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run as JSON")
	return cmd
}

func printRun(cmd *cobra.Command, run runs.Run, attempts []runs.Attempt) {
	out := cmd.OutOrStdout()
	pairs := [][2]string{
		{"Run", run.ID},
		{"Topic", run.Topic},
		{"Style", orDash(run.Style)},
		{"Status", string(run.Status)},
		{"Segments", fmt.Sprint(run.SegmentCount)},
		{"Length", formatSeconds(run.TotalSeconds)},
		{"Created", formatTime(run.CreatedAt)},
		{"Updated", formatTime(run.UpdatedAt)},
	}
	if run.Status == runs.StatusFailed {
		pairs = append(pairs,
			[2]string{"Failed stage", orDash(run.FailedStage)},
			[2]string{"Failed segment", formatSegment(run.FailedSegment)},
			[2]string{"Error kind", orDash(run.ErrorKind)},
			[2]string{"Error", orDash(run.ErrorMessage)},
		)
	}
	if run.OutputPath != "" {
		pairs = append(pairs, [2]string{"Output", run.OutputPath})
	}
	fmt.Fprintln(out, renderKeyValues(pairs))

	if len(attempts) == 0 {
		return
	}
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.Stage,
			formatSegment(a.Segment),
			fmt.Sprint(a.Number),
			a.Outcome,
			orDash(a.ErrorKind),
			a.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Segment", "Attempt", "Outcome", "Error kind", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight},
	))
}

func validStatus(status runs.Status) bool {
	switch status {
	case runs.StatusPending, runs.StatusScriptGenerating, runs.StatusVoiceGenerating,
		runs.StatusImageGenerating, runs.StatusAssembling, runs.StatusSucceeded, runs.StatusFailed:
		return true
	}
	return false
}
