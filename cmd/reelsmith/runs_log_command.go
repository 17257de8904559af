package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/logging"
	"reelsmith/internal/logs"
	"reelsmith/internal/runs"
)

func newRunsLogCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool

	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Print a run's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var run *runs.Run
			err = ctx.withLedger(func(ledger *runs.Store) error {
				found, err := ledger.Find(cmd.Context(), args[0])
				run = found
				return err
			})
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}

			path := logging.RunLogPath(cfg.Paths.StateDir, run.ID)
			out := cmd.OutOrStdout()
			emit := func(page logs.Page) {
				for _, line := range page.Lines {
					if raw {
						fmt.Fprintln(out, line)
					} else {
						fmt.Fprintln(out, logs.Parse(line).Format())
					}
				}
			}

			page, err := logs.Tail(cmd.Context(), path, logs.Options{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			emit(page)
			if !follow {
				return nil
			}
			for {
				page, err = logs.Tail(cmd.Context(), path, logs.Options{Offset: page.Offset, Follow: true, Wait: 5 * time.Second})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				emit(page)
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON records unformatted")
	return cmd
}
