package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/preflight"
	"reelsmith/internal/runs"
	"reelsmith/internal/workflow"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var style string
	var language string
	var duration float64
	var asJSON bool
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Generate a tutorial video for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			if topic == "" {
				return errors.New("topic is required")
			}
			if duration < 0 {
				return errors.New("--duration must be positive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !skipPreflight {
				if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg)); len(failed) > 0 {
					lines := make([]string, 0, len(failed))
					for _, r := range failed {
						lines = append(lines, fmt.Sprintf("  %s: %s", r.Name, r.Detail))
					}
					return fmt.Errorf("preflight failed (run `reelsmith doctor` for details):\n%s", strings.Join(lines, "\n"))
				}
			}

			return ctx.withLedger(func(ledger *runs.Store) error {
				orch, err := ctx.orchestrator(ledger)
				if err != nil {
					return err
				}
				result, runErr := orch.Run(cmd.Context(), workflow.Request{
					Topic:         topic,
					Style:         style,
					TargetSeconds: duration,
					Language:      language,
				})
				if asJSON {
					if err := writeJSON(cmd, result); err != nil {
						return err
					}
					return runErr
				}
				printResult(cmd, result)
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&style, "style", "", "Script style template (defaults to script.style)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Target video length in seconds (defaults to script.target_duration_seconds)")
	cmd.Flags().StringVar(&language, "language", "", "Narration language (defaults to script.language)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip local environment checks")
	return cmd
}

func printResult(cmd *cobra.Command, result workflow.Result) {
	out := cmd.OutOrStdout()
	if result.RunID == "" {
		return
	}
	pairs := [][2]string{
		{"Run", result.RunID},
		{"Status", string(result.Status)},
		{"Topic", result.Topic},
		{"Title", orDash(result.Title)},
		{"Segments", fmt.Sprint(result.Segments)},
		{"Duration", formatSeconds(result.TotalSeconds)},
		{"Cached outputs", fmt.Sprint(result.CachedOutputs)},
		{"Elapsed", result.Elapsed.Round(100 * time.Millisecond).String()},
	}
	if result.ResumedFrom != "" {
		pairs = append(pairs, [2]string{"Resumed from", result.ResumedFrom})
	}
	if result.Failure != nil {
		pairs = append(pairs,
			[2]string{"Failed at", result.Failure.Where()},
			[2]string{"Error kind", string(result.Failure.Kind)},
		)
	}
	if result.OutputPath != "" {
		pairs = append(pairs, [2]string{"Output", result.OutputPath})
	}
	fmt.Fprintln(out, renderKeyValues(pairs))
}
