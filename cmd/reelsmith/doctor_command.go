package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"reelsmith/internal/preflight"
	"reelsmith/internal/stage"
)

const (
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiReset  = "\x1b[0m"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)

			if !offline && cfg.ValidateCredentials() == nil {
				logger, err := ctx.ensureLogger()
				if err != nil {
					return err
				}
				stages, err := ctx.stages(cfg, logger)
				if err != nil {
					results = append(results, preflight.Result{Name: "Stage adapters", Detail: err.Error()})
				} else {
					named := []struct {
						name    string
						adapter any
					}{
						{"Script service", stages.Script},
						{"Voice service", stages.Voice},
						{"Images service", stages.Images},
					}
					for _, n := range named {
						if checker, ok := n.adapter.(stage.HealthChecker); ok {
							results = append(results, preflight.CheckService(cmd.Context(), n.name, checker))
						}
					}
				}
			}

			out := cmd.OutOrStdout()
			color := useColor(out)
			for _, r := range results {
				fmt.Fprintln(out, statusLine(r, color))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip live service probes")
	return cmd
}

func statusLine(r preflight.Result, color bool) string {
	label, code := "OK  ", ansiGreen
	switch {
	case !r.Passed && r.Optional:
		label, code = "WARN", ansiYellow
	case !r.Passed:
		label, code = "FAIL", ansiRed
	}
	if color {
		label = code + label + ansiReset
	}
	line := fmt.Sprintf("[%s] %s", label, r.Name)
	if r.Detail != "" {
		line += ": " + r.Detail
	}
	return line
}

func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
