package main

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"reelsmith/internal/api"
	"reelsmith/internal/logging"
	"reelsmith/internal/runs"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.API.Bind = bind
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire serve lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another reelsmith server is already running (lock %s)", cfg.LockPath())
			}
			defer lock.Unlock() //nolint:errcheck

			return ctx.withLedger(func(ledger *runs.Store) error {
				if n, err := ledger.MarkInterrupted(cmd.Context()); err != nil {
					logger.Warn("could not reconcile interrupted runs",
						logging.Error(err),
						logging.String(logging.FieldEventType, "ledger_reconcile_failed"),
						logging.String(logging.FieldImpact, "stale runs stay in a running state"),
					)
				} else if n > 0 {
					logger.Info("marked interrupted runs as failed", logging.Int("runs", n))
				}

				orch, err := ctx.orchestrator(ledger)
				if err != nil {
					return err
				}
				server := api.NewServer(cfg, ledger, orch, logger)
				if err := server.Start(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", server.Addr())

				<-cmd.Context().Done()
				logger.Info("api server shutting down", logging.Int("active_runs", server.ActiveRuns()))
				server.Shutdown(10 * time.Second)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to api.bind)")
	return cmd
}
