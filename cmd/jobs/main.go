// Command jobs runs the periodic maintenance passes. It is invoked by an
// external scheduler (cron, Kubernetes CronJob); each subcommand is
// stateless and idempotent, so overlapping invocations are safe.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/app"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var a *app.App

	root := &cobra.Command{
		Use:           "jobs",
		Short:         "Periodic maintenance jobs for the upload and billing core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)

			var err error
			a, err = app.New(cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Reconcile expired uploads against the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.Sweeper.Run(context.Background())
			if err != nil {
				return err
			}
			slog.Info("cleanup finished",
				"scanned", report.Scanned,
				"recovered", report.Recovered,
				"failed", report.Failed,
				"skipped", report.Skipped,
			)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Hard-delete failed assets past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			purged, err := a.Sweeper.Purge(context.Background())
			if err != nil {
				return err
			}
			slog.Info("purge finished", "purged", purged)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset credit balances for workspaces whose period has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, err := a.BillingService.ResetDue(context.Background())
			if err != nil {
				return err
			}
			slog.Info("reset finished", "workspaces", reset)
			return nil
		},
	})

	return root
}
