package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/docwatch/config"
	"github.com/mohammad-safakhou/docwatch/internal/runtime"
)

func workerCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume scan jobs from the queue",
		Long:  "Consume scan jobs from the queue. Standalone workers do not update the search index; serve reindexes at startup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := runtime.SignalContext(cmd.Context(), "worker")
			defer cancel()

			tele, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, version)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tele)

			app, err := runtime.NewApp(ctx, cfg, runtime.AppOptions{})
			if err != nil {
				return err
			}
			defer app.Close()
			proc, err := app.NewWorker(ctx)
			if err != nil {
				return err
			}
			return proc.Start(ctx)
		},
	}
}
