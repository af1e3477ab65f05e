package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/docwatch/config"
	"github.com/mohammad-safakhou/docwatch/internal/runtime"
	srv "github.com/mohammad-safakhou/docwatch/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scan scheduler and an embedded worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx, cancel := runtime.SignalContext(cmd.Context(), "serve")
			defer cancel()

			tele, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, version)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tele)

			app, err := runtime.NewApp(ctx, cfg, runtime.AppOptions{WithIndex: true})
			if err != nil {
				return err
			}
			defer app.Close()
			return srv.Run(ctx, app, tele.Handler())
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return serve
}

func shutdownTelemetry(t *runtime.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = t.Shutdown(ctx)
}
