package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/docwatch/config"
	"github.com/mohammad-safakhou/docwatch/internal/queue"
	"github.com/mohammad-safakhou/docwatch/internal/runtime"
)

func scanCMD(cfgPath *string) *cobra.Command {
	var enqueue bool
	scan := &cobra.Command{
		Use:   "scan <org>",
		Short: "Scan one organization's documents now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := runtime.SignalContext(cmd.Context(), "scan")
			defer cancel()

			app, err := runtime.NewApp(ctx, cfg, runtime.AppOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if enqueue {
				id, err := app.Queue.Enqueue(ctx, queue.ScanRequest{OrgID: args[0], Trigger: queue.TriggerCLI})
				if err != nil {
					return err
				}
				return enc.Encode(map[string]string{"jobId": id})
			}
			res, err := app.Scanner.ScanOrganization(ctx, args[0])
			if err != nil {
				return err
			}
			return enc.Encode(res)
		},
	}
	scan.Flags().BoolVar(&enqueue, "enqueue", false, "hand the scan to the workers instead of running it here")
	return scan
}
