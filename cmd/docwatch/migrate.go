package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/docwatch/config"
	"github.com/mohammad-safakhou/docwatch/internal/runtime"
	srv "github.com/mohammad-safakhou/docwatch/internal/server"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var migDir string
	migrate := &cobra.Command{
		Use:   "migrate up|down|steps N",
		Short: "Run database migrations",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			dsn, err := runtime.BuildPostgresDSN(cfg)
			if err != nil {
				return err
			}
			switch args[0] {
			case "up", "down":
				return srv.Migrate(migDir, dsn, args[0], 0)
			case "steps":
				if len(args) != 2 {
					return fmt.Errorf("steps requires a count")
				}
				n, err := strconv.Atoi(args[1])
				if err != nil || n == 0 {
					return fmt.Errorf("invalid step count %q", args[1])
				}
				if n < 0 {
					return srv.Migrate(migDir, dsn, "down", -n)
				}
				return srv.Migrate(migDir, dsn, "up", n)
			}
			return fmt.Errorf("unknown direction: %s", args[0])
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	return migrate
}
