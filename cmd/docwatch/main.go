package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "docwatch",
		Short:        "Track documentation and flag code changes that affect it",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.json)")

	root.AddCommand(serveCMD(&cfgPath), workerCMD(&cfgPath), migrateCMD(&cfgPath), scanCMD(&cfgPath), tokenCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
