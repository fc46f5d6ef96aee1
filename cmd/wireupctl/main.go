package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "wireupctl",
	Short:   "Plan and serve RDMA wireup lane selections",
	Long:    `wireupctl runs the wireup lane-selection engine against a scenario file, either once (plan) or as a long-running metrics endpoint that re-plans on an interval (serve).`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(serveCmd)
}

// Commands are defined in separate files:
// - planCmd in plan.go
// - serveCmd in serve.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
