package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanewire/wireup/internal/discover"
	"github.com/lanewire/wireup/internal/scenario"
	"github.com/lanewire/wireup/internal/selector"
	"github.com/lanewire/wireup/internal/wireup"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Args:  cobra.NoArgs,
	Short: "Run one lane-selection plan against a scenario file",
	Long:  `Loads a scenario YAML file describing remote addresses and endpoint parameters, optionally discovers the local resource table from live hardware, and prints the resulting endpoint configuration key.`,
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().String("scenario", "", "path to scenario YAML file (required)")
	planCmd.Flags().Bool("discover", false, "discover the local resource table from live RDMA hardware instead of the scenario file's resources")
	planCmd.Flags().String("sysfs-root", "/sys", "root of the sysfs tree HCA port directories are read from, when --discover is set (the HCA list itself comes from rdmamap)")
	planCmd.Flags().String("format", "text", "output format: text or json")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	if scenarioPath == "" {
		return fmt.Errorf("--scenario flag is required")
	}
	useDiscover, _ := cmd.Flags().GetBool("discover")
	sysfsRoot, _ := cmd.Flags().GetString("sysfs-root")
	format, _ := cmd.Flags().GetString("format")

	logger := newLogger(slog.LevelInfo)

	p := scenario.New(nil)
	s, err := p.ParseFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	logger.Info("parsed scenario", "name", s.Metadata.Name, "resources", len(s.Spec.Resources), "remotes", len(s.Spec.Remotes))

	resources, remotes, params, initFlags, err := scenario.Build(s)
	if err != nil {
		return fmt.Errorf("build scenario: %w", err)
	}

	if useDiscover {
		d := discover.NewSysfs()
		d.SysfsRoot = sysfsRoot
		discovered, err := d.Discover(cmd.Context())
		if err != nil {
			return fmt.Errorf("discover local resources: %w", err)
		}
		logger.Info("discovered local resources", "count", len(discovered))
		resources = discovered
	}

	worker, err := scenario.NewWorker(s, resources)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	out, err := selector.Plan(worker, remotes, params, initFlags, logger)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	return printPlan(out, format)
}

func printPlan(out *wireup.Output, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text", "":
		fmt.Printf("lanes: %d\n", len(out.Key.Lanes))
		fmt.Printf("am_lane: %d\n", out.Key.AMLane)
		fmt.Printf("tag_lane: %d\n", out.Key.TAGLane)
		fmt.Printf("wireup_lane: %d\n", out.Key.WireupLane)
		fmt.Printf("am_emulated: %t\n", out.AMEmulated)
		for i, lane := range out.Key.Lanes {
			fmt.Printf("  lane[%d]: resource=%d dest_md=%d proxy_kind=%d\n", i, lane.ResourceIndex, lane.DestMDIndex, lane.Proxy.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
