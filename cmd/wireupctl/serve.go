package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lanewire/wireup/internal/config"
	"github.com/lanewire/wireup/internal/planmetrics"
	"github.com/lanewire/wireup/internal/scenario"
	"github.com/lanewire/wireup/internal/selector"
	"github.com/lanewire/wireup/internal/server"
)

// serveCmd runs a long-lived metrics endpoint that re-plans every scenario
// under a directory on a fixed interval. Flag parsing is delegated to
// internal/config, the same flag.FlagSet-plus-envOrDefault convention the
// teacher's single-mode main.go uses, so DisableFlagParsing keeps cobra out
// of its way.
var serveCmd = &cobra.Command{
	Use:                "serve",
	Short:              "Serve planning metrics, re-planning scenarios on an interval",
	Long:               `Loads every scenario YAML file under --scenario (a file or a directory) and re-runs the planner on --plan-interval, exposing the outcome as Prometheus metrics.`,
	DisableFlagParsing: true,
	RunE:               runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.ShowVersion {
		cmd.Println(version)
		return nil
	}
	if cfg.ScenarioPath == "" {
		return errors.New("--scenario is required")
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting wireupctl serve",
		"listen_address", cfg.ListenAddress,
		"metrics_path", cfg.MetricsPath,
		"health_path", cfg.HealthPath,
		"scenario", cfg.ScenarioPath,
		"plan_interval", cfg.PlanInterval.String(),
	)

	metrics := planmetrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		metrics,
	)

	srv := server.New(server.Options{
		ListenAddress: cfg.ListenAddress,
		MetricsPath:   cfg.MetricsPath,
		HealthPath:    cfg.HealthPath,
		GatherTimeout: cfg.PlanTimeout,
	}, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil {
			errCh <- serveErr
		}
	}()

	stopPlanning := make(chan struct{})
	go runPlanLoop(cfg, logger, metrics, stopPlanning)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case serveErr := <-errCh:
		logger.Error("server exited with error", "err", serveErr)
		close(stopPlanning)
		return serveErr
	}
	close(stopPlanning)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// runPlanLoop re-plans every scenario under cfg.ScenarioPath once
// immediately, then once per cfg.PlanInterval, until stop is closed.
func runPlanLoop(cfg config.Config, logger *slog.Logger, metrics *planmetrics.Collector, stop <-chan struct{}) {
	interval := cfg.PlanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	planOnce := func() {
		paths, err := scenarioFiles(cfg.ScenarioPath)
		if err != nil {
			logger.Error("list scenario files", "err", err)
			return
		}
		for _, path := range paths {
			planScenarioFile(path, logger, metrics)
		}
	}

	planOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			planOnce()
		}
	}
}

func scenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	matches, err := filepath.Glob(filepath.Join(path, "*.yaml"))
	if err != nil {
		return nil, err
	}
	files = append(files, matches...)
	matches, err = filepath.Glob(filepath.Join(path, "*.yml"))
	if err != nil {
		return nil, err
	}
	files = append(files, matches...)
	return files, nil
}

func planScenarioFile(path string, logger *slog.Logger, metrics *planmetrics.Collector) {
	p := scenario.New(nil)
	s, err := p.ParseFile(path)
	if err != nil {
		logger.Error("parse scenario", "path", path, "err", err)
		return
	}

	resources, remotes, params, initFlags, err := scenario.Build(s)
	if err != nil {
		logger.Error("build scenario", "path", path, "err", err)
		return
	}

	worker, err := scenario.NewWorker(s, resources)
	if err != nil {
		logger.Error("build worker", "path", path, "err", err)
		return
	}

	start := time.Now()
	out, err := selector.Plan(worker, remotes, params, initFlags, logger)
	duration := time.Since(start)
	metrics.RecordPlan(out, duration, err)

	if err != nil {
		logger.Warn("plan failed", "path", path, "scenario", s.Metadata.Name, "err", err)
		return
	}
	logger.Info("plan succeeded", "path", path, "scenario", s.Metadata.Name, "lanes", len(out.Key.Lanes), "am_emulated", out.AMEmulated)
}
