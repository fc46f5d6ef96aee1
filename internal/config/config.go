package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"
)

const (
	defaultListenAddress = ":9880"
	defaultMetricsPath   = "/metrics"
	defaultHealthPath    = "/healthz"
	defaultLogLevel      = "info"
	defaultSysfsRoot     = "/sys"
	defaultTimeout       = 5 * time.Second
	defaultPlanInterval  = 30 * time.Second
)

// Config captures runtime configuration options for wireupctl serve.
type Config struct {
	ListenAddress string
	MetricsPath   string
	HealthPath    string
	LogLevel      slog.Level
	SysfsRoot     string
	PlanTimeout   time.Duration
	PlanInterval  time.Duration
	ScenarioPath  string
	ShowVersion   bool
}

// Parse constructs a Config from command-line flags and environment variables.
func Parse(args []string) (Config, error) {
	var cfg Config

	fs := flag.NewFlagSet("wireupctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen-address", envOrDefault("WIREUPCTL_LISTEN_ADDRESS", defaultListenAddress), "Address to listen on for HTTP requests.")
	metricsPath := fs.String("metrics-path", envOrDefault("WIREUPCTL_METRICS_PATH", defaultMetricsPath), "HTTP path under which planning metrics are served.")
	healthPath := fs.String("health-path", envOrDefault("WIREUPCTL_HEALTH_PATH", defaultHealthPath), "HTTP path for health checks.")
	logLevel := fs.String("log-level", envOrDefault("WIREUPCTL_LOG_LEVEL", defaultLogLevel), "Log level (debug, info, warn, error).")
	sysfsRoot := fs.String("sysfs-root", envOrDefault("WIREUPCTL_SYSFS_ROOT", defaultSysfsRoot), "Root of the sysfs tree to discover RDMA devices from.")
	scenarioPath := fs.String("scenario", envOrDefault("WIREUPCTL_SCENARIO", ""), "Path to a scenario YAML file, or a directory of them, to re-plan on every interval (required).")

	timeoutDefault := defaultTimeout
	if envTimeout := os.Getenv("WIREUPCTL_PLAN_TIMEOUT"); envTimeout != "" {
		parsed, err := time.ParseDuration(envTimeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid WIREUPCTL_PLAN_TIMEOUT: %w", err)
		}
		timeoutDefault = parsed
	}
	planTimeout := fs.Duration("plan-timeout", timeoutDefault, "Maximum duration to wait for a metrics gather before the scrape fails.")

	intervalDefault := defaultPlanInterval
	if envInterval := os.Getenv("WIREUPCTL_PLAN_INTERVAL"); envInterval != "" {
		parsed, err := time.ParseDuration(envInterval)
		if err != nil {
			return cfg, fmt.Errorf("invalid WIREUPCTL_PLAN_INTERVAL: %w", err)
		}
		intervalDefault = parsed
	}
	planInterval := fs.Duration("plan-interval", intervalDefault, "How often to re-plan the scenario directory while serving metrics.")
	showVersion := fs.Bool("version", false, "Print version information and exit.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, err
		}
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return cfg, err
	}

	cfg = Config{
		ListenAddress: *listen,
		MetricsPath:   *metricsPath,
		HealthPath:    *healthPath,
		LogLevel:      level,
		SysfsRoot:     *sysfsRoot,
		PlanTimeout:   *planTimeout,
		PlanInterval:  *planInterval,
		ScenarioPath:  *scenarioPath,
		ShowVersion:   *showVersion,
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", value)
	}
}
