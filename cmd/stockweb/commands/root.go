package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stocktracker/stockweb/pkg/config"
)

// Global flags
var (
	configPath   string
	apiURL       string
	collectorURL string
	exporter     string
	serviceName  string
	logLevel     string
	dbPath       string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stockweb",
		Short: "Stock Tracker web frontend",
		Long: `stockweb serves the Stock Tracker pages on top of the stock backend API.

Every page action is traced with OpenTelemetry, exported over OTLP, and
optionally reported to the backend's /log-event endpoint with the trace
context attached.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path (YAML)")
	flags.StringVar(&apiURL, "api-url", "", "backend base URL")
	flags.StringVar(&collectorURL, "collector-url", "", "OTLP traces endpoint")
	flags.StringVar(&exporter, "exporter", "", "span exporter: otlp-http, otlp-grpc, stdout or none")
	flags.StringVar(&serviceName, "service-name", "", "service.name reported on spans")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error or fatal")
	flags.StringVar(&dbPath, "db", "", "SQLite database path")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSymbolsCommand())
	rootCmd.AddCommand(newLogEventCommand())
	rootCmd.AddCommand(newOtelCheckCommand())
	rootCmd.AddCommand(newDevBackendCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadConfig resolves the configuration: file, environment, then any flag
// the user set explicitly.
func loadConfig(cmd *cobra.Command, extra func(*config.Overrides)) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("api-url") {
		o.APIURL = &apiURL
	}
	if flags.Changed("collector-url") {
		o.CollectorURL = &collectorURL
	}
	if flags.Changed("exporter") {
		o.Exporter = &exporter
	}
	if flags.Changed("service-name") {
		o.ServiceName = &serviceName
	}
	if flags.Changed("log-level") {
		o.LogLevel = &logLevel
	}
	if flags.Changed("db") {
		o.DBPath = &dbPath
	}
	if extra != nil {
		extra(&o)
	}
	cfg.Apply(o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
