// Command sourcewatch is the CLI and daemon entry point for the data
// freshness and volume monitoring agent, grounded on the teacher's cobra
// root command shape, scaled down from its daemon/RPC duality since
// sourcewatch has no remote client protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sourcewatch/sourcewatch/internal/config"
)

// Version is set via -ldflags "-X main.Version=..." at release build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sourcewatch",
	Short: "sourcewatch monitors data sources for freshness, volume, and schema anomalies",
	Long: `sourcewatch is an agent that periodically collects row counts and
freshness metrics from configured SQL sources, compares them against a
rolling baseline, and delivers signed webhook alerts when a source looks
stale, empty, or anomalous.`,
	// Subcommands print their own errors (and choose anomaly vs. operational
	// exit codes via errExit), so cobra's default error/usage printing would
	// only be noise.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./sourcewatch.yaml", "Path to the sourcewatch configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured agent log level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(testWebhookCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitCoder is implemented by errExit so a subcommand can signal a specific
// process exit code (0 ok, 1 operational error, 2 anomaly detected) without
// calling os.Exit deep inside business logic.
type exitCoder interface {
	ExitCode() int
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if coder, ok := err.(exitCoder); ok {
		os.Exit(coder.ExitCode())
	}
	os.Exit(1)
}

// loadConfig reads and validates the configuration at configPath, exiting
// the process is left to the caller via cobra's RunE error path.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds a structured slog logger at the resolved level, in the
// teacher's convention of text output for interactive use and honoring an
// explicit --log-level override over the configured agent.log_level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Agent.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if cfg.Agent.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sourcewatch build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("sourcewatch version %s\n", Version)
		return nil
	},
}
