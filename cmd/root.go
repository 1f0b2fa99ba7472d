// Package cmd implements the capsule-run CLI: a single-invocation
// command sandbox that reads an execution request, runs it inside an
// isolated environment, and prints the result.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"capsule-run/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalConfig    string
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command for capsule-run.
var rootCmd = &cobra.Command{
	Use:   "capsule-run",
	Short: "Single-invocation sandboxed command execution",
	Long: `capsule-run runs one command inside a confined execution environment,
enforcing resource limits and an isolation policy, and reports a structured
result describing its exit status, captured output, and resource usage.

Each invocation handles exactly one execution; there is no daemon, no
cross-execution state, and no interactive I/O.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalConfig, "config", "c", "", "path to a capsule-run config file (TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path (default: stderr)")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	logOutput := os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			logOutput = f
		}
	}

	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  logLevel,
		Format: globalLogFormat,
		Output: logOutput,
	})
	logging.SetDefault(logger)
}
