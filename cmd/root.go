package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/bctune/internal/config"
)

var (
	logLevel   string
	logFormat  string
	configPath string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bctune",
	Short: "Parameter tuning for match-playing bots",
	Long: `bctune searches the integer parameter space of a bot template by playing
materialized candidates against a reference over a set of maps. It supports
coordinate descent, GRASP with adaptive memory, and mayfly search.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = slog.New(newLogHandler(os.Stdout, logLevel, logFormat))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run configuration")
}

func newLogHandler(w io.Writer, level, format string) slog.Handler {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// loadConfig reads --config, or returns the defaults.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
