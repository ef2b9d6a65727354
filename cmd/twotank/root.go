package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/twotank/cmd/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "twotank",
	Short: "Two-tank molten salt thermal storage simulator.",
	Long: `twotank simulates a hot and a cold storage tank charged by a solar ` +
		`field through an optional heat exchanger. It can serve the plant ` +
		`over HTTP, MQTT and Modbus or run an hourly simulation offline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"path to config file (.yaml/.yml/.json)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return app.Config{}, nil, err
	}
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return app.Config{}, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger.With("device_id", cfg.DeviceID), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}
