package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	InitConfig  string
	LogLevel    string
	LogFormat   string
	Debug       bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	// Flags fall back to environment variables
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("GRAPHBUS_CONFIG", ""),
		"Path to a JSON, YAML or TOML configuration file; empty uses defaults (env: GRAPHBUS_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("GRAPHBUS_CONFIG", ""),
		"Path to configuration file (env: GRAPHBUS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("GRAPHBUS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: GRAPHBUS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("GRAPHBUS_LOG_FORMAT", "json"),
		"Log format: json, text (env: GRAPHBUS_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("GRAPHBUS_DEBUG", false),
		"Enable debug logging (env: GRAPHBUS_DEBUG)")

	fs.StringVar(&cfg.InitConfig, "init-config", "",
		"Write the default configuration to this path and exit")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp || cfg.InitConfig != "" {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - graph database gateway for NATS, HTTP and WebSocket clients

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Serve an in-memory graph on graphbus.persistor
  %[1]s

  # Serve a SQLite file with text logs
  GRAPHBUS_BACKEND_DRIVER=sqlite GRAPHBUS_BACKEND_PATH=/var/lib/graphbus.db %[1]s --log-format=text

  # Start from a written default configuration
  %[1]s --init-config=graphbus.yaml
  %[1]s --config=graphbus.yaml --validate

Variables in a .env file in the working directory are loaded before flags.

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
