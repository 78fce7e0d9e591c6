package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Items           uint64
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("STREAMRT_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: STREAMRT_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("STREAMRT_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: STREAMRT_CONFIG)")

	// Empty means "take it from the config file".
	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("STREAMRT_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: STREAMRT_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("STREAMRT_LOG_FORMAT", ""),
		"Log format: json, text (env: STREAMRT_LOG_FORMAT)")

	fs.Uint64Var(&cfg.Items, "items",
		getEnvUint("STREAMRT_ITEMS", 1_000_000),
		"Items the reference flow moves before finishing, 0 runs until interrupted (env: STREAMRT_ITEMS)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("STREAMRT_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout, 0 uses runtime.stop_timeout (env: STREAMRT_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - streaming dataflow runtime

Runs the reference flow (source -> head -> copy -> sink). With a network
transport configured, the copy -> sink edge is carried over it.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Move ten million items with debug logging
  %s --items=10000000 --log-level=debug --log-format=text

  # Run with a config file and NATS carrying the sink edge
  export STREAMRT_NETWORK_TRANSPORT=nats
  export STREAMRT_NETWORK_URL=nats://localhost:4222
  %s --config=/etc/streamrt/streamrt.yaml

  # Validate configuration only
  %s --config=streamrt.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
