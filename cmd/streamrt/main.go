// Package main runs the streamrt reference flow with metrics, health and an
// optional network edge, all driven by the streamrt configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/device"
	"github.com/c360/streamrt/buffer/netbuf"
	"github.com/c360/streamrt/config"
	"github.com/c360/streamrt/health"
	"github.com/c360/streamrt/metric"
	"github.com/c360/streamrt/runtime"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "streamrt"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := goruntime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cli, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		fs.SetOutput(stdout)
		printDetailedHelp(fs)
		return nil
	}

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting streamrt",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)

	timeout := cli.ShutdownTimeout
	if timeout == 0 {
		timeout = cfg.Runtime.StopTimeout.Std()
	}
	return runFlow(ctx, cfg, cli.Items, timeout, logger)
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	return loader.LoadFile(path)
}

// runFlow builds the reference flow from cfg, runs it until it finishes or
// ctx is cancelled, and reports the throughput.
func runFlow(ctx context.Context, cfg *config.Config, items uint64, shutdownTimeout time.Duration, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, registry, monitor.Handler(appName))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := srv.Stop(5 * time.Second); err != nil {
				logger.Warn("Stopping metrics server failed", "error", err)
			}
		}()
		logger.Info("Serving metrics", "address", srv.Address(), "path", cfg.Metrics.Path)
	}

	backends := buffer.NewRegistry()
	if err := device.Register(backends, device.NewSimDevice("sim0")); err != nil {
		return fmt.Errorf("register device backend: %w", err)
	}

	networked := cfg.Network.Transport != config.TransportNone
	if networked {
		transport, closeTransport, err := openTransport(ctx, cfg.Network, logger)
		if err != nil {
			return err
		}
		defer closeTransport()
		if err := netbuf.Register(backends, transport,
			netbuf.WithLogger(logger),
			netbuf.WithSubjectPrefix(cfg.Network.SubjectPrefix)); err != nil {
			return fmt.Errorf("register network backend: %w", err)
		}
	}

	flow, err := buildFlow(items, networked)
	if err != nil {
		return fmt.Errorf("build flow: %w", err)
	}

	opts := append(runtime.OptionsFromConfig(cfg),
		runtime.WithLogger(logger),
		runtime.WithMetricsRegistry(registry),
		runtime.WithHealthMonitor(monitor),
		runtime.WithBufferRegistry(backends))
	rt := runtime.New(opts...)
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Debug("Runtime close skipped", "error", err)
		}
	}()

	parts, err := flow.partitions(cfg)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := rt.AddPartition(p); err != nil {
			return fmt.Errorf("add partition %s: %w", p.Name, err)
		}
	}

	if err := rt.Initialize(flow.graph); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	started := time.Now()
	if err := rt.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- rt.Wait() }()

	select {
	case err = <-waitErr:
	case <-ctx.Done():
		logger.Info("Received shutdown signal", "timeout", shutdownTimeout)
		err = rt.Shutdown(shutdownTimeout)
	}

	elapsed := time.Since(started)
	moved := flow.sink.Items()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(moved) / elapsed.Seconds()
	}
	logger.Info("Flow finished",
		"run", rt.RunID(),
		"items", moved,
		"elapsed", elapsed,
		"items_per_sec", rate,
		"health", monitor.AggregateHealth(appName).Status)

	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
