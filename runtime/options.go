package runtime

import (
	"log/slog"
	"time"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/config"
	"github.com/c360/streamrt/health"
	"github.com/c360/streamrt/metric"
	"github.com/c360/streamrt/scheduler"
)

// DefaultSchedulerName names the scheduler that receives unassigned blocks.
const DefaultSchedulerName = "default"

type options struct {
	logger          *slog.Logger
	registry        *metric.MetricsRegistry
	buffers         *buffer.Registry
	monitor         *health.Monitor
	backend         string
	bufferBytes     int
	minItems        int
	maxItems        int
	workers         int
	maxNOutput      int
	poll            time.Duration
	stopTimeout     time.Duration
	monitorInterval time.Duration
}

func defaultOptions() options {
	return options{
		logger:          slog.Default(),
		backend:         buffer.HostBackend,
		bufferBytes:     config.DefaultBufferBytes,
		maxNOutput:      scheduler.DefaultMaxNOutput,
		poll:            scheduler.DefaultPollInterval,
		stopTimeout:     scheduler.DefaultStopTimeout,
		monitorInterval: config.DefaultMonitorInterval,
	}
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRegistry enables Prometheus metrics for every scheduler, buffer
// and message port of the runtime.
func WithMetricsRegistry(reg *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = reg }
}

// WithBufferRegistry sets the backend registry. The default registry only
// knows the host backend.
func WithBufferRegistry(reg *buffer.Registry) Option {
	return func(o *options) {
		if reg != nil {
			o.buffers = reg
		}
	}
}

// WithHealthMonitor makes the runtime publish scheduler and buffer health.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithDefaultBackend selects the backend of edges that name none.
func WithDefaultBackend(name string) Option {
	return func(o *options) {
		if name != "" {
			o.backend = name
		}
	}
}

// WithBufferBytes sets the default buffer size in bytes.
func WithBufferBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferBytes = n
		}
	}
}

// WithBufferLimits clamps every buffer capacity. Zero leaves a side open.
// Per-edge properties take precedence.
func WithBufferLimits(minItems, maxItems int) Option {
	return func(o *options) {
		o.minItems, o.maxItems = max(minItems, 0), max(maxItems, 0)
	}
}

// WithWorkers sets the worker count of the default scheduler and of
// partitions that declare none.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMaxNOutput bounds one work call's output request for blocks without
// their own limit.
func WithMaxNOutput(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxNOutput = n
		}
	}
}

// WithPollInterval sets how often parked blocks are retried.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithStopTimeout bounds how long a scheduler waits for in-flight work calls
// on stop.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithMonitorInterval sets how often health and occupancy are published.
func WithMonitorInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.monitorInterval = d
		}
	}
}

// OptionsFromConfig translates the runtime section of cfg. Partitions are
// resolved separately because they name blocks; see PartitionsFromConfig.
func OptionsFromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	r := cfg.Runtime
	return []Option{
		WithDefaultBackend(r.DefaultBackend),
		WithBufferBytes(r.BufferBytes),
		WithBufferLimits(r.MinBufferItems, r.MaxBufferItems),
		WithWorkers(r.Workers),
		WithMaxNOutput(r.MaxNOutput),
		WithPollInterval(r.PollInterval.Std()),
		WithStopTimeout(r.StopTimeout.Std()),
		WithMonitorInterval(r.MonitorInterval.Std()),
	}
}

// schedulerOptions are the ThreadPool options every scheduler the runtime
// creates shares.
func (o options) schedulerOptions(workers int) []scheduler.Option {
	if workers <= 0 {
		workers = o.workers
	}
	opts := []scheduler.Option{
		scheduler.WithLogger(o.logger),
		scheduler.WithPollInterval(o.poll),
		scheduler.WithStopTimeout(o.stopTimeout),
		scheduler.WithMaxNOutput(o.maxNOutput),
	}
	if workers > 0 {
		opts = append(opts, scheduler.WithWorkers(workers))
	}
	if o.registry != nil {
		opts = append(opts,
			scheduler.WithMetrics(o.registry.CoreMetrics()),
			scheduler.WithMetricsRegistry(o.registry))
	}
	return opts
}
