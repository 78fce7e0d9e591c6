// Package worker provides a generic fixed-size goroutine pool. Schedulers use
// it to run block iterations: each worker optionally runs an init hook first
// (for example to pin its OS thread to a CPU set).
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamrt/metric"
)

// Pool processes work items of type T on a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *Metrics
	wg       *sync.WaitGroup
	cancel   context.CancelFunc

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64

	workerInit      func(id int) error
	lockThread      bool
	logger          *slog.Logger
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	busyWorkers    prometheus.Gauge
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime prometheus.Histogram
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithWorkerInit runs init on each worker goroutine before it takes work.
// When lockThread is set the goroutine is locked to its OS thread first, so
// thread-level settings made by init (CPU affinity) stick.
func WithWorkerInit[T any](init func(id int) error, lockThread bool) Option[T] {
	return func(p *Pool[T]) {
		p.workerInit = init
		p.lockThread = lockThread
	}
}

// WithLogger sets the pool logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a worker pool. Non-positive workers or queueSize fall back
// to the defaults (runtime.NumCPU() workers, 1000 queued items).
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	labels := prometheus.Labels{"pool": p.metricsPrefix}
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamrt", Subsystem: "worker_pool", Name: "queue_depth",
			ConstLabels: labels, Help: "Work items waiting for a worker",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamrt", Subsystem: "worker_pool", Name: "busy_workers",
			ConstLabels: labels, Help: "Workers currently processing an item",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrt", Subsystem: "worker_pool", Name: "processed_total",
			ConstLabels: labels, Help: "Work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrt", Subsystem: "worker_pool", Name: "failed_total",
			ConstLabels: labels, Help: "Work items whose processor returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamrt", Subsystem: "worker_pool", Name: "dropped_total",
			ConstLabels: labels, Help: "Work items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamrt", Subsystem: "worker_pool", Name: "processing_duration_seconds",
			ConstLabels: labels, Help: "Time spent processing one work item",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
	}

	owner := "worker_pool." + p.metricsPrefix
	reg := p.metricsRegistry
	for _, err := range []error{
		reg.RegisterGauge(owner, "queue_depth", m.queueDepth),
		reg.RegisterGauge(owner, "busy_workers", m.busyWorkers),
		reg.RegisterCounter(owner, "processed_total", m.processed),
		reg.RegisterCounter(owner, "failed_total", m.failed),
		reg.RegisterCounter(owner, "dropped_total", m.dropped),
		reg.RegisterHistogram(owner, "processing_duration_seconds", m.processingTime),
	} {
		if err != nil {
			p.logger.Warn("worker pool metric registration failed", "pool", p.metricsPrefix, "error", err)
		}
	}

	p.metrics = m
}

// Submit enqueues work without blocking. Returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Workers exit when ctx is cancelled or Stop is
// called. An error from the worker init hook is logged and the worker keeps
// running without it.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg = &sync.WaitGroup{}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for workers to finish the
// item they are processing. Queued but unstarted items are discarded.
// Processors may call Submit while Stop waits; they get ErrPoolStopped.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	p.cancel()
	close(p.workChan)
	wg := p.wg
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:     p.workers,
		QueueSize:   p.queueSize,
		QueueDepth:  len(p.workChan),
		BusyWorkers: p.busy.Load(),
		Submitted:   p.submitted.Load(),
		Processed:   p.processed.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers     int   `json:"workers"`
	QueueSize   int   `json:"queue_size"`
	QueueDepth  int   `json:"queue_depth"`
	BusyWorkers int64 `json:"busy_workers"`
	Submitted   int64 `json:"submitted"`
	Processed   int64 `json:"processed"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	if p.lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if p.workerInit != nil {
		if err := p.workerInit(id); err != nil {
			p.logger.Warn("worker init failed", "worker", id, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	busy := p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busyWorkers.Set(float64(busy))
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}

	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)

	busy = p.busy.Add(-1)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.busyWorkers.Set(float64(busy))
		p.metrics.processed.Inc()
		if err != nil {
			p.metrics.failed.Inc()
		}
		p.metrics.processingTime.Observe(duration.Seconds())
	}
}
