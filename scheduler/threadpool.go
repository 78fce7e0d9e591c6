package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/metric"
	"github.com/c360/streamrt/pkg/worker"
)

// Defaults of a ThreadPool.
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultStopTimeout  = 5 * time.Second
	maxFlushRounds      = 16
)

// poolMetricNames are registered by the worker pool under
// "worker_pool.<scheduler>" and removed after each run.
var poolMetricNames = []string{
	"queue_depth", "busy_workers", "processed_total", "failed_total", "dropped_total", "processing_duration_seconds",
}

// Option configures a ThreadPool.
type Option func(*ThreadPool)

// WithWorkers sets the number of worker goroutines. Non-positive means one
// per CPU.
func WithWorkers(n int) Option {
	return func(p *ThreadPool) { p.workers = n }
}

// WithCPUs pins every worker thread to the given CPUs.
func WithCPUs(cpus ...int) Option {
	return func(p *ThreadPool) { p.cpus = append([]int(nil), cpus...) }
}

// WithPollInterval sets how often parked blocks are re-checked without a
// notification.
func WithPollInterval(d time.Duration) Option {
	return func(p *ThreadPool) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithStopTimeout bounds how long Run waits for in-flight Work calls after
// it decided to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(p *ThreadPool) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// WithMaxNOutput bounds calls of blocks without connected outputs or limits.
func WithMaxNOutput(n int) Option {
	return func(p *ThreadPool) {
		if n > 0 {
			p.maxNOutput = n
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *ThreadPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records block, scheduler and message metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *ThreadPool) { p.metrics = m }
}

// WithMetricsRegistry exports the worker pool metrics.
func WithMetricsRegistry(reg *metric.MetricsRegistry) Option {
	return func(p *ThreadPool) { p.registry = reg }
}

// ThreadPool runs blocks on a fixed pool of worker goroutines.
type ThreadPool struct {
	executor

	workers     int
	cpus        []int
	poll        time.Duration
	stopTimeout time.Duration
	registry    *metric.MetricsRegistry

	mu    sync.Mutex
	tasks []*task
	errs  []error
	fatal error

	state     atomic.Int32
	pool      atomic.Pointer[worker.Pool[*task]]
	remaining atomic.Int64
	finished  chan struct{}
	finishOne *sync.Once
}

var _ Scheduler = (*ThreadPool)(nil)

// NewThreadPool creates an unbound scheduler.
func NewThreadPool(name string, opts ...Option) *ThreadPool {
	p := &ThreadPool{
		executor: executor{
			name:       name,
			logger:     slog.Default(),
			maxNOutput: DefaultMaxNOutput,
		},
		poll:        DefaultPollInterval,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("scheduler", name)
	return p
}

// Name implements Scheduler.
func (p *ThreadPool) Name() string { return p.name }

// State implements Scheduler.
func (p *ThreadPool) State() State { return State(p.state.Load()) }

func (p *ThreadPool) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.RecordSchedulerState(p.name, int(s))
	p.logger.Debug("Scheduler state changed", "state", s.String())
}

// Bind implements Scheduler.
func (p *ThreadPool) Bind(bindings []Binding) error {
	if st := p.State(); st != StateIdle && st != StateExit {
		return errors.WrapInvalid(fmt.Errorf("%w: bind while %s", errors.ErrInvalidState, st),
			"ThreadPool", "Bind", "bind blocks")
	}
	tasks := make([]*task, 0, len(bindings))
	for _, b := range bindings {
		t, err := newTask(b)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}

	p.mu.Lock()
	p.tasks = tasks
	p.errs, p.fatal = nil, nil
	p.mu.Unlock()
	p.setState(StateIdle)
	return nil
}

// Run implements Scheduler.
func (p *ThreadPool) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateWorking)) {
		return errors.WrapInvalid(fmt.Errorf("%w: run while %s", errors.ErrInvalidState, p.State()),
			"ThreadPool", "Run", "start scheduler")
	}
	p.setState(StateWorking)

	p.mu.Lock()
	tasks := p.tasks
	p.mu.Unlock()

	p.finished = make(chan struct{})
	p.finishOne = &sync.Once{}
	streams := int64(0)
	for _, t := range tasks {
		if t.streams && !t.done.Load() {
			streams++
		}
	}
	p.remaining.Store(streams)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := worker.NewPool(p.workers, len(tasks)+1, p.process, p.poolOptions()...)
	if err := pool.Start(runCtx); err != nil {
		p.setState(StateExit)
		return errors.Wrap(err, "ThreadPool", "Run", "start workers")
	}
	p.pool.Store(pool)
	p.wire(tasks)

	if streams == 0 && hasStreamTasks(tasks) {
		p.signalFinished()
	}
	for _, t := range tasks {
		p.notify(t)
	}
	p.logger.Info("Scheduler started", "blocks", len(tasks), "workers", p.workers)

	ticker := time.NewTicker(p.poll)
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-p.finished:
			break loop
		case <-ticker.C:
			p.poke(tasks)
		}
	}
	ticker.Stop()

	p.setState(StateDone)
	p.pool.Store(nil)
	if err := pool.Stop(p.stopTimeout); err != nil {
		p.logger.Warn("Workers still inside work after stop timeout", "timeout", p.stopTimeout, "error", err)
	}
	p.unregisterPoolMetrics()

	p.flush(context.WithoutCancel(ctx), tasks)
	p.setState(StateFlushed)

	for _, t := range tasks {
		p.finish(t)
		for _, in := range t.msgIn {
			in.SetNotify(nil)
		}
	}
	p.setState(StateExit)
	err := p.result()
	p.logger.Info("Scheduler exited", "error", err)
	return err
}

func hasStreamTasks(tasks []*task) bool {
	for _, t := range tasks {
		if t.streams {
			return true
		}
	}
	return false
}

func (p *ThreadPool) poolOptions() []worker.Option[*task] {
	opts := []worker.Option[*task]{worker.WithLogger[*task](p.logger)}
	if p.registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*task](p.registry, p.name))
	}
	if len(p.cpus) > 0 {
		cpus := p.cpus
		opts = append(opts, worker.WithWorkerInit[*task](func(int) error {
			return setAffinity(cpus)
		}, true))
	}
	return opts
}

func (p *ThreadPool) unregisterPoolMetrics() {
	if p.registry == nil {
		return
	}
	for _, name := range poolMetricNames {
		p.registry.Unregister("worker_pool."+p.name, name)
	}
}

// wire makes buffers and message ports wake the blocks that wait on them.
func (p *ThreadPool) wire(tasks []*task) {
	for _, t := range tasks {
		wake := func() { p.notify(t) }
		for _, rd := range t.inputs {
			rd.Buffer().OnWrite(wake)
		}
		for _, buf := range t.outputs {
			if buf != nil {
				buf.OnRead(wake)
			}
		}
		for _, in := range t.msgIn {
			in.SetMetrics(p.metrics)
			in.SetNotify(wake)
		}
	}
}

// notify schedules t unless it is already queued. A running task gets its
// dirty bit set and reschedules itself when it returns.
func (p *ThreadPool) notify(t *task) {
	for {
		switch t.sched.Load() {
		case taskIdle:
			if t.sched.CompareAndSwap(taskIdle, taskQueued) {
				p.submit(t)
				return
			}
		case taskQueued:
			return
		default:
			t.dirty.Store(true)
			if t.sched.Load() == taskRunning {
				return
			}
		}
	}
}

func (p *ThreadPool) submit(t *task) {
	pool := p.pool.Load()
	if pool == nil {
		t.sched.Store(taskIdle)
		return
	}
	if err := pool.Submit(t); err != nil {
		t.sched.Store(taskIdle)
		if !stderrors.Is(err, worker.ErrPoolStopped) {
			p.logger.Warn("Failed to queue block", "block", t.label(), "error", err)
		}
	}
}

// poke wakes parked blocks in case a notification was missed.
func (p *ThreadPool) poke(tasks []*task) {
	for _, t := range tasks {
		switch IterationStatus(t.status.Load()) {
		case BlockedOnInput, BlockedOnOutput:
			if !t.done.Load() {
				p.notify(t)
			}
		}
	}
}

// process is the worker pool processor: one iteration of one block.
func (p *ThreadPool) process(ctx context.Context, t *task) error {
	t.sched.Store(taskRunning)
	t.dirty.Store(false)

	st, err := p.step(ctx, t)
	if (st == Ready || st == ReadyNoOutput) && ctx.Err() == nil {
		t.sched.Store(taskQueued)
		p.submit(t)
		return err
	}

	t.sched.Store(taskIdle)
	if t.dirty.Swap(false) && ctx.Err() == nil {
		p.notify(t)
	}
	return err
}

// step runs one iteration and applies its outcome.
func (p *ThreadPool) step(ctx context.Context, t *task) (IterationStatus, error) {
	st, err := p.iterate(ctx, t)
	if err != nil {
		p.fail(t, err)
		st = Done
	}
	if st == Done {
		p.complete(t)
	}
	t.status.Store(int32(st))
	return st, err
}

func (p *ThreadPool) complete(t *task) {
	if !p.finish(t) || !t.streams {
		return
	}
	if p.remaining.Add(-1) == 0 {
		p.signalFinished()
	}
}

func (p *ThreadPool) signalFinished() {
	if p.finishOne == nil {
		return
	}
	p.finishOne.Do(func() { close(p.finished) })
}

func (p *ThreadPool) fail(t *task, err error) {
	kind := "runtime"
	fatal := errors.IsFatal(err)
	if fatal {
		kind = "contract_violation"
	}
	p.metrics.RecordBlockError(p.name, kind)
	p.logger.Error("Block failed", "block", t.label(), "fatal", fatal, "error", err)

	p.mu.Lock()
	if fatal {
		if p.fatal == nil {
			p.fatal = err
		}
	} else {
		p.errs = append(p.errs, err)
	}
	p.mu.Unlock()

	if fatal {
		p.signalFinished()
	}
}

func (p *ThreadPool) result() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatal != nil {
		return p.fatal
	}
	return stderrors.Join(p.errs...)
}

// flush delivers what is still queued on the message ports of blocks no
// worker holds any more.
func (p *ThreadPool) flush(ctx context.Context, tasks []*task) {
	for range maxFlushRounds {
		delivered := false
		for _, t := range tasks {
			if t.sched.Load() == taskRunning {
				continue
			}
			for _, in := range t.msgIn {
				if in.Pending() == 0 {
					continue
				}
				delivered = true
				if err := safeDeliver(ctx, in); err != nil {
					p.fail(t, errors.NewBlockError(t.name, uint64(t.id), errors.ErrBlockRuntime,
						fmt.Errorf("message port %s: %w", in.Name(), err)))
				}
			}
		}
		if !delivered {
			return
		}
	}
}

// RunOneIteration implements Scheduler.
func (p *ThreadPool) RunOneIteration(ctx context.Context) (Step, error) {
	if st := p.State(); st != StateIdle {
		return Step{}, errors.WrapInvalid(fmt.Errorf("%w: step while %s", errors.ErrInvalidState, st),
			"ThreadPool", "RunOneIteration", "step scheduler")
	}
	p.mu.Lock()
	tasks := p.tasks
	p.mu.Unlock()

	step := Step{Statuses: make(map[graph.NodeID]IterationStatus, len(tasks))}
	var errs []error
	for _, t := range tasks {
		st, err := p.iterate(ctx, t)
		if err != nil {
			p.fail(t, err)
			if errors.IsFatal(err) {
				return step, err
			}
			errs = append(errs, err)
			st = Done
		}
		if st == Done {
			p.finish(t)
		}
		t.status.Store(int32(st))
		step.Statuses[t.id] = st
	}

	step.Finished = true
	for _, t := range tasks {
		if t.streams && !t.done.Load() {
			step.Finished = false
		}
	}
	return step, stderrors.Join(errs...)
}

// Stats implements Scheduler.
func (p *ThreadPool) Stats() Stats {
	p.mu.Lock()
	tasks := p.tasks
	nerr := len(p.errs)
	if p.fatal != nil {
		nerr++
	}
	p.mu.Unlock()

	s := Stats{Name: p.name, State: p.State().String(), Errors: nerr}
	for _, t := range tasks {
		s.Blocks = append(s.Blocks, t.stats())
	}
	return s
}
