package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/scheduler"
)

// State is the lifecycle state of a Runtime.
type State int32

// Runtime states
const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopped
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Partition is a named group of blocks executed by its own ThreadPool,
// optionally pinned to CPUs.
type Partition struct {
	Name    string
	Blocks  []block.Block
	CPUs    []int
	Workers int
}

// Runtime owns a graph, the schedulers executing it and the buffers between
// them.
type Runtime struct {
	opts    options
	logger  *slog.Logger
	buffers *BufferManager

	mu         sync.Mutex
	state      State
	schedulers []scheduler.Scheduler
	assigned   map[graph.NodeID]scheduler.Scheduler
	fallback   *scheduler.ThreadPool

	graph  *graph.Graph
	blocks map[graph.NodeID]block.Block
	order  []graph.NodeID
	active []scheduler.Scheduler
	alloc  *Allocation

	runID   string
	cancel  context.CancelFunc
	done    chan struct{}
	killed  chan struct{}
	started []block.Block
	err     error
	runErrs map[string]error
}

// New creates a runtime. Blocks not assigned with AddScheduler or
// AddPartition run on a default ThreadPool.
func New(opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffers == nil {
		o.buffers = buffer.NewRegistry()
	}
	return &Runtime{
		opts:     o,
		logger:   o.logger.With("component", "runtime"),
		buffers:  newBufferManager(o.buffers, o),
		assigned: make(map[graph.NodeID]scheduler.Scheduler),
	}
}

// BufferRegistry returns the registry used to resolve edge backends.
func (r *Runtime) BufferRegistry() *buffer.Registry { return r.opts.buffers }

// State returns the lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunID returns the id of the current or last run.
func (r *Runtime) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *Runtime) invalidState(method, action string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s while %s", errors.ErrInvalidState, action, r.state),
		"Runtime", method, action)
}

// configurable reports whether assignments or the graph may change. Caller
// holds mu.
func (r *Runtime) configurable() bool {
	switch r.state {
	case StateRunning:
		return false
	case StateKilled:
		return isClosed(r.done)
	}
	return true
}

// AddScheduler assigns blocks to s. A block belongs to at most one scheduler.
// Changing assignments of an initialized runtime requires Initialize again.
func (r *Runtime) AddScheduler(s scheduler.Scheduler, blocks ...block.Block) error {
	if s == nil {
		return errors.WrapInvalid(fmt.Errorf("nil scheduler"), "Runtime", "AddScheduler", "add scheduler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configurable() {
		return r.invalidState("AddScheduler", "add scheduler")
	}

	for _, existing := range r.schedulers {
		if existing != s && existing.Name() == s.Name() {
			return errors.WrapInvalid(fmt.Errorf("scheduler %q already added", s.Name()),
				"Runtime", "AddScheduler", "add scheduler")
		}
	}
	if s.Name() == DefaultSchedulerName {
		return errors.WrapInvalid(fmt.Errorf("scheduler name %q is reserved", DefaultSchedulerName),
			"Runtime", "AddScheduler", "add scheduler")
	}
	for _, b := range blocks {
		if b == nil {
			return errors.WrapInvalid(fmt.Errorf("nil block"), "Runtime", "AddScheduler", "assign block")
		}
		if prev, ok := r.assigned[b.ID()]; ok && prev != s {
			return errors.WrapInvalid(fmt.Errorf("block %s(%d) already assigned to scheduler %q", b.Name(), b.ID(), prev.Name()),
				"Runtime", "AddScheduler", "assign block")
		}
	}

	if !slices.Contains(r.schedulers, s) {
		r.schedulers = append(r.schedulers, s)
	}
	for _, b := range blocks {
		r.assigned[b.ID()] = s
	}
	if r.state == StateInitialized {
		r.state = StateUninitialized
	}
	return nil
}

// AddPartition creates a ThreadPool for p and assigns its blocks to it.
func (r *Runtime) AddPartition(p Partition) (*scheduler.ThreadPool, error) {
	if p.Name == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("partition without name"), "Runtime", "AddPartition", "add partition")
	}
	opts := r.opts.schedulerOptions(p.Workers)
	if len(p.CPUs) > 0 {
		opts = append(opts, scheduler.WithCPUs(p.CPUs...))
	}
	tp := scheduler.NewThreadPool(p.Name, opts...)
	if err := r.AddScheduler(tp, p.Blocks...); err != nil {
		return nil, err
	}
	return tp, nil
}

// Initialize flattens g, allocates its buffers, wires its message edges and
// binds every block to its scheduler. It may be called again after a run
// finished; the previous buffers are released.
func (r *Runtime) Initialize(g *graph.Graph) error {
	if g == nil {
		return errors.WrapInvalid(fmt.Errorf("nil graph"), "Runtime", "Initialize", "initialize")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configurable() {
		return r.invalidState("Initialize", "initialize")
	}

	flat, err := g.Flatten()
	if err != nil {
		return err
	}

	blocks := make(map[graph.NodeID]block.Block, len(flat.Nodes()))
	for _, n := range flat.Nodes() {
		b, ok := n.(block.Block)
		if !ok {
			return errors.WrapInvalid(fmt.Errorf("node %s(%d) is a %T, not a block", n.Name(), n.ID(), n),
				"Runtime", "Initialize", "collect blocks")
		}
		blocks[n.ID()] = b
	}
	for id, s := range r.assigned {
		if _, ok := blocks[id]; !ok {
			return errors.WrapInvalid(fmt.Errorf("%w: node %d assigned to scheduler %q", errors.ErrUnknownNode, id, s.Name()),
				"Runtime", "Initialize", "resolve assignments")
		}
	}

	if err := r.releaseLocked(); err != nil {
		r.logger.Warn("Releasing previous buffers failed", "error", err)
	}
	r.state = StateUninitialized
	r.err, r.runErrs, r.done, r.killed = nil, nil, nil, nil

	schedOf := func(id graph.NodeID) scheduler.Scheduler {
		if s, ok := r.assigned[id]; ok {
			return s
		}
		if r.fallback == nil {
			r.fallback = scheduler.NewThreadPool(DefaultSchedulerName, r.opts.schedulerOptions(0)...)
		}
		return r.fallback
	}
	partition := func(id graph.NodeID) string { return schedOf(id).Name() }

	alloc, err := r.buffers.Allocate(flat, blocks, partition)
	if err != nil {
		r.logger.Error("Buffer allocation failed", "error", err)
		return err
	}

	if err := wireMessages(flat, blocks); err != nil {
		_ = alloc.Release()
		return err
	}

	order := flat.TopoOrder()
	bindings := make(map[scheduler.Scheduler][]scheduler.Binding)
	var active []scheduler.Scheduler
	for _, id := range order {
		b := blocks[id]
		binding, err := bind(flat, alloc, b)
		if err != nil {
			_ = alloc.Release()
			return err
		}
		s := schedOf(id)
		if _, ok := bindings[s]; !ok {
			active = append(active, s)
		}
		bindings[s] = append(bindings[s], binding)
	}
	for _, s := range active {
		if err := s.Bind(bindings[s]); err != nil {
			_ = alloc.Release()
			return err
		}
	}

	r.graph, r.blocks, r.order, r.active, r.alloc = flat, blocks, order, active, alloc
	r.state = StateInitialized
	r.forgetHealth()

	r.logger.Info("Runtime initialized",
		"blocks", len(blocks),
		"buffers", len(alloc.buffers),
		"schedulers", len(active))
	return nil
}

// wireMessages subscribes every message edge. Subscriptions of an earlier
// initialization are dropped first.
func wireMessages(g *graph.Graph, blocks map[graph.NodeID]block.Block) error {
	for _, b := range blocks {
		for _, out := range b.MessageOutputs() {
			out.UnsubscribeAll()
		}
	}
	for _, e := range g.Edges() {
		if e.Kind != graph.KindMessage {
			continue
		}
		_, sp, ok1 := g.Port(e.Src, graph.DirectionOutput)
		_, dp, ok2 := g.Port(e.Dst, graph.DirectionInput)
		if !ok1 || !ok2 {
			return errors.WrapInvalid(fmt.Errorf("%w: edge %d", errors.ErrUnknownPort, e.ID),
				"Runtime", "Initialize", "wire message edge")
		}
		out, ok1 := block.MessageOutput(blocks[e.Src.Node], sp.Name)
		in, ok2 := block.MessageInput(blocks[e.Dst.Node], dp.Name)
		if !ok1 || !ok2 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s has no message port object", errors.ErrUnknownPort, g.EdgeName(e)),
				"Runtime", "Initialize", "wire message edge")
		}
		out.Subscribe(in)
	}
	return nil
}

// bind collects the readers and buffers of b's stream ports by stream index.
func bind(g *graph.Graph, alloc *Allocation, b block.Block) (scheduler.Binding, error) {
	binding := scheduler.Binding{Block: b}
	for _, p := range b.Inputs() {
		if p.Kind != graph.KindStream {
			continue
		}
		edges := g.InEdges(b.ID(), p.Index)
		var rd buffer.Reader
		switch len(edges) {
		case 0:
		case 1:
			rd = alloc.Reader(edges[0].ID)
		default:
			return binding, errors.WrapInvalid(fmt.Errorf("%w: stream input %s of %s has %d edges",
				errors.ErrPortInUse, p.Name, b.Name(), len(edges)),
				"Runtime", "Initialize", "bind block")
		}
		binding.Inputs = append(binding.Inputs, rd)
	}
	for _, p := range b.Outputs() {
		if p.Kind == graph.KindStream {
			binding.Outputs = append(binding.Outputs, alloc.Output(b.ID(), p.Index))
		}
	}
	return binding, nil
}

// Start runs every scheduler on its own goroutine and returns. Block Start
// hooks run first, in topological order.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInitialized {
		return r.invalidState("Start", "start")
	}

	r.runID = uuid.NewString()
	logger := r.logger.With("run", r.runID)
	runCtx, cancel := context.WithCancel(ctx)

	started := make([]block.Block, 0, len(r.order))
	for _, id := range r.order {
		b := r.blocks[id]
		if st, ok := b.(block.Starter); ok {
			if err := st.Start(runCtx); err != nil {
				cancel()
				stopBlocks(logger, started)
				return errors.Wrap(err, "Runtime", "Start", fmt.Sprintf("start block %s(%d)", b.Name(), b.ID()))
			}
		}
		started = append(started, b)
	}

	r.cancel = cancel
	r.started = started
	r.done = make(chan struct{})
	r.killed = make(chan struct{})
	r.runErrs = make(map[string]error, len(r.active))
	r.state = StateRunning

	var (
		eg       errgroup.Group
		fatalMu  sync.Mutex
		firstErr error
	)
	for _, s := range r.active {
		eg.Go(func() error {
			err := s.Run(runCtx)
			if err != nil {
				logger.Warn("Scheduler finished with errors", "scheduler", s.Name(), "error", err)
				if errors.IsFatal(err) {
					fatalMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					fatalMu.Unlock()
					cancel()
				}
			}
			r.recordRunError(s.Name(), err)
			return err
		})
	}

	if r.opts.monitor != nil || r.opts.registry != nil {
		go r.monitor(runCtx, r.done)
	}
	go r.complete(logger, &eg, func() error {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		return firstErr
	})

	logger.Info("Runtime started", "schedulers", len(r.active), "blocks", len(r.blocks))
	return nil
}

func (r *Runtime) recordRunError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.runErrs[name] = err
	}
}

// complete waits for every scheduler, runs the Stop hooks, closes the
// buffers and publishes the result.
func (r *Runtime) complete(logger *slog.Logger, eg *errgroup.Group, fatal func() error) {
	_ = eg.Wait()

	r.mu.Lock()
	cancel, started, alloc, active := r.cancel, r.started, r.alloc, r.active
	r.mu.Unlock()
	cancel()

	stopBlocks(logger, started)
	if err := alloc.Close(); err != nil {
		logger.Warn("Closing buffers failed", "error", err)
	}

	r.mu.Lock()
	result := fatal()
	if result == nil {
		var errs []error
		for _, s := range active {
			if err := r.runErrs[s.Name()]; err != nil {
				errs = append(errs, err)
			}
		}
		result = stderrors.Join(errs...)
	}
	r.err = result
	if r.state == StateRunning {
		r.state = StateStopped
	}
	done := r.done
	r.mu.Unlock()

	r.publish()
	logger.Info("Runtime stopped", "error", result)
	close(done)
}

func stopBlocks(logger *slog.Logger, started []block.Block) {
	for i := len(started) - 1; i >= 0; i-- {
		b := started[i]
		if st, ok := b.(block.Stopper); ok {
			if err := st.Stop(); err != nil {
				logger.Warn("Block stop hook failed", "block", b.Name(), "error", err)
			}
		}
	}
}

// Stop asks every scheduler to exit at its next iteration boundary. It does
// not wait; call Wait.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRunning:
		r.cancel()
		r.logger.Info("Runtime stop requested", "run", r.runID)
		return nil
	case StateStopped, StateKilled:
		return nil
	default:
		return r.invalidState("Stop", "stop")
	}
}

// Wait blocks until the run ends and returns the first fatal error, or the
// joined block errors. After Kill it returns ErrKilled at once.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	done, killed := r.done, r.killed
	r.mu.Unlock()
	if done == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidState, errors.ErrNotStarted),
			"Runtime", "Wait", "wait")
	}

	select {
	case <-done:
	case <-killed:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateKilled {
		return errors.WrapFatal(errors.ErrKilled, "Runtime", "Wait", "wait")
	}
	return r.err
}

// Run starts the runtime and waits for it.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait()
}

// Kill cancels every scheduler and closes every buffer without waiting.
// Goroutines still inside Work finish on their own; buffer memory is kept
// until they have.
func (r *Runtime) Kill() error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateKilled
	r.cancel()
	close(r.killed)
	alloc := r.alloc
	r.mu.Unlock()

	r.logger.Warn("Runtime killed", "run", r.RunID())
	return alloc.Close()
}

// Shutdown stops the runtime and waits up to timeout, then kills it.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	if err := r.Stop(); err != nil {
		return err
	}
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return r.Wait()
	case <-timer.C:
		if err := r.Kill(); err != nil {
			r.logger.Warn("Closing buffers on kill failed", "error", err)
		}
		return errors.WrapFatal(errors.ErrKilled, "Runtime", "Shutdown", fmt.Sprintf("stop within %s", timeout))
	}
}

// Close releases the buffers of a runtime that is not running.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configurable() {
		return r.invalidState("Close", "close")
	}
	err := r.releaseLocked()
	r.state = StateUninitialized
	return err
}

// releaseLocked frees the current buffers. Caller holds mu. After Kill a
// worker that outlived its stop timeout may still hold a region, so the
// memory is only closed and left to the garbage collector.
func (r *Runtime) releaseLocked() error {
	if r.alloc == nil {
		return nil
	}
	var err error
	if r.state == StateKilled {
		err = r.alloc.Close()
	} else {
		err = r.alloc.Release()
	}
	r.alloc = nil
	return err
}

// Block returns the block called name in the initialized graph.
func (r *Runtime) Block(name string) (block.Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if b := r.blocks[id]; b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Post enqueues msg on a message input of an initialized block. Messages
// posted before Start are delivered once the block's scheduler runs.
func (r *Runtime) Post(id graph.NodeID, port string, msg message.Value) error {
	r.mu.Lock()
	b, ok := r.blocks[id]
	r.mu.Unlock()
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %d", errors.ErrUnknownNode, id), "Runtime", "Post", "post message")
	}
	in, ok := block.MessageInput(b, port)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s has no message input %q", errors.ErrUnknownPort, b.Name(), port),
			"Runtime", "Post", "post message")
	}
	return in.Post(msg)
}

// Step runs one iteration of every scheduler on the calling goroutine. It is
// meant for tests and embedders that drive the graph themselves and only
// works on an initialized runtime that was not started.
func (r *Runtime) Step(ctx context.Context) (map[string]scheduler.Step, error) {
	r.mu.Lock()
	if r.state != StateInitialized {
		err := r.invalidState("Step", "step")
		r.mu.Unlock()
		return nil, err
	}
	active := slices.Clone(r.active)
	r.mu.Unlock()

	steps := make(map[string]scheduler.Step, len(active))
	var errs []error
	for _, s := range active {
		st, err := s.RunOneIteration(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		steps[s.Name()] = st
	}
	return steps, stderrors.Join(errs...)
}

// Stats returns a snapshot of every active scheduler.
func (r *Runtime) Stats() []scheduler.Stats {
	r.mu.Lock()
	active := slices.Clone(r.active)
	r.mu.Unlock()

	out := make([]scheduler.Stats, 0, len(active))
	for _, s := range active {
		out = append(out, s.Stats())
	}
	return out
}

// BufferStats returns a snapshot of every allocated buffer.
func (r *Runtime) BufferStats() []buffer.Stats {
	r.mu.Lock()
	alloc := r.alloc
	r.mu.Unlock()
	if alloc == nil {
		return nil
	}
	out := make([]buffer.Stats, 0, len(alloc.buffers))
	for _, b := range alloc.buffers {
		out = append(out, b.Stats())
	}
	return out
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
