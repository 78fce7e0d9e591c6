package runtime

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/config"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/health"
)

// HealthComponent is the name the runtime publishes its aggregate under.
const HealthComponent = "runtime"

// monitor publishes health and buffer occupancy until the run ends.
func (r *Runtime) monitor(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(r.opts.monitorInterval)
	defer ticker.Stop()

	r.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			r.publish()
		}
	}
}

// publish pushes one snapshot of scheduler and buffer state into the health
// monitor and the occupancy gauges.
func (r *Runtime) publish() {
	r.mu.Lock()
	active := slices.Clone(r.active)
	runErrs := make(map[string]error, len(r.runErrs))
	for k, v := range r.runErrs {
		runErrs[k] = v
	}
	state := r.state
	r.mu.Unlock()

	core := r.opts.registry.CoreMetrics()

	subs := make([]health.Status, 0, len(active))
	for _, s := range active {
		st := health.FromScheduler(s.Stats(), runErrs[s.Name()])
		subs = append(subs, st)
		if m := r.opts.monitor; m != nil {
			m.Update(st.Component, st)
		}
	}
	for _, bs := range r.BufferStats() {
		core.RecordOccupancy(bs.Name, bs.Occupancy)
		if m := r.opts.monitor; m != nil {
			st := health.FromBuffer(bs)
			m.Update(st.Component, st)
		}
	}

	if m := r.opts.monitor; m != nil {
		agg := health.Aggregate(HealthComponent, subs)
		if state == StateKilled {
			agg = health.NewUnhealthy(HealthComponent, "runtime killed")
		}
		m.Update(HealthComponent, agg)
	}
}

// forgetHealth drops entries of the previous graph. Caller holds mu.
func (r *Runtime) forgetHealth() {
	if m := r.opts.monitor; m != nil {
		m.RemovePrefix("scheduler.")
		m.RemovePrefix("buffer.")
		m.Remove(HealthComponent)
	}
}

// PartitionsFromConfig resolves the schedulers section of cfg against the
// given blocks by name.
func PartitionsFromConfig(cfg *config.Config, blocks []block.Block) ([]Partition, error) {
	if cfg == nil {
		return nil, nil
	}
	byName := make(map[string]block.Block, len(blocks))
	for _, b := range blocks {
		byName[b.Name()] = b
	}

	parts := make([]Partition, 0, len(cfg.Schedulers))
	for _, sc := range cfg.Schedulers {
		p := Partition{Name: sc.Name, CPUs: sc.CPUs, Workers: sc.Workers}
		for _, name := range sc.Blocks {
			b, ok := byName[name]
			if !ok {
				return nil, errors.WrapInvalid(fmt.Errorf("%w: scheduler %q names block %q", errors.ErrUnknownNode, sc.Name, name),
					"runtime", "PartitionsFromConfig", "resolve partition")
			}
			p.Blocks = append(p.Blocks, b)
		}
		parts = append(parts, p)
	}
	return parts, nil
}
