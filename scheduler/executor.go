package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/metric"
	"github.com/c360/streamrt/tag"
)

// DefaultMaxNOutput bounds a call whose outputs are all unconnected and
// whose block sets no limit.
const DefaultMaxNOutput = 8192

// executor runs single iterations. It is the only place where block errors
// and panics are caught and translated.
type executor struct {
	name       string
	logger     *slog.Logger
	metrics    *metric.Metrics
	maxNOutput int
}

// iterate delivers pending messages and then runs one stream step.
func (e *executor) iterate(ctx context.Context, t *task) (IterationStatus, error) {
	t.iterations.Add(1)
	if err := e.deliver(ctx, t); err != nil {
		return Done, err
	}
	if !t.streams {
		return MessageOnly, nil
	}
	if t.done.Load() {
		return Done, nil
	}
	return e.work(ctx, t)
}

func (e *executor) deliver(ctx context.Context, t *task) error {
	for _, in := range t.msgIn {
		if in.Pending() == 0 {
			continue
		}
		if err := safeDeliver(ctx, in); err != nil {
			return errors.NewBlockError(t.name, uint64(t.id), errors.ErrBlockRuntime,
				fmt.Errorf("message port %s: %w", in.Name(), err))
		}
	}
	return nil
}

func safeDeliver(ctx context.Context, in *message.InPort) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	_, err = in.Deliver(ctx, 0)
	return err
}

func safeWork(ctx context.Context, t *task) (st block.WorkStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.b.Work(ctx, t.io)
}

func (e *executor) violation(t *task, format string, args ...any) error {
	return errors.NewBlockError(t.name, uint64(t.id), errors.ErrWorkContractViolation, fmt.Errorf(format, args...))
}

// work prepares the windows, calls Work and commits the result.
func (e *executor) work(ctx context.Context, t *task) (IterationStatus, error) {
	s := t.settings
	if t.outputsAbandoned() {
		return Done, nil
	}

	noutput := 0
	if len(t.outs) > 0 {
		noutput = math.MaxInt
		for i, buf := range t.outputs {
			if buf == nil {
				continue
			}
			region, n := buf.WriteRegion(s.MinNOutput)
			t.outs[i].Items = region
			t.outs[i].Offset = buf.ItemsWritten()
			noutput = min(noutput, n)
		}
		if noutput == math.MaxInt {
			noutput = s.LargestCall(e.maxNOutput)
		}
		noutput = t.clampOutput(noutput)
		if noutput < s.MinNOutput {
			return BlockedOnOutput, nil
		}
	}

	for i, rd := range t.inputs {
		in := t.ins[i]
		t.writerDone[i] = rd.WriterDone()
		in.Items, in.Available = rd.ReadRegion(0)
		in.Offset = rd.ItemsRead()
		in.Reset()
	}

	if len(t.ins) > 0 {
		ok := false
		if len(t.outs) > 0 {
			noutput, ok = t.fitInputs(noutput)
		} else {
			t.forecast(s.MinNOutput)
			ok = t.satisfied()
		}
		if !ok {
			if t.inputsFinished() {
				return Done, nil
			}
			return BlockedOnInput, nil
		}
	}

	for i, out := range t.outs {
		out.Reset()
		out.Requested = noutput
		need := noutput * out.ItemSize
		if t.outputs[i] == nil {
			if cap(t.scratch[i]) < need {
				t.scratch[i] = make([]byte, need)
			}
			out.Items = t.scratch[i][:need]
			out.Offset = 0
			continue
		}
		out.Items = out.Items[:need]
	}
	t.io.NOutput = noutput

	start := time.Now()
	ws, err := safeWork(ctx, t)
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.RecordWork(t.name, Done.String(), 0, 0, elapsed)
		return Done, errors.NewBlockError(t.name, uint64(t.id), errors.ErrBlockRuntime, err)
	}

	produced := 0
	for i, out := range t.outs {
		p := out.Produced()
		if p < 0 || p > out.Requested {
			return Done, e.violation(t, "produced %d items on output %d, %d were exposed", p, i, out.Requested)
		}
		produced = max(produced, p)
	}
	consumed := 0
	for i, in := range t.ins {
		c := in.Consumed()
		if !in.ConsumeCalled() {
			c = s.ConsumedFor(produced)
		}
		if c < 0 || c > in.Available {
			return Done, e.violation(t, "consumed %d items on input %d, %d were available", c, i, in.Available)
		}
		t.consumed[i] = c
		consumed += c
	}

	e.propagateTags(t)

	totalProduced := 0
	for i, buf := range t.outputs {
		p := t.outs[i].Produced()
		totalProduced += p
		if buf == nil || p == 0 {
			continue
		}
		if err := buf.CommitWrite(p); err != nil {
			return Done, e.commitError(t, err)
		}
	}
	for i, rd := range t.inputs {
		if t.consumed[i] == 0 {
			continue
		}
		if err := rd.CommitRead(t.consumed[i]); err != nil {
			return Done, e.commitError(t, err)
		}
	}
	t.produced.Add(uint64(totalProduced))
	t.consumedN.Add(uint64(consumed))

	st := e.status(t, ws, totalProduced, consumed)
	e.metrics.RecordWork(t.name, st.String(), totalProduced, consumed, elapsed)
	return st, nil
}

// commitError keeps contract violations fatal and treats anything else a
// backend reports (a lost network link) as a failure of this block only.
func (e *executor) commitError(t *task, err error) error {
	if stderrors.Is(err, errors.ErrWorkContractViolation) {
		return errors.NewBlockError(t.name, uint64(t.id), errors.ErrWorkContractViolation, err)
	}
	return errors.NewBlockError(t.name, uint64(t.id), errors.ErrBlockRuntime, err)
}

func (e *executor) status(t *task, ws block.WorkStatus, produced, consumed int) IterationStatus {
	switch ws {
	case block.StatusDone:
		return Done
	case block.StatusBlockedOnInput, block.StatusMessageOnly:
		return BlockedOnInput
	case block.StatusBlockedOnOutput:
		return BlockedOnOutput
	}
	switch {
	case produced > 0:
		return Ready
	case consumed > 0:
		return ReadyNoOutput
	case len(t.ins) > 0:
		return BlockedOnInput
	default:
		return BlockedOnOutput
	}
}

// propagateTags copies the tags on consumed input items to the outputs
// selected by the block's policy, mapping offsets through its rate.
func (e *executor) propagateTags(t *task) {
	policy := t.settings.TagPolicy
	if policy == tag.None || len(t.outs) == 0 {
		return
	}
	for i, in := range t.ins {
		c := t.consumed[i]
		if c == 0 {
			continue
		}
		tags := in.TagsInRange(in.Offset, in.Offset+uint64(c))
		if len(tags) == 0 {
			continue
		}
		for o, out := range t.outs {
			if out.Buffer == nil || (policy == tag.OneToOne && o != i) {
				continue
			}
			interp, decim := e.rate(t, c, out.Produced())
			for _, tg := range tags {
				tg.Offset = tag.MapOffset(tg.Offset, in.Offset, out.Offset, interp, decim)
				out.Buffer.AddTag(tg)
			}
		}
	}
}

func (e *executor) rate(t *task, consumed, produced int) (uint64, uint64) {
	s := t.settings
	if s.FixedRate() {
		return uint64(s.Interpolation), uint64(s.Decimation)
	}
	if consumed > 0 && produced > 0 {
		return uint64(produced), uint64(consumed)
	}
	return 1, 1
}

// finish marks t done: outputs end, inputs detach so upstream can finish.
// It reports whether this call made the transition.
func (e *executor) finish(t *task) bool {
	if !t.done.CompareAndSwap(false, true) {
		return false
	}
	for _, buf := range t.outputs {
		if buf != nil {
			buf.SetDone()
		}
	}
	for _, rd := range t.inputs {
		rd.Detach()
	}
	e.logger.Debug("Block finished", "block", t.label())
	return true
}
