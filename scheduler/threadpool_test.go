package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/blocks"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/metric"
	"github.com/c360/streamrt/tag"
	"github.com/c360/streamrt/testutil"
)

// rig wires blocks with host buffers without going through the runtime.
type rig struct {
	t        *testing.T
	order    []block.Block
	bindings map[graph.NodeID]*Binding
}

func newRig(t *testing.T, bs ...block.Block) *rig {
	r := &rig{t: t, bindings: make(map[graph.NodeID]*Binding)}
	for _, b := range bs {
		r.order = append(r.order, b)
		r.bindings[b.ID()] = &Binding{
			Block:   b,
			Inputs:  make([]buffer.Reader, len(graph.StreamPorts(b, graph.DirectionInput))),
			Outputs: make([]buffer.Buffer, len(graph.StreamPorts(b, graph.DirectionOutput))),
		}
	}
	return r
}

func (r *rig) connect(src block.Block, out int, dst block.Block, in int, capacity int) buffer.Buffer {
	r.t.Helper()
	sb, db := r.bindings[src.ID()], r.bindings[dst.ID()]
	port, ok := graph.StreamPort(src, graph.DirectionOutput, out)
	require.True(r.t, ok)
	history := dst.Settings().History

	buf := sb.Outputs[out]
	if buf == nil {
		var err error
		buf, err = buffer.HostFactory{}.Make(buffer.Spec{
			Name:       fmt.Sprintf("%s->%s", src.Name(), dst.Name()),
			ItemSize:   port.ItemSize,
			Capacity:   capacity + history - 1,
			HistoryPad: history - 1,
			Props:      &buffer.Properties{Options: map[string]string{buffer.ArenaOption: "mirror"}},
		})
		require.NoError(r.t, err)
		r.t.Cleanup(func() { _ = buf.Release() })
		sb.Outputs[out] = buf
	}
	rd, err := buf.AddReader(history)
	require.NoError(r.t, err)
	db.Inputs[in] = rd
	return buf
}

func (r *rig) bind(s Scheduler) {
	r.t.Helper()
	var bs []Binding
	for _, b := range r.order {
		bs = append(bs, *r.bindings[b.ID()])
	}
	require.NoError(r.t, s.Bind(bs))
}

func run(t *testing.T, s Scheduler, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Run(ctx)
	require.NoError(t, ctx.Err(), "scheduler did not finish in time")
	return err
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestSourceCopySink(t *testing.T) {
	data := ramp(100000)
	src, err := blocks.NewVectorSource("src", data, false, nil)
	require.NoError(t, err)
	cp, err := blocks.NewCopy("copy", 4)
	require.NoError(t, err)
	sink, err := blocks.NewVectorSink[float32]("sink")
	require.NoError(t, err)

	r := newRig(t, src, cp, sink)
	r.connect(src, 0, cp, 0, 256)
	r.connect(cp, 0, sink, 0, 100)

	reg := metric.NewMetricsRegistry()
	s := NewThreadPool("main", WithWorkers(2), WithMetrics(reg.CoreMetrics()), WithMetricsRegistry(reg))
	r.bind(s)
	require.NoError(t, run(t, s, 10*time.Second))

	assert.Equal(t, data, sink.Data())
	assert.Equal(t, StateExit, s.State())

	stats := s.Stats()
	require.Len(t, stats.Blocks, 3)
	for _, b := range stats.Blocks {
		assert.True(t, b.Done, b.Name)
	}
	assert.Equal(t, uint64(len(data)), stats.Blocks[0].Produced)
	assert.Positive(t, promtestutil.CollectAndCount(reg.CoreMetrics().WorkCalls))
}

func TestNoLossAcrossCapacities(t *testing.T) {
	data := ramp(5000)
	for _, capacity := range []int{1, 2, 3, 7, 64, 4096} {
		t.Run(fmt.Sprintf("cap_%d", capacity), func(t *testing.T) {
			src, err := blocks.NewVectorSource("src", data, false, nil)
			require.NoError(t, err)
			sink, err := blocks.NewVectorSink[float32]("sink")
			require.NoError(t, err)
			r := newRig(t, src, sink)
			r.connect(src, 0, sink, 0, capacity)

			s := NewThreadPool("cap", WithWorkers(3))
			r.bind(s)
			require.NoError(t, run(t, s, 10*time.Second))
			assert.Equal(t, data, sink.Data())
		})
	}
}

func TestHeadEndsInfiniteSource(t *testing.T) {
	src, err := blocks.NewVectorSource("src", []float32{1, 2, 3}, true, nil)
	require.NoError(t, err)
	head, err := blocks.NewHead("head", 4, 1000)
	require.NoError(t, err)
	sink, err := blocks.NewNullSink("sink", 4)
	require.NoError(t, err)

	r := newRig(t, src, head, sink)
	r.connect(src, 0, head, 0, 64)
	r.connect(head, 0, sink, 0, 64)

	s := NewThreadPool("head")
	r.bind(s)
	require.NoError(t, run(t, s, 10*time.Second))
	assert.Equal(t, uint64(1000), sink.Items())
}

func TestFanOutToTwoReaders(t *testing.T) {
	data := ramp(3000)
	src, err := blocks.NewVectorSource("src", data, false, nil)
	require.NoError(t, err)
	fast, err := blocks.NewVectorSink[float32]("fast")
	require.NoError(t, err)
	slow := &slowSink{}
	slow.Base, err = block.NewBase("slow", []graph.Port{graph.StreamIn("in", 4)}, nil)
	require.NoError(t, err)

	r := newRig(t, src, fast, slow)
	r.connect(src, 0, fast, 0, 32)
	r.connect(src, 0, slow, 0, 32)

	s := NewThreadPool("fan", WithWorkers(4))
	r.bind(s)
	require.NoError(t, run(t, s, 20*time.Second))
	assert.Equal(t, data, fast.Data())
	assert.Equal(t, data, slow.data)
}

// slowSink consumes a few items per call.
type slowSink struct {
	block.Base
	data []float32
}

func (s *slowSink) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	in := block.In[float32](io.Inputs[0])
	n := min(len(in), 5)
	s.data = append(s.data, in[:n]...)
	io.Inputs[0].Consume(n)
	return block.StatusOK, nil
}

func TestDecimationDerivesConsumptionAndMapsTags(t *testing.T) {
	tags := []tag.Tag{
		{Offset: 0, Key: "a", Value: message.Int(0)},
		{Offset: 3, Key: "b", Value: message.Int(3)},
		{Offset: 7, Key: "c", Value: message.Int(7)},
	}
	src, err := blocks.NewVectorSource("src", ramp(30), false, tags)
	require.NoError(t, err)
	keep, err := blocks.NewKeepOneInN("keep", 4, 3)
	require.NoError(t, err)
	sink, err := blocks.NewVectorSink[float32]("sink")
	require.NoError(t, err)

	r := newRig(t, src, keep, sink)
	r.connect(src, 0, keep, 0, 16)
	r.connect(keep, 0, sink, 0, 16)

	s := NewThreadPool("decim")
	r.bind(s)
	require.NoError(t, run(t, s, 10*time.Second))

	assert.Equal(t, []float32{0, 3, 6, 9, 12, 15, 18, 21, 24, 27}, sink.Data())
	got := sink.Tags()
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{got[0].Offset, got[1].Offset, got[2].Offset})
	assert.Equal(t, "src", got[2].Source)
}

func TestTagPolicyNone(t *testing.T) {
	src, err := blocks.NewVectorSource("src", ramp(10), false, []tag.Tag{{Offset: 2, Key: "k"}})
	require.NoError(t, err)
	cp, err := blocks.NewCopy("copy", 4, block.WithTagPolicy(tag.None))
	require.NoError(t, err)
	sink, err := blocks.NewVectorSink[float32]("sink")
	require.NoError(t, err)

	r := newRig(t, src, cp, sink)
	r.connect(src, 0, cp, 0, 8)
	r.connect(cp, 0, sink, 0, 8)
	s := NewThreadPool("none")
	r.bind(s)
	require.NoError(t, run(t, s, 5*time.Second))
	assert.Len(t, sink.Data(), 10)
	assert.Empty(t, sink.Tags())
}

// upsampler repeats every input item interp times and leaves consumption to
// the scheduler.
type upsampler struct {
	block.Base
	interp int
}

func newUpsampler(t *testing.T, interp int) *upsampler {
	t.Helper()
	u := &upsampler{interp: interp}
	var err error
	u.Base, err = block.NewBase("up",
		[]graph.Port{graph.StreamIn("in", 4)},
		[]graph.Port{graph.StreamOut("out", 4)},
		block.WithRate(interp, 1))
	require.NoError(t, err)
	return u
}

func (u *upsampler) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	in := block.In[float32](io.Inputs[0])
	out := block.Out[float32](io.Outputs[0])
	for j := range out {
		out[j] = in[j/u.interp]
	}
	io.Outputs[0].Produce(len(out))
	return block.StatusOK, nil
}

func TestInterpolationConsumesWholeSteps(t *testing.T) {
	data := ramp(200)
	var want []float32
	for _, v := range data {
		want = append(want, v, v, v)
	}
	for _, caps := range [][2]int{{1, 3}, {5, 7}, {4, 11}, {13, 5}} {
		t.Run(fmt.Sprintf("in_%d_out_%d", caps[0], caps[1]), func(t *testing.T) {
			src, err := blocks.NewVectorSource("src", data, false, []tag.Tag{{Offset: 2, Key: "k"}})
			require.NoError(t, err)
			up := newUpsampler(t, 3)
			assert.Equal(t, 3, up.Settings().OutputMultiple)
			sink, err := blocks.NewVectorSink[float32]("sink")
			require.NoError(t, err)

			r := newRig(t, src, up, sink)
			r.connect(src, 0, up, 0, caps[0])
			r.connect(up, 0, sink, 0, caps[1])
			s := NewThreadPool("interp", WithWorkers(2))
			r.bind(s)
			require.NoError(t, run(t, s, 10*time.Second))

			assert.Equal(t, want, sink.Data())
			got := sink.Tags()
			require.Len(t, got, 1)
			assert.Equal(t, uint64(6), got[0].Offset)
		})
	}
}

// pairCopy copies input i to output i.
type pairCopy struct {
	block.Base
}

func (p *pairCopy) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	a, b := block.In[float32](io.Inputs[0]), block.In[float32](io.Inputs[1])
	n := min(len(a), len(b), io.NOutput)
	copy(block.Out[float32](io.Outputs[0]), a[:n])
	copy(block.Out[float32](io.Outputs[1]), b[:n])
	io.ProduceEach(n)
	return block.StatusOK, nil
}

func TestTagPolicyRoutesPerPort(t *testing.T) {
	keys := func(tags []tag.Tag) []string {
		var out []string
		for _, tg := range tags {
			out = append(out, tg.Key)
		}
		return out
	}
	tests := []struct {
		policy tag.Policy
		first  []string
		second []string
	}{
		{tag.OneToOne, []string{"first"}, []string{"second"}},
		{tag.AllToAll, []string{"first", "second"}, []string{"first", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			src0, err := blocks.NewVectorSource("src0", ramp(40), false, []tag.Tag{{Offset: 3, Key: "first"}})
			require.NoError(t, err)
			src1, err := blocks.NewVectorSource("src1", ramp(40), false, []tag.Tag{{Offset: 5, Key: "second"}})
			require.NoError(t, err)
			pc := &pairCopy{}
			pc.Base, err = block.NewBase("pair",
				[]graph.Port{graph.StreamIn("in0", 4), graph.StreamIn("in1", 4)},
				[]graph.Port{graph.StreamOut("out0", 4), graph.StreamOut("out1", 4)},
				block.WithTagPolicy(tt.policy))
			require.NoError(t, err)
			sink0, err := blocks.NewVectorSink[float32]("sink0")
			require.NoError(t, err)
			sink1, err := blocks.NewVectorSink[float32]("sink1")
			require.NoError(t, err)

			r := newRig(t, src0, src1, pc, sink0, sink1)
			r.connect(src0, 0, pc, 0, 8)
			r.connect(src1, 0, pc, 1, 8)
			r.connect(pc, 0, sink0, 0, 8)
			r.connect(pc, 1, sink1, 0, 8)
			s := NewThreadPool("policy", WithWorkers(2))
			r.bind(s)
			require.NoError(t, run(t, s, 10*time.Second))

			assert.Equal(t, ramp(40), sink0.Data())
			assert.Equal(t, ramp(40), sink1.Data())
			assert.Equal(t, tt.first, keys(sink0.Tags()))
			assert.Equal(t, tt.second, keys(sink1.Tags()))
		})
	}
}

// windowSum outputs the sum of the current item and the two before it.
type windowSum struct {
	block.Base
}

func (w *windowSum) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	win := block.Window[float32](io.Inputs[0])
	out := block.Out[float32](io.Outputs[0])
	n := min(io.Inputs[0].Available, len(out))
	for i := range n {
		out[i] = win[i] + win[i+1] + win[i+2]
	}
	io.Outputs[0].Produce(n)
	return block.StatusOK, nil
}

func TestHistoryWindow(t *testing.T) {
	src, err := blocks.NewVectorSource("src", []float32{1, 2, 3, 4, 5}, false, nil)
	require.NoError(t, err)
	w := &windowSum{}
	w.Base, err = block.NewBase("sum",
		[]graph.Port{graph.StreamIn("in", 4)},
		[]graph.Port{graph.StreamOut("out", 4)},
		block.WithHistory(3))
	require.NoError(t, err)
	sink, err := blocks.NewVectorSink[float32]("sink")
	require.NoError(t, err)

	r := newRig(t, src, w, sink)
	r.connect(src, 0, w, 0, 4)
	r.connect(w, 0, sink, 0, 4)
	s := NewThreadPool("hist")
	r.bind(s)
	require.NoError(t, run(t, s, 5*time.Second))

	assert.Equal(t, []float32{1, 3, 6, 9, 12}, sink.Data(), "history starts zero-filled")
}

// greedy claims more output than it was offered.
type greedy struct {
	block.Base
}

func (g *greedy) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	io.Outputs[0].Produce(io.Outputs[0].Requested + 1)
	return block.StatusOK, nil
}

func TestContractViolationIsFatal(t *testing.T) {
	g := &greedy{}
	var err error
	g.Base, err = block.NewBase("greedy", nil, []graph.Port{graph.StreamOut("out", 4)})
	require.NoError(t, err)
	sink, err := blocks.NewNullSink("sink", 4)
	require.NoError(t, err)

	r := newRig(t, g, sink)
	r.connect(g, 0, sink, 0, 8)
	s := NewThreadPool("bad")
	r.bind(s)

	err = run(t, s, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrWorkContractViolation)
	assert.True(t, errors.IsFatal(err))
	var be *errors.BlockError
	require.True(t, stderrors.As(err, &be))
	assert.Equal(t, "greedy", be.Block)
}

// panicker fails on its first call.
type panicker struct {
	block.Base
}

func (p *panicker) Work(context.Context, *block.WorkIO) (block.WorkStatus, error) {
	panic("boom")
}

func TestPanicFinishesBlockAndUpstream(t *testing.T) {
	src, err := blocks.NewVectorSource("src", ramp(4), true, nil)
	require.NoError(t, err)
	p := &panicker{}
	p.Base, err = block.NewBase("panicky", []graph.Port{graph.StreamIn("in", 4)}, nil)
	require.NoError(t, err)

	r := newRig(t, src, p)
	r.connect(src, 0, p, 0, 8)
	s := NewThreadPool("panic")
	r.bind(s)

	err = run(t, s, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBlockRuntime)
	assert.False(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, s.Stats().Errors)
}

func TestRunOneIteration(t *testing.T) {
	src, err := blocks.NewVectorSource("src", ramp(20), false, nil)
	require.NoError(t, err)
	sink, err := blocks.NewVectorSink[float32]("sink")
	require.NoError(t, err)
	r := newRig(t, src, sink)
	r.connect(src, 0, sink, 0, 8)

	s := NewThreadPool("step")
	r.bind(s)

	ctx := context.Background()
	step, err := s.RunOneIteration(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready, step.Statuses[src.ID()])
	assert.Len(t, sink.Data(), 8)

	for i := 0; i < 20 && !step.Finished; i++ {
		step, err = s.RunOneIteration(ctx)
		require.NoError(t, err)
	}
	assert.True(t, step.Finished)
	assert.Equal(t, ramp(20), sink.Data())
}

func TestMessageOnlyRunsUntilCancelled(t *testing.T) {
	fwd, err := blocks.NewForward("fwd")
	require.NoError(t, err)
	cnt, err := blocks.NewCounter("cnt")
	require.NoError(t, err)
	out, _ := block.MessageOutput(fwd, "out")
	in, _ := block.MessageInput(cnt, "in")
	out.Subscribe(in)

	s := NewThreadPool("msg")
	require.NoError(t, s.Bind([]Binding{{Block: fwd}, {Block: cnt}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	testutil.WaitFor(t, time.Second, func() bool { return s.State() == StateWorking }, "scheduler never started")
	fin, _ := block.MessageInput(fwd, "in")
	for i := range 10 {
		require.NoError(t, fin.Post(message.Int(i)))
	}
	testutil.WaitFor(t, 2*time.Second, func() bool { return cnt.Count() == 10 }, "messages not delivered")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	for i, msg := range cnt.Messages() {
		assert.Equal(t, message.Int(i), msg)
	}
}

func TestLifecycleMisuse(t *testing.T) {
	s := NewThreadPool("life")
	require.NoError(t, s.Bind(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	testutil.WaitFor(t, time.Second, func() bool { return s.State() == StateWorking }, "not running")

	assert.ErrorIs(t, s.Bind(nil), errors.ErrInvalidState)
	assert.ErrorIs(t, s.Run(ctx), errors.ErrInvalidState)
	_, err := s.RunOneIteration(ctx)
	assert.ErrorIs(t, err, errors.ErrInvalidState)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, s.Bind(nil), "rebinding after exit is allowed")
}

func TestBindRejectsMissingInput(t *testing.T) {
	sink, err := blocks.NewNullSink("sink", 4)
	require.NoError(t, err)
	s := NewThreadPool("bind")
	err = s.Bind([]Binding{{Block: sink, Inputs: []buffer.Reader{nil}}})
	assert.ErrorIs(t, err, errors.ErrUnconnectedPort)
	err = s.Bind([]Binding{{Block: sink}})
	assert.True(t, errors.IsInvalid(err))
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "flushed", StateFlushed.String())
	assert.Equal(t, "ready_no_output", ReadyNoOutput.String())
}
