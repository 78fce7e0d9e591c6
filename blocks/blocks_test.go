package blocks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/tag"
	"github.com/c360/streamrt/testutil"
)

func output(items, size int) *block.Output {
	return &block.Output{Items: make([]byte, items*size), Requested: items, ItemSize: size}
}

func input[T any](history int, items ...T) *block.Input {
	raw := vmcirc.AsBytes(items)
	size := len(raw) / max(len(items), 1)
	return &block.Input{Items: raw, Available: len(items) - (history - 1), History: history, ItemSize: size}
}

func TestVectorSourceOnce(t *testing.T) {
	src, err := NewVectorSource("src", []int32{1, 2, 3, 4, 5}, false, nil)
	require.NoError(t, err)
	ctx := context.Background()

	out := output(3, 4)
	st, err := src.Work(ctx, &block.WorkIO{Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, block.StatusOK, st)
	assert.Equal(t, 3, out.Produced())
	assert.Equal(t, []int32{1, 2, 3}, block.Out[int32](out))

	out = output(3, 4)
	out.Offset = 3
	_, err = src.Work(ctx, &block.WorkIO{Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Produced())

	st, err = src.Work(ctx, &block.WorkIO{Outputs: []*block.Output{output(3, 4)}})
	require.NoError(t, err)
	assert.Equal(t, block.StatusDone, st)
}

func TestVectorSourceRepeat(t *testing.T) {
	src, err := NewVectorSource("src", []int32{1, 2}, true, []tag.Tag{{Offset: 1, Key: "k"}})
	require.NoError(t, err)
	out := output(5, 4)
	_, err = src.Work(context.Background(), &block.WorkIO{Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Produced())
	assert.Equal(t, []int32{1, 2, 1, 2, 1}, block.Out[int32](out))
}

func TestCopyEnable(t *testing.T) {
	c, err := NewCopy("copy", 4)
	require.NoError(t, err)
	ctx := context.Background()

	in, out := input[int32](2, 9, 1, 2, 3), output(2, 4)
	_, err = c.Work(ctx, &block.WorkIO{Inputs: []*block.Input{in}, Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, 2, in.Consumed())
	assert.Equal(t, []int32{1, 2}, block.Out[int32](out))

	en, ok := block.MessageInput(c, "en")
	require.True(t, ok)
	require.NoError(t, en.Post(message.Bool(false)))
	_, err = en.Deliver(ctx, 0)
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	in, out = input[int32](1, 1, 2, 3), output(3, 4)
	_, err = c.Work(ctx, &block.WorkIO{Inputs: []*block.Input{in}, Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, 3, in.Consumed())
	assert.Zero(t, out.Produced())
}

func TestHead(t *testing.T) {
	h, err := NewHead("head", 4, 3)
	require.NoError(t, err)
	in, out := input[int32](1, 1, 2, 3, 4, 5), output(5, 4)
	st, err := h.Work(context.Background(), &block.WorkIO{Inputs: []*block.Input{in}, Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, block.StatusDone, st)
	assert.Equal(t, 3, out.Produced())
	assert.Equal(t, 3, in.Consumed())
}

func TestKeepOneInNDoesNotConsume(t *testing.T) {
	k, err := NewKeepOneInN("keep", 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, k.Settings().Decimation)

	in, out := input[int32](1, 0, 1, 2, 3, 4, 5, 6), output(4, 4)
	_, err = k.Work(context.Background(), &block.WorkIO{Inputs: []*block.Input{in}, Outputs: []*block.Output{out}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Produced())
	assert.Equal(t, []int32{0, 3}, block.Out[int32](out)[:2])
	assert.False(t, in.ConsumeCalled())
	assert.Equal(t, 6, k.Settings().ConsumedFor(out.Produced()))
}

func TestSinks(t *testing.T) {
	vs, err := NewVectorSink[int32]("vs")
	require.NoError(t, err)
	in := input[int32](1, 4, 5)
	_, err = vs.Work(context.Background(), &block.WorkIO{Inputs: []*block.Input{in}})
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 5}, vs.Data())
	vs.Reset()
	assert.Empty(t, vs.Data())

	ns, err := NewNullSink("ns", 4)
	require.NoError(t, err)
	in = input[int32](1, 1, 2, 3)
	_, err = ns.Work(context.Background(), &block.WorkIO{Inputs: []*block.Input{in}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ns.Items())
	assert.Equal(t, 3, in.Consumed())
}

func TestForwardToCounter(t *testing.T) {
	fwd, err := NewForward("fwd")
	require.NoError(t, err)
	cnt, err := NewCounter("cnt")
	require.NoError(t, err)
	out, _ := block.MessageOutput(fwd, "out")
	in, _ := block.MessageInput(cnt, "in")
	out.Subscribe(in)

	fin, _ := block.MessageInput(fwd, "in")
	for i := range 5 {
		require.NoError(t, fin.Post(message.Int(i)))
	}
	ctx := context.Background()
	_, err = fin.Deliver(ctx, 0)
	require.NoError(t, err)
	_, err = in.Deliver(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(5), fwd.Forwarded())
	assert.Equal(t, 5, cnt.Count())
	assert.Equal(t, message.Int(4), cnt.Messages()[4])
}

func TestStrobe(t *testing.T) {
	s, err := NewStrobe("strobe", message.Symbol("tick"), 5*time.Millisecond)
	require.NoError(t, err)
	cnt, err := NewCounter("cnt")
	require.NoError(t, err)
	out, _ := block.MessageOutput(s, "strobe")
	in, _ := block.MessageInput(cnt, "in")
	out.Subscribe(in)

	require.NoError(t, s.Start(context.Background()))
	testutil.WaitFor(t, 2*time.Second, func() bool { return in.Pending() >= 3 }, "strobe never fired")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	_, err = in.Deliver(context.Background(), 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cnt.Count(), 3)
	assert.Equal(t, message.Symbol("tick"), cnt.Messages()[0])
	assert.GreaterOrEqual(t, s.Sent(), int64(3))
}
