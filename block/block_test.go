package block

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/tag"
)

func TestSettingsFixedRate(t *testing.T) {
	s := DefaultSettings()
	assert.True(t, s.FixedRate())
	assert.Equal(t, 10, s.Forecast(10))

	s.Interpolation, s.Decimation = 1, 4
	assert.Equal(t, 40, s.Forecast(10))
	assert.Equal(t, 2, s.OutputFor(9))
	assert.Equal(t, 8, s.ConsumedFor(2))

	s.Interpolation, s.Decimation = 3, 2
	assert.Equal(t, 7, s.Forecast(10), "rounds up")
	assert.Equal(t, 6, s.OutputFor(4))

	s.Interpolation, s.Decimation = 0, 0
	assert.False(t, s.FixedRate())
	assert.Equal(t, 10, s.Forecast(10))
	assert.Zero(t, s.ConsumedFor(10))
}

func TestSettingsNormalized(t *testing.T) {
	s := Settings{History: 0, OutputMultiple: -1, MinNOutput: 8, MaxNOutput: 4}.normalized()
	assert.Equal(t, 1, s.History)
	assert.Equal(t, 1, s.OutputMultiple)
	assert.Equal(t, 8, s.MaxNOutput)
	assert.Equal(t, 8, s.LargestCall(100))
	assert.Equal(t, 100, Settings{}.LargestCall(100))
}

func TestSettingsNormalizedInterpolation(t *testing.T) {
	tests := []struct {
		name     string
		in       Settings
		multiple int
		minOut   int
		maxOut   int
	}{
		{"upsample by 3", Settings{Interpolation: 3, Decimation: 1}, 3, 3, 0},
		{"3:2 steps by 3", Settings{Interpolation: 3, Decimation: 2}, 3, 3, 0},
		{"6:4 reduces to 3:2", Settings{Interpolation: 6, Decimation: 4}, 3, 3, 0},
		{"declared multiple kept", Settings{Interpolation: 3, Decimation: 1, OutputMultiple: 2}, 6, 6, 0},
		{"decimator unchanged", Settings{Interpolation: 1, Decimation: 4}, 1, 1, 0},
		{"max rounded down", Settings{Interpolation: 3, Decimation: 1, MaxNOutput: 10}, 3, 3, 9},
		{"max raised to one step", Settings{Interpolation: 3, Decimation: 1, MaxNOutput: 2}, 3, 3, 3},
		{"min rounded up", Settings{Interpolation: 4, Decimation: 1, MinNOutput: 5}, 4, 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in.normalized()
			assert.Equal(t, tt.multiple, s.OutputMultiple)
			assert.Equal(t, tt.minOut, s.MinNOutput)
			assert.Equal(t, tt.maxOut, s.MaxNOutput)
			for n := s.MinNOutput; n <= 4*s.OutputMultiple; n += s.OutputMultiple {
				assert.Equal(t, n*s.Decimation, s.ConsumedFor(n)*s.Interpolation, "noutput %d", n)
			}
		})
	}
}

func TestNewBase(t *testing.T) {
	ids := &graph.SequentialIDs{}
	b, err := NewBase("filter",
		[]graph.Port{graph.StreamIn("in", 4), graph.MessageIn("ctrl")},
		[]graph.Port{graph.StreamOut("out", 4), graph.MessageOut("events")},
		WithHistory(8), WithRate(1, 2), WithIDAllocator(ids), WithMaxMessages(4))
	require.NoError(t, err)

	assert.Equal(t, graph.NodeID(1), b.ID())
	assert.Equal(t, "filter", b.Name())
	assert.Equal(t, graph.DirectionInput, b.Inputs()[1].Direction)
	assert.Equal(t, 1, b.Inputs()[1].Index)

	s := b.Settings()
	assert.Equal(t, 8, s.History)
	assert.Equal(t, 2, s.Decimation)
	require.Len(t, b.MessageInputs(), 1)
	require.Len(t, b.MessageOutputs(), 1)
	assert.Equal(t, "ctrl", b.MessageInputs()[0].Name())

	st, err := b.Work(context.Background(), &WorkIO{})
	require.NoError(t, err)
	assert.Equal(t, StatusMessageOnly, st)
	assert.True(t, HasStreams(&b))
}

func TestNewBaseOneToOneNeedsEqualCounts(t *testing.T) {
	_, err := NewBase("bad",
		[]graph.Port{graph.StreamIn("in", 4)},
		[]graph.Port{graph.StreamOut("a", 4), graph.StreamOut("b", 4)},
		WithTagPolicy(tag.OneToOne))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewBaseOneToOneNeedsUnitRate(t *testing.T) {
	ports := func() ([]graph.Port, []graph.Port) {
		return []graph.Port{graph.StreamIn("in", 4)}, []graph.Port{graph.StreamOut("out", 4)}
	}
	for name, opt := range map[string]Option{
		"decimating":    WithRate(1, 2),
		"interpolating": WithRate(3, 1),
		"general":       WithGeneralRate(),
	} {
		t.Run(name, func(t *testing.T) {
			in, out := ports()
			_, err := NewBase("bad", in, out, opt, WithTagPolicy(tag.OneToOne))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	in, out := ports()
	_, err := NewBase("ok", in, out, WithRate(2, 2), WithTagPolicy(tag.OneToOne))
	assert.NoError(t, err)
}

func TestHandleAndPublish(t *testing.T) {
	src, err := NewBase("src", nil, []graph.Port{graph.MessageOut("out")})
	require.NoError(t, err)
	dst, err := NewBase("dst", []graph.Port{graph.MessageIn("in")}, nil)
	require.NoError(t, err)

	var got []message.Value
	require.NoError(t, dst.Handle("in", func(_ context.Context, msg message.Value) error {
		got = append(got, msg)
		return nil
	}))
	assert.ErrorIs(t, dst.Handle("nope", nil), errors.ErrUnknownPort)

	in, ok := MessageInput(&dst, "in")
	require.True(t, ok)
	out, ok := MessageOutput(&src, "out")
	require.True(t, ok)
	out.Subscribe(in)

	require.NoError(t, src.Publish("out", message.Int(1)))
	require.NoError(t, src.Publish("out", message.Int(2)))
	assert.ErrorIs(t, src.Publish("missing", message.Int(3)), errors.ErrUnknownPort)

	n, err := in.Deliver(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []message.Value{message.Int(1), message.Int(2)}, got)
	assert.False(t, HasStreams(&src))
}

func TestUnhandledMessagesAreDiscarded(t *testing.T) {
	b, err := NewBase("quiet", []graph.Port{graph.MessageIn("in")}, nil)
	require.NoError(t, err)
	in := b.MessageInputs()[0]
	require.NoError(t, in.Post(message.String("x")))
	n, err := in.Deliver(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInputViews(t *testing.T) {
	raw := vmcirc.AsBytes([]int32{7, 8, 1, 2, 3})
	in := &Input{Items: raw, Available: 3, History: 3, ItemSize: 4}

	assert.Equal(t, []int32{1, 2, 3}, In[int32](in))
	assert.Equal(t, []int32{7, 8, 1, 2, 3}, Window[int32](in))

	in.Consume(2)
	in.Consume(1)
	assert.Equal(t, 3, in.Consumed())
	assert.True(t, in.ConsumeCalled())
	in.Reset()
	assert.Zero(t, in.Consumed())
	assert.False(t, in.ConsumeCalled())
	assert.Nil(t, in.Tags(), "no reader means no tags")
}

func TestWorkIOTags(t *testing.T) {
	buf, err := buffer.HostFactory{}.Make(buffer.Spec{Name: "e", ItemSize: 4, Capacity: 1024})
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Release() })
	rd, err := buf.AddReader(1)
	require.NoError(t, err)

	io := &WorkIO{
		Block:   "tagger",
		Outputs: []*Output{{Buffer: buf, Requested: 4, ItemSize: 4}, {Requested: 4, ItemSize: 4}},
	}
	io.AddTag(0, 2, "burst", message.Bool(true))
	io.AddTag(1, 2, "lost", message.Bool(true))
	io.ProduceEach(4)
	assert.Equal(t, 4, io.Outputs[0].Produced())

	_, n := buf.WriteRegion(4)
	require.GreaterOrEqual(t, n, 4)
	require.NoError(t, buf.CommitWrite(4))

	data, avail := rd.ReadRegion(1)
	in := &Input{Items: data, Available: avail, History: 1, ItemSize: 4, Reader: rd}
	io = &WorkIO{Inputs: []*Input{in}}
	tags := io.Tags(0)
	require.Len(t, tags, 1)
	assert.Equal(t, "burst", tags[0].Key)
	assert.Equal(t, "tagger", tags[0].Source)
	assert.Equal(t, uint64(2), tags[0].Offset)
	assert.Empty(t, in.TagsInRange(3, 4))

	io.ConsumeEach(4)
	assert.Equal(t, 4, in.Consumed())
}

func TestWorkStatusString(t *testing.T) {
	assert.Equal(t, "blocked_on_output", StatusBlockedOnOutput.String())
	assert.Equal(t, "status(42)", WorkStatus(42).String())
}
