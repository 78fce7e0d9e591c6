package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/blocks"
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/graph"
)

func TestSizeBuffer(t *testing.T) {
	tests := []struct {
		name     string
		req      sizeRequest
		capacity int
		pad      int
		wantErr  bool
	}{
		{
			name:     "bytes dominate",
			req:      sizeRequest{itemSize: 4, bufferBytes: 4096, producer: call{largest: 64, least: 1, history: 1}},
			capacity: 1024,
		},
		{
			name:     "twice the largest call",
			req:      sizeRequest{itemSize: 4, bufferBytes: 64, producer: call{largest: 100, least: 1, history: 1}},
			capacity: 200,
		},
		{
			name: "history pad added",
			req: sizeRequest{itemSize: 8, bufferBytes: 800, producer: call{largest: 10, least: 1, history: 1},
				consumers: []call{{largest: 20, least: 8, history: 8}}},
			capacity: 107,
			pad:      7,
		},
		{
			name:     "granularity rounds up",
			req:      sizeRequest{itemSize: 4, bufferBytes: 4000, producer: call{largest: 1, least: 1, history: 1}, granularity: 1024},
			capacity: 1024,
		},
		{
			name:     "max clamps",
			req:      sizeRequest{itemSize: 1, bufferBytes: 1 << 20, producer: call{largest: 8, least: 4, history: 1}, maxItems: 16},
			capacity: 16,
		},
		{
			name:     "min raises",
			req:      sizeRequest{itemSize: 1, bufferBytes: 8, producer: call{largest: 2, least: 1, history: 1}, minItems: 100},
			capacity: 100,
		},
		{
			name:    "clamp below the smallest call",
			req:     sizeRequest{itemSize: 1, bufferBytes: 1 << 20, producer: call{largest: 8, least: 64, history: 1}, maxItems: 16},
			wantErr: true,
		},
		{
			name:    "bad item size",
			req:     sizeRequest{itemSize: 0, bufferBytes: 100},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capacity, pad, err := sizeBuffer(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.capacity, capacity)
			assert.Equal(t, tt.pad, pad)
		})
	}
}

func TestCallsFollowSettings(t *testing.T) {
	keep, err := blocks.NewKeepOneInN("keep", 4, 4, block.WithHistory(3))
	require.NoError(t, err)

	c := consumerCall(keep, 0, 100)
	assert.Equal(t, 3, c.history)
	assert.Equal(t, 400+2, c.largest, "decimating consumer needs n*decim items plus look-back")
	assert.Equal(t, 4, c.least)

	p := producerCall(block.Settings{OutputMultiple: 8, MinNOutput: 3}, 100)
	assert.Equal(t, 104, p.largest)
	assert.Equal(t, 8, p.least)
}

func TestStreamIndex(t *testing.T) {
	ports := []graph.Port{graph.MessageIn("cmd"), graph.StreamIn("a", 4), graph.MessageIn("x"), graph.StreamIn("b", 4)}
	assert.Equal(t, 0, streamIndex(ports, 1))
	assert.Equal(t, 1, streamIndex(ports, 3))
}

func TestEdgeProperties(t *testing.T) {
	host := &buffer.Properties{Backend: buffer.HostBackend, MaxItems: 64}
	props, err := edgeProperties([]graph.Edge{{ID: 1}, {ID: 2, Buffer: host}})
	require.NoError(t, err)
	assert.Equal(t, host, props)

	props, err = edgeProperties([]graph.Edge{{ID: 1}})
	require.NoError(t, err)
	assert.Nil(t, props)

	_, err = edgeProperties([]graph.Edge{{ID: 1, Buffer: host}, {ID: 2, Buffer: &buffer.Properties{Backend: "network"}}})
	assert.Error(t, err)
}

func TestAllocateFanOutSharesBuffer(t *testing.T) {
	src, err := blocks.NewVectorSource("src", []int32{1, 2, 3}, false, nil)
	require.NoError(t, err)
	a, err := blocks.NewNullSink("a", 4)
	require.NoError(t, err)
	b, err := blocks.NewNullSink("b", 4, block.WithHistory(4))
	require.NoError(t, err)

	g := graph.New()
	for _, n := range []graph.Node{src, a, b} {
		require.NoError(t, g.AddNode(n))
	}
	e1, err := g.Connect(src, "out", a, "in")
	require.NoError(t, err)
	e2, err := g.Connect(src, "out", b, "in")
	require.NoError(t, err)

	m := NewBufferManager(nil, WithBufferBytes(256))
	alloc, err := m.Allocate(g, map[graph.NodeID]block.Block{src.ID(): src, a.ID(): a, b.ID(): b},
		func(graph.NodeID) string { return DefaultSchedulerName })
	require.NoError(t, err)
	defer func() { assert.NoError(t, alloc.Release()) }()

	require.Len(t, alloc.Buffers(), 1)
	buf := alloc.Output(src.ID(), 0)
	require.NotNil(t, buf)
	assert.Equal(t, "src:out->{a:in,b:in}", buf.Name())
	assert.Same(t, buf, alloc.Reader(e1).Buffer())
	assert.Equal(t, 1, alloc.Reader(e1).History())
	assert.Equal(t, 4, alloc.Reader(e2).History())
}
