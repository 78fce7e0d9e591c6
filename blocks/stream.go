package blocks

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/tag"
)

func sizeOf[T any]() int {
	return int(reflect.TypeFor[T]().Size())
}

// VectorSource emits a fixed slice of items, once or forever.
type VectorSource[T any] struct {
	block.Base

	data   []T
	tags   []tag.Tag
	repeat bool
	pos    int
}

// NewVectorSource returns a source of data. Tags are attached at their
// offsets on the first pass.
func NewVectorSource[T any](name string, data []T, repeat bool, tags []tag.Tag, opts ...block.Option) (*VectorSource[T], error) {
	base, err := block.NewBase(name, nil, []graph.Port{graph.StreamOut("out", sizeOf[T]())}, opts...)
	if err != nil {
		return nil, err
	}
	return &VectorSource[T]{Base: base, data: data, tags: tags, repeat: repeat}, nil
}

// Work implements block.Block.
func (s *VectorSource[T]) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	if len(s.data) == 0 || (!s.repeat && s.pos == len(s.data)) {
		return block.StatusDone, nil
	}
	out := block.Out[T](io.Outputs[0])
	n := 0
	for n < len(out) {
		if s.pos == len(s.data) {
			if !s.repeat {
				break
			}
			s.pos = 0
		}
		c := copy(out[n:], s.data[s.pos:])
		n += c
		s.pos += c
	}

	base := io.Outputs[0].Offset
	for _, t := range s.tags {
		if t.Offset >= base && t.Offset < base+uint64(n) {
			io.AddTag(0, t.Offset, t.Key, t.Value)
		}
	}
	io.Outputs[0].Produce(n)
	return block.StatusOK, nil
}

// Copy forwards items unchanged. Posting false to its "en" message input
// makes it drop input instead.
type Copy struct {
	block.Base
	disabled atomic.Bool
}

// NewCopy returns a copy block for items of itemSize bytes.
func NewCopy(name string, itemSize int, opts ...block.Option) (*Copy, error) {
	base, err := block.NewBase(name,
		[]graph.Port{graph.StreamIn("in", itemSize), graph.MessageIn("en")},
		[]graph.Port{graph.StreamOut("out", itemSize)}, opts...)
	if err != nil {
		return nil, err
	}
	c := &Copy{Base: base}
	if err := c.Handle("en", c.handleEnable); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Copy) handleEnable(_ context.Context, msg message.Value) error {
	if b, ok := msg.(message.Bool); ok {
		c.disabled.Store(!bool(b))
	}
	return nil
}

// Enabled reports whether items are forwarded.
func (c *Copy) Enabled() bool { return !c.disabled.Load() }

// Work implements block.Block.
func (c *Copy) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	in, out := io.Inputs[0], io.Outputs[0]
	if c.disabled.Load() {
		in.Consume(in.Available)
		return block.StatusOK, nil
	}
	n := min(in.Available, out.Requested)
	skip := (in.History - 1) * in.ItemSize
	copy(out.Items[:n*out.ItemSize], in.Items[skip:skip+n*in.ItemSize])
	in.Consume(n)
	out.Produce(n)
	return block.StatusOK, nil
}

// Head passes the first N items and then finishes.
type Head struct {
	block.Base
	limit  uint64
	passed uint64
}

// NewHead returns a head block passing limit items of itemSize bytes.
func NewHead(name string, itemSize int, limit uint64, opts ...block.Option) (*Head, error) {
	base, err := block.NewBase(name,
		[]graph.Port{graph.StreamIn("in", itemSize)},
		[]graph.Port{graph.StreamOut("out", itemSize)}, opts...)
	if err != nil {
		return nil, err
	}
	return &Head{Base: base, limit: limit}, nil
}

// Work implements block.Block.
func (h *Head) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	if h.passed >= h.limit {
		return block.StatusDone, nil
	}
	in, out := io.Inputs[0], io.Outputs[0]
	n := min(in.Available, out.Requested)
	if rem := h.limit - h.passed; uint64(n) > rem {
		n = int(rem)
	}
	copy(out.Items, in.Items[(in.History-1)*in.ItemSize:][:n*in.ItemSize])
	in.Consume(n)
	out.Produce(n)
	h.passed += uint64(n)
	if h.passed >= h.limit {
		return block.StatusDone, nil
	}
	return block.StatusOK, nil
}

// VectorSink collects every item and tag it receives.
type VectorSink[T any] struct {
	block.Base

	mu   sync.Mutex
	data []T
	tags []tag.Tag
}

// NewVectorSink returns a collecting sink.
func NewVectorSink[T any](name string, opts ...block.Option) (*VectorSink[T], error) {
	base, err := block.NewBase(name, []graph.Port{graph.StreamIn("in", sizeOf[T]())}, nil, opts...)
	if err != nil {
		return nil, err
	}
	return &VectorSink[T]{Base: base}, nil
}

// Work implements block.Block.
func (s *VectorSink[T]) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	in := io.Inputs[0]
	items := block.In[T](in)
	tags := in.Tags()

	s.mu.Lock()
	s.data = append(s.data, items...)
	s.tags = append(s.tags, tags...)
	s.mu.Unlock()

	in.Consume(len(items))
	return block.StatusOK, nil
}

// Data returns a copy of the collected items.
func (s *VectorSink[T]) Data() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.data...)
}

// Tags returns a copy of the collected tags.
func (s *VectorSink[T]) Tags() []tag.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tag.Tag(nil), s.tags...)
}

// Reset forgets everything collected.
func (s *VectorSink[T]) Reset() {
	s.mu.Lock()
	s.data, s.tags = nil, nil
	s.mu.Unlock()
}

// NullSink consumes and discards everything.
type NullSink struct {
	block.Base
	items atomic.Uint64
}

// NewNullSink returns a discarding sink for items of itemSize bytes.
func NewNullSink(name string, itemSize int, opts ...block.Option) (*NullSink, error) {
	base, err := block.NewBase(name, []graph.Port{graph.StreamIn("in", itemSize)}, nil, opts...)
	if err != nil {
		return nil, err
	}
	return &NullSink{Base: base}, nil
}

// Work implements block.Block.
func (s *NullSink) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	n := io.Inputs[0].Available
	io.Inputs[0].Consume(n)
	s.items.Add(uint64(n))
	return block.StatusOK, nil
}

// Items returns the number of items discarded.
func (s *NullSink) Items() uint64 { return s.items.Load() }

// KeepOneInN is a 1:N decimator. It never calls Consume; the scheduler
// derives consumption from its declared rate.
type KeepOneInN struct {
	block.Base
}

// NewKeepOneInN returns a decimator for items of itemSize bytes.
func NewKeepOneInN(name string, itemSize, n int, opts ...block.Option) (*KeepOneInN, error) {
	opts = append([]block.Option{block.WithRate(1, n)}, opts...)
	base, err := block.NewBase(name,
		[]graph.Port{graph.StreamIn("in", itemSize)},
		[]graph.Port{graph.StreamOut("out", itemSize)}, opts...)
	if err != nil {
		return nil, err
	}
	return &KeepOneInN{Base: base}, nil
}

// Work implements block.Block.
func (k *KeepOneInN) Work(_ context.Context, io *block.WorkIO) (block.WorkStatus, error) {
	in, out := io.Inputs[0], io.Outputs[0]
	decim := k.Settings().Decimation
	size := in.ItemSize
	skip := (in.History - 1) * size
	n := min(out.Requested, in.Available/decim)
	for i := range n {
		src := skip + i*decim*size
		copy(out.Items[i*size:(i+1)*size], in.Items[src:src+size])
	}
	out.Produce(n)
	return block.StatusOK, nil
}
