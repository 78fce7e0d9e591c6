package block

import (
	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/tag"
)

// Input is one stream input window handed to Work.
type Input struct {
	// Items holds History-1 look-back items followed by Available new items.
	Items []byte
	// Available is the number of new items.
	Available int
	History   int
	ItemSize  int
	// Offset is the absolute offset of the first new item.
	Offset uint64
	// Reader backs the window. Schedulers set it; blocks use Tags.
	Reader buffer.Reader

	consumed int
	explicit bool
}

// Consume records that n more items were used up.
func (in *Input) Consume(n int) {
	in.consumed += n
	in.explicit = true
}

// Consumed returns the items consumed during this call.
func (in *Input) Consumed() int { return in.consumed }

// ConsumeCalled reports whether the block consumed explicitly.
func (in *Input) ConsumeCalled() bool { return in.explicit }

// Tags returns the tags attached to the new items of the window.
func (in *Input) Tags() []tag.Tag {
	return in.TagsInRange(in.Offset, in.Offset+uint64(in.Available))
}

// TagsInRange returns the tags with low <= offset < high.
func (in *Input) TagsInRange(low, high uint64) []tag.Tag {
	if in.Reader == nil || high <= low {
		return nil
	}
	return in.Reader.Tags(low, high)
}

// Reset clears per-call counters. Schedulers call it before Work.
func (in *Input) Reset() {
	in.consumed = 0
	in.explicit = false
}

// Output is one stream output region handed to Work.
type Output struct {
	// Items is Requested items of writable space.
	Items     []byte
	Requested int
	ItemSize  int
	// Offset is the absolute offset of the first item of the region.
	Offset uint64
	// Buffer backs the region. Nil for an unconnected optional output, in
	// which case produced items and tags are discarded.
	Buffer buffer.Buffer

	produced int
}

// Produce records that n more items were written.
func (out *Output) Produce(n int) {
	out.produced += n
}

// Produced returns the items produced during this call.
func (out *Output) Produced() int { return out.produced }

// Reset clears per-call counters.
func (out *Output) Reset() {
	out.produced = 0
}

// WorkIO is everything one Work call sees.
type WorkIO struct {
	// Block names the block, used as the tag source.
	Block   string
	Inputs  []*Input
	Outputs []*Output
	// NOutput is the output request of this call. Zero for sinks.
	NOutput int
}

// Tags returns the tags on the new items of input i.
func (io *WorkIO) Tags(i int) []tag.Tag {
	return io.Inputs[i].Tags()
}

// AddTag attaches a tag at an absolute offset of output i.
func (io *WorkIO) AddTag(i int, offset uint64, key string, value message.Value) {
	out := io.Outputs[i]
	if out.Buffer == nil {
		return
	}
	out.Buffer.AddTag(tag.Tag{Offset: offset, Key: key, Value: value, Source: io.Block})
}

// ConsumeEach consumes n items on every input.
func (io *WorkIO) ConsumeEach(n int) {
	for _, in := range io.Inputs {
		in.Consume(n)
	}
}

// ProduceEach produces n items on every output.
func (io *WorkIO) ProduceEach(n int) {
	for _, out := range io.Outputs {
		out.Produce(n)
	}
}

// Items reinterprets raw item bytes as a slice of T.
func Items[T any](b []byte) []T {
	return vmcirc.Items[T](b)
}

// In returns the new items of in as T.
func In[T any](in *Input) []T {
	all := vmcirc.Items[T](in.Items)
	skip := in.History - 1
	if skip > len(all) {
		skip = len(all)
	}
	return all[skip:]
}

// Window returns the look-back items followed by the new items of in.
func Window[T any](in *Input) []T {
	return vmcirc.Items[T](in.Items)
}

// Out returns the writable region of out as T.
func Out[T any](out *Output) []T {
	return vmcirc.Items[T](out.Items)
}
