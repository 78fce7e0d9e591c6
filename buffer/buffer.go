// Package buffer defines the circular stream buffer contract shared by every
// backend, the backend registry, and the host-memory ring implementation.
//
// A Buffer has one writer and any number of Readers, each with its own
// cursor. Cursors are absolute item counts that only grow. The writer may
// never overwrite items a reader has not consumed (including the reader's
// history look-back), so a full buffer simply exposes a zero-length write
// region and the producer reports backpressure.
//
// Regions are contiguous regardless of the physical wrap point; see
// buffer/vmcirc.
package buffer

import (
	"fmt"
	"strings"

	"github.com/c360/streamrt/tag"
)

// Capabilities describe what a backend can do. The runtime checks them when
// an edge crosses a scheduler partition.
type Capabilities uint32

const (
	// CrossScheduler means writer and readers may be driven by different
	// schedulers concurrently.
	CrossScheduler Capabilities = 1 << iota
	// ZeroCopy means regions alias the transport memory directly.
	ZeroCopy
	// CrossProcess means the two sides may live in different processes.
	CrossProcess
	// DeviceResident means items live in device memory.
	DeviceResident
)

// Has reports whether all bits of want are set.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

func (c Capabilities) String() string {
	var parts []string
	for _, f := range []struct {
		bit  Capabilities
		name string
	}{
		{CrossScheduler, "cross-scheduler"},
		{ZeroCopy, "zero-copy"},
		{CrossProcess, "cross-process"},
		{DeviceResident, "device-resident"},
	} {
		if c.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Properties is the optional per-edge buffer configuration.
type Properties struct {
	// Backend names a registered factory. Empty selects the runtime default.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// MinItems and MaxItems clamp the computed capacity. Zero means unbounded.
	MinItems int `json:"min_items,omitempty" yaml:"min_items,omitempty"`
	MaxItems int `json:"max_items,omitempty" yaml:"max_items,omitempty"`
	// ReadThreshold is the number of newly written items that triggers a
	// reader wakeup. Values below one mean every commit wakes readers.
	ReadThreshold int `json:"read_threshold,omitempty" yaml:"read_threshold,omitempty"`
	// WriteThreshold is the number of freed items that triggers a writer
	// wakeup. Values below one mean every consume wakes the writer.
	WriteThreshold int `json:"write_threshold,omitempty" yaml:"write_threshold,omitempty"`
	// Options carries backend specific settings (arena mode, transfer
	// direction, network subject).
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option returns a backend option or def.
func (p *Properties) Option(key, def string) string {
	if p == nil || p.Options == nil {
		return def
	}
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// BackendName returns p.Backend or def when unset.
func (p *Properties) BackendName(def string) string {
	if p == nil || p.Backend == "" {
		return def
	}
	return p.Backend
}

// Spec is what the buffer manager asks a factory to build.
type Spec struct {
	// Name identifies the buffer in logs and metrics ("src:out->dst:in").
	Name     string
	ItemSize int
	// Capacity in items, already rounded to the factory granularity.
	Capacity int
	// HistoryPad is the number of zero items preceding offset 0, at least
	// the largest reader history minus one.
	HistoryPad int
	Props      *Properties
}

// Validate checks the invariants every factory relies on.
func (s Spec) Validate() error {
	switch {
	case s.ItemSize <= 0:
		return fmt.Errorf("item size %d must be positive", s.ItemSize)
	case s.Capacity <= 0:
		return fmt.Errorf("capacity %d must be positive", s.Capacity)
	case s.HistoryPad < 0 || s.HistoryPad >= s.Capacity:
		return fmt.Errorf("history pad %d does not fit capacity %d", s.HistoryPad, s.Capacity)
	}
	return nil
}

// Buffer is the writer side of a stream edge.
type Buffer interface {
	// Name returns the buffer name given at construction.
	Name() string
	// ItemSize returns the item size in bytes.
	ItemSize() int
	// Capacity returns the capacity in items.
	Capacity() int
	// Capabilities returns the backend capabilities.
	Capabilities() Capabilities

	// WriteRegion returns a contiguous writable span and its length in items.
	// The span never overlaps unconsumed reader data. A zero count means
	// fewer than minItems (at least one) items are free, or the buffer is
	// closed.
	WriteRegion(minItems int) ([]byte, int)
	// CommitWrite publishes n items of the last write region. n larger than
	// the exposed count is a work contract violation.
	CommitWrite(n int) error
	// ItemsWritten returns the absolute write offset.
	ItemsWritten() uint64
	// AddTag attaches t to the stream. t.Offset is absolute.
	AddTag(t tag.Tag)

	// AddReader attaches a new reader with the given history (>= 1).
	AddReader(history int) (Reader, error)

	// SetDone marks the end of the stream. Readers drain what remains.
	SetDone()
	// Done reports whether SetDone was called.
	Done() bool
	// ReadersDone reports whether every reader detached, so further output
	// would never be consumed.
	ReadersDone() bool

	// OnWrite registers a callback fired after commits that make data
	// available to readers, and on SetDone or Close.
	OnWrite(fn func())
	// OnRead registers a callback fired after reader commits that free
	// space, and when readers detach or the buffer closes.
	OnRead(fn func())

	// Stats returns a snapshot of cursor positions.
	Stats() Stats

	// Close wakes every waiter and makes all regions empty. Memory stays
	// mapped until Release.
	Close() error
	// Release frees the backing memory. Only call once no goroutine can
	// still hold a region.
	Release() error
}

// Reader is one consumer's view of a Buffer.
type Reader interface {
	// History returns the look-back length (1 means no look-back).
	History() int
	// ReadRegion returns a contiguous span holding History()-1 look-back
	// items followed by the available items, and the available count. With
	// fewer than minItems available it returns an empty span and zero.
	ReadRegion(minItems int) ([]byte, int)
	// CommitRead consumes n items. n larger than the exposed count is a work
	// contract violation.
	CommitRead(n int) error
	// ItemsRead returns the absolute read offset.
	ItemsRead() uint64
	// Available returns the number of unread items.
	Available() int
	// Tags returns tags with low <= offset < high.
	Tags(low, high uint64) []tag.Tag
	// WriterDone reports that no further items will arrive at this reader.
	WriterDone() bool
	// Exhausted reports that the writer is done and nothing is left to read.
	Exhausted() bool
	// Detach removes the reader. Its cursor no longer limits the writer.
	Detach()
	// Buffer returns the buffer this reader belongs to.
	Buffer() Buffer
}

// Stats is a point-in-time view of a buffer.
type Stats struct {
	Name         string  `json:"name"`
	ItemSize     int     `json:"item_size"`
	Capacity     int     `json:"capacity"`
	ItemsWritten uint64  `json:"items_written"`
	SlowestRead  uint64  `json:"slowest_read"`
	Readers      int     `json:"readers"`
	Occupancy    float64 `json:"occupancy"`
	Done         bool    `json:"done"`
	Closed       bool    `json:"closed"`
}
