package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/tag"
)

// Ring is the circular buffer core shared by the backends: cursor
// arithmetic, reader bookkeeping, tags, done flags and wakeups over a
// vmcirc.Memory arena. Backends that move bytes elsewhere (device, network)
// wrap a Ring and decorate its regions.
//
// Cursors are physical item counts. The first pad items are the zero
// history prefix; logical offsets (tags, ItemsWritten, ItemsRead) subtract
// pad.
type Ring struct {
	name     string
	itemSize int
	capItems int
	caps     Capabilities
	mem      vmcirc.Memory
	pad      uint64

	w        atomic.Uint64
	exposedW int
	pendingW int

	mu         sync.Mutex
	readers    atomic.Pointer[[]*ringReader]
	hadReaders atomic.Bool
	pendingR   atomic.Int64

	readThreshold  int
	writeThreshold int64

	tags *tag.Store

	done     atomic.Bool
	closed   atomic.Bool
	released sync.Once

	onWrite atomic.Pointer[[]func()]
	onRead  atomic.Pointer[[]func()]
}

// NewRing builds a ring over mem. mem.Size() must equal
// spec.Capacity*spec.ItemSize.
func NewRing(spec Spec, mem vmcirc.Memory, caps Capabilities) (*Ring, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Ring", "New", "validate spec for "+spec.Name)
	}
	if mem.Size() != spec.Capacity*spec.ItemSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("arena of %d bytes for %d items of %d bytes", mem.Size(), spec.Capacity, spec.ItemSize),
			"Ring", "New", "size arena for "+spec.Name)
	}

	r := &Ring{
		name:     spec.Name,
		itemSize: spec.ItemSize,
		capItems: spec.Capacity,
		caps:     caps,
		mem:      mem,
		pad:      uint64(spec.HistoryPad),
		tags:     tag.NewStore(),
	}
	if spec.Props != nil {
		r.readThreshold = spec.Props.ReadThreshold
		r.writeThreshold = int64(spec.Props.WriteThreshold)
	}
	r.w.Store(r.pad)
	r.readers.Store(&[]*ringReader{})
	return r, nil
}

// Name implements Buffer.
func (r *Ring) Name() string { return r.name }

// ItemSize implements Buffer.
func (r *Ring) ItemSize() int { return r.itemSize }

// Capacity implements Buffer.
func (r *Ring) Capacity() int { return r.capItems }

// Capabilities implements Buffer.
func (r *Ring) Capabilities() Capabilities { return r.caps }

// Memory returns the backing arena.
func (r *Ring) Memory() vmcirc.Memory { return r.mem }

// space returns the physical write cursor and the writable item count.
func (r *Ring) space() (uint64, int) {
	w := r.w.Load()
	lowest := w
	for _, rd := range *r.readers.Load() {
		if s := rd.r.Load() - (rd.hist - 1); s < lowest {
			lowest = s
		}
	}
	return w, r.capItems - int(w-lowest)
}

func (r *Ring) byteOffset(cursor uint64) int {
	return int(cursor%uint64(r.capItems)) * r.itemSize
}

// WriteRegion implements Buffer.
func (r *Ring) WriteRegion(minItems int) ([]byte, int) {
	if r.closed.Load() {
		r.exposedW = 0
		return nil, 0
	}
	w, n := r.space()
	if n <= 0 || n < minItems {
		r.exposedW = 0
		return nil, 0
	}
	r.exposedW = n
	off := r.byteOffset(w)
	return r.mem.Bytes()[off : off+n*r.itemSize], n
}

// CommitWrite implements Buffer.
func (r *Ring) CommitWrite(n int) error {
	if n < 0 || n > r.exposedW {
		return errors.WrapFatal(
			fmt.Errorf("%w: committed %d items, %d exposed", errors.ErrWorkContractViolation, n, r.exposedW),
			"Ring", "CommitWrite", "commit write on "+r.name)
	}
	if n == 0 {
		return nil
	}

	w := r.w.Load()
	r.mem.Commit(r.byteOffset(w), n*r.itemSize)
	r.w.Store(w + uint64(n))
	r.exposedW -= n

	r.pendingW += n
	if r.pendingW >= r.readThreshold {
		r.pendingW = 0
		fire(&r.onWrite)
	}
	return nil
}

// ItemsWritten implements Buffer.
func (r *Ring) ItemsWritten() uint64 {
	return r.w.Load() - r.pad
}

// AddTag implements Buffer.
func (r *Ring) AddTag(t tag.Tag) {
	r.tags.Add(t)
}

// AddReader implements Buffer. Readers must be attached before the writer
// commits anything.
func (r *Ring) AddReader(history int) (Reader, error) {
	if history < 1 {
		history = 1
	}
	if history > r.capItems {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: history %d exceeds capacity %d", errors.ErrBufferAllocation, history, r.capItems),
			"Ring", "AddReader", "attach reader to "+r.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h := uint64(history)
	if h-1 > r.pad {
		if r.w.Load() != r.pad {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: history %d needs a larger prefix after writes started", errors.ErrInvalidState, history),
				"Ring", "AddReader", "attach reader to "+r.name)
		}
		r.pad = h - 1
		r.w.Store(r.pad)
		for _, rd := range *r.readers.Load() {
			rd.r.Store(r.pad)
		}
	}

	rd := &ringReader{ring: r, hist: h}
	rd.r.Store(r.w.Load())

	list := append(append([]*ringReader(nil), *r.readers.Load()...), rd)
	r.readers.Store(&list)
	r.hadReaders.Store(true)
	return rd, nil
}

func (r *Ring) detach(rd *ringReader) {
	r.mu.Lock()
	old := *r.readers.Load()
	list := make([]*ringReader, 0, len(old))
	for _, x := range old {
		if x != rd {
			list = append(list, x)
		}
	}
	r.readers.Store(&list)
	r.mu.Unlock()

	r.pruneTags()
	fire(&r.onRead)
}

// SlowestRead returns the smallest logical read offset of attached readers,
// or ItemsWritten when none are attached.
func (r *Ring) SlowestRead() uint64 {
	lowest := r.w.Load()
	for _, rd := range *r.readers.Load() {
		if c := rd.r.Load(); c < lowest {
			lowest = c
		}
	}
	return lowest - r.pad
}

func (r *Ring) pruneTags() {
	if r.tags.Len() > 0 {
		r.tags.Prune(r.SlowestRead())
	}
}

func (r *Ring) readerAdvanced(n int) {
	r.pruneTags()
	if r.pendingR.Add(int64(n)) >= r.writeThreshold {
		r.pendingR.Store(0)
		fire(&r.onRead)
	}
}

// SetDone implements Buffer.
func (r *Ring) SetDone() {
	if r.done.CompareAndSwap(false, true) {
		fire(&r.onWrite)
	}
}

// Done implements Buffer.
func (r *Ring) Done() bool { return r.done.Load() }

// ReadersDone implements Buffer.
func (r *Ring) ReadersDone() bool {
	return r.hadReaders.Load() && len(*r.readers.Load()) == 0
}

// OnWrite implements Buffer.
func (r *Ring) OnWrite(fn func()) { r.register(&r.onWrite, fn) }

// OnRead implements Buffer.
func (r *Ring) OnRead(fn func()) { r.register(&r.onRead, fn) }

func (r *Ring) register(list *atomic.Pointer[[]func()], fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var cur []func()
	if p := list.Load(); p != nil {
		cur = *p
	}
	next := append(append([]func(){}, cur...), fn)
	list.Store(&next)
}

func fire(list *atomic.Pointer[[]func()]) {
	if p := list.Load(); p != nil {
		for _, fn := range *p {
			fn()
		}
	}
}

// Stats implements Buffer.
func (r *Ring) Stats() Stats {
	written := r.ItemsWritten()
	slowest := r.SlowestRead()
	return Stats{
		Name:         r.name,
		ItemSize:     r.itemSize,
		Capacity:     r.capItems,
		ItemsWritten: written,
		SlowestRead:  slowest,
		Readers:      len(*r.readers.Load()),
		Occupancy:    float64(written-slowest) / float64(r.capItems),
		Done:         r.done.Load(),
		Closed:       r.closed.Load(),
	}
}

// Close implements Buffer.
func (r *Ring) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		fire(&r.onWrite)
		fire(&r.onRead)
	}
	return nil
}

// Release implements Buffer.
func (r *Ring) Release() error {
	_ = r.Close()
	var err error
	r.released.Do(func() {
		err = r.mem.Close()
	})
	return err
}

type ringReader struct {
	ring     *Ring
	hist     uint64
	r        atomic.Uint64
	exposed  int
	detached atomic.Bool
}

func (rd *ringReader) History() int { return int(rd.hist) }

func (rd *ringReader) ReadRegion(minItems int) ([]byte, int) {
	ring := rd.ring
	if ring.closed.Load() || rd.detached.Load() {
		rd.exposed = 0
		return nil, 0
	}
	cur := rd.r.Load()
	avail := int(ring.w.Load() - cur)
	if avail < minItems {
		rd.exposed = 0
		return nil, 0
	}
	rd.exposed = avail

	off := ring.byteOffset(cur - (rd.hist - 1))
	length := (int(rd.hist-1) + avail) * ring.itemSize
	return ring.mem.Bytes()[off : off+length], avail
}

func (rd *ringReader) CommitRead(n int) error {
	if n < 0 || n > rd.exposed {
		return errors.WrapFatal(
			fmt.Errorf("%w: consumed %d items, %d exposed", errors.ErrWorkContractViolation, n, rd.exposed),
			"Ring", "CommitRead", "commit read on "+rd.ring.name)
	}
	if n == 0 {
		return nil
	}
	rd.r.Add(uint64(n))
	rd.exposed -= n
	rd.ring.readerAdvanced(n)
	return nil
}

func (rd *ringReader) ItemsRead() uint64 {
	return rd.r.Load() - rd.ring.pad
}

func (rd *ringReader) Available() int {
	return int(rd.ring.w.Load() - rd.r.Load())
}

func (rd *ringReader) Tags(low, high uint64) []tag.Tag {
	return rd.ring.tags.InRange(low, high)
}

func (rd *ringReader) WriterDone() bool {
	return rd.ring.done.Load()
}

func (rd *ringReader) Exhausted() bool {
	return rd.ring.done.Load() && rd.Available() == 0
}

func (rd *ringReader) Detach() {
	if rd.detached.CompareAndSwap(false, true) {
		rd.ring.detach(rd)
	}
}

func (rd *ringReader) Buffer() Buffer { return rd.ring }
