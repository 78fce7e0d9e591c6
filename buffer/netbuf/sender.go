package netbuf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/pkg/retry"
	"github.com/c360/streamrt/tag"
)

// Sender is the writer half of a network edge. It exposes at most Capacity
// unacknowledged items; acks published by the Receiver return credit.
type Sender struct {
	name      string
	itemSize  int
	capItems  int
	transport Transport
	subject   string
	logger    *slog.Logger
	retry     retry.Config

	ctx    context.Context
	cancel context.CancelFunc

	staging []byte
	exposed int
	staged  int
	seq     uint64

	written     atomic.Uint64
	acked       atomic.Uint64
	readersDone atomic.Bool
	done        atomic.Bool
	closed      atomic.Bool

	tagMu sync.Mutex
	tags  []tag.Tag

	cbMu   sync.Mutex
	onRead []func()

	unsubscribe func() error
}

// NewSender subscribes to the ack subject under prefix and returns the
// writer half of the edge described by spec.
func NewSender(ctx context.Context, spec buffer.Spec, transport Transport, prefix string, opts ...Option) (*Sender, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Sender", "New", "validate spec for "+spec.Name)
	}
	o := applyOptions(opts)

	s := &Sender{
		name:      spec.Name,
		itemSize:  spec.ItemSize,
		capItems:  spec.Capacity,
		transport: transport,
		subject:   dataSubject(prefix),
		logger:    o.logger.With("buffer", spec.Name, "subject", prefix),
		retry:     o.retry,
		staging:   make([]byte, spec.Capacity*spec.ItemSize),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	unsub, err := transport.Subscribe(s.ctx, ackSubject(prefix), s.handleAck)
	if err != nil {
		s.cancel()
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBufferAllocation, err),
			"Sender", "New", "subscribe to acks of "+spec.Name)
	}
	s.unsubscribe = unsub
	return s, nil
}

func (s *Sender) credit() int {
	if s.readersDone.Load() {
		return s.capItems
	}
	return s.capItems - int(s.written.Load()-s.acked.Load())
}

// WriteRegion returns a staging region sized to the current credit, or
// nothing when the credit is below minItems.
func (s *Sender) WriteRegion(minItems int) ([]byte, int) {
	s.staged = 0
	if s.closed.Load() {
		s.exposed = 0
		return nil, 0
	}
	n := s.credit()
	if n <= 0 || n < minItems {
		s.exposed = 0
		return nil, 0
	}
	s.exposed = n
	return s.staging[:n*s.itemSize], n
}

// CommitWrite publishes n staged items as one frame.
func (s *Sender) CommitWrite(n int) error {
	if n < 0 || n > s.exposed {
		return errors.WrapFatal(
			fmt.Errorf("%w: committed %d items, %d exposed", errors.ErrWorkContractViolation, n, s.exposed),
			"Sender", "CommitWrite", "commit write on "+s.name)
	}
	if n == 0 {
		return nil
	}

	size := n * s.itemSize
	off := s.written.Load()
	// Advance before publishing so an ack racing the publish is never
	// ahead of the write cursor.
	s.written.Store(off + uint64(n))
	if !s.readersDone.Load() {
		f := &Frame{Offset: off, Items: s.staging[s.staged : s.staged+size]}
		if err := s.send(f, off+uint64(n)); err != nil {
			s.written.Store(off)
			return err
		}
	}

	s.staged += size
	s.exposed -= n
	return nil
}

// send stamps the sequence number, attaches tags below upTo and publishes.
func (s *Sender) send(f *Frame, upTo uint64) error {
	wire, err := encodeTags(s.takeTags(upTo, f.EOF))
	if err != nil {
		return errors.WrapInvalid(err, "Sender", "send", "encode tags for "+s.name)
	}
	f.Seq = s.seq
	f.Tags = wire

	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	err = retry.Do(s.ctx, s.retry, func() error {
		return s.transport.Publish(s.ctx, s.subject, data)
	})
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"Sender", "send", fmt.Sprintf("publish frame %d of %s", f.Seq, s.name))
	}
	s.seq++
	return nil
}

func (s *Sender) takeTags(upTo uint64, all bool) []tag.Tag {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()

	i := 0
	for i < len(s.tags) && (all || s.tags[i].Offset < upTo) {
		i++
	}
	out := s.tags[:i:i]
	s.tags = s.tags[i:]
	return out
}

// AddTag queues t until the frame covering its offset is sent.
func (s *Sender) AddTag(t tag.Tag) {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	at := len(s.tags)
	for at > 0 && s.tags[at-1].Offset > t.Offset {
		at--
	}
	s.tags = append(s.tags, tag.Tag{})
	copy(s.tags[at+1:], s.tags[at:])
	s.tags[at] = t
}

// ItemsWritten returns the number of committed items.
func (s *Sender) ItemsWritten() uint64 { return s.written.Load() }

// Acked returns the receiver's last reported read offset.
func (s *Sender) Acked() uint64 { return s.acked.Load() }

// SetDone publishes the end of stream frame.
func (s *Sender) SetDone() {
	if !s.done.CompareAndSwap(false, true) || s.closed.Load() {
		return
	}
	if err := s.send(&Frame{Offset: s.written.Load(), EOF: true}, 0); err != nil {
		s.logger.Error("Failed to publish end of stream", "error", err)
	}
}

// Done reports whether SetDone was called.
func (s *Sender) Done() bool { return s.done.Load() }

// ReadersDone reports whether the receiver said all its readers detached.
func (s *Sender) ReadersDone() bool { return s.readersDone.Load() }

// OnRead registers a callback fired when credit returns.
func (s *Sender) OnRead(fn func()) {
	if fn == nil {
		return
	}
	s.cbMu.Lock()
	s.onRead = append(s.onRead, fn)
	s.cbMu.Unlock()
}

func (s *Sender) fireRead() {
	s.cbMu.Lock()
	fns := s.onRead
	s.cbMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Sender) handleAck(_ context.Context, data []byte) {
	a, err := decodeAck(data)
	if err != nil {
		s.logger.Warn("Dropping malformed ack", "error", err)
		return
	}
	if written := s.written.Load(); a.Consumed > written {
		a.Consumed = written
	}
	for {
		cur := s.acked.Load()
		if a.Consumed <= cur || s.acked.CompareAndSwap(cur, a.Consumed) {
			break
		}
	}
	if a.ReadersDone {
		s.readersDone.Store(true)
	}
	s.fireRead()
}

// Close stops publishing and drops the ack subscription.
func (s *Sender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.fireRead()
	if s.unsubscribe != nil {
		return s.unsubscribe()
	}
	return nil
}
