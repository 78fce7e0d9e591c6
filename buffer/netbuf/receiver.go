package netbuf

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
)

// Receiver is the reader half of a network edge. Frames land in a host Ring
// sized Capacity+HistoryPad so a full window of credit always fits next to
// the readers' look-back.
type Receiver struct {
	ring      *buffer.Ring
	itemSize  int
	transport Transport
	subject   string
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// nextSeq is only touched by the subscription handler.
	nextSeq uint64
	broken  atomic.Bool
	closed  atomic.Bool

	unsubscribe func() error
}

// NewReceiver allocates the receive ring and subscribes to the data subject
// under prefix.
func NewReceiver(ctx context.Context, spec buffer.Spec, transport Transport, prefix string, opts ...Option) (*Receiver, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Receiver", "New", "validate spec for "+spec.Name)
	}
	o := applyOptions(opts)

	mode, err := vmcirc.ParseMode(spec.Props.Option(buffer.ArenaOption, ""))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Receiver", "New", "parse arena mode for "+spec.Name)
	}
	local := spec
	local.Capacity += spec.HistoryPad
	mem, err := vmcirc.New(local.Capacity*local.ItemSize, mode)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBufferAllocation, err),
			"Receiver", "New", "allocate receive ring for "+spec.Name)
	}
	ring, err := buffer.NewRing(local, mem, Capabilities)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}

	r := &Receiver{
		ring:      ring,
		itemSize:  spec.ItemSize,
		transport: transport,
		subject:   ackSubject(prefix),
		logger:    o.logger.With("buffer", spec.Name, "subject", prefix),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	unsub, err := transport.Subscribe(r.ctx, dataSubject(prefix), r.handleFrame)
	if err != nil {
		r.cancel()
		_ = ring.Release()
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBufferAllocation, err),
			"Receiver", "New", "subscribe to frames of "+spec.Name)
	}
	r.unsubscribe = unsub
	return r, nil
}

// Ring returns the local receive ring.
func (r *Receiver) Ring() *buffer.Ring { return r.ring }

func (r *Receiver) fail(err error) {
	if r.broken.CompareAndSwap(false, true) {
		r.logger.Error("Network edge failed, ending stream", "error", err)
		r.ring.SetDone()
	}
}

func (r *Receiver) handleFrame(_ context.Context, data []byte) {
	if r.closed.Load() || r.broken.Load() {
		return
	}
	f, err := decodeFrame(data)
	if err != nil {
		r.fail(err)
		return
	}
	if f.Seq != r.nextSeq {
		r.fail(fmt.Errorf("%w: frame %d, expected %d", errors.ErrDataCorrupted, f.Seq, r.nextSeq))
		return
	}
	r.nextSeq++

	tags, err := decodeTags(f.Tags)
	if err != nil {
		r.fail(err)
		return
	}
	for _, t := range tags {
		r.ring.AddTag(t)
	}

	if len(f.Items) > 0 {
		n := len(f.Items) / r.itemSize
		switch {
		case len(f.Items)%r.itemSize != 0:
			r.fail(fmt.Errorf("%w: %d bytes is not a whole number of items", errors.ErrDataCorrupted, len(f.Items)))
			return
		case f.Offset != r.ring.ItemsWritten():
			r.fail(fmt.Errorf("%w: frame at offset %d, ring at %d", errors.ErrDataCorrupted, f.Offset, r.ring.ItemsWritten()))
			return
		}
		region, avail := r.ring.WriteRegion(n)
		if avail < n {
			r.fail(fmt.Errorf("%w: frame of %d items exceeds %d free", errors.ErrDataCorrupted, n, avail))
			return
		}
		copy(region, f.Items)
		if err := r.ring.CommitWrite(n); err != nil {
			r.fail(err)
			return
		}
	}

	if f.EOF {
		r.ring.SetDone()
	}
}

// AddReader attaches a reader whose commits are acknowledged to the sender.
// owner is what the reader reports as its Buffer; nil means the ring.
func (r *Receiver) AddReader(history int, owner buffer.Buffer) (buffer.Reader, error) {
	rd, err := r.ring.AddReader(history)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		owner = r.ring
	}
	return &ackReader{Reader: rd, recv: r, owner: owner}, nil
}

func (r *Receiver) sendAck() {
	if r.closed.Load() {
		return
	}
	data, err := encodeAck(Ack{Consumed: r.ring.SlowestRead(), ReadersDone: r.ring.ReadersDone()})
	if err != nil {
		r.logger.Warn("Failed to encode ack", "error", err)
		return
	}
	if err := r.transport.Publish(r.ctx, r.subject, data); err != nil {
		r.logger.Warn("Failed to publish ack", "error", err)
	}
}

// Close unsubscribes and wakes the readers.
func (r *Receiver) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	var err error
	if r.unsubscribe != nil {
		err = r.unsubscribe()
	}
	_ = r.ring.Close()
	return err
}

// Release frees the receive ring.
func (r *Receiver) Release() error {
	_ = r.Close()
	return r.ring.Release()
}

type ackReader struct {
	buffer.Reader
	recv  *Receiver
	owner buffer.Buffer
}

func (rd *ackReader) CommitRead(n int) error {
	if err := rd.Reader.CommitRead(n); err != nil {
		return err
	}
	if n > 0 {
		rd.recv.sendAck()
	}
	return nil
}

func (rd *ackReader) Detach() {
	rd.Reader.Detach()
	rd.recv.sendAck()
}

func (rd *ackReader) Buffer() buffer.Buffer { return rd.owner }
