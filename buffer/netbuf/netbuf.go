package netbuf

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/tag"
)

// Capabilities of network edges.
const Capabilities = buffer.CrossScheduler | buffer.CrossProcess

// Factory builds network buffers whose both halves live in this process and
// talk through the transport. Use NewSender and NewReceiver directly to split
// an edge across processes.
type Factory struct {
	transport Transport
	opts      []Option
	prefix    string
	logger    *slog.Logger
}

// NewFactory returns a factory publishing on transport.
func NewFactory(transport Transport, opts ...Option) *Factory {
	o := applyOptions(opts)
	return &Factory{transport: transport, opts: opts, prefix: o.prefix, logger: o.logger}
}

// Register adds a network factory over transport to reg.
func Register(reg *buffer.Registry, transport Transport, opts ...Option) error {
	return reg.Register(Backend, NewFactory(transport, opts...))
}

// Make implements buffer.Factory. The edge subject is the "subject" option
// or the factory prefix followed by a fresh uuid.
func (f *Factory) Make(spec buffer.Spec) (buffer.Buffer, error) {
	if f.transport == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Factory", "Make", "build network buffer "+spec.Name)
	}
	prefix := spec.Props.Option(SubjectOption, f.prefix+"."+uuid.NewString())
	ctx := context.Background()

	recv, err := NewReceiver(ctx, spec, f.transport, prefix, f.opts...)
	if err != nil {
		return nil, err
	}
	send, err := NewSender(ctx, spec, f.transport, prefix, f.opts...)
	if err != nil {
		_ = recv.Release()
		return nil, err
	}
	if fl, ok := f.transport.(flusher); ok {
		if err := fl.Flush(ctx); err != nil {
			f.logger.Warn("Transport flush failed after subscribing", "buffer", spec.Name, "error", err)
		}
	}

	return &netBuffer{spec: spec, send: send, recv: recv}, nil
}

// Granularity implements buffer.Factory.
func (*Factory) Granularity(int, *buffer.Properties) int { return 1 }

// Capabilities implements buffer.Factory.
func (*Factory) Capabilities(*buffer.Properties) buffer.Capabilities { return Capabilities }

// netBuffer joins a Sender and a Receiver into one buffer.Buffer.
type netBuffer struct {
	spec buffer.Spec
	send *Sender
	recv *Receiver
}

func (b *netBuffer) Name() string { return b.spec.Name }
func (b *netBuffer) ItemSize() int { return b.spec.ItemSize }
func (b *netBuffer) Capacity() int { return b.spec.Capacity }
func (b *netBuffer) Capabilities() buffer.Capabilities { return Capabilities }
func (b *netBuffer) WriteRegion(minItems int) ([]byte, int) { return b.send.WriteRegion(minItems) }
func (b *netBuffer) CommitWrite(n int) error { return b.send.CommitWrite(n) }
func (b *netBuffer) ItemsWritten() uint64 { return b.send.ItemsWritten() }
func (b *netBuffer) AddTag(t tag.Tag) { b.send.AddTag(t) }
func (b *netBuffer) SetDone() { b.send.SetDone() }
func (b *netBuffer) Done() bool { return b.send.Done() }
func (b *netBuffer) ReadersDone() bool { return b.send.ReadersDone() }
func (b *netBuffer) OnWrite(fn func()) { b.recv.ring.OnWrite(fn) }
func (b *netBuffer) OnRead(fn func()) { b.send.OnRead(fn) }
func (b *netBuffer) AddReader(h int) (buffer.Reader, error) { return b.recv.AddReader(h, b) }

func (b *netBuffer) Stats() buffer.Stats {
	rs := b.recv.ring.Stats()
	written, acked := b.send.ItemsWritten(), b.send.Acked()
	return buffer.Stats{
		Name:         b.spec.Name,
		ItemSize:     b.spec.ItemSize,
		Capacity:     b.spec.Capacity,
		ItemsWritten: written,
		SlowestRead:  acked,
		Readers:      rs.Readers,
		Occupancy:    float64(written-acked) / float64(b.spec.Capacity),
		Done:         b.send.Done(),
		Closed:       rs.Closed,
	}
}

func (b *netBuffer) Close() error {
	err := b.send.Close()
	if rerr := b.recv.Close(); err == nil {
		err = rerr
	}
	return err
}

func (b *netBuffer) Release() error {
	_ = b.Close()
	return b.recv.Release()
}
