package block

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/tag"
)

// Option configures a Base.
type Option func(*baseOptions)

type baseOptions struct {
	settings Settings
	alloc    graph.IDAllocator
	logger   *slog.Logger
}

// WithHistory sets the look-back of every input. One means none.
func WithHistory(n int) Option {
	return func(o *baseOptions) { o.settings.History = n }
}

// WithRate declares a fixed interpolation/decimation relation.
func WithRate(interp, decim int) Option {
	return func(o *baseOptions) {
		o.settings.Interpolation = interp
		o.settings.Decimation = decim
	}
}

// WithGeneralRate drops the fixed-rate relation. The block must implement
// Forecaster or tolerate being asked for any amount.
func WithGeneralRate() Option {
	return func(o *baseOptions) {
		o.settings.Interpolation = 0
		o.settings.Decimation = 0
	}
}

// WithOutputMultiple forces produced counts to multiples of n.
func WithOutputMultiple(n int) Option {
	return func(o *baseOptions) { o.settings.OutputMultiple = n }
}

// WithNOutputRange bounds one call's output request. max 0 means unbounded.
func WithNOutputRange(minItems, maxItems int) Option {
	return func(o *baseOptions) {
		o.settings.MinNOutput = minItems
		o.settings.MaxNOutput = maxItems
	}
}

// WithTagPolicy selects tag propagation.
func WithTagPolicy(p tag.Policy) Option {
	return func(o *baseOptions) { o.settings.TagPolicy = p }
}

// WithMaxMessages bounds every input message queue. Past n pending messages
// the oldest is dropped.
func WithMaxMessages(n int) Option {
	return func(o *baseOptions) { o.settings.MaxMessages = n }
}

// WithIDAllocator overrides graph.DefaultIDs.
func WithIDAllocator(alloc graph.IDAllocator) Option {
	return func(o *baseOptions) { o.alloc = alloc }
}

// WithLogger sets the block logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *baseOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Base implements everything of Block except a useful Work. Embed it by
// value and call NewBase from the constructor.
type Base struct {
	graph.Base

	settings Settings
	logger   *slog.Logger
	handlers map[string]message.Handler
	msgIn    []*message.InPort
	msgOut   []*message.OutPort
}

// NewBase declares a block's ports and settings and creates one message
// queue per message input.
func NewBase(name string, inputs, outputs []graph.Port, opts ...Option) (Base, error) {
	o := baseOptions{settings: DefaultSettings(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	b := Base{
		Base:     graph.NewBase(name, inputs, outputs, o.alloc),
		settings: o.settings.normalized(),
		logger:   o.logger.With("block", name),
		handlers: make(map[string]message.Handler),
	}

	if b.settings.TagPolicy == tag.OneToOne {
		nin := len(graph.StreamPorts(&b.Base, graph.DirectionInput))
		nout := len(graph.StreamPorts(&b.Base, graph.DirectionOutput))
		if nin != nout {
			return Base{}, errors.WrapInvalid(
				fmt.Errorf("one-to-one tag policy needs equal stream counts, have %d in and %d out", nin, nout),
				"Block", "NewBase", "validate tag policy")
		}
		s := b.settings
		if !s.FixedRate() || s.Interpolation != s.Decimation {
			return Base{}, errors.WrapInvalid(
				fmt.Errorf("one-to-one tag policy needs a 1:1 rate, have %d:%d", s.Interpolation, s.Decimation),
				"Block", "NewBase", "validate tag policy")
		}
	}

	handlers := b.handlers
	for _, p := range b.Inputs() {
		if p.Kind != graph.KindMessage {
			continue
		}
		port := p.Name
		in, err := message.NewInPort(name, port, b.settings.MaxMessages,
			func(ctx context.Context, msg message.Value) error {
				if h := handlers[port]; h != nil {
					return h(ctx, msg)
				}
				return nil
			},
			message.WithPortLogger(o.logger))
		if err != nil {
			return Base{}, errors.Wrap(err, "Block", "NewBase", "create message port "+port)
		}
		b.msgIn = append(b.msgIn, in)
	}
	for _, p := range b.Outputs() {
		if p.Kind == graph.KindMessage {
			b.msgOut = append(b.msgOut, message.NewOutPort(name, p.Name))
		}
	}
	return b, nil
}

// Settings implements Block.
func (b *Base) Settings() Settings { return b.settings }

// MessageInputs implements Block.
func (b *Base) MessageInputs() []*message.InPort { return b.msgIn }

// MessageOutputs implements Block.
func (b *Base) MessageOutputs() []*message.OutPort { return b.msgOut }

// Logger returns the block logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Work reports that the block has no stream work. Stream blocks override it.
func (b *Base) Work(context.Context, *WorkIO) (WorkStatus, error) {
	return StatusMessageOnly, nil
}

// Handle installs the handler of the message input called port. Messages
// arriving before a handler is set are discarded. Call it before the
// runtime starts.
func (b *Base) Handle(port string, h message.Handler) error {
	for _, in := range b.msgIn {
		if in.Name() == port {
			b.handlers[port] = h
			return nil
		}
	}
	return errors.WrapInvalid(fmt.Errorf("%w: message input %q on %s", errors.ErrUnknownPort, port, b.Name()),
		"Block", "Handle", "install message handler")
}

// Publish sends msg on the message output called port.
func (b *Base) Publish(port string, msg message.Value) error {
	for _, out := range b.msgOut {
		if out.Name() == port {
			return out.Publish(msg)
		}
	}
	return errors.WrapInvalid(fmt.Errorf("%w: message output %q on %s", errors.ErrUnknownPort, port, b.Name()),
		"Block", "Publish", "publish message")
}
