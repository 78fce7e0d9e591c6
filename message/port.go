package message

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/metric"
	"github.com/c360/streamrt/pkg/queue"
)

// Handler processes one delivered message. Errors are reported by the
// scheduler as block runtime errors.
type Handler func(ctx context.Context, msg Value) error

// InPort is a named input message port. Post may be called from any
// goroutine; Deliver is called only by the scheduler that owns the block.
type InPort struct {
	owner   string
	name    string
	handler Handler
	q       *queue.Queue[Value]

	notify  atomic.Pointer[func()]
	metrics atomic.Pointer[metric.Metrics]
	logger  *slog.Logger
}

// InPortOption configures an InPort.
type InPortOption func(*InPort)

// WithPortLogger sets the logger used to report dropped messages.
func WithPortLogger(logger *slog.Logger) InPortOption {
	return func(p *InPort) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewInPort creates an input port owned by the block named owner. With a
// positive maxMessages the queue is bounded and drops the oldest message when
// full; otherwise it grows and never drops.
func NewInPort(owner, name string, maxMessages int, handler Handler, opts ...InPortOption) (*InPort, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil handler for port %s", name),
			"InPort", "New", "create message port")
	}

	p := &InPort{
		owner:   owner,
		name:    name,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	q, err := queue.New(maxMessages,
		queue.WithOverflowPolicy[Value](queue.DropOldest),
		queue.WithDropCallback(p.onDrop),
		queue.WithNotify[Value](p.onPost),
	)
	if err != nil {
		return nil, errors.Wrap(err, "InPort", "New", "create message queue")
	}
	p.q = q
	return p, nil
}

// Name returns the port name.
func (p *InPort) Name() string { return p.name }

// Owner returns the name of the owning block.
func (p *InPort) Owner() string { return p.owner }

// SetNotify installs the callback fired after every accepted Post. The
// scheduler uses it to wake the owning block.
func (p *InPort) SetNotify(fn func()) {
	if fn == nil {
		p.notify.Store(nil)
		return
	}
	p.notify.Store(&fn)
}

// SetMetrics attaches engine metrics. nil detaches.
func (p *InPort) SetMetrics(m *metric.Metrics) {
	p.metrics.Store(m)
}

// Post enqueues msg without blocking.
func (p *InPort) Post(msg Value) error {
	if msg == nil {
		msg = Nil{}
	}
	if _, err := p.q.Push(msg); err != nil {
		return errors.Wrap(err, "InPort", "Post", "enqueue message on "+p.owner+"."+p.name)
	}
	p.metrics.Load().RecordMessagePosted(p.owner, p.name)
	return nil
}

// Pending returns the number of undelivered messages.
func (p *InPort) Pending() int {
	return p.q.Len()
}

// Dropped returns the number of messages discarded by the queue limit.
func (p *InPort) Dropped() int64 {
	return p.q.Stats().Drops()
}

// Deliver hands up to max pending messages (all pending at the call if
// max <= 0) to the handler in FIFO order. It stops at the first handler error
// and returns the number of messages delivered before it; messages behind the
// failing one stay queued.
func (p *InPort) Deliver(ctx context.Context, max int) (int, error) {
	n := p.q.Len()
	if max > 0 {
		n = min(n, max)
	}
	m := p.metrics.Load()
	for i := 0; i < n; i++ {
		msg, ok := p.q.Pop()
		if !ok {
			return i, nil
		}
		if err := p.handler(ctx, msg); err != nil {
			return i, err
		}
		m.RecordMessageDelivered(p.owner, p.name)
	}
	return n, nil
}

// Close rejects further posts.
func (p *InPort) Close() error {
	return p.q.Close()
}

func (p *InPort) onPost() {
	if fn := p.notify.Load(); fn != nil {
		(*fn)()
	}
}

func (p *InPort) onDrop(msg Value) {
	p.metrics.Load().RecordMessageDropped(p.owner, p.name)
	p.logger.Warn("message queue full, dropping oldest",
		"block", p.owner, "port", p.name, "message_kind", msg.Kind().String())
}

// OutPort is a named output message port fanning out to subscribed inputs.
type OutPort struct {
	owner string
	name  string

	mu   sync.RWMutex
	subs []*InPort
}

// NewOutPort creates an output port owned by the block named owner.
func NewOutPort(owner, name string) *OutPort {
	return &OutPort{owner: owner, name: name}
}

// Name returns the port name.
func (o *OutPort) Name() string { return o.name }

// Subscribe connects in. Subscribing the same port twice is a no-op.
func (o *OutPort) Subscribe(in *InPort) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.subs {
		if s == in {
			return
		}
	}
	o.subs = append(o.subs, in)
}

// Unsubscribe disconnects in.
func (o *OutPort) Unsubscribe(in *InPort) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s == in {
			o.subs = append(o.subs[:i], o.subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscriber.
func (o *OutPort) UnsubscribeAll() {
	o.mu.Lock()
	o.subs = nil
	o.mu.Unlock()
}

// Subscribers returns the number of connected inputs.
func (o *OutPort) Subscribers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

// Publish posts msg to every subscriber. Closed subscribers are skipped; the
// first post error is returned after all subscribers were attempted.
func (o *OutPort) Publish(msg Value) error {
	o.mu.RLock()
	subs := append([]*InPort(nil), o.subs...)
	o.mu.RUnlock()

	var first error
	for _, in := range subs {
		if err := in.Post(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
