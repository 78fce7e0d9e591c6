package blocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/streamrt/block"
	"github.com/c360/streamrt/graph"
	"github.com/c360/streamrt/message"
)

// Forward republishes every message from "in" on "out".
type Forward struct {
	block.Base
	seen atomic.Int64
}

// NewForward returns a forwarder.
func NewForward(name string, opts ...block.Option) (*Forward, error) {
	base, err := block.NewBase(name,
		[]graph.Port{graph.MessageIn("in")},
		[]graph.Port{graph.MessageOut("out")}, opts...)
	if err != nil {
		return nil, err
	}
	f := &Forward{Base: base}
	if err := f.Handle("in", f.handle); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Forward) handle(_ context.Context, msg message.Value) error {
	f.seen.Add(1)
	return f.Publish("out", msg)
}

// Forwarded returns the number of messages forwarded.
func (f *Forward) Forwarded() int64 { return f.seen.Load() }

// Counter counts and records the messages it receives.
type Counter struct {
	block.Base

	mu   sync.Mutex
	msgs []message.Value
}

// NewCounter returns a counting message sink.
func NewCounter(name string, opts ...block.Option) (*Counter, error) {
	base, err := block.NewBase(name, []graph.Port{graph.MessageIn("in")}, nil, opts...)
	if err != nil {
		return nil, err
	}
	c := &Counter{Base: base}
	if err := c.Handle("in", c.handle); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Counter) handle(_ context.Context, msg message.Value) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

// Count returns the number of messages received.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// Messages returns the received messages in arrival order.
func (c *Counter) Messages() []message.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Value(nil), c.msgs...)
}

// Strobe publishes the same message on "strobe" every period while the
// runtime runs. Posting to "set_msg" replaces the message.
type Strobe struct {
	block.Base

	period time.Duration
	msg    atomic.Pointer[message.Value]
	sent   atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStrobe returns a strobe sending msg every period.
func NewStrobe(name string, msg message.Value, period time.Duration, opts ...block.Option) (*Strobe, error) {
	base, err := block.NewBase(name,
		[]graph.Port{graph.MessageIn("set_msg")},
		[]graph.Port{graph.MessageOut("strobe")}, opts...)
	if err != nil {
		return nil, err
	}
	s := &Strobe{Base: base, period: period}
	s.msg.Store(&msg)
	if err := s.Handle("set_msg", s.handleSet); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Strobe) handleSet(_ context.Context, msg message.Value) error {
	s.msg.Store(&msg)
	return nil
}

// Start implements block.Starter.
func (s *Strobe) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *Strobe) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Publish("strobe", *s.msg.Load()); err != nil {
				s.Logger().Warn("strobe publish failed", "error", err)
				continue
			}
			s.sent.Add(1)
		}
	}
}

// Stop implements block.Stopper.
func (s *Strobe) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	return nil
}

// Sent returns the number of messages published.
func (s *Strobe) Sent() int64 { return s.sent.Load() }
