package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockNATSClient is an in-memory NATS client for testing. It records every
// published message and fans each one out to the subscriptions of its
// subject. Thread-safe for concurrent use from multiple goroutines.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]*mockSubscription
	failures      int
	closed        bool
}

type mockSubscription struct {
	handler func(context.Context, []byte)
	ctx     context.Context

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]*mockSubscription),
	}
}

// FailPublishes makes the next n Publish calls return an error.
func (c *MockNATSClient) FailPublishes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

// Publish records data and queues it for every subscription of subject.
// It never blocks on handlers.
func (c *MockNATSClient) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return fmt.Errorf("publish to %s: connection unavailable", subject)
	}

	msg := append([]byte(nil), data...)
	c.messages[subject] = append(c.messages[subject], msg)
	subs := append([]*mockSubscription(nil), c.subscriptions[subject]...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(msg)
	}
	return nil
}

// Subscribe starts delivering messages of subject to handler in publish
// order. The returned function removes the subscription.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	sub := &mockSubscription{
		handler: handler,
		ctx:     ctx,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.subscriptions[subject] = append(c.subscriptions[subject], sub)
	go sub.run()

	return func() error {
		c.mu.Lock()
		list := c.subscriptions[subject]
		for i, s := range list {
			if s == sub {
				c.subscriptions[subject] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		sub.close()
		return nil
	}, nil
}

func (s *mockSubscription) enqueue(msg []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *mockSubscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case <-s.stop:
				return
			default:
			}
			s.handler(s.ctx, msg)
		}
	}
}

// close stops delivery. It does not wait when called from the handler
// goroutine itself.
func (s *mockSubscription) close() {
	s.once.Do(func() { close(s.stop) })
}

// GetMessages returns a copy of all messages published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// SubscriptionCount returns the number of live subscriptions on subject.
func (c *MockNATSClient) SubscriptionCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions[subject])
}

// Subjects returns every subject that saw a publish.
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.messages))
	for s := range c.messages {
		out = append(out, s)
	}
	return out
}

// ClearAll clears all recorded messages.
func (c *MockNATSClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][][]byte)
}

// Close stops every subscription and rejects further calls.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	var subs []*mockSubscription
	for _, list := range c.subscriptions {
		subs = append(subs, list...)
	}
	c.subscriptions = make(map[string][]*mockSubscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		<-sub.done
	}
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WaitForMessageCount waits until subject has at least count messages.
func WaitForMessageCount(t testing.TB, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return client.GetMessageCount(subject) >= count
	}, "%d messages on subject %s", count, subject)
}

// AssertNoMessages checks that nothing was published on subject.
func AssertNoMessages(t testing.TB, client *MockNATSClient, subject string) {
	t.Helper()
	if n := client.GetMessageCount(subject); n > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, n)
	}
}
