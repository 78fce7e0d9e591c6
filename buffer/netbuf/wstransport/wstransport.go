// Package wstransport is a point-to-point netbuf.Transport over a single
// WebSocket connection. Publishes go to the peer; the peer dispatches them to
// its own subscriptions. Use it to split one network edge between two
// processes: the Sender on one end, the Receiver on the other.
package wstransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/streamrt/errors"
)

type envelope struct {
	Subject string `msgpack:"s"`
	Data    []byte `msgpack:"d"`
}

type options struct {
	logger           *slog.Logger
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	pingInterval     time.Duration
	readLimit        int64
}

// Option configures a connection.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithPingInterval sets the keepalive interval; zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithReadLimit caps the size of one incoming frame.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

func applyOptions(opts []Option) options {
	o := options{
		logger:           slog.Default(),
		writeTimeout:     10 * time.Second,
		handshakeTimeout: 45 * time.Second,
		pingInterval:     30 * time.Second,
		readLimit:        64 << 20,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Conn is one end of a WebSocket transport.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	opts   options

	writeMu sync.Mutex

	mu     sync.RWMutex
	subs   map[string]map[uint64]func(context.Context, []byte)
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

func newConn(ws *websocket.Conn, o options) *Conn {
	c := &Conn{
		ws:     ws,
		logger: o.logger.With("remote", ws.RemoteAddr().String()),
		opts:   o,
		subs:   make(map[string]map[uint64]func(context.Context, []byte)),
		done:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	ws.SetReadLimit(o.readLimit)
	if o.pingInterval > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(2 * o.pingInterval))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * o.pingInterval))
		})
		go c.pingLoop()
	}
	go c.readLoop()
	return c
}

// Dial connects to a Handler at url ("ws://host:port/path").
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	o := applyOptions(opts)
	dialer := &websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrNoConnection, err),
			"wstransport", "Dial", "dial "+url)
	}
	return newConn(ws, o), nil
}

// Handler upgrades incoming requests and hands each new Conn to accept.
func Handler(accept func(*Conn), opts ...Option) http.Handler {
	o := applyOptions(opts)
	upgrader := websocket.Upgrader{
		HandshakeTimeout: o.handshakeTimeout,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  64 << 10,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			o.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		accept(newConn(ws, o))
	})
}

// Publish sends data to the peer's subscriptions of subject.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if c.closed.Load() {
		return errors.WrapTransient(errors.ErrConnectionLost, "Conn", "Publish", "publish to "+subject)
	}
	payload, err := msgpack.Marshal(&envelope{Subject: subject, Data: data})
	if err != nil {
		return errors.WrapInvalid(err, "Conn", "Publish", "encode envelope")
	}

	deadline := time.Now().Add(c.opts.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"Conn", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe registers handler for frames the peer publishes on subject.
// Handlers run on the connection's read goroutine in arrival order.
func (c *Conn) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (func() error, error) {
	if c.closed.Load() {
		return nil, errors.WrapTransient(errors.ErrConnectionLost, "Conn", "Subscribe", "subscribe to "+subject)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.subs[subject] == nil {
		c.subs[subject] = make(map[uint64]func(context.Context, []byte))
	}
	c.subs[subject][id] = func(_ context.Context, data []byte) {
		if ctx.Err() == nil {
			handler(ctx, data)
		}
	}
	c.mu.Unlock()

	return func() error {
		c.mu.Lock()
		delete(c.subs[subject], id)
		if len(c.subs[subject]) == 0 {
			delete(c.subs, subject)
		}
		c.mu.Unlock()
		return nil
	}, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer c.cancel()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Swap(true) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket transport read failed", "error", err)
			}
			return
		}

		var env envelope
		if err := msgpack.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Dropping malformed envelope", "error", err)
			continue
		}

		c.mu.RLock()
		handlers := make([]func(context.Context, []byte), 0, len(c.subs[env.Subject]))
		for _, h := range c.subs[env.Subject] {
			handlers = append(handlers, h)
		}
		c.mu.RUnlock()

		for _, h := range handlers {
			h(c.ctx, env.Data)
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Done is closed once the connection stopped reading.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close sends a close frame and waits for the read loop to exit.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		_ = c.ws.Close()
		<-c.done
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}
