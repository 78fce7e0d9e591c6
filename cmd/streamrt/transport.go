package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/c360/streamrt/buffer/netbuf"
	"github.com/c360/streamrt/buffer/netbuf/wstransport"
	"github.com/c360/streamrt/config"
	"github.com/c360/streamrt/natsclient"
)

const connectTimeout = 10 * time.Second

// openTransport connects the transport named in cfg. The returned closer is
// never nil.
func openTransport(ctx context.Context, cfg config.NetworkConfig, logger *slog.Logger) (netbuf.Transport, func(), error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return openNATS(ctx, cfg, logger)
	case config.TransportWebSocket:
		return openWebSocket(ctx, cfg, logger)
	default:
		return nil, func() {}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func openNATS(ctx context.Context, cfg config.NetworkConfig, logger *slog.Logger) (netbuf.Transport, func(), error) {
	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
		natsclient.WithClientName(appName),
		natsclient.WithLogger(logger),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, func() {}, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS")
	if err := client.Connect(ctx); err != nil {
		return nil, func() {}, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, func() {}, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return client, func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("Closing NATS client failed", "error", err)
		}
	}, nil
}

// loopback carries an in-process edge over a real WebSocket: everything is
// published on one end of the connection and delivered by the other, so
// frames and acks both cross the socket.
type loopback struct {
	pub *wstransport.Conn
	sub *wstransport.Conn
}

func (l loopback) Publish(ctx context.Context, subject string, data []byte) error {
	return l.pub.Publish(ctx, subject, data)
}

func (l loopback) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (func() error, error) {
	return l.sub.Subscribe(ctx, subject, handler)
}

// openWebSocket listens on the host of cfg.URL and dials itself.
func openWebSocket(ctx context.Context, cfg config.NetworkConfig, logger *slog.Logger) (netbuf.Transport, func(), error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("parse websocket url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, func() {}, fmt.Errorf("listen on %s: %w", u.Host, err)
	}

	accepted := make(chan *wstransport.Conn, 1)
	mux := http.NewServeMux()
	mux.Handle(path, wstransport.Handler(func(c *wstransport.Conn) {
		select {
		case accepted <- c:
		default:
			logger.Warn("Rejecting extra websocket peer")
			_ = c.Close()
		}
	}, wstransport.WithLogger(logger)))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket server failed", "error", err)
		}
	}()

	stopServer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	dialURL := *u
	dialURL.Host = ln.Addr().String()
	client, err := wstransport.Dial(ctx, dialURL.String(), wstransport.WithLogger(logger))
	if err != nil {
		stopServer()
		return nil, func() {}, err
	}

	var server *wstransport.Conn
	select {
	case server = <-accepted:
	case <-time.After(connectTimeout):
		_ = client.Close()
		stopServer()
		return nil, func() {}, fmt.Errorf("websocket peer never connected to %s", dialURL.String())
	}

	logger.Info("WebSocket loopback ready", "address", ln.Addr().String(), "path", path)
	return loopback{pub: client, sub: server}, func() {
		_ = client.Close()
		_ = server.Close()
		stopServer()
	}, nil
}
