package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/errors"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithCircuitBreakerThreshold(0),
		WithClientName("streamrt"),
	)
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, int32(5), c.circuitThreshold)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.Backoff())

	_, err = NewClient("nats://x", WithTimeout(0))
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = c.Publish(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	_, err = c.Subscribe(ctx, "a", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Flush(ctx), ErrNotConnected)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithCircuitBreakerThreshold(2),
		WithMaxReconnects(0),
		WithTimeout(100*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, c.Connect(ctx))
	err = c.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())

	err = c.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen, "open circuit short-circuits attempts")
	assert.Equal(t, int32(2), c.GetStatus().FailureCount)
}
