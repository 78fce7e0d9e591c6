package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockNATSClient_OrderedDelivery(t *testing.T) {
	client := NewMockNATSClient()
	defer client.Close()

	var mu sync.Mutex
	var got []byte
	unsub, err := client.Subscribe(context.Background(), "a", func(_ context.Context, data []byte) {
		mu.Lock()
		got = append(got, data[0])
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		require.NoError(t, client.Publish(context.Background(), "a", []byte{byte(i)}))
	}

	WaitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 200
	}, "200 deliveries")

	mu.Lock()
	for i, b := range got {
		assert.Equal(t, byte(i), b)
	}
	mu.Unlock()

	require.NoError(t, unsub())
	assert.Equal(t, 0, client.SubscriptionCount("a"))
	assert.Equal(t, 200, client.GetMessageCount("a"))
}

func TestMockNATSClient_PublishCopiesData(t *testing.T) {
	client := NewMockNATSClient()
	defer client.Close()

	data := []byte("abc")
	require.NoError(t, client.Publish(context.Background(), "s", data))
	data[0] = 'x'
	assert.Equal(t, []byte("abc"), client.GetMessages("s")[0])
}

func TestMockNATSClient_FailPublishes(t *testing.T) {
	client := NewMockNATSClient()
	defer client.Close()

	client.FailPublishes(2)
	assert.Error(t, client.Publish(context.Background(), "s", nil))
	assert.Error(t, client.Publish(context.Background(), "s", nil))
	assert.NoError(t, client.Publish(context.Background(), "s", nil))
	assert.Equal(t, 1, client.GetMessageCount("s"))
}

func TestMockNATSClient_Close(t *testing.T) {
	client := NewMockNATSClient()
	_, err := client.Subscribe(context.Background(), "s", func(context.Context, []byte) {})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())
	assert.Error(t, client.Publish(context.Background(), "s", nil))

	_, err = client.Subscribe(context.Background(), "s", func(context.Context, []byte) {})
	assert.Error(t, err)
}

func TestEventually(t *testing.T) {
	start := time.Now()
	assert.True(t, Eventually(time.Second, func() bool { return time.Since(start) > 20*time.Millisecond }))
	assert.False(t, Eventually(20*time.Millisecond, func() bool { return false }))
}
