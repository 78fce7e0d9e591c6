package netbuf

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/pkg/retry"
	"github.com/c360/streamrt/tag"
	"github.com/c360/streamrt/testutil"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func newEdge(t *testing.T, transport Transport, spec buffer.Spec) buffer.Buffer {
	t.Helper()
	reg := buffer.NewRegistry()
	require.NoError(t, Register(reg, transport, WithRetry(fastRetry)))
	f, err := reg.Lookup(Backend)
	require.NoError(t, err)

	b, err := f.Make(spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release() })
	return b
}

// transfer pushes total uint32 items through b and returns what rd saw.
func transfer(t *testing.T, b buffer.Buffer, rd buffer.Reader, total int) []uint32 {
	t.Helper()
	var got []uint32
	next := 0
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < total {
		require.True(t, time.Now().Before(deadline), "transfer stalled at %d of %d", len(got), total)

		if next < total {
			region, n := b.WriteRegion(1)
			require.LessOrEqual(t, n, b.Capacity())
			n = min(n, total-next, 5)
			for i := 0; i < n; i++ {
				binary.LittleEndian.PutUint32(region[i*4:], uint32(next+i))
			}
			require.NoError(t, b.CommitWrite(n))
			next += n
			if next == total {
				b.SetDone()
			}
		}

		data, avail := rd.ReadRegion(1)
		skip := (rd.History() - 1) * 4
		take := min(avail, 3)
		for i := 0; i < take; i++ {
			got = append(got, binary.LittleEndian.Uint32(data[skip+i*4:]))
		}
		require.NoError(t, rd.CommitRead(take))
		if avail == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return got
}

func TestNetworkBuffer_RoundTripUnderBackpressure(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "a->b", ItemSize: 4, Capacity: 7})
	assert.Equal(t, Capabilities, b.Capabilities())
	assert.True(t, b.Capabilities().Has(buffer.CrossScheduler|buffer.CrossProcess))

	rd, err := b.AddReader(1)
	require.NoError(t, err)
	assert.Same(t, b, rd.Buffer())

	got := transfer(t, b, rd, 500)
	for i, v := range got {
		require.Equal(t, uint32(i), v)
	}

	testutil.WaitFor(t, time.Second, rd.Exhausted, "end of stream")
	testutil.WaitFor(t, time.Second, func() bool { return b.Stats().SlowestRead == 500 }, "final ack")
	st := b.Stats()
	assert.Equal(t, uint64(500), st.ItemsWritten)
	assert.Equal(t, 0.0, st.Occupancy)
	assert.True(t, st.Done)
}

func TestNetworkBuffer_CreditLimitsInFlight(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "credit", ItemSize: 1, Capacity: 4})
	rd, err := b.AddReader(1)
	require.NoError(t, err)

	_, n := b.WriteRegion(1)
	require.Equal(t, 4, n)
	require.NoError(t, b.CommitWrite(4))

	_, n = b.WriteRegion(1)
	assert.Equal(t, 0, n, "no credit until the receiver acknowledges")

	testutil.WaitFor(t, time.Second, func() bool { return rd.Available() == 4 }, "frame delivery")
	_, avail := rd.ReadRegion(1)
	require.Equal(t, 4, avail)
	require.NoError(t, rd.CommitRead(3))

	testutil.WaitFor(t, time.Second, func() bool {
		_, n := b.WriteRegion(1)
		return n == 3
	}, "credit for three items")
}

func TestNetworkBuffer_WakesWriterOnAck(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "wake", ItemSize: 1, Capacity: 2})
	rd, err := b.AddReader(1)
	require.NoError(t, err)

	wokeWriter := make(chan struct{}, 8)
	wokeReader := make(chan struct{}, 8)
	b.OnRead(func() { wokeWriter <- struct{}{} })
	b.OnWrite(func() { wokeReader <- struct{}{} })

	_, _ = b.WriteRegion(1)
	require.NoError(t, b.CommitWrite(2))
	select {
	case <-wokeReader:
	case <-time.After(time.Second):
		t.Fatal("reader not woken by frame")
	}

	_, avail := rd.ReadRegion(1)
	require.NoError(t, rd.CommitRead(avail))
	select {
	case <-wokeWriter:
	case <-time.After(time.Second):
		t.Fatal("writer not woken by ack")
	}
}

func TestNetworkBuffer_TagsCrossTransport(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "tags", ItemSize: 4, Capacity: 32})
	rd, err := b.AddReader(1)
	require.NoError(t, err)

	b.AddTag(tag.Tag{Offset: 5, Key: "freq", Value: message.Float(433.92), Source: "src"})
	b.AddTag(tag.Tag{Offset: 1, Key: "sob", Value: message.Bool(true)})
	b.AddTag(tag.Tag{Offset: 12, Key: "late", Value: message.Symbol("x")})

	_, _ = b.WriteRegion(1)
	require.NoError(t, b.CommitWrite(10))
	testutil.WaitFor(t, time.Second, func() bool { return rd.Available() == 10 }, "first frame")

	tags := rd.Tags(0, 10)
	require.Len(t, tags, 2)
	assert.Equal(t, "sob", tags[0].Key)
	assert.Equal(t, uint64(5), tags[1].Offset)
	assert.True(t, message.Equal(message.Float(433.92), tags[1].Value))
	assert.Equal(t, "src", tags[1].Source)
	assert.Empty(t, rd.Tags(10, 100), "tag beyond the frame stays with the sender")

	b.SetDone()
	testutil.WaitFor(t, time.Second, func() bool { return len(rd.Tags(10, 100)) == 1 }, "tags flushed with end of stream")
}

func TestNetworkBuffer_ReadersDonePropagates(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	props := &buffer.Properties{Options: map[string]string{SubjectOption: "rd"}}
	b := newEdge(t, client, buffer.Spec{Name: "rd", ItemSize: 1, Capacity: 4, Props: props})
	rd, err := b.AddReader(1)
	require.NoError(t, err)
	assert.False(t, b.ReadersDone())

	rd.Detach()
	testutil.WaitFor(t, time.Second, b.ReadersDone, "readers done ack")

	_, n := b.WriteRegion(1)
	assert.Equal(t, 4, n)
	require.NoError(t, b.CommitWrite(4))
	testutil.AssertNoMessages(t, client, dataSubject("rd"))
}

func TestNetworkBuffer_HistoryPrefix(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "hist", ItemSize: 4, Capacity: 8, HistoryPad: 2})
	rd, err := b.AddReader(3)
	require.NoError(t, err)

	got := transfer(t, b, rd, 64)
	require.Len(t, got, 64)

	data, _ := rd.ReadRegion(0)
	assert.Equal(t, uint32(62), binary.LittleEndian.Uint32(data[0:]))
	assert.Equal(t, uint32(63), binary.LittleEndian.Uint32(data[4:]))
}

func TestNetworkBuffer_RetriesTransientPublishFailures(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "retry", ItemSize: 1, Capacity: 4})
	rd, err := b.AddReader(1)
	require.NoError(t, err)

	client.FailPublishes(2)
	_, _ = b.WriteRegion(1)
	require.NoError(t, b.CommitWrite(2))
	testutil.WaitFor(t, time.Second, func() bool { return rd.Available() == 2 }, "retried frame")

	client.FailPublishes(10)
	_, _ = b.WriteRegion(1)
	err = b.CommitWrite(1)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, uint64(2), b.ItemsWritten(), "failed commit does not advance the cursor")
}

func TestNetworkBuffer_ContractViolation(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	b := newEdge(t, client, buffer.Spec{Name: "violation", ItemSize: 1, Capacity: 4})
	_, n := b.WriteRegion(1)
	err := b.CommitWrite(n + 1)
	assert.ErrorIs(t, err, errors.ErrWorkContractViolation)
	assert.True(t, errors.IsFatal(err))
}

func TestReceiver_SequenceGapEndsStream(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()
	ctx := context.Background()

	spec := buffer.Spec{Name: "gap", ItemSize: 1, Capacity: 4}
	recv, err := NewReceiver(ctx, spec, client, "gap")
	require.NoError(t, err)
	defer recv.Release()
	rd, err := recv.AddReader(1, nil)
	require.NoError(t, err)

	data, err := encodeFrame(&Frame{Seq: 3, Items: []byte{1}})
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, dataSubject("gap"), data))

	testutil.WaitFor(t, time.Second, rd.Exhausted, "stream ended after gap")
	assert.Equal(t, 0, rd.Available())
}

func TestFactory_SubjectOptionAndClose(t *testing.T) {
	client := testutil.NewMockNATSClient()
	defer client.Close()

	f := NewFactory(client)
	assert.Equal(t, 1, f.Granularity(4, nil))
	assert.Equal(t, Capabilities, f.Capabilities(nil))

	props := &buffer.Properties{Backend: Backend, Options: map[string]string{SubjectOption: "edges.fixed"}}
	b, err := f.Make(buffer.Spec{Name: "named", ItemSize: 1, Capacity: 4, Props: props})
	require.NoError(t, err)
	assert.Equal(t, 1, client.SubscriptionCount("edges.fixed.data"))
	assert.Equal(t, 1, client.SubscriptionCount("edges.fixed.ack"))

	require.NoError(t, b.Release())
	assert.Equal(t, 0, client.SubscriptionCount("edges.fixed.data"))
	assert.Equal(t, 0, client.SubscriptionCount("edges.fixed.ack"))

	_, n := b.WriteRegion(1)
	assert.Equal(t, 0, n)
	assert.True(t, b.Stats().Closed)

	_, err = NewFactory(nil).Make(buffer.Spec{Name: "x", ItemSize: 1, Capacity: 1})
	assert.True(t, errors.IsFatal(err))
}
