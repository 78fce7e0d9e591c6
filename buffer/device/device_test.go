package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
)

func makeBuffer(t *testing.T, dev *SimDevice, dir string, capacity int) buffer.Buffer {
	t.Helper()
	b, err := NewFactory(dev).Make(buffer.Spec{
		Name:     "dev-" + dir,
		ItemSize: 4,
		Capacity: capacity,
		Props:    &buffer.Properties{Backend: Backend, Options: map[string]string{TransferOption: dir}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release() })
	return b
}

func pump(t *testing.T, b buffer.Buffer, r buffer.Reader, total int) []uint32 {
	t.Helper()
	var out []uint32
	next := uint32(0)
	for len(out) < total {
		region, n := b.WriteRegion(1)
		n = min(n, 3, total-int(next))
		items := vmcirc.Items[uint32](region)
		for i := 0; i < n; i++ {
			items[i] = next
			next++
		}
		require.NoError(t, b.CommitWrite(n))

		rr, avail := r.ReadRegion(1)
		out = append(out, vmcirc.Items[uint32](rr)[:avail]...)
		require.NoError(t, r.CommitRead(avail))
	}
	return out
}

func TestDeviceBuffer_Directions(t *testing.T) {
	for _, dir := range []string{"h2d", "d2h", "d2d"} {
		t.Run(dir, func(t *testing.T) {
			dev := NewSimDevice("sim0")
			b := makeBuffer(t, dev, dir, 5)
			r, err := b.AddReader(1)
			require.NoError(t, err)

			got := pump(t, b, r, 23)
			want := make([]uint32, 23)
			for i := range want {
				want[i] = uint32(i)
			}
			assert.Equal(t, want, got)
			assert.Same(t, b, r.Buffer())

			toDev, toHost, alloc := dev.TransferStats()
			assert.Equal(t, int64(20), alloc)
			switch dir {
			case "h2d":
				assert.Equal(t, int64(23*4), toDev)
				assert.Zero(t, toHost)
			case "d2h":
				assert.Zero(t, toDev)
				assert.Equal(t, int64(23*4), toHost)
			default:
				assert.Zero(t, toDev+toHost)
			}
		})
	}
}

func TestDeviceBuffer_SplitCommits(t *testing.T) {
	dev := NewSimDevice("sim0")
	b := makeBuffer(t, dev, "h2d", 8)
	r, err := b.AddReader(1)
	require.NoError(t, err)

	region, n := b.WriteRegion(4)
	require.GreaterOrEqual(t, n, 4)
	items := vmcirc.Items[uint32](region)
	copy(items, []uint32{10, 11, 12, 13})
	require.NoError(t, b.CommitWrite(2))
	require.NoError(t, b.CommitWrite(2))

	rr, avail := r.ReadRegion(1)
	require.Equal(t, 4, avail)
	assert.Equal(t, []uint32{10, 11, 12, 13}, vmcirc.Items[uint32](rr))
}

func TestFactory_Capabilities(t *testing.T) {
	f := NewFactory(NewSimDevice("sim0"))
	props := func(dir string) *buffer.Properties {
		return &buffer.Properties{Options: map[string]string{TransferOption: dir}}
	}

	assert.False(t, f.Capabilities(props("d2d")).Has(buffer.CrossScheduler))
	assert.True(t, f.Capabilities(props("h2d")).Has(buffer.CrossScheduler|buffer.DeviceResident))
	assert.True(t, f.Capabilities(props("d2h")).Has(buffer.CrossScheduler))
	assert.Equal(t, 1, f.Granularity(4, nil))
}

func TestFactory_Errors(t *testing.T) {
	f := NewFactory(NewSimDevice("sim0"))
	_, err := f.Make(buffer.Spec{Name: "x", ItemSize: 4, Capacity: 4,
		Props: &buffer.Properties{Options: map[string]string{TransferOption: "sideways"}}})
	assert.True(t, errors.IsInvalid(err))

	_, err = f.Make(buffer.Spec{Name: "x", ItemSize: 4, Capacity: 0})
	assert.True(t, errors.IsInvalid(err))
}

func TestRegister(t *testing.T) {
	reg := buffer.NewRegistry()
	require.NoError(t, Register(reg, NewSimDevice("sim0")))
	_, err := reg.Lookup(Backend)
	assert.NoError(t, err)
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"": DeviceToDevice, "h2d": HostToDevice, "d2h": DeviceToHost, "d2d": DeviceToDevice} {
		got, err := ParseDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "h2d", HostToDevice.String())
}
