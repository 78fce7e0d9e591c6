package vmcirc

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arenas(t *testing.T) map[string]Memory {
	t.Helper()
	out := map[string]Memory{}

	m, err := New(PageSize(), Mirror)
	require.NoError(t, err)
	out["mirror"] = m

	if runtime.GOOS == "linux" {
		m, err := New(PageSize(), Mapped)
		if err != nil {
			t.Logf("double mapping unavailable: %v", err)
			return out
		}
		require.True(t, m.Mapped())
		out["mapped"] = m
	}
	return out
}

func TestArena_WrapIsInvisible(t *testing.T) {
	for name, mem := range arenas(t) {
		t.Run(name, func(t *testing.T) {
			defer mem.Close()
			size := mem.Size()

			// Write a span that crosses the physical end of the ring.
			off := size - 10
			span := mem.Bytes()[off : off+20]
			for i := range span {
				span[i] = byte(i + 1)
			}
			mem.Commit(off, 20)

			// The tail of the span is visible at the start of the ring.
			for i := 0; i < 10; i++ {
				assert.Equal(t, byte(11+i), mem.Bytes()[i])
			}
			// And the full span reads back contiguously from the same offset.
			assert.Equal(t, span, mem.Bytes()[off:off+20])
		})
	}
}

func TestMirror_AnySize(t *testing.T) {
	mem, err := New(7, Auto)
	require.NoError(t, err)
	assert.False(t, mem.Mapped())

	b := mem.Bytes()
	copy(b[3:10], []byte("abcdefg"))
	mem.Commit(3, 7)

	assert.Equal(t, []byte("efg"), b[0:3])
	assert.Equal(t, []byte("abcdefg"), b[3:10])
	assert.Equal(t, []byte("efgabcd"), b[7:14])
	require.NoError(t, mem.Close())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(0, Auto)
	assert.Error(t, err)

	_, err = New(PageSize()+1, Mapped)
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Auto, "auto": Auto, "mirror": Mirror, "mapped": Mapped} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEqual(t, "unknown", got.String())
	}
	_, err := ParseMode("huge")
	assert.Error(t, err)
}

func TestItems(t *testing.T) {
	floats := []float32{1, 2, 3}
	b := AsBytes(floats)
	require.Len(t, b, 12)

	view := Items[float32](b)
	assert.Equal(t, floats, view)

	view[1] = 42
	assert.Equal(t, float32(42), floats[1], "views alias the same memory")

	assert.Nil(t, Items[uint64](b[:4]))
	assert.Nil(t, AsBytes[int32](nil))
}
