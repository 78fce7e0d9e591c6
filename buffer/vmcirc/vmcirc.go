// Package vmcirc provides circular byte arenas whose wrap point is invisible:
// for any offset below Size, Bytes()[off:off+Size] is a valid contiguous view
// of the ring starting at off.
//
// Two implementations exist. The mapped arena maps the same memfd twice into
// adjacent virtual ranges (Linux only; Size must be a page multiple). The
// mirror arena allocates 2×Size bytes on the Go heap and copies every
// committed byte to its alias, so it works for any size on any platform.
//
// This is the only package of the module that uses unsafe.
package vmcirc

import (
	"fmt"
	"os"
	"unsafe"
)

// Memory is a circular arena.
type Memory interface {
	// Bytes returns the 2×Size view.
	Bytes() []byte
	// Size returns the ring size in bytes.
	Size() int
	// Commit publishes n bytes written at Bytes()[off:off+n]. off < Size and
	// n <= Size. It is a no-op for mapped memory.
	Commit(off, n int)
	// Mapped reports whether the arena is double-mapped.
	Mapped() bool
	// Close releases the arena. Slices obtained from Bytes must not be used
	// afterwards.
	Close() error
}

// Mode selects the arena implementation.
type Mode int

const (
	// Auto maps when the platform and size allow it and mirrors otherwise.
	Auto Mode = iota
	// Mirror always uses the software mirror.
	Mirror
	// Mapped requires the double mapping and fails when unavailable.
	Mapped
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Mirror:
		return "mirror"
	case Mapped:
		return "mapped"
	default:
		return "unknown"
	}
}

// ParseMode converts a config string to a Mode. Empty selects Auto.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "mirror":
		return Mirror, nil
	case "mapped":
		return Mapped, nil
	default:
		return Auto, fmt.Errorf("unknown arena mode %q", s)
	}
}

// PageSize returns the system page size.
func PageSize() int {
	return os.Getpagesize()
}

// New allocates an arena of size bytes.
func New(size int, mode Mode) (Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena size %d must be positive", size)
	}

	switch mode {
	case Mirror:
		return newMirror(size), nil
	case Mapped:
		return newMapped(size)
	default:
		if size%PageSize() == 0 {
			if m, err := newMapped(size); err == nil {
				return m, nil
			}
		}
		return newMirror(size), nil
	}
}

// Items reinterprets b as a slice of T. len(b) must be a multiple of the
// size of T and T must not contain pointers. The result aliases b.
func Items[T any](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/size)
}

// AsBytes reinterprets s as its backing bytes. T must not contain pointers.
func AsBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

type mirror struct {
	buf  []byte
	size int
}

func newMirror(size int) *mirror {
	return &mirror{buf: make([]byte, 2*size), size: size}
}

func (m *mirror) Bytes() []byte { return m.buf }
func (m *mirror) Size() int     { return m.size }
func (m *mirror) Mapped() bool  { return false }

func (m *mirror) Commit(off, n int) {
	end := off + n
	if end <= m.size {
		copy(m.buf[off+m.size:end+m.size], m.buf[off:end])
		return
	}
	// Span crosses the midpoint: the head half aliases forward, the tail
	// half aliases back to the start.
	copy(m.buf[off+m.size:], m.buf[off:m.size])
	copy(m.buf[:end-m.size], m.buf[m.size:end])
}

func (m *mirror) Close() error {
	m.buf = nil
	return nil
}
