//go:build linux

package vmcirc

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type mapped struct {
	base unsafe.Pointer
	size int
	once sync.Once
}

func newMapped(size int) (Memory, error) {
	if size%PageSize() != 0 {
		return nil, fmt.Errorf("mapped arena size %d is not a multiple of page size %d", size, PageSize())
	}

	fd, err := unix.MemfdCreate("streamrt-ring", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	// Reserve 2×size of address space, then overlay both halves with the
	// same file pages.
	base, err := unix.MmapPtr(-1, 0, nil, uintptr(2*size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("reserve address space: %w", err)
	}

	for _, half := range []unsafe.Pointer{base, unsafe.Add(base, size)} {
		if _, err := unix.MmapPtr(fd, 0, half, uintptr(size),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED); err != nil {
			_ = unix.MunmapPtr(base, uintptr(2*size))
			return nil, fmt.Errorf("map ring half: %w", err)
		}
	}

	return &mapped{base: base, size: size}, nil
}

func (m *mapped) Bytes() []byte {
	return unsafe.Slice((*byte)(m.base), 2*m.size)
}

func (m *mapped) Size() int      { return m.size }
func (m *mapped) Mapped() bool   { return true }
func (m *mapped) Commit(int, int) {}

func (m *mapped) Close() error {
	var err error
	m.once.Do(func() {
		err = unix.MunmapPtr(m.base, uintptr(2*m.size))
	})
	return err
}
