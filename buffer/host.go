package buffer

import (
	"fmt"

	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
)

// HostBackend is the name of the host-memory backend.
const HostBackend = "host"

// ArenaOption selects the vmcirc mode of a host buffer ("auto", "mirror",
// "mapped").
const ArenaOption = "arena"

// maxMappedPages bounds the page-aligned quantum before the host backend
// prefers the software mirror.
const maxMappedPages = 64

// HostFactory builds ring buffers in process memory.
type HostFactory struct{}

func arenaMode(props *Properties) (vmcirc.Mode, error) {
	return vmcirc.ParseMode(props.Option(ArenaOption, ""))
}

// Make implements Factory.
func (HostFactory) Make(spec Spec) (Buffer, error) {
	mode, err := arenaMode(spec.Props)
	if err != nil {
		return nil, errors.WrapInvalid(err, "HostFactory", "Make", "parse arena mode for "+spec.Name)
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "HostFactory", "Make", "validate spec for "+spec.Name)
	}

	mem, err := vmcirc.New(spec.Capacity*spec.ItemSize, mode)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBufferAllocation, err),
			"HostFactory", "Make", "allocate arena for "+spec.Name)
	}

	ring, err := NewRing(spec, mem, HostFactory{}.Capabilities(spec.Props))
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	return ring, nil
}

// Granularity implements Factory. Mapped arenas need page-multiple byte
// sizes, so the quantum is lcm(page, itemSize) unless that is unreasonably
// large or the edge caps its size below it, in which case the mirror is
// used and any item count works.
func (HostFactory) Granularity(itemSize int, props *Properties) int {
	if itemSize <= 0 {
		return 1
	}
	mode, err := arenaMode(props)
	if err != nil || mode == vmcirc.Mirror {
		return 1
	}

	page := vmcirc.PageSize()
	quantum := lcm(page, itemSize) / itemSize
	if mode == vmcirc.Mapped {
		return quantum
	}
	if quantum*itemSize > maxMappedPages*page {
		return 1
	}
	if props != nil && props.MaxItems > 0 && props.MaxItems < quantum {
		return 1
	}
	return quantum
}

// Capabilities implements Factory.
func (HostFactory) Capabilities(*Properties) Capabilities {
	return CrossScheduler | ZeroCopy
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
