// Package device is the device-memory buffer backend. Items live in memory
// owned by a Device; the transfer direction of an edge decides which side
// touches device memory directly and which side goes through host staging:
//
//	h2d  host producer writes to staging, commit copies into device memory
//	d2h  device producer writes in place, readers receive staged host copies
//	d2d  both sides use device memory in place (same domain only)
package device

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
)

// Backend is the registry name of the device backend.
const Backend = "device"

// TransferOption is the Properties option holding the direction.
const TransferOption = "transfer"

// Direction is the transfer direction of a device edge.
type Direction int

// Transfer directions
const (
	HostToDevice Direction = iota
	DeviceToHost
	DeviceToDevice
)

func (d Direction) String() string {
	switch d {
	case HostToDevice:
		return "h2d"
	case DeviceToHost:
		return "d2h"
	case DeviceToDevice:
		return "d2d"
	default:
		return "unknown"
	}
}

// ParseDirection parses "h2d", "d2h" or "d2d". Empty selects d2d.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "h2d":
		return HostToDevice, nil
	case "d2h":
		return DeviceToHost, nil
	case "", "d2d":
		return DeviceToDevice, nil
	default:
		return DeviceToDevice, fmt.Errorf("unknown transfer direction %q", s)
	}
}

// Device abstracts an accelerator's memory.
type Device interface {
	Name() string
	// Alloc returns a circular arena in device memory.
	Alloc(size int) (vmcirc.Memory, error)
	// CopyToDevice copies host bytes into device memory.
	CopyToDevice(dst, src []byte)
	// CopyFromDevice copies device bytes into host memory.
	CopyFromDevice(dst, src []byte)
}

// SimDevice emulates a device with host memory and counts transfers.
type SimDevice struct {
	name      string
	allocated atomic.Int64
	toDevice  atomic.Int64
	toHost    atomic.Int64
}

// NewSimDevice creates a simulated device.
func NewSimDevice(name string) *SimDevice {
	return &SimDevice{name: name}
}

// Name implements Device.
func (d *SimDevice) Name() string { return d.name }

// Alloc implements Device.
func (d *SimDevice) Alloc(size int) (vmcirc.Memory, error) {
	mem, err := vmcirc.New(size, vmcirc.Mirror)
	if err != nil {
		return nil, err
	}
	d.allocated.Add(int64(size))
	return mem, nil
}

// CopyToDevice implements Device.
func (d *SimDevice) CopyToDevice(dst, src []byte) {
	d.toDevice.Add(int64(copy(dst, src)))
}

// CopyFromDevice implements Device.
func (d *SimDevice) CopyFromDevice(dst, src []byte) {
	d.toHost.Add(int64(copy(dst, src)))
}

// TransferStats reports bytes moved in each direction and bytes allocated.
func (d *SimDevice) TransferStats() (toDevice, toHost, allocated int64) {
	return d.toDevice.Load(), d.toHost.Load(), d.allocated.Load()
}

// Factory builds device buffers on one Device.
type Factory struct {
	Device Device
}

// NewFactory returns a factory for dev.
func NewFactory(dev Device) Factory {
	return Factory{Device: dev}
}

// Register adds the device backend to reg under Backend.
func Register(reg *buffer.Registry, dev Device) error {
	return reg.Register(Backend, NewFactory(dev))
}

func direction(props *buffer.Properties) (Direction, error) {
	return ParseDirection(props.Option(TransferOption, ""))
}

// Make implements buffer.Factory.
func (f Factory) Make(spec buffer.Spec) (buffer.Buffer, error) {
	dir, err := direction(spec.Props)
	if err != nil {
		return nil, errors.WrapInvalid(err, "DeviceFactory", "Make", "parse transfer direction for "+spec.Name)
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "DeviceFactory", "Make", "validate spec for "+spec.Name)
	}

	mem, err := f.Device.Alloc(spec.Capacity * spec.ItemSize)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBufferAllocation, err),
			"DeviceFactory", "Make", "allocate device memory for "+spec.Name)
	}

	ring, err := buffer.NewRing(spec, mem, f.Capabilities(spec.Props))
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	if dir == DeviceToDevice {
		return ring, nil
	}

	b := &stagedBuffer{Ring: ring, dir: dir, dev: f.Device}
	if dir == HostToDevice {
		b.staging = make([]byte, spec.Capacity*spec.ItemSize)
	}
	return b, nil
}

// Granularity implements buffer.Factory. Device arenas accept any size.
func (Factory) Granularity(int, *buffer.Properties) int {
	return 1
}

// Capabilities implements buffer.Factory. Only staged edges can be shared
// with a host-side scheduler.
func (Factory) Capabilities(props *buffer.Properties) buffer.Capabilities {
	dir, _ := direction(props)
	if dir == DeviceToDevice {
		return buffer.ZeroCopy | buffer.DeviceResident
	}
	return buffer.CrossScheduler | buffer.DeviceResident
}

// stagedBuffer decorates a device ring with host staging copies on the side
// that lives on the host.
type stagedBuffer struct {
	*buffer.Ring
	dir     Direction
	dev     Device
	staging []byte
	region  []byte
	staged  int
}

func (b *stagedBuffer) WriteRegion(minItems int) ([]byte, int) {
	region, n := b.Ring.WriteRegion(minItems)
	if b.dir != HostToDevice {
		return region, n
	}
	b.region = region
	b.staged = 0
	return b.staging[:len(region)], n
}

func (b *stagedBuffer) CommitWrite(n int) error {
	if b.dir == HostToDevice && n > 0 && n*b.ItemSize() <= len(b.region) {
		size := n * b.ItemSize()
		b.dev.CopyToDevice(b.region[:size], b.staging[b.staged:b.staged+size])
		b.region = b.region[size:]
		b.staged += size
	}
	return b.Ring.CommitWrite(n)
}

func (b *stagedBuffer) AddReader(history int) (buffer.Reader, error) {
	r, err := b.Ring.AddReader(history)
	if err != nil {
		return nil, err
	}
	sr := &stagedReader{Reader: r, owner: b}
	if b.dir == DeviceToHost {
		sr.staging = make([]byte, b.Capacity()*b.ItemSize())
	}
	return sr, nil
}

type stagedReader struct {
	buffer.Reader
	owner   *stagedBuffer
	staging []byte
}

func (r *stagedReader) ReadRegion(minItems int) ([]byte, int) {
	region, n := r.Reader.ReadRegion(minItems)
	if r.staging == nil {
		return region, n
	}
	r.owner.dev.CopyFromDevice(r.staging[:len(region)], region)
	return r.staging[:len(region)], n
}

func (r *stagedReader) Buffer() buffer.Buffer { return r.owner }
