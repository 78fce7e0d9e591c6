package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/buffer/vmcirc"
	"github.com/c360/streamrt/errors"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{HostBackend}, reg.Names())

	f, err := reg.Lookup(HostBackend)
	require.NoError(t, err)
	assert.IsType(t, HostFactory{}, f)

	_, err = reg.Lookup("fpga")
	assert.ErrorIs(t, err, errors.ErrUnknownBackend)

	require.NoError(t, reg.Register("other", HostFactory{}))
	assert.Error(t, reg.Register("other", HostFactory{}))
	assert.Error(t, reg.Register("", HostFactory{}))
	assert.Equal(t, []string{HostBackend, "other"}, reg.Names())
}

func TestHostFactory_Granularity(t *testing.T) {
	page := vmcirc.PageSize()
	f := HostFactory{}

	assert.Equal(t, page/4, f.Granularity(4, nil))
	assert.Equal(t, 1, f.Granularity(4, &Properties{Options: map[string]string{ArenaOption: "mirror"}}))
	assert.Equal(t, 1, f.Granularity(4, &Properties{MaxItems: 8}))
	assert.Equal(t, 1, f.Granularity(page+1, nil), "huge lcm falls back to the mirror")
	assert.Equal(t, page, f.Granularity(page+1, &Properties{Options: map[string]string{ArenaOption: "mapped"}}))
}

func TestHostFactory_Make(t *testing.T) {
	f := HostFactory{}

	_, err := f.Make(Spec{Name: "bad", ItemSize: 4, Capacity: 4,
		Props: &Properties{Options: map[string]string{ArenaOption: "weird"}}})
	assert.True(t, errors.IsInvalid(err))

	_, err = f.Make(Spec{Name: "bad", ItemSize: 0, Capacity: 4})
	assert.True(t, errors.IsInvalid(err))

	b, err := f.Make(Spec{Name: "ok", ItemSize: 8, Capacity: 3})
	require.NoError(t, err)
	defer b.Release()
	assert.True(t, b.Capabilities().Has(CrossScheduler|ZeroCopy))
	assert.Equal(t, "ok", b.Name())
	assert.Equal(t, 3, b.Capacity())
	assert.Equal(t, 8, b.ItemSize())
}

func TestCapabilities_String(t *testing.T) {
	assert.Equal(t, "none", Capabilities(0).String())
	assert.Equal(t, "cross-scheduler|zero-copy", (CrossScheduler | ZeroCopy).String())
}

func TestProperties_Helpers(t *testing.T) {
	var p *Properties
	assert.Equal(t, "d", p.Option("k", "d"))
	assert.Equal(t, "host", p.BackendName("host"))

	p = &Properties{Backend: "device", Options: map[string]string{"k": "v", "empty": ""}}
	assert.Equal(t, "v", p.Option("k", "d"))
	assert.Equal(t, "d", p.Option("empty", "d"))
	assert.Equal(t, "device", p.BackendName("host"))
}
