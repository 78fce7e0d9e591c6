package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/errors"
)

func TestValue_KindsAndStrings(t *testing.T) {
	tests := []struct {
		v    Value
		kind Kind
		str  string
	}{
		{Nil{}, KindNil, "()"},
		{Bool(true), KindBool, "true"},
		{Int(-3), KindInt, "-3"},
		{Float(1.5), KindFloat, "1.5"},
		{String("hi"), KindString, `"hi"`},
		{Symbol("freq"), KindSymbol, "freq"},
		{Pair{Car: Symbol("k"), Cdr: Int(1)}, KindPair, "(k . 1)"},
		{Vector{Int(1), Int(2)}, KindVector, "#(1 2)"},
		{Dict{{Key: Symbol("a"), Val: Bool(false)}}, KindDict, "((a . false))"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.v.Kind())
			assert.Equal(t, tt.str, tt.v.String())
		})
	}
}

func TestDict_GetSet(t *testing.T) {
	d := Dict{}.Set(Symbol("freq"), Float(100e6)).Set(Symbol("gain"), Int(10))
	d2 := d.Set(Symbol("freq"), Float(200e6))

	v, ok := d.Get(Symbol("freq"))
	require.True(t, ok)
	assert.Equal(t, Float(100e6), v)

	v, ok = d2.Get(Symbol("freq"))
	require.True(t, ok)
	assert.Equal(t, Float(200e6), v)
	assert.Len(t, d2, 2)

	_, ok = d.Get(String("freq"))
	assert.False(t, ok, "symbols and strings are distinct keys")
}

func TestUniform_Views(t *testing.T) {
	u := Float32s([]float32{0, 1.5, -2})
	assert.Equal(t, 3, u.Len())
	f, err := u.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1.5, -2}, f)

	_, err = u.Int32s()
	assert.Error(t, err)

	n, err := Int32s([]int32{-1, 7}).Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 7}, n)

	assert.Equal(t, 4, Bytes([]byte("abcd")).Len())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, Nil{}))
	assert.True(t, Equal(Vector{Int(1), Pair{Car: Nil{}, Cdr: Bytes([]byte{1})}},
		Vector{Int(1), Pair{Car: Nil{}, Cdr: Bytes([]byte{1})}}))
	assert.False(t, Equal(Int(1), Float(1)))
	assert.False(t, Equal(Vector{Int(1)}, Vector{Int(1), Int(2)}))
	assert.False(t, Equal(Symbol("a"), String("a")))
}

func TestCodec_RoundTripNested(t *testing.T) {
	v := Pair{
		Car: Dict{
			{Key: Symbol("rx_time"), Val: Pair{Car: Int(1700000000), Cdr: Float(0.25)}},
			{Key: Symbol("burst"), Val: Bool(true)},
			{Key: String("note"), Val: Nil{}},
		},
		Cdr: Vector{Float32s([]float32{1, 2, 3}), Symbol("eob"), Int(-42)},
	}

	data, err := Marshal(v)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, Equal(v, got), "got %s", got)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
	assert.True(t, errors.IsInvalid(err))
}
