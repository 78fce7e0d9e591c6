package message

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value variants
const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindPair
	KindVector
	KindDict
	KindUniform
)

var kindNames = [...]string{"nil", "bool", "int", "float", "string", "symbol", "pair", "vector", "dict", "uniform"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is an opaque message payload.
type Value interface {
	Kind() Kind
	String() string
}

// Nil is the empty value.
type Nil struct{}

// Bool is a boolean value.
type Bool bool

// Int is a signed integer value.
type Int int64

// Float is a double precision value.
type Float float64

// String is a UTF-8 string value.
type String string

// Symbol is an interned name, distinct from String.
type Symbol string

// Pair holds two values. Commonly (metadata dict, payload) or (key, value).
type Pair struct {
	Car Value
	Cdr Value
}

// Vector is an ordered heterogeneous list.
type Vector []Value

// DictEntry is one key/value association of a Dict.
type DictEntry struct {
	Key Value
	Val Value
}

// Dict is an insertion-ordered association list. Keys are compared with Equal.
type Dict []DictEntry

func (Nil) Kind() Kind     { return KindNil }
func (Bool) Kind() Kind    { return KindBool }
func (Int) Kind() Kind     { return KindInt }
func (Float) Kind() Kind   { return KindFloat }
func (String) Kind() Kind  { return KindString }
func (Symbol) Kind() Kind  { return KindSymbol }
func (Pair) Kind() Kind    { return KindPair }
func (Vector) Kind() Kind  { return KindVector }
func (Dict) Kind() Kind    { return KindDict }
func (Uniform) Kind() Kind { return KindUniform }

func (Nil) String() string      { return "()" }
func (v Bool) String() string   { return fmt.Sprintf("%t", bool(v)) }
func (v Int) String() string    { return fmt.Sprintf("%d", int64(v)) }
func (v Float) String() string  { return fmt.Sprintf("%g", float64(v)) }
func (v String) String() string { return fmt.Sprintf("%q", string(v)) }
func (v Symbol) String() string { return string(v) }

func (v Pair) String() string {
	return fmt.Sprintf("(%s . %s)", str(v.Car), str(v.Cdr))
}

func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = str(e)
	}
	return "#(" + strings.Join(parts, " ") + ")"
}

func (v Dict) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = fmt.Sprintf("(%s . %s)", str(e.Key), str(e.Val))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func str(v Value) string {
	if v == nil {
		return Nil{}.String()
	}
	return v.String()
}

// Get returns the value associated with key.
func (v Dict) Get(key Value) (Value, bool) {
	for _, e := range v {
		if Equal(e.Key, key) {
			return e.Val, true
		}
	}
	return nil, false
}

// Set returns a dict with key bound to val, replacing an existing binding in
// place or appending a new one. The receiver is not modified.
func (v Dict) Set(key, val Value) Dict {
	out := make(Dict, len(v), len(v)+1)
	copy(out, v)
	for i, e := range out {
		if Equal(e.Key, key) {
			out[i].Val = val
			return out
		}
	}
	return append(out, DictEntry{Key: key, Val: val})
}

// ElemType is the element type of a Uniform vector.
type ElemType uint8

// Uniform element types
const (
	U8 ElemType = iota + 1
	S16
	S32
	S64
	F32
	F64
	C64
)

// Size returns the element size in bytes.
func (t ElemType) Size() int {
	switch t {
	case U8:
		return 1
	case S16:
		return 2
	case S32, F32:
		return 4
	case S64, F64, C64:
		return 8
	default:
		return 0
	}
}

// Uniform is a raw vector of same-typed elements stored little-endian.
type Uniform struct {
	Elem ElemType
	Data []byte
}

// Len returns the element count.
func (v Uniform) Len() int {
	if s := v.Elem.Size(); s > 0 {
		return len(v.Data) / s
	}
	return 0
}

func (v Uniform) String() string {
	return fmt.Sprintf("#u%d[%d]", v.Elem, v.Len())
}

// Bytes wraps a byte slice. The slice is copied.
func Bytes(b []byte) Uniform {
	return Uniform{Elem: U8, Data: append([]byte(nil), b...)}
}

// Float32s encodes a float32 slice.
func Float32s(f []float32) Uniform {
	data := make([]byte, 4*len(f))
	for i, x := range f {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(x))
	}
	return Uniform{Elem: F32, Data: data}
}

// Float32s decodes an F32 uniform vector.
func (v Uniform) Float32s() ([]float32, error) {
	if v.Elem != F32 {
		return nil, fmt.Errorf("uniform element type %d is not f32", v.Elem)
	}
	out := make([]float32, v.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(v.Data[4*i:]))
	}
	return out, nil
}

// Int32s encodes an int32 slice.
func Int32s(n []int32) Uniform {
	data := make([]byte, 4*len(n))
	for i, x := range n {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(x))
	}
	return Uniform{Elem: S32, Data: data}
}

// Int32s decodes an S32 uniform vector.
func (v Uniform) Int32s() ([]int32, error) {
	if v.Elem != S32 {
		return nil, fmt.Errorf("uniform element type %d is not s32", v.Elem)
	}
	out := make([]int32, v.Len())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(v.Data[4*i:]))
	}
	return out, nil
}

// Equal reports deep equality. A nil interface equals Nil{}.
func Equal(a, b Value) bool {
	if a == nil {
		a = Nil{}
	}
	if b == nil {
		b = Nil{}
	}
	if a.Kind() != b.Kind() {
		return false
	}

	switch av := a.(type) {
	case Pair:
		bv := b.(Pair)
		return Equal(av.Car, bv.Car) && Equal(av.Cdr, bv.Cdr)
	case Vector:
		bv := b.(Vector)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Dict:
		bv := b.(Dict)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i].Key, bv[i].Key) || !Equal(av[i].Val, bv[i].Val) {
				return false
			}
		}
		return true
	case Uniform:
		bv := b.(Uniform)
		return av.Elem == bv.Elem && string(av.Data) == string(bv.Data)
	default:
		return a == b
	}
}
