package message

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/streamrt/errors"
)

// Values are encoded as a two-element msgpack array [kind, payload]. Pairs,
// vectors and dicts nest recursively.

// Marshal encodes v with msgpack.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := EncodeValue(enc, v); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Marshal", "encode value")
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a value produced by Marshal.
func Unmarshal(data []byte) (Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	v, err := DecodeValue(dec)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"message", "Unmarshal", "decode value")
	}
	return v, nil
}

// EncodeValue writes v to an existing encoder.
func EncodeValue(enc *msgpack.Encoder, v Value) error {
	if v == nil {
		v = Nil{}
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.Kind())); err != nil {
		return err
	}

	switch x := v.(type) {
	case Nil:
		return enc.EncodeNil()
	case Bool:
		return enc.EncodeBool(bool(x))
	case Int:
		return enc.EncodeInt(int64(x))
	case Float:
		return enc.EncodeFloat64(float64(x))
	case String:
		return enc.EncodeString(string(x))
	case Symbol:
		return enc.EncodeString(string(x))
	case Pair:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := EncodeValue(enc, x.Car); err != nil {
			return err
		}
		return EncodeValue(enc, x.Cdr)
	case Vector:
		if err := enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}
		for _, e := range x {
			if err := EncodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case Dict:
		if err := enc.EncodeArrayLen(2 * len(x)); err != nil {
			return err
		}
		for _, e := range x {
			if err := EncodeValue(enc, e.Key); err != nil {
				return err
			}
			if err := EncodeValue(enc, e.Val); err != nil {
				return err
			}
		}
		return nil
	case Uniform:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeUint8(uint8(x.Elem)); err != nil {
			return err
		}
		return enc.EncodeBytes(x.Data)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// DecodeValue reads one value from dec.
func DecodeValue(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("value envelope has %d elements", n)
	}
	k, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}

	switch Kind(k) {
	case KindNil:
		return Nil{}, dec.DecodeNil()
	case KindBool:
		b, err := dec.DecodeBool()
		return Bool(b), err
	case KindInt:
		i, err := dec.DecodeInt64()
		return Int(i), err
	case KindFloat:
		f, err := dec.DecodeFloat64()
		return Float(f), err
	case KindString:
		s, err := dec.DecodeString()
		return String(s), err
	case KindSymbol:
		s, err := dec.DecodeString()
		return Symbol(s), err
	case KindPair:
		if err := expectLen(dec, 2); err != nil {
			return nil, err
		}
		car, err := DecodeValue(dec)
		if err != nil {
			return nil, err
		}
		cdr, err := DecodeValue(dec)
		if err != nil {
			return nil, err
		}
		return Pair{Car: car, Cdr: cdr}, nil
	case KindVector:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		out := make(Vector, 0, max(n, 0))
		for i := 0; i < n; i++ {
			e, err := DecodeValue(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case KindDict:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n%2 != 0 {
			return nil, fmt.Errorf("dict has odd element count %d", n)
		}
		out := make(Dict, 0, n/2)
		for i := 0; i < n; i += 2 {
			key, err := DecodeValue(dec)
			if err != nil {
				return nil, err
			}
			val, err := DecodeValue(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, DictEntry{Key: key, Val: val})
		}
		return out, nil
	case KindUniform:
		if err := expectLen(dec, 2); err != nil {
			return nil, err
		}
		elem, err := dec.DecodeUint8()
		if err != nil {
			return nil, err
		}
		data, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		return Uniform{Elem: ElemType(elem), Data: data}, nil
	default:
		return nil, fmt.Errorf("unknown value kind %d", k)
	}
}

func expectLen(dec *msgpack.Decoder, want int) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("expected %d elements, got %d", want, n)
	}
	return nil
}
