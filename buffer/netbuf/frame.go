package netbuf

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/streamrt/errors"
	"github.com/c360/streamrt/message"
	"github.com/c360/streamrt/tag"
)

// Frame carries one committed write region.
type Frame struct {
	Seq    uint64    `msgpack:"seq"`
	Offset uint64    `msgpack:"off"`
	Items  []byte    `msgpack:"items,omitempty"`
	Tags   []wireTag `msgpack:"tags,omitempty"`
	EOF    bool      `msgpack:"eof,omitempty"`
}

type wireTag struct {
	Offset uint64 `msgpack:"off"`
	Key    string `msgpack:"key"`
	Value  []byte `msgpack:"val"`
	Source string `msgpack:"src,omitempty"`
}

// Ack reports the receiver's slowest read offset.
type Ack struct {
	Consumed    uint64 `msgpack:"consumed"`
	ReadersDone bool   `msgpack:"readers_done,omitempty"`
}

func encodeTags(tags []tag.Tag) ([]wireTag, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make([]wireTag, len(tags))
	for i, t := range tags {
		val, err := message.Marshal(t.Value)
		if err != nil {
			return nil, err
		}
		out[i] = wireTag{Offset: t.Offset, Key: t.Key, Value: val, Source: t.Source}
	}
	return out, nil
}

func decodeTags(wire []wireTag) ([]tag.Tag, error) {
	out := make([]tag.Tag, len(wire))
	for i, w := range wire {
		val, err := message.Unmarshal(w.Value)
		if err != nil {
			return nil, err
		}
		out[i] = tag.Tag{Offset: w.Offset, Key: w.Key, Value: val, Source: w.Source}
	}
	return out, nil
}

func encodeFrame(f *Frame) ([]byte, error) {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return nil, errors.WrapInvalid(err, "netbuf", "encodeFrame", "encode frame")
	}
	return data, nil
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "netbuf", "decodeFrame", "decode frame: "+err.Error())
	}
	return &f, nil
}

func encodeAck(a Ack) ([]byte, error) {
	return msgpack.Marshal(&a)
}

func decodeAck(data []byte) (Ack, error) {
	var a Ack
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return a, errors.WrapInvalid(errors.ErrParsingFailed, "netbuf", "decodeAck", "decode ack: "+err.Error())
	}
	return a, nil
}
