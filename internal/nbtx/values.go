package nbtx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Tnze/go-mc/nbt"
)

func Byte(v int8) nbt.RawMessage {
	return nbt.RawMessage{Type: nbt.TagByte, Data: []byte{byte(v)}}
}

func Short(v int16) nbt.RawMessage {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return nbt.RawMessage{Type: nbt.TagShort, Data: b}
}

func Int(v int32) nbt.RawMessage {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return nbt.RawMessage{Type: nbt.TagInt, Data: b}
}

func Long(v int64) nbt.RawMessage {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return nbt.RawMessage{Type: nbt.TagLong, Data: b}
}

func Double(v float64) nbt.RawMessage {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return nbt.RawMessage{Type: nbt.TagDouble, Data: b}
}

func String(s string) nbt.RawMessage {
	b := make([]byte, 2, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	return nbt.RawMessage{Type: nbt.TagString, Data: append(b, s...)}
}

func ByteArray(v []byte) nbt.RawMessage {
	b := make([]byte, 4, 4+len(v))
	binary.BigEndian.PutUint32(b, uint32(len(v)))
	return nbt.RawMessage{Type: nbt.TagByteArray, Data: append(b, v...)}
}

func LongArray(v []int64) nbt.RawMessage {
	b := make([]byte, 4+8*len(v))
	binary.BigEndian.PutUint32(b, uint32(len(v)))
	for i, x := range v {
		binary.BigEndian.PutUint64(b[4+8*i:], uint64(x))
	}
	return nbt.RawMessage{Type: nbt.TagLongArray, Data: b}
}

// AsInt widens any integer tag.
func AsInt(m nbt.RawMessage) (int64, error) {
	d := m.Data
	switch m.Type {
	case nbt.TagByte:
		if len(d) >= 1 {
			return int64(int8(d[0])), nil
		}
	case nbt.TagShort:
		if len(d) >= 2 {
			return int64(int16(binary.BigEndian.Uint16(d))), nil
		}
	case nbt.TagInt:
		if len(d) >= 4 {
			return int64(int32(binary.BigEndian.Uint32(d))), nil
		}
	case nbt.TagLong:
		if len(d) >= 8 {
			return int64(binary.BigEndian.Uint64(d)), nil
		}
	default:
		return 0, fmt.Errorf("%w: %d want integer", ErrTagType, m.Type)
	}
	return 0, fmt.Errorf("%w: truncated integer", ErrTagType)
}

func AsString(m nbt.RawMessage) (string, error) {
	if m.Type != nbt.TagString {
		return "", fmt.Errorf("%w: %d want string", ErrTagType, m.Type)
	}
	if len(m.Data) < 2 {
		return "", fmt.Errorf("%w: truncated string", ErrTagType)
	}
	n := int(binary.BigEndian.Uint16(m.Data))
	if len(m.Data) < 2+n {
		return "", fmt.Errorf("%w: truncated string", ErrTagType)
	}
	return string(m.Data[2 : 2+n]), nil
}

func AsByteArray(m nbt.RawMessage) ([]byte, error) {
	if m.Type != nbt.TagByteArray {
		return nil, fmt.Errorf("%w: %d want byte array", ErrTagType, m.Type)
	}
	n, body, err := arrayBody(m.Data, 1)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), body[:n]...), nil
}

func AsLongArray(m nbt.RawMessage) ([]int64, error) {
	if m.Type != nbt.TagLongArray {
		return nil, fmt.Errorf("%w: %d want long array", ErrTagType, m.Type)
	}
	n, body, err := arrayBody(m.Data, 8)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.BigEndian.Uint64(body[8*i:]))
	}
	return out, nil
}

func arrayBody(d []byte, width int) (int, []byte, error) {
	if len(d) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated array", ErrTagType)
	}
	n := int(binary.BigEndian.Uint32(d))
	if n < 0 || len(d)-4 < n*width {
		return 0, nil, fmt.Errorf("%w: truncated array", ErrTagType)
	}
	return n, d[4:], nil
}
