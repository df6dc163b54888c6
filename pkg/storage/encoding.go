// ABOUTME: Order-preserving encoding for composite keys
// ABOUTME: Keys sort bytewise in the same order as their typed components

package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_INT64  = 2
	TYPE_UINT64 = 3
	TYPE_TIME   = 4 // nanoseconds since epoch
)

// Value is a single component of a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	Time time.Time
}

func NewBytesValue(data []byte) Value { return Value{Type: TYPE_BYTES, Str: data} }
func NewStringValue(s string) Value { return Value{Type: TYPE_BYTES, Str: []byte(s)} }
func NewInt64Value(i int64) Value { return Value{Type: TYPE_INT64, I64: i} }
func NewUint64Value(u uint64) Value { return Value{Type: TYPE_UINT64, U64: u} }
func NewTimeValue(t time.Time) Value { return Value{Type: TYPE_TIME, Time: t} }

// String returns the component as a string when it holds bytes.
func (v Value) String() string {
	return string(v.Str)
}

// EncodeValues encodes values so that bytewise order matches value order.
// Every component starts with its type tag.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_INT64:
			out = binary.BigEndian.AppendUint64(out, uint64(v.I64)+(1<<63))
		case TYPE_UINT64:
			out = binary.BigEndian.AppendUint64(out, v.U64)
		case TYPE_TIME:
			out = binary.BigEndian.AppendUint64(out, uint64(v.Time.UnixNano())+(1<<63))
		case TYPE_BYTES:
			out = appendEscaped(out, v.Str)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("unknown key component type: %d", v.Type))
		}
	}
	return out
}

// appendEscaped writes s with 0x00 and 0x01 escaped so that 0x00 only ever
// appears as a terminator. 0x00 becomes 0x01 0x01 and 0x01 becomes 0x01 0x02.
func appendEscaped(out, s []byte) []byte {
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescape(s []byte) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0x01 {
			out = append(out, s[i])
			continue
		}
		if i+1 >= len(s) {
			return nil, fmt.Errorf("dangling escape at %d", i)
		}
		out = append(out, s[i+1]-1)
		i++
	}
	return out, nil
}

// DecodeValues decodes values produced by EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64, TYPE_UINT64, TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete fixed-width value at pos %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
			switch typ {
			case TYPE_INT64:
				vals = append(vals, NewInt64Value(int64(u-(1<<63))))
			case TYPE_UINT64:
				vals = append(vals, NewUint64Value(u))
			default:
				vals = append(vals, NewTimeValue(time.Unix(0, int64(u-(1<<63))).UTC()))
			}

		case TYPE_BYTES:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated bytes at pos %d", pos)
			}
			str, err := unescape(data[pos:end])
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewBytesValue(str))
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key behind a 4-byte prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := binary.BigEndian.AppendUint32(make([]byte, 0, 64), prefix)
	return append(out, EncodeValues(vals)...)
}

// Key is EncodeKey for the common all-string case
func Key(prefix uint32, parts ...string) []byte {
	vals := make([]Value, len(parts))
	for i, p := range parts {
		vals[i] = NewStringValue(p)
	}
	return EncodeKey(prefix, vals)
}

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}

// LastString returns the final string component of a key, which by
// convention is the GUID in index keys.
func LastString(key []byte) (string, error) {
	vals, err := ExtractValues(key)
	if err != nil {
		return "", err
	}
	if len(vals) == 0 || vals[len(vals)-1].Type != TYPE_BYTES {
		return "", fmt.Errorf("key has no trailing string component")
	}
	return vals[len(vals)-1].String(), nil
}
