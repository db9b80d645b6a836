// Package keys defines the engine-independent key space of a domain store
// and the order-preserving encoding of scalar values inside keys.
//
// Layout:
//
//	m/version                                      schema version (uint64, big endian)
//	m/c/<collection>                               JSON collection declaration
//	r/<collection>\x00<enc(pk)>                    JSON record
//	x/<collection>\x00<field>\x00<enc(v)><enc(pk)>  index entry, value is enc(pk)
//
// Encoded values sort by kind first (null < false < true < number < string)
// and then by value, so byte-wise key order is value order.
package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arthur-debert/lifestore/types"
)

// Kind tags. Each encoded value starts with one of these.
const (
	tagNull   byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagNumber byte = 0x04
	tagString byte = 0x05
	tagEnd    byte = 0x06

	// suffixMax sorts after every encoded value; appended to an encoded
	// value it bounds all keys that continue with a primary key.
	suffixMax byte = 0xFF
)

var (
	versionKey       = []byte("m/version")
	collectionPrefix = []byte("m/c/")
)

// Encode returns the order-preserving encoding of a scalar value.
func Encode(v any) ([]byte, error) {
	switch val := types.NormalizeValue(v).(type) {
	case nil:
		return []byte{tagNull}, nil
	case bool:
		if val {
			return []byte{tagTrue}, nil
		}
		return []byte{tagFalse}, nil
	case float64:
		if math.IsNaN(val) {
			return nil, fmt.Errorf("cannot encode NaN")
		}
		if val == 0 {
			val = 0 // fold -0 into +0
		}
		bits := math.Float64bits(val)
		if bits&(1<<63) == 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		out := make([]byte, 9)
		out[0] = tagNumber
		binary.BigEndian.PutUint64(out[1:], bits)
		return out, nil
	case string:
		out := make([]byte, 0, len(val)+3)
		out = append(out, tagString)
		for i := 0; i < len(val); i++ {
			if val[i] == 0x00 {
				out = append(out, 0x00, 0xFF)
				continue
			}
			out = append(out, val[i])
		}
		return append(out, 0x00, 0x01), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as key", v)
	}
}

// Decode parses one encoded value from the front of b and returns it with
// the number of bytes consumed.
func Decode(b []byte) (any, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("empty key")
	}
	switch b[0] {
	case tagNull:
		return nil, 1, nil
	case tagFalse:
		return false, 1, nil
	case tagTrue:
		return true, 1, nil
	case tagNumber:
		if len(b) < 9 {
			return nil, 0, fmt.Errorf("truncated number")
		}
		bits := binary.BigEndian.Uint64(b[1:9])
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), 9, nil
	case tagString:
		var out []byte
		for i := 1; i < len(b); i++ {
			if b[i] != 0x00 {
				out = append(out, b[i])
				continue
			}
			if i+1 >= len(b) {
				return nil, 0, fmt.Errorf("truncated string")
			}
			switch b[i+1] {
			case 0x01:
				return string(out), i + 2, nil
			case 0xFF:
				out = append(out, 0x00)
				i++
			default:
				return nil, 0, fmt.Errorf("invalid string escape 0x%02x", b[i+1])
			}
		}
		return nil, 0, fmt.Errorf("unterminated string")
	default:
		return nil, 0, fmt.Errorf("unknown key tag 0x%02x", b[0])
	}
}

// Version is the key holding the persisted schema version
func Version() []byte {
	return clone(versionKey)
}

// EncodeVersion encodes a schema version value
func EncodeVersion(v int) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out
}

// DecodeVersion decodes a schema version value
func DecodeVersion(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid version value of %d bytes", len(b))
	}
	return int(binary.BigEndian.Uint64(b)), nil
}

// CollectionMetaPrefix prefixes every persisted collection declaration
func CollectionMetaPrefix() []byte {
	return clone(collectionPrefix)
}

// CollectionMeta is the key of one persisted collection declaration
func CollectionMeta(collection string) []byte {
	return append(clone(collectionPrefix), collection...)
}

// RecordPrefix prefixes every record key of a collection
func RecordPrefix(collection string) []byte {
	out := make([]byte, 0, len(collection)+3)
	out = append(out, 'r', '/')
	out = append(out, collection...)
	return append(out, 0x00)
}

// Record is the key of one record
func Record(collection string, pk []byte) []byte {
	return append(RecordPrefix(collection), pk...)
}

// IndexCollectionPrefix prefixes every index entry of a collection
func IndexCollectionPrefix(collection string) []byte {
	out := make([]byte, 0, len(collection)+3)
	out = append(out, 'x', '/')
	out = append(out, collection...)
	return append(out, 0x00)
}

// IndexPrefix prefixes every entry of one index
func IndexPrefix(collection, field string) []byte {
	out := IndexCollectionPrefix(collection)
	out = append(out, field...)
	return append(out, 0x00)
}

// IndexValuePrefix prefixes the entries of one index holding value enc
func IndexValuePrefix(collection, field string, enc []byte) []byte {
	return append(IndexPrefix(collection, field), enc...)
}

// IndexEntry is the key of one index entry
func IndexEntry(collection, field string, enc, pk []byte) []byte {
	return append(IndexValuePrefix(collection, field, enc), pk...)
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// HasPrefix is bytes.HasPrefix, exported for engines
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
