package domain

import (
	"encoding/binary"
	"math"

	"github.com/sixy6e/go-arraycore/datatype"
)

// loadInt/storeInt/loadFloat/storeFloat give the partitioner and tile
// coordinate arithmetic a uniform int64/float64 view of a dimension's
// native byte encoding, independent of its concrete width.

func loadInt(dt datatype.Datatype, b []byte) int64 {
	size, _ := dt.FixedSize()
	switch size {
	case 1:
		if isUnsigned(dt.Kind) {
			return int64(b[0])
		}
		return int64(int8(b[0]))
	case 2:
		if isUnsigned(dt.Kind) {
			return int64(binary.BigEndian.Uint16(b))
		}
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		if isUnsigned(dt.Kind) {
			return int64(binary.BigEndian.Uint32(b))
		}
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}

func storeInt(dt datatype.Datatype, v int64) []byte {
	size, _ := dt.FixedSize()
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(v))
	default:
		binary.BigEndian.PutUint64(buf, uint64(v))
	}
	return buf
}

func loadFloat(dt datatype.Datatype, b []byte) float64 {
	if dt.Kind == datatype.Float32 {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func storeFloat(dt datatype.Datatype, v float64) []byte {
	if dt.Kind == datatype.Float32 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func isUnsigned(k datatype.Kind) bool {
	switch k {
	case datatype.Uint8, datatype.Uint16, datatype.Uint32, datatype.Uint64:
		return true
	default:
		return false
	}
}

// EncodeInt64 and EncodeFloat64 expose the codec to callers building test
// fixtures and CLI flags without reaching into package internals.
func EncodeInt64(dt datatype.Datatype, v int64) []byte   { return storeInt(dt, v) }
func DecodeInt64(dt datatype.Datatype, b []byte) int64   { return loadInt(dt, b) }
func EncodeFloat64(dt datatype.Datatype, v float64) []byte { return storeFloat(dt, v) }
func DecodeFloat64(dt datatype.Datatype, b []byte) float64 { return loadFloat(dt, b) }
