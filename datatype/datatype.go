// Package datatype implements the closed enumeration of scalar kinds a
// dimension or attribute may carry (spec §3, "Datatype"), plus the
// per-kind dispatch table (compare, map-to-uint64, range test) that
// the rest of the core uses instead of switching on kind at every call
// site. Byte encodings follow the teacher's convention of big-endian wire
// values (see the original gsf decode package).
package datatype

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Kind is the scalar tag. var-length string kinds have no fixed size
// (FixedSize reports ok=false for them).
type Kind uint8

const (
	Int8 Kind = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	DateTime
	Blob
	StringASCII
	StringUTF8
)

func (k Kind) String() string {
	switch k {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case DateTime:
		return "datetime"
	case Blob:
		return "blob"
	case StringASCII:
		return "ascii"
	case StringUTF8:
		return "utf8"
	default:
		return "unknown"
	}
}

// ParseKind resolves a kind's canonical String() form back into a Kind,
// used by config loaders that describe a schema in text (e.g. the CLI's
// TOML array definitions).
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "uint64":
		return Uint64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	case "datetime":
		return DateTime, nil
	case "blob":
		return Blob, nil
	case "ascii":
		return StringASCII, nil
	case "utf8":
		return StringUTF8, nil
	default:
		return 0, errors.Errorf("datatype: unknown kind %q", s)
	}
}

// TimeUnit tags the calendar/clock family; meaningful only when Kind == DateTime.
type TimeUnit uint8

const (
	Year TimeUnit = iota
	Month
	Week
	Day
	Hour
	Minute
	Second
	Millisecond
	Microsecond
	Nanosecond
	Picosecond
	Femtosecond
	Attosecond
)

// Datatype is Kind plus the unit tag required for DateTime.
type Datatype struct {
	Kind     Kind
	TimeUnit TimeUnit
}

// IsVarSized reports whether values of this type have no fixed in-memory size.
func (d Datatype) IsVarSized() bool {
	return d.Kind == StringASCII || d.Kind == StringUTF8
}

func (d Datatype) IsString() bool {
	return d.Kind == StringASCII || d.Kind == StringUTF8
}

// FixedSize returns the in-memory size of one value, or ok=false for var-sized kinds.
func (d Datatype) FixedSize() (size int, ok bool) {
	switch d.Kind {
	case Int8, Uint8, Blob:
		return 1, true
	case Int16, Uint16:
		return 2, true
	case Int32, Uint32, Float32:
		return 4, true
	case Int64, Uint64, Float64, DateTime:
		return 8, true
	default:
		return 0, false
	}
}

// Ops is the per-kind vtable that range tests, coordinate comparison,
// condition evaluation and Hilbert mapping dispatch through; callers fetch
// it with OpsFor where they use it, typically once per cell.
type Ops struct {
	// Compare returns -1/0/1 for a<b, a==b, a>b.
	Compare func(a, b []byte) int
	// MapToUint64 projects a value onto a monotone uint64 domain for Hilbert indexing.
	MapToUint64 func(v []byte) uint64
	// InRange reports whether v lies in the closed interval [lo, hi].
	InRange func(v, lo, hi []byte) bool
}

var errUnsupportedKind = errors.New("datatype: unsupported kind for byte-level ops")

// OpsFor returns the dispatch table for d. String kinds compare lexicographically.
func OpsFor(d Datatype) Ops {
	if d.IsString() {
		return Ops{
			Compare:     bytes.Compare,
			MapToUint64: mapStringToUint64,
			InRange:     stringInRange,
		}
	}
	switch d.Kind {
	case Int8:
		return signedOps(1)
	case Int16:
		return signedOps(2)
	case Int32:
		return signedOps(4)
	case Int64, DateTime:
		return signedOps(8)
	case Uint8:
		return unsignedOps(1)
	case Uint16:
		return unsignedOps(2)
	case Uint32:
		return unsignedOps(4)
	case Uint64:
		return unsignedOps(8)
	case Float32:
		return float32Ops()
	case Float64:
		return float64Ops()
	case Blob:
		return Ops{Compare: bytes.Compare, MapToUint64: mapStringToUint64, InRange: stringInRange}
	default:
		panic(errors.Wrapf(errUnsupportedKind, "kind=%v", d.Kind))
	}
}

func signedInt(width int, b []byte) int64 {
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}

func unsignedInt(width int, b []byte) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

func signedOps(width int) Ops {
	return Ops{
		Compare: func(a, b []byte) int {
			av, bv := signedInt(width, a), signedInt(width, b)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		},
		MapToUint64: func(v []byte) uint64 {
			// shift the signed range up so ordering is preserved in uint64 space.
			sv := signedInt(width, v)
			return uint64(sv) ^ (uint64(1) << 63)
		},
		InRange: func(v, lo, hi []byte) bool {
			vv := signedInt(width, v)
			return signedInt(width, lo) <= vv && vv <= signedInt(width, hi)
		},
	}
}

func unsignedOps(width int) Ops {
	return Ops{
		Compare: func(a, b []byte) int {
			av, bv := unsignedInt(width, a), unsignedInt(width, b)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		},
		MapToUint64: func(v []byte) uint64 { return unsignedInt(width, v) },
		InRange: func(v, lo, hi []byte) bool {
			vv := unsignedInt(width, v)
			return unsignedInt(width, lo) <= vv && vv <= unsignedInt(width, hi)
		},
	}
}

func float32Ops() Ops {
	load := func(b []byte) float32 { return math.Float32frombits(binary.BigEndian.Uint32(b)) }
	return Ops{
		Compare: func(a, b []byte) int {
			av, bv := load(a), load(b)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		},
		MapToUint64: func(v []byte) uint64 {
			bits := binary.BigEndian.Uint32(v)
			if bits&0x80000000 != 0 {
				bits = ^bits
			} else {
				bits |= 0x80000000
			}
			return uint64(bits) << 32
		},
		InRange: func(v, lo, hi []byte) bool {
			vv := load(v)
			return load(lo) <= vv && vv <= load(hi)
		},
	}
}

func float64Ops() Ops {
	load := func(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) }
	return Ops{
		Compare: func(a, b []byte) int {
			av, bv := load(a), load(b)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		},
		MapToUint64: func(v []byte) uint64 {
			bits := binary.BigEndian.Uint64(v)
			if bits&0x8000000000000000 != 0 {
				bits = ^bits
			} else {
				bits |= 0x8000000000000000
			}
			return bits
		},
		InRange: func(v, lo, hi []byte) bool {
			vv := load(v)
			return load(lo) <= vv && vv <= load(hi)
		},
	}
}

func mapStringToUint64(v []byte) uint64 {
	var buf [8]byte
	n := copy(buf[:], v)
	_ = n
	return binary.BigEndian.Uint64(buf[:])
}

func stringInRange(v, lo, hi []byte) bool {
	return bytes.Compare(lo, v) <= 0 && bytes.Compare(v, hi) <= 0
}
