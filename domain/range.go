// Package domain implements the typed range algebra and schema model of
// spec §3-4.1: Range, NDRange, Dimension, Domain, ArraySchema, Attribute,
// and the tile-coordinate / Hilbert arithmetic that sits under the
// partitioner, the result-space-tile planner, and the bitmap evaluator.
package domain

import (
	"bytes"

	"github.com/samber/lo"
	"github.com/sixy6e/go-arraycore/datatype"
)

// Range is a typed, closed interval. Numeric dimensions store the interval
// bounds in the dimension's native byte encoding; string dimensions store
// raw byte sequences compared lexicographically. Empty ranges are never
// constructed inside the core (spec §3): callers normalize beforehand.
type Range struct {
	Low  []byte
	High []byte
}

// NDRange is one range per dimension; its length always equals the domain's
// dimension count.
type NDRange []Range

// Contains reports whether v lies in the closed range under dt's ops.
func (r Range) Contains(dt datatype.Datatype, v []byte) bool {
	return datatype.OpsFor(dt).InRange(v, r.Low, r.High)
}

// Intersects reports whether r and other overlap under dt's ordering.
func (r Range) Intersects(dt datatype.Datatype, other Range) bool {
	ops := datatype.OpsFor(dt)
	return ops.Compare(r.Low, other.High) <= 0 && ops.Compare(other.Low, r.High) <= 0
}

// Intersection returns the overlapping sub-range; ok is false when disjoint.
func (r Range) Intersection(dt datatype.Datatype, other Range) (Range, bool) {
	if !r.Intersects(dt, other) {
		return Range{}, false
	}
	ops := datatype.OpsFor(dt)
	lo := r.Low
	if ops.Compare(other.Low, lo) > 0 {
		lo = other.Low
	}
	hi := r.High
	if ops.Compare(other.High, hi) < 0 {
		hi = other.High
	}
	return Range{Low: lo, High: hi}, true
}

// IsSingleCell reports whether the range covers exactly one value: for
// numeric dims, Low==High; for string dims, the same lexical test.
func (r Range) IsSingleCell(dt datatype.Datatype) bool {
	return datatype.OpsFor(dt).Compare(r.Low, r.High) == 0
}

// Split bisects r along its longest axis: numeric ranges split at the
// midpoint, string ranges split by shortest-common-prefix bisection (spec
// §4.1 split_current). ok is false when r is already a single cell.
func (r Range) Split(dt datatype.Datatype) (left, right Range, ok bool) {
	if r.IsSingleCell(dt) {
		return Range{}, Range{}, false
	}
	if dt.IsString() {
		return splitStringRange(r)
	}
	return splitNumericRange(dt, r)
}

func splitNumericRange(dt datatype.Datatype, r Range) (Range, Range, bool) {
	ops := datatype.OpsFor(dt)
	switch dt.Kind {
	case datatype.Float32, datatype.Float64:
		lo := loadFloat(dt, r.Low)
		hi := loadFloat(dt, r.High)
		mid := lo + (hi-lo)/2
		midB := storeFloat(dt, mid)
		if ops.Compare(midB, r.Low) == 0 || ops.Compare(midB, r.High) == 0 {
			return Range{}, Range{}, false
		}
		return Range{Low: r.Low, High: midB}, Range{Low: midB, High: r.High}, true
	default:
		lo := loadInt(dt, r.Low)
		hi := loadInt(dt, r.High)
		if hi-lo <= 1 {
			// adjacent integers: still two distinct single-cell ranges.
			return Range{Low: r.Low, High: r.Low}, Range{Low: r.High, High: r.High}, true
		}
		mid := lo + (hi-lo)/2
		midB := storeInt(dt, mid)
		midNext := storeInt(dt, mid+1)
		return Range{Low: r.Low, High: midB}, Range{Low: midNext, High: r.High}, true
	}
}

func splitStringRange(r Range) (Range, Range, bool) {
	prefixLen := commonPrefixLen(r.Low, r.High)
	// bisect on the first differing byte (or, if one is a strict prefix of
	// the other, split right after the shared prefix).
	if prefixLen >= len(r.Low) || prefixLen >= len(r.High) {
		if len(r.Low) == len(r.High) {
			return Range{}, Range{}, false
		}
		mid := append(append([]byte{}, r.Low...), 0)
		if bytes.Equal(mid, r.Low) {
			return Range{}, Range{}, false
		}
		return Range{Low: r.Low, High: mid}, Range{Low: mid, High: r.High}, true
	}
	loByte, hiByte := r.Low[prefixLen], r.High[prefixLen]
	if hiByte-loByte <= 1 {
		return Range{Low: r.Low, High: r.Low}, Range{Low: r.High, High: r.High}, true
	}
	midByte := loByte + (hiByte-loByte)/2
	mid := append(append([]byte{}, r.Low[:prefixLen]...), midByte)
	return Range{Low: r.Low, High: mid}, Range{Low: mid, High: r.High}, true
}

func commonPrefixLen(a, b []byte) int {
	n := lo.Min([]int{len(a), len(b)})
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
