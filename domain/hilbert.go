package domain

import (
	mathbits "math/bits"

	"github.com/sixy6e/go-arraycore/datatype"
)

// HilbertIndex computes a cell's position along the domain's Hilbert
// curve, used as the sort key for Hilbert cell order (spec §4.7: "for
// Hilbert cell order, the key is the precomputed 64-bit Hilbert index of
// the cell"). Each dimension's raw bytes are first projected onto a
// monotone uint64 via that dimension's Ops.MapToUint64 and taken relative
// to the dimension's domain low bound, then interleaved via Skilling's
// axes-to-index transform. Per-dimension precision is capped at 64/NDim
// bits so the interleaved result still fits uint64: a domain span wider
// than that is shifted right until it fits, which loses low-order
// resolution and only affects tie-breaking among cells that agree on
// every higher bit (spec doesn't require exact distances, only a total
// order consistent with a space-filling curve). A var-sized dimension, or
// one without domain bounds, uses the top bits of its mapped value.
func (dm *Domain) HilbertIndex(coords [][]byte) uint64 {
	n := len(dm.Dimensions)
	bits := 64 / n
	if bits == 0 {
		bits = 1
	}
	if bits > 32 {
		bits = 32
	}
	x := make([]uint64, n)
	for i, d := range dm.Dimensions {
		key := hilbertKey(d, coords[i])
		if d.Type.IsVarSized() || len(d.DomainLow) == 0 || len(d.DomainHigh) == 0 {
			x[i] = key >> uint(64-bits)
			continue
		}
		lo := hilbertKey(d, d.DomainLow)
		shift := 0
		if l := mathbits.Len64(hilbertKey(d, d.DomainHigh) - lo); l > bits {
			shift = l - bits
		}
		x[i] = (key - lo) >> uint(shift)
	}
	return hilbertAxesToIndex(uint(bits), x)
}

func hilbertKey(d Dimension, v []byte) uint64 {
	return datatype.OpsFor(d.Type).MapToUint64(v)
}

// hilbertAxesToIndex is Skilling's transform from per-axis coordinates
// (each using the low `bits` bits) to a single interleaved Hilbert index.
func hilbertAxesToIndex(bits uint, x []uint64) uint64 {
	n := len(x)
	x = append([]uint64(nil), x...)
	m := uint64(1) << (bits - 1)

	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < n; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}
	for i := 1; i < n; i++ {
		x[i] ^= x[i-1]
	}
	var t uint64
	for q := m; q > 1; q >>= 1 {
		if x[n-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := range x {
		x[i] ^= t
	}

	var idx uint64
	for b := int(bits) - 1; b >= 0; b-- {
		for i := 0; i < n; i++ {
			idx <<= 1
			idx |= (x[i] >> uint(b)) & 1
		}
	}
	return idx
}
