// Package copyengine implements the Copy Engine of spec §4.8: bounded
// copy of a result cell slab list into caller-bound output buffers,
// honoring the configured offset width/mode, the optional trailing
// offset element, and the overflow-and-truncate contract the Read State
// Machine relies on to resume a query across dowork calls.
package copyengine

import (
	"encoding/binary"

	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/rcslab"
)

// OffsetsMode records whether var-field offsets are requested in bytes or
// element counts (spec §6, "Configure offsets"). CopyAll writes byte
// offsets under either value; element-count offsets are not produced.
type OffsetsMode uint8

const (
	OffsetsBytes OffsetsMode = iota
	OffsetsElements
)

// BufferSpec is one bound output buffer (spec §4.8). Fixed holds raw
// fixed-width cell bytes for a fixed field, or the offsets array for a
// var field ("kind ∈ {fixed, var-offsets+var-data}" share one ptr/cap
// pair named fixed in the source contract). Var and Validity are nil
// when the field is fixed-only / non-nullable respectively.
type BufferSpec struct {
	Name                string
	Fixed               []byte
	Var                 []byte
	Validity            []byte
	OffsetBits          int // 32 or 64; only meaningful when Var != nil
	OffsetsMode         OffsetsMode
	OffsetsExtraElement bool
}

// BufferResult reports how many bytes were actually written into each
// section of a BufferSpec (spec §4.8, "updates each bound buffer's
// reported size to the number of bytes actually written").
type BufferResult struct {
	FixedBytes    int
	VarBytes      int
	ValidityBytes int
}

// FieldValue abstracts how a field's bytes for one cell are fetched,
// whether from a dimension's CoordTileView, an attribute's Tile, or (for
// a fill slab) a constant fill value. Returning ok=false means the field
// isn't present for this slab (caller treats it as a copy error).
type FieldValue func(slab rcslab.Slab, cellInSlab int) (value []byte, null bool, ok bool)

// Field describes one bound field's static shape.
type Field struct {
	Name       string
	Nullable   bool
	VarSized   bool
	FixedWidth int // byte width of one cell's fixed-size value; unused when VarSized
	Value      FieldValue
}

type cursor struct {
	spec        *BufferSpec
	fixedOff    int
	varOff      int
	validityOff int
	offsetsWrtn int
}

func offsetWidth(bits int) int {
	if bits == 32 {
		return 4
	}
	return 8
}

func writeOffset(dst []byte, index, bits int, value uint64) {
	if bits == 32 {
		binary.BigEndian.PutUint32(dst[index*4:], uint32(value))
		return
	}
	binary.BigEndian.PutUint64(dst[index*8:], value)
}

// fits reports whether writing one more cell of field f, sourced from
// value/null, would still be within every capacity the cursor tracks.
func fits(f Field, c *cursor, value []byte) bool {
	if f.VarSized {
		ow := offsetWidth(c.spec.OffsetBits)
		if c.fixedOff+ow > len(c.spec.Fixed) {
			return false
		}
		if c.varOff+len(value) > len(c.spec.Var) {
			return false
		}
	} else {
		if c.fixedOff+f.FixedWidth > len(c.spec.Fixed) {
			return false
		}
	}
	if f.Nullable && c.validityOff+1 > len(c.spec.Validity) {
		return false
	}
	return true
}

// commit writes one cell's worth of field f into the cursor's buffers.
func commit(f Field, c *cursor, value []byte, null bool) {
	if f.VarSized {
		ow := offsetWidth(c.spec.OffsetBits)
		// offsets are byte offsets into the var buffer whatever
		// OffsetsMode says, so a var field with a multi-byte element type
		// also gets byte offsets in OffsetsElements mode.
		writeOffset(c.spec.Fixed, c.offsetsWrtn, c.spec.OffsetBits, uint64(c.varOff))
		c.fixedOff += ow
		c.offsetsWrtn++
		copy(c.spec.Var[c.varOff:], value)
		c.varOff += len(value)
	} else {
		copy(c.spec.Fixed[c.fixedOff:c.fixedOff+f.FixedWidth], value)
		c.fixedOff += f.FixedWidth
	}
	if f.Nullable {
		if null {
			c.spec.Validity[c.validityOff] = 0
		} else {
			c.spec.Validity[c.validityOff] = 1
		}
		c.validityOff++
	}
}

// CopyAll copies slabs into every bound field's buffer, cell by cell, in
// slab order. It stops the instant any one buffer would overrun its
// capacity, so that every bound field advances by the same number of
// cells (spec §4.8, overflow steps 1-4): it writes the complete cells
// that fit, reports overflowed=true, and returns the truncated slab list
// starting at the first not-yet-copied cell for the next dowork call.
func CopyAll(slabs []rcslab.Slab, fields []Field, specs map[string]*BufferSpec) (remaining []rcslab.Slab, overflowed bool, results map[string]BufferResult) {
	cursors := make(map[string]*cursor, len(fields))
	for _, f := range fields {
		cursors[f.Name] = &cursor{spec: specs[f.Name]}
	}

outer:
	for si, slab := range slabs {
		for i := 0; i < slab.Length; i++ {
			values := make([][]byte, len(fields))
			nulls := make([]bool, len(fields))
			for fi, f := range fields {
				v, null, ok := f.Value(slab, i)
				if !ok {
					continue
				}
				values[fi] = v
				nulls[fi] = null
				if !fits(f, cursors[f.Name], v) {
					overflowed = true
					remaining = truncate(slabs, si, i)
					break outer
				}
			}
			for fi, f := range fields {
				if values[fi] == nil && !nulls[fi] {
					continue
				}
				commit(f, cursors[f.Name], values[fi], nulls[fi])
			}
		}
	}

	results = make(map[string]BufferResult, len(fields))
	for _, f := range fields {
		c := cursors[f.Name]
		if f.VarSized && specs[f.Name].OffsetsExtraElement {
			ow := offsetWidth(specs[f.Name].OffsetBits)
			if c.fixedOff+ow <= len(c.spec.Fixed) {
				writeOffset(c.spec.Fixed, c.offsetsWrtn, specs[f.Name].OffsetBits, uint64(c.varOff))
				c.fixedOff += ow
			}
		}
		results[f.Name] = BufferResult{FixedBytes: c.fixedOff, VarBytes: c.varOff, ValidityBytes: c.validityOff}
	}
	return remaining, overflowed, results
}

// truncate rebuilds the slab list so the first surviving slab begins at
// cellInSlab (spec §4.8 step 3); earlier slabs and earlier cells of the
// current slab are dropped, later slabs are kept verbatim.
func truncate(slabs []rcslab.Slab, si, cellInSlab int) []rcslab.Slab {
	slab := slabs[si]
	head := rcslab.Slab{Tile: slab.Tile, Start: slab.Start + cellInSlab, Length: slab.Length - cellInSlab}
	out := make([]rcslab.Slab, 0, len(slabs)-si)
	out = append(out, head)
	out = append(out, slabs[si+1:]...)
	return out
}

// DenseCoordCursor resumes dense coordinate synthesis across dowork
// calls without re-deriving a source tile (there is none): it is just a
// flat index into the row/col-major enumeration of the subarray's cells.
type DenseCoordCursor struct {
	Skip uint64
}

// Unravel decomposes a flat index into per-dimension offsets honoring
// order (row-major: last dimension fastest; column-major: first
// dimension fastest). Exported so callers synthesizing dense coordinates
// outside of CopyDenseCoords (e.g. the query orchestration layer's
// unified slab-based dense copy) share the same convention.
func Unravel(idx uint64, counts []uint64, order domain.Order) []uint64 {
	n := len(counts)
	fastToSlow := make([]int, n)
	for i := range fastToSlow {
		if order == domain.ColMajor {
			fastToSlow[i] = i
		} else {
			fastToSlow[i] = n - 1 - i
		}
	}
	out := make([]uint64, n)
	rem := idx
	for _, d := range fastToSlow {
		if counts[d] == 0 {
			continue
		}
		out[d] = rem % counts[d]
		rem /= counts[d]
	}
	return out
}

// DenseCoordField is one dimension bound as an output coordinate buffer.
type DenseCoordField struct {
	Name     string
	DimIndex int
	Datatype interface {
		FixedSize() (int, bool)
	}
	Low []byte // NDRange low bound for this dimension, as encoded bytes
}

// EncodeDenseCoord computes the encoded coordinate of the cell at
// tile-relative offset n along one dimension, given its domain-low bound.
// It is a small free function rather than a method so copyengine doesn't
// need to import the domain package's integer codec internals beyond
// what's already exposed.
type EncodeDenseCoord func(low []byte, n uint64) []byte

// CopyDenseCoords synthesizes per-dimension coordinates for the cartesian
// product described by counts (spec §4.8, "Dense coordinate synthesis"):
// no tile I/O, honoring the same overflow rules as CopyAll. cursor.Skip
// cells are skipped (already emitted by a prior dowork call); on
// overflow cursor.Skip is advanced to the first not-yet-copied flat
// index and overflowed=true is returned.
func CopyDenseCoords(counts []uint64, order domain.Order, fields []DenseCoordField, encode EncodeDenseCoord, specs map[string]*BufferSpec, dc *DenseCoordCursor) (overflowed bool, results map[string]BufferResult) {
	total := uint64(1)
	for _, c := range counts {
		total *= c
	}

	cursors := make(map[string]*cursor, len(fields))
	for _, f := range fields {
		cursors[f.Name] = &cursor{spec: specs[f.Name]}
	}

	idx := dc.Skip
	for ; idx < total; idx++ {
		offsets := Unravel(idx, counts, order)
		values := make([][]byte, len(fields))
		ok := true
		for fi, f := range fields {
			width, fixedOk := f.Datatype.FixedSize()
			if !fixedOk {
				continue // var-sized dense dims are not supported; caller must not bind one
			}
			v := encode(f.Low, offsets[f.DimIndex])
			values[fi] = v
			c := cursors[f.Name]
			if c.fixedOff+width > len(c.spec.Fixed) {
				ok = false
				break
			}
		}
		if !ok {
			dc.Skip = idx
			return true, finalizeDense(cursors, fields)
		}
		for fi, f := range fields {
			width, _ := f.Datatype.FixedSize()
			c := cursors[f.Name]
			copy(c.spec.Fixed[c.fixedOff:c.fixedOff+width], values[fi])
			c.fixedOff += width
		}
	}
	dc.Skip = total
	return false, finalizeDense(cursors, fields)
}

func finalizeDense(cursors map[string]*cursor, fields []DenseCoordField) map[string]BufferResult {
	out := make(map[string]BufferResult, len(fields))
	for _, f := range fields {
		c := cursors[f.Name]
		out[f.Name] = BufferResult{FixedBytes: c.fixedOff}
	}
	return out
}
