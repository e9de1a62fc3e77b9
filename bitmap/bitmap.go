// Package bitmap implements the Tile Bitmap Evaluator of spec §4.4: given
// a candidate tile and the subarray's per-dimension ranges, it produces a
// per-cell bitmap honoring dimension order and string-typed dimensions.
//
// Spec §3 allows the bitmap to be one of three shapes: absent (all cells
// pass), a byte-per-cell mask, or a byte-per-cell count for duplicate
// materialization. Here "absent" and "mask" share one representation
// (roaring.Bitmap, lazily materialized from an implicit all-pass state so
// the common case never allocates), and "count" is a dedicated []uint8
// mode, selected up front by the caller based on whether allows_dups with
// overlapping ranges is in play.
package bitmap

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// Bitmap is the per-cell result/overwritten mask for one candidate tile.
type Bitmap struct {
	bits     *roaring.Bitmap
	counts   []uint8
	numCells int
	allPass  bool
}

// NewAllPass returns a bitmap where every cell currently passes, without
// materializing a roaring.Bitmap until the first cell is excluded.
func NewAllPass(n int) *Bitmap {
	return &Bitmap{numCells: n, allPass: true}
}

// NewCounts returns a count-mode bitmap, every cell starting at count 1
// (used when the subarray's ranges may overlap and duplicates must be
// materialized, spec §3).
func NewCounts(n int) *Bitmap {
	c := make([]uint8, n)
	for i := range c {
		c[i] = 1
	}
	return &Bitmap{numCells: n, counts: c}
}

// NumCells reports the tile's cell count.
func (b *Bitmap) NumCells() int { return b.numCells }

// Passes reports whether cell is in the result set.
func (b *Bitmap) Passes(cell int) bool {
	if b == nil || b.allPass {
		return true
	}
	if b.counts != nil {
		return b.counts[cell] > 0
	}
	return b.bits.Contains(uint32(cell))
}

// Count reports how many times cell should be materialized (0, 1, or, in
// count mode, any non-negative value recorded by IncrCount).
func (b *Bitmap) Count(cell int) int {
	if b == nil || b.allPass {
		return 1
	}
	if b.counts != nil {
		return int(b.counts[cell])
	}
	if b.bits.Contains(uint32(cell)) {
		return 1
	}
	return 0
}

// IncrCount adds delta to cell's count in count-mode bitmaps; it is a
// no-op (and not meaningful) on mask-mode bitmaps.
func (b *Bitmap) IncrCount(cell int, delta int) {
	if b.counts == nil {
		return
	}
	v := int(b.counts[cell]) + delta
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	b.counts[cell] = uint8(v)
}

// Clear removes cell from the result set.
func (b *Bitmap) Clear(cell int) {
	if b.counts != nil {
		b.counts[cell] = 0
		return
	}
	if b.allPass {
		full := roaring.New()
		full.AddRange(0, uint64(b.numCells))
		b.bits = full
		b.allPass = false
	}
	b.bits.Remove(uint32(cell))
}

// Cardinality counts the surviving cells (counts >0 contribute 1 each in
// count mode — the slab builder expands by Count separately).
func (b *Bitmap) Cardinality() int {
	if b.allPass {
		return b.numCells
	}
	if b.counts != nil {
		n := 0
		for _, c := range b.counts {
			if c > 0 {
				n++
			}
		}
		return n
	}
	return int(b.bits.GetCardinality())
}

func dimIterationOrder(n int, cellOrder domain.Order) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if cellOrder == domain.ColMajor {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}

// countInRanges reports how many of ranges contain v: 0 means the cell is
// excluded on this dimension, >1 means more than one declared range on
// this dimension matches the same coordinate (spec §3, "a byte-per-cell
// count when duplicates must be materialized" — a query's subarray is the
// Cartesian product of its per-dimension range lists, so a cell's total
// multiplicity is the product of each dimension's match count).
func countInRanges(dt datatype.Datatype, v []byte, ranges []domain.Range) int {
	n := 0
	for _, r := range ranges {
		if r.Contains(dt, v) {
			n++
		}
	}
	return n
}

// Evaluate implements spec §4.4's algorithm: for each dimension d in cell
// order (reversed for col-major), AND the bitmap against "range on d
// contains cell i's d-th coord". dimRanges holds, per dimension, the list
// of ranges the subarray declared on it (a union). In count mode, a
// dimension with more than one matching range multiplies the cell's
// running count instead of merely passing it, so overlapping ranges
// correctly materialize the cell more than once downstream (merge.Merge,
// merge.MergeUnordered).
func Evaluate(rt *tilestore.ResultTile, dm *domain.Domain, dimRanges [][]domain.Range, cellOrder domain.Order, useCounts bool) *Bitmap {
	var b *Bitmap
	if useCounts {
		b = NewCounts(rt.CellCount)
	} else {
		b = NewAllPass(rt.CellCount)
	}
	for _, d := range dimIterationOrder(dm.NDim(), cellOrder) {
		dt := dm.Dimensions[d].Type
		ranges := dimRanges[d]
		for cell := 0; cell < rt.CellCount; cell++ {
			if !b.Passes(cell) {
				continue
			}
			v := rt.Coords.Coord(cell, d)
			m := countInRanges(dt, v, ranges)
			if m == 0 {
				b.Clear(cell)
				continue
			}
			if useCounts && m > 1 {
				old := b.Count(cell)
				b.IncrCount(cell, old*(m-1))
			}
		}
	}
	return b
}

// ApplyOverwritten implements the dense-array sparse-tile overwritten
// check of spec §4.4: a cell is removed from the mask when a
// newer-than-this-fragment's non-empty domain covers it.
func ApplyOverwritten(b *Bitmap, rt *tilestore.ResultTile, dm *domain.Domain, laterNonEmptyDomains []domain.NDRange) {
	for cell := 0; cell < rt.CellCount; cell++ {
		if !b.Passes(cell) {
			continue
		}
		for _, nd := range laterNonEmptyDomains {
			covered := true
			for d := 0; d < dm.NDim(); d++ {
				v := rt.Coords.Coord(cell, d)
				if !nd[d].Contains(dm.Dimensions[d].Type, v) {
					covered = false
					break
				}
			}
			if covered {
				b.Clear(cell)
				break
			}
		}
	}
}
