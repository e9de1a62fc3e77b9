package query

import (
	"github.com/sixy6e/go-arraycore/copyengine"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/rcslab"
)

// attrFieldValue fetches one bound attribute's bytes for a cell, falling
// back to the attribute's fill value for fill slabs (dense gap cells with
// no covering fragment, spec §4.3).
func attrFieldValue(attr domain.Attribute) copyengine.FieldValue {
	return func(slab rcslab.Slab, cellInSlab int) ([]byte, bool, bool) {
		if slab.IsFill() {
			return attr.FillValue, false, true
		}
		tile, ok := slab.Tile.AttrTile(attr.Name)
		if !ok {
			return nil, false, false
		}
		cell := slab.Start + cellInSlab
		if attr.Nullable && tile.IsNull(cell) {
			return nil, true, true
		}
		if attr.IsVar() {
			return tile.VarValue(cell), false, true
		}
		size, _ := attr.Type.FixedSize()
		return tile.Fixed[cell*size : (cell+1)*size], false, true
	}
}

// sparseDimFieldValue fetches dimension dimIdx's coordinate bytes
// directly from the covering fragment's CoordTileView (sparse reads
// only: dense reads synthesize coordinates instead, via
// denseDimFieldValue, since dense coordinates are never stored on disk).
func sparseDimFieldValue(dimIdx int) copyengine.FieldValue {
	return func(slab rcslab.Slab, cellInSlab int) ([]byte, bool, bool) {
		if slab.IsFill() {
			return nil, false, false
		}
		cell := slab.Start + cellInSlab
		return slab.Tile.Coords.Coord(cell, dimIdx), false, true
	}
}

// denseCoordContext is the mutable per-space-tile state the dense
// coordinate FieldValue closures read from; Query repoints it at the
// current space tile's range before copying that tile's slabs.
type denseCoordContext struct {
	dm     *domain.Domain
	rng    domain.NDRange
	counts []uint64
}

func (c *denseCoordContext) set(dm *domain.Domain, rng domain.NDRange) {
	c.dm = dm
	c.rng = rng
	c.counts = make([]uint64, len(rng))
	for d, r := range rng {
		dt := dm.Dimensions[d].Type
		c.counts[d] = uint64(domain.DecodeInt64(dt, r.High)-domain.DecodeInt64(dt, r.Low)) + 1
	}
}

// denseDimFieldValue derives dimension dimIdx's coordinate purely from a
// cell's flat position within the current space tile (spec §4.8, "Dense
// coordinate synthesis"): every dense contribution's ResultTile and every
// fill run share one tile-wide cell grid (spec §4.3), so the flat index
// alone — with no tile lookup — determines the coordinate. A sparse
// override slab (spec §4.3) is addressed by its own sparse tile's local
// cell numbering instead, so its coordinate is read back from the tile
// the same way sparseDimFieldValue reads it for an ordinary sparse read.
func denseDimFieldValue(ctx *denseCoordContext, dimIdx int) copyengine.FieldValue {
	return func(slab rcslab.Slab, cellInSlab int) ([]byte, bool, bool) {
		if !slab.IsFill() && !slab.Tile.Dense {
			cell := slab.Start + cellInSlab
			return slab.Tile.Coords.Coord(cell, dimIdx), false, true
		}
		flat := uint64(slab.Start + cellInSlab)
		offsets := copyengine.Unravel(flat, ctx.counts, ctx.dm.TileOrder)
		dt := ctx.dm.Dimensions[dimIdx].Type
		low := domain.DecodeInt64(dt, ctx.rng[dimIdx].Low)
		return domain.EncodeInt64(dt, low+int64(offsets[dimIdx])), false, true
	}
}
