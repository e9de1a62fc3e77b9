package query

import (
	"github.com/sixy6e/go-arraycore/copyengine"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/rcslab"
	"github.com/sixy6e/go-arraycore/resultspace"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// buildSpaceTileSlabs resolves, cell by cell, which contribution (newest
// covering fragment wins), sparse override, or fill owns each position in
// st's tile-wide grid, then coalesces consecutive same-owner dense runs
// into slabs (spec §4.3's shadowing resolution plus spec §4.5's slab
// coalescing). A sparse override (spec §4.3, "Sparse fragments are added
// afterwards via the Sparse Selector") always wins over a dense
// Contribution at the same coordinate and is never coalesced with its
// neighbors, since its Start addresses its own sparse tile's local cell
// numbering rather than this space tile's flat grid position (spec §4.5,
// "a run covered by a sparse result-coord already computed for this space
// tile").
func buildSpaceTileSlabs(dm *domain.Domain, st *resultspace.SpaceTile) []rcslab.Slab {
	counts := make([]uint64, dm.NDim())
	total := uint64(1)
	for d, r := range st.Range {
		dt := dm.Dimensions[d].Type
		counts[d] = uint64(domain.DecodeInt64(dt, r.High)-domain.DecodeInt64(dt, r.Low)) + 1
		total *= counts[d]
	}

	var out []rcslab.Slab
	var curTile *tilestore.ResultTile
	curStart := 0
	curLen := 0

	flush := func() {
		if curLen == 0 {
			return
		}
		out = append(out, rcslab.Slab{Tile: curTile, Start: curStart, Length: curLen})
		curLen = 0
	}

	for idx := uint64(0); idx < total; idx++ {
		offsets := copyengine.Unravel(idx, counts, dm.TileOrder)
		tile, cell, sparse := contributionAt(dm, st, offsets, int(idx))
		if sparse {
			flush()
			out = append(out, rcslab.Slab{Tile: tile, Start: cell, Length: 1})
			curTile = nil
			continue
		}
		if curLen > 0 && tile == curTile {
			curLen++
			continue
		}
		flush()
		curTile = tile
		curStart = cell
		curLen = 1
	}
	flush()
	return out
}

// contributionAt resolves ownership of the cell at offsets within st's
// tile-wide grid: a sparse override (if any) wins outright; otherwise the
// first (newest) dense Contribution whose Slice covers it; otherwise a
// dense gap cell with no owner, copied from fill values (spec
// §4.3/§4.8). flatIdx is the cell's flat position in the space tile's
// grid, used as a dense Contribution's in-tile cell index.
func contributionAt(dm *domain.Domain, st *resultspace.SpaceTile, offsets []uint64, flatIdx int) (tile *tilestore.ResultTile, cell int, sparse bool) {
	abs := make([][]byte, dm.NDim())
	for d := 0; d < dm.NDim(); d++ {
		dt := dm.Dimensions[d].Type
		low := domain.DecodeInt64(dt, st.Range[d].Low)
		abs[d] = domain.EncodeInt64(dt, low+int64(offsets[d]))
	}
	if len(st.SparseCells) > 0 {
		if sc, ok := st.SparseCells[resultspace.CoordKey(abs)]; ok {
			return sc.Tile, sc.Cell, true
		}
	}
	for _, c := range st.Contributions {
		covered := true
		for d := 0; d < dm.NDim(); d++ {
			if !c.Slice[d].Contains(dm.Dimensions[d].Type, abs[d]) {
				covered = false
				break
			}
		}
		if covered {
			return c.Tile, flatIdx, false
		}
	}
	return nil, flatIdx, false
}
