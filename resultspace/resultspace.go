// Package resultspace implements the dense Result Space Tile Planner of
// spec §4.3: for each tile-coordinate a dense subarray touches, it builds
// the ordered, newest-first list of contributing fragments, pruning any
// fragment already fully shadowed by a newer one.
package resultspace

import (
	"encoding/binary"

	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// Contribution is one fragment's share of a SpaceTile (spec §3, "Result
// Space Tile").
type Contribution struct {
	FragID string
	Slice  domain.NDRange
	Tile   *tilestore.ResultTile
}

// SparseCell is one sparse fragment's cell, selected by the Sparse
// Selector, that falls within a SpaceTile's range (spec §4.3, "Sparse
// fragments are added afterwards via the Sparse Selector"). Unlike a
// dense Contribution it addresses a single cell, not a slice, and it
// takes priority over every dense Contribution at the same coordinate.
type SparseCell struct {
	Tile *tilestore.ResultTile
	Cell int
}

// SpaceTile is the per-tile-coordinate planning unit for dense reads.
type SpaceTile struct {
	TileCoords    []uint64
	Range         domain.NDRange
	Contributions []Contribution

	// SparseCells holds this tile's sparse-fragment overrides, keyed by
	// CoordKey. Populated after Plan, once the Sparse Selector has run
	// against the same subarray (query.attachSparseOverrides).
	SparseCells map[string]SparseCell
	// SparseTiles is the deduplicated set of ResultTiles SparseCells
	// draws from, one arena reference held per entry here.
	SparseTiles []*tilestore.ResultTile
}

// TileCoordKey encodes a tile coordinate for use as a map key, e.g. to
// group sparse-fragment cells by the SpaceTile they fall into.
func TileCoordKey(tc []uint64) string {
	buf := make([]byte, 8*len(tc))
	for i, v := range tc {
		binary.BigEndian.PutUint64(buf[i*8:], v)
	}
	return string(buf)
}

// CoordKey encodes one cell's absolute per-dimension coordinate bytes for
// use as a SpaceTile.SparseCells map key.
func CoordKey(coord [][]byte) string {
	var buf []byte
	for _, v := range coord {
		buf = append(buf, byte(len(v)))
		buf = append(buf, v...)
	}
	return string(buf)
}

// Planner builds SpaceTiles for a dense subarray against its fragments.
type Planner struct {
	schema *domain.ArraySchema
	arena  *tilestore.Arena
}

func NewPlanner(schema *domain.ArraySchema, arena *tilestore.Arena) *Planner {
	return &Planner{schema: schema, arena: arena}
}

// Plan computes one SpaceTile per tile coordinate sa touches. frags must
// already be ordered newest-first (fragment.OrderByRecency).
func (p *Planner) Plan(sa *subarray.Subarray, frags []*fragment.Metadata) []*SpaceTile {
	dm := p.schema.Domain
	var out []*SpaceTile
	for _, tc := range sa.TileCoordsTouched() {
		st := &SpaceTile{TileCoords: tc, Range: tileRangeND(dm, tc)}
		for _, frag := range frags {
			if !frag.Dense {
				continue
			}
			if fullyShadowed(dm, st.Contributions, st.Range) {
				break
			}
			if !tileDomainContains(dm, frag.NonEmptyDomain, tc) {
				continue
			}
			slice := intersectTileWithDomain(dm, st.Range, frag.NonEmptyDomain)
			tileIdx := int(dm.LocalTileIndex(frag.NonEmptyDomain, tc))
			rt := p.arena.New(frag.ID, tileIdx, cellCountForRange(dm, st.Range), true)
			st.Contributions = append(st.Contributions, Contribution{FragID: frag.ID, Slice: slice, Tile: rt})
		}
		out = append(out, st)
	}
	return out
}

func tileRangeND(dm *domain.Domain, tc []uint64) domain.NDRange {
	nd := make(domain.NDRange, dm.NDim())
	for d := 0; d < dm.NDim(); d++ {
		nd[d] = domain.Range{Low: dm.TileStartCoord(d, tc[d]), High: dm.TileEndCoord(d, tc[d])}
	}
	return nd
}

func tileDomainContains(dm *domain.Domain, nd domain.NDRange, tc []uint64) bool {
	for d := 0; d < dm.NDim(); d++ {
		loTc := dm.TileCoord(d, nd[d].Low)
		hiTc := dm.TileCoord(d, nd[d].High)
		if tc[d] < loTc || tc[d] > hiTc {
			return false
		}
	}
	return true
}

// intersectTileWithDomain clips the tile's full range to the fragment's
// non-empty domain, yielding the slice that fragment actually contributes.
func intersectTileWithDomain(dm *domain.Domain, tileRange, nd domain.NDRange) domain.NDRange {
	out := make(domain.NDRange, dm.NDim())
	for d := 0; d < dm.NDim(); d++ {
		dt := dm.Dimensions[d].Type
		inter, ok := tileRange[d].Intersection(dt, nd[d])
		if !ok {
			out[d] = tileRange[d]
			continue
		}
		out[d] = inter
	}
	return out
}

// fullyShadowed reports whether some already-accepted contribution's
// slice fully covers tileRange: once true, every remaining (necessarily
// older) fragment contributes nothing new to this tile (spec §4.3).
func fullyShadowed(dm *domain.Domain, contributions []Contribution, tileRange domain.NDRange) bool {
	for _, c := range contributions {
		if sliceFullyCovers(dm, c.Slice, tileRange) {
			return true
		}
	}
	return false
}

func sliceFullyCovers(dm *domain.Domain, slice, tileRange domain.NDRange) bool {
	for d := 0; d < dm.NDim(); d++ {
		dt := dm.Dimensions[d].Type
		if !slice[d].Contains(dt, tileRange[d].Low) || !slice[d].Contains(dt, tileRange[d].High) {
			return false
		}
	}
	return true
}

// cellCountForRange is the number of cells spanned by an NDRange already
// clipped to the domain's high bound (i.e. a ragged final tile counts
// fewer cells than the nominal tile extent).
func cellCountForRange(dm *domain.Domain, r domain.NDRange) int {
	n := 1
	for d, dim := range dm.Dimensions {
		lo := domain.DecodeInt64(dim.Type, r[d].Low)
		hi := domain.DecodeInt64(dim.Type, r[d].High)
		n *= int(hi-lo) + 1
	}
	return n
}
