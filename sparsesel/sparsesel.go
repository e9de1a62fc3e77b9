// Package sparsesel implements the Sparse Result-Tile Selector: for
// sparse fragments, it selects candidate tiles whose MBR overlaps the
// subarray and keeps the resulting tile list under a memory budget.
package sparsesel

import (
	"github.com/sixy6e/go-arraycore/errs"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/memtrack"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// handleOverhead is the approximate bookkeeping cost of tracking one
// candidate ResultTile handle in the selector's list, independent of the
// tile's eventual (separately budgeted) coordinate/attribute bytes.
const handleOverhead = 96

// Selector builds ResultTile handles for sparse fragments' MBR-overlapping
// tiles.
type Selector struct {
	arena *tilestore.Arena
}

func NewSelector(arena *tilestore.Arena) *Selector {
	return &Selector{arena: arena}
}

// Select returns one ResultTile per MBR-overlapping tile across frags'
// sparse fragments, in fragment order and, within a fragment, in the
// order EstimateOverlap returns. It stops and reports MemoryBudget as soon as the
// tracker can no longer fit another handle under category
// ResultTileRanges (spec §3, Memory Tracker).
func (s *Selector) Select(sa *subarray.Subarray, frags []*fragment.Metadata, tracker *memtrack.Tracker) ([]*tilestore.ResultTile, error) {
	var out []*tilestore.ResultTile
	for _, frag := range frags {
		if frag.Dense {
			continue
		}
		overlaps := sa.EstimateOverlap(frag)
		for _, ov := range overlaps {
			if len(ov.TileCoords) != 1 {
				continue
			}
			idx := int(ov.TileCoords[0])
			if !tracker.TryReserve(memtrack.ResultTileRanges, handleOverhead) {
				return out, errs.New(errs.MemoryBudget, "sparse tile selector: budget exceeded at fragment %s tile %d", frag.ID, idx)
			}
			cellCount := schemaTileCapacity(frag, idx)
			rt := s.arena.New(frag.ID, idx, cellCount, false)
			out = append(out, rt)
		}
	}
	return out, nil
}

func schemaTileCapacity(frag *fragment.Metadata, idx int) int {
	if idx < len(frag.TileCellCounts) {
		return frag.TileCellCounts[idx]
	}
	return 0
}
