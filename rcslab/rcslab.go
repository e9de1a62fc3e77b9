// Package rcslab defines the Result Cell Slab (spec §3, §4.5): a
// contiguous run of cells in one source tile's stored order, or a
// fill-value run with no source tile. It is split out from the tile
// store, merge engine, condition engine, and copy engine so that none of
// those packages has to import the others just to share this one type.
package rcslab

import "github.com/sixy6e/go-arraycore/tilestore"

// Slab is {ResultTile (or nil = fill), start_cell, length}. Tile is nil
// only for dense reads, representing cells with no covering fragment
// (spec §3, "Result Cell Slab").
type Slab struct {
	Tile   *tilestore.ResultTile
	Start  int
	Length int
}

// IsFill reports whether this slab has no backing tile.
func (s Slab) IsFill() bool { return s.Tile == nil }

// Split divides a slab at a local offset (0 < at < s.Length) into two
// slabs covering [0,at) and [at,Length). The copy engine does not call
// it; on overflow it rebuilds the slab list with its own truncate.
func (s Slab) Split(at int) (Slab, Slab) {
	return Slab{Tile: s.Tile, Start: s.Start, Length: at},
		Slab{Tile: s.Tile, Start: s.Start + at, Length: s.Length - at}
}

// TotalCells sums the length of every slab.
func TotalCells(slabs []Slab) int {
	n := 0
	for _, s := range slabs {
		n += s.Length
	}
	return n
}
