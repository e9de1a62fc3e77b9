// Package fragment models the read-only Fragment Metadata input of spec §3
// and the recency ordering fragments are merged/shadowed under: a later
// fragment overwrites (or, for sparse+dups, coexists with) an earlier
// fragment's data on the same logical coordinates.
package fragment

import (
	"context"
	"sort"

	"github.com/sixy6e/go-arraycore/domain"
)

// TimestampRange is the open-write-interval a fragment was created in.
type TimestampRange struct {
	Start uint64
	End   uint64
}

// FieldTileInfo is one field's on-disk location for one tile.
type FieldTileInfo struct {
	Offset int64
	Size   int64
}

// Metadata is one fragment's read-only descriptor (spec §3).
type Metadata struct {
	ID             string
	URI            string
	Dense          bool
	NonEmptyDomain domain.NDRange
	TileCount      int
	// MBRs holds, for sparse fragments, the per-tile minimum bounding
	// rectangle used by the Sparse Result-Tile Selector (spec §4, Sparse
	// Result-Tile Selector).
	MBRs []domain.NDRange
	// TileCellCounts holds the fragment-recorded cell count per tile
	// (dense tiles instead use the domain's tile capacity).
	TileCellCounts []int
	// FieldOffsets maps field name to its per-tile {offset,size} table.
	FieldOffsets map[string][]FieldTileInfo
	TimestampRange TimestampRange
	Version        uint32
	// ZippedCoords is true for fragments written before schema version 5,
	// which store all dimension values interleaved in one coordinate tile.
	ZippedCoords bool

	offsetsResident map[string]bool
}

// MarkOffsetsResident records that a field's tile-offset table is loaded
// (Tile Store's load_tile_offsets, spec §4.2).
func (m *Metadata) MarkOffsetsResident(field string) {
	if m.offsetsResident == nil {
		m.offsetsResident = map[string]bool{}
	}
	m.offsetsResident[field] = true
}

// OffsetsResident reports whether a field's tile-offset table is resident.
func (m *Metadata) OffsetsResident(field string) bool {
	return m.offsetsResident != nil && m.offsetsResident[field]
}

// Catalog returns the ordered list of fragment metadata visible at a
// query's snapshot timestamp (spec §6, "Fragment Catalog").
type Catalog interface {
	Fragments(ctx context.Context, snapshotTimestamp uint64) ([]*Metadata, error)
}

// StaticCatalog is an in-memory Catalog, used by tests and the CLI when
// fragment discovery has already happened (e.g. via a directory listing).
type StaticCatalog struct {
	All []*Metadata
}

func (c *StaticCatalog) Fragments(_ context.Context, snapshot uint64) ([]*Metadata, error) {
	out := make([]*Metadata, 0, len(c.All))
	for _, m := range c.All {
		if snapshot == 0 || m.TimestampRange.Start <= snapshot {
			out = append(out, m)
		}
	}
	return out, nil
}

// OrderByRecency sorts a copy of frags most-recent-first: by
// TimestampRange.End descending, then by URI lexically descending to break
// ties (spec §6: "Recency ordering is by timestamp_range.end then by
// fragment URI lexically").
func OrderByRecency(frags []*Metadata) []*Metadata {
	out := make([]*Metadata, len(frags))
	copy(out, frags)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampRange.End != out[j].TimestampRange.End {
			return out[i].TimestampRange.End > out[j].TimestampRange.End
		}
		return out[i].URI > out[j].URI
	})
	return out
}

// Rank returns a map from fragment ID to its 0-based recency rank (0 =
// newest), used by the merge engine's tie-break policy.
func Rank(orderedByRecency []*Metadata) map[string]int {
	ranks := make(map[string]int, len(orderedByRecency))
	for i, f := range orderedByRecency {
		ranks[f.ID] = i
	}
	return ranks
}
