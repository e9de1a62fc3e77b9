// Package manifest loads a fragment catalog from a JSON file: the
// arrayread CLI's stand-in for whatever real fragment-discovery service a
// production deployment would query (spec §6, "Fragment Catalog").
package manifest

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
)

// entry mirrors fragment.Metadata's exported fields; Metadata itself isn't
// used directly as the JSON target so a manifest file never needs to know
// about the unexported offsets-resident bookkeeping the core adds once a
// fragment is opened.
type entry struct {
	ID             string                          `json:"id"`
	URI            string                          `json:"uri"`
	Dense          bool                             `json:"dense"`
	NonEmptyDomain []rangeJSON                      `json:"non_empty_domain"`
	TileCount      int                              `json:"tile_count"`
	MBRs           [][]rangeJSON                    `json:"mbrs,omitempty"`
	TileCellCounts []int                            `json:"tile_cell_counts,omitempty"`
	FieldOffsets   map[string][]fragment.FieldTileInfo `json:"field_offsets"`
	TimestampStart uint64                          `json:"timestamp_start"`
	TimestampEnd   uint64                          `json:"timestamp_end"`
	Version        uint32                          `json:"version,omitempty"`
	ZippedCoords   bool                             `json:"zipped_coords,omitempty"`
}

type rangeJSON struct {
	Low  []byte `json:"low"`
	High []byte `json:"high"`
}

// Load reads path and builds the fragment.StaticCatalog it describes.
func Load(path string) (*fragment.StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: read %q", path)
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "manifest: parse %q", path)
	}

	catalog := &fragment.StaticCatalog{All: make([]*fragment.Metadata, len(entries))}
	for i, e := range entries {
		m := &fragment.Metadata{
			ID:             e.ID,
			URI:            e.URI,
			Dense:          e.Dense,
			NonEmptyDomain: toNDRange(e.NonEmptyDomain),
			TileCount:      e.TileCount,
			TileCellCounts: e.TileCellCounts,
			FieldOffsets:   e.FieldOffsets,
			TimestampRange: fragment.TimestampRange{Start: e.TimestampStart, End: e.TimestampEnd},
			Version:        e.Version,
			ZippedCoords:   e.ZippedCoords,
		}
		for _, mbr := range e.MBRs {
			m.MBRs = append(m.MBRs, toNDRange(mbr))
		}
		catalog.All[i] = m
	}
	return catalog, nil
}

func toNDRange(rs []rangeJSON) domain.NDRange {
	out := make(domain.NDRange, len(rs))
	for i, r := range rs {
		out[i] = domain.Range{Low: r.Low, High: r.High}
	}
	return out
}
