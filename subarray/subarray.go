// Package subarray implements the Subarray type of spec §3: the union,
// per dimension, of typed ranges the query is interested in, plus the
// tile-overlap cache the partitioner's size estimation reads from.
package subarray

import (
	"sort"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/errs"
	"github.com/sixy6e/go-arraycore/fragment"
)

// Layout is the requested output cell order (spec §3).
type Layout uint8

const (
	RowMajor Layout = iota
	ColMajor
	Global
	Unordered
)

// CellOrder maps a Layout onto the domain.Order the bitmap evaluator and
// merge engine compare coordinates under; Global/Unordered fall back to
// the domain's declared cell order.
func (l Layout) CellOrder(dm *domain.Domain) domain.Order {
	switch l {
	case RowMajor:
		return domain.RowMajor
	case ColMajor:
		return domain.ColMajor
	default:
		return dm.CellOrder
	}
}

// OverlapKind distinguishes a fully-contained run of tiles from a single
// tile with fractional overlap (spec §3).
type OverlapKind uint8

const (
	TileRange OverlapKind = iota
	PartialTile
)

// TileOverlap records one overlap entry in the subarray's cache.
type TileOverlap struct {
	Kind       OverlapKind
	TileCoords []uint64 // dense: tile coordinate vector; sparse: {tile index}
	Fraction   float64  // in [0,1]; 1.0 for TileRange
}

// Subarray is the Cartesian product of per-dimension range lists (spec §3).
type Subarray struct {
	Schema    *domain.ArraySchema
	Layout    Layout
	DimRanges [][]domain.Range

	overlapCache map[string][]TileOverlap
}

// New constructs an empty Subarray (no ranges yet on any dimension).
func New(schema *domain.ArraySchema, layout Layout) (*Subarray, error) {
	if schema == nil || schema.Domain == nil {
		return nil, errs.New(errs.InvalidArgument, "subarray: schema and domain are required")
	}
	return &Subarray{
		Schema:       schema,
		Layout:       layout,
		DimRanges:    make([][]domain.Range, schema.Domain.NDim()),
		overlapCache: map[string][]TileOverlap{},
	}, nil
}

// AddRange appends a range on dimension dim. Global layout permits at most
// one range per dimension (spec §4.1, "Global order single-range
// restriction").
func (s *Subarray) AddRange(dim int, r domain.Range) error {
	if dim < 0 || dim >= len(s.DimRanges) {
		return errs.New(errs.InvalidArgument, "subarray: dimension index %d out of range", dim)
	}
	if s.Layout == Global && len(s.DimRanges[dim]) >= 1 {
		return errs.New(errs.InvalidArgument, "subarray: global layout permits only one range per dimension")
	}
	s.overlapCache = map[string][]TileOverlap{}
	s.DimRanges[dim] = append(s.DimRanges[dim], r)
	return nil
}

// NumRangesOnDim reports how many ranges are declared on dim.
func (s *Subarray) NumRangesOnDim(dim int) int { return len(s.DimRanges[dim]) }

// Clone returns a deep-enough copy for the partitioner to narrow
// independently of the parent subarray.
func (s *Subarray) Clone() *Subarray {
	out := &Subarray{
		Schema:       s.Schema,
		Layout:       s.Layout,
		DimRanges:    make([][]domain.Range, len(s.DimRanges)),
		overlapCache: map[string][]TileOverlap{},
	}
	for i, rs := range s.DimRanges {
		cp := make([]domain.Range, len(rs))
		copy(cp, rs)
		out.DimRanges[i] = cp
	}
	return out
}

// IsEmpty reports whether any dimension still has zero ranges (an
// under-specified subarray touches nothing).
func (s *Subarray) IsEmpty() bool {
	for _, rs := range s.DimRanges {
		if len(rs) == 0 {
			return true
		}
	}
	return false
}

// TileCoordsTouched computes the Cartesian product of tile coordinates
// touched by the union of ranges on each dimension (used by the dense
// Result Space Tile Planner, spec §4.3).
func (s *Subarray) TileCoordsTouched() [][]uint64 {
	dm := s.Schema.Domain
	perDim := make([][]uint64, dm.NDim())
	for d := 0; d < dm.NDim(); d++ {
		seen := map[uint64]bool{}
		var coords []uint64
		for _, r := range s.DimRanges[d] {
			loTc := dm.TileCoord(d, r.Low)
			hiTc := dm.TileCoord(d, r.High)
			for tc := loTc; tc <= hiTc; tc++ {
				if !seen[tc] {
					seen[tc] = true
					coords = append(coords, tc)
				}
			}
		}
		sort.Slice(coords, func(i, j int) bool { return coords[i] < coords[j] })
		perDim[d] = coords
	}
	return cartesianProductU64(perDim)
}

func cartesianProductU64(perDim [][]uint64) [][]uint64 {
	if len(perDim) == 0 {
		return nil
	}
	result := [][]uint64{{}}
	for _, options := range perDim {
		var next [][]uint64
		for _, prefix := range result {
			for _, o := range options {
				combo := append(append([]uint64{}, prefix...), o)
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}

// EstimateOverlap estimates, for frag, the overlap entries the
// partitioner's size estimation needs (spec §4.1): per touched tile (or,
// for sparse fragments, per candidate MBR), whether it is fully or
// partially covered and the fractional estimate in [0,1]. Results are
// cached per fragment ID until the subarray's ranges change.
func (s *Subarray) EstimateOverlap(frag *fragment.Metadata) []TileOverlap {
	if cached, ok := s.overlapCache[frag.ID]; ok {
		return cached
	}
	var overlaps []TileOverlap
	if frag.Dense {
		overlaps = s.estimateDenseOverlap(frag)
	} else {
		overlaps = s.estimateSparseOverlap(frag)
	}
	s.overlapCache[frag.ID] = overlaps
	return overlaps
}

func (s *Subarray) estimateDenseOverlap(frag *fragment.Metadata) []TileOverlap {
	dm := s.Schema.Domain
	var overlaps []TileOverlap
	for _, tc := range s.TileCoordsTouched() {
		fraction := 1.0
		intersects := true
		for d := 0; d < dm.NDim(); d++ {
			tileRange := domain.Range{Low: dm.TileStartCoord(d, tc[d]), High: dm.TileEndCoord(d, tc[d])}
			if !tileRange.Intersects(dm.Dimensions[d].Type, frag.NonEmptyDomain[d]) {
				intersects = false
				break
			}
			fraction *= unionOverlapFraction(dm.Dimensions[d].Type, tileRange, s.DimRanges[d])
		}
		if !intersects || fraction <= 0 {
			continue
		}
		kind := TileRange
		if fraction < 1.0 {
			kind = PartialTile
		}
		overlaps = append(overlaps, TileOverlap{Kind: kind, TileCoords: tc, Fraction: fraction})
	}
	return overlaps
}

func (s *Subarray) estimateSparseOverlap(frag *fragment.Metadata) []TileOverlap {
	dm := s.Schema.Domain
	var overlaps []TileOverlap
	for idx, mbr := range frag.MBRs {
		fraction := 1.0
		intersects := true
		for d := 0; d < dm.NDim(); d++ {
			if len(s.DimRanges[d]) == 0 {
				continue
			}
			f := unionOverlapFraction(dm.Dimensions[d].Type, mbr[d], s.DimRanges[d])
			if f <= 0 {
				intersects = false
				break
			}
			fraction *= f
		}
		if !intersects {
			continue
		}
		kind := TileRange
		if fraction < 1.0 {
			kind = PartialTile
		}
		overlaps = append(overlaps, TileOverlap{Kind: kind, TileCoords: []uint64{uint64(idx)}, Fraction: fraction})
	}
	return overlaps
}

// unionOverlapFraction estimates what fraction of base is covered by the
// union of ranges. String dimensions only report a boolean 0/1 (spec
// doesn't ask for a finer estimate there).
func unionOverlapFraction(dt datatype.Datatype, base domain.Range, ranges []domain.Range) float64 {
	if dt.IsString() {
		for _, r := range ranges {
			if base.Intersects(dt, r) {
				return 1.0
			}
		}
		return 0
	}
	baseLen := rangeLength(dt, base)
	if baseLen <= 0 {
		return 0
	}
	var covered float64
	for _, r := range ranges {
		inter, ok := base.Intersection(dt, r)
		if !ok {
			continue
		}
		covered += rangeLength(dt, inter)
	}
	f := covered / baseLen
	if f > 1 {
		f = 1
	}
	return f
}

func rangeLength(dt datatype.Datatype, r domain.Range) float64 {
	if dt.Kind == datatype.Float32 || dt.Kind == datatype.Float64 {
		return domain.DecodeFloat64(dt, r.High) - domain.DecodeFloat64(dt, r.Low)
	}
	return float64(domain.DecodeInt64(dt, r.High)-domain.DecodeInt64(dt, r.Low)) + 1
}

