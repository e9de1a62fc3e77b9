package domain

import (
	"github.com/pkg/errors"
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/filterpipeline"
)

// Order is a tile or cell ordering. Hilbert is only legal as a cell order.
type Order uint8

const (
	RowMajor Order = iota
	ColMajor
	Hilbert
)

// Dimension is one coordinate axis (spec §3). String dimensions carry no
// tile extent and are always ASCII.
type Dimension struct {
	Name       string
	Type       datatype.Datatype
	DomainLow  []byte
	DomainHigh []byte
	TileExtent []byte // nil for string dimensions
	Filters    filterpipeline.Pipeline
}

func (d Dimension) validate() error {
	if d.Type.IsString() {
		if d.Type.Kind != datatype.StringASCII {
			return errors.Errorf("dimension %q: string dimensions must be ASCII", d.Name)
		}
		if d.TileExtent != nil {
			return errors.Errorf("dimension %q: string dimensions must not have a tile extent", d.Name)
		}
		return nil
	}
	ops := datatype.OpsFor(d.Type)
	if ops.Compare(d.DomainLow, d.DomainHigh) > 0 {
		return errors.Errorf("dimension %q: domain lo must be <= hi", d.Name)
	}
	return nil
}

// DomainRange returns the dimension's full extent as a Range.
func (d Dimension) DomainRange() Range {
	return Range{Low: d.DomainLow, High: d.DomainHigh}
}

// Domain is the ordered sequence of dimensions sharing tile/cell orders.
type Domain struct {
	Dimensions []Dimension
	TileOrder  Order // row or col major only
	CellOrder  Order // row, col, or hilbert
}

func (dm *Domain) validate() error {
	if dm.TileOrder == Hilbert {
		return errors.New("domain: tile order cannot be hilbert")
	}
	for _, d := range dm.Dimensions {
		if err := d.validate(); err != nil {
			return err
		}
	}
	return nil
}

// NDim is the dimension count, i.e. the required length of every NDRange.
func (dm *Domain) NDim() int { return len(dm.Dimensions) }

// TileCoord returns the tile index of value v along dimension di, assuming
// a numeric dimension with a defined tile extent.
func (dm *Domain) TileCoord(di int, v []byte) uint64 {
	d := dm.Dimensions[di]
	lo := loadInt(d.Type, d.DomainLow)
	extent := loadInt(d.Type, d.TileExtent)
	val := loadInt(d.Type, v)
	if extent <= 0 {
		return 0
	}
	return uint64((val - lo) / extent)
}

// TileStartCoord returns the domain-space coordinate of the first cell of
// tile index tc along dimension di.
func (dm *Domain) TileStartCoord(di int, tc uint64) []byte {
	d := dm.Dimensions[di]
	lo := loadInt(d.Type, d.DomainLow)
	extent := loadInt(d.Type, d.TileExtent)
	return storeInt(d.Type, lo+int64(tc)*extent)
}

// TileEndCoord returns the domain-space coordinate of the last cell of
// tile index tc along dimension di, clipped to the dimension's high bound.
func (dm *Domain) TileEndCoord(di int, tc uint64) []byte {
	d := dm.Dimensions[di]
	if d.Type.Kind == datatype.Float32 || d.Type.Kind == datatype.Float64 {
		start := loadFloat(d.Type, dm.TileStartCoord(di, tc))
		extent := loadFloat(d.Type, d.TileExtent)
		end := start + extent
		hi := loadFloat(d.Type, d.DomainHigh)
		if end > hi {
			end = hi
		}
		return storeFloat(d.Type, end)
	}
	start := loadInt(d.Type, dm.TileStartCoord(di, tc))
	extent := loadInt(d.Type, d.TileExtent)
	end := start + extent - 1
	hi := loadInt(d.Type, d.DomainHigh)
	if end > hi {
		end = hi
	}
	return storeInt(d.Type, end)
}

// LocalTileIndex linearizes an absolute tile-coordinate vector into the
// 0-based index a fragment's own per-tile offset tables use, given that
// fragment's non-empty domain. Tiles are ordered per the domain's tile
// order (row-major iterates the last dimension fastest; column-major the
// first), mirroring how fragment writers lay out their tile grid.
func (dm *Domain) LocalTileIndex(nd NDRange, tileCoords []uint64) uint64 {
	n := dm.NDim()
	shape := make([]uint64, n)
	start := make([]uint64, n)
	for d := 0; d < n; d++ {
		loTc := dm.TileCoord(d, nd[d].Low)
		hiTc := dm.TileCoord(d, nd[d].High)
		start[d] = loTc
		shape[d] = hiTc - loTc + 1
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if dm.TileOrder == ColMajor {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	var idx uint64
	for _, d := range order {
		idx = idx*shape[d] + (tileCoords[d] - start[d])
	}
	return idx
}

// ArrayType selects dense (every coordinate materialized) vs sparse
// (explicitly written coordinates only).
type ArrayType uint8

const (
	Dense ArrayType = iota
	Sparse
)

// CellValNum is either a fixed positive count or VarLen.
type CellValNum int

const VarLen CellValNum = -1

// Attribute is a named per-cell field (spec §3).
type Attribute struct {
	Name       string
	Type       datatype.Datatype
	CellValNum CellValNum
	Nullable   bool
	FillValue  []byte
	Filters    filterpipeline.Pipeline
}

func (a Attribute) IsVar() bool { return a.CellValNum == VarLen }

// ArraySchema is the top-level, read-only description of an array (spec §3).
type ArraySchema struct {
	Domain     *Domain
	Attributes []Attribute
	ArrayType  ArrayType
	CellOrder  Order
	TileOrder  Order
	Capacity   uint64
	AllowsDups bool
	Version    uint32
}

// Validate enforces the invariants spec §3 lists for ArraySchema.
func (s *ArraySchema) Validate() error {
	if err := s.Domain.validate(); err != nil {
		return err
	}
	if s.ArrayType == Dense {
		if s.AllowsDups {
			return errors.New("schema: dense arrays cannot allow duplicates")
		}
		for _, d := range s.Domain.Dimensions {
			if d.Type.IsString() {
				return errors.Errorf("schema: dense array dimension %q must be numeric", d.Name)
			}
			if d.TileExtent == nil {
				return errors.Errorf("schema: dense array dimension %q needs a tile extent", d.Name)
			}
		}
	}
	names := map[string]bool{}
	for _, d := range s.Domain.Dimensions {
		names[d.Name] = true
	}
	for _, a := range s.Attributes {
		if names[a.Name] {
			return errors.Errorf("schema: attribute %q collides with a dimension name", a.Name)
		}
	}
	return nil
}

// Attribute looks up an attribute by name.
func (s *ArraySchema) Attribute(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// DimensionIndex looks up a dimension's position by name.
func (s *ArraySchema) DimensionIndex(name string) (int, bool) {
	for i, d := range s.Domain.Dimensions {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}
