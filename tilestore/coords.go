package tilestore

// CoordTileView abstracts over zipped vs unzipped coordinate storage
// (spec §9, "Zipped vs unzipped coordinates"): downstream code only ever
// calls Coord(cellIdx, dimIdx).
type CoordTileView interface {
	Coord(cellIdx, dimIdx int) []byte
}

// Zipped is one tile holding all dimension values interleaved per cell in
// a fixed pattern (pre-version-5 fragments).
type Zipped struct {
	Stride     int
	DimSizes   []int
	DimOffsets []int
	Bytes      []byte
}

func NewZipped(dimSizes []int, bytes []byte) Zipped {
	offsets := make([]int, len(dimSizes))
	stride := 0
	for i, sz := range dimSizes {
		offsets[i] = stride
		stride += sz
	}
	return Zipped{Stride: stride, DimSizes: dimSizes, DimOffsets: offsets, Bytes: bytes}
}

func (z Zipped) Coord(cellIdx, dimIdx int) []byte {
	base := cellIdx*z.Stride + z.DimOffsets[dimIdx]
	return z.Bytes[base : base+z.DimSizes[dimIdx]]
}

// DimCoord is one dimension's coordinate tile under the Unzipped layout.
// Size > 0 selects the fixed-stride path; Size == 0 means a var-sized
// (string) dimension backed by a full Tile with its own offsets/var bytes.
type DimCoord struct {
	Fixed   []byte
	Size    int
	VarTile *Tile
}

// Unzipped is one tile per dimension (version >= 5 fragments).
type Unzipped struct {
	PerDim []DimCoord
}

func (u Unzipped) Coord(cellIdx, dimIdx int) []byte {
	dc := u.PerDim[dimIdx]
	if dc.Size > 0 {
		base := cellIdx * dc.Size
		return dc.Fixed[base : base+dc.Size]
	}
	return dc.VarTile.VarValue(cellIdx)
}
