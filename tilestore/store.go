package tilestore

import (
	"context"
	"encoding/binary"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/errs"
	"github.com/sixy6e/go-arraycore/filterpipeline"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/memtrack"
	"github.com/sixy6e/go-arraycore/statslog"
)

// ZippedCoordsField is the pseudo field name zipped-coordinate fragments
// (schema version < 5) store all dimension values under (spec §4.2).
const ZippedCoordsField = "__zipped_coords__"

// Store implements the Tile Store Interface (spec §4.2).
type Store struct {
	fs      FS
	tracker *memtrack.Tracker
	logger  statslog.Sink
}

func NewStore(fs FS, tracker *memtrack.Tracker, logger statslog.Sink) *Store {
	if logger == nil {
		logger = statslog.Noop{}
	}
	return &Store{fs: fs, tracker: tracker, logger: logger}
}

// LoadTileOffsets ensures the per-tile on-disk offset table for every
// named field is resident for each fragment, per spec §4.2. Unzipped-coord
// fragments skip the zipped-coord name; every other name is looked up for
// every fragment, and a name with no offset table is recorded as absent.
func (s *Store) LoadTileOffsets(ctx context.Context, frags []*fragment.Metadata, fieldNames []string) error {
	for _, frag := range frags {
		for _, want := range fieldNames {
			// An unzipped-coord fragment never writes the zipped-coord
			// pseudo-field, so that name is skipped for it; a zipped-coord
			// fragment's per-dimension names simply find no table in
			// ensureOffsetsResident (spec §4.2).
			if want == ZippedCoordsField && !frag.ZippedCoords {
				continue
			}
			for _, component := range componentsFor(want) {
				if err := s.ensureOffsetsResident(ctx, frag, component); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// componentsFor expands a logical field name into the physical on-disk
// sub-files it may have (fixed/offsets/var/validity), per spec §6: "it
// contains per-field binary files for fixed bytes, offsets, var bytes,
// and validity bytes respectively."
func componentsFor(name string) []string {
	return []string{name + ":fixed", name + ":offsets", name + ":var", name + ":validity"}
}

func (s *Store) ensureOffsetsResident(ctx context.Context, frag *fragment.Metadata, component string) error {
	if frag.OffsetsResident(component) {
		return nil
	}
	if _, ok := frag.FieldOffsets[component]; ok {
		frag.MarkOffsetsResident(component)
		return nil
	}
	// optional component (e.g. ":var" for a fixed-size field): absence is
	// not an error, it just means this fragment never writes it.
	path := frag.URI + "/" + component + ".offsets"
	size, err := s.fs.Size(ctx, path)
	if err != nil {
		frag.MarkOffsetsResident(component)
		return nil
	}
	raw, err := s.fs.Read(ctx, path, 0, size)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "load tile offsets for %s/%s", frag.ID, component)
	}
	table := decodeOffsetTable(raw)
	if !s.tracker.TryReserve(memtrack.Offsets, uint64(len(raw))) {
		return errs.New(errs.MemoryBudget, "cannot fit offset table for %s/%s", frag.ID, component)
	}
	if frag.FieldOffsets == nil {
		frag.FieldOffsets = map[string][]fragment.FieldTileInfo{}
	}
	frag.FieldOffsets[component] = table
	frag.MarkOffsetsResident(component)
	return nil
}

func decodeOffsetTable(raw []byte) []fragment.FieldTileInfo {
	n := len(raw) / 16
	out := make([]fragment.FieldTileInfo, n)
	for i := 0; i < n; i++ {
		out[i].Offset = int64(binary.BigEndian.Uint64(raw[i*16:]))
		out[i].Size = int64(binary.BigEndian.Uint64(raw[i*16+8:]))
	}
	return out
}

// fieldDescriptor is the minimal shape Store needs to assemble a Tile,
// satisfied by both domain.Dimension and domain.Attribute.
type fieldDescriptor struct {
	Name       string
	Type       datatype.Datatype
	Nullable   bool
	CellValNum int // element count per cell for fixed fields; ignored when var
	Filters    filterpipeline.Pipeline
}

func fromAttribute(a domain.Attribute) fieldDescriptor {
	cvn := 1
	if a.CellValNum != domain.VarLen {
		cvn = int(a.CellValNum)
	}
	return fieldDescriptor{Name: a.Name, Type: a.Type, Nullable: a.Nullable, CellValNum: cvn, Filters: a.Filters}
}

func fromDimension(d domain.Dimension) fieldDescriptor {
	return fieldDescriptor{Name: d.Name, Type: d.Type, Nullable: false, CellValNum: 1, Filters: d.Filters}
}

// readField loads and unfilters one field's tile for one ResultTile,
// caching the assembled Tile on rt and reserving its bytes against the
// memory tracker. asCoord selects whether the result is cached as a
// coordinate tile or an attribute tile.
func (s *Store) readField(ctx context.Context, frag *fragment.Metadata, rt *ResultTile, fd fieldDescriptor, asCoord bool) error {
	name := fd.Name
	if asCoord && frag.ZippedCoords {
		name = ZippedCoordsField
	}
	if asCoord {
		if _, ok := rt.CoordRawTile(name); ok {
			return nil
		}
	} else if _, ok := rt.AttrTile(name); ok {
		return nil
	}

	tile := &Tile{CellCount: rt.CellCount}

	fixedRaw, err := s.readComponent(ctx, frag, name, "fixed", rt.TileIdx)
	if err != nil {
		return err
	}
	tile.Fixed, err = fd.Filters.Unfilter(ctx, [][]byte{fixedRaw})
	if err != nil {
		return errs.Wrap(errs.FilterError, err, "unfilter %s fixed data", name)
	}

	if fd.Type.IsVarSized() {
		offRaw, err := s.readComponent(ctx, frag, name, "offsets", rt.TileIdx)
		if err != nil {
			return err
		}
		tile.Offsets, err = fd.Filters.Unfilter(ctx, [][]byte{offRaw})
		if err != nil {
			return errs.Wrap(errs.FilterError, err, "unfilter %s offsets", name)
		}
		varRaw, err := s.readComponent(ctx, frag, name, "var", rt.TileIdx)
		if err != nil {
			return err
		}
		tile.Var, err = fd.Filters.Unfilter(ctx, [][]byte{varRaw})
		if err != nil {
			return errs.Wrap(errs.FilterError, err, "unfilter %s var data", name)
		}
	}

	if fd.Nullable {
		valRaw, err := s.readComponent(ctx, frag, name, "validity", rt.TileIdx)
		if err != nil {
			return err
		}
		tile.Validity, err = fd.Filters.Unfilter(ctx, [][]byte{valRaw})
		if err != nil {
			return errs.Wrap(errs.FilterError, err, "unfilter %s validity", name)
		}
	}

	if !s.tracker.TryReserve(memtrack.Coords, uint64(tile.ByteSize())) {
		return errs.New(errs.MemoryBudget, "cannot fit tile %s/%d/%s", frag.ID, rt.TileIdx, name)
	}

	if asCoord {
		rt.CacheCoordTile(name, tile)
	} else {
		rt.CacheAttrTile(name, tile)
	}
	return nil
}

func (s *Store) readComponent(ctx context.Context, frag *fragment.Metadata, field, component string, tileIdx int) ([]byte, error) {
	key := field + ":" + component
	table, ok := frag.FieldOffsets[key]
	if !ok || tileIdx >= len(table) {
		if component == "var" || component == "validity" {
			return nil, nil
		}
		return nil, errs.New(errs.InvalidArgument, "no tile offset table for %s", key)
	}
	info := table[tileIdx]
	raw, err := s.fs.Read(ctx, frag.URI+"/"+key, info.Offset, info.Size)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "read %s tile %d", key, tileIdx)
	}
	return raw, nil
}

// ReadCoordinateTiles issues I/O for the coordinate tiles needed by
// result tiles, assembling each ResultTile's CoordTileView (spec §4.2).
func (s *Store) ReadCoordinateTiles(ctx context.Context, dm *domain.Domain, frags map[string]*fragment.Metadata, rts []*ResultTile) error {
	for _, rt := range rts {
		frag := frags[rt.FragID]
		if frag.ZippedCoords {
			fd := fieldDescriptor{Name: ZippedCoordsField, Type: dm.Dimensions[0].Type, CellValNum: 1}
			if err := s.readField(ctx, frag, rt, fd, true); err != nil {
				return err
			}
			tile, _ := rt.CoordRawTile(ZippedCoordsField)
			dimSizes := make([]int, dm.NDim())
			for i, d := range dm.Dimensions {
				sz, _ := d.Type.FixedSize()
				dimSizes[i] = sz
			}
			rt.Coords = NewZipped(dimSizes, tile.Fixed)
			continue
		}
		perDim := make([]DimCoord, dm.NDim())
		for i, d := range dm.Dimensions {
			fd := fromDimension(d)
			if err := s.readField(ctx, frag, rt, fd, true); err != nil {
				return err
			}
			tile, _ := rt.CoordRawTile(d.Name)
			if d.Type.IsVarSized() {
				perDim[i] = DimCoord{VarTile: tile}
			} else {
				sz, _ := d.Type.FixedSize()
				perDim[i] = DimCoord{Fixed: tile.Fixed, Size: sz}
			}
		}
		rt.Coords = Unzipped{PerDim: perDim}
	}
	return nil
}

// ReadAttributeTiles issues I/O for one attribute across a set of result
// tiles (spec §4.2).
func (s *Store) ReadAttributeTiles(ctx context.Context, attr domain.Attribute, frags map[string]*fragment.Metadata, rts []*ResultTile) error {
	fd := fromAttribute(attr)
	for _, rt := range rts {
		frag := frags[rt.FragID]
		if err := s.readField(ctx, frag, rt, fd, false); err != nil {
			return err
		}
	}
	return nil
}
