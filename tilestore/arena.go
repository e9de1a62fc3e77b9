package tilestore

import (
	"sync"
	"sync/atomic"

	"github.com/sixy6e/go-arraycore/memtrack"
)

// BitmapLike is the narrow view a ResultTile needs of its bitmap,
// satisfied structurally by bitmap.Bitmap without tilestore importing the
// bitmap package (which itself imports tilestore).
type BitmapLike interface {
	Passes(cell int) bool
	Count(cell int) int
}

// ResultTile is the per-query handle to a physical tile (spec §3, "Result
// Tile (sparse pointer)"), created by an Arena and refcounted through it
// (spec §9); slabs, merge cells and space tiles refer to it by pointer.
type ResultTile struct {
	FragID    string
	TileIdx   int
	CellCount int
	Dense     bool
	Coords    CoordTileView
	Bitmap    BitmapLike

	coordRaw map[string]*Tile
	attrRaw  map[string]*Tile

	refs      int32
	sizeBytes int64
	arena     *Arena
}

func (rt *ResultTile) CacheCoordTile(name string, t *Tile) {
	if rt.coordRaw == nil {
		rt.coordRaw = map[string]*Tile{}
	}
	rt.coordRaw[name] = t
	rt.sizeBytes += t.ByteSize()
}

func (rt *ResultTile) CoordRawTile(name string) (*Tile, bool) {
	t, ok := rt.coordRaw[name]
	return t, ok
}

func (rt *ResultTile) CacheAttrTile(name string, t *Tile) {
	if rt.attrRaw == nil {
		rt.attrRaw = map[string]*Tile{}
	}
	rt.attrRaw[name] = t
	rt.sizeBytes += t.ByteSize()
}

func (rt *ResultTile) AttrTile(name string) (*Tile, bool) {
	t, ok := rt.attrRaw[name]
	return t, ok
}

// Retain increments the reference count; callers take one reference per
// additional holder (e.g. each SpaceTile that keeps the tile as a sparse
// override source).
func (rt *ResultTile) Retain() {
	atomic.AddInt32(&rt.refs, 1)
}

// Release decrements the reference count and, on reaching zero, retires
// the tile back to its arena: the cached raw tiles are dropped and their
// bytes are released from the memory tracker (spec §4.2, "Ownership: a
// loaded tile ... is freed as soon as the last ResultCellSlab referring to
// it has been copied into the output buffers").
func (rt *ResultTile) Release() {
	if atomic.AddInt32(&rt.refs, -1) == 0 && rt.arena != nil {
		rt.arena.retire(rt)
	}
}

// Arena owns the ResultTiles created for one query and is
// the single place memory-tracker releases for tile bytes happen.
type Arena struct {
	mu      sync.Mutex
	tiles   []*ResultTile
	tracker *memtrack.Tracker
}

func NewArena(tracker *memtrack.Tracker) *Arena {
	return &Arena{tracker: tracker}
}

// New creates a ResultTile with an initial reference count of 1 (held by
// the arena itself until explicitly retained by slabs and released by the
// caller once all slabs are built).
func (a *Arena) New(fragID string, tileIdx, cellCount int, dense bool) *ResultTile {
	rt := &ResultTile{
		FragID: fragID, TileIdx: tileIdx, CellCount: cellCount, Dense: dense,
		refs: 1, arena: a,
	}
	a.mu.Lock()
	a.tiles = append(a.tiles, rt)
	a.mu.Unlock()
	return rt
}

func (a *Arena) retire(rt *ResultTile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rt.sizeBytes > 0 && a.tracker != nil {
		a.tracker.Release(memtrack.Coords, uint64(rt.sizeBytes))
		rt.sizeBytes = 0
	}
	rt.coordRaw = nil
	rt.attrRaw = nil
	rt.Coords = nil
}

// Len reports how many tiles the arena has ever handed out (diagnostic,
// not used for correctness).
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tiles)
}
