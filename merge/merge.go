// Package merge implements the Ordered Merge Engine of spec §4.7: an
// N-way priority-queue merge of per-fragment coordinate streams in the
// query's output order, deduplicating ties by fragment recency or
// emitting duplicates when the schema allows them.
package merge

import (
	"container/heap"
	"sort"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/rcslab"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// Cell addresses one cell in a ResultTile.
type Cell struct {
	Tile *tilestore.ResultTile
	Cell int
}

func (c Cell) coord(d int) []byte { return c.Tile.Coords.Coord(c.Cell, d) }

// Comparator orders two cells; used as the heap's Less.
type Comparator func(a, b Cell) int

// RowColComparator compares cells lexicographically over per-dimension
// coordinates, in reverse dimension order for column-major.
func RowColComparator(dm *domain.Domain, order domain.Order) Comparator {
	dims := make([]int, dm.NDim())
	for i := range dims {
		dims[i] = i
	}
	if order == domain.ColMajor {
		for i, j := 0, len(dims)-1; i < j; i, j = i+1, j-1 {
			dims[i], dims[j] = dims[j], dims[i]
		}
	}
	return func(a, b Cell) int {
		for _, d := range dims {
			dt := dm.Dimensions[d].Type
			if c := datatype.OpsFor(dt).Compare(a.coord(d), b.coord(d)); c != 0 {
				return c
			}
		}
		return 0
	}
}

// HilbertComparator orders cells by their precomputed Hilbert index.
func HilbertComparator(dm *domain.Domain) Comparator {
	return func(a, b Cell) int {
		ai, bi := hilbertOf(dm, a), hilbertOf(dm, b)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
}

func hilbertOf(dm *domain.Domain, c Cell) uint64 {
	coords := make([][]byte, dm.NDim())
	for d := range coords {
		coords[d] = c.coord(d)
	}
	return dm.HilbertIndex(coords)
}

// ComparatorFor selects the comparator for a requested output layout
// (spec §4.7). Unordered has no comparator (callers must use
// MergeUnordered instead).
func ComparatorFor(dm *domain.Domain, layout subarray.Layout) Comparator {
	switch layout {
	case subarray.RowMajor:
		return RowColComparator(dm, domain.RowMajor)
	case subarray.ColMajor:
		return RowColComparator(dm, domain.ColMajor)
	case subarray.Global:
		if dm.CellOrder == domain.Hilbert {
			return HilbertComparator(dm)
		}
		return RowColComparator(dm, dm.TileOrder)
	default:
		return nil
	}
}

// fragStream walks one fragment's selected result tiles in storage
// order, skipping cells the tile's bitmap excludes. A cell whose bitmap
// count exceeds 1 (spec §3, duplicate materialization under overlapping
// ranges) is re-emitted remain more times before the stream moves on.
type fragStream struct {
	fragID  string
	rank    int
	rts     []*tilestore.ResultTile
	tileIdx int
	cellPos int
	cur     Cell
	has     bool
	remain  int
}

func newFragStream(fragID string, rank int, rts []*tilestore.ResultTile) *fragStream {
	fs := &fragStream{fragID: fragID, rank: rank, rts: rts}
	fs.advance()
	return fs
}

// consume accounts for one emission of fs.cur: if its count calls for more
// repeats, fs.cur is left in place for the next one; otherwise the stream
// moves on to the next passing cell.
func (fs *fragStream) consume() {
	if fs.remain > 0 {
		fs.remain--
		return
	}
	fs.advance()
}

func (fs *fragStream) advance() {
	for fs.tileIdx < len(fs.rts) {
		rt := fs.rts[fs.tileIdx]
		for fs.cellPos < rt.CellCount {
			cell := fs.cellPos
			fs.cellPos++
			count := 1
			if rt.Bitmap != nil {
				count = rt.Bitmap.Count(cell)
			}
			if count > 0 {
				fs.cur = Cell{Tile: rt, Cell: cell}
				fs.has = true
				fs.remain = count - 1
				return
			}
		}
		fs.tileIdx++
		fs.cellPos = 0
	}
	fs.has = false
}

type mergeQueue struct {
	streams []*fragStream
	cmp     Comparator
}

func (q *mergeQueue) Len() int { return len(q.streams) }
func (q *mergeQueue) Less(i, j int) bool {
	return q.cmp(q.streams[i].cur, q.streams[j].cur) < 0
}
func (q *mergeQueue) Swap(i, j int) { q.streams[i], q.streams[j] = q.streams[j], q.streams[i] }
func (q *mergeQueue) Push(x interface{}) {
	q.streams = append(q.streams, x.(*fragStream))
}
func (q *mergeQueue) Pop() interface{} {
	old := q.streams
	n := len(old)
	item := old[n-1]
	q.streams = old[:n-1]
	return item
}

// appendCell coalesces c into the last slab when it is contiguous with it
// in the source tile's stored order, else starts a new one (spec §4.5
// slab invariants).
func appendCell(slabs []rcslab.Slab, c Cell) []rcslab.Slab {
	if n := len(slabs); n > 0 {
		last := &slabs[n-1]
		if last.Tile == c.Tile && last.Start+last.Length == c.Cell {
			last.Length++
			return slabs
		}
	}
	return append(slabs, rcslab.Slab{Tile: c.Tile, Start: c.Cell, Length: 1})
}

// Merge runs the N-way sorted merge across perFragTiles (one result-tile
// set per fragment id, already bitmap-evaluated), honoring cmp's order
// and the allows_dups tie policy (spec §4.7): with dups allowed every
// tied cell is emitted, newest fragment first (appendCell still coalesces
// contiguous cells of one tile into one slab); without dups only the
// newest tied cell survives.
func Merge(cmp Comparator, allowsDups bool, rank map[string]int, perFragTiles map[string][]*tilestore.ResultTile) []rcslab.Slab {
	q := &mergeQueue{cmp: cmp}
	fragIDs := sortedFragIDs(perFragTiles)
	for _, fragID := range fragIDs {
		fs := newFragStream(fragID, rank[fragID], perFragTiles[fragID])
		if fs.has {
			q.streams = append(q.streams, fs)
		}
	}
	heap.Init(q)

	var out []rcslab.Slab
	for q.Len() > 0 {
		top := q.streams[0]
		group := []*fragStream{heap.Pop(q).(*fragStream)}
		for q.Len() > 0 && cmp(q.streams[0].cur, top.cur) == 0 {
			group = append(group, heap.Pop(q).(*fragStream))
		}
		sort.Slice(group, func(i, j int) bool { return group[i].rank < group[j].rank })

		if allowsDups {
			for _, fs := range group {
				out = appendCell(out, fs.cur)
			}
		} else {
			out = appendCell(out, group[0].cur)
			for _, fs := range group[1:] {
				fs.remain = 0
			}
		}
		for _, fs := range group {
			fs.consume()
			if fs.has {
				heap.Push(q, fs)
			}
		}
	}
	return out
}

// MergeUnordered concatenates fragments' cells with no sort, in
// fragment-ID order (sortedFragIDs) for determinism; when allowsDups is false, a
// post-pass removes duplicate coordinates, keeping each one's newest
// fragment (spec §4.7, "unordered").
func MergeUnordered(dm *domain.Domain, allowsDups bool, rank map[string]int, perFragTiles map[string][]*tilestore.ResultTile) []rcslab.Slab {
	var out []rcslab.Slab
	for _, fragID := range sortedFragIDs(perFragTiles) {
		for _, rt := range perFragTiles[fragID] {
			for cell := 0; cell < rt.CellCount; cell++ {
				count := 1
				if rt.Bitmap != nil {
					count = rt.Bitmap.Count(cell)
				}
				for i := 0; i < count; i++ {
					out = appendCell(out, Cell{Tile: rt, Cell: cell})
				}
			}
		}
	}
	if !allowsDups {
		out = dedupUnsorted(dm, out, rank)
	}
	return out
}

func sortedFragIDs(perFragTiles map[string][]*tilestore.ResultTile) []string {
	ids := make([]string, 0, len(perFragTiles))
	for id := range perFragTiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func flatten(slabs []rcslab.Slab) []Cell {
	var out []Cell
	for _, s := range slabs {
		for i := 0; i < s.Length; i++ {
			out = append(out, Cell{Tile: s.Tile, Cell: s.Start + i})
		}
	}
	return out
}

func coordKey(dm *domain.Domain, c Cell) string {
	buf := make([]byte, 0, 32)
	for d := 0; d < dm.NDim(); d++ {
		v := c.coord(d)
		buf = append(buf, byte(len(v)))
		buf = append(buf, v...)
	}
	return string(buf)
}

// dedupUnsorted keeps, for each distinct coordinate, only the cell from
// the lowest-rank (newest) fragment, preserving the first-seen relative
// order of winners.
func dedupUnsorted(dm *domain.Domain, slabs []rcslab.Slab, rank map[string]int) []rcslab.Slab {
	flat := flatten(slabs)
	type winner struct {
		cell Cell
		rank int
	}
	best := map[string]winner{}
	for _, c := range flat {
		key := coordKey(dm, c)
		r := rank[c.Tile.FragID]
		if w, ok := best[key]; !ok || r < w.rank {
			best[key] = winner{cell: c, rank: r}
		}
	}
	seen := map[string]bool{}
	var out []rcslab.Slab
	for _, c := range flat {
		key := coordKey(dm, c)
		if seen[key] {
			continue
		}
		w := best[key]
		if w.cell.Tile != c.Tile || w.cell.Cell != c.Cell {
			continue
		}
		seen[key] = true
		out = appendCell(out, c)
	}
	return out
}

// DedupAdjacentSorted removes adjacent equal-coordinate duplicates from
// an already-sorted, already-merged slab list, keeping the newest
// fragment's cell (spec §4.7, "Cross-range dedup": when a subarray has
// multiple ranges, the same cell may be produced by more than one range).
func DedupAdjacentSorted(dm *domain.Domain, slabs []rcslab.Slab, rank map[string]int) []rcslab.Slab {
	flat := flatten(slabs)
	var deduped []Cell
	for _, c := range flat {
		if n := len(deduped); n > 0 && coordKey(dm, deduped[n-1]) == coordKey(dm, c) {
			if rank[c.Tile.FragID] < rank[deduped[n-1].Tile.FragID] {
				deduped[n-1] = c
			}
			continue
		}
		deduped = append(deduped, c)
	}
	var out []rcslab.Slab
	for _, c := range deduped {
		out = appendCell(out, c)
	}
	return out
}
