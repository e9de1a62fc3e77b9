// Package query implements the top-level orchestration of spec §5-6: it
// wires the Subarray Partitioner, Tile Store, Bitmap Evaluator, Result
// Space Tile Planner, Sparse Result-Tile Selector, Merge Engine, Query
// Condition Engine, and Copy Engine behind a single dowork loop driven by
// the Read State Machine.
package query

import (
	"context"
	"encoding/binary"

	"github.com/alitto/pond"

	"github.com/sixy6e/go-arraycore/bitmap"
	"github.com/sixy6e/go-arraycore/condition"
	"github.com/sixy6e/go-arraycore/copyengine"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/errs"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/memtrack"
	"github.com/sixy6e/go-arraycore/merge"
	"github.com/sixy6e/go-arraycore/partitioner"
	"github.com/sixy6e/go-arraycore/rcslab"
	"github.com/sixy6e/go-arraycore/readstate"
	"github.com/sixy6e/go-arraycore/resultspace"
	"github.com/sixy6e/go-arraycore/sparsesel"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// Query is one read operation against an ArrayHandle (spec §3, "Query").
type Query struct {
	array  *ArrayHandle
	schema *domain.ArraySchema
	cfg    Config

	sa        *subarray.Subarray
	condition *condition.Node

	boundDims  []int
	boundAttrs []domain.Attribute
	specs      map[string]*copyengine.BufferSpec
	fields     []copyengine.Field
	denseCtx   *denseCoordContext

	tracker  *memtrack.Tracker
	arena    *tilestore.Arena
	store    *tilestore.Store
	state    *readstate.Machine
	part     *partitioner.Partitioner
	accessor *schemaAccessor
	pool     *pond.WorkerPool

	frags     []*fragment.Metadata
	fragsByID map[string]*fragment.Metadata
	rank      map[string]int

	pendingSlabs      []rcslab.Slab
	pendingSpaceTiles []*resultspace.SpaceTile
	// pendingTiles backs pendingSlabs: the arena handles whose initial
	// reference is released once pendingSlabs has been fully (not
	// partially, via overflow) copied into the bound buffers.
	pendingTiles []*tilestore.ResultTile

	initialized  bool
	done         bool
	statusDetail errs.StatusDetail
	results      map[string]copyengine.BufferResult

	// committed is each bound field's cumulative bytes written so far
	// *this Submit call*: every call starts every bound buffer over from
	// offset 0, since the caller is expected to have drained the previous
	// call's buffer contents already (spec §6, "Submit"/incomplete
	// queries) — a call may still span several partitions/space tiles
	// internally, so this tracks progress across those (see copyPending).
	committed map[string]copyengine.BufferResult
}

// NewQuery constructs a Query over sa, ready for buffers to be bound.
func NewQuery(array *ArrayHandle, cfg Config, sa *subarray.Subarray) (*Query, error) {
	if array == nil || array.Schema == nil {
		return nil, errs.New(errs.InvalidArgument, "query: array handle and schema are required")
	}
	if sa == nil || sa.IsEmpty() {
		return nil, errs.New(errs.InvalidArgument, "query: subarray must have at least one range on every dimension")
	}
	tracker := memtrack.New(cfg.MemoryBudget)
	q := &Query{
		array:     array,
		schema:    array.Schema,
		cfg:       cfg,
		sa:        sa,
		specs:     map[string]*copyengine.BufferSpec{},
		committed: map[string]copyengine.BufferResult{},
		denseCtx:  &denseCoordContext{},
		tracker:   tracker,
		arena:     tilestore.NewArena(tracker),
		store:     tilestore.NewStore(array.FS, tracker, array.Logger),
		state:     readstate.New(),
		part:      partitioner.New(sa),
		accessor:  newSchemaAccessor(array.Schema),
	}
	return q, nil
}

// SetWorkerPool enables parallel bitmap evaluation across a bound pool
// (spec §5(b)); the pool's lifetime is the caller's responsibility.
func (q *Query) SetWorkerPool(pool *pond.WorkerPool) {
	q.pool = pool
}

// SetCondition binds the query condition tree evaluated before copy.
func (q *Query) SetCondition(tree *condition.Node) {
	q.condition = tree
}

// BindDimBuffer binds dimIdx's coordinate output buffer (spec §6).
func (q *Query) BindDimBuffer(dimIdx int, spec copyengine.BufferSpec) error {
	if dimIdx < 0 || dimIdx >= q.schema.Domain.NDim() {
		return errs.New(errs.InvalidArgument, "query: dimension index %d out of range", dimIdx)
	}
	dim := q.schema.Domain.Dimensions[dimIdx]
	spec.Name = dim.Name
	q.applyOffsetsMode(&spec)
	q.specs[dim.Name] = &spec
	q.boundDims = append(q.boundDims, dimIdx)
	q.fields = nil
	q.part.SetResultBudget(dim.Name, uint64(len(spec.Fixed)), uint64(len(spec.Var)), uint64(len(spec.Validity)))
	return nil
}

// BindAttrBuffer binds attr's output buffer.
func (q *Query) BindAttrBuffer(name string, spec copyengine.BufferSpec) error {
	attr, ok := q.schema.Attribute(name)
	if !ok {
		return errs.New(errs.InvalidArgument, "query: unknown attribute %q", name)
	}
	spec.Name = name
	q.applyOffsetsMode(&spec)
	q.specs[name] = &spec
	q.boundAttrs = append(q.boundAttrs, attr)
	q.fields = nil
	q.part.SetResultBudget(name, uint64(len(spec.Fixed)), uint64(len(spec.Var)), uint64(len(spec.Validity)))
	return nil
}

func (q *Query) applyOffsetsMode(spec *copyengine.BufferSpec) {
	if spec.OffsetBits == 0 {
		spec.OffsetBits = q.cfg.OffsetsBits
	}
	spec.OffsetsMode = q.cfg.OffsetsMode
	spec.OffsetsExtraElement = q.cfg.OffsetsExtraElement
}

// Results reports, per bound field, how many bytes the most recent
// Submit call wrote into that field's buffers.
func (q *Query) Results() map[string]copyengine.BufferResult { return q.results }

// StatusDetail refines the most recent Incomplete status (spec §6).
func (q *Query) StatusDetail() errs.StatusDetail { return q.statusDetail }

// Finalize releases any outstanding tile references left over from an
// abandoned (not fully drained) query.
func (q *Query) Finalize() {
	for _, rt := range q.pendingTiles {
		rt.Release()
	}
	q.pendingTiles = nil
}

func (q *Query) init(ctx context.Context) error {
	frags, err := q.array.Catalog.Fragments(ctx, 0)
	if err != nil {
		return err
	}
	q.frags = fragment.OrderByRecency(frags)
	q.fragsByID = make(map[string]*fragment.Metadata, len(q.frags))
	for _, f := range q.frags {
		q.fragsByID[f.ID] = f
	}
	q.rank = fragment.Rank(q.frags)
	q.ensureFields()
	q.state.Init()
	q.initialized = true
	return nil
}

func (q *Query) ensureFields() {
	if q.fields != nil {
		return
	}
	dm := q.schema.Domain
	var fields []copyengine.Field
	for _, d := range q.boundDims {
		dim := dm.Dimensions[d]
		f := copyengine.Field{Name: dim.Name}
		if width, ok := dim.Type.FixedSize(); ok {
			f.FixedWidth = width
		}
		if q.schema.ArrayType == domain.Dense {
			f.Value = denseDimFieldValue(q.denseCtx, d)
		} else {
			f.Value = sparseDimFieldValue(d)
		}
		fields = append(fields, f)
	}
	for _, attr := range q.boundAttrs {
		f := copyengine.Field{Name: attr.Name, Nullable: attr.Nullable, Value: attrFieldValue(attr)}
		if attr.IsVar() {
			f.VarSized = true
		} else if width, ok := attr.Type.FixedSize(); ok {
			f.FixedWidth = width
		}
		fields = append(fields, f)
	}
	q.fields = fields
}

// fieldNames is the set of logical field names whose tile offset tables
// must be resident before selection/planning can estimate component
// sizes (spec §4.2).
func (q *Query) fieldNames() []string {
	names := []string{tilestore.ZippedCoordsField}
	for _, d := range q.schema.Domain.Dimensions {
		names = append(names, d.Name)
	}
	for _, attr := range q.attrsNeeded() {
		names = append(names, attr.Name)
	}
	return names
}

// attrsNeeded is the union of bound output attributes and attributes
// referenced by the query condition (the condition engine needs their
// tiles even when the attribute isn't itself an output field).
func (q *Query) attrsNeeded() []domain.Attribute {
	seen := map[string]bool{}
	var out []domain.Attribute
	for _, a := range q.boundAttrs {
		if !seen[a.Name] {
			seen[a.Name] = true
			out = append(out, a)
		}
	}
	if q.condition != nil {
		for _, name := range conditionFieldNames(q.condition) {
			if seen[name] {
				continue
			}
			if attr, ok := q.schema.Attribute(name); ok {
				seen[name] = true
				out = append(out, attr)
			}
		}
	}
	return out
}

func conditionFieldNames(n *condition.Node) []string {
	if n == nil {
		return nil
	}
	var out []string
	if n.Field != "" {
		out = append(out, n.Field)
	}
	for _, c := range n.Children {
		out = append(out, conditionFieldNames(c)...)
	}
	return out
}

// Submit runs dowork iterations, copying as many units (sparse
// partitions, or dense space tiles) as fit into the bound buffers in one
// call (spec §6, "Submit"): every call starts each bound buffer over
// from offset 0, since the caller is expected to have drained the
// previous call's contents before calling again. It returns Incomplete
// the instant a buffer overflows (more work remains, call again after
// draining) or Complete once every matching cell has been copied.
func (q *Query) Submit(ctx context.Context) (Status, error) {
	if q.done {
		return Complete, nil
	}
	if err := ctx.Err(); err != nil {
		return QueryError, errs.Wrap(errs.Cancelled, err, "query: cancelled")
	}
	if !q.initialized {
		if err := q.init(ctx); err != nil {
			return QueryError, err
		}
	}
	q.committed = map[string]copyengine.BufferResult{}
	q.statusDetail = errs.NoDetail

	for {
		if err := ctx.Err(); err != nil {
			return QueryError, errs.Wrap(errs.Cancelled, err, "query: cancelled during dowork")
		}
		if len(q.pendingSlabs) == 0 {
			status, terminal, err := q.advanceToNextUnit(ctx)
			if err != nil {
				return QueryError, err
			}
			if terminal {
				q.finalizeVarOffsets()
				q.results = q.committed
				return status, nil
			}
			continue
		}

		overflowed, err := q.copyPending()
		if err != nil {
			return QueryError, err
		}
		if overflowed {
			q.finalizeVarOffsets()
			q.results = q.committed
			q.statusDetail = errs.DetailUserBufferSize
			q.array.Logger.Event("query_overflow")
			return Incomplete, nil
		}
	}
}

// advanceToNextUnit populates q.pendingSlabs (directly, or by queueing
// dense space tiles and popping the first) with the next unit of work.
// terminal=true means the caller should return status immediately without
// looping again (Done, Unsplittable, or an unrecoverable error).
func (q *Query) advanceToNextUnit(ctx context.Context) (status Status, terminal bool, err error) {
	if q.schema.ArrayType == domain.Dense && len(q.pendingSpaceTiles) > 0 {
		st := q.pendingSpaceTiles[0]
		q.pendingSpaceTiles = q.pendingSpaceTiles[1:]
		q.denseCtx.set(q.schema.Domain, st.Range)
		slabs := buildSpaceTileSlabs(q.schema.Domain, st)
		if q.condition != nil {
			slabs = condition.Evaluate(q.condition, slabs, q.accessor, condition.DenseModeRefactored)
		}
		q.pendingSlabs = slabs
		q.pendingTiles = q.pendingTiles[:0]
		for _, c := range st.Contributions {
			q.pendingTiles = append(q.pendingTiles, c.Tile)
		}
		for _, rt := range st.SparseTiles {
			q.pendingTiles = append(q.pendingTiles, rt)
		}
		q.state.AdvancePartition()
		return Incomplete, false, nil
	}

	for {
		nr, nerr := q.part.Next(q.frags)
		if nerr != nil {
			return QueryError, true, nerr
		}
		switch nr {
		case partitioner.Done:
			q.state.MarkDone()
			q.done = true
			return Complete, true, nil
		case partitioner.Unsplittable:
			q.state.SplitFailed()
			q.statusDetail = errs.DetailUnsplittable
			return Incomplete, true, nil
		}

		sa := q.part.Current()
		if q.schema.ArrayType == domain.Dense {
			tiles, berr := q.buildDenseSpaceTiles(ctx, sa)
			if berr != nil {
				if errs.KindOf(berr) == errs.MemoryBudget {
					if ok, terminalStatus := q.splitCurrent(); !ok {
						return terminalStatus, true, nil
					}
					continue
				}
				return QueryError, true, berr
			}
			q.pendingSpaceTiles = tiles
			q.state.AdvancePartition()
			return Incomplete, false, nil
		}

		slabs, rts, serr := q.buildSparseSlabs(ctx, sa)
		if serr != nil {
			if errs.KindOf(serr) == errs.MemoryBudget {
				if ok, terminalStatus := q.splitCurrent(); !ok {
					return terminalStatus, true, nil
				}
				continue
			}
			return QueryError, true, serr
		}
		q.pendingSlabs = slabs
		q.pendingTiles = rts
		q.state.AdvancePartition()
		return Incomplete, false, nil
	}
}

// splitCurrent re-partitions the partition Next just handed out after it
// turned out to exceed the memory budget during tile selection/loading
// (a finer estimate than the partitioner's own size heuristic can catch).
// ok=false means the query is now unsplittable and status/terminal should
// be returned to the caller immediately.
func (q *Query) splitCurrent() (ok bool, status Status) {
	res, err := q.part.SplitCurrent()
	if err != nil || res == partitioner.Unsplittable {
		q.state.SplitFailed()
		q.statusDetail = errs.DetailUnsplittable
		return false, Incomplete
	}
	return true, Incomplete
}

// copyPending copies one unit (one partition's merged slabs, or one dense
// space tile's resolved slabs) into the bound buffers, continuing from
// wherever this Submit call's earlier units left off (see viewSpecs). A
// query's total result set is usually spread across many units, so one
// call keeps pulling and copying units until a buffer overflows or the
// query is exhausted.
func (q *Query) copyPending() (overflowed bool, err error) {
	views := q.viewSpecs()
	remaining, overflowed, deltas := copyengine.CopyAll(q.pendingSlabs, q.fields, views)
	q.commit(deltas)
	if overflowed {
		q.pendingSlabs = remaining
		q.state.Overflow(errs.DetailUserBufferSize)
		return true, nil
	}
	q.pendingSlabs = nil
	if err := q.state.CheckForwardProgress(); err != nil {
		return false, err
	}
	for _, rt := range q.pendingTiles {
		rt.Release()
	}
	q.pendingTiles = nil
	q.state.Emit()
	q.state.BackToReady()
	return false, nil
}

// viewSpecs builds, per bound field, a BufferSpec whose Fixed/Var/Validity
// slices start where this Submit call's earlier units left off; offsets-
// extra-element is always suppressed here since it must be written at
// most once per call, after this call's last unit (finalizeVarOffsets).
func (q *Query) viewSpecs() map[string]*copyengine.BufferSpec {
	out := make(map[string]*copyengine.BufferSpec, len(q.specs))
	for name, spec := range q.specs {
		c := q.committed[name]
		view := *spec
		view.Fixed = spec.Fixed[c.FixedBytes:]
		if spec.Var != nil {
			view.Var = spec.Var[c.VarBytes:]
		}
		if spec.Validity != nil {
			view.Validity = spec.Validity[c.ValidityBytes:]
		}
		view.OffsetsExtraElement = false
		out[name] = &view
	}
	return out
}

// commit folds one CopyAll unit's deltas into this Submit call's
// per-field progress, rebasing any offset entries var fields just wrote
// (CopyAll wrote them relative to this unit's resliced Var view, starting
// at 0; they must instead read relative to this call's full Var buffer).
func (q *Query) commit(deltas map[string]copyengine.BufferResult) {
	if q.committed == nil {
		q.committed = make(map[string]copyengine.BufferResult, len(q.fields))
	}
	for _, f := range q.fields {
		d := deltas[f.Name]
		prev := q.committed[f.Name]
		if f.VarSized && d.FixedBytes > 0 && prev.VarBytes > 0 {
			rebaseOffsets(q.specs[f.Name], prev.FixedBytes, d.FixedBytes, prev.VarBytes)
		}
		q.committed[f.Name] = copyengine.BufferResult{
			FixedBytes:    prev.FixedBytes + d.FixedBytes,
			VarBytes:      prev.VarBytes + d.VarBytes,
			ValidityBytes: prev.ValidityBytes + d.ValidityBytes,
		}
	}
}

// rebaseOffsets adds base to every newly-written offset entry in
// spec.Fixed[fromByte : fromByte+deltaBytes).
func rebaseOffsets(spec *copyengine.BufferSpec, fromByte, deltaBytes int, base int) {
	width := 8
	if spec.OffsetBits == 32 {
		width = 4
	}
	for pos := fromByte; pos+width <= fromByte+deltaBytes; pos += width {
		if width == 4 {
			v := binary.BigEndian.Uint32(spec.Fixed[pos:])
			binary.BigEndian.PutUint32(spec.Fixed[pos:], v+uint32(base))
		} else {
			v := binary.BigEndian.Uint64(spec.Fixed[pos:])
			binary.BigEndian.PutUint64(spec.Fixed[pos:], v+uint64(base))
		}
	}
}

// finalizeVarOffsets appends the configured trailing offset element (one
// past the last cell, equal to the field's total var byte length written
// this call) for every bound var field, once at the end of each Submit
// call (spec §6, "Configure offsets", offsets_extra_element): every unit
// copied during the call suppresses it via viewSpecs, since it must
// appear exactly once per call's buffer, after that call's last cell.
func (q *Query) finalizeVarOffsets() {
	for _, f := range q.fields {
		if !f.VarSized {
			continue
		}
		spec := q.specs[f.Name]
		if !spec.OffsetsExtraElement {
			continue
		}
		c := q.committed[f.Name]
		width := 8
		if spec.OffsetBits == 32 {
			width = 4
		}
		if c.FixedBytes+width > len(spec.Fixed) {
			continue
		}
		if width == 4 {
			binary.BigEndian.PutUint32(spec.Fixed[c.FixedBytes:], uint32(c.VarBytes))
		} else {
			binary.BigEndian.PutUint64(spec.Fixed[c.FixedBytes:], uint64(c.VarBytes))
		}
		c.FixedBytes += width
		q.committed[f.Name] = c
	}
}

func (q *Query) buildSparseSlabs(ctx context.Context, sa *subarray.Subarray) ([]rcslab.Slab, []*tilestore.ResultTile, error) {
	var rts []*tilestore.ResultTile
	var err error
	if sa.Layout == subarray.Unordered {
		rts, err = q.selectUnorderedBounded(ctx, sa)
	} else {
		rts, err = q.selectLoadEvaluate(ctx, sa)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rts) == 0 {
		return nil, nil, nil
	}

	perFrag := map[string][]*tilestore.ResultTile{}
	for _, rt := range rts {
		perFrag[rt.FragID] = append(perFrag[rt.FragID], rt)
	}

	var slabs []rcslab.Slab
	if sa.Layout == subarray.Unordered {
		slabs = merge.MergeUnordered(q.schema.Domain, q.schema.AllowsDups, q.rank, perFrag)
	} else {
		cmp := merge.ComparatorFor(q.schema.Domain, sa.Layout)
		slabs = merge.Merge(cmp, q.schema.AllowsDups, q.rank, perFrag)
	}

	if q.condition != nil {
		slabs = condition.Evaluate(q.condition, slabs, q.accessor, condition.DenseModeLegacy)
	}
	return slabs, rts, nil
}

// selectLoadEvaluate selects sa's sparse candidate tiles, loads their
// coordinates/attributes, and bitmap-evaluates them against sa's own
// declared ranges.
func (q *Query) selectLoadEvaluate(ctx context.Context, sa *subarray.Subarray) ([]*tilestore.ResultTile, error) {
	selector := sparsesel.NewSelector(q.arena)
	rts, err := selector.Select(sa, q.frags, q.tracker)
	if err != nil {
		return nil, err
	}
	if len(rts) == 0 {
		return nil, nil
	}
	if err := q.store.LoadTileOffsets(ctx, q.frags, q.fieldNames()); err != nil {
		return nil, err
	}
	if err := q.store.ReadCoordinateTiles(ctx, q.schema.Domain, q.fragsByID, rts); err != nil {
		return nil, err
	}
	for _, attr := range q.attrsNeeded() {
		if err := q.store.ReadAttributeTiles(ctx, attr, q.fragsByID, rts); err != nil {
			return nil, err
		}
	}

	cellOrder := sa.Layout.CellOrder(q.schema.Domain)
	useCounts := q.schema.AllowsDups && hasMultiRangeDim(sa)
	if q.cfg.ParallelBitmap && q.pool != nil {
		bitmap.EvaluateParallel(q.pool, rts, q.schema.Domain, sa.DimRanges, cellOrder, useCounts)
	} else {
		for _, rt := range rts {
			rt.Bitmap = bitmap.Evaluate(rt, q.schema.Domain, sa.DimRanges, cellOrder, useCounts)
		}
	}
	return rts, nil
}

// selectUnorderedBounded walks sa through a secondary partitioner scaled
// down from the primary partitioner's own per-field budgets (spec §4.1:
// "A secondary partitioner may be instantiated inside a single dowork
// iteration to bound the intermediate sort working-set on very large
// unordered subarrays"), selecting and loading one sub-partition's
// candidate tiles at a time rather than all of sa's at once. If a
// sub-partition proves unsplittable under the scaled-down budget, the
// scale doubles (capped at the parent's own budget) and the walk restarts
// from sa.
func (q *Query) selectUnorderedBounded(ctx context.Context, sa *subarray.Subarray) ([]*tilestore.ResultTile, error) {
	scale := q.cfg.SubPartitionerScale
	if scale <= 0 || scale >= 1 {
		return q.selectLoadEvaluate(ctx, sa)
	}
	for {
		secondary := partitioner.NewSecondary(q.part, sa, scale)
		rts, ok, err := q.drainSecondary(ctx, secondary)
		if err != nil {
			return nil, err
		}
		if ok {
			return rts, nil
		}
		scale *= 2
		if scale >= 1 {
			return q.selectLoadEvaluate(ctx, sa)
		}
	}
}

// drainSecondary walks secondary to Done, accumulating every
// sub-partition's selected, loaded, bitmap-evaluated candidate tiles. ok
// is false when a sub-partition was unsplittable under secondary's
// budget, telling the caller to retry with a larger scale.
func (q *Query) drainSecondary(ctx context.Context, secondary *partitioner.Partitioner) (rts []*tilestore.ResultTile, ok bool, err error) {
	for {
		nr, nerr := secondary.Next(q.frags)
		if nerr != nil {
			if errs.KindOf(nerr) == errs.Unsplittable {
				return nil, false, nil
			}
			return nil, false, nerr
		}
		switch nr {
		case partitioner.Done:
			return rts, true, nil
		case partitioner.Unsplittable:
			return nil, false, nil
		}
		chunkRTs, serr := q.selectLoadEvaluate(ctx, secondary.Current())
		if serr != nil {
			return nil, false, serr
		}
		rts = append(rts, chunkRTs...)
	}
}

// hasMultiRangeDim reports whether any dimension carries more than one
// range, the case in which overlapping ranges could select the same cell
// more than once. selectLoadEvaluate uses count mode (rather than a plain
// pass bitmap) only when this holds and the schema allows duplicates, so
// such a cell is emitted once per matching range combination (spec §4.4).
func hasMultiRangeDim(sa *subarray.Subarray) bool {
	for d := range sa.DimRanges {
		if sa.NumRangesOnDim(d) > 1 {
			return true
		}
	}
	return false
}

func (q *Query) buildDenseSpaceTiles(ctx context.Context, sa *subarray.Subarray) ([]*resultspace.SpaceTile, error) {
	planner := resultspace.NewPlanner(q.schema, q.arena)
	tiles := planner.Plan(sa, q.frags)
	if len(tiles) == 0 {
		return nil, nil
	}
	if err := q.store.LoadTileOffsets(ctx, q.frags, q.fieldNames()); err != nil {
		return nil, err
	}
	var rts []*tilestore.ResultTile
	for _, st := range tiles {
		for _, c := range st.Contributions {
			rts = append(rts, c.Tile)
		}
	}
	for _, attr := range q.attrsNeeded() {
		if err := q.store.ReadAttributeTiles(ctx, attr, q.fragsByID, rts); err != nil {
			return nil, err
		}
	}
	if err := q.attachSparseOverrides(ctx, sa, tiles); err != nil {
		return nil, err
	}
	return tiles, nil
}

// attachSparseOverrides runs the Sparse Selector against sa and assigns
// each selected, bitmap-passing sparse cell to the SpaceTile it falls
// into (spec §4.3, "Sparse fragments are added afterwards via the Sparse
// Selector"). A cell is dropped when a fragment newer than its own is a
// dense fragment whose non-empty domain covers it (spec §4.4's
// overwritten check): sparse fragments are never shadowed by dense
// fragments through ordinary recency, only through that explicit check.
// Ties between two sparse fragments at the exact same coordinate are
// broken by recency rank, same as an ordinary sparse read.
func (q *Query) attachSparseOverrides(ctx context.Context, sa *subarray.Subarray, tiles []*resultspace.SpaceTile) error {
	selector := sparsesel.NewSelector(q.arena)
	rts, err := selector.Select(sa, q.frags, q.tracker)
	if err != nil {
		return err
	}
	if len(rts) == 0 {
		return nil
	}
	if err := q.store.LoadTileOffsets(ctx, q.frags, q.fieldNames()); err != nil {
		return err
	}
	if err := q.store.ReadCoordinateTiles(ctx, q.schema.Domain, q.fragsByID, rts); err != nil {
		return err
	}
	for _, attr := range q.attrsNeeded() {
		if err := q.store.ReadAttributeTiles(ctx, attr, q.fragsByID, rts); err != nil {
			return err
		}
	}

	dm := q.schema.Domain
	cellOrder := sa.Layout.CellOrder(dm)
	newerDense := map[string][]domain.NDRange{}
	for _, rt := range rts {
		bm := bitmap.Evaluate(rt, dm, sa.DimRanges, cellOrder, false)
		nd, ok := newerDense[rt.FragID]
		if !ok {
			nd = newerDenseNonEmptyDomains(q.frags, q.rank, rt.FragID)
			newerDense[rt.FragID] = nd
		}
		if len(nd) > 0 {
			bitmap.ApplyOverwritten(bm, rt, dm, nd)
		}
		rt.Bitmap = bm
	}

	byTile := make(map[string]*resultspace.SpaceTile, len(tiles))
	for _, st := range tiles {
		byTile[resultspace.TileCoordKey(st.TileCoords)] = st
	}
	bestRank := map[*resultspace.SpaceTile]map[string]int{}
	retained := map[*resultspace.SpaceTile]map[*tilestore.ResultTile]bool{}

	for _, rt := range rts {
		rank := q.rank[rt.FragID]
		for cell := 0; cell < rt.CellCount; cell++ {
			if !rt.Bitmap.Passes(cell) {
				continue
			}
			coord := make([][]byte, dm.NDim())
			tc := make([]uint64, dm.NDim())
			for d := 0; d < dm.NDim(); d++ {
				v := rt.Coords.Coord(cell, d)
				coord[d] = v
				tc[d] = dm.TileCoord(d, v)
			}
			st, ok := byTile[resultspace.TileCoordKey(tc)]
			if !ok {
				continue
			}
			key := resultspace.CoordKey(coord)
			ranks := bestRank[st]
			if ranks == nil {
				ranks = map[string]int{}
				bestRank[st] = ranks
			}
			if existing, dup := ranks[key]; dup && rank >= existing {
				continue
			}
			ranks[key] = rank
			if st.SparseCells == nil {
				st.SparseCells = map[string]resultspace.SparseCell{}
			}
			st.SparseCells[key] = resultspace.SparseCell{Tile: rt, Cell: cell}

			seen := retained[st]
			if seen == nil {
				seen = map[*tilestore.ResultTile]bool{}
				retained[st] = seen
			}
			if !seen[rt] {
				seen[rt] = true
				rt.Retain()
				st.SparseTiles = append(st.SparseTiles, rt)
			}
		}
	}

	for _, rt := range rts {
		rt.Release()
	}
	return nil
}

// newerDenseNonEmptyDomains returns the non-empty domains of every dense
// fragment ranked newer than fragID (spec §4.4's overwritten check).
func newerDenseNonEmptyDomains(frags []*fragment.Metadata, rank map[string]int, fragID string) []domain.NDRange {
	r := rank[fragID]
	var out []domain.NDRange
	for _, f := range frags {
		if f.Dense && rank[f.ID] < r {
			out = append(out, f.NonEmptyDomain)
		}
	}
	return out
}
