// Package partitioner implements the Subarray Partitioner of spec §4.1:
// it walks a subarray one memory-budgeted sub-partition at a time,
// splitting the current partition along its longest dimension on
// overflow, and reports "unsplittable" when a single cell still exceeds
// every per-attribute budget.
package partitioner

import (
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/errs"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/subarray"
)

// BudgetSpec is the per-attribute byte budget registered via
// SetResultBudget: fixed is always meaningful, var/validity only for
// var-sized or nullable attributes respectively.
type BudgetSpec struct {
	Fixed    uint64
	Var      uint64
	Validity uint64
}

// NextResult is the outcome of a call to Next.
type NextResult int

const (
	Ok NextResult = iota
	Unsplittable
	Done
)

// Partitioner walks a subarray's sub-partitions under per-attribute
// budgets (spec §4.1).
type Partitioner struct {
	schema  *domain.ArraySchema
	layout  subarray.Layout
	budgets map[string]BudgetSpec

	queue   []*subarray.Subarray
	current *subarray.Subarray

	unsplittable bool
	started      bool
	firstCall    bool
}

// New constructs a partitioner over sa's full extent; the first call to
// Next produces the initial sub-partition.
func New(sa *subarray.Subarray) *Partitioner {
	return &Partitioner{
		schema:    sa.Schema,
		layout:    sa.Layout,
		budgets:   map[string]BudgetSpec{},
		queue:     []*subarray.Subarray{sa},
		firstCall: true,
	}
}

// SetResultBudget registers a per-attribute budget, preserved across
// Next/SplitCurrent.
func (p *Partitioner) SetResultBudget(name string, fixed uint64, optional ...uint64) {
	spec := BudgetSpec{Fixed: fixed}
	if len(optional) > 0 {
		spec.Var = optional[0]
	}
	if len(optional) > 1 {
		spec.Validity = optional[1]
	}
	p.budgets[name] = spec
}

// Current returns the active sub-partition, or nil before the first
// Next call or after Done/Unsplittable.
func (p *Partitioner) Current() *subarray.Subarray { return p.current }

// Unsplittable reports whether the partitioner is stuck in the terminal
// unsplittable state for this query.
func (p *Partitioner) Unsplittable() bool { return p.unsplittable }

// Next advances to the next sub-partition whose estimated size (summed
// over frags) fits every registered budget. If the front of the queue
// overflows, it is split in place and retried; a single-cell partition
// that still overflows makes the whole query unsplittable (spec §4.1).
func (p *Partitioner) Next(frags []*fragment.Metadata) (NextResult, error) {
	if p.unsplittable {
		return Unsplittable, nil
	}
	for {
		if len(p.queue) == 0 {
			p.current = nil
			return Done, nil
		}
		candidate := p.queue[0]
		fits, err := p.fits(candidate, frags)
		if err != nil {
			return Unsplittable, err
		}
		if fits {
			p.queue = p.queue[1:]
			p.current = candidate
			p.started = true
			p.firstCall = false
			return Ok, nil
		}
		left, right, ok := p.splitLongestDimension(candidate)
		if !ok {
			p.unsplittable = true
			if p.firstCall {
				return Unsplittable, errs.New(errs.Unsplittable, "partitioner: initial partition is unsplittable")
			}
			return Unsplittable, nil
		}
		p.queue = append([]*subarray.Subarray{left, right}, p.queue[1:]...)
	}
}

// SplitCurrent is called by the caller after an output overflow detected
// post-dowork: it splits the *current* partition (not the queue front,
// which Next already advanced past) and requeues both halves so the next
// Next() call retries the finer region.
func (p *Partitioner) SplitCurrent() (NextResult, error) {
	if p.current == nil {
		return Unsplittable, errs.New(errs.InvalidArgument, "partitioner: split_current with no active partition")
	}
	left, right, ok := p.splitLongestDimension(p.current)
	if !ok {
		p.unsplittable = true
		return Unsplittable, nil
	}
	p.queue = append([]*subarray.Subarray{left, right}, p.queue...)
	p.current = nil
	return Ok, nil
}

func (p *Partitioner) fits(sa *subarray.Subarray, frags []*fragment.Metadata) (bool, error) {
	if len(p.budgets) == 0 {
		return true, nil
	}
	totals := map[string]BudgetSpec{}
	for _, frag := range frags {
		overlaps := sa.EstimateOverlap(frag)
		for _, ov := range overlaps {
			for field, budget := range p.budgets {
				fixedSz, varSz, validitySz := componentSizes(frag, field, sa.Schema.Domain, ov)
				t := totals[field]
				t.Fixed += scaledMin(fixedSz, ov.Fraction)
				t.Var += scaledMin(varSz, ov.Fraction)
				t.Validity += scaledMin(validitySz, ov.Fraction)
				totals[field] = t
				_ = budget
			}
		}
	}
	for field, budget := range p.budgets {
		t := totals[field]
		if t.Fixed > budget.Fixed {
			return false, nil
		}
		if budget.Var > 0 && t.Var > budget.Var {
			return false, nil
		}
		if budget.Validity > 0 && t.Validity > budget.Validity {
			return false, nil
		}
	}
	return true, nil
}

func scaledMin(tileBytes uint64, fraction float64) uint64 {
	if tileBytes == 0 {
		return 0
	}
	scaled := uint64(float64(tileBytes) * fraction)
	if scaled > tileBytes {
		scaled = tileBytes
	}
	return scaled
}

func componentSizes(frag *fragment.Metadata, field string, dm *domain.Domain, ov subarray.TileOverlap) (fixed, varb, validity uint64) {
	tileIdx := tileIndexFor(frag, dm, ov)
	if tileIdx < 0 {
		return 0, 0, 0
	}
	lookup := func(component string) uint64 {
		table, ok := frag.FieldOffsets[field+":"+component]
		if !ok || tileIdx >= len(table) {
			return 0
		}
		return uint64(table[tileIdx].Size)
	}
	return lookup("fixed"), lookup("var"), lookup("validity")
}

func tileIndexFor(frag *fragment.Metadata, dm *domain.Domain, ov subarray.TileOverlap) int {
	if frag.Dense {
		return int(dm.LocalTileIndex(frag.NonEmptyDomain, ov.TileCoords))
	}
	if len(ov.TileCoords) != 1 {
		return -1
	}
	return int(ov.TileCoords[0])
}

// splitLongestDimension bisects sa along the dimension with the longest
// unsplit range (numeric midpoint or string prefix bisection, spec
// §4.1), honoring the global-order single-range restriction: a global
// layout may only ever split the first dimension.
func (p *Partitioner) splitLongestDimension(sa *subarray.Subarray) (left, right *subarray.Subarray, ok bool) {
	dm := sa.Schema.Domain
	candidateDims := []int{}
	if sa.Layout == subarray.Global {
		candidateDims = []int{0}
	} else {
		for d := 0; d < dm.NDim(); d++ {
			candidateDims = append(candidateDims, d)
		}
	}

	bestDim := -1
	bestSpan := -1.0
	for _, d := range candidateDims {
		if len(sa.DimRanges[d]) != 1 {
			// Splitting a multi-range dimension isn't meaningful here; the
			// partitioner only subdivides the single widest range.
			continue
		}
		r := sa.DimRanges[d][0]
		dt := dm.Dimensions[d].Type
		if r.IsSingleCell(dt) {
			continue
		}
		span := rangeSpan(dt, r)
		if span > bestSpan {
			bestSpan = span
			bestDim = d
		}
	}
	if bestDim == -1 {
		return nil, nil, false
	}

	dt := dm.Dimensions[bestDim].Type
	r := sa.DimRanges[bestDim][0]
	lr, rr, splitOk := r.Split(dt)
	if !splitOk {
		return nil, nil, false
	}

	left = sa.Clone()
	left.DimRanges[bestDim] = []domain.Range{lr}
	right = sa.Clone()
	right.DimRanges[bestDim] = []domain.Range{rr}
	return left, right, true
}

// NewSecondary constructs a sub-partitioner sharing parent's split
// algorithm but with every attribute budget scaled down by scale, used to
// bound the intermediate sort working-set on very large unordered
// subarrays (spec §4.1). If scale proves too small to make progress, the
// caller doubles it (capped at 1.0, the parent's own budget) and retries.
func NewSecondary(parent *Partitioner, sa *subarray.Subarray, scale float64) *Partitioner {
	sub := New(sa)
	for name, b := range parent.budgets {
		sub.SetResultBudget(name, uint64(float64(b.Fixed)*scale), uint64(float64(b.Var)*scale), uint64(float64(b.Validity)*scale))
	}
	return sub
}

func rangeSpan(dt datatype.Datatype, r domain.Range) float64 {
	if dt.IsString() {
		return float64(len(r.High) + len(r.Low))
	}
	if dt.Kind == datatype.Float32 || dt.Kind == datatype.Float64 {
		return domain.DecodeFloat64(dt, r.High) - domain.DecodeFloat64(dt, r.Low)
	}
	return float64(domain.DecodeInt64(dt, r.High) - domain.DecodeInt64(dt, r.Low))
}
