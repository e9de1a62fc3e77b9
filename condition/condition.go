// Package condition implements the Query Condition Engine of spec §4.6: a
// boolean tree of (field, comparison, constant) leaves that reduces
// ResultCellSlabs in place, either dropping non-surviving cells (the
// sparse reader path and DenseModeLegacy) or filling them with the
// field's fill value (the refactored dense reader, DenseModeRefactored,
// so dense stride semantics are preserved).
package condition

import (
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/rcslab"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// Op is a leaf comparison operator.
type Op uint8

const (
	Lt Op = iota
	Le
	Eq
	Ne
	Ge
	Gt
	IsNull
	NotNull
)

// Kind distinguishes a leaf predicate from a boolean combinator.
type Kind uint8

const (
	LeafKind Kind = iota
	AndKind
	OrKind
	NotKind
)

// Node is one node of the condition tree (spec §4.6).
type Node struct {
	Kind     Kind
	Field    string
	Op       Op
	Constant []byte
	Children []*Node
}

// Cmp builds a leaf predicate.
func Cmp(field string, op Op, constant []byte) *Node {
	return &Node{Kind: LeafKind, Field: field, Op: op, Constant: constant}
}

func And(children ...*Node) *Node { return &Node{Kind: AndKind, Children: children} }
func Or(children ...*Node) *Node  { return &Node{Kind: OrKind, Children: children} }
func Not(child *Node) *Node       { return &Node{Kind: NotKind, Children: []*Node{child}} }

// DenseMode selects how non-surviving cells are represented on a dense
// read (spec §9 Open Question, resolved per original_source/ in
// tiledb/sm/query/legacy/reader.cc vs the refactored reader).
type DenseMode uint8

const (
	// DenseModeRefactored fills non-surviving cells with the field's fill
	// value, preserving stride semantics for dense output buffers.
	DenseModeRefactored DenseMode = iota
	// DenseModeLegacy drops non-surviving cells, same as sparse reads.
	DenseModeLegacy
)

// FieldAccessor resolves a field's type, nullability, fill value, and
// attribute tile for a given ResultTile; it is satisfied by the schema +
// tilestore in the query orchestration layer.
type FieldAccessor interface {
	Type(field string) (datatype.Datatype, bool)
	Nullable(field string) bool
	FillValue(field string) []byte
	Tile(rt *tilestore.ResultTile, field string) (*tilestore.Tile, bool)
}

// Evaluate reduces slabs in place against tree, per mode. Surviving
// slices become the returned slab list.
func Evaluate(tree *Node, slabs []rcslab.Slab, fa FieldAccessor, mode DenseMode) []rcslab.Slab {
	if tree == nil {
		return slabs
	}
	var out []rcslab.Slab
	for _, slab := range slabs {
		out = append(out, evaluateSlab(tree, slab, fa, mode)...)
	}
	return out
}

func evaluateSlab(tree *Node, slab rcslab.Slab, fa FieldAccessor, mode DenseMode) []rcslab.Slab {
	if slab.IsFill() {
		// Fill slabs (no covering fragment) pass through unchanged: there
		// is no tile data to evaluate the condition against; the caller
		// already decided these cells are fill-value-only.
		return []rcslab.Slab{slab}
	}

	var result []rcslab.Slab
	runStart := -1
	flush := func(end int) {
		if runStart == -1 {
			return
		}
		result = append(result, rcslab.Slab{Tile: slab.Tile, Start: runStart, Length: end - runStart})
		runStart = -1
	}

	for i := 0; i < slab.Length; i++ {
		cell := slab.Start + i
		pass := evaluateCell(tree, slab.Tile, cell, fa)
		switch {
		case pass:
			if runStart == -1 {
				runStart = cell
			}
		case mode == DenseModeRefactored:
			// A non-surviving cell under the refactored dense reader still
			// occupies its stride position; close any open run and emit a
			// single-cell fill slab in its place.
			flush(cell)
			result = append(result, rcslab.Slab{Tile: nil, Start: cell, Length: 1})
		default:
			flush(cell)
		}
	}
	flush(slab.Start + slab.Length)
	return result
}

func evaluateCell(n *Node, rt *tilestore.ResultTile, cell int, fa FieldAccessor) bool {
	switch n.Kind {
	case AndKind:
		for _, c := range n.Children {
			if !evaluateCell(c, rt, cell, fa) {
				return false
			}
		}
		return true
	case OrKind:
		for _, c := range n.Children {
			if evaluateCell(c, rt, cell, fa) {
				return true
			}
		}
		return false
	case NotKind:
		return !evaluateCell(n.Children[0], rt, cell, fa)
	default:
		return evaluateLeaf(n, rt, cell, fa)
	}
}

func evaluateLeaf(n *Node, rt *tilestore.ResultTile, cell int, fa FieldAccessor) bool {
	tile, ok := fa.Tile(rt, n.Field)
	if !ok {
		return false
	}
	null := fa.Nullable(n.Field) && tile.IsNull(cell)
	if n.Op == IsNull {
		return null
	}
	if n.Op == NotNull {
		return !null
	}
	// Null cells compare false to every non-null operator (spec §4.6).
	if null {
		return false
	}
	dt, _ := fa.Type(n.Field)
	v := fieldValue(tile, dt, cell)
	ops := datatype.OpsFor(dt)
	cmp := ops.Compare(v, n.Constant)
	switch n.Op {
	case Lt:
		return cmp < 0
	case Le:
		return cmp <= 0
	case Eq:
		return cmp == 0
	case Ne:
		return cmp != 0
	case Ge:
		return cmp >= 0
	case Gt:
		return cmp > 0
	default:
		return false
	}
}

func fieldValue(tile *tilestore.Tile, dt datatype.Datatype, cell int) []byte {
	if dt.IsVarSized() {
		return tile.VarValue(cell)
	}
	size, _ := dt.FixedSize()
	return tile.Fixed[cell*size : (cell+1)*size]
}
