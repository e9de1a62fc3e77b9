package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/condition"
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/rcslab"
	"github.com/sixy6e/go-arraycore/tilestore"
)

type fakeAccessor struct {
	dt        datatype.Datatype
	nullable  bool
	fillValue []byte
	tile      *tilestore.Tile
}

func (f fakeAccessor) Type(field string) (datatype.Datatype, bool) { return f.dt, true }
func (f fakeAccessor) Nullable(field string) bool                  { return f.nullable }
func (f fakeAccessor) FillValue(field string) []byte               { return f.fillValue }
func (f fakeAccessor) Tile(rt *tilestore.ResultTile, field string) (*tilestore.Tile, bool) {
	return f.tile, true
}

func int32Tile(values ...int32) *tilestore.Tile {
	dt := datatype.Datatype{Kind: datatype.Int32}
	fixed := make([]byte, 0, len(values)*4)
	for _, v := range values {
		fixed = append(fixed, domain.EncodeInt64(dt, int64(v))...)
	}
	return &tilestore.Tile{Fixed: fixed, CellCount: len(values)}
}

func TestEvaluateDropsNonSurvivorsLegacyMode(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	tile := int32Tile(1, 2, 3, 4, 5)
	rt := &tilestore.ResultTile{CellCount: 5}
	fa := fakeAccessor{dt: dt, tile: tile}

	tree := condition.Cmp("v", condition.Ge, domain.EncodeInt64(dt, 3))
	slabs := []rcslab.Slab{{Tile: rt, Start: 0, Length: 5}}
	out := condition.Evaluate(tree, slabs, fa, condition.DenseModeLegacy)

	total := 0
	for _, s := range out {
		assert.False(t, s.IsFill())
		total += s.Length
	}
	assert.Equal(t, 3, total) // cells with value 3,4,5
}

func TestEvaluateFillsNonSurvivorsRefactoredMode(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	tile := int32Tile(1, 2, 3, 4, 5)
	rt := &tilestore.ResultTile{CellCount: 5}
	fa := fakeAccessor{dt: dt, tile: tile}

	tree := condition.Cmp("v", condition.Ge, domain.EncodeInt64(dt, 3))
	slabs := []rcslab.Slab{{Tile: rt, Start: 0, Length: 5}}
	out := condition.Evaluate(tree, slabs, fa, condition.DenseModeRefactored)

	total := 0
	fillCount := 0
	for _, s := range out {
		if s.IsFill() {
			fillCount += s.Length
		}
		total += s.Length
	}
	assert.Equal(t, 5, total) // stride preserved
	assert.Equal(t, 2, fillCount)
}

func TestNullCellsCompareFalseExceptIsNull(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	tile := int32Tile(1, 2, 3)
	tile.Validity = []byte{1, 0, 1} // cell 1 is null
	rt := &tilestore.ResultTile{CellCount: 3}
	fa := fakeAccessor{dt: dt, nullable: true, tile: tile}

	eqTree := condition.Cmp("v", condition.Eq, domain.EncodeInt64(dt, 2))
	out := condition.Evaluate(eqTree, []rcslab.Slab{{Tile: rt, Start: 0, Length: 3}}, fa, condition.DenseModeLegacy)
	assert.Equal(t, 0, rcslab.TotalCells(out)) // null cell never equals, and 1/3 aren't 2

	isNullTree := condition.Cmp("v", condition.IsNull, nil)
	out = condition.Evaluate(isNullTree, []rcslab.Slab{{Tile: rt, Start: 0, Length: 3}}, fa, condition.DenseModeLegacy)
	require.Equal(t, 1, rcslab.TotalCells(out))
}

func TestAndOrNot(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	tile := int32Tile(1, 2, 3, 4, 5)
	rt := &tilestore.ResultTile{CellCount: 5}
	fa := fakeAccessor{dt: dt, tile: tile}

	tree := condition.And(
		condition.Cmp("v", condition.Ge, domain.EncodeInt64(dt, 2)),
		condition.Not(condition.Cmp("v", condition.Eq, domain.EncodeInt64(dt, 4))),
	)
	out := condition.Evaluate(tree, []rcslab.Slab{{Tile: rt, Start: 0, Length: 5}}, fa, condition.DenseModeLegacy)
	assert.Equal(t, 3, rcslab.TotalCells(out)) // 2,3,5
}
