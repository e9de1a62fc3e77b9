package sparsesel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/memtrack"
	"github.com/sixy6e/go-arraycore/sparsesel"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

func testSchema() *domain.ArraySchema {
	dt := datatype.Datatype{Kind: datatype.Int32}
	dm := &domain.Domain{
		Dimensions: []domain.Dimension{{
			Name: "x", Type: dt,
			DomainLow: domain.EncodeInt64(dt, 0), DomainHigh: domain.EncodeInt64(dt, 99),
		}},
		TileOrder: domain.RowMajor, CellOrder: domain.RowMajor,
	}
	return &domain.ArraySchema{Domain: dm, ArrayType: domain.Sparse, AllowsDups: true, CellOrder: domain.RowMajor, TileOrder: domain.RowMajor}
}

func TestSelectOverlappingMBRs(t *testing.T) {
	schema := testSchema()
	dt := schema.Domain.Dimensions[0].Type
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 4)}))

	frag := &fragment.Metadata{
		ID: "f1", Dense: false,
		MBRs: []domain.NDRange{
			{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
			{{Low: domain.EncodeInt64(dt, 50), High: domain.EncodeInt64(dt, 60)}},
		},
		TileCellCounts: []int{10, 11},
	}

	arena := tilestore.NewArena(memtrack.New(1 << 20))
	sel := sparsesel.NewSelector(arena)
	tracker := memtrack.New(1 << 20)
	rts, err := sel.Select(sa, []*fragment.Metadata{frag}, tracker)
	require.NoError(t, err)
	require.Len(t, rts, 1)
	assert.Equal(t, 0, rts[0].TileIdx)
	assert.Equal(t, 10, rts[0].CellCount)
}

func TestSelectRespectsBudget(t *testing.T) {
	schema := testSchema()
	dt := schema.Domain.Dimensions[0].Type
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 99)}))

	frag := &fragment.Metadata{
		ID: "f1", Dense: false,
		MBRs: []domain.NDRange{
			{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
			{{Low: domain.EncodeInt64(dt, 10), High: domain.EncodeInt64(dt, 19)}},
		},
		TileCellCounts: []int{10, 10},
	}

	arena := tilestore.NewArena(memtrack.New(1 << 20))
	sel := sparsesel.NewSelector(arena)
	tracker := memtrack.New(96) // fits exactly one handle
	rts, err := sel.Select(sa, []*fragment.Metadata{frag}, tracker)
	require.Error(t, err)
	assert.Len(t, rts, 1)
}
