package subarray_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/subarray"
)

func testSchema() *domain.ArraySchema {
	dt := datatype.Datatype{Kind: datatype.Int32}
	dm := &domain.Domain{
		Dimensions: []domain.Dimension{
			{
				Name:       "x",
				Type:       dt,
				DomainLow:  domain.EncodeInt64(dt, 0),
				DomainHigh: domain.EncodeInt64(dt, 99),
				TileExtent: domain.EncodeInt64(dt, 10),
			},
		},
		TileOrder: domain.RowMajor,
		CellOrder: domain.RowMajor,
	}
	return &domain.ArraySchema{Domain: dm, ArrayType: domain.Dense, CellOrder: domain.RowMajor, TileOrder: domain.RowMajor}
}

func TestAddRangeGlobalRestriction(t *testing.T) {
	schema := testSchema()
	sa, err := subarray.New(schema, subarray.Global)
	require.NoError(t, err)

	dt := schema.Domain.Dimensions[0].Type
	r := domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}
	require.NoError(t, sa.AddRange(0, r))
	err = sa.AddRange(0, r)
	assert.Error(t, err)
}

func TestTileCoordsTouched(t *testing.T) {
	schema := testSchema()
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)

	dt := schema.Domain.Dimensions[0].Type
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 5), High: domain.EncodeInt64(dt, 25)}))

	tiles := sa.TileCoordsTouched()
	assert.Len(t, tiles, 3) // tiles 0,1,2 covering [5,25]
}

func TestEstimateOverlapDenseFullTile(t *testing.T) {
	schema := testSchema()
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	dt := schema.Domain.Dimensions[0].Type
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 99)}))

	frag := &fragment.Metadata{
		ID:             "f1",
		Dense:          true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 99)}},
	}
	overlaps := sa.EstimateOverlap(frag)
	require.Len(t, overlaps, 10)
	for _, o := range overlaps {
		assert.Equal(t, subarray.TileRange, o.Kind)
		assert.InDelta(t, 1.0, o.Fraction, 1e-9)
	}
}

func TestEstimateOverlapSparseMBR(t *testing.T) {
	schema := testSchema()
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	dt := schema.Domain.Dimensions[0].Type
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 4)}))

	frag := &fragment.Metadata{
		ID:    "f2",
		Dense: false,
		MBRs: []domain.NDRange{
			{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
			{{Low: domain.EncodeInt64(dt, 50), High: domain.EncodeInt64(dt, 60)}},
		},
	}
	overlaps := sa.EstimateOverlap(frag)
	require.Len(t, overlaps, 1)
	assert.Equal(t, subarray.PartialTile, overlaps[0].Kind)
}
