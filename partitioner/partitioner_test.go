package partitioner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/partitioner"
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

func fullSubarray(t *testing.T, schema *domain.ArraySchema) *subarray.Subarray {
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	dt := schema.Domain.Dimensions[0].Type
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 99)}))
	return sa
}

func oneFragment(schema *domain.ArraySchema, tileBytes int64) []*fragment.Metadata {
	dt := schema.Domain.Dimensions[0].Type
	offsets := make([]fragment.FieldTileInfo, 10)
	for i := range offsets {
		offsets[i] = fragment.FieldTileInfo{Offset: int64(i) * tileBytes, Size: tileBytes}
	}
	return []*fragment.Metadata{{
		ID:             "f1",
		Dense:          true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 99)}},
		FieldOffsets:   map[string][]fragment.FieldTileInfo{"a:fixed": offsets},
	}}
}

func TestNextNoBudgetAlwaysFits(t *testing.T) {
	schema := testSchema()
	sa := fullSubarray(t, schema)
	p := partitioner.New(sa)
	res, err := p.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, partitioner.Ok, res)
	assert.Same(t, sa, p.Current())
}

func TestNextSplitsOnOverflow(t *testing.T) {
	schema := testSchema()
	sa := fullSubarray(t, schema)
	frags := oneFragment(schema, 400) // each tile is 400 bytes

	p := partitioner.New(sa)
	p.SetResultBudget("a", 1000) // way under the full 4000-byte estimate
	res, err := p.Next(frags)
	require.NoError(t, err)
	require.Equal(t, partitioner.Ok, res)

	cur := p.Current()
	require.NotNil(t, cur)
	dt := schema.Domain.Dimensions[0].Type
	lo := domain.DecodeInt64(dt, cur.DimRanges[0][0].Low)
	hi := domain.DecodeInt64(dt, cur.DimRanges[0][0].High)
	assert.True(t, hi-lo < 99, "expected the partition to have been narrowed from the full domain")
}

func TestSplitCurrentThenResume(t *testing.T) {
	schema := testSchema()
	sa := fullSubarray(t, schema)
	frags := oneFragment(schema, 10)

	p := partitioner.New(sa)
	p.SetResultBudget("a", 1_000_000)
	res, err := p.Next(frags)
	require.NoError(t, err)
	require.Equal(t, partitioner.Ok, res)
	full := p.Current()

	res, err = p.SplitCurrent()
	require.NoError(t, err)
	require.Equal(t, partitioner.Ok, res)

	res, err = p.Next(frags)
	require.NoError(t, err)
	require.Equal(t, partitioner.Ok, res)
	half := p.Current()
	dt := schema.Domain.Dimensions[0].Type
	fullSpan := domain.DecodeInt64(dt, full.DimRanges[0][0].High) - domain.DecodeInt64(dt, full.DimRanges[0][0].Low)
	halfSpan := domain.DecodeInt64(dt, half.DimRanges[0][0].High) - domain.DecodeInt64(dt, half.DimRanges[0][0].Low)
	assert.Less(t, halfSpan, fullSpan)
}

func TestUnsplittableSingleCellStillOverflows(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	dm := &domain.Domain{
		Dimensions: []domain.Dimension{{
			Name: "x", Type: dt,
			DomainLow: domain.EncodeInt64(dt, 0), DomainHigh: domain.EncodeInt64(dt, 9),
			TileExtent: domain.EncodeInt64(dt, 10),
		}},
		TileOrder: domain.RowMajor, CellOrder: domain.RowMajor,
	}
	schema := &domain.ArraySchema{Domain: dm, ArrayType: domain.Dense}
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 5), High: domain.EncodeInt64(dt, 5)}))

	frags := []*fragment.Metadata{{
		ID: "f1", Dense: true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
		FieldOffsets:   map[string][]fragment.FieldTileInfo{"a:fixed": {{Offset: 0, Size: 1_000_000}}},
	}}

	p := partitioner.New(sa)
	p.SetResultBudget("a", 1)
	res, err := p.Next(frags)
	require.Error(t, err)
	assert.Equal(t, partitioner.Unsplittable, res)
	assert.True(t, p.Unsplittable())
}

func TestGlobalLayoutOnlySplitsFirstDimension(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	dm := &domain.Domain{
		Dimensions: []domain.Dimension{
			{Name: "x", Type: dt, DomainLow: domain.EncodeInt64(dt, 0), DomainHigh: domain.EncodeInt64(dt, 1), TileExtent: domain.EncodeInt64(dt, 2)},
			{Name: "y", Type: dt, DomainLow: domain.EncodeInt64(dt, 0), DomainHigh: domain.EncodeInt64(dt, 1), TileExtent: domain.EncodeInt64(dt, 2)},
		},
		TileOrder: domain.RowMajor, CellOrder: domain.RowMajor,
	}
	schema := &domain.ArraySchema{Domain: dm, ArrayType: domain.Dense}
	sa, err := subarray.New(schema, subarray.Global)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 1)}))
	require.NoError(t, sa.AddRange(1, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 1)}))

	p := partitioner.New(sa)
	// 1000 bytes for the whole tile: the [0,1]x[0,1] partition overflows,
	// and half of it, [0,0]x[0,1], estimates to 500 and fits.
	p.SetResultBudget("a", 500)
	frags := []*fragment.Metadata{{
		ID: "f1", Dense: true,
		NonEmptyDomain: domain.NDRange{
			{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 1)},
			{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 1)},
		},
		FieldOffsets: map[string][]fragment.FieldTileInfo{"a:fixed": {{Offset: 0, Size: 1000}}},
	}}
	res, err := p.Next(frags)
	require.NoError(t, err)
	require.Equal(t, partitioner.Ok, res)
	cur := p.Current()
	// Global layout only ever splits dimension 0; dimension 1's range must
	// still span its original [0,1] extent.
	dtY := schema.Domain.Dimensions[1].Type
	lo := domain.DecodeInt64(dtY, cur.DimRanges[1][0].Low)
	hi := domain.DecodeInt64(dtY, cur.DimRanges[1][0].High)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(1), hi)
}
