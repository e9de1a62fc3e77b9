package resultspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/memtrack"
	"github.com/sixy6e/go-arraycore/resultspace"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

func testSchema1D() *domain.ArraySchema {
	dt := datatype.Datatype{Kind: datatype.Int32}
	dm := &domain.Domain{
		Dimensions: []domain.Dimension{{
			Name:       "x",
			Type:       dt,
			DomainLow:  domain.EncodeInt64(dt, 0),
			DomainHigh: domain.EncodeInt64(dt, 19),
			TileExtent: domain.EncodeInt64(dt, 10),
		}},
		TileOrder: domain.RowMajor,
		CellOrder: domain.RowMajor,
	}
	return &domain.ArraySchema{Domain: dm, ArrayType: domain.Dense, CellOrder: domain.RowMajor, TileOrder: domain.RowMajor}
}

func TestPlanFullOverlapSingleFragment(t *testing.T) {
	schema := testSchema1D()
	dt := schema.Domain.Dimensions[0].Type
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 19)}))

	frags := []*fragment.Metadata{{
		ID:             "f1",
		Dense:          true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 19)}},
	}}

	arena := tilestore.NewArena(memtrack.New(1 << 20))
	planner := resultspace.NewPlanner(schema, arena)
	tiles := planner.Plan(sa, frags)

	require.Len(t, tiles, 2)
	for _, st := range tiles {
		require.Len(t, st.Contributions, 1)
		assert.Equal(t, "f1", st.Contributions[0].FragID)
	}
}

func TestPlanNewerFragmentShadowsOlder(t *testing.T) {
	schema := testSchema1D()
	dt := schema.Domain.Dimensions[0].Type
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}))

	older := &fragment.Metadata{
		ID: "older", Dense: true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
		TimestampRange: fragment.TimestampRange{End: 1},
	}
	newer := &fragment.Metadata{
		ID: "newer", Dense: true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
		TimestampRange: fragment.TimestampRange{End: 2},
	}
	ordered := fragment.OrderByRecency([]*fragment.Metadata{older, newer})
	require.Equal(t, "newer", ordered[0].ID)

	arena := tilestore.NewArena(memtrack.New(1 << 20))
	planner := resultspace.NewPlanner(schema, arena)
	tiles := planner.Plan(sa, ordered)

	require.Len(t, tiles, 1)
	require.Len(t, tiles[0].Contributions, 1)
	assert.Equal(t, "newer", tiles[0].Contributions[0].FragID)
}

func TestPlanPartialNewerFragmentDoesNotFullyShadow(t *testing.T) {
	schema := testSchema1D()
	dt := schema.Domain.Dimensions[0].Type
	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}))

	older := &fragment.Metadata{
		ID: "older", Dense: true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 9)}},
		TimestampRange: fragment.TimestampRange{End: 1},
	}
	// newer only covers half the tile: [5,9]
	newer := &fragment.Metadata{
		ID: "newer", Dense: true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 5), High: domain.EncodeInt64(dt, 9)}},
		TimestampRange: fragment.TimestampRange{End: 2},
	}
	ordered := fragment.OrderByRecency([]*fragment.Metadata{older, newer})

	arena := tilestore.NewArena(memtrack.New(1 << 20))
	planner := resultspace.NewPlanner(schema, arena)
	tiles := planner.Plan(sa, ordered)

	require.Len(t, tiles, 1)
	require.Len(t, tiles[0].Contributions, 2)
	assert.Equal(t, "newer", tiles[0].Contributions[0].FragID)
	assert.Equal(t, "older", tiles[0].Contributions[1].FragID)
}
