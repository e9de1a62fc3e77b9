package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/copyengine"
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/filterpipeline"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/query"
	"github.com/sixy6e/go-arraycore/statslog"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// putFixed frames raw fixed-width bytes as a single-chunk on-disk field,
// appends it to the field's object, and registers its offset table entry
// for tileIdx.
func putFixed(fs *tilestore.MapFS, frag *fragment.Metadata, field string, tileIdx int, raw []byte) {
	framed := filterpipeline.FrameChunk(len(raw), raw)
	key := field + ":fixed"
	uri := frag.URI + "/" + key
	var offset int64
	obj := framed
	if prev, err := fs.Read(context.Background(), uri, 0, -1); err == nil {
		offset = int64(len(prev))
		obj = append(prev, framed...)
	}
	fs.Put(uri, obj)
	if frag.FieldOffsets == nil {
		frag.FieldOffsets = map[string][]fragment.FieldTileInfo{}
	}
	table := frag.FieldOffsets[key]
	for len(table) <= tileIdx {
		table = append(table, fragment.FieldTileInfo{})
	}
	table[tileIdx] = fragment.FieldTileInfo{Offset: offset, Size: int64(len(framed))}
	frag.FieldOffsets[key] = table
}

func int32Schema1D(lo, hi, tileExtent int64) *domain.ArraySchema {
	dt := datatype.Datatype{Kind: datatype.Int32}
	dm := &domain.Domain{
		Dimensions: []domain.Dimension{{
			Name:       "x",
			Type:       dt,
			DomainLow:  domain.EncodeInt64(dt, lo),
			DomainHigh: domain.EncodeInt64(dt, hi),
			TileExtent: domain.EncodeInt64(dt, tileExtent),
		}},
		TileOrder: domain.RowMajor,
		CellOrder: domain.RowMajor,
	}
	return &domain.ArraySchema{
		Domain:    dm,
		ArrayType: domain.Dense,
		CellOrder: domain.RowMajor,
		TileOrder: domain.RowMajor,
		Attributes: []domain.Attribute{{
			Name: "val", Type: datatype.Datatype{Kind: datatype.Int32}, CellValNum: 1,
			FillValue: domain.EncodeInt64(datatype.Datatype{Kind: datatype.Int32}, -1),
		}},
	}
}

func int32Bytes(vals ...int32) []byte {
	dt := datatype.Datatype{Kind: datatype.Int32}
	var out []byte
	for _, v := range vals {
		out = append(out, domain.EncodeInt64(dt, int64(v))...)
	}
	return out
}

// TestDenseFullOverlapSingleFragment covers spec §8's seed scenario 1:
// one dense fragment fully covering a 1-D subarray spanning two tiles.
func TestDenseFullOverlapSingleFragment(t *testing.T) {
	schema := int32Schema1D(0, 19, 10)
	dt := schema.Domain.Dimensions[0].Type

	fs := tilestore.NewMapFS()
	frag := &fragment.Metadata{
		ID: "f1", URI: "f1", Dense: true,
		NonEmptyDomain: domain.NDRange{{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 19)}},
		TileCellCounts: []int{10, 10},
	}
	vals0 := make([]int32, 10)
	vals1 := make([]int32, 10)
	for i := range vals0 {
		vals0[i] = int32(i)
		vals1[i] = int32(i + 10)
	}
	putFixed(fs, frag, "val", 0, int32Bytes(vals0...))
	putFixed(fs, frag, "val", 1, int32Bytes(vals1...))

	catalog := &fragment.StaticCatalog{All: []*fragment.Metadata{frag}}

	arr, err := query.Open(schema, catalog, fs, statslog.Noop{})
	require.NoError(t, err)

	sa, err := subarray.New(schema, subarray.RowMajor)
	require.NoError(t, err)
	require.NoError(t, sa.AddRange(0, domain.Range{Low: domain.EncodeInt64(dt, 0), High: domain.EncodeInt64(dt, 19)}))

	q, err := query.NewQuery(arr, query.DefaultConfig(), sa)
	require.NoError(t, err)

	xBuf := make([]byte, 20*4)
	valBuf := make([]byte, 20*4)
	require.NoError(t, q.BindDimBuffer(0, copyengine.BufferSpec{Fixed: xBuf}))
	require.NoError(t, q.BindAttrBuffer("val", copyengine.BufferSpec{Fixed: valBuf}))

	ctx := context.Background()
	for {
		status, err := q.Submit(ctx)
		require.NoError(t, err)
		if status == query.Complete {
			break
		}
	}
	res := q.Results()
	assert.Equal(t, 20*4, res["x"].FixedBytes)
	assert.Equal(t, 20*4, res["val"].FixedBytes)

	for i := 0; i < 20; i++ {
		gotX := domain.DecodeInt64(dt, xBuf[i*4:i*4+4])
		gotVal := domain.DecodeInt64(dt, valBuf[i*4:i*4+4])
		assert.Equal(t, int64(i), gotX, "cell %d coordinate", i)
		assert.Equal(t, int64(i), gotVal, "cell %d value", i)
	}
}
