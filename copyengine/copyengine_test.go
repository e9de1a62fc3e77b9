package copyengine_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/copyengine"
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/rcslab"
	"github.com/sixy6e/go-arraycore/tilestore"
)

func int32Tile(values ...int32) *tilestore.Tile {
	dt := datatype.Datatype{Kind: datatype.Int32}
	fixed := make([]byte, 0, len(values)*4)
	for _, v := range values {
		fixed = append(fixed, domain.EncodeInt64(dt, int64(v))...)
	}
	return &tilestore.Tile{Fixed: fixed, CellCount: len(values)}
}

func fixedFieldValue(tile *tilestore.Tile, width int, fillValue []byte) copyengine.FieldValue {
	return func(slab rcslab.Slab, cellInSlab int) ([]byte, bool, bool) {
		if slab.IsFill() {
			return fillValue, false, true
		}
		cell := slab.Start + cellInSlab
		return tile.Fixed[cell*width : (cell+1)*width], false, true
	}
}

func TestCopyAllFixedFieldHappyPath(t *testing.T) {
	tile := int32Tile(10, 20, 30, 40, 50)
	rt := &tilestore.ResultTile{CellCount: 5}
	slabs := []rcslab.Slab{{Tile: rt, Start: 0, Length: 5}}

	buf := make([]byte, 20)
	spec := &copyengine.BufferSpec{Name: "v", Fixed: buf}
	fields := []copyengine.Field{
		{Name: "v", FixedWidth: 4, Value: fixedFieldValue(tile, 4, nil)},
	}

	remaining, overflowed, results := copyengine.CopyAll(slabs, fields, map[string]*copyengine.BufferSpec{"v": spec})
	require.False(t, overflowed)
	assert.Nil(t, remaining)
	assert.Equal(t, 20, results["v"].FixedBytes)
	assert.Equal(t, int32(30), int32FromBytes(buf[8:12]))
}

func int32FromBytes(b []byte) int32 {
	dt := datatype.Datatype{Kind: datatype.Int32}
	return int32(domain.DecodeInt64(dt, b))
}

func TestCopyAllOverflowTruncatesSlabs(t *testing.T) {
	tile := int32Tile(10, 20, 30, 40, 50)
	rt := &tilestore.ResultTile{CellCount: 5}
	slabs := []rcslab.Slab{{Tile: rt, Start: 0, Length: 5}}

	buf := make([]byte, 12) // room for exactly 3 cells
	spec := &copyengine.BufferSpec{Name: "v", Fixed: buf}
	fields := []copyengine.Field{
		{Name: "v", FixedWidth: 4, Value: fixedFieldValue(tile, 4, nil)},
	}

	remaining, overflowed, results := copyengine.CopyAll(slabs, fields, map[string]*copyengine.BufferSpec{"v": spec})
	require.True(t, overflowed)
	assert.Equal(t, 12, results["v"].FixedBytes)
	require.Len(t, remaining, 1)
	assert.Equal(t, 3, remaining[0].Start)
	assert.Equal(t, 2, remaining[0].Length)
}

func TestCopyAllVarFieldWritesOffsetsAndBytes(t *testing.T) {
	values := [][]byte{[]byte("ab"), []byte("c"), []byte("def")}
	offsets := tilestore.EncodeOffsets([]int{2, 1, 3})
	var varBytes []byte
	for _, v := range values {
		varBytes = append(varBytes, v...)
	}
	tile := &tilestore.Tile{Offsets: offsets, Var: varBytes, CellCount: 3}
	rt := &tilestore.ResultTile{CellCount: 3}
	slabs := []rcslab.Slab{{Tile: rt, Start: 0, Length: 3}}

	fixedBuf := make([]byte, 64) // offsets buffer, 64-bit
	varBuf := make([]byte, 16)
	spec := &copyengine.BufferSpec{Name: "s", Fixed: fixedBuf, Var: varBuf, OffsetBits: 64}
	fields := []copyengine.Field{
		{Name: "s", VarSized: true, Value: func(slab rcslab.Slab, cellInSlab int) ([]byte, bool, bool) {
			cell := slab.Start + cellInSlab
			return tile.VarValue(cell), false, true
		}},
	}

	remaining, overflowed, results := copyengine.CopyAll(slabs, fields, map[string]*copyengine.BufferSpec{"s": spec})
	require.False(t, overflowed)
	assert.Nil(t, remaining)
	assert.Equal(t, 24, results["s"].FixedBytes) // 3 offsets * 8 bytes
	assert.Equal(t, 6, results["s"].VarBytes)    // "ab"+"c"+"def"
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(fixedBuf[0:8]))
	assert.Equal(t, uint64(2), binary.BigEndian.Uint64(fixedBuf[8:16]))
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(fixedBuf[16:24]))
	assert.Equal(t, "abcdef", string(varBuf[:6]))
}

func TestCopyAllOffsetsExtraElement(t *testing.T) {
	tile := &tilestore.Tile{Offsets: tilestore.EncodeOffsets([]int{2}), Var: []byte("hi"), CellCount: 1}
	rt := &tilestore.ResultTile{CellCount: 1}
	slabs := []rcslab.Slab{{Tile: rt, Start: 0, Length: 1}}

	fixedBuf := make([]byte, 16)
	varBuf := make([]byte, 2)
	spec := &copyengine.BufferSpec{Name: "s", Fixed: fixedBuf, Var: varBuf, OffsetBits: 64, OffsetsExtraElement: true}
	fields := []copyengine.Field{
		{Name: "s", VarSized: true, Value: func(slab rcslab.Slab, cellInSlab int) ([]byte, bool, bool) {
			return tile.VarValue(slab.Start + cellInSlab), false, true
		}},
	}

	_, overflowed, results := copyengine.CopyAll(slabs, fields, map[string]*copyengine.BufferSpec{"s": spec})
	require.False(t, overflowed)
	assert.Equal(t, 16, results["s"].FixedBytes) // 1 real offset + 1 extra element
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(fixedBuf[0:8]))
	assert.Equal(t, uint64(2), binary.BigEndian.Uint64(fixedBuf[8:16])) // total var bytes written
}

func TestCopyAllFillSlabWritesFillValue(t *testing.T) {
	fillValue := domain.EncodeInt64(datatype.Datatype{Kind: datatype.Int32}, 99)
	slabs := []rcslab.Slab{{Tile: nil, Start: 0, Length: 1}} // fill slab (Tile nil)

	buf := make([]byte, 4)
	spec := &copyengine.BufferSpec{Name: "v", Fixed: buf}
	fields := []copyengine.Field{
		{Name: "v", FixedWidth: 4, Value: fixedFieldValue(nil, 4, fillValue)},
	}

	_, overflowed, results := copyengine.CopyAll(slabs, fields, map[string]*copyengine.BufferSpec{"v": spec})
	require.False(t, overflowed)
	assert.Equal(t, 4, results["v"].FixedBytes)
	assert.Equal(t, int32(99), int32FromBytes(buf))
}

func TestCopyDenseCoordsRowMajor(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	counts := []uint64{2, 3} // 2x3 grid, row-major: dim1 fastest
	encode := func(low []byte, n uint64) []byte {
		return domain.EncodeInt64(dt, domain.DecodeInt64(dt, low)+int64(n))
	}
	xBuf := make([]byte, 4*6)
	yBuf := make([]byte, 4*6)
	specs := map[string]*copyengine.BufferSpec{
		"x": {Name: "x", Fixed: xBuf},
		"y": {Name: "y", Fixed: yBuf},
	}
	fields := []copyengine.DenseCoordField{
		{Name: "x", DimIndex: 0, Datatype: dt, Low: domain.EncodeInt64(dt, 10)},
		{Name: "y", DimIndex: 1, Datatype: dt, Low: domain.EncodeInt64(dt, 100)},
	}
	cursor := &copyengine.DenseCoordCursor{}
	overflowed, results := copyengine.CopyDenseCoords(counts, domain.RowMajor, fields, encode, specs, cursor)
	require.False(t, overflowed)
	assert.Equal(t, 24, results["x"].FixedBytes)
	assert.Equal(t, uint64(6), cursor.Skip)

	// first cell (0,0) -> x=10,y=100 ; second cell (0,1) -> x=10,y=101 (y fastest)
	assert.Equal(t, int32(10), int32FromBytes(xBuf[0:4]))
	assert.Equal(t, int32(100), int32FromBytes(yBuf[0:4]))
	assert.Equal(t, int32(10), int32FromBytes(xBuf[4:8]))
	assert.Equal(t, int32(101), int32FromBytes(yBuf[4:8]))
}

func TestCopyDenseCoordsResumesAfterOverflow(t *testing.T) {
	dt := datatype.Datatype{Kind: datatype.Int32}
	counts := []uint64{5}
	encode := func(low []byte, n uint64) []byte {
		return domain.EncodeInt64(dt, domain.DecodeInt64(dt, low)+int64(n))
	}
	xBuf := make([]byte, 8) // room for 2 cells only
	specs := map[string]*copyengine.BufferSpec{"x": {Name: "x", Fixed: xBuf}}
	fields := []copyengine.DenseCoordField{{Name: "x", DimIndex: 0, Datatype: dt, Low: domain.EncodeInt64(dt, 0)}}
	cursor := &copyengine.DenseCoordCursor{}

	overflowed, _ := copyengine.CopyDenseCoords(counts, domain.RowMajor, fields, encode, specs, cursor)
	require.True(t, overflowed)
	assert.Equal(t, uint64(2), cursor.Skip)

	xBuf2 := make([]byte, 12)
	specs["x"].Fixed = xBuf2
	overflowed, results := copyengine.CopyDenseCoords(counts, domain.RowMajor, fields, encode, specs, cursor)
	require.False(t, overflowed)
	assert.Equal(t, uint64(5), cursor.Skip)
	assert.Equal(t, 12, results["x"].FixedBytes)
	assert.Equal(t, int32(2), int32FromBytes(xBuf2[0:4]))
}
