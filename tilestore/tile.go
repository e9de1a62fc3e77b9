// Package tilestore implements the Tile Store Interface of spec §4.2:
// given (fragment id, tile index, field name) it returns a logical tile,
// caches per-field tile-offset tables, and honors a byte budget. It also
// defines the arena-backed ResultTile handle that the rest of the core
// (bitmap evaluator, merge engine, copy engine) addresses tiles through,
// per the "Cyclic references and arena discipline" design note (spec §9).
package tilestore

import "encoding/binary"

// Tile is one logical tile for one field of one fragment (spec §3).
// Offsets, Var, and Validity are present only for var-sized / nullable
// fields respectively.
type Tile struct {
	Fixed     []byte
	Offsets   []byte // N cell offsets (uint64 big-endian), present iff var-sized
	Var       []byte
	Validity  []byte // one byte per cell, 0 = null
	CellCount int
}

// ByteSize is the tile's resident footprint, used for memory accounting.
func (t *Tile) ByteSize() int64 {
	return int64(len(t.Fixed) + len(t.Offsets) + len(t.Var) + len(t.Validity))
}

// VarValue returns the i-th cell's variable-length value, honoring the
// invariant every reader relies on (spec §3): size(i) = offsets[i+1] -
// offsets[i] for i < N-1, and var_data_size - offsets[N-1] for i == N-1.
func (t *Tile) VarValue(i int) []byte {
	start := binary.BigEndian.Uint64(t.Offsets[i*8:])
	var end uint64
	if i == t.CellCount-1 {
		end = uint64(len(t.Var))
	} else {
		end = binary.BigEndian.Uint64(t.Offsets[(i+1)*8:])
	}
	return t.Var[start:end]
}

// IsNull reports whether cell i is null; always false when the field has
// no validity bytes (non-nullable fields).
func (t *Tile) IsNull(i int) bool {
	if len(t.Validity) == 0 {
		return false
	}
	return t.Validity[i] == 0
}

// EncodeOffsets is the write-side counterpart of VarValue, building the N
// cell offsets from value lengths. Exposed for test fixtures.
func EncodeOffsets(valueLens []int) []byte {
	buf := make([]byte, len(valueLens)*8)
	var cum uint64
	for i, l := range valueLens {
		binary.BigEndian.PutUint64(buf[i*8:], cum)
		cum += uint64(l)
	}
	return buf
}
