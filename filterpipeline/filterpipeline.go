// Package filterpipeline implements the external Filter Pipeline
// collaborator of spec §6 (compression, checksum, encryption) as the
// single contract the core actually consumes: unfilter(tile_bytes) ->
// logical_tile. The core never assembles or tunes the pipeline itself;
// this package exists so tests and the CLI have a deterministic, cell-
// count-preserving implementation to exercise it against (spec §6: "must
// be deterministic and preserve cell count").
//
// On-disk framing follows spec §6: tiles are stored as a sequence of
// chunks, each with a header {orig_len, filtered_len, per-filter
// metadata}; here the per-filter metadata is a single xxhash64 checksum
// of the filtered bytes (grounded on protomaps-go-pmtiles' use of
// cespare/xxhash for content hashes).
package filterpipeline

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Filter is one stage of the pipeline. Apply runs on the write path (kept
// for symmetry and for round-trip tests); Unapply is the read-path
// operation the core actually calls.
type Filter interface {
	Name() string
	Apply(ctx context.Context, in []byte) ([]byte, error)
	Unapply(ctx context.Context, in []byte) ([]byte, error)
}

// Pipeline is an ordered list of filters, applied write-side in order and
// reversed on read (the outermost-written filter is unwound first).
type Pipeline struct {
	Filters []Filter
}

// ErrChecksum is returned when a chunk's stored checksum does not match
// the filtered bytes; it is surfaced by callers as errs.FilterError.
var ErrChecksum = errors.New("filterpipeline: chunk checksum mismatch")

const chunkHeaderSize = 4 + 4 + 8 // orig_len, filtered_len, checksum

// chunkHeader is {orig_len, filtered_len, checksum} per spec §6.
type chunkHeader struct {
	OrigLen     uint32
	FilteredLen uint32
	Checksum    uint64
}

// FrameChunk writes one chunk (header + filtered bytes) for the write
// path / test fixtures.
func FrameChunk(origLen int, filtered []byte) []byte {
	hdr := chunkHeader{
		OrigLen:     uint32(origLen),
		FilteredLen: uint32(len(filtered)),
		Checksum:    xxhash.Sum64(filtered),
	}
	buf := make([]byte, chunkHeaderSize+len(filtered))
	binary.BigEndian.PutUint32(buf[0:4], hdr.OrigLen)
	binary.BigEndian.PutUint32(buf[4:8], hdr.FilteredLen)
	binary.BigEndian.PutUint64(buf[8:16], hdr.Checksum)
	copy(buf[chunkHeaderSize:], filtered)
	return buf
}

func parseChunk(chunk []byte) (chunkHeader, []byte, error) {
	if len(chunk) < chunkHeaderSize {
		return chunkHeader{}, nil, errors.New("filterpipeline: truncated chunk header")
	}
	hdr := chunkHeader{
		OrigLen:     binary.BigEndian.Uint32(chunk[0:4]),
		FilteredLen: binary.BigEndian.Uint32(chunk[4:8]),
		Checksum:    binary.BigEndian.Uint64(chunk[8:16]),
	}
	body := chunk[chunkHeaderSize:]
	if uint32(len(body)) != hdr.FilteredLen {
		return hdr, nil, errors.New("filterpipeline: chunk length mismatch")
	}
	if xxhash.Sum64(body) != hdr.Checksum {
		return hdr, nil, errors.WithStack(ErrChecksum)
	}
	return hdr, body, nil
}

// Unfilter reverses the pipeline over one or more on-disk chunks,
// returning the concatenated logical tile bytes.
func (p Pipeline) Unfilter(ctx context.Context, chunks [][]byte) ([]byte, error) {
	var out []byte
	for _, chunk := range chunks {
		_, body, err := parseChunk(chunk)
		if err != nil {
			return nil, err
		}
		plain, err := p.unfilterOne(ctx, body)
		if err != nil {
			return nil, err
		}
		out = append(out, plain...)
	}
	return out, nil
}

func (p Pipeline) unfilterOne(ctx context.Context, body []byte) ([]byte, error) {
	cur := body
	for i := len(p.Filters) - 1; i >= 0; i-- {
		next, err := p.Filters[i].Unapply(ctx, cur)
		if err != nil {
			return nil, errors.Wrapf(err, "filterpipeline: unapply %s", p.Filters[i].Name())
		}
		cur = next
	}
	return cur, nil
}

// Filter runs the write-side pipeline in order, producing a framed chunk.
func (p Pipeline) Filter(ctx context.Context, plain []byte) ([]byte, error) {
	cur := plain
	for _, f := range p.Filters {
		next, err := f.Apply(ctx, cur)
		if err != nil {
			return nil, errors.Wrapf(err, "filterpipeline: apply %s", f.Name())
		}
		cur = next
	}
	return FrameChunk(len(plain), cur), nil
}
