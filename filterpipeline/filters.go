package filterpipeline

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/zstd"
)

// PassthroughFilter is the identity filter, used when a field declares no
// compression/encryption and the chunk framing exists only for the
// checksum.
type PassthroughFilter struct{}

func (PassthroughFilter) Name() string { return "passthrough" }
func (PassthroughFilter) Apply(_ context.Context, in []byte) ([]byte, error) {
	return in, nil
}
func (PassthroughFilter) Unapply(_ context.Context, in []byte) ([]byte, error) {
	return in, nil
}

// ZstdFilter is a concrete (non-core, demo/test) compression filter used to
// exercise the Unfilter contract end to end, grounded on klauspost/compress
// as used by grailbio-bio for fast block compression.
type ZstdFilter struct {
	level zstd.EncoderLevel
}

// NewZstdFilter builds a filter at the given zstd encoder level.
func NewZstdFilter(level zstd.EncoderLevel) *ZstdFilter {
	return &ZstdFilter{level: level}
}

func (f *ZstdFilter) Name() string { return "zstd" }

func (f *ZstdFilter) Apply(_ context.Context, in []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(f.level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(in, nil), nil
}

func (f *ZstdFilter) Unapply(_ context.Context, in []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	return out, nil
}
