// Package config loads the TOML array-read definition the arrayread CLI
// takes as input: the array's schema, the subarray ranges to read, which
// fields to bind output buffers for, and the per-field buffer sizes.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
)

// Dimension is one dimension's TOML description.
type Dimension struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	Low        int64  `toml:"low"`
	High       int64  `toml:"high"`
	TileExtent int64  `toml:"tile_extent,omitempty"`
}

// Attribute is one attribute's TOML description.
type Attribute struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	Nullable   bool   `toml:"nullable,omitempty"`
	VarSized   bool   `toml:"var,omitempty"`
	CellValNum int    `toml:"cell_val_num,omitempty"`
}

// RangeSpec is one [[query.ranges]] entry: the inclusive [low, high] a
// dimension is restricted to for this query.
type RangeSpec struct {
	Dimension string `toml:"dimension"`
	Low       int64  `toml:"low"`
	High      int64  `toml:"high"`
}

// BufferSpec is the byte capacity reserved for one bound field.
type BufferSpec struct {
	Field         string `toml:"field"`
	FixedBytes    int    `toml:"fixed_bytes"`
	VarBytes      int    `toml:"var_bytes,omitempty"`
	ValidityBytes int    `toml:"validity_bytes,omitempty"`
}

// Config is the root of an arrayread TOML file.
type Config struct {
	Array struct {
		Dense      bool        `toml:"dense"`
		AllowsDups bool        `toml:"allows_dups,omitempty"`
		Dimensions []Dimension `toml:"dimensions"`
		Attributes []Attribute `toml:"attributes"`
	} `toml:"array"`

	Query struct {
		Ranges        []RangeSpec  `toml:"ranges"`
		BindFields    []string     `toml:"bind_fields"`
		Buffers       []BufferSpec `toml:"buffers"`
		MemoryBudget  uint64       `toml:"memory_budget,omitempty"`
		ParallelBitmap bool        `toml:"parallel_bitmap,omitempty"`
	} `toml:"query"`

	Storage struct {
		Root     string `toml:"root"`
		Manifest string `toml:"manifest"`
	} `toml:"storage"`
}

// Load reads and parses path into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %q", path)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %q", path)
	}
	return cfg, nil
}

// Schema builds the domain.ArraySchema the config describes.
func (c *Config) Schema() (*domain.ArraySchema, error) {
	dims := make([]domain.Dimension, len(c.Array.Dimensions))
	for i, d := range c.Array.Dimensions {
		kind, err := datatype.ParseKind(d.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "config: dimension %q", d.Name)
		}
		dt := datatype.Datatype{Kind: kind}
		dim := domain.Dimension{
			Name:       d.Name,
			Type:       dt,
			DomainLow:  domain.EncodeInt64(dt, d.Low),
			DomainHigh: domain.EncodeInt64(dt, d.High),
		}
		if c.Array.Dense {
			dim.TileExtent = domain.EncodeInt64(dt, d.TileExtent)
		}
		dims[i] = dim
	}

	attrs := make([]domain.Attribute, len(c.Array.Attributes))
	for i, a := range c.Array.Attributes {
		kind, err := datatype.ParseKind(a.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "config: attribute %q", a.Name)
		}
		dt := datatype.Datatype{Kind: kind}
		cvn := domain.CellValNum(1)
		if a.VarSized {
			cvn = domain.VarLen
		} else if a.CellValNum > 0 {
			cvn = domain.CellValNum(a.CellValNum)
		}
		attrs[i] = domain.Attribute{
			Name:       a.Name,
			Type:       dt,
			CellValNum: cvn,
			Nullable:   a.Nullable,
			FillValue:  domain.EncodeInt64(dt, 0),
		}
	}

	arrayType := domain.Sparse
	if c.Array.Dense {
		arrayType = domain.Dense
	}

	schema := &domain.ArraySchema{
		Domain: &domain.Domain{
			Dimensions: dims,
			TileOrder:  domain.RowMajor,
			CellOrder:  domain.RowMajor,
		},
		Attributes: attrs,
		ArrayType:  arrayType,
		CellOrder:  domain.RowMajor,
		TileOrder:  domain.RowMajor,
		AllowsDups: c.Array.AllowsDups,
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}
