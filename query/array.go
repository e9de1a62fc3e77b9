package query

import (
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/fragment"
	"github.com/sixy6e/go-arraycore/statslog"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// ArrayHandle is the read-only, schema-plus-fragment-catalog view of one
// array (spec §3/§6): everything a Query needs that isn't specific to one
// query's subarray, buffers, or condition.
type ArrayHandle struct {
	Schema  *domain.ArraySchema
	Catalog fragment.Catalog
	FS      tilestore.FS
	Logger  statslog.Sink
}

// Open validates schema and returns a handle bound to catalog/fs for
// subsequent queries. A nil logger is replaced with statslog.Noop.
func Open(schema *domain.ArraySchema, catalog fragment.Catalog, fs tilestore.FS, logger statslog.Sink) (*ArrayHandle, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = statslog.Noop{}
	}
	return &ArrayHandle{Schema: schema, Catalog: catalog, FS: fs, Logger: logger}, nil
}
