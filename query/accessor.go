package query

import (
	"github.com/sixy6e/go-arraycore/datatype"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// schemaAccessor implements condition.FieldAccessor over an ArraySchema:
// Type answers for both attributes and dimensions, while Tile resolves
// only the ResultTile's cached attribute tiles, so a condition leaf on a
// dimension finds no tile.
type schemaAccessor struct {
	schema *domain.ArraySchema
}

func newSchemaAccessor(schema *domain.ArraySchema) *schemaAccessor {
	return &schemaAccessor{schema: schema}
}

func (a *schemaAccessor) Type(field string) (datatype.Datatype, bool) {
	if attr, ok := a.schema.Attribute(field); ok {
		return attr.Type, true
	}
	if di, ok := a.schema.DimensionIndex(field); ok {
		return a.schema.Domain.Dimensions[di].Type, true
	}
	return datatype.Datatype{}, false
}

func (a *schemaAccessor) Nullable(field string) bool {
	attr, ok := a.schema.Attribute(field)
	return ok && attr.Nullable
}

func (a *schemaAccessor) FillValue(field string) []byte {
	attr, ok := a.schema.Attribute(field)
	if !ok {
		return nil
	}
	return attr.FillValue
}

func (a *schemaAccessor) Tile(rt *tilestore.ResultTile, field string) (*tilestore.Tile, bool) {
	return rt.AttrTile(field)
}
