package mixin

import (
	"time"

	"github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/field"
)

// Schema is the default implementation of schema.Mixin. Embed it and
// override the methods you need.
type Schema struct{}

// Fields returns the fields of the mixin.
func (Schema) Fields() []schema.Field { return nil }

// Edges returns the relationships of the mixin.
func (Schema) Edges() []schema.Edge { return nil }

// Indexes returns the indexes of the mixin.
func (Schema) Indexes() []schema.Index { return nil }

var _ schema.Mixin = (*Schema)(nil)

// Time adds created_on and updated_on columns. Both default to the
// insertion time and updated_on is rewritten on every update.
//
//	schema.Table("cookies", ...).Mixin(mixin.Time{})
type Time struct{ Schema }

// Fields of the time mixin.
func (Time) Fields() []schema.Field {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// CreateTime adds the created_on column only.
type CreateTime struct{ Schema }

// Fields of the create time mixin.
func (CreateTime) Fields() []schema.Field {
	return []schema.Field{
		field.Time("created_on").Default(time.Now),
	}
}

// UpdateTime adds the updated_on column only.
type UpdateTime struct{ Schema }

// Fields of the update time mixin.
func (UpdateTime) Fields() []schema.Field {
	return []schema.Field{
		field.Time("updated_on").Default(time.Now).UpdateDefault(time.Now),
	}
}

// Indexed wraps a mixin and indexes every one of its fields.
//
//	mixin.Indexed(mixin.Time{})
func Indexed(m schema.Mixin) schema.Mixin {
	return indexer{Mixin: m}
}

type indexer struct{ schema.Mixin }

func (i indexer) Fields() []schema.Field {
	fields := i.Mixin.Fields()
	for _, f := range fields {
		f.Descriptor().Index = true
	}
	return fields
}
