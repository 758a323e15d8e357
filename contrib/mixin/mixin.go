// Package mixin provides optional mixins for common column patterns.
//
//   - ID: UUID primary key generated on insert
//   - SoftDelete: nullable deleted_on timestamp
//   - TenantID: indexed, non-empty tenant_id column
//   - TimeSoftDelete: the timestamp mixin plus SoftDelete
//
// Usage:
//
//	schema.Table("accounts").Mixin(mixin.ID{}, mixin.TenantID{})
package mixin

import (
	"github.com/google/uuid"

	"github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/field"
	"github.com/syssam/vellum/schema/mixin"
)

// ID adds a UUID primary key column named id, generated with uuid.New
// when the entity is inserted without one.
//
// For another column name, declare the field directly:
//
//	field.UUID("account_id").PrimaryKey().Default(uuid.New)
type ID struct{ mixin.Schema }

// Fields of the ID mixin.
func (ID) Fields() []schema.Field {
	return []schema.Field{
		field.UUID("id").
			PrimaryKey().
			Default(uuid.New),
	}
}

var _ schema.Mixin = (*ID)(nil)

// SoftDelete adds a nullable deleted_on column. Filter it in queries
// with sql.IsNull(table.C("deleted_on")).
type SoftDelete struct{ mixin.Schema }

// Fields of the SoftDelete mixin.
func (SoftDelete) Fields() []schema.Field {
	return []schema.Field{
		field.Time("deleted_on").Nillable(),
	}
}

var _ schema.Mixin = (*SoftDelete)(nil)

// TenantID adds a tenant_id column.
type TenantID struct{ mixin.Schema }

// Fields of the TenantID mixin.
func (TenantID) Fields() []schema.Field {
	return []schema.Field{
		field.String("tenant_id").
			NotEmpty().
			Index(),
	}
}

var _ schema.Mixin = (*TenantID)(nil)

// TimeSoftDelete composes the time and SoftDelete mixins.
type TimeSoftDelete struct{ mixin.Schema }

// Fields of the TimeSoftDelete mixin.
func (TimeSoftDelete) Fields() []schema.Field {
	return append(mixin.Time{}.Fields(), SoftDelete{}.Fields()...)
}

var _ schema.Mixin = (*TimeSoftDelete)(nil)
