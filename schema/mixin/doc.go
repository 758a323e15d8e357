// Package mixin provides the base mixin and the timestamp mixins.
//
// A mixin is a reusable set of fields, relationships and indexes applied
// to a table with TableSchema.Mixin:
//
//	type Audit struct{ mixin.Schema }
//
//	func (Audit) Fields() []schema.Field {
//		return []schema.Field{
//			field.String("created_by").Optional(),
//			field.String("updated_by").Optional(),
//		}
//	}
//
//	schema.Table("orders", field.Int("order_id").PrimaryKey()).
//		Mixin(mixin.Time{}, Audit{})
//
// Ready-made mixins for identifiers, soft deletion and tenancy live in
// the contrib/mixin package.
package mixin
