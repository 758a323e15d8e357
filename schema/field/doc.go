// Package field provides fluent builders for declaring table columns.
//
//	field.Int("cookie_id").PrimaryKey()
//	field.String("cookie_name").MaxLen(50).Index()
//	field.Decimal("unit_cost").Precision(12, 2)
//	field.Int("user_id").References("users", "user_id")
//	field.Time("updated_on").Default(time.Now).UpdateDefault(time.Now)
//
// # Nullability
//
// Optional fields may be left unset on insert; the default, or NULL for
// nillable fields, is written instead. Nillable fields accept NULL.
//
// # Values
//
// Every column type has one canonical Go type (see Normalize). Values set
// by the application and values scanned from the backend are converted to
// it, so that change detection compares like with like.
package field
