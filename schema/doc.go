// Package schema declares tables, their columns, foreign keys and
// relationships, and resolves relationships into join paths.
//
// Tables are declared with field, edge and index builders and collected
// in a Registry:
//
//	users := schema.Table("users",
//		field.Int("user_id").PrimaryKey(),
//		field.String("username").MaxLen(15).Unique(),
//	)
//	orders := schema.Table("orders",
//		field.Int("order_id").PrimaryKey(),
//		field.Int("user_id").References("users", "user_id"),
//		field.Bool("shipped").Default(false),
//	).Edges(
//		edge.M2O("user", "users").Backref("orders"),
//	)
//	reg, err := schema.NewRegistry(users, orders)
//	if err != nil {
//		return err
//	}
//	if err := reg.Resolve(); err != nil {
//		return err
//	}
//
// A relationship without explicit columns is joined on the single foreign
// key linking the two tables. When there is none, or more than one,
// resolution fails with a *vellum.AmbiguousJoinError naming the
// candidates. Resolve checks every declaration eagerly so that such
// errors surface at startup.
//
// Declarations can also be read from YAML with LoadYAML.
package schema
