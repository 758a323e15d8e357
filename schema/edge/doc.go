// Package edge provides fluent builders for declaring relationships
// between tables.
//
//	edge.O2M("orders", "orders").Backref("user")        // users -> orders
//	edge.M2O("user", "users")                          // orders -> users
//	edge.O2O("profile", "profiles")                    // at most one row
//	edge.M2M("ingredients", "ingredients").            // cookies <-> ingredients
//	    Through("cookie_ingredients")
//
// The join condition is derived from the foreign keys of the tables when
// exactly one matches. Columns and ThroughColumns override the derivation
// when several do.
package edge
