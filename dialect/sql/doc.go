// Package sql provides the SQL expression tree, its per-dialect compiler,
// statement builders and the database/sql backed driver.
//
// # Expressions
//
// Expressions are immutable trees built from column references, literals,
// operators, function calls, casts and labels:
//
//	quantity := sql.C("cookies", "quantity")
//	pred := sql.And(sql.GT(quantity, 10), sql.Contains(sql.C("cookies", "cookie_name"), "chip"))
//
// Every literal becomes a placeholder. Compiling the same tree twice yields
// the same text and the same argument order.
//
// # Dialects
//
// The compiler adapts placeholders, identifier quoting, string
// concatenation and label resolution to the target backend:
//
//	sql.Compile(pred, dialect.Postgres)  // "cookies"."quantity" > $1 AND ...
//	sql.Compile(pred, dialect.MySQL)     // `cookies`.`quantity` > ? AND ... CONCAT('%', ?, '%')
//
// A label referenced in a clause the dialect cannot resolve labels in
// fails with vellum.UnsupportedLabelReferenceError.
//
// # Builders
//
//   - Selector: SELECT with joins, grouping, ordering and pagination
//   - InsertBuilder: multi-row INSERT with RETURNING where supported
//   - UpdateBuilder: UPDATE with SET and WHERE
//   - DeleteBuilder: DELETE with WHERE
//
// # In-memory evaluation
//
// Eval computes an expression against a Resolver using SQL NULL semantics.
// The orm package uses it for instance-level hybrid attributes and to
// synchronise identity-mapped entities after bulk UPDATE and DELETE.
//
// # Drivers
//
// Driver wraps a *sql.DB. StatsDriver and DebugDriver decorate any
// dialect.Driver with query statistics and debug logging.
package sql
