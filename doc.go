// Package vellum is an identity-tracked persistence core: a schema registry,
// an SQL expression builder, a unit of work with an identity map, a
// relationship loader and a query compiler, on top of database/sql.
//
// The root package holds what every layer shares: the error taxonomy and
// the result cache contract. The layers live in sub-packages:
//
//   - schema: table declarations and the registry that resolves them
//   - dialect/sql: expressions, statement builders and the database/sql driver
//   - dialect/sql/schema: creating registered tables through Atlas
//   - orm: engines, sessions, entities, relationships and queries
//   - config: file and environment configuration
//   - privacy: query and write policies declared on tables
//
// Errors follow one pattern: a sentinel ErrXxx, a typed *XxxError that
// reports Is(sentinel), and an IsXxx helper:
//
//	if _, err := q.One(ctx); vellum.IsNoResult(err) {
//	    // nothing matched
//	}
package vellum
