// Package dialect defines the storage backend contract of vellum.
//
// A backend executes a compiled statement with its ordered arguments and
// returns either rows or a result carrying the affected row count and the
// last inserted key. Sessions run every statement through a Tx obtained
// from the engine's Driver.
//
// # Dialects
//
//	dialect.Postgres = "postgres" // $n placeholders, "ident" quoting
//	dialect.MySQL    = "mysql"    // ? placeholders, `ident` quoting
//	dialect.SQLite   = "sqlite"   // ? placeholders, "ident" quoting
//
// # Usage
//
//	drv, err := sql.Open("sqlite", "file:cookies.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// # Sub-packages
//
//   - dialect/sql: expression tree, statement builders and the database/sql driver
//   - dialect/sql/schema: schema creation and registry validation
//   - dialect/sql/sqlgraph: backend error classification
package dialect
