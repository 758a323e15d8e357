// Package schema creates the tables of a registry in a database and
// validates registries and schema changes.
//
// Create inspects the tables declared in the registry with Atlas, diffs
// them against the declarations and applies the missing parts:
//
//	drv, err := sql.Open("sqlite", "file:shop.db?_pragma=foreign_keys(1)")
//	if err != nil {
//		return err
//	}
//	if err := schema.Create(ctx, drv, reg); err != nil {
//		return err
//	}
//
// Plan returns the statements without executing them. Validate reports
// naming and structural problems of a registry before anything runs.
package schema
