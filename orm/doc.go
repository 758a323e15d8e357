// Package orm maps rows of registered tables to tracked entities.
//
// An Engine binds a driver to a schema registry. Each Session opened from
// it is a unit of work over one backend transaction:
//
//	s := engine.NewSession()
//	defer s.Close(ctx)
//
//	cc, _ := engine.New("cookies", map[string]any{"cookie_name": "chocolate chip", "quantity": 12})
//	if err := s.Add(cc); err != nil {
//		return err
//	}
//	if err := s.Commit(ctx); err != nil {
//		return err
//	}
//
// # Identity map
//
// Within a session a row is represented by exactly one *Entity. Get and
// queries return the tracked entity when the key is already mapped; a
// fetched row updates the attributes without local edits and keeps the
// edited ones, reporting a vellum.StaleOverwriteWarning.
//
// # Flush
//
// Flush writes inserts in foreign key order, then updates, association
// rows and deletes in reverse dependency order. A failing statement rolls
// the transaction back and leaves the entities as they were before it.
//
// # Relationships
//
// Relation handles load lazily on first access or eagerly with
// Session.Load and Query.With. Changes made with Append, Remove and Set are
// staged and written by the next flush.
//
// # Queries
//
//	ents, err := s.Query("cookies").
//		Where(sql.GT(sql.C("cookies", "quantity"), 10)).
//		OrderBy(sql.Desc(sql.C("cookies", "quantity"))).
//		Limit(2).
//		All(ctx)
package orm
