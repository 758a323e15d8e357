package orm

import (
	"context"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/privacy"
	vschema "github.com/syssam/vellum/schema"
)

// mutation is the privacy view of an entity written by a flush.
type mutation struct {
	e  *Entity
	op privacy.Op
}

func (m mutation) Table() string  { return m.e.table.Name }
func (m mutation) Op() privacy.Op { return m.op }
func (m mutation) Key() any       { return m.e.key }

func (m mutation) Field(column string) (any, bool) {
	v, ok := m.e.values[column]
	return v, ok
}

// bulkMutation is the privacy view of a bulk statement.
type bulkMutation struct {
	table  string
	op     privacy.Op
	values map[string]any
}

func (m bulkMutation) Table() string  { return m.table }
func (m bulkMutation) Op() privacy.Op { return m.op }
func (m bulkMutation) Key() any       { return nil }

func (m bulkMutation) Field(column string) (any, bool) {
	v, ok := m.values[column]
	return v, ok
}

// filter is the privacy view of a statement reading table.
type filter struct {
	table string
	where func(sql.Expr)
}

func (f filter) Table() string { return f.table }

func (f filter) WhereP(preds ...sql.Expr) {
	if p := sql.And(preds...); p != nil {
		f.where(p)
	}
}

func policies(t *vschema.TableSchema) privacy.Policies {
	if len(t.Policies) == 0 {
		return nil
	}
	return privacy.NewPolicies(t.Policies...)
}

func opName(op privacy.Op) string {
	switch op {
	case privacy.OpInsert:
		return "insert"
	case privacy.OpUpdate, privacy.OpUpdateMany:
		return "update"
	default:
		return "delete"
	}
}

// authorize evaluates the mutation policy of the table of m.
func (s *Session) authorize(ctx context.Context, t *vschema.TableSchema, m privacy.Mutation) error {
	p := policies(t)
	if p == nil {
		return nil
	}
	if err := p.EvalMutation(ctx, m); err != nil {
		s.engine.logger.DebugContext(ctx, "vellum: mutation denied", "table", t.Name, "op", m.Op(), "error", err)
		return vellum.NewMutationError(t.Name, opName(m.Op()), err)
	}
	return nil
}

// authorizeFlush evaluates the mutation policies of entities a flush
// writes. The foreign keys set through relationships are applied first.
func (s *Session) authorizeFlush(ctx context.Context, inserts, updates, deletes []*Entity) error {
	for _, batch := range []struct {
		ents []*Entity
		op   privacy.Op
	}{{inserts, privacy.OpInsert}, {updates, privacy.OpUpdate}, {deletes, privacy.OpDelete}} {
		for _, e := range batch.ents {
			if err := s.authorize(ctx, e.table, mutation{e: e, op: batch.op}); err != nil {
				return err
			}
		}
	}
	return nil
}

// guard evaluates the query policy of t for a statement reading it. The
// predicates added by the rules go through where.
func (s *Session) guard(ctx context.Context, t *vschema.TableSchema, where func(sql.Expr)) error {
	p := policies(t)
	if p == nil {
		return nil
	}
	if err := p.EvalQuery(ctx, filter{table: t.Name, where: where}); err != nil {
		s.engine.logger.DebugContext(ctx, "vellum: query denied", "table", t.Name, "error", err)
		return err
	}
	return nil
}

// guardSelect applies the query policy of t to sel.
func (s *Session) guardSelect(ctx context.Context, t *vschema.TableSchema, sel *sql.Selector) error {
	return s.guard(ctx, t, func(p sql.Expr) { sel.Where(p) })
}
