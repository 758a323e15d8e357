package orm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/privacy"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
)

type joinClause struct {
	table string
	on    sql.Expr
	left  bool
}

// Query is a SELECT built over a session. Entity queries, created by
// Session.Query, return entities through the identity map; tuple queries,
// created by Session.Select, return plain rows.
//
// Builder methods record the first error, which is returned by the
// terminal methods.
type Query struct {
	s        *Session
	entity   *vschema.TableSchema
	items    []sql.Expr
	from     string
	joins    []joinClause
	where    []sql.Expr
	group    []sql.Expr
	having   []sql.Expr
	order    []sql.Expr
	limit    *int
	offset   *int
	distinct bool
	with     []string
	err      error
}

// Query returns an entity query over table.
func (s *Session) Query(table string) *Query {
	q := &Query{s: s, from: table}
	t, err := s.engine.reg.Table(table)
	if err != nil {
		q.err = err
		return q
	}
	if _, err := t.Key(); err != nil {
		q.err = err
		return q
	}
	q.entity = t
	return q
}

// Select returns a tuple query. The source table is the table of the first
// column among items, unless set with From.
func (s *Session) Select(items ...sql.Expr) *Query {
	q := &Query{s: s, items: items}
	for _, it := range items {
		for _, c := range sql.Columns(it) {
			if c.Table() != "" {
				q.from = c.Table()
				return q
			}
		}
	}
	return q
}

// From sets the source table of a tuple query.
func (q *Query) From(table string) *Query {
	if q.entity != nil {
		q.setErr(fmt.Errorf("vellum: From on entity query of %s", q.entity.Name))
		return q
	}
	q.from = table
	return q
}

// Where ANDs the predicates to the filter.
func (q *Query) Where(preds ...sql.Expr) *Query {
	q.where = append(q.where, preds...)
	return q
}

// OrderBy appends ordering terms.
func (q *Query) OrderBy(terms ...sql.Expr) *Query {
	q.order = append(q.order, terms...)
	return q
}

// GroupBy appends grouping terms.
func (q *Query) GroupBy(terms ...sql.Expr) *Query {
	q.group = append(q.group, terms...)
	return q
}

// Having ANDs the predicates to the group filter.
func (q *Query) Having(preds ...sql.Expr) *Query {
	q.having = append(q.having, preds...)
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// Distinct removes duplicate rows.
func (q *Query) Distinct() *Query {
	q.distinct = true
	return q
}

// Join adds an inner join with table. Without a condition, the join is
// derived from the one foreign key linking table to the tables already in
// the query.
func (q *Query) Join(table string, on ...sql.Expr) *Query {
	return q.join(table, on, false)
}

// LeftJoin is like Join but keeps the rows without a match.
func (q *Query) LeftJoin(table string, on ...sql.Expr) *Query {
	return q.join(table, on, true)
}

func (q *Query) join(table string, on []sql.Expr, left bool) *Query {
	if len(on) > 0 {
		q.joins = append(q.joins, joinClause{table: table, on: sql.And(on...), left: left})
		return q
	}
	cond, err := q.derive(table)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.joins = append(q.joins, joinClause{table: table, on: cond, left: left})
	return q
}

// derive returns the condition of the one foreign key between table and
// the tables of the query.
func (q *Query) derive(table string) (sql.Expr, error) {
	reg := q.s.engine.reg
	if _, err := reg.Table(table); err != nil {
		return nil, err
	}
	var fks []*vschema.ForeignKeyDef
	for _, p := range q.tables() {
		fks = append(fks, reg.ForeignKeys(p, table)...)
		if p != table {
			fks = append(fks, reg.ForeignKeys(table, p)...)
		}
	}
	if len(fks) != 1 {
		return nil, vellum.NewAmbiguousJoinError(q.from, table, len(fks))
	}
	fk := fks[0]
	return sql.EQ(sql.C(fk.Table, fk.Column), sql.C(fk.RefTable, fk.RefColumn)), nil
}

func (q *Query) tables() []string {
	ts := []string{q.from}
	for _, j := range q.joins {
		if !slices.Contains(ts, j.table) {
			ts = append(ts, j.table)
		}
	}
	return ts
}

// JoinRelation joins the target of a relationship of the source table,
// through the association table for many-to-many relationships.
func (q *Query) JoinRelation(name string) *Query {
	def, err := q.s.engine.reg.ResolveRelationship(q.from, name)
	if err != nil {
		q.setErr(err)
		return q
	}
	owner, target := def.Condition()
	if def.Kind == edge.ManyToMany {
		q.joins = append(q.joins,
			joinClause{table: def.Through, on: owner},
			joinClause{table: def.Target, on: target},
		)
		return q
	}
	q.joins = append(q.joins, joinClause{table: def.Target, on: owner})
	return q
}

// With eager loads relationships of the returned entities. Dotted paths
// load nested relationships level by level.
func (q *Query) With(names ...string) *Query {
	if q.entity == nil {
		q.setErr(errors.New("vellum: With on tuple query"))
		return q
	}
	q.with = append(q.with, names...)
	return q
}

func (q *Query) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

func (q *Query) clone() *Query {
	c := *q
	c.joins = slices.Clone(q.joins)
	c.where = slices.Clone(q.where)
	c.group = slices.Clone(q.group)
	c.having = slices.Clone(q.having)
	c.order = slices.Clone(q.order)
	c.with = slices.Clone(q.with)
	return &c
}

// guarded returns a copy of q narrowed by the query policies of the
// tables it reads. Predicates for joined tables go to the join condition.
func (q *Query) guarded(ctx context.Context) (*Query, error) {
	if q.err != nil {
		return q, nil
	}
	c := q.clone()
	if t, err := q.s.engine.reg.Table(q.from); err == nil {
		if err := q.s.guard(ctx, t, func(p sql.Expr) { c.where = append(c.where, p) }); err != nil {
			return nil, vellum.NewQueryError(q.label(), "authorize", err)
		}
	}
	for i, j := range q.joins {
		t, err := q.s.engine.reg.Table(j.table)
		if err != nil {
			continue
		}
		if err := q.s.guard(ctx, t, func(p sql.Expr) { c.joins[i].on = sql.And(c.joins[i].on, p) }); err != nil {
			return nil, vellum.NewQueryError(q.label(), "authorize", err)
		}
	}
	return c, nil
}

func (q *Query) label() string {
	if q.entity != nil {
		return q.entity.Label
	}
	return q.from
}

// selectItems returns the select list of the query.
func (q *Query) selectItems() []sql.Expr {
	if q.entity != nil {
		return columnsOf(q.entity)
	}
	return q.items
}

// selector builds the statement for the given select list.
func (q *Query) selector(items []sql.Expr, ordered bool) (*sql.Selector, error) {
	if err := q.s.usable(); err != nil {
		return nil, err
	}
	if q.err != nil {
		return nil, q.err
	}
	if len(items) == 0 {
		return nil, errors.New("vellum: query selects nothing")
	}
	sel := sql.Dialect(q.s.dialect()).Select(items...)
	if q.from != "" {
		sel.From(q.from)
	}
	for _, j := range q.joins {
		if j.left {
			sel.LeftJoin(j.table, j.on)
		} else {
			sel.Join(j.table, j.on)
		}
	}
	if len(q.where) > 0 {
		sel.Where(sql.And(q.where...))
	}
	sel.GroupBy(q.group...)
	if len(q.having) > 0 {
		sel.Having(sql.And(q.having...))
	}
	if ordered {
		sel.OrderBy(q.order...)
		if q.limit != nil {
			sel.Limit(*q.limit)
		}
		if q.offset != nil {
			sel.Offset(*q.offset)
		}
	}
	if q.distinct {
		sel.Distinct()
	}
	return sel, nil
}

// All returns the entities of an entity query in row order.
func (q *Query) All(ctx context.Context) ([]*Entity, error) {
	if q.entity == nil && q.err == nil {
		return nil, errors.New("vellum: All on tuple query, use Rows")
	}
	g, err := q.guarded(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := g.selector(q.selectItems(), true)
	if err != nil {
		return nil, err
	}
	ents, err := q.s.fetch(ctx, q.entity, sel, false)
	if err != nil {
		return nil, vellum.NewQueryError(q.label(), "all", err)
	}
	for _, path := range q.with {
		if err := q.s.eagerPath(ctx, ents, path); err != nil {
			return nil, err
		}
	}
	return ents, nil
}

// eagerPath loads a dotted relationship path for the given owners.
func (s *Session) eagerPath(ctx context.Context, owners []*Entity, path string) error {
	for name := range strings.SplitSeq(path, ".") {
		if len(owners) == 0 {
			return nil
		}
		if err := s.eager(ctx, owners, name); err != nil {
			return err
		}
		var next []*Entity
		for _, o := range owners {
			r, _ := o.Relation(name)
			for _, e := range r.items {
				if !slices.Contains(next, e) {
					next = append(next, e)
				}
			}
		}
		owners = next
	}
	return nil
}

// First returns the first entity, or nil when there is none.
func (q *Query) First(ctx context.Context) (*Entity, error) {
	ents, err := q.clone().Limit(1).All(ctx)
	if err != nil || len(ents) == 0 {
		return nil, err
	}
	return ents[0], nil
}

// One returns the only entity of the query. No rows is a
// *vellum.NoResultError and more than one a *vellum.MultipleResultsError.
func (q *Query) One(ctx context.Context) (*Entity, error) {
	ents, err := q.clone().Limit(2).All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(ents) {
	case 0:
		return nil, vellum.NewNoResultError(q.label())
	case 1:
		return ents[0], nil
	default:
		return nil, vellum.NewMultipleResultsError(q.label(), len(ents))
	}
}

// Get returns the entity with the given key, from the identity map when
// present.
func (q *Query) Get(ctx context.Context, key any) (*Entity, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.entity == nil {
		return nil, errors.New("vellum: Get on tuple query")
	}
	return q.s.Get(ctx, q.entity.Name, key)
}

// Count returns the number of rows of the query.
func (q *Query) Count(ctx context.Context) (int, error) {
	g, err := q.guarded(ctx)
	if err != nil {
		return 0, err
	}
	if len(q.group) > 0 || q.limit != nil || q.offset != nil || q.distinct || slices.ContainsFunc(q.items, sql.Aggregates) {
		rows, err := g.rows(ctx, q.selectItems())
		if err != nil {
			return 0, err
		}
		return len(rows), nil
	}
	sel, err := g.selector([]sql.Expr{sql.Count()}, false)
	if err != nil {
		return 0, err
	}
	rows, err := q.s.query(ctx, sel)
	if err != nil {
		return 0, vellum.NewQueryError(q.label(), "count", err)
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, vellum.NewQueryError(q.label(), "count", fmt.Errorf("unexpected result shape"))
	}
	n, err := field.Normalize(field.TypeInt, rows[0][0])
	if err != nil {
		return 0, vellum.NewQueryError(q.label(), "count", err)
	}
	c, _ := n.(int64)
	return int(c), nil
}

// Rows returns the rows of the query. Column values are converted to the
// column types; other values are returned as scanned, with byte slices
// turned into strings.
func (q *Query) Rows(ctx context.Context) ([][]any, error) {
	g, err := q.guarded(ctx)
	if err != nil {
		return nil, err
	}
	return g.rows(ctx, q.selectItems())
}

func (q *Query) rows(ctx context.Context, items []sql.Expr) ([][]any, error) {
	sel, err := q.selector(items, true)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if q.cacheable() {
		query, args, qerr := sel.Query()
		if qerr != nil {
			return nil, qerr
		}
		raw, err = q.s.cachedRows(ctx, q.from, query, args)
	} else {
		raw, err = q.s.query(ctx, sel)
	}
	if err != nil {
		return nil, vellum.NewQueryError(q.label(), "rows", err)
	}
	out := make([][]any, len(raw))
	for i, row := range raw {
		if out[i], err = q.normalize(items, row); err != nil {
			return nil, vellum.NewQueryError(q.label(), "rows", err)
		}
	}
	return out, nil
}

func (q *Query) normalize(items []sql.Expr, row []any) ([]any, error) {
	out := make([]any, len(row))
	for i, v := range row {
		if i < len(items) {
			if c, ok := sql.AsColumn(items[i]); ok {
				if d, ok := q.s.columnDescriptor(c.Table(), c.Name()); ok {
					n, err := d.Normalize(v)
					if err != nil {
						return nil, vellum.NewValidationError(c.Table()+"."+c.Name(), err)
					}
					out[i] = n
					continue
				}
			}
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[i] = v
	}
	return out, nil
}

// Row returns the first row, or nil when there is none.
func (q *Query) Row(ctx context.Context) ([]any, error) {
	rows, err := q.clone().Limit(1).Rows(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Scalar returns the first column of the first row, or nil when there is
// no row.
func (q *Query) Scalar(ctx context.Context) (any, error) {
	row, err := q.Row(ctx)
	if err != nil || len(row) == 0 {
		return nil, err
	}
	return row[0], nil
}

// bulkTable returns the table targeted by a bulk statement.
func (q *Query) bulkTable(op string) (*vschema.TableSchema, error) {
	if err := q.s.usable(); err != nil {
		return nil, err
	}
	if q.err != nil {
		return nil, q.err
	}
	if len(q.joins) > 0 || len(q.group) > 0 || q.limit != nil || q.offset != nil {
		return nil, fmt.Errorf("vellum: bulk %s supports a filter on one table only", op)
	}
	t, err := q.s.engine.reg.Table(q.from)
	if err != nil {
		return nil, err
	}
	if _, err := t.Key(); err != nil {
		return nil, err
	}
	return t, nil
}

// matching returns the entities of the identity map that the filter
// selects. When the filter cannot be evaluated in memory, the keys of
// the matching rows are read from the backend.
func (q *Query) matching(ctx context.Context, t *vschema.TableSchema) ([]*Entity, error) {
	var cached []*Entity
	for _, e := range q.s.tracked {
		if e.table == t && e.state == Persistent {
			cached = append(cached, e)
		}
	}
	if len(cached) == 0 {
		return nil, nil
	}
	pred := sql.And(q.where...)
	if pred == nil {
		return cached, nil
	}
	var matched []*Entity
	for _, e := range cached {
		ok, err := sql.EvalBool(pred, q.s.evaluator(e))
		if errors.Is(err, sql.ErrNotEvaluable) {
			return q.prefetch(ctx, t, pred)
		}
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// computeSet evaluates the values of a bulk update for one row. It
// reports false when a value can only be computed by the backend.
func computeSet(t *vschema.TableSchema, set map[string]any, r sql.Resolver) (map[string]any, bool) {
	values := make(map[string]any, len(set))
	for col, v := range set {
		if x, ok := v.(sql.Expr); ok {
			d, _ := t.Column(col)
			var err error
			if v, err = sql.Eval(x, r); err != nil {
				return nil, false
			}
			if v, err = d.Normalize(v); err != nil {
				return nil, false
			}
		}
		values[col] = v
	}
	return values, true
}

func (q *Query) prefetch(ctx context.Context, t *vschema.TableSchema, pred sql.Expr) ([]*Entity, error) {
	kd, _ := t.Key()
	sel := sql.Dialect(q.s.dialect()).Select(t.C(kd.Name)).From(t.Name).Where(pred)
	rows, err := q.s.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	var matched []*Entity
	for _, row := range rows {
		k, err := kd.Normalize(row[0])
		if err != nil {
			return nil, err
		}
		if e, ok := q.s.identity[identity{table: t.Name, key: identityOf(k)}]; ok {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// Update sets the given columns on every row matched by the filter with
// one UPDATE statement, and returns the number of rows affected. Values
// may be expressions over the columns of the row. Matching entities of
// the session get the new values, except for columns with unflushed
// edits which are kept and reported as *vellum.StaleOverwriteWarning.
// The change is not committed.
func (q *Query) Update(ctx context.Context, values map[string]any) (int64, error) {
	t, err := q.bulkTable("update")
	if err != nil {
		return 0, err
	}
	if q, err = q.guarded(ctx); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("vellum: bulk update of %s sets no columns", t.Name)
	}
	u := sql.Dialect(q.s.dialect()).Update(t.Name)
	set := make(map[string]any, len(values))
	for _, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		if c.PrimaryKey {
			return 0, fmt.Errorf("vellum: bulk update of primary key %s.%s", t.Name, c.Name)
		}
		if _, expr := v.(sql.Expr); !expr {
			if v, err = c.Normalize(v); err != nil {
				return 0, vellum.NewValidationError(t.Name+"."+c.Name, err)
			}
		}
		set[c.Name] = v
		u.Set(c.Name, v)
	}
	for name := range values {
		if _, ok := t.Column(name); !ok {
			return 0, &vellum.UnknownColumnError{Table: t.Name, Column: name}
		}
	}
	if err := q.s.authorize(ctx, t, bulkMutation{table: t.Name, op: privacy.OpUpdateMany, values: set}); err != nil {
		return 0, err
	}
	if len(q.where) > 0 {
		u.Where(sql.And(q.where...))
	}
	matched, err := q.matching(ctx, t)
	if err != nil {
		return 0, vellum.NewMutationError(t.Name, "update", err)
	}
	// New values are computed before the statement changes the row. Rows
	// whose values cannot be computed in memory are read back after it.
	computed := make(map[*Entity]map[string]any, len(matched))
	var reread []*Entity
	for _, e := range matched {
		vs, ok := computeSet(t, set, q.s.evaluator(e))
		if !ok {
			reread = append(reread, e)
			continue
		}
		computed[e] = vs
	}
	res, err := q.s.exec(ctx, u)
	if err != nil {
		return 0, vellum.NewMutationError(t.Name, "update", err)
	}
	n, _ := res.RowsAffected()
	if len(reread) > 0 {
		if err := q.s.readBack(ctx, t, reread, set, computed); err != nil {
			return n, vellum.NewMutationError(t.Name, "update", err)
		}
	}
	for _, e := range matched {
		for col, v := range computed[e] {
			if h, edited := e.history[col]; edited {
				q.s.warn(ctx, &vellum.StaleOverwriteWarning{Table: t.Name, Key: e.key, Column: col, Local: h.New, Fetched: v})
				continue
			}
			q.s.sync(e, col, v)
		}
	}
	q.s.wrote(t.Name)
	q.s.engine.invalidate(ctx, t.Name)
	return n, nil
}

// Delete deletes every row matched by the filter with one DELETE
// statement and returns the number of rows affected. Matching entities
// of the session leave the identity map in the deleted state; a rollback
// restores them. The change is not committed.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	t, err := q.bulkTable("delete")
	if err != nil {
		return 0, err
	}
	if q, err = q.guarded(ctx); err != nil {
		return 0, err
	}
	if err := q.s.authorize(ctx, t, bulkMutation{table: t.Name, op: privacy.OpDeleteMany}); err != nil {
		return 0, err
	}
	d := sql.Dialect(q.s.dialect()).Delete(t.Name)
	if len(q.where) > 0 {
		d.Where(sql.And(q.where...))
	}
	matched, err := q.matching(ctx, t)
	if err != nil {
		return 0, vellum.NewMutationError(t.Name, "delete", err)
	}
	res, err := q.s.exec(ctx, d)
	if err != nil {
		return 0, vellum.NewMutationError(t.Name, "delete", err)
	}
	n, _ := res.RowsAffected()
	for _, e := range matched {
		q.s.removed(e)
	}
	q.s.wrote(t.Name)
	q.s.engine.invalidate(ctx, t.Name)
	return n, nil
}
