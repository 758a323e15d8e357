package sql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect"
)

// Clause identifies the part of a statement an expression renders in.
type Clause uint8

// Statement clauses.
const (
	ClauseSelect Clause = iota
	ClauseJoin
	ClauseWhere
	ClauseGroupBy
	ClauseHaving
	ClauseOrderBy
	ClauseSet
	ClauseValues
)

// String returns the SQL keyword of the clause.
func (c Clause) String() string {
	switch c {
	case ClauseSelect:
		return "SELECT"
	case ClauseJoin:
		return "ON"
	case ClauseWhere:
		return "WHERE"
	case ClauseGroupBy:
		return "GROUP BY"
	case ClauseHaving:
		return "HAVING"
	case ClauseOrderBy:
		return "ORDER BY"
	case ClauseSet:
		return "SET"
	case ClauseValues:
		return "VALUES"
	}
	return "clause(" + strconv.Itoa(int(c)) + ")"
}

type clauses uint16

func clauseSet(cs ...Clause) clauses {
	var s clauses
	for _, c := range cs {
		s |= 1 << c
	}
	return s
}

func (s clauses) has(c Clause) bool { return s&(1<<c) != 0 }

// dialectInfo captures the rendering differences between backends.
type dialectInfo struct {
	name       string
	quote      byte
	numbered   bool    // $1, $2 instead of ?
	concatFunc bool    // CONCAT(a, b) instead of a || b
	returning  bool    // INSERT ... RETURNING
	labels     clauses // clauses that resolve select-list labels
}

var dialects = map[string]dialectInfo{
	dialect.SQLite: {
		name:      dialect.SQLite,
		quote:     '"',
		returning: true,
		labels:    clauseSet(ClauseWhere, ClauseGroupBy, ClauseHaving, ClauseOrderBy),
	},
	dialect.Postgres: {
		name:      dialect.Postgres,
		quote:     '"',
		numbered:  true,
		returning: true,
		labels:    clauseSet(ClauseGroupBy, ClauseOrderBy),
	},
	dialect.MySQL: {
		name:       dialect.MySQL,
		quote:      '`',
		concatFunc: true,
		labels:     clauseSet(ClauseGroupBy, ClauseHaving, ClauseOrderBy),
	},
}

// SupportsLabel reports whether the dialect resolves select-list labels in clause c.
func SupportsLabel(name string, c Clause) bool {
	info, ok := dialects[name]
	return ok && (c == ClauseSelect || info.labels.has(c))
}

// SupportsReturning reports whether INSERT statements of the dialect accept RETURNING.
func SupportsReturning(name string) bool {
	return dialects[name].returning
}

// Builder accumulates the text and arguments of one statement.
// The first error stops nothing but is reported by Query.
type Builder struct {
	sb     strings.Builder
	args   []any
	info   dialectInfo
	clause Clause
	err    error
}

// NewBuilder returns a Builder for the dialect. An empty name selects the
// SQLite rendering.
func NewBuilder(name string) *Builder {
	b := &Builder{}
	if name == "" {
		name = dialect.SQLite
	}
	info, ok := dialects[name]
	if !ok {
		b.err = fmt.Errorf("dialect/sql: unsupported dialect %q", name)
		info = dialects[dialect.SQLite]
	}
	b.info = info
	return b
}

// Dialect returns the dialect name.
func (b *Builder) Dialect() string { return b.info.name }

// WriteString appends s to the statement text.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte appends c to the statement text.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Ident appends a quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	q := string(b.info.quote)
	b.sb.WriteString(q)
	b.sb.WriteString(strings.ReplaceAll(s, q, q+q))
	b.sb.WriteString(q)
	return b
}

// Arg appends a placeholder and records its value.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.info.numbered {
		b.sb.WriteByte('$')
		b.sb.WriteString(strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// AddError records err. Only the first error is kept.
func (b *Builder) AddError(err error) *Builder {
	if b.err == nil && err != nil {
		b.err = err
	}
	return b
}

// Err returns the first recorded error.
func (b *Builder) Err() error { return b.err }

// String returns the statement text.
func (b *Builder) String() string { return b.sb.String() }

// Args returns the statement arguments in placeholder order.
func (b *Builder) Args() []any { return b.args }

// In sets the clause the following expressions render in.
func (b *Builder) In(c Clause) *Builder {
	b.clause = c
	return b
}

// Expr renders e in the current clause.
func (b *Builder) Expr(e Expr) *Builder {
	b.expr(e)
	return b
}

func (b *Builder) expr(e Expr) {
	if e == nil {
		b.AddError(errors.New("dialect/sql: nil expression"))
		return
	}
	e.render(b)
}

// selectItem renders a select-list entry, giving labels their alias.
func (b *Builder) selectItem(e Expr) {
	if l, ok := e.(*LabelExpr); ok {
		b.expr(l.x)
		b.WriteString(" AS ")
		b.Ident(l.alias)
		return
	}
	b.expr(e)
}

// precedence returns the binding strength of e as rendered in the current clause.
func (b *Builder) precedence(e Expr) int {
	switch x := e.(type) {
	case *BinaryExpr:
		if x.op == OpConcat && b.info.concatFunc {
			return precAtom
		}
		return x.op.precedence()
	case *UnaryExpr:
		return x.precedence()
	case *BetweenExpr, boolExpr:
		return precCompare
	case *LabelExpr:
		if b.clause == ClauseSelect {
			return b.precedence(x.x)
		}
	}
	return precAtom
}

// nested renders e, parenthesized when it binds looser than min.
func (b *Builder) nested(e Expr, min int) {
	if e != nil && b.precedence(e) < min {
		b.WriteByte('(')
		b.expr(e)
		b.WriteByte(')')
		return
	}
	b.expr(e)
}

// operand renders one side of a binary operator. Mixed AND/OR nesting is
// always parenthesized; other operands only where precedence requires it.
func (b *Builder) operand(parent Op, e Expr, right bool) {
	paren := b.precedence(e) < parent.precedence()
	if c, ok := e.(*BinaryExpr); ok && !(c.op == OpConcat && b.info.concatFunc) {
		switch same := c.op.precedence() == parent.precedence(); {
		case parent.logical() && c.op.logical() && c.op != parent:
			paren = true
		case same && parent.comparison():
			paren = true
		case same && right && (!parent.associative() || c.op != parent):
			paren = true
		}
	}
	if paren {
		b.WriteByte('(')
		b.expr(e)
		b.WriteByte(')')
		return
	}
	b.expr(e)
}

func unsupportedLabel(alias string, b *Builder) error {
	return &vellum.UnsupportedLabelReferenceError{Label: alias, Clause: b.clause.String(), Dialect: b.info.name}
}

// Compile renders e as a select-list expression of the dialect.
func Compile(e Expr, dialect string) (string, []any, error) {
	return CompileClause(e, dialect, ClauseSelect)
}

// CompileClause renders e as it would appear in clause c of a statement.
func CompileClause(e Expr, dialect string, c Clause) (string, []any, error) {
	b := NewBuilder(dialect).In(c)
	if c == ClauseSelect {
		b.selectItem(e)
	} else {
		b.expr(e)
	}
	if b.err != nil {
		return "", nil, b.err
	}
	return b.String(), b.args, nil
}

// DialectBuilder creates statement builders for one dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect returns a DialectBuilder for the given dialect.
//
//	query, args, err := sql.Dialect(dialect.Postgres).
//		Select(sql.C("cookies", "cookie_name")).
//		From("cookies").
//		Where(sql.GT(sql.C("cookies", "quantity"), 10)).
//		Query()
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select creates a Selector for the dialect.
func (d *DialectBuilder) Select(items ...Expr) *Selector {
	s := Select(items...)
	s.dialect = d.dialect
	return s
}

// Insert creates an InsertBuilder for the dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	i := Insert(table)
	i.dialect = d.dialect
	return i
}

// Update creates an UpdateBuilder for the dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	u := Update(table)
	u.dialect = d.dialect
	return u
}

// Delete creates a DeleteBuilder for the dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	x := Delete(table)
	x.dialect = d.dialect
	return x
}

type join struct {
	left  bool
	table string
	on    Expr
}

// Selector is a builder for SELECT statements.
type Selector struct {
	dialect  string
	items    []Expr
	distinct bool
	from     string
	joins    []join
	where    Expr
	group    []Expr
	having   Expr
	order    []Expr
	limit    *int
	offset   *int
}

// Select returns a Selector for the given select list.
func Select(items ...Expr) *Selector {
	return &Selector{items: items}
}

// SetDialect sets the dialect of the statement.
func (s *Selector) SetDialect(name string) *Selector {
	s.dialect = name
	return s
}

// Dialect returns the dialect of the statement.
func (s *Selector) Dialect() string { return s.dialect }

// Items returns the select list.
func (s *Selector) Items() []Expr { return s.items }

// Distinct adds DISTINCT to the select list.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// From sets the source table.
func (s *Selector) From(table string) *Selector {
	s.from = table
	return s
}

// FromTable returns the source table.
func (s *Selector) FromTable() string { return s.from }

// Join appends an inner join.
func (s *Selector) Join(table string, on Expr) *Selector {
	s.joins = append(s.joins, join{table: table, on: on})
	return s
}

// LeftJoin appends a left outer join.
func (s *Selector) LeftJoin(table string, on Expr) *Selector {
	s.joins = append(s.joins, join{left: true, table: table, on: on})
	return s
}

// Where ANDs p to the filter.
func (s *Selector) Where(p Expr) *Selector {
	s.where = And(s.where, p)
	return s
}

// GroupBy appends grouping terms.
func (s *Selector) GroupBy(terms ...Expr) *Selector {
	s.group = append(s.group, terms...)
	return s
}

// Having ANDs p to the group filter.
func (s *Selector) Having(p Expr) *Selector {
	s.having = And(s.having, p)
	return s
}

// OrderBy appends ordering terms. Plain expressions sort ascending.
func (s *Selector) OrderBy(terms ...Expr) *Selector {
	s.order = append(s.order, terms...)
	return s
}

// Limit caps the number of returned rows.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset skips the first n rows.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Clone returns a copy of the selector that can be modified independently.
func (s *Selector) Clone() *Selector {
	c := *s
	c.items = append([]Expr(nil), s.items...)
	c.joins = append([]join(nil), s.joins...)
	c.group = append([]Expr(nil), s.group...)
	c.order = append([]Expr(nil), s.order...)
	return &c
}

// Query returns the statement text and its arguments.
func (s *Selector) Query() (string, []any, error) {
	b := NewBuilder(s.dialect)
	if len(s.items) == 0 {
		return "", nil, errors.New("dialect/sql: select list is empty")
	}
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	b.In(ClauseSelect)
	for i, it := range s.items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.selectItem(it)
	}
	if s.from != "" {
		b.WriteString(" FROM ").Ident(s.from)
	}
	b.In(ClauseJoin)
	for _, j := range s.joins {
		if j.left {
			b.WriteString(" LEFT OUTER JOIN ")
		} else {
			b.WriteString(" JOIN ")
		}
		b.Ident(j.table).WriteString(" ON ")
		b.expr(j.on)
	}
	if s.where != nil {
		b.In(ClauseWhere).WriteString(" WHERE ")
		b.expr(s.where)
	}
	b.list(" GROUP BY ", ClauseGroupBy, s.group)
	if s.having != nil {
		b.In(ClauseHaving).WriteString(" HAVING ")
		b.expr(s.having)
	}
	b.list(" ORDER BY ", ClauseOrderBy, s.order)
	b.limit(s.limit, s.offset)
	if b.err != nil {
		return "", nil, b.err
	}
	return b.String(), b.args, nil
}

func (b *Builder) list(keyword string, c Clause, terms []Expr) {
	if len(terms) == 0 {
		return
	}
	b.In(c).WriteString(keyword)
	for i, t := range terms {
		if i > 0 {
			b.WriteString(", ")
		}
		b.expr(t)
	}
}

func (b *Builder) limit(limit, offset *int) {
	if limit != nil {
		b.WriteString(" LIMIT ").Arg(*limit)
	}
	if offset == nil {
		return
	}
	if limit == nil {
		switch b.info.name {
		case dialect.SQLite:
			b.WriteString(" LIMIT -1")
		case dialect.MySQL:
			b.WriteString(" LIMIT 18446744073709551615")
		}
	}
	b.WriteString(" OFFSET ").Arg(*offset)
}

// InsertBuilder is a builder for INSERT statements.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    [][]any
	returning []string
}

// Insert returns an InsertBuilder for the table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends a row of values, one per column.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Returning sets the columns returned by the statement.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the statement text and its arguments.
func (i *InsertBuilder) Query() (string, []any, error) {
	b := NewBuilder(i.dialect).In(ClauseValues)
	b.WriteString("INSERT INTO ").Ident(i.table)
	switch {
	case len(i.columns) == 0 && b.info.name == dialect.MySQL:
		b.WriteString(" () VALUES ()")
	case len(i.columns) == 0:
		b.WriteString(" DEFAULT VALUES")
	default:
		b.WriteString(" (")
		for n, c := range i.columns {
			if n > 0 {
				b.WriteString(", ")
			}
			b.Ident(c)
		}
		b.WriteString(") VALUES ")
		if len(i.values) == 0 {
			b.AddError(fmt.Errorf("dialect/sql: insert into %q has no values", i.table))
		}
		for r, row := range i.values {
			if len(row) != len(i.columns) {
				b.AddError(fmt.Errorf("dialect/sql: insert into %q: %d values for %d columns", i.table, len(row), len(i.columns)))
			}
			if r > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for n, v := range row {
				if n > 0 {
					b.WriteString(", ")
				}
				b.expr(toExpr(v))
			}
			b.WriteByte(')')
		}
	}
	if len(i.returning) > 0 {
		if !b.info.returning {
			b.AddError(fmt.Errorf("dialect/sql: dialect %q does not support RETURNING", b.info.name))
		}
		b.WriteString(" RETURNING ")
		for n, c := range i.returning {
			if n > 0 {
				b.WriteString(", ")
			}
			b.Ident(c)
		}
	}
	if b.err != nil {
		return "", nil, b.err
	}
	return b.String(), b.args, nil
}

type assignment struct {
	column string
	value  Expr
}

// UpdateBuilder is a builder for UPDATE statements.
type UpdateBuilder struct {
	dialect string
	table   string
	sets    []assignment
	where   Expr
}

// Update returns an UpdateBuilder for the table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set assigns v to the column. v may be a value or an expression.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.sets = append(u.sets, assignment{column: column, value: toExpr(v)})
	return u
}

// Where ANDs p to the filter.
func (u *UpdateBuilder) Where(p Expr) *UpdateBuilder {
	u.where = And(u.where, p)
	return u
}

// Query returns the statement text and its arguments.
func (u *UpdateBuilder) Query() (string, []any, error) {
	if len(u.sets) == 0 {
		return "", nil, fmt.Errorf("dialect/sql: update of %q sets no columns", u.table)
	}
	b := NewBuilder(u.dialect).In(ClauseSet)
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, s := range u.sets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(s.column).WriteString(" = ")
		b.expr(s.value)
	}
	if u.where != nil {
		b.In(ClauseWhere).WriteString(" WHERE ")
		b.expr(u.where)
	}
	if b.err != nil {
		return "", nil, b.err
	}
	return b.String(), b.args, nil
}

// DeleteBuilder is a builder for DELETE statements.
type DeleteBuilder struct {
	dialect string
	table   string
	where   Expr
}

// Delete returns a DeleteBuilder for the table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where ANDs p to the filter.
func (d *DeleteBuilder) Where(p Expr) *DeleteBuilder {
	d.where = And(d.where, p)
	return d
}

// Query returns the statement text and its arguments.
func (d *DeleteBuilder) Query() (string, []any, error) {
	b := NewBuilder(d.dialect)
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.In(ClauseWhere).WriteString(" WHERE ")
		b.expr(d.where)
	}
	if b.err != nil {
		return "", nil, b.err
	}
	return b.String(), b.args, nil
}
