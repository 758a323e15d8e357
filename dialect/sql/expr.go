package sql

import (
	"fmt"
	"regexp"
)

// Expr is a node of an SQL expression tree.
//
// Nodes are immutable once built and compile deterministically: the same
// tree always renders the same text with the same argument order. Values
// never appear in the rendered text; every literal becomes a placeholder.
type Expr interface {
	render(b *Builder)
}

// Op is a binary operator.
type Op string

// Binary operators.
const (
	OpEQ      Op = "="
	OpNEQ     Op = "<>"
	OpLT      Op = "<"
	OpLTE     Op = "<="
	OpGT      Op = ">"
	OpGTE     Op = ">="
	OpAnd     Op = "AND"
	OpOr      Op = "OR"
	OpAdd     Op = "+"
	OpSub     Op = "-"
	OpMul     Op = "*"
	OpDiv     Op = "/"
	OpLike    Op = "LIKE"
	OpNotLike Op = "NOT LIKE"
	OpIn      Op = "IN"
	OpNotIn   Op = "NOT IN"
	OpConcat  Op = "||"
)

// Operator precedence, lowest first.
const (
	precOr = iota + 1
	precAnd
	precNot
	precCompare
	precConcat
	precAdd
	precMul
	precNeg
	precAtom
)

func (op Op) precedence() int {
	switch op {
	case OpOr:
		return precOr
	case OpAnd:
		return precAnd
	case OpConcat:
		return precConcat
	case OpAdd, OpSub:
		return precAdd
	case OpMul, OpDiv:
		return precMul
	default:
		return precCompare
	}
}

func (op Op) logical() bool { return op == OpAnd || op == OpOr }

func (op Op) comparison() bool { return op.precedence() == precCompare }

// associative reports whether (a op b) op c equals a op (b op c).
func (op Op) associative() bool {
	switch op {
	case OpAnd, OpOr, OpAdd, OpMul, OpConcat:
		return true
	}
	return false
}

// ColumnExpr references a column, optionally qualified by its table.
type ColumnExpr struct {
	table string
	name  string
}

// C returns a reference to table.column. An empty table renders the
// column unqualified.
func C(table, column string) *ColumnExpr {
	return &ColumnExpr{table: table, name: column}
}

// Table returns the table qualifier.
func (c *ColumnExpr) Table() string { return c.table }

// Name returns the column name.
func (c *ColumnExpr) Name() string { return c.name }

func (c *ColumnExpr) ref() *ColumnExpr { return c }

// columnRef is implemented by column references, including typed columns.
type columnRef interface {
	ref() *ColumnExpr
}

// AsColumn returns the column referenced by e, looking through labels.
func AsColumn(e Expr) (*ColumnExpr, bool) {
	if l, ok := e.(*LabelExpr); ok {
		e = l.x
	}
	if c, ok := e.(columnRef); ok {
		return c.ref(), true
	}
	return nil, false
}

func (c *ColumnExpr) render(b *Builder) {
	if c.table != "" {
		b.Ident(c.table)
		b.WriteByte('.')
	}
	b.Ident(c.name)
}

// LiteralExpr is a bound parameter.
type LiteralExpr struct {
	value any
}

// Lit returns a literal node for v. Literals always render as placeholders.
func Lit(v any) *LiteralExpr {
	return &LiteralExpr{value: v}
}

// Value returns the bound value.
func (l *LiteralExpr) Value() any { return l.value }

func (l *LiteralExpr) render(b *Builder) { b.Arg(l.value) }

// rawExpr is fixed SQL text owned by the package, such as the LIKE wildcard.
type rawExpr string

func (r rawExpr) render(b *Builder) { b.WriteString(string(r)) }

const wildcard = rawExpr("'%'")

// boolExpr renders a constant condition.
type boolExpr bool

func (e boolExpr) render(b *Builder) {
	if e {
		b.WriteString("1 = 1")
	} else {
		b.WriteString("1 = 0")
	}
}

// BinaryExpr is an operator applied to two operands.
type BinaryExpr struct {
	op    Op
	left  Expr
	right Expr
}

// Binary returns left op right. Non-Expr operands become literals.
func Binary(op Op, left, right any) *BinaryExpr {
	return &BinaryExpr{op: op, left: toExpr(left), right: toExpr(right)}
}

// Op returns the operator.
func (e *BinaryExpr) Op() Op { return e.op }

// Operands returns the left and right operands.
func (e *BinaryExpr) Operands() (Expr, Expr) { return e.left, e.right }

func (e *BinaryExpr) render(b *Builder) {
	if e.op == OpConcat && b.info.concatFunc {
		b.WriteString("CONCAT(")
		for i, x := range flatten(e, OpConcat) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.expr(x)
		}
		b.WriteByte(')')
		return
	}
	b.operand(e.op, e.left, false)
	b.WriteByte(' ')
	b.WriteString(string(e.op))
	b.WriteByte(' ')
	b.operand(e.op, e.right, true)
}

// flatten collects the operands of a chain of the same associative operator.
func flatten(e Expr, op Op) []Expr {
	be, ok := e.(*BinaryExpr)
	if !ok || be.op != op {
		return []Expr{e}
	}
	return append(flatten(be.left, op), flatten(be.right, op)...)
}

// UnaryExpr is a prefix or postfix operator applied to one operand.
type UnaryExpr struct {
	op      string
	x       Expr
	postfix bool
}

func (e *UnaryExpr) precedence() int {
	switch {
	case e.postfix:
		return precCompare
	case e.op == "NOT":
		return precNot
	default:
		return precNeg
	}
}

func (e *UnaryExpr) render(b *Builder) {
	if e.postfix {
		b.nested(e.x, e.precedence())
		b.WriteByte(' ')
		b.WriteString(e.op)
		return
	}
	b.WriteString(e.op)
	if e.op == "NOT" {
		b.WriteByte(' ')
	}
	b.nested(e.x, e.precedence())
}

// FuncExpr is a function call.
type FuncExpr struct {
	name     string
	args     []Expr
	distinct bool
}

var funcNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Func returns a call of the named SQL function.
func Func(name string, args ...any) *FuncExpr {
	f := &FuncExpr{name: name}
	for _, a := range args {
		f.args = append(f.args, toExpr(a))
	}
	return f
}

// Name returns the function name.
func (f *FuncExpr) Name() string { return f.name }

// Aggregate reports whether the function is one of the standard aggregates.
func (f *FuncExpr) Aggregate() bool {
	switch f.name {
	case "COUNT", "SUM", "MIN", "MAX", "AVG":
		return true
	}
	return false
}

func (f *FuncExpr) render(b *Builder) {
	if !funcNameRe.MatchString(f.name) {
		b.AddError(fmt.Errorf("dialect/sql: invalid function name %q", f.name))
		return
	}
	b.WriteString(f.name)
	b.WriteByte('(')
	if f.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(f.args) == 0 && f.name == "COUNT" {
		b.WriteByte('*')
	}
	for i, a := range f.args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.expr(a)
	}
	b.WriteByte(')')
}

// CastExpr converts an expression to an SQL type.
type CastExpr struct {
	x   Expr
	typ string
}

var castTypeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?$`)

// Cast returns CAST(x AS typ), for example Cast(Mul(q, c), "NUMERIC(12, 2)").
func Cast(x Expr, typ string) *CastExpr {
	return &CastExpr{x: x, typ: typ}
}

// Type returns the target SQL type.
func (c *CastExpr) Type() string { return c.typ }

func (c *CastExpr) render(b *Builder) {
	if !castTypeRe.MatchString(c.typ) {
		b.AddError(fmt.Errorf("dialect/sql: invalid cast type %q", c.typ))
		return
	}
	b.WriteString("CAST(")
	b.expr(c.x)
	b.WriteString(" AS ")
	b.WriteString(c.typ)
	b.WriteByte(')')
}

// LabelExpr names an expression. In a select list it renders as
// "expr AS alias"; in other clauses it renders as a reference to the
// alias, when the dialect resolves labels there.
type LabelExpr struct {
	x     Expr
	alias string
}

// Label returns x labeled as alias.
func Label(x Expr, alias string) *LabelExpr {
	return &LabelExpr{x: x, alias: alias}
}

// Alias returns the label.
func (l *LabelExpr) Alias() string { return l.alias }

// Unwrap returns the labeled expression.
func (l *LabelExpr) Unwrap() Expr { return l.x }

func (l *LabelExpr) render(b *Builder) {
	if b.clause == ClauseSelect {
		b.expr(l.x)
		return
	}
	if !b.info.labels.has(b.clause) {
		b.AddError(unsupportedLabel(l.alias, b))
		return
	}
	b.Ident(l.alias)
}

// ListExpr is a parenthesized list, the right operand of IN.
type ListExpr struct {
	items []Expr
}

func (l *ListExpr) render(b *Builder) {
	b.WriteByte('(')
	for i, x := range l.items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.expr(x)
	}
	b.WriteByte(')')
}

// BetweenExpr is the inclusive range test x BETWEEN lo AND hi.
type BetweenExpr struct {
	x, lo, hi Expr
}

func (e *BetweenExpr) render(b *Builder) {
	b.nested(e.x, precCompare+1)
	b.WriteString(" BETWEEN ")
	b.nested(e.lo, precCompare+1)
	b.WriteString(" AND ")
	b.nested(e.hi, precCompare+1)
}

// OrderExpr is an ORDER BY term.
type OrderExpr struct {
	x    Expr
	desc bool
}

// Asc orders by x ascending.
func Asc(x Expr) *OrderExpr { return &OrderExpr{x: x} }

// Desc orders by x descending.
func Desc(x Expr) *OrderExpr { return &OrderExpr{x: x, desc: true} }

func (o *OrderExpr) render(b *Builder) {
	b.expr(o.x)
	if o.desc {
		b.WriteString(" DESC")
	} else {
		b.WriteString(" ASC")
	}
}

// toExpr wraps plain values as literals.
func toExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

// EQ returns x = v. A nil v renders IS NULL.
func EQ(x Expr, v any) Expr {
	if v == nil {
		return IsNull(x)
	}
	return Binary(OpEQ, x, v)
}

// NEQ returns x <> v. A nil v renders IS NOT NULL.
func NEQ(x Expr, v any) Expr {
	if v == nil {
		return NotNull(x)
	}
	return Binary(OpNEQ, x, v)
}

// LT returns x < v.
func LT(x Expr, v any) Expr { return Binary(OpLT, x, v) }

// LTE returns x <= v.
func LTE(x Expr, v any) Expr { return Binary(OpLTE, x, v) }

// GT returns x > v.
func GT(x Expr, v any) Expr { return Binary(OpGT, x, v) }

// GTE returns x >= v.
func GTE(x Expr, v any) Expr { return Binary(OpGTE, x, v) }

// And joins the predicates with AND. Nil predicates are skipped.
func And(preds ...Expr) Expr { return fold(OpAnd, preds) }

// Or joins the predicates with OR. Nil predicates are skipped.
func Or(preds ...Expr) Expr { return fold(OpOr, preds) }

func fold(op Op, preds []Expr) Expr {
	var acc Expr
	for _, p := range preds {
		switch {
		case p == nil:
		case acc == nil:
			acc = p
		default:
			acc = &BinaryExpr{op: op, left: acc, right: p}
		}
	}
	return acc
}

// Not negates x.
func Not(x Expr) Expr { return &UnaryExpr{op: "NOT", x: x} }

// IsNull returns x IS NULL.
func IsNull(x Expr) Expr { return &UnaryExpr{op: "IS NULL", x: x, postfix: true} }

// NotNull returns x IS NOT NULL.
func NotNull(x Expr) Expr { return &UnaryExpr{op: "IS NOT NULL", x: x, postfix: true} }

// Neg returns -x.
func Neg(x Expr) Expr { return &UnaryExpr{op: "-", x: x} }

// Like returns x LIKE pattern.
func Like(x Expr, pattern any) Expr { return Binary(OpLike, x, pattern) }

// Contains returns a LIKE test for a substring. The wildcards are joined
// to the parameter with the dialect's concatenation operator.
func Contains(x Expr, v any) Expr {
	return Binary(OpLike, x, Concat(wildcard, v, wildcard))
}

// HasPrefix returns a LIKE test for a prefix.
func HasPrefix(x Expr, v any) Expr {
	return Binary(OpLike, x, Concat(v, wildcard))
}

// HasSuffix returns a LIKE test for a suffix.
func HasSuffix(x Expr, v any) Expr {
	return Binary(OpLike, x, Concat(wildcard, v))
}

// In returns x IN (vs...). An empty list never matches.
func In(x Expr, vs ...any) Expr {
	if len(vs) == 0 {
		return boolExpr(false)
	}
	return &BinaryExpr{op: OpIn, left: x, right: list(vs)}
}

// NotIn returns x NOT IN (vs...). An empty list always matches.
func NotIn(x Expr, vs ...any) Expr {
	if len(vs) == 0 {
		return boolExpr(true)
	}
	return &BinaryExpr{op: OpNotIn, left: x, right: list(vs)}
}

func list(vs []any) *ListExpr {
	l := &ListExpr{items: make([]Expr, len(vs))}
	for i, v := range vs {
		l.items[i] = toExpr(v)
	}
	return l
}

// Between returns x BETWEEN lo AND hi, both bounds inclusive.
func Between(x Expr, lo, hi any) Expr {
	return &BetweenExpr{x: x, lo: toExpr(lo), hi: toExpr(hi)}
}

// Add returns x + y.
func Add(x Expr, y any) Expr { return Binary(OpAdd, x, y) }

// Sub returns x - y.
func Sub(x Expr, y any) Expr { return Binary(OpSub, x, y) }

// Mul returns x * y.
func Mul(x Expr, y any) Expr { return Binary(OpMul, x, y) }

// Div returns x / y.
func Div(x Expr, y any) Expr { return Binary(OpDiv, x, y) }

// Concat joins the operands with the dialect's string concatenation.
func Concat(parts ...any) Expr {
	var acc Expr
	for _, p := range parts {
		if acc == nil {
			acc = toExpr(p)
			continue
		}
		acc = &BinaryExpr{op: OpConcat, left: acc, right: toExpr(p)}
	}
	return acc
}

// Count returns COUNT(args...), or COUNT(*) without arguments.
func Count(args ...any) *FuncExpr { return Func("COUNT", args...) }

// CountDistinct returns COUNT(DISTINCT x).
func CountDistinct(x Expr) *FuncExpr {
	f := Func("COUNT", x)
	f.distinct = true
	return f
}

// Sum returns SUM(x).
func Sum(x Expr) *FuncExpr { return Func("SUM", x) }

// Min returns MIN(x).
func Min(x Expr) *FuncExpr { return Func("MIN", x) }

// Max returns MAX(x).
func Max(x Expr) *FuncExpr { return Func("MAX", x) }

// Avg returns AVG(x).
func Avg(x Expr) *FuncExpr { return Func("AVG", x) }

// Columns returns the column references of e in rendering order.
func Columns(e Expr) []*ColumnExpr {
	var cols []*ColumnExpr
	walk(e, func(x Expr) {
		if c, ok := x.(columnRef); ok {
			cols = append(cols, c.ref())
		}
	})
	return cols
}

// Aggregates reports whether e contains an aggregate function call.
func Aggregates(e Expr) bool {
	found := false
	walk(e, func(x Expr) {
		if f, ok := x.(*FuncExpr); ok && f.Aggregate() {
			found = true
		}
	})
	return found
}

func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case *BinaryExpr:
		walk(x.left, fn)
		walk(x.right, fn)
	case *UnaryExpr:
		walk(x.x, fn)
	case *FuncExpr:
		for _, a := range x.args {
			walk(a, fn)
		}
	case *CastExpr:
		walk(x.x, fn)
	case *LabelExpr:
		walk(x.x, fn)
	case *ListExpr:
		for _, a := range x.items {
			walk(a, fn)
		}
	case *BetweenExpr:
		walk(x.x, fn)
		walk(x.lo, fn)
		walk(x.hi, fn)
	case *OrderExpr:
		walk(x.x, fn)
	}
}
