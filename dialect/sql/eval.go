package sql

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/syssam/vellum/dialect"
)

// ErrNotEvaluable is returned by Eval for expressions that only the
// backend can compute, such as aggregates.
var ErrNotEvaluable = errors.New("dialect/sql: expression cannot be evaluated in memory")

// Resolver supplies column values to Eval.
type Resolver interface {
	Resolve(table, column string) (any, bool)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(table, column string) (any, bool)

// Resolve calls f(table, column).
func (f ResolverFunc) Resolve(table, column string) (any, bool) { return f(table, column) }

type dialectResolver struct {
	Resolver
	name string
}

// WithDialect returns a resolver that makes Eval follow the string
// matching of the named dialect: LIKE is not evaluable under SQLite and
// MySQL, where it ignores case, and neither are string comparisons under
// MySQL, whose default collations ignore case and trailing spaces.
func WithDialect(r Resolver, name string) Resolver {
	return dialectResolver{Resolver: r, name: name}
}

func dialectOf(r Resolver) string {
	if d, ok := r.(dialectResolver); ok {
		return d.name
	}
	return ""
}

// collate compares two non-NULL values the way the dialect of r does.
func collate(r Resolver, l, rv any) (int, error) {
	if dialectOf(r) == dialect.MySQL {
		_, ls := l.(string)
		_, rs := rv.(string)
		if ls || rs {
			return 0, fmt.Errorf("%w: string comparison under %s collation", ErrNotEvaluable, dialect.MySQL)
		}
	}
	return compare(l, rv)
}

// Eval computes e in memory, following SQL NULL semantics: comparisons
// with NULL yield nil, and AND/OR use three-valued logic. LIKE matching
// is case-sensitive unless r comes from WithDialect.
func Eval(e Expr, r Resolver) (any, error) {
	switch x := e.(type) {
	case nil:
		return nil, errors.New("dialect/sql: eval: nil expression")
	case columnRef:
		c := x.ref()
		v, ok := r.Resolve(c.table, c.name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %s.%s", ErrNotEvaluable, c.table, c.name)
		}
		return normalizeValue(v), nil
	case *LiteralExpr:
		return normalizeValue(x.value), nil
	case boolExpr:
		return bool(x), nil
	case rawExpr:
		if x == wildcard {
			return "%", nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, string(x))
	case *LabelExpr:
		return Eval(x.x, r)
	case *OrderExpr:
		return Eval(x.x, r)
	case *BinaryExpr:
		return evalBinary(x, r)
	case *UnaryExpr:
		return evalUnary(x, r)
	case *BetweenExpr:
		v, err := Eval(x.x, r)
		if err != nil {
			return nil, err
		}
		lo, err := Eval(x.lo, r)
		if err != nil {
			return nil, err
		}
		hi, err := Eval(x.hi, r)
		if err != nil {
			return nil, err
		}
		if v == nil || lo == nil || hi == nil {
			return nil, nil
		}
		c1, err := collate(r, lo, v)
		if err != nil {
			return nil, err
		}
		c2, err := collate(r, v, hi)
		if err != nil {
			return nil, err
		}
		return c1 <= 0 && c2 <= 0, nil
	case *CastExpr:
		v, err := Eval(x.x, r)
		if err != nil || v == nil {
			return v, err
		}
		return evalCast(v, x.typ)
	case *FuncExpr:
		return evalFunc(x, r)
	}
	return nil, fmt.Errorf("%w: %T", ErrNotEvaluable, e)
}

// EvalBool evaluates a predicate. NULL counts as false.
func EvalBool(e Expr, r Resolver) (bool, error) {
	v, err := Eval(e, r)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if v != nil && !ok {
		return false, fmt.Errorf("dialect/sql: eval: predicate yielded %T", v)
	}
	return b, nil
}

func evalBinary(x *BinaryExpr, r Resolver) (any, error) {
	if x.op.logical() {
		return evalLogical(x, r)
	}
	l, err := Eval(x.left, r)
	if err != nil {
		return nil, err
	}
	if x.op == OpIn || x.op == OpNotIn {
		return evalIn(x, l, r)
	}
	rv, err := Eval(x.right, r)
	if err != nil {
		return nil, err
	}
	if l == nil || rv == nil {
		return nil, nil
	}
	switch x.op {
	case OpEQ, OpNEQ, OpLT, OpLTE, OpGT, OpGTE:
		c, err := collate(r, l, rv)
		if err != nil {
			return nil, err
		}
		switch x.op {
		case OpEQ:
			return c == 0, nil
		case OpNEQ:
			return c != 0, nil
		case OpLT:
			return c < 0, nil
		case OpLTE:
			return c <= 0, nil
		case OpGT:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpLike, OpNotLike:
		s, ok1 := l.(string)
		p, ok2 := rv.(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: LIKE on %T and %T", ErrNotEvaluable, l, rv)
		}
		if d := dialectOf(r); d == dialect.SQLite || d == dialect.MySQL {
			return nil, fmt.Errorf("%w: case-insensitive LIKE of %s", ErrNotEvaluable, d)
		}
		m, err := like(s, p)
		if err != nil {
			return nil, err
		}
		return m == (x.op == OpLike), nil
	case OpConcat:
		return fmt.Sprint(l) + fmt.Sprint(rv), nil
	case OpAdd, OpSub, OpMul, OpDiv:
		return arith(x.op, l, rv)
	}
	return nil, fmt.Errorf("%w: operator %s", ErrNotEvaluable, x.op)
}

func evalLogical(x *BinaryExpr, r Resolver) (any, error) {
	l, err := Eval(x.left, r)
	if err != nil {
		return nil, err
	}
	rv, err := Eval(x.right, r)
	if err != nil {
		return nil, err
	}
	lb, lok := l.(bool)
	rb, rok := rv.(bool)
	if (l != nil && !lok) || (rv != nil && !rok) {
		return nil, fmt.Errorf("dialect/sql: eval: %s of %T and %T", x.op, l, rv)
	}
	if x.op == OpAnd {
		switch {
		case (lok && !lb) || (rok && !rb):
			return false, nil
		case lok && rok:
			return true, nil
		}
		return nil, nil
	}
	switch {
	case (lok && lb) || (rok && rb):
		return true, nil
	case lok && rok:
		return false, nil
	}
	return nil, nil
}

func evalIn(x *BinaryExpr, l any, r Resolver) (any, error) {
	items, ok := x.right.(*ListExpr)
	if !ok {
		return nil, fmt.Errorf("%w: IN operand %T", ErrNotEvaluable, x.right)
	}
	if l == nil {
		return nil, nil
	}
	found, sawNull := false, false
	for _, it := range items.items {
		v, err := Eval(it, r)
		if err != nil {
			return nil, err
		}
		if v == nil {
			sawNull = true
			continue
		}
		c, err := collate(r, l, v)
		if err != nil {
			return nil, err
		}
		if c == 0 {
			found = true
			break
		}
	}
	switch {
	case found:
		return x.op == OpIn, nil
	case sawNull:
		return nil, nil
	}
	return x.op == OpNotIn, nil
}

func evalUnary(x *UnaryExpr, r Resolver) (any, error) {
	v, err := Eval(x.x, r)
	if err != nil {
		return nil, err
	}
	switch x.op {
	case "IS NULL":
		return v == nil, nil
	case "IS NOT NULL":
		return v != nil, nil
	case "NOT":
		if v == nil {
			return nil, nil
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("dialect/sql: eval: NOT of %T", v)
		}
		return !b, nil
	case "-":
		if v == nil {
			return nil, nil
		}
		return arith(OpSub, int64(0), v)
	}
	return nil, fmt.Errorf("%w: operator %s", ErrNotEvaluable, x.op)
}

func evalCast(v any, typ string) (any, error) {
	t := strings.ToUpper(typ)
	switch {
	case strings.HasPrefix(t, "NUMERIC"), strings.HasPrefix(t, "DECIMAL"):
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		if _, scale, ok := strings.Cut(t, ","); ok {
			var s int32
			if _, err := fmt.Sscanf(strings.TrimSpace(scale), "%d", &s); err == nil {
				d = d.Round(s)
			}
		}
		return d, nil
	case strings.HasPrefix(t, "INT"), strings.HasPrefix(t, "BIGINT"), strings.HasPrefix(t, "SMALLINT"):
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return d.Truncate(0).IntPart(), nil
	case strings.HasPrefix(t, "REAL"), strings.HasPrefix(t, "FLOAT"), strings.HasPrefix(t, "DOUBLE"):
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		f, _ := d.Float64()
		return f, nil
	case strings.HasPrefix(t, "TEXT"), strings.HasPrefix(t, "VARCHAR"), strings.HasPrefix(t, "CHAR"):
		if d, ok := v.(decimal.Decimal); ok {
			return d.String(), nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("%w: CAST AS %s", ErrNotEvaluable, typ)
}

func evalFunc(f *FuncExpr, r Resolver) (any, error) {
	if f.Aggregate() {
		return nil, fmt.Errorf("%w: aggregate %s", ErrNotEvaluable, f.name)
	}
	args := make([]any, len(f.args))
	for i, a := range f.args {
		v, err := Eval(a, r)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	name := strings.ToUpper(f.name)
	if name == "COALESCE" {
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: %s with %d arguments", ErrNotEvaluable, f.name, len(args))
	}
	if args[0] == nil {
		return nil, nil
	}
	switch name {
	case "LOWER", "UPPER", "LENGTH":
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s of %T", ErrNotEvaluable, f.name, args[0])
		}
		switch name {
		case "LOWER":
			return strings.ToLower(s), nil
		case "UPPER":
			return strings.ToUpper(s), nil
		}
		return int64(len([]rune(s))), nil
	case "ABS":
		c, err := compare(args[0], int64(0))
		if err != nil {
			return nil, err
		}
		if c < 0 {
			return arith(OpSub, int64(0), args[0])
		}
		return args[0], nil
	}
	return nil, fmt.Errorf("%w: function %s", ErrNotEvaluable, f.name)
}

// normalizeValue maps Go values onto the few kinds Eval computes with.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

type numKind uint8

const (
	notNumeric numKind = iota
	intKind
	floatKind
	decimalKind
)

func kindOf(v any) numKind {
	switch v.(type) {
	case int64:
		return intKind
	case float64:
		return floatKind
	case decimal.Decimal:
		return decimalKind
	}
	return notNumeric
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(x)
	case bool:
		if x {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("%w: numeric value of %T", ErrNotEvaluable, v)
}

func arith(op Op, l, r any) (any, error) {
	kl, kr := kindOf(l), kindOf(r)
	if kl == notNumeric || kr == notNumeric {
		return nil, fmt.Errorf("%w: %T %s %T", ErrNotEvaluable, l, op, r)
	}
	switch max(kl, kr) {
	case intKind:
		a, b := l.(int64), r.(int64)
		switch op {
		case OpAdd:
			return a + b, nil
		case OpSub:
			return a - b, nil
		case OpMul:
			return a * b, nil
		default:
			if b == 0 {
				return nil, nil
			}
			return a / b, nil
		}
	case floatKind:
		a, b := toFloat(l), toFloat(r)
		switch op {
		case OpAdd:
			return a + b, nil
		case OpSub:
			return a - b, nil
		case OpMul:
			return a * b, nil
		default:
			if b == 0 {
				return nil, nil
			}
			return a / b, nil
		}
	}
	a, _ := toDecimal(l)
	b, _ := toDecimal(r)
	switch op {
	case OpAdd:
		return a.Add(b), nil
	case OpSub:
		return a.Sub(b), nil
	case OpMul:
		return a.Mul(b), nil
	default:
		if b.IsZero() {
			return nil, nil
		}
		return a.Div(b), nil
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// compare orders two non-NULL values.
func compare(l, r any) (int, error) {
	if kl, kr := kindOf(l), kindOf(r); kl != notNumeric && kr != notNumeric {
		if kl == intKind && kr == intKind {
			a, b := l.(int64), r.(int64)
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			}
			return 0, nil
		}
		a, _ := toDecimal(l)
		b, _ := toDecimal(r)
		return a.Cmp(b), nil
	}
	switch a := l.(type) {
	case string:
		if b, ok := r.(string); ok {
			return strings.Compare(a, b), nil
		}
		if b, ok := r.(uuid.UUID); ok {
			return strings.Compare(a, b.String()), nil
		}
	case bool:
		if b, ok := r.(bool); ok {
			switch {
			case a == b:
				return 0, nil
			case !a:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if b, ok := r.(time.Time); ok {
			return a.Compare(b), nil
		}
	case uuid.UUID:
		switch b := r.(type) {
		case uuid.UUID:
			return bytes.Compare(a[:], b[:]), nil
		case string:
			return strings.Compare(a.String(), b), nil
		}
	case []byte:
		if b, ok := r.([]byte); ok {
			return bytes.Compare(a, b), nil
		}
	}
	return 0, fmt.Errorf("%w: comparing %T with %T", ErrNotEvaluable, l, r)
}

// like matches s against an SQL LIKE pattern.
func like(s, pattern string) (bool, error) {
	var sb strings.Builder
	sb.WriteString(`(?s)^`)
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteByte('$')
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}
