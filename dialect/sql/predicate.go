package sql

import "time"

// Field is a typed column reference. It provides predicate methods that
// accept values of the column's Go type.
//
// Usage:
//
//	var Quantity = sql.NewIntColumn("cookies", "quantity")
//	q.Where(Quantity.GT(10), Quantity.LT(50))
type Field[T any] struct {
	*ColumnExpr
}

// EQ returns a predicate that checks if the column equals v.
func (f Field[T]) EQ(v T) Expr { return EQ(f.ColumnExpr, v) }

// NEQ returns a predicate that checks if the column does not equal v.
func (f Field[T]) NEQ(v T) Expr { return NEQ(f.ColumnExpr, v) }

// GT returns a predicate that checks if the column is greater than v.
func (f Field[T]) GT(v T) Expr { return GT(f.ColumnExpr, v) }

// GTE returns a predicate that checks if the column is greater than or equal to v.
func (f Field[T]) GTE(v T) Expr { return GTE(f.ColumnExpr, v) }

// LT returns a predicate that checks if the column is less than v.
func (f Field[T]) LT(v T) Expr { return LT(f.ColumnExpr, v) }

// LTE returns a predicate that checks if the column is less than or equal to v.
func (f Field[T]) LTE(v T) Expr { return LTE(f.ColumnExpr, v) }

// In returns a predicate that checks if the column value is in vs.
func (f Field[T]) In(vs ...T) Expr { return In(f.ColumnExpr, anys(vs)...) }

// NotIn returns a predicate that checks if the column value is not in vs.
func (f Field[T]) NotIn(vs ...T) Expr { return NotIn(f.ColumnExpr, anys(vs)...) }

// Between returns a predicate that checks if lo <= column <= hi.
func (f Field[T]) Between(lo, hi T) Expr { return Between(f.ColumnExpr, lo, hi) }

// IsNull returns a predicate that checks if the column is NULL.
func (f Field[T]) IsNull() Expr { return IsNull(f.ColumnExpr) }

// NotNull returns a predicate that checks if the column is not NULL.
func (f Field[T]) NotNull() Expr { return NotNull(f.ColumnExpr) }

// Asc orders by the column ascending.
func (f Field[T]) Asc() Expr { return Asc(f.ColumnExpr) }

// Desc orders by the column descending.
func (f Field[T]) Desc() Expr { return Desc(f.ColumnExpr) }

func anys[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// StringColumn is a string column.
type StringColumn struct{ Field[string] }

// NewStringColumn returns a typed reference to table.column.
func NewStringColumn(table, column string) StringColumn {
	return StringColumn{Field[string]{C(table, column)}}
}

// Contains returns a predicate that checks if the column contains v.
func (c StringColumn) Contains(v string) Expr { return Contains(c.ColumnExpr, v) }

// HasPrefix returns a predicate that checks if the column starts with v.
func (c StringColumn) HasPrefix(v string) Expr { return HasPrefix(c.ColumnExpr, v) }

// HasSuffix returns a predicate that checks if the column ends with v.
func (c StringColumn) HasSuffix(v string) Expr { return HasSuffix(c.ColumnExpr, v) }

// Like returns a predicate that matches the column against a LIKE pattern.
func (c StringColumn) Like(pattern string) Expr { return Like(c.ColumnExpr, pattern) }

// IntColumn is an integer column.
type IntColumn struct{ Field[int64] }

// NewIntColumn returns a typed reference to table.column.
func NewIntColumn(table, column string) IntColumn {
	return IntColumn{Field[int64]{C(table, column)}}
}

// Add returns column + v.
func (c IntColumn) Add(v int64) Expr { return Add(c.ColumnExpr, v) }

// Sub returns column - v.
func (c IntColumn) Sub(v int64) Expr { return Sub(c.ColumnExpr, v) }

// FloatColumn is a floating point column.
type FloatColumn struct{ Field[float64] }

// NewFloatColumn returns a typed reference to table.column.
func NewFloatColumn(table, column string) FloatColumn {
	return FloatColumn{Field[float64]{C(table, column)}}
}

// Mul returns column * v.
func (c FloatColumn) Mul(v float64) Expr { return Mul(c.ColumnExpr, v) }

// TimeColumn is a timestamp column.
type TimeColumn struct{ Field[time.Time] }

// NewTimeColumn returns a typed reference to table.column.
func NewTimeColumn(table, column string) TimeColumn {
	return TimeColumn{Field[time.Time]{C(table, column)}}
}

// Before returns a predicate that checks if the column is earlier than t.
func (c TimeColumn) Before(t time.Time) Expr { return LT(c.ColumnExpr, t) }

// After returns a predicate that checks if the column is later than t.
func (c TimeColumn) After(t time.Time) Expr { return GT(c.ColumnExpr, t) }
