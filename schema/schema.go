package schema

import (
	"errors"
	"fmt"

	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/privacy"
	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
	"github.com/syssam/vellum/schema/index"
)

type (
	// Field is implemented by field builders.
	Field interface{ Descriptor() *field.Descriptor }
	// Edge is implemented by edge builders.
	Edge interface{ Descriptor() *edge.Descriptor }
	// Index is implemented by index builders.
	Index interface{ Descriptor() *index.Descriptor }
	// Mixin is a reusable set of fields, edges and indexes.
	Mixin interface {
		Fields() []Field
		Edges() []Edge
		Indexes() []Index
	}
)

// ForeignKeyDef links a column to the column of another table.
type ForeignKeyDef struct {
	Name      string
	Table     string
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

// HybridDef is an attribute computed from other columns. The expression
// is used as-is in queries and evaluated in memory on entities.
type HybridDef struct {
	Name string
	Expr sql.Expr
}

// HybridMethodDef is a parameterized hybrid attribute.
type HybridMethodDef struct {
	Name string
	Func func(args ...any) sql.Expr
}

// ProxyDef exposes one attribute of the targets of a relationship.
type ProxyDef struct {
	Name         string
	Relationship string
	Attribute    string
}

// TableSchema holds the declaration of a table.
type TableSchema struct {
	Name        string
	Label       string
	Comment     string
	Columns     []*field.Descriptor
	ForeignKeys []*ForeignKeyDef
	Relations   []*edge.Descriptor
	Indices     []*index.Descriptor
	Hybrids     []*HybridDef
	Methods     []*HybridMethodDef
	Proxies     []*ProxyDef
	Policies    []privacy.Policy

	primaryKey []string
	err        error
}

// Table declares a table with the given columns.
//
//	schema.Table("cookies",
//		field.Int("cookie_id").PrimaryKey(),
//		field.String("cookie_name").MaxLen(50).Index(),
//		field.Int("quantity"),
//		field.Decimal("unit_cost").Precision(12, 2),
//	)
func Table(name string, fields ...Field) *TableSchema {
	t := &TableSchema{Name: name, Label: Label(name)}
	return t.Fields(fields...)
}

// Fields appends columns. A column with a reference also declares its
// foreign key.
func (t *TableSchema) Fields(fields ...Field) *TableSchema {
	for _, f := range fields {
		d := f.Descriptor()
		if d.Err != nil {
			t.err = errors.Join(t.err, fmt.Errorf("table %q: %w", t.Name, d.Err))
		}
		if _, ok := t.Column(d.Name); ok {
			t.err = errors.Join(t.err, fmt.Errorf("table %q: duplicate column %q", t.Name, d.Name))
			continue
		}
		t.Columns = append(t.Columns, d)
		if ref := d.Reference; ref != nil {
			name := ref.Name
			if name == "" {
				name = fmt.Sprintf("%s_%s_fkey", t.Name, d.Name)
			}
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKeyDef{
				Name:      name,
				Table:     t.Name,
				Column:    d.Name,
				RefTable:  ref.Table,
				RefColumn: ref.Column,
				OnDelete:  ref.OnDelete,
			})
		}
	}
	return t
}

// Edges appends relationships.
func (t *TableSchema) Edges(edges ...Edge) *TableSchema {
	for _, e := range edges {
		d := e.Descriptor()
		if t.Relationship(d.Name) != nil {
			t.err = errors.Join(t.err, fmt.Errorf("table %q: duplicate relationship %q", t.Name, d.Name))
			continue
		}
		t.Relations = append(t.Relations, d)
	}
	return t
}

// Indexes appends indexes.
func (t *TableSchema) Indexes(indexes ...Index) *TableSchema {
	for _, i := range indexes {
		t.Indices = append(t.Indices, i.Descriptor())
	}
	return t
}

// Mixin appends the fields, edges and indexes of the mixins.
func (t *TableSchema) Mixin(mixins ...Mixin) *TableSchema {
	for _, m := range mixins {
		t.Fields(m.Fields()...)
		t.Edges(m.Edges()...)
		t.Indexes(m.Indexes()...)
	}
	return t
}

// Hybrid declares a computed attribute.
//
//	cookies.Hybrid("inventory_value", sql.Mul(cookies.C("unit_cost"), cookies.C("quantity")))
func (t *TableSchema) Hybrid(name string, expr sql.Expr) *TableSchema {
	t.Hybrids = append(t.Hybrids, &HybridDef{Name: name, Expr: expr})
	return t
}

// HybridMethod declares a computed attribute taking arguments.
func (t *TableSchema) HybridMethod(name string, fn func(args ...any) sql.Expr) *TableSchema {
	t.Methods = append(t.Methods, &HybridMethodDef{Name: name, Func: fn})
	return t
}

// Proxy declares an association proxy exposing attribute of the targets
// of relationship.
func (t *TableSchema) Proxy(name, relationship, attribute string) *TableSchema {
	t.Proxies = append(t.Proxies, &ProxyDef{Name: name, Relationship: relationship, Attribute: attribute})
	return t
}

// Policy appends privacy policies guarding the queries and writes of
// the table.
func (t *TableSchema) Policy(policies ...privacy.Policy) *TableSchema {
	t.Policies = append(t.Policies, policies...)
	return t
}

// PrimaryKey sets the primary key columns, overriding the fields marked
// with PrimaryKey.
func (t *TableSchema) PrimaryKey(columns ...string) *TableSchema {
	t.primaryKey = columns
	return t
}

// SetLabel sets the entity name used in messages.
func (t *TableSchema) SetLabel(label string) *TableSchema {
	t.Label = label
	return t
}

// SetComment sets the table comment.
func (t *TableSchema) SetComment(c string) *TableSchema {
	t.Comment = c
	return t
}

// Err returns the declaration errors of the table.
func (t *TableSchema) Err() error { return t.err }

// PrimaryKeyColumns returns the names of the primary key columns.
func (t *TableSchema) PrimaryKeyColumns() []string {
	if len(t.primaryKey) > 0 {
		return t.primaryKey
	}
	var pk []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// Key returns the single primary key column of an entity table.
func (t *TableSchema) Key() (*field.Descriptor, error) {
	pk := t.PrimaryKeyColumns()
	if len(pk) != 1 {
		return nil, fmt.Errorf("vellum: table %q has %d primary key columns, entities need exactly one", t.Name, len(pk))
	}
	c, _ := t.Column(pk[0])
	return c, nil
}

// Column returns the named column.
func (t *TableSchema) Column(name string) (*field.Descriptor, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Relationship returns the named relationship declaration, or nil.
func (t *TableSchema) Relationship(name string) *edge.Descriptor {
	for _, e := range t.Relations {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// FindHybrid returns the named hybrid attribute, or nil.
func (t *TableSchema) FindHybrid(name string) *HybridDef {
	for _, h := range t.Hybrids {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// FindMethod returns the named hybrid method, or nil.
func (t *TableSchema) FindMethod(name string) *HybridMethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindProxy returns the named association proxy, or nil.
func (t *TableSchema) FindProxy(name string) *ProxyDef {
	for _, p := range t.Proxies {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// C returns a reference to a column of the table.
func (t *TableSchema) C(column string) *sql.ColumnExpr {
	return sql.C(t.Name, column)
}
