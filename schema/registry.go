package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/schema/edge"
)

// RelationshipDef is a relationship with its join path resolved.
type RelationshipDef struct {
	Name   string
	Kind   edge.Kind
	Table  string
	Target string
	// OwnerColumn and TargetColumn are compared for equality in the join.
	// For M2M they are the columns referenced by the association table.
	OwnerColumn  string
	TargetColumn string
	// FKOnTarget reports whether TargetColumn is the foreign key column.
	// It is false when the owner holds the foreign key and for M2M.
	FKOnTarget bool
	// Through is the association table of M2M relationships, with the
	// columns referencing the owner and the target.
	Through       string
	ThroughOwner  string
	ThroughTarget string
	OrderBy       string
	Backref       string
}

// Condition returns the join condition between the owner and the target
// table. For M2M it is the pair of conditions joining the association
// table to the owner and to the target.
func (r *RelationshipDef) Condition() (owner, target sql.Expr) {
	if r.Kind == edge.ManyToMany {
		return sql.EQ(sql.C(r.Through, r.ThroughOwner), sql.C(r.Table, r.OwnerColumn)),
			sql.EQ(sql.C(r.Through, r.ThroughTarget), sql.C(r.Target, r.TargetColumn))
	}
	return sql.EQ(sql.C(r.Target, r.TargetColumn), sql.C(r.Table, r.OwnerColumn)), nil
}

// Registry holds the table declarations of an application. It is safe for
// concurrent use once populated.
type Registry struct {
	mu       sync.RWMutex
	tables   map[string]*TableSchema
	order    []string
	resolved map[string]map[string]*RelationshipDef
	backrefs bool
}

// NewRegistry returns a registry holding the given tables.
func NewRegistry(tables ...*TableSchema) (*Registry, error) {
	r := &Registry{tables: make(map[string]*TableSchema)}
	if err := r.Register(tables...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds tables to the registry. It fails with a
// *vellum.DuplicateTableError if a name is already taken.
func (r *Registry) Register(tables ...*TableSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tables {
		if t == nil || t.Name == "" {
			return errors.New("vellum: register: table without a name")
		}
		if err := t.Err(); err != nil {
			return err
		}
		if _, ok := r.tables[t.Name]; ok {
			return &vellum.DuplicateTableError{Table: t.Name}
		}
		r.tables[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	r.resolved, r.backrefs = nil, false
	return nil
}

// Table returns the named table.
func (r *Registry) Table(name string) (*TableSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table(name)
}

func (r *Registry) table(name string) (*TableSchema, error) {
	t, ok := r.tables[name]
	if !ok {
		return nil, &vellum.UnknownTableError{Table: name}
	}
	return t, nil
}

// Tables returns the tables in registration order.
func (r *Registry) Tables() []*TableSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]*TableSchema, len(r.order))
	for i, n := range r.order {
		tables[i] = r.tables[n]
	}
	return tables
}

// ResolveForeignKey returns the foreign key declared on table.column. It
// fails when the column is not a foreign key or its target does not exist.
func (r *Registry) ResolveForeignKey(table, column string) (*ForeignKeyDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveForeignKey(table, column)
}

func (r *Registry) resolveForeignKey(table, column string) (*ForeignKeyDef, error) {
	t, err := r.table(table)
	if err != nil {
		return nil, err
	}
	for _, fk := range t.ForeignKeys {
		if fk.Column != column {
			continue
		}
		ref, err := r.table(fk.RefTable)
		if err != nil {
			return nil, fmt.Errorf("foreign key %s.%s: %w", table, column, err)
		}
		if _, ok := ref.Column(fk.RefColumn); !ok {
			return nil, fmt.Errorf("foreign key %s.%s: %w", table, column, &vellum.UnknownColumnError{Table: fk.RefTable, Column: fk.RefColumn})
		}
		return fk, nil
	}
	if _, ok := t.Column(column); !ok {
		return nil, &vellum.UnknownColumnError{Table: table, Column: column}
	}
	return nil, fmt.Errorf("vellum: column %s.%s is not a foreign key", table, column)
}

// ForeignKeys returns the foreign keys declared on from that reference to.
func (r *Registry) ForeignKeys(from, to string) []*ForeignKeyDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.foreignKeys(from, to)
}

func (r *Registry) foreignKeys(from, to string) []*ForeignKeyDef {
	t, ok := r.tables[from]
	if !ok {
		return nil
	}
	var fks []*ForeignKeyDef
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == to {
			fks = append(fks, fk)
		}
	}
	return fks
}

// JoinCondition derives the condition joining two tables from the one
// foreign key linking them, in either direction.
func (r *Registry) JoinCondition(from, to string) (sql.Expr, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range []string{from, to} {
		if _, err := r.table(n); err != nil {
			return nil, err
		}
	}
	fks := r.foreignKeys(from, to)
	if from != to {
		fks = append(fks, r.foreignKeys(to, from)...)
	}
	if len(fks) != 1 {
		return nil, vellum.NewAmbiguousJoinError(from, to, len(fks))
	}
	fk := fks[0]
	return sql.EQ(sql.C(fk.Table, fk.Column), sql.C(fk.RefTable, fk.RefColumn)), nil
}

// ResolveRelationship returns the resolved relationship name of table. It
// fails with *vellum.UnknownRelationshipError when the table declares no
// such relationship and with *vellum.AmbiguousJoinError when the join
// cannot be derived from exactly one foreign key or an explicit override.
func (r *Registry) ResolveRelationship(table, name string) (*RelationshipDef, error) {
	r.mu.RLock()
	if rel, ok := r.resolved[table][name]; ok {
		r.mu.RUnlock()
		return rel, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addBackrefs(); err != nil {
		return nil, err
	}
	return r.resolveRelationship(table, name)
}

func (r *Registry) resolveRelationship(table, name string) (*RelationshipDef, error) {
	if rel, ok := r.resolved[table][name]; ok {
		return rel, nil
	}
	t, err := r.table(table)
	if err != nil {
		return nil, err
	}
	e := t.Relationship(name)
	if e == nil {
		return nil, &vellum.UnknownRelationshipError{Table: table, Name: name}
	}
	rel, err := r.derive(t, e)
	if err != nil {
		return nil, fmt.Errorf("relationship %s.%s: %w", table, name, err)
	}
	if r.resolved == nil {
		r.resolved = make(map[string]map[string]*RelationshipDef)
	}
	if r.resolved[table] == nil {
		r.resolved[table] = make(map[string]*RelationshipDef)
	}
	r.resolved[table][name] = rel
	return rel, nil
}

// Relationships returns the resolved relationships of table in
// declaration order.
func (r *Registry) Relationships(table string) ([]*RelationshipDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addBackrefs(); err != nil {
		return nil, err
	}
	t, err := r.table(table)
	if err != nil {
		return nil, err
	}
	rels := make([]*RelationshipDef, 0, len(t.Relations))
	for _, e := range t.Relations {
		rel, err := r.resolveRelationship(table, e.Name)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// Resolve resolves every foreign key, relationship, hybrid attribute and
// association proxy, so that configuration errors surface at startup.
// All errors found are returned joined.
func (r *Registry) Resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addBackrefs(); err != nil {
		return err
	}
	var errs []error
	for _, n := range r.order {
		t := r.tables[n]
		for _, fk := range t.ForeignKeys {
			if _, err := r.resolveForeignKey(t.Name, fk.Column); err != nil {
				errs = append(errs, err)
			}
		}
		for _, e := range t.Relations {
			if _, err := r.resolveRelationship(t.Name, e.Name); err != nil {
				errs = append(errs, err)
			}
		}
		for _, h := range t.Hybrids {
			for _, c := range sql.Columns(h.Expr) {
				if c.Table() != "" && c.Table() != t.Name {
					errs = append(errs, fmt.Errorf("hybrid %s.%s: column %s.%s belongs to another table", t.Name, h.Name, c.Table(), c.Name()))
				} else if _, ok := t.Column(c.Name()); !ok {
					errs = append(errs, fmt.Errorf("hybrid %s.%s: %w", t.Name, h.Name, &vellum.UnknownColumnError{Table: t.Name, Column: c.Name()}))
				}
			}
		}
		for _, p := range t.Proxies {
			rel, err := r.resolveRelationship(t.Name, p.Relationship)
			if err != nil {
				errs = append(errs, fmt.Errorf("proxy %s.%s: %w", t.Name, p.Name, err))
				continue
			}
			if target := r.tables[rel.Target]; target != nil {
				if _, ok := target.Column(p.Attribute); !ok {
					errs = append(errs, fmt.Errorf("proxy %s.%s: %w", t.Name, p.Name, &vellum.UnknownColumnError{Table: rel.Target, Column: p.Attribute}))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// addBackrefs declares the inverse of every relationship with a Backref
// on its target table, unless the target declares it already.
func (r *Registry) addBackrefs() error {
	if r.backrefs {
		return nil
	}
	for _, n := range r.order {
		t := r.tables[n]
		for _, e := range t.Relations {
			if e.Backref == "" {
				continue
			}
			target, err := r.table(e.Target)
			if err != nil {
				return fmt.Errorf("relationship %s.%s: %w", t.Name, e.Name, err)
			}
			if target.Relationship(e.Backref) != nil {
				continue
			}
			inv := &edge.Descriptor{
				Name:    e.Backref,
				Kind:    e.Kind.Inverse(),
				Target:  t.Name,
				Through: e.Through,
				Backref: e.Name,
			}
			if len(e.Columns) == 2 {
				inv.Columns = []string{e.Columns[1], e.Columns[0]}
			}
			if len(e.ThroughColumns) == 2 {
				inv.ThroughColumns = []string{e.ThroughColumns[1], e.ThroughColumns[0]}
			}
			target.Relations = append(target.Relations, inv)
		}
	}
	r.backrefs = true
	return nil
}

// derive computes the join path of e declared on owner.
func (r *Registry) derive(owner *TableSchema, e *edge.Descriptor) (*RelationshipDef, error) {
	target, err := r.table(e.Target)
	if err != nil {
		return nil, err
	}
	rel := &RelationshipDef{
		Name:    e.Name,
		Kind:    e.Kind,
		Table:   owner.Name,
		Target:  target.Name,
		OrderBy: e.OrderBy,
		Backref: e.Backref,
	}
	if e.OrderBy != "" {
		if _, ok := target.Column(e.OrderBy); !ok {
			return nil, &vellum.UnknownColumnError{Table: target.Name, Column: e.OrderBy}
		}
	}
	if e.Kind == edge.ManyToMany {
		return rel, r.deriveThrough(rel, owner, target, e)
	}
	if len(e.Columns) == 2 {
		rel.OwnerColumn, rel.TargetColumn = e.Columns[0], e.Columns[1]
		if _, ok := owner.Column(rel.OwnerColumn); !ok {
			return nil, &vellum.UnknownColumnError{Table: owner.Name, Column: rel.OwnerColumn}
		}
		if _, ok := target.Column(rel.TargetColumn); !ok {
			return nil, &vellum.UnknownColumnError{Table: target.Name, Column: rel.TargetColumn}
		}
		switch e.Kind {
		case edge.OneToMany:
			rel.FKOnTarget = true
		case edge.OneToOne:
			rel.FKOnTarget = isForeignKey(target, rel.TargetColumn, owner.Name)
		}
		return rel, nil
	}
	var ownerSide, targetSide []*ForeignKeyDef
	switch e.Kind {
	case edge.ManyToOne:
		ownerSide = r.foreignKeys(owner.Name, target.Name)
	case edge.OneToMany:
		targetSide = r.foreignKeys(target.Name, owner.Name)
	case edge.OneToOne:
		ownerSide = r.foreignKeys(owner.Name, target.Name)
		if owner.Name != target.Name {
			targetSide = r.foreignKeys(target.Name, owner.Name)
		}
	default:
		return nil, fmt.Errorf("vellum: invalid relationship kind %s", e.Kind)
	}
	if n := len(ownerSide) + len(targetSide); n != 1 {
		err := vellum.NewAmbiguousJoinError(owner.Name, target.Name, n)
		err.Via = e.Name
		return nil, err
	}
	if len(ownerSide) == 1 {
		fk := ownerSide[0]
		rel.OwnerColumn, rel.TargetColumn = fk.Column, fk.RefColumn
	} else {
		fk := targetSide[0]
		rel.OwnerColumn, rel.TargetColumn, rel.FKOnTarget = fk.RefColumn, fk.Column, true
	}
	return rel, nil
}

func (r *Registry) deriveThrough(rel *RelationshipDef, owner, target *TableSchema, e *edge.Descriptor) error {
	if e.Through == "" {
		return fmt.Errorf("vellum: many-to-many relationship %q has no association table", e.Name)
	}
	through, err := r.table(e.Through)
	if err != nil {
		return err
	}
	rel.Through = through.Name
	pick := func(column string, ref *TableSchema) (*ForeignKeyDef, error) {
		fks := r.foreignKeys(through.Name, ref.Name)
		if column != "" {
			for _, fk := range fks {
				if fk.Column == column {
					return fk, nil
				}
			}
			return nil, fmt.Errorf("vellum: %s.%s does not reference %q", through.Name, column, ref.Name)
		}
		if len(fks) != 1 {
			err := vellum.NewAmbiguousJoinError(through.Name, ref.Name, len(fks))
			err.Via = e.Name
			return nil, err
		}
		return fks[0], nil
	}
	var ownerCol, targetCol string
	if len(e.ThroughColumns) == 2 {
		ownerCol, targetCol = e.ThroughColumns[0], e.ThroughColumns[1]
	}
	ofk, err := pick(ownerCol, owner)
	if err != nil {
		return err
	}
	tfk, err := pick(targetCol, target)
	if err != nil {
		return err
	}
	if ofk == tfk {
		return vellum.NewAmbiguousJoinError(through.Name, target.Name, 2)
	}
	rel.ThroughOwner, rel.OwnerColumn = ofk.Column, ofk.RefColumn
	rel.ThroughTarget, rel.TargetColumn = tfk.Column, tfk.RefColumn
	return nil
}

func isForeignKey(t *TableSchema, column, ref string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column && fk.RefTable == ref {
			return true
		}
	}
	return false
}
