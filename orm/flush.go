package orm

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/dialect/sql/sqlgraph"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
)

// binding copies the key of parent into a foreign key column of child.
// A nil parent clears the column.
type binding struct {
	child        *Entity
	column       string
	parent       *Entity
	parentColumn string
	op           *relOp
}

func (b *binding) apply() {
	var v any
	if b.parent != nil {
		v = b.parent.values[b.parentColumn]
	}
	b.child.assign(b.column, v)
}

// association is a staged row of an M2M association table. dups holds
// the operations staging the same row from the inverse relationship.
type association struct {
	rel    *vschema.RelationshipDef
	owner  *Entity
	target *Entity
	add    bool
	op     *relOp
	dups   []*relOp
}

// assocKey identifies an association row independently of the side that
// staged it.
type assocKey struct {
	through string
	c1, c2  string
	e1, e2  *Entity
	add     bool
}

func (a *association) key() assocKey {
	k := assocKey{through: a.rel.Through, add: a.add,
		c1: a.rel.ThroughOwner, e1: a.owner, c2: a.rel.ThroughTarget, e2: a.target}
	if k.c2 < k.c1 {
		k.c1, k.c2, k.e1, k.e2 = k.c2, k.c1, k.e2, k.e1
	}
	return k
}

// ready reports whether the value the binding copies is known.
func (b *binding) ready() bool {
	return b.parent == nil || b.parent.values[b.parentColumn] != nil
}

// Flush writes the pending changes of the session in one batch: inserts
// in dependency order, updates, association rows, then deletes in
// reverse dependency order. The transaction stays open. When a statement
// fails, the transaction is rolled back and the entities are left as
// they were before the transaction wrote them.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		s.rewind(ctx)
		return err
	}
	return nil
}

func (s *Session) flush(ctx context.Context) error {
	if err := s.cascade(); err != nil {
		return err
	}
	bindings, assocs, err := s.stage()
	if err != nil {
		return err
	}
	pending := s.New()
	order, err := s.insertOrder(pending, bindings)
	if err != nil {
		return err
	}
	dirty, err := s.prepare(pending, bindings)
	if err != nil {
		return err
	}
	deletes, err := s.deleteOrder(s.Deleted())
	if err != nil {
		return err
	}
	updates := slices.Clone(dirty)
	for _, b := range bindings {
		if b.child.state == Persistent && !b.child.deleting && !containsEntity(updates, b.child) {
			updates = append(updates, b.child)
		}
	}
	// Bindings whose value is known are applied before the policies run,
	// so that rules see foreign keys set through relationships. Children
	// of pending parents are authorized once the parent key is assigned.
	late := make(map[*Entity]bool)
	for _, b := range bindings {
		if b.child.deleting {
			continue
		}
		if !b.ready() {
			late[b.child] = true
			continue
		}
		s.touch(b.child)
		b.apply()
	}
	early := func(ents []*Entity) []*Entity {
		return slices.DeleteFunc(slices.Clone(ents), func(e *Entity) bool { return late[e] })
	}
	if err := s.authorizeFlush(ctx, early(order), early(updates), deletes); err != nil {
		return err
	}
	if len(order) == 0 && len(dirty) == 0 && len(bindings) == 0 && len(assocs) == 0 && len(deletes) == 0 {
		return nil
	}
	byChild := make(map[*Entity][]*binding)
	for _, b := range bindings {
		byChild[b.child] = append(byChild[b.child], b)
	}
	for _, e := range order {
		for _, b := range byChild[e] {
			b.apply()
		}
		if late[e] {
			if err := s.authorizeFlush(ctx, []*Entity{e}, nil, nil); err != nil {
				return err
			}
		}
		if err := s.insert(ctx, e); err != nil {
			return err
		}
	}
	// Children that were persistent already get the keys of parents
	// inserted above.
	for _, b := range bindings {
		if b.child.state != Persistent || b.child.deleting {
			continue
		}
		s.touch(b.child)
		b.apply()
		if b.child.Modified() && !containsEntity(dirty, b.child) {
			dirty = append(dirty, b.child)
		}
	}
	for _, e := range updates {
		if late[e] {
			if err := s.authorizeFlush(ctx, nil, []*Entity{e}, nil); err != nil {
				return err
			}
		}
	}
	updated := 0
	for _, e := range dirty {
		if !e.Modified() {
			continue
		}
		if err := s.update(ctx, e); err != nil {
			return err
		}
		updated++
	}
	for _, a := range assocs {
		if err := s.associate(ctx, a); err != nil {
			return err
		}
	}
	for _, e := range deletes {
		if err := s.delete(ctx, e); err != nil {
			return err
		}
	}
	for _, b := range bindings {
		if b.op != nil {
			b.op.done = true
		}
	}
	for _, a := range assocs {
		a.op.done = true
		for _, op := range a.dups {
			op.done = true
		}
	}
	s.engine.logger.DebugContext(ctx, "vellum: flush",
		"inserted", len(order), "updated", updated, "associations", len(assocs), "deleted", len(deletes))
	return nil
}

// cascade adds the transient entities staged on relationships of
// attached entities.
func (s *Session) cascade() error {
	for i := 0; i < len(s.tracked); i++ {
		e := s.tracked[i]
		if e.state != Pending && e.state != Persistent {
			continue
		}
		for _, r := range e.handles() {
			for _, op := range r.ops {
				t := op.target
				if op.done || op.peer != nil || op.kind == opRemove || t == nil {
					continue
				}
				switch {
				case t.session == s:
				case t.session != nil:
					return &vellum.AlreadyPersistentError{Label: t.table.Label, Key: t.key}
				case t.state == Transient || t.state == Detached:
					if err := s.attach(t); err != nil {
						return err
					}
				default:
					return fmt.Errorf("vellum: %s %s staged on %s.%s", t.state, t, e.table.Name, r.desc.Name)
				}
			}
		}
	}
	return nil
}

// stage turns the unflushed relationship operations into foreign key
// bindings and association rows. A row staged from both sides of a
// many-to-many relationship is written once.
func (s *Session) stage() ([]*binding, []*association, error) {
	var (
		bindings []*binding
		assocs   []*association
		rows     = make(map[assocKey]*association)
	)
	for _, e := range s.tracked {
		if (e.state != Pending && e.state != Persistent) || e.deleting {
			continue
		}
		for _, r := range e.handles() {
			def, err := r.resolve()
			if err != nil {
				return nil, nil, err
			}
			for _, op := range r.ops {
				if op.done || op.peer != nil {
					continue
				}
				switch {
				case def.Kind == edge.ManyToMany:
					if op.target.deleting {
						continue
					}
					a := &association{rel: def, owner: e, target: op.target, add: op.kind == opAdd, op: op}
					if prev, ok := rows[a.key()]; ok {
						prev.dups = append(prev.dups, op)
						continue
					}
					rows[a.key()] = a
					assocs = append(assocs, a)
				case def.FKOnTarget:
					b := &binding{child: op.target, column: def.TargetColumn, op: op}
					if op.kind == opAdd {
						b.parent, b.parentColumn = e, def.OwnerColumn
					}
					bindings = append(bindings, b)
				default:
					b := &binding{child: e, column: def.OwnerColumn, op: op}
					if op.target != nil {
						b.parent, b.parentColumn = op.target, def.TargetColumn
					}
					bindings = append(bindings, b)
				}
			}
		}
	}
	return bindings, assocs, nil
}

// insertOrder sorts the pending entities so that every entity comes after
// the entities its foreign keys reference.
func (s *Session) insertOrder(pending []*Entity, bindings []*binding) ([]*Entity, error) {
	g := sqlgraph.NewGraph[*Entity]()
	byKey := make(map[identity]*Entity)
	for _, e := range pending {
		g.Add(e)
		if k := e.values[e.keyColumn().Name]; k != nil {
			byKey[identity{table: e.table.Name, key: identityOf(k)}] = e
		}
	}
	for _, b := range bindings {
		if b.parent != nil && b.parent != b.child && g.Has(b.child) && g.Has(b.parent) {
			g.Depend(b.child, b.parent)
		}
	}
	for _, e := range pending {
		for _, fk := range e.table.ForeignKeys {
			v := e.values[fk.Column]
			if v == nil {
				continue
			}
			if p, ok := byKey[identity{table: fk.RefTable, key: identityOf(v)}]; ok && p != e {
				g.Depend(e, p)
			}
		}
	}
	order, cyclic := g.Sort()
	if len(cyclic) > 0 {
		return nil, cycleError(cyclic)
	}
	return order, nil
}

// deleteOrder sorts the entities marked for deletion so that rows are
// deleted before the rows they reference.
func (s *Session) deleteOrder(deleting []*Entity) ([]*Entity, error) {
	if len(deleting) == 0 {
		return nil, nil
	}
	g := sqlgraph.NewGraph[*Entity]()
	byKey := make(map[identity]*Entity, len(deleting))
	for _, e := range deleting {
		g.Add(e)
		byKey[e.identity()] = e
	}
	for _, e := range deleting {
		for _, fk := range e.table.ForeignKeys {
			v := e.base[fk.Column]
			if v == nil {
				continue
			}
			if p, ok := byKey[identity{table: fk.RefTable, key: identityOf(v)}]; ok && p != e {
				g.Depend(p, e)
			}
		}
	}
	order, cyclic := g.Sort()
	if len(cyclic) > 0 {
		return nil, cycleError(cyclic)
	}
	return order, nil
}

func cycleError(cyclic []*Entity) error {
	members := make([]string, len(cyclic))
	for i, e := range cyclic {
		members[i] = fmt.Sprintf("%s(#%d)", e.table.Name, e.seq)
	}
	return &vellum.CyclicDependencyError{Members: members}
}

// prepare applies column defaults and runs the validators of every
// entity the flush writes, before any statement is sent. It returns the
// persistent entities to update.
func (s *Session) prepare(pending []*Entity, bindings []*binding) ([]*Entity, error) {
	bound := make(map[*Entity]map[string]bool)
	for _, b := range bindings {
		if b.parent == nil {
			if b.child.state == Persistent && !b.child.deleting {
				if c, ok := b.child.table.Column(b.column); ok {
					if err := c.Validate(nil); err != nil {
						return nil, vellum.NewValidationError(b.child.table.Name+"."+b.column, err)
					}
				}
			}
			continue
		}
		if bound[b.child] == nil {
			bound[b.child] = make(map[string]bool)
		}
		bound[b.child][b.column] = true
	}
	for _, e := range pending {
		s.touch(e)
		auto := autoIncrement(e.table)
		for _, c := range e.table.Columns {
			v, set := e.values[c.Name]
			if !set && c.Default != nil {
				v = c.Default()
				if n, err := c.Normalize(v); err == nil {
					v = n
				}
				e.assign(c.Name, v)
				set = true
			}
			if v == nil && (bound[e][c.Name] || (auto && c.PrimaryKey)) {
				continue
			}
			if !set && c.Optional {
				continue
			}
			if err := c.Validate(v); err != nil {
				return nil, vellum.NewValidationError(e.table.Name+"."+c.Name, err)
			}
		}
	}
	var dirty []*Entity
	for _, e := range s.tracked {
		if e.state != Persistent || e.deleting || !e.Modified() {
			continue
		}
		s.touch(e)
		for _, c := range e.table.Columns {
			if _, changed := e.history[c.Name]; !changed && c.UpdateDefault != nil {
				if n, err := c.Normalize(c.UpdateDefault()); err == nil {
					e.assign(c.Name, n)
				}
			}
		}
		for _, col := range e.Changed() {
			c, _ := e.table.Column(col)
			v := e.values[col]
			if v == nil && bound[e][col] {
				continue
			}
			if err := c.Validate(v); err != nil {
				return nil, vellum.NewValidationError(e.table.Name+"."+col, err)
			}
		}
		dirty = append(dirty, e)
	}
	return dirty, nil
}

// touch snapshots the bookkeeping of e the first time the current
// transaction writes it.
func (s *Session) touch(e *Entity) {
	if e.save() {
		s.touched = append(s.touched, e)
	}
}

// autoIncrement reports whether the backend generates the key of t.
func autoIncrement(t *vschema.TableSchema) bool {
	kd, err := t.Key()
	return err == nil && kd.Type == field.TypeInt && kd.Default == nil
}

func (s *Session) insert(ctx context.Context, e *Entity) error {
	t, kd := e.table, e.keyColumn()
	var (
		cols []string
		vals []any
	)
	for _, c := range t.Columns {
		v, set := e.values[c.Name]
		if !set || (v == nil && c.PrimaryKey) {
			continue
		}
		cols = append(cols, c.Name)
		vals = append(vals, v)
	}
	b := sql.Dialect(s.dialect()).Insert(t.Name).Columns(cols...)
	if len(cols) > 0 {
		b.Values(vals...)
	}
	key := e.values[kd.Name]
	switch {
	case key != nil:
		if _, err := s.exec(ctx, b); err != nil {
			return vellum.NewMutationError(t.Name, "insert", err)
		}
	case s.dialect() == dialect.Postgres:
		rows, err := s.query(ctx, b.Returning(kd.Name))
		if err != nil {
			return vellum.NewMutationError(t.Name, "insert", err)
		}
		if len(rows) != 1 {
			return vellum.NewMutationError(t.Name, "insert", fmt.Errorf("returned %d rows", len(rows)))
		}
		key = rows[0][0]
	default:
		res, err := s.exec(ctx, b)
		if err != nil {
			return vellum.NewMutationError(t.Name, "insert", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return vellum.NewMutationError(t.Name, "insert", err)
		}
		key = id
	}
	key, err := kd.Normalize(key)
	if err != nil {
		return vellum.NewMutationError(t.Name, "insert", err)
	}
	e.assign(kd.Name, key)
	e.key = key
	id := e.identity()
	if other, ok := s.identity[id]; ok && other != e {
		return &vellum.AlreadyPersistentError{Label: t.Label, Key: key}
	}
	s.identity[id] = e
	e.state = Persistent
	e.clean()
	s.wrote(t.Name)
	return nil
}

func (s *Session) update(ctx context.Context, e *Entity) error {
	t, kd := e.table, e.keyColumn()
	u := sql.Dialect(s.dialect()).Update(t.Name)
	for _, col := range e.Changed() {
		u.Set(col, e.values[col])
	}
	u.Where(sql.EQ(t.C(kd.Name), e.key))
	res, err := s.exec(ctx, u)
	if err != nil {
		return vellum.NewMutationError(t.Name, "update", err)
	}
	// MySQL reports changed rows, not matched ones.
	if s.dialect() != dialect.MySQL {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return vellum.NewMutationError(t.Name, "update", vellum.NewNotFoundErrorWithID(t.Label, e.key))
		}
	}
	e.clean()
	s.wrote(t.Name)
	return nil
}

func (s *Session) associate(ctx context.Context, a *association) error {
	ownerKey := a.owner.values[a.rel.OwnerColumn]
	targetKey := a.target.values[a.rel.TargetColumn]
	if ownerKey == nil || targetKey == nil {
		return vellum.NewMutationError(a.rel.Through, "associate",
			fmt.Errorf("%s or %s has no key", a.owner, a.target))
	}
	var st statement
	if a.add {
		st = sql.Dialect(s.dialect()).Insert(a.rel.Through).
			Columns(a.rel.ThroughOwner, a.rel.ThroughTarget).
			Values(ownerKey, targetKey)
	} else {
		st = sql.Dialect(s.dialect()).Delete(a.rel.Through).Where(sql.And(
			sql.EQ(sql.C(a.rel.Through, a.rel.ThroughOwner), ownerKey),
			sql.EQ(sql.C(a.rel.Through, a.rel.ThroughTarget), targetKey),
		))
	}
	if _, err := s.exec(ctx, st); err != nil {
		op := "insert"
		if !a.add {
			op = "delete"
		}
		return vellum.NewMutationError(a.rel.Through, op, err)
	}
	s.wrote(a.rel.Through)
	return nil
}

func (s *Session) delete(ctx context.Context, e *Entity) error {
	t, kd := e.table, e.keyColumn()
	s.touch(e)
	for _, ref := range s.throughRefs(t.Name) {
		v := e.base[ref.key]
		if v == nil {
			continue
		}
		d := sql.Dialect(s.dialect()).Delete(ref.through).Where(sql.EQ(sql.C(ref.through, ref.column), v))
		if _, err := s.exec(ctx, d); err != nil {
			return vellum.NewMutationError(ref.through, "delete", err)
		}
		s.wrote(ref.through)
	}
	d := sql.Dialect(s.dialect()).Delete(t.Name).Where(sql.EQ(t.C(kd.Name), e.key))
	res, err := s.exec(ctx, d)
	if err != nil {
		return vellum.NewMutationError(t.Name, "delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return vellum.NewMutationError(t.Name, "delete", vellum.NewNotFoundErrorWithID(t.Label, e.key))
	}
	delete(s.identity, e.identity())
	e.state = Deleted
	e.deleting = false
	s.wrote(t.Name)
	return nil
}

// throughRef is an association table column referencing the key column
// of a table.
type throughRef struct {
	through string
	column  string
	key     string
}

// throughRefs returns the association columns of M2M relationships that
// reference rows of table.
func (s *Session) throughRefs(table string) []throughRef {
	var (
		refs []throughRef
		seen = make(map[throughRef]bool)
	)
	add := func(r throughRef) {
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	for _, t := range s.engine.reg.Tables() {
		defs, err := s.engine.reg.Relationships(t.Name)
		if err != nil {
			continue
		}
		for _, rel := range defs {
			if rel.Kind != edge.ManyToMany {
				continue
			}
			if rel.Table == table {
				add(throughRef{through: rel.Through, column: rel.ThroughOwner, key: rel.OwnerColumn})
			}
			if rel.Target == table {
				add(throughRef{through: rel.Through, column: rel.ThroughTarget, key: rel.TargetColumn})
			}
		}
	}
	return refs
}

func containsEntity(ents []*Entity, e *Entity) bool {
	for _, x := range ents {
		if x == e {
			return true
		}
	}
	return false
}
