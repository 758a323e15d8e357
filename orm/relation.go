package orm

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/contrib/dataloader"
	"github.com/syssam/vellum/dialect/sql"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/edge"
)

// batchSize bounds the keys of one IN list of an eager load.
const batchSize = 500

type opKind uint8

const (
	opAdd opKind = iota
	opRemove
	opSet
)

// relOp is a staged change of a relationship. done marks operations
// written by a flush of the current transaction. An operation with a peer
// reflects the change staged on the inverse relationship; it is never
// written itself and counts as written when its peer is.
type relOp struct {
	kind   opKind
	target *Entity
	done   bool
	peer   *relOp
}

func (op *relOp) written() bool {
	if op.peer != nil {
		return op.peer.done
	}
	return op.done
}

// Relation is the handle of one relationship of one entity. It caches the
// loaded targets and stages the changes written at the next flush.
type Relation struct {
	owner  *Entity
	desc   *edge.Descriptor
	def    *vschema.RelationshipDef
	loaded bool
	items  []*Entity
	err    error
	ops    []*relOp
}

// Name returns the relationship name.
func (r *Relation) Name() string { return r.desc.Name }

// Loaded reports whether the targets were read.
func (r *Relation) Loaded() bool { return r.loaded }

// Scalar reports whether the relationship holds at most one target.
func (r *Relation) Scalar() bool { return r.desc.Kind.Scalar() }

func (r *Relation) resolve() (*vschema.RelationshipDef, error) {
	if r.def != nil {
		return r.def, nil
	}
	reg := r.owner.registry()
	if reg == nil {
		return nil, fmt.Errorf("vellum: relationship %s.%s: entity is not bound to a registry", r.owner.table.Name, r.desc.Name)
	}
	def, err := reg.ResolveRelationship(r.owner.table.Name, r.desc.Name)
	if err != nil {
		return nil, err
	}
	r.def = def
	return def, nil
}

// All returns the targets of the relationship, loading them on first use.
func (r *Relation) All(ctx context.Context) ([]*Entity, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return slices.Clone(r.items), nil
}

// One returns the target of a scalar relationship, or nil when there is
// none. More than one target is a *vellum.CardinalityViolationError.
func (r *Relation) One(ctx context.Context) (*Entity, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	switch len(r.items) {
	case 0:
		return nil, nil
	case 1:
		return r.items[0], nil
	default:
		return nil, r.cardinality(len(r.items))
	}
}

// Append adds targets to a collection. The change is written at the next
// flush; transient targets are added to the session of the owner.
func (r *Relation) Append(ctx context.Context, targets ...*Entity) error {
	if r.Scalar() {
		return fmt.Errorf("vellum: %s.%s holds one target, use Set", r.owner.table.Name, r.desc.Name)
	}
	if err := r.check(targets...); err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}
	for _, t := range targets {
		if slices.Contains(r.items, t) {
			continue
		}
		var op *relOp
		if i := r.staged(opRemove, t); i >= 0 {
			r.ops = slices.Delete(r.ops, i, i+1)
		} else {
			op = &relOp{kind: opAdd, target: t}
			r.ops = append(r.ops, op)
		}
		r.items = append(r.items, t)
		r.reflect(t, opAdd, op)
	}
	return r.cascade()
}

// Remove removes targets from a collection. For one-to-many relationships
// the foreign key of the target is cleared at the next flush; for
// many-to-many the association row is deleted.
func (r *Relation) Remove(ctx context.Context, targets ...*Entity) error {
	if r.Scalar() {
		return fmt.Errorf("vellum: %s.%s holds one target, use Set", r.owner.table.Name, r.desc.Name)
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}
	for _, t := range targets {
		i := slices.Index(r.items, t)
		if i < 0 {
			continue
		}
		r.items = slices.Delete(r.items, i, i+1)
		var op *relOp
		if j := r.staged(opAdd, t); j >= 0 {
			r.ops = slices.Delete(r.ops, j, j+1)
		} else {
			op = &relOp{kind: opRemove, target: t}
			r.ops = append(r.ops, op)
		}
		r.reflect(t, opRemove, op)
	}
	return nil
}

// Set replaces the target of a scalar relationship. A nil target clears it.
func (r *Relation) Set(ctx context.Context, target *Entity) error {
	if !r.Scalar() {
		return fmt.Errorf("vellum: %s.%s is a collection, use Append", r.owner.table.Name, r.desc.Name)
	}
	if target != nil {
		if err := r.check(target); err != nil {
			return err
		}
	}
	def, err := r.resolve()
	if err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}
	prevs := r.items
	if def.FKOnTarget {
		for _, prev := range prevs {
			if prev == target {
				continue
			}
			var op *relOp
			if j := r.staged(opAdd, prev); j >= 0 {
				r.ops = slices.Delete(r.ops, j, j+1)
			} else {
				op = &relOp{kind: opRemove, target: prev}
				r.ops = append(r.ops, op)
			}
			r.reflect(prev, opRemove, op)
		}
		if target != nil && !slices.Contains(prevs, target) {
			op := &relOp{kind: opAdd, target: target}
			r.ops = append(r.ops, op)
			r.reflect(target, opAdd, op)
		}
	} else {
		r.ops = slices.DeleteFunc(r.ops, func(op *relOp) bool { return !op.written() })
		op := &relOp{kind: opSet, target: target}
		r.ops = append(r.ops, op)
		for _, prev := range prevs {
			if prev != target {
				r.reflect(prev, opRemove, op)
			}
		}
		if target != nil && !slices.Contains(prevs, target) {
			r.reflect(target, opAdd, op)
		}
	}
	r.items, r.err = nil, nil
	if target != nil {
		r.items = []*Entity{target}
	}
	return r.cascade()
}

func (r *Relation) check(targets ...*Entity) error {
	for _, t := range targets {
		if t == nil {
			return fmt.Errorf("vellum: nil target for %s.%s", r.owner.table.Name, r.desc.Name)
		}
		if t.table.Name != r.desc.Target {
			return fmt.Errorf("vellum: %s.%s expects %s, got %s", r.owner.table.Name, r.desc.Name, r.desc.Target, t.table.Name)
		}
	}
	return nil
}

// staged returns the index of the unflushed operation of kind on t.
func (r *Relation) staged(kind opKind, t *Entity) int {
	return slices.IndexFunc(r.ops, func(op *relOp) bool {
		return op.peer == nil && !op.done && op.kind == kind && op.target == t
	})
}

// reflect applies a change of r on target t to the inverse handle of t,
// when that handle is loaded, so that both sides agree before the flush.
// The inverse records the change as an operation with peer as its peer;
// only r stages the write. A nil peer means the change cancelled an
// unwritten operation of r.
func (r *Relation) reflect(t *Entity, kind opKind, peer *relOp) {
	if t == nil || r.desc.Backref == "" {
		return
	}
	inv, ok := t.relations[r.desc.Backref]
	if !ok || !inv.loaded || inv == r {
		return
	}
	o := r.owner
	if inv.Scalar() {
		if kind == opRemove && !slices.Contains(inv.items, o) {
			return
		}
		inv.ops = slices.DeleteFunc(inv.ops, func(op *relOp) bool { return op.peer != nil && !op.written() })
		inv.items, inv.err = nil, nil
		var target *Entity
		if kind == opAdd {
			target = o
			inv.items = []*Entity{o}
		}
		if peer != nil {
			inv.ops = append(inv.ops, &relOp{kind: opSet, target: target, peer: peer})
		}
		return
	}
	has := slices.Contains(inv.items, o)
	if (kind == opAdd) == has {
		return
	}
	opposite := opRemove
	if kind == opRemove {
		opposite = opAdd
	}
	if i := slices.IndexFunc(inv.ops, func(op *relOp) bool {
		return op.peer != nil && !op.written() && op.kind == opposite && op.target == o
	}); i >= 0 {
		inv.ops = slices.Delete(inv.ops, i, i+1)
	} else if peer != nil {
		inv.ops = append(inv.ops, &relOp{kind: kind, target: o, peer: peer})
	}
	if kind == opAdd {
		inv.items = append(inv.items, o)
	} else {
		inv.items = slices.DeleteFunc(inv.items, func(e *Entity) bool { return e == o })
	}
}

func (r *Relation) cascade() error {
	if s := r.owner.session; s != nil {
		return s.cascade()
	}
	return nil
}

func (r *Relation) cardinality(n int) error {
	return &vellum.CardinalityViolationError{Table: r.owner.table.Name, Relationship: r.desc.Name, Count: n}
}

func (r *Relation) ensure(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	return r.load(ctx)
}

// load reads the targets from the backend. Owners without a row only
// see their staged targets.
func (r *Relation) load(ctx context.Context) error {
	o := r.owner
	switch o.state {
	case Transient, Pending:
		r.set(nil)
		return nil
	case Detached, Deleted:
		return fmt.Errorf("vellum: load %s.%s of %s %s", o.table.Name, r.desc.Name, o.state, o)
	}
	def, err := r.resolve()
	if err != nil {
		return err
	}
	s := o.session
	target, err := s.engine.reg.Table(def.Target)
	if err != nil {
		return err
	}
	var ents []*Entity
	switch {
	case def.Kind == edge.ManyToMany:
		_, cond := def.Condition()
		sel := s.selectEntity(target).
			Join(def.Through, cond).
			Where(sql.EQ(sql.C(def.Through, def.ThroughOwner), o.values[def.OwnerColumn]))
		if err = s.guardSelect(ctx, target, sel); err == nil {
			ents, err = s.fetch(ctx, target, orderTargets(sel, target, def), false)
		}
	case def.FKOnTarget:
		sel := s.selectEntity(target).Where(sql.EQ(target.C(def.TargetColumn), o.values[def.OwnerColumn]))
		if err = s.guardSelect(ctx, target, sel); err == nil {
			ents, err = s.fetch(ctx, target, orderTargets(sel, target, def), false)
		}
	default:
		fk := o.values[def.OwnerColumn]
		if fk == nil {
			break
		}
		if kd, _ := target.Key(); kd != nil && kd.Name == def.TargetColumn {
			var e *Entity
			e, err = s.Get(ctx, target.Name, fk)
			if vellum.IsNotFound(err) {
				e, err = nil, nil
			}
			if e != nil {
				ents = []*Entity{e}
			}
			break
		}
		sel := s.selectEntity(target).Where(sql.EQ(target.C(def.TargetColumn), fk))
		if err = s.guardSelect(ctx, target, sel); err == nil {
			ents, err = s.fetch(ctx, target, sel, false)
		}
	}
	if err != nil {
		return vellum.NewQueryError(def.Target, "load "+def.Name, err)
	}
	r.set(ents)
	return nil
}

func orderTargets(sel *sql.Selector, target *vschema.TableSchema, def *vschema.RelationshipDef) *sql.Selector {
	if def.OrderBy != "" {
		return sel.OrderBy(target.C(def.OrderBy))
	}
	if kd, err := target.Key(); err == nil {
		return sel.OrderBy(target.C(kd.Name))
	}
	return sel
}

// set stores loaded targets and replays the unflushed operations over
// them.
func (r *Relation) set(ents []*Entity) {
	items := make([]*Entity, 0, len(ents))
	for _, e := range ents {
		if e.state == Persistent && !e.deleting {
			items = append(items, e)
		}
	}
	for _, op := range r.ops {
		if op.written() {
			continue
		}
		switch op.kind {
		case opAdd:
			if !slices.Contains(items, op.target) {
				items = append(items, op.target)
			}
		case opRemove:
			items = slices.DeleteFunc(items, func(e *Entity) bool { return e == op.target })
		case opSet:
			items = items[:0]
			if op.target != nil {
				items = append(items, op.target)
			}
		}
	}
	r.items, r.err, r.loaded = items, nil, true
	if r.Scalar() && len(items) > 1 {
		r.err = r.cardinality(len(items))
	}
}

// purge drops the operations written by a committed transaction.
func (r *Relation) purge() {
	r.ops = slices.DeleteFunc(r.ops, func(op *relOp) bool { return op.written() })
}

// restage marks every operation unwritten after a rolled back flush.
func (r *Relation) restage() {
	for _, op := range r.ops {
		op.done = false
	}
}

// reset forgets the staged operations and the loaded targets.
func (r *Relation) reset() {
	r.ops, r.items, r.err, r.loaded = nil, nil, nil, false
}

// eager loads relationship name of many owners of one table with one
// query per batch of keys.
func (s *Session) eager(ctx context.Context, owners []*Entity, name string) error {
	var handles []*Relation
	for _, o := range owners {
		r, err := o.Relation(name)
		if err != nil {
			return err
		}
		if !r.loaded && !slices.Contains(handles, r) {
			handles = append(handles, r)
		}
	}
	if len(handles) == 0 {
		return nil
	}
	def, err := handles[0].resolve()
	if err != nil {
		return err
	}
	target, err := s.engine.reg.Table(def.Target)
	if err != nil {
		return err
	}
	// The owner side column compared with the targets.
	column := def.OwnerColumn
	keys := make([]any, 0, len(handles))
	for _, r := range handles {
		if v := r.owner.values[column]; v != nil {
			keys = append(keys, identityOf(v))
		}
	}
	byKey := make(map[any]any)
	for _, r := range handles {
		if v := r.owner.values[column]; v != nil {
			byKey[identityOf(v)] = v
		}
	}
	groups := make(map[any][]*Entity)
	for _, chunk := range dataloader.Chunk(dataloader.Unique(keys), batchSize) {
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = byKey[k]
		}
		pairs, err := s.eagerChunk(ctx, def, target, args)
		if err != nil {
			return vellum.NewQueryError(def.Target, "load "+def.Name, err)
		}
		for k, g := range dataloader.GroupByKey(pairs, func(p pair) any { return p.key }) {
			for _, p := range g {
				groups[k] = append(groups[k], p.target)
			}
		}
	}
	for _, r := range handles {
		var ents []*Entity
		if v := r.owner.values[column]; v != nil && r.owner.state == Persistent {
			ents = groups[identityOf(v)]
		}
		r.set(ents)
	}
	return nil
}

// pair is a loaded target with the owner side key it matched.
type pair struct {
	key    any
	target *Entity
}

func (s *Session) eagerChunk(ctx context.Context, def *vschema.RelationshipDef, target *vschema.TableSchema, keys []any) ([]pair, error) {
	match := target.C(def.TargetColumn)
	if def.Kind == edge.ManyToMany {
		match = sql.C(def.Through, def.ThroughOwner)
	}
	sel := sql.Dialect(s.dialect()).Select(append(columnsOf(target), match)...).From(target.Name)
	if def.Kind == edge.ManyToMany {
		_, cond := def.Condition()
		sel.Join(def.Through, cond)
	}
	sel.Where(sql.In(match, keys...))
	if err := s.guardSelect(ctx, target, sel); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, orderTargets(sel, target, def))
	if err != nil {
		return nil, err
	}
	n := len(target.Columns)
	pairs := make([]pair, 0, len(rows))
	for _, row := range rows {
		e, err := s.materialize(ctx, target, row[:n], false)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		c, _ := s.columnDescriptor(match.Table(), match.Name())
		k := row[n]
		if c != nil {
			if k, err = c.Normalize(k); err != nil {
				return nil, err
			}
		}
		pairs = append(pairs, pair{key: identityOf(k), target: e})
	}
	return pairs, nil
}
