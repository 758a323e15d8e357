package orm

import (
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect/sql"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/field"
)

// State is the lifecycle state of an entity.
type State uint8

// Entity lifecycle states.
const (
	// Transient entities are not attached to a session and have no row.
	Transient State = iota
	// Pending entities were added to a session and wait for their insert.
	Pending
	// Persistent entities have a row and are tracked by a session.
	Persistent
	// Detached entities have a row but no session.
	Detached
	// Deleted entities had their row deleted by a flush.
	Deleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Transient:
		return "transient"
	case Pending:
		return "pending"
	case Persistent:
		return "persistent"
	case Detached:
		return "detached"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// History is the change of one attribute since the entity was last
// loaded or flushed.
type History struct {
	Old any
	New any
}

// InstanceState is the boolean view of an entity lifecycle.
type InstanceState struct {
	Transient  bool
	Pending    bool
	Persistent bool
	Detached   bool
	Deleted    bool
	// Modified reports unflushed attribute changes.
	Modified bool
}

// Inspect returns the lifecycle flags of e.
func Inspect(e *Entity) InstanceState {
	return InstanceState{
		Transient:  e.state == Transient,
		Pending:    e.state == Pending,
		Persistent: e.state == Persistent,
		Detached:   e.state == Detached,
		Deleted:    e.state == Deleted,
		Modified:   len(e.history) > 0,
	}
}

// Entity is a row of a table with change tracking. Attributes are read
// with Get and written with Set, which records the change history used
// by the next flush.
type Entity struct {
	table   *vschema.TableSchema
	reg     *vschema.Registry
	session *Session
	state   State
	seq     int
	key     any

	values  map[string]any
	base    map[string]any // backend image as of the last load or flush
	history map[string]*History

	deleting  bool
	relations map[string]*Relation

	// saved holds the bookkeeping of the entity when the current
	// transaction first wrote it; generated lists the attributes a flush
	// assigned since.
	saved     *snapshot
	generated map[string]bool
}

type snapshot struct {
	state    State
	key      any
	values   map[string]any
	base     map[string]any
	deleting bool
}

// New returns a transient entity of table t with the given attribute
// values. Values are converted to the column types.
func New(t *vschema.TableSchema, values map[string]any) (*Entity, error) {
	if t == nil {
		return nil, fmt.Errorf("vellum: nil table")
	}
	if _, err := t.Key(); err != nil {
		return nil, err
	}
	e := &Entity{table: t, values: make(map[string]any, len(values))}
	for name, v := range values {
		d, ok := t.Column(name)
		if !ok {
			return nil, &vellum.UnknownColumnError{Table: t.Name, Column: name}
		}
		n, err := d.Normalize(v)
		if err != nil {
			return nil, vellum.NewValidationError(t.Name+"."+name, err)
		}
		e.values[name] = n
	}
	return e, nil
}

// Table returns the table of the entity.
func (e *Entity) Table() *vschema.TableSchema { return e.table }

// State returns the lifecycle state.
func (e *Entity) State() State { return e.state }

// Key returns the identity key, or nil until the entity is flushed.
func (e *Entity) Key() any { return e.key }

// Session returns the owning session, or nil.
func (e *Entity) Session() *Session { return e.session }

// String implements fmt.Stringer.
func (e *Entity) String() string {
	if e.key == nil {
		return fmt.Sprintf("%s(%s)", e.table.Label, e.state)
	}
	return fmt.Sprintf("%s(%v)", e.table.Label, e.key)
}

// Get returns the value of a column, or nil when it is unset or unknown.
func (e *Entity) Get(column string) any {
	return e.values[column]
}

// Lookup returns the value of a column and whether it is set.
func (e *Entity) Lookup(column string) (any, bool) {
	v, ok := e.values[column]
	return v, ok
}

// Values returns a copy of the attribute values.
func (e *Entity) Values() map[string]any {
	return maps.Clone(e.values)
}

// Set assigns v to a column. Assigning the current value is a no-op;
// anything else is recorded in the change history.
func (e *Entity) Set(column string, v any) error {
	d, ok := e.table.Column(column)
	if !ok {
		return &vellum.UnknownColumnError{Table: e.table.Name, Column: column}
	}
	if e.state == Deleted {
		return fmt.Errorf("vellum: set %s on deleted %s", column, e)
	}
	n, err := d.Normalize(v)
	if err != nil {
		return vellum.NewValidationError(e.table.Name+"."+column, err)
	}
	old, set := e.values[column]
	if set && field.Equal(old, n) {
		return nil
	}
	if d.PrimaryKey && e.key != nil {
		return fmt.Errorf("vellum: cannot change primary key %s of %s", column, e)
	}
	e.markDirty(column, old, n)
	return nil
}

// MustSet is like Set but panics on error.
func (e *Entity) MustSet(column string, v any) *Entity {
	if err := e.Set(column, v); err != nil {
		panic(err)
	}
	return e
}

// Changed returns the changed columns in declaration order.
func (e *Entity) Changed() []string {
	var cols []string
	for _, c := range e.table.Columns {
		if _, ok := e.history[c.Name]; ok {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// History returns the change of a column since the last load or flush.
func (e *Entity) History(column string) (History, bool) {
	h, ok := e.history[column]
	if !ok {
		return History{}, false
	}
	return *h, true
}

// Modified reports whether the entity has unflushed attribute changes.
func (e *Entity) Modified() bool { return len(e.history) > 0 }

// markDirty stores v and records the change. A value equal to the one
// last loaded or flushed clears the history of the column.
func (e *Entity) markDirty(column string, old, v any) {
	e.values[column] = v
	base, known := e.base[column]
	if known && field.Equal(base, v) {
		delete(e.history, column)
		return
	}
	if e.history == nil {
		e.history = make(map[string]*History)
	}
	if h, ok := e.history[column]; ok {
		h.New = v
		return
	}
	if known {
		old = base
	}
	e.history[column] = &History{Old: old, New: v}
}

// assign stores a value computed by a flush.
func (e *Entity) assign(column string, v any) {
	if old, set := e.values[column]; set && field.Equal(old, v) {
		return
	}
	if e.generated == nil {
		e.generated = make(map[string]bool)
	}
	e.generated[column] = true
	e.markDirty(column, e.values[column], v)
}

// clean makes the current values the backend image.
func (e *Entity) clean() {
	e.base = maps.Clone(e.values)
	e.history = nil
}

// rediff recomputes the history against the backend image.
func (e *Entity) rediff() {
	e.history = nil
	if e.base == nil {
		return
	}
	for col, v := range e.values {
		if b, ok := e.base[col]; !ok || !field.Equal(b, v) {
			if e.history == nil {
				e.history = make(map[string]*History)
			}
			e.history[col] = &History{Old: e.base[col], New: v}
		}
	}
}

func (e *Entity) save() bool {
	if e.saved != nil {
		return false
	}
	e.saved = &snapshot{
		state:    e.state,
		key:      e.key,
		values:   maps.Clone(e.values),
		base:     maps.Clone(e.base),
		deleting: e.deleting,
	}
	return true
}

// Hybrid evaluates a hybrid attribute over the entity values.
func (e *Entity) Hybrid(name string) (any, error) {
	h := e.table.FindHybrid(name)
	if h == nil {
		return nil, &vellum.UnknownColumnError{Table: e.table.Name, Column: name}
	}
	return sql.Eval(h.Expr, e.resolver())
}

// Call evaluates a hybrid method with the given arguments.
func (e *Entity) Call(name string, args ...any) (any, error) {
	m := e.table.FindMethod(name)
	if m == nil {
		return nil, &vellum.UnknownColumnError{Table: e.table.Name, Column: name}
	}
	return sql.Eval(m.Func(args...), e.resolver())
}

// Match reports whether the entity satisfies the predicate, evaluated in
// memory. Columns of other tables make the predicate not evaluable, and
// so does string matching that the dialect of the entity's session
// performs without regard to case.
func (e *Entity) Match(p sql.Expr) (bool, error) {
	if e.session != nil {
		return sql.EvalBool(p, e.session.evaluator(e))
	}
	return sql.EvalBool(p, e.resolver())
}

func (e *Entity) resolver() sql.Resolver {
	return sql.ResolverFunc(func(table, column string) (any, bool) {
		if table != "" && table != e.table.Name {
			return nil, false
		}
		if _, ok := e.table.Column(column); !ok {
			return nil, false
		}
		return e.values[column], true
	})
}

// Relation returns the handle of a relationship. Handles are created on
// first use and live as long as the entity.
func (e *Entity) Relation(name string) (*Relation, error) {
	if r, ok := e.relations[name]; ok {
		return r, nil
	}
	desc := e.table.Relationship(name)
	if desc == nil {
		return nil, &vellum.UnknownRelationshipError{Table: e.table.Name, Name: name}
	}
	if e.relations == nil {
		e.relations = make(map[string]*Relation)
	}
	r := &Relation{owner: e, desc: desc}
	e.relations[name] = r
	return r, nil
}

// handles returns the relationship handles in declaration order.
func (e *Entity) handles() []*Relation {
	if len(e.relations) == 0 {
		return nil
	}
	rs := make([]*Relation, 0, len(e.relations))
	for _, d := range e.table.Relations {
		if r, ok := e.relations[d.Name]; ok {
			rs = append(rs, r)
		}
	}
	return rs
}

func (e *Entity) registry() *vschema.Registry {
	if e.session != nil {
		return e.session.engine.reg
	}
	return e.reg
}

// identity is the identity map key of an entity.
type identity struct {
	table string
	key   any
}

// identityOf turns a normalized value into a comparable map key.
func identityOf(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return "d:" + x.String()
	case []byte:
		return "b:" + string(x)
	case time.Time:
		return x.UnixNano()
	}
	return v
}

func (e *Entity) identity() identity {
	return identity{table: e.table.Name, key: identityOf(e.key)}
}

// keyColumn returns the primary key column of the entity table.
func (e *Entity) keyColumn() *field.Descriptor {
	d, _ := e.table.Key()
	return d
}
