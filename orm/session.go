package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/dialect/sql/sqlgraph"
	vschema "github.com/syssam/vellum/schema"
)

// LoadStrategy selects when a relationship is read.
type LoadStrategy uint8

const (
	// Lazy defers the load to the first access of the handle.
	Lazy LoadStrategy = iota
	// Eager loads the relationship immediately.
	Eager
)

// Session is a unit of work over one backend transaction. It keeps an
// identity map so that a row is represented by at most one Entity, and
// writes the changes of its entities on Flush and Commit.
//
// A session is not safe for concurrent use.
type Session struct {
	engine   *Engine
	tx       dialect.Tx
	identity map[identity]*Entity
	tracked  []*Entity
	touched  []*Entity
	seq      int
	written  map[string]struct{}
	warnings []error

	onCommit   []CommitHook
	onRollback []RollbackHook

	closed bool
	err    error
}

func newSession(e *Engine) *Session {
	return &Session{
		engine:   e,
		identity: make(map[identity]*Entity),
	}
}

// Engine returns the engine of the session.
func (s *Session) Engine() *Engine { return s.engine }

// InTransaction reports whether the session holds a backend transaction.
func (s *Session) InTransaction() bool { return s.tx != nil }

func (s *Session) usable() error {
	if s.closed {
		return vellum.ErrSessionClosed
	}
	return s.err
}

// Add attaches e to the session. Transient entities become pending and
// detached ones persistent again. Entities staged on the relationships of
// e are added with it.
func (s *Session) Add(e *Entity) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.attach(e); err != nil {
		return err
	}
	return s.cascade()
}

func (s *Session) attach(e *Entity) error {
	if e.session == s {
		e.deleting = false
		return nil
	}
	if e.session != nil {
		return &vellum.AlreadyPersistentError{Label: e.table.Label, Key: e.key}
	}
	t, err := s.engine.reg.Table(e.table.Name)
	if err != nil {
		return err
	}
	if t != e.table {
		return fmt.Errorf("vellum: %s belongs to another registry", e)
	}
	switch e.state {
	case Transient:
		kd := e.keyColumn()
		if k := e.values[kd.Name]; k != nil {
			if other, ok := s.identity[identity{table: t.Name, key: identityOf(k)}]; ok && other != e {
				return &vellum.AlreadyPersistentError{Label: t.Label, Key: k}
			}
		}
		e.state = Pending
	case Detached:
		id := e.identity()
		if other, ok := s.identity[id]; ok && other != e {
			return &vellum.AlreadyPersistentError{Label: t.Label, Key: e.key}
		}
		e.state = Persistent
		s.identity[id] = e
	default:
		return fmt.Errorf("vellum: cannot add %s %s", e.state, e)
	}
	s.track(e)
	return nil
}

func (s *Session) track(e *Entity) {
	s.seq++
	e.seq = s.seq
	e.session = s
	s.tracked = append(s.tracked, e)
}

func (s *Session) untrack(e *Entity) {
	if i := slices.Index(s.tracked, e); i >= 0 {
		s.tracked = slices.Delete(s.tracked, i, i+1)
	}
	if i := slices.Index(s.touched, e); i >= 0 {
		s.touched = slices.Delete(s.touched, i, i+1)
	}
}

// detach removes e from the session, leaving it in the given state.
func (s *Session) detach(e *Entity, state State) {
	if e.key != nil && s.identity[e.identity()] == e {
		delete(s.identity, e.identity())
	}
	s.untrack(e)
	e.session = nil
	e.reg = s.engine.reg
	e.state = state
	e.deleting = false
	e.saved, e.generated = nil, nil
}

// Delete marks a persistent entity for deletion at the next flush. A
// pending entity is simply dropped from the session.
func (s *Session) Delete(e *Entity) error {
	if err := s.usable(); err != nil {
		return err
	}
	if e.session != s {
		return fmt.Errorf("vellum: %s is not attached to this session", e)
	}
	switch e.state {
	case Pending:
		s.detach(e, Transient)
	case Persistent:
		e.deleting = true
	}
	return nil
}

// sync stores a value the backend already holds, such as one written by
// a bulk update. A failed flush or a rollback restores the previous one.
func (s *Session) sync(e *Entity, column string, v any) {
	s.touch(e)
	if e.generated == nil {
		e.generated = make(map[string]bool)
	}
	e.generated[column] = true
	e.values[column] = v
	if e.base != nil {
		e.base[column] = v
	}
}

// removed records that a bulk delete removed the row of e. The entity
// leaves the identity map but stays tracked in the deleted state until
// the commit, so that a rollback restores it.
func (s *Session) removed(e *Entity) {
	s.touch(e)
	if e.key != nil && s.identity[e.identity()] == e {
		delete(s.identity, e.identity())
	}
	e.state = Deleted
	e.deleting = false
}

// evaluator resolves the values of e for in-memory evaluation, with the
// string matching of the session's dialect.
func (s *Session) evaluator(e *Entity) sql.Resolver {
	return sql.WithDialect(e.resolver(), s.dialect())
}

// readBack reads the columns of a bulk update from the rows of ents, for
// values that could not be computed in memory.
func (s *Session) readBack(ctx context.Context, t *vschema.TableSchema, ents []*Entity, set map[string]any, into map[*Entity]map[string]any) error {
	kd, err := t.Key()
	if err != nil {
		return err
	}
	cols := slices.Sorted(maps.Keys(set))
	items := []sql.Expr{t.C(kd.Name)}
	for _, c := range cols {
		items = append(items, t.C(c))
	}
	keys := make([]any, len(ents))
	for i, e := range ents {
		keys[i] = e.key
	}
	sel := sql.Dialect(s.dialect()).Select(items...).From(t.Name).Where(sql.In(t.C(kd.Name), keys...))
	rows, err := s.query(ctx, sel)
	if err != nil {
		return err
	}
	for _, row := range rows {
		k, err := kd.Normalize(row[0])
		if err != nil {
			return err
		}
		e, ok := s.identity[identity{table: t.Name, key: identityOf(k)}]
		if !ok {
			continue
		}
		values := make(map[string]any, len(cols))
		for i, col := range cols {
			d, _ := t.Column(col)
			if values[col], err = d.Normalize(row[i+1]); err != nil {
				return vellum.NewValidationError(t.Name+"."+col, err)
			}
		}
		into[e] = values
	}
	return nil
}

// Get returns the entity of table with the given primary key. Entities in
// the identity map are returned without a query.
func (s *Session) Get(ctx context.Context, table string, key any) (*Entity, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	t, err := s.engine.reg.Table(table)
	if err != nil {
		return nil, err
	}
	kd, err := t.Key()
	if err != nil {
		return nil, err
	}
	k, err := kd.Normalize(key)
	if err != nil {
		return nil, vellum.NewValidationError(t.Name+"."+kd.Name, err)
	}
	if e, ok := s.identity[identity{table: t.Name, key: identityOf(k)}]; ok {
		return e, nil
	}
	sel := s.selectEntity(t).Where(sql.EQ(t.C(kd.Name), k))
	if err := s.guardSelect(ctx, t, sel); err != nil {
		return nil, vellum.NewQueryError(t.Name, "get", err)
	}
	ents, err := s.fetch(ctx, t, sel, false)
	if err != nil {
		return nil, vellum.NewQueryError(t.Name, "get", err)
	}
	if len(ents) == 0 {
		return nil, vellum.NewNotFoundErrorWithID(t.Label, k)
	}
	return ents[0], nil
}

// Refresh reloads the attributes of a persistent entity, discarding its
// unflushed changes.
func (s *Session) Refresh(ctx context.Context, e *Entity) error {
	if err := s.usable(); err != nil {
		return err
	}
	if e.session != s || e.state != Persistent {
		return fmt.Errorf("vellum: refresh of %s %s", e.state, e)
	}
	t := e.table
	ents, err := s.fetch(ctx, t, s.selectEntity(t).Where(sql.EQ(t.C(e.keyColumn().Name), e.key)), true)
	if err != nil {
		return vellum.NewQueryError(t.Name, "refresh", err)
	}
	if len(ents) == 0 {
		return vellum.NewNotFoundErrorWithID(t.Label, e.key)
	}
	return nil
}

// Expunge detaches e from the session without deleting its row. Pending
// entities become transient, persistent ones detached.
func (s *Session) Expunge(e *Entity) error {
	if e.session != s {
		return fmt.Errorf("vellum: %s is not attached to this session", e)
	}
	switch e.state {
	case Pending:
		s.detach(e, Transient)
	case Deleted:
		s.detach(e, Deleted)
	default:
		s.detach(e, Detached)
	}
	return nil
}

// Commit flushes the pending changes and commits the transaction. When the
// flush or the commit fails, the transaction is rolled back and the
// entities are left as they were before the transaction wrote them.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		s.rewind(ctx)
		return err
	}
	if err := s.committer().Commit(ctx, s); err != nil {
		err = s.fail(err)
		s.rewind(ctx)
		return err
	}
	s.tx = nil
	written := slices.Sorted(maps.Keys(s.written))
	s.finish()
	s.engine.invalidate(ctx, written...)
	return nil
}

// finish forgets the transaction bookkeeping after a commit.
func (s *Session) finish() {
	for _, e := range s.touched {
		e.saved, e.generated = nil, nil
	}
	s.touched = nil
	s.written = nil
	kept := s.tracked[:0]
	for _, e := range s.tracked {
		if e.state == Deleted {
			e.session, e.reg = nil, s.engine.reg
			continue
		}
		for _, r := range e.handles() {
			r.purge()
		}
		kept = append(kept, e)
	}
	clear(s.tracked[len(kept):])
	s.tracked = kept
}

// rewind rolls the backend back after a failed flush or commit and
// restores the bookkeeping of the entities the transaction wrote, keeping
// the attribute values set by the application.
func (s *Session) rewind(ctx context.Context) {
	if s.tx != nil {
		if err := s.rollbacker().Rollback(ctx, s); err != nil {
			s.engine.logger.WarnContext(ctx, "vellum: rollback failed", "error", err)
		}
		s.tx = nil
	}
	for _, e := range s.touched {
		sn := e.saved
		if e.key != nil && s.identity[e.identity()] == e {
			delete(s.identity, e.identity())
		}
		for col := range e.generated {
			if v, ok := sn.values[col]; ok {
				e.values[col] = v
			} else {
				delete(e.values, col)
			}
		}
		e.state, e.key, e.base, e.deleting = sn.state, sn.key, sn.base, sn.deleting
		if e.state == Persistent {
			s.identity[e.identity()] = e
		}
		e.rediff()
		e.saved, e.generated = nil, nil
	}
	s.touched = nil
	s.written = nil
	for _, e := range s.tracked {
		for _, r := range e.handles() {
			r.restage()
		}
	}
}

// Rollback rolls the transaction back. Entities return to their last
// committed values; entities added since then become transient.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return vellum.ErrSessionClosed
	}
	var err error
	if s.tx != nil {
		err = s.rollbacker().Rollback(ctx, s)
		s.tx = nil
	}
	s.revert()
	if err != nil {
		return &vellum.RollbackError{Err: err}
	}
	return nil
}

func (s *Session) revert() {
	for _, e := range slices.Clone(s.tracked) {
		if sn := e.saved; sn != nil {
			if e.key != nil && s.identity[e.identity()] == e {
				delete(s.identity, e.identity())
			}
			e.state, e.key, e.base = sn.state, sn.key, sn.base
			for col := range e.generated {
				if v, ok := sn.values[col]; ok {
					e.values[col] = v
				} else {
					delete(e.values, col)
				}
			}
			e.saved, e.generated = nil, nil
		}
		for _, r := range e.handles() {
			r.reset()
		}
		switch e.state {
		case Pending, Transient:
			s.detach(e, Transient)
		default:
			e.state = Persistent
			e.deleting = false
			e.values = maps.Clone(e.base)
			e.history = nil
			s.identity[e.identity()] = e
		}
	}
	s.touched = nil
	s.written = nil
}

// Close rolls back the open transaction and detaches every entity.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.Rollback(ctx)
	for _, e := range slices.Clone(s.tracked) {
		_ = s.Expunge(e)
	}
	s.closed = true
	return err
}

// Warnings returns the warnings reported by the session, such as
// *vellum.StaleOverwriteWarning.
func (s *Session) Warnings() []error {
	return slices.Clone(s.warnings)
}

func (s *Session) warn(ctx context.Context, w *vellum.StaleOverwriteWarning) {
	s.warnings = append(s.warnings, w)
	s.engine.logger.WarnContext(ctx, "vellum: kept pending edit over fetched value",
		"table", w.Table, "key", w.Key, "column", w.Column)
}

// New returns the pending entities in the order they were added.
func (s *Session) New() []*Entity {
	return s.filter(func(e *Entity) bool { return e.state == Pending })
}

// Dirty returns the persistent entities with unflushed changes.
func (s *Session) Dirty() []*Entity {
	return s.filter(func(e *Entity) bool { return e.state == Persistent && !e.deleting && e.Modified() })
}

// Deleted returns the entities marked for deletion.
func (s *Session) Deleted() []*Entity {
	return s.filter(func(e *Entity) bool { return e.state == Persistent && e.deleting })
}

func (s *Session) filter(fn func(*Entity) bool) []*Entity {
	var ents []*Entity
	for _, e := range s.tracked {
		if fn(e) {
			ents = append(ents, e)
		}
	}
	return ents
}

// Contains reports whether e is attached to the session. Entities whose
// rows were deleted in the open transaction are not.
func (s *Session) Contains(e *Entity) bool { return e.session == s && e.state != Deleted }

// Load returns the handle of a relationship of e. The Eager strategy
// reads it immediately; Lazy defers the read to the first access.
func (s *Session) Load(ctx context.Context, e *Entity, name string, strategy LoadStrategy) (*Relation, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if e.session != s {
		return nil, fmt.Errorf("vellum: %s is not attached to this session", e)
	}
	r, err := e.Relation(name)
	if err != nil {
		return nil, err
	}
	if strategy == Eager && !r.loaded {
		if err := r.load(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// statement is implemented by the statement builders of dialect/sql.
type statement interface {
	Query() (string, []any, error)
}

// conn returns the transaction of the session, beginning it on first use.
func (s *Session) conn(ctx context.Context) (dialect.ExecQuerier, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if s.tx == nil {
		tx, err := s.engine.drv.Tx(ctx)
		if err != nil {
			return nil, s.fail(err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *Session) exec(ctx context.Context, st statement) (sql.Result, error) {
	query, args, err := st.Query()
	if err != nil {
		return nil, err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var res sql.Result
	if err := conn.Exec(ctx, query, args, &res); err != nil {
		return nil, s.fail(err)
	}
	return res, nil
}

func (s *Session) query(ctx context.Context, st statement) ([][]any, error) {
	query, args, err := st.Query()
	if err != nil {
		return nil, err
	}
	return s.queryText(ctx, query, args)
}

func (s *Session) queryText(ctx context.Context, query string, args []any) ([][]any, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows sql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		return nil, s.fail(err)
	}
	_, values, err := sql.ScanValues(&rows)
	if err != nil {
		return nil, s.fail(err)
	}
	return values, nil
}

// fail classifies a backend error. A lost connection makes the session
// unusable.
func (s *Session) fail(err error) error {
	err = sqlgraph.Classify(err)
	if vellum.IsConnectionLost(err) && s.err == nil {
		s.err = err
		s.engine.logger.Error("vellum: session connection lost", "error", err)
	}
	return err
}

func (s *Session) dialect() string { return s.engine.drv.Dialect() }

func (s *Session) wrote(table string) {
	if s.written == nil {
		s.written = make(map[string]struct{})
	}
	s.written[table] = struct{}{}
}
