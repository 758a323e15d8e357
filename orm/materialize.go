package orm

import (
	"context"
	"maps"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect/sql"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/field"
)

// columnsOf returns the columns of t in declaration order.
func columnsOf(t *vschema.TableSchema) []sql.Expr {
	cols := make([]sql.Expr, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = t.C(c.Name)
	}
	return cols
}

func (s *Session) selectEntity(t *vschema.TableSchema) *sql.Selector {
	return sql.Dialect(s.dialect()).Select(columnsOf(t)...).From(t.Name)
}

// fetch runs sel, whose leading items are the columns of t, and returns
// the entities of the rows in order.
func (s *Session) fetch(ctx context.Context, t *vschema.TableSchema, sel statement, force bool) ([]*Entity, error) {
	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	n := len(t.Columns)
	ents := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := s.materialize(ctx, t, row[:n], force)
		if err != nil {
			return nil, err
		}
		if e != nil {
			ents = append(ents, e)
		}
	}
	return ents, nil
}

// materialize returns the entity of a row. A row whose key is in the
// identity map is merged into the existing entity; rows without a key, as
// produced by outer joins, yield nil.
func (s *Session) materialize(ctx context.Context, t *vschema.TableSchema, row []any, force bool) (*Entity, error) {
	values := make(map[string]any, len(t.Columns))
	for i, c := range t.Columns {
		v, err := c.Normalize(row[i])
		if err != nil {
			return nil, vellum.NewValidationError(t.Name+"."+c.Name, err)
		}
		values[c.Name] = v
	}
	kd, err := t.Key()
	if err != nil {
		return nil, err
	}
	key := values[kd.Name]
	if key == nil {
		return nil, nil
	}
	id := identity{table: t.Name, key: identityOf(key)}
	if e, ok := s.identity[id]; ok {
		s.merge(ctx, e, values, force)
		return e, nil
	}
	e := &Entity{
		table:  t,
		state:  Persistent,
		key:    key,
		values: values,
		base:   maps.Clone(values),
	}
	s.track(e)
	s.identity[id] = e
	return e, nil
}

// merge applies fetched values to an entity of the identity map. Columns
// with unflushed edits keep them unless force is set; a fetched value that
// differs from both the edit and the loaded image is reported as a
// *vellum.StaleOverwriteWarning.
func (s *Session) merge(ctx context.Context, e *Entity, fetched map[string]any, force bool) {
	if e.deleting && !force {
		return
	}
	for col, v := range fetched {
		h, edited := e.history[col]
		switch {
		case force || !edited:
			e.values[col] = v
		case !field.Equal(v, e.base[col]) && !field.Equal(v, h.New):
			s.warn(ctx, &vellum.StaleOverwriteWarning{
				Table:   e.table.Name,
				Key:     e.key,
				Column:  col,
				Local:   h.New,
				Fetched: v,
			})
		}
		if e.base == nil {
			e.base = make(map[string]any, len(fetched))
		}
		e.base[col] = v
	}
	if force {
		e.history = nil
		e.deleting = false
		return
	}
	e.rediff()
}

// columnDescriptor returns the descriptor of a column of a registered table.
func (s *Session) columnDescriptor(table, column string) (*field.Descriptor, bool) {
	t, err := s.engine.reg.Table(table)
	if err != nil {
		return nil, false
	}
	return t.Column(column)
}
