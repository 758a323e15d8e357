package orm

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/schema/field"
)

// Proxy is a view of a collection relationship through one projection of
// its targets, such as the names of the keywords of an item. Values
// appended to the proxy become new targets built by the construct
// function and staged on the relationship.
type Proxy struct {
	rel       *Relation
	project   func(*Entity) any
	construct func(any) (*Entity, error)
}

// NewProxy returns a proxy over rel.
func NewProxy(rel *Relation, project func(*Entity) any, construct func(any) (*Entity, error)) *Proxy {
	return &Proxy{rel: rel, project: project, construct: construct}
}

// Proxy returns the association proxy declared on the table of e.
func (e *Entity) Proxy(name string) (*Proxy, error) {
	pd := e.table.FindProxy(name)
	if pd == nil {
		return nil, &vellum.UnknownRelationshipError{Table: e.table.Name, Name: name}
	}
	rel, err := e.Relation(pd.Relationship)
	if err != nil {
		return nil, err
	}
	reg := e.registry()
	if reg == nil {
		return nil, fmt.Errorf("vellum: proxy %s.%s: entity is not bound to a registry", e.table.Name, name)
	}
	target, err := reg.Table(rel.desc.Target)
	if err != nil {
		return nil, err
	}
	if _, ok := target.Column(pd.Attribute); !ok {
		return nil, &vellum.UnknownColumnError{Table: target.Name, Column: pd.Attribute}
	}
	attr := pd.Attribute
	return NewProxy(rel,
		func(t *Entity) any { return t.Get(attr) },
		func(v any) (*Entity, error) {
			t, err := New(target, map[string]any{attr: v})
			if err != nil {
				return nil, err
			}
			t.reg = reg
			return t, nil
		},
	), nil
}

// Relation returns the underlying relationship.
func (p *Proxy) Relation() *Relation { return p.rel }

// Values returns the projection of every target.
func (p *Proxy) Values(ctx context.Context) ([]any, error) {
	ents, err := p.rel.All(ctx)
	if err != nil {
		return nil, err
	}
	vs := make([]any, len(ents))
	for i, e := range ents {
		vs[i] = p.project(e)
	}
	return vs, nil
}

// Append constructs a target for each value and appends it to the
// relationship.
func (p *Proxy) Append(ctx context.Context, values ...any) error {
	targets := make([]*Entity, 0, len(values))
	for _, v := range values {
		t, err := p.construct(v)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}
	return p.rel.Append(ctx, targets...)
}

// Remove removes the first target whose projection equals v. It is a
// no-op when no target matches.
func (p *Proxy) Remove(ctx context.Context, v any) error {
	ents, err := p.rel.All(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(ents, func(e *Entity) bool { return field.Equal(p.project(e), v) })
	if i < 0 {
		return nil
	}
	return p.rel.Remove(ctx, ents[i])
}
