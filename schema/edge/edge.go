package edge

import "fmt"

// Kind is the cardinality of a relationship.
type Kind uint8

// Relationship kinds.
const (
	OneToMany  Kind = iota + 1 // one owner row, many target rows; FK on the target
	ManyToOne                  // many owner rows, one target row; FK on the owner
	OneToOne                   // at most one target row; FK on either side
	ManyToMany                 // through an association table
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case OneToMany:
		return "O2M"
	case ManyToOne:
		return "M2O"
	case OneToOne:
		return "O2O"
	case ManyToMany:
		return "M2M"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Scalar reports whether the relationship yields at most one row.
func (k Kind) Scalar() bool { return k == ManyToOne || k == OneToOne }

// Inverse returns the kind seen from the target table.
func (k Kind) Inverse() Kind {
	switch k {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	}
	return k
}

// ParseKind parses "O2M", "one-to-many" and similar spellings.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "O2M", "o2m", "one-to-many", "one_to_many":
		return OneToMany, nil
	case "M2O", "m2o", "many-to-one", "many_to_one":
		return ManyToOne, nil
	case "O2O", "o2o", "one-to-one", "one_to_one":
		return OneToOne, nil
	case "M2M", "m2m", "many-to-many", "many_to_many":
		return ManyToMany, nil
	}
	return 0, fmt.Errorf("edge: unknown relationship kind %q", s)
}

// A Descriptor for edge configuration.
type Descriptor struct {
	Name   string
	Kind   Kind
	Target string
	// Through is the association table of M2M relationships.
	Through string
	// Columns overrides the derived join: owner.Columns[0] = target.Columns[1].
	Columns []string
	// ThroughColumns overrides the association table columns referencing
	// the owner and the target, in that order.
	ThroughColumns []string
	// OrderBy sorts the loaded collection by a target column.
	OrderBy string
	// Backref names the inverse relationship created on the target.
	Backref string
	Comment string
}

// Builder is the fluent builder for edge descriptors.
type Builder struct {
	desc *Descriptor
}

// New returns a relationship of kind k named name to the target table.
func New(k Kind, name, target string) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Kind: k, Target: target}}
}

// O2M returns a one-to-many relationship.
//
//	edge.O2M("orders", "orders").Backref("user")
func O2M(name, target string) *Builder { return New(OneToMany, name, target) }

// M2O returns a many-to-one relationship.
func M2O(name, target string) *Builder { return New(ManyToOne, name, target) }

// O2O returns a one-to-one relationship.
func O2O(name, target string) *Builder { return New(OneToOne, name, target) }

// M2M returns a many-to-many relationship. Through must be set.
//
//	edge.M2M("ingredients", "ingredients").Through("cookie_ingredients")
func M2M(name, target string) *Builder { return New(ManyToMany, name, target) }

// Through sets the association table.
func (b *Builder) Through(table string) *Builder {
	b.desc.Through = table
	return b
}

// Columns sets the join columns explicitly: the owner column and the
// target column compared for equality.
func (b *Builder) Columns(owner, target string) *Builder {
	b.desc.Columns = []string{owner, target}
	return b
}

// ThroughColumns sets the association table columns explicitly.
func (b *Builder) ThroughColumns(owner, target string) *Builder {
	b.desc.ThroughColumns = []string{owner, target}
	return b
}

// OrderBy sorts loaded collections by the given target column.
func (b *Builder) OrderBy(column string) *Builder {
	b.desc.OrderBy = column
	return b
}

// Backref declares the inverse relationship on the target table.
func (b *Builder) Backref(name string) *Builder {
	b.desc.Backref = name
	return b
}

// Comment sets the edge comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the schema.Edge interface by returning its descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
