// Package index provides a fluent builder for declaring table indexes.
//
//	index.Fields("last_name", "first_name")
//	index.Fields("email").Unique().StorageKey("users_email_key")
package index

// Descriptor is the declared shape of an index.
type Descriptor struct {
	Fields     []string
	Unique     bool
	StorageKey string // Index name; derived from the table and fields when empty.
}

// Builder declares an index.
type Builder struct {
	desc *Descriptor
}

// Fields creates an index on the given columns, in that order.
func Fields(fields ...string) *Builder {
	return &Builder{desc: &Descriptor{Fields: fields}}
}

// Unique makes the index reject duplicate tuples.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// StorageKey sets the index name.
func (b *Builder) StorageKey(key string) *Builder {
	b.desc.StorageKey = key
	return b
}

// Descriptor returns the declared index.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
