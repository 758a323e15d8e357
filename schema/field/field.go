package field

import (
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// Type is the semantic type of a column.
type Type uint8

// Column types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeDecimal
	TypeString
	TypeText
	TypeTime
	TypeUUID
	TypeBytes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeDecimal: "decimal",
	TypeString:  "string",
	TypeText:    "text",
	TypeTime:    "time",
	TypeUUID:    "uuid",
	TypeBytes:   "bytes",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// ParseType returns the Type with the given name. "integer", "varchar"
// and a few other common spellings are accepted.
func ParseType(name string) (Type, error) {
	switch name {
	case "integer", "int64", "bigint":
		return TypeInt, nil
	case "float64", "real", "double":
		return TypeFloat, nil
	case "numeric":
		return TypeDecimal, nil
	case "varchar":
		return TypeString, nil
	case "timestamp", "datetime":
		return TypeTime, nil
	case "blob":
		return TypeBytes, nil
	case "boolean":
		return TypeBool, nil
	}
	for t, n := range typeNames {
		if n == name && Type(t) != TypeInvalid {
			return Type(t), nil
		}
	}
	return TypeInvalid, fmt.Errorf("field: unknown type %q", name)
}

// Numeric reports whether the type holds numbers.
func (t Type) Numeric() bool { return t == TypeInt || t == TypeFloat || t == TypeDecimal }

// Reference is the target of a foreign key column.
type Reference struct {
	Table    string
	Column   string
	OnDelete string // NO ACTION, CASCADE, SET NULL, RESTRICT
	Name     string // Constraint name; derived from the column when empty.
}

// A Descriptor for field configuration.
type Descriptor struct {
	Name          string
	Type          Type
	Size          int // Max length of string columns, 0 for unbounded.
	Precision     int
	Scale         int
	PrimaryKey    bool
	Unique        bool
	Index         bool
	Optional      bool // May be omitted on insert.
	Nillable      bool // NULL is a valid value.
	Default       func() any
	UpdateDefault func() any
	Validators    []func(any) error
	Reference     *Reference
	Comment       string
	Err           error
}

// Builder is the fluent builder for field descriptors.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// Bool returns a new boolean field.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Int returns a new integer field. Integers are 64 bit.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Int64 is an alias of Int.
func Int64(name string) *Builder { return newBuilder(name, TypeInt) }

// Float returns a new floating point field.
func Float(name string) *Builder { return newBuilder(name, TypeFloat) }

// Decimal returns a new fixed point field, NUMERIC(12, 2) unless
// Precision is called.
func Decimal(name string) *Builder {
	b := newBuilder(name, TypeDecimal)
	b.desc.Precision, b.desc.Scale = 12, 2
	return b
}

// String returns a new string field, VARCHAR(255) unless MaxLen is called.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Text returns a new unbounded string field.
func Text(name string) *Builder { return newBuilder(name, TypeText) }

// Time returns a new timestamp field.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// UUID returns a new UUID field.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// Bytes returns a new binary field.
func Bytes(name string) *Builder { return newBuilder(name, TypeBytes) }

// New returns a field of type t.
func New(name string, t Type) *Builder {
	if t == TypeDecimal {
		return Decimal(name)
	}
	return newBuilder(name, t)
}

// PrimaryKey marks the field as (part of) the primary key.
// Integer primary keys are assigned by the backend.
func (b *Builder) PrimaryKey() *Builder {
	b.desc.PrimaryKey = true
	return b
}

// Unique adds a unique constraint on the field.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Index adds a non unique index on the field.
func (b *Builder) Index() *Builder {
	b.desc.Index = true
	return b
}

// Optional allows the field to be omitted on insert.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Nillable makes the column nullable.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	b.desc.Optional = true
	return b
}

// MaxLen sets the column size and adds a length validator.
func (b *Builder) MaxLen(n int) *Builder {
	b.desc.Size = n
	return b.Validate(func(v any) error {
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > n {
			return fmt.Errorf("value is longer than %d characters", n)
		}
		return nil
	})
}

// NotEmpty adds a validator rejecting empty strings.
func (b *Builder) NotEmpty() *Builder {
	return b.Validate(func(v any) error {
		if s, ok := v.(string); ok && s == "" {
			return errors.New("value is empty")
		}
		return nil
	})
}

// Min adds a validator rejecting numbers below i.
func (b *Builder) Min(i float64) *Builder {
	return b.Validate(func(v any) error {
		if f, ok := toFloat(v); ok && f < i {
			return fmt.Errorf("value is less than %v", i)
		}
		return nil
	})
}

// Max adds a validator rejecting numbers above i.
func (b *Builder) Max(i float64) *Builder {
	return b.Validate(func(v any) error {
		if f, ok := toFloat(v); ok && f > i {
			return fmt.Errorf("value is greater than %v", i)
		}
		return nil
	})
}

// NonNegative adds a validator rejecting negative numbers.
func (b *Builder) NonNegative() *Builder { return b.Min(0) }

// Validate adds a validator. Validators are not called for NULL values.
func (b *Builder) Validate(fn func(any) error) *Builder {
	b.desc.Validators = append(b.desc.Validators, fn)
	return b
}

// Precision sets the precision and scale of a decimal field.
func (b *Builder) Precision(precision, scale int) *Builder {
	if scale > precision || precision <= 0 || scale < 0 {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: invalid precision (%d, %d)", b.desc.Name, precision, scale))
	}
	b.desc.Precision, b.desc.Scale = precision, scale
	return b
}

// Default sets the value used when the field is not set on insert. v is
// either a value or a function without arguments returning one, such as
// time.Now or uuid.New.
func (b *Builder) Default(v any) *Builder {
	fn, err := valueFunc(v)
	if err != nil {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: default: %w", b.desc.Name, err))
	}
	b.desc.Default = fn
	return b
}

// UpdateDefault sets the value written on every update of the entity.
func (b *Builder) UpdateDefault(v any) *Builder {
	fn, err := valueFunc(v)
	if err != nil {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: update default: %w", b.desc.Name, err))
	}
	b.desc.UpdateDefault = fn
	return b
}

// References makes the field a foreign key to table.column.
func (b *Builder) References(table, column string) *Builder {
	b.desc.Reference = &Reference{Table: table, Column: column}
	return b
}

// OnDelete sets the referential action of the foreign key.
func (b *Builder) OnDelete(action string) *Builder {
	if b.desc.Reference == nil {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: OnDelete without References", b.desc.Name))
		return b
	}
	b.desc.Reference.OnDelete = action
	return b
}

// Comment sets the column comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the schema.Field interface by returning its descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}

// Validate runs the validators of the field against v.
func (d *Descriptor) Validate(v any) error {
	if v == nil {
		if !d.Nillable {
			return fmt.Errorf("field %q: NULL value for non-nillable field", d.Name)
		}
		return nil
	}
	for _, fn := range d.Validators {
		if err := fn(v); err != nil {
			return fmt.Errorf("field %q: %w", d.Name, err)
		}
	}
	return nil
}

// Normalize converts v into the canonical Go type of the field.
func (d *Descriptor) Normalize(v any) (any, error) {
	n, err := Normalize(d.Type, v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", d.Name, err)
	}
	return n, nil
}

func valueFunc(v any) (func() any, error) {
	if v == nil {
		return func() any { return nil }, nil
	}
	if fn, ok := v.(func() any); ok {
		return fn, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func {
		return func() any { return v }, nil
	}
	if rv.Type().NumIn() != 0 || rv.Type().NumOut() != 1 {
		return nil, fmt.Errorf("expect func() T, got %s", rv.Type())
	}
	return func() any { return rv.Call(nil)[0].Interface() }, nil
}
