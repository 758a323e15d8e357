package schema

import (
	"fmt"
	"regexp"
	"strings"

	"ariga.io/atlas/sql/schema"

	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/field"
)

// Problem is one finding of Validate or ValidateChanges.
type Problem struct {
	Table   string
	Column  string
	Message string
	// Fatal problems stop Create. The others are logged.
	Fatal bool
	// Lossy marks changes that may lose data or fail on existing rows.
	Lossy bool
}

func (p *Problem) Error() string {
	var sb strings.Builder
	if p.Table != "" {
		sb.WriteString(p.Table)
		if p.Column != "" {
			sb.WriteString("." + p.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(p.Message)
	if p.Lossy {
		sb.WriteString(" (lossy)")
	}
	return sb.String()
}

// Report lists the problems found by a validation, in discovery order.
type Report []*Problem

// Fatal returns the problems that stop Create.
func (r Report) Fatal() Report { return r.pick(true) }

// Warnings returns the problems that are only logged.
func (r Report) Warnings() Report { return r.pick(false) }

// Lossy reports whether a change of the report may lose data.
func (r Report) Lossy() bool {
	for _, p := range r {
		if p.Lossy {
			return true
		}
	}
	return false
}

// Err joins the fatal problems, or returns nil.
func (r Report) Err() error {
	fatal := r.Fatal()
	if len(fatal) == 0 {
		return nil
	}
	lines := make([]string, len(fatal))
	for i, p := range fatal {
		lines[i] = "  " + p.Error()
	}
	return fmt.Errorf("sql/schema: %d blocking problem(s):\n%s", len(fatal), strings.Join(lines, "\n"))
}

func (r Report) pick(fatal bool) Report {
	var out Report
	for _, p := range r {
		if p.Fatal == fatal {
			out = append(out, p)
		}
	}
	return out
}

func (r *Report) add(p Problem) { *r = append(*r, &p) }

func (r *Report) warnf(table, column, format string, args ...any) {
	r.add(Problem{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) failf(table, column, format string, args ...any) {
	r.add(Problem{Table: table, Column: column, Message: fmt.Sprintf(format, args...), Fatal: true})
}

// Allowance is a bit set of lossy changes ValidateChanges downgrades to
// warnings.
type Allowance uint

// Lossy change kinds.
const (
	AllowDropTable Allowance = 1 << iota
	AllowDropColumn
	AllowDropIndex
	AllowNullToNotNull
)

// Has reports whether a contains k.
func (a Allowance) Has(k Allowance) bool { return a&k != 0 }

// ValidateChanges classifies a change set computed by the differ. Drops
// and columns turning NOT NULL are fatal unless allowed. Risky changes
// such as narrowed strings or new unique indexes are warnings.
//
//	report := schema.ValidateChanges(changes, schema.AllowDropIndex|schema.AllowDropColumn)
//	if err := report.Err(); err != nil {
//		return err
//	}
func ValidateChanges(changes []schema.Change, allow Allowance) Report {
	var r Report
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.DropTable:
			r.add(Problem{Table: c.T.Name, Message: "table is dropped", Lossy: true, Fatal: !allow.Has(AllowDropTable)})
		case *schema.ModifyTable:
			for _, tc := range c.Changes {
				r.tableChange(c.T.Name, tc, allow)
			}
		}
	}
	return r
}

func (r *Report) tableChange(table string, c schema.Change, allow Allowance) {
	switch c := c.(type) {
	case *schema.DropColumn:
		r.add(Problem{Table: table, Column: c.C.Name, Message: "column is dropped", Lossy: true, Fatal: !allow.Has(AllowDropColumn)})
	case *schema.AddColumn:
		if c.C.Type != nil && !c.C.Type.Null && c.C.Default == nil {
			r.warnf(table, c.C.Name, "NOT NULL column added without a default, existing rows make it fail")
		}
	case *schema.ModifyColumn:
		from, to := c.From, c.To
		if from.Type == nil || to.Type == nil {
			return
		}
		if c.Change.Is(schema.ChangeNull) && from.Type.Null && !to.Type.Null {
			r.add(Problem{Table: table, Column: to.Name, Message: "column becomes NOT NULL, existing NULLs make it fail", Lossy: true, Fatal: !allow.Has(AllowNullToNotNull)})
		}
		if !c.Change.Is(schema.ChangeType) {
			return
		}
		r.warnf(table, to.Name, "type changes from %s to %s", from.Type.Raw, to.Type.Raw)
		was, ok1 := from.Type.Type.(*schema.StringType)
		now, ok2 := to.Type.Type.(*schema.StringType)
		if ok1 && ok2 && now.Size > 0 && now.Size < was.Size {
			r.add(Problem{Table: table, Column: to.Name, Message: fmt.Sprintf("size shrinks from %d to %d", was.Size, now.Size), Lossy: true})
		}
	case *schema.DropIndex:
		r.add(Problem{Table: table, Message: fmt.Sprintf("index %q is dropped", c.I.Name), Fatal: !allow.Has(AllowDropIndex)})
	case *schema.AddIndex:
		if c.I.Unique {
			r.warnf(table, "", "unique index %q added, existing duplicates make it fail", c.I.Name)
		}
	}
}

// maxIdentifier is the identifier length limit of Postgres, the shortest
// among the supported dialects.
const maxIdentifier = 63

var snakeCase = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the declarations of a registry for problems the
// registry itself accepts: missing primary keys, identifiers the
// backends reject or quote, duplicate index names and foreign keys whose
// column types differ from the referenced column. Resolution errors are
// reported too.
func Validate(reg *vschema.Registry) Report {
	var result Report
	if err := reg.Resolve(); err != nil {
		for _, err := range unjoin(err) {
			result.failf("", "", "%v", err)
		}
	}
	indexes := make(map[string]string)
	addIndex := func(table, name string) {
		if other, ok := indexes[name]; ok {
			result.failf(table, "", "duplicate index name %q (also on %s)", name, other)
			return
		}
		indexes[name] = table
	}
	tables := reg.Tables()
	for _, t := range tables {
		validateName(&result, t.Name, "", t.Name)
		pk := t.PrimaryKeyColumns()
		if len(pk) == 0 {
			result.warnf(t.Name, "", "table has no primary key")
		}
		for _, name := range pk {
			c, ok := t.Column(name)
			switch {
			case !ok:
				result.failf(t.Name, name, "primary key column does not exist")
			case c.Nillable:
				result.failf(t.Name, name, "primary key column is nullable")
			}
		}
		for _, c := range t.Columns {
			validateName(&result, t.Name, c.Name, c.Name)
			if c.Type == field.TypeInvalid {
				result.failf(t.Name, c.Name, "column has no type")
			}
			if (c.Unique || c.Index) && !(c.PrimaryKey && len(pk) == 1) {
				addIndex(t.Name, columnIndexName(t.Name, c))
			}
		}
		for _, idx := range t.Indices {
			name := indexName(t.Name, idx.StorageKey, idx.Fields, idx.Unique)
			validateName(&result, t.Name, "", name)
			addIndex(t.Name, name)
			if len(idx.Fields) == 0 {
				result.failf(t.Name, "", "index %q has no columns", name)
			}
			for _, f := range idx.Fields {
				if _, ok := t.Column(f); !ok {
					result.failf(t.Name, "", "index %q references non-existent column %q", name, f)
				}
			}
		}
		for _, fk := range t.ForeignKeys {
			validateName(&result, t.Name, "", fk.Name)
			ref, err := reg.Table(fk.RefTable)
			if err != nil {
				continue
			}
			col, _ := t.Column(fk.Column)
			refCol, ok := ref.Column(fk.RefColumn)
			if !ok || col == nil {
				continue
			}
			if col.Type != refCol.Type {
				result.failf(t.Name, fk.Column, "foreign key type %s differs from %s.%s type %s", col.Type, ref.Name, refCol.Name, refCol.Type)
			}
			refPK := ref.PrimaryKeyColumns()
			if !refCol.Unique && !(len(refPK) == 1 && refPK[0] == refCol.Name) {
				result.warnf(t.Name, fk.Column, "foreign key references %s.%s which is neither unique nor the primary key", ref.Name, refCol.Name)
			}
		}
	}
	return result
}

func validateName(result *Report, table, column, name string) {
	if len(name) > maxIdentifier {
		result.failf(table, column, "identifier %q is longer than %d characters", name, maxIdentifier)
	}
	if !snakeCase.MatchString(name) {
		result.warnf(table, column, "identifier %q is not lower snake case and must be quoted", name)
	}
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var errs []error
		for _, e := range j.Unwrap() {
			errs = append(errs, unjoin(e)...)
		}
		return errs
	}
	return []error{err}
}
