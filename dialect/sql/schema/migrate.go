package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/field"
)

// ChangeKind is a bit set of schema change kinds.
type ChangeKind uint

// Change kinds that can be skipped with WithSkipChanges.
const (
	NoChange     ChangeKind = 0
	AddTable     ChangeKind = 1 << (iota - 1)
	DropTable
	AddColumn
	DropColumn
	ModifyColumn
	AddIndex
	DropIndex
	AddForeignKey
	DropForeignKey
	ModifyForeignKey
)

// Is reports whether c contains all kinds of k.
func (c ChangeKind) Is(k ChangeKind) bool { return c&k == k && k != NoChange }

type (
	// Differ computes the changes turning the current schema into the
	// desired one.
	Differ interface {
		Diff(current, desired *schema.Schema) ([]schema.Change, error)
	}
	// DiffFunc adapts a function to Differ.
	DiffFunc func(current, desired *schema.Schema) ([]schema.Change, error)
	// DiffHook wraps a Differ.
	DiffHook func(Differ) Differ

	// Applier applies changes to the database.
	Applier interface {
		Apply(ctx context.Context, changes []schema.Change) error
	}
	// ApplyFunc adapts a function to Applier.
	ApplyFunc func(ctx context.Context, changes []schema.Change) error
	// ApplyHook wraps an Applier.
	ApplyHook func(Applier) Applier
)

// Diff calls f(current, desired).
func (f DiffFunc) Diff(current, desired *schema.Schema) ([]schema.Change, error) {
	return f(current, desired)
}

// Apply calls f(ctx, changes).
func (f ApplyFunc) Apply(ctx context.Context, changes []schema.Change) error {
	return f(ctx, changes)
}

// Atlas creates and updates the tables of a registry. Tables that are
// not declared are left alone; columns and indexes are only dropped when
// enabled.
type Atlas struct {
	drv             *sql.Driver
	dialect         string
	schemaName      string
	dropColumns     bool
	dropIndexes     bool
	withForeignKeys bool
	skip            ChangeKind
	diffHooks       []DiffHook
	applyHooks      []ApplyHook
	logger          *slog.Logger
}

// MigrateOption configures Atlas.
type MigrateOption func(*Atlas)

// WithDropColumn sets the columns dropping option.
func WithDropColumn(b bool) MigrateOption {
	return func(a *Atlas) { a.dropColumns = b }
}

// WithDropIndex sets the indexes dropping option.
func WithDropIndex(b bool) MigrateOption {
	return func(a *Atlas) { a.dropIndexes = b }
}

// WithForeignKeys enables creating foreign keys. Enabled by default.
func WithForeignKeys(b bool) MigrateOption {
	return func(a *Atlas) { a.withForeignKeys = b }
}

// WithSchemaName sets the database schema to inspect and change. The
// connection's current schema is used when empty.
func WithSchemaName(name string) MigrateOption {
	return func(a *Atlas) { a.schemaName = name }
}

// WithSkipChanges skips the given change kinds.
func WithSkipChanges(skip ChangeKind) MigrateOption {
	return func(a *Atlas) { a.skip = skip }
}

// WithDiffHook adds hooks wrapping the schema differ.
func WithDiffHook(hooks ...DiffHook) MigrateOption {
	return func(a *Atlas) { a.diffHooks = append(a.diffHooks, hooks...) }
}

// WithApplyHook adds hooks wrapping the change applier.
func WithApplyHook(hooks ...ApplyHook) MigrateOption {
	return func(a *Atlas) { a.applyHooks = append(a.applyHooks, hooks...) }
}

// WithLogger sets the logger receiving the applied statements.
func WithLogger(l *slog.Logger) MigrateOption {
	return func(a *Atlas) { a.logger = l }
}

// NewMigrate returns an Atlas migrating the database behind drv.
func NewMigrate(drv *sql.Driver, opts ...MigrateOption) (*Atlas, error) {
	a := &Atlas{drv: drv, dialect: drv.Dialect(), withForeignKeys: true}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	switch a.dialect {
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
	default:
		return nil, fmt.Errorf("sql/schema: unsupported dialect %q", a.dialect)
	}
	return a, nil
}

// Create creates the tables of reg that do not exist and adds the
// missing columns, indexes and foreign keys of those that do.
func Create(ctx context.Context, drv *sql.Driver, reg *vschema.Registry, opts ...MigrateOption) error {
	m, err := NewMigrate(drv, opts...)
	if err != nil {
		return err
	}
	return m.Create(ctx, reg)
}

// Create applies the changes needed for the database to match reg.
func (a *Atlas) Create(ctx context.Context, reg *vschema.Registry) error {
	for _, p := range Validate(reg) {
		level := slog.LevelWarn
		if p.Fatal {
			level = slog.LevelError
		}
		a.logger.Log(ctx, level, "schema declaration", "table", p.Table, "column", p.Column, "problem", p.Message)
	}
	drv, changes, err := a.changes(ctx, reg)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	report := ValidateChanges(changes, a.allowance())
	for _, w := range report.Warnings() {
		a.logger.Warn("schema change", "table", w.Table, "column", w.Column, "warning", w.Message, "lossy", w.Lossy)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("sql/schema: refusing to apply changes: %w", err)
	}
	var applier Applier = ApplyFunc(func(ctx context.Context, changes []schema.Change) error {
		return drv.ApplyChanges(ctx, changes)
	})
	for i := len(a.applyHooks) - 1; i >= 0; i-- {
		applier = a.applyHooks[i](applier)
	}
	if err := applier.Apply(ctx, changes); err != nil {
		return fmt.Errorf("sql/schema: apply changes: %w", err)
	}
	a.logger.Info("schema created", "dialect", a.dialect, "changes", len(changes))
	return nil
}

// Plan returns the statements Create would execute, without executing
// them.
func (a *Atlas) Plan(ctx context.Context, reg *vschema.Registry) ([]string, error) {
	drv, changes, err := a.changes(ctx, reg)
	if err != nil || len(changes) == 0 {
		return nil, err
	}
	plan, err := drv.PlanChanges(ctx, "plan", changes)
	if err != nil {
		return nil, fmt.Errorf("sql/schema: plan changes: %w", err)
	}
	stmts := make([]string, len(plan.Changes))
	for i, c := range plan.Changes {
		stmts[i] = c.Cmd
	}
	return stmts, nil
}

func (a *Atlas) changes(ctx context.Context, reg *vschema.Registry) (migrate.Driver, []schema.Change, error) {
	drv, err := a.atlasDriver()
	if err != nil {
		return nil, nil, err
	}
	tables := reg.Tables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	current, err := drv.InspectSchema(ctx, a.schemaName, &schema.InspectOptions{Tables: names})
	if err != nil {
		return nil, nil, fmt.Errorf("sql/schema: inspect schema: %w", err)
	}
	desired, err := a.desired(reg, current.Name)
	if err != nil {
		return nil, nil, err
	}
	var differ Differ = DiffFunc(func(current, desired *schema.Schema) ([]schema.Change, error) {
		return drv.SchemaDiff(current, desired)
	})
	for i := len(a.diffHooks) - 1; i >= 0; i-- {
		differ = a.diffHooks[i](differ)
	}
	changes, err := differ.Diff(current, desired)
	if err != nil {
		return nil, nil, fmt.Errorf("sql/schema: diff schema: %w", err)
	}
	return drv, a.filter(changes), nil
}

func (a *Atlas) atlasDriver() (migrate.Driver, error) {
	db := a.drv.DB()
	switch a.dialect {
	case dialect.SQLite:
		return sqlite.Open(db)
	case dialect.Postgres:
		return postgres.Open(db)
	case dialect.MySQL:
		return mysql.Open(db)
	}
	return nil, fmt.Errorf("sql/schema: unsupported dialect %q", a.dialect)
}

func (a *Atlas) allowance() Allowance {
	allow := AllowDropTable
	if a.dropColumns {
		allow |= AllowDropColumn
	}
	if a.dropIndexes {
		allow |= AllowDropIndex
	}
	return allow
}

// filter removes the changes that are skipped or not enabled. Tables
// missing from the registry are never dropped.
func (a *Atlas) filter(changes []schema.Change) []schema.Change {
	out := make([]schema.Change, 0, len(changes))
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.AddTable:
			if a.skip.Is(AddTable) {
				continue
			}
			if !a.withForeignKeys {
				c.T.ForeignKeys = nil
			}
		case *schema.DropTable:
			continue
		case *schema.ModifyTable:
			c.Changes = a.filter(c.Changes)
			if len(c.Changes) == 0 {
				continue
			}
		case *schema.AddColumn:
			if a.skip.Is(AddColumn) {
				continue
			}
		case *schema.DropColumn:
			if !a.dropColumns || a.skip.Is(DropColumn) {
				continue
			}
		case *schema.ModifyColumn:
			if a.skip.Is(ModifyColumn) {
				continue
			}
		case *schema.AddIndex:
			if a.skip.Is(AddIndex) {
				continue
			}
		case *schema.DropIndex:
			if !a.dropIndexes || a.skip.Is(DropIndex) {
				continue
			}
		case *schema.AddForeignKey:
			if !a.withForeignKeys || a.skip.Is(AddForeignKey) {
				continue
			}
		case *schema.DropForeignKey:
			if !a.withForeignKeys || a.skip.Is(DropForeignKey) {
				continue
			}
		case *schema.ModifyForeignKey:
			if !a.withForeignKeys || a.skip.Is(ModifyForeignKey) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// desired converts the registry into an atlas schema named name.
func (a *Atlas) desired(reg *vschema.Registry, name string) (*schema.Schema, error) {
	s := schema.New(name)
	tables := make(map[string]*schema.Table)
	for _, t := range reg.Tables() {
		tbl, err := a.table(t)
		if err != nil {
			return nil, err
		}
		tables[t.Name] = tbl
		s.AddTables(tbl)
	}
	if !a.withForeignKeys {
		return s, nil
	}
	var errs []error
	for _, t := range reg.Tables() {
		tbl := tables[t.Name]
		for _, fk := range t.ForeignKeys {
			ref, ok := tables[fk.RefTable]
			if !ok {
				errs = append(errs, fmt.Errorf("foreign key %s: unknown table %q", fk.Name, fk.RefTable))
				continue
			}
			col, _ := tbl.Column(fk.Column)
			refCol, ok := ref.Column(fk.RefColumn)
			if !ok {
				errs = append(errs, fmt.Errorf("foreign key %s: unknown column %s.%s", fk.Name, fk.RefTable, fk.RefColumn))
				continue
			}
			action := schema.NoAction
			if fk.OnDelete != "" {
				action = schema.ReferenceOption(strings.ToUpper(fk.OnDelete))
			}
			tbl.AddForeignKeys(schema.NewForeignKey(fk.Name).
				AddColumns(col).
				SetRefTable(ref).
				AddRefColumns(refCol).
				SetOnUpdate(schema.NoAction).
				SetOnDelete(action))
		}
	}
	return s, errors.Join(errs...)
}

func (a *Atlas) table(t *vschema.TableSchema) (*schema.Table, error) {
	tbl := schema.NewTable(t.Name)
	if t.Comment != "" {
		tbl.SetComment(t.Comment)
	}
	pk := t.PrimaryKeyColumns()
	for _, d := range t.Columns {
		c := schema.NewColumn(d.Name).
			SetType(a.columnType(d)).
			SetNull(d.Nillable)
		if d.Comment != "" {
			c.SetComment(d.Comment)
		}
		if len(pk) == 1 && pk[0] == d.Name && d.Type == field.TypeInt && d.Default == nil {
			c.AddAttrs(a.increment())
		}
		tbl.AddColumns(c)
	}
	if len(pk) > 0 {
		cols := make([]*schema.Column, 0, len(pk))
		for _, name := range pk {
			c, ok := tbl.Column(name)
			if !ok {
				return nil, fmt.Errorf("sql/schema: table %q: primary key column %q does not exist", t.Name, name)
			}
			cols = append(cols, c)
		}
		tbl.SetPrimaryKey(schema.NewPrimaryKey(cols...))
	}
	for _, d := range t.Columns {
		if d.PrimaryKey && len(pk) == 1 {
			continue
		}
		if !d.Unique && !d.Index {
			continue
		}
		c, _ := tbl.Column(d.Name)
		tbl.AddIndexes(schema.NewIndex(columnIndexName(t.Name, d)).
			SetUnique(d.Unique).
			AddColumns(c))
	}
	for _, idx := range t.Indices {
		cols := make([]*schema.Column, 0, len(idx.Fields))
		for _, name := range idx.Fields {
			c, ok := tbl.Column(name)
			if !ok {
				return nil, fmt.Errorf("sql/schema: table %q: index column %q does not exist", t.Name, name)
			}
			cols = append(cols, c)
		}
		tbl.AddIndexes(schema.NewIndex(indexName(t.Name, idx.StorageKey, idx.Fields, idx.Unique)).
			SetUnique(idx.Unique).
			AddColumns(cols...))
	}
	return tbl, nil
}

func (a *Atlas) increment() schema.Attr {
	switch a.dialect {
	case dialect.Postgres:
		return &postgres.Identity{Generation: "BY DEFAULT"}
	case dialect.MySQL:
		return &mysql.AutoIncrement{}
	default:
		return &sqlite.AutoIncrement{}
	}
}

// pick returns the type name of the current dialect.
func (a *Atlas) pick(sqliteT, postgresT, mysqlT string) string {
	switch a.dialect {
	case dialect.Postgres:
		return postgresT
	case dialect.MySQL:
		return mysqlT
	default:
		return sqliteT
	}
}

func (a *Atlas) columnType(d *field.Descriptor) schema.Type {
	switch d.Type {
	case field.TypeBool:
		return &schema.BoolType{T: a.pick("bool", "boolean", "bool")}
	case field.TypeInt:
		return &schema.IntegerType{T: a.pick("integer", "bigint", "bigint")}
	case field.TypeFloat:
		return &schema.FloatType{T: a.pick("real", "double precision", "double")}
	case field.TypeDecimal:
		return &schema.DecimalType{T: a.pick("decimal", "numeric", "decimal"), Precision: d.Precision, Scale: d.Scale}
	case field.TypeText:
		return &schema.StringType{T: a.pick("text", "text", "longtext")}
	case field.TypeTime:
		return &schema.TimeType{T: a.pick("datetime", "timestamp with time zone", "datetime")}
	case field.TypeUUID:
		if a.dialect == dialect.MySQL {
			return &schema.StringType{T: "char", Size: 36}
		}
		return &schema.UUIDType{T: "uuid"}
	case field.TypeBytes:
		return &schema.BinaryType{T: a.pick("blob", "bytea", "longblob")}
	default:
		size := d.Size
		if size <= 0 {
			size = 255
		}
		return &schema.StringType{T: "varchar", Size: size}
	}
}

func columnIndexName(table string, d *field.Descriptor) string {
	return indexName(table, "", []string{d.Name}, d.Unique)
}

// indexName returns key, or a name derived from the table and columns.
func indexName(table, key string, columns []string, unique bool) string {
	if key != "" {
		return key
	}
	suffix := "idx"
	if unique {
		suffix = "key"
	}
	return table + "_" + strings.Join(columns, "_") + "_" + suffix
}
