package schema

import (
	"context"
	"path/filepath"
	"testing"

	"ariga.io/atlas/sql/schema"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
	"github.com/syssam/vellum/schema/index"
)

func shopRegistry(t *testing.T) *vschema.Registry {
	t.Helper()
	reg, err := vschema.NewRegistry(
		vschema.Table("users",
			field.Int("user_id").PrimaryKey(),
			field.String("username").MaxLen(15).Unique(),
		),
		vschema.Table("orders",
			field.Int("order_id").PrimaryKey(),
			field.Int("user_id").References("users", "user_id").OnDelete("cascade"),
			field.Bool("shipped").Default(false),
			field.Time("created_on").Nillable(),
		).Edges(edge.M2O("user", "users")).Indexes(index.Fields("user_id", "shipped")),
		vschema.Table("cookies",
			field.Int("cookie_id").PrimaryKey(),
			field.String("cookie_name").MaxLen(50).Index(),
			field.Decimal("unit_cost").Precision(12, 2),
			field.UUID("sku"),
		),
	)
	require.NoError(t, err)
	return reg
}

func openSQLite(t *testing.T) *sql.Driver {
	t.Helper()
	drv, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "shop.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	return drv
}

func TestCreateSQLite(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	reg := shopRegistry(t)

	require.NoError(t, Create(ctx, drv, reg))

	var names []string
	rows, err := drv.DB().QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type IN ('table', 'index') AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Close())
	assert.Subset(t, names, []string{
		"cookies", "orders", "users",
		"users_username_key", "cookies_cookie_name_idx", "orders_user_id_shipped_idx",
	})

	_, err = drv.DB().ExecContext(ctx, `INSERT INTO "users" ("username") VALUES ('cookiemon')`)
	require.NoError(t, err)
	_, err = drv.DB().ExecContext(ctx, `INSERT INTO "orders" ("user_id", "shipped") VALUES (1, false)`)
	require.NoError(t, err)
	_, err = drv.DB().ExecContext(ctx, `INSERT INTO "orders" ("user_id", "shipped") VALUES (42, false)`)
	require.Error(t, err, "foreign key is enforced")

	t.Run("Idempotent", func(t *testing.T) {
		require.NoError(t, Create(ctx, drv, reg))
	})

	t.Run("AddColumn", func(t *testing.T) {
		more, err := vschema.NewRegistry(vschema.Table("users",
			field.Int("user_id").PrimaryKey(),
			field.String("username").MaxLen(15).Unique(),
			field.String("phone").MaxLen(20).Nillable(),
		))
		require.NoError(t, err)
		require.NoError(t, Create(ctx, drv, more))
		var phone any
		require.NoError(t, drv.DB().QueryRowContext(ctx, `SELECT "phone" FROM "users"`).Scan(&phone))
		assert.Nil(t, phone)
	})
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	m, err := NewMigrate(drv)
	require.NoError(t, err)
	stmts, err := m.Plan(ctx, shopRegistry(t))
	require.NoError(t, err)
	require.NotEmpty(t, stmts)
	var creates int
	for _, s := range stmts {
		if len(s) >= 12 && s[:12] == "CREATE TABLE" {
			creates++
		}
	}
	assert.Equal(t, 3, creates)

	var n int
	require.NoError(t, drv.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n))
	assert.Zero(t, n, "plan does not execute")
}

func TestApplyHook(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	var applied int
	hook := func(next Applier) Applier {
		return ApplyFunc(func(ctx context.Context, changes []schema.Change) error {
			applied = len(changes)
			return next.Apply(ctx, changes)
		})
	}
	require.NoError(t, Create(ctx, drv, shopRegistry(t), WithApplyHook(hook)))
	assert.Equal(t, 3, applied)
}

func TestDiffHook(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	noop := func(Differ) Differ {
		return DiffFunc(func(_, _ *schema.Schema) ([]schema.Change, error) { return nil, nil })
	}
	require.NoError(t, Create(ctx, drv, shopRegistry(t), WithDiffHook(noop)))
	var n int
	require.NoError(t, drv.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n))
	assert.Zero(t, n)
}

func TestMigrateOptions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	drv := sql.OpenDB(dialect.SQLite, db)

	t.Run("Defaults", func(t *testing.T) {
		m, err := NewMigrate(drv)
		require.NoError(t, err)
		assert.True(t, m.withForeignKeys)
		assert.False(t, m.dropColumns)
		assert.False(t, m.dropIndexes)
		assert.NotNil(t, m.logger)
	})

	t.Run("Set", func(t *testing.T) {
		m, err := NewMigrate(drv,
			WithDropColumn(true),
			WithDropIndex(true),
			WithForeignKeys(false),
			WithSchemaName("main"),
			WithSkipChanges(AddIndex|DropForeignKey),
			WithApplyHook(func(a Applier) Applier { return a }),
			WithApplyHook(func(a Applier) Applier { return a }),
		)
		require.NoError(t, err)
		assert.True(t, m.dropColumns)
		assert.True(t, m.dropIndexes)
		assert.False(t, m.withForeignKeys)
		assert.Equal(t, "main", m.schemaName)
		assert.True(t, m.skip.Is(AddIndex))
		assert.False(t, m.skip.Is(AddColumn))
		assert.Len(t, m.applyHooks, 2)
	})

	t.Run("UnsupportedDialect", func(t *testing.T) {
		_, err := NewMigrate(sql.OpenDB("oracle", db))
		require.Error(t, err)
	})
}

func TestFilter(t *testing.T) {
	tbl := &schema.Table{
		Name: "orders",
		Columns: []*schema.Column{
			{Name: "order_id", Type: &schema.ColumnType{Type: &schema.IntegerType{T: "bigint"}}},
			{Name: "user_id", Type: &schema.ColumnType{Type: &schema.IntegerType{T: "bigint"}}},
		},
	}
	fk := &schema.ForeignKey{
		Symbol:     "orders_user_id_fkey",
		Table:      tbl,
		Columns:    tbl.Columns[1:],
		RefTable:   tbl,
		RefColumns: tbl.Columns[:1],
		OnDelete:   schema.Cascade,
	}
	tbl.ForeignKeys = []*schema.ForeignKey{fk}
	changes := func() []schema.Change {
		return []schema.Change{
			&schema.DropTable{T: &schema.Table{Name: "legacy"}},
			&schema.ModifyTable{
				T: tbl,
				Changes: []schema.Change{
					&schema.AddIndex{I: &schema.Index{Name: "orders_user_id_idx", Parts: []*schema.IndexPart{{C: tbl.Columns[1]}}}},
					&schema.DropIndex{I: &schema.Index{Name: "old_idx"}},
					&schema.DropColumn{C: &schema.Column{Name: "old"}},
					&schema.AddForeignKey{F: fk},
					&schema.DropForeignKey{F: fk},
				},
			},
		}
	}

	t.Run("Default", func(t *testing.T) {
		a := &Atlas{withForeignKeys: true}
		out := a.filter(changes())
		require.Len(t, out, 1)
		mt := out[0].(*schema.ModifyTable)
		require.Len(t, mt.Changes, 3)
		assert.IsType(t, &schema.AddIndex{}, mt.Changes[0])
		assert.IsType(t, &schema.AddForeignKey{}, mt.Changes[1])
	})

	t.Run("WithoutForeignKeys", func(t *testing.T) {
		a := &Atlas{dropColumns: true, dropIndexes: true}
		out := a.filter(changes())
		require.Len(t, out, 1)
		mt := out[0].(*schema.ModifyTable)
		require.Len(t, mt.Changes, 3)
		assert.IsType(t, &schema.DropIndex{}, mt.Changes[1])
		assert.IsType(t, &schema.DropColumn{}, mt.Changes[2])

		out = a.filter([]schema.Change{&schema.AddTable{T: tbl}})
		require.Len(t, out, 1)
		assert.Nil(t, out[0].(*schema.AddTable).T.ForeignKeys)
	})

	t.Run("Skip", func(t *testing.T) {
		a := &Atlas{withForeignKeys: true, skip: AddIndex | AddForeignKey | DropForeignKey}
		assert.Empty(t, a.filter(changes()))
	})
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		field   *field.Descriptor
		dialect string
		want    schema.Type
	}{
		{field.Int("a").Descriptor(), dialect.SQLite, &schema.IntegerType{T: "integer"}},
		{field.Int("a").Descriptor(), dialect.Postgres, &schema.IntegerType{T: "bigint"}},
		{field.String("a").Descriptor(), dialect.MySQL, &schema.StringType{T: "varchar", Size: 255}},
		{field.String("a").MaxLen(50).Descriptor(), dialect.Postgres, &schema.StringType{T: "varchar", Size: 50}},
		{field.Text("a").Descriptor(), dialect.MySQL, &schema.StringType{T: "longtext"}},
		{field.Decimal("a").Descriptor(), dialect.Postgres, &schema.DecimalType{T: "numeric", Precision: 12, Scale: 2}},
		{field.Bool("a").Descriptor(), dialect.Postgres, &schema.BoolType{T: "boolean"}},
		{field.Time("a").Descriptor(), dialect.Postgres, &schema.TimeType{T: "timestamp with time zone"}},
		{field.UUID("a").Descriptor(), dialect.Postgres, &schema.UUIDType{T: "uuid"}},
		{field.UUID("a").Descriptor(), dialect.MySQL, &schema.StringType{T: "char", Size: 36}},
		{field.Bytes("a").Descriptor(), dialect.Postgres, &schema.BinaryType{T: "bytea"}},
		{field.Float("a").Descriptor(), dialect.MySQL, &schema.FloatType{T: "double"}},
	}
	for _, tt := range tests {
		a := &Atlas{dialect: tt.dialect}
		assert.Equal(t, tt.want, a.columnType(tt.field), "%s %s", tt.dialect, tt.field.Type)
	}
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "orders_user_id_shipped_idx", indexName("orders", "", []string{"user_id", "shipped"}, false))
	assert.Equal(t, "users_email_key", indexName("users", "", []string{"email"}, true))
	assert.Equal(t, "custom", indexName("users", "custom", []string{"email"}, true))
}
