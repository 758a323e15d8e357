package orm

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/dialect/sql/schema"
	vschema "github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
)

func shopRegistry(t testing.TB) *vschema.Registry {
	t.Helper()
	reg, err := vschema.NewRegistry(
		vschema.Table("users",
			field.Int("user_id").PrimaryKey(),
			field.String("username").MaxLen(15).NotEmpty().Unique(),
			field.String("email").MaxLen(255).Optional().Nillable(),
		).Edges(
			edge.O2M("orders", "orders").OrderBy("order_id").Backref("user"),
			edge.O2O("profile", "profiles"),
		),
		vschema.Table("profiles",
			field.Int("profile_id").PrimaryKey(),
			field.Int("user_id").References("users", "user_id"),
			field.String("bio").Optional().Nillable(),
		),
		vschema.Table("orders",
			field.Int("order_id").PrimaryKey(),
			field.Int("user_id").References("users", "user_id"),
			field.Bool("shipped").Default(false),
		).Edges(
			edge.O2M("line_items", "line_items").OrderBy("line_item_id").Backref("order"),
		),
		vschema.Table("cookies",
			field.Int("cookie_id").PrimaryKey(),
			field.String("cookie_name").MaxLen(50).NotEmpty().Index(),
			field.String("cookie_sku").MaxLen(55).Optional().Nillable(),
			field.Int("quantity").Default(0),
			field.Decimal("unit_cost").Precision(12, 2),
		).Edges(
			edge.M2M("ingredients", "ingredients").Through("cookie_ingredients").OrderBy("name").Backref("cookies"),
		).
			Hybrid("inventory_value", sql.Mul(sql.C("cookies", "quantity"), sql.C("cookies", "unit_cost"))).
			Proxy("ingredient_names", "ingredients", "name"),
		vschema.Table("ingredients",
			field.Int("ingredient_id").PrimaryKey(),
			field.String("name").MaxLen(50).NotEmpty(),
		),
		vschema.Table("cookie_ingredients",
			field.Int("cookie_id").References("cookies", "cookie_id"),
			field.Int("ingredient_id").References("ingredients", "ingredient_id"),
		).PrimaryKey("cookie_id", "ingredient_id"),
		vschema.Table("employees",
			field.Int("employee_id").PrimaryKey(),
			field.String("name").MaxLen(50),
			field.Int("manager_id").References("employees", "employee_id").Optional().Nillable(),
		),
		vschema.Table("messages",
			field.Int("message_id").PrimaryKey(),
			field.Int("sender_id").References("users", "user_id"),
			field.Int("recipient_id").References("users", "user_id"),
			field.Text("body").Optional().Nillable(),
		),
		vschema.Table("line_items",
			field.Int("line_item_id").PrimaryKey(),
			field.Int("order_id").References("orders", "order_id"),
			field.Int("cookie_id").References("cookies", "cookie_id"),
			field.Int("quantity").Min(1),
		).Edges(edge.M2O("cookie", "cookies")),
	)
	require.NoError(t, err)
	return reg
}

// recorder collects the statements sent through a DebugDriver.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) log(_ context.Context, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range v {
		if s, ok := x.(string); ok {
			r.lines = append(r.lines, s)
		}
	}
}

// statements returns the recorded statements starting with prefix, such
// as "tx exec: INSERT".
func (r *recorder) statements(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.lines {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

type shop struct {
	*Engine
	rec *recorder
}

// openShop creates the shop tables in a file database under t.TempDir.
func openShop(t *testing.T, opts ...Option) *shop {
	t.Helper()
	return openRegistry(t, shopRegistry(t), opts...)
}

func openRegistry(t *testing.T, reg *vschema.Registry, opts ...Option) *shop {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "shop.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	drv, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, schema.Create(ctx, drv, reg))
	rec := &recorder{}
	e, err := NewEngine(sql.NewDebugDriver(drv, sql.DebugWithLog(rec.log)), reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return &shop{Engine: e, rec: rec}
}

func (s *shop) entity(t *testing.T, table string, values map[string]any) *Entity {
	t.Helper()
	e, err := s.New(table, values)
	require.NoError(t, err)
	return e
}

// seed commits the given entities in a session of its own.
func (s *shop) seed(t *testing.T, ents ...*Entity) {
	t.Helper()
	ctx := context.Background()
	sess := s.NewSession()
	for _, e := range ents {
		require.NoError(t, sess.Add(e))
	}
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Close(ctx))
}

func (s *shop) cookie(t *testing.T, name string, qty int, cost string) *Entity {
	return s.entity(t, "cookies", map[string]any{"cookie_name": name, "quantity": qty, "unit_cost": cost})
}

func col(table, column string) *sql.ColumnExpr { return sql.C(table, column) }
