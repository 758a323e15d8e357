package schema_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect"
	"github.com/syssam/vellum/dialect/sql"
	"github.com/syssam/vellum/schema"
	"github.com/syssam/vellum/schema/edge"
	"github.com/syssam/vellum/schema/field"
	"github.com/syssam/vellum/schema/index"
)

func shop() []*schema.TableSchema {
	users := schema.Table("users",
		field.Int("user_id").PrimaryKey(),
		field.String("username").MaxLen(15).Unique(),
		field.String("email_address").MaxLen(255),
	)
	orders := schema.Table("orders",
		field.Int("order_id").PrimaryKey(),
		field.Int("user_id").References("users", "user_id"),
		field.Bool("shipped").Default(false),
	).Edges(
		edge.M2O("user", "users").Backref("orders"),
		edge.O2M("items", "line_items").OrderBy("line_item_id"),
	)
	cookies := schema.Table("cookies",
		field.Int("cookie_id").PrimaryKey(),
		field.String("cookie_name").MaxLen(50).Index(),
		field.Int("quantity"),
		field.Decimal("unit_cost").Precision(12, 2),
	).Edges(
		edge.M2M("ingredients", "ingredients").Through("cookie_ingredients"),
	).Proxy("ingredient_names", "ingredients", "name")
	cookies.Hybrid("inventory_value", sql.Mul(cookies.C("unit_cost"), cookies.C("quantity")))
	items := schema.Table("line_items",
		field.Int("line_item_id").PrimaryKey(),
		field.Int("order_id").References("orders", "order_id"),
		field.Int("cookie_id").References("cookies", "cookie_id"),
		field.Int("quantity"),
	).Edges(
		edge.M2O("cookie", "cookies"),
	)
	ingredients := schema.Table("ingredients",
		field.Int("ingredient_id").PrimaryKey(),
		field.String("name").Unique(),
	)
	link := schema.Table("cookie_ingredients",
		field.Int("cookie_id").References("cookies", "cookie_id"),
		field.Int("ingredient_id").References("ingredients", "ingredient_id"),
	).PrimaryKey("cookie_id", "ingredient_id")
	return []*schema.TableSchema{users, orders, cookies, items, ingredients, link}
}

func TestTable(t *testing.T) {
	t.Parallel()

	t.Run("Declaration", func(t *testing.T) {
		tbl := schema.Table("line_items",
			field.Int("line_item_id").PrimaryKey(),
			field.Int("order_id").References("orders", "order_id").OnDelete("CASCADE"),
		).Indexes(index.Fields("order_id"))
		require.NoError(t, tbl.Err())
		assert.Equal(t, "LineItem", tbl.Label)
		assert.Equal(t, []string{"line_item_id", "order_id"}, tbl.ColumnNames())
		assert.Equal(t, []string{"line_item_id"}, tbl.PrimaryKeyColumns())
		require.Len(t, tbl.ForeignKeys, 1)
		fk := tbl.ForeignKeys[0]
		assert.Equal(t, "line_items_order_id_fkey", fk.Name)
		assert.Equal(t, "orders", fk.RefTable)
		assert.Equal(t, "order_id", fk.RefColumn)
		assert.Equal(t, "CASCADE", fk.OnDelete)
		require.Len(t, tbl.Indices, 1)
		key, err := tbl.Key()
		require.NoError(t, err)
		assert.Equal(t, "line_item_id", key.Name)
	})

	t.Run("DuplicateColumn", func(t *testing.T) {
		tbl := schema.Table("users", field.Int("id"), field.String("id"))
		require.Error(t, tbl.Err())
		assert.Contains(t, tbl.Err().Error(), `duplicate column "id"`)
	})

	t.Run("DuplicateRelationship", func(t *testing.T) {
		tbl := schema.Table("users", field.Int("id")).Edges(
			edge.O2M("orders", "orders"),
			edge.O2M("orders", "orders"),
		)
		require.Error(t, tbl.Err())
	})

	t.Run("CompositeKey", func(t *testing.T) {
		tbl := schema.Table("cookie_ingredients", field.Int("a"), field.Int("b")).PrimaryKey("a", "b")
		_, err := tbl.Key()
		require.Error(t, err)
		assert.Equal(t, []string{"a", "b"}, tbl.PrimaryKeyColumns())
	})

	t.Run("Mixin", func(t *testing.T) {
		tbl := schema.Table("users", field.Int("user_id").PrimaryKey()).Mixin(stamp{})
		_, ok := tbl.Column("created_on")
		assert.True(t, ok)
	})
}

type stamp struct{}

func (stamp) Fields() []schema.Field { return []schema.Field{field.Time("created_on")} }
func (stamp) Edges() []schema.Edge { return nil }
func (stamp) Indexes() []schema.Index { return nil }

func TestLabel(t *testing.T) {
	t.Parallel()
	for table, label := range map[string]string{
		"users":              "User",
		"line_items":         "LineItem",
		"cookies":            "Cookie",
		"cookie_ingredients": "CookieIngredient",
		"categories":         "Category",
	} {
		assert.Equal(t, label, schema.Label(table), table)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("Register", func(t *testing.T) {
		reg, err := schema.NewRegistry(shop()...)
		require.NoError(t, err)
		require.NoError(t, reg.Resolve())
		tables := reg.Tables()
		require.Len(t, tables, 6)
		assert.Equal(t, "users", tables[0].Name)

		_, err = reg.Table("nope")
		var ue *vellum.UnknownTableError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "nope", ue.Table)
	})

	t.Run("DuplicateTable", func(t *testing.T) {
		_, err := schema.NewRegistry(schema.Table("users"), schema.Table("users"))
		var de *vellum.DuplicateTableError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "users", de.Table)
	})

	t.Run("DeclarationError", func(t *testing.T) {
		_, err := schema.NewRegistry(schema.Table("users", field.Decimal("x").Precision(2, 5)))
		require.Error(t, err)
	})

	t.Run("ForeignKey", func(t *testing.T) {
		reg, err := schema.NewRegistry(shop()...)
		require.NoError(t, err)
		fk, err := reg.ResolveForeignKey("orders", "user_id")
		require.NoError(t, err)
		assert.Equal(t, "users", fk.RefTable)

		_, err = reg.ResolveForeignKey("orders", "shipped")
		require.Error(t, err)
		_, err = reg.ResolveForeignKey("orders", "nope")
		assert.True(t, errors.Is(err, vellum.ErrUnknownColumn))
	})

	t.Run("DanglingForeignKey", func(t *testing.T) {
		reg, err := schema.NewRegistry(schema.Table("orders",
			field.Int("order_id").PrimaryKey(),
			field.Int("user_id").References("users", "user_id"),
		))
		require.NoError(t, err)
		err = reg.Resolve()
		assert.True(t, errors.Is(err, vellum.ErrUnknownTable))
	})
}

func TestResolveRelationship(t *testing.T) {
	t.Parallel()
	reg, err := schema.NewRegistry(shop()...)
	require.NoError(t, err)

	t.Run("ManyToOne", func(t *testing.T) {
		rel, err := reg.ResolveRelationship("orders", "user")
		require.NoError(t, err)
		assert.Equal(t, edge.ManyToOne, rel.Kind)
		assert.Equal(t, "user_id", rel.OwnerColumn)
		assert.Equal(t, "user_id", rel.TargetColumn)
		assert.False(t, rel.FKOnTarget)
	})

	t.Run("OneToMany", func(t *testing.T) {
		rel, err := reg.ResolveRelationship("orders", "items")
		require.NoError(t, err)
		assert.Equal(t, "order_id", rel.OwnerColumn)
		assert.Equal(t, "order_id", rel.TargetColumn)
		assert.True(t, rel.FKOnTarget)
		assert.Equal(t, "line_item_id", rel.OrderBy)
		on, _ := rel.Condition()
		query, _, err := sql.Compile(on, dialect.SQLite)
		require.NoError(t, err)
		assert.Equal(t, `"line_items"."order_id" = "orders"."order_id"`, query)
	})

	t.Run("Backref", func(t *testing.T) {
		rel, err := reg.ResolveRelationship("users", "orders")
		require.NoError(t, err)
		assert.Equal(t, edge.OneToMany, rel.Kind)
		assert.Equal(t, "orders", rel.Target)
		assert.Equal(t, "user", rel.Backref)
		assert.True(t, rel.FKOnTarget)
	})

	t.Run("ManyToMany", func(t *testing.T) {
		rel, err := reg.ResolveRelationship("cookies", "ingredients")
		require.NoError(t, err)
		assert.Equal(t, "cookie_ingredients", rel.Through)
		assert.Equal(t, "cookie_id", rel.ThroughOwner)
		assert.Equal(t, "ingredient_id", rel.ThroughTarget)
		owner, target := rel.Condition()
		query, _, err := sql.Compile(sql.And(owner, target), dialect.Postgres)
		require.NoError(t, err)
		assert.Equal(t, `"cookie_ingredients"."cookie_id" = "cookies"."cookie_id" AND "cookie_ingredients"."ingredient_id" = "ingredients"."ingredient_id"`, query)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := reg.ResolveRelationship("orders", "nope")
		assert.True(t, vellum.IsUnknownRelationship(err))
	})

	t.Run("Relationships", func(t *testing.T) {
		rels, err := reg.Relationships("orders")
		require.NoError(t, err)
		require.Len(t, rels, 2)
		assert.Equal(t, "user", rels[0].Name)
		assert.Equal(t, "items", rels[1].Name)
	})
}

func TestAmbiguousJoin(t *testing.T) {
	t.Parallel()
	tables := func(e ...schema.Edge) []*schema.TableSchema {
		return []*schema.TableSchema{
			schema.Table("users", field.Int("user_id").PrimaryKey()),
			schema.Table("orders",
				field.Int("order_id").PrimaryKey(),
				field.Int("user_id").References("users", "user_id"),
				field.Int("shipper_id").References("users", "user_id"),
			).Edges(e...),
		}
	}

	t.Run("TwoForeignKeys", func(t *testing.T) {
		reg, err := schema.NewRegistry(tables(edge.M2O("user", "users"))...)
		require.NoError(t, err)
		_, err = reg.ResolveRelationship("orders", "user")
		var ae *vellum.AmbiguousJoinError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, 2, ae.Candidates)
		assert.Equal(t, "user", ae.Via)
		assert.True(t, vellum.IsAmbiguousJoin(reg.Resolve()))

		_, err = reg.JoinCondition("orders", "users")
		assert.True(t, vellum.IsAmbiguousJoin(err))
	})

	t.Run("ExplicitColumns", func(t *testing.T) {
		reg, err := schema.NewRegistry(tables(
			edge.M2O("user", "users").Columns("user_id", "user_id"),
			edge.M2O("shipper", "users").Columns("shipper_id", "user_id"),
		)...)
		require.NoError(t, err)
		require.NoError(t, reg.Resolve())
		rel, err := reg.ResolveRelationship("orders", "shipper")
		require.NoError(t, err)
		assert.Equal(t, "shipper_id", rel.OwnerColumn)
	})

	t.Run("NoForeignKey", func(t *testing.T) {
		reg, err := schema.NewRegistry(
			schema.Table("users", field.Int("user_id").PrimaryKey()).Edges(edge.O2M("cookies", "cookies")),
			schema.Table("cookies", field.Int("cookie_id").PrimaryKey()),
		)
		require.NoError(t, err)
		_, err = reg.ResolveRelationship("users", "cookies")
		var ae *vellum.AmbiguousJoinError
		require.ErrorAs(t, err, &ae)
		assert.Zero(t, ae.Candidates)
	})

	t.Run("JoinCondition", func(t *testing.T) {
		reg, err := schema.NewRegistry(shop()...)
		require.NoError(t, err)
		on, err := reg.JoinCondition("users", "orders")
		require.NoError(t, err)
		query, _, err := sql.Compile(on, dialect.MySQL)
		require.NoError(t, err)
		assert.Equal(t, "`orders`.`user_id` = `users`.`user_id`", query)
	})
}

func TestSelfReference(t *testing.T) {
	t.Parallel()
	reg, err := schema.NewRegistry(schema.Table("employees",
		field.Int("employee_id").PrimaryKey(),
		field.Int("manager_id").References("employees", "employee_id").Nillable(),
	).Edges(
		edge.M2O("manager", "employees").Backref("reports"),
	))
	require.NoError(t, err)
	require.NoError(t, reg.Resolve())

	manager, err := reg.ResolveRelationship("employees", "manager")
	require.NoError(t, err)
	assert.Equal(t, "manager_id", manager.OwnerColumn)
	assert.Equal(t, "employee_id", manager.TargetColumn)

	reports, err := reg.ResolveRelationship("employees", "reports")
	require.NoError(t, err)
	assert.Equal(t, edge.OneToMany, reports.Kind)
	assert.Equal(t, "employee_id", reports.OwnerColumn)
	assert.Equal(t, "manager_id", reports.TargetColumn)
}

func TestResolveHybridsAndProxies(t *testing.T) {
	t.Parallel()
	tables := shop()
	tables[2].Hybrid("broken", sql.C("cookies", "nope")).Proxy("bad", "ingredients", "nope")
	reg, err := schema.NewRegistry(tables...)
	require.NoError(t, err)
	err = reg.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hybrid cookies.broken")
	assert.Contains(t, err.Error(), "proxy cookies.bad")
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	const doc = `
tables:
  - name: users
    columns:
      - {name: user_id, type: int, primary: true}
      - {name: username, type: varchar, size: 15, unique: true}
  - name: orders
    label: Purchase
    columns:
      - {name: order_id, type: integer, primary: true}
      - {name: user_id, type: int, references: users.user_id, on_delete: CASCADE}
      - {name: total, type: numeric, precision: [10, 2], nullable: true}
      - {name: shipped, type: bool, default: false}
    relationships:
      - {name: user, kind: many-to-one, target: users, backref: orders}
    indexes:
      - {columns: [user_id, shipped], name: orders_user_shipped}
`
	tables, err := schema.LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, tables, 2)
	orders := tables[1]
	assert.Equal(t, "Purchase", orders.Label)
	total, ok := orders.Column("total")
	require.True(t, ok)
	assert.Equal(t, field.TypeDecimal, total.Type)
	assert.Equal(t, 10, total.Precision)
	assert.True(t, total.Nillable)
	shipped, _ := orders.Column("shipped")
	require.NotNil(t, shipped.Default)
	assert.Equal(t, false, shipped.Default())
	require.Len(t, orders.Indices, 1)
	assert.Equal(t, "orders_user_shipped", orders.Indices[0].StorageKey)

	reg, err := schema.NewRegistry(tables...)
	require.NoError(t, err)
	require.NoError(t, reg.Resolve())
	rel, err := reg.ResolveRelationship("users", "orders")
	require.NoError(t, err)
	assert.Equal(t, edge.OneToMany, rel.Kind)

	t.Run("BadReference", func(t *testing.T) {
		_, err := schema.LoadYAML(strings.NewReader("tables:\n  - name: a\n    columns:\n      - {name: x, type: int, references: users}\n"))
		require.Error(t, err)
	})
	t.Run("BadType", func(t *testing.T) {
		_, err := schema.LoadYAML(strings.NewReader("tables:\n  - name: a\n    columns:\n      - {name: x, type: blob9}\n"))
		require.Error(t, err)
	})
	t.Run("Empty", func(t *testing.T) {
		tables, err := schema.LoadYAML(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, tables)
	})
}
