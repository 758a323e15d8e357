package sql

import (
	"errors"
	"testing"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorQuery(t *testing.T) {
	users := func(c string) *ColumnExpr { return C("users", c) }
	tests := []struct {
		name     string
		input    func() *Selector
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "mixed and/or postgres",
			input: func() *Selector {
				return Dialect(dialect.Postgres).Select(users("name")).From("users").
					Where(And(EQ(users("name"), "a"), Or(GT(users("age"), 1), IsNull(users("age"))))).
					Limit(10).Offset(5)
			},
			wantSQL:  `SELECT "users"."name" FROM "users" WHERE "users"."name" = $1 AND ("users"."age" > $2 OR "users"."age" IS NULL) LIMIT $3 OFFSET $4`,
			wantArgs: []any{"a", 1, 10, 5},
		},
		{
			name: "where calls are anded",
			input: func() *Selector {
				return Dialect(dialect.SQLite).Select(users("id")).From("users").
					Where(Or(EQ(users("id"), 1), EQ(users("id"), 2))).
					Where(NEQ(users("name"), nil))
			},
			wantSQL:  `SELECT "users"."id" FROM "users" WHERE ("users"."id" = ? OR "users"."id" = ?) AND "users"."name" IS NOT NULL`,
			wantArgs: []any{1, 2},
		},
		{
			name: "offset without limit sqlite",
			input: func() *Selector {
				return Dialect(dialect.SQLite).Select(C("t", "a")).From("t").Offset(3)
			},
			wantSQL:  `SELECT "t"."a" FROM "t" LIMIT -1 OFFSET ?`,
			wantArgs: []any{3},
		},
		{
			name: "offset without limit mysql",
			input: func() *Selector {
				return Dialect(dialect.MySQL).Select(C("t", "a")).From("t").Offset(3)
			},
			wantSQL:  "SELECT `t`.`a` FROM `t` LIMIT 18446744073709551615 OFFSET ?",
			wantArgs: []any{3},
		},
		{
			name: "offset without limit postgres",
			input: func() *Selector {
				return Dialect(dialect.Postgres).Select(C("t", "a")).From("t").Offset(3)
			},
			wantSQL:  `SELECT "t"."a" FROM "t" OFFSET $1`,
			wantArgs: []any{3},
		},
		{
			name: "left join",
			input: func() *Selector {
				return Dialect(dialect.SQLite).Select(C("a", "x")).From("a").
					LeftJoin("b", EQ(C("b", "a_id"), C("a", "id")))
			},
			wantSQL: `SELECT "a"."x" FROM "a" LEFT OUTER JOIN "b" ON "b"."a_id" = "a"."id"`,
		},
		{
			name: "distinct with inner join",
			input: func() *Selector {
				return Dialect(dialect.MySQL).Select(C("a", "x")).Distinct().From("a").
					Join("b", EQ(C("b", "a_id"), C("a", "id")))
			},
			wantSQL: "SELECT DISTINCT `a`.`x` FROM `a` JOIN `b` ON `b`.`a_id` = `a`.`id`",
		},
		{
			name: "labels sqlite",
			input: func() *Selector {
				total := Label(Sum(C("orders", "amount")), "total")
				return Dialect(dialect.SQLite).Select(C("orders", "user_id"), total).From("orders").
					GroupBy(C("orders", "user_id")).Having(GT(total, 100)).OrderBy(Desc(total))
			},
			wantSQL:  `SELECT "orders"."user_id", SUM("orders"."amount") AS "total" FROM "orders" GROUP BY "orders"."user_id" HAVING "total" > ? ORDER BY "total" DESC`,
			wantArgs: []any{100},
		},
		{
			name: "labels mysql",
			input: func() *Selector {
				total := Label(Sum(C("orders", "amount")), "total")
				return Dialect(dialect.MySQL).Select(C("orders", "user_id"), total).From("orders").
					GroupBy(C("orders", "user_id")).Having(GT(total, 100)).OrderBy(Desc(total))
			},
			wantSQL:  "SELECT `orders`.`user_id`, SUM(`orders`.`amount`) AS `total` FROM `orders` GROUP BY `orders`.`user_id` HAVING `total` > ? ORDER BY `total` DESC",
			wantArgs: []any{100},
		},
		{
			name: "label in postgres order by",
			input: func() *Selector {
				n := Label(Count(), "n")
				return Dialect(dialect.Postgres).Select(C("t", "k"), n).From("t").
					GroupBy(C("t", "k")).OrderBy(Desc(n), Asc(C("t", "k")))
			},
			wantSQL: `SELECT "t"."k", COUNT(*) AS "n" FROM "t" GROUP BY "t"."k" ORDER BY "n" DESC, "t"."k" ASC`,
		},
		{
			name: "hybrid style cast",
			input: func() *Selector {
				return Dialect(dialect.Postgres).
					Select(Label(Cast(Mul(C("cookies", "quantity"), C("cookies", "unit_cost")), "NUMERIC(12, 2)"), "inv_cost")).
					From("cookies")
			},
			wantSQL: `SELECT CAST("cookies"."quantity" * "cookies"."unit_cost" AS NUMERIC(12, 2)) AS "inv_cost" FROM "cookies"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := tt.input().Query()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestSelectorErrors(t *testing.T) {
	t.Run("empty select list", func(t *testing.T) {
		_, _, err := Dialect(dialect.SQLite).Select().From("t").Query()
		require.Error(t, err)
	})
	t.Run("unknown dialect", func(t *testing.T) {
		_, _, err := Dialect("oracle").Select(C("t", "a")).From("t").Query()
		require.Error(t, err)
		require.Error(t, NewBuilder("oracle").Err())
		require.NoError(t, NewBuilder("").Err())
		assert.Equal(t, dialect.SQLite, NewBuilder("").Dialect())
	})
	t.Run("label in having on postgres", func(t *testing.T) {
		total := Label(Sum(C("orders", "amount")), "total")
		_, _, err := Dialect(dialect.Postgres).Select(total).From("orders").
			GroupBy(C("orders", "user_id")).Having(GT(total, 100)).Query()
		require.Error(t, err)
		var lerr *vellum.UnsupportedLabelReferenceError
		require.True(t, errors.As(err, &lerr))
		assert.Equal(t, "total", lerr.Label)
		assert.Equal(t, "HAVING", lerr.Clause)
		assert.Equal(t, dialect.Postgres, lerr.Dialect)
		assert.ErrorIs(t, err, vellum.ErrUnsupportedLabelReference)
	})
	t.Run("label in where", func(t *testing.T) {
		n := Label(Add(C("t", "a"), 1), "n")
		for _, d := range []string{dialect.Postgres, dialect.MySQL} {
			_, _, err := Dialect(d).Select(n).From("t").Where(GT(n, 2)).Query()
			require.ErrorIs(t, err, vellum.ErrUnsupportedLabelReference, d)
		}
		query, args, err := Dialect(dialect.SQLite).Select(n).From("t").Where(GT(n, 2)).Query()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "t"."a" + ? AS "n" FROM "t" WHERE "n" > ?`, query)
		assert.Equal(t, []any{1, 2}, args)
	})
	t.Run("invalid cast type", func(t *testing.T) {
		_, _, err := Compile(Cast(C("t", "a"), "INT; DROP TABLE t"), dialect.SQLite)
		require.Error(t, err)
	})
	t.Run("invalid function name", func(t *testing.T) {
		_, _, err := Compile(Func("LOWER()--", C("t", "a")), dialect.SQLite)
		require.Error(t, err)
	})
	t.Run("nil expression", func(t *testing.T) {
		_, _, err := Compile(nil, dialect.SQLite)
		require.Error(t, err)
	})
}

func TestSelectorClone(t *testing.T) {
	base := Dialect(dialect.SQLite).Select(C("t", "a")).From("t").Where(GT(C("t", "a"), 1))
	clone := base.Clone().OrderBy(C("t", "a")).Limit(1)
	q1, _, err := base.Query()
	require.NoError(t, err)
	q2, args, err := clone.Query()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t"."a" FROM "t" WHERE "t"."a" > ?`, q1)
	assert.Equal(t, `SELECT "t"."a" FROM "t" WHERE "t"."a" > ? ORDER BY "t"."a" LIMIT ?`, q2)
	assert.Equal(t, []any{1, 1}, args)
	assert.Equal(t, "t", clone.FromTable())
	assert.Len(t, clone.Items(), 1)
}

func TestCompileExpressions(t *testing.T) {
	a, b, c := C("t", "a"), C("t", "b"), C("t", "c")
	tests := []struct {
		name     string
		expr     Expr
		dialect  string
		clause   Clause
		wantSQL  string
		wantArgs []any
	}{
		{"contains sqlite", Contains(C("p", "name"), "ab"), dialect.SQLite, ClauseWhere, `"p"."name" LIKE '%' || ? || '%'`, []any{"ab"}},
		{"contains mysql", Contains(C("p", "name"), "ab"), dialect.MySQL, ClauseWhere, "`p`.`name` LIKE CONCAT('%', ?, '%')", []any{"ab"}},
		{"prefix postgres", HasPrefix(C("p", "name"), "ab"), dialect.Postgres, ClauseWhere, `"p"."name" LIKE $1 || '%'`, []any{"ab"}},
		{"suffix mysql", HasSuffix(C("p", "name"), "ab"), dialect.MySQL, ClauseWhere, "`p`.`name` LIKE CONCAT('%', ?)", []any{"ab"}},
		{"concat postgres", Concat(a, " ", b), dialect.Postgres, ClauseSelect, `"t"."a" || $1 || "t"."b"`, []any{" "}},
		{"arithmetic precedence", Mul(Add(a, 1), b), dialect.SQLite, ClauseSelect, `("t"."a" + ?) * "t"."b"`, []any{1}},
		{"left assoc sub", Sub(Sub(a, b), c), dialect.SQLite, ClauseSelect, `"t"."a" - "t"."b" - "t"."c"`, nil},
		{"right nested sub", Sub(a, Sub(b, c)), dialect.SQLite, ClauseSelect, `"t"."a" - ("t"."b" - "t"."c")`, nil},
		{"right nested add", Add(a, Add(b, c)), dialect.SQLite, ClauseSelect, `"t"."a" + "t"."b" + "t"."c"`, nil},
		{"not and", Not(And(EQ(a, 1), EQ(b, 2))), dialect.SQLite, ClauseWhere, `NOT ("t"."a" = ? AND "t"."b" = ?)`, []any{1, 2}},
		{"or of ands", Or(And(EQ(a, 1), EQ(b, 2)), EQ(c, 3)), dialect.SQLite, ClauseWhere, `("t"."a" = ? AND "t"."b" = ?) OR "t"."c" = ?`, []any{1, 2, 3}},
		{"and chain", And(EQ(a, 1), EQ(b, 2), EQ(c, 3)), dialect.Postgres, ClauseWhere, `"t"."a" = $1 AND "t"."b" = $2 AND "t"."c" = $3`, []any{1, 2, 3}},
		{"in", In(a, 1, 2, 3), dialect.Postgres, ClauseWhere, `"t"."a" IN ($1, $2, $3)`, []any{1, 2, 3}},
		{"not in", NotIn(a, "x"), dialect.SQLite, ClauseWhere, `"t"."a" NOT IN (?)`, []any{"x"}},
		{"empty in", In(a), dialect.SQLite, ClauseWhere, `1 = 0`, nil},
		{"empty not in", NotIn(a), dialect.SQLite, ClauseWhere, `1 = 1`, nil},
		{"between", Between(a, 10, 50), dialect.SQLite, ClauseWhere, `"t"."a" BETWEEN ? AND ?`, []any{10, 50}},
		{"is null", EQ(a, nil), dialect.SQLite, ClauseWhere, `"t"."a" IS NULL`, nil},
		{"negation", Neg(Add(a, b)), dialect.SQLite, ClauseSelect, `-("t"."a" + "t"."b")`, nil},
		{"count star", Count(), dialect.SQLite, ClauseSelect, `COUNT(*)`, nil},
		{"count distinct", CountDistinct(a), dialect.MySQL, ClauseSelect, "COUNT(DISTINCT `t`.`a`)", nil},
		{"function", Func("LOWER", a), dialect.SQLite, ClauseWhere, `LOWER("t"."a")`, nil},
		{"label in select", Label(Add(a, 1), "n"), dialect.Postgres, ClauseSelect, `"t"."a" + $1 AS "n"`, []any{1}},
		{"quoted identifier", C("", `we"ird`), dialect.SQLite, ClauseSelect, `"we""ird"`, nil},
		{"typed column", NewIntColumn("t", "a").Between(1, 2), dialect.SQLite, ClauseWhere, `"t"."a" BETWEEN ? AND ?`, []any{int64(1), int64(2)}},
		{"typed contains", NewStringColumn("t", "s").Contains("x"), dialect.Postgres, ClauseWhere, `"t"."s" LIKE '%' || $1 || '%'`, []any{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := CompileClause(tt.expr, tt.dialect, tt.clause)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCompileDeterministic(t *testing.T) {
	e := And(Or(Contains(C("t", "s"), "x"), In(C("t", "id"), 3, 1, 2)), Between(C("t", "n"), 0, 9))
	q1, a1, err := Compile(e, dialect.Postgres)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		q2, a2, err := Compile(e, dialect.Postgres)
		require.NoError(t, err)
		assert.Equal(t, q1, q2)
		assert.Equal(t, a1, a2)
	}
}

func TestInsertBuilder(t *testing.T) {
	t.Run("multi row returning", func(t *testing.T) {
		query, args, err := Dialect(dialect.Postgres).Insert("users").
			Columns("name", "age").Values("a", 1).Values("b", 2).Returning("id").Query()
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "users" ("name", "age") VALUES ($1, $2), ($3, $4) RETURNING "id"`, query)
		assert.Equal(t, []any{"a", 1, "b", 2}, args)
	})
	t.Run("default values", func(t *testing.T) {
		query, _, err := Dialect(dialect.SQLite).Insert("users").Query()
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES`, query)
		query, _, err = Dialect(dialect.MySQL).Insert("users").Query()
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO `users` () VALUES ()", query)
	})
	t.Run("mysql returning", func(t *testing.T) {
		_, _, err := Dialect(dialect.MySQL).Insert("users").Columns("name").Values("a").Returning("id").Query()
		require.Error(t, err)
		assert.False(t, SupportsReturning(dialect.MySQL))
		assert.True(t, SupportsReturning(dialect.SQLite))
	})
	t.Run("value count mismatch", func(t *testing.T) {
		_, _, err := Insert("users").Columns("name", "age").Values("a").Query()
		require.Error(t, err)
		_, _, err = Insert("users").Columns("name").Query()
		require.Error(t, err)
	})
}

func TestUpdateBuilder(t *testing.T) {
	query, args, err := Dialect(dialect.Postgres).Update("users").
		Set("age", Add(C("", "age"), 1)).
		Set("name", "x").
		Where(EQ(C("", "id"), 7)).
		Query()
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "age" = "age" + $1, "name" = $2 WHERE "id" = $3`, query)
	assert.Equal(t, []any{1, "x", 7}, args)

	_, _, err = Update("users").Where(EQ(C("", "id"), 1)).Query()
	require.Error(t, err)
}

func TestDeleteBuilder(t *testing.T) {
	query, args, err := Dialect(dialect.MySQL).Delete("users").Where(EQ(C("users", "id"), 1)).Query()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `users` WHERE `users`.`id` = ?", query)
	assert.Equal(t, []any{1}, args)

	query, args, err = Delete("users").Query()
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users"`, query)
	assert.Empty(t, args)
}

func TestSupportsLabel(t *testing.T) {
	tests := []struct {
		dialect string
		clause  Clause
		want    bool
	}{
		{dialect.SQLite, ClauseWhere, true},
		{dialect.SQLite, ClauseHaving, true},
		{dialect.SQLite, ClauseJoin, false},
		{dialect.Postgres, ClauseWhere, false},
		{dialect.Postgres, ClauseHaving, false},
		{dialect.Postgres, ClauseOrderBy, true},
		{dialect.MySQL, ClauseWhere, false},
		{dialect.MySQL, ClauseHaving, true},
		{dialect.MySQL, ClauseGroupBy, true},
		{"oracle", ClauseSelect, false},
	}
	for _, tt := range tests {
		t.Run(tt.dialect+" "+tt.clause.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SupportsLabel(tt.dialect, tt.clause))
		})
	}
}

func TestColumnsAndAggregates(t *testing.T) {
	e := And(EQ(C("a", "x"), 1), NewIntColumn("a", "y").GT(2), Label(Sum(C("b", "z")), "s"))
	cols := Columns(e)
	require.Len(t, cols, 3)
	assert.Equal(t, "x", cols[0].Name())
	assert.Equal(t, "y", cols[1].Name())
	assert.Equal(t, "b", cols[2].Table())
	assert.True(t, Aggregates(e))
	assert.False(t, Aggregates(EQ(C("a", "x"), 1)))

	c, ok := AsColumn(Label(C("a", "x"), "alias"))
	require.True(t, ok)
	assert.Equal(t, "x", c.Name())
	_, ok = AsColumn(Lit(1))
	assert.False(t, ok)
}
