package sql

import (
	"testing"

	"github.com/syssam/vellum/dialect"
)

func BenchmarkInsertBuilder(b *testing.B) {
	for _, d := range []string{dialect.SQLite, dialect.MySQL, dialect.Postgres} {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Insert("cookies").
					Columns("cookie_name", "cookie_recipe_url", "cookie_sku", "quantity", "unit_cost").
					Values("chocolate chip", "http://some.aweso.me/cookie/recipe.html", "CC01", 12, "0.50").
					Query()
			}
		})
	}
}

func BenchmarkSelectBuilder_WithJoins(b *testing.B) {
	for _, d := range []string{dialect.SQLite, dialect.MySQL, dialect.Postgres} {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Select(C("orders", "order_id"), C("users", "username"), C("cookies", "cookie_name")).
					From("orders").
					Join("users", EQ(C("users", "user_id"), C("orders", "user_id"))).
					Join("line_items", EQ(C("line_items", "order_id"), C("orders", "order_id"))).
					Join("cookies", EQ(C("cookies", "cookie_id"), C("line_items", "cookie_id"))).
					Where(EQ(C("users", "username"), "cookiemon")).
					OrderBy(Desc(C("orders", "order_id"))).
					Limit(10).
					Query()
			}
		})
	}
}

func BenchmarkSelectBuilder_Complex(b *testing.B) {
	quantity, name := C("cookies", "quantity"), C("cookies", "cookie_name")
	for _, d := range []string{dialect.SQLite, dialect.MySQL, dialect.Postgres} {
		b.Run(d, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Dialect(d).Select(name, Label(Cast(Mul(quantity, C("cookies", "unit_cost")), "NUMERIC(12, 2)"), "inv_cost")).
					From("cookies").
					Where(And(
						Or(Between(quantity, 10, 50), Contains(name, "chip")),
						In(C("cookies", "cookie_sku"), "CC01", "PB01", "OR01"),
						NotNull(C("cookies", "cookie_recipe_url")),
					)).
					OrderBy(Desc(quantity), name).
					Limit(100).
					Offset(50).
					Query()
			}
		})
	}
}

func BenchmarkEval(b *testing.B) {
	pred := And(GT(C("cookies", "quantity"), 10), Contains(C("cookies", "cookie_name"), "chip"))
	r := ResolverFunc(func(_, column string) (any, bool) {
		if column == "quantity" {
			return int64(12), true
		}
		return "chocolate chip", true
	})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = EvalBool(pred, r)
	}
}
