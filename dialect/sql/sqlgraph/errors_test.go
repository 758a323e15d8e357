package sqlgraph

import (
	"context"
	stdsql "database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/vellum"
)

func TestConstraintKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
		cons string
	}{
		{"nil", nil, "", ""},
		{"plain", errors.New("syntax error"), "", ""},
		{"pq unique", &pq.Error{Code: "23505", Constraint: "users_name_key"}, KindUnique, "users_name_key"},
		{"pq foreign key", fmt.Errorf("exec: %w", &pq.Error{Code: "23503", Constraint: "pets_owner_fk"}), KindForeignKey, "pets_owner_fk"},
		{"pgconn check", &pgconn.PgError{Code: "23514", ConstraintName: "qty_positive"}, KindCheck, "qty_positive"},
		{"pgconn not null", &pgconn.PgError{Code: "23502"}, KindNotNull, ""},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a' for key 'users.name'"}, KindUnique, "users.name"},
		{
			"mysql child row",
			&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row: a foreign key constraint fails (`db`.`pets`, CONSTRAINT `pets_owner_fk` FOREIGN KEY (`owner_id`) REFERENCES `users` (`id`))"},
			KindForeignKey, "pets_owner_fk",
		},
		{"mysql check", &mysql.MySQLError{Number: 3819, Message: "Check constraint 'qty_positive' is violated."}, KindCheck, "qty_positive"},
		{"sqlite message", errors.New("constraint failed: UNIQUE constraint failed: users.name (2067)"), KindUnique, "users.name"},
		{"sqlite fk message", errors.New("FOREIGN KEY constraint failed"), KindForeignKey, ""},
		{"postgres message", errors.New(`pq: duplicate key value violates unique constraint "users_name_key"`), KindUnique, "users_name_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, ConstraintKind(tt.err))
			assert.Equal(t, tt.cons, ConstraintName(tt.err))
			assert.Equal(t, tt.kind != "", IsConstraintError(tt.err))
		})
	}
	assert.True(t, IsUniqueConstraintError(&pq.Error{Code: "23505"}))
	assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1451}))
	assert.True(t, IsCheckConstraintError(errors.New("CHECK constraint failed: qty")))
	assert.True(t, IsNotNullConstraintError(errors.New("NOT NULL constraint failed: users.name")))
}

func TestClassify(t *testing.T) {
	t.Run("integrity", func(t *testing.T) {
		err := Classify(&pq.Error{Code: "23505", Constraint: "users_name_key"})
		var iv *vellum.IntegrityViolationError
		require.True(t, errors.As(err, &iv))
		assert.Equal(t, "users_name_key", iv.Constraint)
		assert.Equal(t, KindUnique, iv.Kind)
		assert.True(t, vellum.IsIntegrityViolation(err))
		assert.Same(t, err, Classify(err), "already classified")
	})
	t.Run("connection", func(t *testing.T) {
		err := Classify(fmt.Errorf("exec: %w", driver.ErrBadConn))
		assert.True(t, vellum.IsConnectionLost(err))
		assert.ErrorIs(t, err, driver.ErrBadConn)
		assert.True(t, vellum.IsConnectionLost(Classify(stdsql.ErrConnDone)))
	})
	t.Run("other", func(t *testing.T) {
		orig := errors.New("no such table: users")
		assert.Same(t, orig, Classify(orig))
		assert.Nil(t, Classify(nil))
	})
}

func TestClassifySQLite(t *testing.T) {
	db, err := stdsql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "c.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE pets (id INTEGER PRIMARY KEY, owner_id INTEGER REFERENCES users(id))`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO users (name) VALUES ('a')`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO users (name) VALUES ('a')`)
	var iv *vellum.IntegrityViolationError
	require.True(t, errors.As(Classify(err), &iv))
	assert.Equal(t, KindUnique, iv.Kind)
	assert.Equal(t, "users.name", iv.Constraint)

	_, err = db.ExecContext(ctx, `INSERT INTO users (name) VALUES (NULL)`)
	require.True(t, errors.As(Classify(err), &iv))
	assert.Equal(t, KindNotNull, iv.Kind)

	_, err = db.ExecContext(ctx, `INSERT INTO pets (owner_id) VALUES (42)`)
	require.True(t, errors.As(Classify(err), &iv))
	assert.Equal(t, KindForeignKey, iv.Kind)
}
