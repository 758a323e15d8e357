package sqlgraph

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/vellum"
	"github.com/syssam/vellum/dialect/sql"
)

// Constraint kinds reported in vellum.IntegrityViolationError.Kind.
const (
	KindUnique     = "unique"
	KindForeignKey = "foreign key"
	KindCheck      = "check"
	KindNotNull    = "not null"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// sqlStateError is implemented by pgconn.PgError and pq.Error.
type sqlStateError interface {
	SQLState() string
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return ConstraintKind(err) != ""
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool { return ConstraintKind(err) == KindUnique }

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool { return ConstraintKind(err) == KindForeignKey }

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool { return ConstraintKind(err) == KindCheck }

// IsNotNullConstraintError reports if the error resulted from writing NULL to a NOT NULL column.
func IsNotNullConstraintError(err error) bool { return ConstraintKind(err) == KindNotNull }

// ConstraintKind classifies err. It returns "" for errors that are not
// constraint violations.
func ConstraintKind(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError[sqlStateError](err); ok {
		switch e.SQLState() {
		case pgUniqueViolation:
			return KindUnique
		case pgForeignKeyViolation:
			return KindForeignKey
		case pgCheckViolation:
			return KindCheck
		case pgNotNullViolation:
			return KindNotNull
		}
	}
	if e := (*pq.Error)(nil); errors.As(err, &e) {
		switch string(e.Code) {
		case pgUniqueViolation:
			return KindUnique
		case pgForeignKeyViolation:
			return KindForeignKey
		case pgCheckViolation:
			return KindCheck
		case pgNotNullViolation:
			return KindNotNull
		}
	}
	if e := (*mysql.MySQLError)(nil); errors.As(err, &e) {
		switch e.Number {
		case mysqlDuplicateEntry:
			return KindUnique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return KindForeignKey
		case mysqlCheckConstraintViolate:
			return KindCheck
		case mysqlBadNull:
			return KindNotNull
		}
	}
	if e := (*sqlite.Error)(nil); errors.As(err, &e) {
		switch e.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return KindUnique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return KindForeignKey
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return KindCheck
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return KindNotNull
		}
	}
	// Fallback to string matching for wrapped or driver-less errors.
	switch msg := err.Error(); {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return KindUnique
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return KindForeignKey
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return KindCheck
	case containsAny(msg, "Error 1048", "violates not-null constraint", "NOT NULL constraint failed"):
		return KindNotNull
	}
	return ""
}

var (
	sqliteConstraintRe = regexp.MustCompile(`(?:UNIQUE|CHECK|NOT NULL|FOREIGN KEY) constraint failed(?:: (.+?))?(?: \(\d+\))?$`)
	mysqlKeyRe         = regexp.MustCompile("for key '([^']+)'")
	mysqlConstraintRe  = regexp.MustCompile("CONSTRAINT `([^`]+)`")
	mysqlCheckRe       = regexp.MustCompile("Check constraint '([^']+)'")
	pgConstraintRe     = regexp.MustCompile(`constraint "([^"]+)"`)
)

// ConstraintName returns the name of the violated constraint. SQLite does
// not name unique and not-null constraints; for those the "table.column"
// list from the message is returned. The result is "" when the backend
// does not report one.
func ConstraintName(err error) string {
	if err == nil {
		return ""
	}
	if e := (*pgconn.PgError)(nil); errors.As(err, &e) {
		return e.ConstraintName
	}
	if e := (*pq.Error)(nil); errors.As(err, &e) {
		return e.Constraint
	}
	msg := err.Error()
	if e := (*mysql.MySQLError)(nil); errors.As(err, &e) {
		msg = e.Message
	}
	for _, re := range []*regexp.Regexp{sqliteConstraintRe, mysqlKeyRe, mysqlConstraintRe, mysqlCheckRe, pgConstraintRe} {
		if m := re.FindStringSubmatch(msg); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// Classify maps a backend error onto the vellum taxonomy: constraint
// violations become *vellum.IntegrityViolationError and dropped
// connections *vellum.ConnectionLostError. Other errors are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		iv *vellum.IntegrityViolationError
		cl *vellum.ConnectionLostError
	)
	switch {
	case errors.As(err, &iv), errors.As(err, &cl):
		return err
	case sql.IsConnectionError(err):
		return &vellum.ConnectionLostError{Err: err}
	}
	if kind := ConstraintKind(err); kind != "" {
		return &vellum.IntegrityViolationError{Constraint: ConstraintName(err), Kind: kind, Err: err}
	}
	return err
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
