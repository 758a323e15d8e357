package vellum

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	// ErrNotFound is returned when a row looked up by its identity key does not exist.
	ErrNotFound = errors.New("vellum: entity not found")

	// ErrNoResult is returned by One when the query matched no rows.
	ErrNoResult = errors.New("vellum: no result found")

	// ErrMultipleResults is returned by One when the query matched more than one row.
	ErrMultipleResults = errors.New("vellum: multiple results found")

	// ErrDuplicateTable is returned when a table name is registered twice.
	ErrDuplicateTable = errors.New("vellum: duplicate table")

	// ErrUnknownTable is returned when a table is referenced but was never registered.
	ErrUnknownTable = errors.New("vellum: unknown table")

	// ErrUnknownColumn is returned when an attribute does not map to a column.
	ErrUnknownColumn = errors.New("vellum: unknown column")

	// ErrUnknownRelationship is returned when a relationship name does not resolve.
	ErrUnknownRelationship = errors.New("vellum: unknown relationship")

	// ErrAmbiguousJoin is returned when a join path cannot be derived from exactly
	// one foreign key or one explicit join condition.
	ErrAmbiguousJoin = errors.New("vellum: ambiguous join")

	// ErrCyclicDependency is returned by flush when pending inserts depend on each other.
	ErrCyclicDependency = errors.New("vellum: cyclic dependency")

	// ErrIntegrityViolation is returned when the backend reports a constraint violation.
	ErrIntegrityViolation = errors.New("vellum: integrity violation")

	// ErrCardinalityViolation is returned when a scalar relationship resolves to more than one row.
	ErrCardinalityViolation = errors.New("vellum: cardinality violation")

	// ErrAlreadyPersistent is returned when an entity is added to a session while
	// it is owned by another one.
	ErrAlreadyPersistent = errors.New("vellum: entity already attached to another session")

	// ErrConnectionLost is returned when the backend connection went away mid-operation.
	ErrConnectionLost = errors.New("vellum: connection lost")

	// ErrUnsupportedLabelReference is returned when a label is referenced in a
	// clause the target dialect cannot resolve labels in.
	ErrUnsupportedLabelReference = errors.New("vellum: unsupported label reference")

	// ErrSessionClosed is returned by any operation on a closed or broken session.
	ErrSessionClosed = errors.New("vellum: session is closed")
)

// NotFoundError reports a missing row, optionally with the key looked up.
type NotFoundError struct {
	label string
	id    any
}

func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("vellum: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("vellum: %s not found", e.label)
}

func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the table name.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the key looked up, or nil.
func (e *NotFoundError) ID() any {
	return e.id
}

func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID is NewNotFoundError with the key looked up.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound reports whether err is, or wraps, a missing row.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// NoResultError is returned by One when no row matched.
type NoResultError struct {
	label string
}

func (e *NoResultError) Error() string {
	return fmt.Sprintf("vellum: no %s found, expected exactly one", e.label)
}

func (e *NoResultError) Is(err error) bool {
	return err == ErrNoResult
}

// NewNoResultError returns a new NoResultError for the queried label.
func NewNoResultError(label string) *NoResultError {
	return &NoResultError{label: label}
}

// IsNoResult reports whether errors.Is(err, ErrNoResult).
func IsNoResult(err error) bool {
	return err != nil && errors.Is(err, ErrNoResult)
}

// MultipleResultsError is returned by One when more than one row matched.
type MultipleResultsError struct {
	label string
	count int // -1 when unknown
}

func (e *MultipleResultsError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("vellum: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("vellum: %s not singular", e.label)
}

func (e *MultipleResultsError) Is(err error) bool {
	return err == ErrMultipleResults
}

// Count returns the number of matched rows, or -1.
func (e *MultipleResultsError) Count() int {
	return e.count
}

// NewMultipleResultsError returns a new MultipleResultsError with the result count.
func NewMultipleResultsError(label string, count int) *MultipleResultsError {
	return &MultipleResultsError{label: label, count: count}
}

// IsMultipleResults reports whether errors.Is(err, ErrMultipleResults).
func IsMultipleResults(err error) bool {
	return err != nil && errors.Is(err, ErrMultipleResults)
}

// DuplicateTableError is returned when a table name collides in the registry.
type DuplicateTableError struct {
	Table string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("vellum: table %q is already registered", e.Table)
}

func (e *DuplicateTableError) Is(err error) bool { return err == ErrDuplicateTable }

// UnknownTableError is returned when a table name is not registered.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("vellum: table %q is not registered", e.Table)
}

func (e *UnknownTableError) Is(err error) bool { return err == ErrUnknownTable }

// UnknownColumnError is returned when an attribute does not exist on a table.
type UnknownColumnError struct {
	Table  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("vellum: table %q has no column %q", e.Table, e.Column)
}

func (e *UnknownColumnError) Is(err error) bool { return err == ErrUnknownColumn }

// UnknownRelationshipError is returned when a relationship cannot be found.
type UnknownRelationshipError struct {
	Table string
	Name  string
}

func (e *UnknownRelationshipError) Error() string {
	return fmt.Sprintf("vellum: table %q has no relationship %q", e.Table, e.Name)
}

func (e *UnknownRelationshipError) Is(err error) bool { return err == ErrUnknownRelationship }

// IsUnknownRelationship reports whether errors.Is(err, ErrUnknownRelationship).
func IsUnknownRelationship(err error) bool {
	return err != nil && errors.Is(err, ErrUnknownRelationship)
}

// AmbiguousJoinError is returned when a join condition cannot be derived
// from exactly one foreign key.
type AmbiguousJoinError struct {
	From       string
	To         string
	Candidates int    // Number of foreign keys that could serve the join.
	Via        string // Relationship or association table involved, if any.
}

func (e *AmbiguousJoinError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vellum: cannot derive join between %q and %q", e.From, e.To)
	if e.Via != "" {
		fmt.Fprintf(&sb, " via %q", e.Via)
	}
	if e.Candidates == 0 {
		sb.WriteString(": no foreign key links them")
	} else {
		fmt.Fprintf(&sb, ": %d foreign keys match, specify the join columns", e.Candidates)
	}
	return sb.String()
}

func (e *AmbiguousJoinError) Is(err error) bool { return err == ErrAmbiguousJoin }

// NewAmbiguousJoinError returns a new AmbiguousJoinError.
func NewAmbiguousJoinError(from, to string, candidates int) *AmbiguousJoinError {
	return &AmbiguousJoinError{From: from, To: to, Candidates: candidates}
}

// IsAmbiguousJoin reports whether errors.Is(err, ErrAmbiguousJoin).
func IsAmbiguousJoin(err error) bool {
	return err != nil && errors.Is(err, ErrAmbiguousJoin)
}

// CyclicDependencyError is returned when pending inserts form a dependency cycle.
type CyclicDependencyError struct {
	// Members lists the entities caught in the cycle, as "table(#position)".
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("vellum: cyclic dependency between pending entities: %s", strings.Join(e.Members, ", "))
}

func (e *CyclicDependencyError) Is(err error) bool { return err == ErrCyclicDependency }

// IsCyclicDependency reports whether errors.Is(err, ErrCyclicDependency).
func IsCyclicDependency(err error) bool {
	return err != nil && errors.Is(err, ErrCyclicDependency)
}

// IntegrityViolationError wraps a constraint violation reported by the
// backend.
type IntegrityViolationError struct {
	// Constraint is the violated constraint name as reported by the backend.
	// For SQLite this is the "table.column" list from the error message.
	Constraint string
	// Kind is one of "unique", "foreign key", "check", "not null" or "".
	Kind string
	Err  error
}

func (e *IntegrityViolationError) Error() string {
	var sb strings.Builder
	sb.WriteString("vellum: integrity violation")
	if e.Kind != "" {
		sb.WriteString(" (" + e.Kind + ")")
	}
	if e.Constraint != "" {
		fmt.Fprintf(&sb, " on %q", e.Constraint)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *IntegrityViolationError) Unwrap() error { return e.Err }

func (e *IntegrityViolationError) Is(err error) bool { return err == ErrIntegrityViolation }

// IsIntegrityViolation reports whether errors.Is(err, ErrIntegrityViolation).
func IsIntegrityViolation(err error) bool {
	return err != nil && errors.Is(err, ErrIntegrityViolation)
}

// CardinalityViolationError is returned when a scalar relationship has more
// than one related row.
type CardinalityViolationError struct {
	Table        string
	Relationship string
	Count        int
}

func (e *CardinalityViolationError) Error() string {
	return fmt.Sprintf("vellum: relationship %s.%s expects at most one row, found %d", e.Table, e.Relationship, e.Count)
}

func (e *CardinalityViolationError) Is(err error) bool { return err == ErrCardinalityViolation }

// IsCardinalityViolation reports whether errors.Is(err, ErrCardinalityViolation).
func IsCardinalityViolation(err error) bool {
	return err != nil && errors.Is(err, ErrCardinalityViolation)
}

// AlreadyPersistentError is returned by Add when the entity is owned by
// another session, or its identity key is held by another instance.
type AlreadyPersistentError struct {
	Label string
	Key   any
}

func (e *AlreadyPersistentError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("vellum: %s (key=%v) is already attached to another session or instance", e.Label, e.Key)
	}
	return fmt.Sprintf("vellum: %s is already attached to another session", e.Label)
}

func (e *AlreadyPersistentError) Is(err error) bool { return err == ErrAlreadyPersistent }

// ConnectionLostError wraps a driver error signalling the connection is gone.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("vellum: connection lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

func (e *ConnectionLostError) Is(err error) bool { return err == ErrConnectionLost }

// IsConnectionLost reports whether errors.Is(err, ErrConnectionLost).
func IsConnectionLost(err error) bool {
	return err != nil && errors.Is(err, ErrConnectionLost)
}

// UnsupportedLabelReferenceError is returned by the compiler when a labeled
// expression is referenced in a clause the dialect does not resolve labels in.
type UnsupportedLabelReferenceError struct {
	Label   string
	Clause  string
	Dialect string
}

func (e *UnsupportedLabelReferenceError) Error() string {
	return fmt.Sprintf("vellum: dialect %q does not support label reference %q in %s", e.Dialect, e.Label, e.Clause)
}

func (e *UnsupportedLabelReferenceError) Is(err error) bool { return err == ErrUnsupportedLabelReference }

// StaleOverwriteWarning is reported, not returned, when a fetched row carries
// a value for an attribute that has an unflushed local edit. The local edit wins.
type StaleOverwriteWarning struct {
	Table   string
	Key     any
	Column  string
	Local   any // Pending local value that was kept.
	Fetched any // Value read from the backend that was discarded.
}

// Error returns the warning string.
func (w *StaleOverwriteWarning) Error() string {
	return fmt.Sprintf("vellum: kept pending edit of %s.%s (key=%v): fetched %v, local %v",
		w.Table, w.Column, w.Key, w.Fetched, w.Local)
}

// ValidationError reports a value rejected by the validators of a field.
type ValidationError struct {
	Name string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vellum: validator failed for field %q: %s", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError reports whether a field validator rejected a value.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// RollbackError wraps the failure of a transaction rollback.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("vellum: rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// QueryError wraps the failure of a read with the table and the step
// that failed: "select", "count", "get" or "authorize".
type QueryError struct {
	Entity string
	Op     string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("vellum: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("vellum: querying %s: %v", e.Entity, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// MutationError wraps the failure of a write to Entity. Op is "insert",
// "update" or "delete".
type MutationError struct {
	Entity string
	Op     string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("vellum: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}
