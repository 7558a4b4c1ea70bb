package sqlkit

import (
	"errors"
	"fmt"

	"github.com/syssam/sqlkit/dialect/sql"
	"github.com/syssam/sqlkit/dialect/sql/sqlescape"
)

// Standard sentinel errors.
var (
	// ErrNoConnection is returned by every statement of a client that has
	// no driver or was closed.
	ErrNoConnection = errors.New("sqlkit: no connection")

	// ErrNotFound is returned by the FindOne family when no row matches.
	ErrNotFound = errors.New("sqlkit: row not found")

	// ErrDangerousOperation is matched by errors for updates and deletes
	// without conditions.
	ErrDangerousOperation = errors.New("sqlkit: dangerous operation")

	// ErrNoValues is returned for inserts and updates without columns.
	ErrNoValues = errors.New("sqlkit: no values")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("sqlkit: cannot start a transaction within a transaction")

	// ErrUnsupportedValue is matched by errors for values that have no SQL
	// representation, such as maps and structs.
	ErrUnsupportedValue = sqlescape.ErrUnsupportedValue
)

// NotFoundError is returned when a lookup by id finds no row.
type NotFoundError struct {
	table string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("sqlkit: %s not found (id=%v)", e.table, e.id)
	}
	return fmt.Sprintf("sqlkit: %s not found", e.table)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Table returns the table that was searched.
func (e *NotFoundError) Table() string {
	return e.table
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// DangerousOperationError is returned by Update and Delete when no
// condition is given; the statement would touch every row of the table.
type DangerousOperationError struct {
	Table string
	Op    string
}

// Error returns the error string.
func (e *DangerousOperationError) Error() string {
	return fmt.Sprintf("sqlkit: refusing to %s all rows of %s without conditions", e.Op, e.Table)
}

// Is reports whether the target error is ErrDangerousOperation.
func (e *DangerousOperationError) Is(err error) bool {
	return err == ErrDangerousOperation
}

// IsDangerousOperation returns true if the error is a DangerousOperationError.
func IsDangerousOperation(err error) bool {
	return errors.Is(err, ErrDangerousOperation)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("sqlkit: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// QueryError wraps a failed statement with the operation and the SQL that
// was sent.
type QueryError struct {
	Op  string // Operation (e.g. "query", "exec", "insert")
	SQL string // Statement as sent to the driver
	Err error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	return fmt.Sprintf("sqlkit: %s %q: %v", e.Op, e.SQL, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Error returned by the rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("sqlkit: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("sqlkit: config %s: %s", e.Field, e.Reason)
}

// wrapDriverError wraps a driver error, classifying constraint violations.
func wrapDriverError(op, query string, err error) error {
	if sql.IsConstraintError(err) {
		err = ConstraintError{msg: err.Error(), wrap: err}
	}
	return &QueryError{Op: op, SQL: query, Err: err}
}
