package dialect

import "context"

// Dialect names.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// ExecQuerier wraps the two statement methods. args is a []any of bind
// arguments; v receives the result: *sql.Result (or nil) for Exec and
// *sql.Rows for Query.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is a connection pool for one dialect.
type Driver interface {
	ExecQuerier
	// Tx starts a transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the pool.
	Close() error
	// Dialect returns the dialect name.
	Dialect() string
}

// Tx is a transaction, bound to a single connection.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}
