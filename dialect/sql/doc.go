// Package sql executes resolved statements over database/sql.
//
// Driver implements dialect.Driver for MySQL, PostgreSQL and SQLite pools:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://localhost/shop?sslmode=disable")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rows := &sql.Rows{}
//	if err := drv.Query(ctx, "select id, name from users where id = $1", []any{1}, rows); err != nil {
//	    log.Fatal(err)
//	}
//	users, err := sql.ScanMaps(rows)
//
// # Session variables
//
// WithVar attaches variables that are SET on the connection before every
// statement run with the context. Values are escaped with the dialect's
// escaper and names must be plain identifiers:
//
//	ctx = sql.WithVar(ctx, "search_path", "tenant_1")
//
// # Constraint errors
//
// IsUniqueConstraintError, IsForeignKeyConstraintError and
// IsCheckConstraintError classify driver errors of all three dialects.
package sql
