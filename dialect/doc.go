// Package dialect names the supported SQL dialects and the driver
// interfaces the sqlkit client executes statements through.
//
// Three dialects are known:
//
//	dialect.MySQL    = "mysql"
//	dialect.Postgres = "postgres"
//	dialect.SQLite   = "sqlite"
//
// The dialect decides how values are escaped when a statement is
// interpolated (see dialect/sql/sqlescape), which bind markers are emitted
// when it is not (see dialect/sql/sqltemplate) and how identifiers are
// quoted.
//
// A Driver executes already resolved statements:
//
//	drv, err := sql.Open(dialect.MySQL, "user:pass@tcp(localhost:3306)/shop")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	rows := &sql.Rows{}
//	err = drv.Query(ctx, "select * from users where id = ?", []any{1}, rows)
//
// Drivers can be wrapped as long as the wrapper keeps implementing Driver.
package dialect
