package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// violation groups the codes of one kind of constraint violation across
// the supported drivers.
type violation struct {
	pg     string
	mysql  []uint16
	sqlite []int
	// text is matched against the message of errors from other drivers.
	text []string
}

var (
	uniqueViolation = violation{
		pg:     pgUniqueViolation,
		mysql:  []uint16{mysqlDuplicateEntry},
		sqlite: []int{sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY},
		text:   []string{"Error 1062", "violates unique constraint", "UNIQUE constraint failed"},
	}
	foreignKeyViolation = violation{
		pg:     pgForeignKeyViolation,
		mysql:  []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		sqlite: []int{sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY},
		text:   []string{"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"},
	}
	checkViolation = violation{
		pg:     pgCheckViolation,
		mysql:  []uint16{mysqlCheckConstraintViolate},
		sqlite: []int{sqlite3.SQLITE_CONSTRAINT_CHECK},
		text:   []string{"Error 3819", "violates check constraint", "CHECK constraint failed"},
	}
)

// IsConstraintError reports whether err is a constraint violation of any kind.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports whether err is a unique or primary key
// violation.
func IsUniqueConstraintError(err error) bool {
	return uniqueViolation.match(err)
}

// IsForeignKeyConstraintError reports whether err is a foreign key violation.
func IsForeignKeyConstraintError(err error) bool {
	return foreignKeyViolation.match(err)
}

// IsCheckConstraintError reports whether err is a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return checkViolation.match(err)
}

func (v violation) match(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == v.pg
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		for _, n := range v.mysql {
			if myErr.Number == n {
				return true
			}
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		for _, c := range v.sqlite {
			if liteErr.Code() == c {
				return true
			}
		}
		// Without extended result codes only the message tells the
		// constraint kind apart.
	}
	msg := err.Error()
	for _, s := range v.text {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
