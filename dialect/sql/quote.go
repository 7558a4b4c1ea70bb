package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/syssam/sqlkit/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// isValidIdentifier checks if the string is a valid SQL identifier.
func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// InvalidIdentifierError is returned for table and column names that
// cannot be quoted safely.
type InvalidIdentifierError struct {
	Name string
}

// Error returns the error string.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("dialect/sql: invalid identifier %q", e.Name)
}

// QuoteIdent quotes an identifier for the dialect: `name` for MySQL and
// "name" otherwise. Each part of a dotted name is quoted separately.
func QuoteIdent(name, ident string) (string, error) {
	if !isValidIdentifier(ident) || strings.Contains(ident, "..") || strings.HasSuffix(ident, ".") {
		return "", &InvalidIdentifierError{Name: ident}
	}
	q := `"`
	if name == dialect.MySQL {
		q = "`"
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + p + q
	}
	return strings.Join(parts, "."), nil
}
