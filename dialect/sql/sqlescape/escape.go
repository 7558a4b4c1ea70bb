// Package sqlescape renders Go values as SQL literals.
//
// Escapers are used when a statement is interpolated as text instead of
// being sent with bound parameters. The rendering follows the quoting rules
// of the target dialect:
//
//	esc := sqlescape.For(dialect.MySQL)
//	esc.Escape("it's")             // 'it\'s'
//	esc.Escape(nil)                // NULL
//	esc.Escape([]int{1, 2, 3})     // (1, 2, 3)
//	esc.Escape([][]any{{1, "a"}})  // (1, 'a')
package sqlescape

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/sqlkit/dialect"
)

// ErrUnsupportedValue is matched by every error returned for a value that
// has no SQL literal representation.
var ErrUnsupportedValue = errors.New("sqlescape: unsupported value")

// UnsupportedValueError reports the type that could not be escaped.
type UnsupportedValueError struct {
	Type   reflect.Type
	Reason string
}

// Error returns the error string.
func (e *UnsupportedValueError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("sqlescape: cannot escape value of type %v: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("sqlescape: cannot escape value of type %v", e.Type)
}

// Is reports whether target is ErrUnsupportedValue.
func (e *UnsupportedValueError) Is(target error) bool {
	return target == ErrUnsupportedValue
}

// Escaper renders a value as a SQL literal.
type Escaper interface {
	Escape(v any) (string, error)
}

// Raw is a SQL fragment that is inserted verbatim, e.g. Raw("NOW()").
// Never build a Raw from user input.
type Raw string

// For returns the escaper matching the given dialect name.
// Unknown dialects get the MySQL escaper.
func For(name string) Escaper {
	switch name {
	case dialect.Postgres:
		return Standard{PostgresBytes: true}
	case dialect.SQLite:
		return Standard{}
	default:
		return MySQL{}
	}
}

// MySQL escapes values using MySQL string literal rules, where the
// backslash is an escape character.
type MySQL struct {
	// Location is the time zone times are converted to. Defaults to UTC.
	Location *time.Location
}

// Escape implements Escaper.
func (m MySQL) Escape(v any) (string, error) {
	return render(v, literals{
		str:     quoteMySQL,
		boolean: mysqlBool,
		bytes:   hexBytes,
		time:    timeFormatter(m.Location, "2006-01-02 15:04:05.000"),
	}, 0)
}

// Standard escapes values using ANSI quote doubling, as understood by
// PostgreSQL (with standard_conforming_strings) and SQLite.
type Standard struct {
	// Location is the time zone times are converted to. Defaults to UTC.
	Location *time.Location
	// PostgresBytes renders []byte as a bytea hex literal instead of X'..'.
	PostgresBytes bool
}

// Escape implements Escaper.
func (s Standard) Escape(v any) (string, error) {
	bytes := hexBytes
	if s.PostgresBytes {
		bytes = byteaBytes
	}
	return render(v, literals{
		str:     quoteStandard,
		boolean: standardBool,
		bytes:   bytes,
		time:    timeFormatter(s.Location, "2006-01-02 15:04:05.999999-07:00"),
	}, 0)
}

// literals holds the dialect specific pieces of rendering.
type literals struct {
	str     func(string) string
	boolean func(bool) string
	bytes   func([]byte) string
	time    func(time.Time) string
}

func render(v any, lit literals, depth int) (string, error) {
	switch v := v.(type) {
	case nil:
		return "NULL", nil
	case Raw:
		return string(v), nil
	case string:
		return lit.str(v), nil
	case bool:
		return lit.boolean(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return formatFloat(v, 64)
	case []byte:
		if v == nil {
			return "NULL", nil
		}
		return lit.bytes(v), nil
	case time.Time:
		return lit.time(v), nil
	case driver.Valuer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL", nil
		}
		dv, err := v.Value()
		if err != nil {
			return "", fmt.Errorf("sqlescape: driver.Valuer %T: %w", v, err)
		}
		if _, ok := dv.(driver.Valuer); ok {
			return "", &UnsupportedValueError{Type: reflect.TypeOf(v), Reason: "Value returned another driver.Valuer"}
		}
		return render(dv, lit, depth)
	}
	return renderReflect(reflect.ValueOf(v), lit, depth)
}

func renderReflect(rv reflect.Value, lit literals, depth int) (string, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "NULL", nil
		}
		return render(rv.Elem().Interface(), lit, depth)
	case reflect.String:
		return lit.str(rv.String()), nil
	case reflect.Bool:
		return lit.boolean(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.Kind() == reflect.Slice && rv.IsNil() {
				return "NULL", nil
			}
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return lit.bytes(b), nil
		}
		return renderList(rv, lit, depth)
	default:
		return "", &UnsupportedValueError{Type: rv.Type()}
	}
}

// renderList renders a flat list as "(a, b)" and a list of lists as row
// groups "(a, b), (c, d)". Lists nested deeper than two levels are rejected.
func renderList(rv reflect.Value, lit literals, depth int) (string, error) {
	if depth > 1 {
		return "", &UnsupportedValueError{Type: rv.Type(), Reason: "lists nest at most two levels"}
	}
	if rv.Len() == 0 {
		return "(NULL)", nil
	}
	grouped := depth == 0 && isList(rv.Index(0))
	parts := make([]string, rv.Len())
	for i := range parts {
		elem := rv.Index(i)
		if grouped != isList(elem) && depth == 0 {
			return "", &UnsupportedValueError{Type: rv.Type(), Reason: "cannot mix lists and scalars"}
		}
		s, err := render(elem.Interface(), lit, depth+1)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	if grouped {
		return strings.Join(parts, ", "), nil
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

// isList reports whether v holds a slice or array that is rendered as a list.
func isList(v reflect.Value) bool {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	return v.Type().Elem().Kind() != reflect.Uint8
}

func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", &UnsupportedValueError{Type: reflect.TypeOf(f), Reason: "not a finite number"}
	}
	return strconv.FormatFloat(f, 'g', -1, bits), nil
}

var mysqlReplacer = strings.NewReplacer(
	"\x00", `\0`,
	"\b", `\b`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
	`"`, `\"`,
	`'`, `\'`,
	`\`, `\\`,
)

func quoteMySQL(s string) string {
	return "'" + mysqlReplacer.Replace(s) + "'"
}

func quoteStandard(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func mysqlBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func standardBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func hexBytes(b []byte) string {
	return "X'" + hex.EncodeToString(b) + "'"
}

func byteaBytes(b []byte) string {
	return `'\x` + hex.EncodeToString(b) + "'"
}

func timeFormatter(loc *time.Location, layout string) func(time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	return func(t time.Time) string {
		return "'" + t.In(loc).Format(layout) + "'"
	}
}

var (
	_ Escaper = MySQL{}
	_ Escaper = Standard{}
)
