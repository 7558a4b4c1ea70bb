package sqlkit

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/dialect/sql"
)

// Find returns the rows of table matching every condition. A slice
// condition matches any of its elements.
func (c *Client) Find(ctx context.Context, table string, conds map[string]any) ([]Row, error) {
	tbl, err := c.quote(table)
	if err != nil {
		return nil, err
	}
	where, args, err := c.where(conds, "")
	if err != nil {
		return nil, err
	}
	return c.query(ctx, "find", "select * from "+tbl+where, args)
}

// FindOne returns the first row of table matching the conditions, or
// ErrNotFound.
func (c *Client) FindOne(ctx context.Context, table string, conds map[string]any) (Row, error) {
	rows, err := c.Find(ctx, table, conds)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{table: table}
	}
	return rows[0], nil
}

// FindOneByID returns the row of table whose id column equals id.
func (c *Client) FindOneByID(ctx context.Context, table string, id any) (Row, error) {
	row, err := c.FindOne(ctx, table, map[string]any{"id": id})
	if IsNotFound(err) {
		return nil, &NotFoundError{table: table, id: id}
	}
	return row, err
}

// FindOneByQuery returns the first row of a template, or ErrNotFound.
func (c *Client) FindOneByQuery(ctx context.Context, tmpl string, args Args) (Row, error) {
	rows, err := c.query(ctx, "query", tmpl, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// Has reports whether table has a row matching the conditions.
func (c *Client) Has(ctx context.Context, table string, conds map[string]any) (bool, error) {
	_, err := c.FindOne(ctx, table, conds)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Insert inserts rows into table in a single statement. The columns are
// the keys of the first row; other rows missing a column insert NULL.
func (c *Client) Insert(ctx context.Context, table string, rows ...map[string]any) (sql.Result, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrNoValues
	}
	tbl, err := c.quote(table)
	if err != nil {
		return nil, err
	}
	keys := sortedKeys(rows[0])
	cols, err := c.quoteAll(keys)
	if err != nil {
		return nil, err
	}
	groups := make([][]any, len(rows))
	for i, row := range rows {
		group := make([]any, len(keys))
		for j, k := range keys {
			group[j] = row[k]
		}
		groups[i] = group
	}
	tmpl := fmt.Sprintf("insert into %s (%s) values :rows", tbl, strings.Join(cols, ", "))
	return c.exec(ctx, "insert", tmpl, Named{"rows": groups})
}

// InsertAndFind inserts row and returns it as stored, read back by the
// generated id. A negative id is treated as unset and left to the
// database. The driver must report LastInsertId, which PostgreSQL does not.
func (c *Client) InsertAndFind(ctx context.Context, table string, row map[string]any) (Row, error) {
	values := make(map[string]any, len(row))
	for k, v := range row {
		if k == "id" && negative(v) {
			continue
		}
		values[k] = v
	}
	res, err := c.Insert(ctx, table, values)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlkit: insert into %s: last insert id: %w", table, err)
	}
	if id == 0 {
		return nil, &NotFoundError{table: table}
	}
	return c.FindOneByID(ctx, table, id)
}

// Update sets the given columns on the rows of table matching the
// conditions. Conditions are required.
func (c *Client) Update(ctx context.Context, table string, updates, conds map[string]any) (sql.Result, error) {
	if len(conds) == 0 {
		return nil, &DangerousOperationError{Table: table, Op: "update"}
	}
	if len(updates) == 0 {
		return nil, ErrNoValues
	}
	tbl, err := c.quote(table)
	if err != nil {
		return nil, err
	}
	args := Named{}
	names := placeholders{}
	keys := sortedKeys(updates)
	sets := make([]string, len(keys))
	for i, k := range keys {
		col, err := c.quote(k)
		if err != nil {
			return nil, err
		}
		name, err := names.add("set_", k)
		if err != nil {
			return nil, err
		}
		sets[i] = col + " = :" + name
		args[name] = updates[k]
	}
	where, wargs, err := c.where(conds, "where_")
	if err != nil {
		return nil, err
	}
	for k, v := range wargs {
		args[k] = v
	}
	return c.exec(ctx, "update", "update "+tbl+" set "+strings.Join(sets, ", ")+where, args)
}

// UpdateAndFind runs Update and returns the first row matching the
// conditions afterwards.
func (c *Client) UpdateAndFind(ctx context.Context, table string, updates, conds map[string]any) (Row, error) {
	if _, err := c.Update(ctx, table, updates, conds); err != nil {
		return nil, err
	}
	return c.FindOne(ctx, table, conds)
}

// Delete deletes the rows of table matching the conditions. Conditions
// are required.
func (c *Client) Delete(ctx context.Context, table string, conds map[string]any) (sql.Result, error) {
	if len(conds) == 0 {
		return nil, &DangerousOperationError{Table: table, Op: "delete"}
	}
	tbl, err := c.quote(table)
	if err != nil {
		return nil, err
	}
	where, args, err := c.where(conds, "")
	if err != nil {
		return nil, err
	}
	return c.exec(ctx, "delete", "delete from "+tbl+where, args)
}

// Where returns the " where ..." clause matching every condition, with one
// ":column" placeholder per condition, and the values for it. Slice values
// match with "in"; nil values and nil pointers match with "is null". It
// returns "" for no conditions, and an error when two columns map to the
// same placeholder, such as "a.b" and "a__b".
func (c *Client) Where(conds map[string]any) (string, Named, error) {
	return c.where(conds, "")
}

func (c *Client) where(conds map[string]any, prefix string) (string, Named, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	args := make(Named, len(conds))
	names := placeholders{}
	keys := sortedKeys(conds)
	parts := make([]string, len(keys))
	for i, k := range keys {
		col, err := c.quote(k)
		if err != nil {
			return "", nil, err
		}
		name, err := names.add(prefix, k)
		if err != nil {
			return "", nil, err
		}
		if isNull(conds[k]) {
			parts[i] = col + " is null"
			continue
		}
		if isList(conds[k]) {
			parts[i] = col + " in :" + name
		} else {
			parts[i] = col + "=:" + name
		}
		args[name] = conds[k]
	}
	return " where " + strings.Join(parts, " and "), args, nil
}

func (c *Client) quote(ident string) (string, error) {
	name := c.Dialect()
	if name == "" {
		name = dialect.MySQL
	}
	return sql.QuoteIdent(name, ident)
}

func (c *Client) quoteAll(idents []string) ([]string, error) {
	out := make([]string, len(idents))
	for i, id := range idents {
		q, err := c.quote(id)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// placeholderName maps a column name to a placeholder name; dots of
// qualified names are not word characters.
func placeholderName(col string) string {
	return strings.ReplaceAll(col, ".", "__")
}

// placeholders maps the placeholder names of a statement to their columns.
type placeholders map[string]string

func (p placeholders) add(prefix, col string) (string, error) {
	name := prefix + placeholderName(col)
	if prev, ok := p[name]; ok {
		return "", fmt.Errorf("sqlkit: columns %q and %q share placeholder :%s", prev, col, name)
	}
	p[name] = col
	return name, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isList reports whether v is a slice or array other than []byte.
func isList(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	return rv.Type().Elem().Kind() != reflect.Uint8
}

// isNull reports whether v is rendered as NULL: nil, a nil pointer or a
// nil byte slice.
func isNull(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Pointer:
		return rv.IsNil()
	case reflect.Slice:
		return rv.IsNil() && rv.Type().Elem().Kind() == reflect.Uint8
	default:
		return false
	}
}

func negative(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() < 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() < 0
	default:
		return false
	}
}
