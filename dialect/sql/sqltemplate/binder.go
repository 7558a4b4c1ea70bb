package sqltemplate

import (
	"database/sql/driver"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/dialect/sql/sqlescape"
)

// DefaultCacheSize is the number of parsed templates a Binder keeps when no
// size is given.
const DefaultCacheSize = 512

// Binder translates templates into dialect bind markers and an argument
// list, leaving the values to the driver. It accepts the same templates as
// the Compiler:
//
//	b, _ := sqltemplate.NewBinder(dialect.Postgres, 0)
//	st, _ := b.Bind("select * from users where id in :ids and name = :name", sqltemplate.Named{
//	    "ids":  []int{1, 2},
//	    "name": "O'Brien",
//	})
//	// st.SQL:  select * from users where id in ($1, $2) and name = $3
//	// st.Args: [1 2 O'Brien]
//
// Parsed templates are kept in an LRU cache, so a Binder is meant to be
// shared. It is safe for concurrent use.
type Binder struct {
	config
	numbered bool
	cache    *lru.Cache[cacheKey, *template]
}

type cacheKey struct {
	named bool
	tmpl  string
}

// template is a normalized template split around its placeholders.
type template struct {
	parts []part
}

// part is literal text followed by an optional placeholder. name is empty
// for a positional placeholder.
type part struct {
	text        string
	placeholder bool
	name        string
}

// NewBinder returns a Binder emitting the bind markers of the given dialect:
// "$1", "$2", ... for PostgreSQL and "?" otherwise. A size of zero or less
// selects DefaultCacheSize.
func NewBinder(name string, size int, opts ...Option) (*Binder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *template](size)
	if err != nil {
		return nil, err
	}
	return &Binder{
		config:   newConfig(opts),
		numbered: name == dialect.Postgres,
		cache:    cache,
	}, nil
}

// Bind resolves the placeholders of tmpl to bind markers. Lists expand to
// one marker per element in the shape the escaper renders them: "(?, ?)"
// for a flat list and "(?, ?), (?, ?)" for row groups. Placeholders without
// a value are left in place, as with Compile.
func (b *Binder) Bind(tmpl string, args Args) (*Statement, error) {
	var (
		t   *template
		err error
		w   = &writer{numbered: b.numbered}
	)
	switch args := args.(type) {
	case nil:
		query := Collapse(Normalize(tmpl))
		return &Statement{SQL: query, Started: b.emit(query)}, nil
	case Positional:
		t = b.parse(tmpl, false)
		err = w.positional(t, args)
	case Named:
		t = b.parse(tmpl, true)
		err = w.named(t, args)
	}
	if err != nil {
		return nil, err
	}
	query := w.sb.String()
	return &Statement{SQL: query, Args: w.args, Started: b.emit(query)}, nil
}

var namedPlaceholderRe = regexp.MustCompile(`:(\w+)`)

func (b *Binder) parse(tmpl string, named bool) *template {
	key := cacheKey{named: named, tmpl: tmpl}
	if t, ok := b.cache.Get(key); ok {
		return t
	}
	query := Collapse(Normalize(tmpl))
	t := &template{}
	if named {
		last := 0
		for _, loc := range namedPlaceholderRe.FindAllStringSubmatchIndex(query, -1) {
			t.parts = append(t.parts, part{text: query[last:loc[0]], placeholder: true, name: query[loc[2]:loc[3]]})
			last = loc[1]
		}
		t.parts = append(t.parts, part{text: query[last:]})
	} else {
		for {
			i := strings.IndexByte(query, '?')
			if i < 0 {
				break
			}
			t.parts = append(t.parts, part{text: query[:i], placeholder: true})
			query = query[i+1:]
		}
		t.parts = append(t.parts, part{text: query})
	}
	b.cache.Add(key, t)
	return t
}

// Len returns the number of cached templates.
func (b *Binder) Len() int {
	return b.cache.Len()
}

type writer struct {
	sb       strings.Builder
	args     []any
	numbered bool
}

func (w *writer) positional(t *template, values Positional) error {
	n := 0
	for _, p := range t.parts {
		w.sb.WriteString(p.text)
		if !p.placeholder {
			continue
		}
		if n >= len(values) {
			w.sb.WriteByte('?')
			continue
		}
		if err := w.value(values[n], 0); err != nil {
			return err
		}
		n++
	}
	return nil
}

func (w *writer) named(t *template, values Named) error {
	for _, p := range t.parts {
		w.sb.WriteString(p.text)
		if !p.placeholder {
			continue
		}
		v, ok := values[p.name]
		if !ok {
			w.sb.WriteString(":" + p.name)
			continue
		}
		if err := w.value(v, 0); err != nil {
			return err
		}
	}
	return nil
}

// value writes the markers for v and records the matching arguments.
func (w *writer) value(v any, depth int) error {
	rv := reflect.ValueOf(v)
	if !expandable(rv) {
		// Values the escaper cannot render are not sent to the driver either.
		if _, err := (sqlescape.MySQL{}).Escape(v); err != nil {
			return err
		}
		w.marker(v)
		return nil
	}
	if depth > 1 {
		return &sqlescape.UnsupportedValueError{Type: rv.Type(), Reason: "lists nest at most two levels"}
	}
	if rv.Len() == 0 {
		w.sb.WriteString("(NULL)")
		return nil
	}
	grouped := depth == 0 && expandable(rv.Index(0))
	if !grouped {
		w.sb.WriteByte('(')
	}
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		if depth == 0 && grouped != expandable(elem) {
			return &sqlescape.UnsupportedValueError{Type: rv.Type(), Reason: "cannot mix lists and scalars"}
		}
		if i > 0 {
			w.sb.WriteString(", ")
		}
		if err := w.value(elem.Interface(), depth+1); err != nil {
			return err
		}
	}
	if !grouped {
		w.sb.WriteByte(')')
	}
	return nil
}

func (w *writer) marker(v any) {
	w.args = append(w.args, v)
	if w.numbered {
		w.sb.WriteString("$" + strconv.Itoa(len(w.args)))
		return
	}
	w.sb.WriteByte('?')
}

var (
	valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType   = reflect.TypeOf(time.Time{})
)

// expandable reports whether v is a list bound as one marker per element.
// Byte slices and driver.Valuer implementations are single values.
func expandable(v reflect.Value) bool {
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Type().Implements(valuerType) || v.Type() == timeType {
		return false
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	return v.Type().Elem().Kind() != reflect.Uint8
}
