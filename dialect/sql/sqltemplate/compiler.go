// Package sqltemplate resolves "?" and ":name" placeholders in SQL templates.
//
// The Compiler interpolates escaped literals into the template text:
//
//	c := sqltemplate.New(sqlescape.MySQL{})
//	st, err := c.Compile("select * from users where id in :ids and name = :name", sqltemplate.Named{
//	    "ids":  []int{1, 2, 3},
//	    "name": "O'Brien",
//	})
//	// st.SQL: select * from users where id in (1, 2, 3) and name = 'O\'Brien'
//
// The Binder translates the same templates into driver bind markers and an
// argument list, which is preferred whenever the driver supports it.
//
// Neither understands SQL: quotes and comments are not special, so
// placeholders inside string literals are substituted as well.
package sqltemplate

import (
	"regexp"
	"time"

	"github.com/syssam/sqlkit/dialect/sql/sqlescape"
	"github.com/syssam/sqlkit/event"
)

// Statement is a resolved template.
type Statement struct {
	SQL string
	// Args is only set by Binder.
	Args []any
	// Started is the time resolution finished; execution time is measured
	// from here.
	Started time.Time
}

// config is shared by Compiler and Binder.
type config struct {
	sink     event.Sink
	host     string
	database string
	now      func() time.Time
}

func newConfig(opts []Option) config {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// emit stamps the statement and reports it to the sink.
func (cfg *config) emit(query string) time.Time {
	started := cfg.now()
	if cfg.sink != nil {
		cfg.sink.Emit(event.Event{
			Kind:     event.KindQuery,
			Host:     cfg.host,
			Database: cfg.database,
			SQL:      query,
			Time:     started,
		})
	}
	return started
}

// Option configures a Compiler or a Binder.
type Option func(*config)

// WithSink sets the sink receiving an event.KindQuery event per statement.
func WithSink(s event.Sink) Option {
	return func(c *config) {
		c.sink = s
	}
}

// WithTarget sets the host and database reported in events.
func WithTarget(host, database string) Option {
	return func(c *config) {
		c.host = host
		c.database = database
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Compiler resolves templates into SQL text. It holds no per-call state and
// is safe for concurrent use.
type Compiler struct {
	config
	esc sqlescape.Escaper
}

// New returns a Compiler rendering values with esc.
func New(esc sqlescape.Escaper, opts ...Option) *Compiler {
	return &Compiler{config: newConfig(opts), esc: esc}
}

// Escaper returns the escaper used for values.
func (c *Compiler) Escaper() sqlescape.Escaper {
	return c.esc
}

// Compile resolves the placeholders of tmpl with args. Errors come only
// from the escaper and are returned as is.
func (c *Compiler) Compile(tmpl string, args Args) (*Statement, error) {
	query, err := c.Resolve(tmpl, args)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: query, Started: c.emit(query)}, nil
}

// Resolve is Compile without the event.
func (c *Compiler) Resolve(tmpl string, args Args) (string, error) {
	query := Normalize(tmpl)
	if args == nil {
		return Collapse(query), nil
	}
	subs, err := args.pending(c.esc)
	if err != nil {
		return "", err
	}
	r := NewReplacer(query)
	for _, s := range subs {
		r.Add(s.re, s.global, s.literal)
	}
	// Literals are still tokens here, so their own whitespace survives.
	r.Rewrite(Collapse)
	return r.Produce(), nil
}

var (
	leadingSpaceRe = regexp.MustCompile(`^\s+`)
	newlinesRe     = regexp.MustCompile(`\n+`)
	spacesRe       = regexp.MustCompile(`\s+`)
)

// Normalize trims leading whitespace and folds every run of newlines into
// a single space.
func Normalize(s string) string {
	return newlinesRe.ReplaceAllString(leadingSpaceRe.ReplaceAllString(s, ""), " ")
}

// Collapse folds every run of whitespace into a single space.
func Collapse(s string) string {
	return spacesRe.ReplaceAllString(s, " ")
}
