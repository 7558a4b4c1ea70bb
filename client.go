// Package sqlkit runs SQL templates with "?" and ":name" placeholders
// against MySQL, PostgreSQL and SQLite.
//
//	client, err := sqlkit.Open(&sqlkit.Config{
//	    Dialect:  dialect.MySQL,
//	    Host:     "localhost",
//	    Database: "shop",
//	    Username: "app",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	rows, err := client.Query(ctx, "select * from users where id in :ids", sqlkit.Named{"ids": []int{1, 2}})
//
// Values are escaped and interpolated into the statement text by default;
// WithBindParams sends them as bind parameters instead. Every statement
// produces a "query" event when it is resolved and a "query-end" event when
// it completes:
//
//	client.On(event.KindQueryEnd, func(e event.Event) {
//	    log.Printf("%s took %s", e.SQL, e.Duration)
//	})
package sqlkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Drivers for the three dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/dialect/sql"
	"github.com/syssam/sqlkit/dialect/sql/sqlescape"
	"github.com/syssam/sqlkit/dialect/sql/sqltemplate"
	"github.com/syssam/sqlkit/event"
)

type (
	// Args is the value set of a template: Positional, Named or nil.
	Args = sqltemplate.Args
	// Positional values replace "?" placeholders from left to right.
	Positional = sqltemplate.Positional
	// Named values replace ":name" placeholders.
	Named = sqltemplate.Named
	// Raw is inserted into a statement verbatim.
	Raw = sqlescape.Raw
)

// Row is a result row keyed by column name. Text and blob columns are
// returned as strings.
type Row map[string]any

// pool is the state shared by a client and the transaction clients
// derived from it.
type pool struct {
	mu     sync.RWMutex
	drv    dialect.Driver
	closed bool
}

// Client executes templates on a driver. It is safe for concurrent use.
type Client struct {
	pool     *pool
	tx       dialect.Tx
	esc      sqlescape.Escaper
	bus      *event.Bus
	logger   *slog.Logger
	host     string
	database string
	bind     bool
	debug    bool
	slow     time.Duration
	now      func() time.Time
	stats    *stats
	compiler *sqltemplate.Compiler
	binder   *sqltemplate.Binder
}

// Option configures a Client.
type Option func(*Client)

// WithEscaper sets the escaper used to interpolate values. Defaults to the
// escaper of the driver's dialect.
func WithEscaper(esc sqlescape.Escaper) Option {
	return func(c *Client) {
		c.esc = esc
	}
}

// WithBus sets the bus statement events are emitted on, so that several
// clients can share subscribers.
func WithBus(b *event.Bus) Option {
	return func(c *Client) {
		c.bus = b
	}
}

// WithTarget sets the host and database reported in events.
func WithTarget(host, database string) Option {
	return func(c *Client) {
		c.host = host
		c.database = database
	}
}

// WithLogger sets the logger failed statements are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithBindParams sends values as bind parameters in the dialect's marker
// syntax instead of interpolating them.
func WithBindParams() Option {
	return func(c *Client) {
		c.bind = true
	}
}

// WithSlowThreshold logs statements slower than d at warn level and counts
// them in Stats.
func WithSlowThreshold(d time.Duration) Option {
	return func(c *Client) {
		c.slow = d
	}
}

// WithDebug logs every completed statement at info level.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = true
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient returns a client executing statements on drv. A nil driver
// gives a client whose statements fail with ErrNoConnection.
func NewClient(drv dialect.Driver, opts ...Option) *Client {
	c := &Client{
		pool:   &pool{drv: drv},
		logger: slog.Default(),
		now:    time.Now,
		stats:  &stats{},
	}
	for _, opt := range opts {
		opt(c)
	}
	name := dialect.MySQL
	if drv != nil {
		name = drv.Dialect()
	}
	if c.esc == nil {
		c.esc = sqlescape.For(name)
	}
	if c.bus == nil {
		c.bus = event.NewBus()
	}
	topts := []sqltemplate.Option{
		sqltemplate.WithSink(c.bus),
		sqltemplate.WithTarget(c.host, c.database),
		sqltemplate.WithClock(c.now),
	}
	c.compiler = sqltemplate.New(c.esc, topts...)
	if c.bind {
		// Only fails for a non-positive size.
		c.binder, _ = sqltemplate.NewBinder(name, sqltemplate.DefaultCacheSize, topts...)
	}
	return c
}

// Open opens a pool for cfg and returns a client on it. Options override
// the settings derived from cfg.
func Open(cfg *Config, opts ...Option) (*Client, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	drv, err := sql.Open(cfg.Dialect, dsn)
	if err != nil {
		return nil, err
	}
	db := drv.DB()
	if cfg.Pool.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.Pool.MaxOpen)
	}
	if cfg.Pool.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.Pool.MaxIdle)
	}
	if cfg.Pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Pool.MaxLifetime)
	}
	if cfg.Pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.Pool.MaxIdleTime)
	}

	base := []Option{WithTarget(cfg.Host, cfg.Database)}
	switch cfg.Dialect {
	case dialect.MySQL:
		base = append(base, WithEscaper(sqlescape.MySQL{Location: loc}))
	case dialect.Postgres:
		base = append(base, WithEscaper(sqlescape.Standard{Location: loc, PostgresBytes: true}))
	default:
		base = append(base, WithEscaper(sqlescape.Standard{Location: loc}))
	}
	if cfg.BindParams {
		base = append(base, WithBindParams())
	}
	if cfg.SlowThreshold > 0 {
		base = append(base, WithSlowThreshold(cfg.SlowThreshold))
	}
	if cfg.Debug {
		base = append(base, WithDebug())
	}
	return NewClient(drv, append(base, opts...)...), nil
}

// Driver returns the driver statements run on, or nil.
func (c *Client) Driver() dialect.Driver {
	c.pool.mu.RLock()
	defer c.pool.mu.RUnlock()
	return c.pool.drv
}

// Dialect returns the dialect of the driver, or "" without one.
func (c *Client) Dialect() string {
	if drv := c.Driver(); drv != nil {
		return drv.Dialect()
	}
	return ""
}

// Close closes the driver. Statements issued afterwards fail with
// ErrNoConnection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.pool.closed || c.pool.drv == nil {
		c.pool.closed = true
		return nil
	}
	c.pool.closed = true
	return c.pool.drv.Close()
}

// Ping verifies the connection when the driver supports it.
func (c *Client) Ping(ctx context.Context) error {
	drv, err := c.driver()
	if err != nil {
		return err
	}
	if p, ok := drv.(sql.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Stats returns the statement statistics of the client and of the
// transactions it started.
func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}

// On subscribes h to events of the given kind.
func (c *Client) On(kind event.Kind, h event.Handler) event.Subscription {
	return c.bus.On(kind, h)
}

// Once subscribes h to the next event of the given kind.
func (c *Client) Once(kind event.Kind, h event.Handler) event.Subscription {
	return c.bus.Once(kind, h)
}

// Off removes a subscription.
func (c *Client) Off(s event.Subscription) {
	c.bus.Off(s)
}

// Bus returns the bus events are emitted on.
func (c *Client) Bus() *event.Bus {
	return c.bus
}

// Compile resolves a template the way the client would before executing
// it, and emits its "query" event.
func (c *Client) Compile(tmpl string, args Args) (*sqltemplate.Statement, error) {
	if c.binder != nil {
		return c.binder.Bind(tmpl, args)
	}
	return c.compiler.Compile(tmpl, args)
}

// Query runs a template that returns rows.
func (c *Client) Query(ctx context.Context, tmpl string, args Args) ([]Row, error) {
	return c.query(ctx, "query", tmpl, args)
}

// Exec runs a template that returns no rows.
func (c *Client) Exec(ctx context.Context, tmpl string, args Args) (sql.Result, error) {
	return c.exec(ctx, "exec", tmpl, args)
}

// WithTx runs fn in a transaction. The client passed to fn executes on the
// transaction, which is committed when fn returns nil and rolled back
// otherwise.
func (c *Client) WithTx(ctx context.Context, fn func(tx *Client) error) error {
	if c.tx != nil {
		return ErrTxStarted
	}
	drv, err := c.driver()
	if err != nil {
		return err
	}
	tx, err := drv.Tx(ctx)
	if err != nil {
		return err
	}
	txc := *c
	txc.tx = tx
	if err := fn(&txc); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, &RollbackError{Err: rerr})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlkit: commit: %w", err)
	}
	return nil
}

func (c *Client) driver() (dialect.Driver, error) {
	c.pool.mu.RLock()
	defer c.pool.mu.RUnlock()
	if c.pool.drv == nil || c.pool.closed {
		return nil, ErrNoConnection
	}
	return c.pool.drv, nil
}

func (c *Client) execQuerier() (dialect.ExecQuerier, error) {
	drv, err := c.driver()
	if err != nil {
		return nil, err
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return drv, nil
}

func (c *Client) query(ctx context.Context, op, tmpl string, args Args) ([]Row, error) {
	eq, err := c.execQuerier()
	if err != nil {
		return nil, err
	}
	st, err := c.Compile(tmpl, args)
	if err != nil {
		c.stats.rejected.Add(1)
		return nil, err
	}
	var maps []map[string]any
	rows := &sql.Rows{}
	err = eq.Query(ctx, st.SQL, argv(st), rows)
	if err == nil {
		maps, err = sql.ScanMaps(rows)
	}
	c.end(ctx, op, st, err)
	if err != nil {
		return nil, wrapDriverError(op, st.SQL, err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = m
	}
	return out, nil
}

func (c *Client) exec(ctx context.Context, op, tmpl string, args Args) (sql.Result, error) {
	eq, err := c.execQuerier()
	if err != nil {
		return nil, err
	}
	st, err := c.Compile(tmpl, args)
	if err != nil {
		c.stats.rejected.Add(1)
		return nil, err
	}
	var res sql.Result
	err = eq.Exec(ctx, st.SQL, argv(st), &res)
	c.end(ctx, op, st, err)
	if err != nil {
		return nil, wrapDriverError(op, st.SQL, err)
	}
	return res, nil
}

// end records a completed statement and emits its "query-end" event.
func (c *Client) end(ctx context.Context, op string, st *sqltemplate.Statement, err error) {
	now := c.now()
	d := now.Sub(st.Started)
	slow := c.slow > 0 && d > c.slow
	c.stats.record(st.SQL, d, err, slow)
	switch {
	case slow:
		c.logger.WarnContext(ctx, "sqlkit: slow statement", "op", op, "sql", st.SQL, "args", st.Args, "duration", d)
	case c.debug:
		c.logger.InfoContext(ctx, "sqlkit: statement", "op", op, "sql", st.SQL, "args", st.Args, "duration", d)
	}
	if err != nil {
		c.logger.DebugContext(ctx, "sqlkit: statement failed", "op", op, "sql", st.SQL, "error", err)
	}
	c.bus.Emit(event.Event{
		Kind:     event.KindQueryEnd,
		Host:     c.host,
		Database: c.database,
		SQL:      st.SQL,
		Time:     now,
		Duration: d,
		Err:      err,
	})
}

func argv(st *sqltemplate.Statement) []any {
	if st.Args == nil {
		return []any{}
	}
	return st.Args
}
