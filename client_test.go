package sqlkit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/dialect/sql"
	"github.com/syssam/sqlkit/event"
)

func newMock(t *testing.T, name string, opts ...sqlkit.Option) (*sqlkit.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlkit.NewClient(sql.OpenDB(name, db), opts...), mock
}

// stepClock advances by one millisecond on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func TestClientQuery(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.MySQL)

	mock.ExpectQuery("select id, name from users where id in (1, 2) and name <> 'it\\'s'").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("alice")).
			AddRow(int64(2), "bob"))

	rows, err := client.Query(context.Background(),
		"select id, name\n  from users\n  where id in :ids and name <> :name",
		sqlkit.Named{"ids": []int{1, 2}, "name": "it's"},
	)
	require.NoError(t, err)
	assert.Equal(t, []sqlkit.Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientExec(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.MySQL)

	mock.ExpectExec("update users set name = 'x' where id = 3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := client.Exec(context.Background(), "update users set name = ? where id = ?", sqlkit.Positional{"x", 3})
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientNilArgs(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.MySQL)

	mock.ExpectQuery("select 1 where a = ? and b = :b").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	_, err := client.Query(context.Background(), "  select 1\nwhere a = ? and b = :b", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientEvents(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	client, mock := newMock(t, dialect.MySQL,
		sqlkit.WithTarget("db.local", "shop"),
		sqlkit.WithClock(clock.Now),
	)

	var events []event.Event
	client.On(event.KindQuery, func(e event.Event) { events = append(events, e) })
	client.On(event.KindQueryEnd, func(e event.Event) { events = append(events, e) })

	mock.ExpectExec("delete from t where id = 1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from t where id = 2").WillReturnError(errors.New("locked"))

	_, err := client.Exec(context.Background(), "delete from t where id = ?", sqlkit.Positional{1})
	require.NoError(t, err)
	_, err = client.Exec(context.Background(), "delete from t where id = ?", sqlkit.Positional{2})
	require.Error(t, err)

	require.Len(t, events, 4)
	for i, kind := range []event.Kind{event.KindQuery, event.KindQueryEnd, event.KindQuery, event.KindQueryEnd} {
		assert.Equal(t, kind, events[i].Kind)
		assert.Equal(t, "db.local", events[i].Host)
		assert.Equal(t, "shop", events[i].Database)
	}
	start, end := events[0], events[1]
	assert.Equal(t, "delete from t where id = 1", end.SQL)
	assert.False(t, end.Time.Before(start.Time))
	assert.Equal(t, end.Time.Sub(start.Time), end.Duration)
	assert.Equal(t, time.Millisecond, end.Duration)
	assert.NoError(t, end.Err)
	assert.ErrorContains(t, events[3].Err, "locked")
}

func TestClientOnceOff(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.MySQL)

	var once, on int
	client.Once(event.KindQueryEnd, func(event.Event) { once++ })
	sub := client.On(event.KindQueryEnd, func(event.Event) { on++ })

	for range 2 {
		mock.ExpectExec("select 1").WillReturnResult(sqlmock.NewResult(0, 0))
		_, err := client.Exec(context.Background(), "select 1", nil)
		require.NoError(t, err)
	}
	client.Off(sub)
	client.Off(sub)
	mock.ExpectExec("select 1").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err := client.Exec(context.Background(), "select 1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, once)
	assert.Equal(t, 2, on)
}

func TestClientSharedBus(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	var sqls []string
	bus.On(event.KindQuery, func(e event.Event) { sqls = append(sqls, e.SQL) })

	a, _ := newMock(t, dialect.MySQL, sqlkit.WithBus(bus))
	b, _ := newMock(t, dialect.Postgres, sqlkit.WithBus(bus))
	_, err := a.Compile("select ?", sqlkit.Positional{"a"})
	require.NoError(t, err)
	_, err = b.Compile("select ?", sqlkit.Positional{"b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"select 'a'", "select 'b'"}, sqls)
	assert.Same(t, bus, a.Bus())
}

func TestClientBindParams(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.Postgres, sqlkit.WithBindParams())

	mock.ExpectQuery(`select * from "users" where "id" in ($1, $2) and "name"=$3`).
		WithArgs(1, 2, "bob").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	rows, err := client.Find(context.Background(), "users", map[string]any{
		"id":   []int{1, 2},
		"name": "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, []sqlkit.Row{{"id": int64(2)}}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientEscapeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []sqlkit.Option
		args sqlkit.Args
	}{
		{"inline map", nil, sqlkit.Named{"a": map[string]int{"x": 1}}},
		{"bind map", []sqlkit.Option{sqlkit.WithBindParams()}, sqlkit.Named{"a": map[string]int{"x": 1}}},
		{"bind struct", []sqlkit.Option{sqlkit.WithBindParams()}, sqlkit.Named{"a": struct{ ID int }{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, mock := newMock(t, dialect.Postgres, tt.opts...)

			var fired bool
			client.On(event.KindQuery, func(event.Event) { fired = true })
			client.On(event.KindQueryEnd, func(event.Event) { fired = true })

			_, err := client.Query(context.Background(), "select :a", tt.args)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sqlkit.ErrUnsupportedValue))
			var qe *sqlkit.QueryError
			assert.False(t, errors.As(err, &qe))
			assert.False(t, fired)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClientNoConnection(t *testing.T) {
	t.Parallel()

	client := sqlkit.NewClient(nil)
	_, err := client.Query(context.Background(), "select 1", nil)
	assert.ErrorIs(t, err, sqlkit.ErrNoConnection)
	_, err = client.Find(context.Background(), "users", nil)
	assert.ErrorIs(t, err, sqlkit.ErrNoConnection)
	assert.ErrorIs(t, client.Ping(context.Background()), sqlkit.ErrNoConnection)
	assert.NoError(t, client.Close())

	closed, mock := newMock(t, dialect.MySQL)
	mock.ExpectClose()
	require.NoError(t, closed.Close())
	require.NoError(t, closed.Close())
	_, err = closed.Exec(context.Background(), "select 1", nil)
	assert.ErrorIs(t, err, sqlkit.ErrNoConnection)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientDriverError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, mock := newMock(t, dialect.MySQL, sqlkit.WithLogger(logger))

	mock.ExpectExec("insert into `users` (`name`) values ('bob')").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'bob'"})

	_, err := client.Insert(context.Background(), "users", map[string]any{"name": "bob"})
	require.Error(t, err)
	assert.True(t, sqlkit.IsConstraintError(err))
	assert.True(t, sqlkit.IsQueryError(err))
	assert.True(t, sql.IsUniqueConstraintError(err))
	var qe *sqlkit.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "insert", qe.Op)
	assert.Equal(t, "insert into `users` (`name`) values ('bob')", qe.SQL)
	assert.Contains(t, buf.String(), "sqlkit: statement failed")
}

func TestClientWithTx(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.MySQL)

	mock.ExpectBegin()
	mock.ExpectExec("insert into `users` (`name`) values ('a')").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	err := client.WithTx(context.Background(), func(tx *sqlkit.Client) error {
		_, err := tx.Insert(context.Background(), "users", map[string]any{"name": "a"})
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = client.WithTx(context.Background(), func(tx *sqlkit.Client) error {
		assert.ErrorIs(t, tx.WithTx(context.Background(), func(*sqlkit.Client) error { return nil }), sqlkit.ErrTxStarted)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("conn lost"))
	err = client.WithTx(context.Background(), func(*sqlkit.Client) error { return boom })
	assert.ErrorIs(t, err, boom)
	var re *sqlkit.RollbackError
	assert.ErrorAs(t, err, &re)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientPing(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	client := sqlkit.NewClient(sql.OpenDB(dialect.MySQL, db))
	mock.ExpectPing()
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, dialect.MySQL, client.Dialect())
}

func TestClientConcurrent(t *testing.T) {
	t.Parallel()
	client, mock := newMock(t, dialect.MySQL)
	mock.MatchExpectationsInOrder(false)

	const n = 16
	for i := range n {
		mock.ExpectExec("update t set v = " + string(rune('a'+i))).WillReturnResult(sqlmock.NewResult(0, 1))
	}

	var mu sync.Mutex
	starts := map[string]time.Time{}
	client.On(event.KindQuery, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		starts[e.SQL] = e.Time
	})
	client.On(event.KindQueryEnd, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		start, ok := starts[e.SQL]
		assert.True(t, ok)
		assert.False(t, e.Time.Before(start))
	})

	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			_, err := client.Exec(context.Background(), "update t set v = "+string(rune('a'+i)), nil)
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, mock.ExpectationsWereMet())
}
