package sqlkit_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
)

// queueClock advances by the next queued step on every call.
type queueClock struct {
	now   time.Time
	steps []time.Duration
}

func (c *queueClock) Now() time.Time {
	if len(c.steps) > 0 {
		c.now = c.now.Add(c.steps[0])
		c.steps = c.steps[1:]
	}
	return c.now
}

// statementClock makes each statement take the given durations in turn.
// The clock is read once when a statement resolves and once when it ends.
func statementClock(ds ...time.Duration) *queueClock {
	c := &queueClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	for _, d := range ds {
		c.steps = append(c.steps, 0, d)
	}
	return c
}

func TestClientStats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	clock := statementClock(5*time.Millisecond, time.Millisecond, 3*time.Millisecond)
	client, mock := newMock(t, dialect.MySQL,
		sqlkit.WithClock(clock.Now),
		sqlkit.WithSlowThreshold(2*time.Millisecond),
		sqlkit.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	ctx := context.Background()

	mock.ExpectExec("update t set a = 1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("delete from t").WillReturnError(errors.New("locked"))

	_, err := client.Exec(ctx, "update t set a = ?", sqlkit.Positional{1})
	require.NoError(t, err)
	_, err = client.Query(ctx, "select 1", nil)
	require.NoError(t, err)
	_, err = client.Exec(ctx, "delete from t", nil)
	require.Error(t, err)
	_, err = client.Query(ctx, "select :a", sqlkit.Named{"a": map[string]int{}})
	require.ErrorIs(t, err, sqlkit.ErrUnsupportedValue)
	require.NoError(t, mock.ExpectationsWereMet())

	s := client.Stats()
	assert.Equal(t, int64(3), s.Statements)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.Rejected)
	assert.Equal(t, int64(2), s.Slow)
	assert.Equal(t, 9*time.Millisecond, s.Total)
	assert.Equal(t, 3*time.Millisecond, s.Avg())
	assert.Equal(t, []sqlkit.SlowStatement{
		{SQL: "update t set a = 1", Duration: 5 * time.Millisecond},
		{SQL: "delete from t", Duration: 3 * time.Millisecond, Failed: true},
		{SQL: "select 1", Duration: time.Millisecond},
	}, s.Slowest)
	assert.Equal(t, "statements=3 failed=1 rejected=1 slow=2 total=9ms avg=3ms", s.String())

	out := buf.String()
	assert.Contains(t, out, `msg="sqlkit: slow statement"`)
	assert.Contains(t, out, `sql="update t set a = 1"`)
	assert.Contains(t, out, `sql="delete from t"`)
	assert.NotContains(t, out, `sql="select 1"`)
}

func TestClientStatsTx(t *testing.T) {
	t.Parallel()

	durations := []time.Duration{3, 7, 1, 5, 6, 2, 4}
	for i := range durations {
		durations[i] *= time.Millisecond
	}
	clock := statementClock(durations...)
	client, mock := newMock(t, dialect.SQLite, sqlkit.WithClock(clock.Now))

	mock.ExpectBegin()
	for i := range durations {
		mock.ExpectExec(fmt.Sprintf("insert into t values (%d)", i)).WillReturnResult(sqlmock.NewResult(int64(i), 1))
	}
	mock.ExpectCommit()

	err := client.WithTx(context.Background(), func(tx *sqlkit.Client) error {
		for i := range durations {
			if _, err := tx.Exec(context.Background(), "insert into t values (?)", sqlkit.Positional{i}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	s := client.Stats()
	assert.Equal(t, int64(7), s.Statements)
	assert.Equal(t, int64(0), s.Slow)
	require.Len(t, s.Slowest, 5)
	var got []string
	for _, st := range s.Slowest {
		got = append(got, fmt.Sprintf("%s %s", st.SQL, st.Duration))
	}
	assert.Equal(t, []string{
		"insert into t values (1) 7ms",
		"insert into t values (4) 6ms",
		"insert into t values (3) 5ms",
		"insert into t values (6) 4ms",
		"insert into t values (0) 3ms",
	}, got)
}

func TestOpenDebug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		debug bool
		want  bool
	}{
		{"debug", true, true},
		{"quiet", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			client, err := sqlkit.Open(&sqlkit.Config{
				Dialect:  dialect.SQLite,
				Database: ":memory:",
				Debug:    tt.debug,
			}, sqlkit.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
			require.NoError(t, err)
			t.Cleanup(func() { client.Close() })

			rows, err := client.Query(context.Background(), "select :a as a", sqlkit.Named{"a": 1})
			require.NoError(t, err)
			assert.Equal(t, []sqlkit.Row{{"a": int64(1)}}, rows)

			out := buf.String()
			if !tt.want {
				assert.Empty(t, out)
				return
			}
			assert.Contains(t, out, "level=INFO")
			assert.Contains(t, out, `msg="sqlkit: statement"`)
			assert.Contains(t, out, "op=query")
			assert.Contains(t, out, `sql="select 1 as a"`)
		})
	}
}
