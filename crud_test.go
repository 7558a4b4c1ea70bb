package sqlkit_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
	"github.com/syssam/sqlkit/dialect/sql"
)

func TestClientWhere(t *testing.T) {
	t.Parallel()

	client, _ := newMock(t, dialect.MySQL)
	five := 5

	tests := []struct {
		name    string
		conds   map[string]any
		want    string
		args    sqlkit.Named
		wantErr string
	}{
		{
			name: "empty",
		},
		{
			name:  "mixed",
			conds: map[string]any{"a": 1, "b": []int{1, 2}, "c": nil},
			want:  " where `a`=:a and `b` in :b and `c` is null",
			args:  sqlkit.Named{"a": 1, "b": []int{1, 2}},
		},
		{
			name:  "nil pointer",
			conds: map[string]any{"a": (*int)(nil)},
			want:  " where `a` is null",
			args:  sqlkit.Named{},
		},
		{
			name:  "nil bytes",
			conds: map[string]any{"a": []byte(nil)},
			want:  " where `a` is null",
			args:  sqlkit.Named{},
		},
		{
			name:  "pointer",
			conds: map[string]any{"a": &five},
			want:  " where `a`=:a",
			args:  sqlkit.Named{"a": &five},
		},
		{
			name:  "qualified",
			conds: map[string]any{"u.id": 1},
			want:  " where `u`.`id`=:u__id",
			args:  sqlkit.Named{"u__id": 1},
		},
		{
			name:    "placeholder collision",
			conds:   map[string]any{"a.b": 1, "a__b": 2},
			wantErr: `sqlkit: columns "a.b" and "a__b" share placeholder :a__b`,
		},
		{
			name:    "placeholder collision with null",
			conds:   map[string]any{"a.b": nil, "a__b": 2},
			wantErr: `sqlkit: columns "a.b" and "a__b" share placeholder :a__b`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			where, args, err := client.Where(tt.conds)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, where)
			assert.Equal(t, tt.args, args)
		})
	}

	_, _, err := client.Where(map[string]any{"a;b": 1})
	var ie *sql.InvalidIdentifierError
	assert.ErrorAs(t, err, &ie)
}

func TestClientFindNullPointer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []sqlkit.Option
		want string
	}{
		{"interpolate", nil, "select * from `users` where `deleted_at` is null and `id`=7"},
		{"bind", []sqlkit.Option{sqlkit.WithBindParams()}, "select * from `users` where `deleted_at` is null and `id`=?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, mock := newMock(t, dialect.MySQL, tt.opts...)
			mock.ExpectQuery(tt.want).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

			var deleted *string
			rows, err := client.Find(context.Background(), "users", map[string]any{"id": 7, "deleted_at": deleted})
			require.NoError(t, err)
			assert.Equal(t, []sqlkit.Row{{"id": int64(7)}}, rows)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClientUpdatePlaceholders(t *testing.T) {
	t.Parallel()

	client, mock := newMock(t, dialect.MySQL)
	ctx := context.Background()

	mock.ExpectExec("update `users` set `name` = 'x' where `name`='y'").WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := client.Update(ctx, "users", map[string]any{"name": "x"}, map[string]any{"name": "y"})
	require.NoError(t, err)

	_, err = client.Update(ctx, "users", map[string]any{"a.b": 1, "a__b": 2}, map[string]any{"id": 1})
	assert.EqualError(t, err, `sqlkit: columns "a.b" and "a__b" share placeholder :set_a__b`)
	_, err = client.Delete(ctx, "users", map[string]any{"a.b": 1, "a__b": 2})
	assert.EqualError(t, err, `sqlkit: columns "a.b" and "a__b" share placeholder :a__b`)
	require.NoError(t, mock.ExpectationsWereMet())
}
