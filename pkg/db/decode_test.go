package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Age   int    `json:"age,omitempty"`
}

type account struct {
	ID        string     `json:"id"`
	Data      profile    `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

func TestDecode(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("gateway shaped row", func(t *testing.T) {
		var a account
		require.NoError(t, Decode(Row{
			"id":         "u1",
			"data":       map[string]any{"name": "Ann", "age": float64(30)},
			"created_at": "2024-01-02T03:04:05Z",
			"deleted_at": nil,
		}, &a))
		assert.Equal(t, account{ID: "u1", Data: profile{Name: "Ann", Age: 30}, CreatedAt: created}, a)
	})

	t.Run("driver shaped row", func(t *testing.T) {
		var a account
		require.NoError(t, Decode(Row{"id": "u1", "created_at": created, "deleted_at": created}, &a))
		assert.Equal(t, created, a.CreatedAt)
		require.NotNil(t, a.DeletedAt)
		assert.Equal(t, created, *a.DeletedAt)
	})

	t.Run("postgres text timestamp", func(t *testing.T) {
		var a account
		require.NoError(t, Decode(Row{"created_at": "2024-01-02 03:04:05.000000+00"}, &a))
		assert.True(t, created.Equal(a.CreatedAt))
	})

	t.Run("bad timestamp", func(t *testing.T) {
		var a account
		assert.Error(t, Decode(Row{"created_at": "yesterday"}, &a))
	})

	t.Run("all rows", func(t *testing.T) {
		var out []account
		require.NoError(t, DecodeAll([]Row{{"id": "a"}, {"id": "b"}}, &out))
		require.Len(t, out, 2)
		assert.Equal(t, "b", out[1].ID)

		var empty []account
		require.NoError(t, DecodeAll(nil, &empty))
		assert.Empty(t, empty)
	})
}

type stubQuerier struct {
	rows []Row
	err  error
}

func (s stubQuerier) Query(context.Context, string, ...any) ([]Row, error) { return s.rows, s.err }
func (s stubQuerier) QueryOne(ctx context.Context, sql string, params ...any) (Row, error) {
	return first(s.Query(ctx, sql, params...))
}
func (s stubQuerier) Execute(context.Context, string, ...any) (Result, error) {
	return Result{RowCount: int64(len(s.rows))}, s.err
}

func TestQueryAs(t *testing.T) {
	ctx := context.Background()
	q := stubQuerier{rows: []Row{{"id": "a"}, {"id": "b"}}}

	all, err := QueryAs[account](ctx, q, "SELECT * FROM accounts")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := QueryOneAs[account](ctx, q, "SELECT * FROM accounts WHERE id = $1", "a")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "a", one.ID)

	none, err := QueryOneAs[account](ctx, stubQuerier{}, "SELECT * FROM accounts WHERE id = $1", "z")
	require.NoError(t, err)
	assert.Nil(t, none)
}
