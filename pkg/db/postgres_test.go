package db

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPostgres(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Pool(ctx, t)
	pgtest.Exec(ctx, t, pool,
		`DROP TABLE IF EXISTS db_test_items`,
		`CREATE TABLE db_test_items (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			data jsonb NOT NULL,
			price numeric(10,2),
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
	)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS db_test_items`)
	})

	pg := NewPostgresFromPool(pool, zaptest.NewLogger(t))

	row, err := pg.QueryOne(ctx, `INSERT INTO db_test_items (data, price) VALUES ($1, $2) RETURNING *`, map[string]any{"name": "pen"}, 1.25)
	require.NoError(t, err)
	require.NotNil(t, row)
	id, ok := row["id"].(string)
	require.True(t, ok, "uuid is normalized to a string")
	assert.Len(t, id, 36)
	assert.Equal(t, map[string]any{"name": "pen"}, row["data"])
	assert.Equal(t, 1.25, row["price"])
	assert.IsType(t, time.Time{}, row["created_at"])

	t.Run("no rows", func(t *testing.T) {
		row, err := pg.QueryOne(ctx, `SELECT * FROM db_test_items WHERE id = $1`, "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		err := WithTx(ctx, pg, func(tx Tx) error {
			res, err := tx.Execute(ctx, `DELETE FROM db_test_items WHERE id = $1`, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.RowCount)
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		rows, err := pg.Query(ctx, `SELECT id FROM db_test_items`)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("sql state", func(t *testing.T) {
		_, err := pg.Execute(ctx, `INSERT INTO db_test_items (id, data) VALUES ($1, '{}')`, id)
		assert.True(t, IsUniqueViolation(err))
		assert.Contains(t, err.Error(), "Database Error:")

		_, err = pg.Query(ctx, `SELECT * FROM db_test_missing`)
		assert.True(t, IsUndefinedTable(err))
	})

	t.Run("info", func(t *testing.T) {
		info, err := pg.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, "postgres", info.Adapter)
		assert.Contains(t, info.Version, "PostgreSQL")
	})
}
