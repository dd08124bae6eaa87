// Package pgtest connects tests to a live PostgreSQL named by TEST_DATABASE.
// Tests using it are skipped when the variable is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const envVar = "TEST_DATABASE"

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set", envVar)
	}
	return dsn
}

// ParseConfig returns a pool config that forwards server notices to t.Log.
func ParseConfig(t testing.TB) *pgxpool.Config {
	t.Helper()
	config, err := pgxpool.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
	return config
}

// Pool opens a pool closed at test cleanup.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.NewWithConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Ping(pingCtx))

	t.Cleanup(pool.Close)
	return pool
}

// Exec runs statements and fails the test on error. Use it for fixtures.
func Exec(ctx context.Context, t testing.TB, pool *pgxpool.Pool, sql ...string) {
	t.Helper()
	for _, stmt := range sql {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}
