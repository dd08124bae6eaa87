// Package db provides the connection adapters repositories run SQL through.
//
// Two adapters implement Conn: Postgres talks to the database directly over a
// pgx pool, and Gateway lowers each statement onto a PostgREST table API,
// falling back to a remote exec_sql procedure when a statement cannot be
// translated. Both return rows as map[string]any and wrap failures in *Error.
package db

import (
	"context"
	"errors"
	"fmt"
)

// Row is one result record keyed by column name.
type Row = map[string]any

// Result reports the number of rows a statement affected.
type Result struct {
	RowCount int64
}

// Info describes the server behind a connection.
type Info struct {
	Adapter  string `json:"adapter"`
	Version  string `json:"version"`
	Database string `json:"database"`
	User     string `json:"user"`
}

// Querier runs positional-parameter SQL ($1, $2, ...).
type Querier interface {
	Query(ctx context.Context, sql string, params ...any) ([]Row, error)
	// QueryOne returns nil, nil when the statement yields no rows.
	QueryOne(ctx context.Context, sql string, params ...any) (Row, error)
	Execute(ctx context.Context, sql string, params ...any) (Result, error)
}

// Conn is a database handle shared by all requests.
type Conn interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Info(ctx context.Context) (Info, error)
	Close()
}

// Tx is an open transaction. Commit or Rollback must be called exactly once;
// Rollback after Commit is a no-op.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ErrTransactionsUnsupported is returned by adapters that cannot group
// statements atomically.
var ErrTransactionsUnsupported = errors.New("db: transactions are not supported by this adapter")

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func WithTx(ctx context.Context, conn Conn, fn func(Tx) error) (err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func first(rows []Row, err error) (Row, error) {
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
