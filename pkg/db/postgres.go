package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const adapterPostgres = "postgres"

// PostgresConfig configures the direct adapter.
type PostgresConfig struct {
	ConnString string
	MaxConns   int32
}

// pgConn is the subset of pgxpool.Pool and pgx.Tx the adapter needs.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres runs statements directly against PostgreSQL with bound
// parameters.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Conn = (*Postgres)(nil)

// NewPostgres opens a pool. It does not wait for the server; see Open.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("db: parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: create pool: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// NewPostgresFromPool wraps an existing pool. Close closes it.
func NewPostgresFromPool(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Pool exposes the underlying pool.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Query(ctx context.Context, sql string, params ...any) (rows []Row, err error) {
	defer metrics.ObserveDB(adapterPostgres, "query", time.Now(), &err)
	p.logger.Debug("query", zap.String("sql", sql), zap.Int("params", len(params)))
	return query(ctx, p.pool, sql, params)
}

func (p *Postgres) QueryOne(ctx context.Context, sql string, params ...any) (Row, error) {
	return first(p.Query(ctx, sql, params...))
}

func (p *Postgres) Execute(ctx context.Context, sql string, params ...any) (res Result, err error) {
	defer metrics.ObserveDB(adapterPostgres, "execute", time.Now(), &err)
	p.logger.Debug("execute", zap.String("sql", sql), zap.Int("params", len(params)))
	return execute(ctx, p.pool, sql, params)
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, wrap(err)
	}
	return &pgTx{tx: tx, logger: p.logger}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return wrap(p.pool.Ping(ctx))
}

func (p *Postgres) Info(ctx context.Context) (Info, error) {
	row, err := p.QueryOne(ctx, infoSQL)
	if err != nil {
		return Info{}, err
	}
	return infoFromRow(adapterPostgres, row), nil
}

func (p *Postgres) Close() { p.pool.Close() }

type pgTx struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (t *pgTx) Query(ctx context.Context, sql string, params ...any) (rows []Row, err error) {
	defer metrics.ObserveDB(adapterPostgres, "tx_query", time.Now(), &err)
	return query(ctx, t.tx, sql, params)
}

func (t *pgTx) QueryOne(ctx context.Context, sql string, params ...any) (Row, error) {
	return first(t.Query(ctx, sql, params...))
}

func (t *pgTx) Execute(ctx context.Context, sql string, params ...any) (res Result, err error) {
	defer metrics.ObserveDB(adapterPostgres, "tx_execute", time.Now(), &err)
	return execute(ctx, t.tx, sql, params)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return wrap(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return wrap(err)
	}
	return nil
}

func query(ctx context.Context, conn pgConn, sql string, params []any) ([]Row, error) {
	rows, err := conn.Query(ctx, sql, params...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := make([]Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, wrap(err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = normalize(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return result, nil
}

func execute(ctx context.Context, conn pgConn, sql string, params []any) (Result, error) {
	tag, err := conn.Exec(ctx, sql, params...)
	if err != nil {
		return Result{}, wrap(err)
	}
	return Result{RowCount: tag.RowsAffected()}, nil
}

// normalize converts driver values into the JSON-friendly shapes the gateway
// adapter returns.
func normalize(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	}
	return v
}

const infoSQL = `SELECT version() AS version, current_database() AS database, current_user AS "user"`

func infoFromRow(adapter string, row Row) Info {
	info := Info{Adapter: adapter}
	if row == nil {
		return info
	}
	info.Version, _ = row["version"].(string)
	info.Database, _ = row["database"].(string)
	info.User, _ = row["user"].(string)
	return info
}
