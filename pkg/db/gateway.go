package db

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/postgrest"
	"github.com/edgeflare/pgcrud/pkg/sqlrest"
	"go.uber.org/zap"
)

const adapterGateway = "gateway"

// ExecSQLFunction is the SQL that installs the raw-execution procedure the
// gateway adapter falls back to.
//
//go:embed exec_sql.sql
var ExecSQLFunction string

// GatewayConfig configures the PostgREST adapter.
type GatewayConfig struct {
	URL                   string
	APIKey                string
	RPCFunction           string
	Timeout               time.Duration
	Retries               int
	AllowUnfilteredDelete bool
}

// Gateway runs SQL against a PostgREST endpoint. Statements the table API can
// express exactly become table calls; everything else is rendered to literal
// SQL and sent to the RPC function.
//
// Literal rendering is weaker than parameter binding: string parameters are
// quoted and escaped, but the server sees a single SQL string.
type Gateway struct {
	client     *postgrest.Client
	dispatcher *sqlrest.Dispatcher
	logger     *zap.Logger
}

var _ Conn = (*Gateway)(nil)

func NewGateway(cfg GatewayConfig, logger *zap.Logger) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, errors.New("db: gateway URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := postgrest.NewClient(cfg.URL,
		postgrest.WithAPIKey(cfg.APIKey),
		postgrest.WithTimeout(cfg.Timeout),
		postgrest.WithRetry(cfg.Retries),
		postgrest.WithLogger(logger),
	)
	return newGateway(client, cfg, logger), nil
}

func newGateway(client *postgrest.Client, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	fn := cfg.RPCFunction
	if fn == "" {
		fn = "exec_sql"
	}
	backend := &tableBackend{client: client, rpcFunction: fn}
	return &Gateway{
		client: client,
		dispatcher: sqlrest.NewDispatcher(backend,
			sqlrest.WithLogger(logger),
			sqlrest.WithUnfilteredDelete(cfg.AllowUnfilteredDelete),
		),
		logger: logger,
	}
}

// Client exposes the underlying PostgREST client.
func (g *Gateway) Client() *postgrest.Client { return g.client }

func (g *Gateway) dispatch(ctx context.Context, sql string, params []any) (sqlrest.Result, error) {
	res, err := g.dispatcher.Dispatch(ctx, sqlrest.Classify(sql, params...))
	return res, wrap(err)
}

func (g *Gateway) Query(ctx context.Context, sql string, params ...any) (rows []Row, err error) {
	defer metrics.ObserveDB(adapterGateway, "query", time.Now(), &err)
	res, err := g.dispatch(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	if res.Rows == nil {
		return []Row{}, nil
	}
	return res.Rows, nil
}

func (g *Gateway) QueryOne(ctx context.Context, sql string, params ...any) (Row, error) {
	return first(g.Query(ctx, sql, params...))
}

func (g *Gateway) Execute(ctx context.Context, sql string, params ...any) (res Result, err error) {
	defer metrics.ObserveDB(adapterGateway, "execute", time.Now(), &err)
	out, err := g.dispatch(ctx, sql, params)
	if err != nil {
		return Result{}, err
	}
	return Result{RowCount: out.RowsAffected}, nil
}

// Begin always fails: the table API has no multi-statement transactions.
func (g *Gateway) Begin(context.Context) (Tx, error) {
	return nil, ErrTransactionsUnsupported
}

func (g *Gateway) Ping(ctx context.Context) error {
	return wrap(g.client.Ping(ctx))
}

func (g *Gateway) Info(ctx context.Context) (Info, error) {
	row, err := g.QueryOne(ctx, infoSQL)
	if err != nil {
		return Info{}, err
	}
	return infoFromRow(adapterGateway, row), nil
}

func (g *Gateway) Close() {}

// tableBackend executes dispatcher plans with the PostgREST client.
type tableBackend struct {
	client      *postgrest.Client
	rpcFunction string
}

var _ sqlrest.Backend = (*tableBackend)(nil)

func (b *tableBackend) query(p *sqlrest.Plan) *postgrest.QueryBuilder {
	q := b.client.From(p.Table)
	if len(p.Columns) > 0 {
		q.Select(p.Columns...)
	}
	for _, f := range p.Filters {
		switch f.Operator {
		case sqlrest.ILike:
			q.ILike(f.Path(), postgrest.FormatValue(f.Value))
		default:
			q.Eq(f.Path(), f.Value)
		}
	}
	return q
}

// matchesNothing reports whether a filter compares against NULL with =,
// which is never true in SQL. PostgREST would read it as IS NULL.
func matchesNothing(p *sqlrest.Plan) bool {
	for _, f := range p.Filters {
		if f.Value == nil {
			return true
		}
	}
	return false
}

func (b *tableBackend) Select(ctx context.Context, p *sqlrest.Plan) ([]sqlrest.Row, error) {
	if matchesNothing(p) {
		return []sqlrest.Row{}, nil
	}
	q := b.query(p)
	if p.Order != nil {
		q.Order(p.Order.Path(), p.Order.Ascending)
	}
	if p.Limit.Offset != nil {
		q.Offset(*p.Limit.Offset)
	}
	if p.Limit.Limit != nil {
		q.Limit(*p.Limit.Limit)
	}
	res, err := q.Get(ctx)
	return res.Rows, err
}

func (b *tableBackend) Count(ctx context.Context, p *sqlrest.Plan) (int64, error) {
	if matchesNothing(p) {
		return 0, nil
	}
	return b.query(p).Count(ctx)
}

func (b *tableBackend) Insert(ctx context.Context, p *sqlrest.Plan) ([]sqlrest.Row, error) {
	res, err := b.query(p).Insert(ctx, p.Payload)
	return res.Rows, err
}

func (b *tableBackend) Update(ctx context.Context, p *sqlrest.Plan) ([]sqlrest.Row, error) {
	if matchesNothing(p) {
		return []sqlrest.Row{}, nil
	}
	res, err := b.query(p).Update(ctx, p.Payload)
	return res.Rows, err
}

func (b *tableBackend) Delete(ctx context.Context, p *sqlrest.Plan) (sqlrest.Result, error) {
	if matchesNothing(p) {
		return sqlrest.Result{}, nil
	}
	res, err := b.query(p).Delete(ctx, p.Returning)
	if err != nil {
		return sqlrest.Result{}, err
	}
	n := res.Count
	if n < 0 {
		n = int64(len(res.Rows))
	}
	return sqlrest.Result{Rows: res.Rows, RowsAffected: n}, nil
}

func (b *tableBackend) ExecSQL(ctx context.Context, sql string) ([]sqlrest.Row, error) {
	body, err := b.client.RPC(ctx, b.rpcFunction, map[string]any{"sql": sql})
	if err != nil {
		return nil, err
	}
	return decodeExecResult(body)
}

// decodeExecResult reads the RPC response. An array of objects becomes rows,
// {"result": {...}} elements are unwrapped, and anything else means no rows.
func decodeExecResult(body json.RawMessage) ([]sqlrest.Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, nil
	}
	var items []any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode exec_sql response: %w", err)
	}
	rows := make([]sqlrest.Row, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if inner, ok := row["result"].(map[string]any); ok && len(row) == 1 {
			row = inner
		}
		rows = append(rows, row)
	}
	return rows, nil
}
