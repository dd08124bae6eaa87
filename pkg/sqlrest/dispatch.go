package sqlrest

import (
	"context"
	"errors"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"go.uber.org/zap"
)

// ErrUnfilteredDelete is returned for DELETE statements without a WHERE
// clause unless the Dispatcher was built WithUnfilteredDelete(true).
var ErrUnfilteredDelete = errors.New("refusing DELETE without WHERE clause")

// PlanKind selects the backend call a Plan maps to.
type PlanKind string

const (
	PlanRaw    PlanKind = "raw"
	PlanSelect PlanKind = "select"
	PlanCount  PlanKind = "count"
	PlanInsert PlanKind = "insert"
	PlanUpdate PlanKind = "update"
	PlanDelete PlanKind = "delete"
)

// Plan is the typed form of one statement. Fields not relevant to Kind are
// zero. Columns nil means all columns.
type Plan struct {
	Kind       PlanKind
	Table      string
	Columns    []string
	Filters    []WhereCondition
	Order      *OrderSpec
	Limit      LimitSpec
	Payload    any
	Returning  bool
	CountAlias string

	// SQL is the literal statement for PlanRaw; Reason says why it was chosen.
	SQL    string
	Reason string

	Statement ParsedStatement
}

// Result is what a dispatched statement produced.
type Result struct {
	Rows         []Row
	RowsAffected int64
}

// Backend executes plans. Implementations must not retry.
type Backend interface {
	Select(ctx context.Context, p *Plan) ([]Row, error)
	Count(ctx context.Context, p *Plan) (int64, error)
	Insert(ctx context.Context, p *Plan) ([]Row, error)
	Update(ctx context.Context, p *Plan) ([]Row, error)
	Delete(ctx context.Context, p *Plan) (Result, error)
	ExecSQL(ctx context.Context, sql string) ([]Row, error)
}

// Dispatcher plans statements and runs each plan with exactly one backend call.
type Dispatcher struct {
	backend               Backend
	logger                *zap.Logger
	allowUnfilteredDelete bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for escalation messages.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithUnfilteredDelete permits DELETE without WHERE.
func WithUnfilteredDelete(allow bool) Option {
	return func(d *Dispatcher) {
		d.allowUnfilteredDelete = allow
	}
}

func NewDispatcher(backend Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan decides how stmt is executed. Statements that cannot be translated
// exactly become PlanRaw with placeholders rendered as literals.
func (d *Dispatcher) Plan(stmt ParsedStatement) (*Plan, error) {
	if stmt.Operation == OpDelete && !stmt.HasWhere && !d.allowUnfilteredDelete {
		return nil, ErrUnfilteredDelete
	}

	plan, err := d.translate(stmt)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, ErrUntranslatable) {
		return nil, err
	}

	reason := Reason(err)
	sql, err := RenderLiteral(stmt.Original.Text, stmt.Original.Params)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Kind:      PlanRaw,
		Table:     stmt.Table,
		SQL:       sql,
		Reason:    reason,
		Statement: stmt,
	}, nil
}

// Dispatch plans stmt and executes it. Backend errors are returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, stmt ParsedStatement) (Result, error) {
	plan, err := d.Plan(stmt)
	if err != nil {
		return Result{}, err
	}

	metrics.SQLDispatch.WithLabelValues(string(stmt.Operation), string(plan.Kind)).Inc()
	if plan.Kind == PlanRaw {
		metrics.SQLEscalations.WithLabelValues(plan.Reason).Inc()
		d.logger.Debug("statement escalated to raw SQL",
			zap.String("operation", string(stmt.Operation)),
			zap.String("table", stmt.Table),
			zap.String("reason", plan.Reason),
		)
	}

	return d.execute(ctx, plan)
}

func (d *Dispatcher) execute(ctx context.Context, plan *Plan) (Result, error) {
	switch plan.Kind {
	case PlanSelect:
		return rowsResult(d.backend.Select(ctx, plan))
	case PlanCount:
		n, err := d.backend.Count(ctx, plan)
		if err != nil {
			return Result{}, err
		}
		return Result{Rows: []Row{{plan.CountAlias: n}}, RowsAffected: 1}, nil
	case PlanInsert:
		return rowsResult(d.backend.Insert(ctx, plan))
	case PlanUpdate:
		return rowsResult(d.backend.Update(ctx, plan))
	case PlanDelete:
		return d.backend.Delete(ctx, plan)
	default:
		return rowsResult(d.backend.ExecSQL(ctx, plan.SQL))
	}
}

func rowsResult(rows []Row, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: rows, RowsAffected: int64(len(rows))}, nil
}

func (d *Dispatcher) translate(stmt ParsedStatement) (*Plan, error) {
	if stmt.Operation == OpUnknown {
		return nil, reasonUnknown
	}
	if stmt.Table == "" {
		return nil, reasonNoTable
	}
	if reason := Inspect(stmt.Original.Text).Reason(); reason != "" {
		return nil, escalation(reason)
	}

	src := newSource(stmt.Original)
	plan := &Plan{Table: stmt.Table, Statement: stmt}

	var err error
	switch stmt.Operation {
	case OpSelect:
		err = planSelect(src, stmt, plan)
	case OpInsert:
		err = planInsert(src, stmt, plan)
	case OpUpdate:
		err = planUpdate(src, stmt, plan)
	case OpDelete:
		err = planDelete(src, stmt, plan)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func planSelect(src source, stmt ParsedStatement, plan *Plan) error {
	if err := src.fromClause(); err != nil {
		return err
	}
	columns, countAlias, err := src.selectColumns()
	if err != nil {
		return err
	}
	if plan.Filters, err = src.where(); err != nil {
		return err
	}
	if stmt.HasWhere && len(plan.Filters) == 0 {
		return reasonWhere
	}
	if plan.Order, err = src.order(); err != nil {
		return err
	}
	if plan.Limit, err = src.limit(); err != nil {
		return err
	}

	if stmt.HasCount || countAlias != "" {
		if countAlias == "" || plan.Order != nil || !plan.Limit.IsZero() {
			return reasonColumns
		}
		plan.Kind = PlanCount
		plan.CountAlias = countAlias
		return nil
	}

	plan.Kind = PlanSelect
	plan.Columns = columns
	return nil
}

func planInsert(src source, stmt ParsedStatement, plan *Plan) error {
	if !stmt.HasReturning {
		return reasonNoReturning
	}
	payload, err := src.insertPayload()
	if err != nil {
		return err
	}
	columns, _, err := src.returningColumns()
	if err != nil {
		return err
	}

	plan.Kind = PlanInsert
	plan.Payload = payload
	plan.Columns = columns
	plan.Returning = true
	return nil
}

func planUpdate(src source, stmt ParsedStatement, plan *Plan) error {
	if !stmt.HasReturning {
		return reasonNoReturning
	}
	payload, err := src.updatePayload()
	if err != nil {
		return err
	}
	filters, err := src.where()
	if err != nil {
		return err
	}
	if !isPrimaryKeyMatch(filters) {
		return reasonUpdate
	}
	columns, _, err := src.returningColumns()
	if err != nil {
		return err
	}

	plan.Kind = PlanUpdate
	plan.Payload = payload
	plan.Filters = filters
	plan.Columns = columns
	plan.Returning = true
	return nil
}

func planDelete(src source, stmt ParsedStatement, plan *Plan) error {
	filters, err := src.where()
	if err != nil {
		return err
	}
	if stmt.HasWhere && !isPrimaryKeyMatch(filters) {
		return reasonDelete
	}
	columns, ret, err := src.returningColumns()
	if err != nil {
		return err
	}

	plan.Kind = PlanDelete
	plan.Filters = filters
	plan.Columns = columns
	plan.Returning = ret
	return nil
}

// isPrimaryKeyMatch reports whether filters is exactly id = value.
func isPrimaryKeyMatch(filters []WhereCondition) bool {
	return len(filters) == 1 &&
		filters[0].Column == "id" &&
		filters[0].Field == "" &&
		filters[0].Operator == Equals
}
