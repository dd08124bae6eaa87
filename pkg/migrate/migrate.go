// Package migrate applies the embedded SQL migrations in file order and
// records each one in schema_migrations. Applied ids are always read back from
// that table, so reruns and concurrent instances skip finished work.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/db"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
  id text PRIMARY KEY,
  name text NOT NULL,
  executed_at timestamptz NOT NULL DEFAULT now()
)`

	// The alias keeps the gateway adapter off the table API, whose schema
	// cache may not know a table created moments ago.
	appliedSQL = `SELECT m.id, m.name, m.executed_at FROM schema_migrations m ORDER BY m.id`
	lookupSQL  = `SELECT m.id FROM schema_migrations m WHERE m.id = $1`
	recordSQL  = `INSERT INTO schema_migrations (id, name) VALUES ($1, $2)`
	lockSQL    = `SELECT pg_advisory_xact_lock(hashtext($1))`

	lockKey = "pgcrud_migrations"
)

// Migration is one SQL script. ID is the file stem, e.g.
// 001_create_users_table; Name comes from the script's first comment line.
type Migration struct {
	ID   string
	Name string
	SQL  string
}

// Status reports whether a migration has been applied.
type Status struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Applied    bool       `json:"applied"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
}

type record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	return Load(embedded, "migrations")
}

// Load reads every .sql file in dir, sorted by file name.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", dir, err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", e.Name(), err)
		}
		id := strings.TrimSuffix(e.Name(), ".sql")
		out = append(out, Migration{ID: id, Name: title(id, string(b)), SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// title returns the text of the first "-- " line, or the id when there is none.
func title(id, sql string) string {
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if name, ok := strings.CutPrefix(line, "-- "); ok {
			return strings.TrimSpace(name)
		}
		break
	}
	return id
}

type Option func(*Migrator)

// WithMigrations replaces the embedded migrations.
func WithMigrations(migrations []Migration) Option {
	return func(m *Migrator) {
		m.migrations = migrations
	}
}

type Migrator struct {
	conn       db.Conn
	logger     *zap.Logger
	migrations []Migration
}

func New(conn db.Conn, logger *zap.Logger, opts ...Option) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Migrator{conn: conn, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.migrations == nil {
		migrations, err := Embedded()
		if err != nil {
			return nil, err
		}
		m.migrations = migrations
	}
	return m, nil
}

// Migrations returns the known migrations in apply order.
func (m *Migrator) Migrations() []Migration { return m.migrations }

// Up applies every migration missing from schema_migrations and returns the
// ids it applied. A migration another instance finished first is skipped.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, mig := range m.migrations {
		if _, ok := applied[mig.ID]; ok {
			continue
		}
		start := time.Now()
		ok, err := m.apply(ctx, mig)
		if err != nil {
			return done, fmt.Errorf("migrate: %s: %w", mig.ID, err)
		}
		if !ok {
			m.logger.Info("migration already applied", zap.String("id", mig.ID))
			continue
		}
		metrics.MigrationsApplied.Inc()
		m.logger.Info("migration applied",
			zap.String("id", mig.ID),
			zap.String("name", mig.Name),
			zap.Duration("took", time.Since(start)),
		)
		done = append(done, mig.ID)
	}
	if len(done) == 0 {
		m.logger.Debug("no pending migrations")
	}
	return done, nil
}

// Status lists every known migration with its applied state. Ids recorded in
// the table but unknown to this binary are appended.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(m.migrations))
	known := make(map[string]bool, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.ID] = true
		s := Status{ID: mig.ID, Name: mig.Name}
		if rec, ok := applied[mig.ID]; ok {
			at := rec.ExecutedAt
			s.Applied, s.ExecutedAt = true, &at
		}
		out = append(out, s)
	}

	var extra []Status
	for id, rec := range applied {
		if known[id] {
			continue
		}
		at := rec.ExecutedAt
		extra = append(extra, Status{ID: id, Name: rec.Name, Applied: true, ExecutedAt: &at})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	return append(out, extra...), nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	if _, err := m.conn.Execute(ctx, createTableSQL); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]record, error) {
	records, err := db.QueryAs[record](ctx, m.conn, appliedSQL)
	if err != nil {
		return nil, fmt.Errorf("migrate: read schema_migrations: %w", err)
	}
	out := make(map[string]record, len(records))
	for _, r := range records {
		out[r.ID] = r
	}
	return out, nil
}

// apply runs one migration and reports whether this call applied it.
func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	ran := false
	err := db.WithTx(ctx, m.conn, func(tx db.Tx) error {
		if _, err := tx.Execute(ctx, lockSQL, lockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		row, err := tx.QueryOne(ctx, lookupSQL, mig.ID)
		if err != nil || row != nil {
			return err
		}
		if _, err := tx.Execute(ctx, mig.SQL); err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, recordSQL, mig.ID, mig.Name); err != nil {
			return err
		}
		ran = true
		return nil
	})
	if errors.Is(err, db.ErrTransactionsUnsupported) {
		return m.applyScript(ctx, mig)
	}
	return ran, err
}

// applyScript sends the migration and its bookkeeping insert as a single
// statement list, which the server runs atomically.
func (m *Migrator) applyScript(ctx context.Context, mig Migration) (bool, error) {
	script := strings.TrimRight(strings.TrimSpace(mig.SQL), ";") + ";\n" + recordSQL
	_, err := m.conn.Execute(ctx, script, mig.ID, mig.Name)
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return err == nil, err
}
