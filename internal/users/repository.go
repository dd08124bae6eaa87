package users

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/db"
)

const (
	countSQL   = `SELECT COUNT(*) as count FROM users`
	listSQL    = `SELECT * FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	byIDSQL    = `SELECT * FROM users WHERE id = $1`
	byEmailSQL = `SELECT * FROM users WHERE data->>'email' = $1`
	byFieldSQL = `SELECT * FROM users WHERE data->>$1 = $2`
	searchSQL  = `SELECT * FROM users WHERE data->>'name' ILIKE $1 ORDER BY data->>'name'`
	insertSQL  = `INSERT INTO users (data) VALUES ($1) RETURNING *`
	updateSQL  = `UPDATE users SET data = $1 WHERE id = $2 RETURNING *`
	deleteSQL  = `DELETE FROM users WHERE id = $1`
)

// Repository runs the users SQL through any db.Querier.
type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	res, err := db.QueryOneAs[struct {
		Count int64 `json:"count"`
	}](ctx, r.db, countSQL)
	if err != nil || res == nil {
		return 0, err
	}
	return res.Count, nil
}

// List returns users newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]User, error) {
	return db.QueryAs[User](ctx, r.db, listSQL, limit, offset)
}

// FindByID returns nil, nil when no user has id.
func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	return db.QueryOneAs[User](ctx, r.db, byIDSQL, id)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return db.QueryOneAs[User](ctx, r.db, byEmailSQL, normalizeEmail(email))
}

// FindByField matches a top-level key of the data document.
func (r *Repository) FindByField(ctx context.Context, field string, value any) ([]User, error) {
	return db.QueryAs[User](ctx, r.db, byFieldSQL, field, value)
}

// SearchByName is a case-insensitive substring match on data->>'name'. The
// term is matched literally.
func (r *Repository) SearchByName(ctx context.Context, term string) ([]User, error) {
	return db.QueryAs[User](ctx, r.db, searchSQL, "%"+likeEscaper.Replace(term)+"%")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repository) Create(ctx context.Context, data map[string]any) (*User, error) {
	u, err := db.QueryOneAs[User](ctx, r.db, insertSQL, data)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("users: insert returned no row")
	}
	return u, nil
}

// Update merges patch into the stored document. It returns nil, nil when the
// user does not exist.
func (r *Repository) Update(ctx context.Context, id string, patch map[string]any) (*User, error) {
	row, err := r.db.QueryOne(ctx, byIDSQL, id)
	if err != nil || row == nil {
		return nil, err
	}
	merged := map[string]any{}
	if current, ok := row["data"].(map[string]any); ok {
		maps.Copy(merged, current)
	}
	maps.Copy(merged, patch)
	return db.QueryOneAs[User](ctx, r.db, updateSQL, merged, id)
}

// Delete reports whether a row was removed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.Execute(ctx, deleteSQL, id)
	if err != nil {
		return false, err
	}
	return res.RowCount > 0, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
