package posts

import (
	"context"
	"fmt"
	"maps"

	"github.com/edgeflare/pgcrud/pkg/db"
)

const (
	countSQL  = `SELECT COUNT(*) as count FROM posts`
	listSQL   = `SELECT p.*, json_build_object('id', u.id, 'data', u.data) AS user FROM posts p LEFT JOIN users u ON p.user_id = u.id ORDER BY p.created_at DESC LIMIT $1 OFFSET $2`
	byIDSQL   = `SELECT * FROM posts WHERE id = $1`
	byUserSQL = `SELECT * FROM posts WHERE user_id = $1 ORDER BY created_at DESC`
	insertSQL = `INSERT INTO posts (data) VALUES ($1) RETURNING *`
	updateSQL = `UPDATE posts SET data = $1 WHERE id = $2 RETURNING *`
	deleteSQL = `DELETE FROM posts WHERE id = $1`
)

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

// List returns posts newest first, each with its author joined in.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Post, error) {
	return db.QueryAs[Post](ctx, r.db, listSQL, limit, offset)
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Post, error) {
	return db.QueryOneAs[Post](ctx, r.db, byIDSQL, id)
}

func (r *Repository) FindByUser(ctx context.Context, userID string) ([]Post, error) {
	return db.QueryAs[Post](ctx, r.db, byUserSQL, userID)
}

func (r *Repository) Create(ctx context.Context, data map[string]any) (*Post, error) {
	p, err := db.QueryOneAs[Post](ctx, r.db, insertSQL, data)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("posts: insert returned no row")
	}
	return p, nil
}

// Update merges patch into the stored document; nil, nil when absent.
func (r *Repository) Update(ctx context.Context, id string, patch map[string]any) (*Post, error) {
	row, err := r.db.QueryOne(ctx, byIDSQL, id)
	if err != nil || row == nil {
		return nil, err
	}
	merged := map[string]any{}
	if current, ok := row["data"].(map[string]any); ok {
		maps.Copy(merged, current)
	}
	maps.Copy(merged, patch)
	return db.QueryOneAs[Post](ctx, r.db, updateSQL, merged, id)
}

func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.Execute(ctx, deleteSQL, id)
	if err != nil {
		return false, err
	}
	return res.RowCount > 0, nil
}
