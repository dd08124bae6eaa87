// Package posts is the post resource. Posts belong to a user through the
// user_id column generated from data->>'user_id'.
package posts

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/edgeflare/pgcrud/pkg/casing"
)

var ErrNotFound = errors.New("posts: post not found")

type Gallery struct {
	Type string `json:"type" validate:"required,oneof=video image"`
	Link string `json:"link" validate:"required,url"`
	Key  string `json:"key" validate:"required,min=1"`
}

// Data is the posts.data document as stored (snake_case keys).
type Data struct {
	IsHelpPost  bool     `json:"is_help_post"`
	Galleries   *Gallery `json:"galleries,omitempty"`
	Description string   `json:"description,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
}

// Author is the joined users row of a list query.
type Author struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type Post struct {
	ID        string    `json:"id"`
	Data      Data      `json:"data"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      *Author   `json:"user,omitempty"`
}

// Resource is the API shape of a post.
type Resource struct {
	ID        string          `json:"id"`
	Data      ResourceData    `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	User      *ResourceAuthor `json:"user,omitempty"`
}

type ResourceData struct {
	IsHelpPost  bool     `json:"isHelpPost"`
	Galleries   *Gallery `json:"galleries,omitempty"`
	Description string   `json:"description,omitempty"`
	UserID      string   `json:"userId,omitempty"`
}

type ResourceAuthor struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

func (p *Post) Resource() Resource {
	userID := p.Data.UserID
	if userID == "" {
		userID = p.UserID
	}
	res := Resource{
		ID: p.ID,
		Data: ResourceData{
			IsHelpPost:  p.Data.IsHelpPost,
			Galleries:   p.Data.Galleries,
			Description: p.Data.Description,
			UserID:      userID,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.User != nil && p.User.ID != "" {
		data := casing.CamelMap(p.User.Data)
		delete(data, "password")
		res.User = &ResourceAuthor{ID: p.User.ID, Data: data}
	}
	return res
}

func Resources(posts []Post) []Resource {
	out := make([]Resource, len(posts))
	for i := range posts {
		out[i] = posts[i].Resource()
	}
	return out
}

// CreateInput is the body of POST /posts. UserID defaults to the caller.
type CreateInput struct {
	IsHelpPost  *bool    `json:"isHelpPost,omitempty"`
	Galleries   *Gallery `json:"galleries,omitempty"`
	Description *string  `json:"description,omitempty" validate:"omitempty,min=1,max=5000"`
	UserID      string   `json:"userId,omitempty" validate:"omitempty,uuid"`
}

// UpdateInput is the body of PATCH /posts/{id}. Absent fields are kept.
type UpdateInput struct {
	IsHelpPost  *bool    `json:"isHelpPost,omitempty"`
	Galleries   *Gallery `json:"galleries,omitempty"`
	Description *string  `json:"description,omitempty" validate:"omitempty,min=1,max=5000"`
	UserID      *string  `json:"userId,omitempty" validate:"omitempty,uuid"`
}

// document turns an input struct into the stored snake_case document,
// keeping only the fields that were set.
func document(in any) (map[string]any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return casing.SnakeMap(m), nil
}
