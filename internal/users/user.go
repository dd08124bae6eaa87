// Package users is the user resource: repository, service and HTTP handler.
package users

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("users: user not found")
	ErrEmailTaken = errors.New("users: email already exists")
)

// Data is the users.data document. Keys are stored snake_case.
type Data struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Age      int    `json:"age,omitempty"`
	Password string `json:"password,omitempty"`
}

// User is one row of the users table.
type User struct {
	ID        string    `json:"id"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is the API shape of a user. The password hash is never sent.
type Resource struct {
	ID        string       `json:"id"`
	Data      ResourceData `json:"data"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type ResourceData struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Age    int    `json:"age,omitempty"`
}

func (u *User) Resource() Resource {
	return Resource{
		ID: u.ID,
		Data: ResourceData{
			Name:   u.Data.Name,
			Email:  u.Data.Email,
			Avatar: u.Data.Avatar,
			Age:    u.Data.Age,
		},
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func Resources(users []User) []Resource {
	out := make([]Resource, len(users))
	for i := range users {
		out[i] = users[i].Resource()
	}
	return out
}

// CreateInput is the body of POST /users.
type CreateInput struct {
	Name   string `json:"name" validate:"required,min=2,max=100"`
	Email  string `json:"email" validate:"required,email"`
	Avatar string `json:"avatar,omitempty" validate:"omitempty,url"`
	Age    *int   `json:"age,omitempty" validate:"omitempty,min=1,max=150"`
}

// UpdateInput is the body of PUT /users/{id}. Absent fields are kept.
type UpdateInput struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email"`
	Avatar *string `json:"avatar,omitempty" validate:"omitempty,url"`
	Age    *int    `json:"age,omitempty" validate:"omitempty,min=1,max=150"`
}

func (in CreateInput) document() map[string]any {
	doc := map[string]any{"name": in.Name, "email": normalizeEmail(in.Email)}
	if in.Avatar != "" {
		doc["avatar"] = in.Avatar
	}
	if in.Age != nil {
		doc["age"] = *in.Age
	}
	return doc
}

func (in UpdateInput) document() map[string]any {
	doc := map[string]any{}
	if in.Name != nil {
		doc["name"] = *in.Name
	}
	if in.Email != nil {
		doc["email"] = normalizeEmail(*in.Email)
	}
	if in.Avatar != nil {
		doc["avatar"] = *in.Avatar
	}
	if in.Age != nil {
		doc["age"] = *in.Age
	}
	return doc
}
