// Package auth is the account flow of the API: register, login, refresh and
// the current-user lookup. Tokens and password hashes come from pkg/auth.
package auth

import (
	"context"
	"errors"

	"github.com/edgeflare/pgcrud/internal/users"
	authn "github.com/edgeflare/pgcrud/pkg/auth"
	"go.uber.org/zap"
)

type RegisterInput struct {
	Name     string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// Session is a signed-in user with a fresh token pair.
type Session struct {
	User users.Resource `json:"user"`
	authn.Tokens
}

type Service struct {
	users      *users.Service
	issuer     *authn.Issuer
	bcryptCost int
	logger     *zap.Logger
}

func NewService(users *users.Service, issuer *authn.Issuer, bcryptCost int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, issuer: issuer, bcryptCost: bcryptCost, logger: logger}
}

// Register creates the account and signs it in. A taken email is
// users.ErrEmailTaken.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	hash, err := authn.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Register(ctx, in.Name, in.Email, hash)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID))
	return s.session(u)
}

// Login checks the password. An unknown email and a wrong password both
// return authn.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	u, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, authn.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Data.Password == "" {
		return nil, authn.ErrInvalidCredentials
	}
	if err := authn.CheckPassword(u.Data.Password, in.Password); err != nil {
		if errors.Is(err, authn.ErrInvalidCredentials) {
			s.logger.Debug("login rejected", zap.String("user_id", u.ID))
		}
		return nil, err
	}
	return s.session(u)
}

// Refresh trades a refresh token for a new access token. Tokens of deleted
// users are rejected.
func (s *Service) Refresh(ctx context.Context, raw string) (string, error) {
	claims, err := s.issuer.ParseRefresh(raw)
	if err != nil {
		return "", err
	}
	u, err := s.users.Get(ctx, claims.ID)
	if errors.Is(err, users.ErrNotFound) {
		return "", authn.ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	return s.issuer.AccessToken(u.ID, u.Data.Email)
}

func (s *Service) Me(ctx context.Context, id string) (*users.User, error) {
	return s.users.Get(ctx, id)
}

func (s *Service) session(u *users.User) (*Session, error) {
	tokens, err := s.issuer.Issue(u.ID, u.Data.Email)
	if err != nil {
		return nil, err
	}
	return &Session{User: u.Resource(), Tokens: tokens}, nil
}
