package users

import (
	"context"
	"errors"

	"github.com/edgeflare/pgcrud/pkg/cache"
	"github.com/edgeflare/pgcrud/pkg/db"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service holds the user business rules. Single-user reads go through the
// cache; concurrent misses for one id share a database call.
type Service struct {
	repo   *Repository
	cache  *cache.Repository[string, User]
	group  singleflight.Group
	logger *zap.Logger
}

func NewService(repo *Repository, users *cache.Repository[string, User], logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if users == nil {
		users = cache.NewRepository[string, User](nil, "user", 0)
	}
	return &Service{repo: repo, cache: users, logger: logger}
}

// List returns one page and the total number of users.
func (s *Service) List(ctx context.Context, limit, offset int) ([]User, int64, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Get returns the user without its password hash.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	if u, err := s.cache.Get(ctx, id); err == nil {
		return &u, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("user cache read failed", zap.String("id", id), zap.Error(err))
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		// The shared call outlives the cancellation of any one waiter.
		ctx := context.WithoutCancel(ctx)
		u, err := s.repo.FindByID(ctx, id)
		if err != nil || u == nil {
			return u, err
		}
		u.Data.Password = ""
		if err := s.cache.Set(ctx, id, *u); err != nil {
			s.logger.Warn("user cache write failed", zap.String("id", id), zap.Error(err))
		}
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	u, _ := v.(*User)
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	return s.create(ctx, in.Email, in.document())
}

// Register creates a user with a password hash, as the auth flow does.
func (s *Service) Register(ctx context.Context, name, email, passwordHash string) (*User, error) {
	doc := map[string]any{
		"email":    normalizeEmail(email),
		"password": passwordHash,
	}
	if name != "" {
		doc["name"] = name
	}
	return s.create(ctx, email, doc)
}

func (s *Service) create(ctx context.Context, email string, doc map[string]any) (*User, error) {
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	u, err := s.repo.Create(ctx, doc)
	if db.IsUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	return u, err
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*User, error) {
	if in.Email != nil {
		existing, err := s.repo.FindByEmail(ctx, *in.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, ErrEmailTaken
		}
	}

	u, err := s.repo.Update(ctx, id, in.document())
	if db.IsUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	s.evict(ctx, id)
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrNotFound
	}
	if _, err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

func (s *Service) Search(ctx context.Context, term string) ([]User, error) {
	return s.repo.SearchByName(ctx, term)
}

// FindByEmail returns ErrNotFound when no user has email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// FindByField matches one top-level key of the data document.
func (s *Service) FindByField(ctx context.Context, field string, value any) ([]User, error) {
	return s.repo.FindByField(ctx, field, value)
}

func (s *Service) evict(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn("user cache evict failed", zap.String("id", id), zap.Error(err))
	}
}
