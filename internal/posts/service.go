package posts

import (
	"context"

	"go.uber.org/zap"
)

type Service struct {
	repo   *Repository
	logger *zap.Logger
}

func NewService(repo *Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Post, int64, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	posts, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Post, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Post, error) {
	return s.repo.FindByUser(ctx, userID)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Post, error) {
	doc, err := document(in)
	if err != nil {
		return nil, err
	}
	if _, ok := doc["is_help_post"]; !ok {
		doc["is_help_post"] = false
	}
	p, err := s.repo.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("post created", zap.String("id", p.ID), zap.String("user_id", in.UserID))
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Post, error) {
	doc, err := document(in)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.Update(ctx, id, doc)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
