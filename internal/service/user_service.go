package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"topictalks/internal/cache"
	apperrors "topictalks/internal/errors"
	"topictalks/internal/model"
	"topictalks/internal/repository"
)

const profileCacheTTL = 5 * time.Minute

// Profile is the public view of an account.
type Profile struct {
	ID         uint              `json:"id"`
	Email      string            `json:"email"`
	Username   string            `json:"username,omitempty"`
	IsVerified bool              `json:"is_verified"`
	Roles      []model.Role      `json:"roles"`
	Details    *model.UserDetail `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewProfile builds the public view of user.
func NewProfile(user *model.User) *Profile {
	return &Profile{
		ID:         user.ID,
		Email:      user.Email,
		Username:   user.Username,
		IsVerified: user.IsVerified,
		Roles:      user.RoleSet(),
		Details:    user.Details,
		CreatedAt:  user.CreatedAt,
	}
}

// UserService exposes account read operations.
type UserService interface {
	Profile(ctx context.Context, id uint) (*Profile, error)
	ListUsers(ctx context.Context) ([]Profile, error)
	Invalidate(ctx context.Context, id uint)
}

type userService struct {
	repo   repository.UserRepository
	cache  *cache.Client
	logger *zap.Logger
}

// NewUserService builds a UserService with repository and cache.
func NewUserService(repo repository.UserRepository, cache *cache.Client, l *zap.Logger) UserService {
	if l == nil {
		l = zap.NewNop()
	}
	return &userService{repo: repo, cache: cache, logger: l}
}

func (s *userService) cacheKey(id uint) string {
	return fmt.Sprintf("profile:%d", id)
}

// Profile reads through the cache.
func (s *userService) Profile(ctx context.Context, id uint) (*Profile, error) {
	if data, _ := s.cache.Get(ctx, s.cacheKey(id)); data != nil {
		var cached Profile
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		s.logger.Error("load profile failed", zap.Uint("user_id", id), zap.Error(err))
		return nil, apperrors.Unexpected(err)
	}

	profile := NewProfile(user)
	if payload, err := json.Marshal(profile); err == nil {
		_ = s.cache.Set(ctx, s.cacheKey(id), payload, profileCacheTTL)
	}
	return profile, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]Profile, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("list users failed", zap.Error(err))
		return nil, apperrors.Unexpected(err)
	}
	profiles := make([]Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, *NewProfile(&users[i]))
	}
	return profiles, nil
}

// Invalidate drops the cached profile after the account changed.
func (s *userService) Invalidate(ctx context.Context, id uint) {
	_ = s.cache.Delete(ctx, s.cacheKey(id))
}
