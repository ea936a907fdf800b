package groups

import (
	"context"
	"log/slog"

	"github.com/wardenhq/warden/internal/authz"
)

// Service orchestrates membership mutations and keeps the permission
// cache coherent: every join, leave and sync invalidates the affected
// user after the write lands.
type Service struct {
	repo   Repository
	cache  *authz.Cache
	logger *slog.Logger
}

// NewService constructs the membership service.
func NewService(repo Repository, cache *authz.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Join adds the user to the group. Returns false when the membership
// already existed.
func (s *Service) Join(ctx context.Context, userID, groupID int64) (bool, error) {
	joined, err := s.repo.Join(ctx, userID, groupID)
	if err != nil {
		return false, err
	}
	if joined {
		s.invalidateUser(ctx, userID)
	}
	return joined, nil
}

// Leave removes the user from the group.
func (s *Service) Leave(ctx context.Context, userID, groupID int64) (bool, error) {
	left, err := s.repo.Leave(ctx, userID, groupID)
	if err != nil {
		return false, err
	}
	if left {
		s.invalidateUser(ctx, userID)
	}
	return left, nil
}

// Sync replaces the user's membership set. Groups entering or leaving
// the set get their cached maps dropped as well.
func (s *Service) Sync(ctx context.Context, userID int64, groupIDs []int64) error {
	added, removed, err := s.repo.Sync(ctx, userID, groupIDs)
	if err != nil {
		return err
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	s.invalidateUser(ctx, userID)
	for _, groupID := range append(added, removed...) {
		if err := s.cache.Invalidate(ctx, authz.Group(groupID)); err != nil {
			s.logger.Warn("groups: group cache invalidation degraded", slog.Int64("group_id", groupID))
		}
	}
	return nil
}

// GroupsOf returns the user's groups ordered by join time ascending.
func (s *Service) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	return s.repo.GroupsOf(ctx, userID)
}

// MembersOf returns the users currently in the group.
func (s *Service) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	return s.repo.MembersOf(ctx, groupID)
}

// PrimaryGroup returns the earliest-joined group for the user.
func (s *Service) PrimaryGroup(ctx context.Context, userID int64) (int64, bool, error) {
	ids, err := s.repo.GroupsOf(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if err := s.cache.Invalidate(ctx, authz.User(userID)); err != nil {
		s.logger.Warn("groups: user cache invalidation degraded", slog.Int64("user_id", userID))
	}
}

var _ authz.GroupDirectory = (*Service)(nil)
