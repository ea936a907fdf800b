package resources

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wardenhq/warden/internal/authz"
)

// Repository defines persistence operations for the registry.
type Repository interface {
	Create(ctx context.Context, res Resource) (Resource, error)
	GetByIdentifier(ctx context.Context, identifier string) (Resource, error)
	Get(ctx context.Context, id int64) (Resource, error)
	List(ctx context.Context) ([]Resource, error)
	Identifiers(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id int64, name, rtype string, parentID *int64, menuOrder int) (Resource, error)
	SoftDelete(ctx context.Context, id int64) (bool, error)
}

var titleCaser = cases.Title(language.English)

// Service manages system resources and keeps the permission subsystem
// consistent when resources disappear.
type Service struct {
	repo   Repository
	perms  authz.PermissionRepository
	cache  *authz.Cache
	logger *slog.Logger
}

// NewService constructs the registry service.
func NewService(repo Repository, perms authz.PermissionRepository, cache *authz.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, perms: perms, cache: cache, logger: logger}
}

// Create registers a new resource. A blank display name defaults to the
// title-cased identifier ("sales_orders" becomes "Sales Orders").
func (s *Service) Create(ctx context.Context, identifier, name, rtype string, parentID *int64, menuOrder int) (Resource, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return Resource{}, ErrIdentifierRequired
	}
	if name = strings.TrimSpace(name); name == "" {
		name = titleCaser.String(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(identifier))
	}
	if rtype == "" {
		rtype = TypeModel
	}
	return s.repo.Create(ctx, Resource{
		ParentID:   parentID,
		Identifier: identifier,
		Name:       name,
		Type:       rtype,
		MenuOrder:  menuOrder,
	})
}

// Get fetches a resource by identifier.
func (s *Service) Get(ctx context.Context, identifier string) (Resource, error) {
	return s.repo.GetByIdentifier(ctx, identifier)
}

// List returns all live resources in menu order.
func (s *Service) List(ctx context.Context) ([]Resource, error) {
	return s.repo.List(ctx)
}

// Update changes mutable attributes; the identifier stays fixed.
func (s *Service) Update(ctx context.Context, identifier, name, rtype string, parentID *int64, menuOrder int) (Resource, error) {
	res, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		return Resource{}, err
	}
	if name = strings.TrimSpace(name); name == "" {
		name = res.Name
	}
	if rtype == "" {
		rtype = res.Type
	}
	return s.repo.Update(ctx, res.ID, name, rtype, parentID, menuOrder)
}

// Delete tombstones the resource, revokes every permission row that
// referenced it and invalidates the caches of all principals that held
// one.
func (s *Service) Delete(ctx context.Context, identifier string) error {
	res, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	deleted, err := s.repo.SoftDelete(ctx, res.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	affected, err := s.perms.RevokeAllForResource(ctx, res.ID)
	if err != nil {
		return err
	}
	for _, principal := range affected {
		var ierr error
		if principal.Kind == authz.KindGroup {
			// Members inherited the revoked grant, so they go stale too.
			ierr = s.cache.InvalidateGroup(ctx, principal.ID)
		} else {
			ierr = s.cache.Invalidate(ctx, principal)
		}
		if ierr != nil {
			s.logger.Warn("resources: cache invalidation degraded",
				slog.String("identifier", identifier),
				slog.String("kind", string(principal.Kind)), slog.Int64("id", principal.ID))
		}
	}
	return nil
}

// ResourceID implements authz.ResourceDirectory.
func (s *Service) ResourceID(ctx context.Context, identifier string) (int64, error) {
	res, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, authz.ErrResourceNotFound
		}
		return 0, err
	}
	return res.ID, nil
}

// Identifiers implements authz.ResourceDirectory.
func (s *Service) Identifiers(ctx context.Context) ([]string, error) {
	return s.repo.Identifiers(ctx)
}

var _ authz.ResourceDirectory = (*Service)(nil)
