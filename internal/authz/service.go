package authz

import (
	"context"
	"errors"
	"log/slog"
)

// Change notification actions emitted to the audit recorder.
const (
	ChangeGranted = "granted"
	ChangeRevoked = "revoked"
	ChangeSynced  = "synced"
)

// Service is the public authorization API. It orchestrates the store,
// resolver and cache, and notifies the audit recorder on every
// mutation.
//
// Cache invalidation is performed explicitly after each successful
// store write (never before), so a concurrent Can call can never
// repopulate the cache with pre-mutation data after the invalidation
// has run.
type Service struct {
	repo      PermissionRepository
	resources ResourceDirectory
	cache     *Cache
	recorder  ChangeRecorder
	logger    *slog.Logger
}

// NewService constructs the authorization service. recorder may be nil.
func NewService(repo PermissionRepository, resources ResourceDirectory, cache *Cache, recorder ChangeRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resources: resources, cache: cache, recorder: recorder, logger: logger}
}

// Effective returns the principal's fully merged permission map.
func (s *Service) Effective(ctx context.Context, principal PrincipalRef) (PermissionMap, error) {
	perms, err := s.cache.Get(ctx, principal)
	if err != nil {
		return nil, opError("resolve", principal, "", err)
	}
	return perms, nil
}

// Can reports whether principal may perform action on the identified
// resource. Absence of any grant is a plain false; a storage failure is
// returned alongside false so callers stay fail-closed.
func (s *Service) Can(ctx context.Context, principal PrincipalRef, resourceIdentifier, action string) (bool, error) {
	perms, err := s.Effective(ctx, principal)
	if err != nil {
		return false, err
	}
	return perms.Allows(resourceIdentifier, action), nil
}

// CanAny reports whether principal may perform at least one of actions.
func (s *Service) CanAny(ctx context.Context, principal PrincipalRef, resourceIdentifier string, actions []string) (bool, error) {
	perms, err := s.Effective(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, action := range actions {
		if perms.Allows(resourceIdentifier, action) {
			return true, nil
		}
	}
	return false, nil
}

// CanAll reports whether principal may perform every one of actions.
func (s *Service) CanAll(ctx context.Context, principal PrincipalRef, resourceIdentifier string, actions []string) (bool, error) {
	perms, err := s.Effective(ctx, principal)
	if err != nil {
		return false, err
	}
	if len(actions) == 0 {
		return false, nil
	}
	for _, action := range actions {
		if !perms.Allows(resourceIdentifier, action) {
			return false, nil
		}
	}
	return true, nil
}

// Grant merges the named capabilities into the principal's grant on the
// resource. Unresolvable identifiers surface as ErrResourceNotFound.
func (s *Service) Grant(ctx context.Context, principal PrincipalRef, resourceIdentifier string, actions []string) (Permission, error) {
	resourceID, err := s.resources.ResourceID(ctx, resourceIdentifier)
	if err != nil {
		return Permission{}, opError("grant", principal, resourceIdentifier, err)
	}
	perm, err := s.repo.Upsert(ctx, principal, resourceID, CapabilitiesFromList(actions))
	if err != nil {
		return Permission{}, opError("grant", principal, resourceIdentifier, err)
	}
	s.invalidate(ctx, principal)
	s.notify(ctx, principal, resourceIdentifier, ChangeGranted, actions)
	return perm, nil
}

// Revoke removes the named capabilities, or the whole grant when
// actions is empty. Returns whether anything changed.
func (s *Service) Revoke(ctx context.Context, principal PrincipalRef, resourceIdentifier string, actions []string) (bool, error) {
	resourceID, err := s.resources.ResourceID(ctx, resourceIdentifier)
	if err != nil {
		return false, opError("revoke", principal, resourceIdentifier, err)
	}
	changed, err := s.repo.Revoke(ctx, principal, resourceID, actions)
	if err != nil {
		return false, opError("revoke", principal, resourceIdentifier, err)
	}
	if changed {
		s.invalidate(ctx, principal)
		s.notify(ctx, principal, resourceIdentifier, ChangeRevoked, actions)
	}
	return changed, nil
}

// Sync replaces the principal's grant on the resource with exactly the
// named capabilities, clearing any unlisted standard flag or custom
// entry.
func (s *Service) Sync(ctx context.Context, principal PrincipalRef, resourceIdentifier string, actions []string) (Permission, error) {
	resourceID, err := s.resources.ResourceID(ctx, resourceIdentifier)
	if err != nil {
		return Permission{}, opError("sync", principal, resourceIdentifier, err)
	}
	perm, err := s.repo.Replace(ctx, principal, resourceID, CapabilitiesFromList(actions))
	if err != nil {
		return Permission{}, opError("sync", principal, resourceIdentifier, err)
	}
	s.invalidate(ctx, principal)
	s.notify(ctx, principal, resourceIdentifier, ChangeSynced, actions)
	return perm, nil
}

// CopyPermissions copies the source principal's direct grants (not the
// resolved set) onto target, optionally restricted to resourceFilter
// identifiers. The target's cache is invalidated once at the end.
// Returns the number of grants copied.
func (s *Service) CopyPermissions(ctx context.Context, source, target PrincipalRef, resourceFilter []string) (int, error) {
	direct, err := s.repo.ListDirect(ctx, source)
	if err != nil {
		return 0, opError("copy", source, "", err)
	}

	var filter map[string]struct{}
	if len(resourceFilter) > 0 {
		filter = make(map[string]struct{}, len(resourceFilter))
		for _, identifier := range resourceFilter {
			filter[identifier] = struct{}{}
		}
	}

	copied := 0
	for _, perm := range direct {
		if filter != nil {
			if _, ok := filter[perm.ResourceIdentifier]; !ok {
				continue
			}
		}
		if _, err := s.repo.Upsert(ctx, target, perm.ResourceID, perm.Capabilities); err != nil {
			return copied, opError("copy", target, perm.ResourceIdentifier, err)
		}
		s.notify(ctx, target, perm.ResourceIdentifier, ChangeGranted, perm.Capabilities.List())
		copied++
	}
	if copied > 0 {
		s.invalidate(ctx, target)
	}
	return copied, nil
}

// MatrixRow pairs a principal with its effective capability map.
type MatrixRow struct {
	Principal   PrincipalRef  `json:"principal"`
	Permissions PermissionMap `json:"permissions"`
}

// PermissionMatrix builds a read-only reporting view of effective
// permissions for the given principals. When resourceIdentifiers is
// empty every resource in the system is included.
func (s *Service) PermissionMatrix(ctx context.Context, principals []PrincipalRef, resourceIdentifiers []string) ([]MatrixRow, error) {
	if len(resourceIdentifiers) == 0 {
		all, err := s.resources.Identifiers(ctx)
		if err != nil {
			return nil, opError("matrix", PrincipalRef{}, "", err)
		}
		resourceIdentifiers = all
	}

	rows := make([]MatrixRow, 0, len(principals))
	for _, principal := range principals {
		effective, err := s.Effective(ctx, principal)
		if err != nil {
			return nil, err
		}
		filtered := make(PermissionMap, len(resourceIdentifiers))
		for _, identifier := range resourceIdentifiers {
			if caps, ok := effective[identifier]; ok {
				filtered[identifier] = caps
			}
		}
		rows = append(rows, MatrixRow{Principal: principal, Permissions: filtered})
	}
	return rows, nil
}

func (s *Service) invalidate(ctx context.Context, principal PrincipalRef) {
	if err := s.cache.Invalidate(ctx, principal); err != nil {
		// A stale entry that cannot be dropped is an availability risk,
		// not a write failure. The cache has already logged and counted it.
		s.logger.Warn("authz: cache invalidation degraded",
			slog.String("kind", string(principal.Kind)), slog.Int64("id", principal.ID))
	}
	// A group's grants flow into every member, so members go stale too.
	if principal.Kind == KindGroup {
		if err := s.cache.InvalidateGroup(ctx, principal.ID); err != nil {
			s.logger.Warn("authz: group cache invalidation degraded", slog.Int64("group_id", principal.ID))
		}
	}
}

func (s *Service) notify(ctx context.Context, principal PrincipalRef, resourceIdentifier, action string, capabilities []string) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordChange(ctx, principal, resourceIdentifier, action, capabilities)
}

// IsNotFound reports whether err is one of the typed not-found
// outcomes.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound) || errors.Is(err, ErrPermissionNotFound)
}
