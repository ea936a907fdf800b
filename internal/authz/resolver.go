package authz

import (
	"context"
	"fmt"
)

// Resolver computes the effective permission map for a principal by
// combining direct grants with grants inherited through group
// membership.
type Resolver struct {
	perms  PermissionRepository
	groups GroupDirectory
}

// NewResolver constructs a Resolver.
func NewResolver(perms PermissionRepository, groups GroupDirectory) *Resolver {
	return &Resolver{perms: perms, groups: groups}
}

// Resolve returns the merged capability map keyed by resource
// identifier. Direct grants seed the map; for users, each group's
// grants are folded in under most-permissive-wins. A principal with no
// grants yields an empty map, never an error.
func (r *Resolver) Resolve(ctx context.Context, principal PrincipalRef) (PermissionMap, error) {
	direct, err := r.perms.ListDirect(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("%w: list direct grants: %w", ErrResolutionFailed, err)
	}

	result := make(PermissionMap, len(direct))
	for _, perm := range direct {
		if existing, ok := result[perm.ResourceIdentifier]; ok {
			result[perm.ResourceIdentifier] = existing.Merge(perm.Capabilities)
			continue
		}
		result[perm.ResourceIdentifier] = perm.Capabilities
	}

	if principal.Kind != KindUser || r.groups == nil {
		return result, nil
	}

	groupIDs, err := r.groups.GroupsOf(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list groups: %w", ErrResolutionFailed, err)
	}
	if len(groupIDs) == 0 {
		return result, nil
	}

	// One batched query regardless of how many groups the user is in.
	inherited, err := r.perms.ListForGroups(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: list group grants: %w", ErrResolutionFailed, err)
	}
	for _, perm := range inherited {
		if existing, ok := result[perm.ResourceIdentifier]; ok {
			result[perm.ResourceIdentifier] = existing.Merge(perm.Capabilities)
			continue
		}
		result[perm.ResourceIdentifier] = perm.Capabilities
	}
	return result, nil
}
