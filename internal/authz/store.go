package authz

import "context"

// PermissionRepository defines persistence operations over permission
// rows. Mutations re-sign the affected row; callers are responsible for
// invalidating the owning principal's cache after every successful
// write (see Service), never before it.
type PermissionRepository interface {
	// Upsert merges the requested capabilities into the row for the
	// pair, creating it when absent. Repeated identical calls are
	// idempotent.
	Upsert(ctx context.Context, principal PrincipalRef, resourceID int64, caps Capabilities) (Permission, error)
	// Replace overwrites the row's capabilities with exactly caps,
	// clearing anything unlisted.
	Replace(ctx context.Context, principal PrincipalRef, resourceID int64, caps Capabilities) (Permission, error)
	// Revoke soft-deletes the whole row when actions is empty, or
	// clears only the named actions otherwise. Returns whether anything
	// changed.
	Revoke(ctx context.Context, principal PrincipalRef, resourceID int64, actions []string) (bool, error)
	// Find returns the live row for the pair or ErrPermissionNotFound.
	Find(ctx context.Context, principal PrincipalRef, resourceID int64) (Permission, error)
	// ListDirect returns all live rows granted directly to principal.
	ListDirect(ctx context.Context, principal PrincipalRef) ([]Permission, error)
	// ListForGroups returns live rows for all given groups in a single
	// query. Group counts are unbounded so this must not degrade to one
	// query per group.
	ListForGroups(ctx context.Context, groupIDs []int64) ([]Permission, error)
	// RevokeAllForResource soft-deletes every row referencing the
	// resource and returns the principals that held one.
	RevokeAllForResource(ctx context.Context, resourceID int64) ([]PrincipalRef, error)
}

// ResourceDirectory resolves resource identifiers. Implemented by the
// resources package.
type ResourceDirectory interface {
	// ResourceID maps an identifier to its row ID, or ErrResourceNotFound.
	ResourceID(ctx context.Context, identifier string) (int64, error)
	// Identifiers lists every live resource identifier.
	Identifiers(ctx context.Context) ([]string, error)
}

// GroupDirectory exposes the membership reads the resolver and cache
// need. Implemented by the groups package.
type GroupDirectory interface {
	// GroupsOf returns the group IDs the user belongs to, ordered by
	// join time ascending (index 0 is the primary group).
	GroupsOf(ctx context.Context, userID int64) ([]int64, error)
	// MembersOf returns the user IDs currently in the group.
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
}

// ChangeRecorder receives permission-change notifications. Failures are
// the recorder's problem: implementations log and swallow so the
// triggering operation never aborts.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, principal PrincipalRef, resourceIdentifier, action string, capabilities []string)
}
