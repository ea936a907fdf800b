package groups

import "context"

// Repository defines persistence operations for group memberships.
type Repository interface {
	// Join adds the user to the group, signing the pivot. Returns false
	// when the membership already existed.
	Join(ctx context.Context, userID, groupID int64) (bool, error)
	// Leave removes the user from the group. Returns false when there
	// was nothing to remove.
	Leave(ctx context.Context, userID, groupID int64) (bool, error)
	// Sync replaces the user's full membership set, returning the group
	// IDs that were added and removed.
	Sync(ctx context.Context, userID int64, groupIDs []int64) (added, removed []int64, err error)
	// GroupsOf returns the user's groups ordered by join time
	// ascending; index 0 is the primary group.
	GroupsOf(ctx context.Context, userID int64) ([]int64, error)
	// MembersOf returns the user IDs currently in the group.
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
	// ListMemberships returns the user's pivots ordered by join time.
	ListMemberships(ctx context.Context, userID int64) ([]Membership, error)
}
