// Package groups manages signed user-group memberships.
package groups

import "time"

// Membership ties a user to a group. The pivot carries its own
// signature over (user, group, join time) so a forged row is
// detectable.
type Membership struct {
	ID        int64
	UserID    int64
	GroupID   int64
	Signature string
	JoinedAt  time.Time
	UpdatedAt time.Time
}
