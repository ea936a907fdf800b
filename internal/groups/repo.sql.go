package groups

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/platform/db"
	"github.com/wardenhq/warden/internal/signature"
)

const membershipsScope = "group_memberships"

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool     *pgxpool.Pool
	signer   *signature.Engine
	tenant   string
	onTamper func(Membership)
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool, signer *signature.Engine, tenant string) *PGRepository {
	return &PGRepository{pool: pool, signer: signer, tenant: tenant}
}

var _ Repository = (*PGRepository)(nil)

// OnIntegrityFailure registers a callback invoked for every membership
// pivot whose signature no longer verifies. Failing pivots are excluded
// from resolution, so the user loses the group's grants until re-joined.
func (r *PGRepository) OnIntegrityFailure(fn func(Membership)) {
	r.onTamper = fn
}

// Join inserts the pivot when absent. The unique (user_id, group_id)
// constraint makes repeated joins a no-op.
func (r *PGRepository) Join(ctx context.Context, userID, groupID int64) (bool, error) {
	if r == nil || r.pool == nil {
		return false, fmt.Errorf("groups repo not initialised")
	}
	joinedAt := time.Now().UTC()
	sig := r.sign(userID, groupID, joinedAt)
	tag, err := r.pool.Exec(ctx, `
INSERT INTO group_memberships (user_id, group_id, signature, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (user_id, group_id) DO NOTHING`,
		userID, groupID, sig, joinedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Leave deletes the pivot.
func (r *PGRepository) Leave(ctx context.Context, userID, groupID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM group_memberships WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Sync replaces the user's membership set inside one transaction.
func (r *PGRepository) Sync(ctx context.Context, userID int64, groupIDs []int64) (added, removed []int64, err error) {
	current, err := r.GroupsOf(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	want := make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		want[id] = struct{}{}
	}
	have := make(map[int64]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}

	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, id := range current {
			if _, keep := want[id]; !keep {
				if _, err := tx.Exec(ctx,
					`DELETE FROM group_memberships WHERE user_id = $1 AND group_id = $2`, userID, id); err != nil {
					return err
				}
				removed = append(removed, id)
			}
		}
		for _, id := range groupIDs {
			if _, exists := have[id]; exists {
				continue
			}
			joinedAt := time.Now().UTC()
			sig := r.sign(userID, id, joinedAt)
			if _, err := tx.Exec(ctx, `
INSERT INTO group_memberships (user_id, group_id, signature, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (user_id, group_id) DO NOTHING`,
				userID, id, sig, joinedAt); err != nil {
				return err
			}
			added = append(added, id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return added, removed, nil
}

// GroupsOf returns group IDs ordered by join time ascending. Pivots
// failing signature verification are skipped.
func (r *PGRepository) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	memberships, err := r.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, m := range memberships {
		if !r.VerifyMembership(m) {
			if r.onTamper != nil {
				r.onTamper(m)
			}
			continue
		}
		out = append(out, m.GroupID)
	}
	return out, nil
}

// MembersOf returns the users currently in the group.
func (r *PGRepository) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_memberships WHERE group_id = $1 ORDER BY created_at ASC, id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListMemberships returns the user's pivots ordered by join time.
func (r *PGRepository) ListMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, group_id, signature, created_at, updated_at
FROM group_memberships WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.Signature, &m.JoinedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// VerifyMembership recomputes the pivot signature against the stored
// digest.
func (r *PGRepository) VerifyMembership(m Membership) bool {
	record := map[string]any{
		"user_id":   m.UserID,
		"group_id":  m.GroupID,
		"joined_at": m.JoinedAt.UTC().Unix(),
	}
	return r.signer.Verify(record, membershipsScope, r.tenant, m.Signature)
}

func (r *PGRepository) sign(userID, groupID int64, joinedAt time.Time) string {
	record := map[string]any{
		"user_id":   userID,
		"group_id":  groupID,
		"joined_at": joinedAt.UTC().Unix(),
	}
	return r.signer.Sign(record, membershipsScope, r.tenant)
}
