package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/signature"
)

const permissionsScope = "permissions"

// PGRepository implements PermissionRepository on PostgreSQL. Every
// write recomputes the row signature over the canonical attribute set.
type PGRepository struct {
	pool     *pgxpool.Pool
	signer   *signature.Engine
	tenant   string
	onTamper func(Permission)
}

// NewPGRepository constructs the repository. tenant is empty for
// single-tenant deployments.
func NewPGRepository(pool *pgxpool.Pool, signer *signature.Engine, tenant string) *PGRepository {
	return &PGRepository{pool: pool, signer: signer, tenant: tenant}
}

var _ PermissionRepository = (*PGRepository)(nil)

// OnIntegrityFailure registers a callback invoked for every stored row
// whose signature no longer verifies. Rows that fail verification are
// excluded from resolution results.
func (r *PGRepository) OnIntegrityFailure(fn func(Permission)) {
	r.onTamper = fn
}

// verified filters out rows failing signature verification, reporting
// each through the registered callback.
func (r *PGRepository) verified(perms []Permission) []Permission {
	out := perms[:0]
	for _, perm := range perms {
		if !r.VerifyRow(perm) {
			if r.onTamper != nil {
				r.onTamper(perm)
			}
			continue
		}
		out = append(out, perm)
	}
	return out
}

const selectPermission = `
SELECT p.id, p.principal_type, p.principal_id, p.resource_id, r.identifier,
       p.can_create, p.can_read, p.can_update, p.can_delete, p.can_print, p.can_history,
       p.custom_permissions, p.signature, p.created_at, p.updated_at
FROM permissions p
JOIN system_resources r ON r.id = p.resource_id`

// Find returns the live permission row for the pair.
func (r *PGRepository) Find(ctx context.Context, principal PrincipalRef, resourceID int64) (Permission, error) {
	if r == nil || r.pool == nil {
		return Permission{}, fmt.Errorf("authz repo not initialised")
	}
	query := selectPermission + `
WHERE p.principal_type = $1 AND p.principal_id = $2 AND p.resource_id = $3 AND p.deleted_at IS NULL`
	row := r.pool.QueryRow(ctx, query, principal.Kind, principal.ID, resourceID)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

// Upsert merges caps into the existing row or inserts a fresh one.
func (r *PGRepository) Upsert(ctx context.Context, principal PrincipalRef, resourceID int64, caps Capabilities) (Permission, error) {
	existing, err := r.Find(ctx, principal, resourceID)
	switch {
	case err == nil:
		return r.update(ctx, existing, existing.Capabilities.Merge(caps))
	case errors.Is(err, ErrPermissionNotFound):
		return r.insert(ctx, principal, resourceID, caps)
	default:
		return Permission{}, err
	}
}

// Replace overwrites the row's capabilities with exactly caps.
func (r *PGRepository) Replace(ctx context.Context, principal PrincipalRef, resourceID int64, caps Capabilities) (Permission, error) {
	existing, err := r.Find(ctx, principal, resourceID)
	switch {
	case err == nil:
		return r.update(ctx, existing, caps)
	case errors.Is(err, ErrPermissionNotFound):
		return r.insert(ctx, principal, resourceID, caps)
	default:
		return Permission{}, err
	}
}

// Revoke soft-deletes the row (empty actions) or clears named actions.
func (r *PGRepository) Revoke(ctx context.Context, principal PrincipalRef, resourceID int64, actions []string) (bool, error) {
	if len(actions) == 0 {
		tag, err := r.pool.Exec(ctx, `
UPDATE permissions SET deleted_at = NOW(), updated_at = NOW()
WHERE principal_type = $1 AND principal_id = $2 AND resource_id = $3 AND deleted_at IS NULL`,
			principal.Kind, principal.ID, resourceID)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}

	existing, err := r.Find(ctx, principal, resourceID)
	if err != nil {
		if errors.Is(err, ErrPermissionNotFound) {
			return false, nil
		}
		return false, err
	}
	cleared := existing.Capabilities.Clear(actions)
	if capsEqual(cleared, existing.Capabilities) {
		return false, nil
	}
	if _, err := r.update(ctx, existing, cleared); err != nil {
		return false, err
	}
	return true, nil
}

// ListDirect returns all live rows granted directly to principal.
func (r *PGRepository) ListDirect(ctx context.Context, principal PrincipalRef) ([]Permission, error) {
	query := selectPermission + `
WHERE p.principal_type = $1 AND p.principal_id = $2 AND p.deleted_at IS NULL AND r.deleted_at IS NULL
ORDER BY r.identifier`
	rows, err := r.pool.Query(ctx, query, principal.Kind, principal.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, err
	}
	return r.verified(perms), nil
}

// ListForGroups returns live rows for all given groups in one query.
func (r *PGRepository) ListForGroups(ctx context.Context, groupIDs []int64) ([]Permission, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := selectPermission + `
WHERE p.principal_type = 'group' AND p.principal_id = ANY($1) AND p.deleted_at IS NULL AND r.deleted_at IS NULL
ORDER BY r.identifier`
	rows, err := r.pool.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, err
	}
	return r.verified(perms), nil
}

// RevokeAllForResource soft-deletes every grant on the resource and
// returns the principals that held one, so callers can invalidate them.
func (r *PGRepository) RevokeAllForResource(ctx context.Context, resourceID int64) ([]PrincipalRef, error) {
	rows, err := r.pool.Query(ctx, `
UPDATE permissions SET deleted_at = NOW(), updated_at = NOW()
WHERE resource_id = $1 AND deleted_at IS NULL
RETURNING principal_type, principal_id`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var principals []PrincipalRef
	for rows.Next() {
		var p PrincipalRef
		if err := rows.Scan(&p.Kind, &p.ID); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

func (r *PGRepository) insert(ctx context.Context, principal PrincipalRef, resourceID int64, caps Capabilities) (Permission, error) {
	sig := r.sign(principal, resourceID, caps)
	query := `
INSERT INTO permissions (principal_type, principal_id, resource_id,
    can_create, can_read, can_update, can_delete, can_print, can_history,
    custom_permissions, signature, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
RETURNING id, created_at, updated_at`
	perm := Permission{Principal: principal, ResourceID: resourceID, Capabilities: caps, Signature: sig}
	err := r.pool.QueryRow(ctx, query,
		principal.Kind, principal.ID, resourceID,
		caps.Create, caps.Read, caps.Update, caps.Delete, caps.Print, caps.History,
		joinCustom(caps.Custom), sig,
	).Scan(&perm.ID, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return Permission{}, err
	}
	if identifier, ierr := r.resourceIdentifier(ctx, resourceID); ierr == nil {
		perm.ResourceIdentifier = identifier
	}
	return perm, nil
}

func (r *PGRepository) update(ctx context.Context, existing Permission, caps Capabilities) (Permission, error) {
	sig := r.sign(existing.Principal, existing.ResourceID, caps)
	query := `
UPDATE permissions SET
    can_create = $2, can_read = $3, can_update = $4, can_delete = $5,
    can_print = $6, can_history = $7, custom_permissions = $8,
    signature = $9, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL
RETURNING updated_at`
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, query, existing.ID,
		caps.Create, caps.Read, caps.Update, caps.Delete, caps.Print, caps.History,
		joinCustom(caps.Custom), sig,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, err
	}
	existing.Capabilities = caps
	existing.Signature = sig
	existing.UpdatedAt = updatedAt
	return existing, nil
}

func (r *PGRepository) resourceIdentifier(ctx context.Context, resourceID int64) (string, error) {
	var identifier string
	err := r.pool.QueryRow(ctx, `SELECT identifier FROM system_resources WHERE id = $1`, resourceID).Scan(&identifier)
	return identifier, err
}

func (r *PGRepository) sign(principal PrincipalRef, resourceID int64, caps Capabilities) string {
	record := map[string]any{
		"principal_type":     string(principal.Kind),
		"principal_id":       principal.ID,
		"resource_id":        resourceID,
		"can_create":         caps.Create,
		"can_read":           caps.Read,
		"can_update":         caps.Update,
		"can_delete":         caps.Delete,
		"can_print":          caps.Print,
		"can_history":        caps.History,
		"custom_permissions": joinCustom(caps.Custom),
	}
	return r.signer.Sign(record, permissionsScope, r.tenant)
}

// VerifyRow recomputes the signature for a stored permission and
// compares it to the persisted digest.
func (r *PGRepository) VerifyRow(perm Permission) bool {
	record := map[string]any{
		"principal_type":     string(perm.Principal.Kind),
		"principal_id":       perm.Principal.ID,
		"resource_id":        perm.ResourceID,
		"can_create":         perm.Capabilities.Create,
		"can_read":           perm.Capabilities.Read,
		"can_update":         perm.Capabilities.Update,
		"can_delete":         perm.Capabilities.Delete,
		"can_print":          perm.Capabilities.Print,
		"can_history":        perm.Capabilities.History,
		"custom_permissions": joinCustom(perm.Capabilities.Custom),
	}
	return r.signer.Verify(record, permissionsScope, r.tenant, perm.Signature)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (Permission, error) {
	var (
		perm   Permission
		custom string
	)
	err := row.Scan(
		&perm.ID, &perm.Principal.Kind, &perm.Principal.ID, &perm.ResourceID, &perm.ResourceIdentifier,
		&perm.Capabilities.Create, &perm.Capabilities.Read, &perm.Capabilities.Update,
		&perm.Capabilities.Delete, &perm.Capabilities.Print, &perm.Capabilities.History,
		&custom, &perm.Signature, &perm.CreatedAt, &perm.UpdatedAt,
	)
	if err != nil {
		return Permission{}, err
	}
	perm.Capabilities.Custom = splitCustom(custom)
	return perm, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func capsEqual(a, b Capabilities) bool {
	if a.Create != b.Create || a.Read != b.Read || a.Update != b.Update ||
		a.Delete != b.Delete || a.Print != b.Print || a.History != b.History {
		return false
	}
	if len(a.Custom) != len(b.Custom) {
		return false
	}
	for i := range a.Custom {
		if a.Custom[i] != b.Custom[i] {
			return false
		}
	}
	return true
}
