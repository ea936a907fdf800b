package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PGRepository persists system resources in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectResource = `
SELECT id, parent_id, identifier, name, rtype, menu_order, created_at, updated_at
FROM system_resources`

// Create inserts a new resource. The identifier is immutable afterwards.
func (r *PGRepository) Create(ctx context.Context, res Resource) (Resource, error) {
	if r == nil || r.pool == nil {
		return Resource{}, fmt.Errorf("resources repo not initialised")
	}
	err := r.pool.QueryRow(ctx, `
INSERT INTO system_resources (parent_id, identifier, name, rtype, menu_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING id, created_at, updated_at`,
		res.ParentID, res.Identifier, res.Name, res.Type, res.MenuOrder,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Resource{}, ErrDuplicateIdentifier
		}
		return Resource{}, err
	}
	return res, nil
}

// GetByIdentifier fetches a live resource by its unique identifier.
func (r *PGRepository) GetByIdentifier(ctx context.Context, identifier string) (Resource, error) {
	row := r.pool.QueryRow(ctx, selectResource+` WHERE identifier = $1 AND deleted_at IS NULL`, identifier)
	return scanResource(row)
}

// Get fetches a live resource by ID.
func (r *PGRepository) Get(ctx context.Context, id int64) (Resource, error) {
	row := r.pool.QueryRow(ctx, selectResource+` WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanResource(row)
}

// List returns all live resources ordered for menu rendering.
func (r *PGRepository) List(ctx context.Context) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, selectResource+` WHERE deleted_at IS NULL ORDER BY menu_order ASC, identifier ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Identifiers returns every live resource identifier.
func (r *PGRepository) Identifiers(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT identifier FROM system_resources WHERE deleted_at IS NULL ORDER BY identifier ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var identifier string
		if err := rows.Scan(&identifier); err != nil {
			return nil, err
		}
		out = append(out, identifier)
	}
	return out, rows.Err()
}

// Update changes the mutable attributes. Identifier is left untouched.
func (r *PGRepository) Update(ctx context.Context, id int64, name, rtype string, parentID *int64, menuOrder int) (Resource, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE system_resources SET name = $2, rtype = $3, parent_id = $4, menu_order = $5, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`,
		id, name, rtype, parentID, menuOrder)
	if err != nil {
		return Resource{}, err
	}
	if tag.RowsAffected() == 0 {
		return Resource{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

// SoftDelete tombstones the resource so signature and audit history on
// its permission rows stays inspectable.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE system_resources SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (Resource, error) {
	var res Resource
	err := row.Scan(&res.ID, &res.ParentID, &res.Identifier, &res.Name, &res.Type, &res.MenuOrder, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resource{}, ErrNotFound
		}
		return Resource{}, err
	}
	return res, nil
}
