package security

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence for security peripherals.
type Repository interface {
	InsertToken(ctx context.Context, token AuthToken) error
	GetToken(ctx context.Context, id string) (AuthToken, error)
	TouchToken(ctx context.Context, id string, usedAt time.Time) error
	DeleteToken(ctx context.Context, id string) (bool, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	InsertAttempt(ctx context.Context, attempt LoginAttempt) error
	CountRecentFailures(ctx context.Context, email string, since time.Time) (int, error)
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	InsertPasswordHash(ctx context.Context, userID int64, hash string) error
	RecentPasswordHashes(ctx context.Context, userID int64, limit int) ([]string, error)

	InsertEvent(ctx context.Context, event Event) error
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

func (r *PGRepository) InsertToken(ctx context.Context, token AuthToken) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO auth_tokens (id, user_id, name, secret_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.UserID, token.Name, token.SecretHash, token.ExpiresAt, token.CreatedAt)
	return err
}

func (r *PGRepository) GetToken(ctx context.Context, id string) (AuthToken, error) {
	var token AuthToken
	err := r.pool.QueryRow(ctx, `
SELECT id, user_id, name, secret_hash, expires_at, last_used_at, created_at
FROM auth_tokens WHERE id = $1`, id).Scan(
		&token.ID, &token.UserID, &token.Name, &token.SecretHash,
		&token.ExpiresAt, &token.LastUsedAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AuthToken{}, ErrTokenInvalid
		}
		return AuthToken{}, err
	}
	return token, nil
}

func (r *PGRepository) TouchToken(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE auth_tokens SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	return err
}

func (r *PGRepository) DeleteToken(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGRepository) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) InsertAttempt(ctx context.Context, attempt LoginAttempt) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO login_attempts (email, ip, success, created_at) VALUES ($1, $2, $3, $4)`,
		attempt.Email, attempt.IP, attempt.Success, attempt.CreatedAt)
	return err
}

func (r *PGRepository) CountRecentFailures(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM login_attempts
WHERE email = $1 AND success = FALSE AND created_at >= $2`, email, since).Scan(&count)
	return count, err
}

func (r *PGRepository) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) InsertPasswordHash(ctx context.Context, userID int64, hash string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, NOW())`,
		userID, hash)
	return err
}

func (r *PGRepository) RecentPasswordHashes(ctx context.Context, userID int64, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT password_hash FROM password_history
WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

func (r *PGRepository) InsertEvent(ctx context.Context, event Event) error {
	meta, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO security_events (kind, actor_id, meta, created_at) VALUES ($1, $2, $3, $4)`,
		event.Kind, event.ActorID, meta, event.CreatedAt)
	return err
}

func (r *PGRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
