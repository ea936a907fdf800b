// Package security holds the authentication peripherals the
// authorization core leans on: API tokens, login lockout, password
// reuse prevention and the forensic event log.
package security

import (
	"errors"
	"time"
)

// AuthToken is an issued API token. Only the bcrypt hash of the secret
// is stored; the plaintext is shown once at issue time.
type AuthToken struct {
	ID         string
	UserID     int64
	Name       string
	SecretHash string
	ExpiresAt  time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token is past its TTL at now.
func (t AuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// LoginAttempt is one recorded authentication attempt.
type LoginAttempt struct {
	ID        int64
	Email     string
	IP        string
	Success   bool
	CreatedAt time.Time
}

// Event is a forensic security event.
type Event struct {
	ID        int64
	Kind      string
	ActorID   int64
	Meta      map[string]any
	CreatedAt time.Time
}

// Event kinds recorded by the service.
const (
	EventTokenIssued   = "token.issued"
	EventTokenRevoked  = "token.revoked"
	EventLoginFailed   = "login.failed"
	EventLoginLockout  = "login.lockout"
	EventPasswordReuse = "password.reuse_blocked"
)

var (
	// ErrTokenInvalid indicates an unknown or malformed token.
	ErrTokenInvalid = errors.New("security: invalid token")
	// ErrTokenExpired indicates a known token past its TTL.
	ErrTokenExpired = errors.New("security: token expired")
	// ErrLockedOut indicates too many recent failures for the email.
	ErrLockedOut = errors.New("security: account locked out")
	// ErrPasswordReused indicates the password matches recent history.
	ErrPasswordReused = errors.New("security: password recently used")
)
