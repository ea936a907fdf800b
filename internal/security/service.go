package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Config tunes the security peripherals.
type Config struct {
	// TokenTTL is the default lifetime for issued tokens.
	TokenTTL time.Duration
	// LockoutWindow is the sliding window for counting failures.
	LockoutWindow time.Duration
	// LockoutThreshold is the failure count that trips the lockout.
	LockoutThreshold int
	// PasswordHistoryDepth is how many previous hashes a new password
	// is checked against.
	PasswordHistoryDepth int
	// AttemptRetention and EventRetention bound the sweep.
	AttemptRetention time.Duration
	EventRetention   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 90 * 24 * time.Hour
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = 15 * time.Minute
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.PasswordHistoryDepth <= 0 {
		c.PasswordHistoryDepth = 5
	}
	if c.AttemptRetention <= 0 {
		c.AttemptRetention = 30 * 24 * time.Hour
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 180 * 24 * time.Hour
	}
	return c
}

// Service implements the token, lockout, password-history and event
// flows.
type Service struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cfg: cfg.withDefaults(), logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// IssueToken creates a token for the user and returns the plaintext
// ("id.secret"), shown exactly once.
func (s *Service) IssueToken(ctx context.Context, userID int64, name string, ttl time.Duration) (string, AuthToken, error) {
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", AuthToken{}, fmt.Errorf("security: generate token secret: %w", err)
	}
	plain := base64.RawURLEncoding.EncodeToString(secret)
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", AuthToken{}, fmt.Errorf("security: hash token secret: %w", err)
	}

	now := s.now()
	token := AuthToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       strings.TrimSpace(name),
		SecretHash: string(hash),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := s.repo.InsertToken(ctx, token); err != nil {
		return "", AuthToken{}, err
	}
	s.recordEvent(ctx, EventTokenIssued, userID, map[string]any{"token_id": token.ID, "name": token.Name})
	return token.ID + "." + plain, token, nil
}

// ValidateToken checks a presented plaintext token and returns the
// owning user ID.
func (s *Service) ValidateToken(ctx context.Context, presented string) (int64, error) {
	id, secret, ok := strings.Cut(presented, ".")
	if !ok || id == "" || secret == "" {
		return 0, ErrTokenInvalid
	}
	token, err := s.repo.GetToken(ctx, id)
	if err != nil {
		return 0, err
	}
	if token.Expired(s.now()) {
		return 0, ErrTokenExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)) != nil {
		return 0, ErrTokenInvalid
	}
	if err := s.repo.TouchToken(ctx, token.ID, s.now()); err != nil {
		s.logger.Warn("security: touch token", slog.Any("error", err))
	}
	return token.UserID, nil
}

// RevokeToken deletes a token by ID.
func (s *Service) RevokeToken(ctx context.Context, userID int64, tokenID string) (bool, error) {
	deleted, err := s.repo.DeleteToken(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.recordEvent(ctx, EventTokenRevoked, userID, map[string]any{"token_id": tokenID})
	}
	return deleted, nil
}

// RecordLoginAttempt stores the attempt. A failure that puts the email
// at or past the lockout threshold returns ErrLockedOut so the caller
// rejects further attempts; the attempt itself is still recorded.
func (s *Service) RecordLoginAttempt(ctx context.Context, email, ip string, success bool) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.repo.InsertAttempt(ctx, LoginAttempt{Email: email, IP: ip, Success: success, CreatedAt: s.now()}); err != nil {
		return err
	}
	if success {
		return nil
	}
	s.recordEvent(ctx, EventLoginFailed, 0, map[string]any{"email": email, "ip": ip})
	locked, err := s.IsLockedOut(ctx, email)
	if err != nil {
		return err
	}
	if locked {
		s.recordEvent(ctx, EventLoginLockout, 0, map[string]any{"email": email})
		return ErrLockedOut
	}
	return nil
}

// IsLockedOut reports whether the email has too many recent failures.
func (s *Service) IsLockedOut(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	count, err := s.repo.CountRecentFailures(ctx, email, s.now().Add(-s.cfg.LockoutWindow))
	if err != nil {
		return false, err
	}
	return count >= s.cfg.LockoutThreshold, nil
}

// SetPassword records the new password hash after verifying it was not
// used within the configured history depth.
func (s *Service) SetPassword(ctx context.Context, userID int64, plaintext string) error {
	recent, err := s.repo.RecentPasswordHashes(ctx, userID, s.cfg.PasswordHistoryDepth)
	if err != nil {
		return err
	}
	for _, hash := range recent {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil {
			s.recordEvent(ctx, EventPasswordReuse, userID, nil)
			return ErrPasswordReused
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("security: hash password: %w", err)
	}
	return s.repo.InsertPasswordHash(ctx, userID, string(hash))
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	ExpiredTokens  int64
	PrunedAttempts int64
	PrunedEvents   int64
}

// Sweep removes expired tokens and stale attempt/event rows.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var result SweepResult
	var err error
	if result.ExpiredTokens, err = s.repo.DeleteExpiredTokens(ctx, now); err != nil {
		return result, err
	}
	if result.PrunedAttempts, err = s.repo.DeleteAttemptsBefore(ctx, now.Add(-s.cfg.AttemptRetention)); err != nil {
		return result, err
	}
	if result.PrunedEvents, err = s.repo.DeleteEventsBefore(ctx, now.Add(-s.cfg.EventRetention)); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) recordEvent(ctx context.Context, kind string, actorID int64, meta map[string]any) {
	err := s.repo.InsertEvent(ctx, Event{Kind: kind, ActorID: actorID, Meta: meta, CreatedAt: s.now()})
	if err != nil {
		s.logger.Warn("security: record event", slog.String("kind", kind), slog.Any("error", err))
	}
}
