package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/platform/httpx"
	"github.com/wardenhq/warden/internal/security"
)

type ctxKey int

const userIDKey ctxKey = iota

// TokenValidator checks a presented API token and returns the owning
// user's ID.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// ContextWithUserID stores the authenticated user on the context.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// RequireToken authenticates requests with a bearer API token.
func RequireToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			userID, err := validator.ValidateToken(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if errors.Is(err, security.ErrTokenInvalid) || errors.Is(err, security.ErrTokenExpired) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
					return
				}
				if logger != nil {
					logger.Error("token validation", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Authentication Unavailable", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}
