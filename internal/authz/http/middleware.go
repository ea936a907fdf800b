package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wardenhq/warden/internal/app"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/platform/httpx"
)

// Middleware guards routes with permission checks for the authenticated
// user. Resolution failures deny the request.
type Middleware struct {
	Service *authz.Service
	Logger  *slog.Logger
}

// Require ensures the current user holds every named action on the
// resource.
func (m Middleware) Require(resourceIdentifier string, actions ...string) func(http.Handler) http.Handler {
	return m.guard(resourceIdentifier, actions, m.Service.CanAll)
}

// RequireAny ensures the current user holds at least one of the named
// actions on the resource.
func (m Middleware) RequireAny(resourceIdentifier string, actions ...string) func(http.Handler) http.Handler {
	return m.guard(resourceIdentifier, actions, m.Service.CanAny)
}

type checkFunc func(ctx context.Context, principal authz.PrincipalRef, resourceIdentifier string, actions []string) (bool, error)

func (m Middleware) guard(resourceIdentifier string, actions []string, check checkFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(actions) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := app.UserIDFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			allowed, err := check(r.Context(), authz.User(userID), resourceIdentifier, actions)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("permission guard", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Resolution Failed", "permission resolution is unavailable")
				return
			}
			if !allowed {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
