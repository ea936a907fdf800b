package security

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wardenhq/warden/internal/platform/httpx"
)

// Handler exposes token management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	identity func(ctx context.Context) (int64, bool)
	validate *validator.Validate
}

// NewHandler constructs the token handler. identity extracts the acting
// user from the request context and may be nil.
func NewHandler(logger *slog.Logger, service *Service, identity func(ctx context.Context) (int64, bool)) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, identity: identity, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// MountRoutes registers token routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/tokens", h.handleIssue)
	r.Delete("/tokens/{id}", h.handleRevoke)
}

type issueRequest struct {
	UserID     int64  `json:"user_id" validate:"required,gt=0"`
	Name       string `json:"name" validate:"required"`
	TTLSeconds int64  `json:"ttl_seconds" validate:"omitempty,gt=0"`
}

type issueResponse struct {
	// Token is the plaintext credential, shown only in this response.
	Token     string `json:"token"`
	ID        string `json:"id"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	plain, token, err := h.service.IssueToken(r.Context(), req.UserID, req.Name, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, issueResponse{
		Token:     plain,
		ID:        token.ID,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "id")
	var actorID int64
	if h.identity != nil {
		actorID, _ = h.identity(r.Context())
	}
	revoked, err := h.service.RevokeToken(r.Context(), actorID, tokenID)
	if err != nil {
		h.logger.Error("revoke token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if !revoked {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "token not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
