// Package http exposes the authorization service over a JSON API.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/platform/httpx"
)

// CheckMetrics counts permission check outcomes.
type CheckMetrics interface {
	CheckAllowed()
	CheckDenied()
	CheckErrored()
}

// Handler wires the authorization endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *authz.Service
	metrics  CheckMetrics
	validate *validator.Validate
}

// NewHandler constructs the handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *authz.Service, metrics CheckMetrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers the authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.handleCheck)
	r.Post("/check-any", h.handleCheckAny)
	r.Post("/check-all", h.handleCheckAll)
	r.Post("/permissions", h.handleGrant)
	r.Delete("/permissions", h.handleRevoke)
	r.Post("/permissions/sync", h.handleSync)
	r.Post("/permissions/copy", h.handleCopy)
	r.Get("/matrix", h.handleMatrix)
	r.Get("/principals/{kind}/{id}/permissions", h.handleEffective)
}

type principalDTO struct {
	Kind string `json:"kind" validate:"required,oneof=user group"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (p principalDTO) ref() authz.PrincipalRef {
	return authz.PrincipalRef{Kind: authz.PrincipalKind(p.Kind), ID: p.ID}
}

type checkRequest struct {
	Principal principalDTO `json:"principal" validate:"required"`
	Resource  string       `json:"resource" validate:"required"`
	Action    string       `json:"action" validate:"required"`
}

type checkManyRequest struct {
	Principal principalDTO `json:"principal" validate:"required"`
	Resource  string       `json:"resource" validate:"required"`
	Actions   []string     `json:"actions" validate:"required,min=1,dive,required"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

type grantRequest struct {
	Principal principalDTO `json:"principal" validate:"required"`
	Resource  string       `json:"resource" validate:"required"`
	Actions   []string     `json:"actions" validate:"required,min=1,dive,required"`
}

type revokeRequest struct {
	Principal principalDTO `json:"principal" validate:"required"`
	Resource  string       `json:"resource" validate:"required"`
	// Actions empty means the whole grant is revoked.
	Actions []string `json:"actions"`
}

type syncRequest struct {
	Principal principalDTO `json:"principal" validate:"required"`
	Resource  string       `json:"resource" validate:"required"`
	Actions   []string     `json:"actions"`
}

type copyRequest struct {
	Source    principalDTO `json:"source" validate:"required"`
	Target    principalDTO `json:"target" validate:"required"`
	Resources []string     `json:"resources"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.service.Can(r.Context(), req.Principal.ref(), req.Resource, req.Action)
	h.respondCheck(w, allowed, err)
}

func (h *Handler) handleCheckAny(w http.ResponseWriter, r *http.Request) {
	var req checkManyRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.service.CanAny(r.Context(), req.Principal.ref(), req.Resource, req.Actions)
	h.respondCheck(w, allowed, err)
}

func (h *Handler) handleCheckAll(w http.ResponseWriter, r *http.Request) {
	var req checkManyRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.service.CanAll(r.Context(), req.Principal.ref(), req.Resource, req.Actions)
	h.respondCheck(w, allowed, err)
}

// respondCheck keeps checks fail-closed on the wire: a resolution
// failure is a 503, never a false negative the caller could mistake for
// a policy decision.
func (h *Handler) respondCheck(w http.ResponseWriter, allowed bool, err error) {
	if err != nil {
		if h.metrics != nil {
			h.metrics.CheckErrored()
		}
		h.logger.Error("permission check", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Resolution Failed", "permission resolution is unavailable")
		return
	}
	if h.metrics != nil {
		if allowed {
			h.metrics.CheckAllowed()
		} else {
			h.metrics.CheckDenied()
		}
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.Grant(r.Context(), req.Principal.ref(), req.Resource, req.Actions)
	if err != nil {
		h.respondError(w, "grant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"resource":     req.Resource,
		"capabilities": perm.Capabilities,
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.service.Revoke(r.Context(), req.Principal.ref(), req.Resource, req.Actions)
	if err != nil {
		h.respondError(w, "revoke", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.Sync(r.Context(), req.Principal.ref(), req.Resource, req.Actions)
	if err != nil {
		h.respondError(w, "sync", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"resource":     req.Resource,
		"capabilities": perm.Capabilities,
	})
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if !h.decode(w, r, &req) {
		return
	}
	copied, err := h.service.CopyPermissions(r.Context(), req.Source.ref(), req.Target.ref(), req.Resources)
	if err != nil {
		h.respondError(w, "copy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"copied": copied})
}

func (h *Handler) handleEffective(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromURL(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal must be user/{id} or group/{id}")
		return
	}
	perms, err := h.service.Effective(r.Context(), principal)
	if err != nil {
		h.respondError(w, "resolve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"principal":   principal,
		"permissions": perms,
	})
}

// handleMatrix builds the reporting matrix. Principals arrive as
// repeated "principal=kind:id" query values, resources as repeated
// "resource" values (empty means every registered resource).
func (h *Handler) handleMatrix(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawPrincipals := query["principal"]
	if len(rawPrincipals) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "at least one principal is required")
		return
	}
	principals := make([]authz.PrincipalRef, 0, len(rawPrincipals))
	for _, raw := range rawPrincipals {
		principal, ok := parsePrincipal(raw)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal must look like user:1 or group:2")
			return
		}
		principals = append(principals, principal)
	}
	rows, err := h.service.PermissionMatrix(r.Context(), principals, query["resource"])
	if err != nil {
		h.respondError(w, "matrix", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

var errorResponses = []httpx.ErrorMapping{
	{Err: authz.ErrResourceNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: authz.ErrPermissionNotFound, Status: http.StatusNotFound, Title: "Not Found"},
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	// Resolution failures stay opaque: the caller learns the service is
	// unavailable, never what broke underneath.
	if errors.Is(err, authz.ErrResolutionFailed) {
		h.logger.Error("authorization "+op, slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Resolution Failed", "permission resolution is unavailable")
		return
	}
	if !httpx.RespondError(w, err, errorResponses) {
		h.logger.Error("authorization "+op, slog.Any("error", err))
	}
}

func principalFromURL(r *http.Request) (authz.PrincipalRef, bool) {
	return parsePrincipal(chi.URLParam(r, "kind") + ":" + chi.URLParam(r, "id"))
}

func parsePrincipal(raw string) (authz.PrincipalRef, bool) {
	kind, rawID, ok := strings.Cut(raw, ":")
	if !ok {
		return authz.PrincipalRef{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return authz.PrincipalRef{}, false
	}
	switch authz.PrincipalKind(kind) {
	case authz.KindUser, authz.KindGroup:
		return authz.PrincipalRef{Kind: authz.PrincipalKind(kind), ID: id}, true
	default:
		return authz.PrincipalRef{}, false
	}
}
