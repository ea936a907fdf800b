package groups

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wardenhq/warden/internal/platform/httpx"
)

// Handler exposes membership management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the membership handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// MountRoutes registers membership routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/groups/{groupID}/members/{userID}", h.handleJoin)
	r.Delete("/groups/{groupID}/members/{userID}", h.handleLeave)
	r.Get("/groups/{groupID}/members", h.handleMembers)
	r.Get("/users/{userID}/groups", h.handleGroups)
	r.Put("/users/{userID}/groups", h.handleSync)
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	groupID, okG := idParam(r, "groupID")
	userID, okU := idParam(r, "userID")
	if !okG || !okU {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "group and user ids must be positive integers")
		return
	}
	joined, err := h.service.Join(r.Context(), userID, groupID)
	if err != nil {
		h.respondError(w, "join", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"joined": joined})
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	groupID, okG := idParam(r, "groupID")
	userID, okU := idParam(r, "userID")
	if !okG || !okU {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "group and user ids must be positive integers")
		return
	}
	left, err := h.service.Leave(r.Context(), userID, groupID)
	if err != nil {
		h.respondError(w, "leave", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"left": left})
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := idParam(r, "groupID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "group id must be a positive integer")
		return
	}
	members, err := h.service.MembersOf(r.Context(), groupID)
	if err != nil {
		h.respondError(w, "members", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *Handler) handleGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be a positive integer")
		return
	}
	ids, err := h.service.GroupsOf(r.Context(), userID)
	if err != nil {
		h.respondError(w, "groups", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": ids})
}

type syncRequest struct {
	Groups []int64 `json:"groups" validate:"dive,gt=0"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be a positive integer")
		return
	}
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Sync(r.Context(), userID, req.Groups); err != nil {
		h.respondError(w, "sync", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": req.Groups})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("group membership "+op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
