package resources

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wardenhq/warden/internal/platform/httpx"
)

// Handler exposes the resource registry endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the registry handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// MountRoutes registers resource registry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resources", h.handleCreate)
	r.Get("/resources", h.handleList)
	r.Get("/resources/{identifier}", h.handleGet)
	r.Put("/resources/{identifier}", h.handleUpdate)
	r.Delete("/resources/{identifier}", h.handleDelete)
}

type resourceDTO struct {
	ID         int64  `json:"id"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	MenuOrder  int    `json:"menu_order"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func toDTO(res Resource) resourceDTO {
	return resourceDTO{
		ID:         res.ID,
		ParentID:   res.ParentID,
		Identifier: res.Identifier,
		Name:       res.Name,
		Type:       res.Type,
		MenuOrder:  res.MenuOrder,
		CreatedAt:  res.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  res.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type upsertRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Name       string `json:"name"`
	Type       string `json:"type" validate:"omitempty,oneof=model function module"`
	ParentID   *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	MenuOrder  int    `json:"menu_order"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	res, err := h.service.Create(r.Context(), req.Identifier, req.Name, req.Type, req.ParentID, req.MenuOrder)
	if err != nil {
		h.respondError(w, "create", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDTO(res))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, "list", err)
		return
	}
	out := make([]resourceDTO, 0, len(list))
	for _, res := range list {
		out = append(out, toDTO(res))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Get(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.respondError(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(res))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	res, err := h.service.Update(r.Context(), chi.URLParam(r, "identifier"), req.Name, req.Type, req.ParentID, req.MenuOrder)
	if err != nil {
		h.respondError(w, "update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(res))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "identifier")); err != nil {
		h.respondError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errorResponses = []httpx.ErrorMapping{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrDuplicateIdentifier, Status: http.StatusConflict, Title: "Duplicate"},
	{Err: ErrIdentifierRequired, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if !httpx.RespondError(w, err, errorResponses) {
		h.logger.Error("resource registry "+op, slog.Any("error", err))
	}
}
