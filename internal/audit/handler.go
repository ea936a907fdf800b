package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/platform/httpx"
)

// Handler exposes the change history endpoint.
type Handler struct {
	logger   *slog.Logger
	recorder *Recorder
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, recorder *Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, recorder: recorder}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/principals/{kind}/{id}/changes", h.handleChanges)
}

type changeDTO struct {
	Resource     string   `json:"resource"`
	Action       string   `json:"action"`
	Capabilities []string `json:"capabilities,omitempty"`
	OccurredAt   string   `json:"occurred_at"`
}

func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request) {
	kind := authz.PrincipalKind(chi.URLParam(r, "kind"))
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if (kind != authz.KindUser && kind != authz.KindGroup) || err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal must be user/{id} or group/{id}")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.recorder.RecentChanges(r.Context(), authz.PrincipalRef{Kind: kind, ID: id}, limit)
	if err != nil {
		h.logger.Error("list changes", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]changeDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, changeDTO{
			Resource:     entry.ResourceIdentifier,
			Action:       entry.Action,
			Capabilities: entry.Capabilities,
			OccurredAt:   entry.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changes": out})
}
