package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wardenhq/warden/internal/observability"
)

// RouteMounter attaches a module's routes to the router.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	TokenValidator TokenValidator
	Metrics        *observability.Metrics

	// Protected handlers mount under /v1 behind bearer authentication.
	Protected []RouteMounter
	// Public handlers mount at the root without authentication.
	Public []RouteMounter
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		if params.TokenValidator != nil {
			r.Use(RequireToken(params.TokenValidator, params.Logger))
		}
		for _, mounter := range params.Protected {
			if mounter != nil {
				mounter.MountRoutes(r)
			}
		}
	})

	for _, mounter := range params.Public {
		if mounter != nil {
			mounter.MountRoutes(r)
		}
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
