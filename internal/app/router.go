package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-retail/atlas-retail/internal/auth"
	"github.com/atlas-retail/atlas-retail/internal/catalog"
	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/observability"
	"github.com/atlas-retail/atlas-retail/internal/pos"
	"github.com/atlas-retail/atlas-retail/internal/purchasing"
	"github.com/atlas-retail/atlas-retail/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	AuthService       *auth.Service
	CatalogHandler    *catalog.Handler
	LedgerHandler     *ledger.Handler
	PurchasingHandler *purchasing.Handler
	POSHandler        *pos.Handler
	JobsHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router.
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
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.AuthService != nil && (params.Config == nil || !params.Config.AuthDisabled) {
			api.Use(params.AuthService.Middleware)
		}
		params.CatalogHandler.Routes(api)
		params.LedgerHandler.Routes(api)
		params.PurchasingHandler.Routes(api)
		params.POSHandler.Routes(api)
		if params.JobsHandler != nil {
			api.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
