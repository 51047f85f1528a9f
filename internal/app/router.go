package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/andino-erp/andino-erp/internal/agreements"
	"github.com/andino-erp/andino-erp/internal/boleta"
	"github.com/andino-erp/andino-erp/internal/counting"
	"github.com/andino-erp/andino-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AgreementsHandler *agreements.Handler
	CountingHandler   *counting.Handler
	BoletaHandler     *boleta.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AgreementsHandler != nil {
		r.Route("/agreements", params.AgreementsHandler.MountRoutes)
	}
	if params.CountingHandler != nil {
		r.Route("/counting", params.CountingHandler.MountRoutes)
	}
	if params.BoletaHandler != nil {
		r.Route("/boletas", params.BoletaHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
