package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/teilehub/teilehub/internal/catalog"
	"github.com/teilehub/teilehub/internal/importjob"
	"github.com/teilehub/teilehub/internal/rbac"
	"github.com/teilehub/teilehub/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	RBACHandler    *rbac.Handler
	UsersHandler   *users.Handler
	CatalogHandler *catalog.Handler
	ImportHandler  *importjob.Handler
}

// NewRouter constructs the chi.Router with teilehub defaults.
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

	r.Route("/api", func(r chi.Router) {
		params.RBACHandler.MountRoutes(r)
		params.UsersHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.ImportHandler.MountRoutes(r)
	})

	return r
}
