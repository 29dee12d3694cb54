package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bcnelson/splunk-eam/internal/api/handler"
	"github.com/bcnelson/splunk-eam/internal/api/middleware"
	"github.com/bcnelson/splunk-eam/internal/auth"
	"github.com/bcnelson/splunk-eam/internal/dispatch"
	"github.com/bcnelson/splunk-eam/internal/lock"
	"github.com/bcnelson/splunk-eam/internal/registry"
)

// Deps are the services the router exposes.
type Deps struct {
	Authority  *auth.Authority
	Registry   *registry.Registry
	Locks      *lock.Manager
	Dispatcher *dispatch.Dispatcher
	Logger     *zap.Logger
	// LoginRate and LoginBurst limit unauthenticated auth calls per client.
	LoginRate  float64
	LoginBurst int
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(deps.Logger))
	r.Use(chimw.Recoverer)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	authHandler := handler.NewAuthHandler(deps.Authority)
	stackHandler := handler.NewStackHandler(deps.Registry, deps.Locks)
	indexHandler := handler.NewIndexHandler(deps.Registry, deps.Dispatcher)
	appHandler := handler.NewAppHandler(deps.Registry, deps.Dispatcher)
	opHandler := handler.NewOperationHandler(deps.Dispatcher)

	r.Route("/api/v1", func(r chi.Router) {
		// Credential exchange (no token, rate limited per client)
		r.Group(func(r chi.Router) {
			limiter := middleware.NewRateLimiter(deps.LoginRate, deps.LoginBurst)
			r.Use(limiter.Middleware)
			r.Post("/auth/token", authHandler.Token)
			r.Put("/auth/password", authHandler.Password)
		})

		// Everything else requires a bearer token
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.Authority))

			r.Post("/auth/revoke", authHandler.Revoke)

			r.Post("/stacks", stackHandler.Create)
			r.Get("/stacks", stackHandler.List)

			r.Route("/stacks/{stack_id}", func(r chi.Router) {
				r.Get("/", stackHandler.Get)
				r.Delete("/", stackHandler.Delete)

				r.Put("/inventory", stackHandler.SetInventory)
				r.Post("/inventory", stackHandler.SetInventory)
				r.Get("/inventory", stackHandler.GetInventory)
				r.Put("/ssh_key", stackHandler.SetSSHKey)
				r.Post("/ssh_key", stackHandler.SetSSHKey)
				r.Get("/lock", stackHandler.Lock)

				// Indexes
				r.Get("/indexes", indexHandler.List)
				r.Post("/indexes", indexHandler.Create)
				r.Delete("/indexes/{name}", indexHandler.Delete)
				r.Post("/batch_indexes", indexHandler.Batch)

				// Apps
				r.Get("/apps", appHandler.List)
				r.Post("/apps", appHandler.Create)
				r.Delete("/apps/{name}", appHandler.Delete)
				r.Post("/batch_install_apps", appHandler.Batch)

				// Named automation operations
				r.Post("/{operation}", opHandler.Run)
			})
		})
	})

	return r
}
