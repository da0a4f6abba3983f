package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/dsp-front-door/app"
	"github.com/upb/dsp-front-door/handlers"
	"github.com/upb/dsp-front-door/middleware"
	"github.com/upb/dsp-front-door/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, middleware.ProcessingTimeHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(deps.AuthMiddleware.RequireAPIKey)

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}

	healthHandler := handlers.NewHealthHandler(deps.Manifests, deps.Dispatcher, db, handlers.StatusInfo{
		Version:               app.Version,
		ControlTowerURL:       cfg.ControlTower.BaseURL,
		CacheTTL:              deps.Manifests.CacheTTL(),
		AuthenticationEnabled: deps.AuthMiddleware.Enabled(),
		DefaultProvider:       cfg.FrontDoor.DefaultProvider,
		AvailableProviders:    deps.AvailableProviders(),
	}, deps.Logger).WithManifestCacheStats(deps.Manifests)
	if deps.Audit != nil {
		healthHandler.WithAuditStats(deps.Audit)
	}
	inferenceHandler := handlers.NewInferenceHandler(deps.Dispatcher, deps.Logger)
	projectHandler := handlers.NewProjectHandler(deps.Manifests, deps.Dispatcher, deps.Logger)

	// Health and status
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/status", healthHandler.HandleStatus)
	if deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", deps.Prometheus.Handler())
	}

	// Inference
	r.Post("/inference", inferenceHandler.HandleInference)

	// Projects and manifests
	r.Get("/projects", projectHandler.HandleListProjects)
	r.Route("/projects/{project_id}", func(r chi.Router) {
		r.Get("/manifest", projectHandler.HandleGetManifest)
		r.Post("/health", projectHandler.HandleProjectHealth)
		if deps.AuditLogs != nil {
			r.Get("/audit", handlers.NewAuditHandler(deps.AuditLogs, deps.Logger).HandleListAuditLogs)
		}
	})
	r.Post("/manifests/validate", projectHandler.HandleValidateManifest)

	// Cache administration
	r.Delete("/cache", projectHandler.HandleClearCache)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}
