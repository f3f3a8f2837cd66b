package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/privacy-shield/app"
	"github.com/upb/privacy-shield/handlers"
	"github.com/upb/privacy-shield/middleware"
	"github.com/upb/privacy-shield/utils"
)

// Scopes checked when authentication is enabled
const (
	ScopeIngest  = "privacy:ingest"
	ScopeScrub   = "privacy:scrub"
	ScopeRelease = "privacy:release"
	ScopeAudit   = "privacy:audit"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(deps.Logger))
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(cfg.Profile, map[string]handlers.ReadinessCheck{
		"audit_trail":   deps.CheckAuditTrail,
		"store_sweeper": deps.CheckSweeper,
	}, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	eventHandler := handlers.NewEventHandler(deps.Events, deps.Logger, cfg.Server.MaxBodyBytes)
	privacyHandler := handlers.NewPrivacyHandler(deps.Privacy, deps.Logger, cfg.Server.MaxBodyBytes)
	statsHandler := handlers.NewStatsHandler(deps.Counters, deps.AuditTrail, deps.Privacy, deps.Events)
	auth := deps.AuthMiddleware

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.With(auth.RequireScope(ScopeIngest)).Post("/events", eventHandler.HandleCreate)

		r.Route("/privacy", func(r chi.Router) {
			r.With(auth.RequireScope(ScopeScrub)).Post("/scrub", privacyHandler.HandleScrub)
			r.With(auth.RequireScope(ScopeScrub)).Post("/mask", privacyHandler.HandleMask)

			r.Get("/status/{event_id}", privacyHandler.HandleStatus)
			r.With(auth.RequireScope(ScopeRelease)).Post("/release", privacyHandler.HandleRelease)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(ScopeAudit))
				r.Get("/receipts/{event_id}", privacyHandler.HandleReceipt)
				r.Get("/stats", statsHandler.HandleStats)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: "method not allowed",
		})
	})

	return r
}
